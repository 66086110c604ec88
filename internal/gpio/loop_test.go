package gpio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCapturer struct {
	mu      sync.Mutex
	sources []string
}

func (f *fakeCapturer) CaptureAsync(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
}

func (f *fakeCapturer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sources))
	copy(out, f.sources)
	return out
}

func TestLoopDispatchesOnAcceptedEdge(t *testing.T) {
	line := NewMockLine("r1")
	cap := &fakeCapturer{}
	loop := New([]CameraSpec{{Source: "r1", Pin: 17, Line: line}}, cap, 10*time.Millisecond, 50*time.Millisecond, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	defer func() {
		cancel()
		loop.Stop(context.Background())
	}()

	line.Press()
	require.Eventually(t, func() bool { return loop.Counter("r1") == 1 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"r1"}, cap.calls())
}

func TestLoopCooldownSuppressesRapidPresses(t *testing.T) {
	line := NewMockLine("r1")
	cap := &fakeCapturer{}
	loop := New([]CameraSpec{{Source: "r1", Pin: 17, Line: line}}, cap, 10*time.Millisecond, 200*time.Millisecond, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	defer func() {
		cancel()
		loop.Stop(context.Background())
	}()

	line.Press()
	require.Eventually(t, func() bool { return loop.Counter("r1") == 1 }, time.Second, time.Millisecond)

	line.Press()
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, loop.Counter("r1"), "a press inside the cooldown window must not increment the counter")
}

func TestLoopDisabledCameraDoesNotIncrementCounter(t *testing.T) {
	line := NewMockLine("r1")
	cap := &fakeCapturer{}
	loop := New([]CameraSpec{{Source: "r1", Pin: 17, Line: line}}, cap, 10*time.Millisecond, 20*time.Millisecond,
		func(string) bool { return false }, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	defer func() {
		cancel()
		loop.Stop(context.Background())
	}()

	line.Press()
	time.Sleep(50 * time.Millisecond)

	require.EqualValues(t, 0, loop.Counter("r1"), "a disabled camera must never increment the trigger counter")
	require.Empty(t, cap.calls(), "a disabled camera must never dispatch a capture")

	events := loop.RecentEvents("r1")
	require.Len(t, events, 1)
	require.False(t, events[0].Dispatched)
	require.Equal(t, "disabled", events[0].Reason)
}

func TestLoopObserverReceivesEveryEdge(t *testing.T) {
	line := NewMockLine("r1")
	cap := &fakeCapturer{}
	loop := New([]CameraSpec{{Source: "r1", Pin: 17, Line: line}}, cap, 10*time.Millisecond, 20*time.Millisecond, nil, zap.NewNop())

	var mu sync.Mutex
	var seen []TriggerEvent
	loop.SetObserver(func(ev TriggerEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	defer func() {
		cancel()
		loop.Stop(context.Background())
	}()

	line.Press()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, time.Millisecond)
}
