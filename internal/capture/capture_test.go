package capture

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ridgeline/snapshotd/internal/grabber"
	"github.com/ridgeline/snapshotd/internal/imagestore"
	"github.com/ridgeline/snapshotd/internal/settings"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()

	st, err := settings.Open(filepath.Join(dir, "settings.env"), zap.NewNop())
	require.NoError(t, err)

	store, err := imagestore.Open(filepath.Join(dir, "images.db"), filepath.Join(dir, "images"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := New(store, grabber.New(zap.NewNop()), st, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestCaptureBlockingRejectsUnknownSource(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CaptureBlocking(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestCaptureBlockingRejectsDisabledCamera(t *testing.T) {
	svc := newTestService(t)

	// Every camera defaults to disabled until the operator sets
	// CAMERA_N_ENABLED=true.
	_, err := svc.CaptureBlocking(context.Background(), "r1")
	require.ErrorIs(t, err, ErrDisabled)

	stats := svc.Stats()["r1"]
	require.EqualValues(t, 1, stats.Failures)
	require.Equal(t, ErrDisabled.Error(), stats.LastError)
}

func TestCaptureAsyncDropsWhenQueueFull(t *testing.T) {
	svc := newTestService(t)

	// CaptureAsync must never block its caller (spec.md §4.3), even
	// when the queue briefly saturates under a burst of calls.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			svc.CaptureAsync("r1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CaptureAsync must never block the caller")
	}
}
