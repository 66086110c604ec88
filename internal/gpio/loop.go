package gpio

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const ringBufferSize = 32

// TriggerEvent is the transient record exposed to the dashboard's
// trigger-animation surface (spec.md §3 "Trigger event").
type TriggerEvent struct {
	Source    string
	Pin       int
	Timestamp time.Time
	Seq       uint64
	Dispatched bool
	Reason    string // "" on dispatch, else e.g. "disabled"
}

// Capturer is the only capability the loop needs from the Capture
// Service — it must never block (spec.md §4.3 invariant).
type Capturer interface {
	CaptureAsync(source string)
}

// CameraSpec is the static per-line configuration the loop is started
// with; pins are a cold key (spec.md §6) so this is read once at
// startup, not re-read from the live Settings snapshot.
type CameraSpec struct {
	Source string
	Pin    int
	Line   Line
}

type sourceState struct {
	mu            sync.Mutex
	lastAcceptEdge time.Time
	counter        uint64
	events         []TriggerEvent
}

// Loop is the GPIO Event Loop of spec.md §4.3: {Idle -> Pressed -> Idle}
// per line, debounced in two stages, dispatching capture_async on the
// accepted falling edge only.
type Loop struct {
	logger     *zap.Logger
	capturer   Capturer
	bounce     time.Duration
	cooldown   time.Duration
	cams       []CameraSpec
	seq        uint64
	seqMu      sync.Mutex
	states     map[string]*sourceState
	statesMu   sync.RWMutex
	isEnabled  func(source string) bool
	observer   func(TriggerEvent)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetObserver registers a callback invoked with every TriggerEvent,
// dispatched and ignored alike — the HTTP facade's best-effort
// websocket push (spec.md §6) subscribes through this, never by
// polling the ring buffer. Must be called before Start.
func (l *Loop) SetObserver(fn func(TriggerEvent)) {
	l.observer = fn
}

// New builds a Loop. isEnabled is consulted on every accepted edge so
// a camera disabled after startup is honored without restart (hot key,
// spec.md §4.7).
func New(cams []CameraSpec, capturer Capturer, bounce, cooldown time.Duration, isEnabled func(string) bool, logger *zap.Logger) *Loop {
	states := make(map[string]*sourceState, len(cams))
	for _, c := range cams {
		states[c.Source] = &sourceState{}
	}
	return &Loop{
		logger:    logger,
		capturer:  capturer,
		bounce:    bounce,
		cooldown:  cooldown,
		cams:      cams,
		states:    states,
		isEnabled: isEnabled,
	}
}

// Start claims every configured line and spawns one watcher goroutine
// per line (spec.md §4.3 startup). A line that cannot be armed is
// logged and skipped — the rest of the process continues (spec.md §7
// GpioError policy).
func (l *Loop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	for _, cam := range l.cams {
		if err := cam.Line.Arm(); err != nil {
			l.logger.Error("failed to arm gpio line, camera trigger disabled", zap.String("source", cam.Source), zap.Error(err))
			continue
		}
		l.wg.Add(1)
		go l.watch(ctx, cam)
	}
}

func (l *Loop) watch(ctx context.Context, cam CameraSpec) {
	defer l.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("gpio watch goroutine panic recovered", zap.String("source", cam.Source), zap.Any("panic", r))
		}
	}()

	var lastEdge time.Time
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		edge, err := cam.Line.WaitForEdge(ctx, l.bounce)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("gpio edge wait error, re-arming", zap.String("source", cam.Source), zap.Error(err))
			_ = cam.Line.Release()
			if armErr := cam.Line.Arm(); armErr != nil {
				l.logger.Error("failed to re-arm gpio line", zap.String("source", cam.Source), zap.Error(armErr))
				return
			}
			continue
		}
		if !edge {
			continue
		}

		// First debounce stage: an edge inside the bounce window of the
		// previous passed edge is contact bounce and is dropped before
		// the per-source cooldown in onEdge.
		now := time.Now()
		if !lastEdge.IsZero() && now.Sub(lastEdge) < l.bounce {
			continue
		}
		lastEdge = now

		l.onEdge(cam)
	}
}

// onEdge applies the software cooldown stage and, on acceptance,
// dispatches capture_async and records a TriggerEvent. The cooldown
// check, counter increment, and timestamp update happen under a
// single short-held lock per spec.md §5.
func (l *Loop) onEdge(cam CameraSpec) {
	l.statesMu.RLock()
	st := l.states[cam.Source]
	l.statesMu.RUnlock()

	now := time.Now()

	st.mu.Lock()
	tooSoon := !st.lastAcceptEdge.IsZero() && now.Sub(st.lastAcceptEdge) < l.cooldown
	if tooSoon {
		st.mu.Unlock()
		return
	}
	st.lastAcceptEdge = now

	enabled := l.isEnabled == nil || l.isEnabled(cam.Source)

	var ev TriggerEvent
	if enabled {
		st.counter++
		ev = TriggerEvent{Source: cam.Source, Pin: cam.Pin, Timestamp: now, Seq: l.nextSeq(), Dispatched: true}
	} else {
		// Open Question (spec.md §9) resolved: the counter does not
		// increment for a press on a disabled camera.
		ev = TriggerEvent{Source: cam.Source, Pin: cam.Pin, Timestamp: now, Seq: l.nextSeq(), Dispatched: false, Reason: "disabled"}
	}
	st.events = append(st.events, ev)
	if len(st.events) > ringBufferSize {
		st.events = st.events[len(st.events)-ringBufferSize:]
	}
	st.mu.Unlock()

	if enabled {
		l.capturer.CaptureAsync(cam.Source)
	} else {
		l.logger.Info("trigger ignored: camera disabled", zap.String("source", cam.Source))
	}

	if l.observer != nil {
		l.observer(ev)
	}
}

func (l *Loop) nextSeq() uint64 {
	l.seqMu.Lock()
	defer l.seqMu.Unlock()
	l.seq++
	return l.seq
}

// Counter returns the accepted-trigger count for a source.
func (l *Loop) Counter(source string) uint64 {
	l.statesMu.RLock()
	st, ok := l.states[source]
	l.statesMu.RUnlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.counter
}

// RecentEvents returns a copy of the buffered trigger events for a
// source, for `/api/gpio/status`.
func (l *Loop) RecentEvents(source string) []TriggerEvent {
	l.statesMu.RLock()
	st, ok := l.states[source]
	l.statesMu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]TriggerEvent, len(st.events))
	copy(out, st.events)
	return out
}

// Stop cancels detection on every line and releases them, bounded by
// the caller's context (spec.md §4.3 shutdown / §5 cancellation).
func (l *Loop) Stop(ctx context.Context) {
	if l.cancel != nil {
		l.cancel()
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Warn("gpio shutdown timed out waiting for watchers")
	}
	for _, cam := range l.cams {
		_ = cam.Line.Release()
	}
}
