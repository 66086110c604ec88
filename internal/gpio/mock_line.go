package gpio

import (
	"context"
	"fmt"
	"time"
)

// MockLine is the development-host backend: a channel-fed fake that
// satisfies Line without touching real hardware (spec.md §9).
type MockLine struct {
	name    string
	presses chan struct{}
	armed   bool
}

// NewMockLine builds a MockLine identified by name (typically the
// camera tag, for readable test failures).
func NewMockLine(name string) *MockLine {
	return &MockLine{name: name, presses: make(chan struct{}, 8)}
}

// Press simulates a single falling edge. Safe to call from tests
// concurrently with WaitForEdge.
func (l *MockLine) Press() {
	select {
	case l.presses <- struct{}{}:
	default:
	}
}

// Arm marks the line ready; mirrors PeriphLine's contract.
func (l *MockLine) Arm() error {
	l.armed = true
	return nil
}

// WaitForEdge blocks until Press is called, ctx is cancelled, or
// pollWindow elapses.
func (l *MockLine) WaitForEdge(ctx context.Context, pollWindow time.Duration) (bool, error) {
	if !l.armed {
		return false, fmt.Errorf("mock line %s not armed", l.name)
	}
	timer := time.NewTimer(pollWindow)
	defer timer.Stop()
	select {
	case <-l.presses:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Release marks the line idle.
func (l *MockLine) Release() error {
	l.armed = false
	return nil
}

// Name returns the configured label.
func (l *MockLine) Name() string { return l.name }
