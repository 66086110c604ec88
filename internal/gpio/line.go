// Package gpio implements the GPIO Event Loop of spec.md §4.3. It
// abstracts the physical pin behind a small interface so the rest of
// the system is unchanged whether it runs on real hardware or a
// development host (spec.md §9: "works on any OS GPIO stubs").
package gpio

import (
	"context"
	"fmt"
	"time"
)

// Line is one input line with an internal pull-up, watched for a
// falling edge (button press, active LOW).
type Line interface {
	// Arm claims the line, sets pull-up + falling-edge detection.
	Arm() error
	// WaitForEdge blocks until a falling edge is observed or pollWindow
	// elapses, returning (true, nil) on an edge. It must return
	// promptly when ctx is cancelled so the loop can shut down.
	WaitForEdge(ctx context.Context, pollWindow time.Duration) (bool, error)
	// Release cancels detection and frees the line.
	Release() error
	// Name identifies the line for logging.
	Name() string
}

// ErrNoLine is returned when a configured pin cannot be claimed.
type ErrNoLine struct {
	Pin int
	Err error
}

func (e *ErrNoLine) Error() string {
	return fmt.Sprintf("gpio: cannot claim pin %d: %v", e.Pin, e.Err)
}

func (e *ErrNoLine) Unwrap() error { return e.Err }
