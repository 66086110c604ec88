package gpio

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostInitOnce sync.Once
var hostInitErr error

func ensureHostInit() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// PeriphLine is the real-hardware backend, built on periph.io's GPIO
// stack (periph.io/x/conn/v3, periph.io/x/host/v3), the library named
// for this purpose in the pack's IoT-agent examples.
type PeriphLine struct {
	pin    gpio.PinIO
	number int
	name   string
}

// NewPeriphLine resolves a BCM pin number to a periph.io PinIO. It does
// not claim the line yet; call Arm for that (spec.md §4.3 startup:
// "release any prior claim... set mode + pull-ups, register edge
// callbacks").
func NewPeriphLine(pinNumber int) (*PeriphLine, error) {
	if err := ensureHostInit(); err != nil {
		return nil, &ErrNoLine{Pin: pinNumber, Err: fmt.Errorf("periph host init: %w", err)}
	}
	name := "GPIO" + strconv.Itoa(pinNumber)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, &ErrNoLine{Pin: pinNumber, Err: fmt.Errorf("pin %s not found", name)}
	}
	return &PeriphLine{pin: p, number: pinNumber, name: name}, nil
}

// Arm configures the pin with an internal pull-up and falling-edge
// detection (spec.md §4.3: "active state is electrical LOW").
func (l *PeriphLine) Arm() error {
	if err := l.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return &ErrNoLine{Pin: l.number, Err: fmt.Errorf("arm %s: %w", l.name, err)}
	}
	return nil
}

// WaitForEdge polls periph's WaitForEdge in pollWindow-sized slices so
// ctx cancellation is observed promptly even though the underlying
// call is itself blocking.
func (l *PeriphLine) WaitForEdge(ctx context.Context, pollWindow time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	return l.pin.WaitForEdge(pollWindow), nil
}

// Release cancels edge detection and drops the claim by switching the
// pin back to a neutral input mode.
func (l *PeriphLine) Release() error {
	return l.pin.In(gpio.PullNoChange, gpio.NoEdge)
}

// Name returns the pin's periph.io name, e.g. "GPIO17".
func (l *PeriphLine) Name() string { return l.name }
