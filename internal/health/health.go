// Package health implements the Health Monitor of spec.md §4.5:
// periodic camera-liveness and host-telemetry probes, exposed as
// snapshot-style (never streaming) status for the dashboard.
package health

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ridgeline/snapshotd/internal/settings"
)

// cpuTempPath is the well-known sysfs path spec.md §4.5 names.
const cpuTempPath = "/sys/class/thermal/thermal_zone0/temp"

// CameraHealth is the last-observed liveness for one camera.
type CameraHealth struct {
	Source    string
	Reachable bool
	LastCheck time.Time
	LastError string
}

// HostTelemetry is the last-observed host reading.
type HostTelemetry struct {
	CPUTempCelsius    float64
	CPUTempAvailable  bool
	LastCheck         time.Time
}

// Monitor runs its own goroutine probing each enabled camera and host
// telemetry, never blocking capture or upload (spec.md §4.5).
type Monitor struct {
	settings *settings.Store
	logger   *zap.Logger
	probeFn  func(ctx context.Context, rtspURL string, timeout time.Duration) error

	mu       sync.RWMutex
	cameras  map[string]CameraHealth
	host     HostTelemetry

	stop chan struct{}
	done chan struct{}
}

// New builds a Monitor whose probeFn is probeRTSP, an ffprobe-style
// short reachability check.
func New(st *settings.Store, logger *zap.Logger) *Monitor {
	return &Monitor{
		settings: st,
		logger:   logger,
		probeFn:  probeRTSP,
		cameras:  make(map[string]CameraHealth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run loops forever, probing every enabled camera and host telemetry
// every check_interval seconds, until Stop is called.
func (m *Monitor) Run() {
	defer close(m.done)
	for {
		cfg := m.settings.Current()
		interval := time.Duration(cfg.Health.CheckIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 60 * time.Second
		}

		m.probeAll(cfg)

		select {
		case <-m.stop:
			return
		case <-time.After(interval):
		}
	}
}

func (m *Monitor) probeAll(cfg settings.Snapshot) {
	timeout := time.Duration(cfg.Health.ProbeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	for _, cam := range cfg.Cameras() {
		if !cam.Enabled {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := m.probeFn(ctx, cam.RTSPURL, timeout)
		cancel()

		ch := CameraHealth{Source: cam.Tag, Reachable: err == nil, LastCheck: time.Now()}
		if err != nil {
			ch.LastError = err.Error()
		}
		m.mu.Lock()
		m.cameras[cam.Tag] = ch
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.host = readHostTelemetry()
	m.mu.Unlock()
}

// Cameras returns a copy of the last-observed camera health map.
func (m *Monitor) Cameras() map[string]CameraHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CameraHealth, len(m.cameras))
	for k, v := range m.cameras {
		out[k] = v
	}
	return out
}

// Host returns the last-observed host telemetry.
func (m *Monitor) Host() HostTelemetry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.host
}

// Stop ends the monitor loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// probeRTSP runs a short ffprobe invocation that exits quickly if a
// stream is present, per spec.md §4.5 "a probe tool that exits quickly
// if a stream is present" — the same external-tool-delegation pattern
// as the Frame Grabber (spec.md §4.1).
func probeRTSP(ctx context.Context, rtspURL string, timeout time.Duration) error {
	if rtspURL == "" {
		return errNoURL
	}
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-rtsp_transport", "tcp",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		rtspURL,
	)
	return cmd.Run()
}

var errNoURL = &noURLError{}

type noURLError struct{}

func (*noURLError) Error() string { return "camera has no resolvable RTSP URL" }

// readHostTelemetry reads the CPU temperature from the well-known
// sysfs path; an absent path is reported rather than treated as an
// error (spec.md §4.5).
func readHostTelemetry() HostTelemetry {
	raw, err := os.ReadFile(cpuTempPath)
	if err != nil {
		return HostTelemetry{CPUTempAvailable: false, LastCheck: time.Now()}
	}
	milliC, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return HostTelemetry{CPUTempAvailable: false, LastCheck: time.Now()}
	}
	return HostTelemetry{
		CPUTempCelsius:   float64(milliC) / 1000.0,
		CPUTempAvailable: true,
		LastCheck:        time.Now(),
	}
}
