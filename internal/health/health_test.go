package health

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ridgeline/snapshotd/internal/settings"
)

func TestProbeAllRecordsReachabilityPerCamera(t *testing.T) {
	dir := t.TempDir()
	st, err := settings.Open(filepath.Join(dir, "settings.env"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.Update(map[string]string{
		"CAMERA_1_ENABLED": "true",
		"CAMERA_1_RTSP":    "rtsp://ok/stream1",
		"CAMERA_2_ENABLED": "true",
		"CAMERA_2_RTSP":    "rtsp://down/stream1",
	}))

	m := New(st, zap.NewNop())
	m.probeFn = func(ctx context.Context, rtspURL string, timeout time.Duration) error {
		if rtspURL == "rtsp://down/stream1" {
			return fmt.Errorf("connection refused")
		}
		return nil
	}

	m.probeAll(st.Current())

	cams := m.Cameras()
	require.True(t, cams["r1"].Reachable)
	require.False(t, cams["r2"].Reachable)
	require.Equal(t, "connection refused", cams["r2"].LastError)

	// r3 is never enabled, so it must not appear at all.
	_, ok := cams["r3"]
	require.False(t, ok)
}

func TestProbeAllSkipsDisabledCameras(t *testing.T) {
	dir := t.TempDir()
	st, err := settings.Open(filepath.Join(dir, "settings.env"), zap.NewNop())
	require.NoError(t, err)

	called := false
	m := New(st, zap.NewNop())
	m.probeFn = func(ctx context.Context, rtspURL string, timeout time.Duration) error {
		called = true
		return nil
	}

	m.probeAll(st.Current())
	require.False(t, called, "no camera is enabled by default")
}
