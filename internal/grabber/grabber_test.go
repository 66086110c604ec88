package grabber

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateJPEGAcceptsWellFormedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "good.jpg")
	data := append(append([]byte{0xFF, 0xD8}, []byte("fake jpeg body")...), 0xFF, 0xD9)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, validateJPEG(path))
}

func TestValidateJPEGRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not a jpeg at all"), 0o644))

	err := validateJPEG(path)
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, DecodeFailed, gerr.Kind)
}

func TestValidateJPEGRejectsMissingEOI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.jpg")
	data := append([]byte{0xFF, 0xD8}, []byte("truncated body, no eoi")...)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	err := validateJPEG(path)
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, DecodeFailed, gerr.Kind)
}

func TestValidateJPEGRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jpg")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	err := validateJPEG(path)
	require.Error(t, err)
}

func TestGrabReturnsToolMissingForUnknownTool(t *testing.T) {
	g := New(zap.NewNop())
	g.Tool = "definitely-not-a-real-grabber-binary"

	err := g.Grab(context.Background(), "rtsp://example.test/stream1", filepath.Join(t.TempDir(), "out.jpg"), time.Second, 4)
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, ToolMissing, gerr.Kind)
}

func TestGrabReturnsDecodeFailedWhenToolProducesNoOutput(t *testing.T) {
	g := New(zap.NewNop())
	g.Tool = "true" // exits 0 immediately without writing the output path

	outPath := filepath.Join(t.TempDir(), "out.jpg")
	err := g.Grab(context.Background(), "rtsp://example.test/stream1", outPath, time.Second, 4)
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, DecodeFailed, gerr.Kind)
}
