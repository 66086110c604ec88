package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAppliesDefaultsWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshotd.env")

	st, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	cfg := st.Current()
	require.Equal(t, "0.0.0.0", cfg.Network.BindIP)
	require.Equal(t, 8080, cfg.Network.BindPort)
	require.True(t, cfg.GPIO.Enabled)
	require.False(t, cfg.Upload.Enabled, "upload must default off since UPLOAD_FIELD_NAME has no safe default")
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshotd.env")
	st, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	err = st.Update(map[string]string{
		"UPLOAD_ENABLED":    "true",
		"UPLOAD_FIELD_NAME": "image",
		"UPLOAD_ENDPOINT":   "https://example.test/upload",
	})
	require.NoError(t, err)
	require.True(t, st.Current().Upload.Enabled)
	require.Equal(t, "image", st.Current().Upload.FieldName)

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "https://example.test/upload", reopened.Current().Upload.Endpoint)
}

func TestUpdateRejectsUploadEnabledWithoutFieldName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshotd.env")
	st, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	err = st.Update(map[string]string{"UPLOAD_ENABLED": "true"})
	require.Error(t, err)
	require.False(t, st.Current().Upload.Enabled, "a failed validate must not swap in the bad snapshot")
}

func TestUpdatePreservesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshotd.env")
	st, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, st.Update(map[string]string{"SOME_FUTURE_KEY": "kept"}))

	raw, err := readEnvFile(path)
	require.NoError(t, err)
	require.Equal(t, "kept", raw["SOME_FUTURE_KEY"])
}

func TestRedactedClearsSecrets(t *testing.T) {
	cfg := Snapshot{}
	cfg.Authorization.Password = "hunter2"
	cfg.Upload.AuthBearer = "abc123"

	r := cfg.Redacted()
	require.Equal(t, "***", r.Authorization.Password)
	require.Equal(t, "***", r.Upload.AuthBearer)
	require.Equal(t, "hunter2", cfg.Authorization.Password, "Redacted must not mutate the receiver")
}

func TestCamerasTagging(t *testing.T) {
	cfg := Snapshot{}
	cfg.Camera1.IP = "10.0.0.1"
	cfg.Camera2.Enabled = true
	cfg.Camera2.Pin = 17

	cams := cfg.Cameras()
	require.Len(t, cams, NumCameras)
	require.Equal(t, "r1", cams[0].Tag)
	require.Equal(t, "r2", cams[1].Tag)
	require.True(t, cams[1].Enabled)
	require.Equal(t, 17, cams[1].Pin)

	cam, ok := cfg.Camera("r2")
	require.True(t, ok)
	require.Equal(t, "r2", cam.Tag)

	_, ok = cfg.Camera("r9")
	require.False(t, ok)
}
