// Package settings implements the process-wide, atomically reloadable
// configuration snapshot described in spec.md §4.7 and §6.
package settings

import "fmt"

// NumCameras is the fixed number of camera slots the daemon understands.
// Camera tags are derived as r1..rN; this is a cold constant, not a key.
const NumCameras = 3

// Camera holds the per-camera settings group. Hot keys: IP, credentials
// (shared), RTSPOverride, Enabled. Cold keys: Pin.
type Camera struct {
	IP           string `env:"IP"`
	RTSPOverride string `env:"RTSP"`
	Enabled      bool   `env:"ENABLED" envDefault:"false"`
	Pin          int    `env:"PIN"`
}

// Authorization holds shared camera credentials. Hot.
type Authorization struct {
	Username string `env:"CAMERA_USERNAME"`
	Password string `env:"CAMERA_PASSWORD"`
}

// GPIO holds GPIO loop tunables. Enabled and the per-camera pins are cold
// (they change the set of claimed lines), as are BounceTime and Cooldown
// (read once when the loop is built); TriggerEnabled is hot.
type GPIO struct {
	Enabled        bool `env:"GPIO_ENABLED" envDefault:"true"`
	TriggerEnabled bool `env:"GPIO_TRIGGER_ENABLED" envDefault:"true"`
	BounceTimeMS   int  `env:"GPIO_BOUNCE_TIME" envDefault:"300"`
	CooldownMS     int  `env:"GPIO_COOLDOWN_TIME" envDefault:"1000"`
}

// Upload holds uploader tunables. All hot.
type Upload struct {
	Enabled                   bool   `env:"UPLOAD_ENABLED" envDefault:"false"`
	Endpoint                  string `env:"UPLOAD_ENDPOINT"`
	FieldName                 string `env:"UPLOAD_FIELD_NAME"`
	AuthBearer                string `env:"UPLOAD_AUTH_BEARER"`
	MaxRetries                int    `env:"MAX_RETRIES" envDefault:"3"`
	RetryDelaySeconds         int    `env:"RETRY_DELAY" envDefault:"5"`
	ConnectivityCheckInterval int    `env:"CONNECTIVITY_CHECK_INTERVAL" envDefault:"60"`
	BatchSize                 int    `env:"UPLOAD_BATCH_SIZE" envDefault:"20"`
	MaxItemBytes              int64  `env:"UPLOAD_MAX_ITEM_BYTES" envDefault:"15728640"`
}

// Storage holds image-store tunables. Path is cold; retention/cleanup
// interval are hot.
type Storage struct {
	ImagePath           string `env:"IMAGE_STORAGE_PATH" envDefault:"images"`
	RetentionDays       int    `env:"IMAGE_RETENTION_DAYS" envDefault:"120"`
	CleanupIntervalHrs  int    `env:"CLEANUP_INTERVAL_HOURS" envDefault:"24"`
}

// Network holds bind settings. Both fields are cold.
type Network struct {
	BindIP   string `env:"BIND_IP" envDefault:"0.0.0.0"`
	BindPort int    `env:"BIND_PORT" envDefault:"8080"`
}

// Auth holds the dashboard session-auth toggle. Cold; the auth
// middleware itself lives outside the core per spec.md §1.
type Auth struct {
	WebAuthEnabled bool   `env:"WEB_AUTH_ENABLED" envDefault:"false"`
	PasswordHash   string `env:"PASSWORD_HASH"`
	SecretKey      string `env:"SECRET_KEY"`
}

// Health holds health-monitor tunables. All hot.
type Health struct {
	CheckIntervalSeconds int `env:"HEALTH_CHECK_INTERVAL" envDefault:"60"`
	ProbeTimeoutSeconds  int `env:"HEALTH_PROBE_TIMEOUT" envDefault:"5"`
}

// Snapshot is the immutable, atomically-published configuration view.
// Every field group documents its own hot/cold keys above; the
// /api/config/get handler surfaces that split verbatim (spec.md §4.7).
type Snapshot struct {
	Authorization Authorization `envPrefix:""`
	Camera1       Camera        `envPrefix:"CAMERA_1_"`
	Camera2       Camera        `envPrefix:"CAMERA_2_"`
	Camera3       Camera        `envPrefix:"CAMERA_3_"`
	GPIO          GPIO          `envPrefix:""`
	Upload        Upload        `envPrefix:""`
	Storage       Storage       `envPrefix:""`
	Network       Network       `envPrefix:""`
	Auth          Auth          `envPrefix:""`
	Health        Health        `envPrefix:""`
}

// CameraDescriptor is the derived, non-persisted view of one camera
// used by the capture pipeline (spec.md §3 "Camera descriptor").
type CameraDescriptor struct {
	Tag     string
	Pin     int
	Enabled bool
	RTSPURL string
}

func (c Camera) rtspURL(auth Authorization, ip string) string {
	if c.RTSPOverride != "" {
		return c.RTSPOverride
	}
	if ip == "" {
		return ""
	}
	if auth.Username != "" {
		return fmt.Sprintf("rtsp://%s:%s@%s:554/stream1", auth.Username, auth.Password, ip)
	}
	return fmt.Sprintf("rtsp://%s:554/stream1", ip)
}

// Cameras returns the three camera descriptors, tagged r1..r3, in order.
func (s Snapshot) Cameras() []CameraDescriptor {
	cams := []Camera{s.Camera1, s.Camera2, s.Camera3}
	out := make([]CameraDescriptor, 0, NumCameras)
	for i, c := range cams {
		out = append(out, CameraDescriptor{
			Tag:     fmt.Sprintf("r%d", i+1),
			Pin:     c.Pin,
			Enabled: c.Enabled,
			RTSPURL: c.rtspURL(s.Authorization, c.IP),
		})
	}
	return out
}

// Camera looks up a camera descriptor by tag.
func (s Snapshot) Camera(tag string) (CameraDescriptor, bool) {
	for _, c := range s.Cameras() {
		if c.Tag == tag {
			return c, true
		}
	}
	return CameraDescriptor{}, false
}

// Redacted returns a copy with every non-empty secret replaced by "***"
// (empty secrets stay empty), for the config-read
// endpoint (spec.md §6 "/api/config/get ... secrets redacted").
func (s Snapshot) Redacted() Snapshot {
	r := s
	r.Authorization.Password = redactedMarker(s.Authorization.Password)
	r.Upload.AuthBearer = redactedMarker(s.Upload.AuthBearer)
	r.Auth.PasswordHash = redactedMarker(s.Auth.PasswordHash)
	r.Auth.SecretKey = redactedMarker(s.Auth.SecretKey)
	return r
}

func redactedMarker(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}

// HotKeys lists the env keys that apply without a restart, for the
// config-read response's documentation obligation (spec.md §4.7).
var HotKeys = []string{
	"CAMERA_USERNAME", "CAMERA_PASSWORD",
	"CAMERA_1_IP", "CAMERA_1_RTSP", "CAMERA_1_ENABLED",
	"CAMERA_2_IP", "CAMERA_2_RTSP", "CAMERA_2_ENABLED",
	"CAMERA_3_IP", "CAMERA_3_RTSP", "CAMERA_3_ENABLED",
	"GPIO_TRIGGER_ENABLED",
	"UPLOAD_ENABLED", "UPLOAD_ENDPOINT", "UPLOAD_FIELD_NAME", "UPLOAD_AUTH_BEARER",
	"MAX_RETRIES", "RETRY_DELAY", "CONNECTIVITY_CHECK_INTERVAL",
	"UPLOAD_BATCH_SIZE", "UPLOAD_MAX_ITEM_BYTES",
	"IMAGE_RETENTION_DAYS", "CLEANUP_INTERVAL_HOURS",
	"HEALTH_CHECK_INTERVAL", "HEALTH_PROBE_TIMEOUT",
}

// ColdKeys lists the env keys that require a process restart.
var ColdKeys = []string{
	"BIND_IP", "BIND_PORT",
	"GPIO_ENABLED", "GPIO_BOUNCE_TIME", "GPIO_COOLDOWN_TIME",
	"CAMERA_1_PIN", "CAMERA_2_PIN", "CAMERA_3_PIN",
	"IMAGE_STORAGE_PATH",
	"WEB_AUTH_ENABLED", "PASSWORD_HASH", "SECRET_KEY",
}
