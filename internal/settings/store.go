package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ConfigError marks a bad or missing required key (spec.md §7).
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// Store is the process-wide settings singleton. The active Snapshot is
// published behind an atomic pointer; readers never see a torn value
// (spec.md §3 "Settings snapshot").
type Store struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
}

// Open parses path (an env-file) into the initial snapshot and returns
// a ready Store. If the file does not exist, defaults apply and the
// file is created on the first Update.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active snapshot. Safe for concurrent use.
func (s *Store) Current() Snapshot {
	p := s.current.Load()
	if p == nil {
		return Snapshot{}
	}
	return *p
}

// Reload re-parses the backing file and swaps the snapshot atomically.
func (s *Store) Reload() error {
	envMap, err := readEnvFile(s.path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}

	var snap Snapshot
	if err := env.ParseWithOptions(&snap, env.Options{Environment: envMap}); err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	if err := validate(snap); err != nil {
		return err
	}

	s.current.Store(&snap)
	if s.logger != nil {
		s.logger.Info("settings reloaded", zap.String("path", s.path))
	}
	return nil
}

// Update merges patch (raw env keys) into the current file, writes it
// atomically (temp file + rename — the durability boundary), then
// swaps the snapshot. Unknown keys are preserved verbatim so round-
// tripping never drops operator-set values the Snapshot struct doesn't
// model.
func (s *Store) Update(patch map[string]string) error {
	existing, err := readEnvFile(s.path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	for k, v := range patch {
		existing[k] = v
	}

	// Validate the merged result before it reaches disk, so a rejected
	// patch never becomes the file the next Reload or restart reads.
	var snap Snapshot
	if err := env.ParseWithOptions(&snap, env.Options{Environment: existing}); err != nil {
		return &ConfigError{Msg: err.Error()}
	}
	if err := validate(snap); err != nil {
		return err
	}

	if err := writeEnvFileAtomic(s.path, existing); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return s.Reload()
}

func readEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	return godotenv.Read(path)
}

func writeEnvFileAtomic(path string, kv map[string]string) error {
	content, err := godotenv.Marshal(kv)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func validate(s Snapshot) error {
	if s.Upload.Enabled && s.Upload.FieldName == "" {
		return &ConfigError{Msg: "UPLOAD_FIELD_NAME is required when UPLOAD_ENABLED=true (no safe default, spec.md §9)"}
	}
	if s.Network.BindPort <= 0 || s.Network.BindPort > 65535 {
		return &ConfigError{Msg: "BIND_PORT out of range"}
	}
	return nil
}
