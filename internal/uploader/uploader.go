// Package uploader implements the Uploader of spec.md §4.4: a single
// background worker delivering every uploaded=false Image row at least
// once, tolerant of arbitrary offline intervals.
package uploader

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ridgeline/snapshotd/internal/imagestore"
	"github.com/ridgeline/snapshotd/internal/settings"
)

const (
	offlineSleep    = 15 * time.Second
	emptyBatchSleep = 5 * time.Second
	successTick     = 5 * time.Second
	failureTick     = 15 * time.Second
)

// Uploader is the single drain-loop worker. Its HTTP client follows
// BrunoKrugel-snapshot2stream/internal/client/client.go's resty setup
// (fixed timeout, dedicated transport, retry disabled here since the
// retry policy is driven explicitly by the drain loop instead).
type Uploader struct {
	store    *imagestore.Store
	settings *settings.Store
	prober   *Prober
	logger   *zap.Logger
	client   *resty.Client

	stop chan struct{}
	done chan struct{}
}

// New builds an Uploader bound to store and the live settings.
func New(store *imagestore.Store, st *settings.Store, prober *Prober, logger *zap.Logger) *Uploader {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetDisableWarn(true)

	return &Uploader{
		store:    store,
		settings: st,
		prober:   prober,
		logger:   logger,
		client:   client,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run executes the drain loop until Stop is called (spec.md §4.4
// "Drain loop (single worker thread)"). Intended to be launched in its
// own goroutine.
func (u *Uploader) Run() {
	defer close(u.done)
	for {
		select {
		case <-u.stop:
			return
		default:
		}

		if u.sleepable(u.cycle()) {
			continue
		}
		return
	}
}

// cycle runs one iteration of the drain loop and returns the sleep
// duration to wait before the next iteration.
func (u *Uploader) cycle() time.Duration {
	cfg := u.settings.Current()

	if !cfg.Upload.Enabled {
		return offlineSleep
	}

	if d := time.Duration(cfg.Upload.ConnectivityCheckInterval) * time.Second; d > 0 {
		u.prober.mu.Lock()
		u.prober.interval = d
		u.prober.mu.Unlock()
	}

	if !u.prober.Reachable() {
		pending, _, _, err := u.store.Counts()
		if err == nil {
			u.logger.Info("uploader offline, pending capture backlog", zap.Int64("pending", pending))
		}
		return offlineSleep
	}

	batch, err := u.store.PendingBatch(cfg.Upload.BatchSize)
	if err != nil {
		u.logger.Error("queue unavailable, will retry drain after back-off", zap.Error(err))
		return offlineSleep
	}
	if len(batch) == 0 {
		return emptyBatchSleep
	}

	anyFailed := false
	for _, img := range batch {
		if err := u.deliver(img, cfg); err != nil {
			anyFailed = true
		}
	}

	if anyFailed {
		return failureTick
	}
	return successTick
}

// sleepable waits for d, honoring Stop, and returns whether the loop
// should continue.
func (u *Uploader) sleepable(d time.Duration) bool {
	select {
	case <-u.stop:
		return false
	case <-time.After(d):
		return true
	}
}

// deliver uploads a single row with bounded retry within this drain
// pass (spec.md §4.4 "per-item bounded retry loop"). It returns a
// non-nil error if the item is still pending after all attempts.
func (u *Uploader) deliver(img imagestore.Image, cfg settings.Snapshot) error {
	if img.SizeBytes > cfg.Upload.MaxItemBytes {
		u.logger.Warn("oversize item, abandoning", zap.String("filename", img.Filename), zap.Int64("size", img.SizeBytes))
		_ = u.store.Abandon(img.ID, "oversize")
		return nil
	}

	data, err := os.ReadFile(img.Path)
	if err != nil {
		u.logger.Warn("backing file missing, dropping from queue", zap.String("filename", img.Filename))
		_ = u.store.Abandon(img.ID, "file_missing")
		return nil
	}

	maxRetries := cfg.Upload.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	delay := time.Duration(cfg.Upload.RetryDelaySeconds) * time.Second

	var lastErr string
	for attempt := 1; attempt <= maxRetries; attempt++ {
		postErr := u.post(img, data, cfg)
		if postErr == nil {
			_ = u.store.RecordAttempt(img.ID, "")
			if err := u.store.MarkUploaded(img.ID); err != nil {
				u.logger.Error("failed to mark row uploaded", zap.Int64("id", img.ID), zap.Error(err))
			}
			return nil
		}
		lastErr = postErr.Error()
		_ = u.store.RecordAttempt(img.ID, lastErr)

		if attempt < maxRetries {
			u.sleepable(delay)
		}
	}

	u.logger.Warn("upload exhausted retries, leaving in queue", zap.String("filename", img.Filename), zap.String("last_error", lastErr))
	return fmt.Errorf("upload failed: %s", lastErr)
}

// post issues the multipart/form-data POST described in spec.md §6
// "Wire protocol (upload)".
func (u *Uploader) post(img imagestore.Image, data []byte, cfg settings.Snapshot) error {
	req := u.client.R().
		SetFileReader(cfg.Upload.FieldName, img.Filename, bytes.NewReader(data)).
		SetContentLength(true)

	if cfg.Upload.AuthBearer != "" {
		req.SetHeader("Authorization", "Bearer "+cfg.Upload.AuthBearer)
	}

	resp, err := req.Post(cfg.Upload.Endpoint)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("http %d", resp.StatusCode())
	}
	return nil
}

// Stop signals the drain loop to exit and waits for it to do so.
func (u *Uploader) Stop() {
	close(u.stop)
	<-u.done
}
