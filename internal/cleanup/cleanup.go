// Package cleanup implements the Cleanup Worker of spec.md §4.6:
// bounded on-disk storage by deleting images older than the retention
// horizon, on a timer and on demand.
package cleanup

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ridgeline/snapshotd/internal/imagestore"
	"github.com/ridgeline/snapshotd/internal/settings"
)

// Stats records the outcome of one cleanup run (spec.md §4.6 step 4).
type Stats struct {
	Deleted      int
	BytesReclaimed int64
	RanAt        time.Time
}

// Worker runs cleanup on a fixed interval and exposes a one-shot entry
// point for the HTTP facade's `/api/cleanup/run`.
type Worker struct {
	store    *imagestore.Store
	settings *settings.Store
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a Worker.
func New(store *imagestore.Store, st *settings.Store, logger *zap.Logger) *Worker {
	return &Worker{
		store:    store,
		settings: st,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run loops forever on CLEANUP_INTERVAL_HOURS until Stop is called.
func (w *Worker) Run() {
	defer close(w.done)
	for {
		if _, err := w.RunOnce(); err != nil {
			w.logger.Error("cleanup run failed", zap.Error(err))
		}

		interval := time.Duration(w.settings.Current().Storage.CleanupIntervalHrs) * time.Hour
		if interval <= 0 {
			interval = 24 * time.Hour
		}
		select {
		case <-w.stop:
			return
		case <-time.After(interval):
		}
	}
}

// RunOnce executes the procedure of spec.md §4.6 step 1-4. It never
// holds a database transaction open across the file unlink (spec.md
// §4.6 "must not hold a transaction open across the file unlink") —
// each row's unlink and delete are two independent statements.
func (w *Worker) RunOnce() (Stats, error) {
	cfg := w.settings.Current()
	threshold := time.Now().AddDate(0, 0, -cfg.Storage.RetentionDays).Unix()

	rows, err := w.store.OlderThan(threshold)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{RanAt: time.Now()}
	for _, img := range rows {
		if err := unlinkIfPresent(img.Path); err != nil {
			w.logger.Warn("cleanup: failed to unlink file, retrying next cycle", zap.String("path", img.Path), zap.Error(err))
			continue
		}
		if err := w.store.Delete(img.ID); err != nil {
			w.logger.Error("cleanup: failed to delete row after unlink", zap.Int64("id", img.ID), zap.Error(err))
			continue
		}
		stats.Deleted++
		stats.BytesReclaimed += img.SizeBytes
	}

	w.logger.Info("cleanup run complete", zap.Int("deleted", stats.Deleted), zap.Int64("bytes_reclaimed", stats.BytesReclaimed))
	return stats, nil
}

// unlinkIfPresent removes path; a missing file is OK (spec.md §4.6
// step 3: "missing file is OK").
func unlinkIfPresent(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Stop ends the worker loop and waits for it to exit.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}
