// Package capture implements the Capture Service of spec.md §4.2: it
// drives one still-frame grab for a source and produces an Image
// record, without ever blocking its caller.
package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ridgeline/snapshotd/internal/grabber"
	"github.com/ridgeline/snapshotd/internal/imagestore"
	"github.com/ridgeline/snapshotd/internal/settings"
)

// ErrDisabled is returned when the requested camera is disabled in the
// current settings snapshot (spec.md §4.2 step 1).
var ErrDisabled = fmt.Errorf("camera disabled")

// ErrUnknownSource is returned for a tag with no matching camera.
var ErrUnknownSource = fmt.Errorf("unknown camera source")

// SourceStats are the per-source counters spec.md §4.2 step 5 asks for.
type SourceStats struct {
	Successes     int64
	Failures      int64
	LastTimestamp int64
	LastError     string
}

// Service wraps the Frame Grabber, assigns the filename convention,
// writes file and row atomically, and exposes non-blocking capture.
type Service struct {
	settings *settings.Store
	store    *imagestore.Store
	grabber  *grabber.Grabber
	logger   *zap.Logger
	quality  int

	jobs chan string
	wg   sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*SourceStats
}

// New builds a Service and starts a worker pool sized to
// len(cameras)*2, bounding total concurrent grabs per spec.md §9
// ("bounded thread pool... to avoid unbounded thread spawning under a
// stuck-button pathology").
func New(store *imagestore.Store, grab *grabber.Grabber, st *settings.Store, logger *zap.Logger) *Service {
	poolSize := settings.NumCameras * 2
	s := &Service{
		settings: st,
		store:    store,
		grabber:  grab,
		logger:   logger,
		quality:  4,
		jobs:     make(chan string, poolSize*4),
		stats:    make(map[string]*SourceStats),
	}
	for i := 0; i < poolSize; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Service) worker() {
	defer s.wg.Done()
	for source := range s.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("capture worker panic recovered", zap.Any("panic", r), zap.String("source", source))
				}
			}()
			if _, err := s.CaptureBlocking(context.Background(), source); err != nil {
				s.logger.Warn("async capture failed", zap.String("source", source), zap.Error(err))
			}
		}()
	}
}

// CaptureAsync schedules a capture and returns immediately. Never
// blocks the caller (the GPIO loop requires this — spec.md §4.3).
func (s *Service) CaptureAsync(source string) {
	select {
	case s.jobs <- source:
	default:
		s.logger.Warn("capture queue full, dropping async trigger", zap.String("source", source))
	}
}

// CaptureBlocking performs the full algorithm of spec.md §4.2 and
// returns the resulting Image record. Used by the manual-capture HTTP
// endpoint and by async workers.
func (s *Service) CaptureBlocking(ctx context.Context, source string) (*imagestore.Image, error) {
	cam, ok := s.settings.Current().Camera(source)
	if !ok {
		return nil, ErrUnknownSource
	}
	if !cam.Enabled {
		s.recordFailure(source, ErrDisabled)
		return nil, ErrDisabled
	}

	capturedAt := time.Now().Unix()
	filename, path := s.store.PathFor(source, capturedAt)

	if err := s.grabber.Grab(ctx, cam.RTSPURL, path, grabber.DefaultTimeout, s.quality); err != nil {
		_ = os.Remove(path)
		s.recordFailure(source, err)
		return nil, err
	}

	info, err := statFile(path)
	if err != nil {
		s.recordFailure(source, err)
		return nil, err
	}

	id, err := s.store.Insert(imagestore.Image{
		Source:     source,
		Filename:   filename,
		Path:       path,
		CapturedAt: capturedAt,
		SizeBytes:  info,
	})
	if err != nil {
		_ = os.Remove(path)
		s.recordFailure(source, err)
		return nil, err
	}

	s.recordSuccess(source, capturedAt)
	return &imagestore.Image{
		ID: id, Source: source, Filename: filename, Path: path,
		CapturedAt: capturedAt, SizeBytes: info,
	}, nil
}

// Stats returns a snapshot copy of per-source counters for /api/stats.
func (s *Service) Stats() map[string]SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SourceStats, len(s.stats))
	for k, v := range s.stats {
		out[k] = *v
	}
	return out
}

// Close stops accepting new jobs and waits for in-flight captures to
// finish, bounded by the caller's context.
func (s *Service) Close(ctx context.Context) error {
	close(s.jobs)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) recordSuccess(source string, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statsFor(source)
	st.Successes++
	st.LastTimestamp = at
	st.LastError = ""
}

func (s *Service) recordFailure(source string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statsFor(source)
	st.Failures++
	st.LastError = err.Error()
}

func (s *Service) statsFor(source string) *SourceStats {
	st, ok := s.stats[source]
	if !ok {
		st = &SourceStats{}
		s.stats[source] = st
	}
	return st
}

func statFile(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat captured file: %w", err)
	}
	return fi.Size(), nil
}
