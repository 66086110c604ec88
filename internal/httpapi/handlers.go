package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ridgeline/snapshotd/internal/capture"
	"github.com/ridgeline/snapshotd/internal/settings"
)

type handlers struct {
	deps Deps
	hub  *triggerHub
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// status answers `/api/status`: a cheap liveness/identity summary, not
// the full health probe (spec.md §6).
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Settings.Current()
	writeJSON(w, map[string]any{
		"uptime_seconds": time.Since(h.deps.StartedAt).Seconds(),
		"cameras":        cfg.Cameras(),
	})
}

// stats answers `/api/stats`: per-source capture counters plus queue
// depth (spec.md §4.2 step 5, §4.4).
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	pending, uploaded, abandoned, err := h.deps.Store.Counts()
	if err != nil {
		serverError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"capture": h.deps.Capture.Stats(),
		"queue": map[string]int64{
			"pending":   pending,
			"uploaded":  uploaded,
			"abandoned": abandoned,
		},
		"reachable": h.deps.Prober.Reachable(),
	})
}

// health answers `/api/health`: the last-observed snapshot from the
// Health Monitor (spec.md §4.5 — "exposes a snapshot, never a live
// stream").
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"cameras": h.deps.Health.Cameras(),
		"host":    h.deps.Health.Host(),
	})
}

// listImages answers `/api/images?source=&offset=&limit=`.
func (h *handlers) listImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	rows, err := h.deps.Store.ListPage(q.Get("source"), offset, limit)
	if err != nil {
		serverError(w, err)
		return
	}
	writeJSON(w, rows)
}

// imagesByDate answers `/api/images/by-date?date=YYYY-MM-DD&source=`.
func (h *handlers) imagesByDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := time.Parse("2006-01-02", q.Get("date"))
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}

	rows, err := h.deps.Store.ListByDate(day, day.AddDate(0, 0, 1), q.Get("source"))
	if err != nil {
		serverError(w, err)
		return
	}
	writeJSON(w, rows)
}

// imageBytes answers `/api/images/{filename}`: serves the raw JPEG.
func (h *handlers) imageBytes(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	img, err := h.deps.Store.ByFilename(filename)
	if err != nil {
		notFound(w)
		return
	}

	f, err := os.Open(img.Path)
	if err != nil {
		notFound(w)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, filename, time.Unix(img.CapturedAt, 0), f)
}

// captureNow answers `POST /api/capture/{source}`: a synchronous manual
// capture (spec.md §4.2, the blocking entry point).
func (h *handlers) captureNow(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	img, err := h.deps.Capture.CaptureBlocking(ctx, source)
	switch err {
	case nil:
		writeJSON(w, img)
	case capture.ErrUnknownSource:
		notFound(w)
	case capture.ErrDisabled:
		badRequest(w, "camera disabled")
	default:
		serverError(w, err)
	}
}

// cleanupRun answers `POST /api/cleanup/run`: an on-demand retention
// sweep (spec.md §4.6).
func (h *handlers) cleanupRun(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Cleanup.RunOnce()
	if err != nil {
		serverError(w, err)
		return
	}
	writeJSON(w, stats)
}

// gpioStatus answers `/api/gpio/status`: accepted-trigger counters and
// the recent-event ring buffer per camera (spec.md §4.3, §6).
func (h *handlers) gpioStatus(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Settings.Current()
	out := make(map[string]any, len(cfg.Cameras()))
	for _, cam := range cfg.Cameras() {
		out[cam.Tag] = map[string]any{
			"counter": h.deps.GPIO.Counter(cam.Tag),
			"events":  h.deps.GPIO.RecentEvents(cam.Tag),
		}
	}
	writeJSON(w, out)
}

// gpioStream answers `/api/gpio/stream`: the best-effort websocket push
// companion to the polling endpoint above.
func (h *handlers) gpioStream(w http.ResponseWriter, r *http.Request) {
	h.hub.serve(w, r)
}

// configGet answers `/api/config/get`: the redacted live snapshot plus
// the hot/cold key split (spec.md §4.7).
func (h *handlers) configGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"settings":  h.deps.Settings.Current().Redacted(),
		"hot_keys":  settings.HotKeys,
		"cold_keys": settings.ColdKeys,
	})
}

// configUpdate answers `POST /api/config/update`: merges a raw key/value
// patch into the backing file and reloads (spec.md §4.7).
func (h *handlers) configUpdate(w http.ResponseWriter, r *http.Request) {
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		badRequest(w, "body must be a flat JSON object of env keys to values")
		return
	}

	if err := h.deps.Settings.Update(patch); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"settings": h.deps.Settings.Current().Redacted(),
	})
}

// configReload answers `POST /api/config/reload`: re-reads the backing
// file without applying a patch, used after an operator hand-edits it.
func (h *handlers) configReload(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Settings.Reload(); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"settings": h.deps.Settings.Current().Redacted(),
	})
}
