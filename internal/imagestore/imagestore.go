// Package imagestore is the Image Store of spec.md §2.2/§3: a
// directory of JPEG files plus a single-table SQLite database recording
// every capture and its upload state.
package imagestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Image is one row of the `images` table (spec.md §3 "Image record").
type Image struct {
	ID          int64
	Source      string
	Filename    string
	Path        string
	CapturedAt  int64
	SizeBytes   int64
	Uploaded    bool
	Abandoned   bool
	Attempts    int
	LastError   string
}

const schema = `
CREATE TABLE IF NOT EXISTS images (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source      TEXT NOT NULL,
    filename    TEXT NOT NULL UNIQUE,
    path        TEXT NOT NULL,
    captured_at INTEGER NOT NULL,
    size_bytes  INTEGER NOT NULL DEFAULT 0,
    uploaded    INTEGER NOT NULL DEFAULT 0,
    abandoned   INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT
);
CREATE INDEX IF NOT EXISTS idx_images_uploaded ON images(uploaded, id);
CREATE INDEX IF NOT EXISTS idx_images_captured_at ON images(captured_at);
`

// Store is the single serialization point for the image queue
// (spec.md §5: "the embedded database is the single serialization
// point"). go-sqlite3 allows one writer at a time; SetMaxOpenConns(1)
// makes the driver itself enforce that instead of relying on callers.
type Store struct {
	db        *sql.DB
	imagesDir string
	logger    *zap.Logger
}

// Open creates the storage directory (0o755, on demand) and opens or
// creates the SQLite file at dbPath.
func Open(dbPath, imagesDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image storage dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db, imagesDir: imagesDir, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ImagesDir returns the configured storage directory.
func (s *Store) ImagesDir() string {
	return s.imagesDir
}

// PathFor computes the on-disk path for a filename following the
// `<source>_<captured_at>.jpg` convention (spec.md §6).
func (s *Store) PathFor(source string, capturedAt int64) (filename, path string) {
	filename = fmt.Sprintf("%s_%d.jpg", source, capturedAt)
	return filename, filepath.Join(s.imagesDir, filename)
}

// Insert records a successful capture. This insert is the authoritative
// event per spec.md §4.2 step 4.
func (s *Store) Insert(img Image) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO images (source, filename, path, captured_at, size_bytes, uploaded, attempts)
		 VALUES (?, ?, ?, ?, ?, 0, 0)`,
		img.Source, img.Filename, img.Path, img.CapturedAt, img.SizeBytes,
	)
	if err != nil {
		return 0, fmt.Errorf("insert image row: %w", err)
	}
	return res.LastInsertId()
}

// PendingBatch fetches up to limit rows with uploaded=0, ordered by id
// ascending (spec.md §4.4 drain loop step 2).
func (s *Store) PendingBatch(limit int) ([]Image, error) {
	rows, err := s.db.Query(
		`SELECT id, source, filename, path, captured_at, size_bytes, uploaded, abandoned, attempts, last_error
		 FROM images WHERE uploaded = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending batch: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// MarkUploaded sets uploaded=true after a successful POST. attempts is
// incremented by the caller via RecordAttempt before this is called;
// last_error is cleared as spec.md's round-trip law requires.
func (s *Store) MarkUploaded(id int64) error {
	_, err := s.db.Exec(`UPDATE images SET uploaded = 1, last_error = NULL WHERE id = ?`, id)
	return err
}

// RecordAttempt increments attempts and sets last_error after a
// retriable failure (spec.md §4.4: "attempts is incremented, last_error
// is set").
func (s *Store) RecordAttempt(id int64, lastErr string) error {
	_, err := s.db.Exec(`UPDATE images SET attempts = attempts + 1, last_error = ? WHERE id = ?`, truncate(lastErr, 500), id)
	return err
}

// Abandon marks a row terminally failed (oversize, or file missing at
// upload time) without ever sending it — the §9 Open Question on
// missing-file policy is resolved in favor of "drop from queue": the
// row still counts as resolved (uploaded=true) so the uploader leaves it
// alone, but abandoned=true distinguishes it from a genuine delivery in
// stats. Cleanup still removes it once it passes the retention horizon.
func (s *Store) Abandon(id int64, reason string) error {
	_, err := s.db.Exec(
		`UPDATE images SET uploaded = 1, abandoned = 1, attempts = attempts + 1, last_error = ? WHERE id = ?`,
		truncate(reason, 500), id)
	return err
}

// ByFilename looks up a single row by its unique filename, used by the
// `/api/images/<filename>` handler.
func (s *Store) ByFilename(filename string) (Image, error) {
	row := s.db.QueryRow(
		`SELECT id, source, filename, path, captured_at, size_bytes, uploaded, abandoned, attempts, last_error
		 FROM images WHERE filename = ?`, filename)
	return scanImage(row)
}

// ListPage returns a page of images, optionally filtered by source,
// newest captures first (spec.md `/api/images`).
func (s *Store) ListPage(source string, offset, limit int) ([]Image, error) {
	var rows *sql.Rows
	var err error
	if source == "" {
		rows, err = s.db.Query(
			`SELECT id, source, filename, path, captured_at, size_bytes, uploaded, abandoned, attempts, last_error
			 FROM images ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = s.db.Query(
			`SELECT id, source, filename, path, captured_at, size_bytes, uploaded, abandoned, attempts, last_error
			 FROM images WHERE source = ? ORDER BY id DESC LIMIT ? OFFSET ?`, source, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("query image page: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// ListByDate returns images captured within [dayStart, dayEnd), the
// backing query for `/api/images/by-date`.
func (s *Store) ListByDate(dayStart, dayEnd time.Time, source string) ([]Image, error) {
	var rows *sql.Rows
	var err error
	if source == "" {
		rows, err = s.db.Query(
			`SELECT id, source, filename, path, captured_at, size_bytes, uploaded, abandoned, attempts, last_error
			 FROM images WHERE captured_at >= ? AND captured_at < ? ORDER BY id ASC`,
			dayStart.Unix(), dayEnd.Unix())
	} else {
		rows, err = s.db.Query(
			`SELECT id, source, filename, path, captured_at, size_bytes, uploaded, abandoned, attempts, last_error
			 FROM images WHERE captured_at >= ? AND captured_at < ? AND source = ? ORDER BY id ASC`,
			dayStart.Unix(), dayEnd.Unix(), source)
	}
	if err != nil {
		return nil, fmt.Errorf("query images by date: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// OlderThan returns rows captured before threshold, for the Cleanup
// Worker (spec.md §4.6 step 2).
func (s *Store) OlderThan(threshold int64) ([]Image, error) {
	rows, err := s.db.Query(
		`SELECT id, source, filename, path, captured_at, size_bytes, uploaded, abandoned, attempts, last_error
		 FROM images WHERE captured_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired images: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// Delete removes a single row by id (spec.md §4.6 step 3, after unlink).
func (s *Store) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM images WHERE id = ?`, id)
	return err
}

// Counts reports queue-depth statistics for `/api/stats`.
func (s *Store) Counts() (pending, uploaded, abandoned int64, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*) FROM images WHERE uploaded = 0`).Scan(&pending)
	if err != nil {
		return
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM images WHERE uploaded = 1 AND abandoned = 0`).Scan(&uploaded)
	if err != nil {
		return
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM images WHERE abandoned = 1`).Scan(&abandoned)
	return
}

type scannable interface {
	Scan(dest ...any) error
}

func scanImage(row scannable) (Image, error) {
	var img Image
	var lastErr sql.NullString
	var uploaded, abandoned int
	err := row.Scan(&img.ID, &img.Source, &img.Filename, &img.Path, &img.CapturedAt,
		&img.SizeBytes, &uploaded, &abandoned, &img.Attempts, &lastErr)
	if err != nil {
		return Image{}, err
	}
	img.Uploaded = uploaded != 0
	img.Abandoned = abandoned != 0
	img.LastError = lastErr.String
	return img, nil
}

func scanImages(rows *sql.Rows) ([]Image, error) {
	var out []Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
