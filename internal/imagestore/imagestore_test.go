package imagestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "images.db"), filepath.Join(dir, "images"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestInsertAndPendingBatch(t *testing.T) {
	st := openTestStore(t)

	filename, path := st.PathFor("r1", 1000)
	id, err := st.Insert(Image{Source: "r1", Filename: filename, Path: path, CapturedAt: 1000, SizeBytes: 42})
	require.NoError(t, err)
	require.NotZero(t, id)

	batch, err := st.PendingBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "r1", batch[0].Source)
	require.False(t, batch[0].Uploaded)
}

func TestMarkUploadedRemovesFromPendingBatch(t *testing.T) {
	st := openTestStore(t)

	filename, path := st.PathFor("r1", 1000)
	id, err := st.Insert(Image{Source: "r1", Filename: filename, Path: path, CapturedAt: 1000, SizeBytes: 1})
	require.NoError(t, err)

	require.NoError(t, st.MarkUploaded(id))

	batch, err := st.PendingBatch(10)
	require.NoError(t, err)
	require.Empty(t, batch)

	pending, uploaded, abandoned, err := st.Counts()
	require.NoError(t, err)
	require.Zero(t, pending)
	require.EqualValues(t, 1, uploaded)
	require.Zero(t, abandoned)
}

func TestAbandonCountsSeparatelyFromUploaded(t *testing.T) {
	st := openTestStore(t)

	filename, path := st.PathFor("r1", 1000)
	id, err := st.Insert(Image{Source: "r1", Filename: filename, Path: path, CapturedAt: 1000, SizeBytes: 1})
	require.NoError(t, err)

	require.NoError(t, st.Abandon(id, "file_missing"))

	pending, uploaded, abandoned, err := st.Counts()
	require.NoError(t, err)
	require.Zero(t, pending, "an abandoned row must leave the pending queue")
	require.Zero(t, uploaded, "an abandoned row is not a successful delivery")
	require.EqualValues(t, 1, abandoned)

	img, err := st.ByFilename(filename)
	require.NoError(t, err)
	require.True(t, img.Abandoned)
	require.Equal(t, "file_missing", img.LastError)
}

func TestRecordAttemptTracksLastError(t *testing.T) {
	st := openTestStore(t)

	filename, path := st.PathFor("r2", 2000)
	id, err := st.Insert(Image{Source: "r2", Filename: filename, Path: path, CapturedAt: 2000, SizeBytes: 1})
	require.NoError(t, err)

	require.NoError(t, st.RecordAttempt(id, "http 500"))

	img, err := st.ByFilename(filename)
	require.NoError(t, err)
	require.Equal(t, 1, img.Attempts)
	require.Equal(t, "http 500", img.LastError)
}

func TestOlderThanAndDelete(t *testing.T) {
	st := openTestStore(t)

	oldFilename, oldPath := st.PathFor("r1", 100)
	_, err := st.Insert(Image{Source: "r1", Filename: oldFilename, Path: oldPath, CapturedAt: 100, SizeBytes: 5})
	require.NoError(t, err)

	newFilename, newPath := st.PathFor("r1", 100000)
	_, err = st.Insert(Image{Source: "r1", Filename: newFilename, Path: newPath, CapturedAt: 100000, SizeBytes: 5})
	require.NoError(t, err)

	expired, err := st.OlderThan(1000)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, oldFilename, expired[0].Filename)

	require.NoError(t, st.Delete(expired[0].ID))
	remaining, err := st.ListPage("", 0, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, newFilename, remaining[0].Filename)
}

func TestListPageFiltersBySource(t *testing.T) {
	st := openTestStore(t)

	f1, p1 := st.PathFor("r1", 10)
	_, err := st.Insert(Image{Source: "r1", Filename: f1, Path: p1, CapturedAt: 10})
	require.NoError(t, err)
	f2, p2 := st.PathFor("r2", 20)
	_, err = st.Insert(Image{Source: "r2", Filename: f2, Path: p2, CapturedAt: 20})
	require.NoError(t, err)

	rows, err := st.ListPage("r2", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "r2", rows[0].Source)
}

func TestInsertRejectsDuplicateFilename(t *testing.T) {
	st := openTestStore(t)

	filename, path := st.PathFor("r1", 500)
	_, err := st.Insert(Image{Source: "r1", Filename: filename, Path: path, CapturedAt: 500})
	require.NoError(t, err)

	_, err = st.Insert(Image{Source: "r1", Filename: filename, Path: path, CapturedAt: 500})
	require.Error(t, err, "filename has a UNIQUE constraint")
}
