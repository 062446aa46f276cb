package verify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/fsindex/internal/fingerprint"
	"github.com/openmined/fsindex/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// mapStore serves canned rows; a key may map to several rows.
type mapStore struct {
	rows    map[string][]string
	findErr error
}

func (m *mapStore) Find(_ context.Context, relPath string) ([]index.Entry, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []index.Entry
	for _, sha := range m.rows[relPath] {
		out = append(out, index.Entry{RelPath: relPath, Fingerprint: sha})
	}
	return out, nil
}

func (m *mapStore) ScanAll(context.Context) iter.Seq2[index.Entry, error] {
	return func(yield func(index.Entry, error) bool) {
		for rel, shas := range m.rows {
			for _, sha := range shas {
				if !yield(index.Entry{RelPath: rel, Fingerprint: sha}, nil) {
					return
				}
			}
		}
	}
}

func makeTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		path := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(f), 0o644))
	}
	return root
}

func TestVerify_MissingEntry(t *testing.T) {
	root := makeTree(t, "a.pdf", "b.pdf")
	store := &mapStore{rows: map[string][]string{"a.pdf": {fingerprint.Of("a.pdf")}}}

	report, err := New(store, WithLogger(discard)).Verify(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalFiles)
	require.Len(t, report.Invalid, 1)
	assert.Equal(t, InvalidPath{Path: "b.pdf", Reason: ReasonWrongCardinality, Rows: 0}, report.Invalid[0])
	assert.False(t, report.OK())
	assert.ErrorIs(t, report.Err(), ErrInvalidPaths)
}

func TestVerify_FingerprintMismatch(t *testing.T) {
	root := makeTree(t, "a.pdf")
	store := &mapStore{rows: map[string][]string{"a.pdf": {"deadbeef"}}}

	report, err := New(store, WithLogger(discard)).Verify(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, report.Invalid, 1)
	got := report.Invalid[0]
	assert.Equal(t, ReasonFingerprintMismatch, got.Reason)
	assert.Equal(t, fingerprint.Of("a.pdf"), got.Expected)
	assert.Equal(t, "deadbeef", got.Actual)
	assert.Contains(t, got.Detail(), fingerprint.Of("a.pdf"))
	assert.Contains(t, got.Detail(), "deadbeef")
}

func TestVerify_DuplicateRows(t *testing.T) {
	root := makeTree(t, "dup.pdf")
	store := &mapStore{rows: map[string][]string{"dup.pdf": {fingerprint.Of("dup.pdf"), fingerprint.Of("dup.pdf")}}}

	report, err := New(store, WithLogger(discard)).Verify(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, report.Invalid, 1)
	assert.Equal(t, ReasonWrongCardinality, report.Invalid[0].Reason)
	assert.Equal(t, 2, report.Invalid[0].Rows)
}

func TestVerify_Consistent(t *testing.T) {
	files := []string{"a.pdf", filepath.Join("x", "b.zip"), filepath.Join("x", "y", "c.png")}
	root := makeTree(t, files...)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty", "dir"), 0o755))

	rows := map[string][]string{}
	for _, f := range files {
		rows[f] = []string{fingerprint.Of(f)}
	}
	// an extra entry goes unnoticed without the orphan check
	rows["gone.pdf"] = []string{fingerprint.Of("gone.pdf")}

	report, err := New(&mapStore{rows: rows}, WithLogger(discard)).Verify(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalFiles)
	assert.Empty(t, report.Invalid)
	assert.True(t, report.OK())
	assert.NoError(t, report.Err())

	var out bytes.Buffer
	require.NoError(t, report.Write(&out))
	assert.Contains(t, out.String(), "checked 3 files")
	assert.Contains(t, out.String(), "not detected")
}

func TestVerify_OrphanCheck(t *testing.T) {
	root := makeTree(t, "a.pdf", "skip.txt")
	rows := map[string][]string{
		"a.pdf":    {fingerprint.Of("a.pdf")},
		"skip.txt": {fingerprint.Of("skip.txt")},
		"gone.pdf": {fingerprint.Of("gone.pdf")},
	}
	skip := func(path string) bool { return strings.HasSuffix(path, ".txt") }

	report, err := New(&mapStore{rows: rows}, WithLogger(discard), WithOrphanCheck(true), WithSkip(skip)).
		Verify(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalFiles)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Invalid)
	assert.Equal(t, []index.Entry{{RelPath: "gone.pdf", Fingerprint: fingerprint.Of("gone.pdf")}}, report.Orphans)
	assert.False(t, report.OK())

	var out bytes.Buffer
	require.NoError(t, report.Write(&out))
	assert.Contains(t, out.String(), `ORPHAN  "gone.pdf"`)
	assert.Contains(t, out.String(), "1 orphaned entries")
}

func TestVerify_SkipExcludesFromChecks(t *testing.T) {
	root := makeTree(t, "a.pdf", "notes.txt")
	store := &mapStore{rows: map[string][]string{"a.pdf": {fingerprint.Of("a.pdf")}}}
	skip := func(path string) bool { return filepath.Ext(path) == ".txt" }

	report, err := New(store, WithLogger(discard), WithSkip(skip)).Verify(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Skipped)
}

func TestVerify_StoreErrorAborts(t *testing.T) {
	root := makeTree(t, "a.pdf")
	storeErr := errors.New("unable to open database file")

	_, err := New(&mapStore{findErr: storeErr}, WithLogger(discard)).Verify(context.Background(), root)
	assert.ErrorIs(t, err, storeErr)
}

func TestVerify_MissingRoot(t *testing.T) {
	_, err := New(&mapStore{}, WithLogger(discard)).Verify(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestVerify_Cancelled(t *testing.T) {
	root := makeTree(t, "a.pdf")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&mapStore{}, WithLogger(discard)).Verify(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify_WithIndexStore(t *testing.T) {
	root := makeTree(t, "a.pdf", "b.pdf", filepath.Join("sub", "c.xlsx"))
	store, err := index.Open(filepath.Join(t.TempDir(), index.DefaultFileName), index.WithLogger(discard))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx, false))
	require.NoError(t, store.Upsert(ctx, "a.pdf", fingerprint.Of("a.pdf")))
	require.NoError(t, store.Upsert(ctx, filepath.Join("sub", "c.xlsx"), "0000"))

	report, err := New(store, WithLogger(discard)).Verify(ctx, root)
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalFiles)
	reasons := map[string]Reason{}
	for _, p := range report.Invalid {
		reasons[p.Path] = p.Reason
	}
	assert.Equal(t, map[string]Reason{
		"b.pdf":                        ReasonWrongCardinality,
		filepath.Join("sub", "c.xlsx"): ReasonFingerprintMismatch,
	}, reasons)

	var out bytes.Buffer
	require.NoError(t, report.Write(&out))
	assert.Contains(t, out.String(), "2 invalid paths")
}

func TestVerify_ReadOnlyStoreKeepsJournalMode(t *testing.T) {
	root := makeTree(t, "a.pdf")
	dbPath := filepath.Join(t.TempDir(), "plain.db")

	plain, err := sqlx.Connect("sqlite3", "file:"+dbPath+"?mode=rwc")
	require.NoError(t, err)
	_, err = plain.Exec("CREATE TABLE files (filename TEXT, sha TEXT); CREATE UNIQUE INDEX files_index ON files (filename);")
	require.NoError(t, err)
	_, err = plain.Exec("INSERT INTO files VALUES (?, ?)", "a.pdf", fingerprint.Of("a.pdf"))
	require.NoError(t, err)
	journalMode := func() string {
		var mode string
		require.NoError(t, plain.Get(&mode, "PRAGMA journal_mode;"))
		return mode
	}
	require.Equal(t, "delete", journalMode())
	require.NoError(t, plain.Close())

	store, err := index.Open(dbPath, index.WithReadOnly(), index.WithLogger(discard))
	require.NoError(t, err)
	report, err := New(store, WithLogger(discard), WithOrphanCheck(true)).Verify(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, report.OK())
	require.NoError(t, store.Close())

	plain, err = sqlx.Connect("sqlite3", "file:"+dbPath+"?mode=ro")
	require.NoError(t, err)
	defer plain.Close()
	assert.Equal(t, "delete", journalMode())
	assert.NoFileExists(t, dbPath+"-wal")
}
