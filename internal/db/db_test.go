package db

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDb_Memory_Defaults(t *testing.T) {
	database, err := NewSqliteDb()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)

	// a second statement must see the same in-memory database
	_, err = database.Exec("INSERT INTO t (v) VALUES ('x');")
	assert.NoError(t, err)
}

func TestNewSqliteDb_File_CreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "index.db")

	database, err := NewSqliteDb(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	assert.FileExists(t, dbPath)
}

func TestNewSqliteDb_File_WALAndBusyTimeout(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")

	database, err := NewSqliteDb(WithPath(dbPath), WithMaxOpenConns(4))
	require.NoError(t, err)
	defer database.Close()

	var mode string
	require.NoError(t, database.Get(&mode, "PRAGMA journal_mode;"))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, database.Get(&timeout, "PRAGMA busy_timeout;"))
	assert.Equal(t, busyTimeoutMillis, timeout)
}

func TestNewSqliteDb_ExtraPragmas(t *testing.T) {
	database, err := NewSqliteDb(WithPragmas("PRAGMA temp_store=MEMORY;"))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY);")
	assert.NoError(t, err)
}

func TestNewSqliteDb_BadPragmas(t *testing.T) {
	_, err := NewSqliteDb(WithPragmas("THIS IS NOT SQL;"))
	assert.Error(t, err)
}

// createPlainDb makes a database in SQLite's default rollback journal mode.
func createPlainDb(t *testing.T, dbPath string) {
	t.Helper()
	plain, err := sqlx.Connect(driverName, "file:"+dbPath+"?mode=rwc")
	require.NoError(t, err)
	defer plain.Close()
	_, err = plain.Exec("CREATE TABLE t (v TEXT); INSERT INTO t (v) VALUES ('x');")
	require.NoError(t, err)
}

func TestNewSqliteDb_ReadOnly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "plain.db")
	createPlainDb(t, dbPath)

	database, err := NewSqliteDb(WithPath(dbPath), WithReadOnly())
	require.NoError(t, err)

	var count int
	require.NoError(t, database.Get(&count, "SELECT COUNT(*) FROM t;"))
	assert.Equal(t, 1, count)

	var mode string
	require.NoError(t, database.Get(&mode, "PRAGMA journal_mode;"))
	assert.Equal(t, "delete", mode)

	_, err = database.Exec("INSERT INTO t (v) VALUES ('y');")
	assert.Error(t, err)
	require.NoError(t, database.Close())

	assert.NoFileExists(t, dbPath+"-wal")
	assert.NoFileExists(t, dbPath+"-shm")
}

func TestNewSqliteDb_ReadOnlyMissing(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "none.db")

	_, err := NewSqliteDb(WithPath(dbPath), WithReadOnly())
	assert.ErrorIs(t, err, ErrNotExist)
	assert.NoDirExists(t, filepath.Join(dir, "nested"))
}
