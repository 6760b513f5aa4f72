package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("key"), []byte("value")))
	got, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	has, err := db.Has([]byte("key"))
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, db.Put([]byte("key"), []byte("updated")))
	got, err = db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("updated"), got)

	require.NoError(t, db.Delete([]byte("key")))
	has, err = db.Has([]byte("key"))
	require.NoError(t, err)
	require.False(t, has)
	_, err = db.Get([]byte("key"))
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	require.NoError(t, db.Delete([]byte("never-stored")))
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	require.NoError(t, db.Put([]byte("key"), value))
	value[0] = 'X'

	got, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)

	// Mutating the returned slice must not poison the stored copy either.
	got[0] = 'Y'
	again, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), again)
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	exerciseDatabase(t, db)
	db.Close()

	// Reopening the same path sees the committed data.
	db, err = NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Put([]byte("persist"), []byte("1")))
	got, err := db.Get([]byte("persist"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestLevelDBNotFoundMapping(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Get([]byte("absent"))
	require.ErrorIs(t, err, ErrNotFound)
}
