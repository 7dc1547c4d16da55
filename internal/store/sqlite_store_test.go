package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) keySetter {
		st, err := OpenSQLite(filepath.Join(t.TempDir(), "licenses.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	})
}

func TestOpenSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.db")
	ctx := context.Background()

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	rec, err := s1.Create(ctx, "hw")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open("sqlite", path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.FindByHWID(ctx, "hw")
	require.NoError(t, err)
	assert.Equal(t, rec.Key, got.Key)
}

func TestSQLiteStore_StorageErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := NewSQLite(db)
	boom := errors.New("disk I/O error")

	mock.ExpectQuery("SELECT key, hwid").WithArgs("hw").WillReturnError(boom)
	_, err = st.FindByHWID(context.Background(), "hw")

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "find_by_hwid", se.Op)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdateMissingKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := NewSQLite(db)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE licenses SET banned").WithArgs(true, "nope").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = st.Update(context.Background(), "nope", Patch{Banned: ptr(true)})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_InsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := NewSQLite(db)
	st.SetKeyFunc(func() (string, error) { return "DDDDDDDDDDDDDDDDDDDD", nil })
	mock.ExpectExec("INSERT INTO licenses").WillReturnError(errors.New("database is locked"))

	_, err = st.Create(context.Background(), "hw")
	var se *StorageError
	assert.ErrorAs(t, err, &se)
	assert.NoError(t, mock.ExpectationsWereMet())
}
