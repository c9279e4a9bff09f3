// Package storagetest opens throwaway SQLite stores for tests.
package storagetest

import (
	"testing"

	"github.com/VladKvetkin/minimart/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func New(t *testing.T) *storage.SQLStorage {
	t.Helper()

	db, err := storage.Open(storage.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	sqlStorage, err := storage.NewSQLStorage(db)
	require.NoError(t, err)

	return sqlStorage
}
