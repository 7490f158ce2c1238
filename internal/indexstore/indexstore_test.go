package indexstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_PutGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "settings", "theme", []byte("dark")))

	value, ok, err := s.Get(ctx, "settings", "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", string(value))
}

func TestStore_GetMissingKeyIsNotAnError(t *testing.T) {
	s := setupTestStore(t)
	_, ok, err := s.Get(context.Background(), "settings", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetFromNonexistentStoreIsNotAnError(t *testing.T) {
	s := setupTestStore(t)
	_, ok, err := s.Get(context.Background(), "never_created", "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "settings", "theme", []byte("dark")))
	require.NoError(t, s.Delete(ctx, "settings", "theme"))

	_, ok, err := s.Get(ctx, "settings", "theme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetAllReturnsEveryRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "alerts", "a1", []byte("one")))
	require.NoError(t, s.Put(ctx, "alerts", "a2", []byte("two")))

	records, err := s.GetAll(ctx, "alerts")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStore_ClearEmptiesStoreButKeepsItUsable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "alerts", "a1", []byte("one")))

	require.NoError(t, s.Clear(ctx, "alerts"))
	records, err := s.GetAll(ctx, "alerts")
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.Put(ctx, "alerts", "a2", []byte("two")))
	records, err = s.GetAll(ctx, "alerts")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_Count(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "alerts", "a1", []byte("one")))
	require.NoError(t, s.Put(ctx, "alerts", "a2", []byte("two")))

	n, err := s.Count(ctx, "alerts")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_GetAfterClearDoesNotServeStaleCachedValue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "alerts", "a1", []byte("one")))

	// warm the hot-key cache
	_, ok, err := s.Get(ctx, "alerts", "a1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Clear(ctx, "alerts"))

	_, ok, err = s.Get(ctx, "alerts", "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetAfterDeleteDoesNotServeStaleCachedValue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "settings", "theme", []byte("dark")))

	_, ok, err := s.Get(ctx, "settings", "theme")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Delete(ctx, "settings", "theme"))

	_, ok, err = s.Get(ctx, "settings", "theme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_RejectsPathTraversal(t *testing.T) {
	_, err := Open("../escape.db")
	require.Error(t, err)
}

func TestStore_FileSizeIsPositive(t *testing.T) {
	s := setupTestStore(t)
	size, err := s.FileSize()
	require.NoError(t, err)
	assert.Positive(t, size)
}
