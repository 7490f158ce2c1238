package compensation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/storagecore/internal/indexstore"
	"github.com/vitaliisemenov/storagecore/internal/synckv"
)

func setupIndexed(t *testing.T) *indexstore.Store {
	t.Helper()
	store, err := indexstore.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupSyncKV(t *testing.T) *synckv.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := synckv.New(&synckv.Config{
		Addr:         mr.Addr(),
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     5,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLogger_LogCompensationPrefersIndexedTier(t *testing.T) {
	index := setupIndexed(t)
	sync := setupSyncKV(t)
	l := New(index, sync, nil)

	require.NoError(t, l.LogCompensation(context.Background(), "tx-1", []string{"put:settings:theme"}))

	entries, err := l.GetAllLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TierIndexed, entries[0].Tier)
	assert.Equal(t, "tx-1", entries[0].TransactionID)
}

func TestLogger_LogCompensationFallsBackToSyncKVWithoutIndex(t *testing.T) {
	sync := setupSyncKV(t)
	l := New(nil, sync, nil)

	require.NoError(t, l.LogCompensation(context.Background(), "tx-2", []string{"delete:settings:stale"}))

	entries, err := l.GetAllLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TierSyncKV, entries[0].Tier)
}

func TestLogger_LogCompensationFallsBackToMemoryWithNoBackends(t *testing.T) {
	l := New(nil, nil, nil)

	require.NoError(t, l.LogCompensation(context.Background(), "tx-3", []string{"commit:alerts:a1"}))

	entries, err := l.GetAllLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TierMemory, entries[0].Tier)
}

func TestRingBuffer_WrapsAroundCapacity(t *testing.T) {
	r := newRingBuffer(2)
	r.push(Entry{TransactionID: "a"})
	r.push(Entry{TransactionID: "b"})
	r.push(Entry{TransactionID: "c"})

	all := r.all()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].TransactionID)
	assert.Equal(t, "c", all[1].TransactionID)
}

func TestLogger_GetAllLogsMergesAcrossTiers(t *testing.T) {
	index := setupIndexed(t)
	l := New(index, nil, nil)
	require.NoError(t, l.LogCompensation(context.Background(), "tx-indexed", []string{"op"}))

	l.ring.push(Entry{TransactionID: "tx-memory", Tier: TierMemory})

	entries, err := l.GetAllLogs(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
