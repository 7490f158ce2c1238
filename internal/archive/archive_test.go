package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/storagecore/internal/compensation"
	"github.com/vitaliisemenov/storagecore/internal/indexstore"
	"github.com/vitaliisemenov/storagecore/internal/txn"
	"github.com/vitaliisemenov/storagecore/internal/txstate"
)

func setupService(t *testing.T) (*Service, *indexstore.Store) {
	t.Helper()
	store, err := indexstore.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	comp := compensation.New(store, nil, nil)
	core := txstate.New(txstate.NewFatalState(nil, nil), txstate.NewNestedTransactionGuard(nil), nil, nil)

	seq := 0
	coordinator := txn.New(store, comp, core, nil, nil, nil, func() string {
		seq++
		return fmt.Sprintf("tx-archive-%d", seq)
	})

	svc := New(store, coordinator, []txn.Resource{txn.NewIndexedResource(store)}, nil, nil)
	return svc, store
}

func seedItems(t *testing.T, store *indexstore.Store, name string, n int, baseTime time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		ts := baseTime.Add(time.Duration(i) * time.Hour).Unix()
		payload := fmt.Sprintf(`{"timestamp":%d,"value":"item-%d"}`, ts, i)
		require.NoError(t, store.Put(context.Background(), name, fmt.Sprintf("item-%d", i), []byte(payload)))
	}
}

func TestArchiveOld_RetainsFloorRegardlessOfCutoff(t *testing.T) {
	svc, _ := setupService(t)
	svc.retainFloor = 5

	old := time.Now().Add(-365 * 24 * time.Hour)
	seedItems(t, svc.index, "events", 8, old)

	result, err := svc.ArchiveOld(context.Background(), "events", time.Now(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Archived)
	assert.Equal(t, 5, result.Kept)

	stats, err := svc.Stats(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.LiveCount)
	assert.Equal(t, 3, stats.ArchiveCount)
}

func TestArchiveOld_DryRunDoesNotMutate(t *testing.T) {
	svc, _ := setupService(t)
	svc.retainFloor = 1

	old := time.Now().Add(-365 * 24 * time.Hour)
	seedItems(t, svc.index, "events", 3, old)

	result, err := svc.ArchiveOld(context.Background(), "events", time.Now(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Archived)

	stats, err := svc.Stats(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.LiveCount)
	assert.Equal(t, 0, stats.ArchiveCount)
}

func TestArchiveOld_NoItemsOlderThanCutoffIsNoop(t *testing.T) {
	svc, _ := setupService(t)
	svc.retainFloor = 100

	seedItems(t, svc.index, "events", 3, time.Now())

	result, err := svc.ArchiveOld(context.Background(), "events", time.Now().Add(-time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Archived)
	assert.Equal(t, 3, result.Kept)
}

func TestRestore_MovesArchivedItemsBack(t *testing.T) {
	svc, _ := setupService(t)
	svc.retainFloor = 1

	old := time.Now().Add(-365 * 24 * time.Hour)
	seedItems(t, svc.index, "events", 3, old)
	_, err := svc.ArchiveOld(context.Background(), "events", time.Now(), false)
	require.NoError(t, err)

	result, err := svc.Restore(context.Background(), "events", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Restored)
	assert.Equal(t, 0, result.Remaining)
}

func TestRestore_AbortsWhenTooManyEntriesFailValidation(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Put(ctx, archiveSuffix("events"), fmt.Sprintf("bad-%d", i), []byte(`{"not_a_timestamp": true}`)))
	}
	validTs := time.Now().Unix()
	require.NoError(t, store.Put(ctx, archiveSuffix("events"), "good-0", []byte(fmt.Sprintf(`{"timestamp":%d}`, validTs))))

	_, err := svc.Restore(ctx, "events", nil, false)
	require.Error(t, err)
}

func TestClear_DeletesEveryArchiveEntry(t *testing.T) {
	svc, _ := setupService(t)
	svc.retainFloor = 0

	old := time.Now().Add(-365 * 24 * time.Hour)
	seedItems(t, svc.index, "events", 4, old)
	_, err := svc.ArchiveOld(context.Background(), "events", time.Now(), false)
	require.NoError(t, err)

	result, err := svc.Clear(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, 4, result.Deleted)

	stats, err := svc.Stats(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ArchiveCount)
}
