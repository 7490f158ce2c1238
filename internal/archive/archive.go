// Package archive implements ArchiveService (C7): age-bucketed migration of
// a named record set's oldest entries into a companion archive bucket,
// atomic via a two-phase commit transaction so the live and archive sets
// are never jointly inconsistent.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
	"github.com/vitaliisemenov/storagecore/internal/indexstore"
	"github.com/vitaliisemenov/storagecore/internal/realtime"
	"github.com/vitaliisemenov/storagecore/internal/txn"
)

// RetainFloor is the hard minimum of most-recent items kept live regardless
// of cutoff.
const RetainFloor = 100

// maxInvalidRatio bounds how many restore-candidate entries may fail
// integrity validation before the whole restore aborts.
const maxInvalidRatio = 0.10

const minValidYear = 2000

// archiveSuffix names the companion bucket a live store's items move into.
func archiveSuffix(store string) string {
	return store + "__archive"
}

// Item is one record in a named set, decoded just enough to sort and
// validate by timestamp while keeping the rest of the payload opaque.
type Item struct {
	Key       string
	Timestamp int64
	Raw       []byte
}

// Stats reports age-bucketed counts for a stream, for operator visibility.
type Stats struct {
	LiveCount    int
	ArchiveCount int
	OldestLive   int64
	NewestLive   int64
	AgeBuckets   map[string]int // "0-7d", "7-30d", "30d+"
}

// ArchiveResult is archive_old's return value.
type ArchiveResult struct {
	Archived   int
	Kept       int
	BytesSaved int64
	Oldest     int64
	Newest     int64
}

// RestoreResult is restore's return value.
type RestoreResult struct {
	Restored      int
	Remaining     int
	FilteredCount int
	BytesRestored int64
}

// ClearResult is clear's return value.
type ClearResult struct {
	Deleted int
}

// Service is C7's ArchiveService.
type Service struct {
	index       *indexstore.Store
	coordinator *txn.Coordinator
	resources   []txn.Resource
	publisher   *realtime.EventPublisher
	logger      *slog.Logger
	retainFloor int
}

// New creates an archive Service over the given stream-agnostic indexed
// store, using coordinator for the atomic live/archive move.
func New(index *indexstore.Store, coordinator *txn.Coordinator, resources []txn.Resource, publisher *realtime.EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		index:       index,
		coordinator: coordinator,
		resources:   resources,
		publisher:   publisher,
		logger:      logger.With("component", "archive_service"),
		retainFloor: RetainFloor,
	}
}

func decodeItem(rec indexstore.Record) (Item, bool) {
	var obj map[string]any
	if err := json.Unmarshal(rec.Value, &obj); err != nil {
		return Item{}, false
	}
	ts, ok := extractTimestamp(obj)
	if !ok {
		return Item{}, false
	}
	return Item{Key: rec.Key, Timestamp: ts, Raw: rec.Value}, true
}

func extractTimestamp(obj map[string]any) (int64, bool) {
	raw, ok := obj["timestamp"]
	if !ok {
		return 0, false
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func validTimestamp(ts int64) bool {
	t := time.Unix(ts, 0).UTC()
	now := time.Now().UTC()
	return t.Year() >= minValidYear && t.Year() <= now.Year()+1
}

// ArchiveOld moves every item in store older than cutoff into its archive
// bucket, always keeping at least the service's retain floor of most-recent
// items live regardless of cutoff. dryRun reports what would move without
// mutating anything.
func (s *Service) ArchiveOld(ctx context.Context, store string, cutoff time.Time, dryRun bool) (*ArchiveResult, error) {
	records, err := s.index.GetAll(ctx, store)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to read live store", err)
	}

	items := make([]Item, 0, len(records))
	for _, rec := range records {
		if item, ok := decodeItem(rec); ok {
			items = append(items, item)
		}
	}
	sortByTimestampDesc(items)

	result := &ArchiveResult{}
	toArchive := make([]Item, 0)
	for i, item := range items {
		if i < s.retainFloor {
			continue
		}
		if item.Timestamp >= cutoff.Unix() {
			continue
		}
		toArchive = append(toArchive, item)
	}

	result.Kept = len(items) - len(toArchive)
	result.Archived = len(toArchive)
	for _, item := range toArchive {
		result.BytesSaved += int64(len(item.Raw))
		if result.Oldest == 0 || item.Timestamp < result.Oldest {
			result.Oldest = item.Timestamp
		}
		if item.Timestamp > result.Newest {
			result.Newest = item.Timestamp
		}
	}

	if dryRun || len(toArchive) == 0 {
		return result, nil
	}

	archiveStore := archiveSuffix(store)
	err = s.coordinator.Run(ctx, s.resources, func(tx *txn.Context) error {
		for _, item := range toArchive {
			if err := tx.Put(archiveStore, item.Key, item.Raw); err != nil {
				return err
			}
			if err := tx.Delete(store, item.Key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindArchiveIntegrity, "archive move transaction failed", err)
	}

	s.logger.Info("archived old entries", "store", store, "archived", result.Archived, "kept", result.Kept)
	if s.publisher != nil {
		if perr := s.publisher.PublishQuotaCleaned(result.BytesSaved, result.Archived); perr != nil {
			s.logger.Warn("failed to publish quota cleaned event", "err", perr)
		}
	}
	return result, nil
}

// Restore moves archived items back into the live store. If after is
// non-nil, only items newer than it are restored. Validates every
// restore-candidate entry first: each must decode as an object with a
// parseable timestamp in [2000, current_year+1]; if more than 10% fail,
// the restore aborts without side effects.
func (s *Service) Restore(ctx context.Context, store string, after *time.Time, clearArchive bool) (*RestoreResult, error) {
	archiveStore := archiveSuffix(store)
	records, err := s.index.GetAll(ctx, archiveStore)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to read archive store", err)
	}

	candidates := make([]Item, 0, len(records))
	invalid := 0
	for _, rec := range records {
		var obj map[string]any
		if err := json.Unmarshal(rec.Value, &obj); err != nil {
			invalid++
			continue
		}
		ts, ok := extractTimestamp(obj)
		if !ok || !validTimestamp(ts) {
			invalid++
			continue
		}
		if after != nil && ts < after.Unix() {
			continue
		}
		candidates = append(candidates, Item{Key: rec.Key, Timestamp: ts, Raw: rec.Value})
	}

	if len(records) > 0 && float64(invalid)/float64(len(records)) > maxInvalidRatio {
		return nil, coreerrors.New(coreerrors.KindArchiveIntegrity, fmt.Sprintf("restore aborted: %d/%d archive entries failed integrity validation", invalid, len(records)))
	}

	err = s.coordinator.Run(ctx, s.resources, func(tx *txn.Context) error {
		for _, item := range candidates {
			if err := tx.Put(store, item.Key, item.Raw); err != nil {
				return err
			}
			if err := tx.Delete(archiveStore, item.Key); err != nil {
				return err
			}
		}
		if clearArchive {
			for _, rec := range records {
				if err := tx.Delete(archiveStore, rec.Key); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindArchiveIntegrity, "restore transaction failed", err)
	}

	remaining, err := s.index.Count(ctx, archiveStore)
	if err != nil {
		remaining = 0
	}

	var bytesRestored int64
	for _, item := range candidates {
		bytesRestored += int64(len(item.Raw))
	}

	s.logger.Info("restored archived entries", "store", store, "restored", len(candidates), "remaining", remaining, "filtered", invalid)
	if s.publisher != nil {
		if perr := s.publisher.PublishArchiveRestored(len(candidates), remaining, invalid, bytesRestored); perr != nil {
			s.logger.Warn("failed to publish archive restored event", "err", perr)
		}
	}
	return &RestoreResult{Restored: len(candidates), Remaining: remaining, FilteredCount: invalid, BytesRestored: bytesRestored}, nil
}

// Stats reports age-bucketed counts for a live/archive pair.
func (s *Service) Stats(ctx context.Context, store string) (*Stats, error) {
	liveRecords, err := s.index.GetAll(ctx, store)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to read live store", err)
	}
	archiveCount, err := s.index.Count(ctx, archiveSuffix(store))
	if err != nil {
		archiveCount = 0
	}

	stats := &Stats{LiveCount: len(liveRecords), ArchiveCount: archiveCount, AgeBuckets: map[string]int{"0-7d": 0, "7-30d": 0, "30d+": 0}}
	now := time.Now().Unix()
	for _, rec := range liveRecords {
		item, ok := decodeItem(rec)
		if !ok {
			continue
		}
		if stats.OldestLive == 0 || item.Timestamp < stats.OldestLive {
			stats.OldestLive = item.Timestamp
		}
		if item.Timestamp > stats.NewestLive {
			stats.NewestLive = item.Timestamp
		}

		ageDays := float64(now-item.Timestamp) / 86400
		switch {
		case ageDays <= 7:
			stats.AgeBuckets["0-7d"]++
		case ageDays <= 30:
			stats.AgeBuckets["7-30d"]++
		default:
			stats.AgeBuckets["30d+"]++
		}
	}
	return stats, nil
}

// Clear deletes every item in the live store's archive bucket.
func (s *Service) Clear(ctx context.Context, store string) (*ClearResult, error) {
	archiveStore := archiveSuffix(store)
	count, err := s.index.Count(ctx, archiveStore)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to count archive store", err)
	}
	if err := s.index.Clear(ctx, archiveStore); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to clear archive store", err)
	}
	return &ClearResult{Deleted: count}, nil
}

func sortByTimestampDesc(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp > items[j].Timestamp })
}
