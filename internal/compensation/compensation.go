// Package compensation implements CompensationLogger (C4): an append-only
// record of failed rollbacks, written to the most durable tier available
// (indexed store, then sync kv, then an in-process ring buffer).
package compensation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
	"github.com/vitaliisemenov/storagecore/internal/indexstore"
	"github.com/vitaliisemenov/storagecore/internal/synckv"
)

const (
	bucketName  = "COMPENSATION_LOG"
	syncKVList  = "compensation:log"
	ringBufSize = 500

	TierIndexed = "indexed"
	TierSyncKV  = "sync_kv"
	TierMemory  = "memory"
)

// Entry is a single compensation record: the operations a failed rollback
// left in an inconsistent state, tagged with the storage tier it landed on.
type Entry struct {
	TransactionID string   `json:"transaction_id"`
	Operations    []string `json:"operations"`
	Tier          string   `json:"tier"`
	LoggedAt      int64    `json:"logged_at"`
}

// Logger is C4's CompensationLogger.
type Logger struct {
	index  *indexstore.Store
	sync   *synckv.Store
	logger *slog.Logger

	ring *ringBuffer
}

// New creates a Logger. index and sync may be nil (e.g. during
// unit tests exercising the memory fallback directly); a nil index
// falls through immediately to sync, and a nil sync falls through to
// memory.
func New(index *indexstore.Store, sync *synckv.Store, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		index:  index,
		sync:   sync,
		logger: logger.With("component", "compensation_logger"),
		ring:   newRingBuffer(ringBufSize),
	}
}

// LogCompensation records a failed rollback's operations. It is only ever
// called on the rollback-failure path of C6 — successful rollbacks are
// never logged here.
func (l *Logger) LogCompensation(ctx context.Context, transactionID string, operations []string) error {
	entry := Entry{
		TransactionID: transactionID,
		Operations:    operations,
		LoggedAt:      time.Now().UnixMilli(),
	}

	if l.index != nil {
		entry.Tier = TierIndexed
		if err := l.writeIndexed(ctx, entry); err == nil {
			return nil
		} else {
			l.logger.Warn("compensation log indexed write failed, falling back to sync kv", "err", err, "transaction_id", transactionID)
		}
	}

	if l.sync != nil {
		entry.Tier = TierSyncKV
		if err := l.writeSyncKV(ctx, entry); err == nil {
			return nil
		}
		l.logger.Warn("compensation log sync kv write failed, falling back to memory", "transaction_id", transactionID)
	}

	entry.Tier = TierMemory
	l.ring.push(entry)
	l.logger.Warn("compensation log fell back to in-memory ring buffer", "transaction_id", transactionID)
	return nil
}

func (l *Logger) writeIndexed(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := entry.TransactionID + ":" + time.Now().Format(time.RFC3339Nano)
	return l.index.Put(ctx, bucketName, key, raw)
}

func (l *Logger) writeSyncKV(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.sync.Client().RPush(ctx, syncKVList, raw).Err()
}

// GetAllLogs returns every recorded compensation entry across all three
// tiers: indexed entries in key order (transaction id, then write time),
// then the sync-kv list and the in-memory ring, oldest first.
func (l *Logger) GetAllLogs(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	if l.index != nil {
		records, err := l.index.GetAll(ctx, bucketName)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			var e Entry
			if json.Unmarshal(r.Value, &e) == nil {
				entries = append(entries, e)
			}
		}
	}

	if l.sync != nil {
		raw, err := l.sync.Client().LRange(ctx, syncKVList, 0, -1).Result()
		if err != nil && err != redis.Nil {
			return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to read sync kv compensation log", err)
		}
		for _, item := range raw {
			var e Entry
			if json.Unmarshal([]byte(item), &e) == nil {
				entries = append(entries, e)
			}
		}
	}

	entries = append(entries, l.ring.all()...)
	return entries, nil
}

// ringBuffer is a bounded, append-only in-process fallback — the last
// tier, with no backend to fail.
type ringBuffer struct {
	items    []Entry
	capacity int
	next     int
	full     bool
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{items: make([]Entry, capacity), capacity: capacity}
}

func (r *ringBuffer) push(e Entry) {
	r.items[r.next] = e
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

func (r *ringBuffer) all() []Entry {
	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.items[:r.next])
		return out
	}
	out := make([]Entry, 0, r.capacity)
	out = append(out, r.items[r.next:]...)
	out = append(out, r.items[:r.next]...)
	return out
}
