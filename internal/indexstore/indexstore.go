// Package indexstore implements the indexed record store spec.md §6
// requires: one bucket per named store, record-level get/put/delete/
// get_all/clear, backed by go.etcd.io/bbolt instead of a browser's
// IndexedDB object stores.
package indexstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.etcd.io/bbolt"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
)

// hotKeyCacheSize bounds the L1 read-through cache in front of bbolt,
// grounded on the teacher's template cache's 1000-entry L1 tier.
const hotKeyCacheSize = 1000

// Record is a single stored item: an opaque JSON value plus the key it's
// addressed by. CreatedAt isn't part of the record value — callers that
// need item age (ArchiveService) keep a timestamp field inside Value.
type Record struct {
	Key   string
	Value []byte
}

// Store is a bbolt-backed collection of named record sets ("stores" in
// IndexedDB terms), each mapped onto its own bucket, fronted by a small
// read-through LRU cache over hot keys.
type Store struct {
	db   *bbolt.DB
	path string

	hot *lru.Cache[string, []byte]
}

// Open creates (or reuses) the bbolt file at path. Parent directories are
// created with mode 0700, the file itself with mode 0600, matching the
// teacher's SQLite storage file permissions.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, coreerrors.New(coreerrors.KindWriteBlocked, "indexstore path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, coreerrors.New(coreerrors.KindWriteBlocked, "indexstore path must not contain '..'")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to create indexstore directory", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to open indexstore file", err)
	}

	hot, err := lru.New[string, []byte](hotKeyCacheSize)
	if err != nil {
		db.Close()
		return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to build hot-key cache", err)
	}

	return &Store{db: db, path: path, hot: hot}, nil
}

func cacheKey(store, key string) string { return store + "\x00" + key }

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func bucketName(store string) []byte { return []byte(store) }

// Put writes value under key in the named store, creating the store's
// bucket on first use.
func (s *Store) Put(ctx context.Context, store, key string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(store))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return err
	}
	s.hot.Add(cacheKey(store, key), append([]byte(nil), value...))
	return nil
}

// PutString is a convenience wrapper for callers that persist JSON/base64
// text rather than raw bytes (every C2 envelope call site does).
func (s *Store) PutString(ctx context.Context, store, key, value string) error {
	return s.Put(ctx, store, key, []byte(value))
}

// Get reads the value at key in the named store, serving from the hot-key
// cache when present. Returns (nil, false, nil) if the store or key
// doesn't exist.
func (s *Store) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	if cached, ok := s.hot.Get(cacheKey(store, key)); ok {
		return append([]byte(nil), cached...), true, nil
	}

	var value []byte
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(store))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		value = append([]byte(nil), v...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, coreerrors.Wrap(coreerrors.KindWriteBlocked, "indexstore get failed", err).WithContext("store", store).WithContext("key", key)
	}
	if found {
		s.hot.Add(cacheKey(store, key), append([]byte(nil), value...))
	}
	return value, found, nil
}

// Delete removes key from the named store. Deleting an absent key or from
// a nonexistent store is not an error.
func (s *Store) Delete(ctx context.Context, store, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(store))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindWriteBlocked, "indexstore delete failed", err).WithContext("store", store).WithContext("key", key)
	}
	s.hot.Remove(cacheKey(store, key))
	return nil
}

// GetAll returns every record in the named store, in bbolt's key-sorted
// order. An absent store returns an empty slice, not an error.
func (s *Store) GetAll(ctx context.Context, store string) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(store))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			records = append(records, Record{Key: string(k), Value: append([]byte(nil), v...)})
			return nil
		})
	})
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindWriteBlocked, "indexstore get_all failed", err).WithContext("store", store)
	}
	return records, nil
}

// Clear removes every record from the named store, leaving the (empty)
// bucket in place for subsequent writes. Purges the whole hot-key cache
// rather than hunting down this store's entries individually — Clear is
// rare enough that the blanket invalidation is not worth a prefix index.
func (s *Store) Clear(ctx context.Context, store string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName(store)); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketName(store))
		return err
	})
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindWriteBlocked, "indexstore clear failed", err).WithContext("store", store)
	}
	s.hot.Purge()
	return nil
}

// Count reports the number of records in the named store, used by
// ArchiveService.
func (s *Store) Count(ctx context.Context, store string) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(store))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.KindWriteBlocked, "indexstore count failed", err).WithContext("store", store)
	}
	return n, nil
}

// FileSize reports the on-disk size of the bbolt file backing this store,
// the raw host estimate QuotaManager polls.
func (s *Store) FileSize() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.KindWriteBlocked, "failed to stat indexstore file", err)
	}
	return info.Size(), nil
}

// MarshalJSON is a convenience used by callers storing typed values.
func MarshalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("indexstore: marshal: %w", err)
	}
	return raw, nil
}

// UnmarshalJSON is the counterpart to MarshalJSON for callers reading typed
// values back out of a record.
func UnmarshalJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("indexstore: unmarshal: %w", err)
	}
	return nil
}
