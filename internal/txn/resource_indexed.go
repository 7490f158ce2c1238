package txn

import (
	"context"
	"fmt"
	"strings"

	"github.com/vitaliisemenov/storagecore/internal/indexstore"
)

// tentativeBucket holds durable-but-not-yet-visible writes queued by
// IndexedResource, keyed "<txID>|<sequence>" so GetAll can recover every
// operation belonging to one transaction id.
const tentativeBucket = "INDEXED_RESOURCE_TENTATIVE"

type tentativeOp struct {
	Store string        `json:"store"`
	Key   string        `json:"key"`
	Type  OperationType `json:"type"`
	Value []byte        `json:"value,omitempty"`
}

// IndexedResource is the default Resource wired against the indexed store:
// it is what a transaction's "backend = indexed" operations target unless
// the caller supplies its own Resource.
type IndexedResource struct {
	store *indexstore.Store
}

// NewIndexedResource wraps store as a transaction Resource.
func NewIndexedResource(store *indexstore.Store) *IndexedResource {
	return &IndexedResource{store: store}
}

// Prepare makes every indexed-backend operation durable-but-tentative by
// writing it into the shadow tentative bucket instead of its live store.
func (r *IndexedResource) Prepare(ctx context.Context, txCtx *Context) error {
	for i, op := range txCtx.Operations() {
		if op.Backend != BackendIndexed {
			continue
		}
		data, err := indexstore.MarshalJSON(tentativeOp{Store: op.Store, Key: op.Key, Type: op.Type, Value: op.Value})
		if err != nil {
			return err
		}
		tentativeKey := fmt.Sprintf("%s|%d", txCtx.ID, i)
		if err := r.store.Put(ctx, tentativeBucket, tentativeKey, data); err != nil {
			return err
		}
	}
	return nil
}

// Commit applies every tentative write to its live store, then discards the
// tentative entries.
func (r *IndexedResource) Commit(ctx context.Context, txCtx *Context) error {
	return r.applyAndDiscard(ctx, txCtx.ID)
}

// Rollback discards tentative state without ever touching the live store.
func (r *IndexedResource) Rollback(ctx context.Context, txCtx *Context) error {
	return r.discard(ctx, txCtx.ID)
}

// Recover re-derives commit or discard for a leftover transaction: if the
// journal record still exists the resource believes commit should be
// re-driven, so it applies the tentative writes; otherwise it discards them.
func (r *IndexedResource) Recover(ctx context.Context, isTxPrepared func(txID string) bool, txID string) (bool, error) {
	if isTxPrepared(txID) {
		if err := r.applyAndDiscard(ctx, txID); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, r.discard(ctx, txID)
}

func (r *IndexedResource) applyAndDiscard(ctx context.Context, txID string) error {
	records, err := r.store.GetAll(ctx, tentativeBucket)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if !strings.HasPrefix(rec.Key, txID+"|") {
			continue
		}
		var op tentativeOp
		if err := indexstore.UnmarshalJSON(rec.Value, &op); err != nil {
			return err
		}
		switch op.Type {
		case OpPut:
			if err := r.store.Put(ctx, op.Store, op.Key, op.Value); err != nil {
				return err
			}
		case OpDelete:
			if err := r.store.Delete(ctx, op.Store, op.Key); err != nil {
				return err
			}
		}
		if err := r.store.Delete(ctx, tentativeBucket, rec.Key); err != nil {
			return err
		}
	}
	return nil
}

func (r *IndexedResource) discard(ctx context.Context, txID string) error {
	records, err := r.store.GetAll(ctx, tentativeBucket)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if !strings.HasPrefix(rec.Key, txID+"|") {
			continue
		}
		if err := r.store.Delete(ctx, tentativeBucket, rec.Key); err != nil {
			return err
		}
	}
	return nil
}
