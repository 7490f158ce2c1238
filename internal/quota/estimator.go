package quota

import "context"

// IndexStoreSizer is the subset of internal/indexstore.Store CombinedEstimator
// needs: the bbolt file's on-disk size.
type IndexStoreSizer interface {
	FileSize() (int64, error)
}

// CombinedEstimator reports the indexed store's file size against a fixed
// quota ceiling. It's the default Estimator wired by cmd/storagectl.
type CombinedEstimator struct {
	store      IndexStoreSizer
	quotaBytes int64
}

// NewCombinedEstimator creates an Estimator backed by an indexed store's
// file size, measured against a fixed quota ceiling.
func NewCombinedEstimator(store IndexStoreSizer, quotaBytes int64) *CombinedEstimator {
	return &CombinedEstimator{store: store, quotaBytes: quotaBytes}
}

func (e *CombinedEstimator) Estimate(_ context.Context) (usedBytes, quotaBytes int64, err error) {
	size, err := e.store.FileSize()
	if err != nil {
		return 0, 0, err
	}
	return size, e.quotaBytes, nil
}
