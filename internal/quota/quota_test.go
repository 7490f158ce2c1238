package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEstimator struct {
	used, quota int64
	err         error
}

func (f *fakeEstimator) Estimate(_ context.Context) (int64, int64, error) {
	return f.used, f.quota, f.err
}

func TestManager_CheckNowClassifiesNormalTier(t *testing.T) {
	m := New(&fakeEstimator{used: 10, quota: 100}, nil, DefaultConfig(), nil)
	status := m.CheckNow(context.Background(), 0)
	assert.Equal(t, TierNormal, status.Tier)
	assert.False(t, status.IsBlocked)
}

func TestManager_CheckNowClassifiesWarningTier(t *testing.T) {
	m := New(&fakeEstimator{used: 85, quota: 100}, nil, DefaultConfig(), nil)
	status := m.CheckNow(context.Background(), 0)
	assert.Equal(t, TierWarning, status.Tier)
}

func TestManager_CheckNowClassifiesCriticalTier(t *testing.T) {
	m := New(&fakeEstimator{used: 96, quota: 100}, nil, DefaultConfig(), nil)
	status := m.CheckNow(context.Background(), 0)
	assert.Equal(t, TierCritical, status.Tier)
	assert.True(t, status.IsBlocked)
}

func TestManager_CheckNowFallsBackOnEstimateError(t *testing.T) {
	m := New(&fakeEstimator{err: errors.New("disk unavailable")}, nil, Config{FallbackQuota: 1000}, nil)
	status := m.CheckNow(context.Background(), 0)
	assert.Equal(t, int64(1000), status.QuotaBytes)
	assert.Equal(t, TierNormal, status.Tier)
}

func TestManager_CheckWriteFitsCreatesReservation(t *testing.T) {
	m := New(&fakeEstimator{used: 10, quota: 100}, nil, DefaultConfig(), nil)
	fits, _, id, ok := m.CheckWriteFits(context.Background(), 20)
	assert.True(t, fits)
	assert.True(t, ok)
	assert.NotZero(t, id)

	status := m.CheckNow(context.Background(), 0)
	assert.Equal(t, int64(20), status.ReservedBytes)
}

func TestManager_CheckWriteFitsRejectsWhenCritical(t *testing.T) {
	m := New(&fakeEstimator{used: 96, quota: 100}, nil, DefaultConfig(), nil)
	fits, _, _, ok := m.CheckWriteFits(context.Background(), 1)
	assert.False(t, fits)
	assert.False(t, ok)
}

func TestManager_CheckWriteFitsRejectsWhenExceedsAvailable(t *testing.T) {
	m := New(&fakeEstimator{used: 10, quota: 100}, nil, DefaultConfig(), nil)
	fits, _, _, ok := m.CheckWriteFits(context.Background(), 1000)
	assert.False(t, fits)
	assert.False(t, ok)
}

func TestManager_ReleaseReservationRemovesIt(t *testing.T) {
	m := New(&fakeEstimator{used: 10, quota: 100}, nil, DefaultConfig(), nil)
	id := m.CreateReservation(20)
	m.ReleaseReservation(id)

	status := m.CheckNow(context.Background(), 0)
	assert.Equal(t, int64(0), status.ReservedBytes)
}

func TestManager_ReservationIDsAreMonotonic(t *testing.T) {
	m := New(&fakeEstimator{used: 10, quota: 100}, nil, DefaultConfig(), nil)
	first := m.CreateReservation(1)
	second := m.CreateReservation(1)
	assert.Greater(t, second, first)
}

func TestManager_SetThresholdsRejectInvertedValues(t *testing.T) {
	m := New(&fakeEstimator{used: 10, quota: 100}, nil, DefaultConfig(), nil)
	assert.False(t, m.SetWarningThreshold(0.99))
	assert.False(t, m.SetCriticalThreshold(0.10))
	assert.True(t, m.SetWarningThreshold(0.5))
	assert.True(t, m.SetCriticalThreshold(0.9))
}

func TestManager_CheckNowIsIdempotentWithinACycle(t *testing.T) {
	m := New(&fakeEstimator{used: 50, quota: 100}, nil, DefaultConfig(), nil)
	first := m.CheckNow(context.Background(), 0)
	second := m.CheckNow(context.Background(), 0)
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.EffectivePct, second.EffectivePct)
}
