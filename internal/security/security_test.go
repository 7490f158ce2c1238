package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/storagecore/internal/encryption"
	"github.com/vitaliisemenov/storagecore/internal/keymanager"
	"github.com/vitaliisemenov/storagecore/internal/synckv"
)

func setupCoordinator(t *testing.T) (*Coordinator, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := synckv.New(&synckv.Config{
		Addr:         mr.Addr(),
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     5,
	}, nil)
	require.NoError(t, err)

	keys := keymanager.New(store, keymanager.StaticSecureContext(true), nil)
	enc := encryption.New(nil)

	cleanup := func() {
		_ = store.Close()
		mr.Close()
	}
	return New(keys, enc, keymanager.StaticSecureContext(true), nil, nil, nil, nil, nil), cleanup
}

func testFingerprint() keymanager.Fingerprint {
	return keymanager.Fingerprint{UserAgent: "go-test", Language: "en-US", HardwareConcurrency: 4, Origin: "https://example.test"}
}

func TestCoordinator_InitReachesReadyWhenEveryStepSucceeds(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()

	report := c.Init(context.Background(), Options{Password: "correct horse battery", Fingerprint: testFingerprint(), RequireSecureContext: true})
	assert.Equal(t, StateReady, report.State)
	assert.Empty(t, report.Warnings)
	assert.True(t, c.IsReady())
	assert.True(t, c.CanEncrypt())
}

func TestCoordinator_SecureContextFailureIsFatalWhenRequired(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()
	c.secure = keymanager.StaticSecureContext(false)

	report := c.Init(context.Background(), Options{Password: "correct horse battery", RequireSecureContext: true})
	assert.Equal(t, StateFailed, report.State)
	assert.True(t, c.IsFailed())
	assert.False(t, c.CanEncrypt())
}

func TestCoordinator_SecureContextFailureIgnoredWhenNotRequired(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()
	c.secure = keymanager.StaticSecureContext(false)

	report := c.Init(context.Background(), Options{Password: "correct horse battery", Fingerprint: testFingerprint(), RequireSecureContext: false})
	assert.Equal(t, StateReady, report.State)
}

func TestCoordinator_WeakPasswordDegradesRatherThanFails(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()

	report := c.Init(context.Background(), Options{Password: "short", Fingerprint: testFingerprint(), RequireSecureContext: true})
	assert.Equal(t, StateDegraded, report.State)
	assert.Len(t, report.Warnings, 1)
	assert.False(t, c.CanEncrypt())
}

func TestCoordinator_InitIsIdempotent(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()

	first := c.Init(context.Background(), Options{Password: "correct horse battery", Fingerprint: testFingerprint(), RequireSecureContext: true})
	second := c.Init(context.Background(), Options{Password: "a different password entirely"})
	assert.Equal(t, first, second)
}

func TestCoordinator_OnReadyFiresImmediatelyAfterInit(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()
	c.Init(context.Background(), Options{Password: "correct horse battery", Fingerprint: testFingerprint(), RequireSecureContext: true})

	var got Report
	c.OnReady(func(r Report) { got = r })
	assert.Equal(t, StateReady, got.State)
}

func TestCoordinator_OnReadyCallbackCanReentrantlySubscribeWithoutDeadlock(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()

	calls := 0
	c.OnReady(func(r Report) {
		calls++
		c.OnReady(func(r Report) { calls++ })
	})
	c.Init(context.Background(), Options{Password: "correct horse battery", Fingerprint: testFingerprint(), RequireSecureContext: true})
	// The outer callback runs once from the dispatch snapshot; the inner one
	// is registered while already Ready, so OnReady runs it immediately.
	assert.Equal(t, 2, calls)
}

func TestCoordinator_OnFailureFiresOnlyOnFailedState(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()
	c.secure = keymanager.StaticSecureContext(false)

	fired := false
	c.OnFailure(func(r Report) { fired = true })
	c.Init(context.Background(), Options{Password: "correct horse battery", RequireSecureContext: true})
	assert.True(t, fired)
}

func TestCoordinator_WaitForReadyReturnsImmediatelyOnceTerminal(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()
	c.Init(context.Background(), Options{Password: "correct horse battery", Fingerprint: testFingerprint(), RequireSecureContext: true})

	err := c.WaitForReady(context.Background(), time.Millisecond)
	require.NoError(t, err)
}

func TestCoordinator_WaitForReadyTimesOutBeforeInit(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()

	err := c.WaitForReady(context.Background(), 10*time.Millisecond)
	require.Error(t, err)
}

func TestCoordinator_WaitForReadyUnblocksWhenInitCompletesConcurrently(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()

	done := make(chan error, 1)
	go func() {
		done <- c.WaitForReady(context.Background(), time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	c.Init(context.Background(), Options{Password: "correct horse battery", Fingerprint: testFingerprint(), RequireSecureContext: true})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForReady did not unblock after Init completed")
	}
}

type failingBinding struct{}

func (failingBinding) CheckBinding(ctx context.Context) error { return errors.New("token not bound to device") }

func TestCoordinator_TokenBindingFailureDegrades(t *testing.T) {
	c, cleanup := setupCoordinator(t)
	defer cleanup()
	c.binding = failingBinding{}

	report := c.Init(context.Background(), Options{Password: "correct horse battery", Fingerprint: testFingerprint(), RequireSecureContext: true})
	assert.Equal(t, StateDegraded, report.State)
	assert.Contains(t, report.Warnings[0], "token_binding")
}
