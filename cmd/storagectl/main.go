// Package main wires up storagectl, the operator CLI over the storage
// substrate: one process that opens the same stores, locks, and
// coordinators an embedding application would, and exposes their
// status/recovery/live-event surfaces from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitaliisemenov/storagecore/internal/archive"
	"github.com/vitaliisemenov/storagecore/internal/compensation"
	"github.com/vitaliisemenov/storagecore/internal/config"
	"github.com/vitaliisemenov/storagecore/internal/encryption"
	"github.com/vitaliisemenov/storagecore/internal/indexstore"
	"github.com/vitaliisemenov/storagecore/internal/keymanager"
	"github.com/vitaliisemenov/storagecore/internal/lock"
	"github.com/vitaliisemenov/storagecore/internal/quota"
	"github.com/vitaliisemenov/storagecore/internal/realtime"
	"github.com/vitaliisemenov/storagecore/internal/recovery"
	"github.com/vitaliisemenov/storagecore/internal/security"
	"github.com/vitaliisemenov/storagecore/internal/synckv"
	"github.com/vitaliisemenov/storagecore/internal/txn"
	"github.com/vitaliisemenov/storagecore/internal/txstate"
	"github.com/vitaliisemenov/storagecore/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, defaults apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storagectl: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Log.ToLoggerConfig())

	cli, closeFn, err := build(cfg, log)
	if err != nil {
		log.Error("failed to build storage substrate", "err", err)
		os.Exit(1)
	}
	defer closeFn()

	if err := cli.Execute(); err != nil {
		log.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// build assembles every C1-C10 collaborator the way an embedding
// application would, sharing one Redis connection between the sync-kv
// store and the priority lock manager.
func build(cfg *config.Config, log *slog.Logger) (*CLI, func(), error) {
	index, err := indexstore.Open(cfg.Storage.FilesystemPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening index store: %w", err)
	}

	kv, err := synckv.New(cfg.SyncKV.ToSynckvConfig(), log)
	if err != nil {
		index.Close()
		return nil, nil, fmt.Errorf("connecting sync kv store: %w", err)
	}

	registry := prometheus.NewRegistry()
	realtimeMetrics := realtime.NewRealtimeMetrics(registry)
	bus := realtime.NewEventBus(log, realtimeMetrics)
	publisher := realtime.NewEventPublisher(bus, log, realtimeMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	if err := bus.Start(ctx); err != nil {
		cancel()
		kv.Close()
		index.Close()
		return nil, nil, fmt.Errorf("starting event bus: %w", err)
	}

	quotaCfg := cfg.Quota.ToQuotaConfig()
	estimator := quota.NewCombinedEstimator(index, quotaCfg.FallbackQuota)
	quotaManager := quota.New(estimator, publisher, quotaCfg, log)
	quotaManager.AttachMetrics(quota.NewMetrics(registry))
	quotaManager.StartPolling(ctx)

	locks := lock.NewPriorityLockManager(kv.Client(), cfg.Lock.ToLockConfig(), log)

	comp := compensation.New(index, kv, log)

	secureChecker := keymanager.StaticSecureContext(true)
	keys := keymanager.New(kv, secureChecker, log)
	enc := encryption.New(log)

	fatal := txstate.NewFatalState(publisher, log)
	nesting := txstate.NewNestedTransactionGuard(log)

	recoveryEngine := recovery.New(locks, publisher, recovery.NewMetrics(registry), log)
	router := realtime.NewTopicRouter()
	recoveryEngine.StartMonitoring(router.On)
	if err := bus.Subscribe(router); err != nil {
		cancel()
		kv.Close()
		index.Close()
		return nil, nil, fmt.Errorf("subscribing recovery monitor: %w", err)
	}

	core := txstate.New(fatal, nesting, recoveryEngine.State(), keys)

	coordinator := txn.New(index, comp, core, publisher, txn.NewMetrics(registry), log, nil)
	indexedResource := txn.NewIndexedResource(index)

	archiveService := archive.New(index, coordinator, []txn.Resource{indexedResource}, publisher, log)

	securityCoordinator := security.New(keys, enc, secureChecker, nil, nil, nil, publisher, log)

	cli := NewCLI(&Deps{
		Config:      cfg,
		Logger:      log,
		Index:       index,
		Sync:        kv,
		Bus:         bus,
		Publisher:   publisher,
		Quota:       quotaManager,
		Locks:       locks,
		Comp:        comp,
		Keys:        keys,
		Enc:         enc,
		Core:        core,
		Coordinator: coordinator,
		Resource:    indexedResource,
		Archive:     archiveService,
		Recovery:    recoveryEngine,
		Security:    securityCoordinator,
		Registry:    registry,
	})

	closeFn := func() {
		quotaManager.Stop()
		_ = bus.Stop(context.Background())
		cancel()
		_ = kv.Close()
		_ = index.Close()
	}

	return cli, closeFn, nil
}
