package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

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
)

// Deps holds every collaborator the build step assembles; CLI is a thin
// command-dispatch layer over it, mirroring the teacher's migrations CLI
// wrapping a MigrationManager/BackupManager/HealthChecker trio.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	Index *indexstore.Store
	Sync  *synckv.Store

	Bus       *realtime.DefaultEventBus
	Publisher *realtime.EventPublisher

	Quota    *quota.Manager
	Locks    *lock.PriorityLockManager
	Comp     *compensation.Logger
	Keys     *keymanager.Manager
	Enc      *encryption.Service
	Core     *txstate.CoreContext
	Registry *prometheus.Registry

	Coordinator *txn.Coordinator
	Resource    txn.Resource
	Archive     *archive.Service
	Recovery    *recovery.Engine
	Security    *security.Coordinator
}

// CLI is storagectl's command-line interface.
type CLI struct {
	deps *Deps
}

// NewCLI builds a CLI over already-wired deps.
func NewCLI(deps *Deps) *CLI {
	return &CLI{deps: deps}
}

// Execute runs the root command against os.Args.
func (cli *CLI) Execute() error {
	return cli.GetRootCommand().Execute()
}

// GetRootCommand returns the root cobra command with every subcommand
// attached.
func (cli *CLI) GetRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "storagectl",
		Short: "Operate the client-side transactional storage substrate",
		Long:  "storagectl inspects and recovers the storage substrate's index store, quota ledger, locks, and transaction journal from the command line.",
	}

	root.AddCommand(
		cli.statusCommand(),
		cli.recoverCommand(),
		cli.clearFatalCommand(),
		cli.watchCommand(),
	)

	return root
}

func (cli *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show quota, fatal-state, and security coordinator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			qs := cli.deps.Quota.CheckNow(ctx, 0)
			fmt.Printf("quota: tier=%s used=%d quota=%d effective_pct=%.2f%% blocked=%v\n",
				qs.Tier, qs.UsedBytes, qs.QuotaBytes, qs.EffectivePct*100, qs.IsBlocked)

			snap := cli.deps.Core.FatalState.Snapshot()
			if snap.Active {
				fmt.Printf("fatal state: ACTIVE reason=%q tx=%s compensations=%d\n",
					snap.Reason, snap.TransactionID, snap.CompensationCount)
			} else {
				fmt.Println("fatal state: clear")
			}

			if cli.deps.Security.IsReady() || cli.deps.Security.IsDegraded() || cli.deps.Security.IsFailed() {
				fmt.Printf("security: %s can_encrypt=%v\n", securityState(cli.deps.Security), cli.deps.Security.CanEncrypt())
			} else {
				fmt.Println("security: not started")
			}

			return nil
		},
	}
}

func securityState(c *security.Coordinator) string {
	switch {
	case c.IsReady():
		return "ready"
	case c.IsDegraded():
		return "degraded"
	case c.IsFailed():
		return "failed"
	default:
		return "not_started"
	}
}

func (cli *CLI) recoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Redrive any transaction left pending by a prior crash",
		Long:  "Reads every leftover journal entry and has each resource re-drive its commit or discard its tentative writes before returning.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if err := cli.deps.Coordinator.Recover(ctx, []txn.Resource{cli.deps.Resource}); err != nil {
				return fmt.Errorf("recovery failed: %w", err)
			}
			fmt.Println("recovery complete")
			return nil
		},
	}
}

func (cli *CLI) clearFatalCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "clear-fatal",
		Short: "Clear the fatal-state flag after manual remediation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				reason = "operator cleared via storagectl"
			}
			cli.deps.Core.FatalState.ClearFatalState(reason)
			fmt.Println("fatal state cleared")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded for the clear")
	return cmd
}

func (cli *CLI) watchCommand() *cobra.Command {
	var serve bool
	var addr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print substrate lifecycle events as they happen",
		Long:  "Subscribes to the event bus and prints every transaction/quota/lock/recovery/security event until interrupted. With --serve, also exposes a /ws endpoint for remote watchers and, if metrics are enabled, /metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub := newStdoutSubscriber()
			if err := cli.deps.Bus.Subscribe(sub); err != nil {
				return fmt.Errorf("subscribing stdout watcher: %w", err)
			}
			defer cli.deps.Bus.Unsubscribe(sub)

			var server *http.Server
			if serve {
				mux := http.NewServeMux()
				mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
					realtime.ServeWebSocket(cli.deps.Bus, cli.deps.Logger, w, r)
				})
				if cli.deps.Config.Metrics.Enabled {
					mux.Handle(cli.deps.Config.Metrics.Path, promhttp.HandlerFor(cli.deps.Registry, promhttp.HandlerOpts{}))
				}
				server = &http.Server{Addr: addr, Handler: mux}
				go func() {
					cli.deps.Logger.Info("watch server listening", "addr", addr)
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						cli.deps.Logger.Error("watch server failed", "err", err)
					}
				}()
			}

			<-ctx.Done()
			fmt.Println("\nstopping watch")

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "also serve a /ws endpoint for remote watchers")
	cmd.Flags().StringVar(&addr, "addr", ":8090", "address the --serve HTTP server listens on")
	return cmd
}

// stdoutSubscriber prints every event it receives, for the watch
// subcommand's default (non-websocket) output.
type stdoutSubscriber struct {
	id  string
	ctx context.Context
}

func newStdoutSubscriber() *stdoutSubscriber {
	return &stdoutSubscriber{id: "storagectl-watch", ctx: context.Background()}
}

func (s *stdoutSubscriber) ID() string { return s.id }

func (s *stdoutSubscriber) Send(event realtime.Event) error {
	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		keys = append(keys, k)
	}
	fmt.Printf("[%s] %s source=%s data_keys=%s\n",
		event.Timestamp.Format(time.RFC3339), event.Type, event.Source, strings.Join(keys, ","))
	return nil
}

func (s *stdoutSubscriber) Close() error { return nil }

func (s *stdoutSubscriber) Context() context.Context { return s.ctx }
