// Package txn implements TwoPhaseCommitCoordinator (C6): atomic multi-key
// writes across heterogeneous backends using a prepare/decide/commit
// pipeline with a durable recovery journal, modeled on the reload
// coordinator's phase-by-phase orchestration with rollback-on-failure.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/vitaliisemenov/storagecore/internal/core/errors"
	"github.com/vitaliisemenov/storagecore/internal/compensation"
	"github.com/vitaliisemenov/storagecore/internal/indexstore"
	"github.com/vitaliisemenov/storagecore/internal/realtime"
	"github.com/vitaliisemenov/storagecore/internal/txstate"
)

// JournalBucket is the indexed-store namespace journal records live in.
// Ad-hoc writes to this bucket outside the coordinator are forbidden.
const JournalBucket = "TRANSACTION_JOURNAL"

const maxOperations = 100

// Backend names an operation's target. Only "indexed" is wired to a
// concrete Resource by default; callers may register others.
type Backend string

const BackendIndexed Backend = "indexed"

// OperationType is the kind of mutation an Operation represents.
type OperationType string

const (
	OpPut    OperationType = "put"
	OpDelete OperationType = "delete"
)

// Operation is one queued mutation. Immutable from the callback's
// perspective once Prepare has started.
type Operation struct {
	Backend       Backend
	Type          OperationType
	Store         string
	Key           string
	Value         []byte
	PreviousValue []byte
	Timestamp     int64
}

// Context accumulates operations for a single transaction before Execute
// runs the phase pipeline. Obtained from Coordinator.Begin or implicitly
// by Coordinator.Run.
type Context struct {
	ID         string
	operations []Operation
}

// Put queues a put operation, defaulting to the indexed backend.
func (c *Context) Put(store, key string, value []byte) error {
	return c.queue(Operation{Backend: BackendIndexed, Type: OpPut, Store: store, Key: key, Value: value})
}

// Delete queues a delete operation, defaulting to the indexed backend.
func (c *Context) Delete(store, key string) error {
	return c.queue(Operation{Backend: BackendIndexed, Type: OpDelete, Store: store, Key: key})
}

func (c *Context) queue(op Operation) error {
	if len(c.operations) >= maxOperations {
		return coreerrors.New(coreerrors.KindPrepareFailure, fmt.Sprintf("transaction exceeds the %d operation cap", maxOperations))
	}
	c.operations = append(c.operations, op)
	return nil
}

// Operations returns the queued operations in input order.
func (c *Context) Operations() []Operation {
	return c.operations
}

// Resource is a participant a transaction coordinates across. Each resource
// makes its own writes durable-but-tentative in Prepare, visible in Commit,
// and discards tentative state in Rollback. Recover is invoked at startup
// for any resource that had a leftover journal record: it returns true if
// the resource believes commit should be re-driven, false if it undid its
// tentative state itself.
type Resource interface {
	Prepare(ctx context.Context, txCtx *Context) error
	Commit(ctx context.Context, txCtx *Context) error
	Rollback(ctx context.Context, txCtx *Context) error
	Recover(ctx context.Context, isTxPrepared func(txID string) bool, txID string) (bool, error)
}

// journalRecord is the Decision-phase durability marker. Only "prepared"
// records exist; commit removes the record entirely.
type journalRecord struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	OperationCount int    `json:"operation_count"`
	StartedAt      int64  `json:"started_at"`
}

// Coordinator is C6's TwoPhaseCommitCoordinator.
type Coordinator struct {
	index       *indexstore.Store
	comp        *compensation.Logger
	core        *txstate.CoreContext
	publisher   *realtime.EventPublisher
	metrics     *Metrics
	logger      *slog.Logger
	idGenerator func() string
}

// New creates a Coordinator. idGenerator defaults to random UUIDs if nil;
// tests may override it for deterministic transaction ids.
func New(index *indexstore.Store, comp *compensation.Logger, core *txstate.CoreContext, publisher *realtime.EventPublisher, metrics *Metrics, logger *slog.Logger, idGenerator func() string) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if idGenerator == nil {
		idGenerator = defaultIDGenerator()
	}
	return &Coordinator{
		index:       index,
		comp:        comp,
		core:        core,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger.With("component", "two_phase_commit"),
		idGenerator: idGenerator,
	}
}

// defaultIDGenerator mints transaction ids the same way internal/realtime
// mints event ids: a random UUID per call.
func defaultIDGenerator() func() string {
	return func() string {
		return uuid.New().String()
	}
}

// Begin assigns a new transaction id and returns an empty operation
// context. Guard checks (fatal state, nesting) happen in Execute, not here,
// so a caller may populate operations before any state is touched.
func (c *Coordinator) Begin() *Context {
	return &Context{ID: c.idGenerator()}
}

// Run is the higher-level convenience API: it creates a context, invokes
// populate to queue operations, and executes against resources.
func (c *Coordinator) Run(ctx context.Context, resources []Resource, populate func(*Context) error) error {
	txCtx := c.Begin()
	if err := populate(txCtx); err != nil {
		return err
	}
	return c.Execute(ctx, txCtx, resources)
}

// Execute runs the Guard -> Prepare -> Decision -> Commit -> Cleanup
// pipeline for txCtx against resources, rolling back on any phase failure.
func (c *Coordinator) Execute(ctx context.Context, txCtx *Context, resources []Resource) error {
	start := time.Now()

	// Empty-transaction optimization: nothing queued, nothing to guard.
	if len(txCtx.operations) == 0 {
		c.observePhase("noop", time.Since(start))
		return nil
	}

	// Phase 1: Guard.
	if c.core != nil {
		if c.core.FatalState != nil && c.core.FatalState.IsFatalState() {
			return coreerrors.New(coreerrors.KindFatalState, "refusing transaction: fatal state is set")
		}
		if c.core.Nesting != nil {
			if !c.core.Nesting.Enter(txCtx.ID) {
				return coreerrors.New(coreerrors.KindNestedTransaction, "refusing nested transaction entry")
			}
			defer c.core.Nesting.Exit(txCtx.ID)
		}
	}

	c.logger.Info("transaction begin", "transaction_id", txCtx.ID, "operations", len(txCtx.operations))

	// Phase 2: Prepare.
	prepared := make([]Resource, 0, len(resources))
	phaseStart := time.Now()
	var prepareErr error
	for _, r := range resources {
		prepared = append(prepared, r)
		if err := r.Prepare(ctx, txCtx); err != nil {
			prepareErr = coreerrors.Wrap(coreerrors.KindPrepareFailure, "resource prepare failed", err)
			break
		}
	}
	c.observePhase("prepare", time.Since(phaseStart))
	if prepareErr != nil {
		return c.rollbackAndReport(ctx, txCtx, prepared, prepareErr, start)
	}

	// Phase 3: Decision.
	phaseStart = time.Now()
	if err := c.writeJournal(ctx, txCtx); err != nil {
		c.observePhase("decision", time.Since(phaseStart))
		return c.rollbackAndReport(ctx, txCtx, prepared, coreerrors.Wrap(coreerrors.KindJournalWriteFailure, "journal write failed", err), start)
	}
	c.observePhase("decision", time.Since(phaseStart))

	// Phase 4: Commit.
	phaseStart = time.Now()
	committed := make([]Resource, 0, len(resources))
	var commitErr error
	for _, r := range resources {
		if err := r.Commit(ctx, txCtx); err != nil {
			commitErr = coreerrors.Wrap(coreerrors.KindCommitFailure, "resource commit failed", err)
			break
		}
		committed = append(committed, r)
	}
	c.observePhase("commit", time.Since(phaseStart))
	if commitErr != nil {
		return c.rollbackAndReport(ctx, txCtx, prepared, commitErr, start)
	}

	// Phase 5: Cleanup. Failure here does not fail the transaction.
	if err := c.index.Delete(ctx, JournalBucket, txCtx.ID); err != nil {
		c.logger.Warn("journal cleanup failed, will reconcile on recovery", "transaction_id", txCtx.ID, "err", err)
	}

	c.logger.Info("transaction committed", "transaction_id", txCtx.ID, "duration_ms", time.Since(start).Milliseconds())
	if c.publisher != nil {
		keys := make([]string, 0, len(txCtx.operations))
		for _, op := range txCtx.operations {
			keys = append(keys, op.Key)
		}
		if err := c.publisher.PublishTransactionCommitted(txCtx.ID, keys); err != nil {
			c.logger.Warn("failed to publish transaction committed event", "err", err)
		}
	}
	return nil
}

func (c *Coordinator) writeJournal(ctx context.Context, txCtx *Context) error {
	rec := journalRecord{ID: txCtx.ID, Status: "prepared", OperationCount: len(txCtx.operations), StartedAt: time.Now().Unix()}
	data, err := indexstore.MarshalJSON(rec)
	if err != nil {
		return err
	}
	return c.index.Put(ctx, JournalBucket, txCtx.ID, data)
}

// rollbackAndReport rolls back every entered resource in reverse order. A
// rollback failure escalates to the compensation logger and fatal state.
func (c *Coordinator) rollbackAndReport(ctx context.Context, txCtx *Context, entered []Resource, cause error, start time.Time) error {
	for i := len(entered) - 1; i >= 0; i-- {
		if err := entered[i].Rollback(ctx, txCtx); err != nil {
			return c.escalateRollbackFailure(ctx, txCtx, cause, err)
		}
	}

	c.logger.Warn("transaction rolled back", "transaction_id", txCtx.ID, "cause", cause, "duration_ms", time.Since(start).Milliseconds())
	if c.publisher != nil {
		if perr := c.publisher.PublishTransactionRolledBack(txCtx.ID, cause.Error()); perr != nil {
			c.logger.Warn("failed to publish transaction rolled back event", "err", perr)
		}
	}
	return coreerrors.Wrap(coreerrors.KindRollbackFailure, "transaction rolled back", cause)
}

func (c *Coordinator) escalateRollbackFailure(ctx context.Context, txCtx *Context, cause, rollbackErr error) error {
	ops := make([]string, 0, len(txCtx.operations))
	for _, op := range txCtx.operations {
		ops = append(ops, fmt.Sprintf("%s:%s:%s", op.Type, op.Store, op.Key))
	}

	if c.comp != nil {
		if err := c.comp.LogCompensation(ctx, txCtx.ID, ops); err != nil {
			c.logger.Error("failed to log compensation entry", "transaction_id", txCtx.ID, "err", err)
		}
	}

	reason := fmt.Sprintf("rollback failed: %v (original cause: %v)", rollbackErr, cause)
	if c.core != nil && c.core.FatalState != nil {
		c.core.FatalState.EnterFatalState(reason, txCtx.ID, len(ops))
	}

	c.logger.Error("transaction entered fatal state", "transaction_id", txCtx.ID, "reason", reason)
	return coreerrors.Wrap(coreerrors.KindRollbackFailure, reason, cause)
}

// Recover runs startup recovery: for every leftover journal record, each
// resource's Recover is asked whether the record still represents an
// in-flight commit. After every resource has responded, the journal record
// is deleted.
func (c *Coordinator) Recover(ctx context.Context, resources []Resource) error {
	records, err := c.index.GetAll(ctx, JournalBucket)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindJournalWriteFailure, "failed to read transaction journal", err)
	}

	isPrepared := func(txID string) bool {
		_, found, _ := c.index.Get(ctx, JournalBucket, txID)
		return found
	}

	for _, rec := range records {
		txID := rec.Key
		c.logger.Warn("recovering leftover transaction journal record", "transaction_id", txID)
		for _, r := range resources {
			redrive, err := r.Recover(ctx, isPrepared, txID)
			if err != nil {
				c.logger.Error("resource recovery failed", "transaction_id", txID, "err", err)
				continue
			}
			c.logger.Info("resource recovered", "transaction_id", txID, "redrive", redrive)
		}
		if err := c.index.Delete(ctx, JournalBucket, txID); err != nil {
			c.logger.Error("failed to delete reconciled journal record", "transaction_id", txID, "err", err)
		}
	}
	return nil
}

func (c *Coordinator) observePhase(phase string, d time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
