// Package sync drains the local mutation queue to the backend and pulls
// remote changes back into the cache. A cycle is flush then pull; cycles
// never overlap.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/harlan/fieldsync/internal/remote"
	"github.com/harlan/fieldsync/internal/status"
	"github.com/harlan/fieldsync/internal/store"
)

// ErrSyncInProgress is returned when a cycle is requested while another
// one is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// historyMaxRows caps the audit trail; older entries are pruned after
// each successful cycle.
const historyMaxRows = 1000

// Options tunes the engine. Zero values get defaults.
type Options struct {
	MaxRetries   int           // attempts before a mutation dead-letters
	PullInterval time.Duration // periodic cycle interval in Watch
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.PullInterval <= 0 {
		o.PullInterval = time.Minute
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Minute
	}
}

// FlushReport summarizes one queue drain.
type FlushReport struct {
	Attempted    int
	Succeeded    int
	Retried      int
	DeadLettered int
}

// PullReport summarizes one pull pass over all tables.
type PullReport struct {
	Applied    int
	Deleted    int
	Conflicted int
}

// CycleReport summarizes one full sync cycle.
type CycleReport struct {
	Flush     FlushReport
	Pull      PullReport
	StartedAt time.Time
	Duration  time.Duration
}

// Engine coordinates flush and pull against one local store.
type Engine struct {
	store   *store.Store
	remote  remote.Service
	status  *status.Store
	opts    Options
	running atomic.Bool
	trigger chan struct{}
}

// New creates an engine. The status store is updated as cycles run.
func New(st *store.Store, svc remote.Service, stat *status.Store, opts Options) *Engine {
	opts.withDefaults()
	return &Engine{
		store:   st,
		remote:  svc,
		status:  stat,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

// RunCycle flushes pending mutations, then pulls remote changes. At most
// one cycle runs at a time; a second caller gets ErrSyncInProgress
// immediately instead of queueing.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.running.Store(false)

	started := time.Now()
	e.status.SetState(status.StateSyncing, "")
	report := &CycleReport{StartedAt: started}

	flushRep, err := e.flush(ctx)
	report.Flush = flushRep
	if err != nil {
		e.finishCycle(status.StateError, err)
		return report, fmt.Errorf("flush: %w", err)
	}

	pullRep, err := e.pull(ctx)
	report.Pull = pullRep
	if err != nil {
		e.finishCycle(status.StateError, err)
		return report, fmt.Errorf("pull: %w", err)
	}

	now := time.Now().UTC()
	if err := e.store.SetLastSyncAt(now); err != nil {
		slog.Warn("record last sync time", "error", err)
	}
	if err := e.store.PruneHistory(historyMaxRows); err != nil {
		slog.Warn("prune history", "error", err)
	}
	e.status.SetLastSyncAt(now)
	e.finishCycle(status.StateIdle, nil)

	report.Duration = time.Since(started)
	slog.Debug("sync cycle complete",
		"pushed", flushRep.Succeeded,
		"retried", flushRep.Retried,
		"dead", flushRep.DeadLettered,
		"pulled", pullRep.Applied,
		"conflicts", pullRep.Conflicted,
		"duration", report.Duration)
	return report, nil
}

// Push runs only the queue-drain half of a cycle.
func (e *Engine) Push(ctx context.Context) (FlushReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return FlushReport{}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	e.status.SetState(status.StateSyncing, "")
	rep, err := e.flush(ctx)
	if err != nil {
		e.finishCycle(status.StateError, err)
		return rep, fmt.Errorf("flush: %w", err)
	}
	e.finishCycle(status.StateIdle, nil)
	return rep, nil
}

// Pull runs only the remote-fetch half of a cycle.
func (e *Engine) Pull(ctx context.Context) (PullReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return PullReport{}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	e.status.SetState(status.StateSyncing, "")
	rep, err := e.pull(ctx)
	if err != nil {
		e.finishCycle(status.StateError, err)
		return rep, fmt.Errorf("pull: %w", err)
	}
	e.finishCycle(status.StateIdle, nil)
	return rep, nil
}

// finishCycle sets the terminal state for a cycle and refreshes counts.
func (e *Engine) finishCycle(state status.SyncState, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.status.SetState(state, msg)
	e.RefreshCounts()
}

// RefreshCounts copies queue and conflict totals into the status store.
func (e *Engine) RefreshCounts() {
	pending, err := e.store.CountPending()
	if err != nil {
		slog.Warn("count pending", "error", err)
		return
	}
	dead, err := e.store.CountDeadLetters()
	if err != nil {
		slog.Warn("count dead letters", "error", err)
		return
	}
	conflicts, err := e.store.CountUnresolvedConflicts()
	if err != nil {
		slog.Warn("count conflicts", "error", err)
		return
	}
	e.status.SetCounts(int(pending), int(dead), int(conflicts))
}

// Trigger requests a cycle from a running Watch loop. Safe to call from
// any goroutine; a trigger while one is already queued is dropped.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Watch runs sync cycles until the context is canceled: one immediately,
// then on every pull interval tick and every Trigger call. Cycles are
// skipped while offline. Auth failures stop the loop; other errors are
// logged and the loop keeps going.
func (e *Engine) Watch(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.PullInterval)
	defer ticker.Stop()

	for {
		if e.status.Current().Online {
			if err := e.watchCycle(ctx); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.trigger:
		}
	}
}

func (e *Engine) watchCycle(ctx context.Context) error {
	_, err := e.RunCycle(ctx)
	switch {
	case err == nil, errors.Is(err, ErrSyncInProgress):
		return nil
	case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, remote.ErrForbidden):
		return fmt.Errorf("sync watch: %w", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		slog.Warn("sync cycle failed", "error", err)
		return nil
	}
}
