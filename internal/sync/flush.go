package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harlan/fieldsync/internal/remote"
	"github.com/harlan/fieldsync/internal/store"
)

// recordKey identifies one cached record across tables.
type recordKey struct {
	table string
	id    string
}

// flush drains the pending queue oldest first. Mutations for the same
// record apply strictly in creation order: when one is skipped or fails,
// every later mutation for that record is held back too. Mutations for
// other records keep going.
func (e *Engine) flush(ctx context.Context) (FlushReport, error) {
	var rep FlushReport

	// Mutations left in_flight by a crashed process go back to pending.
	// The server dedups replays by client ID, so re-sending is safe.
	if n, err := e.store.ResetInFlight(); err != nil {
		return rep, fmt.Errorf("reset in-flight: %w", err)
	} else if n > 0 {
		slog.Info("requeued interrupted mutations", "count", n)
	}

	pending, err := e.store.ListPending()
	if err != nil {
		return rep, err
	}

	now := time.Now()
	blocked := make(map[recordKey]bool)
	for _, mut := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		key := recordKey{mut.Table, mut.RecordID}
		if blocked[key] {
			continue
		}
		if mut.NextAttemptAt != nil && mut.NextAttemptAt.After(now) {
			blocked[key] = true
			continue
		}
		open, err := e.store.HasOpenConflict(mut.Table, mut.RecordID)
		if err != nil {
			return rep, err
		}
		if open {
			blocked[key] = true
			continue
		}

		rep.Attempted++
		if err := e.store.MarkInFlight(mut.ID); err != nil {
			return rep, fmt.Errorf("mark in-flight %d: %w", mut.ID, err)
		}

		version, err := e.dispatch(ctx, mut)
		if err == nil {
			if ackErr := e.store.Ack(mut, version); ackErr != nil {
				return rep, fmt.Errorf("ack %d: %w", mut.ID, ackErr)
			}
			rep.Succeeded++
			continue
		}

		if errors.Is(err, remote.ErrUnauthorized) || errors.Is(err, remote.ErrForbidden) {
			// Credentials are bad for every remaining mutation too; stop
			// the cycle and leave the queue intact for after re-auth.
			if _, rerr := e.store.ResetInFlight(); rerr != nil {
				slog.Warn("requeue after auth failure", "error", rerr)
			}
			return rep, fmt.Errorf("push %s/%s: %w", mut.Table, mut.RecordID, err)
		}

		blocked[key] = true
		if err := e.settleFailure(mut, err, &rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// dispatch sends one mutation to the backend and returns the server
// version it produced (empty for deletes).
func (e *Engine) dispatch(ctx context.Context, mut store.QueuedMutation) (string, error) {
	switch mut.Op {
	case store.OpCreate:
		rec, err := e.remote.CreateRecord(ctx, mut.Table, mut.RecordID, mut.Payload, mut.ClientID)
		if err != nil {
			return "", err
		}
		return rec.UpdatedAt, nil
	case store.OpUpdate:
		rec, err := e.remote.UpdateRecord(ctx, mut.Table, mut.RecordID, mut.Payload, mut.ClientID)
		if err != nil {
			return "", err
		}
		return rec.UpdatedAt, nil
	case store.OpDelete:
		err := e.remote.DeleteRecord(ctx, mut.Table, mut.RecordID, mut.ClientID)
		if errors.Is(err, remote.ErrNotFound) {
			// Already gone on the server; counts as done.
			return "", nil
		}
		return "", err
	default:
		return "", fmt.Errorf("unknown mutation op %q", mut.Op)
	}
}

// settleFailure reschedules a failed mutation with backoff, or
// dead-letters it when the failure is terminal or retries ran out.
func (e *Engine) settleFailure(mut store.QueuedMutation, cause error, rep *FlushReport) error {
	attempt := mut.RetryCount + 1
	switch {
	case terminalError(cause):
		slog.Warn("mutation rejected by server",
			"table", mut.Table, "record", mut.RecordID, "op", mut.Op, "error", cause)
		if err := e.store.DeadLetter(mut.ID, cause.Error()); err != nil {
			return err
		}
		rep.DeadLettered++
	case attempt >= e.opts.MaxRetries:
		slog.Warn("mutation out of retries",
			"table", mut.Table, "record", mut.RecordID, "attempts", attempt, "error", cause)
		if err := e.store.DeadLetter(mut.ID, cause.Error()); err != nil {
			return err
		}
		rep.DeadLettered++
	default:
		next := time.Now().Add(backoffDelay(mut.RetryCount, e.opts.BackoffBase, e.opts.BackoffMax))
		slog.Debug("mutation rescheduled",
			"table", mut.Table, "record", mut.RecordID, "attempt", attempt, "next", next, "error", cause)
		if err := e.store.Reschedule(mut.ID, cause.Error(), next); err != nil {
			return err
		}
		rep.Retried++
	}
	return nil
}

// terminalError reports whether retrying can never succeed: the server
// rejected the payload, or the target row is gone for a non-delete op.
func terminalError(err error) bool {
	return errors.Is(err, remote.ErrValidation) || errors.Is(err, remote.ErrNotFound)
}
