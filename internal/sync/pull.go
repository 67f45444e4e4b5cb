package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harlan/fieldsync/internal/payload"
	"github.com/harlan/fieldsync/internal/remote"
	"github.com/harlan/fieldsync/internal/store"
)

// pull fetches remote changes for every syncable table and applies them
// to the cache. A remote change to a locally dirty record becomes a
// conflict instead of an overwrite; local edits are never clobbered.
func (e *Engine) pull(ctx context.Context) (PullReport, error) {
	var rep PullReport
	for _, table := range payload.Tables() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := e.pullTable(ctx, table, &rep); err != nil {
			return rep, fmt.Errorf("pull %s: %w", table, err)
		}
	}
	return rep, nil
}

func (e *Engine) pullTable(ctx context.Context, table string, rep *PullReport) error {
	cursor, err := e.store.GetCursor(table)
	if err != nil {
		return err
	}

	records, err := e.remote.ListRecordsSince(ctx, table, cursor)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := e.applyRemote(rec, rep); err != nil {
			return err
		}
		cursor = rec.UpdatedAt
	}
	if len(records) > 0 {
		if err := e.store.SetCursor(table, cursor); err != nil {
			return err
		}
	}
	return nil
}

// applyRemote merges one remote record into the cache.
func (e *Engine) applyRemote(rec remote.Record, rep *PullReport) error {
	local, err := e.store.GetRecord(rec.TableName, rec.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if rec.Deleted {
			return nil
		}
		if err := e.store.PutRemote(rec.TableName, rec.ID, rec.Payload, rec.UpdatedAt); err != nil {
			return err
		}
		e.logHistory("pull", "create", rec.TableName, rec.ID, "")
		rep.Applied++
		return nil
	case err != nil:
		return err
	}

	// Our own acknowledged write coming back around.
	if rec.UpdatedAt == local.ServerVersion {
		return nil
	}

	if local.Dirty {
		return e.recordConflict(rec, local, rep)
	}

	if rec.Deleted {
		if err := e.store.RemoveRecord(rec.TableName, rec.ID); err != nil {
			return err
		}
		e.logHistory("pull", "delete", rec.TableName, rec.ID, "")
		rep.Applied++
		rep.Deleted++
		return nil
	}

	if err := e.store.PutRemote(rec.TableName, rec.ID, rec.Payload, rec.UpdatedAt); err != nil {
		return err
	}
	e.logHistory("pull", "update", rec.TableName, rec.ID, "")
	rep.Applied++
	return nil
}

// recordConflict files a conflict for a dirty record the server changed
// underneath us. A deleted side is represented as JSON null. Further
// remote changes while the conflict stays open refresh its remote side
// rather than filing a second conflict.
func (e *Engine) recordConflict(rec remote.Record, local *store.CachedRecord, rep *PullReport) error {
	localData := local.Payload
	if local.DeletedAt != nil {
		localData = json.RawMessage("null")
	}
	remoteData := rec.Payload
	if rec.Deleted {
		remoteData = json.RawMessage("null")
	}

	id, err := e.store.InsertConflict(store.Conflict{
		Table:         rec.TableName,
		RecordID:      rec.ID,
		LocalData:     localData,
		RemoteData:    remoteData,
		RemoteVersion: rec.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if id == 0 {
		slog.Debug("open conflict refreshed",
			"table", rec.TableName, "record", rec.ID, "remote_version", rec.UpdatedAt)
		return nil
	}
	slog.Info("conflict detected",
		"table", rec.TableName, "record", rec.ID, "conflict_id", id)
	e.logHistory("pull", "conflict", rec.TableName, rec.ID, fmt.Sprintf("conflict #%d", id))
	rep.Conflicted++
	return nil
}

func (e *Engine) logHistory(direction, op, table, id, detail string) {
	err := e.store.RecordHistory(store.HistoryEntry{
		Direction: direction,
		Op:        op,
		Table:     table,
		RecordID:  id,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("record history", "error", err)
	}
}
