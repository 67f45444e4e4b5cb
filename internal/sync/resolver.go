package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/harlan/fieldsync/internal/store"
)

// Strategy picks which side of a conflict wins.
type Strategy string

const (
	KeepLocal  Strategy = "keep-local"
	KeepRemote Strategy = "keep-remote"
	Merge      Strategy = "merge"
)

// ParseStrategy converts user input to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case KeepLocal, KeepRemote, Merge:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want keep-local, keep-remote, or merge)", s)
	}
}

// MergeFunc combines conflicting payloads into one. Both sides are
// non-null JSON objects.
type MergeFunc func(local, remote json.RawMessage) (json.RawMessage, error)

// Resolver applies a resolution strategy to recorded conflicts.
type Resolver struct {
	store *store.Store
	merge MergeFunc
}

// NewResolver creates a resolver. A nil merge func gets MergeFields.
func NewResolver(st *store.Store, merge MergeFunc) *Resolver {
	if merge == nil {
		merge = MergeFields
	}
	return &Resolver{store: st, merge: merge}
}

// Resolve settles one conflict. Resolution is terminal: a second call
// for the same conflict fails. After keep-local or merge the winning
// payload is queued for push; after keep-remote the local edits are
// discarded outright.
func (r *Resolver) Resolve(conflictID int64, strategy Strategy) error {
	c, err := r.store.GetConflict(conflictID)
	if err != nil {
		return err
	}
	if c.Resolved {
		return fmt.Errorf("conflict %d already resolved as %s", conflictID, c.Resolution)
	}

	switch strategy {
	case KeepLocal:
		err = r.keepLocal(c)
	case KeepRemote:
		err = r.keepRemote(c)
	case Merge:
		err = r.mergeSides(c)
	default:
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return fmt.Errorf("resolve conflict %d: %w", conflictID, err)
	}

	if err := r.store.MarkConflictResolved(conflictID, string(strategy)); err != nil {
		return err
	}
	r.logResolution(c, strategy)
	return nil
}

// keepLocal re-asserts the local edit over the newer remote version. The
// server version advances so the next pull doesn't re-flag the same
// remote change.
func (r *Resolver) keepLocal(c *store.Conflict) error {
	if isNullData(c.LocalData) {
		// Local side was a delete; let the queued delete proceed.
		return r.ensurePending(c.Table, c.RecordID, store.OpDelete, json.RawMessage("{}"))
	}
	if err := r.store.SetRecordState(c.Table, c.RecordID, c.LocalData, c.RemoteVersion, true); err != nil {
		return err
	}
	return r.ensurePending(c.Table, c.RecordID, store.OpUpdate, c.LocalData)
}

// keepRemote installs the remote version and drops the local edits.
func (r *Resolver) keepRemote(c *store.Conflict) error {
	if _, err := r.store.DropPendingFor(c.Table, c.RecordID); err != nil {
		return err
	}
	if isNullData(c.RemoteData) {
		return r.store.RemoveRecord(c.Table, c.RecordID)
	}
	return r.store.SetRecordState(c.Table, c.RecordID, c.RemoteData, c.RemoteVersion, false)
}

// mergeSides combines both payloads and queues the result for push. The
// stale pre-merge mutations are dropped so only the merged payload goes
// out.
func (r *Resolver) mergeSides(c *store.Conflict) error {
	if isNullData(c.LocalData) || isNullData(c.RemoteData) {
		return fmt.Errorf("cannot merge a deletion; use keep-local or keep-remote")
	}
	merged, err := r.merge(c.LocalData, c.RemoteData)
	if err != nil {
		return fmt.Errorf("merge payloads: %w", err)
	}
	if _, err := r.store.DropPendingFor(c.Table, c.RecordID); err != nil {
		return err
	}
	if err := r.store.SetRecordState(c.Table, c.RecordID, merged, c.RemoteVersion, true); err != nil {
		return err
	}
	_, err = r.store.Enqueue(c.Table, c.RecordID, store.OpUpdate, merged)
	return err
}

// ensurePending enqueues a mutation unless one is already waiting for
// the record.
func (r *Resolver) ensurePending(table, id string, op store.Op, data json.RawMessage) error {
	has, err := r.store.HasPendingFor(table, id)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = r.store.Enqueue(table, id, op, data)
	return err
}

func (r *Resolver) logResolution(c *store.Conflict, strategy Strategy) {
	err := r.store.RecordHistory(store.HistoryEntry{
		Direction: "resolve",
		Op:        "conflict",
		Table:     c.Table,
		RecordID:  c.RecordID,
		Detail:    string(strategy),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("record history", "error", err)
	}
}

// isNullData reports whether a conflict side represents a deletion.
func isNullData(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// MergeFields is the default merge: the remote payload is the base and
// every top-level local field overlays it, so local edits win per field
// while remote-only fields survive.
func MergeFields(local, remote json.RawMessage) (json.RawMessage, error) {
	var localFields, remoteFields map[string]any
	if err := json.Unmarshal(local, &localFields); err != nil {
		return nil, fmt.Errorf("unmarshal local: %w", err)
	}
	if err := json.Unmarshal(remote, &remoteFields); err != nil {
		return nil, fmt.Errorf("unmarshal remote: %w", err)
	}

	for k, v := range localFields {
		remoteFields[k] = v
	}
	return json.Marshal(remoteFields)
}
