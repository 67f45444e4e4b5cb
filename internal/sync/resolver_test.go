package sync

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/harlan/fieldsync/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	st, err := store.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewResolver(st, nil), st
}

// seedConflict sets up a dirty record with a queued update and an open
// conflict against a newer remote version, the state a pull leaves behind.
func seedConflict(t *testing.T, st *store.Store) int64 {
	t.Helper()
	local := json.RawMessage(`{"project_id": "p1", "subject": "local edit", "question": "?"}`)
	if _, err := st.PutLocal("rfis", "rfi-1", local); err != nil {
		t.Fatalf("PutLocal failed: %v", err)
	}
	id, err := st.InsertConflict(store.Conflict{
		Table:         "rfis",
		RecordID:      "rfi-1",
		LocalData:     local,
		RemoteData:    json.RawMessage(`{"project_id": "p1", "subject": "remote edit", "question": "?", "answer": "42"}`),
		RemoteVersion: "v9",
	})
	if err != nil {
		t.Fatalf("InsertConflict failed: %v", err)
	}
	return id
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"keep-local", "keep-remote", "merge"} {
		if _, err := ParseStrategy(s); err != nil {
			t.Errorf("ParseStrategy(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseStrategy("ours"); err == nil {
		t.Error("ParseStrategy should reject unknown strategies")
	}
}

func TestResolveKeepLocal(t *testing.T) {
	r, st := newTestResolver(t)
	id := seedConflict(t, st)

	if err := r.Resolve(id, KeepLocal); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	rec, err := st.GetRecord("rfis", "rfi-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if !rec.Dirty {
		t.Error("Record should stay dirty until the winning payload pushes")
	}
	if !strings.Contains(string(rec.Payload), "local edit") {
		t.Errorf("Local payload should win: %s", rec.Payload)
	}
	// Version advances so the next pull doesn't re-flag the same change
	if rec.ServerVersion != "v9" {
		t.Errorf("ServerVersion mismatch: got %s", rec.ServerVersion)
	}

	// The original queued mutation already carries the local payload;
	// no duplicate is enqueued
	count, err := st.CountPending()
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Pending count mismatch: got %d, want 1", count)
	}

	c, err := st.GetConflict(id)
	if err != nil {
		t.Fatalf("GetConflict failed: %v", err)
	}
	if !c.Resolved || c.Resolution != "keep-local" {
		t.Errorf("Conflict not settled: resolved=%v resolution=%s", c.Resolved, c.Resolution)
	}
}

func TestResolveKeepLocalWithoutQueuedMutation(t *testing.T) {
	r, st := newTestResolver(t)
	id := seedConflict(t, st)

	// Simulate the queued edit having been dropped (e.g. by a discard)
	if _, err := st.DropPendingFor("rfis", "rfi-1"); err != nil {
		t.Fatalf("DropPendingFor failed: %v", err)
	}

	if err := r.Resolve(id, KeepLocal); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// keep-local must re-queue the winning payload
	has, err := st.HasPendingFor("rfis", "rfi-1")
	if err != nil {
		t.Fatalf("HasPendingFor failed: %v", err)
	}
	if !has {
		t.Error("Winning payload should be queued for push")
	}
}

func TestResolveKeepRemote(t *testing.T) {
	r, st := newTestResolver(t)
	id := seedConflict(t, st)

	if err := r.Resolve(id, KeepRemote); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	rec, err := st.GetRecord("rfis", "rfi-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Dirty {
		t.Error("Record should be clean; nothing left to push")
	}
	if !strings.Contains(string(rec.Payload), "remote edit") {
		t.Errorf("Remote payload should win: %s", rec.Payload)
	}

	// Local edits are discarded outright
	count, err := st.CountPending()
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Queue should be empty after keep-remote, got %d", count)
	}
}

func TestResolveKeepRemoteDeletion(t *testing.T) {
	r, st := newTestResolver(t)

	local := json.RawMessage(`{"project_id": "p1", "subject": "mine", "question": "?"}`)
	if _, err := st.PutLocal("rfis", "rfi-1", local); err != nil {
		t.Fatalf("PutLocal failed: %v", err)
	}
	id, err := st.InsertConflict(store.Conflict{
		Table:         "rfis",
		RecordID:      "rfi-1",
		LocalData:     local,
		RemoteData:    json.RawMessage("null"),
		RemoteVersion: "v9",
	})
	if err != nil {
		t.Fatalf("InsertConflict failed: %v", err)
	}

	if err := r.Resolve(id, KeepRemote); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if _, err := st.GetRecord("rfis", "rfi-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Accepting a remote delete should drop the record: %v", err)
	}
}

func TestResolveMerge(t *testing.T) {
	r, st := newTestResolver(t)
	id := seedConflict(t, st)

	if err := r.Resolve(id, Merge); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	rec, err := st.GetRecord("rfis", "rfi-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(rec.Payload, &fields); err != nil {
		t.Fatalf("unmarshal merged payload: %v", err)
	}
	// Local field wins, remote-only field survives
	if fields["subject"] != "local edit" {
		t.Errorf("subject mismatch: got %v", fields["subject"])
	}
	if fields["answer"] != "42" {
		t.Errorf("answer mismatch: got %v", fields["answer"])
	}

	// The stale pre-merge mutation is replaced by one merged update
	pending, err := st.ListPending()
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Pending count mismatch: got %d, want 1", len(pending))
	}
	if pending[0].Op != store.OpUpdate {
		t.Errorf("Op mismatch: got %s", pending[0].Op)
	}
	if !strings.Contains(string(pending[0].Payload), "42") {
		t.Errorf("Queued payload should be the merged one: %s", pending[0].Payload)
	}
}

func TestResolveMergeRejectsDeletion(t *testing.T) {
	r, st := newTestResolver(t)

	local := json.RawMessage(`{"project_id": "p1", "subject": "mine", "question": "?"}`)
	if _, err := st.PutLocal("rfis", "rfi-1", local); err != nil {
		t.Fatalf("PutLocal failed: %v", err)
	}
	id, err := st.InsertConflict(store.Conflict{
		Table:      "rfis",
		RecordID:   "rfi-1",
		LocalData:  local,
		RemoteData: json.RawMessage("null"),
	})
	if err != nil {
		t.Fatalf("InsertConflict failed: %v", err)
	}

	if err := r.Resolve(id, Merge); err == nil {
		t.Error("Merging a deletion should fail")
	}
}

func TestResolveIsTerminal(t *testing.T) {
	r, st := newTestResolver(t)
	id := seedConflict(t, st)

	if err := r.Resolve(id, KeepRemote); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if err := r.Resolve(id, KeepLocal); err == nil {
		t.Error("Resolving twice should fail")
	}
}

func TestMergeFields(t *testing.T) {
	local := json.RawMessage(`{"status": "open", "notes": "rev 2"}`)
	remote := json.RawMessage(`{"status": "closed", "assignee": "kim"}`)

	merged, err := MergeFields(local, remote)
	if err != nil {
		t.Fatalf("MergeFields failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(merged, &fields); err != nil {
		t.Fatalf("unmarshal merged: %v", err)
	}
	if fields["status"] != "open" {
		t.Errorf("Local field should win: got %v", fields["status"])
	}
	if fields["notes"] != "rev 2" {
		t.Errorf("Local-only field missing: got %v", fields["notes"])
	}
	if fields["assignee"] != "kim" {
		t.Errorf("Remote-only field missing: got %v", fields["assignee"])
	}
}
