package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harlan/fieldsync/internal/remote"
	"github.com/harlan/fieldsync/internal/status"
	"github.com/harlan/fieldsync/internal/store"
)

// fakeRemote is an in-memory Service. Writes are stamped with sequential
// versions; errFor injects failures per record.
type fakeRemote struct {
	clock   int
	records map[recordKey]remote.Record
	pulls   map[string][]remote.Record
	errFor  map[recordKey]error
	ops     []string
}

var _ remote.Service = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records: make(map[recordKey]remote.Record),
		pulls:   make(map[string][]remote.Record),
		errFor:  make(map[recordKey]error),
	}
}

func (f *fakeRemote) stamp() string {
	f.clock++
	return fmt.Sprintf("2024-03-01T00:00:%02dZ", f.clock)
}

func (f *fakeRemote) write(ctx context.Context, op, table, id string, data json.RawMessage) (*remote.Record, error) {
	f.ops = append(f.ops, op+" "+table+"/"+id)
	key := recordKey{table, id}
	if err := f.errFor[key]; err != nil {
		return nil, err
	}
	rec := remote.Record{
		ID:        id,
		TableName: table,
		Payload:   data,
		UpdatedAt: f.stamp(),
	}
	f.records[key] = rec
	return &rec, nil
}

func (f *fakeRemote) CreateRecord(ctx context.Context, table, id string, data json.RawMessage, clientID string) (*remote.Record, error) {
	return f.write(ctx, "create", table, id, data)
}

func (f *fakeRemote) UpdateRecord(ctx context.Context, table, id string, data json.RawMessage, clientID string) (*remote.Record, error) {
	return f.write(ctx, "update", table, id, data)
}

func (f *fakeRemote) DeleteRecord(ctx context.Context, table, id, clientID string) error {
	f.ops = append(f.ops, "delete "+table+"/"+id)
	key := recordKey{table, id}
	if err := f.errFor[key]; err != nil {
		return err
	}
	delete(f.records, key)
	return nil
}

func (f *fakeRemote) ListRecordsSince(ctx context.Context, table, since string) ([]remote.Record, error) {
	var out []remote.Record
	for _, rec := range f.pulls[table] {
		if since == "" || rec.UpdatedAt > since {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRemote) Health(ctx context.Context) error { return nil }

func newTestEngine(t *testing.T, opts Options) (*Engine, *store.Store, *fakeRemote) {
	t.Helper()
	st, err := store.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	fake := newFakeRemote()
	return New(st, fake, status.NewStore(), opts), st, fake
}

func mustPutLocal(t *testing.T, st *store.Store, table, id, data string) *store.QueuedMutation {
	t.Helper()
	mut, err := st.PutLocal(table, id, json.RawMessage(data))
	if err != nil {
		t.Fatalf("PutLocal %s/%s failed: %v", table, id, err)
	}
	return mut
}

func TestCycleFlushesQueue(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "HVAC", "question": "Duct size?"}`)
	mustPutLocal(t, st, "daily_reports", "r1", `{"project_id": "p1", "report_date": "2024-03-01"}`)

	rep, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if rep.Flush.Succeeded != 2 {
		t.Errorf("Succeeded mismatch: got %d, want 2", rep.Flush.Succeeded)
	}

	count, err := st.CountPending()
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Queue should be empty, got %d", count)
	}

	rec, err := st.GetRecord("rfis", "rfi-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Dirty {
		t.Error("Record should be clean after push")
	}
	if rec.ServerVersion == "" {
		t.Error("ServerVersion not recorded from ack")
	}

	ts, err := st.LastSyncAt()
	if err != nil {
		t.Fatalf("LastSyncAt failed: %v", err)
	}
	if ts == nil {
		t.Error("LastSyncAt not stamped after a successful cycle")
	}

	// A second cycle finds nothing to do and resends nothing
	fake.ops = nil
	rep, err = eng.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	if rep.Flush.Attempted != 0 {
		t.Errorf("Second cycle should attempt nothing, got %d", rep.Flush.Attempted)
	}
	if len(fake.ops) != 0 {
		t.Errorf("Second cycle should not call the backend, got %v", fake.ops)
	}
}

func TestFlushPerRecordOrdering(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "A", "question": "?"}`)
	mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "A2", "question": "?"}`)
	mustPutLocal(t, st, "rfis", "rfi-2", `{"project_id": "p1", "subject": "B", "question": "?"}`)

	fake.errFor[recordKey{"rfis", "rfi-1"}] = errors.New("connection reset")

	rep, err := eng.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	// rfi-1's first mutation fails and blocks its second; rfi-2 proceeds
	if rep.Attempted != 2 {
		t.Errorf("Attempted mismatch: got %d, want 2", rep.Attempted)
	}
	if rep.Succeeded != 1 {
		t.Errorf("Succeeded mismatch: got %d, want 1", rep.Succeeded)
	}
	if rep.Retried != 1 {
		t.Errorf("Retried mismatch: got %d, want 1", rep.Retried)
	}

	pending, err := st.ListPending()
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Pending count mismatch: got %d, want 2", len(pending))
	}
	for _, mut := range pending {
		if mut.RecordID != "rfi-1" {
			t.Errorf("Only rfi-1 mutations should remain, got %s", mut.RecordID)
		}
	}
	// The held-back second mutation was never attempted
	if pending[1].RetryCount != 0 {
		t.Errorf("Held-back mutation should not consume retries, got %d", pending[1].RetryCount)
	}

	rec, err := st.GetRecord("rfis", "rfi-2")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Dirty {
		t.Error("rfi-2 should be clean; its push was independent of rfi-1")
	}
}

func TestFlushDeadLettersTerminalFailure(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "A", "question": "?"}`)
	fake.errFor[recordKey{"rfis", "rfi-1"}] = remote.ErrValidation

	rep, err := eng.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if rep.DeadLettered != 1 {
		t.Errorf("DeadLettered mismatch: got %d, want 1", rep.DeadLettered)
	}

	dead, err := st.ListDeadLetters()
	if err != nil {
		t.Fatalf("ListDeadLetters failed: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("Dead letter count mismatch: got %d", len(dead))
	}
}

func TestFlushDeadLettersAfterMaxRetries(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{MaxRetries: 2, BackoffBase: time.Nanosecond})

	mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "A", "question": "?"}`)
	fake.errFor[recordKey{"rfis", "rfi-1"}] = errors.New("timeout")

	rep, err := eng.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if rep.Retried != 1 || rep.DeadLettered != 0 {
		t.Errorf("First attempt should reschedule: %+v", rep)
	}

	time.Sleep(5 * time.Millisecond) // let the nanosecond backoff elapse

	rep, err = eng.Push(context.Background())
	if err != nil {
		t.Fatalf("second Push failed: %v", err)
	}
	if rep.DeadLettered != 1 {
		t.Errorf("Retry budget exhausted, expected dead letter: %+v", rep)
	}

	count, err := st.CountDeadLetters()
	if err != nil {
		t.Fatalf("CountDeadLetters failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Dead letter count mismatch: got %d", count)
	}
}

func TestFlushSkipsNotDueMutations(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	mut := mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "A", "question": "?"}`)
	if err := st.Reschedule(mut.ID, "earlier failure", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	rep, err := eng.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if rep.Attempted != 0 {
		t.Errorf("Backed-off mutation should not be attempted, got %d", rep.Attempted)
	}
	if len(fake.ops) != 0 {
		t.Errorf("Backend should not be called, got %v", fake.ops)
	}
}

func TestFlushBlockedByOpenConflict(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "A", "question": "?"}`)
	mustPutLocal(t, st, "rfis", "rfi-2", `{"project_id": "p1", "subject": "B", "question": "?"}`)

	if _, err := st.InsertConflict(store.Conflict{
		Table:      "rfis",
		RecordID:   "rfi-1",
		LocalData:  json.RawMessage(`{"subject": "A"}`),
		RemoteData: json.RawMessage(`{"subject": "X"}`),
	}); err != nil {
		t.Fatalf("InsertConflict failed: %v", err)
	}

	rep, err := eng.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if rep.Attempted != 1 || rep.Succeeded != 1 {
		t.Errorf("Only the unconflicted record should push: %+v", rep)
	}
	if len(fake.ops) != 1 || fake.ops[0] != "create rfis/rfi-2" {
		t.Errorf("Backend calls mismatch: %v", fake.ops)
	}

	has, err := st.HasPendingFor("rfis", "rfi-1")
	if err != nil {
		t.Fatalf("HasPendingFor failed: %v", err)
	}
	if !has {
		t.Error("Conflicted record's mutation should stay queued")
	}
}

func TestFlushAuthFailureAbortsCycle(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "A", "question": "?"}`)
	mustPutLocal(t, st, "rfis", "rfi-2", `{"project_id": "p1", "subject": "B", "question": "?"}`)
	fake.errFor[recordKey{"rfis", "rfi-1"}] = remote.ErrUnauthorized

	_, err := eng.Push(context.Background())
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}

	// The whole queue survives untouched for after re-auth
	pending, err := st.ListPending()
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Queue should be intact, got %d", len(pending))
	}
	for _, mut := range pending {
		if mut.RetryCount != 0 {
			t.Errorf("Auth failures should not consume retries, got %d for %s", mut.RetryCount, mut.RecordID)
		}
	}
}

func TestDeleteMissingOnServerCountsAsDone(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	payload := json.RawMessage(`{"project_id": "p1", "title": "Temp fence"}`)
	if err := st.PutRemote("punch_items", "pi-1", payload, "v1"); err != nil {
		t.Fatalf("PutRemote failed: %v", err)
	}
	if _, err := st.DeleteLocal("punch_items", "pi-1"); err != nil {
		t.Fatalf("DeleteLocal failed: %v", err)
	}
	fake.errFor[recordKey{"punch_items", "pi-1"}] = remote.ErrNotFound

	rep, err := eng.Push(context.Background())
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if rep.Succeeded != 1 || rep.DeadLettered != 0 {
		t.Errorf("Delete of a missing record should count as done: %+v", rep)
	}
	if _, err := st.GetRecord("punch_items", "pi-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Record should be gone from the cache: %v", err)
	}
}

func TestPullAppliesRemoteChanges(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	// Existing clean records: one to update, one the server deleted
	if err := st.PutRemote("rfis", "rfi-old", json.RawMessage(`{"subject": "old"}`), "2024-03-01T00:00:01Z"); err != nil {
		t.Fatalf("PutRemote failed: %v", err)
	}
	if err := st.PutRemote("rfis", "rfi-gone", json.RawMessage(`{"subject": "gone"}`), "2024-03-01T00:00:01Z"); err != nil {
		t.Fatalf("PutRemote failed: %v", err)
	}

	fake.pulls["rfis"] = []remote.Record{
		{ID: "rfi-new", TableName: "rfis", Payload: json.RawMessage(`{"subject": "new"}`), UpdatedAt: "2024-03-01T00:00:02Z"},
		{ID: "rfi-old", TableName: "rfis", Payload: json.RawMessage(`{"subject": "newer"}`), UpdatedAt: "2024-03-01T00:00:03Z"},
		{ID: "rfi-gone", TableName: "rfis", UpdatedAt: "2024-03-01T00:00:04Z", Deleted: true},
	}

	rep, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if rep.Applied != 3 {
		t.Errorf("Applied mismatch: got %d, want 3", rep.Applied)
	}
	if rep.Deleted != 1 {
		t.Errorf("Deleted mismatch: got %d, want 1", rep.Deleted)
	}

	rec, err := st.GetRecord("rfis", "rfi-old")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.ServerVersion != "2024-03-01T00:00:03Z" {
		t.Errorf("ServerVersion mismatch: got %s", rec.ServerVersion)
	}
	if _, err := st.GetRecord("rfis", "rfi-gone"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Remotely deleted record should be gone: %v", err)
	}

	cursor, err := st.GetCursor("rfis")
	if err != nil {
		t.Fatalf("GetCursor failed: %v", err)
	}
	if cursor != "2024-03-01T00:00:04Z" {
		t.Errorf("Cursor mismatch: got %q", cursor)
	}

	// Second pull from the advanced cursor finds nothing
	rep, err = eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("second Pull failed: %v", err)
	}
	if rep.Applied != 0 {
		t.Errorf("Second pull should apply nothing, got %d", rep.Applied)
	}
}

func TestPullSkipsOwnEcho(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	if err := st.PutRemote("rfis", "rfi-1", json.RawMessage(`{"subject": "mine"}`), "2024-03-01T00:00:05Z"); err != nil {
		t.Fatalf("PutRemote failed: %v", err)
	}
	fake.pulls["rfis"] = []remote.Record{
		{ID: "rfi-1", TableName: "rfis", Payload: json.RawMessage(`{"subject": "mine"}`), UpdatedAt: "2024-03-01T00:00:05Z"},
	}

	rep, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if rep.Applied != 0 || rep.Conflicted != 0 {
		t.Errorf("Echo of an acknowledged push should be skipped: %+v", rep)
	}
}

func TestPullConflictsOnDirtyRecord(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	mustPutLocal(t, st, "rfis", "rfi-1", `{"project_id": "p1", "subject": "local edit", "question": "?"}`)

	fake.pulls["rfis"] = []remote.Record{
		{ID: "rfi-1", TableName: "rfis", Payload: json.RawMessage(`{"subject": "remote edit"}`), UpdatedAt: "2024-03-01T00:00:09Z"},
	}

	rep, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if rep.Conflicted != 1 {
		t.Errorf("Conflicted mismatch: got %d, want 1", rep.Conflicted)
	}

	conflicts, err := st.ListUnresolvedConflicts()
	if err != nil {
		t.Fatalf("ListUnresolvedConflicts failed: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("Conflict count mismatch: got %d", len(conflicts))
	}
	if conflicts[0].RemoteVersion != "2024-03-01T00:00:09Z" {
		t.Errorf("RemoteVersion mismatch: got %s", conflicts[0].RemoteVersion)
	}

	// Local edits survive untouched
	rec, err := st.GetRecord("rfis", "rfi-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if !rec.Dirty {
		t.Error("Conflicted record should stay dirty")
	}

	// A later remote change to the same still-open conflict does not
	// pile up a duplicate; it refreshes the remote side so resolving
	// keep-remote installs the server's latest version, not a stale one
	fake.pulls["rfis"] = []remote.Record{
		{ID: "rfi-1", TableName: "rfis", Payload: json.RawMessage(`{"subject": "remote again"}`), UpdatedAt: "2024-03-01T00:00:10Z"},
	}
	rep, err = eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("second Pull failed: %v", err)
	}
	if rep.Conflicted != 0 {
		t.Errorf("Refresh should not count as a new conflict, got %d", rep.Conflicted)
	}
	conflicts, err = st.ListUnresolvedConflicts()
	if err != nil {
		t.Fatalf("ListUnresolvedConflicts failed: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("Duplicate conflict filed: got %d", len(conflicts))
	}
	if string(conflicts[0].RemoteData) != `{"subject": "remote again"}` {
		t.Errorf("Conflict remote data not refreshed: got %s", conflicts[0].RemoteData)
	}
	if conflicts[0].RemoteVersion != "2024-03-01T00:00:10Z" {
		t.Errorf("Conflict remote version not refreshed: got %s", conflicts[0].RemoteVersion)
	}
}

func TestPullConflictWithLocalDelete(t *testing.T) {
	eng, st, fake := newTestEngine(t, Options{})

	if err := st.PutRemote("rfis", "rfi-1", json.RawMessage(`{"subject": "x"}`), "v1"); err != nil {
		t.Fatalf("PutRemote failed: %v", err)
	}
	if _, err := st.DeleteLocal("rfis", "rfi-1"); err != nil {
		t.Fatalf("DeleteLocal failed: %v", err)
	}

	fake.pulls["rfis"] = []remote.Record{
		{ID: "rfi-1", TableName: "rfis", Payload: json.RawMessage(`{"subject": "remote edit"}`), UpdatedAt: "v2"},
	}

	rep, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if rep.Conflicted != 1 {
		t.Fatalf("Expected a conflict: %+v", rep)
	}

	conflicts, err := st.ListUnresolvedConflicts()
	if err != nil {
		t.Fatalf("ListUnresolvedConflicts failed: %v", err)
	}
	if string(conflicts[0].LocalData) != "null" {
		t.Errorf("Local delete side should be null, got %s", conflicts[0].LocalData)
	}
}

func TestRunCycleGuard(t *testing.T) {
	eng, _, _ := newTestEngine(t, Options{})

	eng.running.Store(true)
	if _, err := eng.RunCycle(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got %v", err)
	}
	if _, err := eng.Push(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Push: expected ErrSyncInProgress, got %v", err)
	}
	if _, err := eng.Pull(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Pull: expected ErrSyncInProgress, got %v", err)
	}
	eng.running.Store(false)

	if _, err := eng.RunCycle(context.Background()); err != nil {
		t.Errorf("Cycle should run once the guard clears: %v", err)
	}
}

func TestTriggerNeverBlocks(t *testing.T) {
	eng, _, _ := newTestEngine(t, Options{})

	// Repeated triggers with no Watch loop draining must not block
	for i := 0; i < 10; i++ {
		eng.Trigger()
	}
}
