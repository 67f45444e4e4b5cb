// Package status tracks connectivity and sync progress for display. A
// single Store holds the current snapshot; interested parties subscribe
// for change notifications instead of polling.
package status

import (
	"sync"
	"time"
)

// SyncState is the coarse phase of the sync engine.
type SyncState string

const (
	StateIdle    SyncState = "idle"
	StateSyncing SyncState = "syncing"
	StateError   SyncState = "error"
)

// Snapshot is a point-in-time view of sync health.
type Snapshot struct {
	Online          bool
	State           SyncState
	PendingCount    int
	DeadLetterCount int
	ConflictCount   int
	LastSyncAt      time.Time
	LastError       string
}

// Store holds the current snapshot and fans out updates to subscribers.
// All methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int
}

// NewStore creates a store reporting offline and idle.
func NewStore() *Store {
	return &Store{
		snap: Snapshot{State: StateIdle},
		subs: make(map[int]chan Snapshot),
	}
}

// Current returns the latest snapshot.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe registers for snapshot updates. The returned channel is
// buffered and receives the current snapshot immediately; a slow
// consumer drops intermediate updates rather than blocking the engine.
// Call the cancel func to unsubscribe.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan Snapshot, 1)
	ch <- s.snap
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Update applies fn to the snapshot and notifies subscribers.
func (s *Store) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.broadcast()
}

// SetOnline records a connectivity transition.
func (s *Store) SetOnline(online bool) {
	s.Update(func(snap *Snapshot) {
		snap.Online = online
	})
}

// SetState records the engine phase. Entering a non-error state clears
// the last error.
func (s *Store) SetState(state SyncState, errMsg string) {
	s.Update(func(snap *Snapshot) {
		snap.State = state
		if state == StateError {
			snap.LastError = errMsg
		} else {
			snap.LastError = ""
		}
	})
}

// SetCounts records queue and conflict totals.
func (s *Store) SetCounts(pending, deadLetters, conflicts int) {
	s.Update(func(snap *Snapshot) {
		snap.PendingCount = pending
		snap.DeadLetterCount = deadLetters
		snap.ConflictCount = conflicts
	})
}

// SetLastSyncAt records the completion time of the latest full cycle.
func (s *Store) SetLastSyncAt(t time.Time) {
	s.Update(func(snap *Snapshot) {
		snap.LastSyncAt = t
	})
}

// broadcast sends the snapshot to every subscriber, dropping stale
// buffered values first. Caller holds s.mu.
func (s *Store) broadcast() {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.snap
	}
}
