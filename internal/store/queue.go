package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Op is the kind of write a queued mutation carries.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation queue states. Acknowledged mutations are removed, not stated.
const (
	StatePending  = "pending"
	StateInFlight = "in_flight"
	StateDead     = "dead"
)

// QueuedMutation is one not-yet-acknowledged write, drained in creation
// order per record.
type QueuedMutation struct {
	ID            int64
	ClientID      string
	Table         string
	RecordID      string
	Op            Op
	Payload       json.RawMessage
	State         string
	RetryCount    int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
}

// enqueueTx inserts a mutation within an existing transaction.
func enqueueTx(tx *sql.Tx, table, id string, op Op, data json.RawMessage) (*QueuedMutation, error) {
	now := time.Now().UTC()
	clientID := uuid.NewString()

	res, err := tx.Exec(`
		INSERT INTO mutation_queue (client_id, table_name, record_id, op, payload, state, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
	`, clientID, table, id, string(op), string(data), now)
	if err != nil {
		return nil, classifyStorageErr("enqueue mutation", err)
	}
	localID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("enqueue mutation id: %w", err)
	}

	return &QueuedMutation{
		ID:        localID,
		ClientID:  clientID,
		Table:     table,
		RecordID:  id,
		Op:        op,
		Payload:   data,
		State:     StatePending,
		CreatedAt: now,
	}, nil
}

// Enqueue adds a standalone mutation to the queue (used by conflict
// resolution to schedule a forced update). Local writes go through
// PutLocal/DeleteLocal instead, which enqueue transactionally.
func (s *Store) Enqueue(table, id string, op Op, data json.RawMessage) (*QueuedMutation, error) {
	var mut *QueuedMutation
	err := s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return classifyStorageErr("begin", err)
		}
		defer tx.Rollback()

		mut, err = enqueueTx(tx, table, id, op, data)
		if err != nil {
			return err
		}
		return classifyStorageErr("commit", tx.Commit())
	})
	if err != nil {
		return nil, err
	}
	return mut, nil
}

// ListPending returns pending mutations oldest first. Backoff gating and
// per-record ordering are the caller's concern; NextAttemptAt says when a
// rescheduled mutation becomes due again.
func (s *Store) ListPending() ([]QueuedMutation, error) {
	rows, err := s.conn.Query(`
		SELECT id, client_id, table_name, record_id, op, payload, state,
		       retry_count, COALESCE(last_error, ''), next_attempt_at, created_at
		FROM mutation_queue WHERE state = 'pending' ORDER BY id ASC
	`)
	if err != nil {
		return nil, classifyStorageErr("list pending", err)
	}
	defer rows.Close()
	return scanMutations(rows)
}

// ListDeadLetters returns dead-lettered mutations oldest first.
func (s *Store) ListDeadLetters() ([]QueuedMutation, error) {
	rows, err := s.conn.Query(`
		SELECT id, client_id, table_name, record_id, op, payload, state,
		       retry_count, COALESCE(last_error, ''), next_attempt_at, created_at
		FROM mutation_queue WHERE state = 'dead' ORDER BY id ASC
	`)
	if err != nil {
		return nil, classifyStorageErr("list dead letters", err)
	}
	defer rows.Close()
	return scanMutations(rows)
}

func scanMutations(rows *sql.Rows) ([]QueuedMutation, error) {
	var muts []QueuedMutation
	for rows.Next() {
		var (
			m                    QueuedMutation
			op, data             string
			nextAttempt, created sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ClientID, &m.Table, &m.RecordID, &op, &data,
			&m.State, &m.RetryCount, &m.LastError, &nextAttempt, &created); err != nil {
			return nil, classifyStorageErr("scan mutation", err)
		}
		m.Op = Op(op)
		m.Payload = json.RawMessage(data)
		if nextAttempt.Valid {
			if t, err := parseTimestamp(nextAttempt.String); err == nil {
				m.NextAttemptAt = &t
			}
		}
		if created.Valid {
			if t, err := parseTimestamp(created.String); err == nil {
				m.CreatedAt = t
			}
		}
		muts = append(muts, m)
	}
	return muts, rows.Err()
}

// MarkInFlight transitions a pending mutation to in_flight before the
// remote call. A crash mid-flight leaves the row recoverable via ResetInFlight.
func (s *Store) MarkInFlight(localID int64) error {
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`UPDATE mutation_queue SET state = 'in_flight' WHERE id = ? AND state = 'pending'`, localID)
		if err != nil {
			return classifyStorageErr("mark in flight", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("mutation %d: %w", localID, ErrNotFound)
		}
		return nil
	})
}

// ResetInFlight returns any in_flight mutations to pending. Called at
// engine start; the remote side deduplicates by client ID so a mutation
// that was actually applied will be acknowledged as a duplicate.
func (s *Store) ResetInFlight() (int64, error) {
	var affected int64
	err := s.withWriteLock(func() error {
		res, err := s.conn.Exec(`UPDATE mutation_queue SET state = 'pending' WHERE state = 'in_flight'`)
		if err != nil {
			return classifyStorageErr("reset in flight", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// Ack removes an acknowledged mutation and settles its record in one
// transaction: create/update advance the server version, delete drops the
// tombstoned record. A history row is written alongside.
func (s *Store) Ack(mut QueuedMutation, version string) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return classifyStorageErr("begin", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`DELETE FROM mutation_queue WHERE id = ?`, mut.ID)
		if err != nil {
			return classifyStorageErr("dequeue mutation", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("mutation %d: %w", mut.ID, ErrNotFound)
		}

		switch mut.Op {
		case OpDelete:
			if _, err := tx.Exec(`DELETE FROM cached_records WHERE table_name = ? AND record_id = ?`,
				mut.Table, mut.RecordID); err != nil {
				return classifyStorageErr("remove record", err)
			}
		default:
			if err := s.MarkRecordSynced(tx, mut.Table, mut.RecordID, version); err != nil {
				return err
			}
		}

		if err := recordHistoryTx(tx, HistoryEntry{
			Direction: "push",
			Op:        string(mut.Op),
			Table:     mut.Table,
			RecordID:  mut.RecordID,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return classifyStorageErr("commit", tx.Commit())
	})
}

// Reschedule puts a transiently failed mutation back to pending with an
// incremented retry count and a future attempt time.
func (s *Store) Reschedule(localID int64, cause string, nextAttempt time.Time) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE mutation_queue
			SET state = 'pending', retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?
			WHERE id = ?
		`, cause, nextAttempt.UTC(), localID)
		return classifyStorageErr("reschedule mutation", err)
	})
}

// DeadLetter moves a mutation to the terminal dead state. It stays visible
// until the user retries or discards it; automatic sync never touches it again.
func (s *Store) DeadLetter(localID int64, cause string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			UPDATE mutation_queue SET state = 'dead', last_error = ?, next_attempt_at = NULL
			WHERE id = ?
		`, cause, localID)
		return classifyStorageErr("dead-letter mutation", err)
	})
}

// RetryDeadLetter returns a dead-lettered mutation to the pending queue
// with a fresh retry budget.
func (s *Store) RetryDeadLetter(localID int64) error {
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE mutation_queue
			SET state = 'pending', retry_count = 0, last_error = NULL, next_attempt_at = NULL
			WHERE id = ? AND state = 'dead'
		`, localID)
		if err != nil {
			return classifyStorageErr("retry dead letter", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("dead letter %d: %w", localID, ErrNotFound)
		}
		return nil
	})
}

// DiscardDeadLetter drops a dead-lettered mutation permanently.
func (s *Store) DiscardDeadLetter(localID int64) error {
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`DELETE FROM mutation_queue WHERE id = ? AND state = 'dead'`, localID)
		if err != nil {
			return classifyStorageErr("discard dead letter", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("dead letter %d: %w", localID, ErrNotFound)
		}
		return nil
	})
}

// DropPendingFor removes all pending mutations for one record (keep-remote
// resolution discards the local edits outright).
func (s *Store) DropPendingFor(table, id string) (int64, error) {
	var affected int64
	err := s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			DELETE FROM mutation_queue
			WHERE table_name = ? AND record_id = ? AND state IN ('pending', 'in_flight')
		`, table, id)
		if err != nil {
			return classifyStorageErr("drop pending", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// HasPendingFor reports whether any pending or in-flight mutation
// references the record.
func (s *Store) HasPendingFor(table, id string) (bool, error) {
	var count int
	err := s.conn.QueryRow(`
		SELECT COUNT(*) FROM mutation_queue
		WHERE table_name = ? AND record_id = ? AND state IN ('pending', 'in_flight')
	`, table, id).Scan(&count)
	if err != nil {
		return false, classifyStorageErr("check pending", err)
	}
	return count > 0, nil
}

// CountPending returns the number of pending mutations.
func (s *Store) CountPending() (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM mutation_queue WHERE state = 'pending'`).Scan(&count)
	return count, err
}

// CountDeadLetters returns the number of dead-lettered mutations.
func (s *Store) CountDeadLetters() (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM mutation_queue WHERE state = 'dead'`).Scan(&count)
	return count, err
}
