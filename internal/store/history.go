package store

import (
	"database/sql"
	"time"
)

// HistoryEntry is one row of the sync audit trail.
type HistoryEntry struct {
	ID        int64
	Direction string // "push", "pull", or "resolve"
	Op        string // "create", "update", "delete", "conflict"
	Table     string
	RecordID  string
	Detail    string
	Timestamp time.Time
}

func recordHistoryTx(tx *sql.Tx, e HistoryEntry) error {
	_, err := tx.Exec(`
		INSERT INTO sync_history (direction, op, table_name, record_id, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Direction, e.Op, e.Table, e.RecordID, e.Detail, e.Timestamp.UTC())
	return classifyStorageErr("record history", err)
}

// RecordHistory appends an entry to the sync audit trail.
func (s *Store) RecordHistory(e HistoryEntry) error {
	return s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return classifyStorageErr("begin", err)
		}
		defer tx.Rollback()
		if err := recordHistoryTx(tx, e); err != nil {
			return err
		}
		return classifyStorageErr("commit", tx.Commit())
	})
}

// HistoryTail returns the last N history entries in chronological order.
func (s *Store) HistoryTail(limit int) ([]HistoryEntry, error) {
	rows, err := s.conn.Query(`
		SELECT id, direction, op, table_name, record_id, detail, timestamp
		FROM sync_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, classifyStorageErr("history tail", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Direction, &e.Op, &e.Table, &e.RecordID, &e.Detail, &ts); err != nil {
			return nil, classifyStorageErr("scan history", err)
		}
		if t, err := parseTimestamp(ts); err == nil {
			e.Timestamp = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// PruneHistory deletes rows not in the newest maxRows entries.
func (s *Store) PruneHistory(maxRows int) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			DELETE FROM sync_history WHERE id NOT IN (
				SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
			)
		`, maxRows)
		return classifyStorageErr("prune history", err)
	})
}
