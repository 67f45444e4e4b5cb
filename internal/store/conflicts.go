package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Conflict records a divergence between a locally modified record and a
// newer remote version. Terminal once resolved; while unresolved it blocks
// the record from automatic sync in both directions.
type Conflict struct {
	ID            int64
	Table         string
	RecordID      string
	LocalData     json.RawMessage
	RemoteData    json.RawMessage
	RemoteVersion string
	DetectedAt    time.Time
	Resolution    string
	Resolved      bool
	ResolvedAt    *time.Time
}

// InsertConflict persists a newly detected conflict. If the record already
// has an open conflict, the remote side of that conflict is refreshed in
// place instead, so resolution always works against the latest server
// state; the refresh path returns id 0.
func (s *Store) InsertConflict(c Conflict) (int64, error) {
	var id int64
	err := s.withWriteLock(func() error {
		localJSON := "null"
		if c.LocalData != nil {
			localJSON = string(c.LocalData)
		}
		remoteJSON := "null"
		if c.RemoteData != nil {
			remoteJSON = string(c.RemoteData)
		}

		res, err := s.conn.Exec(`
			UPDATE sync_conflicts SET remote_data = ?, remote_version = ?
			WHERE table_name = ? AND record_id = ? AND resolved = 0
		`, remoteJSON, c.RemoteVersion, c.Table, c.RecordID)
		if err != nil {
			return classifyStorageErr("refresh conflict", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		res, err = s.conn.Exec(`
			INSERT INTO sync_conflicts (table_name, record_id, local_data, remote_data, remote_version, detected_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.Table, c.RecordID, localJSON, remoteJSON, c.RemoteVersion, c.DetectedAt.UTC())
		if err != nil {
			return classifyStorageErr("insert conflict", err)
		}
		id, _ = res.LastInsertId()
		return nil
	})
	return id, err
}

// GetConflict returns a conflict by ID, or ErrNotFound.
func (s *Store) GetConflict(id int64) (*Conflict, error) {
	row := s.conn.QueryRow(`
		SELECT id, table_name, record_id, local_data, remote_data, remote_version,
		       detected_at, resolution, resolved, resolved_at
		FROM sync_conflicts WHERE id = ?
	`, id)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conflict %d: %w", id, ErrNotFound)
	}
	return c, err
}

// ListUnresolvedConflicts returns open conflicts, oldest first.
func (s *Store) ListUnresolvedConflicts() ([]Conflict, error) {
	rows, err := s.conn.Query(`
		SELECT id, table_name, record_id, local_data, remote_data, remote_version,
		       detected_at, resolution, resolved, resolved_at
		FROM sync_conflicts WHERE resolved = 0 ORDER BY id ASC
	`)
	if err != nil {
		return nil, classifyStorageErr("list conflicts", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConflict(row rowScanner) (*Conflict, error) {
	var (
		c             Conflict
		local, remote string
		detected      string
		resolved      int
		resolvedAt    sql.NullString
	)
	err := row.Scan(&c.ID, &c.Table, &c.RecordID, &local, &remote, &c.RemoteVersion,
		&detected, &c.Resolution, &resolved, &resolvedAt)
	if err != nil {
		return nil, err
	}
	c.LocalData = json.RawMessage(local)
	c.RemoteData = json.RawMessage(remote)
	c.Resolved = resolved != 0
	if t, err := parseTimestamp(detected); err == nil {
		c.DetectedAt = t
	}
	if resolvedAt.Valid {
		if t, err := parseTimestamp(resolvedAt.String); err == nil {
			c.ResolvedAt = &t
		}
	}
	return &c, nil
}

// MarkConflictResolved finalizes a conflict with the chosen resolution.
// Resolving twice is an error: resolved conflicts are terminal.
func (s *Store) MarkConflictResolved(id int64, resolution string) error {
	return s.withWriteLock(func() error {
		res, err := s.conn.Exec(`
			UPDATE sync_conflicts SET resolved = 1, resolution = ?, resolved_at = CURRENT_TIMESTAMP
			WHERE id = ? AND resolved = 0
		`, resolution, id)
		if err != nil {
			return classifyStorageErr("resolve conflict", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("unresolved conflict %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// HasOpenConflict reports whether a record is blocked by an unresolved conflict.
func (s *Store) HasOpenConflict(table, id string) (bool, error) {
	var count int
	err := s.conn.QueryRow(`
		SELECT COUNT(*) FROM sync_conflicts WHERE table_name = ? AND record_id = ? AND resolved = 0
	`, table, id).Scan(&count)
	return count > 0, err
}

// CountUnresolvedConflicts returns the number of open conflicts.
func (s *Store) CountUnresolvedConflicts() (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM sync_conflicts WHERE resolved = 0`).Scan(&count)
	return count, err
}
