package store

import (
	"database/sql"
	"time"
)

// GetCursor returns the pull cursor for a table: the newest remote version
// seen on a previous pull, or "" when the table was never pulled.
func (s *Store) GetCursor(table string) (string, error) {
	var cursor string
	err := s.conn.QueryRow(`SELECT last_pulled_at FROM sync_cursors WHERE table_name = ?`, table).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return cursor, err
}

// SetCursor advances the pull cursor for a table.
func (s *Store) SetCursor(table, cursor string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO sync_cursors (table_name, last_pulled_at, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(table_name) DO UPDATE SET
			  last_pulled_at = excluded.last_pulled_at, updated_at = CURRENT_TIMESTAMP
		`, table, cursor)
		return classifyStorageErr("set cursor", err)
	})
}

// LastSyncAt returns the completion time of the last successful sync cycle,
// or nil if none has completed.
func (s *Store) LastSyncAt() (*time.Time, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM sync_meta WHERE key = 'last_sync_at'`).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := parseTimestamp(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetLastSyncAt stamps the completion of a sync cycle.
func (s *Store) SetLastSyncAt(t time.Time) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT OR REPLACE INTO sync_meta (key, value) VALUES ('last_sync_at', ?)
		`, t.UTC().Format(time.RFC3339))
		return classifyStorageErr("set last sync", err)
	})
}
