package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harlan/fieldsync/internal/payload"
)

// CachedRecord is a local snapshot of a server-side row.
// At most one exists per (table, id).
type CachedRecord struct {
	Table         string
	ID            string
	Payload       json.RawMessage
	ServerVersion string // remote updated_at as of the last sync
	Dirty         bool
	SyncedAt      *time.Time
	DeletedAt     *time.Time
}

// GetRecord returns the cached record for (table, id), or ErrNotFound.
func (s *Store) GetRecord(table, id string) (*CachedRecord, error) {
	var (
		r                   CachedRecord
		data                string
		syncedAt, deletedAt sql.NullString
		dirty               int
	)
	err := s.conn.QueryRow(`
		SELECT table_name, record_id, payload, server_version, dirty, synced_at, deleted_at
		FROM cached_records WHERE table_name = ? AND record_id = ?
	`, table, id).Scan(&r.Table, &r.ID, &data, &r.ServerVersion, &dirty, &syncedAt, &deletedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s/%s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, classifyStorageErr("get record", err)
	}

	r.Payload = json.RawMessage(data)
	r.Dirty = dirty != 0
	if syncedAt.Valid {
		if t, err := parseTimestamp(syncedAt.String); err == nil {
			r.SyncedAt = &t
		}
	}
	if deletedAt.Valid {
		if t, err := parseTimestamp(deletedAt.String); err == nil {
			r.DeletedAt = &t
		}
	}
	return &r, nil
}

// PutLocal records a local edit: the cached record is upserted with the
// dirty flag set and a matching mutation is enqueued, all in one
// transaction so a quota failure leaves both untouched.
// The operation kind is derived from whether the record already exists.
func (s *Store) PutLocal(table, id string, data json.RawMessage) (*QueuedMutation, error) {
	if err := payload.Validate(table, data); err != nil {
		return nil, fmt.Errorf("validate payload: %w", err)
	}

	var mut *QueuedMutation
	err := s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return classifyStorageErr("begin", err)
		}
		defer tx.Rollback()

		op := OpCreate
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM cached_records WHERE table_name = ? AND record_id = ? AND deleted_at IS NULL`,
			table, id).Scan(&exists); err != nil {
			return classifyStorageErr("check existing", err)
		}
		if exists > 0 {
			op = OpUpdate
		}

		if _, err := tx.Exec(`
			INSERT INTO cached_records (table_name, record_id, payload, dirty, deleted_at)
			VALUES (?, ?, ?, 1, NULL)
			ON CONFLICT(table_name, record_id) DO UPDATE SET
			  payload = excluded.payload, dirty = 1, deleted_at = NULL
		`, table, id, string(data)); err != nil {
			return classifyStorageErr("upsert record", err)
		}

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

// DeleteLocal tombstones a cached record and enqueues a delete mutation.
func (s *Store) DeleteLocal(table, id string) (*QueuedMutation, error) {
	var mut *QueuedMutation
	err := s.withWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return classifyStorageErr("begin", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`
			UPDATE cached_records SET deleted_at = ?, dirty = 1
			WHERE table_name = ? AND record_id = ? AND deleted_at IS NULL
		`, time.Now().UTC(), table, id)
		if err != nil {
			return classifyStorageErr("tombstone record", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %s/%s: %w", table, id, ErrNotFound)
		}

		mut, err = enqueueTx(tx, table, id, OpDelete, json.RawMessage("{}"))
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

// PutRemote applies a record pulled from the server: the payload replaces
// the cached copy, the dirty flag clears, and the server version advances.
func (s *Store) PutRemote(table, id string, data json.RawMessage, version string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO cached_records (table_name, record_id, payload, server_version, dirty, synced_at, deleted_at)
			VALUES (?, ?, ?, ?, 0, CURRENT_TIMESTAMP, NULL)
			ON CONFLICT(table_name, record_id) DO UPDATE SET
			  payload = excluded.payload, server_version = excluded.server_version,
			  dirty = 0, synced_at = CURRENT_TIMESTAMP, deleted_at = NULL
		`, table, id, string(data), version)
		return classifyStorageErr("apply remote record", err)
	})
}

// RemoveRecord drops a cached record entirely (remote-confirmed delete or eviction).
func (s *Store) RemoveRecord(table, id string) error {
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`DELETE FROM cached_records WHERE table_name = ? AND record_id = ?`, table, id)
		return classifyStorageErr("remove record", err)
	})
}

// MarkRecordSynced clears the dirty flag and advances the server version
// after a mutation for the record was acknowledged remotely.
// The flag survives when later pending mutations still reference the record.
func (s *Store) MarkRecordSynced(tx *sql.Tx, table, id, version string) error {
	var pending int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM mutation_queue
		WHERE table_name = ? AND record_id = ? AND state IN ('pending', 'in_flight')
	`, table, id).Scan(&pending); err != nil {
		return classifyStorageErr("count pending for record", err)
	}

	dirty := 0
	if pending > 0 {
		dirty = 1
	}
	_, err := tx.Exec(`
		UPDATE cached_records SET dirty = ?, server_version = ?, synced_at = CURRENT_TIMESTAMP
		WHERE table_name = ? AND record_id = ?
	`, dirty, version, table, id)
	return classifyStorageErr("mark record synced", err)
}

// SetRecordState overwrites a cached row's payload, server version, and
// dirty flag without touching the mutation queue. Conflict resolution
// uses it to install the winning version.
func (s *Store) SetRecordState(table, id string, data json.RawMessage, version string, dirty bool) error {
	d := 0
	if dirty {
		d = 1
	}
	return s.withWriteLock(func() error {
		_, err := s.conn.Exec(`
			INSERT INTO cached_records (table_name, record_id, payload, server_version, dirty, synced_at, deleted_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, NULL)
			ON CONFLICT(table_name, record_id) DO UPDATE SET
			  payload = excluded.payload, server_version = excluded.server_version,
			  dirty = excluded.dirty, deleted_at = NULL
		`, table, id, string(data), version, d)
		return classifyStorageErr("set record state", err)
	})
}

// ListRecords returns non-deleted cached records for a table, newest-synced last.
// When dirtyOnly is set, only locally modified records are returned.
func (s *Store) ListRecords(table string, dirtyOnly bool) ([]CachedRecord, error) {
	query := `
		SELECT table_name, record_id, payload, server_version, dirty, synced_at, deleted_at
		FROM cached_records WHERE table_name = ? AND deleted_at IS NULL`
	if dirtyOnly {
		query += ` AND dirty = 1`
	}
	query += ` ORDER BY record_id`

	rows, err := s.conn.Query(query, table)
	if err != nil {
		return nil, classifyStorageErr("list records", err)
	}
	defer rows.Close()

	var records []CachedRecord
	for rows.Next() {
		var (
			r                   CachedRecord
			data                string
			syncedAt, deletedAt sql.NullString
			dirty               int
		)
		if err := rows.Scan(&r.Table, &r.ID, &data, &r.ServerVersion, &dirty, &syncedAt, &deletedAt); err != nil {
			return nil, classifyStorageErr("scan record", err)
		}
		r.Payload = json.RawMessage(data)
		r.Dirty = dirty != 0
		if syncedAt.Valid {
			if t, err := parseTimestamp(syncedAt.String); err == nil {
				r.SyncedAt = &t
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountDirtyRecords returns the number of locally modified records.
func (s *Store) CountDirtyRecords() (int64, error) {
	var count int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM cached_records WHERE dirty = 1`).Scan(&count)
	return count, err
}
