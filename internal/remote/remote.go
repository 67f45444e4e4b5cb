// Package remote defines the backend interface the sync engine talks to,
// plus an HTTP implementation for the fieldsync server.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
)

// Record is a server-side row as seen by the client. UpdatedAt is the
// server's version string for the row; two reads of the same version
// return the same string.
type Record struct {
	ID        string          `json:"id"`
	TableName string          `json:"table_name"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt string          `json:"updated_at"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// Service is the backend surface the engine depends on. The HTTP client
// implements it; tests substitute a fake.
type Service interface {
	// CreateRecord inserts a row. clientID deduplicates retried requests:
	// replaying a create with a known clientID returns the existing row.
	CreateRecord(ctx context.Context, table, id string, payload json.RawMessage, clientID string) (*Record, error)

	// UpdateRecord overwrites a row's payload and returns the new version.
	UpdateRecord(ctx context.Context, table, id string, payload json.RawMessage, clientID string) (*Record, error)

	// DeleteRecord removes a row. Deleting an absent row returns ErrNotFound;
	// callers treat that as already-done.
	DeleteRecord(ctx context.Context, table, id, clientID string) error

	// ListRecordsSince returns rows in table changed after the given
	// cursor (server timestamp, empty for everything), oldest first.
	ListRecordsSince(ctx context.Context, table, since string) ([]Record, error)

	// Health verifies the server is reachable.
	Health(ctx context.Context) error
}
