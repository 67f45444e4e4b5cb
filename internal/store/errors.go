package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a cached record or queue entry does not exist.
var ErrNotFound = errors.New("not found")

// StorageKind classifies storage failures so callers can react differently
// to a full disk than to a corrupt or unavailable database.
type StorageKind string

const (
	// KindFull means the underlying storage has no room left. Writes fail
	// without partial effects; the user must evict or free space.
	KindFull StorageKind = "full"
	// KindUnavailable covers locked, missing, or otherwise unreachable storage.
	KindUnavailable StorageKind = "unavailable"
)

// StorageError wraps a storage-level failure with its classification.
type StorageError struct {
	Kind StorageKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageFull reports whether err is a StorageError with KindFull.
func IsStorageFull(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == KindFull
}

// classifyStorageErr maps low-level sqlite errors onto the StorageError
// taxonomy. Non-storage errors pass through unchanged.
func classifyStorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database or disk is full"):
		return &StorageError{Kind: KindFull, Op: op, Err: err}
	case strings.Contains(msg, "unable to open database"),
		strings.Contains(msg, "database is locked"):
		return &StorageError{Kind: KindUnavailable, Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
