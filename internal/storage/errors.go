package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrSessionFinished is returned when an answer is recorded against a
// review session that has already ended.
var ErrSessionFinished = errors.New("review session finished")

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StorageError reports a local persistence failure. When it is returned from
// a write, nothing the write attempted has been committed.
type StorageError struct {
	Op    string // e.g. "put", "commit"
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, table string, err error) error {
	return &StorageError{Op: op, Table: table, Err: err}
}

func notFound(table, id string) error {
	return fmt.Errorf("%s %q: %w", table, id, ErrNotFound)
}
