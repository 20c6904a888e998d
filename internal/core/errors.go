package core

import (
	"errors"
	"fmt"
)

// AuthError means the server rejected the account's credentials. It is fatal
// for that account's worker and is never retried automatically.
type AuthError struct {
	Account string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for account %s: %v", e.Account, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is or wraps an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ConnectionError is a transient mailbox failure. The connection is
// considered invalid and the worker reconnects with backoff.
type ConnectionError struct {
	Account string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error on account %s during %s: %v", e.Account, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is or wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// StorageError means the fingerprint store is unavailable. Workers stall the
// current cycle and retry; dedup checks are never skipped.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("fingerprint store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

// ErrMessageGone means a message listed earlier is no longer present in its
// folder, typically because another client moved or deleted it. Callers skip
// the message without recording it.
var ErrMessageGone = errors.New("message no longer in folder")

// ClassificationError marks a single message the classifier could not
// categorize. The message stays in place and is retried on a later cycle
// because its fingerprint is never recorded.
type ClassificationError struct {
	Fingerprint string
	Reason      string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed for %s: %s", e.Fingerprint, e.Reason)
}

// IsClassificationError reports whether err is or wraps a ClassificationError.
func IsClassificationError(err error) bool {
	var classErr *ClassificationError
	return errors.As(err, &classErr)
}
