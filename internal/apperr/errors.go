// Package apperr defines the sentinel error kinds shared across the system.
package apperr

import "errors"

var (
	// ErrNotFound marks a missing note, chunk, agent, or scheduled message.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an illegal state transition, such as retiring a busy
	// agent or mutating a published API agent.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks malformed note fields or a schema mismatch.
	ErrValidation = errors.New("validation failed")
	// ErrUndeliverable marks a message addressed to a retired participant.
	ErrUndeliverable = errors.New("undeliverable")
	// ErrVersionMismatch marks query/index embedding version skew.
	ErrVersionMismatch = errors.New("embedding version mismatch")
	// ErrEmbeddingProvider marks a transient embedding provider failure.
	// Callers may retry; the indexer scopes it to the note being processed.
	ErrEmbeddingProvider = errors.New("embedding provider failure")
)

// IsRetryable reports whether the error kind is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbeddingProvider)
}
