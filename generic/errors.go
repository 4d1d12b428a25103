/*
errors.go - Centralized error types for the generic core

PURPOSE:
  All domain-agnostic error types in one place. Domain packages wrap or
  alias these so callers can use errors.Is without importing every layer.

ERROR CATEGORIES:
  1. Lookup errors - Missing records
  2. Concurrency errors - Lock waits that timed out
  3. Validation errors - Malformed amounts and movements

USAGE:
    if errors.Is(err, generic.ErrContention) {
        // tell the caller to retry later
    }

SEE ALSO:
  - bags/errors.go: Domain errors built on these
  - store/sqlstore/errors.go: Maps driver errors onto these
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrContention is returned when a lock could not be acquired within the
	// configured wait. Nothing is retried automatically.
	ErrContention = errors.New("contention: lock wait timed out")

	// ErrInvalidAmount is returned for counts that are not positive whole numbers.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidMovement is returned when a journal entry breaks double entry.
	ErrInvalidMovement = errors.New("invalid movement")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the kind and id of the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
