/*
errors.go - Error kinds of the bag ledger

PURPOSE:
  Every failure a ledger operation reports is one of these kinds. Callers
  test with errors.Is against the sentinels; the structured types carry the
  numbers needed for a useful message.

KINDS:
  InvalidArgument          malformed input (count <= 0, missing reason, self transfer)
  NotFound                 unknown issue, transfer or driver
  InsufficientStock        organization stock too low
  InsufficientDriverStock  driver available too low
  AlreadyVerified          issue was already verified
  Expired                  code expiry passed before verification
  InvalidCode              code malformed or not matching
  InvalidState             transfer is no longer pending
  Contention               lock wait timed out

SEE ALSO:
  - generic/errors.go: ErrNotFound and ErrContention live there
  - api/handlers.go: Maps kinds onto HTTP status codes
*/
package bags

import (
	"errors"
	"fmt"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInsufficientDriverStock = errors.New("insufficient driver stock")
	ErrAlreadyVerified         = errors.New("already verified")
	ErrExpired                 = errors.New("code expired")
	ErrInvalidCode             = errors.New("invalid code")
	ErrInvalidState            = errors.New("invalid state")

	// Shared with the generic layer so stores can report them directly.
	ErrNotFound   = generic.ErrNotFound
	ErrContention = generic.ErrContention
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidArgumentError names the offending field.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

func invalidArg(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}

// InsufficientStockError reports an organization stock shortage.
type InsufficientStockError struct {
	OrganizationID OrganizationID
	Available      int
	Requested      int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientDriverStockError reports a driver custody shortage.
type InsufficientDriverStockError struct {
	DriverID  DriverID
	Available int
	Requested int
}

func (e *InsufficientDriverStockError) Error() string {
	return fmt.Sprintf("insufficient driver stock for %s: available %d, requested %d",
		e.DriverID, e.Available, e.Requested)
}

func (e *InsufficientDriverStockError) Unwrap() error { return ErrInsufficientDriverStock }

// InvalidStateError reports an operation on an entity that left the state
// the operation needs.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Want   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Entity, e.ID, e.State, e.Want)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input or
// the current state of the ledger rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, generic.ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientDriverStock) ||
		errors.Is(err, ErrAlreadyVerified) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrNotFound)
}

// Kind returns a stable snake_case name for the error kind, or "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, generic.ErrInvalidAmount):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInsufficientDriverStock):
		return "insufficient_driver_stock"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrContention):
		return "contention"
	default:
		return "internal"
	}
}
