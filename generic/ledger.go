/*
ledger.go - Append-only movement journal

PURPOSE:
  The journal is the immutable source of truth for every quantity change.
  Materialized balances (stock rows, driver periods) are a cache kept in the
  same transaction; replaying the journal must always reproduce them.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. DOUBLE ENTRY: Every movement has a From and a To account.
  3. POSITIVE: Quantity is always > 0; direction is carried by From/To.

CORRECTIONS:
  A mistake is never edited. A compensating movement in the opposite
  direction is appended (e.g., a failed transfer moves bags from transit
  back to the sender). Both entries stay in the journal.

SEE ALSO:
  - balance.go: Replay of movements into balances
  - store/memory.go: In-memory journal
*/
package generic

import (
	"context"
	"fmt"
)

// =============================================================================
// JOURNAL - Append-only movement log
// =============================================================================

// Journal persists movements.
// IMPORTANT: APPEND-ONLY. Corrections are compensating movements.
type Journal interface {
	// AppendMovement is the only write operation.
	AppendMovement(ctx context.Context, m Movement) error
}

// MovementFilter selects movements for listing. Zero fields do not filter.
type MovementFilter struct {
	OrganizationID string
	Account        Account
	Types          []MovementType
	Page           PageRequest
	All            bool // ignore Page and return every match
}

// Matches applies the filter to a single movement.
func (f MovementFilter) Matches(m Movement) bool {
	if f.OrganizationID != "" && m.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Account != "" && !m.Touches(f.Account) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if m.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ValidateMovement checks the structural rules every journal entry obeys.
func ValidateMovement(m Movement) error {
	if m.From == "" || m.To == "" {
		return fmt.Errorf("%w: movement %s has no account", ErrInvalidMovement, m.ID)
	}
	if m.From == m.To {
		return fmt.Errorf("%w: movement %s moves %s onto itself", ErrInvalidMovement, m.ID, m.From)
	}
	if !m.Quantity.IsPositive() {
		return fmt.Errorf("%w: movement %s quantity %s", ErrInvalidMovement, m.ID, m.Quantity)
	}
	return nil
}
