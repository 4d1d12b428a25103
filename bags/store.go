/*
store.go - Persistence contract of the bag ledger

PURPOSE:
  Separates the ledger's rules from how rows are stored and locked.

KEY INTERFACES:
  Tx:      The view passed to WithTx. Lock* methods take row locks that are
           held until commit or rollback.
  Reader:  Lock-free reads used by list endpoints and the audit.
  Store:   Reader plus WithTx.

LOCK ORDER:
  Every mutation locks in this order:
    1. LockStock(org)               per-organization mutual exclusion
    2. LockIssue / LockTransfer     the entity being changed, if any
    3. LockDrivers(org, ids...)     drivers, sorted by id
  LockStock creates the stock row on first touch so it always exists to
  lock. A lock wait beyond the store's timeout returns ErrContention.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite, PostgreSQL, MySQL
  - store/memory:   In-memory

SEE ALSO:
  - generic/store.go: TxStore contract
*/
package bags

import (
	"context"
	"time"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// Tx is the transactional view of the store.
type Tx interface {
	generic.Journal
	Lister

	LockStock(ctx context.Context, org OrganizationID) (Stock, error)
	SaveStock(ctx context.Context, stock Stock) error

	// LockDrivers returns one balance per driver with only the current
	// period loaded. Drivers without periods get a balance with Current nil.
	LockDrivers(ctx context.Context, org OrganizationID, drivers ...DriverID) (map[DriverID]*DriverBalance, error)
	InsertPeriod(ctx context.Context, p AllocationPeriod) error
	UpdatePeriod(ctx context.Context, p AllocationPeriod) error

	LockIssue(ctx context.Context, org OrganizationID, id string) (Issue, error)
	InsertIssue(ctx context.Context, issue Issue) error
	UpdateIssue(ctx context.Context, issue Issue) error

	LockTransfer(ctx context.Context, org OrganizationID, id string) (Transfer, error)
	InsertTransfer(ctx context.Context, t Transfer) error
	UpdateTransfer(ctx context.Context, t Transfer) error
}

// Lister holds the list reads a transaction can make too.
type Lister interface {
	ListPeriods(ctx context.Context, f PeriodFilter) ([]AllocationPeriod, int, error)
	IssueTotals(ctx context.Context, f IssueFilter) (IssueTotals, error)
	ListTransfers(ctx context.Context, f TransferFilter) ([]Transfer, int, error)
	ListMovements(ctx context.Context, f generic.MovementFilter) ([]generic.Movement, int, error)
}

// Reader serves reads outside transactions.
type Reader interface {
	Lister

	GetStock(ctx context.Context, org OrganizationID) (Stock, error)
	ListOrganizations(ctx context.Context) ([]OrganizationID, error)

	DriverBalance(ctx context.Context, org OrganizationID, driver DriverID) (DriverBalance, error)

	GetIssue(ctx context.Context, org OrganizationID, id string) (Issue, error)
	ListIssues(ctx context.Context, f IssueFilter) ([]Issue, int, error)

	GetTransfer(ctx context.Context, org OrganizationID, id string) (Transfer, error)
}

// Store is everything the engine needs.
type Store interface {
	Reader
	generic.TxStore[Tx]
}

// =============================================================================
// FILTERS
// =============================================================================

// PartyMatch restricts results to rows involving the listed parties. A nil
// *PartyMatch means no restriction; a non-nil one with empty lists matches
// nothing (a search that found no one).
type PartyMatch struct {
	DriverIDs []DriverID
	ClientIDs []ClientID
}

func (m *PartyMatch) Empty() bool {
	return m != nil && len(m.DriverIDs) == 0 && len(m.ClientIDs) == 0
}

func (m *PartyMatch) HasDriver(id DriverID) bool {
	for _, d := range m.DriverIDs {
		if d == id {
			return true
		}
	}
	return false
}

func (m *PartyMatch) HasClient(id ClientID) bool {
	for _, c := range m.ClientIDs {
		if c == id {
			return true
		}
	}
	return false
}

type PeriodFilter struct {
	OrganizationID OrganizationID
	DriverID       DriverID
	Status         AllocationStatus
	Match          *PartyMatch
	Page           generic.PageRequest
	All            bool
}

// Matches applies the filter in memory.
func (f PeriodFilter) Matches(p AllocationPeriod) bool {
	if p.OrganizationID != f.OrganizationID {
		return false
	}
	if f.DriverID != "" && p.DriverID != f.DriverID {
		return false
	}
	if f.Status != "" && p.Status() != f.Status {
		return false
	}
	if f.Match != nil && !f.Match.HasDriver(p.DriverID) {
		return false
	}
	return true
}

type IssueFilter struct {
	OrganizationID OrganizationID
	Status         IssueStatus
	Match          *PartyMatch // driver OR client
	Now            time.Time   // reference instant for the expired status
	Page           generic.PageRequest
}

func (f IssueFilter) Matches(i Issue) bool {
	if i.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Status != "" {
		switch f.Status {
		case IssueVerified:
			if !i.Verified {
				return false
			}
		case IssuePending:
			if i.Verified {
				return false
			}
		case IssueExpired:
			if !IsExpired(i, f.Now) {
				return false
			}
		}
	}
	if f.Match != nil && !f.Match.HasDriver(i.DriverID) && !f.Match.HasClient(i.ClientID) {
		return false
	}
	return true
}

// IssueTotals are counters over every issue matching a filter, ignoring paging.
type IssueTotals struct {
	Issuances     int
	Bags          int
	VerifiedCount int
	VerifiedBags  int
	PendingCount  int
	PendingBags   int
	ExpiredCount  int
}

// Add counts one issue into the totals.
func (t *IssueTotals) Add(i Issue, now time.Time) {
	t.Issuances++
	t.Bags += i.NumberOfBags
	if i.Verified {
		t.VerifiedCount++
		t.VerifiedBags += i.NumberOfBags
		return
	}
	t.PendingCount++
	t.PendingBags += i.NumberOfBags
	if IsExpired(i, now) {
		t.ExpiredCount++
	}
}

type TransferFilter struct {
	OrganizationID OrganizationID
	Status         TransferStatus
	Match          *PartyMatch // from OR to driver
	Page           generic.PageRequest
	All            bool
}

func (f TransferFilter) Matches(t Transfer) bool {
	if t.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Match != nil && !f.Match.HasDriver(t.FromDriverID) && !f.Match.HasDriver(t.ToDriverID) {
		return false
	}
	return true
}
