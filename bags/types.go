/*
Package bags implements the bag inventory and allocation ledger.

PURPOSE:
  Tracks collection bags as they move between an organization's central
  stock, its drivers and the clients drivers hand bags to. Every change is
  an immutable movement in the generic journal plus an update of a
  materialized balance, committed together.

KEY CONCEPTS IN THIS FILE (types.go):
  - Stock:            Bags in the organization's warehouse
  - AllocationPeriod: One allocation cycle of a driver
  - DriverBalance:    A driver's current period plus archived ones
  - Issue:            A driver-to-client handoff gated by a one-time code
  - Transfer:         A driver-to-driver move with pending/completed/failed state
  - Return:           Bags going back from a driver into stock

ACCOUNTS:
  external          outside the organization
  stock:<org>       the organization's warehouse
  driver:<id>       a driver's custody
  transit:<org>     bags in pending transfers
  client:<org>      bags handed to clients

CONSERVATION:
  stock + Σ driver available + transit + client == added - removed.
  Only AddBags and RemoveBags change the right-hand side.

SEE ALSO:
  - engine.go: Component wiring
  - generic/ledger.go: Journal contract
*/
package bags

import (
	"strings"
	"time"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrganizationID string
type DriverID string
type ClientID string

// =============================================================================
// ACCOUNTS & MOVEMENT TYPES
// =============================================================================

func StockAccount(org OrganizationID) generic.Account {
	return generic.NewAccount("stock", string(org))
}

func DriverAccount(driver DriverID) generic.Account {
	return generic.NewAccount("driver", string(driver))
}

func TransitAccount(org OrganizationID) generic.Account {
	return generic.NewAccount("transit", string(org))
}

func ClientAccount(org OrganizationID) generic.Account {
	return generic.NewAccount("client", string(org))
}

const driverAccountPrefix = "driver:"

const (
	MoveStockAdded       generic.MovementType = "stock_added"
	MoveStockRemoved     generic.MovementType = "stock_removed"
	MoveAllocated        generic.MovementType = "allocated"
	MoveIssued           generic.MovementType = "issued"
	MoveTransferOut      generic.MovementType = "transfer_out"
	MoveTransferIn       generic.MovementType = "transfer_in"
	MoveTransferReversed generic.MovementType = "transfer_reversed"
	MoveReturned         generic.MovementType = "returned"
)

func bagAmount(n int) generic.Amount { return generic.NewAmountFromInt(n, generic.UnitBags) }

// =============================================================================
// STOCK
// =============================================================================

type Stock struct {
	OrganizationID OrganizationID
	AvailableBags  int
	TotalAdded     int
	TotalRemoved   int
	UpdatedAt      time.Time
}

// =============================================================================
// ALLOCATION PERIODS
// =============================================================================

type AllocationStatus string

const (
	StatusRecent   AllocationStatus = "recent"
	StatusPrevious AllocationStatus = "previous"
)

// AllocationPeriod is one allocation cycle. AllocatedBags already includes
// BagsFromPrevious. Available is derived, never stored.
type AllocationPeriod struct {
	ID               string
	OrganizationID   OrganizationID
	DriverID         DriverID
	AllocatedBags    int
	BagsFromPrevious int
	UsedBags         int
	TransferredIn    int
	TransferredOut   int
	ReturnedBags     int
	generic.Period
}

func (p AllocationPeriod) AvailableBags() int {
	return p.AllocatedBags + p.TransferredIn - p.TransferredOut - p.ReturnedBags - p.UsedBags
}

func (p AllocationPeriod) Status() AllocationStatus {
	if p.IsOpen() {
		return StatusRecent
	}
	return StatusPrevious
}

// DriverBalance is the aggregate of a driver's periods. Current is nil for a
// driver who never received bags.
type DriverBalance struct {
	OrganizationID OrganizationID
	DriverID       DriverID
	Current        *AllocationPeriod
	Previous       []AllocationPeriod // newest first
}

func (b DriverBalance) Available() int {
	if b.Current == nil {
		return 0
	}
	return b.Current.AvailableBags()
}

// Allocate closes the current period and opens a new one carrying the
// leftover forward. It returns the closed period (nil if none) and the new one.
func (b *DriverBalance) Allocate(id string, count int, now time.Time) (*AllocationPeriod, *AllocationPeriod) {
	var closed *AllocationPeriod
	leftover := 0
	if b.Current != nil {
		leftover = b.Current.AvailableBags()
		b.Current.Close(now)
		closed = b.Current
		b.Previous = append([]AllocationPeriod{*closed}, b.Previous...)
	}
	b.Current = &AllocationPeriod{
		ID:               id,
		OrganizationID:   b.OrganizationID,
		DriverID:         b.DriverID,
		AllocatedBags:    count + leftover,
		BagsFromPrevious: leftover,
		Period:           generic.OpenPeriod(now),
	}
	return closed, b.Current
}

// Receive makes sure the driver has a current period to credit, opening an
// empty one if needed. The bool reports whether a period was opened.
func (b *DriverBalance) Receive(id string, now time.Time) (*AllocationPeriod, bool) {
	if b.Current != nil {
		return b.Current, false
	}
	b.Current = &AllocationPeriod{
		ID:             id,
		OrganizationID: b.OrganizationID,
		DriverID:       b.DriverID,
		Period:         generic.OpenPeriod(now),
	}
	return b.Current, true
}

// =============================================================================
// ISSUES
// =============================================================================

type IssueStatus string

const (
	IssueVerified IssueStatus = "verified"
	IssuePending  IssueStatus = "pending"
	IssueExpired  IssueStatus = "expired"
)

type Issue struct {
	ID             string
	OrganizationID OrganizationID
	DriverID       DriverID
	ClientID       ClientID
	ClientEmail    string
	NumberOfBags   int
	OTPHash        string
	OTPExpiresAt   time.Time
	Verified       bool
	IssuedAt       *time.Time
	ResendCount    int
	CreatedAt      time.Time
}

// IsExpired is the single expiry rule: an unverified issue expires strictly
// after its code's expiry instant.
func IsExpired(issue Issue, now time.Time) bool {
	return !issue.Verified && now.After(issue.OTPExpiresAt)
}

// Status derives the display status. Expiry is computed, never stored.
func (i Issue) Status(now time.Time) IssueStatus {
	switch {
	case i.Verified:
		return IssueVerified
	case IsExpired(i, now):
		return IssueExpired
	default:
		return IssuePending
	}
}

// =============================================================================
// TRANSFERS
// =============================================================================

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

type Transfer struct {
	ID             string
	OrganizationID OrganizationID
	FromDriverID   DriverID
	ToDriverID     DriverID
	NumberOfBags   int
	Status         TransferStatus
	SourcePeriodID string // period debited on initiation
	Notes          string
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// =============================================================================
// RETURNS
// =============================================================================

// Return is the view of a "returned" movement.
type Return struct {
	ID             string
	OrganizationID OrganizationID
	DriverID       DriverID
	NumberOfBags   int
	Reason         string
	ActorID        string
	ProcessedAt    time.Time
}

func returnFromMovement(m generic.Movement) Return {
	return Return{
		ID:             string(m.ID),
		OrganizationID: OrganizationID(m.OrganizationID),
		DriverID:       DriverID(strings.TrimPrefix(string(m.From), driverAccountPrefix)),
		NumberOfBags:   m.Quantity.Int(),
		Reason:         m.Reason,
		ActorID:        m.ActorID,
		ProcessedAt:    m.CreatedAt,
	}
}
