/*
Package generic provides the domain-agnostic core of the bag ledger.

PURPOSE:
  This package contains types and algorithms that do not know what a bag,
  a driver or an organization is. They describe counted resources moving
  between accounts in an append-only, double-entry journal. The bags
  package gives those accounts their meaning.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 40 bags)
  - Account: A named bucket that holds a quantity (stock, driver, transit)
  - Movement: An immutable journal entry moving a quantity between accounts

DESIGN PRINCIPLES:
  1. Immutability: Movements are never modified, only compensated
  2. Precision: Uses decimal.Decimal so replay never drifts
  3. Double entry: Every movement debits one account and credits another,
     so the sum over all accounts is always zero

USAGE:
  m := generic.Movement{
      OrganizationID: "org-1",
      From:           generic.Account("external"),
      To:             generic.Account("stock:org-1"),
      Quantity:       generic.NewAmountFromInt(100, generic.UnitBags),
      Type:           "stock_added",
  }

SEE ALSO:
  - ledger.go: Journal interface and replay
  - balance.go: Per-account balances computed from movements
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitBags Unit = "bags"
)

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Int() int                  { return int(a.Value.IntPart()) }
func (a Amount) String() string            { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// COUNTS - Whole, positive quantities
// =============================================================================

// ParseCount converts a decoded number into a positive whole count.
// Fractional, zero and negative values fail with ErrInvalidAmount.
func ParseCount(d decimal.Decimal) (int, error) {
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not a whole number", ErrInvalidAmount, d.String())
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, d.String())
	}
	if !d.LessThanOrEqual(decimal.NewFromInt(maxCount)) {
		return 0, fmt.Errorf("%w: %s is too large", ErrInvalidAmount, d.String())
	}
	return int(d.IntPart()), nil
}

const maxCount = 1 << 31

// =============================================================================
// ACCOUNTS
// =============================================================================

// Account names a bucket in the journal. Accounts are plain strings of the
// form "<kind>:<id>" so stores can persist and filter them directly.
type Account string

// AccountExternal is the world outside the organization. Additions debit it
// and removals credit it, so its balance is always minus the net stock ever
// brought in.
const AccountExternal Account = "external"

func NewAccount(kind, id string) Account { return Account(kind + ":" + id) }

// =============================================================================
// MOVEMENT - Immutable journal entry
// =============================================================================

type MovementID string

// MovementType is defined by domain packages (e.g., "allocated", "returned").
type MovementType string

type Movement struct {
	ID             MovementID
	OrganizationID string
	Type           MovementType
	From           Account
	To             Account
	Quantity       Amount
	ReferenceID    string // entity the movement belongs to (period, issue, transfer)
	Reason         string
	ActorID        string
	CreatedAt      time.Time
}

// Touches reports whether the movement debits or credits the account.
func (m Movement) Touches(a Account) bool { return m.From == a || m.To == a }

// DeltaFor is the signed effect of the movement on one account.
func (m Movement) DeltaFor(a Account) Amount {
	switch a {
	case m.To:
		return m.Quantity
	case m.From:
		return m.Quantity.Neg()
	default:
		return m.Quantity.Zero()
	}
}
