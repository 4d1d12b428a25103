/*
engine.go - Wiring of the ledger components

PURPOSE:
  Builds the six components over one Store and the shared collaborators.
  Each component owns one part of the lifecycle:

    Stock        AddBags, RemoveBags, history
    Allocations  AllocateBags, ConsumeForIssuance, driver views
    Issuances    RequestIssuance, VerifyIssuance, ResendCode
    Transfers    InitiateTransfer, CompleteTransfer, FailTransfer
    Returns      ProcessReturn
    Auditor      Journal replay against materialized balances

USAGE:
  engine := bags.New(store,
      bags.WithLogger(logger),
      bags.WithDirectory(dir),
      bags.WithNotifier(notifier),
  )
  stock, err := engine.Stock.AddBags(ctx, "org-1", 100)

SEE ALSO:
  - store.go: Store contract
  - report/: Read-side facade over the components
*/
package bags

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

const DefaultOTPTTL = 15 * time.Minute

// Engine groups the ledger components.
type Engine struct {
	Stock       *StockLedger
	Allocations *AllocationLedger
	Issuances   *IssuanceLedger
	Transfers   *TransferLedger
	Returns     *ReturnProcessor
	Auditor     *Auditor

	Directory Directory
	Clock     generic.Clock
}

// deps are shared by every component.
type deps struct {
	store     Store
	clock     generic.Clock
	log       *zap.Logger
	newID     func() string
	directory Directory
	notifier  Notifier
	codes     CodeGenerator
	hasher    CodeHasher
	otpTTL    time.Duration
}

type Option func(*deps)

func WithClock(c generic.Clock) Option         { return func(d *deps) { d.clock = c } }
func WithLogger(l *zap.Logger) Option          { return func(d *deps) { d.log = l } }
func WithNotifier(n Notifier) Option           { return func(d *deps) { d.notifier = n } }
func WithCodeGenerator(g CodeGenerator) Option { return func(d *deps) { d.codes = g } }
func WithIDs(f func() string) Option           { return func(d *deps) { d.newID = f } }

// WithDirectory sets the identity directory. A nil directory keeps the
// permissive default.
func WithDirectory(dir Directory) Option {
	return func(d *deps) {
		if dir != nil {
			d.directory = dir
		}
	}
}

// WithOTPTTL sets how long an issuance code stays valid.
func WithOTPTTL(ttl time.Duration) Option { return func(d *deps) { d.otpTTL = ttl } }

// WithCodeHashCost sets the bcrypt cost of stored codes.
func WithCodeHashCost(cost int) Option { return func(d *deps) { d.hasher.Cost = cost } }

func New(store Store, opts ...Option) *Engine {
	d := &deps{
		store:     store,
		clock:     generic.SystemClock{},
		log:       zap.NewNop(),
		newID:     uuid.NewString,
		directory: openDirectory{},
		notifier:  discardNotifier{},
		codes:     LuhnCodes{},
		otpTTL:    DefaultOTPTTL,
	}
	for _, opt := range opts {
		opt(d)
	}

	allocations := &AllocationLedger{deps: d}
	return &Engine{
		Stock:       &StockLedger{deps: d},
		Allocations: allocations,
		Issuances:   &IssuanceLedger{deps: d, allocations: allocations},
		Transfers:   &TransferLedger{deps: d},
		Returns:     &ReturnProcessor{deps: d},
		Auditor:     &Auditor{deps: d},
		Directory:   d.directory,
		Clock:       d.clock,
	}
}

// Store exposes the underlying store for read-only callers.
func (e *Engine) Store() Reader { return e.Stock.store }

// =============================================================================
// SHARED HELPERS
// =============================================================================

// movement builds a journal entry stamped with the actor and clock.
func (d *deps) movement(ctx context.Context, org OrganizationID, typ generic.MovementType,
	from, to generic.Account, count int, ref, reason string) generic.Movement {
	return generic.Movement{
		ID:             generic.MovementID(d.newID()),
		OrganizationID: string(org),
		Type:           typ,
		From:           from,
		To:             to,
		Quantity:       bagAmount(count),
		ReferenceID:    ref,
		Reason:         reason,
		ActorID:        generic.ActorFromContext(ctx),
		CreatedAt:      d.clock.Now(),
	}
}

func requireOrg(org OrganizationID) error {
	if org == "" {
		return invalidArg("organization_id", "required")
	}
	return nil
}

func requireCount(count int) error {
	if count <= 0 {
		return invalidArg("number_of_bags", "must be a positive whole number")
	}
	return nil
}

func requireDriver(field string, id DriverID) error {
	if id == "" {
		return invalidArg(field, "required")
	}
	return nil
}

// lockDriver locks a single driver and returns its balance.
func lockDriver(ctx context.Context, tx Tx, org OrganizationID, driver DriverID) (*DriverBalance, error) {
	balances, err := tx.LockDrivers(ctx, org, driver)
	if err != nil {
		return nil, err
	}
	return balances[driver], nil
}
