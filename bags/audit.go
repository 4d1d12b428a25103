package bags

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// AUDITOR - Journal replay against materialized balances
// =============================================================================

// Auditor replays an organization's journal and compares every account
// with the row the ledger keeps for it. A clean report proves the
// materialized balances and the conservation equation agree with history.
type Auditor struct {
	*deps
}

// errReadOnly rolls back the audit's transaction.
var errReadOnly = errors.New("read only")

// AccountCheck compares one account's replayed and materialized balances.
type AccountCheck struct {
	Account      generic.Account
	Journal      int
	Materialized int
}

func (c AccountCheck) OK() bool { return c.Journal == c.Materialized }

// AuditReport is the outcome of one audit.
type AuditReport struct {
	OrganizationID OrganizationID
	Movements      int
	Accounts       []AccountCheck

	// Conservation: InStock + WithDrivers + InTransit + WithClients must
	// equal Added - Removed.
	Added       int
	Removed     int
	InStock     int
	WithDrivers int
	InTransit   int
	WithClients int
}

func (r AuditReport) InCirculation() int { return r.Added - r.Removed }

func (r AuditReport) Accounted() int {
	return r.InStock + r.WithDrivers + r.InTransit + r.WithClients
}

// Discrepancies lists every account whose balances disagree.
func (r AuditReport) Discrepancies() []AccountCheck {
	var out []AccountCheck
	for _, c := range r.Accounts {
		if !c.OK() {
			out = append(out, c)
		}
	}
	return out
}

// Balanced is true when every account agrees and bags are conserved.
func (r AuditReport) Balanced() bool {
	return len(r.Discrepancies()) == 0 && r.Accounted() == r.InCirculation()
}

// Audit replays the organization's journal. It holds the stock lock while
// reading, so no mutation of the organization commits in between, and
// writes nothing.
func (a *Auditor) Audit(ctx context.Context, org OrganizationID) (AuditReport, error) {
	if err := requireOrg(org); err != nil {
		return AuditReport{}, err
	}

	var (
		movements []generic.Movement
		stock     Stock
		periods   []AllocationPeriod
		pending   []Transfer
		issued    IssueTotals
	)
	err := a.store.WithTx(ctx, func(tx Tx) error {
		var err error
		if stock, err = tx.LockStock(ctx, org); err != nil {
			return fmt.Errorf("audit stock: %w", err)
		}
		if movements, _, err = tx.ListMovements(ctx, generic.MovementFilter{OrganizationID: string(org), All: true}); err != nil {
			return fmt.Errorf("audit movements: %w", err)
		}
		if periods, _, err = tx.ListPeriods(ctx, PeriodFilter{OrganizationID: org, Status: StatusRecent, All: true}); err != nil {
			return fmt.Errorf("audit periods: %w", err)
		}
		if pending, _, err = tx.ListTransfers(ctx, TransferFilter{OrganizationID: org, Status: TransferPending, All: true}); err != nil {
			return fmt.Errorf("audit transfers: %w", err)
		}
		if issued, err = tx.IssueTotals(ctx, IssueFilter{OrganizationID: org, Now: a.clock.Now()}); err != nil {
			return fmt.Errorf("audit issues: %w", err)
		}
		return errReadOnly
	})
	if err != nil && !errors.Is(err, errReadOnly) {
		return AuditReport{}, err
	}

	balances := generic.Replay(generic.UnitBags, movements)
	report := AuditReport{
		OrganizationID: org,
		Movements:      len(movements),
		Added:          stock.TotalAdded,
		Removed:        stock.TotalRemoved,
		InStock:        stock.AvailableBags,
		WithClients:    issued.VerifiedBags,
	}

	report.Accounts = append(report.Accounts, AccountCheck{
		Account:      StockAccount(org),
		Journal:      balances.Of(StockAccount(org)).Int(),
		Materialized: stock.AvailableBags,
	})

	available := driverAvailable(periods)
	seen := make(map[DriverID]bool)
	for _, p := range periods {
		seen[p.DriverID] = true
		report.WithDrivers += p.AvailableBags()
		report.Accounts = append(report.Accounts, AccountCheck{
			Account:      DriverAccount(p.DriverID),
			Journal:      balances.Of(DriverAccount(p.DriverID)).Int(),
			Materialized: p.AvailableBags(),
		})
	}
	// Drivers the journal knows but with no open period must hold nothing.
	for _, acct := range balances.WithPrefix(driverAccountPrefix) {
		driver := DriverID(acct[len(driverAccountPrefix):])
		if seen[driver] {
			continue
		}
		report.Accounts = append(report.Accounts, AccountCheck{
			Account:      acct,
			Journal:      balances.Of(acct).Int(),
			Materialized: available[driver],
		})
	}

	for _, t := range pending {
		report.InTransit += t.NumberOfBags
	}
	report.Accounts = append(report.Accounts,
		AccountCheck{
			Account:      TransitAccount(org),
			Journal:      balances.Of(TransitAccount(org)).Int(),
			Materialized: report.InTransit,
		},
		AccountCheck{
			Account:      ClientAccount(org),
			Journal:      balances.Of(ClientAccount(org)).Int(),
			Materialized: issued.VerifiedBags,
		},
		AccountCheck{
			Account:      generic.AccountExternal,
			Journal:      balances.InCirculation().Int(),
			Materialized: report.InCirculation(),
		},
	)

	if report.Balanced() {
		a.log.Debug("audit balanced",
			zap.String("organization_id", string(org)),
			zap.Int("movements", report.Movements),
			zap.Int("in_circulation", report.InCirculation()))
	} else {
		a.log.Warn("audit found discrepancies",
			zap.String("organization_id", string(org)),
			zap.Int("discrepancies", len(report.Discrepancies())),
			zap.Int("accounted", report.Accounted()),
			zap.Int("in_circulation", report.InCirculation()))
	}
	return report, nil
}
