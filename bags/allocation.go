package bags

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// ALLOCATION LEDGER - Per-driver balances
// =============================================================================

// AllocationLedger moves bags from stock into driver custody and tracks
// each driver's allocation periods.
//
// CARRY-OVER:
//   A new allocation closes the driver's current period. Whatever was still
//   available is carried into the new period as BagsFromPrevious and counted
//   in its AllocatedBags. No bags move for the carry-over, so the journal
//   only records the newly allocated count.
type AllocationLedger struct {
	*deps
}

// AllocationResult is what an allocation changed.
type AllocationResult struct {
	Period AllocationPeriod
	Closed *AllocationPeriod
	Stock  Stock
}

// AllocateBags gives count bags from stock to a driver.
func (l *AllocationLedger) AllocateBags(ctx context.Context, org OrganizationID, driver DriverID, count int) (AllocationResult, error) {
	if err := requireOrg(org); err != nil {
		return AllocationResult{}, err
	}
	if err := requireDriver("driver_id", driver); err != nil {
		return AllocationResult{}, err
	}
	if err := requireCount(count); err != nil {
		return AllocationResult{}, err
	}

	var out AllocationResult
	err := l.store.WithTx(ctx, func(tx Tx) error {
		stock, err := tx.LockStock(ctx, org)
		if err != nil {
			return err
		}
		if count > stock.AvailableBags {
			return &InsufficientStockError{OrganizationID: org, Available: stock.AvailableBags, Requested: count}
		}

		balance, err := lockDriver(ctx, tx, org, driver)
		if err != nil {
			return err
		}
		now := l.clock.Now()
		closed, opened := balance.Allocate(l.newID(), count, now)
		if closed != nil {
			if err := tx.UpdatePeriod(ctx, *closed); err != nil {
				return err
			}
		}
		if err := tx.InsertPeriod(ctx, *opened); err != nil {
			return err
		}

		stock.AvailableBags -= count
		stock.UpdatedAt = now
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}
		m := l.movement(ctx, org, MoveAllocated, StockAccount(org), DriverAccount(driver), count, opened.ID, "")
		if err := tx.AppendMovement(ctx, m); err != nil {
			return err
		}

		out = AllocationResult{Period: *opened, Closed: closed, Stock: stock}
		return nil
	})
	if err != nil {
		return AllocationResult{}, err
	}

	l.log.Info("bags allocated",
		zap.String("organization_id", string(org)),
		zap.String("driver_id", string(driver)),
		zap.Int("count", count),
		zap.Int("bags_from_previous", out.Period.BagsFromPrevious),
		zap.Int("stock_available", out.Stock.AvailableBags))
	return out, nil
}

// ConsumeForIssuance marks count bags of the driver's current period as
// used. It runs inside the caller's transaction so that a failure rolls back
// the caller's own writes too.
func (l *AllocationLedger) ConsumeForIssuance(ctx context.Context, tx Tx, org OrganizationID, driver DriverID, count int, issueID string) (AllocationPeriod, error) {
	if err := requireCount(count); err != nil {
		return AllocationPeriod{}, err
	}
	balance, err := lockDriver(ctx, tx, org, driver)
	if err != nil {
		return AllocationPeriod{}, err
	}
	if available := balance.Available(); count > available {
		return AllocationPeriod{}, &InsufficientDriverStockError{DriverID: driver, Available: available, Requested: count}
	}

	period := balance.Current
	period.UsedBags += count
	if err := tx.UpdatePeriod(ctx, *period); err != nil {
		return AllocationPeriod{}, err
	}
	m := l.movement(ctx, org, MoveIssued, DriverAccount(driver), ClientAccount(org), count, issueID, "")
	if err := tx.AppendMovement(ctx, m); err != nil {
		return AllocationPeriod{}, err
	}
	return *period, nil
}

// GetAllocationsForOrganization lists allocation periods, recent and
// previous, newest first. A non-nil match restricts the drivers.
func (l *AllocationLedger) GetAllocationsForOrganization(ctx context.Context, f PeriodFilter) ([]AllocationPeriod, int, error) {
	if err := requireOrg(f.OrganizationID); err != nil {
		return nil, 0, err
	}
	if f.Status != "" && f.Status != StatusRecent && f.Status != StatusPrevious {
		return nil, 0, invalidArg("status", "must be recent or previous")
	}
	f.Page = f.Page.Normalize()
	return l.store.ListPeriods(ctx, f)
}

// DriverHistory returns the driver's current period and archived ones.
func (l *AllocationLedger) DriverHistory(ctx context.Context, org OrganizationID, driver DriverID) (DriverBalance, error) {
	if err := requireOrg(org); err != nil {
		return DriverBalance{}, err
	}
	if err := requireDriver("driver_id", driver); err != nil {
		return DriverBalance{}, err
	}
	return l.store.DriverBalance(ctx, org, driver)
}

// CurrentAllocation is a convenience over DriverHistory for callers that only
// need the open period. ok is false for drivers without any allocation.
func (l *AllocationLedger) CurrentAllocation(ctx context.Context, org OrganizationID, driver DriverID) (AllocationPeriod, bool, error) {
	balance, err := l.DriverHistory(ctx, org, driver)
	if err != nil {
		return AllocationPeriod{}, false, err
	}
	if balance.Current == nil {
		return AllocationPeriod{}, false, nil
	}
	return *balance.Current, true, nil
}

// driverAvailable reports the current available count of every driver that
// holds bags, keyed by driver id.
func driverAvailable(periods []AllocationPeriod) map[DriverID]int {
	out := make(map[DriverID]int, len(periods))
	for _, p := range periods {
		if p.IsOpen() {
			out[p.DriverID] = p.AvailableBags()
		}
	}
	return out
}
