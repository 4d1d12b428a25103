package bags

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// RETURN PROCESSOR - Driver custody back to stock
// =============================================================================

// ReturnProcessor takes bags back from a driver into organization stock.
// The single "returned" movement is the audit entry for both sides: it shows
// up in the stock history and in the driver's journal.
type ReturnProcessor struct {
	*deps
}

type ReturnResult struct {
	Return     Return
	Stock      Stock
	Allocation AllocationPeriod
}

// ProcessReturn moves count bags from the driver back to stock. A reason is
// mandatory.
func (p *ReturnProcessor) ProcessReturn(ctx context.Context, org OrganizationID, driver DriverID, count int, reason string) (ReturnResult, error) {
	if err := requireOrg(org); err != nil {
		return ReturnResult{}, err
	}
	if err := requireDriver("driver_id", driver); err != nil {
		return ReturnResult{}, err
	}
	if err := requireCount(count); err != nil {
		return ReturnResult{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ReturnResult{}, invalidArg("reason", "required when returning bags")
	}

	var out ReturnResult
	err := p.store.WithTx(ctx, func(tx Tx) error {
		stock, err := tx.LockStock(ctx, org)
		if err != nil {
			return err
		}
		balance, err := lockDriver(ctx, tx, org, driver)
		if err != nil {
			return err
		}
		if available := balance.Available(); count > available {
			return &InsufficientDriverStockError{DriverID: driver, Available: available, Requested: count}
		}

		period := balance.Current
		period.ReturnedBags += count
		if err := tx.UpdatePeriod(ctx, *period); err != nil {
			return err
		}
		stock.AvailableBags += count
		stock.UpdatedAt = p.clock.Now()
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}
		m := p.movement(ctx, org, MoveReturned, DriverAccount(driver), StockAccount(org), count, period.ID, reason)
		if err := tx.AppendMovement(ctx, m); err != nil {
			return err
		}
		out = ReturnResult{Return: returnFromMovement(m), Stock: stock, Allocation: *period}
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}

	p.log.Info("bags returned",
		zap.String("organization_id", string(org)),
		zap.String("driver_id", string(driver)),
		zap.Int("count", count),
		zap.String("reason", reason),
		zap.Int("stock_available", out.Stock.AvailableBags))
	return out, nil
}

// ListReturns lists processed returns, newest first.
func (p *ReturnProcessor) ListReturns(ctx context.Context, org OrganizationID, page generic.PageRequest) ([]Return, int, error) {
	if err := requireOrg(org); err != nil {
		return nil, 0, err
	}
	movements, total, err := p.store.ListMovements(ctx, generic.MovementFilter{
		OrganizationID: string(org),
		Types:          []generic.MovementType{MoveReturned},
		Page:           page.Normalize(),
	})
	if err != nil {
		return nil, 0, err
	}
	out := make([]Return, len(movements))
	for i, m := range movements {
		out[i] = returnFromMovement(m)
	}
	return out, total, nil
}
