package bags

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// STOCK LEDGER - Organization-level bag count
// =============================================================================

// StockLedger adds bags to and removes bags from an organization's stock.
// These are the only operations that change the number of bags in
// circulation.
type StockLedger struct {
	*deps
}

// AddBags increases stock by count.
func (l *StockLedger) AddBags(ctx context.Context, org OrganizationID, count int) (Stock, error) {
	if err := requireOrg(org); err != nil {
		return Stock{}, err
	}
	if err := requireCount(count); err != nil {
		return Stock{}, err
	}

	var out Stock
	err := l.store.WithTx(ctx, func(tx Tx) error {
		stock, err := tx.LockStock(ctx, org)
		if err != nil {
			return err
		}
		stock.AvailableBags += count
		stock.TotalAdded += count
		stock.UpdatedAt = l.clock.Now()
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}
		m := l.movement(ctx, org, MoveStockAdded, generic.AccountExternal, StockAccount(org), count, "", "")
		if err := tx.AppendMovement(ctx, m); err != nil {
			return err
		}
		out = stock
		return nil
	})
	if err != nil {
		return Stock{}, err
	}

	l.log.Info("stock added",
		zap.String("organization_id", string(org)),
		zap.Int("count", count),
		zap.Int("available", out.AvailableBags))
	return out, nil
}

// RemoveBags decreases stock by count. A reason is mandatory and stock can
// never go below zero.
func (l *StockLedger) RemoveBags(ctx context.Context, org OrganizationID, count int, reason string) (Stock, error) {
	if err := requireOrg(org); err != nil {
		return Stock{}, err
	}
	if err := requireCount(count); err != nil {
		return Stock{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Stock{}, invalidArg("reason", "required when removing bags")
	}

	var out Stock
	err := l.store.WithTx(ctx, func(tx Tx) error {
		stock, err := tx.LockStock(ctx, org)
		if err != nil {
			return err
		}
		if count > stock.AvailableBags {
			return &InsufficientStockError{OrganizationID: org, Available: stock.AvailableBags, Requested: count}
		}
		stock.AvailableBags -= count
		stock.TotalRemoved += count
		stock.UpdatedAt = l.clock.Now()
		if err := tx.SaveStock(ctx, stock); err != nil {
			return err
		}
		m := l.movement(ctx, org, MoveStockRemoved, StockAccount(org), generic.AccountExternal, count, "", reason)
		if err := tx.AppendMovement(ctx, m); err != nil {
			return err
		}
		out = stock
		return nil
	})
	if err != nil {
		return Stock{}, err
	}

	l.log.Info("stock removed",
		zap.String("organization_id", string(org)),
		zap.Int("count", count),
		zap.String("reason", reason),
		zap.Int("available", out.AvailableBags))
	return out, nil
}

// GetStock returns the current stock. An organization never touched has
// zero bags.
func (l *StockLedger) GetStock(ctx context.Context, org OrganizationID) (Stock, error) {
	if err := requireOrg(org); err != nil {
		return Stock{}, err
	}
	return l.store.GetStock(ctx, org)
}

// StockEntry is one line of the stock audit history.
type StockEntry struct {
	generic.Movement
	Delta int // signed effect on stock
}

// History lists every movement that touched the organization's stock,
// newest first.
func (l *StockLedger) History(ctx context.Context, org OrganizationID, page generic.PageRequest) ([]StockEntry, int, error) {
	if err := requireOrg(org); err != nil {
		return nil, 0, err
	}
	account := StockAccount(org)
	movements, total, err := l.store.ListMovements(ctx, generic.MovementFilter{
		OrganizationID: string(org),
		Account:        account,
		Page:           page.Normalize(),
	})
	if err != nil {
		return nil, 0, err
	}
	entries := make([]StockEntry, len(movements))
	for i, m := range movements {
		entries[i] = StockEntry{Movement: m, Delta: m.DeltaFor(account).Int()}
	}
	return entries, total, nil
}
