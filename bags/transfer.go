package bags

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// TRANSFER LEDGER - Driver-to-driver moves
// =============================================================================

// TransferLedger moves bags between drivers in two steps. Initiation deducts
// from the sender at once and parks the bags in transit; completion credits
// the receiver, failure gives them back to the sender. Both end states are
// final.
type TransferLedger struct {
	*deps
}

// TransferResult carries the transfer and the period it changed.
type TransferResult struct {
	Transfer   Transfer
	Allocation AllocationPeriod
}

// InitiateTransfer creates a pending transfer and deducts from the sender.
func (l *TransferLedger) InitiateTransfer(ctx context.Context, org OrganizationID, from, to DriverID, count int) (TransferResult, error) {
	if err := requireOrg(org); err != nil {
		return TransferResult{}, err
	}
	if err := requireDriver("from_driver_id", from); err != nil {
		return TransferResult{}, err
	}
	if err := requireDriver("to_driver_id", to); err != nil {
		return TransferResult{}, err
	}
	if from == to {
		return TransferResult{}, invalidArg("to_driver_id", "must differ from from_driver_id")
	}
	if err := requireCount(count); err != nil {
		return TransferResult{}, err
	}
	if _, err := l.directory.Driver(ctx, org, to); err != nil {
		return TransferResult{}, err
	}

	var out TransferResult
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockStock(ctx, org); err != nil {
			return err
		}
		source, err := lockDriver(ctx, tx, org, from)
		if err != nil {
			return err
		}
		if available := source.Available(); count > available {
			return &InsufficientDriverStockError{DriverID: from, Available: available, Requested: count}
		}

		period := source.Current
		period.TransferredOut += count
		if err := tx.UpdatePeriod(ctx, *period); err != nil {
			return err
		}
		transfer := Transfer{
			ID:             l.newID(),
			OrganizationID: org,
			FromDriverID:   from,
			ToDriverID:     to,
			NumberOfBags:   count,
			Status:         TransferPending,
			SourcePeriodID: period.ID,
			CreatedAt:      l.clock.Now(),
		}
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}
		m := l.movement(ctx, org, MoveTransferOut, DriverAccount(from), TransitAccount(org), count, transfer.ID, "")
		if err := tx.AppendMovement(ctx, m); err != nil {
			return err
		}
		out = TransferResult{Transfer: transfer, Allocation: *period}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	l.log.Info("transfer initiated",
		zap.String("organization_id", string(org)),
		zap.String("transfer_id", out.Transfer.ID),
		zap.String("from_driver_id", string(from)),
		zap.String("to_driver_id", string(to)),
		zap.Int("count", count))
	return out, nil
}

// CompleteTransfer credits the receiver. A receiver without any allocation
// gets a new period with nothing allocated and the transfer as its only
// credit.
func (l *TransferLedger) CompleteTransfer(ctx context.Context, org OrganizationID, id string) (TransferResult, error) {
	if err := requireOrg(org); err != nil {
		return TransferResult{}, err
	}

	var out TransferResult
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockStock(ctx, org); err != nil {
			return err
		}
		transfer, err := l.lockPending(ctx, tx, org, id)
		if err != nil {
			return err
		}
		receiver, err := lockDriver(ctx, tx, org, transfer.ToDriverID)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		period, opened := receiver.Receive(l.newID(), now)
		period.TransferredIn += transfer.NumberOfBags
		if opened {
			err = tx.InsertPeriod(ctx, *period)
		} else {
			err = tx.UpdatePeriod(ctx, *period)
		}
		if err != nil {
			return err
		}

		transfer.Status = TransferCompleted
		transfer.CompletedAt = &now
		if err := tx.UpdateTransfer(ctx, transfer); err != nil {
			return err
		}
		m := l.movement(ctx, org, MoveTransferIn, TransitAccount(org), DriverAccount(transfer.ToDriverID),
			transfer.NumberOfBags, transfer.ID, "")
		if err := tx.AppendMovement(ctx, m); err != nil {
			return err
		}
		out = TransferResult{Transfer: transfer, Allocation: *period}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	l.log.Info("transfer completed",
		zap.String("organization_id", string(org)),
		zap.String("transfer_id", id),
		zap.String("to_driver_id", string(out.Transfer.ToDriverID)),
		zap.Int("count", out.Transfer.NumberOfBags))
	return out, nil
}

// FailTransfer gives the bags back to the sender and records why.
func (l *TransferLedger) FailTransfer(ctx context.Context, org OrganizationID, id, notes string) (TransferResult, error) {
	if err := requireOrg(org); err != nil {
		return TransferResult{}, err
	}
	notes = strings.TrimSpace(notes)

	var out TransferResult
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockStock(ctx, org); err != nil {
			return err
		}
		transfer, err := l.lockPending(ctx, tx, org, id)
		if err != nil {
			return err
		}
		sender, err := lockDriver(ctx, tx, org, transfer.FromDriverID)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		period, opened := sender.Receive(l.newID(), now)
		restore(period, transfer)
		if opened {
			err = tx.InsertPeriod(ctx, *period)
		} else {
			err = tx.UpdatePeriod(ctx, *period)
		}
		if err != nil {
			return err
		}

		transfer.Status = TransferFailed
		transfer.Notes = notes
		if err := tx.UpdateTransfer(ctx, transfer); err != nil {
			return err
		}
		m := l.movement(ctx, org, MoveTransferReversed, TransitAccount(org), DriverAccount(transfer.FromDriverID),
			transfer.NumberOfBags, transfer.ID, notes)
		if err := tx.AppendMovement(ctx, m); err != nil {
			return err
		}
		out = TransferResult{Transfer: transfer, Allocation: *period}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	l.log.Info("transfer failed",
		zap.String("organization_id", string(org)),
		zap.String("transfer_id", id),
		zap.String("from_driver_id", string(out.Transfer.FromDriverID)),
		zap.Int("count", out.Transfer.NumberOfBags),
		zap.String("notes", notes))
	return out, nil
}

// restore undoes the sender's deduction. If the debited period is still the
// current one the deduction itself is reversed; after a re-allocation the
// bags come back as an incoming credit on the new period.
func restore(period *AllocationPeriod, t Transfer) {
	if period.ID == t.SourcePeriodID && period.TransferredOut >= t.NumberOfBags {
		period.TransferredOut -= t.NumberOfBags
		return
	}
	period.TransferredIn += t.NumberOfBags
}

func (l *TransferLedger) lockPending(ctx context.Context, tx Tx, org OrganizationID, id string) (Transfer, error) {
	transfer, err := tx.LockTransfer(ctx, org, id)
	if err != nil {
		return Transfer{}, err
	}
	if transfer.Status != TransferPending {
		return Transfer{}, &InvalidStateError{
			Entity: "transfer",
			ID:     id,
			State:  string(transfer.Status),
			Want:   string(TransferPending),
		}
	}
	return transfer, nil
}

// GetTransfer returns one transfer of the organization.
func (l *TransferLedger) GetTransfer(ctx context.Context, org OrganizationID, id string) (Transfer, error) {
	if err := requireOrg(org); err != nil {
		return Transfer{}, err
	}
	return l.store.GetTransfer(ctx, org, id)
}

// ListTransfers returns one page of transfers, newest first.
func (l *TransferLedger) ListTransfers(ctx context.Context, f TransferFilter) ([]Transfer, int, error) {
	if err := requireOrg(f.OrganizationID); err != nil {
		return nil, 0, err
	}
	switch f.Status {
	case "", TransferPending, TransferCompleted, TransferFailed:
	default:
		return nil, 0, invalidArg("status", "must be pending, completed or failed")
	}
	f.Page = f.Page.Normalize()
	return l.store.ListTransfers(ctx, f)
}
