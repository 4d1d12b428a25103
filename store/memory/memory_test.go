package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

var t0 = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

func TestWithTx_FailedTransactionIsDiscarded(t *testing.T) {
	// GIVEN: A transaction that changes stock and inserts a period, then fails
	// THEN: Readers still see the state from before it started
	s := New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx bags.Tx) error {
		stock, err := tx.LockStock(ctx, "org-1")
		require.NoError(t, err)
		stock.AvailableBags = 25
		require.NoError(t, tx.SaveStock(ctx, stock))
		require.NoError(t, tx.InsertPeriod(ctx, bags.AllocationPeriod{
			ID: "p-1", OrganizationID: "org-1", DriverID: "driver-a", AllocatedBags: 5,
			Period: generic.OpenPeriod(t0),
		}))
		return errors.New("boom")
	})
	require.Error(t, err)

	stock, err := s.GetStock(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stock.AvailableBags)

	orgs, err := s.ListOrganizations(ctx)
	require.NoError(t, err)
	assert.Empty(t, orgs)

	balance, err := s.DriverBalance(ctx, "org-1", "driver-a")
	require.NoError(t, err)
	assert.Nil(t, balance.Current)
}

func TestInsertPeriod_OneOpenPeriodPerDriver(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx bags.Tx) error {
		p := bags.AllocationPeriod{ID: "p-1", OrganizationID: "org-1", DriverID: "driver-a", Period: generic.OpenPeriod(t0)}
		require.NoError(t, tx.InsertPeriod(ctx, p))
		p.ID = "p-2"
		return tx.InsertPeriod(ctx, p)
	})
	assert.ErrorIs(t, err, generic.ErrInvalidMovement)
}

func TestLookups_AreScopedToOrganization(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx bags.Tx) error {
		if err := tx.InsertIssue(ctx, bags.Issue{ID: "i-1", OrganizationID: "org-1", OTPExpiresAt: t0}); err != nil {
			return err
		}
		return tx.InsertTransfer(ctx, bags.Transfer{ID: "t-1", OrganizationID: "org-1", Status: bags.TransferPending})
	}))

	_, err := s.GetIssue(ctx, "org-2", "i-1")
	assert.True(t, generic.IsNotFound(err))
	_, err = s.GetTransfer(ctx, "org-2", "t-1")
	assert.True(t, generic.IsNotFound(err))

	issue, err := s.GetIssue(ctx, "org-1", "i-1")
	require.NoError(t, err)
	assert.Equal(t, "i-1", issue.ID)
}

func TestWithTx_CancelledContext(t *testing.T) {
	s := NewWithTimeout(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	held := make(chan struct{})
	release := make(chan struct{})
	go s.WithTx(context.Background(), func(bags.Tx) error {
		close(held)
		<-release
		return nil
	})
	<-held

	cancel()
	err := s.WithTx(ctx, func(bags.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
}
