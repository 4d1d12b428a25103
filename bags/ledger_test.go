package bags_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
	"github.com/Wizard254-ux/gabbage-web-sub000/store/memory"
	"github.com/Wizard254-ux/gabbage-web-sub000/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const org = bags.OrganizationID("org-1")

var start = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

// recordingNotifier keeps every code it was asked to deliver.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []bags.IssuanceCode
	fail error
}

func (n *recordingNotifier) SendIssuanceCode(_ context.Context, msg bags.IssuanceCode) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.fail
}

func (n *recordingNotifier) codeFor(t *testing.T, issueID string) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].IssueID == issueID {
			return n.sent[i].Code
		}
	}
	t.Fatalf("no code sent for issue %s", issueID)
	return ""
}

type harness struct {
	engine *bags.Engine
	store  bags.Store
	clock  *generic.ManualClock
	notes  *recordingNotifier
}

type storeFactory func(t *testing.T) bags.Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) bags.Store { return memory.New() },
		"sqlite": func(t *testing.T) bags.Store {
			store, err := sqlstore.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func newHarness(t *testing.T, store bags.Store) *harness {
	h := &harness{
		store: store,
		clock: generic.NewManualClock(start),
		notes: &recordingNotifier{},
	}
	h.engine = bags.New(store,
		bags.WithClock(h.clock),
		bags.WithNotifier(h.notes),
		bags.WithCodeHashCost(bcrypt.MinCost),
	)
	return h
}

// eachStore runs the test once per store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, newHarness(t, factory(t)))
		})
	}
}

func (h *harness) available(t *testing.T, driver bags.DriverID) int {
	t.Helper()
	balance, err := h.engine.Allocations.DriverHistory(context.Background(), org, driver)
	require.NoError(t, err)
	return balance.Available()
}

// issue requests and verifies a handoff in one go.
func (h *harness) issue(t *testing.T, driver bags.DriverID, client bags.ClientID, count int) bags.VerifyResult {
	t.Helper()
	ctx := context.Background()
	issue, err := h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
		OrganizationID: org,
		DriverID:       driver,
		ClientID:       client,
		ClientEmail:    string(client) + "@example.com",
		NumberOfBags:   count,
	})
	require.NoError(t, err)
	res, err := h.engine.Issuances.VerifyIssuance(ctx, org, issue.ID, h.notes.codeFor(t, issue.ID))
	require.NoError(t, err)
	return res
}

func (h *harness) requireBalanced(t *testing.T) bags.AuditReport {
	t.Helper()
	report, err := h.engine.Auditor.Audit(context.Background(), org)
	require.NoError(t, err)
	require.Empty(t, report.Discrepancies())
	require.True(t, report.Balanced(), "accounted %d, in circulation %d", report.Accounted(), report.InCirculation())
	return report
}

// wrongCode returns a well-formed code different from code.
func wrongCode(code string) string {
	other := bags.CodeWithCheckDigit(11111)
	if other == code {
		other = bags.CodeWithCheckDigit(22222)
	}
	return other
}

// =============================================================================
// END-TO-END
// =============================================================================

func TestLedger_EndToEnd(t *testing.T) {
	// GIVEN: 100 bags in stock and driver A holding 40
	// WHEN: A issues 5, transfers 10 to B which completes, and returns 5
	// THEN: A holds 20, B holds 10, stock has 65 and the audit balances
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()

		stock, err := h.engine.Stock.AddBags(ctx, org, 100)
		require.NoError(t, err)
		assert.Equal(t, 100, stock.AvailableBags)

		alloc, err := h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 40)
		require.NoError(t, err)
		assert.Equal(t, 60, alloc.Stock.AvailableBags)
		assert.Nil(t, alloc.Closed)

		verified := h.issue(t, "driver-a", "client-1", 5)
		assert.True(t, verified.Issue.Verified)
		assert.NotNil(t, verified.Issue.IssuedAt)
		assert.Equal(t, 35, verified.Allocation.AvailableBags())

		tr, err := h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-b", 10)
		require.NoError(t, err)
		assert.Equal(t, bags.TransferPending, tr.Transfer.Status)
		assert.Equal(t, 25, h.available(t, "driver-a"))
		assert.Equal(t, 0, h.available(t, "driver-b"), "pending transfer credits nobody")

		done, err := h.engine.Transfers.CompleteTransfer(ctx, org, tr.Transfer.ID)
		require.NoError(t, err)
		assert.Equal(t, bags.TransferCompleted, done.Transfer.Status)
		assert.NotNil(t, done.Transfer.CompletedAt)

		ret, err := h.engine.Returns.ProcessReturn(ctx, org, "driver-a", 5, "end of shift")
		require.NoError(t, err)
		assert.Equal(t, 65, ret.Stock.AvailableBags)

		assert.Equal(t, 20, h.available(t, "driver-a"))
		assert.Equal(t, 10, h.available(t, "driver-b"))

		report := h.requireBalanced(t)
		assert.Equal(t, 65, report.InStock)
		assert.Equal(t, 30, report.WithDrivers)
		assert.Equal(t, 0, report.InTransit)
		assert.Equal(t, 5, report.WithClients)
		assert.Equal(t, 100, report.InCirculation())
	})
}

// =============================================================================
// STOCK
// =============================================================================

func TestStock_RemoveRules(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 10)
		require.NoError(t, err)

		_, err = h.engine.Stock.RemoveBags(ctx, org, 3, "  ")
		assert.ErrorIs(t, err, bags.ErrInvalidArgument, "reason is mandatory")

		_, err = h.engine.Stock.RemoveBags(ctx, org, 11, "damaged")
		var short *bags.InsufficientStockError
		require.ErrorAs(t, err, &short)
		assert.Equal(t, 10, short.Available)
		assert.Equal(t, 11, short.Requested)

		stock, err := h.engine.Stock.RemoveBags(ctx, org, 4, "damaged")
		require.NoError(t, err)
		assert.Equal(t, 6, stock.AvailableBags)
		assert.Equal(t, 10, stock.TotalAdded)
		assert.Equal(t, 4, stock.TotalRemoved)
		h.requireBalanced(t)
	})
}

func TestStock_InvalidArguments(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()

		_, err := h.engine.Stock.AddBags(ctx, org, 0)
		assert.ErrorIs(t, err, bags.ErrInvalidArgument)
		_, err = h.engine.Stock.AddBags(ctx, org, -5)
		assert.ErrorIs(t, err, bags.ErrInvalidArgument)
		_, err = h.engine.Stock.AddBags(ctx, "", 5)
		assert.ErrorIs(t, err, bags.ErrInvalidArgument)

		stock, err := h.engine.Stock.GetStock(ctx, org)
		require.NoError(t, err)
		assert.Equal(t, 0, stock.AvailableBags, "rejected calls leave no trace")
	})
}

func TestStock_History(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 50)
		require.NoError(t, err)
		_, err = h.engine.Stock.RemoveBags(ctx, org, 5, "torn")
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 20)
		require.NoError(t, err)
		_, err = h.engine.Returns.ProcessReturn(ctx, org, "driver-a", 2, "unused")
		require.NoError(t, err)

		entries, total, err := h.engine.Stock.History(ctx, org, generic.NewPageRequest(1, 10))
		require.NoError(t, err)
		require.Equal(t, 4, total)
		require.Len(t, entries, 4)

		// Newest first
		assert.Equal(t, bags.MoveReturned, entries[0].Type)
		assert.Equal(t, 2, entries[0].Delta)
		assert.Equal(t, bags.MoveAllocated, entries[1].Type)
		assert.Equal(t, -20, entries[1].Delta)
		assert.Equal(t, bags.MoveStockRemoved, entries[2].Type)
		assert.Equal(t, "torn", entries[2].Reason)
		assert.Equal(t, bags.MoveStockAdded, entries[3].Type)
		assert.Equal(t, 50, entries[3].Delta)

		page2, total, err := h.engine.Stock.History(ctx, org, generic.NewPageRequest(2, 3))
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, page2, 1)
		assert.Equal(t, bags.MoveStockAdded, page2[0].Type)
	})
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func TestAllocation_CarryOver(t *testing.T) {
	// GIVEN: Driver got 10 bags and issued 3
	// WHEN: Driver is allocated 5 more
	// THEN: The old period closes with 7 available and the new one starts
	//       with 12 allocated, 7 of them carried over
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 100)
		require.NoError(t, err)
		first, err := h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)
		h.issue(t, "driver-a", "client-1", 3)

		h.clock.Advance(24 * time.Hour)
		second, err := h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 5)
		require.NoError(t, err)

		require.NotNil(t, second.Closed)
		assert.Equal(t, first.Period.ID, second.Closed.ID)
		assert.Equal(t, bags.StatusPrevious, second.Closed.Status())
		assert.Equal(t, 7, second.Closed.AvailableBags())

		assert.Equal(t, 12, second.Period.AllocatedBags)
		assert.Equal(t, 7, second.Period.BagsFromPrevious)
		assert.Equal(t, 12, second.Period.AvailableBags())
		assert.Equal(t, 85, second.Stock.AvailableBags)

		history, err := h.engine.Allocations.DriverHistory(ctx, org, "driver-a")
		require.NoError(t, err)
		require.NotNil(t, history.Current)
		assert.Equal(t, second.Period.ID, history.Current.ID)
		require.Len(t, history.Previous, 1)
		assert.Equal(t, 3, history.Previous[0].UsedBags)
		h.requireBalanced(t)
	})
}

func TestAllocation_InsufficientStock(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 5)
		require.NoError(t, err)

		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 6)
		assert.ErrorIs(t, err, bags.ErrInsufficientStock)

		_, ok, err := h.engine.Allocations.CurrentAllocation(ctx, org, "driver-a")
		require.NoError(t, err)
		assert.False(t, ok, "failed allocation opens no period")
	})
}

func TestAllocation_ListByStatus(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 100)
		require.NoError(t, err)
		for _, d := range []bags.DriverID{"driver-a", "driver-b", "driver-a"} {
			_, err := h.engine.Allocations.AllocateBags(ctx, org, d, 10)
			require.NoError(t, err)
		}

		recent, total, err := h.engine.Allocations.GetAllocationsForOrganization(ctx, bags.PeriodFilter{
			OrganizationID: org, Status: bags.StatusRecent,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, recent, 2)

		previous, total, err := h.engine.Allocations.GetAllocationsForOrganization(ctx, bags.PeriodFilter{
			OrganizationID: org, Status: bags.StatusPrevious,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, previous, 1)
		assert.Equal(t, bags.DriverID("driver-a"), previous[0].DriverID)

		matched, total, err := h.engine.Allocations.GetAllocationsForOrganization(ctx, bags.PeriodFilter{
			OrganizationID: org, Match: &bags.PartyMatch{DriverIDs: []bags.DriverID{"driver-b"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, matched, 1)
		assert.Equal(t, bags.DriverID("driver-b"), matched[0].DriverID)

		none, total, err := h.engine.Allocations.GetAllocationsForOrganization(ctx, bags.PeriodFilter{
			OrganizationID: org, Match: &bags.PartyMatch{},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, none)

		_, _, err = h.engine.Allocations.GetAllocationsForOrganization(ctx, bags.PeriodFilter{
			OrganizationID: org, Status: "archived",
		})
		assert.ErrorIs(t, err, bags.ErrInvalidArgument)
	})
}

// =============================================================================
// ISSUANCES
// =============================================================================

func TestIssuance_RequestReservesNothing(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)

		issue, err := h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 4,
		})
		require.NoError(t, err)
		assert.False(t, issue.Verified)
		assert.Equal(t, bags.IssuePending, issue.Status(h.clock.Now()))
		assert.Equal(t, start.Add(bags.DefaultOTPTTL), issue.OTPExpiresAt)
		assert.NotEqual(t, h.notes.codeFor(t, issue.ID), issue.OTPHash, "only the hash is stored")
		assert.True(t, bags.WellFormedCode(h.notes.codeFor(t, issue.ID)))
		assert.Equal(t, 10, h.available(t, "driver-a"))

		_, err = h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 11,
		})
		assert.ErrorIs(t, err, bags.ErrInsufficientDriverStock)
	})
}

func TestIssuance_Expired(t *testing.T) {
	// GIVEN: A pending issue
	// WHEN: The code is submitted after the TTL
	// THEN: Verification fails with Expired and the driver keeps the bags;
	//       a resent code verifies
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)
		issue, err := h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 2,
		})
		require.NoError(t, err)
		code := h.notes.codeFor(t, issue.ID)

		h.clock.Advance(bags.DefaultOTPTTL)
		assert.Equal(t, bags.IssuePending, issue.Status(h.clock.Now()), "expiry is strictly after the deadline")

		h.clock.Advance(time.Second)
		_, err = h.engine.Issuances.VerifyIssuance(ctx, org, issue.ID, code)
		assert.ErrorIs(t, err, bags.ErrExpired)
		assert.Equal(t, 10, h.available(t, "driver-a"))

		resent, err := h.engine.Issuances.ResendCode(ctx, org, issue.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, resent.ResendCount)
		assert.True(t, resent.OTPExpiresAt.After(h.clock.Now()))

		res, err := h.engine.Issuances.VerifyIssuance(ctx, org, issue.ID, h.notes.codeFor(t, issue.ID))
		require.NoError(t, err)
		assert.Equal(t, 8, res.Allocation.AvailableBags())
		h.requireBalanced(t)
	})
}

func TestIssuance_AlreadyVerified(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)
		res := h.issue(t, "driver-a", "client-1", 3)

		_, err = h.engine.Issuances.VerifyIssuance(ctx, org, res.Issue.ID, h.notes.codeFor(t, res.Issue.ID))
		assert.ErrorIs(t, err, bags.ErrAlreadyVerified)
		_, err = h.engine.Issuances.ResendCode(ctx, org, res.Issue.ID)
		assert.ErrorIs(t, err, bags.ErrAlreadyVerified)
		assert.Equal(t, 7, h.available(t, "driver-a"), "bags consumed once")
	})
}

func TestIssuance_InvalidCode(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)
		issue, err := h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 2,
		})
		require.NoError(t, err)
		code := h.notes.codeFor(t, issue.ID)

		for _, bad := range []string{"", "12345", "abcdef", "1234567", wrongCode(code)} {
			_, err = h.engine.Issuances.VerifyIssuance(ctx, org, issue.ID, bad)
			assert.ErrorIs(t, err, bags.ErrInvalidCode, "code %q", bad)
		}

		got, err := h.engine.Issuances.GetIssue(ctx, org, issue.ID)
		require.NoError(t, err)
		assert.False(t, got.Verified, "wrong codes leave the issue pending")

		_, err = h.engine.Issuances.VerifyIssuance(ctx, org, issue.ID, " "+code+" ")
		require.NoError(t, err)
	})
}

func TestIssuance_VerifyRechecksDriverBalance(t *testing.T) {
	// GIVEN: A pending issue for all 10 of the driver's bags
	// WHEN: The driver transfers 5 away before the client verifies
	// THEN: Verification fails and nothing changes
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)
		issue, err := h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 10,
		})
		require.NoError(t, err)
		_, err = h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-b", 5)
		require.NoError(t, err)

		_, err = h.engine.Issuances.VerifyIssuance(ctx, org, issue.ID, h.notes.codeFor(t, issue.ID))
		assert.ErrorIs(t, err, bags.ErrInsufficientDriverStock)

		got, err := h.engine.Issuances.GetIssue(ctx, org, issue.ID)
		require.NoError(t, err)
		assert.False(t, got.Verified, "verification rolled back with the consumption")
		h.requireBalanced(t)
	})
}

func TestIssuance_TenantIsolation(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)
		issue, err := h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 2,
		})
		require.NoError(t, err)

		_, err = h.engine.Issuances.VerifyIssuance(ctx, "org-2", issue.ID, h.notes.codeFor(t, issue.ID))
		assert.ErrorIs(t, err, bags.ErrNotFound)
		_, err = h.engine.Issuances.GetIssue(ctx, "org-2", issue.ID)
		assert.True(t, generic.IsNotFound(err))
	})
}

func TestIssuance_NotifierFailureKeepsIssue(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)

		h.notes.fail = errors.New("smtp down")
		issue, err := h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 2,
		})
		require.NoError(t, err, "delivery failures do not fail the request")

		got, err := h.engine.Issuances.GetIssue(ctx, org, issue.ID)
		require.NoError(t, err)
		assert.Equal(t, bags.IssuePending, got.Status(h.clock.Now()))
	})
}

func TestIssuance_ListTotalsCoverEveryMatch(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 50)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 30)
		require.NoError(t, err)

		h.issue(t, "driver-a", "client-1", 2)
		h.issue(t, "driver-a", "client-2", 3)
		_, err = h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-3",
			ClientEmail: "c3@example.com", NumberOfBags: 4,
		})
		require.NoError(t, err)
		h.clock.Advance(time.Hour)
		_, err = h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 1,
		})
		require.NoError(t, err)

		page, total, totals, err := h.engine.Issuances.ListIssuances(ctx, bags.IssueFilter{
			OrganizationID: org, Page: generic.NewPageRequest(1, 2),
		})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, page, 2)
		assert.Equal(t, 4, totals.Issuances)
		assert.Equal(t, 10, totals.Bags)
		assert.Equal(t, 2, totals.VerifiedCount)
		assert.Equal(t, 5, totals.VerifiedBags)
		assert.Equal(t, 2, totals.PendingCount)
		assert.Equal(t, 5, totals.PendingBags)
		assert.Equal(t, 1, totals.ExpiredCount)

		expired, total, _, err := h.engine.Issuances.ListIssuances(ctx, bags.IssueFilter{
			OrganizationID: org, Status: bags.IssueExpired,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, expired, 1)
		assert.Equal(t, bags.ClientID("client-3"), expired[0].ClientID)

		byClient, total, totals, err := h.engine.Issuances.ListIssuances(ctx, bags.IssueFilter{
			OrganizationID: org,
			Match:          &bags.PartyMatch{ClientIDs: []bags.ClientID{"client-1"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, byClient, 2)
		assert.Equal(t, 3, totals.Bags)
	})
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestTransfer_EndStatesAreFinal(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 50)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 20)
		require.NoError(t, err)
		tr, err := h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-b", 5)
		require.NoError(t, err)
		_, err = h.engine.Transfers.CompleteTransfer(ctx, org, tr.Transfer.ID)
		require.NoError(t, err)

		_, err = h.engine.Transfers.CompleteTransfer(ctx, org, tr.Transfer.ID)
		var state *bags.InvalidStateError
		require.ErrorAs(t, err, &state)
		assert.Equal(t, string(bags.TransferCompleted), state.State)

		_, err = h.engine.Transfers.FailTransfer(ctx, org, tr.Transfer.ID, "late")
		assert.ErrorIs(t, err, bags.ErrInvalidState)
		assert.Equal(t, 5, h.available(t, "driver-b"), "credited exactly once")

		_, err = h.engine.Transfers.CompleteTransfer(ctx, org, "missing")
		assert.ErrorIs(t, err, bags.ErrNotFound)
		h.requireBalanced(t)
	})
}

func TestTransfer_FailRestoresSender(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 50)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 20)
		require.NoError(t, err)
		tr, err := h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-b", 8)
		require.NoError(t, err)
		assert.Equal(t, 12, h.available(t, "driver-a"))

		failed, err := h.engine.Transfers.FailTransfer(ctx, org, tr.Transfer.ID, " driver unreachable ")
		require.NoError(t, err)
		assert.Equal(t, bags.TransferFailed, failed.Transfer.Status)
		assert.Equal(t, "driver unreachable", failed.Transfer.Notes)
		assert.Equal(t, 0, failed.Allocation.TransferredOut, "deduction reversed on the same period")
		assert.Equal(t, 20, h.available(t, "driver-a"))
		assert.Equal(t, 0, h.available(t, "driver-b"))
		h.requireBalanced(t)
	})
}

func TestTransfer_FailAfterReallocation(t *testing.T) {
	// GIVEN: A pending transfer out of a period that has since been closed
	// WHEN: The transfer fails
	// THEN: The bags come back as an incoming credit on the current period
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 100)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 40)
		require.NoError(t, err)
		tr, err := h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-b", 10)
		require.NoError(t, err)

		next, err := h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 5)
		require.NoError(t, err)
		assert.Equal(t, 30, next.Period.BagsFromPrevious)

		failed, err := h.engine.Transfers.FailTransfer(ctx, org, tr.Transfer.ID, "")
		require.NoError(t, err)
		assert.Equal(t, next.Period.ID, failed.Allocation.ID)
		assert.Equal(t, 10, failed.Allocation.TransferredIn)
		assert.Equal(t, 45, h.available(t, "driver-a"))
		h.requireBalanced(t)
	})
}

func TestTransfer_ReceiverWithoutAllocation(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 30)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)
		tr, err := h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-new", 4)
		require.NoError(t, err)

		done, err := h.engine.Transfers.CompleteTransfer(ctx, org, tr.Transfer.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, done.Allocation.AllocatedBags)
		assert.Equal(t, 4, done.Allocation.TransferredIn)
		assert.Equal(t, bags.StatusRecent, done.Allocation.Status())
		assert.Equal(t, 4, h.available(t, "driver-new"))
		h.requireBalanced(t)
	})
}

func TestTransfer_Validation(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 30)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)

		_, err = h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-a", 1)
		assert.ErrorIs(t, err, bags.ErrInvalidArgument)
		_, err = h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-b", 11)
		assert.ErrorIs(t, err, bags.ErrInsufficientDriverStock)
		_, err = h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-b", 0)
		assert.ErrorIs(t, err, bags.ErrInvalidArgument)

		pending, total, err := h.engine.Transfers.ListTransfers(ctx, bags.TransferFilter{
			OrganizationID: org, Status: bags.TransferPending,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, pending)
	})
}

func TestTransfer_ListByParty(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 60)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-c", 20)
		require.NoError(t, err)
		_, err = h.engine.Transfers.InitiateTransfer(ctx, org, "driver-a", "driver-b", 2)
		require.NoError(t, err)
		_, err = h.engine.Transfers.InitiateTransfer(ctx, org, "driver-c", "driver-a", 3)
		require.NoError(t, err)
		_, err = h.engine.Transfers.InitiateTransfer(ctx, org, "driver-c", "driver-b", 4)
		require.NoError(t, err)

		withA, total, err := h.engine.Transfers.ListTransfers(ctx, bags.TransferFilter{
			OrganizationID: org,
			Match:          &bags.PartyMatch{DriverIDs: []bags.DriverID{"driver-a"}},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, withA, 2)
		assert.Equal(t, 3, withA[0].NumberOfBags, "newest first")

		report := h.requireBalanced(t)
		assert.Equal(t, 9, report.InTransit)
	})
}

// =============================================================================
// RETURNS
// =============================================================================

func TestReturn_Rules(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 30)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)

		_, err = h.engine.Returns.ProcessReturn(ctx, org, "driver-a", 2, "")
		assert.ErrorIs(t, err, bags.ErrInvalidArgument)
		_, err = h.engine.Returns.ProcessReturn(ctx, org, "driver-a", 11, "surplus")
		assert.ErrorIs(t, err, bags.ErrInsufficientDriverStock)
		_, err = h.engine.Returns.ProcessReturn(ctx, org, "driver-z", 1, "surplus")
		assert.ErrorIs(t, err, bags.ErrInsufficientDriverStock)

		res, err := h.engine.Returns.ProcessReturn(ctx, org, "driver-a", 4, "surplus")
		require.NoError(t, err)
		assert.Equal(t, 24, res.Stock.AvailableBags)
		assert.Equal(t, 4, res.Allocation.ReturnedBags)
		assert.Equal(t, bags.DriverID("driver-a"), res.Return.DriverID)

		returns, total, err := h.engine.Returns.ListReturns(ctx, org, generic.NewPageRequest(1, 10))
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, returns, 1)
		assert.Equal(t, "surplus", returns[0].Reason)
		assert.Equal(t, 4, returns[0].NumberOfBags)
		h.requireBalanced(t)
	})
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentAllocations_NeverOversell(t *testing.T) {
	// GIVEN: 50 bags in stock
	// WHEN: 20 drivers each ask for 5 at the same time
	// THEN: Exactly 10 succeed and stock ends at zero
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 50)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			short     int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				driver := bags.DriverID("driver-" + string(rune('a'+i)))
				_, err := h.engine.Allocations.AllocateBags(ctx, org, driver, 5)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, bags.ErrInsufficientStock):
					short++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 10, succeeded)
		assert.Equal(t, 10, short)
		stock, err := h.engine.Stock.GetStock(ctx, org)
		require.NoError(t, err)
		assert.Equal(t, 0, stock.AvailableBags)
		h.requireBalanced(t)
	})
}

func TestConcurrentVerify_ConsumesOnce(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 20)
		require.NoError(t, err)
		_, err = h.engine.Allocations.AllocateBags(ctx, org, "driver-a", 10)
		require.NoError(t, err)
		issue, err := h.engine.Issuances.RequestIssuance(ctx, bags.IssueRequest{
			OrganizationID: org, DriverID: "driver-a", ClientID: "client-1",
			ClientEmail: "c1@example.com", NumberOfBags: 6,
		})
		require.NoError(t, err)
		code := h.notes.codeFor(t, issue.ID)

		var wg sync.WaitGroup
		results := make(chan error, 5)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.engine.Issuances.VerifyIssuance(ctx, org, issue.ID, code)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		ok := 0
		for err := range results {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, bags.ErrAlreadyVerified)
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 4, h.available(t, "driver-a"))
	})
}

func TestLockTimeout_ReportsContention(t *testing.T) {
	// GIVEN: A writer holding the store longer than the lock timeout
	// WHEN: Another mutation arrives
	// THEN: It fails with Contention instead of waiting forever
	store := memory.NewWithTimeout(20 * time.Millisecond)
	h := newHarness(t, store)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithTx(ctx, func(tx bags.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := h.engine.Stock.AddBags(ctx, org, 5)
	assert.ErrorIs(t, err, bags.ErrContention)
	assert.True(t, generic.IsRetryable(err))
	assert.Equal(t, "contention", bags.Kind(err))

	close(release)
	require.NoError(t, <-done)

	_, err = h.engine.Stock.AddBags(ctx, org, 5)
	require.NoError(t, err)
}

func TestAudit_WaitsForInFlightMutation(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		_, err := h.engine.Stock.AddBags(ctx, org, 10)
		require.NoError(t, err)

		// GIVEN: A mutation that has updated stock but not yet journaled it
		store := h.store
		saved := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- store.WithTx(ctx, func(tx bags.Tx) error {
				stock, err := tx.LockStock(ctx, org)
				if err != nil {
					return err
				}
				stock.AvailableBags += 5
				stock.TotalAdded += 5
				if err := tx.SaveStock(ctx, stock); err != nil {
					return err
				}
				close(saved)
				<-release
				return tx.AppendMovement(ctx, generic.Movement{
					ID:             "m-late",
					OrganizationID: string(org),
					Type:           bags.MoveStockAdded,
					From:           generic.AccountExternal,
					To:             bags.StockAccount(org),
					Quantity:       generic.NewAmountFromInt(5, generic.UnitBags),
					ActorID:        "test",
					CreatedAt:      start,
				})
			})
		}()
		<-saved

		// WHEN: An audit starts meanwhile
		audited := make(chan bags.AuditReport, 1)
		go func() {
			report, err := h.engine.Auditor.Audit(ctx, org)
			assert.NoError(t, err)
			audited <- report
		}()

		// THEN: It waits for the commit and sees both halves
		select {
		case <-audited:
			t.Fatal("audit finished while a mutation was in flight")
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
		require.NoError(t, <-done)

		report := <-audited
		assert.True(t, report.Balanced())
		assert.Equal(t, 15, report.InStock)
	})
}

func TestAudit_WritesNothing(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()

		report, err := h.engine.Auditor.Audit(ctx, "org-never-seen")
		require.NoError(t, err)
		assert.True(t, report.Balanced())

		orgs, err := h.store.ListOrganizations(ctx)
		require.NoError(t, err)
		assert.Empty(t, orgs)
	})
}

func TestIsClientError(t *testing.T) {
	assert.True(t, bags.IsClientError(&bags.InsufficientStockError{}))
	assert.True(t, bags.IsClientError(fmt.Errorf("count: %w", generic.ErrInvalidAmount)))
	assert.True(t, bags.IsClientError(&generic.NotFoundError{Kind: "issue", ID: "x"}))
	assert.True(t, bags.IsClientError(bags.ErrExpired))
	assert.False(t, bags.IsClientError(generic.ErrContention), "contention is retryable, not the caller's fault")
	assert.False(t, bags.IsClientError(errors.New("disk full")))
}
