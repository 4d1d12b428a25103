package generic_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func bags(n int) generic.Amount {
	return generic.NewAmountFromInt(n, generic.UnitBags)
}

func move(id string, from, to generic.Account, n int) generic.Movement {
	return generic.Movement{
		ID:             generic.MovementID(id),
		OrganizationID: "org-1",
		Type:           "test",
		From:           from,
		To:             to,
		Quantity:       bags(n),
	}
}

var (
	stock  = generic.NewAccount("stock", "org-1")
	driver = generic.NewAccount("driver", "d-1")
	client = generic.NewAccount("client", "org-1")
)

// =============================================================================
// COUNTS
// =============================================================================

func TestParseCount(t *testing.T) {
	n, err := generic.ParseCount(decimal.NewFromInt(12))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = generic.ParseCount(generic.MustParseDecimal("5.0"))
	require.NoError(t, err)
	assert.Equal(t, 5, n, "a whole value written with decimals is accepted")

	for _, bad := range []string{"0", "-3", "2.5", "99999999999"} {
		_, err := generic.ParseCount(generic.MustParseDecimal(bad))
		assert.ErrorIs(t, err, generic.ErrInvalidAmount, bad)
	}
}

// =============================================================================
// JOURNAL
// =============================================================================

func TestReplay_DoubleEntryNetsToZero(t *testing.T) {
	// GIVEN: 10 bags brought in, 6 given to a driver, 2 handed to a client
	// THEN: Each account holds its share and the journal nets to zero
	movements := []generic.Movement{
		move("m-1", generic.AccountExternal, stock, 10),
		move("m-2", stock, driver, 6),
		move("m-3", driver, client, 2),
	}
	b := generic.Replay(generic.UnitBags, movements)

	assert.Equal(t, 4, b.Of(stock).Int())
	assert.Equal(t, 4, b.Of(driver).Int())
	assert.Equal(t, 2, b.Of(client).Int())
	assert.Equal(t, 10, b.InCirculation().Int())
	assert.True(t, b.Net().IsZero())
	assert.Equal(t, []generic.Account{driver}, b.WithPrefix("driver:"))
	assert.Equal(t, 4, b.SumPrefix("driver:").Int())
	assert.True(t, b.Of("driver:unknown").IsZero())
}

func TestValidateMovement(t *testing.T) {
	assert.NoError(t, generic.ValidateMovement(move("m-1", stock, driver, 1)))
	assert.ErrorIs(t, generic.ValidateMovement(move("m-2", stock, stock, 1)), generic.ErrInvalidMovement)
	assert.ErrorIs(t, generic.ValidateMovement(move("m-3", "", driver, 1)), generic.ErrInvalidMovement)
	assert.ErrorIs(t, generic.ValidateMovement(move("m-4", stock, driver, 0)), generic.ErrInvalidMovement)
}

func TestMemoryJournal_ListNewestFirst(t *testing.T) {
	j := store.NewMemoryJournal()
	ctx := context.Background()
	for i, m := range []generic.Movement{
		move("m-1", generic.AccountExternal, stock, 10),
		move("m-2", stock, driver, 6),
		move("m-3", driver, client, 2),
	} {
		require.NoError(t, j.AppendMovement(ctx, m), "movement %d", i)
	}
	assert.ErrorIs(t, j.AppendMovement(ctx, move("m-1", generic.AccountExternal, stock, 1)), generic.ErrInvalidMovement)

	page, total, err := j.List(ctx, generic.MovementFilter{Account: driver, Page: generic.NewPageRequest(1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, generic.MovementID("m-3"), page[0].ID)

	clone := j.Clone()
	require.NoError(t, clone.AppendMovement(ctx, move("m-4", stock, driver, 1)))
	assert.Equal(t, 3, j.Len(), "clone writes do not reach the original")
	assert.Equal(t, 4, clone.Len())
}

func TestMovement_DeltaFor(t *testing.T) {
	m := move("m-1", stock, driver, 3)
	assert.Equal(t, -3, m.DeltaFor(stock).Int())
	assert.Equal(t, 3, m.DeltaFor(driver).Int())
	assert.True(t, m.DeltaFor(client).IsZero())
}

// =============================================================================
// PAGINATION
// =============================================================================

func TestPageRequest(t *testing.T) {
	p := generic.NewPageRequest(0, 0)
	assert.Equal(t, generic.PageRequest{Page: 1, Limit: generic.DefaultLimit}, p)
	assert.Equal(t, generic.MaxLimit, generic.NewPageRequest(1, 5000).Limit)

	start, end := generic.NewPageRequest(3, 10).Window(25)
	assert.Equal(t, 20, start)
	assert.Equal(t, 25, end)

	start, end = generic.NewPageRequest(9, 10).Window(25)
	assert.Equal(t, 25, start)
	assert.Equal(t, 25, end)
}

func TestPageRequest_HugePageStaysInRange(t *testing.T) {
	// GIVEN: The largest page number an int can hold
	p := generic.NewPageRequest(math.MaxInt, generic.MaxLimit)

	// THEN: The page is capped and the window is empty, not negative
	assert.Equal(t, generic.MaxPage, p.Page)
	assert.Positive(t, p.Offset())
	start, end := p.Window(25)
	assert.Equal(t, 25, start)
	assert.Equal(t, 25, end)
}

func TestPagination(t *testing.T) {
	pg := generic.NewPagination(generic.NewPageRequest(2, 10), 25)
	assert.Equal(t, generic.Pagination{
		CurrentPage: 2, TotalPages: 3, HasNext: true, HasPrev: true, Total: 25, Limit: 10,
	}, pg)

	empty := generic.NewPagination(generic.NewPageRequest(1, 10), 0)
	assert.Equal(t, 0, empty.TotalPages)
	assert.False(t, empty.HasNext)
	assert.False(t, empty.HasPrev)
}

// =============================================================================
// PERIODS & CLOCK
// =============================================================================

func TestPeriod_CloseOnce(t *testing.T) {
	t0 := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	p := generic.OpenPeriod(t0)
	assert.True(t, p.IsOpen())

	p.Close(t0.Add(2 * time.Hour))
	p.Close(t0.Add(5 * time.Hour))
	require.False(t, p.IsOpen())
	assert.Equal(t, t0.Add(2*time.Hour), *p.ClosedAt)
}

func TestManualClock(t *testing.T) {
	t0 := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	c := generic.NewManualClock(t0)
	c.Advance(15 * time.Minute)
	assert.Equal(t, t0.Add(15*time.Minute), c.Now())
	c.Set(t0)
	assert.Equal(t, t0, c.Now())
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, "system", generic.ActorFromContext(context.Background()))
	ctx := generic.WithActorID(context.Background(), "admin-7")
	assert.Equal(t, "admin-7", generic.ActorFromContext(ctx))
}
