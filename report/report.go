/*
Package report is the read side of the bag ledger.

PURPOSE:
  Composes the ledger's list operations into the views the console shows:
  paginated, filterable by status and by driver or client name, and with
  display names attached to every row.

FLOW (every list):
  1. Resolve a free-text search into the matching party ids (directory)
  2. Query the ledger with those ids, a status and a page
  3. Look up the display names of the parties on the page, concurrently
  4. Wrap rows with pagination {currentPage, totalPages, hasNext, ...}

NAMES:
  Unknown parties and directory failures fall back to the raw id; a listing
  never fails because the identity service is down.

SEE ALSO:
  - bags/store.go: PartyMatch semantics
  - directory/cached.go: Cache in front of the identity service
*/
package report

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// lookupConcurrency caps parallel directory calls per listing.
const lookupConcurrency = 8

type Facade struct {
	engine *bags.Engine
	dir    bags.Directory
	log    *zap.Logger
}

func New(engine *bags.Engine, log *zap.Logger) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{engine: engine, dir: engine.Directory, log: log}
}

// Query is the common input of the list views.
type Query struct {
	Page   generic.PageRequest
	Search string
	Status string
}

// =============================================================================
// ISSUANCES
// =============================================================================

type IssuanceRow struct {
	bags.Issue
	State      bags.IssueStatus
	DriverName string
	ClientName string
}

// IssuancePage carries two sets of counters. Summary covers every issue
// matching the filters; PageSummary covers only the rows of this page.
type IssuancePage struct {
	Rows        []IssuanceRow
	Pagination  generic.Pagination
	Summary     bags.IssueTotals
	PageSummary bags.IssueTotals
}

// DistributionHistory lists issuances.
func (f *Facade) DistributionHistory(ctx context.Context, org bags.OrganizationID, q Query) (IssuancePage, error) {
	match, err := f.match(ctx, org, q.Search, true)
	if err != nil {
		return IssuancePage{}, err
	}
	now := f.engine.Clock.Now()
	page := q.Page.Normalize()
	issues, total, totals, err := f.engine.Issuances.ListIssuances(ctx, bags.IssueFilter{
		OrganizationID: org,
		Status:         bags.IssueStatus(q.Status),
		Match:          match,
		Now:            now,
		Page:           page,
	})
	if err != nil {
		return IssuancePage{}, err
	}

	names := newNameSet()
	for _, i := range issues {
		names.driver(i.DriverID)
		names.client(i.ClientID)
	}
	f.resolve(ctx, org, names)

	out := IssuancePage{
		Rows:       make([]IssuanceRow, len(issues)),
		Pagination: generic.NewPagination(page, total),
		Summary:    totals,
	}
	for n, i := range issues {
		out.Rows[n] = IssuanceRow{
			Issue:      i,
			State:      i.Status(now),
			DriverName: names.drivers[i.DriverID],
			ClientName: names.clients[i.ClientID],
		}
		out.PageSummary.Add(i, now)
	}
	return out, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

type AllocationRow struct {
	bags.AllocationPeriod
	DriverName string
}

type AllocationPage struct {
	Rows       []AllocationRow
	Pagination generic.Pagination
}

// AllocationSummaries lists allocation periods, recent and previous.
func (f *Facade) AllocationSummaries(ctx context.Context, org bags.OrganizationID, q Query) (AllocationPage, error) {
	match, err := f.match(ctx, org, q.Search, false)
	if err != nil {
		return AllocationPage{}, err
	}
	page := q.Page.Normalize()
	periods, total, err := f.engine.Allocations.GetAllocationsForOrganization(ctx, bags.PeriodFilter{
		OrganizationID: org,
		Status:         bags.AllocationStatus(q.Status),
		Match:          match,
		Page:           page,
	})
	if err != nil {
		return AllocationPage{}, err
	}

	names := newNameSet()
	for _, p := range periods {
		names.driver(p.DriverID)
	}
	f.resolve(ctx, org, names)

	out := AllocationPage{Rows: make([]AllocationRow, len(periods)), Pagination: generic.NewPagination(page, total)}
	for n, p := range periods {
		out.Rows[n] = AllocationRow{AllocationPeriod: p, DriverName: names.drivers[p.DriverID]}
	}
	return out, nil
}

type DriverView struct {
	bags.DriverBalance
	DriverName string
}

// DriverHistory returns one driver's current and archived periods.
func (f *Facade) DriverHistory(ctx context.Context, org bags.OrganizationID, driver bags.DriverID) (DriverView, error) {
	balance, err := f.engine.Allocations.DriverHistory(ctx, org, driver)
	if err != nil {
		return DriverView{}, err
	}
	names := newNameSet()
	names.driver(driver)
	f.resolve(ctx, org, names)
	return DriverView{DriverBalance: balance, DriverName: names.drivers[driver]}, nil
}

// =============================================================================
// TRANSFERS
// =============================================================================

type TransferRow struct {
	bags.Transfer
	FromDriverName string
	ToDriverName   string
}

type TransferPage struct {
	Rows       []TransferRow
	Pagination generic.Pagination
}

// TransferHistory lists transfers; a search matches either side.
func (f *Facade) TransferHistory(ctx context.Context, org bags.OrganizationID, q Query) (TransferPage, error) {
	match, err := f.match(ctx, org, q.Search, false)
	if err != nil {
		return TransferPage{}, err
	}
	page := q.Page.Normalize()
	transfers, total, err := f.engine.Transfers.ListTransfers(ctx, bags.TransferFilter{
		OrganizationID: org,
		Status:         bags.TransferStatus(q.Status),
		Match:          match,
		Page:           page,
	})
	if err != nil {
		return TransferPage{}, err
	}

	names := newNameSet()
	for _, t := range transfers {
		names.driver(t.FromDriverID)
		names.driver(t.ToDriverID)
	}
	f.resolve(ctx, org, names)

	out := TransferPage{Rows: make([]TransferRow, len(transfers)), Pagination: generic.NewPagination(page, total)}
	for n, t := range transfers {
		out.Rows[n] = TransferRow{
			Transfer:       t,
			FromDriverName: names.drivers[t.FromDriverID],
			ToDriverName:   names.drivers[t.ToDriverID],
		}
	}
	return out, nil
}

// =============================================================================
// STOCK & RETURNS
// =============================================================================

type StockHistoryPage struct {
	Entries    []bags.StockEntry
	Pagination generic.Pagination
}

func (f *Facade) StockHistory(ctx context.Context, org bags.OrganizationID, page generic.PageRequest) (StockHistoryPage, error) {
	page = page.Normalize()
	entries, total, err := f.engine.Stock.History(ctx, org, page)
	if err != nil {
		return StockHistoryPage{}, err
	}
	return StockHistoryPage{Entries: entries, Pagination: generic.NewPagination(page, total)}, nil
}

type ReturnRow struct {
	bags.Return
	DriverName string
}

type ReturnPage struct {
	Rows       []ReturnRow
	Pagination generic.Pagination
}

func (f *Facade) ReturnHistory(ctx context.Context, org bags.OrganizationID, page generic.PageRequest) (ReturnPage, error) {
	page = page.Normalize()
	returns, total, err := f.engine.Returns.ListReturns(ctx, org, page)
	if err != nil {
		return ReturnPage{}, err
	}
	names := newNameSet()
	for _, r := range returns {
		names.driver(r.DriverID)
	}
	f.resolve(ctx, org, names)

	out := ReturnPage{Rows: make([]ReturnRow, len(returns)), Pagination: generic.NewPagination(page, total)}
	for n, r := range returns {
		out.Rows[n] = ReturnRow{Return: r, DriverName: names.drivers[r.DriverID]}
	}
	return out, nil
}

// =============================================================================
// SEARCH & NAMES
// =============================================================================

// match turns a free-text search into party ids. An empty search means no
// restriction (nil); a search that finds nobody yields an empty match.
func (f *Facade) match(ctx context.Context, org bags.OrganizationID, search string, clients bool) (*bags.PartyMatch, error) {
	search = strings.TrimSpace(search)
	if search == "" {
		return nil, nil
	}
	var drivers, found []bags.Party
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		drivers, err = f.dir.Search(gctx, org, bags.KindDriver, search)
		return err
	})
	if clients {
		g.Go(func() error {
			var err error
			found, err = f.dir.Search(gctx, org, bags.KindClient, search)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &bags.PartyMatch{DriverIDs: []bags.DriverID{}, ClientIDs: []bags.ClientID{}}
	for _, p := range drivers {
		m.DriverIDs = append(m.DriverIDs, bags.DriverID(p.ID))
	}
	for _, p := range found {
		m.ClientIDs = append(m.ClientIDs, bags.ClientID(p.ID))
	}
	return m, nil
}

// nameSet collects the ids of a page and receives their names.
type nameSet struct {
	mu      sync.Mutex
	drivers map[bags.DriverID]string
	clients map[bags.ClientID]string
}

func newNameSet() *nameSet {
	return &nameSet{drivers: map[bags.DriverID]string{}, clients: map[bags.ClientID]string{}}
}

func (s *nameSet) driver(id bags.DriverID) { s.drivers[id] = string(id) }
func (s *nameSet) client(id bags.ClientID) { s.clients[id] = string(id) }

// resolve replaces ids with display names, in parallel.
func (f *Facade) resolve(ctx context.Context, org bags.OrganizationID, s *nameSet) {
	drivers := make([]bags.DriverID, 0, len(s.drivers))
	for id := range s.drivers {
		drivers = append(drivers, id)
	}
	clients := make([]bags.ClientID, 0, len(s.clients))
	for id := range s.clients {
		clients = append(clients, id)
	}

	var g errgroup.Group
	g.SetLimit(lookupConcurrency)
	for _, id := range drivers {
		id := id
		g.Go(func() error {
			p, err := f.dir.Driver(ctx, org, id)
			if f.usable(string(id), p, err) {
				s.mu.Lock()
				s.drivers[id] = p.Name
				s.mu.Unlock()
			}
			return nil
		})
	}
	for _, id := range clients {
		id := id
		g.Go(func() error {
			p, err := f.dir.Client(ctx, org, id)
			if f.usable(string(id), p, err) {
				s.mu.Lock()
				s.clients[id] = p.Name
				s.mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
}

func (f *Facade) usable(id string, p bags.Party, err error) bool {
	if err != nil {
		if !generic.IsNotFound(err) {
			f.log.Warn("directory lookup failed", zap.String("party_id", id), zap.Error(err))
		}
		return false
	}
	return p.Name != ""
}
