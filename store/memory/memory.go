/*
Package memory provides an in-memory bags.Store.

PURPOSE:
  Runs the ledger without a database, for tests and local demos. Behaves
  like the SQL stores: writers are serialized, a writer that cannot get the
  lock within the lock timeout fails with ErrContention, and a failing
  transaction leaves no trace.

TRANSACTIONS:
  WithTx copies the committed state, runs fn against the copy and swaps the
  copy in on success. Readers only ever see committed state.

SEE ALSO:
  - bags/store.go: Interface definitions
  - store/sqlstore: Database-backed implementation
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
	genstore "github.com/Wizard254-ux/gabbage-web-sub000/generic/store"
)

const DefaultLockTimeout = 5 * time.Second

// Store implements bags.Store in memory.
type Store struct {
	mu          sync.RWMutex
	committed   *state
	gate        chan struct{}
	lockTimeout time.Duration
}

var _ bags.Store = (*Store)(nil)

func New() *Store {
	return NewWithTimeout(DefaultLockTimeout)
}

// NewWithTimeout sets how long WithTx waits for the writer lock.
func NewWithTimeout(lockTimeout time.Duration) *Store {
	return &Store{
		committed:   newState(),
		gate:        make(chan struct{}, 1),
		lockTimeout: lockTimeout,
	}
}

// =============================================================================
// STATE
// =============================================================================

type state struct {
	stocks        map[bags.OrganizationID]bags.Stock
	periods       map[string]bags.AllocationPeriod
	periodOrder   []string
	issues        map[string]bags.Issue
	issueOrder    []string
	transfers     map[string]bags.Transfer
	transferOrder []string
	journal       *genstore.MemoryJournal
}

func newState() *state {
	return &state{
		stocks:    make(map[bags.OrganizationID]bags.Stock),
		periods:   make(map[string]bags.AllocationPeriod),
		issues:    make(map[string]bags.Issue),
		transfers: make(map[string]bags.Transfer),
		journal:   genstore.NewMemoryJournal(),
	}
}

func (s *state) clone() *state {
	c := &state{
		stocks:        make(map[bags.OrganizationID]bags.Stock, len(s.stocks)),
		periods:       make(map[string]bags.AllocationPeriod, len(s.periods)),
		periodOrder:   append([]string(nil), s.periodOrder...),
		issues:        make(map[string]bags.Issue, len(s.issues)),
		issueOrder:    append([]string(nil), s.issueOrder...),
		transfers:     make(map[string]bags.Transfer, len(s.transfers)),
		transferOrder: append([]string(nil), s.transferOrder...),
		journal:       s.journal.Clone(),
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	for k, v := range s.issues {
		c.issues[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn with exclusive write access.
func (s *Store) WithTx(ctx context.Context, fn func(bags.Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.gate }()

	s.mu.RLock()
	working := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(&txView{st: working}); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = working
	s.mu.Unlock()
	return nil
}

func (s *Store) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case s.gate <- struct{}{}:
		return nil
	case <-timer.C:
		return generic.ErrContention
	case <-ctx.Done():
		return ctx.Err()
	}
}

type txView struct {
	st *state
}

func (tv *txView) LockStock(_ context.Context, org bags.OrganizationID) (bags.Stock, error) {
	stock, ok := tv.st.stocks[org]
	if !ok {
		stock = bags.Stock{OrganizationID: org}
		tv.st.stocks[org] = stock
	}
	return stock, nil
}

func (tv *txView) SaveStock(_ context.Context, stock bags.Stock) error {
	tv.st.stocks[stock.OrganizationID] = stock
	return nil
}

func (tv *txView) LockDrivers(_ context.Context, org bags.OrganizationID, drivers ...bags.DriverID) (map[bags.DriverID]*bags.DriverBalance, error) {
	out := make(map[bags.DriverID]*bags.DriverBalance, len(drivers))
	for _, d := range drivers {
		balance := &bags.DriverBalance{OrganizationID: org, DriverID: d}
		if p, ok := tv.st.current(org, d); ok {
			balance.Current = &p
		}
		out[d] = balance
	}
	return out, nil
}

func (tv *txView) InsertPeriod(_ context.Context, p bags.AllocationPeriod) error {
	if p.IsOpen() {
		if _, ok := tv.st.current(p.OrganizationID, p.DriverID); ok {
			return generic.ErrInvalidMovement
		}
	}
	tv.st.periods[p.ID] = p
	tv.st.periodOrder = append(tv.st.periodOrder, p.ID)
	return nil
}

func (tv *txView) UpdatePeriod(_ context.Context, p bags.AllocationPeriod) error {
	if _, ok := tv.st.periods[p.ID]; !ok {
		return &generic.NotFoundError{Kind: "allocation", ID: p.ID}
	}
	tv.st.periods[p.ID] = p
	return nil
}

func (tv *txView) LockIssue(_ context.Context, org bags.OrganizationID, id string) (bags.Issue, error) {
	issue, ok := tv.st.issues[id]
	if !ok || issue.OrganizationID != org {
		return bags.Issue{}, &generic.NotFoundError{Kind: "issue", ID: id}
	}
	return issue, nil
}

func (tv *txView) InsertIssue(_ context.Context, issue bags.Issue) error {
	tv.st.issues[issue.ID] = issue
	tv.st.issueOrder = append(tv.st.issueOrder, issue.ID)
	return nil
}

func (tv *txView) UpdateIssue(_ context.Context, issue bags.Issue) error {
	tv.st.issues[issue.ID] = issue
	return nil
}

func (tv *txView) LockTransfer(_ context.Context, org bags.OrganizationID, id string) (bags.Transfer, error) {
	t, ok := tv.st.transfers[id]
	if !ok || t.OrganizationID != org {
		return bags.Transfer{}, &generic.NotFoundError{Kind: "transfer", ID: id}
	}
	return t, nil
}

func (tv *txView) InsertTransfer(_ context.Context, t bags.Transfer) error {
	tv.st.transfers[t.ID] = t
	tv.st.transferOrder = append(tv.st.transferOrder, t.ID)
	return nil
}

func (tv *txView) UpdateTransfer(_ context.Context, t bags.Transfer) error {
	tv.st.transfers[t.ID] = t
	return nil
}

func (tv *txView) AppendMovement(ctx context.Context, m generic.Movement) error {
	return tv.st.journal.AppendMovement(ctx, m)
}

func (tv *txView) ListMovements(ctx context.Context, f generic.MovementFilter) ([]generic.Movement, int, error) {
	return tv.st.journal.List(ctx, f)
}

func (tv *txView) ListPeriods(_ context.Context, f bags.PeriodFilter) ([]bags.AllocationPeriod, int, error) {
	return tv.st.listPeriods(f)
}

func (tv *txView) ListTransfers(_ context.Context, f bags.TransferFilter) ([]bags.Transfer, int, error) {
	return tv.st.listTransfers(f)
}

func (tv *txView) IssueTotals(_ context.Context, f bags.IssueFilter) (bags.IssueTotals, error) {
	return tv.st.issueTotals(f)
}

func (s *state) current(org bags.OrganizationID, driver bags.DriverID) (bags.AllocationPeriod, bool) {
	for i := len(s.periodOrder) - 1; i >= 0; i-- {
		p := s.periods[s.periodOrder[i]]
		if p.OrganizationID == org && p.DriverID == driver && p.IsOpen() {
			return p, true
		}
	}
	return bags.AllocationPeriod{}, false
}

// =============================================================================
// READS
// =============================================================================

func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

func (s *Store) GetStock(_ context.Context, org bags.OrganizationID) (bags.Stock, error) {
	st := s.read()
	if stock, ok := st.stocks[org]; ok {
		return stock, nil
	}
	return bags.Stock{OrganizationID: org}, nil
}

func (s *Store) ListOrganizations(_ context.Context) ([]bags.OrganizationID, error) {
	st := s.read()
	out := make([]bags.OrganizationID, 0, len(st.stocks))
	for org := range st.stocks {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) DriverBalance(_ context.Context, org bags.OrganizationID, driver bags.DriverID) (bags.DriverBalance, error) {
	st := s.read()
	balance := bags.DriverBalance{OrganizationID: org, DriverID: driver}
	for i := len(st.periodOrder) - 1; i >= 0; i-- {
		p := st.periods[st.periodOrder[i]]
		if p.OrganizationID != org || p.DriverID != driver {
			continue
		}
		if p.IsOpen() {
			current := p
			balance.Current = &current
			continue
		}
		balance.Previous = append(balance.Previous, p)
	}
	return balance, nil
}

func (s *Store) ListPeriods(_ context.Context, f bags.PeriodFilter) ([]bags.AllocationPeriod, int, error) {
	return s.read().listPeriods(f)
}

func (st *state) listPeriods(f bags.PeriodFilter) ([]bags.AllocationPeriod, int, error) {
	var matched []bags.AllocationPeriod
	for i := len(st.periodOrder) - 1; i >= 0; i-- {
		p := st.periods[st.periodOrder[i]]
		if f.Matches(p) {
			matched = append(matched, p)
		}
	}
	if f.All {
		return matched, len(matched), nil
	}
	start, end := f.Page.Window(len(matched))
	return matched[start:end], len(matched), nil
}

func (s *Store) GetIssue(_ context.Context, org bags.OrganizationID, id string) (bags.Issue, error) {
	st := s.read()
	issue, ok := st.issues[id]
	if !ok || issue.OrganizationID != org {
		return bags.Issue{}, &generic.NotFoundError{Kind: "issue", ID: id}
	}
	return issue, nil
}

func (st *state) matchingIssues(f bags.IssueFilter) []bags.Issue {
	var matched []bags.Issue
	for i := len(st.issueOrder) - 1; i >= 0; i-- {
		issue := st.issues[st.issueOrder[i]]
		if f.Matches(issue) {
			matched = append(matched, issue)
		}
	}
	return matched
}

func (s *Store) ListIssues(_ context.Context, f bags.IssueFilter) ([]bags.Issue, int, error) {
	matched := s.read().matchingIssues(f)
	start, end := f.Page.Window(len(matched))
	return matched[start:end], len(matched), nil
}

func (s *Store) IssueTotals(_ context.Context, f bags.IssueFilter) (bags.IssueTotals, error) {
	return s.read().issueTotals(f)
}

func (st *state) issueTotals(f bags.IssueFilter) (bags.IssueTotals, error) {
	var totals bags.IssueTotals
	for _, issue := range st.matchingIssues(f) {
		totals.Add(issue, f.Now)
	}
	return totals, nil
}

func (s *Store) GetTransfer(_ context.Context, org bags.OrganizationID, id string) (bags.Transfer, error) {
	st := s.read()
	t, ok := st.transfers[id]
	if !ok || t.OrganizationID != org {
		return bags.Transfer{}, &generic.NotFoundError{Kind: "transfer", ID: id}
	}
	return t, nil
}

func (s *Store) ListTransfers(_ context.Context, f bags.TransferFilter) ([]bags.Transfer, int, error) {
	return s.read().listTransfers(f)
}

func (st *state) listTransfers(f bags.TransferFilter) ([]bags.Transfer, int, error) {
	var matched []bags.Transfer
	for i := len(st.transferOrder) - 1; i >= 0; i-- {
		t := st.transfers[st.transferOrder[i]]
		if f.Matches(t) {
			matched = append(matched, t)
		}
	}
	if f.All {
		return matched, len(matched), nil
	}
	start, end := f.Page.Window(len(matched))
	return matched[start:end], len(matched), nil
}

func (s *Store) ListMovements(ctx context.Context, f generic.MovementFilter) ([]generic.Movement, int, error) {
	return s.read().journal.List(ctx, f)
}
