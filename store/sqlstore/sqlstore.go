/*
Package sqlstore provides a database/sql implementation of bags.Store.

PURPOSE:
  Persists the bag ledger in SQLite, PostgreSQL or MySQL. The queries are
  shared; dialect.go holds the differences (placeholders, row locks,
  auto-increment keys, insert-if-missing, lock wait settings).

KEY TABLES:
  organization_stock:  Materialized stock, one row per organization
  allocation_periods:  Driver allocation cycles (closed_at NULL = current)
  bag_issues:          OTP-gated driver-to-client handoffs
  bag_transfers:       Driver-to-driver moves
  movements:           Append-only double-entry journal

LOCKING:
  PostgreSQL and MySQL take row locks with SELECT ... FOR UPDATE. The wait
  is bounded per transaction (lock_timeout / innodb_lock_wait_timeout).
  SQLite has no row locks; the store admits one writer at a time through a
  gate acquired with the same timeout, and sets busy_timeout for the file.
  Any wait that runs out surfaces as generic.ErrContention.

USAGE:
  store, err := sqlstore.New("./data/bags.db")   // SQLite
  store, err := sqlstore.Open("postgres", dsn, sqlstore.Options{})
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on open with CREATE ... IF NOT EXISTS.

SEE ALSO:
  - bags/store.go: Interface definitions
  - store/memory: In-memory implementation
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

const DefaultLockTimeout = 5 * time.Second

// Options tune a Store. Zero values pick the defaults.
type Options struct {
	LockTimeout  time.Duration
	MaxOpenConns int
}

// Store implements bags.Store over database/sql.
type Store struct {
	db          *sql.DB
	dialect     dialect
	lockTimeout time.Duration
	gate        chan struct{}
}

var _ bags.Store = (*Store)(nil)

// New opens a SQLite store at dbPath. Use ":memory:" for a throwaway database.
func New(dbPath string) (*Store, error) {
	return Open("sqlite", dbPath, Options{})
}

// Open connects to the database named by driver ("sqlite", "postgres",
// "mysql") and migrates the schema.
func Open(driver, dsn string, opts Options) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if d.name == "sqlite" {
		dsn = sqliteDSN(dsn, opts.LockTimeout)
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.serializeWriters {
		// One connection keeps ":memory:" databases shared and writers serial.
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	store := &Store{db: db, dialect: d, lockTimeout: opts.LockTimeout}
	if d.serializeWriters {
		store.gate = make(chan struct{}, 1)
	}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect names the database in use.
func (s *Store) Dialect() string { return s.dialect.name }

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.statements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (bags.Store)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(bags.Tx) error) error {
	if s.gate != nil {
		if err := s.acquire(ctx); err != nil {
			return err
		}
		defer func() { <-s.gate }()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if stmt := s.dialect.lockTimeoutStatement(s.lockTimeout); stmt != "" {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return s.wrap("set lock timeout", err)
		}
	}

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return s.wrap("commit", err)
	}
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

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) LockStock(ctx context.Context, org bags.OrganizationID) (bags.Stock, error) {
	return ts.parent.lockStock(ctx, ts.tx, org)
}

func (ts *txStore) SaveStock(ctx context.Context, stock bags.Stock) error {
	return ts.parent.saveStock(ctx, ts.tx, stock)
}

func (ts *txStore) LockDrivers(ctx context.Context, org bags.OrganizationID, drivers ...bags.DriverID) (map[bags.DriverID]*bags.DriverBalance, error) {
	return ts.parent.lockDrivers(ctx, ts.tx, org, drivers)
}

func (ts *txStore) InsertPeriod(ctx context.Context, p bags.AllocationPeriod) error {
	return ts.parent.insertPeriod(ctx, ts.tx, p)
}

func (ts *txStore) UpdatePeriod(ctx context.Context, p bags.AllocationPeriod) error {
	return ts.parent.updatePeriod(ctx, ts.tx, p)
}

func (ts *txStore) LockIssue(ctx context.Context, org bags.OrganizationID, id string) (bags.Issue, error) {
	return ts.parent.getIssue(ctx, ts.tx, org, id, true)
}

func (ts *txStore) InsertIssue(ctx context.Context, issue bags.Issue) error {
	return ts.parent.insertIssue(ctx, ts.tx, issue)
}

func (ts *txStore) UpdateIssue(ctx context.Context, issue bags.Issue) error {
	return ts.parent.updateIssue(ctx, ts.tx, issue)
}

func (ts *txStore) LockTransfer(ctx context.Context, org bags.OrganizationID, id string) (bags.Transfer, error) {
	return ts.parent.getTransfer(ctx, ts.tx, org, id, true)
}

func (ts *txStore) InsertTransfer(ctx context.Context, t bags.Transfer) error {
	return ts.parent.insertTransfer(ctx, ts.tx, t)
}

func (ts *txStore) UpdateTransfer(ctx context.Context, t bags.Transfer) error {
	return ts.parent.updateTransfer(ctx, ts.tx, t)
}

func (ts *txStore) AppendMovement(ctx context.Context, m generic.Movement) error {
	return ts.parent.appendMovement(ctx, ts.tx, m)
}

func (ts *txStore) ListMovements(ctx context.Context, f generic.MovementFilter) ([]generic.Movement, int, error) {
	return ts.parent.listMovements(ctx, ts.tx, f)
}

func (ts *txStore) ListPeriods(ctx context.Context, f bags.PeriodFilter) ([]bags.AllocationPeriod, int, error) {
	return ts.parent.listPeriods(ctx, ts.tx, f)
}

func (ts *txStore) ListTransfers(ctx context.Context, f bags.TransferFilter) ([]bags.Transfer, int, error) {
	return ts.parent.listTransfers(ctx, ts.tx, f)
}

func (ts *txStore) IssueTotals(ctx context.Context, f bags.IssueFilter) (bags.IssueTotals, error) {
	return ts.parent.issueTotals(ctx, ts.tx, f)
}

// =============================================================================
// READS (bags.Reader)
// =============================================================================

func (s *Store) GetStock(ctx context.Context, org bags.OrganizationID) (bags.Stock, error) {
	stock, err := s.selectStock(ctx, s.db, org, false)
	if generic.IsNotFound(err) {
		return bags.Stock{OrganizationID: org}, nil
	}
	return stock, err
}

func (s *Store) GetIssue(ctx context.Context, org bags.OrganizationID, id string) (bags.Issue, error) {
	return s.getIssue(ctx, s.db, org, id, false)
}

func (s *Store) GetTransfer(ctx context.Context, org bags.OrganizationID, id string) (bags.Transfer, error) {
	return s.getTransfer(ctx, s.db, org, id, false)
}
