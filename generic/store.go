/*
store.go - Persistence contracts shared by every store

PURPOSE:
  Defines the transactional boundary between domain logic and the database.
  Different implementations use SQLite, PostgreSQL, MySQL or memory.

KEY INTERFACES:
  Journal:    Append-only movement log (ledger.go)
  TxStore:    Runs a function inside one atomic transaction

ATOMICITY:
  Everything written through the transactional view passed to WithTx is
  committed together or not at all. A domain operation that updates a
  materialized balance and appends its movement does both in one WithTx.

LOCK WAITS:
  Implementations bound how long WithTx (or a row lock inside it) may wait.
  A wait that runs out returns ErrContention. Callers never retry silently.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite, PostgreSQL and MySQL through database/sql
  - store/memory:   In-memory for tests and local runs

SEE ALSO:
  - ledger.go: Journal interface
  - bags/store.go: The domain's transactional view
*/
package generic

import "context"

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore runs fn within a transaction whose view has type T.
// If fn returns an error the transaction is rolled back, otherwise committed.
type TxStore[T any] interface {
	WithTx(ctx context.Context, fn func(T) error) error
}
