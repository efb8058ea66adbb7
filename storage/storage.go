/*
storage.go - abstract transactional key-value contract

PURPOSE:
  The engine is written entirely against this interface, never against
  a concrete backend, so that the same deposit/withdraw/dispute logic
  runs unmodified over an in-memory store, SQLite, or Postgres. Three
  implementations live alongside this package: memstore, sqlstore, and
  pgstore.

KEY CONCEPTS:
  - Mode: a transaction is opened Read or Write. Read transactions never
    conflict with one another; a Write transaction conflicts with any
    other transaction (read or write) that committed a change to a key
    this transaction also wrote, after this transaction began.
  - Conflict: returned by Commit (or, for backends that detect it
    eagerly, by Put*) when the transaction's view of a key it wrote is
    stale. The caller — the engine, then the stream driver — is
    responsible for retrying; storage never retries itself.

INVARIANTS:
  - A transaction's writes are invisible to any other transaction until
    Commit returns nil.
  - Rollback (including one triggered by a context cancellation or a
    panic recovery upstream) discards all writes made through that
    transaction's handle.
  - Serializable isolation per key: two Write transactions that touch
    disjoint keys never conflict with each other.

SEE ALSO:
  - storage/memstore: default in-process backend.
  - storage/sqlstore: SQLite-backed backend.
  - storage/pgstore: Postgres-backed backend.
*/
package storage

import (
	"context"
	"errors"

	"github.com/warp/ledger-engine/ledger"
)

// Mode selects the isolation a transaction requests.
type Mode int

const (
	Read Mode = iota
	Write
)

// ErrConflict is returned when a Write transaction could not commit
// because a key it wrote was concurrently modified by another
// transaction that committed first. Retryable by the caller.
var ErrConflict = errors.New("storage: conflict")

// ErrNotFound is returned by Get* when no row exists for the given key.
var ErrNotFound = errors.New("storage: not found")

// Tx is a single transactional handle. Callers must call exactly one
// of Commit or Rollback before discarding the handle.
type Tx interface {
	GetAccount(ctx context.Context, client ledger.ClientID) (ledger.Account, error)
	PutAccount(ctx context.Context, account ledger.Account) error

	GetTx(ctx context.Context, id ledger.TxID) (ledger.TxRecord, error)
	PutTx(ctx context.Context, record ledger.TxRecord) error

	// Accounts returns every account currently stored, in unspecified
	// order, as of this transaction's view.
	Accounts(ctx context.Context) ([]ledger.Account, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens transactions. Implementations must be safe for
// concurrent use by multiple goroutines.
type Store interface {
	Begin(ctx context.Context, mode Mode) (Tx, error)
	Close() error
}
