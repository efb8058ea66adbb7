/*
pgstore.go - Postgres-backed storage.Store

PURPOSE:
  A production-grade backend for deployments where the ledger's state
  must outlive the process and be shared across instances. Grounded on
  punchamoorthee-ledgerops's transfer service: a repeatable-read
  transaction, SELECT ... FOR UPDATE to pin the row this transaction
  intends to write, and Postgres error codes translated to
  storage.ErrConflict exactly the way that service treats a unique-
  violation on its idempotency table.

KEY CONCEPTS:
  - Unlike the transfer service (which locks two accounts in
    deterministic ID order to avoid deadlocks on a two-party transfer),
    this engine only ever touches one account per operation, so there
    is no lock-ordering concern -- FOR UPDATE on the single row is
    sufficient.
  - A serialization failure (SQLSTATE 40001, possible under
    RepeatableRead when two transactions' write sets overlap) and a
    unique-violation on the primary key (23505, a first-write race on a
    transaction id) are both surfaced as storage.ErrConflict: from the
    engine's point of view both mean "retry this operation".

SEE ALSO:
  - punchamoorthee-ledgerops/internal/service/transfer.go: the pattern
    this is grounded on.
*/
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
	"github.com/warp/ledger-engine/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	client_id  INTEGER PRIMARY KEY,
	available  NUMERIC(24,4) NOT NULL,
	held       NUMERIC(24,4) NOT NULL,
	locked     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS tx_records (
	tx_id         BIGINT PRIMARY KEY,
	client_id     INTEGER NOT NULL,
	kind          SMALLINT NOT NULL,
	amount        NUMERIC(24,4) NOT NULL,
	dispute_state SMALLINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tx_records_client ON tx_records(client_id);
`

// Store is a Postgres-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres using dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Begin(ctx context.Context, mode storage.Mode) (storage.Tx, error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("pgstore: begin: %w", err)
	}
	return &tx{pgTx: pgTx, mode: mode}, nil
}

type tx struct {
	pgTx pgx.Tx
	mode storage.Mode
	done bool
}

// GetAccount locks the row for update on a Write transaction, matching
// punchamoorthee-ledgerops's "acquire locks before the business-logic
// check" ordering.
func (t *tx) GetAccount(ctx context.Context, client ledger.ClientID) (ledger.Account, error) {
	query := `SELECT available, held, locked FROM accounts WHERE client_id = $1`
	if t.mode == storage.Write {
		query += ` FOR UPDATE`
	}
	var availStr, heldStr string
	var locked bool
	err := t.pgTx.QueryRow(ctx, query, client).Scan(&availStr, &heldStr, &locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, storage.ErrNotFound
		}
		return ledger.Account{}, fmt.Errorf("pgstore: get account: %w", err)
	}
	available, _ := money.Parse(availStr)
	held, _ := money.Parse(heldStr)
	return ledger.Account{Client: client, Available: available, Held: held, Locked: locked}, nil
}

func (t *tx) PutAccount(ctx context.Context, account ledger.Account) error {
	if t.mode == storage.Read {
		return errReadOnly
	}
	_, err := t.pgTx.Exec(ctx, `
		INSERT INTO accounts (client_id, available, held, locked)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id) DO UPDATE SET
			available = excluded.available,
			held = excluded.held,
			locked = excluded.locked
	`, account.Client, account.Available.String(), account.Held.String(), account.Locked)
	if err != nil {
		if isSerializationFailure(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("pgstore: put account: %w", err)
	}
	return nil
}

func (t *tx) GetTx(ctx context.Context, id ledger.TxID) (ledger.TxRecord, error) {
	query := `SELECT client_id, kind, amount, dispute_state FROM tx_records WHERE tx_id = $1`
	if t.mode == storage.Write {
		query += ` FOR UPDATE`
	}
	var clientID uint16
	var kind int
	var amountStr string
	var disputeState int
	err := t.pgTx.QueryRow(ctx, query, id).Scan(&clientID, &kind, &amountStr, &disputeState)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.TxRecord{}, storage.ErrNotFound
		}
		return ledger.TxRecord{}, fmt.Errorf("pgstore: get tx: %w", err)
	}
	amount, _ := money.Parse(amountStr)
	return ledger.TxRecord{
		ID:      id,
		Client:  ledger.ClientID(clientID),
		Kind:    ledger.TxKind(kind),
		Amount:  amount,
		Dispute: ledger.DisputeState(disputeState),
	}, nil
}

func (t *tx) PutTx(ctx context.Context, record ledger.TxRecord) error {
	if t.mode == storage.Read {
		return errReadOnly
	}
	_, err := t.pgTx.Exec(ctx, `
		INSERT INTO tx_records (tx_id, client_id, kind, amount, dispute_state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_id) DO UPDATE SET
			client_id = excluded.client_id,
			kind = excluded.kind,
			amount = excluded.amount,
			dispute_state = excluded.dispute_state
	`, record.ID, record.Client, int(record.Kind), record.Amount.String(), int(record.Dispute))
	if err != nil {
		if isSerializationFailure(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("pgstore: put tx: %w", err)
	}
	return nil
}

func (t *tx) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := t.pgTx.Query(ctx, `SELECT client_id, available, held, locked FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var clientID uint16
		var availStr, heldStr string
		var locked bool
		if err := rows.Scan(&clientID, &availStr, &heldStr, &locked); err != nil {
			return nil, fmt.Errorf("pgstore: scan account: %w", err)
		}
		available, _ := money.Parse(availStr)
		held, _ := money.Parse(heldStr)
		out = append(out, ledger.Account{Client: ledger.ClientID(clientID), Available: available, Held: held, Locked: locked})
	}
	return out, rows.Err()
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errAlreadyClosed
	}
	t.done = true
	if err := t.pgTx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return errAlreadyClosed
	}
	t.done = true
	return t.pgTx.Rollback(ctx)
}

// isSerializationFailure reports whether err is a Postgres
// serialization failure (40001, under RepeatableRead) or a unique
// violation (23505, a first-write race on a primary key) -- both of
// which the engine should treat as a retryable conflict.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "23505"
	}
	return false
}
