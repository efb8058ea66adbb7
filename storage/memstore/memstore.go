/*
memstore.go - in-process transactional store

PURPOSE:
  The default storage.Store backend: everything lives in process memory
  behind a single mutex, with per-row version counters used to detect
  the conflicts storage.Tx.Commit must surface. This generalizes the
  teacher's snapshot-and-restore WithTx pattern (generic/store/memory.go)
  into a real begin/commit/rollback handle: instead of copying the whole
  store on every transaction and restoring it wholesale on error, each
  row carries a version, and Commit only fails the rows that actually
  moved out from under it.

KEY CONCEPTS:
  - row[T]: a stored value plus the version it was written at. Version
    0 means "never written"; a transaction that reads a key before it
    exists records version 0 as its baseline, so a concurrent first
    write to that key still conflicts correctly against a second
    concurrent first write.
  - A transaction buffers its writes locally and only touches the
    shared maps at Commit, under the store's mutex, so two concurrent
    write transactions can run right up until one of them commits.

INVARIANTS:
  - Commit is all-or-nothing: if any written key's live version has
    advanced past the version this transaction observed, the whole
    commit fails with storage.ErrConflict and none of the transaction's
    writes are applied.
*/
package memstore

import (
	"context"
	"sync"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/storage"
)

type row[T any] struct {
	value   T
	version uint64
}

// Store is an in-process, mutex-guarded storage.Store.
type Store struct {
	mu       sync.Mutex
	accounts map[ledger.ClientID]row[ledger.Account]
	txs      map[ledger.TxID]row[ledger.TxRecord]
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[ledger.ClientID]row[ledger.Account]),
		txs:      make(map[ledger.TxID]row[ledger.TxRecord]),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Begin(ctx context.Context, mode storage.Mode) (storage.Tx, error) {
	return &tx{
		parent:       s,
		mode:         mode,
		accountSeen:  make(map[ledger.ClientID]uint64),
		txSeen:       make(map[ledger.TxID]uint64),
		accountWrite: make(map[ledger.ClientID]ledger.Account),
		txWrite:      make(map[ledger.TxID]ledger.TxRecord),
	}, nil
}

type tx struct {
	parent *Store
	mode   storage.Mode
	done   bool

	accountSeen  map[ledger.ClientID]uint64
	txSeen       map[ledger.TxID]uint64
	accountWrite map[ledger.ClientID]ledger.Account
	txWrite      map[ledger.TxID]ledger.TxRecord
}

func (t *tx) GetAccount(ctx context.Context, client ledger.ClientID) (ledger.Account, error) {
	if acc, ok := t.accountWrite[client]; ok {
		return acc, nil
	}
	t.parent.mu.Lock()
	r, ok := t.parent.accounts[client]
	t.parent.mu.Unlock()
	if _, seen := t.accountSeen[client]; !seen {
		t.accountSeen[client] = r.version
	}
	if !ok {
		return ledger.Account{}, storage.ErrNotFound
	}
	return r.value, nil
}

func (t *tx) PutAccount(ctx context.Context, account ledger.Account) error {
	if t.mode == storage.Read {
		return errReadOnly
	}
	if _, seen := t.accountSeen[account.Client]; !seen {
		t.parent.mu.Lock()
		t.accountSeen[account.Client] = t.parent.accounts[account.Client].version
		t.parent.mu.Unlock()
	}
	t.accountWrite[account.Client] = account
	return nil
}

func (t *tx) GetTx(ctx context.Context, id ledger.TxID) (ledger.TxRecord, error) {
	if rec, ok := t.txWrite[id]; ok {
		return rec, nil
	}
	t.parent.mu.Lock()
	r, ok := t.parent.txs[id]
	t.parent.mu.Unlock()
	if _, seen := t.txSeen[id]; !seen {
		t.txSeen[id] = r.version
	}
	if !ok {
		return ledger.TxRecord{}, storage.ErrNotFound
	}
	return r.value, nil
}

func (t *tx) PutTx(ctx context.Context, record ledger.TxRecord) error {
	if t.mode == storage.Read {
		return errReadOnly
	}
	if _, seen := t.txSeen[record.ID]; !seen {
		t.parent.mu.Lock()
		t.txSeen[record.ID] = t.parent.txs[record.ID].version
		t.parent.mu.Unlock()
	}
	t.txWrite[record.ID] = record
	return nil
}

func (t *tx) Accounts(ctx context.Context) ([]ledger.Account, error) {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()

	out := make([]ledger.Account, 0, len(t.parent.accounts))
	for client, r := range t.parent.accounts {
		if acc, ok := t.accountWrite[client]; ok {
			out = append(out, acc)
			continue
		}
		out = append(out, r.value)
	}
	for client, acc := range t.accountWrite {
		if _, exists := t.parent.accounts[client]; !exists {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errAlreadyClosed
	}
	t.done = true
	if t.mode == storage.Read {
		return nil
	}
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()

	for client, wantVersion := range t.accountSeen {
		if _, willWrite := t.accountWrite[client]; !willWrite {
			continue
		}
		if t.parent.accounts[client].version != wantVersion {
			return storage.ErrConflict
		}
	}
	for id, wantVersion := range t.txSeen {
		if _, willWrite := t.txWrite[id]; !willWrite {
			continue
		}
		if t.parent.txs[id].version != wantVersion {
			return storage.ErrConflict
		}
	}

	for client, acc := range t.accountWrite {
		t.parent.accounts[client] = row[ledger.Account]{
			value:   acc,
			version: t.parent.accounts[client].version + 1,
		}
	}
	for id, rec := range t.txWrite {
		t.parent.txs[id] = row[ledger.TxRecord]{
			value:   rec,
			version: t.parent.txs[id].version + 1,
		}
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return errAlreadyClosed
	}
	t.done = true
	return nil
}
