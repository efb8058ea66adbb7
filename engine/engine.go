/*
engine.go - transaction state machine

PURPOSE:
  Engine is the core of the ledger: it turns a deposit/withdrawal/
  dispute/resolve/chargeback call into a read-modify-write transaction
  against a storage.Store, enforcing the validation order and dispute
  state machine below. It never retries a storage.ErrConflict itself --
  that decision belongs to the caller (the stream driver), which can
  choose a backoff strategy appropriate to the batch it is processing.

KEY CONCEPTS:
  - Deposit and Withdraw are idempotent on exact replay: calling either
    twice with the same (client, tx, amount) is equivalent to calling it
    once. A replay with the same tx id but a different amount or kind is
    DuplicateTransactionId, never silently accepted.
  - Dispute, Resolve, and Chargeback are NOT idempotent: each is a
    strict state transition (None -> Disputed -> {None, ChargedBack}).
    Repeating one is always an error, because "dispute it twice" and
    "resolve something that was never disputed" both violate the state
    machine as a matter of policy, not storage mechanics.
  - Deposits lazily create the target account; withdrawals never do, so
    a client can receive funds before any record of them exists but
    cannot be debited into existence.

INVARIANTS:
  - Every exported method opens exactly one storage.Tx and commits or
    rolls it back before returning; no method leaves a transaction open.
  - AccountLocked is checked before any balance mutation for Deposit and
    Withdraw; dispute/resolve/chargeback never check Locked, since a
    chargeback's whole purpose is to lock a previously-unlocked account.

SEE ALSO:
  - original_source/src/account.rs, engine.rs: validation order this
    mirrors field for field.
  - stream/driver.go: the caller of the write operations, which owns
    retries. api/handlers.go calls only GetAccount and Accounts.
*/
package engine

import (
	"context"
	"time"

	"github.com/warp/ledger-engine/engineerr"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
	"github.com/warp/ledger-engine/storage"
)

// Metrics is the narrow interface the engine reports through; a nil
// Metrics is valid and simply disables reporting. metrics.Recorder
// implements this.
type Metrics interface {
	ObserveOperation(kind string, outcome string)
	ObserveCommitDuration(seconds float64)
}

// Engine implements the deposit/withdraw/dispute/resolve/chargeback
// state machine over a storage.Store.
type Engine struct {
	store   storage.Store
	metrics Metrics
}

// New returns an Engine backed by store. metrics may be nil.
func New(store storage.Store, metrics Metrics) *Engine {
	return &Engine{store: store, metrics: metrics}
}

func (e *Engine) report(kind string, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.ObserveOperation(kind, outcome)
}

func translateCommitErr(err error) error {
	if err == storage.ErrConflict {
		return engineerr.ErrConcurrentOperationDetected
	}
	return err
}

func (e *Engine) commit(ctx context.Context, tx storage.Tx) error {
	start := time.Now()
	err := tx.Commit(ctx)
	if e.metrics != nil {
		e.metrics.ObserveCommitDuration(time.Since(start).Seconds())
	}
	return translateCommitErr(err)
}

// Deposit credits amount to client's available balance, lazily
// creating the account if it does not exist.
func (e *Engine) Deposit(ctx context.Context, client ledger.ClientID, txID ledger.TxID, amount money.Money) (err error) {
	defer func() { e.report("deposit", err) }()

	if !amount.IsPositive() {
		return engineerr.New(engineerr.ErrInvalidAmount, uint16(client), uint32(txID))
	}

	tx, err := e.store.Begin(ctx, storage.Write)
	if err != nil {
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}

	existing, getErr := tx.GetTx(ctx, txID)
	switch {
	case getErr == nil:
		tx.Rollback(ctx)
		if existing.Kind == ledger.TxDeposit && existing.Client == client && existing.Amount.Equal(amount) {
			return nil
		}
		return engineerr.New(engineerr.ErrDuplicateTransactionID, uint16(client), uint32(txID))
	case getErr != storage.ErrNotFound:
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), getErr)
	}

	account, getErr := tx.GetAccount(ctx, client)
	if getErr == storage.ErrNotFound {
		account = ledger.Account{Client: client}
	} else if getErr != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), getErr)
	}

	if account.Locked {
		tx.Rollback(ctx)
		return engineerr.New(engineerr.ErrAccountLocked, uint16(client), uint32(txID))
	}

	account.Available = account.Available.Add(amount)

	if err := tx.PutAccount(ctx, account); err != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}
	if err := tx.PutTx(ctx, ledger.TxRecord{ID: txID, Client: client, Kind: ledger.TxDeposit, Amount: amount}); err != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}

	if err := e.commit(ctx, tx); err != nil {
		return engineerr.Wrap(err, uint16(client), uint32(txID), nil)
	}
	return nil
}

// Withdraw debits amount from client's available balance. The account
// must already exist and hold sufficient available funds.
func (e *Engine) Withdraw(ctx context.Context, client ledger.ClientID, txID ledger.TxID, amount money.Money) (err error) {
	defer func() { e.report("withdraw", err) }()

	if !amount.IsPositive() {
		return engineerr.New(engineerr.ErrInvalidAmount, uint16(client), uint32(txID))
	}

	tx, err := e.store.Begin(ctx, storage.Write)
	if err != nil {
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}

	existing, getErr := tx.GetTx(ctx, txID)
	switch {
	case getErr == nil:
		tx.Rollback(ctx)
		if existing.Kind == ledger.TxWithdrawal && existing.Client == client && existing.Amount.Equal(amount) {
			return nil
		}
		return engineerr.New(engineerr.ErrDuplicateTransactionID, uint16(client), uint32(txID))
	case getErr != storage.ErrNotFound:
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), getErr)
	}

	account, getErr := tx.GetAccount(ctx, client)
	if getErr == storage.ErrNotFound {
		tx.Rollback(ctx)
		return engineerr.New(engineerr.ErrAccountNotFound, uint16(client), uint32(txID))
	} else if getErr != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), getErr)
	}

	if account.Locked {
		tx.Rollback(ctx)
		return engineerr.New(engineerr.ErrAccountLocked, uint16(client), uint32(txID))
	}
	if amount.GreaterThan(account.Available) {
		tx.Rollback(ctx)
		return engineerr.New(engineerr.ErrInsufficientFunds, uint16(client), uint32(txID))
	}

	account.Available = account.Available.Sub(amount)

	if err := tx.PutAccount(ctx, account); err != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}
	if err := tx.PutTx(ctx, ledger.TxRecord{ID: txID, Client: client, Kind: ledger.TxWithdrawal, Amount: amount}); err != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}

	if err := e.commit(ctx, tx); err != nil {
		return engineerr.Wrap(err, uint16(client), uint32(txID), nil)
	}
	return nil
}

// Dispute places a previously posted deposit under dispute, moving its
// amount from available to held. Only deposits are disputable.
func (e *Engine) Dispute(ctx context.Context, client ledger.ClientID, txID ledger.TxID) (err error) {
	defer func() { e.report("dispute", err) }()
	return e.transition(ctx, client, txID, "dispute")
}

// Resolve releases a disputed transaction back to available funds.
func (e *Engine) Resolve(ctx context.Context, client ledger.ClientID, txID ledger.TxID) (err error) {
	defer func() { e.report("resolve", err) }()
	return e.transition(ctx, client, txID, "resolve")
}

// Chargeback reverses a disputed transaction permanently and locks the
// account.
func (e *Engine) Chargeback(ctx context.Context, client ledger.ClientID, txID ledger.TxID) (err error) {
	defer func() { e.report("chargeback", err) }()
	return e.transition(ctx, client, txID, "chargeback")
}

func (e *Engine) transition(ctx context.Context, client ledger.ClientID, txID ledger.TxID, op string) error {
	tx, err := e.store.Begin(ctx, storage.Write)
	if err != nil {
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}

	record, getErr := tx.GetTx(ctx, txID)
	if getErr == storage.ErrNotFound {
		tx.Rollback(ctx)
		return engineerr.New(engineerr.ErrTxNotFound, uint16(client), uint32(txID))
	} else if getErr != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), getErr)
	}

	if record.Client != client {
		tx.Rollback(ctx)
		return engineerr.New(engineerr.ErrTxClientMismatch, uint16(client), uint32(txID))
	}
	if op == "dispute" && record.Kind != ledger.TxDeposit {
		tx.Rollback(ctx)
		return engineerr.New(engineerr.ErrNotDisputable, uint16(client), uint32(txID))
	}

	if stateErr := checkTransition(record.Dispute, op); stateErr != nil {
		tx.Rollback(ctx)
		return engineerr.New(stateErr, uint16(client), uint32(txID))
	}

	account, getErr := tx.GetAccount(ctx, client)
	if getErr != nil {
		tx.Rollback(ctx)
		if getErr == storage.ErrNotFound {
			return engineerr.New(engineerr.ErrAccountNotFound, uint16(client), uint32(txID))
		}
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), getErr)
	}

	switch op {
	case "dispute":
		account.Available = account.Available.Sub(record.Amount)
		account.Held = account.Held.Add(record.Amount)
		record.Dispute = ledger.Disputed
	case "resolve":
		account.Held = account.Held.Sub(record.Amount)
		account.Available = account.Available.Add(record.Amount)
		record.Dispute = ledger.NotDisputed
	case "chargeback":
		account.Held = account.Held.Sub(record.Amount)
		account.Locked = true
		record.Dispute = ledger.ChargedBack
	}

	if err := tx.PutAccount(ctx, account); err != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}
	if err := tx.PutTx(ctx, record); err != nil {
		tx.Rollback(ctx)
		return engineerr.Wrap(engineerr.ErrStorage, uint16(client), uint32(txID), err)
	}

	if err := e.commit(ctx, tx); err != nil {
		return engineerr.Wrap(err, uint16(client), uint32(txID), nil)
	}
	return nil
}

// checkTransition enforces the dispute state machine:
// None -> Disputed (dispute), Disputed -> None (resolve),
// Disputed -> ChargedBack (chargeback, terminal).
func checkTransition(current ledger.DisputeState, op string) error {
	switch op {
	case "dispute":
		switch current {
		case ledger.NotDisputed:
			return nil
		case ledger.Disputed:
			return engineerr.ErrAlreadyDisputed
		case ledger.ChargedBack:
			return engineerr.ErrChargedBackTerminal
		}
	case "resolve", "chargeback":
		switch current {
		case ledger.Disputed:
			return nil
		case ledger.NotDisputed:
			return engineerr.ErrNotDisputed
		case ledger.ChargedBack:
			return engineerr.ErrChargedBackTerminal
		}
	}
	return nil
}

// GetAccount returns a single account's current state.
func (e *Engine) GetAccount(ctx context.Context, client ledger.ClientID) (ledger.Account, error) {
	tx, err := e.store.Begin(ctx, storage.Read)
	if err != nil {
		return ledger.Account{}, engineerr.Wrap(engineerr.ErrStorage, uint16(client), 0, err)
	}
	defer tx.Rollback(ctx)

	account, err := tx.GetAccount(ctx, client)
	if err == storage.ErrNotFound {
		return ledger.Account{}, engineerr.New(engineerr.ErrAccountNotFound, uint16(client), 0)
	} else if err != nil {
		return ledger.Account{}, engineerr.Wrap(engineerr.ErrStorage, uint16(client), 0, err)
	}
	return account, nil
}

// Accounts streams every account in the store, in unspecified order.
// The returned channels are both closed once iteration completes; a
// send on the error channel, if any, is always the final value sent
// before both channels close.
func (e *Engine) Accounts(ctx context.Context) (<-chan ledger.Account, <-chan error) {
	out := make(chan ledger.Account)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		tx, err := e.store.Begin(ctx, storage.Read)
		if err != nil {
			errc <- engineerr.Wrap(engineerr.ErrStorage, 0, 0, err)
			return
		}
		defer tx.Rollback(ctx)

		accounts, err := tx.Accounts(ctx)
		if err != nil {
			errc <- engineerr.Wrap(engineerr.ErrStorage, 0, 0, err)
			return
		}
		for _, account := range accounts {
			select {
			case out <- account:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}
