/*
types.go - ledger domain types

Account and TxRecord are the two entities the engine persists through
the storage contract, one keyed by client ID, the other by transaction
ID. Both are plain value types; all mutation happens through the engine,
never directly on a loaded value, so that the storage layer's
optimistic-concurrency check is the only path to a committed write.
*/
package ledger

import "github.com/warp/ledger-engine/money"

// ClientID identifies an account.
type ClientID uint16

// TxID identifies a transaction, unique across the whole stream.
type TxID uint32

// TxKind is the operation a TxRecord represents.
type TxKind int

const (
	TxDeposit TxKind = iota
	TxWithdrawal
)

func (k TxKind) String() string {
	switch k {
	case TxDeposit:
		return "deposit"
	case TxWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// DisputeState tracks where a deposit or withdrawal sits in the
// dispute lifecycle. ChargedBack is terminal: no further transition is
// permitted out of it.
type DisputeState int

const (
	NotDisputed DisputeState = iota
	Disputed
	ChargedBack
)

func (s DisputeState) String() string {
	switch s {
	case NotDisputed:
		return "none"
	case Disputed:
		return "disputed"
	case ChargedBack:
		return "charged_back"
	default:
		return "unknown"
	}
}

// TxRecord is the durable record of a processed deposit or withdrawal,
// kept so that later dispute/resolve/chargeback operations and replayed
// deposits/withdrawals can be validated against it.
type TxRecord struct {
	ID      TxID
	Client  ClientID
	Kind    TxKind
	Amount  money.Money
	Dispute DisputeState
}

// Account is a client's funds position. Total is always derived, never
// stored independently, so it can never drift out of sync with
// Available+Held.
type Account struct {
	Client    ClientID
	Available money.Money
	Held      money.Money
	Locked    bool
}

// Total returns Available+Held.
func (a Account) Total() money.Money {
	return a.Available.Add(a.Held)
}
