package stream

import (
	"bytes"
	"context"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/warp/ledger-engine/engineerr"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
)

// fakeEngine records calls and lets tests script a one-shot conflict.
type fakeEngine struct {
	mu       sync.Mutex
	deposits map[ledger.TxID]int
	balances map[ledger.ClientID]money.Money

	conflictOnce map[ledger.TxID]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		deposits:     map[ledger.TxID]int{},
		balances:     map[ledger.ClientID]money.Money{},
		conflictOnce: map[ledger.TxID]bool{},
	}
}

func (f *fakeEngine) Deposit(ctx context.Context, client ledger.ClientID, tx ledger.TxID, amount money.Money) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictOnce[tx] {
		f.conflictOnce[tx] = false
		return engineerr.New(engineerr.ErrConcurrentOperationDetected, uint16(client), uint32(tx))
	}
	f.deposits[tx]++
	f.balances[client] = f.balances[client].Add(amount)
	return nil
}

func (f *fakeEngine) Withdraw(ctx context.Context, client ledger.ClientID, tx ledger.TxID, amount money.Money) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[client] = f.balances[client].Sub(amount)
	return nil
}

func (f *fakeEngine) Dispute(ctx context.Context, client ledger.ClientID, tx ledger.TxID) error    { return nil }
func (f *fakeEngine) Resolve(ctx context.Context, client ledger.ClientID, tx ledger.TxID) error    { return nil }
func (f *fakeEngine) Chargeback(ctx context.Context, client ledger.ClientID, tx ledger.TxID) error { return nil }

func (f *fakeEngine) Accounts(ctx context.Context) (<-chan ledger.Account, <-chan error) {
	out := make(chan ledger.Account)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		f.mu.Lock()
		defer f.mu.Unlock()
		for client, bal := range f.balances {
			out <- ledger.Account{Client: client, Available: bal}
		}
	}()
	return out, errc
}

func TestDriverRunHappyPath(t *testing.T) {
	input := "type,client,tx,amount\ndeposit,1,1,10.0\ndeposit,2,2,5.0\nwithdrawal,1,3,3.0\n"
	eng := newFakeEngine()
	d := New(eng, log.New(nullWriter{}, "", 0))

	var out bytes.Buffer
	if err := d.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}
	if eng.deposits[1] != 1 || eng.deposits[2] != 1 {
		t.Fatalf("expected both deposits dispatched exactly once, got %v", eng.deposits)
	}
	if !strings.Contains(out.String(), "client,available,held,total,locked") {
		t.Fatalf("missing header in output:\n%s", out.String())
	}
}

func TestDriverRetriesConflict(t *testing.T) {
	input := "type,client,tx,amount\ndeposit,1,1,10.0\n"
	eng := newFakeEngine()
	eng.conflictOnce[1] = true
	d := New(eng, log.New(nullWriter{}, "", 0))

	var out bytes.Buffer
	if err := d.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}
	if eng.deposits[1] != 1 {
		t.Fatalf("expected deposit to succeed after one retry, got count %d", eng.deposits[1])
	}
}

func TestDriverSkipsMalformedRows(t *testing.T) {
	input := "type,client,tx,amount\nbogus,1,1,5\ndeposit,2,2,10.0\n"
	eng := newFakeEngine()
	d := New(eng, log.New(nullWriter{}, "", 0))

	var out bytes.Buffer
	if err := d.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}
	if eng.deposits[2] != 1 {
		t.Fatalf("expected the valid deposit to still be dispatched, got %v", eng.deposits)
	}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
