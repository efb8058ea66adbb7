package memstore

import (
	"context"
	"testing"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
	"github.com/warp/ledger-engine/storage"
)

func TestPutGetAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx, storage.Write)
	if err != nil {
		t.Fatal(err)
	}
	acc := ledger.Account{Client: 1, Available: money.MustParse("10.0000")}
	if err := tx.PutAccount(ctx, acc); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx2, _ := s.Begin(ctx, storage.Read)
	got, err := tx2.GetAccount(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Available.Equal(acc.Available) {
		t.Errorf("got %s, want %s", got.Available, acc.Available)
	}
	tx2.Commit(ctx)
}

func TestGetAccountNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx, _ := s.Begin(ctx, storage.Read)
	_, err := tx.GetAccount(ctx, 99)
	if err != storage.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// TestConcurrentWritesConflict exercises the optimistic-concurrency
// path: two transactions both read the same account, both write it;
// the second to commit must see ErrConflict.
func TestConcurrentWritesConflict(t *testing.T) {
	ctx := context.Background()
	s := New()

	seed, _ := s.Begin(ctx, storage.Write)
	seed.PutAccount(ctx, ledger.Account{Client: 1, Available: money.MustParse("100.0000")})
	seed.Commit(ctx)

	txA, _ := s.Begin(ctx, storage.Write)
	txB, _ := s.Begin(ctx, storage.Write)

	accA, _ := txA.GetAccount(ctx, 1)
	accB, _ := txB.GetAccount(ctx, 1)

	accA.Available = accA.Available.Sub(money.MustParse("10.0000"))
	accB.Available = accB.Available.Sub(money.MustParse("20.0000"))

	txA.PutAccount(ctx, accA)
	txB.PutAccount(ctx, accB)

	if err := txA.Commit(ctx); err != nil {
		t.Fatalf("first commit should succeed, got %v", err)
	}
	if err := txB.Commit(ctx); err != storage.ErrConflict {
		t.Fatalf("second commit should conflict, got %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, _ := s.Begin(ctx, storage.Write)
	tx.PutAccount(ctx, ledger.Account{Client: 5, Available: money.MustParse("1.0000")})
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	tx2, _ := s.Begin(ctx, storage.Read)
	_, err := tx2.GetAccount(ctx, 5)
	if err != storage.ErrNotFound {
		t.Fatalf("expected rollback to discard write, got account with err=%v", err)
	}
}
