package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
	"github.com/warp/ledger-engine/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.Begin(ctx, storage.Write)
	require.NoError(t, err)
	acc := ledger.Account{Client: 1, Available: money.MustParse("42.5000")}
	require.NoError(t, tx.PutAccount(ctx, acc))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx, storage.Read)
	require.NoError(t, err)
	got, err := tx2.GetAccount(ctx, 1)
	require.NoError(t, err)
	require.True(t, got.Available.Equal(acc.Available))
	require.NoError(t, tx2.Commit(ctx))
}

func TestGetAccountNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, _ := s.Begin(ctx, storage.Read)
	_, err := tx.GetAccount(ctx, 99)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentWritesConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seed, _ := s.Begin(ctx, storage.Write)
	require.NoError(t, seed.PutAccount(ctx, ledger.Account{Client: 1, Available: money.MustParse("100.0000")}))
	require.NoError(t, seed.Commit(ctx))

	txA, _ := s.Begin(ctx, storage.Write)
	accA, err := txA.GetAccount(ctx, 1)
	require.NoError(t, err)

	txB, _ := s.Begin(ctx, storage.Write)
	accB, err := txB.GetAccount(ctx, 1)
	require.NoError(t, err)

	accA.Available = accA.Available.Sub(money.MustParse("10.0000"))
	accB.Available = accB.Available.Sub(money.MustParse("20.0000"))

	require.NoError(t, txA.PutAccount(ctx, accA))
	require.NoError(t, txB.PutAccount(ctx, accB))

	require.NoError(t, txA.Commit(ctx))
	require.ErrorIs(t, txB.Commit(ctx), storage.ErrConflict)
}

func TestPutTxWithoutPriorReadUpdatesExistingRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx1, _ := s.Begin(ctx, storage.Write)
	rec := ledger.TxRecord{ID: 7, Client: 1, Kind: ledger.TxDeposit, Amount: money.MustParse("5.0000")}
	require.NoError(t, tx1.PutTx(ctx, rec))
	require.NoError(t, tx1.Commit(ctx))

	tx2, _ := s.Begin(ctx, storage.Write)
	// A second transaction that never read tx 7 still does not collide
	// with the unique primary key: PutTx looks up the live version first.
	err := tx2.PutTx(ctx, rec)
	require.NoError(t, err) // baseline lookup sees the existing row, takes the UPDATE path
	require.NoError(t, tx2.Commit(ctx))
}
