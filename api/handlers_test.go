package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/engineerr"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/money"
)

type fakeReader struct {
	accounts map[ledger.ClientID]ledger.Account
}

func (f *fakeReader) GetAccount(ctx context.Context, client ledger.ClientID) (ledger.Account, error) {
	acc, ok := f.accounts[client]
	if !ok {
		return ledger.Account{}, engineerr.New(engineerr.ErrAccountNotFound, uint16(client), 0)
	}
	return acc, nil
}

func (f *fakeReader) Accounts(ctx context.Context) (<-chan ledger.Account, <-chan error) {
	out := make(chan ledger.Account, len(f.accounts))
	errc := make(chan error, 1)
	for _, acc := range f.accounts {
		out <- acc
	}
	close(out)
	close(errc)
	return out, errc
}

func TestListAccounts(t *testing.T) {
	reader := &fakeReader{accounts: map[ledger.ClientID]ledger.Account{
		1: {Client: 1, Available: money.MustParse("10.0000")},
	}}
	h := NewHandler(reader)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []accountDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "10.0000", got[0].Available)
}

func TestGetAccountNotFound(t *testing.T) {
	h := NewHandler(&fakeReader{accounts: map[ledger.ClientID]ledger.Account{}})
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/accounts/5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAccountInvalidID(t *testing.T) {
	h := NewHandler(&fakeReader{accounts: map[ledger.ClientID]ledger.Account{}})
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/accounts/not-a-number", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
