/*
handlers.go - inspection endpoint handlers

PURPOSE:
  Thin HTTP adapters over engine.Engine: no business logic lives here,
  only request parsing and JSON encoding. Every handler opens at most
  one engine call.

SEE ALSO:
  - engine/engine.go: GetAccount/Accounts, what these wrap.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/ledger-engine/engineerr"
	"github.com/warp/ledger-engine/ledger"
)

// accountsReader is the subset of *engine.Engine the inspection API
// calls.
type accountsReader interface {
	GetAccount(ctx context.Context, client ledger.ClientID) (ledger.Account, error)
	Accounts(ctx context.Context) (<-chan ledger.Account, <-chan error)
}

// Handler holds the dependencies every route needs.
type Handler struct {
	eng accountsReader
}

// NewHandler returns a Handler backed by eng.
func NewHandler(eng accountsReader) *Handler {
	return &Handler{eng: eng}
}

type accountDTO struct {
	Client    uint16 `json:"client"`
	Available string `json:"available"`
	Held      string `json:"held"`
	Total     string `json:"total"`
	Locked    bool   `json:"locked"`
}

func toDTO(acc ledger.Account) accountDTO {
	return accountDTO{
		Client:    uint16(acc.Client),
		Available: acc.Available.String(),
		Held:      acc.Held.String(),
		Total:     acc.Total().String(),
		Locked:    acc.Locked,
	}
}

// ListAccounts handles GET /accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, errc := h.eng.Accounts(r.Context())
	dtos := make([]accountDTO, 0)
	for acc := range accounts {
		dtos = append(dtos, toDTO(acc))
	}
	if err := <-errc; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount handles GET /accounts/{client}.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	clientParam := chi.URLParam(r, "client")
	clientVal, err := strconv.ParseUint(clientParam, 10, 16)
	if err != nil {
		http.Error(w, "invalid client id", http.StatusBadRequest)
		return
	}

	acc, err := h.eng.GetAccount(r.Context(), ledger.ClientID(clientVal))
	if err != nil {
		if errors.Is(err, engineerr.ErrAccountNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(acc))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
