package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilnworks/kiln/stores"
	"github.com/kilnworks/kiln/utils"
)

// HistoryHandler serves settled mint records. Read-only; the rows it returns
// were written by the settlement transaction.
type HistoryHandler struct {
	transactions *stores.MintTransactionStore
}

func CreateHistoryHandler(transactions *stores.MintTransactionStore) *HistoryHandler {
	return &HistoryHandler{transactions: transactions}
}

func (h *HistoryHandler) HandleListByBuyer(w http.ResponseWriter, r *http.Request) {
	buyer := mux.Vars(r)["address"]
	if buyer == "" {
		writeError(w, utils.ErrInvalidRequest, "")
		return
	}

	txs, err := h.transactions.ListByBuyer(r.Context(), buyer)
	if err != nil {
		writeError(w, utils.ErrStoreUnavailable, "")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *HistoryHandler) HandleGetByKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if key == "" {
		writeError(w, utils.ErrInvalidRequest, "")
		return
	}

	tx, err := h.transactions.GetByKey(r.Context(), key)
	if err != nil {
		writeError(w, utils.ErrNotFound, key)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}
