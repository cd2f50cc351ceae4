package api

import (
	"encoding/json"
	"net/http"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/services"
	"github.com/kilnworks/kiln/utils"
)

type MintHandler struct {
	mintService       *services.MintService
	settlementService *services.SettlementService
}

func CreateMintHandler(mintService *services.MintService, settlementService *services.SettlementService) *MintHandler {
	return &MintHandler{
		mintService:       mintService,
		settlementService: settlementService,
	}
}

// HandleMint is phase one: reserve inventory and quote payment terms.
func (h *MintHandler) HandleMint(w http.ResponseWriter, r *http.Request) {
	var req models.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	result, err := h.mintService.Reserve(r.Context(), &req)
	if err != nil {
		writeError(w, err, req.IdempotencyKey)
		return
	}

	if result.Replayed {
		writeRawJSON(w, http.StatusOK, result.Raw)
		return
	}
	writeJSON(w, http.StatusOK, result.Response)
}

// HandleConfirm is phase two: verify the broadcast payment and settle.
func (h *MintHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.IdempotencyKey == "" || req.PaymentSignature == "" {
		writeError(w, utils.ErrInvalidRequest, req.IdempotencyKey)
		return
	}

	result, err := h.settlementService.Settle(r.Context(), req.IdempotencyKey, req.PaymentSignature, req.ReservedItemIDs)
	if err != nil {
		// A failed payment still carries its terminal envelope.
		if result != nil && result.Response != nil {
			writeJSON(w, utils.HTTPStatusFromError(err), result.Response)
			return
		}
		writeError(w, err, req.IdempotencyKey)
		return
	}

	if result.Raw != nil {
		writeRawJSON(w, http.StatusOK, result.Raw)
		return
	}
	writeJSON(w, http.StatusOK, result.Response)
}
