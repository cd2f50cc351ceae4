package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kilnworks/kiln/utils"
)

// ErrorResponse is the failure envelope. Retryable conditions always echo the
// idempotency key so clients key their retries on it rather than resending
// payment.
type ErrorResponse struct {
	Success        bool   `json:"success"`
	Error          string `json:"error"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// writeRawJSON replays a stored response body verbatim.
func writeRawJSON(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

func writeError(w http.ResponseWriter, err error, idempotencyKey string) {
	status := utils.HTTPStatusFromError(err)

	message := err.Error()
	var apiErr *utils.APIError
	if errors.As(err, &apiErr) {
		message = apiErr.Message
		if apiErr.Details != "" {
			message = apiErr.Message + ": " + apiErr.Details
		}
	}

	writeJSON(w, status, ErrorResponse{
		Success:        false,
		Error:          message,
		IdempotencyKey: idempotencyKey,
	})
}
