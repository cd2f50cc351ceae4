package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kilnworks/kiln/utils"
)

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient supply", utils.ErrInsufficientSupply, http.StatusBadRequest},
		{"collection not found", utils.ErrCollectionNotFound, http.StatusNotFound},
		{"request in flight", utils.ErrRequestInFlight, http.StatusConflict},
		{"reservation race", utils.ErrReservationRace, http.StatusConflict},
		{"key reuse mismatch", utils.ErrRequestMismatch, http.StatusUnprocessableEntity},
		{"store unavailable", utils.ErrStoreUnavailable, http.StatusInternalServerError},
		{"plain error", utils.ErrOracleUnavailable, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err, "key-1")

			if w.Code != tt.want {
				t.Errorf("writeError(%v) status = %d, want %d", tt.err, w.Code, tt.want)
			}
			var response ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}
			if response.Success {
				t.Error("writeError() success should be false")
			}
			if response.IdempotencyKey != "key-1" {
				t.Errorf("writeError() idempotencyKey = %q, want key-1", response.IdempotencyKey)
			}
		})
	}
}

func TestWriteError_IncludesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, utils.NewAPIErrorWithDetails(400, "Invalid request", "quantity out of range"), "")

	var response ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Error != "Invalid request: quantity out of range" {
		t.Errorf("writeError() error = %q, want message with details", response.Error)
	}
}

func TestWriteRawJSON_ReplaysBytesVerbatim(t *testing.T) {
	w := httptest.NewRecorder()
	stored := []byte(`{"success":true,"idempotencyKey":"key-1"}`)

	writeRawJSON(w, http.StatusOK, stored)

	if w.Body.String() != string(stored) {
		t.Errorf("writeRawJSON() body = %s, want the stored bytes unchanged", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("writeRawJSON() content type = %q, want application/json", got)
	}
}
