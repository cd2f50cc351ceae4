package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func NewAPIErrorWithDetails(code int, message, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrInvalidRequest = NewAPIError(http.StatusBadRequest, "Invalid request")
	ErrNotFound       = NewAPIError(http.StatusNotFound, "Resource not found")
	ErrInternalServer = NewAPIError(http.StatusInternalServerError, "Internal server error")
)

// Business-rule failures. These fail fast before any mutation.
var (
	ErrCollectionNotFound = NewAPIError(http.StatusNotFound, "Collection not found")
	ErrNoActivePhase      = NewAPIError(http.StatusBadRequest, "No active mint phase")
	ErrNotAllowlisted     = NewAPIError(http.StatusBadRequest, "Buyer is not on the allowlist")
	ErrInsufficientSupply = NewAPIError(http.StatusBadRequest, "Insufficient unminted supply")
	ErrExceedsMintLimit   = NewAPIError(http.StatusBadRequest, "Per-wallet mint limit exceeded")
)

// Concurrency and settlement failures.
var (
	// ErrReservationRace means the caller lost a race for the same items and
	// may retry with the same idempotency key.
	ErrReservationRace = NewAPIError(http.StatusConflict, "Reservation lost a concurrency race")

	// ErrRequestInFlight means another call is currently working the same
	// idempotency key.
	ErrRequestInFlight = NewAPIError(http.StatusConflict, "Request already in flight")

	// ErrPaymentNotConfirmed means the payment network reported the signature
	// as missing or errored. The reservation has been released.
	ErrPaymentNotConfirmed = NewAPIError(http.StatusBadRequest, "Payment not confirmed")

	// ErrSettlementConflict means an item failed the settlement precondition
	// re-check. The transaction was aborted with no partial state; the request
	// is held for manual reconciliation.
	ErrSettlementConflict = NewAPIError(http.StatusInternalServerError, "Settlement state conflict")

	// ErrRequestMismatch means a reused idempotency key carried a different
	// request body than the original attempt.
	ErrRequestMismatch = NewAPIError(http.StatusUnprocessableEntity, "Idempotency key reused with a different request")
)

var (
	ErrStoreUnavailable   = NewAPIError(http.StatusInternalServerError, "Durable store unavailable, retry with the same idempotency key")
	ErrNetworkUnavailable = NewAPIError(http.StatusInternalServerError, "Payment network unavailable, retry with the same idempotency key")
	ErrOracleUnavailable  = errors.New("price oracle unavailable")
)

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

func HTTPStatusFromError(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return http.StatusInternalServerError
}
