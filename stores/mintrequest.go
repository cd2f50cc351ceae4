package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/utils"
)

// How long a lock on a non-terminal request is honored before a retry under
// the same key may take it over.
const lockTakeoverAfter = time.Minute

// BeginResult is the outcome of opening a ledger entry for an idempotency key.
type BeginResult struct {
	Fresh          bool
	Request        *models.MintRequest
	CachedResponse models.JSON
}

// MintRequestStore is the idempotent request ledger. One row per logical mint
// attempt, keyed by idempotency key, reaching exactly one terminal state.
type MintRequestStore struct {
	BaseStore
}

func CreateMintRequestStore(db *gorm.DB) *MintRequestStore {
	return &MintRequestStore{BaseStore: BaseStore{db: db}}
}

// Begin opens or resumes the ledger entry for key.
//
//   - no record: creates one pending and locked, Fresh=true.
//   - settled record: returns the stored response verbatim, no further work.
//   - pending/verifying with a live lock: ErrRequestInFlight.
//   - pending with a stale lock, or failed: takes the lock over so the caller
//     may run a fresh attempt under the same key.
//
// A reused key must carry the same request body as the original attempt.
func (s *MintRequestStore) Begin(ctx context.Context, key string, requestBody []byte) (*BeginResult, error) {
	requestHash := hashRequest(requestBody)
	now := time.Now()

	var existing models.MintRequest
	err := s.GetDB(ctx).Where("idempotency_key = ?", key).First(&existing).Error

	if err == nil {
		if existing.RequestHash != requestHash {
			return nil, utils.ErrRequestMismatch
		}

		if existing.Status == models.MintRequestStatusSettled {
			return &BeginResult{
				Fresh:          false,
				Request:        &existing,
				CachedResponse: existing.ResponseBody,
			}, nil
		}

		if existing.Status == models.MintRequestStatusVerifying {
			return nil, utils.ErrRequestInFlight
		}

		if existing.LockedAt != nil && time.Since(*existing.LockedAt) < lockTakeoverAfter {
			return nil, utils.ErrRequestInFlight
		}

		// Stale pending lock or a failed attempt: take it over.
		result := s.GetDB(ctx).
			Model(&models.MintRequest{}).
			Where("idempotency_key = ? AND status IN ?", key,
				[]models.MintRequestStatus{models.MintRequestStatusPending, models.MintRequestStatusFailed}).
			Updates(map[string]interface{}{
				"status":    models.MintRequestStatusPending,
				"locked_at": now,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, utils.ErrRequestInFlight
		}

		existing.Status = models.MintRequestStatusPending
		existing.LockedAt = &now
		return &BeginResult{Fresh: false, Request: &existing}, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	req := &models.MintRequest{
		IdempotencyKey: key,
		Status:         models.MintRequestStatusPending,
		RequestHash:    requestHash,
		RequestBody:    models.JSON(requestBody),
		LockedAt:       &now,
	}
	if err := s.GetDB(ctx).Create(req).Error; err != nil {
		// A concurrent duplicate may have inserted the row first.
		if isDuplicateKey(err) {
			return nil, utils.ErrRequestInFlight
		}
		return nil, err
	}

	return &BeginResult{Fresh: true, Request: req}, nil
}

// isDuplicateKey recognizes a unique violation both as gorm's translated
// sentinel and as the raw postgres SQLSTATE, so detection does not hinge on
// the connection's TranslateError setting.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}

// UpdateSnapshot replaces the request body of a pending attempt with the
// reservation snapshot so settlement and the sweep can recover the quoted
// terms. The request hash is left alone: it stays keyed to the client's
// original body so retries under the same key still compare equal.
func (s *MintRequestStore) UpdateSnapshot(ctx context.Context, key string, requestBody []byte) error {
	return s.GetDB(ctx).
		Model(&models.MintRequest{}).
		Where("idempotency_key = ? AND status = ?", key, models.MintRequestStatusPending).
		Update("request_body", models.JSON(requestBody)).Error
}

// Unlock drops the in-flight lock on a non-terminal request so a retry under
// the same key does not have to wait out the takeover window.
func (s *MintRequestStore) Unlock(ctx context.Context, key string) error {
	return s.GetDB(ctx).
		Model(&models.MintRequest{}).
		Where("idempotency_key = ? AND status IN ?", key,
			[]models.MintRequestStatus{models.MintRequestStatusPending, models.MintRequestStatusVerifying}).
		Update("locked_at", nil).Error
}

// ReclaimVerifying takes over a verifying request whose lock has gone stale,
// as happens when a handler crashed between payment confirmation and commit.
// Used by settlement retries driven by the sweep.
func (s *MintRequestStore) ReclaimVerifying(ctx context.Context, key string, staleBefore time.Time) (bool, error) {
	result := s.GetDB(ctx).
		Model(&models.MintRequest{}).
		Where("idempotency_key = ? AND status = ? AND (locked_at IS NULL OR locked_at < ?)",
			key, models.MintRequestStatusVerifying, staleBefore).
		Update("locked_at", time.Now())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimVerifying is the single-flight guard for settlement: exactly one
// caller wins the pending -> verifying transition.
func (s *MintRequestStore) ClaimVerifying(ctx context.Context, key string) (bool, error) {
	result := s.GetDB(ctx).
		Model(&models.MintRequest{}).
		Where("idempotency_key = ? AND status = ?", key, models.MintRequestStatusPending).
		Updates(map[string]interface{}{
			"status":    models.MintRequestStatusVerifying,
			"locked_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Complete sets the terminal state and freezes the response body. It must be
// called inside the same transaction as the inventory mutation it accompanies.
func (s *MintRequestStore) Complete(ctx context.Context, key string, status models.MintRequestStatus, responseBody []byte) error {
	if !status.Terminal() {
		return errors.New("mint request: Complete requires a terminal status")
	}
	result := s.GetDB(ctx).
		Model(&models.MintRequest{}).
		Where("idempotency_key = ? AND status NOT IN ?", key,
			[]models.MintRequestStatus{models.MintRequestStatusSettled}).
		Updates(map[string]interface{}{
			"status":        status,
			"response_body": models.JSON(responseBody),
			"locked_at":     nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrSettlementConflict
	}
	return nil
}

// ReleaseToVerifying parks a request back in verifying after a post-confirmation
// store failure, so the sweep can retry the settlement. The payment may be
// valid; the request must not be failed.
func (s *MintRequestStore) ReleaseToVerifying(ctx context.Context, key string) error {
	return s.GetDB(ctx).
		Model(&models.MintRequest{}).
		Where("idempotency_key = ? AND status = ?", key, models.MintRequestStatusVerifying).
		Update("locked_at", nil).Error
}

func (s *MintRequestStore) Get(ctx context.Context, key string) (*models.MintRequest, error) {
	var req models.MintRequest
	if err := s.GetDB(ctx).First(&req, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// FindStuck returns non-terminal requests untouched since the cutoff,
// oldest first. Input to the reconciliation sweep.
func (s *MintRequestStore) FindStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]models.MintRequest, error) {
	var reqs []models.MintRequest
	err := s.GetDB(ctx).
		Where("status IN ? AND updated_at < ?",
			[]models.MintRequestStatus{models.MintRequestStatusPending, models.MintRequestStatusVerifying},
			updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

func hashRequest(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}
