package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/providers"
	"github.com/kilnworks/kiln/utils"
)

// SweepConfig bounds the reconciliation loop. VerifyTimeout is how long a
// request may sit non-terminal before the sweep looks for its payment;
// AbandonTimeout is the longer grace period after which an unpaid reservation
// is released back to availability.
type SweepConfig struct {
	Interval       time.Duration
	VerifyTimeout  time.Duration
	AbandonTimeout time.Duration
	BatchSize      int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:       2 * time.Minute,
		VerifyTimeout:  5 * time.Minute,
		AbandonTimeout: 30 * time.Minute,
		BatchSize:      100,
	}
}

// SweepService is the background recovery path. It closes the gap between
// "payment broadcast but the client crashed before reporting it" and
// "payment never sent at all", which the request/response path cannot
// resolve on its own.
type SweepService struct {
	ledger     requestLedger
	items      inventory
	settlement *SettlementService
	network    providers.PaymentNetwork
	runner     txRunner
	config     SweepConfig
	logger     *utils.Logger
}

func CreateSweepService(
	ledger requestLedger,
	items inventory,
	settlement *SettlementService,
	network providers.PaymentNetwork,
	runner txRunner,
	config SweepConfig,
) *SweepService {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &SweepService{
		ledger:     ledger,
		items:      items,
		settlement: settlement,
		network:    network,
		runner:     runner,
		config:     config,
		logger:     utils.NewLogger("sweep"),
	}
}

// Run loops until ctx is cancelled.
func (s *SweepService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, released, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error(ctx, "sweep pass failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if recovered > 0 || released > 0 {
				s.logger.Info(ctx, "sweep pass complete", map[string]interface{}{
					"recovered": recovered,
					"released":  released,
				})
			}
		}
	}
}

// SweepOnce processes one batch of stuck requests. For each, it first asks
// the payment network for a transfer tagged with the request's idempotency
// key and drives a match through settlement as if the buyer had called back;
// only after the abandon grace period does it release the reservation.
func (s *SweepService) SweepOnce(ctx context.Context) (recovered, released int, err error) {
	cutoff := time.Now().Add(-s.config.VerifyTimeout)
	stuck, err := s.ledger.FindStuck(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, req := range stuck {
		reqCtx := utils.WithIdempotencyKey(ctx, req.IdempotencyKey)

		snapshot, snapErr := models.SnapshotFromRequest(&req)
		if snapErr != nil || len(snapshot.ItemIDs) == 0 {
			// Reservation never finished being recorded. Nothing on chain can
			// reference it usefully; reclaim whatever is held under the key
			// once the grace period passes.
			if s.pastAbandon(&req) {
				if s.abandon(reqCtx, &req, nil) {
					released++
				}
			}
			continue
		}

		signature, found, findErr := s.network.FindByReference(reqCtx, req.IdempotencyKey)
		if findErr != nil {
			s.logger.Warn(reqCtx, "payment lookup failed during sweep", map[string]interface{}{"error": findErr.Error()})
			continue
		}

		if found {
			result, settleErr := s.settlement.Settle(reqCtx, req.IdempotencyKey, signature, snapshot.ItemIDs)
			if settleErr != nil {
				s.logger.Warn(reqCtx, "sweep-driven settlement did not complete", map[string]interface{}{
					"error": settleErr.Error(),
				})
				continue
			}
			if result.Outcome == OutcomeSettled {
				recovered++
			}
			continue
		}

		if s.pastAbandon(&req) {
			if s.abandon(reqCtx, &req, snapshot.ItemIDs) {
				released++
			}
		}
	}

	return recovered, released, nil
}

func (s *SweepService) pastAbandon(req *models.MintRequest) bool {
	return time.Since(req.UpdatedAt) > s.config.AbandonTimeout
}

// abandon releases the request's reservation and marks it failed in one
// transaction, returning inventory to availability.
func (s *SweepService) abandon(ctx context.Context, req *models.MintRequest, ids []string) bool {
	response, err := json.Marshal(&models.ConfirmResponse{
		Success:        false,
		Status:         string(models.MintRequestStatusFailed),
		IdempotencyKey: req.IdempotencyKey,
		Error:          "reservation abandoned: no matching payment found",
	})
	if err != nil {
		return false
	}

	err = s.runner.WithTransaction(ctx, func(txCtx context.Context) error {
		releaseIDs := ids
		if releaseIDs == nil {
			held, err := s.items.ReservedByKey(txCtx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			releaseIDs = itemIDs(held)
		}
		if err := s.items.Release(txCtx, releaseIDs); err != nil {
			return err
		}
		return s.ledger.Complete(txCtx, req.IdempotencyKey, models.MintRequestStatusFailed, response)
	})
	if err != nil {
		s.logger.Error(ctx, "failed to abandon stuck request", map[string]interface{}{"error": err.Error()})
		return false
	}

	s.logger.Info(ctx, "abandoned reservation released", nil)
	return true
}
