package services

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/providers"
	"github.com/kilnworks/kiln/utils"
)

// SettleOutcome is the typed result of a settlement attempt. Conflicts and
// replays are states, not exceptions.
type SettleOutcome int

const (
	OutcomeSettled SettleOutcome = iota
	OutcomeAlreadySettled
	OutcomeFailed
	OutcomeConflict
)

type SettleResult struct {
	Outcome  SettleOutcome
	Raw      models.JSON
	Response *models.ConfirmResponse
}

// A verifying lock older than this is treated as a crashed handler and may be
// reclaimed by a retry or by the sweep.
const verifyingLockStaleAfter = 2 * time.Minute

// SettlementService reconciles an asynchronous payment confirmation with
// local inventory state, atomically and idempotently.
type SettlementService struct {
	items       inventory
	ledger      requestLedger
	collections collectionCatalog
	records     settlementRecords
	runner      txRunner
	network     providers.PaymentNetwork
	logger      *utils.Logger
}

func CreateSettlementService(
	items inventory,
	ledger requestLedger,
	collections collectionCatalog,
	records settlementRecords,
	runner txRunner,
	network providers.PaymentNetwork,
) *SettlementService {
	return &SettlementService{
		items:       items,
		ledger:      ledger,
		collections: collections,
		records:     records,
		runner:      runner,
		network:     network,
		logger:      utils.NewLogger("settlement"),
	}
}

// Settle drives a mint request from pending to a terminal state.
//
// Calling it again after a settled result replays the stored response with no
// re-verification and no re-mutation. Two calls racing on the same key see
// exactly one winner; the loser gets ErrRequestInFlight.
func (s *SettlementService) Settle(ctx context.Context, key, paymentSignature string, reservedItemIDs []string) (*SettleResult, error) {
	ctx = utils.WithIdempotencyKey(ctx, key)

	req, err := s.ledger.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return s.replay(req)
	}

	snapshot, err := models.SnapshotFromRequest(req)
	if err != nil || len(snapshot.ItemIDs) == 0 || len(snapshot.Splits) == 0 {
		return nil, utils.NewAPIErrorWithDetails(400, "Invalid request", "no reservation recorded under this key")
	}
	if !sameIDSet(reservedItemIDs, snapshot.ItemIDs) {
		return nil, utils.NewAPIErrorWithDetails(400, "Invalid request", "item ids do not match the reservation")
	}

	if err := s.claim(ctx, key, req.Status); err != nil {
		return nil, err
	}

	// Each recipient leg of the quote is verified on its own; the treasury
	// only ever receives the fee share.
	splits := make([]providers.Split, len(snapshot.Splits))
	for i, split := range snapshot.Splits {
		splits[i] = providers.Split{Recipient: split.Recipient, Amount: split.Amount}
	}

	confirmed, err := s.network.IsConfirmed(ctx, paymentSignature, splits)
	if err != nil {
		// The payment may be valid; park in verifying for the sweep rather
		// than failing the request.
		s.park(ctx, key)
		return nil, utils.ErrNetworkUnavailable
	}

	if !confirmed {
		return s.failUnconfirmed(ctx, key, snapshot)
	}

	return s.commit(ctx, key, paymentSignature, snapshot)
}

// claim wins the single-flight guard: pending -> verifying, or takeover of a
// verifying request whose lock has gone stale.
func (s *SettlementService) claim(ctx context.Context, key string, status models.MintRequestStatus) error {
	if status == models.MintRequestStatusPending {
		claimed, err := s.ledger.ClaimVerifying(ctx, key)
		if err != nil {
			return err
		}
		if claimed {
			return nil
		}
		// Lost the transition race; fall through to the stale-lock check.
	}

	claimed, err := s.ledger.ReclaimVerifying(ctx, key, time.Now().Add(-verifyingLockStaleAfter))
	if err != nil {
		return err
	}
	if !claimed {
		return utils.ErrRequestInFlight
	}
	return nil
}

// commit performs the settlement transaction: re-check and flip every
// reserved item, bump the collection counter, insert the settlement record,
// and freeze the settled response. All five effects commit together or none
// do.
func (s *SettlementService) commit(ctx context.Context, key, paymentSignature string, snapshot *models.ReservationSnapshot) (*SettleResult, error) {
	items, err := s.items.GetByIDs(ctx, snapshot.ItemIDs)
	if err != nil {
		s.park(ctx, key)
		return nil, utils.ErrStoreUnavailable
	}

	minted := make([]models.MintedItem, len(items))
	for i, item := range items {
		minted[i] = models.MintedItem{
			ItemID:        item.ID,
			ItemIndex:     item.ItemIndex,
			Owner:         snapshot.Buyer,
			MintSignature: paymentSignature,
		}
	}
	response := &models.ConfirmResponse{
		Success:        true,
		Status:         string(models.MintRequestStatusSettled),
		IdempotencyKey: key,
		MintedItems:    minted,
	}
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	itemIDsJSON, err := json.Marshal(snapshot.ItemIDs)
	if err != nil {
		return nil, err
	}

	err = s.runner.WithTransaction(ctx, func(txCtx context.Context) error {
		flipped, err := s.items.MarkMinted(txCtx, snapshot.ItemIDs, key, snapshot.Buyer, paymentSignature)
		if err != nil {
			return err
		}
		// Last line of defense: unreachable when reservation was correct,
		// but never proceed with partial state.
		if flipped != int64(len(snapshot.ItemIDs)) {
			return utils.ErrSettlementConflict
		}

		bumped, err := s.collections.IncrementMinted(txCtx, snapshot.CollectionID, flipped)
		if err != nil {
			return err
		}
		if !bumped {
			return utils.ErrSettlementConflict
		}

		record := &models.MintTransaction{
			ID:               uuid.NewString(),
			CollectionID:     snapshot.CollectionID,
			Buyer:            snapshot.Buyer,
			IdempotencyKey:   key,
			PaymentSignature: paymentSignature,
			AmountPaid:       snapshot.ExpectedTotal,
			PlatformFee:      snapshot.PerItemFee * int64(snapshot.Quantity),
			ItemIDs:          models.JSON(itemIDsJSON),
		}
		if err := s.records.Create(txCtx, record); err != nil {
			return err
		}

		return s.ledger.Complete(txCtx, key, models.MintRequestStatusSettled, responseJSON)
	})

	if err == utils.ErrSettlementConflict {
		// Transaction rolled back; the request stays in verifying for manual
		// reconciliation. Never auto-resolve silently.
		s.logger.Error(ctx, "settlement precondition failed, holding for reconciliation", map[string]interface{}{
			"item_ids": snapshot.ItemIDs,
		})
		s.park(ctx, key)
		return &SettleResult{Outcome: OutcomeConflict}, utils.ErrSettlementConflict
	}
	if err != nil {
		// Payment is confirmed but the commit failed; the sweep retries the
		// same all-or-nothing transaction. Never report partial success and
		// never mark failed here.
		s.logger.Error(ctx, "settlement commit failed, leaving request verifying", map[string]interface{}{
			"error": err.Error(),
		})
		s.park(ctx, key)
		return nil, utils.ErrStoreUnavailable
	}

	s.logger.Info(ctx, "mint settled", map[string]interface{}{
		"collection_id": snapshot.CollectionID,
		"buyer":         snapshot.Buyer,
		"quantity":      snapshot.Quantity,
		"signature":     paymentSignature,
	})
	return &SettleResult{Outcome: OutcomeSettled, Response: response}, nil
}

// failUnconfirmed releases the reservation and records the failed outcome in
// one transaction.
func (s *SettlementService) failUnconfirmed(ctx context.Context, key string, snapshot *models.ReservationSnapshot) (*SettleResult, error) {
	response := &models.ConfirmResponse{
		Success:        false,
		Status:         string(models.MintRequestStatusFailed),
		IdempotencyKey: key,
		Error:          utils.ErrPaymentNotConfirmed.Message,
	}
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}

	err = s.runner.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.items.Release(txCtx, snapshot.ItemIDs); err != nil {
			return err
		}
		return s.ledger.Complete(txCtx, key, models.MintRequestStatusFailed, responseJSON)
	})
	if err != nil {
		s.park(ctx, key)
		return nil, utils.ErrStoreUnavailable
	}

	s.logger.Warn(ctx, "payment not confirmed, reservation released", map[string]interface{}{
		"collection_id": snapshot.CollectionID,
		"buyer":         snapshot.Buyer,
	})
	return &SettleResult{Outcome: OutcomeFailed, Response: response}, utils.ErrPaymentNotConfirmed
}

func (s *SettlementService) replay(req *models.MintRequest) (*SettleResult, error) {
	outcome := OutcomeAlreadySettled
	if req.Status == models.MintRequestStatusFailed {
		outcome = OutcomeFailed
	}
	return &SettleResult{Outcome: outcome, Raw: req.ResponseBody}, nil
}

func (s *SettlementService) park(ctx context.Context, key string) {
	if err := s.ledger.ReleaseToVerifying(ctx, key); err != nil {
		s.logger.Warn(ctx, "failed to park request for sweep", map[string]interface{}{"error": err.Error()})
	}
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
