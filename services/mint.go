package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/providers"
	"github.com/kilnworks/kiln/utils"
)

// DefaultMaxBatch caps items per mint request, bounding the size of the
// downstream payment transaction.
const DefaultMaxBatch = 10

// MintService runs the first phase of the two-phase mint contract: validate
// eligibility, claim inventory, quote payment terms, and hand back an
// unsigned transaction plus the idempotency key that the confirm phase (and
// any retry) is keyed on.
type MintService struct {
	items       inventory
	ledger      requestLedger
	collections collectionCatalog
	network     providers.PaymentNetwork
	fees        *FeeCalculator
	treasury    string
	maxBatch    int
	logger      *utils.Logger
}

func CreateMintService(
	items inventory,
	ledger requestLedger,
	collections collectionCatalog,
	network providers.PaymentNetwork,
	fees *FeeCalculator,
	treasury string,
	maxBatch int,
) *MintService {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &MintService{
		items:       items,
		ledger:      ledger,
		collections: collections,
		network:     network,
		fees:        fees,
		treasury:    treasury,
		maxBatch:    maxBatch,
		logger:      utils.NewLogger("mint"),
	}
}

// ReserveResult distinguishes a fresh quote from a verbatim replay of a
// previously settled request under the same key.
type ReserveResult struct {
	Replayed bool
	Raw      models.JSON
	Response *models.ReserveResponse
}

func (s *MintService) Reserve(ctx context.Context, req *models.ReserveRequest) (*ReserveResult, error) {
	if err := s.validateReserve(req); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	ctx = utils.WithIdempotencyKey(ctx, key)

	collection, err := s.collections.GetByID(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}

	phase, err := s.collections.ActivePhase(ctx, collection.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.checkEligibility(ctx, collection, phase, req); err != nil {
		return nil, err
	}

	// Idempotency is keyed on the client-visible request, not on anything
	// derived later.
	canonical, err := json.Marshal(models.ReserveRequest{
		CollectionID: req.CollectionID,
		Buyer:        req.Buyer,
		Quantity:     req.Quantity,
	})
	if err != nil {
		return nil, err
	}

	begin, err := s.ledger.Begin(ctx, key, canonical)
	if err != nil {
		return nil, err
	}
	if begin.CachedResponse != nil {
		return &ReserveResult{Replayed: true, Raw: begin.CachedResponse}, nil
	}

	items, err := s.claimItems(ctx, begin.Fresh, collection.ID, req, key)
	if err != nil {
		s.unlock(ctx, key)
		return nil, err
	}

	price := phase.Price
	if price == 0 {
		price = collection.Price
	}
	perItemFee := s.fees.PerItemFee(ctx, collection.PlatformFeeUSD)
	expectedTotal := ComputeTotal(price, req.Quantity, perItemFee)

	splits := []providers.Split{
		{Recipient: collection.Creator, Amount: price * int64(req.Quantity)},
		{Recipient: s.treasury, Amount: perItemFee * int64(req.Quantity)},
	}

	unsignedTx, err := s.network.BuildTransaction(ctx, req.Buyer, splits, key)
	if err != nil {
		s.logger.Error(ctx, "failed to build payment transaction", map[string]interface{}{"error": err.Error()})
		if releaseErr := s.items.Release(ctx, itemIDs(items)); releaseErr != nil {
			s.logger.Error(ctx, "failed to release reservation", map[string]interface{}{"error": releaseErr.Error()})
		}
		s.unlock(ctx, key)
		return nil, utils.ErrNetworkUnavailable
	}

	snapshot := &models.ReservationSnapshot{
		CollectionID:  collection.ID,
		Buyer:         req.Buyer,
		Quantity:      req.Quantity,
		ItemIDs:       itemIDs(items),
		ItemIndexes:   itemIndexes(items),
		ExpectedTotal: expectedTotal,
		PerItemFee:    perItemFee,
		Splits:        snapshotSplits(splits),
	}
	snapshotJSON, err := snapshot.Marshal()
	if err != nil {
		return nil, err
	}
	if err := s.ledger.UpdateSnapshot(ctx, key, snapshotJSON); err != nil {
		s.unlock(ctx, key)
		return nil, utils.ErrStoreUnavailable
	}
	// The request stays pending and unlocked until the buyer calls confirm;
	// the sweep reclaims it if they never do.
	s.unlock(ctx, key)

	s.logger.Info(ctx, "reservation created", map[string]interface{}{
		"collection_id":  collection.ID,
		"buyer":          req.Buyer,
		"quantity":       req.Quantity,
		"expected_total": expectedTotal,
	})

	return &ReserveResult{
		Response: &models.ReserveResponse{
			Success:             true,
			IdempotencyKey:      key,
			UnsignedTransaction: unsignedTx,
			ExpectedTotal:       expectedTotal,
			PerItemFee:          perItemFee,
			ItemIDs:             snapshot.ItemIDs,
			ItemIndexes:         snapshot.ItemIndexes,
		},
	}, nil
}

// claimItems reserves inventory for this key. A retried attempt whose items
// are still validly reserved under the key reuses them instead of silently
// double-reserving; a partial leftover is released and reclaimed fresh.
func (s *MintService) claimItems(ctx context.Context, fresh bool, collectionID string, req *models.ReserveRequest, key string) ([]models.Item, error) {
	if !fresh {
		held, err := s.items.ReservedByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(held) == req.Quantity {
			return held, nil
		}
		if len(held) > 0 {
			if err := s.items.Release(ctx, itemIDs(held)); err != nil {
				return nil, err
			}
		}
	}
	return s.items.Reserve(ctx, collectionID, req.Quantity, req.Buyer, key)
}

func (s *MintService) validateReserve(req *models.ReserveRequest) error {
	if req.CollectionID == "" || req.Buyer == "" {
		return utils.ErrInvalidRequest
	}
	if req.Quantity < 1 || req.Quantity > s.maxBatch {
		return utils.NewAPIErrorWithDetails(400, "Invalid request", "quantity out of range")
	}
	return nil
}

func (s *MintService) checkEligibility(ctx context.Context, collection *models.Collection, phase *models.MintPhase, req *models.ReserveRequest) error {
	if phase.PhaseType == models.PhaseTypeAllowlist {
		var allowlist []string
		if len(phase.Allowlist) > 0 {
			if err := json.Unmarshal([]byte(phase.Allowlist), &allowlist); err != nil {
				return err
			}
		}
		if !containsString(allowlist, req.Buyer) {
			return utils.ErrNotAllowlisted
		}
	}

	if phase.PerWalletLimit > 0 {
		held, err := s.items.CountHeldByBuyer(ctx, collection.ID, req.Buyer)
		if err != nil {
			return err
		}
		if held+int64(req.Quantity) > int64(phase.PerWalletLimit) {
			return utils.ErrExceedsMintLimit
		}
	}
	return nil
}

func (s *MintService) unlock(ctx context.Context, key string) {
	if err := s.ledger.Unlock(ctx, key); err != nil {
		s.logger.Warn(ctx, "failed to unlock mint request", map[string]interface{}{"error": err.Error()})
	}
}

func itemIDs(items []models.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

func snapshotSplits(splits []providers.Split) []models.PaymentSplit {
	out := make([]models.PaymentSplit, len(splits))
	for i, split := range splits {
		out[i] = models.PaymentSplit{Recipient: split.Recipient, Amount: split.Amount}
	}
	return out
}

func itemIndexes(items []models.Item) []int64 {
	indexes := make([]int64, len(items))
	for i, item := range items {
		indexes[i] = item.ItemIndex
	}
	return indexes
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
