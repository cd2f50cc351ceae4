package stores

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/utils"
)

// ItemStore owns the item claim lifecycle. Reservation and release are
// conditional updates so that two concurrent reservations over the same
// collection can never claim overlapping items, regardless of which process
// they run in.
type ItemStore struct {
	BaseStore
}

func CreateItemStore(db *gorm.DB) *ItemStore {
	return &ItemStore{BaseStore: BaseStore{db: db}}
}

// Reserve claims quantity items in strictly ascending item_index order and
// flips them to reserved, attributed to buyer and key. The row lock on the
// selected items and the conditional status check run in one transaction:
// either all requested items are claimed or nothing changes.
func (s *ItemStore) Reserve(ctx context.Context, collectionID string, quantity int, buyer, key string) ([]models.Item, error) {
	var claimed []models.Item

	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		var candidates []models.Item
		err := s.GetDB(txCtx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection_id = ? AND status = ?", collectionID, models.ItemStatusUnminted).
			Order("item_index ASC").
			Limit(quantity).
			Find(&candidates).Error
		if err != nil {
			return err
		}

		if len(candidates) < quantity {
			return utils.ErrInsufficientSupply
		}

		ids := make([]string, len(candidates))
		for i, item := range candidates {
			ids[i] = item.ID
		}

		now := time.Now()
		result := s.GetDB(txCtx).
			Model(&models.Item{}).
			Where("id IN ? AND status = ?", ids, models.ItemStatusUnminted).
			Updates(map[string]interface{}{
				"status":       models.ItemStatusReserved,
				"reserved_by":  buyer,
				"reserved_key": key,
				"reserved_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(quantity) {
			return utils.ErrReservationRace
		}

		for i := range candidates {
			candidates[i].Status = models.ItemStatusReserved
			candidates[i].ReservedBy = buyer
			candidates[i].ReservedKey = key
			candidates[i].ReservedAt = &now
		}
		claimed = candidates
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Release reverts reserved items to unminted and clears their attribution.
// Used by the reconciliation sweep and by failed settlements, never by a
// success path.
func (s *ItemStore) Release(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return s.GetDB(ctx).
		Model(&models.Item{}).
		Where("id IN ? AND status = ?", itemIDs, models.ItemStatusReserved).
		Updates(map[string]interface{}{
			"status":       models.ItemStatusUnminted,
			"reserved_by":  "",
			"reserved_key": "",
			"reserved_at":  nil,
		}).Error
}

// ReservedByKey returns the items still reserved under an idempotency key.
// A fresh attempt under a previously failed key reuses these instead of
// double-reserving.
func (s *ItemStore) ReservedByKey(ctx context.Context, key string) ([]models.Item, error) {
	var items []models.Item
	err := s.GetDB(ctx).
		Where("reserved_key = ? AND status = ?", key, models.ItemStatusReserved).
		Order("item_index ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkMinted conditionally flips reserved items to minted. It must run inside
// the settlement transaction; the caller compares RowsAffected against the
// expected count and aborts the whole transaction on mismatch.
func (s *ItemStore) MarkMinted(ctx context.Context, itemIDs []string, key, buyer, signature string) (int64, error) {
	result := s.GetDB(ctx).
		Model(&models.Item{}).
		Where("id IN ? AND status = ? AND reserved_key = ? AND reserved_by = ?",
			itemIDs, models.ItemStatusReserved, key, buyer).
		Updates(map[string]interface{}{
			"status":         models.ItemStatusMinted,
			"owner":          buyer,
			"mint_signature": signature,
			"reserved_by":    "",
			"reserved_key":   "",
			"reserved_at":    nil,
		})
	return result.RowsAffected, result.Error
}

func (s *ItemStore) GetByIDs(ctx context.Context, itemIDs []string) ([]models.Item, error) {
	var items []models.Item
	err := s.GetDB(ctx).
		Where("id IN ?", itemIDs).
		Order("item_index ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CountHeldByBuyer counts items a wallet already holds or has in flight for a
// collection (minted + currently reserved). Input to the per-wallet limit.
func (s *ItemStore) CountHeldByBuyer(ctx context.Context, collectionID, buyer string) (int64, error) {
	var count int64
	err := s.GetDB(ctx).
		Model(&models.Item{}).
		Where("collection_id = ? AND (owner = ? OR (status = ? AND reserved_by = ?))",
			collectionID, buyer, models.ItemStatusReserved, buyer).
		Count(&count).Error
	return count, err
}
