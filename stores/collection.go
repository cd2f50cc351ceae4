package stores

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/utils"
)

type CollectionStore struct {
	BaseStore
}

func CreateCollectionStore(db *gorm.DB) *CollectionStore {
	return &CollectionStore{BaseStore: BaseStore{db: db}}
}

func (s *CollectionStore) GetByID(ctx context.Context, id string) (*models.Collection, error) {
	var collection models.Collection
	if err := s.GetDB(ctx).First(&collection, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrCollectionNotFound
		}
		return nil, err
	}
	return &collection, nil
}

// IncrementMinted bumps minted_count by n, guarded so the counter can never
// pass total_supply. RowsAffected == 0 means the guard failed and the caller
// must abort its transaction.
func (s *CollectionStore) IncrementMinted(ctx context.Context, id string, n int64) (bool, error) {
	result := s.GetDB(ctx).
		Model(&models.Collection{}).
		Where("id = ? AND minted_count + ? <= total_supply", id, n).
		Update("minted_count", gorm.Expr("minted_count + ?", n))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ActivePhase returns the phase covering now, preferring the most recently
// started one when windows overlap.
func (s *CollectionStore) ActivePhase(ctx context.Context, collectionID string, now time.Time) (*models.MintPhase, error) {
	var phase models.MintPhase
	err := s.GetDB(ctx).
		Where("collection_id = ? AND starts_at <= ? AND ends_at > ?", collectionID, now, now).
		Order("starts_at DESC").
		First(&phase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNoActivePhase
		}
		return nil, err
	}
	return &phase, nil
}
