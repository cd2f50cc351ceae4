package stores

import (
	"context"

	"gorm.io/gorm"

	"github.com/kilnworks/kiln/models"
)

type MintTransactionStore struct {
	BaseStore
}

func CreateMintTransactionStore(db *gorm.DB) *MintTransactionStore {
	return &MintTransactionStore{BaseStore: BaseStore{db: db}}
}

func (s *MintTransactionStore) Create(ctx context.Context, tx *models.MintTransaction) error {
	return s.GetDB(ctx).Create(tx).Error
}

func (s *MintTransactionStore) GetByKey(ctx context.Context, idempotencyKey string) (*models.MintTransaction, error) {
	var tx models.MintTransaction
	if err := s.GetDB(ctx).First(&tx, "idempotency_key = ?", idempotencyKey).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *MintTransactionStore) ListByBuyer(ctx context.Context, buyer string) ([]models.MintTransaction, error) {
	var txs []models.MintTransaction
	if err := s.GetDB(ctx).Where("buyer = ?", buyer).Order("created_at DESC").Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}
