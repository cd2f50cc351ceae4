package services

import (
	"context"
	"time"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/stores"
)

// Narrow store views consumed by the services. The gorm-backed stores satisfy
// them in production; tests substitute memory-backed fakes so the settlement
// and reservation semantics are checkable without postgres.

type inventory interface {
	Reserve(ctx context.Context, collectionID string, quantity int, buyer, key string) ([]models.Item, error)
	Release(ctx context.Context, itemIDs []string) error
	ReservedByKey(ctx context.Context, key string) ([]models.Item, error)
	MarkMinted(ctx context.Context, itemIDs []string, key, buyer, signature string) (int64, error)
	GetByIDs(ctx context.Context, itemIDs []string) ([]models.Item, error)
	CountHeldByBuyer(ctx context.Context, collectionID, buyer string) (int64, error)
}

type requestLedger interface {
	Begin(ctx context.Context, key string, requestBody []byte) (*stores.BeginResult, error)
	UpdateSnapshot(ctx context.Context, key string, requestBody []byte) error
	ClaimVerifying(ctx context.Context, key string) (bool, error)
	ReclaimVerifying(ctx context.Context, key string, staleBefore time.Time) (bool, error)
	Complete(ctx context.Context, key string, status models.MintRequestStatus, responseBody []byte) error
	ReleaseToVerifying(ctx context.Context, key string) error
	Unlock(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*models.MintRequest, error)
	FindStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]models.MintRequest, error)
}

type collectionCatalog interface {
	GetByID(ctx context.Context, id string) (*models.Collection, error)
	IncrementMinted(ctx context.Context, id string, n int64) (bool, error)
	ActivePhase(ctx context.Context, collectionID string, now time.Time) (*models.MintPhase, error)
}

type settlementRecords interface {
	Create(ctx context.Context, tx *models.MintTransaction) error
}

// txRunner scopes a function to one durable-store transaction. Every store
// call made with the derived context joins that transaction.
type txRunner interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}
