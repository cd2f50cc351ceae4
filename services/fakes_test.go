package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilnworks/kiln/models"
	"github.com/kilnworks/kiln/providers"
	"github.com/kilnworks/kiln/stores"
	"github.com/kilnworks/kiln/utils"
)

// fakeWorld is a memory-backed stand-in for the postgres stores. It mirrors
// the conditional-update semantics of the real stores closely enough that the
// reservation and settlement state machines are checkable without a database,
// including transaction rollback via snapshot-and-restore.
type fakeWorld struct {
	mu          sync.Mutex
	items       map[string]*models.Item
	requests    map[string]*models.MintRequest
	collections map[string]*models.Collection
	phases      []*models.MintPhase
	records     []*models.MintTransaction

	failCreateRecord   bool
	failUpdateSnapshot bool
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		items:       make(map[string]*models.Item),
		requests:    make(map[string]*models.MintRequest),
		collections: make(map[string]*models.Collection),
	}
}

func (w *fakeWorld) addCollection(c *models.Collection) {
	w.collections[c.ID] = c
}

func (w *fakeWorld) addOpenPhase(collectionID string, price int64, perWalletLimit int) {
	w.phases = append(w.phases, &models.MintPhase{
		ID:             fmt.Sprintf("phase-%d", len(w.phases)+1),
		CollectionID:   collectionID,
		Price:          price,
		StartsAt:       time.Now().Add(-time.Hour),
		EndsAt:         time.Now().Add(time.Hour),
		PhaseType:      models.PhaseTypeOpen,
		PerWalletLimit: perWalletLimit,
	})
}

func (w *fakeWorld) addAllowlistPhase(collectionID string, price int64, allowlist []string, perWalletLimit int) {
	raw := "["
	for i, addr := range allowlist {
		if i > 0 {
			raw += ","
		}
		raw += `"` + addr + `"`
	}
	raw += "]"
	w.phases = append(w.phases, &models.MintPhase{
		ID:             fmt.Sprintf("phase-%d", len(w.phases)+1),
		CollectionID:   collectionID,
		Price:          price,
		StartsAt:       time.Now().Add(-time.Hour),
		EndsAt:         time.Now().Add(time.Hour),
		PhaseType:      models.PhaseTypeAllowlist,
		PerWalletLimit: perWalletLimit,
		Allowlist:      models.JSON(raw),
	})
}

func (w *fakeWorld) addItems(collectionID string, n int) {
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s-item-%d", collectionID, i)
		w.items[id] = &models.Item{
			ID:           id,
			CollectionID: collectionID,
			ItemIndex:    int64(i),
			Status:       models.ItemStatusUnminted,
		}
	}
}

func (w *fakeWorld) itemsByIndex(ids []string) []models.Item {
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := w.items[id]; ok {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemIndex < out[j].ItemIndex })
	return out
}

// --- inventory ---

func (w *fakeWorld) Reserve(ctx context.Context, collectionID string, quantity int, buyer, key string) ([]models.Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var candidates []*models.Item
	for _, item := range w.items {
		if item.CollectionID == collectionID && item.Status == models.ItemStatusUnminted {
			candidates = append(candidates, item)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ItemIndex < candidates[j].ItemIndex })

	if len(candidates) < quantity {
		return nil, utils.ErrInsufficientSupply
	}

	now := time.Now()
	claimed := make([]models.Item, 0, quantity)
	for _, item := range candidates[:quantity] {
		item.Status = models.ItemStatusReserved
		item.ReservedBy = buyer
		item.ReservedKey = key
		item.ReservedAt = &now
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

func (w *fakeWorld) Release(ctx context.Context, itemIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range itemIDs {
		item, ok := w.items[id]
		if !ok || item.Status != models.ItemStatusReserved {
			continue
		}
		item.Status = models.ItemStatusUnminted
		item.ReservedBy = ""
		item.ReservedKey = ""
		item.ReservedAt = nil
	}
	return nil
}

func (w *fakeWorld) ReservedByKey(ctx context.Context, key string) ([]models.Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var held []models.Item
	for _, item := range w.items {
		if item.ReservedKey == key && item.Status == models.ItemStatusReserved {
			held = append(held, *item)
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].ItemIndex < held[j].ItemIndex })
	return held, nil
}

func (w *fakeWorld) MarkMinted(ctx context.Context, itemIDs []string, key, buyer, signature string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var flipped int64
	for _, id := range itemIDs {
		item, ok := w.items[id]
		if !ok || item.Status != models.ItemStatusReserved || item.ReservedKey != key || item.ReservedBy != buyer {
			continue
		}
		item.Status = models.ItemStatusMinted
		item.Owner = buyer
		item.MintSignature = signature
		item.ReservedBy = ""
		item.ReservedKey = ""
		item.ReservedAt = nil
		flipped++
	}
	return flipped, nil
}

func (w *fakeWorld) GetByIDs(ctx context.Context, itemIDs []string) ([]models.Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.itemsByIndex(itemIDs), nil
}

func (w *fakeWorld) CountHeldByBuyer(ctx context.Context, collectionID, buyer string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var count int64
	for _, item := range w.items {
		if item.CollectionID != collectionID {
			continue
		}
		if item.Owner == buyer || (item.Status == models.ItemStatusReserved && item.ReservedBy == buyer) {
			count++
		}
	}
	return count, nil
}

// --- requestLedger ---

func (w *fakeWorld) Begin(ctx context.Context, key string, requestBody []byte) (*stores.BeginResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	hash := fakeHash(requestBody)
	now := time.Now()

	if existing, ok := w.requests[key]; ok {
		if existing.RequestHash != hash {
			return nil, utils.ErrRequestMismatch
		}
		if existing.Status == models.MintRequestStatusSettled {
			copied := *existing
			return &stores.BeginResult{Request: &copied, CachedResponse: existing.ResponseBody}, nil
		}
		if existing.Status == models.MintRequestStatusVerifying {
			return nil, utils.ErrRequestInFlight
		}
		if existing.LockedAt != nil && time.Since(*existing.LockedAt) < time.Minute {
			return nil, utils.ErrRequestInFlight
		}
		existing.Status = models.MintRequestStatusPending
		existing.LockedAt = &now
		existing.UpdatedAt = now
		copied := *existing
		return &stores.BeginResult{Request: &copied}, nil
	}

	req := &models.MintRequest{
		IdempotencyKey: key,
		Status:         models.MintRequestStatusPending,
		RequestHash:    hash,
		RequestBody:    models.JSON(requestBody),
		LockedAt:       &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	w.requests[key] = req
	copied := *req
	return &stores.BeginResult{Fresh: true, Request: &copied}, nil
}

func (w *fakeWorld) UpdateSnapshot(ctx context.Context, key string, requestBody []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failUpdateSnapshot {
		return errors.New("update snapshot failed")
	}
	req, ok := w.requests[key]
	if !ok || req.Status != models.MintRequestStatusPending {
		return nil
	}
	req.RequestBody = models.JSON(requestBody)
	req.UpdatedAt = time.Now()
	return nil
}

func (w *fakeWorld) ClaimVerifying(ctx context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, ok := w.requests[key]
	if !ok || req.Status != models.MintRequestStatusPending {
		return false, nil
	}
	now := time.Now()
	req.Status = models.MintRequestStatusVerifying
	req.LockedAt = &now
	req.UpdatedAt = now
	return true, nil
}

func (w *fakeWorld) ReclaimVerifying(ctx context.Context, key string, staleBefore time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, ok := w.requests[key]
	if !ok || req.Status != models.MintRequestStatusVerifying {
		return false, nil
	}
	if req.LockedAt != nil && !req.LockedAt.Before(staleBefore) {
		return false, nil
	}
	now := time.Now()
	req.LockedAt = &now
	req.UpdatedAt = now
	return true, nil
}

func (w *fakeWorld) Complete(ctx context.Context, key string, status models.MintRequestStatus, responseBody []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, ok := w.requests[key]
	if !ok || req.Status == models.MintRequestStatusSettled {
		return utils.ErrSettlementConflict
	}
	req.Status = status
	req.ResponseBody = models.JSON(responseBody)
	req.LockedAt = nil
	req.UpdatedAt = time.Now()
	return nil
}

func (w *fakeWorld) ReleaseToVerifying(ctx context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, ok := w.requests[key]
	if !ok || req.Status != models.MintRequestStatusVerifying {
		return nil
	}
	req.LockedAt = nil
	req.UpdatedAt = time.Now()
	return nil
}

func (w *fakeWorld) Unlock(ctx context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, ok := w.requests[key]
	if !ok || req.Status.Terminal() {
		return nil
	}
	req.LockedAt = nil
	return nil
}

func (w *fakeWorld) Get(ctx context.Context, key string) (*models.MintRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req, ok := w.requests[key]
	if !ok {
		return nil, utils.ErrNotFound
	}
	copied := *req
	return &copied, nil
}

func (w *fakeWorld) FindStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]models.MintRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stuck []models.MintRequest
	for _, req := range w.requests {
		if req.Status.Terminal() || !req.UpdatedAt.Before(updatedBefore) {
			continue
		}
		stuck = append(stuck, *req)
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	if len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

// --- collectionCatalog ---

func (w *fakeWorld) GetByID(ctx context.Context, id string) (*models.Collection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.collections[id]
	if !ok {
		return nil, utils.ErrCollectionNotFound
	}
	copied := *c
	return &copied, nil
}

func (w *fakeWorld) IncrementMinted(ctx context.Context, id string, n int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.collections[id]
	if !ok {
		return false, nil
	}
	if c.MintedCount+n > c.TotalSupply {
		return false, nil
	}
	c.MintedCount += n
	return true, nil
}

func (w *fakeWorld) ActivePhase(ctx context.Context, collectionID string, now time.Time) (*models.MintPhase, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var best *models.MintPhase
	for _, p := range w.phases {
		if p.CollectionID != collectionID || !p.Active(now) {
			continue
		}
		if best == nil || p.StartsAt.After(best.StartsAt) {
			best = p
		}
	}
	if best == nil {
		return nil, utils.ErrNoActivePhase
	}
	copied := *best
	return &copied, nil
}

// --- settlementRecords ---

func (w *fakeWorld) Create(ctx context.Context, tx *models.MintTransaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failCreateRecord {
		return errors.New("insert failed")
	}
	for _, existing := range w.records {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			return errors.New("duplicate settlement record")
		}
	}
	copied := *tx
	w.records = append(w.records, &copied)
	return nil
}

// --- txRunner ---

// WithTransaction snapshots all mutable state and restores it when fn fails,
// matching the all-or-nothing contract of the real store transaction.
func (w *fakeWorld) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	w.mu.Lock()
	items := make(map[string]*models.Item, len(w.items))
	for id, item := range w.items {
		copied := *item
		items[id] = &copied
	}
	requests := make(map[string]*models.MintRequest, len(w.requests))
	for key, req := range w.requests {
		copied := *req
		requests[key] = &copied
	}
	collections := make(map[string]*models.Collection, len(w.collections))
	for id, c := range w.collections {
		copied := *c
		collections[id] = &copied
	}
	records := make([]*models.MintTransaction, len(w.records))
	copy(records, w.records)
	w.mu.Unlock()

	if err := fn(ctx); err != nil {
		w.mu.Lock()
		w.items = items
		w.requests = requests
		w.collections = collections
		w.records = records
		w.mu.Unlock()
		return err
	}
	return nil
}

func fakeHash(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// --- payment network ---

type fakeNetwork struct {
	mu sync.Mutex

	buildTx  string
	buildErr error

	confirmed         map[string]bool
	confirmErr        error
	confirmCall       int
	lastConfirmSplits []providers.Split

	signatureByReference map[string]string
	findErr              error

	available bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		buildTx:              "dW5zaWduZWQtdHg=",
		confirmed:            make(map[string]bool),
		signatureByReference: make(map[string]string),
		available:            true,
	}
}

func (n *fakeNetwork) BuildTransaction(ctx context.Context, buyer string, splits []providers.Split, reference string) (string, error) {
	if n.buildErr != nil {
		return "", n.buildErr
	}
	return n.buildTx, nil
}

func (n *fakeNetwork) IsConfirmed(ctx context.Context, signature string, splits []providers.Split) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmCall++
	n.lastConfirmSplits = splits
	if n.confirmErr != nil {
		return false, n.confirmErr
	}
	return n.confirmed[signature], nil
}

func (n *fakeNetwork) FindByReference(ctx context.Context, reference string) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.findErr != nil {
		return "", false, n.findErr
	}
	sig, ok := n.signatureByReference[reference]
	return sig, ok, nil
}

func (n *fakeNetwork) IsAvailable(ctx context.Context) bool {
	return n.available
}

// --- price oracle ---

type fakeOracle struct {
	rate float64
	err  error
}

func (o *fakeOracle) GetRate(ctx context.Context) (float64, error) {
	return o.rate, o.err
}
