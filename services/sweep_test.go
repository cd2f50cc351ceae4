package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kilnworks/kiln/models"
)

func newSweepFixture(t *testing.T) (*fakeWorld, *fakeNetwork, *SweepService, *models.ReserveResponse) {
	t.Helper()

	world, network, settleSvc, quote := newSettlementFixture(t)
	sweep := CreateSweepService(world, world, settleSvc, network, world, SweepConfig{
		Interval:       time.Minute,
		VerifyTimeout:  5 * time.Minute,
		AbandonTimeout: 30 * time.Minute,
		BatchSize:      100,
	})
	return world, network, sweep, quote
}

func backdate(world *fakeWorld, key string, age time.Duration) {
	world.mu.Lock()
	defer world.mu.Unlock()
	world.requests[key].UpdatedAt = time.Now().Add(-age)
	world.requests[key].LockedAt = nil
}

func TestSweepService_SweepOnce_LeavesFreshRequestsAlone(t *testing.T) {
	world, _, sweep, quote := newSweepFixture(t)
	ctx := context.Background()

	recovered, released, err := sweep.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if recovered != 0 || released != 0 {
		t.Errorf("SweepOnce() = (%d, %d), want (0, 0) for a request inside the verify window", recovered, released)
	}

	held, _ := world.ReservedByKey(ctx, "key-1")
	if len(held) != len(quote.ItemIDs) {
		t.Errorf("reserved items = %d, want %d untouched", len(held), len(quote.ItemIDs))
	}
}

func TestSweepService_SweepOnce_RecoversOrphanedPayment(t *testing.T) {
	world, network, sweep, quote := newSweepFixture(t)
	ctx := context.Background()

	// The buyer paid but crashed before calling confirm. The memo on chain
	// carries the idempotency key.
	network.signatureByReference["key-1"] = testSignature
	network.confirmed[testSignature] = true
	backdate(world, "key-1", 10*time.Minute)

	recovered, released, err := sweep.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if recovered != 1 || released != 0 {
		t.Fatalf("SweepOnce() = (%d, %d), want (1, 0)", recovered, released)
	}

	req, _ := world.Get(ctx, "key-1")
	if req.Status != models.MintRequestStatusSettled {
		t.Errorf("request status = %s, want settled", req.Status)
	}
	items, _ := world.GetByIDs(ctx, quote.ItemIDs)
	for _, item := range items {
		if item.Status != models.ItemStatusMinted {
			t.Errorf("item %s status = %s, want minted", item.ID, item.Status)
		}
	}
}

func TestSweepService_SweepOnce_WaitsOutGracePeriod(t *testing.T) {
	world, _, sweep, quote := newSweepFixture(t)
	ctx := context.Background()

	// Past the verify window but inside the abandon grace: no payment found,
	// so the reservation holds for now.
	backdate(world, "key-1", 10*time.Minute)

	recovered, released, err := sweep.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if recovered != 0 || released != 0 {
		t.Errorf("SweepOnce() = (%d, %d), want (0, 0) inside the grace period", recovered, released)
	}

	held, _ := world.ReservedByKey(ctx, "key-1")
	if len(held) != len(quote.ItemIDs) {
		t.Errorf("reserved items = %d, want %d still held", len(held), len(quote.ItemIDs))
	}
}

func TestSweepService_SweepOnce_AbandonsExpiredReservation(t *testing.T) {
	world, _, sweep, quote := newSweepFixture(t)
	ctx := context.Background()

	backdate(world, "key-1", time.Hour)

	recovered, released, err := sweep.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if recovered != 0 || released != 1 {
		t.Fatalf("SweepOnce() = (%d, %d), want (0, 1)", recovered, released)
	}

	// Items are available again and the request is terminal.
	items, _ := world.GetByIDs(ctx, quote.ItemIDs)
	for _, item := range items {
		if item.Status != models.ItemStatusUnminted {
			t.Errorf("item %s status = %s, want unminted", item.ID, item.Status)
		}
		if item.ReservedKey != "" {
			t.Errorf("item %s still attributed to %s", item.ID, item.ReservedKey)
		}
	}
	req, _ := world.Get(ctx, "key-1")
	if req.Status != models.MintRequestStatusFailed {
		t.Errorf("request status = %s, want failed", req.Status)
	}

	// A released item is immediately reservable by someone else.
	claimed, err := world.Reserve(ctx, "col-1", 2, "buyer-b", "key-b")
	if err != nil {
		t.Fatalf("Reserve() after release error = %v", err)
	}
	if claimed[0].ItemIndex != 1 {
		t.Errorf("re-reservation starts at index %d, want 1", claimed[0].ItemIndex)
	}
}

func TestSweepService_SweepOnce_LookupFailureSkips(t *testing.T) {
	world, network, sweep, quote := newSweepFixture(t)
	network.findErr = errors.New("rpc timeout")
	ctx := context.Background()

	backdate(world, "key-1", time.Hour)

	recovered, released, err := sweep.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if recovered != 0 || released != 0 {
		t.Errorf("SweepOnce() = (%d, %d), want (0, 0) when payment lookup fails", recovered, released)
	}

	// Never abandon on a lookup failure: the payment may exist.
	held, _ := world.ReservedByKey(ctx, "key-1")
	if len(held) != len(quote.ItemIDs) {
		t.Errorf("reserved items = %d, want %d still held", len(held), len(quote.ItemIDs))
	}
}

func TestSweepService_SweepOnce_AbandonsRequestWithoutSnapshot(t *testing.T) {
	world := newFakeWorld()
	network := newFakeNetwork()
	settleSvc := CreateSettlementService(world, world, world, world, world, network)
	sweep := CreateSweepService(world, world, settleSvc, network, world, DefaultSweepConfig())
	ctx := context.Background()

	// A crash between Begin and UpdateSnapshot leaves the client body in
	// place of a snapshot.
	if _, err := world.Begin(ctx, "key-1", []byte(`{"collectionId":"col-1","quantity":1}`)); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	backdate(world, "key-1", time.Hour)

	_, released, err := sweep.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	req, _ := world.Get(ctx, "key-1")
	if req.Status != models.MintRequestStatusFailed {
		t.Errorf("request status = %s, want failed", req.Status)
	}
}

func TestSweepService_Run_StopsOnCancel(t *testing.T) {
	_, _, sweep, _ := newSweepFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweep.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after context cancellation")
	}
}
