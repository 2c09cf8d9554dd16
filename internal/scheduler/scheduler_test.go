package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarketCore/internal/auction"
	"MarketCore/internal/broadcast"
	"MarketCore/internal/cart"
	"MarketCore/internal/domain"
	"MarketCore/internal/negotiation"
	"MarketCore/internal/store"
	"MarketCore/internal/store/memstore"
	"MarketCore/internal/testutil"
)

type fixture struct {
	sched  *Scheduler
	ledger *auction.Ledger
	engine *negotiation.Engine
	cart   *cart.Manager
	store  *memstore.Memstore
	clock  *testutil.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := memstore.New()
	clock := testutil.NewManualClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	log := zerolog.Nop()
	cartMgr := cart.NewManager(m, broadcast.NopPublisher{}, clock, cart.DefaultConfig(), log, nil)
	ledger := auction.NewLedger(m, cartMgr, broadcast.NopPublisher{}, auction.NewMemCache(), clock, auction.DefaultConfig(), log, nil)
	engine := negotiation.NewEngine(m, cartMgr, broadcast.NopPublisher{}, clock, negotiation.DefaultConfig(), log, nil)
	sched := New(m, ledger, engine, cartMgr, clock, log, nil)
	return &fixture{sched: sched, ledger: ledger, engine: engine, cart: cartMgr, store: m, clock: clock}
}

func (f *fixture) seedProduct(t *testing.T) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:               uuid.New(),
		SellerID:         uuid.New(),
		Name:             "Winter wheat, feed grade",
		Quantity:         1_000,
		Unit:             "t",
		BasePrice:        25_000,
		Currency:         "USD",
		MinOrderQuantity: 1,
		Status:           domain.ProductStatusActive,
	}
	err := f.store.InTx(context.Background(), func(tx store.Tx) error {
		return tx.Products().Create(context.Background(), p)
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

func TestTick_StartsAndEndsDueAuctions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t)

	a, err := f.ledger.CreateAuction(ctx, auction.CreateAuctionInput{
		ProductID:     p.ID,
		SellerID:      p.SellerID,
		Type:          domain.AuctionTypeAscending,
		StartingPrice: 25_000,
		BidIncrement:  1_000,
		StartTime:     f.clock.Now().Add(10 * time.Minute),
		EndTime:       f.clock.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}

	// Not yet due.
	if err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ := f.ledger.GetAuction(ctx, a.ID)
	if got.Status != domain.AuctionStatusScheduled {
		t.Fatalf("before start: got %s", got.Status)
	}

	// Past start time.
	f.clock.Advance(15 * time.Minute)
	if err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ = f.ledger.GetAuction(ctx, a.ID)
	if got.Status != domain.AuctionStatusActive {
		t.Fatalf("after start sweep: got %s", got.Status)
	}

	winner := uuid.New()
	if _, err := f.ledger.PlaceBid(ctx, a.ID, winner, 25_000, 10); err != nil {
		t.Fatalf("bid: %v", err)
	}

	// Past end time: the sweep closes it and the win settles.
	f.clock.Advance(time.Hour)
	if err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ = f.ledger.GetAuction(ctx, a.ID)
	if got.Status != domain.AuctionStatusEnded {
		t.Fatalf("after end sweep: got %s", got.Status)
	}
	if got.WinnerID == nil || *got.WinnerID != winner {
		t.Fatalf("winner: %+v", got.WinnerID)
	}

	// A second tick over the same state changes nothing.
	if err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("repeat Tick: %v", err)
	}
	var items int
	f.store.InTx(ctx, func(tx store.Tx) error {
		list, err := tx.CartItems().ListByUser(ctx, winner)
		if err != nil {
			return err
		}
		items = len(list)
		return nil
	})
	if items != 1 {
		t.Fatalf("cart items after double sweep: got %d, want 1", items)
	}
}

func TestTick_ExpiresDueNegotiations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t)
	buyer := uuid.New()

	deadline := f.clock.Now().Add(30 * time.Minute)
	bounded, err := f.engine.CreateNegotiation(ctx, negotiation.CreateNegotiationInput{
		ProductID: p.ID, BuyerID: buyer, Quantity: 10,
		OfferAmount: 20_000, ExpiresAt: &deadline,
	})
	if err != nil {
		t.Fatalf("bounded negotiation: %v", err)
	}
	unbounded, err := f.engine.CreateNegotiation(ctx, negotiation.CreateNegotiationInput{
		ProductID: p.ID, BuyerID: uuid.New(), Quantity: 10, OfferAmount: 20_000,
	})
	if err != nil {
		t.Fatalf("unbounded negotiation: %v", err)
	}

	f.clock.Advance(time.Hour)
	if err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := f.engine.GetNegotiation(ctx, bounded.ID)
	if got.Status != domain.NegotiationStatusExpired {
		t.Fatalf("bounded: got %s, want Expired", got.Status)
	}
	got, _ = f.engine.GetNegotiation(ctx, unbounded.ID)
	if got.Status != domain.NegotiationStatusPending {
		t.Fatalf("unbounded: got %s, want Pending untouched", got.Status)
	}
}

func TestTick_RemovesUnavailableCartItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.seedProduct(t)
	buyer := uuid.New()

	item, err := f.cart.AddToCart(ctx, buyer, p.ID, 10)
	if err != nil {
		t.Fatalf("AddToCart: %v", err)
	}

	// Healthy product: the sweep leaves the item alone.
	if err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	err = f.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.CartItems().Get(ctx, item.ID)
		return err
	})
	if err != nil {
		t.Fatalf("item should survive: %v", err)
	}

	err = f.store.InTx(ctx, func(tx store.Tx) error {
		stored, err := tx.Products().Get(ctx, p.ID)
		if err != nil {
			return err
		}
		stored.Status = domain.ProductStatusExpired
		return tx.Products().Update(ctx, stored)
	})
	if err != nil {
		t.Fatalf("expire product: %v", err)
	}

	if err := f.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	err = f.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.CartItems().Get(ctx, item.ID)
		return err
	})
	if err == nil {
		t.Fatal("item for unavailable product should be removed")
	}
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	f := newFixture(t)

	f.sched.running.Store(true)
	if err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("skipped tick: %v", err)
	}
	f.sched.running.Store(false)

	if err := f.sched.Tick(context.Background()); err != nil {
		t.Fatalf("normal tick: %v", err)
	}
}
