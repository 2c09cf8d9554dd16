package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"MarketCore/internal/domain"
	"MarketCore/internal/store"
)

func mustCreateProduct(t *testing.T, m *Memstore, p *domain.Product) {
	t.Helper()
	err := m.InTx(context.Background(), func(tx store.Tx) error {
		return tx.Products().Create(context.Background(), p)
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
}

func testProduct(sellerID uuid.UUID) *domain.Product {
	return &domain.Product{
		ID:               uuid.New(),
		SellerID:         sellerID,
		Name:             "Arabica beans, grade 1",
		Quantity:         500,
		Unit:             "kg",
		BasePrice:        12_000,
		Currency:         "USD",
		MinOrderQuantity: 10,
		Status:           domain.ProductStatusActive,
	}
}

func TestInTx_RollbackDiscardsWrites(t *testing.T) {
	m := New()
	ctx := context.Background()
	p := testProduct(uuid.New())

	wantErr := errors.New("boom")
	err := m.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Products().Create(ctx, p); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("InTx: got %v, want boom", err)
	}

	err = m.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.Products().Get(ctx, p.ID)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rolled-back write visible: got %v, want ErrNotFound", err)
	}
}

func TestInTx_CommitIsAtomic(t *testing.T) {
	m := New()
	ctx := context.Background()
	seller := uuid.New()
	p := testProduct(seller)
	mustCreateProduct(t, m, p)

	// Two writes in one transaction: both or neither.
	itemID := uuid.New()
	err := m.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CartItems().Create(ctx, &domain.CartItem{
			ID: itemID, UserID: uuid.New(), ProductID: p.ID,
			Quantity: 10, PriceAtAddition: 12_000, AddedAt: time.Now(),
		}); err != nil {
			return err
		}
		p.Status = domain.ProductStatusSold
		return tx.Products().Update(ctx, p)
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	err = m.InTx(ctx, func(tx store.Tx) error {
		got, err := tx.Products().Get(ctx, p.ID)
		if err != nil {
			return err
		}
		if got.Status != domain.ProductStatusSold {
			t.Errorf("product status: got %s, want Sold", got.Status)
		}
		_, err = tx.CartItems().Get(ctx, itemID)
		return err
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestUpdate_VersionConflict(t *testing.T) {
	m := New()
	ctx := context.Background()
	p := testProduct(uuid.New())
	mustCreateProduct(t, m, p)

	stale := *p // version 0 snapshot

	p.Quantity = 400
	if err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.Products().Update(ctx, p)
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if p.Version != 1 {
		t.Fatalf("version after update: got %d, want 1", p.Version)
	}

	stale.Quantity = 300
	err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.Products().Update(ctx, &stale)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale update: got %v, want ErrConflict", err)
	}
}

func TestNegotiationCreate_OpenPairUnique(t *testing.T) {
	m := New()
	ctx := context.Background()
	productID, buyerID := uuid.New(), uuid.New()

	open := &domain.Negotiation{
		ID: uuid.New(), ProductID: productID, BuyerID: buyerID,
		SellerID: uuid.New(), Quantity: 10, OfferAmount: 9_000,
		Status: domain.NegotiationStatusPending,
	}
	if err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.Negotiations().Create(ctx, open)
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	dup := &domain.Negotiation{
		ID: uuid.New(), ProductID: productID, BuyerID: buyerID,
		SellerID: open.SellerID, Quantity: 10, OfferAmount: 9_500,
		Status: domain.NegotiationStatusPending,
	}
	err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.Negotiations().Create(ctx, dup)
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate open pair: got %v, want ErrDuplicate", err)
	}

	// Close the first; the pair becomes free again.
	open.Status = domain.NegotiationStatusDeclined
	if err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.Negotiations().Update(ctx, open)
	}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.Negotiations().Create(ctx, dup)
	}); err != nil {
		t.Fatalf("create after close: %v", err)
	}
}

func TestCartCreate_UserProductUnique(t *testing.T) {
	m := New()
	ctx := context.Background()
	userID, productID := uuid.New(), uuid.New()

	first := &domain.CartItem{
		ID: uuid.New(), UserID: userID, ProductID: productID,
		Quantity: 10, PriceAtAddition: 12_000, AddedAt: time.Now(),
	}
	if err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.CartItems().Create(ctx, first)
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.CartItems().Create(ctx, &domain.CartItem{
			ID: uuid.New(), UserID: userID, ProductID: productID,
			Quantity: 20, PriceAtAddition: 13_000, AddedAt: time.Now(),
		})
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate slot: got %v, want ErrDuplicate", err)
	}
}

func TestListByAuction_LeaderOrdering(t *testing.T) {
	m := New()
	ctx := context.Background()
	auctionID := uuid.New()
	base := time.Now()

	amounts := []int64{10_000, 12_000, 12_000, 11_000}
	ids := make([]uuid.UUID, len(amounts))
	err := m.InTx(ctx, func(tx store.Tx) error {
		for i, amount := range amounts {
			ids[i] = uuid.New()
			if err := tx.Bids().Create(ctx, &domain.Bid{
				ID: ids[i], AuctionID: auctionID, BidderID: uuid.New(),
				Amount: amount, Quantity: 10, Round: 1,
				PlacedAt: base.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed bids: %v", err)
	}

	var got []*domain.Bid
	m.InTx(ctx, func(tx store.Tx) error {
		got, err = tx.Bids().ListByAuction(ctx, auctionID, 1)
		return err
	})
	// 12000 placed first beats 12000 placed later; then 11000; then 10000.
	wantOrder := []uuid.UUID{ids[1], ids[2], ids[3], ids[0]}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Fatalf("position %d: got bid %s (amount %d), want %s", i, got[i].ID, got[i].Amount, want)
		}
	}

	// Prior-round bids never appear in another round's listing.
	var round2 []*domain.Bid
	m.InTx(ctx, func(tx store.Tx) error {
		round2, err = tx.Bids().ListByAuction(ctx, auctionID, 2)
		return err
	})
	if len(round2) != 0 {
		t.Fatalf("round 2 listing: got %d bids, want 0", len(round2))
	}
}

func TestListExpired_SkipsTerminalAndUnbounded(t *testing.T) {
	m := New()
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Hour)

	mk := func(status domain.NegotiationStatus, expires *time.Time) uuid.UUID {
		n := &domain.Negotiation{
			ID: uuid.New(), ProductID: uuid.New(), BuyerID: uuid.New(),
			SellerID: uuid.New(), Quantity: 5, OfferAmount: 1_000,
			Status: status, ExpiresAt: expires, CreatedAt: now,
		}
		if err := m.InTx(ctx, func(tx store.Tx) error {
			return tx.Negotiations().Create(ctx, n)
		}); err != nil {
			t.Fatalf("seed negotiation: %v", err)
		}
		return n.ID
	}

	wantID := mk(domain.NegotiationStatusPending, &past)
	mk(domain.NegotiationStatusDeclined, &past) // terminal
	mk(domain.NegotiationStatusPending, nil)    // no deadline

	var expired []*domain.Negotiation
	m.InTx(ctx, func(tx store.Tx) error {
		var err error
		expired, err = tx.Negotiations().ListExpired(ctx, now)
		return err
	})
	if len(expired) != 1 || expired[0].ID != wantID {
		t.Fatalf("expired: got %d entries, want exactly the pending past-deadline one", len(expired))
	}
}

func TestInTx_LockRespectsContext(t *testing.T) {
	m := New()

	release := make(chan struct{})
	held := make(chan struct{})
	go m.InTx(context.Background(), func(tx store.Tx) error {
		close(held)
		<-release
		return nil
	})
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.InTx(ctx, func(tx store.Tx) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocked InTx: got %v, want DeadlineExceeded", err)
	}
	close(release)
}
