package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarketCore/internal/domain"
	"MarketCore/internal/store"
	"MarketCore/internal/testutil"
)

func setup(t *testing.T) *Store {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := NewMigrator(db, "../../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func seedProduct(t *testing.T, s *Store) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:               uuid.New(),
		SellerID:         uuid.New(),
		Name:             "Integration test lot",
		Quantity:         100,
		Unit:             "kg",
		BasePrice:        10_000,
		Currency:         "USD",
		MinOrderQuantity: 1,
		Status:           domain.ProductStatusActive,
	}
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.Products().Create(context.Background(), p)
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

func TestPG_ProductRoundTripAndVersionConflict(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	p := seedProduct(t, s)

	stale := *p

	p.Quantity = 80
	if err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.Products().Update(ctx, p)
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Version != 1 {
		t.Fatalf("version: got %d, want 1", p.Version)
	}

	stale.Quantity = 70
	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.Products().Update(ctx, &stale)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale update: got %v, want ErrConflict", err)
	}

	var got *domain.Product
	s.InTx(ctx, func(tx store.Tx) error {
		var err error
		got, err = tx.Products().Get(ctx, p.ID)
		return err
	})
	if got.Quantity != 80 || got.Version != 1 {
		t.Fatalf("stored product: %+v", got)
	}
}

func TestPG_OpenNegotiationUniqueIndex(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	p := seedProduct(t, s)
	buyer := uuid.New()

	mk := func(status domain.NegotiationStatus) error {
		now := time.Now().UTC()
		return s.InTx(ctx, func(tx store.Tx) error {
			return tx.Negotiations().Create(ctx, &domain.Negotiation{
				ID: uuid.New(), ProductID: p.ID, BuyerID: buyer,
				SellerID: p.SellerID, Quantity: 10, OfferAmount: 9_000,
				Status: status, CreatedAt: now, UpdatedAt: now,
			})
		})
	}

	if err := mk(domain.NegotiationStatusPending); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := mk(domain.NegotiationStatusPending); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("second open: got %v, want ErrDuplicate", err)
	}
	// Terminal rows are outside the partial index.
	if err := mk(domain.NegotiationStatusDeclined); err != nil {
		t.Fatalf("terminal row: %v", err)
	}
}

func TestPG_CartUniqueAndSourceRefLookup(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	p := seedProduct(t, s)
	user := uuid.New()
	ref := uuid.New()

	item := &domain.CartItem{
		ID: uuid.New(), UserID: user, ProductID: p.ID,
		Quantity: 10, PriceAtAddition: 12_000, Currency: "USD",
		Source: domain.CartSourceAuction, SourceRef: &ref,
		AddedAt: time.Now().UTC(),
	}
	if err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.CartItems().Create(ctx, item)
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.CartItems().Create(ctx, &domain.CartItem{
			ID: uuid.New(), UserID: user, ProductID: p.ID,
			Quantity: 5, PriceAtAddition: 11_000, AddedAt: time.Now().UTC(),
		})
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate slot: got %v, want ErrDuplicate", err)
	}

	var found *domain.CartItem
	s.InTx(ctx, func(tx store.Tx) error {
		var err error
		found, err = tx.CartItems().BySourceRef(ctx, domain.CartSourceAuction, ref)
		return err
	})
	if found == nil || found.ID != item.ID {
		t.Fatalf("BySourceRef: %+v", found)
	}
}

func TestPG_RollbackOnError(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	p := &domain.Product{
		ID: uuid.New(), SellerID: uuid.New(), Name: "rollback fixture",
		Quantity: 1, Unit: "kg", BasePrice: 100, Currency: "USD",
		MinOrderQuantity: 1, Status: domain.ProductStatusActive,
	}
	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Products().Create(ctx, p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx: got %v", err)
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.Products().Get(ctx, p.ID)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rolled-back row visible: got %v", err)
	}
}
