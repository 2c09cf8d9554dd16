// Package store defines the persistence-session dependency every engine
// receives at construction. Engines never touch a global database handle;
// they open serializable transactions through Store.InTx and speak to typed
// repositories scoped to that transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"MarketCore/internal/domain"
	"MarketCore/internal/observability"
)

var (
	// ErrNotFound is returned by repository lookups for absent rows.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a version-checked update lost the race
	// with a concurrent writer. Callers retry via WithRetry.
	ErrConflict = errors.New("store: write conflict")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (open negotiation per product/buyer, cart item per
	// user/product).
	ErrDuplicate = errors.New("store: duplicate")
)

// Tx is the set of repositories visible inside one transaction. All reads
// and writes through a single Tx commit or roll back as one atomic unit.
type Tx interface {
	Products() ProductRepo
	Auctions() AuctionRepo
	Bids() BidRepo
	Negotiations() NegotiationRepo
	CartItems() CartRepo
}

// Store opens transactions. Implementations guarantee that concurrent
// transactions touching the same entity serialize: the loser observes
// ErrConflict and retries against the committed state.
type Store interface {
	// InTx runs fn inside a transaction. A nil return commits; any error
	// rolls back and is returned unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// ProductRepo reads the product partial view and writes terminal status.
type ProductRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	Create(ctx context.Context, p *domain.Product) error
	// Update applies a version-checked write and increments p.Version on
	// success. Returns ErrConflict when the stored version moved.
	Update(ctx context.Context, p *domain.Product) error
}

// AuctionRepo owns auction rows and the time-due queries the scheduler sweeps.
type AuctionRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	Create(ctx context.Context, a *domain.Auction) error
	Update(ctx context.Context, a *domain.Auction) error
	// ListStartDue returns Scheduled auctions whose start time has passed.
	ListStartDue(ctx context.Context, now time.Time) ([]*domain.Auction, error)
	// ListEndDue returns Active auctions whose end time has passed.
	ListEndDue(ctx context.Context, now time.Time) ([]*domain.Auction, error)
}

// BidRepo owns bid rows. Bids are insert-only except for the leader handoff
// (Winning -> Outbid).
type BidRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Bid, error)
	Create(ctx context.Context, b *domain.Bid) error
	Update(ctx context.Context, b *domain.Bid) error
	// Leading returns the Winning bid for the auction's round, or
	// ErrNotFound when no bid has been accepted yet.
	Leading(ctx context.Context, auctionID uuid.UUID, round int64) (*domain.Bid, error)
	// ListByAuction returns the round's bids ordered (amount desc,
	// placed-at asc) — the leader ordering.
	ListByAuction(ctx context.Context, auctionID uuid.UUID, round int64) ([]*domain.Bid, error)
}

// NegotiationRepo owns negotiation rows and enforces the open-negotiation
// uniqueness constraint on insert.
type NegotiationRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Negotiation, error)
	// Create returns ErrDuplicate when a non-terminal negotiation already
	// exists for (product, buyer).
	Create(ctx context.Context, n *domain.Negotiation) error
	Update(ctx context.Context, n *domain.Negotiation) error
	// OpenByProductBuyer returns the non-terminal negotiation for the pair,
	// or ErrNotFound.
	OpenByProductBuyer(ctx context.Context, productID, buyerID uuid.UUID) (*domain.Negotiation, error)
	// ListExpired returns non-terminal negotiations whose expiry has passed.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Negotiation, error)
}

// CartRepo owns cart items and enforces the one-item-per-(user, product)
// constraint on insert.
type CartRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.CartItem, error)
	// Create returns ErrDuplicate when an item already exists for
	// (user, product).
	Create(ctx context.Context, ci *domain.CartItem) error
	Update(ctx context.Context, ci *domain.CartItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	ByUserProduct(ctx context.Context, userID, productID uuid.UUID) (*domain.CartItem, error)
	// BySourceRef finds the item a commitment produced (winning bid or
	// negotiation), for idempotent re-runs of endAuction/accept.
	BySourceRef(ctx context.Context, source domain.CartSource, ref uuid.UUID) (*domain.CartItem, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.CartItem, error)
	ListAll(ctx context.Context) ([]*domain.CartItem, error)
}

// WithRetry runs fn through s.InTx, retrying on ErrConflict up to attempts
// times with a short linear backoff. A conflict that survives the bound is
// surfaced as a CONCURRENCY_CONFLICT; every other error passes through.
// metrics may be nil; when set, each conflicted attempt counts as a retry
// and an exhausted bound counts as a surfaced conflict.
func WithRetry(ctx context.Context, s Store, attempts int, metrics *observability.Metrics, fn func(tx Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = s.InTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if metrics != nil {
			metrics.ConflictRetries.Inc()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 5 * time.Millisecond):
		}
	}

	if metrics != nil {
		metrics.ConflictsSurfaced.Inc()
	}
	return domain.NewConcurrencyConflict(domain.ReasonWriteContention,
		"operation lost %d consecutive write races", attempts)
}
