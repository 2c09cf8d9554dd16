// Package memstore is the in-memory Store implementation. Transactions run
// under a single coarse lock, so every transaction is serializable by
// construction; rollback is a discarded working copy. It backs the unit
// suites and any deployment that does not need durable state.
package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"MarketCore/internal/domain"
	"MarketCore/internal/store"
)

// Memstore holds the committed state. Safe for concurrent use.
type Memstore struct {
	mu    chan struct{} // Semaphore, held for the duration of a transaction
	state *state
}

type state struct {
	products     map[uuid.UUID]*domain.Product
	auctions     map[uuid.UUID]*domain.Auction
	bids         map[uuid.UUID]*domain.Bid
	negotiations map[uuid.UUID]*domain.Negotiation
	cartItems    map[uuid.UUID]*domain.CartItem
}

func New() *Memstore {
	mu := make(chan struct{}, 1)
	return &Memstore{
		mu: mu,
		state: &state{
			products:     make(map[uuid.UUID]*domain.Product),
			auctions:     make(map[uuid.UUID]*domain.Auction),
			bids:         make(map[uuid.UUID]*domain.Bid),
			negotiations: make(map[uuid.UUID]*domain.Negotiation),
			cartItems:    make(map[uuid.UUID]*domain.CartItem),
		},
	}
}

// InTx runs fn against a working copy of the state under the store lock.
// Commit swaps the copy in; any error discards it. The lock acquisition
// respects ctx so callers never block indefinitely.
func (m *Memstore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	select {
	case m.mu <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.mu }()

	working := m.state.clone()
	if err := fn(&memTx{s: working}); err != nil {
		return err
	}

	m.state = working
	return nil
}

type memTx struct {
	s *state
}

func (t *memTx) Products() store.ProductRepo         { return &productRepo{s: t.s} }
func (t *memTx) Auctions() store.AuctionRepo         { return &auctionRepo{s: t.s} }
func (t *memTx) Bids() store.BidRepo                 { return &bidRepo{s: t.s} }
func (t *memTx) Negotiations() store.NegotiationRepo { return &negotiationRepo{s: t.s} }
func (t *memTx) CartItems() store.CartRepo           { return &cartRepo{s: t.s} }

// --- Products ---

type productRepo struct {
	s *state
}

func (r *productRepo) Get(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	p, ok := r.s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (r *productRepo) Create(_ context.Context, p *domain.Product) error {
	if _, ok := r.s.products[p.ID]; ok {
		return store.ErrDuplicate
	}
	r.s.products[p.ID] = cloneProduct(p)
	return nil
}

func (r *productRepo) Update(_ context.Context, p *domain.Product) error {
	stored, ok := r.s.products[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != p.Version {
		return store.ErrConflict
	}
	p.Version++
	r.s.products[p.ID] = cloneProduct(p)
	return nil
}

// --- Auctions ---

type auctionRepo struct {
	s *state
}

func (r *auctionRepo) Get(_ context.Context, id uuid.UUID) (*domain.Auction, error) {
	a, ok := r.s.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneAuction(a), nil
}

func (r *auctionRepo) Create(_ context.Context, a *domain.Auction) error {
	if _, ok := r.s.auctions[a.ID]; ok {
		return store.ErrDuplicate
	}
	r.s.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (r *auctionRepo) Update(_ context.Context, a *domain.Auction) error {
	stored, ok := r.s.auctions[a.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != a.Version {
		return store.ErrConflict
	}
	a.Version++
	r.s.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (r *auctionRepo) ListStartDue(_ context.Context, now time.Time) ([]*domain.Auction, error) {
	var due []*domain.Auction
	for _, a := range r.s.auctions {
		if a.Status == domain.AuctionStatusScheduled && !a.StartTime.After(now) {
			due = append(due, cloneAuction(a))
		}
	}
	sortAuctions(due)
	return due, nil
}

func (r *auctionRepo) ListEndDue(_ context.Context, now time.Time) ([]*domain.Auction, error) {
	var due []*domain.Auction
	for _, a := range r.s.auctions {
		if a.Status == domain.AuctionStatusActive && !a.EndTime.After(now) {
			due = append(due, cloneAuction(a))
		}
	}
	sortAuctions(due)
	return due, nil
}

// --- Bids ---

type bidRepo struct {
	s *state
}

func (r *bidRepo) Get(_ context.Context, id uuid.UUID) (*domain.Bid, error) {
	b, ok := r.s.bids[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBid(b), nil
}

func (r *bidRepo) Create(_ context.Context, b *domain.Bid) error {
	if _, ok := r.s.bids[b.ID]; ok {
		return store.ErrDuplicate
	}
	r.s.bids[b.ID] = cloneBid(b)
	return nil
}

func (r *bidRepo) Update(_ context.Context, b *domain.Bid) error {
	if _, ok := r.s.bids[b.ID]; !ok {
		return store.ErrNotFound
	}
	r.s.bids[b.ID] = cloneBid(b)
	return nil
}

func (r *bidRepo) Leading(_ context.Context, auctionID uuid.UUID, round int64) (*domain.Bid, error) {
	for _, b := range r.s.bids {
		if b.AuctionID == auctionID && b.Round == round && b.Status == domain.BidStatusWinning {
			return cloneBid(b), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *bidRepo) ListByAuction(_ context.Context, auctionID uuid.UUID, round int64) ([]*domain.Bid, error) {
	var bids []*domain.Bid
	for _, b := range r.s.bids {
		if b.AuctionID == auctionID && b.Round == round {
			bids = append(bids, cloneBid(b))
		}
	}
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		return bids[i].PlacedAt.Before(bids[j].PlacedAt)
	})
	return bids, nil
}

// --- Negotiations ---

type negotiationRepo struct {
	s *state
}

func (r *negotiationRepo) Get(_ context.Context, id uuid.UUID) (*domain.Negotiation, error) {
	n, ok := r.s.negotiations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneNegotiation(n), nil
}

func (r *negotiationRepo) Create(_ context.Context, n *domain.Negotiation) error {
	if _, ok := r.s.negotiations[n.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range r.s.negotiations {
		if existing.ProductID == n.ProductID && existing.BuyerID == n.BuyerID &&
			!existing.Status.IsTerminal() {
			return store.ErrDuplicate
		}
	}
	r.s.negotiations[n.ID] = cloneNegotiation(n)
	return nil
}

func (r *negotiationRepo) Update(_ context.Context, n *domain.Negotiation) error {
	stored, ok := r.s.negotiations[n.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != n.Version {
		return store.ErrConflict
	}
	n.Version++
	r.s.negotiations[n.ID] = cloneNegotiation(n)
	return nil
}

func (r *negotiationRepo) OpenByProductBuyer(_ context.Context, productID, buyerID uuid.UUID) (*domain.Negotiation, error) {
	for _, n := range r.s.negotiations {
		if n.ProductID == productID && n.BuyerID == buyerID && !n.Status.IsTerminal() {
			return cloneNegotiation(n), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *negotiationRepo) ListExpired(_ context.Context, now time.Time) ([]*domain.Negotiation, error) {
	var expired []*domain.Negotiation
	for _, n := range r.s.negotiations {
		if !n.Status.IsTerminal() && n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			expired = append(expired, cloneNegotiation(n))
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	return expired, nil
}

// --- Cart items ---

type cartRepo struct {
	s *state
}

func (r *cartRepo) Get(_ context.Context, id uuid.UUID) (*domain.CartItem, error) {
	ci, ok := r.s.cartItems[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneCartItem(ci), nil
}

func (r *cartRepo) Create(_ context.Context, ci *domain.CartItem) error {
	if _, ok := r.s.cartItems[ci.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range r.s.cartItems {
		if existing.UserID == ci.UserID && existing.ProductID == ci.ProductID {
			return store.ErrDuplicate
		}
	}
	r.s.cartItems[ci.ID] = cloneCartItem(ci)
	return nil
}

func (r *cartRepo) Update(_ context.Context, ci *domain.CartItem) error {
	stored, ok := r.s.cartItems[ci.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Version != ci.Version {
		return store.ErrConflict
	}
	ci.Version++
	r.s.cartItems[ci.ID] = cloneCartItem(ci)
	return nil
}

func (r *cartRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.s.cartItems[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.cartItems, id)
	return nil
}

func (r *cartRepo) ByUserProduct(_ context.Context, userID, productID uuid.UUID) (*domain.CartItem, error) {
	for _, ci := range r.s.cartItems {
		if ci.UserID == userID && ci.ProductID == productID {
			return cloneCartItem(ci), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *cartRepo) BySourceRef(_ context.Context, source domain.CartSource, ref uuid.UUID) (*domain.CartItem, error) {
	for _, ci := range r.s.cartItems {
		if ci.Source == source && ci.SourceRef != nil && *ci.SourceRef == ref {
			return cloneCartItem(ci), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *cartRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*domain.CartItem, error) {
	var items []*domain.CartItem
	for _, ci := range r.s.cartItems {
		if ci.UserID == userID {
			items = append(items, cloneCartItem(ci))
		}
	}
	sortCartItems(items)
	return items, nil
}

func (r *cartRepo) ListAll(_ context.Context) ([]*domain.CartItem, error) {
	items := make([]*domain.CartItem, 0, len(r.s.cartItems))
	for _, ci := range r.s.cartItems {
		items = append(items, cloneCartItem(ci))
	}
	sortCartItems(items)
	return items, nil
}

func sortAuctions(auctions []*domain.Auction) {
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].ID.String() < auctions[j].ID.String()
	})
}

func sortCartItems(items []*domain.CartItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].AddedAt.Before(items[j].AddedAt)
	})
}
