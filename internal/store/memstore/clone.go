package memstore

import (
	"time"

	"github.com/google/uuid"

	"MarketCore/internal/domain"
)

// Clone helpers isolate committed state from entities held by callers.
// Pointer-typed fields are duplicated so a caller mutating a returned entity
// cannot reach through into the store.

func (s *state) clone() *state {
	c := &state{
		products:     make(map[uuid.UUID]*domain.Product, len(s.products)),
		auctions:     make(map[uuid.UUID]*domain.Auction, len(s.auctions)),
		bids:         make(map[uuid.UUID]*domain.Bid, len(s.bids)),
		negotiations: make(map[uuid.UUID]*domain.Negotiation, len(s.negotiations)),
		cartItems:    make(map[uuid.UUID]*domain.CartItem, len(s.cartItems)),
	}
	for id, p := range s.products {
		c.products[id] = cloneProduct(p)
	}
	for id, a := range s.auctions {
		c.auctions[id] = cloneAuction(a)
	}
	for id, b := range s.bids {
		c.bids[id] = cloneBid(b)
	}
	for id, n := range s.negotiations {
		c.negotiations[id] = cloneNegotiation(n)
	}
	for id, ci := range s.cartItems {
		c.cartItems[id] = cloneCartItem(ci)
	}
	return c
}

func cloneProduct(p *domain.Product) *domain.Product {
	c := *p
	return &c
}

func cloneAuction(a *domain.Auction) *domain.Auction {
	c := *a
	c.ReservePrice = cloneInt64(a.ReservePrice)
	c.CurrentBid = cloneInt64(a.CurrentBid)
	c.WinnerID = cloneUUID(a.WinnerID)
	c.WinningBidID = cloneUUID(a.WinningBidID)
	return &c
}

func cloneBid(b *domain.Bid) *domain.Bid {
	c := *b
	return &c
}

func cloneNegotiation(n *domain.Negotiation) *domain.Negotiation {
	c := *n
	c.CounterAmount = cloneInt64(n.CounterAmount)
	c.ExpiresAt = cloneTime(n.ExpiresAt)
	return &c
}

func cloneCartItem(ci *domain.CartItem) *domain.CartItem {
	c := *ci
	c.SourceRef = cloneUUID(ci.SourceRef)
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneUUID(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
