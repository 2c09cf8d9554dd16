package domain

import (
	"time"

	"github.com/google/uuid"
)

// CartSource records which acquisition path produced a cart item.
type CartSource int32

const (
	CartSourceDirect CartSource = iota
	CartSourceAuction
	CartSourceNegotiation
)

func (cs CartSource) String() string {
	switch cs {
	case CartSourceDirect:
		return "Direct"
	case CartSourceAuction:
		return "Auction"
	case CartSourceNegotiation:
		return "Negotiation"
	default:
		return "Unknown"
	}
}

// CartItem is the single terminal artifact all three acquisition paths
// converge on. PriceAtAddition is captured once at creation and is immutable
// for the life of the item — the price-lock guarantee. At most one item
// exists per (user, product).
type CartItem struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ProductID       uuid.UUID
	Quantity        int64
	PriceAtAddition int64 // Minor units, locked at creation
	Currency        string
	Source          CartSource
	SourceRef       *uuid.UUID // Winning bid ID or negotiation ID
	AddedAt         time.Time
	Version         int64 // Optimistic concurrency control
}

// TotalValue is quantity times the locked unit price.
func (ci *CartItem) TotalValue() int64 {
	return ci.Quantity * ci.PriceAtAddition
}
