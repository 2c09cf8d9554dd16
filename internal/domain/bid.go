package domain

import (
	"time"

	"github.com/google/uuid"
)

// BidStatus tracks whether a bid currently leads its auction.
type BidStatus int32

const (
	BidStatusActive BidStatus = iota
	BidStatusOutbid
	BidStatusWinning
)

func (bs BidStatus) String() string {
	switch bs {
	case BidStatusActive:
		return "Active"
	case BidStatusOutbid:
		return "Outbid"
	case BidStatusWinning:
		return "Winning"
	default:
		return "Unknown"
	}
}

// Bid is an accepted bid on an auction. Bids are never deleted; ordering by
// (amount desc, placed-at asc) within the auction's current round determines
// the leader.
type Bid struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    int64 // Minor units
	Quantity  int64
	Round     int64 // Auction round the bid belongs to
	PlacedAt  time.Time
	Status    BidStatus
}
