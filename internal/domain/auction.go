package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuctionType distinguishes the bidding mechanism.
type AuctionType int32

const (
	AuctionTypeAscending AuctionType = iota
	AuctionTypeDescending
	AuctionTypeSealed
)

func (at AuctionType) String() string {
	switch at {
	case AuctionTypeAscending:
		return "Ascending"
	case AuctionTypeDescending:
		return "Descending"
	case AuctionTypeSealed:
		return "Sealed"
	default:
		return "Unknown"
	}
}

// AuctionStatus tracks the auction lifecycle.
type AuctionStatus int32

const (
	AuctionStatusScheduled AuctionStatus = iota
	AuctionStatusActive
	AuctionStatusEnded
	AuctionStatusCancelled
)

func (as AuctionStatus) String() string {
	switch as {
	case AuctionStatusScheduled:
		return "Scheduled"
	case AuctionStatusActive:
		return "Active"
	case AuctionStatusEnded:
		return "Ended"
	case AuctionStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions. Transitions are monotonic:
// Scheduled -> Active -> Ended, with Cancelled reachable from Scheduled or
// Active only. Ended and Cancelled are terminal, except that a no-winner
// auction may be rescheduled (Ended -> Scheduled, see RestartAuction).
func (as AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	validTransitions := map[AuctionStatus][]AuctionStatus{
		AuctionStatusScheduled: {
			AuctionStatusActive,
			AuctionStatusCancelled,
		},
		AuctionStatusActive: {
			AuctionStatusEnded,
			AuctionStatusCancelled,
		},
		AuctionStatusEnded: {
			AuctionStatusScheduled, // Restart after no-winner close
		},
	}

	for _, allowed := range validTransitions[as] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the auction can no longer change on its own.
func (as AuctionStatus) IsTerminal() bool {
	return as == AuctionStatusEnded || as == AuctionStatusCancelled
}

// Auction references exactly one product and owns its bids.
// CurrentBid, once set, never decreases.
type Auction struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	SellerID      uuid.UUID
	Type          AuctionType
	StartingPrice int64  // Minor units
	ReservePrice  *int64 // Nil when no reserve
	CurrentBid    *int64 // Nil until first accepted bid
	BidIncrement  int64
	StartTime     time.Time
	EndTime       time.Time
	Status        AuctionStatus
	WinnerID      *uuid.UUID
	WinningBidID  *uuid.UUID
	BidCount      int64
	Round         int64 // Incremented on restart; bids from prior rounds are audit-only
	Version       int64 // Optimistic concurrency control
}

// MinimumNextBid is the smallest amount an incoming bid must reach.
// First bid: starting price. Thereafter: current bid plus the increment.
func (a *Auction) MinimumNextBid() int64 {
	if a.CurrentBid == nil {
		return a.StartingPrice
	}
	return *a.CurrentBid + a.BidIncrement
}

// ReserveMet reports whether the current bid satisfies the reserve price.
// Auctions without a reserve are always met once any bid exists.
func (a *Auction) ReserveMet() bool {
	if a.CurrentBid == nil {
		return false
	}
	if a.ReservePrice == nil {
		return true
	}
	return *a.CurrentBid >= *a.ReservePrice
}
