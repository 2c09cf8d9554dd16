package domain

import (
	"time"

	"github.com/google/uuid"
)

// NegotiationStatus tracks the offer/counter-offer workflow.
type NegotiationStatus int32

const (
	NegotiationStatusPending NegotiationStatus = iota
	NegotiationStatusCountered
	NegotiationStatusAccepted
	NegotiationStatusDeclined
	NegotiationStatusExpired
	NegotiationStatusCancelled
)

func (ns NegotiationStatus) String() string {
	switch ns {
	case NegotiationStatusPending:
		return "Pending"
	case NegotiationStatusCountered:
		return "Countered"
	case NegotiationStatusAccepted:
		return "Accepted"
	case NegotiationStatusDeclined:
		return "Declined"
	case NegotiationStatusExpired:
		return "Expired"
	case NegotiationStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates workflow transitions. Countered has no outgoing
// counter edge: exactly one seller counter is permitted per negotiation.
func (ns NegotiationStatus) CanTransitionTo(next NegotiationStatus) bool {
	validTransitions := map[NegotiationStatus][]NegotiationStatus{
		NegotiationStatusPending: {
			NegotiationStatusCountered,
			NegotiationStatusExpired,
			NegotiationStatusCancelled,
		},
		NegotiationStatusCountered: {
			NegotiationStatusAccepted,
			NegotiationStatusDeclined,
			NegotiationStatusExpired,
			NegotiationStatusCancelled,
		},
	}

	for _, allowed := range validTransitions[ns] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the negotiation is closed.
func (ns NegotiationStatus) IsTerminal() bool {
	switch ns {
	case NegotiationStatusAccepted, NegotiationStatusDeclined,
		NegotiationStatusExpired, NegotiationStatusCancelled:
		return true
	default:
		return false
	}
}

// Negotiation is a bilateral price negotiation over one product.
// At most one non-terminal negotiation exists per (product, buyer) pair.
type Negotiation struct {
	ID            uuid.UUID
	ProductID     uuid.UUID
	BuyerID       uuid.UUID
	SellerID      uuid.UUID // Derived from the product owner at creation
	Quantity      int64     // Units the buyer wants at the agreed price
	OfferAmount   int64     // Buyer's offer, minor units
	CounterAmount *int64    // Nil until the seller counters
	Status        NegotiationStatus
	ExpiresAt     *time.Time // Nil means no automatic expiry
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64 // Optimistic concurrency control
}

// AgreedPrice is the price a terminal commitment locks in: the seller's
// counter once present, the buyer's offer otherwise.
func (n *Negotiation) AgreedPrice() int64 {
	if n.CounterAmount != nil {
		return *n.CounterAmount
	}
	return n.OfferAmount
}
