package broadcast

import (
	"time"

	"github.com/google/uuid"
)

// EntityType selects the subscriber group family an event belongs to.
// Cart events are grouped per owner, so their entity ID is the user ID.
type EntityType int32

const (
	EntityAuction EntityType = iota
	EntityNegotiation
	EntityCart
)

func (et EntityType) String() string {
	switch et {
	case EntityAuction:
		return "auction"
	case EntityNegotiation:
		return "negotiation"
	case EntityCart:
		return "cart"
	default:
		return "unknown"
	}
}

// EventKind discriminates what happened to the entity.
type EventKind int32

const (
	EventKindUnknown EventKind = iota
	EventKindBidPlaced
	EventKindAuctionStarted
	EventKindAuctionEnded
	EventKindAuctionRestarted
	EventKindAuctionCancelled
	EventKindNegotiationCreated
	EventKindNegotiationCountered
	EventKindNegotiationAccepted
	EventKindNegotiationDeclined
	EventKindNegotiationCancelled
	EventKindNegotiationExpired
	EventKindCartItemAdded
	EventKindCartItemUpdated
	EventKindCartItemRemoved
	EventKindCartItemUnavailable
)

func (ek EventKind) String() string {
	switch ek {
	case EventKindBidPlaced:
		return "bid_placed"
	case EventKindAuctionStarted:
		return "auction_started"
	case EventKindAuctionEnded:
		return "auction_ended"
	case EventKindAuctionRestarted:
		return "auction_restarted"
	case EventKindAuctionCancelled:
		return "auction_cancelled"
	case EventKindNegotiationCreated:
		return "negotiation_created"
	case EventKindNegotiationCountered:
		return "negotiation_countered"
	case EventKindNegotiationAccepted:
		return "negotiation_accepted"
	case EventKindNegotiationDeclined:
		return "negotiation_declined"
	case EventKindNegotiationCancelled:
		return "negotiation_cancelled"
	case EventKindNegotiationExpired:
		return "negotiation_expired"
	case EventKindCartItemAdded:
		return "cart_item_added"
	case EventKindCartItemUpdated:
		return "cart_item_updated"
	case EventKindCartItemRemoved:
		return "cart_item_removed"
	case EventKindCartItemUnavailable:
		return "cart_item_unavailable"
	default:
		return "unknown"
	}
}

// Envelope wraps every broadcast event. Payload is the post-commit entity
// snapshot; events are emitted only after the owning transaction committed.
type Envelope struct {
	// Monotonic per-process sequence assigned by the broadcaster.
	Sequence int64 `json:"sequence"`

	EntityType EntityType `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	Kind       EventKind  `json:"kind"`
	Timestamp  time.Time  `json:"timestamp"`

	Payload any `json:"payload,omitempty"`
}
