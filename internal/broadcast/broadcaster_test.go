package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarketCore/internal/domain"
)

type captureSink struct {
	mu   sync.Mutex
	envs []Envelope
}

func (s *captureSink) Deliver(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *captureSink) all() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.envs...)
}

func newTestBroadcaster() *Broadcaster {
	return New(domain.SystemClock{}, zerolog.Nop(), nil)
}

func TestPublish_FansOutToEntityGroupOnly(t *testing.T) {
	b := newTestBroadcaster()
	auctionA, auctionB := uuid.New(), uuid.New()

	subA := b.Subscribe(EntityAuction, auctionA, 4)
	defer subA.Close()
	subB := b.Subscribe(EntityAuction, auctionB, 4)
	defer subB.Close()

	b.Publish(EntityAuction, auctionA, EventKindBidPlaced, "payload-a")

	select {
	case env := <-subA.C:
		if env.EntityID != auctionA || env.Kind != EventKindBidPlaced {
			t.Fatalf("envelope: %+v", env)
		}
		if env.Payload != "payload-a" {
			t.Fatalf("payload: %v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber A never received the event")
	}

	select {
	case env := <-subB.C:
		t.Fatalf("subscriber B received foreign event: %+v", env)
	default:
	}
}

func TestPublish_SequenceIsMonotonic(t *testing.T) {
	b := newTestBroadcaster()
	id := uuid.New()
	sub := b.Subscribe(EntityNegotiation, id, 8)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(EntityNegotiation, id, EventKindNegotiationCreated, i)
	}

	var last int64
	for i := 0; i < 5; i++ {
		env := <-sub.C
		if env.Sequence <= last {
			t.Fatalf("sequence not increasing: %d after %d", env.Sequence, last)
		}
		last = env.Sequence
	}
}

func TestPublish_DropsOnFullSubscriber(t *testing.T) {
	b := newTestBroadcaster()
	id := uuid.New()
	sub := b.Subscribe(EntityCart, id, 1)
	defer sub.Close()

	b.Publish(EntityCart, id, EventKindCartItemAdded, 1)
	b.Publish(EntityCart, id, EventKindCartItemUpdated, 2) // dropped, buffer full

	env := <-sub.C
	if env.Kind != EventKindCartItemAdded {
		t.Fatalf("kept event: %s", env.Kind)
	}
	select {
	case env := <-sub.C:
		t.Fatalf("drop-on-full violated, received %+v", env)
	default:
	}
}

func TestPublish_DeliversToSinks(t *testing.T) {
	b := newTestBroadcaster()
	sink := &captureSink{}
	b.AttachSink(sink)

	id := uuid.New()
	b.Publish(EntityAuction, id, EventKindAuctionEnded, nil)
	b.Publish(EntityNegotiation, uuid.New(), EventKindNegotiationAccepted, nil)

	envs := sink.all()
	if len(envs) != 2 {
		t.Fatalf("sink deliveries: got %d, want 2", len(envs))
	}
	if envs[0].Kind != EventKindAuctionEnded || envs[0].EntityID != id {
		t.Fatalf("first delivery: %+v", envs[0])
	}
}

func TestSubscription_CloseDetaches(t *testing.T) {
	b := newTestBroadcaster()
	id := uuid.New()

	sub := b.Subscribe(EntityAuction, id, 4)
	if got := b.SubscriberCount(EntityAuction, id); got != 1 {
		t.Fatalf("subscriber count: got %d, want 1", got)
	}

	sub.Close()
	sub.Close() // double close is safe
	if got := b.SubscriberCount(EntityAuction, id); got != 0 {
		t.Fatalf("after close: got %d, want 0", got)
	}
}

func TestEventKind_WireNames(t *testing.T) {
	cases := map[EventKind]string{
		EventKindBidPlaced:           "bid_placed",
		EventKindAuctionRestarted:    "auction_restarted",
		EventKindNegotiationCreated:  "negotiation_created",
		EventKindCartItemUnavailable: "cart_item_unavailable",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d: got %q, want %q", kind, got, want)
		}
	}
}
