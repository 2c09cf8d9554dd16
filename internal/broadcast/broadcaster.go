// Package broadcast fans committed state changes out to per-entity
// subscriber groups. Engines call through the narrow Publisher contract and
// never see the transport; in-process subscriptions, the NATS bridge, and
// the websocket hub all hang off the Broadcaster as sinks.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarketCore/internal/domain"
	"MarketCore/internal/observability"
)

// Publisher is the only surface engines see. Publish must never block the
// caller's write path and is invoked strictly after commit.
type Publisher interface {
	Publish(entity EntityType, entityID uuid.UUID, kind EventKind, payload any)
}

// NopPublisher discards events. Used by tests that don't assert on fan-out.
type NopPublisher struct{}

func (NopPublisher) Publish(EntityType, uuid.UUID, EventKind, any) {}

// Sink receives every published envelope. Deliver must not block; slow
// sinks buffer or drop internally.
type Sink interface {
	Deliver(env Envelope)
}

type groupKey struct {
	entity EntityType
	id     uuid.UUID
}

// Subscription is one in-process listener on an entity's event stream.
type Subscription struct {
	C      <-chan Envelope
	ch     chan Envelope
	cancel func()
	once   sync.Once
}

// Close detaches the subscription from its group.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Broadcaster implements Publisher with per-entity subscriber groups.
type Broadcaster struct {
	clock   domain.Clock
	log     zerolog.Logger
	metrics *observability.Metrics

	sequence atomic.Int64

	mu     sync.RWMutex
	groups map[groupKey]map[*Subscription]struct{}
	sinks  []Sink
}

func New(clock domain.Clock, log zerolog.Logger, metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		clock:   clock,
		log:     log,
		metrics: metrics,
		groups:  make(map[groupKey]map[*Subscription]struct{}),
	}
}

// AttachSink registers a transport sink (NATS bridge, websocket hub).
// Sinks must be attached before the first Publish.
func (b *Broadcaster) AttachSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe registers an in-process listener for one entity's events.
// The channel is buffered; a subscriber that falls behind loses events
// rather than stalling the publishers.
func (b *Broadcaster) Subscribe(entity EntityType, entityID uuid.UUID, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Envelope, buffer)
	sub := &Subscription{C: ch, ch: ch}
	key := groupKey{entity: entity, id: entityID}

	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if group, ok := b.groups[key]; ok {
			delete(group, sub)
			if len(group) == 0 {
				delete(b.groups, key)
			}
		}
		if b.metrics != nil {
			b.metrics.Subscribers.Dec()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	group, ok := b.groups[key]
	if !ok {
		group = make(map[*Subscription]struct{})
		b.groups[key] = group
	}
	group[sub] = struct{}{}
	if b.metrics != nil {
		b.metrics.Subscribers.Inc()
	}
	return sub
}

// Publish stamps the envelope and fans it out. Subscriber sends are
// non-blocking with drop-on-full; sinks handle their own buffering.
func (b *Broadcaster) Publish(entity EntityType, entityID uuid.UUID, kind EventKind, payload any) {
	env := Envelope{
		Sequence:   b.sequence.Add(1),
		EntityType: entity,
		EntityID:   entityID,
		Kind:       kind,
		Timestamp:  b.clock.Now(),
		Payload:    payload,
	}

	b.mu.RLock()
	group := b.groups[groupKey{entity: entity, id: entityID}]
	subs := make([]*Subscription, 0, len(group))
	for sub := range group {
		subs = append(subs, sub)
	}
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- env:
		default:
			// Subscriber fell behind — drop rather than block the write path.
			if b.metrics != nil {
				b.metrics.EventsDropped.WithLabelValues("subscriber").Inc()
			}
		}
	}

	for _, sink := range sinks {
		sink.Deliver(env)
	}

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(entity.String(), kind.String()).Inc()
	}
	b.log.Debug().
		Int64("sequence", env.Sequence).
		Str("entity", entity.String()).
		Str("entity_id", entityID.String()).
		Str("kind", kind.String()).
		Msg("event published")
}

// SubscriberCount returns the number of listeners on one entity's group.
func (b *Broadcaster) SubscriberCount(entity EntityType, entityID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[groupKey{entity: entity, id: entityID}])
}
