package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"MarketCore/internal/observability"
)

// NATSBridge republishes committed events to NATS JetStream so external
// read models and notification services can consume them. Delivery is
// best-effort relative to the write path: envelopes queue on an internal
// buffer and drop when it is full — consumers needing a complete record
// read the store, not the stream.
// Subjects follow the pattern: market.events.{entity}.{kind}.{entity_id}
type NATSBridge struct {
	js      jetstream.JetStream
	buf     chan Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewNATSBridge(js jetstream.JetStream, buffer int, log zerolog.Logger, metrics *observability.Metrics) *NATSBridge {
	if buffer < 1 {
		buffer = 1024
	}
	return &NATSBridge{
		js:      js,
		buf:     make(chan Envelope, buffer),
		log:     log,
		metrics: metrics,
	}
}

// Deliver implements Sink. Non-blocking: drop on full buffer.
func (nb *NATSBridge) Deliver(env Envelope) {
	select {
	case nb.buf <- env:
	default:
		if nb.metrics != nil {
			nb.metrics.EventsDropped.WithLabelValues("nats").Inc()
		}
	}
}

// Run drains the buffer and publishes to JetStream. Blocks until ctx is
// cancelled.
func (nb *NATSBridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env := <-nb.buf:
			if err := nb.publish(ctx, env); err != nil {
				nb.log.Warn().
					Err(err).
					Int64("sequence", env.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

func (nb *NATSBridge) publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("market.events.%s.%s.%s",
		env.EntityType, env.Kind, env.EntityID)

	_, err = nb.js.Publish(ctx, subject, data)
	return err
}

// ConnectNATS connects to the broker and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}

	return nc, js, nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "MARKET_EVENTS",
		Subjects:  []string{"market.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
