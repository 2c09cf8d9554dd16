package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for MarketCore.
type Metrics struct {
	// --- Auction Ledger ---
	BidsAccepted      *prometheus.CounterVec
	BidsRejected      *prometheus.CounterVec
	BidCacheHits      *prometheus.CounterVec
	AuctionsStarted   prometheus.Counter
	AuctionsEnded     *prometheus.CounterVec
	AuctionsRestarted prometheus.Counter

	// --- Negotiation Engine ---
	NegotiationTransitions *prometheus.CounterVec
	NegotiationsRejected   *prometheus.CounterVec

	// --- Cart Store ---
	CartItemsAdded     *prometheus.CounterVec
	CartItemsRemoved   *prometheus.CounterVec
	CartValidations    *prometheus.CounterVec

	// --- Concurrency ---
	ConflictRetries    prometheus.Counter
	ConflictsSurfaced  prometheus.Counter

	// --- Scheduler ---
	SweepDuration prometheus.Histogram
	SweepActions  *prometheus.CounterVec
	SweepErrors   *prometheus.CounterVec
	SweepSkipped  prometheus.Counter

	// --- Broadcaster ---
	EventsPublished  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	Subscribers      prometheus.Gauge
	WebsocketClients prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		BidsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_bids_accepted_total",
			Help: "Bids admitted to an auction",
		}, []string{"auction_type"}),

		BidsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_bids_rejected_total",
			Help: "Bids rejected, by reason code",
		}, []string{"reason"}),

		BidCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_bid_cache_hits_total",
			Help: "Leading-bid cache pre-filter outcomes",
		}, []string{"outcome"}),

		AuctionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_auctions_started_total",
			Help: "Auctions transitioned Scheduled to Active",
		}),

		AuctionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_auctions_ended_total",
			Help: "Auctions ended, by outcome (winner/no_winner)",
		}, []string{"outcome"}),

		AuctionsRestarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_auctions_restarted_total",
			Help: "No-winner auctions rescheduled",
		}),

		NegotiationTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_negotiation_transitions_total",
			Help: "Negotiation status transitions, by target status",
		}, []string{"to"}),

		NegotiationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_negotiations_rejected_total",
			Help: "Negotiation operations rejected, by reason code",
		}, []string{"reason"}),

		CartItemsAdded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_cart_items_added_total",
			Help: "Cart items created or re-quantified, by source",
		}, []string{"source"}),

		CartItemsRemoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_cart_items_removed_total",
			Help: "Cart items removed, by reason",
		}, []string{"reason"}),

		CartValidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_cart_validations_total",
			Help: "validateCartItem verdicts, by result",
		}, []string{"result"}),

		ConflictRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_conflict_retries_total",
			Help: "Transactions retried after a write conflict",
		}),

		ConflictsSurfaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_conflicts_surfaced_total",
			Help: "Conflicts that exhausted the retry bound",
		}),

		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_sweep_duration_seconds",
			Help:    "Duration of one scheduler sweep",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		SweepActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_sweep_actions_total",
			Help: "Entities transitioned by the sweep, by action",
		}, []string{"action"}),

		SweepErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_sweep_errors_total",
			Help: "Per-entity sweep failures, by action",
		}, []string{"action"}),

		SweepSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "market_sweep_skipped_total",
			Help: "Ticks skipped because the previous sweep was still running",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_events_published_total",
			Help: "Events fanned out post-commit",
		}, []string{"entity", "kind"}),

		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "market_events_dropped_total",
			Help: "Events dropped on a full subscriber or sink channel",
		}, []string{"target"}),

		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_subscribers",
			Help: "Currently registered per-entity subscribers",
		}),

		WebsocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "market_websocket_clients",
			Help: "Connected websocket clients",
		}),
	}
}
