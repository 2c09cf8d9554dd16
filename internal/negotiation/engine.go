// Package negotiation implements the bilateral offer workflow: one buyer
// offer, at most one seller counter, then a terminal accept, decline,
// cancel, or expiry. Acceptance commits the agreed price into the buyer's
// cart atomically with the negotiation's own transition.
package negotiation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarketCore/internal/broadcast"
	"MarketCore/internal/cart"
	"MarketCore/internal/domain"
	"MarketCore/internal/observability"
	"MarketCore/internal/store"
)

// Config carries the workflow policy knobs.
type Config struct {
	// OfferBoundMultiple caps offers and counters at this multiple of the
	// product's base price. Guards against fat-finger amounts.
	OfferBoundMultiple int64

	// MaxRetries bounds transparent retries on write conflicts.
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		OfferBoundMultiple: 3,
		MaxRetries:         3,
	}
}

// Engine owns negotiations. Every transition is validated against the
// status machine and written under a version check, so two parties acting
// at once serialize and the loser sees the committed outcome.
type Engine struct {
	store   store.Store
	cart    *cart.Manager
	events  broadcast.Publisher
	clock   domain.Clock
	cfg     Config
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewEngine(
	st store.Store,
	cartMgr *cart.Manager,
	events broadcast.Publisher,
	clock domain.Clock,
	cfg Config,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Engine {
	if cfg.OfferBoundMultiple <= 0 {
		cfg.OfferBoundMultiple = DefaultConfig().OfferBoundMultiple
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Engine{
		store:   st,
		cart:    cartMgr,
		events:  events,
		clock:   clock,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
}

// CreateNegotiationInput is the buyer's opening offer.
type CreateNegotiationInput struct {
	ProductID   uuid.UUID
	BuyerID     uuid.UUID
	Quantity    int64
	OfferAmount int64
	ExpiresAt   *time.Time // Nil disables automatic expiry
}

// CreateNegotiation opens a negotiation with the buyer's offer. At most one
// open negotiation may exist per (product, buyer); a second attempt is
// turned away while the first is live.
func (e *Engine) CreateNegotiation(ctx context.Context, in CreateNegotiationInput) (*domain.Negotiation, error) {
	if in.OfferAmount <= 0 {
		return nil, e.reject(domain.NewValidation(domain.ReasonInvalidAmount, "offer amount must be positive"))
	}
	if in.Quantity <= 0 {
		return nil, e.reject(domain.NewValidation(domain.ReasonInvalidAmount, "quantity must be positive"))
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(e.clock.Now()) {
		return nil, e.reject(domain.NewValidation(domain.ReasonInvalidTimeWindow, "expiry must be in the future"))
	}

	var neg *domain.Negotiation
	err := store.WithRetry(ctx, e.store, e.cfg.MaxRetries, e.metrics, func(tx store.Tx) error {
		product, err := tx.Products().Get(ctx, in.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("product", in.ProductID)
		}
		if err != nil {
			return err
		}

		if product.Status != domain.ProductStatusActive {
			return domain.NewStateConflict(domain.ReasonProductUnavailable,
				"product is %s", product.Status)
		}
		if product.SellerID == in.BuyerID {
			return domain.NewAuthorization(domain.ReasonSellerCannotBuy,
				"sellers cannot negotiate on their own product")
		}
		if in.Quantity < product.MinOrderQuantity {
			return domain.NewValidation(domain.ReasonBelowMinOrder,
				"minimum order quantity is %d", product.MinOrderQuantity)
		}
		if in.Quantity > product.Quantity {
			return domain.NewValidation(domain.ReasonExceedsAvailability,
				"only %d %s available", product.Quantity, product.Unit)
		}
		if bound := product.BasePrice * e.cfg.OfferBoundMultiple; in.OfferAmount > bound {
			return domain.NewValidation(domain.ReasonOfferOutOfBounds,
				"offer exceeds %dx the listed price", e.cfg.OfferBoundMultiple)
		}

		// Look the pair up before inserting; the unique index still
		// backstops a race between two creates.
		if _, err := tx.Negotiations().OpenByProductBuyer(ctx, in.ProductID, in.BuyerID); err == nil {
			return domain.NewStateConflict(domain.ReasonNegotiationOpen,
				"an open negotiation already exists for this product")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := e.clock.Now()
		neg = &domain.Negotiation{
			ID:          uuid.New(),
			ProductID:   in.ProductID,
			BuyerID:     in.BuyerID,
			SellerID:    product.SellerID,
			Quantity:    in.Quantity,
			OfferAmount: in.OfferAmount,
			Status:      domain.NegotiationStatusPending,
			ExpiresAt:   in.ExpiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Negotiations().Create(ctx, neg); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.NewStateConflict(domain.ReasonNegotiationOpen,
					"an open negotiation already exists for this product")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, e.reject(err)
	}

	e.publishTransition(neg, broadcast.EventKindNegotiationCreated)
	return neg, nil
}

// GetNegotiation returns the negotiation by ID.
func (e *Engine) GetNegotiation(ctx context.Context, negotiationID uuid.UUID) (*domain.Negotiation, error) {
	var neg *domain.Negotiation
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		neg, err = tx.Negotiations().Get(ctx, negotiationID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("negotiation", negotiationID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return neg, nil
}

// SendCounterOffer records the seller's one permitted counter. A second
// counter, or a counter on a closed negotiation, is a state conflict.
func (e *Engine) SendCounterOffer(ctx context.Context, negotiationID, sellerID uuid.UUID, amount int64) (*domain.Negotiation, error) {
	if amount <= 0 {
		return nil, e.reject(domain.NewValidation(domain.ReasonInvalidAmount, "counter amount must be positive"))
	}

	var neg *domain.Negotiation
	err := store.WithRetry(ctx, e.store, e.cfg.MaxRetries, e.metrics, func(tx store.Tx) error {
		n, err := e.getLive(ctx, tx, negotiationID)
		if err != nil {
			return err
		}
		if n.SellerID != sellerID {
			return domain.NewAuthorization(domain.ReasonNotOwner,
				"only the seller can counter")
		}
		if n.Status == domain.NegotiationStatusCountered {
			return domain.NewStateConflict(domain.ReasonAlreadyCountered,
				"negotiation was already countered")
		}
		if !n.Status.CanTransitionTo(domain.NegotiationStatusCountered) {
			return domain.NewStateConflict(domain.ReasonNotCounterable,
				"cannot counter a %s negotiation", n.Status)
		}

		product, err := tx.Products().Get(ctx, n.ProductID)
		if err != nil {
			return err
		}
		if bound := product.BasePrice * e.cfg.OfferBoundMultiple; amount > bound {
			return domain.NewValidation(domain.ReasonOfferOutOfBounds,
				"counter exceeds %dx the listed price", e.cfg.OfferBoundMultiple)
		}

		n.CounterAmount = &amount
		n.Status = domain.NegotiationStatusCountered
		n.UpdatedAt = e.clock.Now()
		if err := tx.Negotiations().Update(ctx, n); err != nil {
			return err
		}
		neg = n
		return nil
	})
	if err != nil {
		return nil, e.reject(err)
	}

	e.publishTransition(neg, broadcast.EventKindNegotiationCountered)
	return neg, nil
}

// AcceptCounterOffer is the buyer accepting the seller's counter. The
// acceptance and its commitment, a cart item locked at the counter price,
// commit in one transaction. Re-accepting an accepted negotiation is a
// no-op, so a retried accept cannot double-commit.
func (e *Engine) AcceptCounterOffer(ctx context.Context, negotiationID, buyerID uuid.UUID) (*domain.Negotiation, error) {
	var (
		neg      *domain.Negotiation
		accepted bool
	)
	err := store.WithRetry(ctx, e.store, e.cfg.MaxRetries, e.metrics, func(tx store.Tx) error {
		accepted = false
		n, err := e.getLive(ctx, tx, negotiationID)
		if err != nil {
			return err
		}
		if n.BuyerID != buyerID {
			return domain.NewAuthorization(domain.ReasonNotOwner,
				"only the buyer can accept")
		}
		if n.Status == domain.NegotiationStatusAccepted {
			neg = n
			return e.commitAgreement(ctx, tx, n)
		}
		if !n.Status.CanTransitionTo(domain.NegotiationStatusAccepted) {
			return domain.NewStateConflict(domain.ReasonNotAcceptable,
				"cannot accept a %s negotiation", n.Status)
		}

		n.Status = domain.NegotiationStatusAccepted
		n.UpdatedAt = e.clock.Now()
		if err := e.commitAgreement(ctx, tx, n); err != nil {
			return err
		}
		if err := tx.Negotiations().Update(ctx, n); err != nil {
			return err
		}
		neg = n
		accepted = true
		return nil
	})
	if err != nil {
		return nil, e.reject(err)
	}

	if accepted {
		e.publishTransition(neg, broadcast.EventKindNegotiationAccepted)
	}
	return neg, nil
}

// commitAgreement materializes the accepted price as a price-locked cart
// item for the buyer, inside tx. Safe to re-run.
func (e *Engine) commitAgreement(ctx context.Context, tx store.Tx, n *domain.Negotiation) error {
	_, err := e.cart.CommitLocked(ctx, tx,
		n.BuyerID, n.ProductID,
		n.Quantity, n.AgreedPrice(),
		domain.CartSourceNegotiation, n.ID,
	)
	return err
}

// DeclineCounterOffer is the buyer declining the seller's counter.
func (e *Engine) DeclineCounterOffer(ctx context.Context, negotiationID, buyerID uuid.UUID) (*domain.Negotiation, error) {
	return e.close(ctx, negotiationID, buyerID, domain.NegotiationStatusDeclined,
		broadcast.EventKindNegotiationDeclined)
}

// CancelNegotiation withdraws an open negotiation. Either party may cancel.
func (e *Engine) CancelNegotiation(ctx context.Context, negotiationID, actorID uuid.UUID) (*domain.Negotiation, error) {
	return e.close(ctx, negotiationID, actorID, domain.NegotiationStatusCancelled,
		broadcast.EventKindNegotiationCancelled)
}

// Expire closes an open negotiation whose deadline passed. Called by the
// lifecycle sweep; expiring an already terminal negotiation is a no-op.
func (e *Engine) Expire(ctx context.Context, negotiationID uuid.UUID) (bool, error) {
	var (
		neg     *domain.Negotiation
		expired bool
	)
	err := store.WithRetry(ctx, e.store, e.cfg.MaxRetries, e.metrics, func(tx store.Tx) error {
		expired = false
		n, err := tx.Negotiations().Get(ctx, negotiationID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if n.Status.IsTerminal() {
			return nil
		}
		if n.ExpiresAt == nil || e.clock.Now().Before(*n.ExpiresAt) {
			return nil
		}

		n.Status = domain.NegotiationStatusExpired
		n.UpdatedAt = e.clock.Now()
		if err := tx.Negotiations().Update(ctx, n); err != nil {
			return err
		}
		neg = n
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	e.publishTransition(neg, broadcast.EventKindNegotiationExpired)
	return true, nil
}

// close applies a buyer/party-initiated terminal transition.
func (e *Engine) close(
	ctx context.Context,
	negotiationID, actorID uuid.UUID,
	target domain.NegotiationStatus,
	kind broadcast.EventKind,
) (*domain.Negotiation, error) {
	var neg *domain.Negotiation
	err := store.WithRetry(ctx, e.store, e.cfg.MaxRetries, e.metrics, func(tx store.Tx) error {
		n, err := e.getLive(ctx, tx, negotiationID)
		if err != nil {
			return err
		}

		switch target {
		case domain.NegotiationStatusDeclined:
			if n.BuyerID != actorID {
				return domain.NewAuthorization(domain.ReasonNotOwner,
					"only the buyer can decline")
			}
		case domain.NegotiationStatusCancelled:
			if n.BuyerID != actorID && n.SellerID != actorID {
				return domain.NewAuthorization(domain.ReasonNotOwner,
					"only a negotiation party can cancel")
			}
		}

		if !n.Status.CanTransitionTo(target) {
			return domain.NewStateConflict(domain.ReasonNegotiationClosed,
				"cannot move a %s negotiation to %s", n.Status, target)
		}

		n.Status = target
		n.UpdatedAt = e.clock.Now()
		if err := tx.Negotiations().Update(ctx, n); err != nil {
			return err
		}
		neg = n
		return nil
	})
	if err != nil {
		return nil, e.reject(err)
	}

	e.publishTransition(neg, kind)
	return neg, nil
}

func (e *Engine) getLive(ctx context.Context, tx store.Tx, negotiationID uuid.UUID) (*domain.Negotiation, error) {
	n, err := tx.Negotiations().Get(ctx, negotiationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NewNotFound("negotiation", negotiationID)
	}
	return n, err
}

func (e *Engine) publishTransition(n *domain.Negotiation, kind broadcast.EventKind) {
	e.events.Publish(broadcast.EntityNegotiation, n.ID, kind, n)
	if e.metrics != nil {
		e.metrics.NegotiationTransitions.WithLabelValues(n.Status.String()).Inc()
	}
	e.log.Info().
		Str("negotiation_id", n.ID.String()).
		Str("status", n.Status.String()).
		Msg("negotiation transition")
}

func (e *Engine) reject(err error) error {
	if e.metrics != nil {
		if reason := domain.ReasonOf(err); reason != "" {
			e.metrics.NegotiationsRejected.WithLabelValues(reason).Inc()
		}
	}
	return err
}
