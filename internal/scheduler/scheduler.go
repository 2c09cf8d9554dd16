// Package scheduler drives time-based lifecycle transitions: starting and
// ending due auctions, expiring negotiations past their deadline, and
// sweeping cart items whose product became unavailable. Every action is
// idempotent, so overlapping or repeated sweeps converge instead of
// double-firing.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"MarketCore/internal/auction"
	"MarketCore/internal/cart"
	"MarketCore/internal/domain"
	"MarketCore/internal/negotiation"
	"MarketCore/internal/observability"
	"MarketCore/internal/store"
)

// Scheduler sweeps due lifecycle work. It holds no state of its own; each
// action re-reads and re-validates inside the engines' transactions, so a
// tick that races a direct call simply finds the work already done.
type Scheduler struct {
	store        store.Store
	auctions     *auction.Ledger
	negotiations *negotiation.Engine
	cart         *cart.Manager
	clock        domain.Clock
	log          zerolog.Logger
	metrics      *observability.Metrics

	running atomic.Bool
}

func New(
	st store.Store,
	auctions *auction.Ledger,
	negotiations *negotiation.Engine,
	cartMgr *cart.Manager,
	clock domain.Clock,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Scheduler {
	return &Scheduler{
		store:        st,
		auctions:     auctions,
		negotiations: negotiations,
		cart:         cartMgr,
		clock:        clock,
		log:          log,
		metrics:      metrics,
	}
}

// Tick runs one sweep. A tick arriving while the previous one is still
// running is skipped rather than stacked. Per-entity failures are logged
// and counted; they never abort the rest of the sweep.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		if s.metrics != nil {
			s.metrics.SweepSkipped.Inc()
		}
		return nil
	}
	defer s.running.Store(false)

	started := time.Now()
	now := s.clock.Now()

	s.startDueAuctions(ctx, now)
	s.endDueAuctions(ctx, now)
	s.expireNegotiations(ctx, now)
	s.sweepUnavailableCartItems(ctx)

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}
	return ctx.Err()
}

// Run ticks at the given interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("scheduler running")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

func (s *Scheduler) startDueAuctions(ctx context.Context, now time.Time) {
	due, err := s.listDueAuctions(ctx, now, true)
	if err != nil {
		s.sweepError("start_auction", err)
		return
	}
	for _, a := range due {
		if _, err := s.auctions.StartAuction(ctx, a.ID); err != nil {
			s.sweepError("start_auction", err)
			continue
		}
		s.sweepAction("start_auction")
	}
}

func (s *Scheduler) endDueAuctions(ctx context.Context, now time.Time) {
	due, err := s.listDueAuctions(ctx, now, false)
	if err != nil {
		s.sweepError("end_auction", err)
		return
	}
	for _, a := range due {
		if _, err := s.auctions.EndAuction(ctx, a.ID); err != nil {
			s.sweepError("end_auction", err)
			continue
		}
		s.sweepAction("end_auction")
	}
}

func (s *Scheduler) expireNegotiations(ctx context.Context, now time.Time) {
	var due []*domain.Negotiation
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.Negotiations().ListExpired(ctx, now)
		return err
	})
	if err != nil {
		s.sweepError("expire_negotiation", err)
		return
	}
	for _, n := range due {
		expired, err := s.negotiations.Expire(ctx, n.ID)
		if err != nil {
			s.sweepError("expire_negotiation", err)
			continue
		}
		if expired {
			s.sweepAction("expire_negotiation")
		}
	}
}

func (s *Scheduler) sweepUnavailableCartItems(ctx context.Context) {
	// Candidate scan is read-only; the removal transaction re-validates
	// each item so a product recovering between the two is left alone.
	var candidates []*domain.CartItem
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		items, err := tx.CartItems().ListAll(ctx)
		if err != nil {
			return err
		}
		candidates = candidates[:0]
		for _, item := range items {
			// Committed items record a settled win or agreement; the
			// product going off the market is their expected end state.
			if item.Source != domain.CartSourceDirect {
				continue
			}
			product, err := tx.Products().Get(ctx, item.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				candidates = append(candidates, item)
				continue
			}
			if err != nil {
				return err
			}
			if !product.IsAvailable() || product.Quantity < item.Quantity {
				candidates = append(candidates, item)
			}
		}
		return nil
	})
	if err != nil {
		s.sweepError("remove_cart_item", err)
		return
	}

	for _, item := range candidates {
		removed, err := s.cart.RemoveIfUnavailable(ctx, item.ID)
		if err != nil {
			s.sweepError("remove_cart_item", err)
			continue
		}
		if removed {
			s.sweepAction("remove_cart_item")
		}
	}
}

func (s *Scheduler) listDueAuctions(ctx context.Context, now time.Time, start bool) ([]*domain.Auction, error) {
	var due []*domain.Auction
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if start {
			due, err = tx.Auctions().ListStartDue(ctx, now)
		} else {
			due, err = tx.Auctions().ListEndDue(ctx, now)
		}
		return err
	})
	return due, err
}

func (s *Scheduler) sweepAction(action string) {
	if s.metrics != nil {
		s.metrics.SweepActions.WithLabelValues(action).Inc()
	}
}

func (s *Scheduler) sweepError(action string, err error) {
	if s.metrics != nil {
		s.metrics.SweepErrors.WithLabelValues(action).Inc()
	}
	s.log.Error().Err(err).Str("action", action).Msg("sweep action failed")
}
