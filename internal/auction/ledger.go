// Package auction implements the auction ledger: bid admission, lifecycle
// transitions, and the atomic commitment of a win into the winner's cart.
package auction

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

// Config carries the ledger policy knobs.
type Config struct {
	// MaxRetries bounds transparent retries on write conflicts. Contended
	// bid admission is the main consumer.
	MaxRetries int

	// MinDuration rejects auction windows shorter than this.
	MinDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:  5,
		MinDuration: time.Minute,
	}
}

// Ledger owns auctions and their bids. All writes go through version-checked
// transactions; two bids racing for the same auction serialize, and the
// loser re-validates against the committed leader before being admitted or
// turned away.
type Ledger struct {
	store   store.Store
	cart    *cart.Manager
	events  broadcast.Publisher
	cache   BidCache
	clock   domain.Clock
	cfg     Config
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewLedger(
	st store.Store,
	cartMgr *cart.Manager,
	events broadcast.Publisher,
	cache BidCache,
	clock domain.Clock,
	cfg Config,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Ledger {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultConfig().MinDuration
	}
	if cache == nil {
		cache = NewMemCache()
	}
	return &Ledger{
		store:   st,
		cart:    cartMgr,
		events:  events,
		cache:   cache,
		clock:   clock,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
}

// CreateAuctionInput is everything a seller supplies to open an auction.
type CreateAuctionInput struct {
	ProductID     uuid.UUID
	SellerID      uuid.UUID
	Type          domain.AuctionType
	StartingPrice int64
	ReservePrice  *int64
	BidIncrement  int64
	StartTime     time.Time
	EndTime       time.Time
}

// CreateAuction schedules a new auction over an active product. Only
// ascending auctions are admitted; the descending and sealed mechanisms
// are declared but not priced or settled here.
func (l *Ledger) CreateAuction(ctx context.Context, in CreateAuctionInput) (*domain.Auction, error) {
	if in.Type != domain.AuctionTypeAscending {
		return nil, domain.NewValidation(domain.ReasonTypeNotSupported,
			"%s auctions are not supported", in.Type)
	}
	if in.StartingPrice <= 0 {
		return nil, domain.NewValidation(domain.ReasonInvalidAmount, "starting price must be positive")
	}
	if in.BidIncrement <= 0 {
		return nil, domain.NewValidation(domain.ReasonInvalidAmount, "bid increment must be positive")
	}
	if in.ReservePrice != nil && *in.ReservePrice < in.StartingPrice {
		return nil, domain.NewValidation(domain.ReasonInvalidAmount,
			"reserve price cannot be below the starting price")
	}
	if !in.EndTime.After(in.StartTime) || in.EndTime.Sub(in.StartTime) < l.cfg.MinDuration {
		return nil, domain.NewValidation(domain.ReasonInvalidTimeWindow,
			"auction must run at least %s", l.cfg.MinDuration)
	}

	var auction *domain.Auction
	err := store.WithRetry(ctx, l.store, l.cfg.MaxRetries, l.metrics, func(tx store.Tx) error {
		product, err := tx.Products().Get(ctx, in.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("product", in.ProductID)
		}
		if err != nil {
			return err
		}
		if product.SellerID != in.SellerID {
			return domain.NewAuthorization(domain.ReasonNotOwner,
				"product belongs to another seller")
		}
		if product.Status != domain.ProductStatusActive {
			return domain.NewStateConflict(domain.ReasonProductUnavailable,
				"product is %s", product.Status)
		}

		auction = &domain.Auction{
			ID:            uuid.New(),
			ProductID:     in.ProductID,
			SellerID:      in.SellerID,
			Type:          in.Type,
			StartingPrice: in.StartingPrice,
			ReservePrice:  in.ReservePrice,
			BidIncrement:  in.BidIncrement,
			StartTime:     in.StartTime,
			EndTime:       in.EndTime,
			Status:        domain.AuctionStatusScheduled,
			Round:         1,
		}
		return tx.Auctions().Create(ctx, auction)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Str("auction_id", auction.ID.String()).
		Str("product_id", auction.ProductID.String()).
		Int64("starting_price", auction.StartingPrice).
		Msg("auction created")
	return auction, nil
}

// GetAuction returns the auction by ID.
func (l *Ledger) GetAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	var auction *domain.Auction
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		auction, err = tx.Auctions().Get(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("auction", auctionID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return auction, nil
}

// ListBids returns the current round's bids in leader order.
func (l *Ledger) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*domain.Bid, error) {
	var bids []*domain.Bid
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		auction, err := tx.Auctions().Get(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("auction", auctionID)
		}
		if err != nil {
			return err
		}
		bids, err = tx.Bids().ListByAuction(ctx, auctionID, auction.Round)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bids, nil
}

// PlaceBid admits a bid against an active auction. The whole admission is
// one transaction: precondition checks, the leader handoff, and the
// auction's running state move together or not at all.
func (l *Ledger) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount, quantity int64) (*domain.Bid, error) {
	if amount <= 0 {
		return nil, l.rejectBid(domain.NewValidation(domain.ReasonInvalidAmount, "bid amount must be positive"))
	}
	if quantity <= 0 {
		return nil, l.rejectBid(domain.NewValidation(domain.ReasonInvalidAmount, "bid quantity must be positive"))
	}

	// Cache pre-filter. A hit below the cached floor still gets confirmed
	// against the store, so a stale floor never rejects a valid bid.
	if floor, ok := l.cache.MinimumNext(ctx, auctionID); ok && amount < floor {
		confirmed, err := l.confirmTooLow(ctx, auctionID, amount)
		if err == nil && confirmed {
			if l.metrics != nil {
				l.metrics.BidCacheHits.WithLabelValues("reject_confirmed").Inc()
			}
			return nil, l.rejectBid(domain.NewValidation(domain.ReasonBidTooLow,
				"bid %d is below the minimum next bid", amount))
		}
		if l.metrics != nil {
			l.metrics.BidCacheHits.WithLabelValues("stale").Inc()
		}
	}

	var (
		bid     *domain.Bid
		auction *domain.Auction
	)
	err := store.WithRetry(ctx, l.store, l.cfg.MaxRetries, l.metrics, func(tx store.Tx) error {
		bid, auction = nil, nil

		a, err := tx.Auctions().Get(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("auction", auctionID)
		}
		if err != nil {
			return err
		}

		now := l.clock.Now()
		if a.Status != domain.AuctionStatusActive || now.After(a.EndTime) {
			return domain.NewStateConflict(domain.ReasonAuctionNotActive,
				"auction is not accepting bids (status %s)", a.Status)
		}
		if a.SellerID == bidderID {
			return domain.NewAuthorization(domain.ReasonSellerCannotBuy,
				"sellers cannot bid on their own auction")
		}
		if min := a.MinimumNextBid(); amount < min {
			return domain.NewValidation(domain.ReasonBidTooLow,
				"bid %d is below the minimum next bid %d", amount, min)
		}

		product, err := tx.Products().Get(ctx, a.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("product", a.ProductID)
		}
		if err != nil {
			return err
		}
		if quantity < product.MinOrderQuantity {
			return domain.NewValidation(domain.ReasonBelowMinOrder,
				"minimum order quantity is %d", product.MinOrderQuantity)
		}
		if quantity > product.Quantity {
			return domain.NewValidation(domain.ReasonExceedsAvailability,
				"only %d %s available", product.Quantity, product.Unit)
		}

		// Leader handoff: the previous winning bid becomes outbid in the
		// same transaction that admits its successor.
		prev, err := tx.Bids().Leading(ctx, auctionID, a.Round)
		switch {
		case err == nil:
			prev.Status = domain.BidStatusOutbid
			if err := tx.Bids().Update(ctx, prev); err != nil {
				return err
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		bid = &domain.Bid{
			ID:        uuid.New(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			Quantity:  quantity,
			Round:     a.Round,
			PlacedAt:  now,
			Status:    domain.BidStatusWinning,
		}
		if err := tx.Bids().Create(ctx, bid); err != nil {
			return err
		}

		a.CurrentBid = &amount
		a.BidCount++
		if err := tx.Auctions().Update(ctx, a); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		return nil, l.rejectBid(err)
	}

	l.cache.Record(ctx, auctionID, auction.MinimumNextBid())
	l.events.Publish(broadcast.EntityAuction, auctionID, broadcast.EventKindBidPlaced, bid)
	if l.metrics != nil {
		l.metrics.BidsAccepted.WithLabelValues(auction.Type.String()).Inc()
	}
	l.log.Info().
		Str("auction_id", auctionID.String()).
		Str("bid_id", bid.ID.String()).
		Int64("amount", amount).
		Int64("bid_count", auction.BidCount).
		Msg("bid accepted")
	return bid, nil
}

// confirmTooLow re-checks a cache rejection against the authoritative store.
func (l *Ledger) confirmTooLow(ctx context.Context, auctionID uuid.UUID, amount int64) (bool, error) {
	tooLow := false
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.Auctions().Get(ctx, auctionID)
		if err != nil {
			return err
		}
		tooLow = a.Status == domain.AuctionStatusActive && amount < a.MinimumNextBid()
		return nil
	})
	return tooLow, err
}

// StartAuction moves a scheduled auction to active once its start time
// has passed. On an auction that is already active, ended, or cancelled
// it is a no-op, so the sweep and a direct call cannot race into an
// error. A scheduled auction whose window has not opened yet is refused.
func (l *Ledger) StartAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	var (
		auction *domain.Auction
		started bool
	)
	err := store.WithRetry(ctx, l.store, l.cfg.MaxRetries, l.metrics, func(tx store.Tx) error {
		started = false
		a, err := tx.Auctions().Get(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("auction", auctionID)
		}
		if err != nil {
			return err
		}
		auction = a

		if a.Status != domain.AuctionStatusScheduled {
			return nil
		}
		if l.clock.Now().Before(a.StartTime) {
			return domain.NewStateConflict(domain.ReasonWindowNotReached,
				"auction opens at %s", a.StartTime.Format(time.RFC3339))
		}

		a.Status = domain.AuctionStatusActive
		if err := tx.Auctions().Update(ctx, a); err != nil {
			return err
		}
		started = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if started {
		l.events.Publish(broadcast.EntityAuction, auctionID, broadcast.EventKindAuctionStarted, auction)
		if l.metrics != nil {
			l.metrics.AuctionsStarted.Inc()
		}
		l.log.Info().Str("auction_id", auctionID.String()).Msg("auction started")
	}
	return auction, nil
}

// EndAuction closes an active auction whose end time has passed and, when
// the leading bid meets the
// reserve, commits the win: winner recorded, a price-locked cart item
// created, and the product marked sold, all in one transaction. Calling it
// again on an ended auction re-runs the commitment idempotently, which is
// how a half-finished close after a crash gets completed.
func (l *Ledger) EndAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	var (
		auction *domain.Auction
		closed  bool
		winner  bool
	)
	err := store.WithRetry(ctx, l.store, l.cfg.MaxRetries, l.metrics, func(tx store.Tx) error {
		closed, winner = false, false
		a, err := tx.Auctions().Get(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("auction", auctionID)
		}
		if err != nil {
			return err
		}
		auction = a

		if a.Status == domain.AuctionStatusEnded {
			// Re-run of a finished close: make sure the commitment is
			// materialized, then report success.
			return l.settleWin(ctx, tx, a)
		}
		if a.Status != domain.AuctionStatusActive {
			return domain.NewStateConflict(domain.ReasonAuctionNotActive,
				"cannot end auction in status %s", a.Status)
		}
		if l.clock.Now().Before(a.EndTime) {
			return domain.NewStateConflict(domain.ReasonWindowNotReached,
				"auction runs until %s", a.EndTime.Format(time.RFC3339))
		}

		a.Status = domain.AuctionStatusEnded
		closed = true

		leading, err := tx.Bids().Leading(ctx, auctionID, a.Round)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil && a.ReserveMet() {
			a.WinnerID = &leading.BidderID
			a.WinningBidID = &leading.ID
			winner = true
			if err := l.settleWin(ctx, tx, a); err != nil {
				return err
			}
		}

		return tx.Auctions().Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	l.cache.Reset(ctx, auctionID)
	if closed {
		l.events.Publish(broadcast.EntityAuction, auctionID, broadcast.EventKindAuctionEnded, auction)
		outcome := "no_winner"
		if winner {
			outcome = "winner"
		}
		if l.metrics != nil {
			l.metrics.AuctionsEnded.WithLabelValues(outcome).Inc()
		}
		l.log.Info().
			Str("auction_id", auctionID.String()).
			Str("outcome", outcome).
			Int64("bid_count", auction.BidCount).
			Msg("auction ended")
	}
	return auction, nil
}

// settleWin materializes a won auction's commitment inside tx: the winner's
// price-locked cart item and the product's Sold status. Safe to re-run.
func (l *Ledger) settleWin(ctx context.Context, tx store.Tx, a *domain.Auction) error {
	if a.WinnerID == nil || a.WinningBidID == nil {
		return nil
	}

	winningBid, err := tx.Bids().Get(ctx, *a.WinningBidID)
	if err != nil {
		return err
	}

	if _, err := l.cart.CommitLocked(ctx, tx,
		*a.WinnerID, a.ProductID,
		winningBid.Quantity, winningBid.Amount,
		domain.CartSourceAuction, winningBid.ID,
	); err != nil {
		return err
	}

	product, err := tx.Products().Get(ctx, a.ProductID)
	if err != nil {
		return err
	}
	if product.Status != domain.ProductStatusSold {
		product.Status = domain.ProductStatusSold
		if err := tx.Products().Update(ctx, product); err != nil {
			return err
		}
	}
	return nil
}

// RestartAuction reschedules an ended auction that produced no winner. The
// round counter advances so the previous round's bids stay on record but
// no longer compete.
func (l *Ledger) RestartAuction(ctx context.Context, auctionID uuid.UUID, startTime, endTime time.Time) (*domain.Auction, error) {
	if !endTime.After(startTime) || endTime.Sub(startTime) < l.cfg.MinDuration {
		return nil, domain.NewValidation(domain.ReasonInvalidTimeWindow,
			"auction must run at least %s", l.cfg.MinDuration)
	}

	var auction *domain.Auction
	err := store.WithRetry(ctx, l.store, l.cfg.MaxRetries, l.metrics, func(tx store.Tx) error {
		a, err := tx.Auctions().Get(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("auction", auctionID)
		}
		if err != nil {
			return err
		}

		if a.Status != domain.AuctionStatusEnded {
			return domain.NewStateConflict(domain.ReasonAuctionNotEnded,
				"cannot restart auction in status %s", a.Status)
		}
		if a.WinnerID != nil {
			return domain.NewStateConflict(domain.ReasonAuctionHasWinner,
				"auction already produced a winner")
		}

		product, err := tx.Products().Get(ctx, a.ProductID)
		if err != nil {
			return err
		}
		if !product.IsAvailable() {
			return domain.NewStateConflict(domain.ReasonProductUnavailable,
				"product is %s", product.Status)
		}

		a.Status = domain.AuctionStatusScheduled
		a.Round++
		a.CurrentBid = nil
		a.BidCount = 0
		a.WinningBidID = nil
		a.StartTime = startTime
		a.EndTime = endTime
		if err := tx.Auctions().Update(ctx, a); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.cache.Reset(ctx, auctionID)
	l.events.Publish(broadcast.EntityAuction, auctionID, broadcast.EventKindAuctionRestarted, auction)
	if l.metrics != nil {
		l.metrics.AuctionsRestarted.Inc()
	}
	l.log.Info().
		Str("auction_id", auctionID.String()).
		Int64("round", auction.Round).
		Msg("auction restarted")
	return auction, nil
}

func (l *Ledger) rejectBid(err error) error {
	if l.metrics != nil {
		if reason := domain.ReasonOf(err); reason != "" {
			l.metrics.BidsRejected.WithLabelValues(reason).Inc()
		}
	}
	return err
}
