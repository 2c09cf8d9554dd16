// Package cart implements the price-lock cart store. A cart item's
// PriceAtAddition is captured once, at the instant of commitment, and never
// changes afterwards — direct adds lock the product's base price, auction
// wins lock the winning bid, accepted negotiations lock the counter-offer.
package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarketCore/internal/broadcast"
	"MarketCore/internal/domain"
	"MarketCore/internal/observability"
	"MarketCore/internal/store"
)

// Config carries the cart policy knobs.
type Config struct {
	// DriftPercent is the base-price increase (percent of the locked
	// price) beyond which a cart item is reported invalid.
	DriftPercent int64

	// MaxRetries bounds transparent retries on write conflicts.
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		DriftPercent: 25,
		MaxRetries:   3,
	}
}

// Manager is the price-lock cart store.
type Manager struct {
	store   store.Store
	events  broadcast.Publisher
	clock   domain.Clock
	cfg     Config
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewManager(
	st store.Store,
	events broadcast.Publisher,
	clock domain.Clock,
	cfg Config,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Manager {
	if cfg.DriftPercent <= 0 {
		cfg.DriftPercent = DefaultConfig().DriftPercent
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Manager{
		store:   st,
		events:  events,
		clock:   clock,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}
}

// AddToCart adds a product at its current base price, or re-quantifies the
// user's existing item for that product. The locked price of an existing
// item is never touched.
func (m *Manager) AddToCart(ctx context.Context, userID, productID uuid.UUID, quantity int64) (*domain.CartItem, error) {
	if quantity <= 0 {
		return nil, domain.NewValidation(domain.ReasonInvalidAmount, "quantity must be positive")
	}

	var (
		item    *domain.CartItem
		created bool
	)
	err := store.WithRetry(ctx, m.store, m.cfg.MaxRetries, m.metrics, func(tx store.Tx) error {
		product, err := tx.Products().Get(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("product", productID)
		}
		if err != nil {
			return err
		}

		if err := checkPurchasable(product, userID, quantity); err != nil {
			return err
		}

		existing, err := tx.CartItems().ByUserProduct(ctx, userID, productID)
		switch {
		case err == nil:
			// Quantity update only — the locked price never moves.
			existing.Quantity = quantity
			if err := tx.CartItems().Update(ctx, existing); err != nil {
				return err
			}
			item, created = existing, false
			return nil

		case errors.Is(err, store.ErrNotFound):
			item = &domain.CartItem{
				ID:              uuid.New(),
				UserID:          userID,
				ProductID:       productID,
				Quantity:        quantity,
				PriceAtAddition: product.BasePrice,
				Currency:        product.Currency,
				Source:          domain.CartSourceDirect,
				AddedAt:         m.clock.Now(),
			}
			created = true
			return tx.CartItems().Create(ctx, item)

		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	kind := broadcast.EventKindCartItemUpdated
	if created {
		kind = broadcast.EventKindCartItemAdded
	}
	m.events.Publish(broadcast.EntityCart, userID, kind, item)
	if m.metrics != nil {
		m.metrics.CartItemsAdded.WithLabelValues(item.Source.String()).Inc()
	}
	return item, nil
}

// CommitLocked creates the terminal cart item for an auction win or an
// accepted negotiation, inside the caller's transaction so the commitment
// is atomic with the rest of it. The price override is the locked price.
// Re-running with the same source reference returns the existing item,
// which is what makes endAuction and acceptCounterOffer retry-safe.
func (m *Manager) CommitLocked(
	ctx context.Context,
	tx store.Tx,
	userID, productID uuid.UUID,
	quantity, price int64,
	source domain.CartSource,
	sourceRef uuid.UUID,
) (*domain.CartItem, error) {
	existing, err := tx.CartItems().BySourceRef(ctx, source, sourceRef)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	item := &domain.CartItem{
		ID:              uuid.New(),
		UserID:          userID,
		ProductID:       productID,
		Quantity:        quantity,
		PriceAtAddition: price,
		Source:          source,
		SourceRef:       &sourceRef,
		AddedAt:         m.clock.Now(),
	}
	if product, perr := tx.Products().Get(ctx, productID); perr == nil {
		item.Currency = product.Currency
	}

	if err := tx.CartItems().Create(ctx, item); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A direct-add item already holds the (user, product) slot.
			// The commitment price wins: it is what the buyer agreed to.
			direct, derr := tx.CartItems().ByUserProduct(ctx, userID, productID)
			if derr != nil {
				return nil, err
			}
			direct.Quantity = quantity
			direct.PriceAtAddition = price
			direct.Source = source
			direct.SourceRef = &sourceRef
			if uerr := tx.CartItems().Update(ctx, direct); uerr != nil {
				return nil, uerr
			}
			return direct, nil
		}
		return nil, err
	}
	return item, nil
}

// UpdateQuantity changes the quantity of the caller's cart item. The locked
// price is untouched.
func (m *Manager) UpdateQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int64) (*domain.CartItem, error) {
	if quantity <= 0 {
		return nil, domain.NewValidation(domain.ReasonInvalidAmount, "quantity must be positive")
	}

	var item *domain.CartItem
	err := store.WithRetry(ctx, m.store, m.cfg.MaxRetries, m.metrics, func(tx store.Tx) error {
		var err error
		item, err = m.getOwnedItem(ctx, tx, userID, itemID)
		if err != nil {
			return err
		}

		product, err := tx.Products().Get(ctx, item.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("product", item.ProductID)
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

		item.Quantity = quantity
		return tx.CartItems().Update(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	m.events.Publish(broadcast.EntityCart, userID, broadcast.EventKindCartItemUpdated, item)
	return item, nil
}

// RemoveFromCart deletes the caller's cart item.
func (m *Manager) RemoveFromCart(ctx context.Context, userID, itemID uuid.UUID) error {
	var item *domain.CartItem
	err := store.WithRetry(ctx, m.store, m.cfg.MaxRetries, m.metrics, func(tx store.Tx) error {
		var err error
		item, err = m.getOwnedItem(ctx, tx, userID, itemID)
		if err != nil {
			return err
		}
		return tx.CartItems().Delete(ctx, itemID)
	})
	if err != nil {
		return err
	}

	m.events.Publish(broadcast.EntityCart, userID, broadcast.EventKindCartItemRemoved, item)
	if m.metrics != nil {
		m.metrics.CartItemsRemoved.WithLabelValues("removed").Inc()
	}
	return nil
}

// ClearCart deletes every item the user holds.
func (m *Manager) ClearCart(ctx context.Context, userID uuid.UUID) error {
	var removed []*domain.CartItem
	err := store.WithRetry(ctx, m.store, m.cfg.MaxRetries, m.metrics, func(tx store.Tx) error {
		removed = removed[:0]
		items, err := tx.CartItems().ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.CartItems().Delete(ctx, item.ID); err != nil {
				return err
			}
			removed = append(removed, item)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, item := range removed {
		m.events.Publish(broadcast.EntityCart, userID, broadcast.EventKindCartItemRemoved, item)
		if m.metrics != nil {
			m.metrics.CartItemsRemoved.WithLabelValues("cleared").Inc()
		}
	}
	return nil
}

// Verdict is the result of a cart item validity re-check.
type Verdict struct {
	Valid   bool
	Reason  string
	Message string
}

// ValidateCartItem re-checks, at read time, that the item can still be
// checked out: product still active, quantity still available, locked
// price not drifted past the configured threshold. It never mutates —
// removal is an explicit caller action or the scheduler's sweep.
func (m *Manager) ValidateCartItem(ctx context.Context, itemID uuid.UUID) (Verdict, error) {
	var verdict Verdict
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		item, err := tx.CartItems().Get(ctx, itemID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFound("cart item", itemID)
		}
		if err != nil {
			return err
		}

		// A commitment carries an agreed price for a product that is,
		// from the market's view, already gone. It stays valid.
		if item.Source != domain.CartSourceDirect {
			verdict = Verdict{Valid: true}
			return nil
		}

		product, err := tx.Products().Get(ctx, item.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			verdict = Verdict{Reason: domain.ReasonProductUnavailable, Message: "product no longer exists"}
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case product.Status != domain.ProductStatusActive:
			verdict = Verdict{
				Reason:  domain.ReasonProductUnavailable,
				Message: fmt.Sprintf("product is %s", product.Status),
			}
		case product.Quantity < item.Quantity:
			verdict = Verdict{
				Reason:  domain.ReasonExceedsAvailability,
				Message: fmt.Sprintf("only %d %s available", product.Quantity, product.Unit),
			}
		case priceDrifted(item.PriceAtAddition, product.BasePrice, m.cfg.DriftPercent):
			verdict = Verdict{
				Reason: domain.ReasonPriceDrift,
				Message: fmt.Sprintf("price moved from %d to %d, beyond the %d%% threshold",
					item.PriceAtAddition, product.BasePrice, m.cfg.DriftPercent),
			}
		default:
			verdict = Verdict{Valid: true}
		}
		return nil
	})
	if err != nil {
		return Verdict{}, err
	}

	if m.metrics != nil {
		result := "valid"
		if !verdict.Valid {
			result = "invalid"
		}
		m.metrics.CartValidations.WithLabelValues(result).Inc()
	}
	return verdict, nil
}

// Summary aggregates a user's cart for checkout precondition checks.
// Callers validate the single-currency assumption before checkout.
type Summary struct {
	ItemCount     int
	TotalQuantity int64
	TotalValue    int64
	Currencies    []string
}

// GetCartSummary aggregates item count, total quantity, total locked value,
// and the distinct currencies present.
func (m *Manager) GetCartSummary(ctx context.Context, userID uuid.UUID) (Summary, error) {
	var summary Summary
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		items, err := tx.CartItems().ListByUser(ctx, userID)
		if err != nil {
			return err
		}

		seen := make(map[string]bool)
		summary = Summary{}
		for _, item := range items {
			summary.ItemCount++
			summary.TotalQuantity += item.Quantity
			summary.TotalValue += item.TotalValue()
			if item.Currency != "" && !seen[item.Currency] {
				seen[item.Currency] = true
				summary.Currencies = append(summary.Currencies, item.Currency)
			}
		}
		return nil
	})
	return summary, err
}

// RemoveIfUnavailable deletes the item when its product has become
// unavailable, emitting an item-unavailable notification. No-op when the
// item is already gone, the product recovered, or the item is a
// commitment (a sold-out product is a commitment's own origin) — the
// sweep can safely run twice.
func (m *Manager) RemoveIfUnavailable(ctx context.Context, itemID uuid.UUID) (bool, error) {
	var (
		removed bool
		item    *domain.CartItem
	)
	err := store.WithRetry(ctx, m.store, m.cfg.MaxRetries, m.metrics, func(tx store.Tx) error {
		removed = false
		var err error
		item, err = tx.CartItems().Get(ctx, itemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if item.Source != domain.CartSourceDirect {
			return nil
		}

		product, err := tx.Products().Get(ctx, item.ProductID)
		if err == nil && product.IsAvailable() && product.Quantity >= item.Quantity {
			return nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := tx.CartItems().Delete(ctx, itemID); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil || !removed {
		return false, err
	}

	m.events.Publish(broadcast.EntityCart, item.UserID, broadcast.EventKindCartItemUnavailable, item)
	if m.metrics != nil {
		m.metrics.CartItemsRemoved.WithLabelValues("product_unavailable").Inc()
	}
	return true, nil
}

func (m *Manager) getOwnedItem(ctx context.Context, tx store.Tx, userID, itemID uuid.UUID) (*domain.CartItem, error) {
	item, err := tx.CartItems().Get(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NewNotFound("cart item", itemID)
	}
	if err != nil {
		return nil, err
	}
	if item.UserID != userID {
		return nil, domain.NewAuthorization(domain.ReasonNotOwner,
			"cart item belongs to another user")
	}
	return item, nil
}

// priceDrifted reports whether the current base price rose past the locked
// price by more than driftPercent. Drops never invalidate.
func priceDrifted(locked, current, driftPercent int64) bool {
	if current <= locked {
		return false
	}
	// Integer threshold: current > locked * (100 + drift) / 100.
	return current*100 > locked*(100+driftPercent)
}

// checkPurchasable runs the ordered add-to-cart validations: product
// active, buyer is not the seller, quantity within the product's bounds.
func checkPurchasable(product *domain.Product, userID uuid.UUID, quantity int64) error {
	if product.Status != domain.ProductStatusActive {
		return domain.NewStateConflict(domain.ReasonProductUnavailable,
			"product is %s", product.Status)
	}
	if product.SellerID == userID {
		return domain.NewAuthorization(domain.ReasonSellerCannotBuy,
			"sellers cannot buy their own product")
	}
	if quantity < product.MinOrderQuantity {
		return domain.NewValidation(domain.ReasonBelowMinOrder,
			"minimum order quantity is %d", product.MinOrderQuantity)
	}
	if quantity > product.Quantity {
		return domain.NewValidation(domain.ReasonExceedsAvailability,
			"only %d %s available", product.Quantity, product.Unit)
	}
	return nil
}
