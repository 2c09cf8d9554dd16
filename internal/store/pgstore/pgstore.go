// Package pgstore is the Postgres-backed store. Transactions run at the
// serializable isolation level; serialization failures and deadlocks are
// mapped to store.ErrConflict so the engines' retry loop handles them the
// same way it handles version-check losses.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"MarketCore/internal/domain"
	"MarketCore/internal/store"
)

// Store implements store.Store over database/sql with the lib/pq driver.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(err)
	}

	pt := &pgTx{ctx: ctx, tx: sqlTx}
	if err := fn(pt); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr translates driver errors into the store sentinels the engines
// understand. 23505 is unique_violation; 40001 and 40P01 are the
// serialization failure and deadlock classes that warrant a retry.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return store.ErrDuplicate
		case "40001", "40P01":
			return store.ErrConflict
		}
	}
	return err
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *pgTx) Products() store.ProductRepo         { return &productRepo{t.tx} }
func (t *pgTx) Auctions() store.AuctionRepo         { return &auctionRepo{t.tx} }
func (t *pgTx) Bids() store.BidRepo                 { return &bidRepo{t.tx} }
func (t *pgTx) Negotiations() store.NegotiationRepo { return &negotiationRepo{t.tx} }
func (t *pgTx) CartItems() store.CartRepo           { return &cartRepo{t.tx} }

// versionedUpdate reports the outcome of a version-checked UPDATE: zero
// rows means either the row vanished or a concurrent writer moved the
// version first.
func versionedUpdate(ctx context.Context, tx *sql.Tx, res sql.Result, existsQuery string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if exists {
		return store.ErrConflict
	}
	return store.ErrNotFound
}

// --- products ---

type productRepo struct{ tx *sql.Tx }

const productCols = `id, seller_id, name, quantity, unit, base_price, currency, min_order_quantity, status, version`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var status int32
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Quantity, &p.Unit,
		&p.BasePrice, &p.Currency, &p.MinOrderQuantity, &status, &p.Version)
	if err != nil {
		return nil, mapErr(err)
	}
	p.Status = domain.ProductStatus(status)
	return &p, nil
}

func (r *productRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return scanProduct(r.tx.QueryRowContext(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1`, id))
}

func (r *productRepo) Create(ctx context.Context, p *domain.Product) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO products (`+productCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.SellerID, p.Name, p.Quantity, p.Unit,
		p.BasePrice, p.Currency, p.MinOrderQuantity, int32(p.Status), p.Version)
	return mapErr(err)
}

func (r *productRepo) Update(ctx context.Context, p *domain.Product) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE products
		 SET seller_id = $2, name = $3, quantity = $4, unit = $5, base_price = $6,
		     currency = $7, min_order_quantity = $8, status = $9, version = version + 1
		 WHERE id = $1 AND version = $10`,
		p.ID, p.SellerID, p.Name, p.Quantity, p.Unit, p.BasePrice,
		p.Currency, p.MinOrderQuantity, int32(p.Status), p.Version)
	if err != nil {
		return mapErr(err)
	}
	if err := versionedUpdate(ctx, r.tx, res,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

// --- auctions ---

type auctionRepo struct{ tx *sql.Tx }

const auctionCols = `id, product_id, seller_id, type, starting_price, reserve_price, current_bid,
	bid_increment, start_time, end_time, status, winner_id, winning_bid_id, bid_count, round, version`

func scanAuction(row interface{ Scan(...any) error }) (*domain.Auction, error) {
	var a domain.Auction
	var typ, status int32
	var reserve, current sql.NullInt64
	var winnerID, winningBidID uuid.NullUUID
	err := row.Scan(&a.ID, &a.ProductID, &a.SellerID, &typ, &a.StartingPrice,
		&reserve, &current, &a.BidIncrement, &a.StartTime, &a.EndTime, &status,
		&winnerID, &winningBidID, &a.BidCount, &a.Round, &a.Version)
	if err != nil {
		return nil, mapErr(err)
	}
	a.Type = domain.AuctionType(typ)
	a.Status = domain.AuctionStatus(status)
	if reserve.Valid {
		a.ReservePrice = &reserve.Int64
	}
	if current.Valid {
		a.CurrentBid = &current.Int64
	}
	if winnerID.Valid {
		a.WinnerID = &winnerID.UUID
	}
	if winningBidID.Valid {
		a.WinningBidID = &winningBidID.UUID
	}
	return &a, nil
}

func (r *auctionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return scanAuction(r.tx.QueryRowContext(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE id = $1`, id))
}

func (r *auctionRepo) Create(ctx context.Context, a *domain.Auction) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO auctions (`+auctionCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.ProductID, a.SellerID, int32(a.Type), a.StartingPrice,
		a.ReservePrice, a.CurrentBid, a.BidIncrement, a.StartTime, a.EndTime,
		int32(a.Status), a.WinnerID, a.WinningBidID, a.BidCount, a.Round, a.Version)
	return mapErr(err)
}

func (r *auctionRepo) Update(ctx context.Context, a *domain.Auction) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE auctions
		 SET type = $2, starting_price = $3, reserve_price = $4, current_bid = $5,
		     bid_increment = $6, start_time = $7, end_time = $8, status = $9,
		     winner_id = $10, winning_bid_id = $11, bid_count = $12, round = $13,
		     version = version + 1
		 WHERE id = $1 AND version = $14`,
		a.ID, int32(a.Type), a.StartingPrice, a.ReservePrice, a.CurrentBid,
		a.BidIncrement, a.StartTime, a.EndTime, int32(a.Status),
		a.WinnerID, a.WinningBidID, a.BidCount, a.Round, a.Version)
	if err != nil {
		return mapErr(err)
	}
	if err := versionedUpdate(ctx, r.tx, res,
		`SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, a.ID); err != nil {
		return err
	}
	a.Version++
	return nil
}

func (r *auctionRepo) ListStartDue(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return r.list(ctx,
		`SELECT `+auctionCols+` FROM auctions
		 WHERE status = $1 AND start_time <= $2 ORDER BY start_time`,
		int32(domain.AuctionStatusScheduled), now)
}

func (r *auctionRepo) ListEndDue(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return r.list(ctx,
		`SELECT `+auctionCols+` FROM auctions
		 WHERE status = $1 AND end_time <= $2 ORDER BY end_time`,
		int32(domain.AuctionStatusActive), now)
}

func (r *auctionRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Auction, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err())
}

// --- bids ---

type bidRepo struct{ tx *sql.Tx }

const bidCols = `id, auction_id, bidder_id, amount, quantity, round, placed_at, status`

func scanBid(row interface{ Scan(...any) error }) (*domain.Bid, error) {
	var b domain.Bid
	var status int32
	err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount,
		&b.Quantity, &b.Round, &b.PlacedAt, &status)
	if err != nil {
		return nil, mapErr(err)
	}
	b.Status = domain.BidStatus(status)
	return &b, nil
}

func (r *bidRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Bid, error) {
	return scanBid(r.tx.QueryRowContext(ctx,
		`SELECT `+bidCols+` FROM bids WHERE id = $1`, id))
}

func (r *bidRepo) Create(ctx context.Context, b *domain.Bid) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO bids (`+bidCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.Quantity,
		b.Round, b.PlacedAt, int32(b.Status))
	return mapErr(err)
}

func (r *bidRepo) Update(ctx context.Context, b *domain.Bid) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE bids SET status = $2 WHERE id = $1`,
		b.ID, int32(b.Status))
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *bidRepo) Leading(ctx context.Context, auctionID uuid.UUID, round int64) (*domain.Bid, error) {
	return scanBid(r.tx.QueryRowContext(ctx,
		`SELECT `+bidCols+` FROM bids
		 WHERE auction_id = $1 AND round = $2 AND status = $3
		 ORDER BY amount DESC, placed_at ASC LIMIT 1`,
		auctionID, round, int32(domain.BidStatusWinning)))
}

func (r *bidRepo) ListByAuction(ctx context.Context, auctionID uuid.UUID, round int64) ([]*domain.Bid, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT `+bidCols+` FROM bids
		 WHERE auction_id = $1 AND round = $2
		 ORDER BY amount DESC, placed_at ASC`,
		auctionID, round)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, mapErr(rows.Err())
}

// --- negotiations ---

type negotiationRepo struct{ tx *sql.Tx }

const negotiationCols = `id, product_id, buyer_id, seller_id, quantity, offer_amount,
	counter_amount, status, expires_at, created_at, updated_at, version`

func scanNegotiation(row interface{ Scan(...any) error }) (*domain.Negotiation, error) {
	var n domain.Negotiation
	var status int32
	var counter sql.NullInt64
	var expires sql.NullTime
	err := row.Scan(&n.ID, &n.ProductID, &n.BuyerID, &n.SellerID, &n.Quantity,
		&n.OfferAmount, &counter, &status, &expires, &n.CreatedAt, &n.UpdatedAt, &n.Version)
	if err != nil {
		return nil, mapErr(err)
	}
	n.Status = domain.NegotiationStatus(status)
	if counter.Valid {
		n.CounterAmount = &counter.Int64
	}
	if expires.Valid {
		n.ExpiresAt = &expires.Time
	}
	return &n, nil
}

func (r *negotiationRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Negotiation, error) {
	return scanNegotiation(r.tx.QueryRowContext(ctx,
		`SELECT `+negotiationCols+` FROM negotiations WHERE id = $1`, id))
}

func (r *negotiationRepo) Create(ctx context.Context, n *domain.Negotiation) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO negotiations (`+negotiationCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.ProductID, n.BuyerID, n.SellerID, n.Quantity, n.OfferAmount,
		n.CounterAmount, int32(n.Status), n.ExpiresAt, n.CreatedAt, n.UpdatedAt, n.Version)
	return mapErr(err)
}

func (r *negotiationRepo) Update(ctx context.Context, n *domain.Negotiation) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE negotiations
		 SET quantity = $2, offer_amount = $3, counter_amount = $4, status = $5,
		     expires_at = $6, updated_at = $7, version = version + 1
		 WHERE id = $1 AND version = $8`,
		n.ID, n.Quantity, n.OfferAmount, n.CounterAmount, int32(n.Status),
		n.ExpiresAt, n.UpdatedAt, n.Version)
	if err != nil {
		return mapErr(err)
	}
	if err := versionedUpdate(ctx, r.tx, res,
		`SELECT EXISTS (SELECT 1 FROM negotiations WHERE id = $1)`, n.ID); err != nil {
		return err
	}
	n.Version++
	return nil
}

func (r *negotiationRepo) OpenByProductBuyer(ctx context.Context, productID, buyerID uuid.UUID) (*domain.Negotiation, error) {
	return scanNegotiation(r.tx.QueryRowContext(ctx,
		`SELECT `+negotiationCols+` FROM negotiations
		 WHERE product_id = $1 AND buyer_id = $2 AND status IN ($3, $4)`,
		productID, buyerID,
		int32(domain.NegotiationStatusPending), int32(domain.NegotiationStatusCountered)))
}

func (r *negotiationRepo) ListExpired(ctx context.Context, now time.Time) ([]*domain.Negotiation, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT `+negotiationCols+` FROM negotiations
		 WHERE status IN ($1, $2) AND expires_at IS NOT NULL AND expires_at <= $3
		 ORDER BY expires_at`,
		int32(domain.NegotiationStatusPending), int32(domain.NegotiationStatusCountered), now)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, mapErr(rows.Err())
}

// --- cart items ---

type cartRepo struct{ tx *sql.Tx }

const cartCols = `id, user_id, product_id, quantity, price_at_addition, currency, source, source_ref, added_at, version`

func scanCartItem(row interface{ Scan(...any) error }) (*domain.CartItem, error) {
	var ci domain.CartItem
	var source int32
	var ref uuid.NullUUID
	err := row.Scan(&ci.ID, &ci.UserID, &ci.ProductID, &ci.Quantity,
		&ci.PriceAtAddition, &ci.Currency, &source, &ref, &ci.AddedAt, &ci.Version)
	if err != nil {
		return nil, mapErr(err)
	}
	ci.Source = domain.CartSource(source)
	if ref.Valid {
		ci.SourceRef = &ref.UUID
	}
	return &ci, nil
}

func (r *cartRepo) Get(ctx context.Context, id uuid.UUID) (*domain.CartItem, error) {
	return scanCartItem(r.tx.QueryRowContext(ctx,
		`SELECT `+cartCols+` FROM cart_items WHERE id = $1`, id))
}

func (r *cartRepo) Create(ctx context.Context, ci *domain.CartItem) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO cart_items (`+cartCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ci.ID, ci.UserID, ci.ProductID, ci.Quantity, ci.PriceAtAddition,
		ci.Currency, int32(ci.Source), ci.SourceRef, ci.AddedAt, ci.Version)
	return mapErr(err)
}

func (r *cartRepo) Update(ctx context.Context, ci *domain.CartItem) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE cart_items
		 SET quantity = $2, price_at_addition = $3, currency = $4, source = $5,
		     source_ref = $6, version = version + 1
		 WHERE id = $1 AND version = $7`,
		ci.ID, ci.Quantity, ci.PriceAtAddition, ci.Currency,
		int32(ci.Source), ci.SourceRef, ci.Version)
	if err != nil {
		return mapErr(err)
	}
	if err := versionedUpdate(ctx, r.tx, res,
		`SELECT EXISTS (SELECT 1 FROM cart_items WHERE id = $1)`, ci.ID); err != nil {
		return err
	}
	ci.Version++
	return nil
}

func (r *cartRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *cartRepo) ByUserProduct(ctx context.Context, userID, productID uuid.UUID) (*domain.CartItem, error) {
	return scanCartItem(r.tx.QueryRowContext(ctx,
		`SELECT `+cartCols+` FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID))
}

func (r *cartRepo) BySourceRef(ctx context.Context, source domain.CartSource, ref uuid.UUID) (*domain.CartItem, error) {
	return scanCartItem(r.tx.QueryRowContext(ctx,
		`SELECT `+cartCols+` FROM cart_items WHERE source = $1 AND source_ref = $2`,
		int32(source), ref))
}

func (r *cartRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.CartItem, error) {
	return r.list(ctx,
		`SELECT `+cartCols+` FROM cart_items WHERE user_id = $1 ORDER BY added_at`, userID)
}

func (r *cartRepo) ListAll(ctx context.Context) ([]*domain.CartItem, error) {
	return r.list(ctx, `SELECT `+cartCols+` FROM cart_items ORDER BY added_at`)
}

func (r *cartRepo) list(ctx context.Context, query string, args ...any) ([]*domain.CartItem, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.CartItem
	for rows.Next() {
		ci, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, mapErr(rows.Err())
}
