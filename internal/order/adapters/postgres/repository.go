// Package postgres persists the order aggregate. The whole graph (order,
// items, payment, delivery) is written and locked as one unit so concurrent
// webhook and courier updates serialize on the order row.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mercato/orderflow/internal/order/app"
	"github.com/mercato/orderflow/internal/order/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id             UUID PRIMARY KEY,
    user_id        UUID NOT NULL,
    number         TEXT NOT NULL UNIQUE,
    status         TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    sub_total      NUMERIC(12,2) NOT NULL,
    delivery_fee   NUMERIC(12,2) NOT NULL,
    discount       NUMERIC(12,2) NOT NULL,
    tax            NUMERIC(12,2) NOT NULL,
    total          NUMERIC(12,2) NOT NULL,
    address        JSONB NOT NULL,
    cart_id        TEXT NOT NULL,
    notes          TEXT NOT NULL DEFAULT '',
    deleted        BOOLEAN NOT NULL DEFAULT FALSE,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
    id             UUID PRIMARY KEY,
    order_id       UUID NOT NULL REFERENCES orders(id),
    product_id     TEXT NOT NULL,
    name           TEXT NOT NULL,
    unit_price     NUMERIC(12,2) NOT NULL,
    quantity       INT NOT NULL,
    image_url      TEXT NOT NULL DEFAULT '',
    line_discount  NUMERIC(12,2) NOT NULL,
    rating_score   INT,
    rating_comment TEXT,
    rated_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS payments (
    id                UUID PRIMARY KEY,
    order_id          UUID NOT NULL UNIQUE REFERENCES orders(id),
    method            TEXT NOT NULL,
    status            TEXT NOT NULL,
    amount            NUMERIC(12,2) NOT NULL,
    gateway_intent_id TEXT NOT NULL DEFAULT '',
    transaction_id    TEXT NOT NULL DEFAULT '',
    card_last4        TEXT NOT NULL DEFAULT '',
    failure_reason    TEXT NOT NULL DEFAULT '',
    refund_id         TEXT NOT NULL DEFAULT '',
    refunded_amount   NUMERIC(12,2) NOT NULL DEFAULT 0,
    refund_reason     TEXT NOT NULL DEFAULT '',
    refunded_at       TIMESTAMPTZ,
    verified_by       TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS deliveries (
    id           UUID PRIMARY KEY,
    order_id     UUID NOT NULL UNIQUE REFERENCES orders(id),
    courier_id   TEXT NOT NULL DEFAULT '',
    latitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
    longitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    estimated_at TIMESTAMPTZ,
    delivered_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
`

// Repository implements app.OrderRepository on top of lib/pq. The pricing
// policy is re-attached on every load since it is not stored per order.
type Repository struct {
	db      *sql.DB
	pricing domain.Pricing
}

var _ app.OrderRepository = (*Repository)(nil)

func NewRepository(db *sql.DB, pricing domain.Pricing) *Repository {
	return &Repository{db: db, pricing: pricing}
}

// EnsureSchema creates the tables if they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateOrderGraph inserts the order with its items, payment and delivery
// in one transaction.
func (r *Repository) CreateOrderGraph(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	addressJSON, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshal address: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, number, status, payment_method,
			sub_total, delivery_fee, discount, tax, total,
			address, cart_id, notes, deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.UserID, o.Number, string(o.Status), string(o.PaymentMethod),
		o.SubTotal, o.DeliveryFee, o.Discount, o.Tax, o.Total,
		addressJSON, o.CartID, o.Notes, o.Deleted, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, unit_price,
				quantity, image_url, line_discount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, o.ID, it.ProductID, it.Name, it.UnitPrice,
			it.Quantity, it.ImageURL, it.LineDiscount)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ProductID, err)
		}
	}

	if p := o.Payment; p != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, method, status, amount,
				gateway_intent_id, transaction_id, card_last4, failure_reason,
				refund_id, refunded_amount, refund_reason, refunded_at,
				verified_by, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			p.ID, p.OrderID, string(p.Method), string(p.Status), p.Amount,
			p.GatewayIntentID, p.TransactionID, p.CardLast4, p.FailureReason,
			p.RefundID, p.RefundedAmount, p.RefundReason, p.RefundedAt,
			p.VerifiedBy, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
	}

	if d := o.Delivery; d != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deliveries (id, order_id, courier_id, latitude, longitude,
				status, estimated_at, delivered_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			d.ID, d.OrderID, d.CourierID, d.Latitude, d.Longitude,
			d.Status.String(), d.EstimatedAt, d.DeliveredAt, d.CreatedAt, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert delivery: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByNumber loads the full aggregate without locking.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.load(ctx, r.db, number, false)
}

// UpdateWithLock loads the order under SELECT FOR UPDATE, applies mutate and
// persists the whole graph in the same transaction. A mutate error rolls
// everything back untouched.
func (r *Repository) UpdateWithLock(ctx context.Context, number string, mutate func(*domain.Order) error) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	order, err := r.load(ctx, tx, number, true)
	if err != nil {
		return nil, err
	}

	if err := mutate(order); err != nil {
		return nil, err
	}

	if err := saveGraph(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return order, nil
}

// querier is the subset of *sql.DB and *sql.Tx the loaders need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) load(ctx context.Context, q querier, number string, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, user_id, number, status, payment_method,
			sub_total, delivery_fee, discount, tax, total,
			address, cart_id, notes, deleted, created_at, updated_at
		FROM orders WHERE number = $1 AND deleted = FALSE`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		o           domain.Order
		status      string
		method      string
		addressJSON []byte
	)
	err := q.QueryRowContext(ctx, query, number).Scan(
		&o.ID, &o.UserID, &o.Number, &status, &method,
		&o.SubTotal, &o.DeliveryFee, &o.Discount, &o.Tax, &o.Total,
		&addressJSON, &o.CartID, &o.Notes, &o.Deleted, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, app.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", number, err)
	}
	o.Status = domain.Status(status)
	o.PaymentMethod = domain.PaymentMethod(method)
	if err := json.Unmarshal(addressJSON, &o.Address); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	o.RestorePricing(r.pricing)

	if o.Items, err = loadItems(ctx, q, o.ID.String()); err != nil {
		return nil, err
	}
	if o.Payment, err = loadPayment(ctx, q, o.ID.String()); err != nil {
		return nil, err
	}
	if o.Delivery, err = loadDelivery(ctx, q, o.ID.String()); err != nil {
		return nil, err
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderID string) ([]*domain.Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, unit_price, quantity,
			image_url, line_discount, rating_score, rating_comment, rated_at
		FROM order_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		var (
			it      domain.Item
			score   sql.NullInt64
			comment sql.NullString
			ratedAt sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.UnitPrice,
			&it.Quantity, &it.ImageURL, &it.LineDiscount, &score, &comment, &ratedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if score.Valid {
			it.Rating = &domain.Rating{
				Score:   int(score.Int64),
				Comment: comment.String,
				RatedAt: ratedAt.Time,
			}
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func loadPayment(ctx context.Context, q querier, orderID string) (*domain.Payment, error) {
	var (
		p          domain.Payment
		method     string
		status     string
		refundedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, order_id, method, status, amount, gateway_intent_id,
			transaction_id, card_last4, failure_reason, refund_id,
			refunded_amount, refund_reason, refunded_at, verified_by,
			created_at, updated_at
		FROM payments WHERE order_id = $1`, orderID).Scan(
		&p.ID, &p.OrderID, &method, &status, &p.Amount, &p.GatewayIntentID,
		&p.TransactionID, &p.CardLast4, &p.FailureReason, &p.RefundID,
		&p.RefundedAmount, &p.RefundReason, &refundedAt, &p.VerifiedBy,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	p.Method = domain.PaymentMethod(method)
	p.Status = domain.PaymentStatus(status)
	if refundedAt.Valid {
		t := refundedAt.Time
		p.RefundedAt = &t
	}
	return &p, nil
}

func loadDelivery(ctx context.Context, q querier, orderID string) (*domain.Delivery, error) {
	var (
		d           domain.Delivery
		status      string
		estimatedAt sql.NullTime
		deliveredAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, order_id, courier_id, latitude, longitude, status,
			estimated_at, delivered_at, created_at, updated_at
		FROM deliveries WHERE order_id = $1`, orderID).Scan(
		&d.ID, &d.OrderID, &d.CourierID, &d.Latitude, &d.Longitude, &status,
		&estimatedAt, &deliveredAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load delivery: %w", err)
	}
	parsed, err := domain.ParseDeliveryStatus(status)
	if err != nil {
		return nil, fmt.Errorf("load delivery: %w", err)
	}
	d.Status = parsed
	if estimatedAt.Valid {
		t := estimatedAt.Time
		d.EstimatedAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		d.DeliveredAt = &t
	}
	return &d, nil
}

// saveGraph writes back the mutable parts of a loaded aggregate.
func saveGraph(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, sub_total = $3, delivery_fee = $4,
			discount = $5, tax = $6, total = $7, notes = $8, deleted = $9,
			updated_at = $10
		WHERE id = $1`,
		o.ID, string(o.Status), o.SubTotal, o.DeliveryFee,
		o.Discount, o.Tax, o.Total, o.Notes, o.Deleted, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if p := o.Payment; p != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE payments SET status = $2, gateway_intent_id = $3,
				transaction_id = $4, card_last4 = $5, failure_reason = $6,
				refund_id = $7, refunded_amount = $8, refund_reason = $9,
				refunded_at = $10, verified_by = $11, updated_at = $12
			WHERE id = $1`,
			p.ID, string(p.Status), p.GatewayIntentID,
			p.TransactionID, p.CardLast4, p.FailureReason,
			p.RefundID, p.RefundedAmount, p.RefundReason,
			p.RefundedAt, p.VerifiedBy, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
	}

	if d := o.Delivery; d != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE deliveries SET courier_id = $2, latitude = $3, longitude = $4,
				status = $5, estimated_at = $6, delivered_at = $7, updated_at = $8
			WHERE id = $1`,
			d.ID, d.CourierID, d.Latitude, d.Longitude,
			d.Status.String(), d.EstimatedAt, d.DeliveredAt, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update delivery: %w", err)
		}
	}

	for _, it := range o.Items {
		if it.Rating == nil {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items SET rating_score = $2, rating_comment = $3, rated_at = $4
			WHERE id = $1`,
			it.ID, it.Rating.Score, it.Rating.Comment, it.Rating.RatedAt)
		if err != nil {
			return fmt.Errorf("update item rating: %w", err)
		}
	}
	return nil
}
