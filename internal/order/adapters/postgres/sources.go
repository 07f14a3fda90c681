package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mercato/orderflow/internal/order/app"
	"github.com/mercato/orderflow/internal/order/domain"
)

const sourcesSchema = `
CREATE TABLE IF NOT EXISTS cart_items (
    cart_id       TEXT NOT NULL,
    user_id       UUID NOT NULL,
    product_id    TEXT NOT NULL,
    name          TEXT NOT NULL,
    unit_price    NUMERIC(12,2) NOT NULL,
    quantity      INT NOT NULL,
    image_url     TEXT NOT NULL DEFAULT '',
    line_discount NUMERIC(12,2) NOT NULL DEFAULT 0,
    PRIMARY KEY (cart_id, product_id)
);

CREATE TABLE IF NOT EXISTS addresses (
    id          TEXT PRIMARY KEY,
    user_id     UUID NOT NULL,
    recipient   TEXT NOT NULL,
    phone       TEXT NOT NULL DEFAULT '',
    line1       TEXT NOT NULL,
    line2       TEXT NOT NULL DEFAULT '',
    city        TEXT NOT NULL,
    region      TEXT NOT NULL DEFAULT '',
    postal_code TEXT NOT NULL DEFAULT '',
    country     TEXT NOT NULL
);
`

// CartStore reads and clears cart lines maintained by the cart surface.
// Placement snapshots these lines into order items; the cart rows are
// disposable afterwards.
type CartStore struct {
	db *sql.DB
}

var _ app.CartSource = (*CartStore)(nil)

func NewCartStore(db *sql.DB) *CartStore {
	return &CartStore{db: db}
}

// EnsureSchema creates the cart and address tables if missing.
func (s *CartStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sourcesSchema); err != nil {
		return fmt.Errorf("ensure cart schema: %w", err)
	}
	return nil
}

func (s *CartStore) GetCartItems(ctx context.Context, userID uuid.UUID, cartID string) ([]app.CartItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, unit_price, quantity, image_url, line_discount
		FROM cart_items WHERE cart_id = $1 AND user_id = $2
		ORDER BY product_id`, cartID, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart %s: %w", cartID, err)
	}
	defer rows.Close()

	var items []app.CartItem
	for rows.Next() {
		var it app.CartItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity, &it.ImageURL, &it.LineDiscount); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *CartStore) ClearCart(ctx context.Context, cartID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart %s: %w", cartID, err)
	}
	return nil
}

// AddressStore resolves a user's saved address into the immutable snapshot
// the order carries. Ownership is part of the lookup: another user's address
// id behaves like a miss.
type AddressStore struct {
	db *sql.DB
}

var _ app.AddressSource = (*AddressStore)(nil)

func NewAddressStore(db *sql.DB) *AddressStore {
	return &AddressStore{db: db}
}

func (s *AddressStore) GetAddress(ctx context.Context, userID uuid.UUID, addressID string) (domain.AddressSnapshot, error) {
	var a domain.AddressSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT recipient, phone, line1, line2, city, region, postal_code, country
		FROM addresses WHERE id = $1 AND user_id = $2`, addressID, userID).Scan(
		&a.Recipient, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.Region, &a.PostalCode, &a.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AddressSnapshot{}, app.ErrInvalidAddress
	}
	if err != nil {
		return domain.AddressSnapshot{}, fmt.Errorf("load address %s: %w", addressID, err)
	}
	return a, nil
}
