package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mercato/orderflow/internal/inventory"
	"github.com/mercato/orderflow/internal/order/domain"
)

var (
	// ErrEmptyCart rejects placement when the cart holds no lines.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrInvalidAddress rejects placement when the address does not exist
	// or is not owned by the user.
	ErrInvalidAddress = errors.New("delivery address not found")

	// ErrOrderNotFound is the lookup miss for reconciliation and reads.
	ErrOrderNotFound = errors.New("order not found")
)

// CartItem is the authoritative cart line fetched at placement time.
type CartItem struct {
	ProductID    string
	Name         string
	UnitPrice    decimal.Decimal
	Quantity     int
	ImageURL     string
	LineDiscount decimal.Decimal
}

// CartSource is the external cart collaborator.
type CartSource interface {
	GetCartItems(ctx context.Context, userID uuid.UUID, cartID string) ([]CartItem, error)
	ClearCart(ctx context.Context, cartID string) error
}

// AddressSource resolves a user's address into an immutable snapshot.
// A miss or an ownership failure surfaces as ErrInvalidAddress.
type AddressSource interface {
	GetAddress(ctx context.Context, userID uuid.UUID, addressID string) (domain.AddressSnapshot, error)
}

// Reserver is the inventory authority contract the saga depends on; the
// concrete implementation is the correlation-keyed messaging client.
type Reserver interface {
	Reserve(ctx context.Context, orderID, orderNumber string, lines []inventory.Line) error
	CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error)
}

// PaymentGateway creates and refunds payment intents with the card
// processor. Asynchronous outcomes arrive separately as GatewayEvents.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, customerEmail, orderRef string) (string, error)
	Refund(ctx context.Context, intentID string, amount *decimal.Decimal) (string, error)
}

// OrderRepository persists the aggregate. CreateOrderGraph writes the order,
// its items, payment and delivery as one transaction. UpdateWithLock loads
// the order by number under a row lock, applies mutate, and persists the
// result in the same transaction; duplicate webhook delivery cannot
// double-advance state through it.
type OrderRepository interface {
	CreateOrderGraph(ctx context.Context, o *domain.Order) error
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	UpdateWithLock(ctx context.Context, number string, mutate func(*domain.Order) error) (*domain.Order, error)
}

// EventPublisher pushes domain events to the broker for downstream
// consumers (inventory finalization, notifications).
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, event any) error
}

// IdempotencyCache remembers processed gateway event ids so redelivered
// webhooks short-circuit before touching the database.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GenerateKey(operation, key string) string
}
