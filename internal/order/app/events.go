package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys for the orders topic exchange.
const (
	RouteOrderPlaced        = "order.placed"
	RouteOrderStatusUpdated = "order.status_updated"
	RoutePaymentCompleted   = "payment.completed"
	RouteInventoryRollback  = "inventory.rollback_requested"
)

// EventLine identifies an affected order line inside an event payload.
type EventLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderPlacedEvent is emitted once placement has committed.
type OrderPlacedEvent struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	Items       []EventLine     `json:"items"`
	PlacedAt    time.Time       `json:"placed_at"`
}

func (e OrderPlacedEvent) EventType() string { return "OrderPlaced" }

// OrderStatusUpdatedEvent announces an order status change.
type OrderStatusUpdatedEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e OrderStatusUpdatedEvent) EventType() string { return "OrderStatusUpdated" }

// PaymentCompletedEvent announces a settled payment, card or cash.
type PaymentCompletedEvent struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        string          `json:"user_id"`
	Method        string          `json:"method"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	CompletedAt   time.Time       `json:"completed_at"`
}

func (e PaymentCompletedEvent) EventType() string { return "PaymentCompleted" }

// InventoryRollbackEvent asks the inventory side to release every line held
// for an order.
type InventoryRollbackEvent struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	Items       []EventLine `json:"items"`
	Reason      string      `json:"reason"`
	RequestedAt time.Time   `json:"requested_at"`
}

func (e InventoryRollbackEvent) EventType() string { return "InventoryRollbackRequested" }
