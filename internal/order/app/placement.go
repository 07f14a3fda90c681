// Package app drives the order placement and fulfillment saga: it composes
// the cart, address, inventory, gateway and persistence ports around the
// Order aggregate and publishes the resulting domain events.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mercato/orderflow/internal/order/domain"
	"github.com/mercato/orderflow/internal/saga"
	"github.com/mercato/orderflow/internal/saga/sagalog"
)

// PlaceOrderCommand is the validated placement request.
type PlaceOrderCommand struct {
	UserID        uuid.UUID
	CartID        string
	AddressID     string
	PaymentMethod domain.PaymentMethod
	CustomerEmail string
	Notes         string
	Discount      decimal.Decimal
}

// PlacementService runs one placement saga per call. It holds no mutable
// state across requests; external calls are sequential because each step
// depends on the previous one's result.
type PlacementService struct {
	carts     CartSource
	addresses AddressSource
	inventory Reserver
	gateway   PaymentGateway
	orders    OrderRepository
	events    EventPublisher
	journal   sagalog.Repository

	pricing  domain.Pricing
	currency string
}

func NewPlacementService(
	carts CartSource,
	addresses AddressSource,
	inv Reserver,
	gateway PaymentGateway,
	orders OrderRepository,
	events EventPublisher,
	journal sagalog.Repository,
	pricing domain.Pricing,
	currency string,
) *PlacementService {
	return &PlacementService{
		carts:     carts,
		addresses: addresses,
		inventory: inv,
		gateway:   gateway,
		orders:    orders,
		events:    events,
		journal:   journal,
		pricing:   pricing,
		currency:  currency,
	}
}

// PlaceOrder executes the saga: fetch cart, snapshot address, build the
// aggregate, then reserve inventory, initiate payment and persist as
// compensable steps. Validation failures leave no persisted state; a
// failure after a successful reservation publishes exactly one
// inventory-rollback event before surfacing the error.
func (s *PlacementService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*domain.Order, error) {
	cartItems, err := s.carts.GetCartItems(ctx, cmd.UserID, cmd.CartID)
	if err != nil {
		return nil, fmt.Errorf("fetch cart: %w", err)
	}
	if len(cartItems) == 0 {
		return nil, ErrEmptyCart
	}

	address, err := s.addresses.GetAddress(ctx, cmd.UserID, cmd.AddressID)
	if err != nil {
		return nil, fmt.Errorf("resolve address: %w", err)
	}

	// All-or-nothing: any line failing validation aborts before anything
	// external is touched.
	items := make([]*domain.Item, 0, len(cartItems))
	for _, ci := range cartItems {
		it, err := domain.NewItem(ci.ProductID, ci.Name, ci.UnitPrice, ci.Quantity, ci.ImageURL, ci.LineDiscount)
		if err != nil {
			return nil, fmt.Errorf("cart line %s: %w", ci.ProductID, err)
		}
		items = append(items, it)
	}

	order, err := domain.NewOrder(cmd.UserID, cmd.PaymentMethod, address, cmd.CartID, cmd.Notes, cmd.Discount, s.pricing, items)
	if err != nil {
		return nil, err
	}

	paymentStep, err := s.paymentStep(order, cmd)
	if err != nil {
		return nil, err
	}
	steps := []saga.Step{
		&reserveInventoryStep{reserver: s.inventory, events: s.events, order: order},
		paymentStep,
		&persistOrderStep{orders: s.orders, order: order},
	}

	run := saga.NewOrchestrator(order.ID.String(), steps, s.journal)
	if err := run.Run(ctx, placementPayload(order)); err != nil {
		return nil, err
	}

	// The committed order is now the source of truth; a failed cart clear
	// must not roll it back.
	if err := s.carts.ClearCart(ctx, cmd.CartID); err != nil {
		slog.WarnContext(ctx, "failed to clear cart after placement",
			"order_number", order.Number, "cart_id", cmd.CartID, "error", err)
	}

	placed := OrderPlacedEvent{
		OrderID:     order.ID.String(),
		OrderNumber: order.Number,
		UserID:      order.UserID.String(),
		Total:       order.Total,
		Items:       eventLines(order),
		PlacedAt:    order.CreatedAt,
	}
	if err := s.events.PublishEvent(ctx, RouteOrderPlaced, placed); err != nil {
		slog.ErrorContext(ctx, "failed to publish order placed event",
			"order_number", order.Number, "error", err)
	}

	return order, nil
}

func (s *PlacementService) paymentStep(order *domain.Order, cmd PlaceOrderCommand) (saga.Step, error) {
	switch cmd.PaymentMethod {
	case domain.MethodCreditCard:
		return &cardPaymentStep{
			gateway:  s.gateway,
			order:    order,
			currency: s.currency,
			email:    cmd.CustomerEmail,
		}, nil
	case domain.MethodCashOnDelivery:
		return &cashPaymentStep{order: order}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPaymentMethod, cmd.PaymentMethod)
	}
}

func placementPayload(o *domain.Order) map[string]string {
	return map[string]string{
		"order_id":     o.ID.String(),
		"order_number": o.Number,
		"user_id":      o.UserID.String(),
		"total":        o.Total.String(),
	}
}

func eventLines(o *domain.Order) []EventLine {
	lines := make([]EventLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, EventLine{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return lines
}
