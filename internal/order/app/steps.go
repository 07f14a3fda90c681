package app

import (
	"context"
	"fmt"
	"time"

	"github.com/mercato/orderflow/internal/inventory"
	"github.com/mercato/orderflow/internal/order/domain"
)

// reserveInventoryStep holds stock for every line before anything is
// committed. Its compensation is the saga's rollback: one event releasing
// every reserved line, published when any later step fails.
type reserveInventoryStep struct {
	reserver Reserver
	events   EventPublisher
	order    *domain.Order
}

func (s *reserveInventoryStep) Name() string { return "reserve_inventory" }

func (s *reserveInventoryStep) Execute(ctx context.Context) error {
	lines := make([]inventory.Line, 0, len(s.order.Items))
	for _, it := range s.order.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return s.reserver.Reserve(ctx, s.order.ID.String(), s.order.Number, lines)
}

func (s *reserveInventoryStep) Compensate(ctx context.Context) error {
	rollback := InventoryRollbackEvent{
		OrderID:     s.order.ID.String(),
		OrderNumber: s.order.Number,
		Items:       eventLines(s.order),
		Reason:      "placement aborted after reservation",
		RequestedAt: time.Now().UTC(),
	}
	return s.events.PublishEvent(ctx, RouteInventoryRollback, rollback)
}

// cardPaymentStep asks the gateway for a payment intent and attaches the
// resulting PROCESSING payment. The order stays PENDING until the
// asynchronous callback settles it. No compensation: an intent with no
// linked order is inert.
type cardPaymentStep struct {
	gateway  PaymentGateway
	order    *domain.Order
	currency string
	email    string
}

func (s *cardPaymentStep) Name() string { return "create_payment_intent" }

func (s *cardPaymentStep) Execute(ctx context.Context) error {
	intentID, err := s.gateway.CreateIntent(ctx, s.order.Total, s.currency, s.email, s.order.Number)
	if err != nil {
		return fmt.Errorf("create payment intent: %w", err)
	}
	p, err := domain.NewPayment(s.order.ID, domain.MethodCreditCard, s.order.Total)
	if err != nil {
		return err
	}
	if err := p.MarkAsProcessing(intentID); err != nil {
		return err
	}
	return s.order.AttachPayment(p)
}

func (s *cardPaymentStep) Compensate(context.Context) error { return nil }

// cashPaymentStep parks a cash-on-delivery payment in AWAITING_CASH_PAYMENT;
// settlement happens later through the verification command.
type cashPaymentStep struct {
	order *domain.Order
}

func (s *cashPaymentStep) Name() string { return "await_cash_payment" }

func (s *cashPaymentStep) Execute(context.Context) error {
	p, err := domain.NewPayment(s.order.ID, domain.MethodCashOnDelivery, s.order.Total)
	if err != nil {
		return err
	}
	if err := p.MarkAsAwaitingCash(); err != nil {
		return err
	}
	return s.order.AttachPayment(p)
}

func (s *cashPaymentStep) Compensate(context.Context) error { return nil }

// persistOrderStep writes order, items, payment and delivery as one
// transaction. It is last, so it is never compensated itself; its failure
// triggers the reservation rollback.
type persistOrderStep struct {
	orders OrderRepository
	order  *domain.Order
}

func (s *persistOrderStep) Name() string { return "persist_order" }

func (s *persistOrderStep) Execute(ctx context.Context) error {
	return s.orders.CreateOrderGraph(ctx, s.order)
}

func (s *persistOrderStep) Compensate(context.Context) error { return nil }
