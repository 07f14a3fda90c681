package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercato/orderflow/internal/order/domain"
)

// GatewayEventType classifies a normalized gateway callback.
type GatewayEventType string

const (
	GatewayPaymentSucceeded GatewayEventType = "payment_succeeded"
	GatewayPaymentFailed    GatewayEventType = "payment_failed"
	// GatewayEventIgnored marks provider event types this service does not
	// reconcile; the webhook still acks them.
	GatewayEventIgnored GatewayEventType = "ignored"
)

// GatewayEvent is the provider-agnostic form of an asynchronous payment
// outcome, correlated to an order number via the intent's metadata.
type GatewayEvent struct {
	EventID       string
	Type          GatewayEventType
	IntentID      string
	OrderNumber   string
	TransactionID string
	CardLast4     string
	FailureReason string
}

// Reconciler applies externally-sourced payment outcomes to existing
// orders, idempotently. All order/payment mutations run under the
// repository's row lock so redelivered webhooks cannot double-advance state.
type Reconciler struct {
	orders  OrderRepository
	gateway PaymentGateway
	events  EventPublisher
	seen    IdempotencyCache // nil-safe: dedupe falls back to the domain guard
}

func NewReconciler(orders OrderRepository, gateway PaymentGateway, events EventPublisher, seen IdempotencyCache) *Reconciler {
	return &Reconciler{orders: orders, gateway: gateway, events: events, seen: seen}
}

// HandleGatewayEvent routes a webhook outcome. Redelivery of an event that
// was already applied is a success, not an error.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, ev GatewayEvent) error {
	if ev.Type == GatewayEventIgnored {
		return nil
	}

	var cacheKey string
	if r.seen != nil && ev.EventID != "" {
		cacheKey = r.seen.GenerateKey("gateway-event", ev.EventID)
		if v, err := r.seen.Get(ctx, cacheKey); err == nil && v != "" {
			slog.InfoContext(ctx, "gateway event already processed",
				"event_id", ev.EventID, "order_number", ev.OrderNumber)
			return nil
		}
	}

	var err error
	switch ev.Type {
	case GatewayPaymentSucceeded:
		err = r.completeCardPayment(ctx, ev)
	case GatewayPaymentFailed:
		err = r.failCardPayment(ctx, ev)
	default:
		slog.WarnContext(ctx, "unhandled gateway event type", "type", string(ev.Type))
		return nil
	}
	if err != nil {
		return err
	}

	if cacheKey != "" {
		if err := r.seen.Set(ctx, cacheKey, "1", 24*time.Hour); err != nil {
			slog.WarnContext(ctx, "failed to record processed gateway event", "event_id", ev.EventID, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) completeCardPayment(ctx context.Context, ev GatewayEvent) error {
	var duplicate bool
	order, err := r.orders.UpdateWithLock(ctx, ev.OrderNumber, func(o *domain.Order) error {
		if o.Payment == nil {
			return domain.ErrNoPayment
		}
		if o.Payment.Status == domain.PaymentCompleted {
			// Webhooks may be redelivered; an already-settled payment is a
			// no-op, not an error.
			duplicate = true
			return nil
		}
		return o.CompletePayment(ev.TransactionID, ev.CardLast4)
	})
	if err != nil {
		return err
	}
	if duplicate {
		slog.InfoContext(ctx, "duplicate payment webhook ignored", "order_number", ev.OrderNumber)
		return nil
	}

	r.publishStatus(ctx, order)
	r.publish(ctx, RoutePaymentCompleted, PaymentCompletedEvent{
		OrderID:       order.ID.String(),
		OrderNumber:   order.Number,
		UserID:        order.UserID.String(),
		Method:        string(order.Payment.Method),
		TransactionID: order.Payment.TransactionID,
		Amount:        order.Payment.Amount,
		CompletedAt:   order.Payment.UpdatedAt,
	})
	return nil
}

// failCardPayment is the saga's post-commit compensation: the payment failed
// after inventory was held, so the held lines must be released.
func (r *Reconciler) failCardPayment(ctx context.Context, ev GatewayEvent) error {
	var duplicate bool
	order, err := r.orders.UpdateWithLock(ctx, ev.OrderNumber, func(o *domain.Order) error {
		if o.Payment == nil {
			return domain.ErrNoPayment
		}
		if o.Payment.Status == domain.PaymentFailed {
			duplicate = true
			return nil
		}
		return o.FailPayment(ev.FailureReason)
	})
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}

	r.publishStatus(ctx, order)
	r.publish(ctx, RouteInventoryRollback, InventoryRollbackEvent{
		OrderID:     order.ID.String(),
		OrderNumber: order.Number,
		Items:       eventLines(order),
		Reason:      "payment failed: " + ev.FailureReason,
		RequestedAt: time.Now().UTC(),
	})
	return nil
}

// VerifyCashPayment applies the courier-side verification command. A second
// verification fails with ErrInvalidPaymentState from the domain.
func (r *Reconciler) VerifyCashPayment(ctx context.Context, orderNumber, verifiedBy, transactionID string) (*domain.Order, error) {
	order, err := r.orders.UpdateWithLock(ctx, orderNumber, func(o *domain.Order) error {
		return o.VerifyCashPayment(verifiedBy, transactionID)
	})
	if err != nil {
		return nil, err
	}

	r.publishStatus(ctx, order)
	r.publish(ctx, RoutePaymentCompleted, PaymentCompletedEvent{
		OrderID:       order.ID.String(),
		OrderNumber:   order.Number,
		UserID:        order.UserID.String(),
		Method:        string(order.Payment.Method),
		TransactionID: order.Payment.TransactionID,
		Amount:        order.Payment.Amount,
		CompletedAt:   order.Payment.UpdatedAt,
	})
	return order, nil
}

// Refund pushes a refund through the gateway and accumulates it on the
// payment. A nil amount refunds the remainder.
func (r *Reconciler) Refund(ctx context.Context, orderNumber string, amount *decimal.Decimal, reason string) (*domain.Order, error) {
	current, err := r.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if current.Payment == nil {
		return nil, domain.ErrNoPayment
	}

	refundAmount := current.Payment.Amount.Sub(current.Payment.RefundedAmount)
	if amount != nil {
		refundAmount = *amount
	}

	refundID, err := r.gateway.Refund(ctx, current.Payment.GatewayIntentID, &refundAmount)
	if err != nil {
		return nil, err
	}

	return r.orders.UpdateWithLock(ctx, orderNumber, func(o *domain.Order) error {
		if o.Payment == nil {
			return domain.ErrNoPayment
		}
		return o.Payment.ApplyRefund(refundID, refundAmount, reason)
	})
}

func (r *Reconciler) publishStatus(ctx context.Context, o *domain.Order) {
	r.publish(ctx, RouteOrderStatusUpdated, OrderStatusUpdatedEvent{
		OrderID:     o.ID.String(),
		OrderNumber: o.Number,
		UserID:      o.UserID.String(),
		Status:      string(o.Status),
		UpdatedAt:   o.UpdatedAt,
	})
}

func (r *Reconciler) publish(ctx context.Context, route string, event any) {
	if err := r.events.PublishEvent(ctx, route, event); err != nil {
		slog.ErrorContext(ctx, "failed to publish event", "route", route, "error", err)
	}
}
