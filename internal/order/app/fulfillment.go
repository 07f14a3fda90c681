package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mercato/orderflow/internal/order/domain"
)

// FulfillmentService covers the post-placement order surface that is not
// payment reconciliation: cancellation, courier-side delivery progress and
// item ratings.
type FulfillmentService struct {
	orders OrderRepository
	events EventPublisher
}

func NewFulfillmentService(orders OrderRepository, events EventPublisher) *FulfillmentService {
	return &FulfillmentService{orders: orders, events: events}
}

// Cancel cancels the order unless it is delivered or out for delivery.
func (s *FulfillmentService) Cancel(ctx context.Context, orderNumber, reason string) (*domain.Order, error) {
	order, err := s.orders.UpdateWithLock(ctx, orderNumber, func(o *domain.Order) error {
		return o.Cancel(reason)
	})
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, order)
	return order, nil
}

// DeliveryAction names a courier-side delivery progress command.
type DeliveryAction string

const (
	DeliveryActionAssign    DeliveryAction = "assign"
	DeliveryActionPickUp    DeliveryAction = "pick_up"
	DeliveryActionInTransit DeliveryAction = "in_transit"
	DeliveryActionDelivered DeliveryAction = "delivered"
)

// DeliveryUpdateCommand carries one delivery progress action.
type DeliveryUpdateCommand struct {
	Action      DeliveryAction
	CourierID   string
	EstimatedAt *time.Time
	Latitude    float64
	Longitude   float64
}

// UpdateDelivery advances the delivery sub-machine and, where the order
// machine has a matching stage, the order itself.
func (s *FulfillmentService) UpdateDelivery(ctx context.Context, orderNumber string, cmd DeliveryUpdateCommand) (*domain.Order, error) {
	order, err := s.orders.UpdateWithLock(ctx, orderNumber, func(o *domain.Order) error {
		if o.Delivery == nil {
			return domain.ErrInvalidStateTransition
		}
		switch cmd.Action {
		case DeliveryActionAssign:
			if err := o.Delivery.Assign(cmd.CourierID, cmd.EstimatedAt); err != nil {
				return err
			}
			if o.Status == domain.StatusConfirmed {
				return o.TransitionTo(domain.StatusProcessing)
			}
			return nil
		case DeliveryActionPickUp:
			if err := o.Delivery.MarkPickedUp(); err != nil {
				return err
			}
			if o.Status == domain.StatusProcessing {
				return o.TransitionTo(domain.StatusReadyForDelivery)
			}
			return nil
		case DeliveryActionInTransit:
			if err := o.Delivery.MarkInTransit(cmd.Latitude, cmd.Longitude); err != nil {
				return err
			}
			if o.Status == domain.StatusReadyForDelivery {
				return o.TransitionTo(domain.StatusOutForDelivery)
			}
			return nil
		case DeliveryActionDelivered:
			if err := o.Delivery.MarkDelivered(time.Now().UTC()); err != nil {
				return err
			}
			if o.Status == domain.StatusOutForDelivery {
				return o.TransitionTo(domain.StatusDelivered)
			}
			return nil
		default:
			return fmt.Errorf("unknown delivery action %q", cmd.Action)
		}
	})
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, order)
	return order, nil
}

// RateItem attaches the terminal rating to one order line.
func (s *FulfillmentService) RateItem(ctx context.Context, orderNumber, productID string, score int, comment string) (*domain.Order, error) {
	return s.orders.UpdateWithLock(ctx, orderNumber, func(o *domain.Order) error {
		item, ok := o.ItemByProduct(productID)
		if !ok {
			return domain.ErrItemNotFound
		}
		return item.Rate(score, comment)
	})
}

func (s *FulfillmentService) publishStatus(ctx context.Context, o *domain.Order) {
	event := OrderStatusUpdatedEvent{
		OrderID:     o.ID.String(),
		OrderNumber: o.Number,
		UserID:      o.UserID.String(),
		Status:      string(o.Status),
		UpdatedAt:   o.UpdatedAt,
	}
	if err := s.events.PublishEvent(ctx, RouteOrderStatusUpdated, event); err != nil {
		slog.ErrorContext(ctx, "failed to publish status event",
			"order_number", o.Number, "error", err)
	}
}
