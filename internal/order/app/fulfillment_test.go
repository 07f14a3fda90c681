package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mercato/orderflow/internal/order/domain"
)

type fulfillmentFixture struct {
	orders *memOrders
	events *capturePublisher
	svc    *FulfillmentService
	rec    *Reconciler
}

func newFulfillmentFixture() *fulfillmentFixture {
	f := &fulfillmentFixture{
		orders: newMemOrders(),
		events: &capturePublisher{},
	}
	f.svc = NewFulfillmentService(f.orders, f.events)
	f.rec = NewReconciler(f.orders, &fakeGateway{}, f.events, nil)
	return f
}

// confirmedOrder seeds a card order and settles it, leaving it CONFIRMED
// with a pending delivery.
func (f *fulfillmentFixture) confirmedOrder(t *testing.T) *domain.Order {
	t.Helper()
	rf := &reconcileFixture{orders: f.orders, gateway: &fakeGateway{}, events: f.events}
	rf.rec = f.rec
	order := rf.seedOrder(t, domain.MethodCreditCard)
	if err := f.rec.HandleGatewayEvent(context.Background(), succeededEvent(order.Number)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	f.events.events = nil
	return order
}

func TestCancelAppendsReason(t *testing.T) {
	f := newFulfillmentFixture()
	order := f.confirmedOrder(t)

	got, err := f.svc.Cancel(context.Background(), order.Number, "changed my mind")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if !strings.Contains(got.Notes, "cancelled: changed my mind") {
		t.Fatalf("notes = %q, missing the cancellation reason", got.Notes)
	}
	if n := len(f.events.byRoute(RouteOrderStatusUpdated)); n != 1 {
		t.Fatalf("status events = %d, want 1", n)
	}
}

func TestCancelRejectedOnceOutForDelivery(t *testing.T) {
	f := newFulfillmentFixture()
	order := f.confirmedOrder(t)
	f.advanceTo(t, order.Number, DeliveryActionInTransit)

	if _, err := f.svc.Cancel(context.Background(), order.Number, "too late"); !errors.Is(err, domain.ErrOrderNotCancellable) {
		t.Fatalf("err = %v, want ErrOrderNotCancellable", err)
	}
}

// advanceTo walks the delivery forward through each action up to and
// including target.
func (f *fulfillmentFixture) advanceTo(t *testing.T, number string, target DeliveryAction) {
	t.Helper()
	steps := []DeliveryUpdateCommand{
		{Action: DeliveryActionAssign, CourierID: "courier-7"},
		{Action: DeliveryActionPickUp},
		{Action: DeliveryActionInTransit, Latitude: 30.04, Longitude: 31.24},
		{Action: DeliveryActionDelivered},
	}
	for _, s := range steps {
		if _, err := f.svc.UpdateDelivery(context.Background(), number, s); err != nil {
			t.Fatalf("UpdateDelivery(%s): %v", s.Action, err)
		}
		if s.Action == target {
			return
		}
	}
}

func TestDeliveryProgressAdvancesOrder(t *testing.T) {
	f := newFulfillmentFixture()
	order := f.confirmedOrder(t)

	got, err := f.svc.UpdateDelivery(context.Background(), order.Number,
		DeliveryUpdateCommand{Action: DeliveryActionAssign, CourierID: "courier-7"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != domain.StatusProcessing || got.Delivery.Status != domain.DeliveryAssigned {
		t.Fatalf("order %s / delivery %s after assign", got.Status, got.Delivery.Status)
	}

	got, err = f.svc.UpdateDelivery(context.Background(), order.Number,
		DeliveryUpdateCommand{Action: DeliveryActionPickUp})
	if err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if got.Status != domain.StatusReadyForDelivery {
		t.Fatalf("status = %s after pick up", got.Status)
	}

	got, err = f.svc.UpdateDelivery(context.Background(), order.Number,
		DeliveryUpdateCommand{Action: DeliveryActionInTransit, Latitude: 30.04, Longitude: 31.24})
	if err != nil {
		t.Fatalf("in transit: %v", err)
	}
	if got.Status != domain.StatusOutForDelivery {
		t.Fatalf("status = %s while in transit", got.Status)
	}

	got, err = f.svc.UpdateDelivery(context.Background(), order.Number,
		DeliveryUpdateCommand{Action: DeliveryActionDelivered})
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if got.Status != domain.StatusDelivered || got.Delivery.DeliveredAt == nil {
		t.Fatalf("order %s, delivered at %v", got.Status, got.Delivery.DeliveredAt)
	}
}

func TestDeliveryCannotSkipStages(t *testing.T) {
	f := newFulfillmentFixture()
	order := f.confirmedOrder(t)

	_, err := f.svc.UpdateDelivery(context.Background(), order.Number,
		DeliveryUpdateCommand{Action: DeliveryActionDelivered})
	if !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
	}
}

func TestRateItem(t *testing.T) {
	f := newFulfillmentFixture()
	order := f.confirmedOrder(t)
	f.advanceTo(t, order.Number, DeliveryActionDelivered)

	got, err := f.svc.RateItem(context.Background(), order.Number, "10", 2, "arrived chipped")
	if err != nil {
		t.Fatalf("RateItem: %v", err)
	}
	item, ok := got.ItemByProduct("10")
	if !ok || item.Rating == nil || item.Rating.Score != 2 {
		t.Fatalf("item rating = %+v", item)
	}

	// Ratings are write-once.
	if _, err := f.svc.RateItem(context.Background(), order.Number, "10", 5, ""); !errors.Is(err, domain.ErrAlreadyRated) {
		t.Fatalf("second rating err = %v, want ErrAlreadyRated", err)
	}

	if _, err := f.svc.RateItem(context.Background(), order.Number, "missing", 4, ""); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("unknown product err = %v, want ErrItemNotFound", err)
	}
}
