package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mercato/orderflow/internal/inventory"
	"github.com/mercato/orderflow/internal/order/domain"
)

func testPricing() domain.Pricing {
	return domain.Pricing{
		TaxRate:               decimal.NewFromFloat(0.14),
		FreeDeliveryThreshold: decimal.NewFromInt(1000),
		StandardDeliveryFee:   decimal.NewFromInt(50),
	}
}

func testCartItems() []CartItem {
	return []CartItem{
		{ProductID: "10", Name: "mug", UnitPrice: decimal.NewFromInt(25), Quantity: 2},
		{ProductID: "20", Name: "kettle", UnitPrice: decimal.NewFromInt(40), Quantity: 1},
	}
}

type placementFixture struct {
	carts     *fakeCarts
	addresses *fakeAddresses
	reserver  *fakeReserver
	gateway   *fakeGateway
	orders    *memOrders
	events    *capturePublisher
	svc       *PlacementService
}

func newPlacementFixture() *placementFixture {
	f := &placementFixture{
		carts:     &fakeCarts{items: testCartItems()},
		addresses: &fakeAddresses{addr: domain.AddressSnapshot{City: "Cairo", Country: "EG"}},
		reserver:  &fakeReserver{},
		gateway:   &fakeGateway{intentID: "pi_test_123"},
		orders:    newMemOrders(),
		events:    &capturePublisher{},
	}
	f.svc = NewPlacementService(f.carts, f.addresses, f.reserver, f.gateway, f.orders, f.events, nil, testPricing(), "usd")
	return f
}

func cardCommand() PlaceOrderCommand {
	return PlaceOrderCommand{
		UserID:        uuid.New(),
		CartID:        "cart-1",
		AddressID:     "addr-1",
		PaymentMethod: domain.MethodCreditCard,
		CustomerEmail: "buyer@example.com",
		Discount:      decimal.Zero,
	}
}

func TestPlaceOrderCard(t *testing.T) {
	f := newPlacementFixture()

	order, err := f.svc.PlaceOrder(context.Background(), cardCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if !order.Total.Equal(decimal.RequireFromString("152.60")) {
		t.Fatalf("total = %s, want 152.60", order.Total)
	}
	if order.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", order.Status)
	}
	if order.Payment == nil || order.Payment.Status != domain.PaymentProcessing {
		t.Fatalf("payment = %+v, want PROCESSING", order.Payment)
	}
	if order.Payment.GatewayIntentID != "pi_test_123" {
		t.Fatalf("intent id = %q", order.Payment.GatewayIntentID)
	}

	if _, err := f.orders.GetByNumber(context.Background(), order.Number); err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if len(f.reserver.reserved) != 1 || len(f.reserver.reserved[0]) != 2 {
		t.Fatalf("reserved = %+v, want one call with two lines", f.reserver.reserved)
	}
	if len(f.carts.cleared) != 1 {
		t.Fatalf("cart cleared %d times, want 1", len(f.carts.cleared))
	}
	if got := f.events.byRoute(RouteOrderPlaced); len(got) != 1 {
		t.Fatalf("order.placed events = %d, want 1", len(got))
	}
}

func TestPlaceOrderCashOnDelivery(t *testing.T) {
	f := newPlacementFixture()
	cmd := cardCommand()
	cmd.PaymentMethod = domain.MethodCashOnDelivery

	order, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if order.Payment == nil || order.Payment.Status != domain.PaymentAwaitingCash {
		t.Fatalf("payment = %+v, want AWAITING_CASH_PAYMENT", order.Payment)
	}
	if f.gateway.intents != 0 {
		t.Fatalf("gateway called %d times for a cash order", f.gateway.intents)
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	f := newPlacementFixture()
	f.carts.items = nil

	_, err := f.svc.PlaceOrder(context.Background(), cardCommand())
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("err = %v, want ErrEmptyCart", err)
	}
	if len(f.reserver.reserved) != 0 {
		t.Fatal("inventory touched for an empty cart")
	}
}

func TestPlaceOrderInvalidAddress(t *testing.T) {
	f := newPlacementFixture()
	f.addresses.err = ErrInvalidAddress

	_, err := f.svc.PlaceOrder(context.Background(), cardCommand())
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
	if len(f.reserver.reserved) != 0 {
		t.Fatal("inventory touched with an invalid address")
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	f := newPlacementFixture()
	f.reserver.err = &inventory.InsufficientError{
		Lines: []inventory.LineResult{{ProductID: "20", Quantity: 1}},
	}

	_, err := f.svc.PlaceOrder(context.Background(), cardCommand())

	var denied *inventory.InsufficientError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want *InsufficientError", err)
	}
	if len(denied.Lines) != 1 || denied.Lines[0].ProductID != "20" {
		t.Fatalf("failing lines = %+v", denied.Lines)
	}
	if len(f.orders.byNumber) != 0 {
		t.Fatal("order persisted despite denied reservation")
	}
	// The reservation itself failed, so there is nothing to release.
	if got := f.events.byRoute(RouteInventoryRollback); len(got) != 0 {
		t.Fatalf("rollback events = %d, want 0", len(got))
	}
}

func TestPlaceOrderReservationTimeout(t *testing.T) {
	f := newPlacementFixture()
	f.reserver.err = inventory.ErrServiceUnavailable

	_, err := f.svc.PlaceOrder(context.Background(), cardCommand())
	if !errors.Is(err, inventory.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}

	var denied *inventory.InsufficientError
	if errors.As(err, &denied) {
		t.Fatal("timeout misreported as an inventory denial")
	}
	if len(f.orders.byNumber) != 0 {
		t.Fatal("order persisted despite unavailable inventory")
	}
}

func TestPlaceOrderGatewayFailureReleasesReservation(t *testing.T) {
	f := newPlacementFixture()
	gatewayErr := errors.New("gateway 503")
	f.gateway.intentErr = gatewayErr

	order, err := f.svc.PlaceOrder(context.Background(), cardCommand())
	if !errors.Is(err, gatewayErr) {
		t.Fatalf("err = %v, want the gateway error", err)
	}
	if order != nil {
		t.Fatal("order returned despite failed placement")
	}
	if len(f.orders.byNumber) != 0 {
		t.Fatal("order persisted despite failed placement")
	}

	rollbacks := f.events.byRoute(RouteInventoryRollback)
	if len(rollbacks) != 1 {
		t.Fatalf("rollback events = %d, want exactly 1", len(rollbacks))
	}
	rb := rollbacks[0].event.(InventoryRollbackEvent)
	if len(rb.Items) != 2 {
		t.Fatalf("rollback items = %d, want 2", len(rb.Items))
	}
}

func TestPlaceOrderPersistFailureReleasesReservation(t *testing.T) {
	f := newPlacementFixture()
	f.orders.createErr = errors.New("db down")

	_, err := f.svc.PlaceOrder(context.Background(), cardCommand())
	if !errors.Is(err, f.orders.createErr) {
		t.Fatalf("err = %v, want the persistence error", err)
	}

	if got := f.events.byRoute(RouteInventoryRollback); len(got) != 1 {
		t.Fatalf("rollback events = %d, want exactly 1", len(got))
	}
	if got := f.events.byRoute(RouteOrderPlaced); len(got) != 0 {
		t.Fatalf("order.placed published for a failed placement")
	}
}

func TestPlaceOrderCartClearFailureTolerated(t *testing.T) {
	f := newPlacementFixture()
	f.carts.clearErr = errors.New("cart service down")

	order, err := f.svc.PlaceOrder(context.Background(), cardCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, err := f.orders.GetByNumber(context.Background(), order.Number); err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if got := f.events.byRoute(RouteOrderPlaced); len(got) != 1 {
		t.Fatalf("order.placed events = %d, want 1", len(got))
	}
}

func TestPlaceOrderUnknownPaymentMethod(t *testing.T) {
	f := newPlacementFixture()
	cmd := cardCommand()
	cmd.PaymentMethod = domain.PaymentMethod("WIRE")

	_, err := f.svc.PlaceOrder(context.Background(), cmd)
	if !errors.Is(err, domain.ErrInvalidPaymentMethod) {
		t.Fatalf("err = %v, want ErrInvalidPaymentMethod", err)
	}
	if len(f.reserver.reserved) != 0 {
		t.Fatal("inventory touched for an unsupported payment method")
	}
}
