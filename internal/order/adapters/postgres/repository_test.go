package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mercato/orderflow/internal/order/app"
	"github.com/mercato/orderflow/internal/order/domain"
)

func testPricing() domain.Pricing {
	return domain.Pricing{
		TaxRate:               decimal.NewFromFloat(0.14),
		FreeDeliveryThreshold: decimal.NewFromInt(1000),
		StandardDeliveryFee:   decimal.NewFromInt(50),
	}
}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepository(db, testPricing()), mock
}

var orderColumns = []string{
	"id", "user_id", "number", "status", "payment_method",
	"sub_total", "delivery_fee", "discount", "tax", "total",
	"address", "cart_id", "notes", "deleted", "created_at", "updated_at",
}

func orderRow(mock sqlmock.Sqlmock, orderID, userID uuid.UUID, number, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(orderColumns).AddRow(
		orderID.String(), userID.String(), number, status, "CREDIT_CARD",
		"90", "50", "0", "12.60", "152.60",
		[]byte(`{"recipient":"","phone":"","line1":"","city":"Cairo","postal_code":"","country":"EG"}`),
		"cart-1", "", false, now, now)
}

func expectGraphQueries(mock sqlmock.Sqlmock, orderID, userID uuid.UUID, number, status, paymentStatus string) {
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE number").
		WithArgs(number).
		WillReturnRows(orderRow(mock, orderID, userID, number, status))
	mock.ExpectQuery("FROM order_items").
		WithArgs(orderID.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "order_id", "product_id", "name", "unit_price", "quantity",
			"image_url", "line_discount", "rating_score", "rating_comment", "rated_at",
		}).
			AddRow(uuid.New().String(), orderID.String(), "10", "mug", "25", 2, "", "0", nil, nil, nil).
			AddRow(uuid.New().String(), orderID.String(), "20", "kettle", "40", 1, "", "0", nil, nil, nil))
	mock.ExpectQuery("FROM payments").
		WithArgs(orderID.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "order_id", "method", "status", "amount", "gateway_intent_id",
			"transaction_id", "card_last4", "failure_reason", "refund_id",
			"refunded_amount", "refund_reason", "refunded_at", "verified_by",
			"created_at", "updated_at",
		}).AddRow(uuid.New().String(), orderID.String(), "CREDIT_CARD", paymentStatus, "152.60", "pi_1",
			"", "", "", "", "0", "", nil, "", now, now))
	mock.ExpectQuery("FROM deliveries").
		WithArgs(orderID.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "order_id", "courier_id", "latitude", "longitude", "status",
			"estimated_at", "delivered_at", "created_at", "updated_at",
		}).AddRow(uuid.New().String(), orderID.String(), "", 0.0, 0.0, "PENDING", nil, nil, now, now))
}

func TestGetByNumber(t *testing.T) {
	repo, mock := newMockRepo(t)
	orderID, userID := uuid.New(), uuid.New()
	expectGraphQueries(mock, orderID, userID, "ORD-1", "PENDING", "PROCESSING")

	o, err := repo.GetByNumber(context.Background(), "ORD-1")
	if err != nil {
		t.Fatalf("GetByNumber: %v", err)
	}
	if o.ID != orderID || o.Status != domain.StatusPending {
		t.Fatalf("order = %+v", o)
	}
	if len(o.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(o.Items))
	}
	if o.Payment == nil || o.Payment.Status != domain.PaymentProcessing {
		t.Fatalf("payment = %+v", o.Payment)
	}
	if o.Delivery == nil || o.Delivery.Status != domain.DeliveryPending {
		t.Fatalf("delivery = %+v", o.Delivery)
	}
	if !o.Total.Equal(decimal.RequireFromString("152.60")) {
		t.Fatalf("total = %s", o.Total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetByNumberNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE number").
		WithArgs("ORD-MISSING").
		WillReturnRows(sqlmock.NewRows(orderColumns))

	_, err := repo.GetByNumber(context.Background(), "ORD-MISSING")
	if !errors.Is(err, app.ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestCreateOrderGraph(t *testing.T) {
	repo, mock := newMockRepo(t)

	items := []*domain.Item{
		mustItem(t, "10", 25, 2),
		mustItem(t, "20", 40, 1),
	}
	order, err := domain.NewOrder(uuid.New(), domain.MethodCreditCard,
		domain.AddressSnapshot{City: "Cairo", Country: "EG"},
		"cart-1", "", decimal.Zero, testPricing(), items)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	p, err := domain.NewPayment(order.ID, domain.MethodCreditCard, order.Total)
	if err != nil {
		t.Fatalf("NewPayment: %v", err)
	}
	if err := p.MarkAsProcessing("pi_1"); err != nil {
		t.Fatalf("MarkAsProcessing: %v", err)
	}
	if err := order.AttachPayment(p); err != nil {
		t.Fatalf("AttachPayment: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO deliveries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.CreateOrderGraph(context.Background(), order); err != nil {
		t.Fatalf("CreateOrderGraph: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateOrderGraphRollsBackOnItemFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	order, err := domain.NewOrder(uuid.New(), domain.MethodCreditCard,
		domain.AddressSnapshot{City: "Cairo", Country: "EG"},
		"cart-1", "", decimal.Zero, testPricing(),
		[]*domain.Item{mustItem(t, "10", 25, 2)})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	if err := repo.CreateOrderGraph(context.Background(), order); err == nil {
		t.Fatal("expected an error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateWithLock(t *testing.T) {
	repo, mock := newMockRepo(t)
	orderID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	expectGraphQueries(mock, orderID, userID, "ORD-1", "PENDING", "PROCESSING")
	mock.ExpectExec("UPDATE orders SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payments SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE deliveries SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o, err := repo.UpdateWithLock(context.Background(), "ORD-1", func(o *domain.Order) error {
		return o.CompletePayment("txn_1", "4242")
	})
	if err != nil {
		t.Fatalf("UpdateWithLock: %v", err)
	}
	if o.Status != domain.StatusConfirmed || o.Payment.Status != domain.PaymentCompleted {
		t.Fatalf("order %s / payment %s", o.Status, o.Payment.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateWithLockMutateErrorRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	orderID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	expectGraphQueries(mock, orderID, userID, "ORD-1", "DELIVERED", "COMPLETED")
	mock.ExpectRollback()

	_, err := repo.UpdateWithLock(context.Background(), "ORD-1", func(o *domain.Order) error {
		return o.Cancel("too late")
	})
	if !errors.Is(err, domain.ErrOrderNotCancellable) {
		t.Fatalf("err = %v, want ErrOrderNotCancellable", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func mustItem(t *testing.T, productID string, price float64, qty int) *domain.Item {
	t.Helper()
	it, err := domain.NewItem(productID, "product "+productID, decimal.NewFromFloat(price), qty, "", decimal.Zero)
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	return it
}
