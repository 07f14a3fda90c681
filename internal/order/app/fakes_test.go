package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mercato/orderflow/internal/inventory"
	"github.com/mercato/orderflow/internal/order/domain"
)

type fakeCarts struct {
	items    []CartItem
	getErr   error
	clearErr error
	cleared  []string
}

var _ CartSource = (*fakeCarts)(nil)

func (f *fakeCarts) GetCartItems(context.Context, uuid.UUID, string) ([]CartItem, error) {
	return f.items, f.getErr
}

func (f *fakeCarts) ClearCart(_ context.Context, cartID string) error {
	f.cleared = append(f.cleared, cartID)
	return f.clearErr
}

type fakeAddresses struct {
	addr domain.AddressSnapshot
	err  error
}

var _ AddressSource = (*fakeAddresses)(nil)

func (f *fakeAddresses) GetAddress(context.Context, uuid.UUID, string) (domain.AddressSnapshot, error) {
	return f.addr, f.err
}

type fakeReserver struct {
	err       error
	reserved  [][]inventory.Line
	available bool
}

var _ Reserver = (*fakeReserver)(nil)

func (f *fakeReserver) Reserve(_ context.Context, _, _ string, lines []inventory.Line) error {
	if f.err != nil {
		return f.err
	}
	f.reserved = append(f.reserved, lines)
	return nil
}

func (f *fakeReserver) CheckAvailability(context.Context, string, int) (bool, error) {
	return f.available, nil
}

type fakeGateway struct {
	intentID  string
	intentErr error
	intents   int

	refundID   string
	refundErr  error
	refundedID string
	refunded   *decimal.Decimal
}

var _ PaymentGateway = (*fakeGateway)(nil)

func (f *fakeGateway) CreateIntent(context.Context, decimal.Decimal, string, string, string) (string, error) {
	if f.intentErr != nil {
		return "", f.intentErr
	}
	f.intents++
	return f.intentID, nil
}

func (f *fakeGateway) Refund(_ context.Context, intentID string, amount *decimal.Decimal) (string, error) {
	if f.refundErr != nil {
		return "", f.refundErr
	}
	f.refundedID = intentID
	f.refunded = amount
	return f.refundID, nil
}

// memOrders keeps aggregates in a map keyed by order number. UpdateWithLock
// applies the mutation in place, mirroring the row-locked repository.
type memOrders struct {
	mu        sync.Mutex
	byNumber  map[string]*domain.Order
	createErr error
}

var _ OrderRepository = (*memOrders)(nil)

func newMemOrders() *memOrders {
	return &memOrders{byNumber: make(map[string]*domain.Order)}
}

func (m *memOrders) CreateOrderGraph(_ context.Context, o *domain.Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byNumber[o.Number] = o
	return nil
}

func (m *memOrders) GetByNumber(_ context.Context, number string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byNumber[number]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (m *memOrders) UpdateWithLock(_ context.Context, number string, mutate func(*domain.Order) error) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byNumber[number]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if err := mutate(o); err != nil {
		return nil, err
	}
	return o, nil
}

type publishedEvent struct {
	route string
	event any
}

type capturePublisher struct {
	events []publishedEvent
	err    error
}

var _ EventPublisher = (*capturePublisher)(nil)

func (p *capturePublisher) PublishEvent(_ context.Context, routingKey string, event any) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{route: routingKey, event: event})
	return nil
}

func (p *capturePublisher) byRoute(route string) []publishedEvent {
	var out []publishedEvent
	for _, e := range p.events {
		if e.route == route {
			out = append(out, e)
		}
	}
	return out
}

type memCache struct {
	values map[string]string
}

var _ IdempotencyCache = (*memCache)(nil)

func newMemCache() *memCache { return &memCache{values: make(map[string]string)} }

func (c *memCache) Get(_ context.Context, key string) (string, error) {
	return c.values[key], nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s, ok := value.(string); ok {
		c.values[key] = s
	} else {
		c.values[key] = "1"
	}
	return nil
}

func (c *memCache) GenerateKey(operation, key string) string {
	return operation + ":" + key
}
