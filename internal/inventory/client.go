// Package inventory implements the reservation client: a synchronous
// request/response exchange over an asynchronous message transport. The
// inventory authority serializes conflicting reservations on its side; the
// price this caller pays is that "no answer" is its own outcome class,
// distinct from "denied".
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrServiceUnavailable is returned when no correlated response arrives
// within the bounded wait. The reservation outcome is unknown; the caller
// must not commit an order on top of it.
var ErrServiceUnavailable = errors.New("inventory: no reservation response within deadline")

// Line is one (product, quantity) pair to reserve.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineResult is the per-line detail carried by a reservation response.
type LineResult struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Available bool   `json:"available"`
}

// InsufficientError reports a denied reservation with the failing lines.
type InsufficientError struct {
	OrderNumber string
	Lines       []LineResult
}

func (e *InsufficientError) Error() string {
	ids := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		ids = append(ids, l.ProductID)
	}
	return fmt.Sprintf("inventory: insufficient stock for order %s (products %s)", e.OrderNumber, strings.Join(ids, ", "))
}

// Request is the wire form of a reservation (or availability) request. It is
// transient: created per placement attempt, consumed once, discarded.
type Request struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	Lines         []Line `json:"lines"`
}

// Response is the correlated answer from the inventory authority.
type Response struct {
	CorrelationID string       `json:"correlation_id"`
	OrderID       string       `json:"order_id"`
	Success       bool         `json:"success"`
	Lines         []LineResult `json:"lines"`
}

// Transport publishes a request message carrying the correlation id and the
// reply address. Responses come back through HandleReply via the transport's
// reply-queue consumer.
type Transport interface {
	PublishRequest(ctx context.Context, routingKey string, correlationID string, body []byte) error
}

const (
	// RouteReserve carries full reservation requests.
	RouteReserve = "inventory.reserve.request"
	// RouteCheck carries read-only availability checks.
	RouteCheck = "inventory.check.request"
)

// Client keeps a correlation-id-keyed table of pending requests. One Client
// per process; a single reply consumer feeds HandleReply.
type Client struct {
	transport Transport
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan Response
}

// New builds a reservation client with the given bounded wait. A
// non-positive timeout falls back to 30s.
func New(transport Transport, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		transport: transport,
		timeout:   timeout,
		pending:   make(map[string]chan Response),
	}
}

// Reserve sends all lines as a single message and blocks for the correlated
// response. Outcomes: nil (reserved), *InsufficientError (denied),
// ErrServiceUnavailable (timed out, outcome unknown), or the caller's
// context error.
func (c *Client) Reserve(ctx context.Context, orderID, orderNumber string, lines []Line) error {
	resp, err := c.roundTrip(ctx, RouteReserve, orderID, orderNumber, lines)
	if err != nil {
		return err
	}
	if resp.Success {
		return nil
	}
	failing := make([]LineResult, 0, len(resp.Lines))
	for _, l := range resp.Lines {
		if !l.Available {
			failing = append(failing, l)
		}
	}
	return &InsufficientError{OrderNumber: orderNumber, Lines: failing}
}

// CheckAvailability is the lighter-weight read-only probe on the same
// transport. It holds nothing and must not be used as the basis for a
// commit.
func (c *Client) CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	resp, err := c.roundTrip(ctx, RouteCheck, "", "", []Line{{ProductID: productID, Quantity: quantity}})
	if err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (c *Client) roundTrip(ctx context.Context, route, orderID, orderNumber string, lines []Line) (Response, error) {
	corrID := uuid.NewString()
	ch := c.register(corrID)
	// Deregister on every exit path so a timed-out or cancelled wait never
	// leaks a dangling correlation entry.
	defer c.deregister(corrID)

	body, err := json.Marshal(Request{
		CorrelationID: corrID,
		OrderID:       orderID,
		OrderNumber:   orderNumber,
		Lines:         lines,
	})
	if err != nil {
		return Response{}, fmt.Errorf("inventory: marshal request: %w", err)
	}
	if err := c.transport.PublishRequest(ctx, route, corrID, body); err != nil {
		return Response{}, fmt.Errorf("inventory: publish request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-timer.C:
		return Response{}, fmt.Errorf("%w (correlation %s)", ErrServiceUnavailable, corrID)
	}
}

// HandleReply resolves the pending request matching the response's
// correlation id. Late or unknown responses are dropped with a log line;
// the waiting side has already treated the attempt as unavailable.
func (c *Client) HandleReply(body []byte) error {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("inventory: unmarshal response: %w", err)
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.CorrelationID]
	c.mu.Unlock()
	if !ok {
		slog.Warn("inventory: dropping uncorrelated response", "correlation_id", resp.CorrelationID)
		return nil
	}
	select {
	case ch <- resp:
	default:
		// Buffered with capacity 1; a second delivery for the same id is a
		// duplicate and can be dropped.
	}
	return nil
}

// PendingCount reports the size of the correlation table.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) register(corrID string) chan Response {
	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[corrID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) deregister(corrID string) {
	c.mu.Lock()
	delete(c.pending, corrID)
	c.mu.Unlock()
}
