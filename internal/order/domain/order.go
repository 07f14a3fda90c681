// Package domain owns the Order aggregate: order, payment and delivery state
// plus the legal-transition rules. It has no external dependencies beyond id
// and money types; everything side-effectful lives in the app layer.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AddressSnapshot is the delivery address captured at placement time. Later
// edits to the customer's address book never alter a placed order.
type AddressSnapshot struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Pricing is the policy snapshot the aggregate uses to keep totals
// consistent with the item set. Captured at creation so a later rate change
// never silently reprices an existing order.
type Pricing struct {
	TaxRate               decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
	StandardDeliveryFee   decimal.Decimal
}

// Order is the aggregate root. All state changes go through its methods;
// totals are never set from outside.
type Order struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Number        string
	Status        Status
	PaymentMethod PaymentMethod

	SubTotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal

	Address AddressSnapshot
	CartID  string
	Notes   string

	Items    []*Item
	Payment  *Payment
	Delivery *Delivery

	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time

	pricing Pricing
}

// NewOrder constructs a pending order with its items and an initial pending
// delivery. Item construction is all-or-nothing: the caller validates each
// line via NewItem before calling this.
func NewOrder(userID uuid.UUID, method PaymentMethod, address AddressSnapshot, cartID, notes string, discount decimal.Decimal, pricing Pricing, items []*Item) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	now := time.Now().UTC()
	o := &Order{
		ID:            uuid.New(),
		UserID:        userID,
		Number:        newOrderNumber(now),
		Status:        StatusPending,
		PaymentMethod: method,
		Discount:      discount,
		Address:       address,
		CartID:        cartID,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
		pricing:       pricing,
	}
	for _, it := range items {
		it.OrderID = o.ID
		o.Items = append(o.Items, it)
	}
	o.recomputeTotals()
	o.Delivery = NewDelivery(o.ID)
	return o, nil
}

// newOrderNumber builds the unique human-readable reference, e.g.
// ORD-20260829-1A2B3C4D.
func newOrderNumber(t time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("ORD-%s-%s", t.Format("20060102"), suffix)
}

// RestorePricing re-attaches the pricing policy after loading from storage.
func (o *Order) RestorePricing(p Pricing) { o.pricing = p }

// TransitionTo moves the order through the legal-transition table. An
// illegal move fails with ErrInvalidStateTransition and leaves the order,
// including UpdatedAt, untouched.
func (o *Order) TransitionTo(target Status) error {
	if !o.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, o.Status, target)
	}
	o.Status = target
	o.touch()
	return nil
}

// AddItem appends a line and recomputes totals. Items are mutable only
// while the order is PENDING.
func (o *Order) AddItem(it *Item) error {
	if o.Status != StatusPending {
		return fmt.Errorf("%w: status is %s", ErrOrderNotModifiable, o.Status)
	}
	it.OrderID = o.ID
	o.Items = append(o.Items, it)
	o.recomputeTotals()
	o.touch()
	return nil
}

// RemoveItem drops a line and recomputes totals.
func (o *Order) RemoveItem(itemID uuid.UUID) error {
	if o.Status != StatusPending {
		return fmt.Errorf("%w: status is %s", ErrOrderNotModifiable, o.Status)
	}
	for idx, it := range o.Items {
		if it.ID == itemID {
			o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
			o.recomputeTotals()
			o.touch()
			return nil
		}
	}
	return ErrItemNotFound
}

// ItemByProduct finds the line for a product id, if any.
func (o *Order) ItemByProduct(productID string) (*Item, bool) {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return nil, false
}

// recomputeTotals rebuilds the monetary breakdown from the item set. The
// invariant Total = SubTotal - Discount + Tax + DeliveryFee holds after
// every call.
func (o *Order) recomputeTotals() {
	sub := decimal.Zero
	for _, it := range o.Items {
		sub = sub.Add(it.LineTotal())
	}
	o.SubTotal = sub
	o.Tax = sub.Mul(o.pricing.TaxRate).Round(2)
	if o.pricing.FreeDeliveryThreshold.IsPositive() && sub.GreaterThanOrEqual(o.pricing.FreeDeliveryThreshold) {
		o.DeliveryFee = decimal.Zero
	} else {
		o.DeliveryFee = o.pricing.StandardDeliveryFee
	}
	o.Total = o.SubTotal.Sub(o.Discount).Add(o.Tax).Add(o.DeliveryFee)
}

// AttachPayment links the single payment. The amount must equal the order
// total at creation time.
func (o *Order) AttachPayment(p *Payment) error {
	if o.Payment != nil {
		return ErrPaymentAlreadyExists
	}
	if !p.Amount.Equal(o.Total) {
		return fmt.Errorf("%w: payment %s vs total %s", ErrPaymentAmountMismatch, p.Amount, o.Total)
	}
	p.OrderID = o.ID
	o.Payment = p
	o.touch()
	return nil
}

// PaymentStatus exposes the payment sub-state; PENDING before a payment is
// attached.
func (o *Order) PaymentStatus() PaymentStatus {
	if o.Payment == nil {
		return PaymentPending
	}
	return o.Payment.Status
}

// UpdatePaymentStatus is the side-channel coupling between payment outcome
// and order progress: a settled payment auto-confirms a pending order, a
// failed payment auto-fails it. Callers must invoke it inside the same
// transactional boundary as the payment mutation.
func (o *Order) UpdatePaymentStatus(status PaymentStatus) error {
	switch status {
	case PaymentCompleted, PaymentCashVerified:
		if o.Status == StatusPending {
			return o.TransitionTo(StatusConfirmed)
		}
	case PaymentFailed:
		if o.Status == StatusPending {
			return o.TransitionTo(StatusFailed)
		}
	}
	return nil
}

// CompletePayment settles the card payment and advances the order.
func (o *Order) CompletePayment(transactionID, cardLast4 string) error {
	if o.Payment == nil {
		return ErrNoPayment
	}
	if err := o.Payment.MarkAsCompleted(transactionID, cardLast4); err != nil {
		return err
	}
	return o.UpdatePaymentStatus(PaymentCompleted)
}

// FailPayment records the gateway failure and advances the order.
func (o *Order) FailPayment(reason string) error {
	if o.Payment == nil {
		return ErrNoPayment
	}
	if err := o.Payment.MarkAsFailed(reason); err != nil {
		return err
	}
	return o.UpdatePaymentStatus(PaymentFailed)
}

// VerifyCashPayment settles a cash-on-delivery payment and advances the
// order if it is still pending.
func (o *Order) VerifyCashPayment(verifiedBy, transactionID string) error {
	if o.Payment == nil {
		return ErrNoPayment
	}
	if err := o.Payment.MarkAsCashPaymentVerified(verifiedBy, transactionID); err != nil {
		return err
	}
	return o.UpdatePaymentStatus(PaymentCashVerified)
}

// Cancel is permitted unless the order is delivered or out for delivery.
// The reason is appended as an audit note, never overwriting existing notes.
func (o *Order) Cancel(reason string) error {
	if o.Status == StatusDelivered || o.Status == StatusOutForDelivery {
		return fmt.Errorf("%w: status is %s", ErrOrderNotCancellable, o.Status)
	}
	if err := o.TransitionTo(StatusCancelled); err != nil {
		return err
	}
	o.AppendNote("cancelled: " + reason)
	return nil
}

// AppendNote adds an audit line to the free-text notes.
func (o *Order) AppendNote(note string) {
	stamp := time.Now().UTC().Format(time.RFC3339)
	if o.Notes == "" {
		o.Notes = fmt.Sprintf("[%s] %s", stamp, note)
	} else {
		o.Notes = fmt.Sprintf("%s\n[%s] %s", o.Notes, stamp, note)
	}
	o.touch()
}

// SoftDelete hides the order from listings without destroying history.
func (o *Order) SoftDelete() {
	o.Deleted = true
	o.touch()
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
