package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod selects the settlement flow for an order.
type PaymentMethod string

const (
	MethodCreditCard     PaymentMethod = "CREDIT_CARD"
	MethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
)

// ParsePaymentMethod maps a request value to a PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodCreditCard, MethodCashOnDelivery:
		return PaymentMethod(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
	}
}

// PaymentStatus is the lifecycle state of a Payment.
type PaymentStatus string

const (
	PaymentPending             PaymentStatus = "PENDING"
	PaymentProcessing          PaymentStatus = "PROCESSING"
	PaymentCompleted           PaymentStatus = "COMPLETED"
	PaymentFailed              PaymentStatus = "FAILED"
	PaymentRefunded            PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded   PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentAwaitingCash        PaymentStatus = "AWAITING_CASH_PAYMENT"
	PaymentCashVerified        PaymentStatus = "CASH_PAYMENT_VERIFIED"
)

// Payment belongs to exactly one order. It is created once during placement
// and only ever transitioned, never replaced.
type Payment struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	Method          PaymentMethod
	Status          PaymentStatus
	Amount          decimal.Decimal
	GatewayIntentID string
	TransactionID   string
	CardLast4       string
	FailureReason   string

	// Refund metadata. RefundedAmount accumulates across partial refunds.
	RefundID       string
	RefundedAmount decimal.Decimal
	RefundReason   string
	RefundedAt     *time.Time

	// VerifiedBy identifies the courier or operator who confirmed a cash
	// payment.
	VerifiedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPayment builds a pending payment. The amount must equal the order's
// total; AttachPayment on the aggregate enforces that.
func NewPayment(orderID uuid.UUID, method PaymentMethod, amount decimal.Decimal) (*Payment, error) {
	if method != MethodCreditCard && method != MethodCashOnDelivery {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, method)
	}
	if amount.IsNegative() {
		return nil, ErrPaymentAmountMismatch
	}
	now := time.Now().UTC()
	return &Payment{
		ID:             uuid.New(),
		OrderID:        orderID,
		Method:         method,
		Status:         PaymentPending,
		Amount:         amount,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// MarkAsProcessing records the gateway intent and moves the payment into
// PROCESSING. Only card payments go through the gateway.
func (p *Payment) MarkAsProcessing(intentID string) error {
	if p.Method != MethodCreditCard {
		return fmt.Errorf("%w: only card payments can be marked processing", ErrInvalidPaymentState)
	}
	if p.Status != PaymentPending {
		return fmt.Errorf("%w: cannot move %s to %s", ErrInvalidPaymentState, p.Status, PaymentProcessing)
	}
	p.GatewayIntentID = intentID
	p.setStatus(PaymentProcessing)
	return nil
}

// MarkAsCompleted settles the payment with the provider's transaction id and
// the masked card summary (last four digits only).
func (p *Payment) MarkAsCompleted(transactionID, cardLast4 string) error {
	if p.Status != PaymentPending && p.Status != PaymentProcessing {
		return fmt.Errorf("%w: cannot complete from %s", ErrInvalidPaymentState, p.Status)
	}
	p.TransactionID = transactionID
	if len(cardLast4) > 4 {
		cardLast4 = cardLast4[len(cardLast4)-4:]
	}
	p.CardLast4 = cardLast4
	p.setStatus(PaymentCompleted)
	return nil
}

// MarkAsFailed records the provider's failure reason.
func (p *Payment) MarkAsFailed(reason string) error {
	if p.Status != PaymentPending && p.Status != PaymentProcessing {
		return fmt.Errorf("%w: cannot fail from %s", ErrInvalidPaymentState, p.Status)
	}
	p.FailureReason = reason
	p.setStatus(PaymentFailed)
	return nil
}

// MarkAsAwaitingCash parks a cash-on-delivery payment until a courier-side
// verification command arrives.
func (p *Payment) MarkAsAwaitingCash() error {
	if p.Method != MethodCashOnDelivery {
		return fmt.Errorf("%w: only cash payments can await verification", ErrInvalidPaymentState)
	}
	if p.Status != PaymentPending {
		return fmt.Errorf("%w: cannot move %s to %s", ErrInvalidPaymentState, p.Status, PaymentAwaitingCash)
	}
	p.setStatus(PaymentAwaitingCash)
	return nil
}

// MarkAsCashPaymentVerified settles a cash payment. A transaction id is
// generated when the verifier supplies none so every verified payment carries
// a non-empty reference.
func (p *Payment) MarkAsCashPaymentVerified(verifiedBy, transactionID string) error {
	if p.Method != MethodCashOnDelivery {
		return fmt.Errorf("%w: payment method is %s", ErrInvalidPaymentState, p.Method)
	}
	if p.Status != PaymentAwaitingCash {
		return fmt.Errorf("%w: cannot verify cash payment from %s", ErrInvalidPaymentState, p.Status)
	}
	if transactionID == "" {
		transactionID = "cash-" + uuid.NewString()
	}
	p.TransactionID = transactionID
	p.VerifiedBy = verifiedBy
	p.setStatus(PaymentCashVerified)
	return nil
}

// ApplyRefund accumulates a refund against a settled payment. Once the
// accumulated amount reaches the payment amount the status becomes REFUNDED,
// otherwise PARTIALLY_REFUNDED.
func (p *Payment) ApplyRefund(refundID string, amount decimal.Decimal, reason string) error {
	if p.Status != PaymentCompleted && p.Status != PaymentPartiallyRefunded {
		return fmt.Errorf("%w: cannot refund from %s", ErrInvalidPaymentState, p.Status)
	}
	if !amount.IsPositive() || p.RefundedAmount.Add(amount).GreaterThan(p.Amount) {
		return ErrInvalidRefundAmount
	}
	p.RefundID = refundID
	p.RefundedAmount = p.RefundedAmount.Add(amount)
	p.RefundReason = reason
	now := time.Now().UTC()
	p.RefundedAt = &now
	if p.RefundedAmount.GreaterThanOrEqual(p.Amount) {
		p.setStatus(PaymentRefunded)
	} else {
		p.setStatus(PaymentPartiallyRefunded)
	}
	return nil
}

// Settled reports whether money has been secured for this payment, in either
// the card or the cash flow.
func (p *Payment) Settled() bool {
	switch p.Status {
	case PaymentCompleted, PaymentCashVerified, PaymentRefunded, PaymentPartiallyRefunded:
		return true
	}
	return false
}

func (p *Payment) setStatus(s PaymentStatus) {
	p.Status = s
	p.UpdatedAt = time.Now().UTC()
}
