// Package stripegw adapts the Stripe API to the payment gateway port and
// normalizes webhook callbacks into provider-agnostic gateway events.
package stripegw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/mercato/orderflow/internal/order/app"
)

// metadataOrderNumber carries the order number on the intent so webhook
// callbacks can be correlated back to an order.
const metadataOrderNumber = "order_number"

// Gateway implements app.PaymentGateway against Stripe.
type Gateway struct {
	webhookSecret string
}

var _ app.PaymentGateway = (*Gateway)(nil)

// New configures the global Stripe client key and returns the adapter.
func New(secretKey, webhookSecret string) *Gateway {
	stripe.Key = secretKey
	return &Gateway{webhookSecret: webhookSecret}
}

// CreateIntent opens a payment intent for the order total. Amounts are
// converted to the currency's minor unit, cents for USD.
func (g *Gateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, customerEmail, orderRef string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(amount)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if customerEmail != "" {
		params.ReceiptEmail = stripe.String(customerEmail)
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderNumber, orderRef)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create intent for %s: %w", orderRef, err)
	}
	return pi.ID, nil
}

// Refund refunds against the original intent. A nil amount refunds in full.
func (g *Gateway) Refund(ctx context.Context, intentID string, amount *decimal.Decimal) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	if amount != nil {
		params.Amount = stripe.Int64(minorUnits(*amount))
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: refund intent %s: %w", intentID, err)
	}
	return r.ID, nil
}

// ParseWebhook verifies the signature and normalizes the event. Event types
// this service does not reconcile come back as GatewayEventIgnored so the
// handler can ack them without touching any order.
func (g *Gateway) ParseWebhook(payload []byte, signatureHeader string) (app.GatewayEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		return app.GatewayEvent{}, fmt.Errorf("stripe: verify webhook: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	default:
		return app.GatewayEvent{EventID: event.ID, Type: app.GatewayEventIgnored}, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return app.GatewayEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
	}

	out := app.GatewayEvent{
		EventID:     event.ID,
		IntentID:    pi.ID,
		OrderNumber: pi.Metadata[metadataOrderNumber],
	}

	switch event.Type {
	case "payment_intent.succeeded":
		out.Type = app.GatewayPaymentSucceeded
		out.TransactionID = pi.ID
		if ch := pi.LatestCharge; ch != nil {
			out.TransactionID = ch.ID
			// PaymentMethodDetails is only populated when the charge is
			// expanded in the event payload.
			if ch.PaymentMethodDetails != nil && ch.PaymentMethodDetails.Card != nil {
				out.CardLast4 = ch.PaymentMethodDetails.Card.Last4
			}
		}
	case "payment_intent.payment_failed":
		out.Type = app.GatewayPaymentFailed
		out.FailureReason = "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			out.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return out, nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
