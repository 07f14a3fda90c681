// Package httpx is the HTTP surface of the order service: placement,
// order reads, tracking, fulfillment commands and the payment webhook.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mercato/orderflow/internal/inventory"
	"github.com/mercato/orderflow/internal/order/app"
	"github.com/mercato/orderflow/internal/order/domain"
	"github.com/mercato/orderflow/internal/saga/sagalog"
)

// WebhookParser verifies and normalizes a raw gateway callback.
type WebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (app.GatewayEvent, error)
}

type Handler struct {
	placement   *app.PlacementService
	fulfillment *app.FulfillmentService
	reconciler  *app.Reconciler
	orders      app.OrderRepository
	journal     sagalog.Repository // nil-safe: placement log returns 404 when absent
	webhooks    WebhookParser
}

func NewHandler(
	placement *app.PlacementService,
	fulfillment *app.FulfillmentService,
	reconciler *app.Reconciler,
	orders app.OrderRepository,
	journal sagalog.Repository,
	webhooks WebhookParser,
) *Handler {
	return &Handler{
		placement:   placement,
		fulfillment: fulfillment,
		reconciler:  reconciler,
		orders:      orders,
		journal:     journal,
		webhooks:    webhooks,
	}
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id", req.UserID)
		return
	}
	if req.CartID == "" || req.AddressID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "cart_id and address_id are required")
		return
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payment_method", req.PaymentMethod)
		return
	}
	discount := decimal.Zero
	if req.Discount != "" {
		if discount, err = decimal.NewFromString(req.Discount); err != nil || discount.IsNegative() {
			writeError(w, http.StatusBadRequest, "invalid_discount", req.Discount)
			return
		}
	}

	order, err := h.placement.PlaceOrder(r.Context(), app.PlaceOrderCommand{
		UserID:        userID,
		CartID:        req.CartID,
		AddressID:     req.AddressID,
		PaymentMethod: method,
		CustomerEmail: req.CustomerEmail,
		Notes:         req.Notes,
		Discount:      discount,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapOrder(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(order))
}

func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var resp struct {
		OrderNumber string             `json:"order_number"`
		Status      string             `json:"status"`
		Current     *app.TimelineEntry `json:"current,omitempty"`
	}
	resp.OrderNumber = order.Number
	resp.Status = string(order.Status)
	if entry, ok := app.ProjectTimeline(order); ok {
		resp.Current = &entry
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetPlacementLog(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "placement_log_unavailable", "")
		return
	}
	order, err := h.orders.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	entry, err := h.journal.GetLatest(r.Context(), order.ID.String())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "placement_log_not_found", order.Number)
		return
	}
	writeJSON(w, http.StatusOK, PlacementLogResponse{
		SagaID:      entry.SagaID,
		Status:      string(entry.Status),
		CurrentStep: entry.CurrentStep,
		Errors:      entry.ErrorMessages,
		TraceID:     entry.TraceID,
		UpdatedAt:   entry.UpdatedAt,
	})
}

func (h *Handler) VerifyCashPayment(w http.ResponseWriter, r *http.Request) {
	var req CashVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.VerifiedBy == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "verified_by is required")
		return
	}

	order, err := h.reconciler.VerifyCashPayment(r.Context(), chi.URLParam(r, "number"), req.VerifiedBy, req.TransactionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(order))
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	var amount *decimal.Decimal
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(req.Amount)
		if err != nil || !parsed.IsPositive() {
			writeError(w, http.StatusBadRequest, "invalid_amount", req.Amount)
			return
		}
		amount = &parsed
	}

	order, err := h.reconciler.Refund(r.Context(), chi.URLParam(r, "number"), amount, req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(order))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	order, err := h.fulfillment.Cancel(r.Context(), chi.URLParam(r, "number"), req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(order))
}

func (h *Handler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	var req DeliveryUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	order, err := h.fulfillment.UpdateDelivery(r.Context(), chi.URLParam(r, "number"), app.DeliveryUpdateCommand{
		Action:      app.DeliveryAction(req.Action),
		CourierID:   req.CourierID,
		EstimatedAt: req.EstimatedAt,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(order))
}

func (h *Handler) RateItem(w http.ResponseWriter, r *http.Request) {
	var req RateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	order, err := h.fulfillment.RateItem(r.Context(), chi.URLParam(r, "number"), chi.URLParam(r, "productID"), req.Score, req.Comment)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(order))
}

// PaymentWebhook verifies the gateway signature and applies the outcome.
// Unknown event types are acked with 200 so the provider stops retrying.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	event, err := h.webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_signature", "")
		return
	}

	if err := h.reconciler.HandleGatewayEvent(r.Context(), event); err != nil {
		// A 5xx makes the provider redeliver; dedupe makes that safe.
		slog.ErrorContext(r.Context(), "webhook reconciliation failed",
			"event_id", event.EventID, "order_number", event.OrderNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation_failed", "")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *inventory.InsufficientError
	switch {
	case errors.Is(err, app.ErrOrderNotFound), errors.Is(err, domain.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, app.ErrEmptyCart),
		errors.Is(err, app.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidUnitPrice),
		errors.Is(err, domain.ErrInvalidLineDiscount),
		errors.Is(err, domain.ErrInvalidRating),
		errors.Is(err, domain.ErrRatingCommentRequired),
		errors.Is(err, domain.ErrInvalidRefundAmount),
		errors.Is(err, domain.ErrInvalidPaymentMethod):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, struct {
			Error string                 `json:"error"`
			Lines []inventory.LineResult `json:"lines"`
		}{Error: "insufficient_stock", Lines: insufficient.Lines})
	case errors.Is(err, inventory.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "inventory_unavailable", "try again later")
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrOrderNotCancellable),
		errors.Is(err, domain.ErrInvalidPaymentState),
		errors.Is(err, domain.ErrOrderNotModifiable),
		errors.Is(err, domain.ErrAlreadyRated),
		errors.Is(err, domain.ErrPaymentAlreadyExists),
		errors.Is(err, domain.ErrNoPayment):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
