package httpx

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercato/orderflow/internal/order/domain"
)

type PlaceOrderRequest struct {
	UserID        string `json:"user_id"`
	CartID        string `json:"cart_id"`
	AddressID     string `json:"address_id"`
	PaymentMethod string `json:"payment_method"`
	CustomerEmail string `json:"customer_email"`
	Notes         string `json:"notes,omitempty"`
	Discount      string `json:"discount,omitempty"`
}

type CashVerificationRequest struct {
	VerifiedBy    string `json:"verified_by"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type RefundRequest struct {
	// Amount is optional; empty refunds the remaining balance.
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type DeliveryUpdateRequest struct {
	Action      string     `json:"action"`
	CourierID   string     `json:"courier_id,omitempty"`
	EstimatedAt *time.Time `json:"estimated_at,omitempty"`
	Latitude    float64    `json:"latitude,omitempty"`
	Longitude   float64    `json:"longitude,omitempty"`
}

type RateItemRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

type OrderResponse struct {
	ID            string                 `json:"id"`
	Number        string                 `json:"number"`
	UserID        string                 `json:"user_id"`
	Status        string                 `json:"status"`
	PaymentMethod string                 `json:"payment_method"`
	PaymentStatus string                 `json:"payment_status"`
	SubTotal      decimal.Decimal        `json:"sub_total"`
	DeliveryFee   decimal.Decimal        `json:"delivery_fee"`
	Discount      decimal.Decimal        `json:"discount"`
	Tax           decimal.Decimal        `json:"tax"`
	Total         decimal.Decimal        `json:"total"`
	Address       domain.AddressSnapshot `json:"address"`
	Notes         string                 `json:"notes,omitempty"`
	Items         []ItemResponse         `json:"items"`
	Delivery      *DeliveryResponse      `json:"delivery,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type ItemResponse struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	ImageURL     string          `json:"image_url,omitempty"`
	LineDiscount decimal.Decimal `json:"line_discount"`
	LineTotal    decimal.Decimal `json:"line_total"`
	Rating       *RatingResponse `json:"rating,omitempty"`
}

type RatingResponse struct {
	Score   int       `json:"score"`
	Comment string    `json:"comment,omitempty"`
	RatedAt time.Time `json:"rated_at"`
}

type DeliveryResponse struct {
	Status      string     `json:"status"`
	CourierID   string     `json:"courier_id,omitempty"`
	Latitude    float64    `json:"latitude,omitempty"`
	Longitude   float64    `json:"longitude,omitempty"`
	EstimatedAt *time.Time `json:"estimated_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

type PlacementLogResponse struct {
	SagaID      string    `json:"saga_id"`
	Status      string    `json:"status"`
	CurrentStep string    `json:"current_step,omitempty"`
	Errors      string    `json:"errors,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func mapOrder(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:            o.ID.String(),
		Number:        o.Number,
		UserID:        o.UserID.String(),
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus()),
		SubTotal:      o.SubTotal,
		DeliveryFee:   o.DeliveryFee,
		Discount:      o.Discount,
		Tax:           o.Tax,
		Total:         o.Total,
		Address:       o.Address,
		Notes:         o.Notes,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, it := range o.Items {
		item := ItemResponse{
			ProductID:    it.ProductID,
			Name:         it.Name,
			UnitPrice:    it.UnitPrice,
			Quantity:     it.Quantity,
			ImageURL:     it.ImageURL,
			LineDiscount: it.LineDiscount,
			LineTotal:    it.LineTotal(),
		}
		if it.Rating != nil {
			item.Rating = &RatingResponse{
				Score:   it.Rating.Score,
				Comment: it.Rating.Comment,
				RatedAt: it.Rating.RatedAt,
			}
		}
		resp.Items = append(resp.Items, item)
	}
	if d := o.Delivery; d != nil {
		resp.Delivery = &DeliveryResponse{
			Status:      d.Status.String(),
			CourierID:   d.CourierID,
			Latitude:    d.Latitude,
			Longitude:   d.Longitude,
			EstimatedAt: d.EstimatedAt,
			DeliveredAt: d.DeliveredAt,
		}
	}
	return resp
}
