package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.PlaceOrder)
		r.Route("/{number}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Get("/tracking", h.GetTracking)
			r.Get("/placement-log", h.GetPlacementLog)
			r.Post("/cash-verification", h.VerifyCashPayment)
			r.Post("/refund", h.Refund)
			r.Post("/cancel", h.CancelOrder)
			r.Patch("/delivery", h.UpdateDelivery)
			r.Post("/items/{productID}/rating", h.RateItem)
		})
	})

	r.Post("/webhooks/payment", h.PaymentWebhook)
	return r
}
