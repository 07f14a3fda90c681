package app

import (
	"time"

	"github.com/mercato/orderflow/internal/order/domain"
)

// TimelineEntry is the single most-relevant tracking line for an order's
// current state.
type TimelineEntry struct {
	Status    domain.Status `json:"status"`
	Label     string        `json:"label"`
	Timestamp time.Time     `json:"timestamp"`
}

// projection derives the entry for one order status, gated on the evidence
// that status requires. Returning false means no entry yet, which is
// absence rather than an error.
type projection func(o *domain.Order) (TimelineEntry, bool)

// projections is the closed lookup table, one pure function per interesting
// status. Statuses without a strategy simply produce no entry.
var projections = map[domain.Status]projection{
	domain.StatusPending: func(o *domain.Order) (TimelineEntry, bool) {
		return TimelineEntry{Status: o.Status, Label: "Order placed", Timestamp: o.CreatedAt}, true
	},
	domain.StatusConfirmed: func(o *domain.Order) (TimelineEntry, bool) {
		if o.Payment == nil || !o.Payment.Settled() {
			return TimelineEntry{}, false
		}
		return TimelineEntry{Status: o.Status, Label: "Payment confirmed", Timestamp: o.UpdatedAt}, true
	},
	domain.StatusProcessing: func(o *domain.Order) (TimelineEntry, bool) {
		if o.Delivery == nil || !o.Delivery.Status.AtLeast(domain.DeliveryAssigned) {
			return TimelineEntry{}, false
		}
		return TimelineEntry{Status: o.Status, Label: "Being prepared", Timestamp: o.Delivery.UpdatedAt}, true
	},
	domain.StatusOutForDelivery: func(o *domain.Order) (TimelineEntry, bool) {
		if o.Delivery == nil || !o.Delivery.Status.AtLeast(domain.DeliveryInTransit) {
			return TimelineEntry{}, false
		}
		return TimelineEntry{Status: o.Status, Label: "Out for delivery", Timestamp: o.Delivery.UpdatedAt}, true
	},
	domain.StatusDelivered: func(o *domain.Order) (TimelineEntry, bool) {
		if o.Delivery == nil || o.Delivery.Status != domain.DeliveryDelivered || o.Delivery.DeliveredAt == nil {
			return TimelineEntry{}, false
		}
		return TimelineEntry{Status: o.Status, Label: "Delivered", Timestamp: *o.Delivery.DeliveredAt}, true
	},
}

// ProjectTimeline maps the order's current state to its timeline entry.
// Callers must tolerate a status with no delivery-side evidence yet.
func ProjectTimeline(o *domain.Order) (TimelineEntry, bool) {
	project, ok := projections[o.Status]
	if !ok {
		return TimelineEntry{}, false
	}
	return project(o)
}
