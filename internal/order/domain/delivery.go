package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is an ordered enum so callers can ask "at least assigned",
// "at least in transit", etc.
type DeliveryStatus int

const (
	DeliveryPending DeliveryStatus = iota
	DeliveryAssigned
	DeliveryPickedUp
	DeliveryInTransit
	DeliveryDelivered
	DeliveryFailed
)

var deliveryStatusNames = map[DeliveryStatus]string{
	DeliveryPending:   "PENDING",
	DeliveryAssigned:  "ASSIGNED",
	DeliveryPickedUp:  "PICKED_UP",
	DeliveryInTransit: "IN_TRANSIT",
	DeliveryDelivered: "DELIVERED",
	DeliveryFailed:    "FAILED",
}

func (s DeliveryStatus) String() string {
	if name, ok := deliveryStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DELIVERY_STATUS(%d)", int(s))
}

// ParseDeliveryStatus maps the persisted text form back to the enum.
func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	for status, name := range deliveryStatusNames {
		if name == s {
			return status, nil
		}
	}
	return DeliveryPending, fmt.Errorf("unknown delivery status %q", s)
}

// AtLeast reports whether s has reached the given stage. FAILED never
// satisfies a stage check.
func (s DeliveryStatus) AtLeast(stage DeliveryStatus) bool {
	return s != DeliveryFailed && s >= stage
}

// Delivery tracks the courier side of an order. It runs its own state
// machine, independent of payment and order status, but is consulted by the
// tracking projector.
type Delivery struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	CourierID   string
	Latitude    float64
	Longitude   float64
	Status      DeliveryStatus
	EstimatedAt *time.Time
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewDelivery creates the initial pending delivery attached at placement.
func NewDelivery(orderID uuid.UUID) *Delivery {
	now := time.Now().UTC()
	return &Delivery{
		ID:        uuid.New(),
		OrderID:   orderID,
		Status:    DeliveryPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Assign hands the delivery to a courier with an optional ETA.
func (d *Delivery) Assign(courierID string, estimatedAt *time.Time) error {
	if d.Status != DeliveryPending {
		return fmt.Errorf("%w: delivery is %s", ErrInvalidStateTransition, d.Status)
	}
	d.CourierID = courierID
	d.EstimatedAt = estimatedAt
	return d.advance(DeliveryAssigned)
}

func (d *Delivery) MarkPickedUp() error {
	if d.Status != DeliveryAssigned {
		return fmt.Errorf("%w: delivery is %s", ErrInvalidStateTransition, d.Status)
	}
	return d.advance(DeliveryPickedUp)
}

// MarkInTransit records the courier's last known position.
func (d *Delivery) MarkInTransit(lat, lng float64) error {
	if d.Status != DeliveryPickedUp && d.Status != DeliveryInTransit {
		return fmt.Errorf("%w: delivery is %s", ErrInvalidStateTransition, d.Status)
	}
	d.Latitude = lat
	d.Longitude = lng
	return d.advance(DeliveryInTransit)
}

// MarkDelivered closes the delivery with the actual hand-over timestamp.
func (d *Delivery) MarkDelivered(at time.Time) error {
	if d.Status != DeliveryInTransit {
		return fmt.Errorf("%w: delivery is %s", ErrInvalidStateTransition, d.Status)
	}
	at = at.UTC()
	d.DeliveredAt = &at
	return d.advance(DeliveryDelivered)
}

// MarkFailed is allowed from any non-terminal stage.
func (d *Delivery) MarkFailed() error {
	if d.Status == DeliveryDelivered || d.Status == DeliveryFailed {
		return fmt.Errorf("%w: delivery is %s", ErrInvalidStateTransition, d.Status)
	}
	return d.advance(DeliveryFailed)
}

func (d *Delivery) advance(s DeliveryStatus) error {
	d.Status = s
	d.UpdatedAt = time.Now().UTC()
	return nil
}
