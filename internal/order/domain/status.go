package domain

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusConfirmed        Status = "CONFIRMED"
	StatusProcessing       Status = "PROCESSING"
	StatusReadyForDelivery Status = "READY_FOR_DELIVERY"
	StatusOutForDelivery   Status = "OUT_FOR_DELIVERY"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
	StatusFailed           Status = "FAILED"
)

// orderTransitions is the single source of truth for legal order status
// moves. A status absent from the map (or with an empty slice) is terminal.
var orderTransitions = map[Status][]Status{
	StatusPending:          {StatusConfirmed, StatusCancelled, StatusFailed},
	StatusConfirmed:        {StatusProcessing, StatusCancelled},
	StatusProcessing:       {StatusReadyForDelivery, StatusCancelled},
	StatusReadyForDelivery: {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery:   {StatusDelivered, StatusFailed},
	StatusDelivered:        {},
	StatusCancelled:        {},
	// FAILED keeps a retry path back to PENDING so a customer can re-place
	// after a payment or delivery failure.
	StatusFailed: {StatusPending},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }
