package domain

import "errors"

var (
	// ErrInvalidStateTransition is returned for any order status move not
	// present in the transition table. The aggregate never ignores one.
	ErrInvalidStateTransition = errors.New("invalid order state transition")

	// ErrOrderNotModifiable is returned when the item set is mutated while
	// the order is no longer PENDING.
	ErrOrderNotModifiable = errors.New("order items can only be modified while pending")

	// ErrInvalidPaymentState is returned by payment sub-machine moves that
	// are illegal for the payment's current method or status.
	ErrInvalidPaymentState = errors.New("invalid payment state")

	// ErrOrderNotCancellable is returned when cancellation is requested for
	// an order that is delivered or out for delivery.
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")

	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrPaymentAlreadyExists  = errors.New("order already has a payment")
	ErrNoPayment             = errors.New("order has no payment")
	ErrPaymentAmountMismatch = errors.New("payment amount does not match order total")
	ErrItemNotFound          = errors.New("order item not found")
	ErrInvalidQuantity       = errors.New("quantity must be at least 1")
	ErrInvalidLineDiscount   = errors.New("line discount cannot be negative")
	ErrInvalidUnitPrice      = errors.New("unit price must be positive")
	ErrInvalidRating         = errors.New("rating score must be between 1 and 5")
	ErrRatingCommentRequired = errors.New("a comment is required for ratings of 3 or below")
	ErrAlreadyRated          = errors.New("item already carries a rating")
	ErrInvalidRefundAmount   = errors.New("refund amount must be positive and not exceed the remainder")
)
