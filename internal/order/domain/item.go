package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is a line within an order. It snapshots the product at placement
// time; later catalog edits never alter a placed order.
type Item struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	ProductID    string
	Name         string
	UnitPrice    decimal.Decimal
	Quantity     int
	ImageURL     string
	LineDiscount decimal.Decimal
	Rating       *Rating
}

// Rating is the single, terminal rating an item may carry.
type Rating struct {
	Score   int
	Comment string
	RatedAt time.Time
}

// NewItem validates and builds a line item snapshot.
func NewItem(productID, name string, unitPrice decimal.Decimal, quantity int, imageURL string, lineDiscount decimal.Decimal) (*Item, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if !unitPrice.IsPositive() {
		return nil, ErrInvalidUnitPrice
	}
	if lineDiscount.IsNegative() {
		return nil, ErrInvalidLineDiscount
	}
	return &Item{
		ID:           uuid.New(),
		ProductID:    productID,
		Name:         name,
		UnitPrice:    unitPrice,
		Quantity:     quantity,
		ImageURL:     imageURL,
		LineDiscount: lineDiscount,
	}, nil
}

// LineTotal is unitPrice*quantity minus the per-line discount.
func (i *Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Sub(i.LineDiscount)
}

// Rate attaches the terminal rating. Scores of 3 or below need a comment,
// and a rating can never be replaced once set.
func (i *Item) Rate(score int, comment string) error {
	if i.Rating != nil {
		return ErrAlreadyRated
	}
	if score < 1 || score > 5 {
		return ErrInvalidRating
	}
	if score <= 3 && comment == "" {
		return ErrRatingCommentRequired
	}
	i.Rating = &Rating{Score: score, Comment: comment, RatedAt: time.Now().UTC()}
	return nil
}
