package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a purchasable catalog entry. ReferenceValue seeds the request
// estimate until enough purchase history exists to average from.
type Product struct {
	ID             int64
	Name           string
	Code           string
	Description    string
	Unit           string
	ReferenceValue decimal.Decimal
	Active         bool
	CreatedAt      time.Time
}
