package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Static quotes a fixed reference price. Used for offline runs.
type Static struct {
	price decimal.Decimal
}

func NewStatic(price decimal.Decimal) Static {
	return Static{price: price}
}

func (s Static) Price(context.Context, time.Time) (decimal.Decimal, error) {
	return s.price, nil
}
