package aggregate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"dexHistory/internal/model"
)

// StateLoader reads the durable rows the running aggregators re-hydrate from.
// Each method returns the latest row per key with a block height at or below
// atOrBefore.
type StateLoader interface {
	LatestReserves(ctx context.Context, atOrBefore uint64) ([]model.ReservedRaw, error)
	LatestTokenPrices(ctx context.Context, atOrBefore uint64) ([]model.TokenPrice, error)
	LatestCandlesticks(ctx context.Context, atOrBefore uint64) ([]model.Candlestick, error)
}

// PriceOracle quotes the reference token at a point in time.
type PriceOracle interface {
	Price(ctx context.Context, at time.Time) (decimal.Decimal, error)
}

// Pools resolves registered pools. *registry.Registry satisfies it.
type Pools interface {
	Pool(address string) (model.Pool, bool)
	Pools() []model.Pool
}
