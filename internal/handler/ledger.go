package handler

import (
	"context"
	"fmt"
	"math/big"

	"dexHistory/internal/model"
)

// SupplyReader returns the Transfer event with the highest (block height,
// index in block) stored for pool. ok is false when the pool has none.
type SupplyReader interface {
	LatestTransfer(ctx context.Context, pool string) (event model.PoolEvent, ok bool, err error)
}

// Ledger tracks the LP total supply of each pool. Totals of transfers handled
// in the current process shadow the stored ones, so events of a block that is
// not yet committed are taken into account.
type Ledger struct {
	reader SupplyReader
	totals map[string]*big.Int
}

func NewLedger(reader SupplyReader) *Ledger {
	return &Ledger{reader: reader, totals: make(map[string]*big.Int)}
}

// Total returns the running total supply of pool, zero when unknown.
func (l *Ledger) Total(ctx context.Context, pool string) (*big.Int, error) {
	pool = model.NormalizeAddress(pool)
	if total, ok := l.totals[pool]; ok {
		return new(big.Int).Set(total), nil
	}
	if l.reader == nil {
		return new(big.Int), nil
	}
	event, ok, err := l.reader.LatestTransfer(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("load supply of %s: %w", pool, err)
	}
	total := new(big.Int)
	if ok && event.TotalSupply != nil {
		total.Set(event.TotalSupply)
	}
	l.totals[pool] = total
	return new(big.Int).Set(total), nil
}

// Set records the new total of pool.
func (l *Ledger) Set(pool string, total *big.Int) {
	l.totals[model.NormalizeAddress(pool)] = new(big.Int).Set(total)
}
