package aggregate

import (
	"github.com/shopspring/decimal"

	"dexHistory/internal/model"
)

type candleKey struct {
	pool  string
	token string
}

type ohlc struct {
	open  decimal.Decimal
	high  decimal.Decimal
	low   decimal.Decimal
	close decimal.Decimal
}

// CandlestickAccumulator tracks OHLC of the price of each token in each pool.
// After a flush every candle rolls forward to open=high=low=close=previous
// close, so consecutive blocks chain.
type CandlestickAccumulator struct {
	candles map[candleKey]*ohlc
	touched []candleKey
	dirty   map[candleKey]bool
}

func NewCandlestickAccumulator() *CandlestickAccumulator {
	return &CandlestickAccumulator{
		candles: make(map[candleKey]*ohlc),
		dirty:   make(map[candleKey]bool),
	}
}

// Update applies a price observation. The first observation of a key seeds
// all four fields; open never changes within a block.
func (c *CandlestickAccumulator) Update(pool, token string, price decimal.Decimal) {
	key := candleKey{pool: model.NormalizeAddress(pool), token: model.NormalizeAddress(token)}
	candle, ok := c.candles[key]
	if !ok {
		c.candles[key] = &ohlc{open: price, high: price, low: price, close: price}
	} else {
		if price.GreaterThan(candle.high) {
			candle.high = price
		}
		if price.LessThan(candle.low) {
			candle.low = price
		}
		candle.close = price
	}
	if !c.dirty[key] {
		c.dirty[key] = true
		c.touched = append(c.touched, key)
	}
}

// Close returns the current close of (pool, token).
func (c *CandlestickAccumulator) Close(pool, token string) (decimal.Decimal, bool) {
	candle, ok := c.candles[candleKey{pool: model.NormalizeAddress(pool), token: model.NormalizeAddress(token)}]
	if !ok {
		return decimal.Zero, false
	}
	return candle.close, true
}

// Flush emits the candles updated in this block and rolls every candle.
func (c *CandlestickAccumulator) Flush(block model.Block) []model.Candlestick {
	rows := make([]model.Candlestick, 0, len(c.touched))
	for _, key := range c.touched {
		candle := c.candles[key]
		rows = append(rows, model.Candlestick{
			ID:          model.CandlestickID(block.Height, key.pool, key.token),
			BlockHeight: block.Height,
			BlockHash:   block.Hash,
			PoolID:      key.pool,
			Token:       key.token,
			Open:        candle.open,
			High:        candle.high,
			Low:         candle.low,
			Close:       candle.close,
			Timestamp:   block.Timestamp,
		})
	}
	for _, candle := range c.candles {
		candle.open = candle.close
		candle.high = candle.close
		candle.low = candle.close
	}
	c.touched = c.touched[:0]
	c.dirty = make(map[candleKey]bool)
	return rows
}

func (c *CandlestickAccumulator) seed(rows []model.Candlestick) {
	for _, row := range rows {
		key := candleKey{pool: model.NormalizeAddress(row.PoolID), token: model.NormalizeAddress(row.Token)}
		c.candles[key] = &ohlc{open: row.Close, high: row.Close, low: row.Close, close: row.Close}
	}
}
