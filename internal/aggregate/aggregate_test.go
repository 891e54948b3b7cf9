package aggregate

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexHistory/internal/model"
	"dexHistory/internal/registry"
)

const (
	refToken = "0x0000000000000000000000000000000001000000"
	tokenA   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tokenB   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	poolRA   = "0x1000000000000000000000000000000000000001"
	poolAB   = "0x1000000000000000000000000000000000000002"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func units(n int64, decimals int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
}

func block(height uint64) model.Block {
	return model.Block{
		Height:    height,
		Hash:      "0xhash",
		Timestamp: time.Date(2024, 1, 1, 0, 0, int(height), 0, time.UTC),
	}
}

type fixedOracle struct {
	price decimal.Decimal
	err   error
	calls int
}

func (o *fixedOracle) Price(context.Context, time.Time) (decimal.Decimal, error) {
	o.calls++
	return o.price, o.err
}

type rowsLoader struct {
	reserves []model.ReservedRaw
	prices   []model.TokenPrice
	candles  []model.Candlestick
}

func (l rowsLoader) LatestReserves(context.Context, uint64) ([]model.ReservedRaw, error) {
	return l.reserves, nil
}

func (l rowsLoader) LatestTokenPrices(context.Context, uint64) ([]model.TokenPrice, error) {
	return l.prices, nil
}

func (l rowsLoader) LatestCandlesticks(context.Context, uint64) ([]model.Candlestick, error) {
	return l.candles, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	r.AddToken(model.Token{Address: refToken, Decimals: 18})
	r.AddToken(model.Token{Address: tokenA, Decimals: 18})
	r.AddToken(model.Token{Address: tokenB, Decimals: 6})
	_, err := r.AddPool(model.Pool{Address: poolRA, Token1: refToken, Token2: tokenA})
	require.NoError(t, err)
	_, err = r.AddPool(model.Pool{Address: poolAB, Token1: tokenA, Token2: tokenB})
	require.NoError(t, err)
	return r
}

// applySync mirrors the Sync handler side effects.
func applySync(m *Market, pool model.Pool, r1, r2 *big.Int, eventID string) {
	adj1 := Adjust(r1, pool.Decimals1)
	adj2 := Adjust(r2, pool.Decimals2)
	m.Prices.UpdateReserves(pool.Token1, pool.Token2, adj1, adj2)
	m.Reserves.Update(pool.Address, r1, r2, eventID)
	m.Candles.Update(pool.Address, pool.Token1, Ratio(adj2, adj1))
	m.Candles.Update(pool.Address, pool.Token2, Ratio(adj1, adj2))
}

func TestVolumeFlushSumsAndResets(t *testing.T) {
	v := NewVolumeAccumulator()
	v.AddPool(poolRA)
	v.Update(poolAB, big.NewInt(100), big.NewInt(0))
	v.Update(poolAB, big.NewInt(50), big.NewInt(7))

	rows := v.Flush(block(10))
	require.Len(t, rows, 2)
	assert.Equal(t, poolRA, rows[0].PoolID)
	assert.Equal(t, int64(0), rows[0].Volume1.Int64())
	assert.Equal(t, poolAB, rows[1].PoolID)
	assert.Equal(t, int64(150), rows[1].Volume1.Int64())
	assert.Equal(t, int64(7), rows[1].Volume2.Int64())
	assert.Equal(t, "10-"+poolAB, rows[1].ID)

	rows = v.Flush(block(11))
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Zero(t, row.Volume1.Sign())
		assert.Zero(t, row.Volume2.Sign())
	}
}

func TestReservesFlushOnlyUpdatedPools(t *testing.T) {
	r := NewReservesAccumulator()
	r.Update(poolRA, big.NewInt(1), big.NewInt(2), "e1")
	r.Update(poolRA, big.NewInt(3), big.NewInt(4), "e2")

	rows := r.Flush(block(5))
	require.Len(t, rows, 1)
	assert.Equal(t, "e2", rows[0].EventID)
	assert.Equal(t, int64(3), rows[0].Reserved1.Int64())
	assert.Equal(t, int64(4), rows[0].Reserved2.Int64())

	assert.Empty(t, r.Flush(block(6)), "untouched pools are not resampled")
	r1, r2, ok := r.Latest(poolRA)
	require.True(t, ok)
	assert.Equal(t, int64(3), r1.Int64())
	assert.Equal(t, int64(4), r2.Int64())
}

func TestCandlestickCarriesCloseIntoNextOpen(t *testing.T) {
	c := NewCandlestickAccumulator()
	c.Update(poolRA, tokenA, dec("10"))
	rows := c.Flush(block(1))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Close.Equal(dec("10")))

	c.Update(poolRA, tokenA, dec("12"))
	c.Update(poolRA, tokenA, dec("8"))
	rows = c.Flush(block(2))
	require.Len(t, rows, 1)
	row := rows[0]
	assert.True(t, row.Open.Equal(dec("10")), "open %s", row.Open)
	assert.True(t, row.High.Equal(dec("12")), "high %s", row.High)
	assert.True(t, row.Low.Equal(dec("8")), "low %s", row.Low)
	assert.True(t, row.Close.Equal(dec("8")), "close %s", row.Close)

	assert.Empty(t, c.Flush(block(3)))
	c.Update(poolRA, tokenA, dec("9"))
	rows = c.Flush(block(4))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Open.Equal(dec("8")))
	assert.True(t, rows[0].Low.Equal(dec("8")))
	assert.True(t, rows[0].High.Equal(dec("9")))
}

func TestSyncPricesWithDifferentDecimals(t *testing.T) {
	pool := model.Pool{Address: poolAB, Token1: tokenA, Token2: tokenB, Decimals1: 18, Decimals2: 6}
	adj1 := Adjust(units(1000, 18), pool.Decimals1)
	adj2 := Adjust(units(2000, 6), pool.Decimals2)

	assert.True(t, Ratio(adj2, adj1).Equal(dec("2")))
	assert.True(t, Ratio(adj1, adj2).Equal(dec("0.5")))
}

func TestEstimateSingleHop(t *testing.T) {
	e := NewPriceEstimator(refToken)
	e.UpdateReserves(refToken, tokenA, dec("1000"), dec("2000"))
	e.UpdateReserves(tokenA, tokenB, dec("1"), dec("3"))

	require.True(t, e.Estimate(dec("2")))
	price, ok := e.Price(tokenA)
	require.True(t, ok)
	assert.True(t, price.Equal(dec("1")), "price A %s", price)

	priceB, _ := e.Price(tokenB)
	assert.True(t, priceB.IsZero(), "two hops away from the reference is not priced")

	ref, _ := e.Price(refToken)
	assert.True(t, ref.Equal(dec("2")))
}

func TestEstimateSkipsWhenReferenceUnchanged(t *testing.T) {
	e := NewPriceEstimator(refToken)
	e.UpdateReserves(refToken, tokenA, dec("1000"), dec("2000"))
	require.True(t, e.Estimate(dec("2")))

	assert.False(t, e.Estimate(dec("2")))

	e.UpdateReserves(tokenA, tokenB, dec("1"), dec("1"))
	assert.False(t, e.Estimate(dec("2")), "non-reference pools do not affect single-hop prices")

	e.UpdateReserves(refToken, tokenA, dec("1000"), dec("4000"))
	require.True(t, e.Estimate(dec("2")))
	price, _ := e.Price(tokenA)
	assert.True(t, price.Equal(dec("0.5")), "price A %s", price)

	require.True(t, e.Estimate(dec("3")))
	price, _ = e.Price(tokenA)
	assert.True(t, price.Equal(dec("0.75")), "price A %s", price)
}

func TestEstimateIgnoresZeroReserves(t *testing.T) {
	e := NewPriceEstimator(refToken)
	e.UpdateReserves(refToken, tokenA, decimal.Zero, dec("10"))
	require.True(t, e.Estimate(dec("1")))
	price, ok := e.Price(tokenA)
	assert.False(t, ok, "zero reserves must not register a ratio")
	assert.True(t, price.IsZero())
}

func TestMarketFlushBeforeInit(t *testing.T) {
	m := NewMarket(refToken, &fixedOracle{price: dec("1")}, registry.New(), nil, nil)
	err := m.Flush(context.Background(), &model.BlockWrite{Block: block(1)})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMarketOracleFallback(t *testing.T) {
	oracle := &fixedOracle{price: dec("2")}
	m := NewMarket(refToken, oracle, testRegistry(t), nil, nil)
	require.NoError(t, m.Init(context.Background(), rowsLoader{}, 0, false))

	w := &model.BlockWrite{Block: block(1)}
	require.NoError(t, m.Flush(context.Background(), w))

	oracle.err = errors.New("rate limited")
	w = &model.BlockWrite{Block: block(2)}
	require.NoError(t, m.Flush(context.Background(), w))
	for _, row := range w.Prices {
		if row.Token == refToken {
			assert.True(t, row.Price.Equal(dec("2")))
		}
	}
}

func TestMarketOracleFailureWithoutHistory(t *testing.T) {
	oracle := &fixedOracle{err: errors.New("down")}
	m := NewMarket(refToken, oracle, testRegistry(t), nil, nil)
	require.NoError(t, m.Init(context.Background(), rowsLoader{}, 0, false))

	err := m.Flush(context.Background(), &model.BlockWrite{Block: block(1)})
	assert.ErrorIs(t, err, ErrNoReferencePrice)
}

func TestMarketRehydrationMatchesContinuousRun(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	oracle := &fixedOracle{price: dec("0.05")}
	ra, _ := reg.Pool(poolRA)
	ab, _ := reg.Pool(poolAB)

	continuous := NewMarket(refToken, oracle, reg, nil, nil)
	require.NoError(t, continuous.Init(ctx, rowsLoader{}, 0, false))

	var persisted model.BlockWrite
	for height, reserves := range [][2]int64{{1000, 2000}, {1100, 1900}, {900, 2300}} {
		applySync(continuous, ra, units(reserves[0], 18), units(reserves[1], 18), model.EventID(uint64(height+1), 0))
		applySync(continuous, ab, units(reserves[1], 18), units(7, 6), model.EventID(uint64(height+1), 1))
		w := &model.BlockWrite{Block: block(uint64(height + 1))}
		require.NoError(t, continuous.Flush(ctx, w))
		persisted.Reserves = append(persisted.Reserves, w.Reserves...)
		persisted.Prices = append(persisted.Prices, w.Prices...)
		persisted.Candlesticks = append(persisted.Candlesticks, w.Candlesticks...)
	}

	restarted := NewMarket(refToken, oracle, reg, nil, nil)
	require.NoError(t, restarted.Init(ctx, rowsLoader{
		reserves: latestReserves(persisted.Reserves),
		prices:   latestPrices(persisted.Prices),
		candles:  latestCandles(persisted.Candlesticks),
	}, 3, true))

	for _, m := range []*Market{continuous, restarted} {
		applySync(m, ra, units(950, 18), units(2100, 18), model.EventID(4, 0))
	}
	a := &model.BlockWrite{Block: block(4)}
	b := &model.BlockWrite{Block: block(4)}
	require.NoError(t, continuous.Flush(ctx, a))
	require.NoError(t, restarted.Flush(ctx, b))

	require.Equal(t, len(a.Candlesticks), len(b.Candlesticks))
	for i := range a.Candlesticks {
		assert.True(t, a.Candlesticks[i].Open.Equal(b.Candlesticks[i].Open))
		assert.True(t, a.Candlesticks[i].Close.Equal(b.Candlesticks[i].Close))
	}
	require.Equal(t, len(a.Prices), len(b.Prices))
	byToken := make(map[string]decimal.Decimal)
	for _, row := range a.Prices {
		byToken[row.Token] = row.Price
	}
	for _, row := range b.Prices {
		assert.True(t, byToken[row.Token].Equal(row.Price), "token %s: %s != %s", row.Token, byToken[row.Token], row.Price)
	}
	require.Equal(t, len(a.Volumes), len(b.Volumes))
}

func TestPoolTVLRoundsToCents(t *testing.T) {
	pool := model.Pool{Decimals1: 18, Decimals2: 6}
	tvl := PoolTVL(pool, units(3, 18), big.NewInt(1_234_567), dec("1.005"), dec("2"))
	// 3 * 1.005 + 1.234567 * 2 = 5.484134
	assert.Equal(t, "5.48", tvl.StringFixed(TVLScale))
}

func latestReserves(rows []model.ReservedRaw) []model.ReservedRaw {
	latest := make(map[string]model.ReservedRaw)
	for _, row := range rows {
		latest[row.PoolID] = row
	}
	out := make([]model.ReservedRaw, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	return out
}

func latestPrices(rows []model.TokenPrice) []model.TokenPrice {
	latest := make(map[string]model.TokenPrice)
	for _, row := range rows {
		latest[row.Token] = row
	}
	out := make([]model.TokenPrice, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	return out
}

func latestCandles(rows []model.Candlestick) []model.Candlestick {
	latest := make(map[string]model.Candlestick)
	for _, row := range rows {
		latest[row.PoolID+row.Token] = row
	}
	out := make([]model.Candlestick, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	return out
}
