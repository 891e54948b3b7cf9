package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dexHistory/internal/metrics"
	"dexHistory/internal/model"
)

var (
	// ErrNotInitialized is returned when the market is flushed before Init.
	ErrNotInitialized = errors.New("market state not initialized")
	// ErrNoReferencePrice is returned when the oracle fails and no earlier
	// reference price exists to fall back to.
	ErrNoReferencePrice = errors.New("no reference price available")
)

// Market is the running aggregator context of one chain. It is created once,
// initialized from storage once, updated by event handlers and flushed once
// per block.
type Market struct {
	Volume   *VolumeAccumulator
	Reserves *ReservesAccumulator
	Prices   *PriceEstimator
	Candles  *CandlestickAccumulator

	oracle  PriceOracle
	pools   Pools
	logger  *zap.Logger
	metrics *metrics.Metrics
	ready   bool
}

func NewMarket(referenceToken string, oracle PriceOracle, pools Pools, logger *zap.Logger, m *metrics.Metrics) *Market {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Market{
		Volume:   NewVolumeAccumulator(),
		Reserves: NewReservesAccumulator(),
		Prices:   NewPriceEstimator(referenceToken),
		Candles:  NewCandlestickAccumulator(),
		oracle:   oracle,
		pools:    pools,
		logger:   logger,
		metrics:  m,
	}
}

// Ready reports whether Init has completed.
func (m *Market) Ready() bool {
	return m.ready
}

// Init re-hydrates the aggregators from rows at or below height, the block
// before the first one to process. With hasHistory false nothing is read
// from storage and only the registered pools are loaded.
func (m *Market) Init(ctx context.Context, loader StateLoader, height uint64, hasHistory bool) error {
	if m.ready {
		return fmt.Errorf("market already initialized")
	}
	for _, pool := range m.pools.Pools() {
		m.AddPool(pool)
	}

	if hasHistory {
		prices, err := loader.LatestTokenPrices(ctx, height)
		if err != nil {
			return fmt.Errorf("load token prices: %w", err)
		}
		m.Prices.seedPrices(prices)

		reserves, err := loader.LatestReserves(ctx, height)
		if err != nil {
			return fmt.Errorf("load reserves: %w", err)
		}
		m.Reserves.seed(reserves)
		for _, row := range reserves {
			pool, ok := m.pools.Pool(row.PoolID)
			if !ok {
				return fmt.Errorf("reserves row %s: pool %s not registered", row.ID, row.PoolID)
			}
			m.Prices.UpdateReserves(pool.Token1, pool.Token2, Adjust(row.Reserved1, pool.Decimals1), Adjust(row.Reserved2, pool.Decimals2))
		}

		candles, err := loader.LatestCandlesticks(ctx, height)
		if err != nil {
			return fmt.Errorf("load candlesticks: %w", err)
		}
		m.Candles.seed(candles)

		m.logger.Info("market state restored",
			zap.Uint64("height", height),
			zap.Int("pools", len(m.Volume.Pools())),
			zap.Int("prices", len(prices)),
			zap.Int("reserves", len(reserves)),
			zap.Int("candlesticks", len(candles)),
		)
	}

	m.ready = true
	return nil
}

// AddPool makes a new pool known to the volume and price aggregators.
func (m *Market) AddPool(pool model.Pool) {
	m.Volume.AddPool(pool.Address)
	m.Prices.AddToken(pool.Token1)
	m.Prices.AddToken(pool.Token2)
}

// Flush fetches the reference price for the block, re-estimates prices and
// appends the block's derived rows to w. Aggregators are rolled forward for
// the next block.
func (m *Market) Flush(ctx context.Context, w *model.BlockWrite) error {
	if !m.ready {
		return ErrNotInitialized
	}
	block := w.Block

	reference, err := m.referencePrice(ctx, block)
	if err != nil {
		return err
	}
	if m.Prices.Estimate(reference) {
		m.logger.Debug("prices estimated", zap.Uint64("block", block.Height), zap.String("reference_price", reference.String()))
	}

	w.Volumes = append(w.Volumes, m.Volume.Flush(block)...)
	w.Reserves = append(w.Reserves, m.Reserves.Flush(block)...)
	w.Prices = append(w.Prices, m.Prices.Flush(block)...)
	w.Candlesticks = append(w.Candlesticks, m.Candles.Flush(block)...)
	return nil
}

func (m *Market) referencePrice(ctx context.Context, block model.Block) (decimal.Decimal, error) {
	price, err := m.oracle.Price(ctx, block.Timestamp)
	if err == nil {
		return price, nil
	}
	previous, ok := m.Prices.LastReference()
	if !ok {
		return decimal.Zero, fmt.Errorf("block %d: %w: %w", block.Height, ErrNoReferencePrice, err)
	}
	m.metrics.OracleFallbacks.Inc()
	m.logger.Warn("reference price fetch failed, reusing previous price",
		zap.Uint64("block", block.Height),
		zap.String("price", previous.String()),
		zap.Error(err),
	)
	return previous, nil
}
