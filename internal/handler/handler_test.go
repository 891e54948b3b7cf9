package handler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexHistory/internal/aggregate"
	"dexHistory/internal/dex"
	"dexHistory/internal/model"
	"dexHistory/internal/registry"
)

var (
	token1 = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	token2 = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	pair   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	user   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

type staticOracle struct{}

func (staticOracle) Price(context.Context, time.Time) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

type stubSupply struct {
	event model.PoolEvent
	ok    bool
	err   error
	calls int
}

func (s *stubSupply) LatestTransfer(context.Context, string) (model.PoolEvent, bool, error) {
	s.calls++
	return s.event, s.ok, s.err
}

func newEnv(t *testing.T, decimals1, decimals2 uint8, reader SupplyReader) Env {
	t.Helper()
	reg := registry.New()
	reg.AddToken(model.Token{Address: token1.Hex(), Decimals: decimals1})
	reg.AddToken(model.Token{Address: token2.Hex(), Decimals: decimals2})
	pool, err := reg.AddPool(model.Pool{Address: pair.Hex(), Token1: token1.Hex(), Token2: token2.Hex()})
	require.NoError(t, err)

	market := aggregate.NewMarket(token1.Hex(), staticOracle{}, reg, nil, nil)
	require.NoError(t, market.Init(context.Background(), nil, 0, false))

	return Env{
		Pool:   pool,
		Block:  model.Block{Height: 42, Hash: "0xabc", Timestamp: time.Unix(1_700_000_000, 0).UTC()},
		Index:  3,
		Signer: "0xSIGNER",
		Market: market,
		Ledger: NewLedger(reader),
	}
}

func event(args dex.Args) dex.Event {
	return dex.Event{Kind: args.Kind(), Args: args}
}

func TestHandleRequiresInitializedMarket(t *testing.T) {
	env := newEnv(t, 18, 18, nil)
	env.Market = aggregate.NewMarket(token1.Hex(), staticOracle{}, registry.New(), nil, nil)

	_, err := Handle(context.Background(), env, event(dex.MintArgs{Sender: user}))
	assert.ErrorIs(t, err, aggregate.ErrNotInitialized)
}

func TestHandleMintAndBurn(t *testing.T) {
	env := newEnv(t, 18, 18, nil)

	mint, err := Handle(context.Background(), env, event(dex.MintArgs{Sender: user, Amount1: big.NewInt(5), Amount2: big.NewInt(6)}))
	require.NoError(t, err)
	assert.Equal(t, "0000000042-000003", mint.ID)
	assert.Equal(t, model.PoolEventMint, mint.Type)
	assert.Equal(t, model.NormalizeAddress(user.Hex()), *mint.SenderAddress)
	assert.Equal(t, "0xsigner", *mint.SignerAddress)
	assert.Nil(t, mint.ToAddress)

	burn, err := Handle(context.Background(), env, event(dex.BurnArgs{Sender: pair, To: user, Amount1: big.NewInt(1), Amount2: big.NewInt(2)}))
	require.NoError(t, err)
	assert.Equal(t, model.PoolEventBurn, burn.Type)
	assert.Equal(t, model.NormalizeAddress(user.Hex()), *burn.ToAddress)
	assert.Equal(t, int64(2), burn.Amount2.Int64())
}

func TestHandleSwapUpdatesVolume(t *testing.T) {
	env := newEnv(t, 18, 18, nil)
	swaps := []dex.SwapArgs{
		{Sender: user, To: user, AmountIn1: big.NewInt(0), AmountIn2: big.NewInt(9), AmountOut1: big.NewInt(100), AmountOut2: big.NewInt(0)},
		{Sender: user, To: user, AmountIn1: big.NewInt(0), AmountIn2: big.NewInt(4), AmountOut1: big.NewInt(50), AmountOut2: big.NewInt(0)},
	}
	for _, swap := range swaps {
		row, err := Handle(context.Background(), env, event(swap))
		require.NoError(t, err)
		assert.Equal(t, swap.AmountOut1, row.Amount1)
		assert.Equal(t, swap.AmountIn2, row.AmountIn2)
	}

	rows := env.Market.Volume.Flush(env.Block)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(150), rows[0].Volume1.Int64())
	assert.Equal(t, int64(0), rows[0].Volume2.Int64())
}

func TestHandleSyncUpdatesReservesPricesAndCandles(t *testing.T) {
	env := newEnv(t, 18, 6, nil)
	r1 := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	r2 := big.NewInt(2000_000000)

	row, err := Handle(context.Background(), env, event(dex.SyncArgs{Reserve1: r1, Reserve2: r2}))
	require.NoError(t, err)
	assert.Equal(t, model.PoolEventSync, row.Type)

	reserves := env.Market.Reserves.Flush(env.Block)
	require.Len(t, reserves, 1)
	assert.Equal(t, row.ID, reserves[0].EventID)
	assert.Equal(t, 0, r2.Cmp(reserves[0].Reserved2))

	price1, ok := env.Market.Candles.Close(pair.Hex(), token1.Hex())
	require.True(t, ok)
	assert.True(t, price1.Equal(decimal.NewFromInt(2)), "price1 %s", price1)
	price2, ok := env.Market.Candles.Close(pair.Hex(), token2.Hex())
	require.True(t, ok)
	assert.True(t, price2.Equal(decimal.RequireFromString("0.5")), "price2 %s", price2)

	require.True(t, env.Market.Prices.Estimate(decimal.NewFromInt(4)))
	estimated, _ := env.Market.Prices.Price(token2.Hex())
	assert.True(t, estimated.Equal(decimal.NewFromInt(2)), "token2 %s", estimated)
}

func TestHandleSyncZeroReserveSkipsPricing(t *testing.T) {
	env := newEnv(t, 18, 18, nil)

	_, err := Handle(context.Background(), env, event(dex.SyncArgs{Reserve1: big.NewInt(0), Reserve2: big.NewInt(10)}))
	require.NoError(t, err)

	assert.Len(t, env.Market.Reserves.Flush(env.Block), 1)
	assert.Empty(t, env.Market.Candles.Flush(env.Block))
}

func TestHandleSyncWithoutReservesIsFatal(t *testing.T) {
	env := newEnv(t, 18, 18, nil)
	_, err := Handle(context.Background(), env, event(dex.SyncArgs{Reserve1: big.NewInt(1)}))
	assert.ErrorIs(t, err, ErrMissingReserves)
}

func TestHandleTransferBoundaries(t *testing.T) {
	zero := common.Address{}
	tests := []struct {
		name string
		from common.Address
		to   common.Address
		want bool
	}{
		{name: "mint", from: zero, to: user, want: true},
		{name: "burn", from: pair, to: zero, want: true},
		{name: "plain transfer", from: user, to: pair},
		{name: "zero to zero", from: zero, to: zero},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(t, 18, 18, nil)
			row, err := Handle(context.Background(), env, event(dex.TransferArgs{From: tc.from, To: tc.to, Value: big.NewInt(1)}))
			require.NoError(t, err)
			assert.Equal(t, tc.want, row != nil)
		})
	}
}

func TestHandleTransferKeepsRunningSupply(t *testing.T) {
	reader := &stubSupply{ok: true, event: model.PoolEvent{TotalSupply: big.NewInt(1000)}}
	env := newEnv(t, 18, 18, reader)
	zero := common.Address{}

	steps := []struct {
		from, to common.Address
		value    int64
		supply   int64
		total    int64
	}{
		{from: zero, to: user, value: 500, supply: 500, total: 1500},
		{from: pair, to: zero, value: 200, supply: -200, total: 1300},
		{from: zero, to: user, value: 1, supply: 1, total: 1301},
	}
	for i, step := range steps {
		env.Index = uint64(i)
		row, err := Handle(context.Background(), env, event(dex.TransferArgs{From: step.from, To: step.to, Value: big.NewInt(step.value)}))
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, step.supply, row.Supply.Int64())
		assert.Equal(t, step.total, row.TotalSupply.Int64())
		assert.Equal(t, model.NormalizeAddress(step.from.Hex()), *row.SenderAddress)
		assert.Equal(t, model.NormalizeAddress(step.to.Hex()), *row.ToAddress)
	}
	assert.Equal(t, 1, reader.calls, "stored total is read once per pool")
}

func TestHandleTransferReaderError(t *testing.T) {
	boom := errors.New("connection reset")
	env := newEnv(t, 18, 18, &stubSupply{err: boom})
	_, err := Handle(context.Background(), env, event(dex.TransferArgs{From: common.Address{}, To: user, Value: big.NewInt(1)}))
	assert.ErrorIs(t, err, boom)
}
