package memory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexHistory/internal/model"
	"dexHistory/internal/storage"
)

const (
	stateName = "pipeline"
	poolAddr  = "0xpool"
	tokenA    = "0xa"
	tokenB    = "0xb"
)

func blockWrite(height uint64) model.BlockWrite {
	ts := time.Unix(int64(1_700_000_000+height), 0).UTC()
	block := model.Block{Height: height, Hash: "0xh", Timestamp: ts}
	return model.BlockWrite{
		Block: block,
		Events: []model.PoolEvent{{
			ID: model.EventID(height, 0), PoolID: poolAddr, Type: model.PoolEventTransfer,
			BlockHeight: height, Timestamp: ts, TotalSupply: big.NewInt(int64(height) * 10),
		}},
		Reserves: []model.ReservedRaw{{
			ID: model.PoolRowID(height, poolAddr), BlockHeight: height, PoolID: poolAddr,
			Reserved1: big.NewInt(int64(height)), Reserved2: big.NewInt(1), Timestamp: ts,
		}},
		Prices: []model.TokenPrice{{
			ID: model.TokenPriceID(height, tokenA), BlockHeight: height, Token: tokenA,
			Price: decimal.NewFromInt(int64(height)), Timestamp: ts,
		}},
	}
}

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	first := blockWrite(1)
	first.Tokens = []model.Token{{Address: tokenA, BlockHeight: 1}, {Address: tokenB, BlockHeight: 1}}
	first.Pools = []model.Pool{{Address: poolAddr, Token1: tokenA, Token2: tokenB, BlockHeight: 1}}
	require.NoError(t, s.CommitBlock(context.Background(), stateName, first))
	return s
}

func TestCommitBlockRejectsUnknownPool(t *testing.T) {
	s := NewStore()
	err := s.CommitBlock(context.Background(), stateName, blockWrite(1))
	assert.ErrorIs(t, err, storage.ErrPoolNotFound)

	_, ok, err := s.LoadState(context.Background(), stateName)
	require.NoError(t, err)
	assert.False(t, ok, "checkpoint must not move on a rejected block")
}

func TestCommitBlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	w := blockWrite(2)
	require.NoError(t, s.CommitBlock(ctx, stateName, w))
	w.Reserves[0].Reserved1 = big.NewInt(999)
	require.NoError(t, s.CommitBlock(ctx, stateName, w))

	rows, err := s.ReserveRows(ctx, poolAddr, storage.TimeRange{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[1].Reserved1.Int64(), "existing ids are not overwritten")

	height, ok, err := s.LoadState(ctx, stateName)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), height)
}

func TestLatestRowsRespectHeight(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	for h := uint64(2); h <= 4; h++ {
		require.NoError(t, s.CommitBlock(ctx, stateName, blockWrite(h)))
	}

	reserves, err := s.LatestReserves(ctx, 3)
	require.NoError(t, err)
	require.Len(t, reserves, 1)
	assert.Equal(t, uint64(3), reserves[0].BlockHeight)

	prices, err := s.LatestTokenPrices(ctx, 2)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.True(t, prices[0].Price.Equal(decimal.NewFromInt(2)))

	transfer, ok, err := s.LatestTransfer(ctx, poolAddr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(40), transfer.TotalSupply.Int64())
}

func TestTruncateFrom(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	for h := uint64(2); h <= 4; h++ {
		require.NoError(t, s.CommitBlock(ctx, stateName, blockWrite(h)))
	}

	require.NoError(t, s.TruncateFrom(ctx, stateName, 3))
	height, _, err := s.LoadState(ctx, stateName)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), height)

	rows, err := s.TokenPriceRows(ctx, tokenA, storage.TimeRange{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	pools, err := s.LoadPools(ctx)
	require.NoError(t, err)
	assert.Len(t, pools, 1)

	require.NoError(t, s.TruncateFrom(ctx, stateName, 0))
	pools, err = s.LoadPools(ctx)
	require.NoError(t, err)
	assert.Empty(t, pools)
	_, ok, err := s.LoadState(ctx, stateName)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPoolAndTokenFlags(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	unverified, err := s.UnverifiedPools(ctx)
	require.NoError(t, err)
	require.Len(t, unverified, 1)
	require.NoError(t, s.SetPoolVerified(ctx, poolAddr))
	unverified, err = s.UnverifiedPools(ctx)
	require.NoError(t, err)
	assert.Empty(t, unverified)
	assert.ErrorIs(t, s.SetPoolVerified(ctx, "0xmissing"), storage.ErrPoolNotFound)

	approved := true
	require.NoError(t, s.SetTokenApproved(ctx, tokenA, &approved))
	token, err := s.Token(ctx, tokenA)
	require.NoError(t, err)
	require.NotNil(t, token.Approved)
	assert.True(t, *token.Approved)

	require.NoError(t, s.SetTokenApproved(ctx, tokenA, nil))
	token, err = s.Token(ctx, tokenA)
	require.NoError(t, err)
	assert.Nil(t, token.Approved)
	assert.ErrorIs(t, s.SetTokenApproved(ctx, "0xmissing", nil), storage.ErrNotFound)
}

func TestPositionSumsSignerEvents(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	signer, other := "0xsigner", "0xother"

	w := blockWrite(2)
	ts := w.Block.Timestamp
	w.Events = []model.PoolEvent{
		{ID: model.EventID(2, 0), PoolID: poolAddr, Type: model.PoolEventMint, BlockHeight: 2, Timestamp: ts,
			SignerAddress: &signer, Amount1: big.NewInt(100), Amount2: big.NewInt(40)},
		{ID: model.EventID(2, 1), PoolID: poolAddr, Type: model.PoolEventTransfer, BlockHeight: 2, IndexInBlock: 1, Timestamp: ts,
			SignerAddress: &signer, Supply: big.NewInt(60), TotalSupply: big.NewInt(60)},
		{ID: model.EventID(2, 2), PoolID: poolAddr, Type: model.PoolEventBurn, BlockHeight: 2, IndexInBlock: 2, Timestamp: ts,
			SignerAddress: &signer, Amount1: big.NewInt(25), Amount2: big.NewInt(10)},
		{ID: model.EventID(2, 3), PoolID: poolAddr, Type: model.PoolEventMint, BlockHeight: 2, IndexInBlock: 3, Timestamp: ts,
			SignerAddress: &other, Amount1: big.NewInt(999), Amount2: big.NewInt(999)},
	}
	require.NoError(t, s.CommitBlock(ctx, stateName, w))

	pos, err := s.Position(ctx, poolAddr, "0xSIGNER")
	require.NoError(t, err)
	assert.Equal(t, "60", pos.Supply.String())
	assert.Equal(t, "75", pos.Locked1.String())
	assert.Equal(t, "30", pos.Locked2.String())

	empty, err := s.Position(ctx, poolAddr, "0xnobody")
	require.NoError(t, err)
	assert.Zero(t, empty.Supply.Sign())
	assert.Zero(t, empty.Locked1.Sign())
}
