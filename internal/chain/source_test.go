package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	logs    []types.Log
	missing uint64
}

func (f *fakeNode) ChainID() *big.Int { return big.NewInt(13939) }

func (f *fakeNode) HeaderByNumber(_ context.Context, number uint64) (*types.Header, error) {
	if f.missing != 0 && number == f.missing {
		return nil, errors.New("header unavailable")
	}
	return &types.Header{Number: new(big.Int).SetUint64(number), Time: 1_700_000_000 + number}, nil
}

func (f *fakeNode) FilterLogs(context.Context, uint64, uint64, []common.Address, []common.Hash) ([]types.Log, error) {
	return f.logs, nil
}

func TestBlocksIncludesEmptyBlocksAndOrdersLogs(t *testing.T) {
	tx := common.HexToHash("0x00000000000000000000000011111111111111111111111111111111111111ab")
	node := &fakeNode{logs: []types.Log{
		{BlockNumber: 12, Index: 4, TxHash: tx, Topics: []common.Hash{{0x01}}},
		{BlockNumber: 12, Index: 1, TxHash: tx, Topics: []common.Hash{{0x02}}},
		{BlockNumber: 10, Index: 0, TxHash: tx},
		{BlockNumber: 11, Index: 0, TxHash: tx, Removed: true},
	}}
	source := NewSource(node, SourceConfig{Concurrency: 2}, nil)
	defer source.Close()

	blocks, err := source.Blocks(context.Background(), 10, 13)
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	for i, block := range blocks {
		assert.Equal(t, uint64(10+i), block.Height)
		assert.Equal(t, int64(1_700_000_000+10+i), block.Timestamp.Unix())
	}
	assert.Len(t, blocks[0].Logs, 1)
	assert.Empty(t, blocks[1].Logs, "removed logs are dropped")
	require.Len(t, blocks[2].Logs, 2)
	assert.Equal(t, uint64(1), blocks[2].Logs[0].LogIndex)
	assert.Equal(t, uint64(4), blocks[2].Logs[1].LogIndex)
	assert.Empty(t, blocks[3].Logs)
	for _, block := range blocks {
		assert.Nil(t, block.Signers, "signers are resolved by the consumer")
	}
}

func TestBlocksFailsOnMissingHeader(t *testing.T) {
	node := &fakeNode{missing: 11}
	source := NewSource(node, SourceConfig{}, nil)
	defer source.Close()

	_, err := source.Blocks(context.Background(), 10, 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header 11")
}

func TestBlocksRejectsInvertedRange(t *testing.T) {
	source := NewSource(&fakeNode{}, SourceConfig{}, nil)
	defer source.Close()
	_, err := source.Blocks(context.Background(), 5, 4)
	assert.Error(t, err)
}
