package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dexHistory/internal/model"
)

// Node is the subset of Client the block source needs.
type Node interface {
	ChainID() *big.Int
	HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// SourceConfig selects which logs become part of a block.
type SourceConfig struct {
	Topics      []common.Hash
	Concurrency int
}

// Source assembles blocks from headers and filtered logs.
type Source struct {
	node   Node
	cfg    SourceConfig
	pool   pond.Pool
	logger *zap.Logger
}

func NewSource(node Node, cfg SourceConfig, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Source{
		node:   node,
		cfg:    cfg,
		pool:   pond.NewPool(cfg.Concurrency),
		logger: logger,
	}
}

// Close stops the fetch workers.
func (s *Source) Close() {
	s.pool.StopAndWait()
}

// Blocks returns every block in [from, to] in height order, including blocks
// without logs. Logs inside a block are ordered by log index.
func (s *Source) Blocks(ctx context.Context, from, to uint64) ([]model.Block, error) {
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	logs, err := s.node.FilterLogs(ctx, from, to, nil, s.cfg.Topics)
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	headers, err := s.headers(ctx, from, to)
	if err != nil {
		return nil, err
	}

	chainID := s.node.ChainID().Uint64()
	blocks := make([]model.Block, len(headers))
	for i, header := range headers {
		blocks[i] = model.Block{
			Height:    from + uint64(i),
			Hash:      header.Hash().Hex(),
			Timestamp: time.Unix(int64(header.Time), 0).UTC(),
		}
	}

	for _, log := range logs {
		if log.Removed || log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		block := &blocks[log.BlockNumber-from]
		block.Logs = append(block.Logs, buildLogRecord(chainID, log, uint64(block.Timestamp.Unix())))
	}

	for i := range blocks {
		sort.SliceStable(blocks[i].Logs, func(a, b int) bool {
			return blocks[i].Logs[a].LogIndex < blocks[i].Logs[b].LogIndex
		})
	}
	s.logger.Debug("assembled blocks", zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("logs", len(logs)))
	return blocks, nil
}

func (s *Source) headers(ctx context.Context, from, to uint64) ([]*types.Header, error) {
	headers := make([]*types.Header, to-from+1)
	errs := make([]error, len(headers))

	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i := range headers {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			headers[i], errs[i] = s.node.HeaderByNumber(groupCtx, from+uint64(i))
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("header %d: %w", from+uint64(i), err)
		}
		if headers[i] == nil {
			return nil, fmt.Errorf("header %d: not found", from+uint64(i))
		}
	}
	return headers, nil
}

func buildLogRecord(chainID uint64, log types.Log, timestamp uint64) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Timestamp:   timestamp,
	}
}
