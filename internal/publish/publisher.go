// Package publish announces committed blocks on NATS.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"dexHistory/internal/model"
)

// BlockSummary is the message sent for every committed block.
type BlockSummary struct {
	Height       uint64              `json:"height"`
	Hash         string              `json:"hash"`
	Timestamp    time.Time           `json:"timestamp"`
	Events       int                 `json:"events"`
	NewPools     []string            `json:"new_pools,omitempty"`
	Prices       []model.TokenPrice  `json:"prices"`
	Candlesticks []model.Candlestick `json:"candlesticks,omitempty"`
}

// Summarize builds the message for w.
func Summarize(w model.BlockWrite) BlockSummary {
	summary := BlockSummary{
		Height:       w.Block.Height,
		Hash:         w.Block.Hash,
		Timestamp:    w.Block.Timestamp,
		Events:       len(w.Events),
		Prices:       w.Prices,
		Candlesticks: w.Candlesticks,
	}
	for _, pool := range w.Pools {
		summary.NewPools = append(summary.NewPools, pool.Address)
	}
	return summary
}

// Publisher sends block summaries to <prefix>.blocks.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials url with endless reconnects.
func Connect(url, subjectPrefix string, logger *zap.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if subjectPrefix == "" {
		subjectPrefix = "dexhistory"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(url,
		nats.Name("dex-history"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to nats", zap.String("url", url))

	return &Publisher{nc: nc, subject: subjectPrefix + ".blocks", logger: logger}, nil
}

// Subject is where summaries are published.
func (p *Publisher) Subject() string {
	return p.subject
}

func (p *Publisher) Publish(_ context.Context, w model.BlockWrite) error {
	if p.nc == nil || p.nc.Status() != nats.CONNECTED {
		return errors.New("nats not connected")
	}
	data, err := json.Marshal(Summarize(w))
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", w.Block.Height, err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish block %d: %w", w.Block.Height, err)
	}
	return nil
}

// Close drains pending messages.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.Status() == nats.CLOSED {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
