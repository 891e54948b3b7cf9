// Package verify submits pair contracts to a source verification service and
// records the pools it accepts.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"dexHistory/internal/metrics"
	"dexHistory/internal/model"
)

const submitPath = "/api/verificator/submit-verification"

// verifiedBody is the exact response body of an accepted submission.
const verifiedBody = "Verified"

// PoolStore persists verification results.
type PoolStore interface {
	UnverifiedPools(ctx context.Context) ([]model.Pool, error)
	SetPoolVerified(ctx context.Context, address string) error
}

// Config describes the contract that every pool is verified against.
type Config struct {
	URL             string
	ContractName    string
	Source          string
	Target          string
	Filename        string
	License         string
	Arguments       string
	Optimization    string
	CompilerVersion string
	Runs            int
	Workers         int
	QueueSize       int
	Timeout         time.Duration
}

// DefaultConfig returns the settings of the V2 pair contract.
func DefaultConfig() Config {
	return Config{
		ContractName:    "ReefswapV2Pair",
		Target:          "london",
		Filename:        "ReefswapV2Pair.sol",
		License:         "none",
		Arguments:       "[]",
		Optimization:    "true",
		CompilerVersion: "v0.5.16+commit.9c3226ce",
		Runs:            999999,
		Workers:         4,
		QueueSize:       256,
		Timeout:         30 * time.Second,
	}
}

type request struct {
	Name            string `json:"name"`
	Runs            int    `json:"runs"`
	Source          string `json:"source"`
	Target          string `json:"target"`
	Address         string `json:"address"`
	Filename        string `json:"filename"`
	License         string `json:"license"`
	Arguments       string `json:"arguments"`
	Optimization    string `json:"optimization"`
	CompilerVersion string `json:"compilerVersion"`
	BlockHeight     uint64 `json:"blockHeight"`
}

// Submitter verifies pools on a worker pool. Failures are logged and counted,
// the pool stays unverified and is retried by VerifyAll.
type Submitter struct {
	cfg     Config
	store   PoolStore
	client  *http.Client
	workers pond.Pool
	ctx     context.Context
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSubmitter builds a Submitter. ctx bounds the asynchronous submissions.
func NewSubmitter(ctx context.Context, cfg Config, store PoolStore, logger *zap.Logger, m *metrics.Metrics) (*Submitter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("verification url is required")
	}
	if store == nil {
		return nil, fmt.Errorf("pool store is nil")
	}
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Submitter{
		cfg:     cfg,
		store:   store,
		client:  &http.Client{Timeout: cfg.Timeout},
		workers: pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.QueueSize), pond.WithNonBlocking(true)),
		ctx:     ctx,
		logger:  logger,
		metrics: m,
	}, nil
}

// Submit queues pool for verification and returns immediately. When the
// queue is full the submission is dropped and the pool stays unverified until
// the next VerifyAll pass.
func (s *Submitter) Submit(pool model.Pool) {
	err := s.workers.Go(func() {
		if _, err := s.Verify(s.ctx, pool); err != nil {
			s.logger.Warn("verify pool failed", zap.String("pool", pool.Address), zap.Error(err))
		}
	})
	if err != nil {
		s.metrics.Verifications.WithLabelValues("dropped").Inc()
		s.logger.Warn("verification submission dropped", zap.String("pool", pool.Address), zap.Error(err))
	}
}

// Verify submits one pool and marks it verified when the service accepts it.
func (s *Submitter) Verify(ctx context.Context, pool model.Pool) (bool, error) {
	verified, err := s.submit(ctx, pool)
	if err != nil {
		s.metrics.Verifications.WithLabelValues("error").Inc()
		return false, err
	}
	if !verified {
		s.metrics.Verifications.WithLabelValues("rejected").Inc()
		s.logger.Warn("pool verification rejected", zap.String("pool", pool.Address))
		return false, nil
	}
	if err := s.store.SetPoolVerified(ctx, pool.Address); err != nil {
		s.metrics.Verifications.WithLabelValues("error").Inc()
		return false, fmt.Errorf("mark %s verified: %w", pool.Address, err)
	}
	s.metrics.Verifications.WithLabelValues("verified").Inc()
	s.logger.Info("pool verified", zap.String("pool", pool.Address))
	return true, nil
}

// VerifyAll re-submits every unverified pool and waits for the results. It
// returns how many pools were verified.
func (s *Submitter) VerifyAll(ctx context.Context) (int, error) {
	pools, err := s.store.UnverifiedPools(ctx)
	if err != nil {
		return 0, fmt.Errorf("load unverified pools: %w", err)
	}
	if len(pools) == 0 {
		return 0, nil
	}

	// The queue pool drops work when full, a pass must not.
	batch := pond.NewPool(s.cfg.Workers)
	defer batch.StopAndWait()

	var verified atomic.Int64
	group := batch.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, pool := range pools {
		group.Submit(func() {
			ok, err := s.Verify(groupCtx, pool)
			if err != nil {
				s.logger.Warn("verify pool failed", zap.String("pool", pool.Address), zap.Error(err))
				return
			}
			if ok {
				verified.Add(1)
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return int(verified.Load()), err
	}

	s.logger.Info("verification pass complete", zap.Int("pools", len(pools)), zap.Int64("verified", verified.Load()))
	return int(verified.Load()), ctx.Err()
}

// Close waits for queued submissions.
func (s *Submitter) Close() {
	s.workers.StopAndWait()
}

func (s *Submitter) submit(ctx context.Context, pool model.Pool) (bool, error) {
	payload, err := json.Marshal(request{
		Name:            s.cfg.ContractName,
		Runs:            s.cfg.Runs,
		Source:          s.cfg.Source,
		Target:          s.cfg.Target,
		Address:         pool.Address,
		Filename:        s.cfg.Filename,
		License:         s.cfg.License,
		Arguments:       s.cfg.Arguments,
		Optimization:    s.cfg.Optimization,
		CompilerVersion: s.cfg.CompilerVersion,
		BlockHeight:     pool.BlockHeight,
	})
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+submitPath, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("submit %s: %w", pool.Address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("submit %s: status %d", pool.Address, resp.StatusCode)
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`) == verifiedBody, nil
}
