package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexHistory/internal/metrics"
	"dexHistory/internal/model"
	"dexHistory/internal/storage/memory"
)

const (
	accepted = "0x00000000000000000000000000000000000000c1"
	rejected = "0x00000000000000000000000000000000000000c2"
	broken   = "0x00000000000000000000000000000000000000c3"
	tokenA   = "0x00000000000000000000000000000000000000a1"
	tokenB   = "0x00000000000000000000000000000000000000b2"
)

type verificator struct {
	mu       sync.Mutex
	requests []request
}

func (v *verificator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != submitPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v.mu.Lock()
	v.requests = append(v.requests, req)
	v.mu.Unlock()

	switch req.Address {
	case accepted:
		_, _ = w.Write([]byte("Verified"))
	case broken:
		http.Error(w, "boom", http.StatusInternalServerError)
	default:
		_, _ = w.Write([]byte("Bytecode mismatch"))
	}
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	w := model.BlockWrite{
		Block:  model.Block{Height: 7, Timestamp: time.Unix(1_700_000_000, 0).UTC()},
		Tokens: []model.Token{{Address: tokenA, Decimals: 18}, {Address: tokenB, Decimals: 18}},
	}
	for i, address := range []string{accepted, rejected, broken} {
		w.Pools = append(w.Pools, model.Pool{Address: address, Token1: tokenA, Token2: tokenB, EventID: model.EventID(7, uint64(i)), BlockHeight: 7})
	}
	require.NoError(t, store.CommitBlock(context.Background(), "pipeline", w))
	return store
}

func newSubmitter(t *testing.T, url string, store PoolStore, m *metrics.Metrics) *Submitter {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = url + "/"
	cfg.Source = "pragma solidity =0.5.16;"
	s, err := NewSubmitter(context.Background(), cfg, store, nil, m)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestVerifyMarksAcceptedPool(t *testing.T) {
	service := &verificator{}
	server := httptest.NewServer(service)
	defer server.Close()
	store := seedStore(t)
	ctx := context.Background()

	s := newSubmitter(t, server.URL, store, nil)
	ok, err := s.Verify(ctx, model.Pool{Address: accepted, BlockHeight: 7})
	require.NoError(t, err)
	assert.True(t, ok)

	pool, err := store.Pool(ctx, accepted)
	require.NoError(t, err)
	assert.True(t, pool.Verified)

	require.Len(t, service.requests, 1)
	req := service.requests[0]
	assert.Equal(t, "ReefswapV2Pair", req.Name)
	assert.Equal(t, 999999, req.Runs)
	assert.Equal(t, "london", req.Target)
	assert.Equal(t, "ReefswapV2Pair.sol", req.Filename)
	assert.Equal(t, "[]", req.Arguments)
	assert.Equal(t, "true", req.Optimization)
	assert.Equal(t, "v0.5.16+commit.9c3226ce", req.CompilerVersion)
	assert.Equal(t, "pragma solidity =0.5.16;", req.Source)
	assert.Equal(t, uint64(7), req.BlockHeight)
}

func TestVerifyAllCountsResults(t *testing.T) {
	server := httptest.NewServer(&verificator{})
	defer server.Close()
	store := seedStore(t)
	m := metrics.New(prometheus.NewRegistry(), "test")
	ctx := context.Background()

	s := newSubmitter(t, server.URL, store, m)
	verified, err := s.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, verified)

	pending, err := store.UnverifiedPools(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "rejected and failed pools stay unverified")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("error")))

	verified, err = s.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, verified)
}

func TestSubmitIsAsynchronous(t *testing.T) {
	server := httptest.NewServer(&verificator{})
	defer server.Close()
	store := seedStore(t)

	s := newSubmitter(t, server.URL, store, nil)
	s.Submit(model.Pool{Address: accepted, BlockHeight: 7})

	require.Eventually(t, func() bool {
		pool, err := store.Pool(context.Background(), accepted)
		return err == nil && pool.Verified
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte("Verified"))
	}))
	defer server.Close()
	defer close(release)
	store := seedStore(t)
	m := metrics.New(prometheus.NewRegistry(), "test")

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.Workers = 1
	cfg.QueueSize = 1
	s, err := NewSubmitter(context.Background(), cfg, store, nil, m)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	s.Submit(model.Pool{Address: accepted, BlockHeight: 7})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Submit(model.Pool{Address: rejected, BlockHeight: 7})
		s.Submit(model.Pool{Address: broken, BlockHeight: 7})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("dropped")))
}

func TestNewSubmitterRequiresURL(t *testing.T) {
	_, err := NewSubmitter(context.Background(), DefaultConfig(), memory.NewStore(), nil, nil)
	assert.Error(t, err)
}

func TestSchedulerRunsVerifyAll(t *testing.T) {
	server := httptest.NewServer(&verificator{})
	defer server.Close()
	store := seedStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSubmitter(t, server.URL, store, nil)
	scheduler, err := NewScheduler(ctx, "@every 1s", time.Second, s, nil)
	require.NoError(t, err)
	scheduler.Start()
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		pending, err := store.UnverifiedPools(ctx)
		return err == nil && len(pending) == 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(context.Background(), "every tuesday", 0, nil, nil)
	assert.Error(t, err)
}
