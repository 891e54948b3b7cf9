// Package memory is an in-process store with the same semantics as the
// Postgres store. It backs tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dexHistory/internal/model"
	"dexHistory/internal/storage"
)

type Store struct {
	mu sync.RWMutex

	state        map[string]uint64
	tokens       map[string]model.Token
	pools        map[string]model.Pool
	events       map[string]model.PoolEvent
	volumes      map[string]model.VolumeRaw
	reserves     map[string]model.ReservedRaw
	prices       map[string]model.TokenPrice
	candlesticks map[string]model.Candlestick
}

func NewStore() *Store {
	return &Store{
		state:        make(map[string]uint64),
		tokens:       make(map[string]model.Token),
		pools:        make(map[string]model.Pool),
		events:       make(map[string]model.PoolEvent),
		volumes:      make(map[string]model.VolumeRaw),
		reserves:     make(map[string]model.ReservedRaw),
		prices:       make(map[string]model.TokenPrice),
		candlesticks: make(map[string]model.Candlestick),
	}
}

func (s *Store) LoadState(_ context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	height, ok := s.state[name]
	return height, ok, nil
}

// CommitBlock applies w and moves the checkpoint of name to the block height.
// Nothing is written when a row references an unknown pool. Existing ids are
// left untouched.
func (s *Store) CommitBlock(_ context.Context, name string, w model.BlockWrite) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	known := func(pool string) bool {
		if _, ok := s.pools[pool]; ok {
			return true
		}
		for _, p := range w.Pools {
			if p.Address == pool {
				return true
			}
		}
		return false
	}
	for _, e := range w.Events {
		if !known(e.PoolID) {
			return fmt.Errorf("event %s: %w: %s", e.ID, storage.ErrPoolNotFound, e.PoolID)
		}
	}
	for _, v := range w.Volumes {
		if !known(v.PoolID) {
			return fmt.Errorf("volume %s: %w: %s", v.ID, storage.ErrPoolNotFound, v.PoolID)
		}
	}
	for _, r := range w.Reserves {
		if !known(r.PoolID) {
			return fmt.Errorf("reserves %s: %w: %s", r.ID, storage.ErrPoolNotFound, r.PoolID)
		}
	}

	for _, t := range w.Tokens {
		if _, ok := s.tokens[t.Address]; !ok {
			s.tokens[t.Address] = t
		}
	}
	for _, p := range w.Pools {
		if _, ok := s.pools[p.Address]; !ok {
			s.pools[p.Address] = p
		}
	}
	for _, e := range w.Events {
		if _, ok := s.events[e.ID]; !ok {
			s.events[e.ID] = e
		}
	}
	for _, v := range w.Volumes {
		if _, ok := s.volumes[v.ID]; !ok {
			s.volumes[v.ID] = v
		}
	}
	for _, r := range w.Reserves {
		if _, ok := s.reserves[r.ID]; !ok {
			s.reserves[r.ID] = r
		}
	}
	for _, p := range w.Prices {
		if _, ok := s.prices[p.ID]; !ok {
			s.prices[p.ID] = p
		}
	}
	for _, c := range w.Candlesticks {
		if _, ok := s.candlesticks[c.ID]; !ok {
			s.candlesticks[c.ID] = c
		}
	}
	s.state[name] = w.Block.Height
	return nil
}

// TruncateFrom removes every row at or above height and rewinds the
// checkpoint of name to the block before it.
func (s *Store) TruncateFrom(_ context.Context, name string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.events {
		if e.BlockHeight >= height {
			delete(s.events, id)
		}
	}
	for id, v := range s.volumes {
		if v.BlockHeight >= height {
			delete(s.volumes, id)
		}
	}
	for id, r := range s.reserves {
		if r.BlockHeight >= height {
			delete(s.reserves, id)
		}
	}
	for id, p := range s.prices {
		if p.BlockHeight >= height {
			delete(s.prices, id)
		}
	}
	for id, c := range s.candlesticks {
		if c.BlockHeight >= height {
			delete(s.candlesticks, id)
		}
	}
	for addr, p := range s.pools {
		if p.BlockHeight >= height {
			delete(s.pools, addr)
		}
	}
	for addr, t := range s.tokens {
		if t.BlockHeight >= height {
			delete(s.tokens, addr)
		}
	}
	if height == 0 {
		delete(s.state, name)
	} else if last, ok := s.state[name]; ok && last >= height {
		s.state[name] = height - 1
	}
	return nil
}

func (s *Store) LoadPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockHeight != out[j].BlockHeight {
			return out[i].BlockHeight < out[j].BlockHeight
		}
		return out[i].EventID < out[j].EventID
	})
	return out, nil
}

func (s *Store) LoadTokens(_ context.Context) ([]model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) LatestReserves(_ context.Context, atOrBefore uint64) ([]model.ReservedRaw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]model.ReservedRaw)
	for _, r := range s.reserves {
		if r.BlockHeight > atOrBefore {
			continue
		}
		if cur, ok := latest[r.PoolID]; !ok || r.BlockHeight > cur.BlockHeight {
			latest[r.PoolID] = r
		}
	}
	out := make([]model.ReservedRaw, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

func (s *Store) LatestTokenPrices(_ context.Context, atOrBefore uint64) ([]model.TokenPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]model.TokenPrice)
	for _, p := range s.prices {
		if p.BlockHeight > atOrBefore {
			continue
		}
		if cur, ok := latest[p.Token]; !ok || p.BlockHeight > cur.BlockHeight {
			latest[p.Token] = p
		}
	}
	out := make([]model.TokenPrice, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (s *Store) LatestCandlesticks(_ context.Context, atOrBefore uint64) ([]model.Candlestick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type key struct{ pool, token string }
	latest := make(map[key]model.Candlestick)
	for _, c := range s.candlesticks {
		if c.BlockHeight > atOrBefore {
			continue
		}
		k := key{c.PoolID, c.Token}
		if cur, ok := latest[k]; !ok || c.BlockHeight > cur.BlockHeight {
			latest[k] = c
		}
	}
	out := make([]model.Candlestick, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) LatestTransfer(_ context.Context, pool string) (model.PoolEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest model.PoolEvent
		found  bool
	)
	for _, e := range s.events {
		if e.PoolID != pool || e.Type != model.PoolEventTransfer {
			continue
		}
		if !found || latest.Before(e) {
			latest, found = e, true
		}
	}
	return latest, found, nil
}

func (s *Store) UnverifiedPools(ctx context.Context) ([]model.Pool, error) {
	pools, err := s.LoadPools(ctx)
	if err != nil {
		return nil, err
	}
	out := pools[:0]
	for _, p := range pools {
		if !p.Verified {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) SetPoolVerified(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[model.NormalizeAddress(address)]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrPoolNotFound, address)
	}
	pool.Verified = true
	s.pools[pool.Address] = pool
	return nil
}

func (s *Store) Pools(ctx context.Context) ([]model.Pool, error) {
	return s.LoadPools(ctx)
}

func (s *Store) Pool(_ context.Context, address string) (model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[model.NormalizeAddress(address)]
	if !ok {
		return model.Pool{}, fmt.Errorf("%w: %s", storage.ErrPoolNotFound, address)
	}
	return pool, nil
}

func (s *Store) Token(_ context.Context, address string) (model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[model.NormalizeAddress(address)]
	if !ok {
		return model.Token{}, fmt.Errorf("token %s: %w", address, storage.ErrNotFound)
	}
	return token, nil
}

func (s *Store) SetTokenApproved(_ context.Context, address string, approved *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[model.NormalizeAddress(address)]
	if !ok {
		return fmt.Errorf("token %s: %w", address, storage.ErrNotFound)
	}
	if approved == nil {
		token.Approved = nil
	} else {
		v := *approved
		token.Approved = &v
	}
	s.tokens[token.Address] = token
	return nil
}

func (s *Store) PoolEvents(_ context.Context, pool string, kind model.PoolEventType, r storage.TimeRange) ([]model.PoolEvent, error) {
	pool = model.NormalizeAddress(pool)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PoolEvent
	for _, e := range s.events {
		if e.PoolID == pool && e.Type == kind && r.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) Position(_ context.Context, pool, signer string) (model.Position, error) {
	pos := model.NewPosition(pool, signer)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		pos.Apply(e)
	}
	return pos, nil
}

func (s *Store) VolumeRows(_ context.Context, pool string, r storage.TimeRange) ([]model.VolumeRaw, error) {
	pool = model.NormalizeAddress(pool)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.VolumeRaw
	for _, v := range s.volumes {
		if v.PoolID == pool && r.Contains(v.Timestamp) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockHeight < out[j].BlockHeight })
	return out, nil
}

func (s *Store) ReserveRows(_ context.Context, pool string, r storage.TimeRange) ([]model.ReservedRaw, error) {
	pool = model.NormalizeAddress(pool)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ReservedRaw
	for _, row := range s.reserves {
		if row.PoolID == pool && r.Contains(row.Timestamp) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockHeight < out[j].BlockHeight })
	return out, nil
}

func (s *Store) CandlestickRows(_ context.Context, pool, token string, r storage.TimeRange) ([]model.Candlestick, error) {
	pool = model.NormalizeAddress(pool)
	token = model.NormalizeAddress(token)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Candlestick
	for _, c := range s.candlesticks {
		if c.PoolID == pool && c.Token == token && r.Contains(c.Timestamp) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockHeight < out[j].BlockHeight })
	return out, nil
}

func (s *Store) TokenPriceRows(_ context.Context, token string, r storage.TimeRange) ([]model.TokenPrice, error) {
	token = model.NormalizeAddress(token)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TokenPrice
	for _, p := range s.prices {
		if p.Token == token && r.Contains(p.Timestamp) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockHeight < out[j].BlockHeight })
	return out, nil
}
