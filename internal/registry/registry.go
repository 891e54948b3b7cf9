// Package registry keeps the known pools and tokens in memory so every event
// can resolve its pool and token decimals without a store round trip.
package registry

import (
	"context"
	"fmt"
	"sync"

	"dexHistory/internal/model"
)

// Loader reads the persisted registry on startup.
type Loader interface {
	LoadPools(ctx context.Context) ([]model.Pool, error)
	LoadTokens(ctx context.Context) ([]model.Token, error)
}

// Registry maps pool addresses to pools and token addresses to tokens.
// Keys are lower-cased addresses.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]model.Pool
	tokens map[string]model.Token
	order  []string
}

func New() *Registry {
	return &Registry{
		pools:  make(map[string]model.Pool),
		tokens: make(map[string]model.Token),
	}
}

// Load replaces the registry content with what the loader returns.
func (r *Registry) Load(ctx context.Context, loader Loader) error {
	tokens, err := loader.LoadTokens(ctx)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	pools, err := loader.LoadPools(ctx)
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = make(map[string]model.Pool, len(pools))
	r.tokens = make(map[string]model.Token, len(tokens))
	r.order = r.order[:0]
	for _, token := range tokens {
		r.tokens[model.NormalizeAddress(token.Address)] = token
	}
	for _, pool := range pools {
		key := model.NormalizeAddress(pool.Address)
		if _, ok := r.pools[key]; !ok {
			r.order = append(r.order, key)
		}
		r.pools[key] = pool
	}
	return nil
}

// Pool returns the registered pool for address.
func (r *Registry) Pool(address string) (model.Pool, bool) {
	r.mu.RLock()
	pool, ok := r.pools[model.NormalizeAddress(address)]
	r.mu.RUnlock()
	return pool, ok
}

// Token returns the registered token for address.
func (r *Registry) Token(address string) (model.Token, bool) {
	r.mu.RLock()
	token, ok := r.tokens[model.NormalizeAddress(address)]
	r.mu.RUnlock()
	return token, ok
}

// Pools returns all pools in registration order.
func (r *Registry) Pools() []model.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Pool, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.pools[key])
	}
	return out
}

// AddToken registers a token unless it is already known. It reports whether
// the token was new.
func (r *Registry) AddToken(token model.Token) bool {
	key := model.NormalizeAddress(token.Address)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[key]; ok {
		return false
	}
	token.Address = key
	r.tokens[key] = token
	return true
}

// AddPool registers a pool. Both tokens must already be registered and a pool
// can only be created once.
func (r *Registry) AddPool(pool model.Pool) (model.Pool, error) {
	key := model.NormalizeAddress(pool.Address)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[key]; ok {
		return model.Pool{}, fmt.Errorf("pool %s already registered", key)
	}
	token1, ok := r.tokens[model.NormalizeAddress(pool.Token1)]
	if !ok {
		return model.Pool{}, fmt.Errorf("pool %s: token %s not registered", key, pool.Token1)
	}
	token2, ok := r.tokens[model.NormalizeAddress(pool.Token2)]
	if !ok {
		return model.Pool{}, fmt.Errorf("pool %s: token %s not registered", key, pool.Token2)
	}

	pool.Address = key
	pool.Token1 = token1.Address
	pool.Token2 = token2.Address
	pool.Decimals1 = token1.Decimals
	pool.Decimals2 = token2.Decimals
	r.pools[key] = pool
	r.order = append(r.order, key)
	return pool, nil
}
