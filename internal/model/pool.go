package model

import "strings"

// Token is an ERC20 token seen in a pair-created event.
type Token struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	// Approved is nil until a moderator decides.
	Approved    *bool  `json:"approved"`
	IconURL     string `json:"icon_url,omitempty"`
	BlockHeight uint64 `json:"block_height"`
}

// Pool is a pair contract created by the factory. Token order is the
// creation order reported by the factory event.
type Pool struct {
	Address     string `json:"address"`
	Token1      string `json:"token1"`
	Token2      string `json:"token2"`
	Decimals1   uint8  `json:"decimals1"`
	Decimals2   uint8  `json:"decimals2"`
	EventID     string `json:"event_id"`
	BlockHeight uint64 `json:"block_height"`
	Verified    bool   `json:"verified"`
}

// HasToken reports whether token is one of the pool's two tokens.
func (p Pool) HasToken(token string) bool {
	return strings.EqualFold(p.Token1, token) || strings.EqualFold(p.Token2, token)
}

// NormalizeAddress lower-cases a hex address for use as a map or table key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
