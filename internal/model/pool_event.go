package model

import (
	"fmt"
	"math/big"
	"time"
)

// PoolEventType is the kind of pair log a PoolEvent was built from.
type PoolEventType string

const (
	PoolEventMint     PoolEventType = "Mint"
	PoolEventBurn     PoolEventType = "Burn"
	PoolEventSwap     PoolEventType = "Swap"
	PoolEventSync     PoolEventType = "Sync"
	PoolEventTransfer PoolEventType = "Transfer"
)

// PoolEvent is one normalized pair log. Rows are append-only.
type PoolEvent struct {
	ID           string        `json:"id"`
	PoolID       string        `json:"pool_id"`
	Type         PoolEventType `json:"type"`
	BlockHeight  uint64        `json:"block_height"`
	IndexInBlock uint64        `json:"index_in_block"`
	Timestamp    time.Time     `json:"timestamp"`

	SenderAddress *string `json:"sender_address,omitempty"`
	ToAddress     *string `json:"to_address,omitempty"`
	SignerAddress *string `json:"signer_address,omitempty"`

	Amount1   *big.Int `json:"amount1,omitempty"`
	Amount2   *big.Int `json:"amount2,omitempty"`
	AmountIn1 *big.Int `json:"amount_in1,omitempty"`
	AmountIn2 *big.Int `json:"amount_in2,omitempty"`
	Reserved1 *big.Int `json:"reserved1,omitempty"`
	Reserved2 *big.Int `json:"reserved2,omitempty"`

	// Supply is the signed LP delta, negative on burns.
	Supply      *big.Int `json:"supply,omitempty"`
	TotalSupply *big.Int `json:"total_supply,omitempty"`
}

// EventID formats a sortable id from block height and index in block.
func EventID(height, index uint64) string {
	return fmt.Sprintf("%010d-%06d", height, index)
}

// Before orders events by (block height, index in block).
func (e PoolEvent) Before(other PoolEvent) bool {
	if e.BlockHeight != other.BlockHeight {
		return e.BlockHeight < other.BlockHeight
	}
	return e.IndexInBlock < other.IndexInBlock
}

// Position is what one signer holds in a pool. Supply is the net LP delta of
// the transfers they signed. Locked1 and Locked2 are the token amounts they
// minted less the amounts they burned.
type Position struct {
	Pool    string   `json:"pool"`
	Signer  string   `json:"signer"`
	Supply  *big.Int `json:"supply"`
	Locked1 *big.Int `json:"locked1"`
	Locked2 *big.Int `json:"locked2"`
}

// NewPosition returns an empty position of signer in pool.
func NewPosition(pool, signer string) Position {
	return Position{
		Pool:    NormalizeAddress(pool),
		Signer:  NormalizeAddress(signer),
		Supply:  new(big.Int),
		Locked1: new(big.Int),
		Locked2: new(big.Int),
	}
}

// Apply folds e into the position. Events of other pools or signers and
// event types without a position effect are ignored.
func (p *Position) Apply(e PoolEvent) {
	if e.PoolID != p.Pool || e.SignerAddress == nil || NormalizeAddress(*e.SignerAddress) != p.Signer {
		return
	}
	switch e.Type {
	case PoolEventTransfer:
		addInt(p.Supply, e.Supply)
	case PoolEventMint:
		addInt(p.Locked1, e.Amount1)
		addInt(p.Locked2, e.Amount2)
	case PoolEventBurn:
		subInt(p.Locked1, e.Amount1)
		subInt(p.Locked2, e.Amount2)
	}
}

func addInt(dst, v *big.Int) {
	if v != nil {
		dst.Add(dst, v)
	}
}

func subInt(dst, v *big.Int) {
	if v != nil {
		dst.Sub(dst, v)
	}
}
