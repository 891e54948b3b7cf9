package aggregate

import (
	"math/big"

	"dexHistory/internal/model"
)

type reserveEntry struct {
	reserved1 *big.Int
	reserved2 *big.Int
	eventID   string
}

// ReservesAccumulator keeps the latest raw reserves per pool across blocks and
// remembers which pools changed in the current block.
type ReservesAccumulator struct {
	latest  map[string]reserveEntry
	touched []string
	dirty   map[string]bool
}

func NewReservesAccumulator() *ReservesAccumulator {
	return &ReservesAccumulator{
		latest: make(map[string]reserveEntry),
		dirty:  make(map[string]bool),
	}
}

// Update overwrites the pool's reserves; the last Sync in a block wins.
func (r *ReservesAccumulator) Update(pool string, reserved1, reserved2 *big.Int, eventID string) {
	pool = model.NormalizeAddress(pool)
	r.latest[pool] = reserveEntry{
		reserved1: cloneInt(reserved1),
		reserved2: cloneInt(reserved2),
		eventID:   eventID,
	}
	if !r.dirty[pool] {
		r.dirty[pool] = true
		r.touched = append(r.touched, pool)
	}
}

// Latest returns the last known reserves of pool.
func (r *ReservesAccumulator) Latest(pool string) (*big.Int, *big.Int, bool) {
	entry, ok := r.latest[model.NormalizeAddress(pool)]
	if !ok {
		return nil, nil, false
	}
	return cloneInt(entry.reserved1), cloneInt(entry.reserved2), true
}

// Flush emits a row for every pool updated in this block, in update order.
func (r *ReservesAccumulator) Flush(block model.Block) []model.ReservedRaw {
	rows := make([]model.ReservedRaw, 0, len(r.touched))
	for _, pool := range r.touched {
		entry := r.latest[pool]
		rows = append(rows, model.ReservedRaw{
			ID:          model.PoolRowID(block.Height, pool),
			BlockHeight: block.Height,
			BlockHash:   block.Hash,
			EventID:     entry.eventID,
			PoolID:      pool,
			Reserved1:   cloneInt(entry.reserved1),
			Reserved2:   cloneInt(entry.reserved2),
			Timestamp:   block.Timestamp,
		})
	}
	r.touched = r.touched[:0]
	r.dirty = make(map[string]bool)
	return rows
}

func (r *ReservesAccumulator) seed(rows []model.ReservedRaw) {
	for _, row := range rows {
		r.latest[model.NormalizeAddress(row.PoolID)] = reserveEntry{
			reserved1: cloneInt(row.Reserved1),
			reserved2: cloneInt(row.Reserved2),
			eventID:   row.EventID,
		}
	}
}
