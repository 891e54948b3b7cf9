package aggregate

import (
	"math/big"

	"dexHistory/internal/model"
)

type volumeSum struct {
	volume1 *big.Int
	volume2 *big.Int
}

// VolumeAccumulator sums swap output amounts per pool within one block.
type VolumeAccumulator struct {
	order []string
	sums  map[string]*volumeSum
}

func NewVolumeAccumulator() *VolumeAccumulator {
	return &VolumeAccumulator{sums: make(map[string]*volumeSum)}
}

// AddPool makes pool known so that it gets a (possibly zero) row every block.
func (v *VolumeAccumulator) AddPool(pool string) {
	pool = model.NormalizeAddress(pool)
	if _, ok := v.sums[pool]; ok {
		return
	}
	v.order = append(v.order, pool)
	v.sums[pool] = &volumeSum{volume1: big.NewInt(0), volume2: big.NewInt(0)}
}

// Update adds amounts to the pool's running block volume.
func (v *VolumeAccumulator) Update(pool string, amount1, amount2 *big.Int) {
	v.AddPool(pool)
	sum := v.sums[model.NormalizeAddress(pool)]
	if amount1 != nil {
		sum.volume1.Add(sum.volume1, amount1)
	}
	if amount2 != nil {
		sum.volume2.Add(sum.volume2, amount2)
	}
}

// Flush emits one row per known pool in registration order and zeroes the
// sums for the next block.
func (v *VolumeAccumulator) Flush(block model.Block) []model.VolumeRaw {
	rows := make([]model.VolumeRaw, 0, len(v.order))
	for _, pool := range v.order {
		sum := v.sums[pool]
		rows = append(rows, model.VolumeRaw{
			ID:          model.PoolRowID(block.Height, pool),
			BlockHeight: block.Height,
			BlockHash:   block.Hash,
			PoolID:      pool,
			Volume1:     sum.volume1,
			Volume2:     sum.volume2,
			Timestamp:   block.Timestamp,
		})
		v.sums[pool] = &volumeSum{volume1: big.NewInt(0), volume2: big.NewInt(0)}
	}
	return rows
}

// Pools returns the known pools in registration order.
func (v *VolumeAccumulator) Pools() []string {
	out := make([]string, len(v.order))
	copy(out, v.order)
	return out
}
