package aggregate

import (
	"math/big"

	"github.com/shopspring/decimal"

	"dexHistory/internal/model"
)

// TVLScale is the number of fractional digits of a pool's locked value.
const TVLScale int32 = 2

// PoolTVL values both reserves of a pool at the given token prices,
// rounded half away from zero to TVLScale digits.
func PoolTVL(pool model.Pool, reserved1, reserved2 *big.Int, price1, price2 decimal.Decimal) decimal.Decimal {
	locked1 := Adjust(reserved1, pool.Decimals1).Mul(price1)
	locked2 := Adjust(reserved2, pool.Decimals2).Mul(price2)
	return locked1.Add(locked2).Round(TVLScale)
}
