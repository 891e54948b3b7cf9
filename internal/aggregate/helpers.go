package aggregate

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits kept for ratios and prices.
// Division rounds half away from zero.
const PriceScale int32 = 18

// Adjust converts a raw token amount to whole units.
func Adjust(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// Ratio returns num/den at PriceScale. The caller guards against den == 0.
func Ratio(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, PriceScale)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
