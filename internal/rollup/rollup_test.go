package rollup

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexHistory/internal/model"
)

const pool = "0xpool"

var base = time.Date(2024, 3, 6, 14, 30, 0, 0, time.UTC) // a Wednesday

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func TestParseDuration(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Duration
	}{
		{"minute", Minute}, {"HOUR", Hour}, {" day ", Day}, {"week", Week},
	} {
		got, err := ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.want, mustParse(t, got.String()))
	}

	_, err := ParseDuration("month")
	assert.Error(t, err)
}

func mustParse(t *testing.T, s string) Duration {
	t.Helper()
	got, err := ParseDuration(s)
	require.NoError(t, err)
	return got
}

func TestTruncate(t *testing.T) {
	at := base.Add(17*time.Minute + 42*time.Second)
	assert.Equal(t, time.Date(2024, 3, 6, 14, 47, 0, 0, time.UTC), Minute.Truncate(at))
	assert.Equal(t, time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC), Hour.Truncate(at))
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), Day.Truncate(at))
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Week.Truncate(at))

	sunday := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Week.Truncate(sunday))
	monday := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, Week.Truncate(monday))

	local := time.Date(2024, 3, 7, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), Day.Truncate(local))

	assert.Equal(t, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), Week.Previous(Week.Truncate(at)))
}

func TestReservesKeepLastObserved(t *testing.T) {
	rows := []model.ReservedRaw{
		{PoolID: pool, BlockHeight: 11, EventID: model.EventID(11, 2), Reserved1: big.NewInt(7), Reserved2: big.NewInt(70), Timestamp: base.Add(40 * time.Second)},
		{PoolID: pool, BlockHeight: 10, EventID: model.EventID(10, 0), Reserved1: big.NewInt(5), Reserved2: big.NewInt(50), Timestamp: base.Add(10 * time.Second)},
	}
	got := Reserves(Minute, rows)
	require.Len(t, got, 1)
	assert.Equal(t, base, got[0].Start)
	assert.Equal(t, int64(7), got[0].Reserved1.Int64())
	assert.Equal(t, int64(70), got[0].Reserved2.Int64())
}

func TestVolumeSumsPerBucket(t *testing.T) {
	rows := []model.VolumeRaw{
		{PoolID: pool, BlockHeight: 1, Volume1: big.NewInt(100), Volume2: big.NewInt(1), Timestamp: base},
		{PoolID: pool, BlockHeight: 2, Volume1: big.NewInt(50), Volume2: big.NewInt(0), Timestamp: base.Add(30 * time.Second)},
		{PoolID: pool, BlockHeight: 3, Volume1: big.NewInt(9), Volume2: big.NewInt(9), Timestamp: base.Add(time.Minute)},
		{PoolID: "0xother", BlockHeight: 1, Volume1: big.NewInt(1), Volume2: big.NewInt(1), Timestamp: base},
	}
	got := Volume(Minute, rows)
	require.Len(t, got, 3)
	assert.Equal(t, "0xother", got[0].PoolID)
	assert.Equal(t, int64(150), got[1].Volume1.Int64())
	assert.Equal(t, int64(1), got[1].Volume2.Int64())
	assert.Equal(t, base.Add(time.Minute), got[2].Start)

	hourly := Volume(Hour, rows[:3])
	require.Len(t, hourly, 1)
	assert.Equal(t, int64(159), hourly[0].Volume1.Int64())
}

func TestFeesChargeNonZeroInputs(t *testing.T) {
	events := []model.PoolEvent{
		{PoolID: pool, Type: model.PoolEventSwap, BlockHeight: 1, AmountIn1: big.NewInt(10000), AmountIn2: big.NewInt(0), Timestamp: base},
		{PoolID: pool, Type: model.PoolEventSwap, BlockHeight: 1, IndexInBlock: 1, AmountIn1: big.NewInt(1), AmountIn2: big.NewInt(3), Timestamp: base},
		{PoolID: pool, Type: model.PoolEventSync, BlockHeight: 1, IndexInBlock: 2, Timestamp: base},
	}
	got := Fees(Day, events)
	require.Len(t, got, 1)
	assert.True(t, got[0].Fee1.Equal(d("3.0003")), "fee1 %s", got[0].Fee1)
	assert.True(t, got[0].Fee2.Equal(d("0.0009")), "fee2 %s", got[0].Fee2)
}

func TestFeesOfZeroInputSwap(t *testing.T) {
	events := []model.PoolEvent{
		{PoolID: pool, Type: model.PoolEventSwap, BlockHeight: 1, AmountIn1: big.NewInt(0), AmountIn2: big.NewInt(0), Timestamp: base},
	}
	got := Fees(Minute, events)
	require.Len(t, got, 1)
	assert.True(t, got[0].Fee1.IsZero())
	assert.True(t, got[0].Fee2.IsZero())
}

func TestCandlesticksMergeBlocks(t *testing.T) {
	rows := []model.Candlestick{
		{PoolID: pool, Token: "0xa", BlockHeight: 2, Open: d("10"), High: d("12"), Low: d("8"), Close: d("8"), Timestamp: base.Add(20 * time.Second)},
		{PoolID: pool, Token: "0xa", BlockHeight: 1, Open: d("9"), High: d("10"), Low: d("9"), Close: d("10"), Timestamp: base},
		{PoolID: pool, Token: "0xa", BlockHeight: 3, Open: d("8"), High: d("11"), Low: d("7.5"), Close: d("11"), Timestamp: base.Add(50 * time.Second)},
		{PoolID: pool, Token: "0xb", BlockHeight: 1, Open: d("0.1"), High: d("0.1"), Low: d("0.1"), Close: d("0.1"), Timestamp: base},
	}
	got := Candlesticks(Minute, rows)
	require.Len(t, got, 2)
	a := got[0]
	assert.Equal(t, "0xa", a.Token)
	assert.True(t, a.Open.Equal(d("9")))
	assert.True(t, a.High.Equal(d("12")))
	assert.True(t, a.Low.Equal(d("7.5")))
	assert.True(t, a.Close.Equal(d("11")))
	assert.Equal(t, "0xb", got[1].Token)
}

func TestSupplyKeepsLastTotal(t *testing.T) {
	events := []model.PoolEvent{
		{PoolID: pool, Type: model.PoolEventTransfer, BlockHeight: 5, IndexInBlock: 1, TotalSupply: big.NewInt(300), Timestamp: base},
		{PoolID: pool, Type: model.PoolEventTransfer, BlockHeight: 5, IndexInBlock: 0, TotalSupply: big.NewInt(100), Timestamp: base},
		{PoolID: pool, Type: model.PoolEventMint, BlockHeight: 5, IndexInBlock: 2, Timestamp: base},
	}
	got := Supply(Hour, events)
	require.Len(t, got, 1)
	assert.Equal(t, int64(300), got[0].TotalSupply.Int64())
}

func TestTokenPricesKeepLast(t *testing.T) {
	rows := []model.TokenPrice{
		{Token: "0xa", BlockHeight: 1, Price: d("1"), Timestamp: base},
		{Token: "0xa", BlockHeight: 2, Price: d("2"), Timestamp: base.Add(time.Second)},
	}
	got := TokenPrices(Week, rows)
	require.Len(t, got, 1)
	assert.True(t, got[0].Price.Equal(d("2")))
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), got[0].Start)
}

func TestChange(t *testing.T) {
	assert.True(t, Change(dp("0"), nil).IsZero())
	assert.True(t, Change(nil, nil).IsZero())
	assert.True(t, Change(dp("100"), dp("0")).Equal(d("100")))
	assert.True(t, Change(dp("100"), nil).Equal(d("100")))
	assert.True(t, Change(dp("150"), dp("100")).Equal(d("50")))
	assert.True(t, Change(dp("50"), dp("100")).Equal(d("-50")))
}
