package aggregate

import (
	"github.com/shopspring/decimal"

	"dexHistory/internal/model"
)

// PriceEstimator derives token prices from one externally quoted reference
// token. ratios[i][j] holds reserves[j]/reserves[i] for a direct pool between
// tokens i and j, zero otherwise.
//
// Prices propagate a single hop: a token without a direct pool against the
// reference token is priced at zero.
type PriceEstimator struct {
	reference string
	index     map[string]int
	tokens    []string
	prices    []decimal.Decimal
	ratios    [][]decimal.Decimal

	lastReference decimal.Decimal
	hasReference  bool
	estimated     bool
	// stale is set when a pool containing the reference token changed.
	stale bool
}

func NewPriceEstimator(reference string) *PriceEstimator {
	e := &PriceEstimator{
		reference: model.NormalizeAddress(reference),
		index:     make(map[string]int),
	}
	e.AddToken(e.reference)
	return e
}

// Reference returns the reference token address.
func (e *PriceEstimator) Reference() string {
	return e.reference
}

// AddToken appends token to the vector and grows the matrix.
func (e *PriceEstimator) AddToken(token string) {
	token = model.NormalizeAddress(token)
	if _, ok := e.index[token]; ok {
		return
	}
	e.index[token] = len(e.tokens)
	e.tokens = append(e.tokens, token)
	e.prices = append(e.prices, decimal.Zero)
	for i := range e.ratios {
		e.ratios[i] = append(e.ratios[i], decimal.Zero)
	}
	row := make([]decimal.Decimal, len(e.tokens))
	for i := range row {
		row[i] = decimal.Zero
	}
	e.ratios = append(e.ratios, row)
}

// UpdateReserves records the decimal-adjusted reserves of a pool between
// token1 and token2. Zero reserves leave the matrix untouched.
func (e *PriceEstimator) UpdateReserves(token1, token2 string, reserve1, reserve2 decimal.Decimal) {
	if reserve1.IsZero() || reserve2.IsZero() {
		return
	}
	e.AddToken(token1)
	e.AddToken(token2)
	i := e.index[model.NormalizeAddress(token1)]
	j := e.index[model.NormalizeAddress(token2)]
	e.ratios[i][j] = Ratio(reserve2, reserve1)
	e.ratios[j][i] = Ratio(reserve1, reserve2)
	if e.tokens[i] == e.reference || e.tokens[j] == e.reference {
		e.stale = true
	}
}

// Estimate recomputes the price vector for the given reference price. It is
// skipped when the reference price equals the one of the previous estimate
// and no reference pool changed; it reports whether it ran.
func (e *PriceEstimator) Estimate(referencePrice decimal.Decimal) bool {
	if e.estimated && !e.stale && referencePrice.Equal(e.lastReference) {
		return false
	}

	ref := e.index[e.reference]
	vector := make([]decimal.Decimal, len(e.tokens))
	for i := range vector {
		vector[i] = decimal.Zero
	}
	vector[ref] = referencePrice

	next := make([]decimal.Decimal, len(e.tokens))
	for i := range e.ratios {
		sum := decimal.Zero
		for j, ratio := range e.ratios[i] {
			if ratio.IsZero() || vector[j].IsZero() {
				continue
			}
			sum = sum.Add(ratio.Mul(vector[j]))
		}
		next[i] = sum.Round(PriceScale)
	}
	next[ref] = referencePrice

	e.prices = next
	e.lastReference = referencePrice
	e.hasReference = true
	e.estimated = true
	e.stale = false
	return true
}

// LastReference returns the last reference price seen, either estimated or
// re-hydrated.
func (e *PriceEstimator) LastReference() (decimal.Decimal, bool) {
	return e.lastReference, e.hasReference
}

// Price returns the current price of token.
func (e *PriceEstimator) Price(token string) (decimal.Decimal, bool) {
	i, ok := e.index[model.NormalizeAddress(token)]
	if !ok {
		return decimal.Zero, false
	}
	return e.prices[i], true
}

// Flush emits one row per known token.
func (e *PriceEstimator) Flush(block model.Block) []model.TokenPrice {
	rows := make([]model.TokenPrice, 0, len(e.tokens))
	for i, token := range e.tokens {
		rows = append(rows, model.TokenPrice{
			ID:          model.TokenPriceID(block.Height, token),
			BlockHeight: block.Height,
			Token:       token,
			Price:       e.prices[i],
			Timestamp:   block.Timestamp,
		})
	}
	return rows
}

func (e *PriceEstimator) seedPrices(rows []model.TokenPrice) {
	for _, row := range rows {
		e.AddToken(row.Token)
		i := e.index[model.NormalizeAddress(row.Token)]
		e.prices[i] = row.Price
		if i == e.index[e.reference] {
			e.lastReference = row.Price
			e.hasReference = true
		}
	}
}
