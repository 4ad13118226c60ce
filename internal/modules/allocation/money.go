// Package allocation turns portfolio weights into money amounts and group exposures.
package allocation

import (
	"fmt"
	"sort"

	"github.com/aristath/allocator/internal/domain"
	"github.com/shopspring/decimal"
)

// Amount is the money allocated to one asset.
type Amount struct {
	Asset    string          `json:"asset" msgpack:"asset"`
	Weight   float64         `json:"weight" msgpack:"weight"`
	Value    decimal.Decimal `json:"value" msgpack:"value"`
	Currency domain.Currency `json:"currency" msgpack:"currency"`
}

// Plan is a capital split across a portfolio.
type Plan struct {
	Capital  decimal.Decimal `json:"capital" msgpack:"capital"`
	Currency domain.Currency `json:"currency" msgpack:"currency"`
	Amounts  []Amount        `json:"amounts" msgpack:"amounts"`
}

// Total returns the sum of the allocated amounts.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Amounts {
		total = total.Add(a.Value)
	}
	return total
}

// Split allocates capital across w in units of 10^-places of the currency. Amounts are
// floored and the remaining units go to the largest remainders, so the amounts add up
// exactly to capital times the net weight, rounded to places.
func Split(w domain.Weights, capital decimal.Decimal, currency domain.Currency, places int32) (Plan, error) {
	if capital.IsNegative() {
		return Plan{}, fmt.Errorf("%w: capital must be non-negative, got %s", domain.ErrInvalidConfiguration, capital)
	}
	if places < 0 {
		return Plan{}, fmt.Errorf("%w: decimal places must be non-negative, got %d", domain.ErrInvalidConfiguration, places)
	}
	if w.Len() == 0 {
		return Plan{}, fmt.Errorf("%w: no weights to allocate", domain.ErrInsufficientData)
	}

	unit := decimal.New(1, -places)
	exact := make([]decimal.Decimal, w.Len())
	net := decimal.Zero
	for i, v := range w.Values {
		exact[i] = capital.Mul(decimal.NewFromFloat(v))
		net = net.Add(exact[i])
	}
	target := net.Round(places)

	type share struct {
		index     int
		remainder decimal.Decimal
	}
	amounts := make([]decimal.Decimal, len(exact))
	shares := make([]share, len(exact))
	floored := decimal.Zero
	for i, e := range exact {
		amounts[i] = e.Div(unit).Floor().Mul(unit)
		shares[i] = share{index: i, remainder: e.Sub(amounts[i])}
		floored = floored.Add(amounts[i])
	}
	sort.SliceStable(shares, func(a, b int) bool {
		return shares[a].remainder.GreaterThan(shares[b].remainder)
	})
	left := target.Sub(floored).Div(unit).Round(0).IntPart()
	for k := int64(0); k < left && k < int64(len(shares)); k++ {
		i := shares[k].index
		amounts[i] = amounts[i].Add(unit)
	}

	plan := Plan{Capital: capital, Currency: currency, Amounts: make([]Amount, w.Len())}
	for i, asset := range w.Assets {
		plan.Amounts[i] = Amount{Asset: asset, Weight: w.Values[i], Value: amounts[i], Currency: currency}
	}
	return plan, nil
}
