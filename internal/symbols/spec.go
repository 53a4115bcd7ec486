package symbols

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/venue"
)

// Spec holds the trading filters of one symbol. All values come from
// the venue's exchangeInfo and leverageBracket endpoints.
type Spec struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	MaxLeverage int
}

// Validate checks that every filter needed for sizing is strictly positive.
func (s *Spec) Validate() error {
	checks := []struct {
		name  string
		value decimal.Decimal
	}{
		{"tick_size", s.TickSize},
		{"step_size", s.StepSize},
		{"min_qty", s.MinQty},
		{"min_notional", s.MinNotional},
	}
	for _, c := range checks {
		if !c.value.IsPositive() {
			return fmt.Errorf("symbol %s: %s must be positive, got %s", s.Symbol, c.name, c.value)
		}
	}
	return nil
}

// RoundPrice rounds a price down to the symbol's tick size.
func (s *Spec) RoundPrice(price float64) float64 {
	return roundDownToIncrement(price, s.TickSize)
}

// RoundQty rounds a quantity down to the symbol's step size.
func (s *Spec) RoundQty(qty float64) float64 {
	return roundDownToIncrement(qty, s.StepSize)
}

// PriceInRange reports whether a price passes the PRICE_FILTER bounds.
func (s *Spec) PriceInRange(price float64) bool {
	d := decimal.NewFromFloat(price)
	if s.MinPrice.IsPositive() && d.LessThan(s.MinPrice) {
		return false
	}
	if s.MaxPrice.IsPositive() && d.GreaterThan(s.MaxPrice) {
		return false
	}
	return true
}

// Tick returns the tick size as a float, for one-tick nudges.
func (s *Spec) Tick() float64 {
	f, _ := s.TickSize.Float64()
	return f
}

// roundDownToIncrement floors v to a multiple of inc. Done in decimal
// space so 0.1-style increments don't pick up float residue.
func roundDownToIncrement(v float64, inc decimal.Decimal) float64 {
	if !inc.IsPositive() {
		return v
	}
	d := decimal.NewFromFloat(v)
	steps := d.Div(inc).Floor()
	f, _ := steps.Mul(inc).Float64()
	return f
}

// specFromInfo extracts a Spec from one exchangeInfo symbol entry.
func specFromInfo(info venue.SymbolInfo) (*Spec, error) {
	spec := &Spec{Symbol: info.Symbol}
	for _, f := range info.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			var err error
			if spec.TickSize, err = parseFilter(info.Symbol, "tickSize", f.TickSize); err != nil {
				return nil, err
			}
			if spec.MinPrice, err = parseFilter(info.Symbol, "minPrice", f.MinPrice); err != nil {
				return nil, err
			}
			if spec.MaxPrice, err = parseFilter(info.Symbol, "maxPrice", f.MaxPrice); err != nil {
				return nil, err
			}
		case "LOT_SIZE":
			var err error
			if spec.StepSize, err = parseFilter(info.Symbol, "stepSize", f.StepSize); err != nil {
				return nil, err
			}
			if spec.MinQty, err = parseFilter(info.Symbol, "minQty", f.MinQty); err != nil {
				return nil, err
			}
		case "MIN_NOTIONAL":
			var err error
			if spec.MinNotional, err = parseFilter(info.Symbol, "notional", f.Notional); err != nil {
				return nil, err
			}
		}
	}
	return spec, nil
}

func parseFilter(symbol, field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("symbol %s: bad %s %q: %w", symbol, field, raw, err)
	}
	return d, nil
}
