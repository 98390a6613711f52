// Package analysis derives all-time-high and decline figures from a price history.
package analysis

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rabdya767/Stock-ATH-Alert/internal/fetcher"
)

// ErrEmptySeries signals a broken fetcher postcondition.
var ErrEmptySeries = errors.New("analysis: empty price series")

var hundred = decimal.NewFromInt(100)

// Result holds the figures computed for one instrument in one run.
type Result struct {
	ATHPrice     decimal.Decimal
	ATHDate      time.Time
	CurrentPrice decimal.Decimal
	CurrentDate  time.Time
	DeclinePct   decimal.Decimal

	High52w         decimal.NullDecimal
	DeclineVs52wPct decimal.NullDecimal
}

// Analyze scans series for its maximum (earliest date wins ties) and compares
// it with the last point. window, when non-empty, is the trailing year used
// for the 52-week figures.
func Analyze(series, window fetcher.Series) (Result, error) {
	if len(series) == 0 {
		return Result{}, ErrEmptySeries
	}

	ath := peak(series)
	current := series.Last()

	res := Result{
		ATHPrice:     ath.Price,
		ATHDate:      ath.Date,
		CurrentPrice: current.Price,
		CurrentDate:  current.Date,
		DeclinePct:   DeclinePct(ath.Price, current.Price),
	}

	if len(window) > 0 {
		high := peak(window).Price
		if high.IsPositive() {
			res.High52w = decimal.NewNullDecimal(high)
			res.DeclineVs52wPct = decimal.NewNullDecimal(DeclinePct(high, current.Price))
		}
	}

	return res, nil
}

// DeclinePct returns (reference-current)/reference*100, or zero when the
// reference is not positive.
func DeclinePct(reference, current decimal.Decimal) decimal.Decimal {
	if !reference.IsPositive() {
		return decimal.Zero
	}
	return reference.Sub(current).Div(reference).Mul(hundred)
}

func peak(series fetcher.Series) fetcher.PricePoint {
	best := series[0]
	for _, p := range series[1:] {
		if p.Price.GreaterThan(best.Price) {
			best = p
		}
	}
	return best
}

// DrawdownPoint is one row of a running-ATH drawdown series.
type DrawdownPoint struct {
	Date        time.Time
	Price       decimal.Decimal
	RunningATH  decimal.Decimal
	DrawdownPct decimal.Decimal
}

// Drawdown walks series in order, tracking the highest price seen so far and
// the decline of each point from it.
func Drawdown(series fetcher.Series) []DrawdownPoint {
	out := make([]DrawdownPoint, 0, len(series))
	running := decimal.Zero
	for _, p := range series {
		if p.Price.GreaterThan(running) {
			running = p.Price
		}
		out = append(out, DrawdownPoint{
			Date:        p.Date,
			Price:       p.Price,
			RunningATH:  running,
			DrawdownPct: DeclinePct(running, p.Price),
		})
	}
	return out
}
