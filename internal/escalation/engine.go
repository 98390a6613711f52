// Package escalation decides which decline thresholds newly qualify for an
// alert, given the stored ATH and watermark of an instrument.
package escalation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rabdya767/Stock-ATH-Alert/internal/analysis"
	"github.com/rabdya767/Stock-ATH-Alert/internal/catalog"
	"github.com/rabdya767/Stock-ATH-Alert/internal/storage"
)

// Alert is one instrument's triggered escalation for a run.
type Alert struct {
	Instrument   string
	Key          string
	ATHPrice     decimal.Decimal
	ATHDate      time.Time
	CurrentPrice decimal.Decimal
	CurrentDate  time.Time
	DeclinePct   decimal.Decimal
	Triggered    []decimal.Decimal
	Level        decimal.Decimal
	DaysSinceATH int

	High52w         decimal.NullDecimal
	DeclineVs52wPct decimal.NullDecimal
}

// LevelLabel renders the highest triggered threshold, e.g. "10%".
func (a Alert) LevelLabel() string {
	return a.Level.String() + "%"
}

// Engine holds the ascending threshold set.
type Engine struct {
	thresholds []decimal.Decimal
}

// NewEngine validates, sorts and de-duplicates thresholds.
func NewEngine(thresholds []float64) (*Engine, error) {
	if len(thresholds) == 0 {
		return nil, errors.New("at least one threshold is required")
	}

	levels := make([]decimal.Decimal, 0, len(thresholds))
	for _, t := range thresholds {
		d := decimal.NewFromFloat(t)
		if !d.IsPositive() {
			return nil, fmt.Errorf("threshold %v must be greater than zero", t)
		}
		levels = append(levels, d)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].LessThan(levels[j]) })

	uniq := levels[:1]
	for _, l := range levels[1:] {
		if !l.Equal(uniq[len(uniq)-1]) {
			uniq = append(uniq, l)
		}
	}
	return &Engine{thresholds: uniq}, nil
}

// Thresholds returns a copy of the configured levels in ascending order.
func (e *Engine) Thresholds() []decimal.Decimal {
	return append([]decimal.Decimal(nil), e.thresholds...)
}

// Evaluate applies the seed and ATH-reset transitions to prev, computes the
// decline against the resulting stored ATH and raises the watermark when new
// thresholds qualify. found reports whether prev came from the store.
func (e *Engine) Evaluate(inst catalog.Instrument, res analysis.Result, prev storage.AlertState, found bool) (storage.AlertState, *Alert) {
	state := prev
	if !found || !state.ATHPrice.IsPositive() {
		state = storage.AlertState{
			ATHPrice:       res.ATHPrice,
			ATHDate:        res.ATHDate,
			LastAlertLevel: decimal.Zero,
		}
	}

	if res.ATHPrice.GreaterThan(state.ATHPrice) {
		state.ATHPrice = res.ATHPrice
		state.ATHDate = res.ATHDate
		state.LastAlertLevel = decimal.Zero
	}

	decline := analysis.DeclinePct(state.ATHPrice, res.CurrentPrice)

	var triggered []decimal.Decimal
	for _, t := range e.thresholds {
		if decline.GreaterThanOrEqual(t) && t.GreaterThan(state.LastAlertLevel) {
			triggered = append(triggered, t)
		}
	}
	if len(triggered) == 0 {
		return state, nil
	}

	level := triggered[len(triggered)-1]
	state.LastAlertLevel = level

	return state, &Alert{
		Instrument:      inst.Name,
		Key:             inst.Key,
		ATHPrice:        state.ATHPrice,
		ATHDate:         state.ATHDate,
		CurrentPrice:    res.CurrentPrice,
		CurrentDate:     res.CurrentDate,
		DeclinePct:      decline,
		Triggered:       triggered,
		Level:           level,
		DaysSinceATH:    daysBetween(state.ATHDate, res.CurrentDate),
		High52w:         res.High52w,
		DeclineVs52wPct: res.DeclineVs52wPct,
	}
}

func daysBetween(from, to time.Time) int {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
