package fetcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one daily observation (NAV or closing price).
type PricePoint struct {
	Date  time.Time
	Price decimal.Decimal
}

// Series is an ascending, date-ordered price history.
type Series []PricePoint

// Last returns the most recent point. The series must be non-empty.
func (s Series) Last() PricePoint {
	return s[len(s)-1]
}

// HistoryFetcher retrieves the full available history for a provider key.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, key string) (Series, error)
}

// TrailingFetcher is implemented by providers that can return a trailing
// one-year window for 52-week high comparisons.
type TrailingFetcher interface {
	FetchTrailingYear(ctx context.Context, key string) (Series, error)
}

// FetchError reports a failed fetch for a single instrument.
type FetchError struct {
	Provider string
	Key      string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %q: %v", e.Provider, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fetchErr(provider, key string, err error) *FetchError {
	return &FetchError{Provider: provider, Key: key, Err: err}
}

// finalize sorts points by date and enforces the non-empty postcondition.
func finalize(provider, key string, points Series) (Series, error) {
	if len(points) == 0 {
		return nil, fetchErr(provider, key, errNoValidRows)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points, nil
}

func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
