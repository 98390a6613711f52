package fetcher

import (
	"context"
	"errors"
)

// Static serves pre-built series keyed by provider key.
type Static struct {
	History  map[string]Series
	Trailing map[string]Series
}

// FetchHistory returns a copy of the configured series.
func (s *Static) FetchHistory(ctx context.Context, key string) (Series, error) {
	series, ok := s.History[key]
	if !ok {
		return nil, fetchErr("static", key, errors.New("unknown key"))
	}
	return finalize("static", key, append(Series(nil), series...))
}

// FetchTrailingYear returns the configured trailing window, if any.
func (s *Static) FetchTrailingYear(ctx context.Context, key string) (Series, error) {
	series, ok := s.Trailing[key]
	if !ok {
		return nil, fetchErr("static", key, errors.New("no trailing window"))
	}
	return finalize("static", key, append(Series(nil), series...))
}

var (
	_ HistoryFetcher  = (*Static)(nil)
	_ TrailingFetcher = (*Static)(nil)
)
