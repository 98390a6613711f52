package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	stockProvider = "stock"
	chartPath     = "/v8/finance/chart/{symbol}"
)

// YahooOptions parameterise the stock chart fetcher.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Yahoo fetches daily closing prices from the Yahoo Finance chart API.
type Yahoo struct {
	client *resty.Client
	logger zerolog.Logger
}

// NewYahoo constructs a stock history fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "Mozilla/5.0 (compatible; athwatch)"
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "application/json")

	return &Yahoo{
		client: client,
		logger: logger.With().Str("component", "stock_fetcher").Logger(),
	}
}

// FetchHistory retrieves the maximum available daily close history.
func (y *Yahoo) FetchHistory(ctx context.Context, symbol string) (Series, error) {
	return y.fetch(ctx, symbol, "max")
}

// FetchTrailingYear retrieves roughly the last 52 weeks of daily closes.
func (y *Yahoo) FetchTrailingYear(ctx context.Context, symbol string) (Series, error) {
	return y.fetch(ctx, symbol, "1y")
}

func (y *Yahoo) fetch(ctx context.Context, symbol, window string) (Series, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fetchErr(stockProvider, symbol, errors.New("ticker symbol required"))
	}

	resp, err := y.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{
			"range":    window,
			"interval": "1d",
		}).
		Get(chartPath)
	if err != nil {
		return nil, fetchErr(stockProvider, symbol, err)
	}

	payload := resp.Body()
	if len(bytes.TrimSpace(payload)) == 0 {
		if resp.StatusCode() != http.StatusOK {
			return nil, fetchErr(stockProvider, symbol, fmt.Errorf("HTTP %d", resp.StatusCode()))
		}
		return nil, fetchErr(stockProvider, symbol, errEmptyBody)
	}

	var body chartResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		if resp.IsError() {
			return nil, fetchErr(stockProvider, symbol, fmt.Errorf("HTTP %d", resp.StatusCode()))
		}
		return nil, fetchErr(stockProvider, symbol, fmt.Errorf("decode body: %w", err))
	}

	if e := body.Chart.Error; e != nil {
		return nil, fetchErr(stockProvider, symbol, fmt.Errorf("chart api error: %s: %s", e.Code, e.Description))
	}
	if resp.IsError() {
		return nil, fetchErr(stockProvider, symbol, fmt.Errorf("HTTP %d", resp.StatusCode()))
	}
	if len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fetchErr(stockProvider, symbol, errors.New("no chart data"))
	}

	result := body.Chart.Result[0]
	closes := result.Indicators.Quote[0].Close
	offset := time.Duration(result.Meta.GMTOffset) * time.Second

	points := make(Series, 0, len(result.Timestamps))
	for i, ts := range result.Timestamps {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		price := decimal.NewFromFloat(*closes[i])
		if !price.IsPositive() {
			continue
		}
		local := time.Unix(ts, 0).UTC().Add(offset)
		points = append(points, PricePoint{Date: calendarDate(local), Price: price})
	}

	y.logger.Debug().Str("symbol", symbol).Str("range", window).Int("points", len(points)).Msg("chart fetched")

	return finalize(stockProvider, symbol, points)
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				Currency  string `json:"currency"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamps []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

var (
	_ HistoryFetcher  = (*Yahoo)(nil)
	_ TrailingFetcher = (*Yahoo)(nil)
)
