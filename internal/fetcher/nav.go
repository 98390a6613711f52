package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	navProvider   = "nav"
	navSchemePath = "/mf/"
)

var (
	errEmptyBody   = errors.New("empty response")
	errNoData      = errors.New("no NAV data")
	errNoValidRows = errors.New("no valid rows after cleaning")

	navDateLayouts = []string{"02-01-2006", "2006-01-02", "02/01/2006", "02-Jan-2006"}
)

// NAVOptions parameterise the mutual fund NAV fetcher.
type NAVOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// NAV fetches scheme NAV history from an mfapi.in compatible endpoint.
type NAV struct {
	opts    NAVOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewNAV constructs a NAV history fetcher.
func NewNAV(opts NAVOptions, logger zerolog.Logger) *NAV {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.mfapi.in"
	}

	return &NAV{
		opts:    opts,
		logger:  logger.With().Str("component", "nav_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchHistory retrieves and cleans the NAV history for a scheme code.
func (n *NAV) FetchHistory(ctx context.Context, code string) (Series, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fetchErr(navProvider, code, errors.New("scheme code required"))
	}

	endpoint := n.baseURL + navSchemePath + url.PathEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fetchErr(navProvider, code, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(n.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fetchErr(navProvider, code, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr(navProvider, code, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr(navProvider, code, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fetchErr(navProvider, code, errEmptyBody)
	}

	var body navResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fetchErr(navProvider, code, fmt.Errorf("decode body: %w", err))
	}
	if len(body.Data) == 0 {
		return nil, fetchErr(navProvider, code, errNoData)
	}

	points := make(Series, 0, len(body.Data))
	dropped := 0
	for _, row := range body.Data {
		point, ok := row.point()
		if !ok {
			dropped++
			continue
		}
		points = append(points, point)
	}

	if dropped > 0 {
		n.logger.Debug().Str("code", code).Int("dropped", dropped).Msg("dropped unparseable NAV rows")
	}

	return finalize(navProvider, code, points)
}

type navResponse struct {
	Meta struct {
		SchemeName string `json:"scheme_name"`
		SchemeCode any    `json:"scheme_code"`
	} `json:"meta"`
	Data   []navRow `json:"data"`
	Status string   `json:"status"`
}

type navRow struct {
	Date string          `json:"date"`
	NAV  json.RawMessage `json:"nav"`
}

func (r navRow) point() (PricePoint, bool) {
	date, ok := parseNAVDate(r.Date)
	if !ok {
		return PricePoint{}, false
	}

	raw := strings.Trim(strings.TrimSpace(string(r.NAV)), `"`)
	if raw == "" || raw == "null" {
		return PricePoint{}, false
	}
	price, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil || !price.IsPositive() {
		return PricePoint{}, false
	}

	return PricePoint{Date: date, Price: price}, true
}

func parseNAVDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range navDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return calendarDate(t), true
		}
	}
	return time.Time{}, false
}

var _ HistoryFetcher = (*NAV)(nil)
