package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func chartPayload(timestamps []int64, closes []any) map[string]any {
	return map[string]any{
		"chart": map[string]any{
			"result": []any{
				map[string]any{
					"meta":      map[string]any{"symbol": "RELIANCE.NS", "currency": "INR", "gmtoffset": 19800},
					"timestamp": timestamps,
					"indicators": map[string]any{
						"quote": []any{map[string]any{"close": closes}},
					},
				},
			},
			"error": nil,
		},
	}
}

func TestYahooFetchHistorySuccess(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/RELIANCE.NS" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotRange = r.URL.Query().Get("range")
		w.Header().Set("Content-Type", "application/json")
		// 2025-01-02 03:45 UTC 与 2025-01-01 03:45 UTC, 第三个 close 为 null
		_ = json.NewEncoder(w).Encode(chartPayload(
			[]int64{1735789500, 1735703100, 1735875900},
			[]any{120.5, 100.25, nil},
		))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	series, err := y.FetchHistory(context.Background(), "RELIANCE.NS")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if gotRange != "max" {
		t.Fatalf("history 应请求 range=max, 实际 %q", gotRange)
	}
	if len(series) != 2 {
		t.Fatalf("null close 应被丢弃, 实际 %d 点", len(series))
	}
	if !series[0].Date.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("首个日期不正确: %s", series[0].Date)
	}
	if !series.Last().Price.Equal(decimal.RequireFromString("120.5")) {
		t.Fatalf("最新价格不正确: %s", series.Last().Price)
	}
}

func TestYahooFetchTrailingYearUsesOneYearRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("range") != "1y" {
			t.Errorf("trailing 应请求 range=1y, 实际 %q", r.URL.Query().Get("range"))
		}
		_ = json.NewEncoder(w).Encode(chartPayload([]int64{1735703100}, []any{99.0}))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, noopLogger())
	series, err := y.FetchTrailingYear(context.Background(), "RELIANCE.NS")
	if err != nil || len(series) != 1 {
		t.Fatalf("trailing fetch failed: %v (%d points)", err, len(series))
	}
}

func TestYahooFetchChartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chart": map[string]any{
				"result": nil,
				"error":  map[string]string{"code": "Not Found", "description": "No data found, symbol may be delisted"},
			},
		})
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, noopLogger())
	_, err := y.FetchHistory(context.Background(), "NOPE")

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("chart.error 应返回 FetchError, 实际 %v", err)
	}
	if fe.Provider != "stock" || fe.Key != "NOPE" {
		t.Fatalf("FetchError 字段不正确: %#v", fe)
	}
}

func TestYahooFetchAllNullCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chartPayload([]int64{1735703100, 1735789500}, []any{nil, nil}))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, noopLogger())
	_, err := y.FetchHistory(context.Background(), "EMPTY")
	if !errors.Is(err, errNoValidRows) {
		t.Fatalf("全部为 null 时应报错, 实际 %v", err)
	}
}

func TestYahooFetchServerErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, noopLogger())
	if _, err := y.FetchHistory(context.Background(), "AAPL"); err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
}

func TestStaticFetcher(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC) }
	s := &Static{History: map[string]Series{
		"X": {{Date: d(2), Price: decimal.NewFromInt(2)}, {Date: d(1), Price: decimal.NewFromInt(1)}},
	}}

	series, err := s.FetchHistory(context.Background(), "X")
	if err != nil {
		t.Fatalf("static fetch failed: %v", err)
	}
	if !series[0].Date.Equal(d(1)) {
		t.Fatal("static series 应排序")
	}
	if _, err := s.FetchHistory(context.Background(), "missing"); err == nil {
		t.Fatal("未知 key 应报错")
	}
	if _, err := s.FetchTrailingYear(context.Background(), "X"); err == nil {
		t.Fatal("未配置 trailing 时应报错")
	}
}
