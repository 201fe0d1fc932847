package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"CryptoBeacon/internal/model"

	"golang.org/x/time/rate"
)

const (
	binanceBaseURL   = "https://api.binance.com"
	binanceMaxLimit  = 1000
	binanceQuoteCoin = "USDT"
)

// BinanceFetcher implements Fetcher using the Binance public klines API.
type BinanceFetcher struct {
	BaseURL string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewBinanceFetcher creates a new fetcher with optional proxy support.
func NewBinanceFetcher(baseURL, proxyURL string, rps float64) *BinanceFetcher {
	if baseURL == "" {
		baseURL = binanceBaseURL
	}
	return &BinanceFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  newHTTPClient(proxyURL),
		limiter: newLimiter(rps),
	}
}

func (f *BinanceFetcher) Name() string { return "binance" }

func binancePair(symbol string) string {
	if strings.HasSuffix(symbol, binanceQuoteCoin) {
		return symbol
	}
	return symbol + binanceQuoteCoin
}

// FetchDailyBars pages backwards through daily klines until days bars are collected.
func (f *BinanceFetcher) FetchDailyBars(ctx context.Context, symbol string, days int) ([]model.OHLCV, error) {
	var bars []model.OHLCV
	var endTime int64
	for len(bars) < days {
		limit := days - len(bars)
		if limit > binanceMaxLimit {
			limit = binanceMaxLimit
		}
		page, err := f.fetchKlines(ctx, binancePair(symbol), limit, endTime)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		bars = append(page, bars...)
		endTime = page[0].Time.UnixMilli() - 1
		if len(page) < limit {
			break
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// klines rows are positional arrays: [openTime, open, high, low, close, volume, closeTime, ...].
func (f *BinanceFetcher) fetchKlines(ctx context.Context, pair string, limit int, endTime int64) ([]model.OHLCV, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("binance rate limit: %w", err)
	}
	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("interval", "1d")
	q.Set("limit", strconv.Itoa(limit))
	if endTime > 0 {
		q.Set("endTime", strconv.FormatInt(endTime, 10))
	}
	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", f.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch klines: status %d, body: %s", resp.StatusCode, string(body))
	}

	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	bars := make([]model.OHLCV, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("decode klines: row %d has %d fields", i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("decode klines: row %d open time: %w", i, err)
		}
		vals := make([]float64, 5)
		for j := range vals {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, fmt.Errorf("decode klines: row %d field %d: %w", i, j+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("decode klines: row %d field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}
		bars = append(bars, model.OHLCV{
			Time:   time.UnixMilli(openTime).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return bars, nil
}
