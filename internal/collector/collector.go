package collector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Price     float64
	DailyData []model.OHLCV
	Err       error
	calls     atomic.Int64
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchDailyBars(_ context.Context, _ string, days int) ([]model.OHLCV, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.DailyData != nil {
		out := make([]model.OHLCV, len(m.DailyData))
		copy(out, m.DailyData)
		return out, nil
	}
	return generateMockBars(m.Price, days), nil
}

// Calls returns how many times FetchDailyBars was invoked.
func (m *MockFetcher) Calls() int { return int(m.calls.Load()) }

var mockEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func generateMockBars(basePrice float64, count int) []model.OHLCV {
	bars := make([]model.OHLCV, count)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + float64(i-count/2)*0.001)
		bars[i] = model.OHLCV{
			Time:   mockEpoch.AddDate(0, 0, i),
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		}
	}
	return bars
}

// BarsFromCloses builds daily bars starting at start from a list of closes.
func BarsFromCloses(start time.Time, closes []float64) []model.OHLCV {
	bars := make([]model.OHLCV, len(closes))
	for i, c := range closes {
		bars[i] = model.OHLCV{
			Time:  start.AddDate(0, 0, i),
			Open:  c,
			High:  c,
			Low:   c,
			Close: c,
		}
	}
	return bars
}

// Loader turns raw bars into a validated PriceSeries.
type Loader struct {
	Fetcher      Fetcher
	Interval     time.Duration
	GapTolerance int // missing samples per gap that may be interpolated
	log          *logging.Logger
}

// NewLoader creates a new Loader.
func NewLoader(fetcher Fetcher, interval time.Duration, gapTolerance int) *Loader {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Loader{
		Fetcher:      fetcher,
		Interval:     interval,
		GapTolerance: gapTolerance,
		log:          logging.NewComponentLogger("collector"),
	}
}

// Load fetches lookback samples of symbol and returns them as a series with a
// fixed sampling interval. Gaps of up to GapTolerance missing samples are filled
// by linear interpolation; larger gaps, or fewer than minPoints samples, fail
// with a DataUnavailableError.
func (l *Loader) Load(ctx context.Context, symbol string, lookback, minPoints int) (*model.PriceSeries, error) {
	want := lookback
	if minPoints > want {
		want = minPoints
	}
	bars, err := l.Fetcher.FetchDailyBars(ctx, symbol, want)
	if err != nil {
		return nil, model.NewDataUnavailable(symbol, "fetch from %s: %v", l.Fetcher.Name(), err)
	}

	points := cleanBars(bars)
	if dropped := len(bars) - len(points); dropped > 0 {
		l.log.Warnf("Dropped %d invalid or duplicate bars for %s", dropped, symbol)
	}
	if len(points) == 0 {
		return nil, model.NewDataUnavailable(symbol, "no valid prices returned by %s", l.Fetcher.Name())
	}

	filled, nFilled, err := l.fillGaps(symbol, points)
	if err != nil {
		return nil, err
	}
	if len(filled) > want {
		// Interpolated samples count against the window like real ones.
		cut := len(filled) - want
		nFilled = countFilled(filled[cut:], points)
		filled = filled[cut:]
	}
	if len(filled) < minPoints {
		return nil, model.NewDataUnavailable(symbol, "have %d points, need at least %d", len(filled), minPoints)
	}

	series, err := model.NewPriceSeries(symbol, l.Interval, filled)
	if err != nil {
		return nil, model.NewDataUnavailable(symbol, "%v", err)
	}
	if nFilled > 0 {
		l.log.Infof("Interpolated %d missing samples for %s", nFilled, symbol)
	}
	l.log.WithFields(map[string]interface{}{
		"symbol": symbol,
		"points": series.Len(),
		"filled": nFilled,
		"source": l.Fetcher.Name(),
	}).Infof("Loaded history from %s to %s",
		series.Start().Format("2006-01-02"), series.End().Format("2006-01-02"))
	return series.WithFilled(nFilled), nil
}

// cleanBars sorts bars by time, keeps the last bar per timestamp and drops
// non-positive or non-finite closes.
func cleanBars(bars []model.OHLCV) []model.PricePoint {
	sorted := make([]model.OHLCV, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	points := make([]model.PricePoint, 0, len(sorted))
	for _, b := range sorted {
		if b.Close <= 0 || math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
			continue
		}
		p := model.PricePoint{Time: b.Time, Price: b.Close}
		if n := len(points); n > 0 && points[n-1].Time.Equal(b.Time) {
			points[n-1] = p
			continue
		}
		points = append(points, p)
	}
	return points
}

// fillGaps checks every consecutive step against the sampling interval.
// Invalidator is implemented by fetchers that keep a download cache.
type Invalidator interface {
	Invalidate(ctx context.Context, symbol string) error
}

// Refresh drops cached downloads of symbol so the next Load fetches fresh
// bars. It reports false when the fetcher keeps no cache.
func (l *Loader) Refresh(ctx context.Context, symbol string) (bool, error) {
	inv, ok := l.Fetcher.(Invalidator)
	if !ok {
		return false, nil
	}
	if err := inv.Invalidate(ctx, symbol); err != nil {
		return true, fmt.Errorf("refresh %s: %w", symbol, err)
	}
	return true, nil
}

func (l *Loader) fillGaps(symbol string, points []model.PricePoint) ([]model.PricePoint, int, error) {
	out := make([]model.PricePoint, 0, len(points))
	out = append(out, points[0])
	filled := 0
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		steps := int(math.Round(float64(cur.Time.Sub(prev.Time)) / float64(l.Interval)))
		if steps < 1 {
			return nil, 0, model.NewDataUnavailable(symbol, "irregular sampling between %s and %s",
				prev.Time.Format(time.RFC3339), cur.Time.Format(time.RFC3339))
		}
		missing := steps - 1
		if missing > l.GapTolerance {
			return nil, 0, model.NewDataUnavailable(symbol, "gap of %d missing samples after %s exceeds tolerance %d",
				missing, prev.Time.Format("2006-01-02"), l.GapTolerance)
		}
		for k := 1; k <= missing; k++ {
			frac := float64(k) / float64(steps)
			out = append(out, model.PricePoint{
				Time:  prev.Time.Add(time.Duration(k) * l.Interval),
				Price: prev.Price + frac*(cur.Price-prev.Price),
			})
			filled++
		}
		out = append(out, cur)
	}
	return out, filled, nil
}

// countFilled counts points of window that were not present in the source.
func countFilled(window, source []model.PricePoint) int {
	seen := make(map[int64]struct{}, len(source))
	for _, p := range source {
		seen[p.Time.UnixNano()] = struct{}{}
	}
	n := 0
	for _, p := range window {
		if _, ok := seen[p.Time.UnixNano()]; !ok {
			n++
		}
	}
	return n
}

// NewFetcher builds the fetcher for a provider name.
func NewFetcher(provider, baseURL, csvDir, proxyURL string, rps float64) (Fetcher, error) {
	switch provider {
	case "yahoo":
		return NewYahooFetcher(baseURL, proxyURL, rps), nil
	case "binance":
		return NewBinanceFetcher(baseURL, proxyURL, rps), nil
	case "csv":
		return NewCSVFetcher(csvDir), nil
	default:
		return nil, fmt.Errorf("unknown data provider %q", provider)
	}
}
