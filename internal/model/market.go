package model

import (
	"fmt"
	"time"
)

// OHLCV represents a single candlestick bar.
type OHLCV struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PricePoint is one (timestamp, price) sample of a series.
type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// PriceSeries is an ordered, immutable sequence of prices for one symbol.
// Accessors return copies so a series can be shared read-only across cells.
type PriceSeries struct {
	symbol   string
	interval time.Duration
	points   []PricePoint
	filled   int
}

// NewPriceSeries validates that timestamps are strictly increasing and
// returns a series that owns a private copy of points.
func NewPriceSeries(symbol string, interval time.Duration, points []PricePoint) (*PriceSeries, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("price series %s: no points", symbol)
	}
	for i := 1; i < len(points); i++ {
		if !points[i].Time.After(points[i-1].Time) {
			return nil, fmt.Errorf("price series %s: timestamp %s at index %d not after %s",
				symbol, points[i].Time.Format(time.RFC3339), i, points[i-1].Time.Format(time.RFC3339))
		}
	}
	cp := make([]PricePoint, len(points))
	copy(cp, points)
	return &PriceSeries{symbol: symbol, interval: interval, points: cp}, nil
}

// WithFilled records how many points the loader interpolated.
func (s *PriceSeries) WithFilled(n int) *PriceSeries {
	s.filled = n
	return s
}

func (s *PriceSeries) Symbol() string          { return s.symbol }
func (s *PriceSeries) Interval() time.Duration { return s.interval }
func (s *PriceSeries) Len() int                { return len(s.points) }
func (s *PriceSeries) Filled() int             { return s.filled }
func (s *PriceSeries) At(i int) PricePoint     { return s.points[i] }
func (s *PriceSeries) Start() time.Time        { return s.points[0].Time }
func (s *PriceSeries) End() time.Time          { return s.points[len(s.points)-1].Time }

// Closes returns a copy of the prices in [a, b).
func (s *PriceSeries) Closes(a, b int) []float64 {
	if a < 0 {
		a = 0
	}
	if b > len(s.points) {
		b = len(s.points)
	}
	if a >= b {
		return nil
	}
	out := make([]float64, b-a)
	for i := a; i < b; i++ {
		out[i-a] = s.points[i].Price
	}
	return out
}
