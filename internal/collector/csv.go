package collector

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/model"
)

var csvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

var timestampFormats = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
	time.RFC3339,
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// CSVFetcher reads daily bars from <Dir>/<SYMBOL>.csv files.
type CSVFetcher struct {
	Dir string
	log *logging.Logger
}

// NewCSVFetcher creates a fetcher over a directory of OHLCV files.
func NewCSVFetcher(dir string) *CSVFetcher {
	return &CSVFetcher{Dir: dir, log: logging.NewComponentLogger("collector.csv")}
}

func (f *CSVFetcher) Name() string { return "csv" }

func (f *CSVFetcher) FetchDailyBars(ctx context.Context, symbol string, days int) ([]model.OHLCV, error) {
	candidates := []string{
		filepath.Join(f.Dir, symbol+".csv"),
		filepath.Join(f.Dir, strings.ToLower(symbol)+".csv"),
		filepath.Join(f.Dir, strings.ToUpper(symbol)+".csv"),
		filepath.Join(f.Dir, strings.ToUpper(symbol)+"_1d.csv"),
	}
	var file *os.File
	var err error
	for _, path := range candidates {
		file, err = os.Open(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("csv file not found for symbol %s (tried: %v)", symbol, candidates)
	}
	defer file.Close()

	bars, err := f.readBars(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("csv %s: %w", file.Name(), err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	if days > 0 && len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars, nil
}

func (f *CSVFetcher) readBars(ctx context.Context, r io.Reader) ([]model.OHLCV, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var bars []model.OHLCV
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar, err := parseRecord(record, index)
		if err != nil {
			if f.log != nil {
				f.log.Warnf("Skipping line %d: %v", line, err)
			}
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// columnIndex maps each required column to its position in the header.
func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("invalid header, required columns: %v", csvColumns)
		}
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int) (model.OHLCV, error) {
	field := func(col string) (string, error) {
		i := index[col]
		if i >= len(record) {
			return "", fmt.Errorf("missing %s", col)
		}
		return strings.TrimSpace(record[i]), nil
	}

	ts, err := field("timestamp")
	if err != nil {
		return model.OHLCV{}, err
	}
	t, err := parseTimestamp(ts)
	if err != nil {
		return model.OHLCV{}, err
	}

	vals := make([]float64, 5)
	for i, col := range csvColumns[1:] {
		s, err := field(col)
		if err != nil {
			return model.OHLCV{}, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.OHLCV{}, fmt.Errorf("invalid %s: %s", col, s)
		}
		vals[i] = v
	}
	return model.OHLCV{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	// Unix seconds or milliseconds
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp format: %s", s)
}
