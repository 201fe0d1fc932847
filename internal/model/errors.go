package model

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means the price history is too short or gapped to
	// build the requested folds. It aborts the whole run.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrModelFit marks a model that failed to fit or predict on one fold.
	ErrModelFit = errors.New("model fit failure")
	// ErrModelTimeout marks a model cell that exceeded its time budget.
	ErrModelTimeout = errors.New("model timeout")
	// ErrDegenerateMetric marks a metric that is undefined for a fold,
	// such as MAPE over all-zero actuals.
	ErrDegenerateMetric = errors.New("degenerate metric")
)

// DataUnavailableError carries the symbol and reason for a failed load.
type DataUnavailableError struct {
	Symbol string
	Reason string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable for %s: %s", e.Symbol, e.Reason)
}

func (e *DataUnavailableError) Unwrap() error { return ErrDataUnavailable }

// NewDataUnavailable builds a DataUnavailableError with a formatted reason.
func NewDataUnavailable(symbol, format string, args ...any) error {
	return &DataUnavailableError{Symbol: symbol, Reason: fmt.Sprintf(format, args...)}
}
