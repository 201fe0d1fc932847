package model

import (
	"time"
)

// Range is a half-open index interval [Start, End) into a PriceSeries.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

// Fold is one train/test split. Train always ends at or before Test starts.
type Fold struct {
	Index int   `json:"index"`
	Train Range `json:"train"`
	Test  Range `json:"test"`
}

// CellState is the lifecycle of one (model, fold) evaluation.
type CellState string

const (
	StatePending    CellState = "PENDING"
	StateFitting    CellState = "FITTING"
	StatePredicting CellState = "PREDICTING"
	StateScored     CellState = "SCORED"
	StateFailed     CellState = "FAILED"
)

// FailureKind classifies a FAILED cell.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureFit     FailureKind = "FIT"
	FailureTimeout FailureKind = "TIMEOUT"
	FailurePanic   FailureKind = "PANIC"
)

// ErrorMetrics holds the accuracy of one forecast against its actuals.
// MAPE is expressed in percent. When Degenerate is set no actual was
// non-zero, MAPE is left at zero and must not be averaged.
type ErrorMetrics struct {
	MAPE       float64       `json:"mape"`
	MAE        float64       `json:"mae"`
	RMSE       float64       `json:"rmse"`
	Elapsed    time.Duration `json:"elapsed"`
	Inclusive  time.Duration `json:"inclusive"`
	Degenerate bool          `json:"degenerate,omitempty"`
	MAPEPoints int           `json:"mape_points"`
}

// Cell is the outcome of running one model on one fold.
type Cell struct {
	Model     string       `json:"model"`
	Kind      string       `json:"kind"`
	Fold      Fold         `json:"fold"`
	State     CellState    `json:"state"`
	Failure   FailureKind  `json:"failure,omitempty"`
	Err       string       `json:"error,omitempty"`
	Actual    []float64    `json:"actual"`
	Predicted []float64    `json:"predicted,omitempty"`
	Metrics   ErrorMetrics `json:"metrics"`
}

// Failed reports whether the cell ended in FAILED.
func (c *Cell) Failed() bool { return c.State == StateFailed }

// Backtest is the full grid of cells for one run, ordered by fold index
// ascending and then by configured model order.
type Backtest struct {
	Symbol string   `json:"symbol"`
	Models []string `json:"models"`
	Folds  []Fold   `json:"folds"`
	Cells  []Cell   `json:"cells"`
}

// CellsFor returns the cells of one model in fold order.
func (b *Backtest) CellsFor(name string) []Cell {
	var out []Cell
	for _, c := range b.Cells {
		if c.Model == name {
			out = append(out, c)
		}
	}
	return out
}

// FailedCount returns the number of FAILED cells in the run.
func (b *Backtest) FailedCount() int {
	n := 0
	for _, c := range b.Cells {
		if c.Failed() {
			n++
		}
	}
	return n
}
