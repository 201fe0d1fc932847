package recorder

import (
	"time"

	"CryptoBeacon/internal/model"
)

// RunSummary is one row of the run history.
type RunSummary struct {
	ID          string
	Symbol      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Points      int
	Folds       int
	Horizon     int
	Winner      string
	WinnerMAPE  float64
	Current     string
	Action      model.Action
	FailedCells int
}

// Recorder persists evaluation history for analysis.
type Recorder interface {
	RecordRun(res *model.RunResult) error
	RecentRuns(symbol string, limit int) ([]RunSummary, error)
	Close() error
}
