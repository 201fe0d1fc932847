package model

import "time"

// MetricStats is the mean and population standard deviation of one metric
// across the folds of a model.
type MetricStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// ModelRanking aggregates a model's fold metrics.
type ModelRanking struct {
	Rank          int           `json:"rank"`
	Model         string        `json:"model"`
	Kind          string        `json:"kind"`
	MAPE          MetricStats   `json:"mape"`
	MAPEDefined   bool          `json:"mape_defined"`
	MAE           MetricStats   `json:"mae"`
	RMSE          MetricStats   `json:"rmse"`
	MeanTime      time.Duration `json:"mean_time"`
	MeanInclusive time.Duration `json:"mean_inclusive"`
	Folds         int           `json:"folds"`
	Scored        int           `json:"scored"`
	Failed        int           `json:"failed"`
	Degenerate    int           `json:"degenerate"`
}

// Exclusion explains why a model was left out of the ranking table.
type Exclusion struct {
	Model       string `json:"model"`
	Kind        string `json:"kind"`
	FailedFolds int    `json:"failed_folds"`
	TotalFolds  int    `json:"total_folds"`
	FirstError  string `json:"first_error"`
}

// Ranking is the ordered result of a run.
type Ranking struct {
	Models   []ModelRanking `json:"models"`
	Excluded []Exclusion    `json:"excluded"`
}

// Best returns the top-ranked model, if any.
func (r *Ranking) Best() (ModelRanking, bool) {
	if len(r.Models) == 0 {
		return ModelRanking{}, false
	}
	return r.Models[0], true
}

// Find returns the ranking row of a model by name.
func (r *Ranking) Find(name string) (ModelRanking, bool) {
	for _, m := range r.Models {
		if m.Model == name {
			return m, true
		}
	}
	return ModelRanking{}, false
}

// IsExcluded reports whether a model was excluded from the table.
func (r *Ranking) IsExcluded(name string) bool {
	for _, e := range r.Excluded {
		if e.Model == name {
			return true
		}
	}
	return false
}

// Action is the recommended deployment action after a run.
type Action string

const (
	ActionStrongSwitch Action = "STRONG_SWITCH"
	ActionSwitch       Action = "SWITCH"
	ActionHold         Action = "HOLD"
	ActionKeepCurrent  Action = "KEEP_CURRENT"
	ActionNoWinner     Action = "NO_WINNER"
)

// Recommendation compares the top performer with the deployed model.
type Recommendation struct {
	Winner         string  `json:"winner"`
	WinnerMAPE     float64 `json:"winner_mape"`
	Current        string  `json:"current"`
	CurrentMAPE    float64 `json:"current_mape"`
	CurrentRanked  bool    `json:"current_ranked"`
	ImprovementPct float64 `json:"improvement_pct"`
	Action         Action  `json:"action"`
	Label          string  `json:"label"`
	Note           string  `json:"note,omitempty"`
}

// RunResult is everything one evaluation run produces.
type RunResult struct {
	ID             string         `json:"id"`
	Symbol         string         `json:"symbol"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	SeriesStart    time.Time      `json:"series_start"`
	SeriesEnd      time.Time      `json:"series_end"`
	SeriesPoints   int            `json:"series_points"`
	FilledPoints   int            `json:"filled_points"`
	FoldCount      int            `json:"fold_count"`
	Horizon        int            `json:"horizon"`
	Backtest       *Backtest      `json:"backtest"`
	Ranking        Ranking        `json:"ranking"`
	Recommendation Recommendation `json:"recommendation"`
	Artifacts      []string       `json:"artifacts,omitempty"`
}
