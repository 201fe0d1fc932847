package metrics

import (
	"sort"
	"time"

	"CryptoBeacon/internal/model"

	"gonum.org/v1/gonum/stat"
)

// Aggregate reduces the cells of every model into mean and population
// standard deviation per metric. Failed and degenerate folds never enter the
// affected averages. Rows follow the model order of the backtest.
func Aggregate(bt *model.Backtest) []model.ModelRanking {
	rows := make([]model.ModelRanking, 0, len(bt.Models))
	for _, name := range bt.Models {
		cells := bt.CellsFor(name)
		row := model.ModelRanking{Model: name, Folds: len(cells)}

		var mape, mae, rmse []float64
		var elapsed, inclusive time.Duration
		for _, c := range cells {
			if row.Kind == "" {
				row.Kind = c.Kind
			}
			if c.Failed() {
				row.Failed++
				continue
			}
			if c.State != model.StateScored {
				continue
			}
			row.Scored++
			mae = append(mae, c.Metrics.MAE)
			rmse = append(rmse, c.Metrics.RMSE)
			elapsed += c.Metrics.Elapsed
			inclusive += c.Metrics.Inclusive
			if c.Metrics.Degenerate {
				row.Degenerate++
				continue
			}
			mape = append(mape, c.Metrics.MAPE)
		}

		row.MAPE = meanStd(mape)
		row.MAPEDefined = len(mape) > 0
		row.MAE = meanStd(mae)
		row.RMSE = meanStd(rmse)
		if row.Scored > 0 {
			row.MeanTime = elapsed / time.Duration(row.Scored)
			row.MeanInclusive = inclusive / time.Duration(row.Scored)
		}
		rows = append(rows, row)
	}
	return rows
}

func meanStd(x []float64) model.MetricStats {
	if len(x) == 0 {
		return model.MetricStats{}
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	return model.MetricStats{Mean: mean, Std: std}
}

// Rank orders rows that have no failed fold and moves the others to the
// exclusion list. Order: defined MAPE first, then mean MAPE, mean RMSE,
// mean time and name, all ascending.
func Rank(rows []model.ModelRanking, bt *model.Backtest) model.Ranking {
	var out model.Ranking
	for _, r := range rows {
		if r.Failed > 0 || r.Scored == 0 {
			out.Excluded = append(out.Excluded, exclusion(r, bt))
			continue
		}
		out.Models = append(out.Models, r)
	}

	sort.SliceStable(out.Models, func(i, j int) bool {
		a, b := out.Models[i], out.Models[j]
		if a.MAPEDefined != b.MAPEDefined {
			return a.MAPEDefined
		}
		if a.MAPE.Mean != b.MAPE.Mean {
			return a.MAPE.Mean < b.MAPE.Mean
		}
		if a.RMSE.Mean != b.RMSE.Mean {
			return a.RMSE.Mean < b.RMSE.Mean
		}
		if a.MeanTime != b.MeanTime {
			return a.MeanTime < b.MeanTime
		}
		return a.Model < b.Model
	})
	for i := range out.Models {
		out.Models[i].Rank = i + 1
	}
	return out
}

func exclusion(r model.ModelRanking, bt *model.Backtest) model.Exclusion {
	e := model.Exclusion{Model: r.Model, Kind: r.Kind, FailedFolds: r.Failed, TotalFolds: r.Folds}
	if bt != nil {
		for _, c := range bt.CellsFor(r.Model) {
			if c.Failed() {
				e.FirstError = c.Err
				break
			}
		}
	}
	if e.FirstError == "" && r.Scored == 0 {
		e.FirstError = "no scored folds"
	}
	return e
}

// Build aggregates and ranks a backtest.
func Build(bt *model.Backtest) model.Ranking {
	return Rank(Aggregate(bt), bt)
}
