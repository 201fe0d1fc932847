// Package report renders run results as markdown and JSON and stores them.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"CryptoBeacon/internal/model"
)

// Render formats a run as a markdown comparison report.
func Render(res *model.RunResult) string {
	var b strings.Builder

	b.WriteString("# Crypto Prediction Model Comparison Report\n\n")
	b.WriteString(fmt.Sprintf("**Generated**: %s\n", res.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	b.WriteString(fmt.Sprintf("**Symbol**: %s\n", res.Symbol))
	b.WriteString(fmt.Sprintf("**Run**: %s\n", res.ID))
	b.WriteString(fmt.Sprintf("**History**: %d points, %s to %s",
		res.SeriesPoints, res.SeriesStart.Format("2006-01-02"), res.SeriesEnd.Format("2006-01-02")))
	if res.FilledPoints > 0 {
		b.WriteString(fmt.Sprintf(" (%d interpolated)", res.FilledPoints))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("**Folds**: %d × %d-step horizon\n\n", res.FoldCount, res.Horizon))

	if res.Backtest != nil && len(res.Backtest.Folds) > 0 {
		b.WriteString("| Fold | Train | Test |\n|------|-------|------|\n")
		for _, f := range res.Backtest.Folds {
			b.WriteString(fmt.Sprintf("| %d | [%d, %d) | [%d, %d) |\n",
				f.Index, f.Train.Start, f.Train.End, f.Test.Start, f.Test.End))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Rank | Model | Avg MAPE | Std Dev | Avg MAE | Avg RMSE | Avg Time |\n")
	b.WriteString("|------|-------|----------|---------|---------|----------|----------|\n")
	for _, m := range res.Ranking.Models {
		indicator := "  "
		if m.Rank == 1 {
			indicator = "🏆"
		}
		b.WriteString(fmt.Sprintf("| %s %d | **%s** | %s | %s | $%.2f | $%.2f | %s |\n",
			indicator, m.Rank, m.Model, mape(m), mapeStd(m), m.MAE.Mean, m.RMSE.Mean, seconds(m.MeanTime)))
	}
	if len(res.Ranking.Models) == 0 {
		b.WriteString("| - | no model completed every fold | | | | | |\n")
	}

	if len(res.Ranking.Excluded) > 0 {
		b.WriteString("\n## Excluded models\n\n")
		for _, e := range res.Ranking.Excluded {
			b.WriteString(fmt.Sprintf("- **%s**: %d of %d folds failed", e.Model, e.FailedFolds, e.TotalFolds))
			if e.FirstError != "" {
				b.WriteString(fmt.Sprintf(" (first error: %s)", e.FirstError))
			}
			b.WriteString("\n")
		}
	}

	if best, ok := res.Ranking.Best(); ok {
		b.WriteString("\n## Recommendation\n\n")
		b.WriteString(fmt.Sprintf("Based on MAPE, the **%s** model performs best with an average error of %s.\n",
			best.Model, mape(best)))
	}

	b.WriteString("\n### Model Comparison\n\n")
	for _, m := range res.Ranking.Models {
		b.WriteString(fmt.Sprintf("#### %s\n", m.Model))
		b.WriteString(fmt.Sprintf("- **Kind**: %s\n", m.Kind))
		b.WriteString(fmt.Sprintf("- **MAPE**: %s (±%s)\n", mape(m), mapeStd(m)))
		b.WriteString(fmt.Sprintf("- **MAE**: $%.2f (±%.2f)\n", m.MAE.Mean, m.MAE.Std))
		b.WriteString(fmt.Sprintf("- **RMSE**: $%.2f (±%.2f)\n", m.RMSE.Mean, m.RMSE.Std))
		b.WriteString(fmt.Sprintf("- **Training Time**: %s per forecast", seconds(m.MeanTime)))
		if m.MeanInclusive > m.MeanTime {
			b.WriteString(fmt.Sprintf(" (%s including members)", seconds(m.MeanInclusive)))
		}
		b.WriteString("\n")
		if m.Degenerate > 0 {
			b.WriteString(fmt.Sprintf("- **Folds without MAPE**: %d\n", m.Degenerate))
		}
		b.WriteString("\n")
	}

	b.WriteString(currentVsBest(res))
	return b.String()
}

func currentVsBest(res *model.RunResult) string {
	rec := res.Recommendation
	var b strings.Builder
	b.WriteString("## Current vs Best Model\n\n")
	if rec.Winner == "" {
		b.WriteString("No model completed every fold, so there is nothing to compare.\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("| Metric | Current (%s) | Best (%s) | Improvement |\n", rec.Current, rec.Winner))
	b.WriteString("|--------|---------|------|-------------|\n")
	if rec.CurrentRanked {
		b.WriteString(fmt.Sprintf("| MAPE | %.2f%% | %.2f%% | %.1f%% better |\n", rec.CurrentMAPE, rec.WinnerMAPE, rec.ImprovementPct))
	} else {
		b.WriteString(fmt.Sprintf("| MAPE | n/a | %.2f%% | n/a |\n", rec.WinnerMAPE))
	}
	b.WriteString(fmt.Sprintf("\n**Action**: %s (%s)\n", rec.Action, rec.Label))
	if rec.Note != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", rec.Note))
	}
	return b.String()
}

// JSON returns the machine-readable form of a run.
func JSON(res *model.RunResult) ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}

func mape(m model.ModelRanking) string {
	if !m.MAPEDefined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", m.MAPE.Mean)
}

func mapeStd(m model.ModelRanking) string {
	if !m.MAPEDefined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", m.MAPE.Std)
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
