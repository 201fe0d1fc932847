package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"CryptoBeacon/internal/model"
	"CryptoBeacon/internal/recorder"
)

// FormatRunSummary formats an evaluation run into a Telegram message.
func FormatRunSummary(res *model.RunResult) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>Forecast model evaluation</b> | %s | %s\n\n",
		html.EscapeString(res.Symbol), res.FinishedAt.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("History: %d points", res.SeriesPoints))
	if res.FilledPoints > 0 {
		b.WriteString(fmt.Sprintf(" (%d interpolated)", res.FilledPoints))
	}
	b.WriteString(fmt.Sprintf("\nFolds: %d × %d days\n\n", res.FoldCount, res.Horizon))

	b.WriteString("📈 <b>Ranking:</b>\n")
	for _, m := range res.Ranking.Models {
		medal := "  "
		if m.Rank == 1 {
			medal = "🏆"
		}
		mape := "n/a"
		if m.MAPEDefined {
			mape = fmt.Sprintf("%.2f%% ±%.2f", m.MAPE.Mean, m.MAPE.Std)
		}
		b.WriteString(fmt.Sprintf("%s %d. %s: MAPE %s, %.2fs\n",
			medal, m.Rank, html.EscapeString(m.Model), mape, m.MeanTime.Seconds()))
	}
	if len(res.Ranking.Models) == 0 {
		b.WriteString("  no model completed every fold\n")
	}
	for _, e := range res.Ranking.Excluded {
		b.WriteString(fmt.Sprintf("❌ %s excluded: %d/%d folds failed\n",
			html.EscapeString(e.Model), e.FailedFolds, e.TotalFolds))
	}

	rec := res.Recommendation
	b.WriteString(fmt.Sprintf("\n💡 <b>%s</b>", rec.Action))
	if rec.Label != "" {
		b.WriteString(fmt.Sprintf(" (%s)", html.EscapeString(rec.Label)))
	}
	b.WriteString("\n")
	if rec.Winner != "" && rec.CurrentRanked && rec.Winner != rec.Current {
		b.WriteString(fmt.Sprintf("   %s %.2f%% → %s %.2f%% (%.1f%% better)\n",
			html.EscapeString(rec.Current), rec.CurrentMAPE, html.EscapeString(rec.Winner), rec.WinnerMAPE, rec.ImprovementPct))
	}
	if rec.Note != "" {
		b.WriteString(fmt.Sprintf("   %s\n", html.EscapeString(rec.Note)))
	}
	return b.String()
}

// FormatDeployments formats the deployed model per symbol.
func FormatDeployments(deps map[string]model.Deployment, defaultModel string) string {
	var b strings.Builder
	b.WriteString("📦 <b>Deployed models</b>\n\n")
	if len(deps) == 0 {
		b.WriteString(fmt.Sprintf("No evaluations yet, every symbol uses %s\n", html.EscapeString(defaultModel)))
		return b.String()
	}
	symbols := make([]string, 0, len(deps))
	for s := range deps {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		d := deps[s]
		b.WriteString(fmt.Sprintf("%s: %s (MAPE %.2f%%) since %s\n",
			html.EscapeString(s), html.EscapeString(d.Model), d.MAPE, d.DeployedAt.Format("2006-01-02")))
	}
	return b.String()
}

// FormatHistory formats recent runs, newest first.
func FormatHistory(symbol string, runs []recorder.RunSummary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🗂 <b>Recent runs</b> | %s\n\n", html.EscapeString(symbol)))
	if len(runs) == 0 {
		b.WriteString("No runs recorded\n")
		return b.String()
	}
	for _, r := range runs {
		b.WriteString(fmt.Sprintf("%s %s: %s %.2f%% [%s]",
			r.FinishedAt.Format("2006-01-02 15:04"), html.EscapeString(r.Symbol),
			html.EscapeString(r.Winner), r.WinnerMAPE, r.Action))
		if r.FailedCells > 0 {
			b.WriteString(fmt.Sprintf(" %d failed cells", r.FailedCells))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatError formats a failed evaluation.
func FormatError(symbol string, err error) string {
	return fmt.Sprintf("❌ <b>Evaluation failed</b> | %s\n\n%s", html.EscapeString(symbol), html.EscapeString(err.Error()))
}

// HelpText lists the supported commands.
const HelpText = "Available commands:\n" +
	"• /evaluate SYMBOL: run a model evaluation now\n" +
	"• /latest SYMBOL: recent evaluation runs\n" +
	"• /current [SYMBOL]: deployed model per symbol\n" +
	"• /refresh SYMBOL: drop cached price history"
