// Package selection turns a ranking into a deployment recommendation.
package selection

import (
	"fmt"
	"math"

	"CryptoBeacon/internal/metrics"
	"CryptoBeacon/internal/model"
)

// Tiers maps the winner's improvement over the deployed model, expressed as a
// multiple of the minimum improvement, to an action.
var Tiers = []struct {
	MinRatio float64
	Action   model.Action
	Label    string
}{
	{2.0, model.ActionStrongSwitch, "Strong switch"},
	{1.0, model.ActionSwitch, "Switch"},
	{math.SmallestNonzeroFloat64, model.ActionHold, "Hold, gain below threshold"},
}

// DefaultLabel is used when the deployed model is at least as good as the winner.
const DefaultLabel = "Keep current"

// mapTier maps an improvement ratio to an action and label.
func mapTier(ratio float64) (model.Action, string) {
	for _, t := range Tiers {
		if ratio >= t.MinRatio {
			return t.Action, t.Label
		}
	}
	return model.ActionKeepCurrent, DefaultLabel
}

// Recommend compares the ranking winner with the deployed model. A deployed
// model that is excluded or missing from the ranking is replaced outright.
func Recommend(ranking model.Ranking, current string, minImprovementPct float64) model.Recommendation {
	rec := model.Recommendation{Current: current}
	best, ok := ranking.Best()
	if !ok {
		rec.Action = model.ActionNoWinner
		rec.Label = "No winner"
		rec.Note = "every model was excluded"
		return rec
	}
	rec.Winner = best.Model
	rec.WinnerMAPE = best.MAPE.Mean

	cur, ranked := ranking.Find(current)
	rec.CurrentRanked = ranked
	if !ranked {
		rec.Action = model.ActionSwitch
		rec.Label = "Switch"
		if ranking.IsExcluded(current) {
			rec.Note = fmt.Sprintf("%s was excluded from the ranking", current)
		} else {
			rec.Note = fmt.Sprintf("%s was not evaluated", current)
		}
		return rec
	}
	rec.CurrentMAPE = cur.MAPE.Mean
	if best.Model == current {
		rec.Action = model.ActionKeepCurrent
		rec.Label = DefaultLabel
		return rec
	}
	if !best.MAPEDefined || !cur.MAPEDefined {
		rec.Action = model.ActionHold
		rec.Label = "Hold, MAPE undefined"
		rec.Note = "MAPE could not be compared"
		return rec
	}

	rec.ImprovementPct = metrics.Improvement(cur.MAPE.Mean, best.MAPE.Mean)
	if minImprovementPct <= 0 {
		minImprovementPct = math.SmallestNonzeroFloat64
	}
	rec.Action, rec.Label = mapTier(rec.ImprovementPct / minImprovementPct)
	return rec
}

// ShouldPromote reports whether a recommendation asks for a new deployment.
func ShouldPromote(rec model.Recommendation) bool {
	return rec.Winner != "" && rec.Winner != rec.Current &&
		(rec.Action == model.ActionSwitch || rec.Action == model.ActionStrongSwitch)
}
