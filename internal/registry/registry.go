// Package registry tracks which model currently serves forecasts per symbol.
package registry

import (
	"strings"
	"sync"
	"time"

	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/model"
	"CryptoBeacon/internal/selection"
)

// maxHistory bounds the promotion history kept per symbol.
const maxHistory = 20

// Registry holds deployment state with concurrency safety.
type Registry struct {
	mu           sync.Mutex
	state        *model.RegistryState
	filePath     string
	defaultModel string
	log          *logging.Logger
}

// NewRegistry loads or initializes state from disk. Symbols without a
// deployment fall back to defaultModel.
func NewRegistry(filePath, defaultModel string) (*Registry, error) {
	state, err := LoadState(filePath)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		state:        state,
		filePath:     filePath,
		defaultModel: defaultModel,
		log:          logging.NewComponentLogger("registry"),
	}
	if err := r.save(); err != nil {
		return nil, err
	}
	return r, nil
}

// Current returns the deployed model name for a symbol.
func (r *Registry) Current(symbol string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.state.Deployments[key(symbol)]; ok && d.Model != "" {
		return d.Model
	}
	return r.defaultModel
}

// Deployment returns a copy of the deployment of a symbol.
func (r *Registry) Deployment(symbol string) (model.Deployment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.state.Deployments[key(symbol)]
	if !ok {
		return model.Deployment{}, false
	}
	cp := *d
	cp.History = append([]model.Promotion(nil), d.History...)
	return cp, true
}

// Snapshot returns a copy of every deployment keyed by symbol.
func (r *Registry) Snapshot() map[string]model.Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.Deployment, len(r.state.Deployments))
	for k, d := range r.state.Deployments {
		cp := *d
		cp.History = append([]model.Promotion(nil), d.History...)
		out[k] = cp
	}
	return out
}

// Apply records the outcome of a run. With autoPromote a switch
// recommendation replaces the deployed model; otherwise only the MAPE of
// the deployed model is refreshed. It reports whether a promotion happened.
func (r *Registry) Apply(result *model.RunResult, autoPromote bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(result.Symbol)
	d, ok := r.state.Deployments[k]
	if !ok {
		d = &model.Deployment{Symbol: k, Model: r.defaultModel}
		r.state.Deployments[k] = d
	}
	rec := result.Recommendation

	promoted := false
	if autoPromote && selection.ShouldPromote(rec) {
		d.History = append(d.History, model.Promotion{
			From:           d.Model,
			To:             rec.Winner,
			ImprovementPct: rec.ImprovementPct,
			RunID:          result.ID,
			At:             result.FinishedAt,
		})
		if len(d.History) > maxHistory {
			d.History = d.History[len(d.History)-maxHistory:]
		}
		d.Model = rec.Winner
		d.MAPE = rec.WinnerMAPE
		d.DeployedAt = result.FinishedAt
		promoted = true
		r.log.Infof("promoted %s for %s: %s -> %s (%.2f%% better)", rec.Winner, k, rec.Current, rec.Winner, rec.ImprovementPct)
	} else if row, found := result.Ranking.Find(d.Model); found {
		d.MAPE = row.MAPE.Mean
	}
	if d.DeployedAt.IsZero() {
		d.DeployedAt = time.Now().UTC()
	}
	d.RunID = result.ID

	if err := r.save(); err != nil {
		r.log.Errorf("failed to save registry state: %v", err)
		return promoted, err
	}
	return promoted, nil
}

func (r *Registry) save() error {
	return SaveState(r.filePath, r.state)
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
