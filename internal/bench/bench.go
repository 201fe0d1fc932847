// Package bench wires loading, backtesting, ranking and reporting into one
// evaluation run.
package bench

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"CryptoBeacon/internal/backtest"
	"CryptoBeacon/internal/collector"
	"CryptoBeacon/internal/config"
	"CryptoBeacon/internal/forecast"
	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/metrics"
	"CryptoBeacon/internal/model"
	"CryptoBeacon/internal/recorder"
	"CryptoBeacon/internal/registry"
	"CryptoBeacon/internal/report"
	"CryptoBeacon/internal/selection"
	"CryptoBeacon/internal/telemetry"

	"github.com/google/uuid"
)

// ErrBusy is returned when the symbol already has a run in progress.
var ErrBusy = errors.New("evaluation already running")

// Service runs evaluations. Registry, recorder, store and telemetry are optional.
type Service struct {
	cfg      *config.Config
	loader   *collector.Loader
	models   []forecast.Model
	registry *registry.Registry
	recorder recorder.Recorder
	store    report.ArtifactStore
	metrics  *telemetry.Metrics
	log      *logging.Logger

	mu      sync.Mutex
	running map[string]bool
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Registry *registry.Registry
	Recorder recorder.Recorder
	Store    report.ArtifactStore
	Metrics  *telemetry.Metrics
}

// New builds the model set from cfg and returns a ready service.
func New(cfg *config.Config, loader *collector.Loader, opts Options) (*Service, error) {
	models, err := forecast.NewSet(cfg.Models, cfg.Ensemble)
	if err != nil {
		return nil, err
	}
	rec := opts.Recorder
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Service{
		cfg:      cfg,
		loader:   loader,
		models:   models,
		registry: opts.Registry,
		recorder: rec,
		store:    opts.Store,
		metrics:  opts.Metrics,
		log:      logging.NewComponentLogger("bench"),
		running:  make(map[string]bool),
	}, nil
}

// Models returns the configured model names in evaluation order.
func (s *Service) Models() []string {
	names := make([]string, len(s.models))
	for i, m := range s.models {
		names[i] = m.Name()
	}
	return names
}

// Current returns the deployed model of a symbol.
func (s *Service) Current(symbol string) string {
	if s.registry != nil {
		return s.registry.Current(symbol)
	}
	return s.cfg.Selection.CurrentModel
}

// Evaluate loads history for symbol, backtests every model, ranks them and
// publishes the result. Only data loading and cancellation are fatal; model
// failures end up in the ranking's exclusions.
func (s *Service) Evaluate(ctx context.Context, symbol string) (*model.RunResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !s.acquire(symbol) {
		return nil, fmt.Errorf("%s: %w", symbol, ErrBusy)
	}
	defer s.release(symbol)

	res, err := s.evaluate(ctx, symbol)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RunFailed(symbol)
		}
		s.log.WithError(err).WithField("symbol", symbol).Error("evaluation failed")
		return nil, err
	}
	return res, nil
}

func (s *Service) evaluate(ctx context.Context, symbol string) (*model.RunResult, error) {
	started := time.Now().UTC()
	bc := s.cfg.Backtest
	fc := backtest.FoldConfigFrom(bc)

	series, err := s.loader.Load(ctx, symbol, s.cfg.DataSource.LookbackDays, backtest.RequiredPoints(fc))
	if err != nil {
		return nil, err
	}
	folds, err := backtest.GenerateFolds(series.Len(), fc)
	if err != nil {
		return nil, model.NewDataUnavailable(symbol, "%v", err)
	}

	var obs backtest.Observer
	if s.metrics != nil {
		obs = s.metrics
	}
	bt, err := backtest.NewRunner(bc.Workers, bc.CellTimeout, obs).Run(ctx, series, s.models, folds)
	if err != nil {
		return nil, err
	}

	ranking := metrics.Build(bt)
	current := s.Current(symbol)
	res := &model.RunResult{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
		SeriesStart:    series.Start(),
		SeriesEnd:      series.End(),
		SeriesPoints:   series.Len(),
		FilledPoints:   series.Filled(),
		FoldCount:      len(folds),
		Horizon:        fc.Horizon,
		Backtest:       bt,
		Ranking:        ranking,
		Recommendation: selection.Recommend(ranking, current, s.cfg.Selection.MinImprovementPct),
	}

	s.publish(ctx, res)
	s.log.LogRun(res.ID, symbol, res.Recommendation.Winner, res.Recommendation.WinnerMAPE,
		bt.FailedCount(), res.FinishedAt.Sub(started))
	return res, nil
}

// publish hands a finished run to the registry, artifact store, recorder and
// metrics. Failures are logged; the run result stands regardless.
func (s *Service) publish(ctx context.Context, res *model.RunResult) {
	if s.registry != nil {
		if _, err := s.registry.Apply(res, s.cfg.Selection.AutoPromote); err != nil {
			s.log.Errorf("update registry: %v", err)
		}
	}
	if s.store != nil {
		md, js := report.Names(res.Symbol, res.ID)
		if loc, err := s.store.Put(ctx, md, []byte(report.Render(res))); err != nil {
			s.log.Errorf("store report: %v", err)
		} else {
			res.Artifacts = append(res.Artifacts, loc)
		}
		if data, err := report.JSON(res); err != nil {
			s.log.Errorf("encode report: %v", err)
		} else if loc, err := s.store.Put(ctx, js, data); err != nil {
			s.log.Errorf("store ranking: %v", err)
		} else {
			res.Artifacts = append(res.Artifacts, loc)
		}
	}
	if err := s.recorder.RecordRun(res); err != nil {
		s.log.Errorf("record run: %v", err)
	}
	if s.metrics != nil {
		s.metrics.RunFinished(res)
	}
}

// History lists recent runs of a symbol.
func (s *Service) History(symbol string, limit int) ([]recorder.RunSummary, error) {
	return s.recorder.RecentRuns(strings.ToUpper(strings.TrimSpace(symbol)), limit)
}

// Deployments returns the registry snapshot, or nil without a registry.
func (s *Service) Deployments() map[string]model.Deployment {
	if s.registry == nil {
		return nil
	}
	return s.registry.Snapshot()
}

// Deployment returns the registry entry of one symbol.
func (s *Service) Deployment(symbol string) (model.Deployment, bool) {
	if s.registry == nil {
		return model.Deployment{}, false
	}
	return s.registry.Deployment(symbol)
}

// Refresh drops cached price history of symbol. It reports false when the
// loader has no cache.
func (s *Service) Refresh(ctx context.Context, symbol string) (bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return false, fmt.Errorf("symbol is required")
	}
	return s.loader.Refresh(ctx, symbol)
}

func (s *Service) acquire(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[symbol] {
		return false
	}
	s.running[symbol] = true
	return true
}

func (s *Service) release(symbol string) {
	s.mu.Lock()
	delete(s.running, symbol)
	s.mu.Unlock()
}
