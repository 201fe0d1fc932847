// Package telemetry exposes evaluation progress as Prometheus metrics.
package telemetry

import (
	"net/http"

	"CryptoBeacon/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records cell and run outcomes. It satisfies backtest.Observer.
type Metrics struct {
	registry    *prometheus.Registry
	cellsActive prometheus.Gauge
	cells       *prometheus.CounterVec
	cellSeconds *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	winnerMAPE  *prometheus.GaugeVec
	failedCells *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cellsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forecastbench_cells_active",
			Help: "Backtest cells currently fitting or predicting.",
		}),
		cells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastbench_cells_total",
			Help: "Finished backtest cells by model and final state.",
		}, []string{"model", "state"}),
		cellSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forecastbench_cell_seconds",
			Help:    "Wall time of one fit and predict.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"model"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastbench_runs_total",
			Help: "Evaluation runs by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		winnerMAPE: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecastbench_winner_mape_percent",
			Help: "Mean MAPE of the top-ranked model of the latest run.",
		}, []string{"symbol", "model"}),
		failedCells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecastbench_failed_cells",
			Help: "Failed cells of the latest run.",
		}, []string{"symbol"}),
	}
	m.registry.MustRegister(m.cellsActive, m.cells, m.cellSeconds, m.runs, m.winnerMAPE, m.failedCells)
	return m
}

func (m *Metrics) CellStarted(string, int) {
	m.cellsActive.Inc()
}

func (m *Metrics) CellFinished(cell model.Cell) {
	m.cellsActive.Dec()
	m.cells.WithLabelValues(cell.Model, string(cell.State)).Inc()
	m.cellSeconds.WithLabelValues(cell.Model).Observe(cell.Metrics.Elapsed.Seconds())
}

// RunFinished records the outcome of a completed run.
func (m *Metrics) RunFinished(res *model.RunResult) {
	m.runs.WithLabelValues(res.Symbol, "ok").Inc()
	m.winnerMAPE.DeletePartialMatch(prometheus.Labels{"symbol": res.Symbol})
	if best, ok := res.Ranking.Best(); ok {
		m.winnerMAPE.WithLabelValues(res.Symbol, best.Model).Set(best.MAPE.Mean)
	}
	if res.Backtest != nil {
		m.failedCells.WithLabelValues(res.Symbol).Set(float64(res.Backtest.FailedCount()))
	}
}

// RunFailed records a run-fatal error.
func (m *Metrics) RunFailed(symbol string) {
	m.runs.WithLabelValues(symbol, "error").Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
