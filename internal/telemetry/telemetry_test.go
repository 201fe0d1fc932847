package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"CryptoBeacon/internal/model"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func family(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	fams, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range fams {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestMetrics_Cells(t *testing.T) {
	m := New()
	m.CellStarted("naive", 0)
	m.CellStarted("naive", 1)
	m.CellFinished(model.Cell{Model: "naive", State: model.StateScored, Metrics: model.ErrorMetrics{Elapsed: 5 * time.Millisecond}})

	active := family(t, m, "forecastbench_cells_active")
	assert.Equal(t, 1.0, active.GetMetric()[0].GetGauge().GetValue())

	cells := family(t, m, "forecastbench_cells_total")
	require.Len(t, cells.GetMetric(), 1)
	assert.Equal(t, 1.0, cells.GetMetric()[0].GetCounter().GetValue())

	hist := family(t, m, "forecastbench_cell_seconds")
	assert.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_RunFinishedReplacesWinner(t *testing.T) {
	m := New()
	res := &model.RunResult{
		Symbol:   "BTC",
		Ranking:  model.Ranking{Models: []model.ModelRanking{{Rank: 1, Model: "naive", MAPE: model.MetricStats{Mean: 3.5}}}},
		Backtest: &model.Backtest{Cells: []model.Cell{{State: model.StateFailed}, {State: model.StateScored}}},
	}
	m.RunFinished(res)
	res.Ranking.Models[0] = model.ModelRanking{Rank: 1, Model: "gbt", MAPE: model.MetricStats{Mean: 2}}
	m.RunFinished(res)

	winner := family(t, m, "forecastbench_winner_mape_percent")
	require.Len(t, winner.GetMetric(), 1)
	assert.Equal(t, 2.0, winner.GetMetric()[0].GetGauge().GetValue())

	failed := family(t, m, "forecastbench_failed_cells")
	assert.Equal(t, 1.0, failed.GetMetric()[0].GetGauge().GetValue())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RunFailed("ETH")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `forecastbench_runs_total{outcome="error",symbol="ETH"} 1`)
}
