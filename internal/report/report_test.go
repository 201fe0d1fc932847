package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"CryptoBeacon/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *model.RunResult {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &model.RunResult{
		ID:           "run-42",
		Symbol:       "BTC",
		FinishedAt:   day.Add(8 * time.Hour),
		SeriesStart:  day.AddDate(-1, 0, 0),
		SeriesEnd:    day,
		SeriesPoints: 365,
		FilledPoints: 2,
		FoldCount:    2,
		Horizon:      7,
		Backtest: &model.Backtest{Folds: []model.Fold{
			{Index: 0, Train: model.Range{End: 351}, Test: model.Range{Start: 351, End: 358}},
			{Index: 1, Train: model.Range{End: 358}, Test: model.Range{Start: 358, End: 365}},
		}},
		Ranking: model.Ranking{
			Models: []model.ModelRanking{
				{Rank: 1, Model: "gradient_boosted", Kind: "gradient_boosted", MAPEDefined: true,
					MAPE: model.MetricStats{Mean: 2.31, Std: 0.4}, MAE: model.MetricStats{Mean: 1500},
					RMSE: model.MetricStats{Mean: 1800}, MeanTime: 1200 * time.Millisecond},
				{Rank: 2, Model: "ensemble", Kind: "ensemble", MAPEDefined: true,
					MAPE: model.MetricStats{Mean: 3.0, Std: 0.5}, MAE: model.MetricStats{Mean: 1900},
					RMSE: model.MetricStats{Mean: 2100}, MeanTime: time.Millisecond, MeanInclusive: 3 * time.Second},
				{Rank: 3, Model: "trend_decomposition", Kind: "trend_decomposition", MAPEDefined: true,
					MAPE: model.MetricStats{Mean: 4.62, Std: 1.1}, MAE: model.MetricStats{Mean: 3000},
					RMSE: model.MetricStats{Mean: 3500}, MeanTime: 50 * time.Millisecond},
			},
			Excluded: []model.Exclusion{{Model: "recurrent_sequence", FailedFolds: 1, TotalFolds: 2, FirstError: "model fit failed: timeout"}},
		},
		Recommendation: model.Recommendation{
			Winner: "gradient_boosted", WinnerMAPE: 2.31, Current: "trend_decomposition", CurrentMAPE: 4.62,
			CurrentRanked: true, ImprovementPct: 50, Action: model.ActionStrongSwitch, Label: "Strong switch",
		},
	}
}

func TestRender_Sections(t *testing.T) {
	out := Render(sampleResult())

	assert.Contains(t, out, "# Crypto Prediction Model Comparison Report")
	assert.Contains(t, out, "**Generated**: 2026-03-01 08:00:00 UTC")
	assert.Contains(t, out, "**Symbol**: BTC")
	assert.Contains(t, out, "**Folds**: 2 × 7-step horizon")
	assert.Contains(t, out, "| 1 | [0, 358) | [358, 365) |")
	assert.Contains(t, out, "| Rank | Model | Avg MAPE | Std Dev | Avg MAE | Avg RMSE | Avg Time |")
	assert.Contains(t, out, "| 🏆 1 | **gradient_boosted** | 2.31% | 0.40% | $1500.00 | $1800.00 | 1.20s |")
	assert.Contains(t, out, "## Excluded models")
	assert.Contains(t, out, "- **recurrent_sequence**: 1 of 2 folds failed (first error: model fit failed: timeout)")
	assert.Contains(t, out, "(3.00s including members)")
	assert.Contains(t, out, "| MAPE | 4.62% | 2.31% | 50.0% better |")
	assert.Contains(t, out, "**Action**: STRONG_SWITCH")

	// ranking order is preserved
	gbt := strings.Index(out, "#### gradient_boosted")
	ens := strings.Index(out, "#### ensemble")
	hw := strings.Index(out, "#### trend_decomposition")
	assert.True(t, gbt < ens && ens < hw)
}

func TestRender_NoWinner(t *testing.T) {
	res := sampleResult()
	res.Ranking.Models = nil
	res.Recommendation = model.Recommendation{Current: "trend_decomposition", Action: model.ActionNoWinner}
	out := Render(res)
	assert.Contains(t, out, "no model completed every fold")
	assert.Contains(t, out, "nothing to compare")
	assert.NotContains(t, out, "## Recommendation")
}

func TestJSON_RoundTrip(t *testing.T) {
	data, err := JSON(sampleResult())
	require.NoError(t, err)
	var back model.RunResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "gradient_boosted", back.Ranking.Models[0].Model)
	assert.Equal(t, "recurrent_sequence", back.Ranking.Excluded[0].Model)
	assert.Equal(t, model.ActionStrongSwitch, back.Recommendation.Action)
}

func TestLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	md, _ := Names("BTC", "run-42")
	loc, err := s.Put(context.Background(), md, []byte("# hi"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "BTC", "run-42.md"), loc)
	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(data))
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_Put(t *testing.T) {
	client := &fakeS3{}
	s := NewS3StoreWithClient(client, "bench", "forecastbench")
	_, js := Names("ETH", "run-1")
	loc, err := s.Put(context.Background(), js, []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "s3://bench/forecastbench/ETH/run-1.json", loc)
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "bench", aws.ToString(client.inputs[0].Bucket))
	assert.Equal(t, "forecastbench/ETH/run-1.json", aws.ToString(client.inputs[0].Key))
	assert.Equal(t, "application/json", aws.ToString(client.inputs[0].ContentType))
	assert.Equal(t, `{"ok":true}`, client.bodies[0])
}

func TestMultiStore_StopsOnError(t *testing.T) {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	failing := NewS3StoreWithClient(&fakeS3{err: errors.New("denied")}, "bench", "")
	loc, err := MultiStore{local, failing}.Put(context.Background(), "a.md", []byte("x"))
	assert.ErrorContains(t, err, "denied")
	assert.Contains(t, loc, "a.md")
}
