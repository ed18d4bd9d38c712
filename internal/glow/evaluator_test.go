package glow

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromasky/internal/astro"
	"chromasky/internal/grid"
	"chromasky/internal/observability"
	"chromasky/internal/types"
)

var (
	scenarioValidTime = time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	scenarioTarget    = time.Date(2025, 6, 21, 11, 45, 0, 0, time.UTC)
)

// scenarioDataset is the 2x2 reference grid: overcast high cloud except a
// clear cell at (0, 1), uniform benign medium cloud, low cloud and aerosol.
func scenarioDataset(t *testing.T) *grid.Dataset {
	t.Helper()
	g, err := grid.NewGrid([]float64{30, 31}, []float64{110, 111})
	require.NoError(t, err)

	field := func(name string, rows [][]float64) *grid.Field {
		f, err := grid.NewFieldFromRows(name, g, scenarioValidTime, rows)
		require.NoError(t, err)
		return f
	}
	ds, err := grid.NewDataset(
		field(types.FieldHCC, [][]float64{{0.5, 0.0}, {0.6, 0.5}}),
		field(types.FieldMCC, [][]float64{{0.3, 0.3}, {0.3, 0.3}}),
		field(types.FieldLCC, [][]float64{{0.05, 0.05}, {0.05, 0.05}}),
		field(types.FieldAOD550, [][]float64{{0.1, 0.1}, {0.1, 0.1}}),
	)
	require.NoError(t, err)
	return ds
}

func fullMask(ds *grid.Dataset) grid.Mask {
	m := grid.NewMask(ds.Grid.Rows(), ds.Grid.Cols())
	for i := 0; i < ds.Grid.Rows(); i++ {
		for j := 0; j < ds.Grid.Cols(); j++ {
			m.Set(i, j, true)
		}
	}
	return m
}

func newTestEvaluator(t *testing.T, opts ...Option) (*Evaluator, *observability.Metrics) {
	t.Helper()
	model, err := NewScoringModel(DefaultParams(), types.AllFactors, DefaultWeights(), testLogger)
	require.NoError(t, err)
	metrics := observability.NewMetricsForTesting()
	e := NewEvaluator(model, astro.NewSolarService(testLogger), grid.NewSampler(testLogger), metrics, testLogger, opts...)
	return e, metrics
}

func cell(t *testing.T, b *Bundle, name string, i, j int) float32 {
	t.Helper()
	v, err := b.At(name, i, j)
	require.NoError(t, err)
	return v
}

func TestEvaluateReferenceScenario(t *testing.T) {
	e, metrics := newTestEvaluator(t, WithWorkers(2))
	ds := scenarioDataset(t)

	b, err := e.Evaluate(context.Background(), Request{
		Dataset: ds,
		Target:  scenarioTarget,
		Kind:    types.EventSunset,
		Mask:    fullMask(ds),
	})
	require.NoError(t, err)

	assert.Equal(t, float32(0), cell(t, b, FieldFinalScore, 0, 1), "clear overhead cell scores exactly zero")
	assert.Equal(t, float32(0), cell(t, b, types.FactorBoundary.ScoreName(), 0, 1))
	assert.Equal(t, float32(0), cell(t, b, types.FactorHCC.ScoreName(), 0, 1))
	assert.Equal(t, float32(1), cell(t, b, types.FactorMCC.ScoreName(), 0, 1))

	for _, c := range []grid.Cell{{I: 0, J: 0}, {I: 1, J: 0}, {I: 1, J: 1}} {
		final := cell(t, b, FieldFinalScore, c.I, c.J)
		assert.Greater(t, final, float32(0), "cell %v", c)
		assert.LessOrEqual(t, final, float32(1), "cell %v", c)
		assert.Equal(t, float32(1), cell(t, b, types.FactorHCC.ScoreName(), c.I, c.J))
		assert.Equal(t, float32(1), cell(t, b, FieldPenaltyScore, c.I, c.J))
	}

	assert.Equal(t, 4, b.Stats.EvaluatedCells)
	assert.Equal(t, 1, b.Stats.ClearSkyCells)
	assert.Equal(t, 0, b.Stats.FailedCells)
	assert.Equal(t, 4, b.Evaluated.Count())
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.CellsEvaluated))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ShortCircuits))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.ActiveCells))
}

func TestEvaluateProvenance(t *testing.T) {
	now := time.Date(2025, 6, 21, 8, 30, 0, 0, time.UTC)
	e, _ := newTestEvaluator(t, WithClock(clockwork.NewFakeClockAt(now)))
	ds := scenarioDataset(t)

	b, err := e.Evaluate(context.Background(), Request{
		Dataset: ds,
		Target:  scenarioTarget.In(time.FixedZone("CST", 8*3600)),
		Kind:    types.EventSunset,
		Mask:    fullMask(ds),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, b.RunID)
	assert.Equal(t, now, b.ComputedAt)
	assert.Equal(t, scenarioValidTime, b.ValidTime)
	assert.Equal(t, time.UTC, b.Target.Location())
	assert.True(t, b.Target.Equal(scenarioTarget))
	assert.Equal(t, types.EventSunset, b.Kind)
	assert.Equal(t, types.AllFactors, b.Factors)
	assert.Equal(t, []string{
		"final_score", "quality_score", "penalty_score",
		"score_boundary", "score_hcc", "score_mcc", "score_lcc", "score_aod550",
	}, b.FieldNames())
}

func TestEvaluateIsIdempotent(t *testing.T) {
	e1, _ := newTestEvaluator(t, WithWorkers(1))
	e2, _ := newTestEvaluator(t, WithWorkers(8))
	ds := scenarioDataset(t)
	req := Request{Dataset: ds, Target: scenarioTarget, Kind: types.EventSunset, Mask: fullMask(ds)}

	a, err := e1.Evaluate(context.Background(), req)
	require.NoError(t, err)
	b, err := e2.Evaluate(context.Background(), req)
	require.NoError(t, err)

	for _, name := range a.FieldNames() {
		av, bv := a.Fields[name], b.Fields[name]
		require.Len(t, bv, len(av))
		for k := range av {
			assert.Equal(t, math.Float32bits(av[k]), math.Float32bits(bv[k]), "%s[%d]", name, k)
		}
	}
}

func TestEvaluateLeavesInactiveCellsUnevaluated(t *testing.T) {
	e, _ := newTestEvaluator(t)
	ds := scenarioDataset(t)
	mask := grid.NewMask(2, 2)
	mask.Set(1, 1, true)

	b, err := e.Evaluate(context.Background(), Request{Dataset: ds, Target: scenarioTarget, Kind: types.EventSunset, Mask: mask})
	require.NoError(t, err)

	assert.True(t, b.Evaluated.At(1, 1))
	assert.False(t, b.Evaluated.At(0, 0))
	for _, name := range b.FieldNames() {
		assert.True(t, math.IsNaN(float64(cell(t, b, name, 0, 0))), name)
	}
	assert.False(t, math.IsNaN(float64(cell(t, b, FieldFinalScore, 1, 1))))
}

func TestEvaluateNoActiveCells(t *testing.T) {
	e, metrics := newTestEvaluator(t)
	ds := scenarioDataset(t)

	b, err := e.Evaluate(context.Background(), Request{Dataset: ds, Target: scenarioTarget, Kind: types.EventSunrise, Mask: grid.NewMask(2, 2)})
	require.NoError(t, err)

	assert.Equal(t, 0, b.Evaluated.Count())
	assert.Equal(t, 0, b.Stats.ActiveCells)
	assert.True(t, math.IsNaN(b.Stats.MeanFinal))
	for _, v := range b.Fields[FieldFinalScore] {
		assert.True(t, math.IsNaN(float64(v)))
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CellsEvaluated))
}

func TestEvaluateFactorSubset(t *testing.T) {
	e, _ := newTestEvaluator(t)
	ds := scenarioDataset(t)
	delete(ds.Fields, types.FieldLCC)

	b, err := e.Evaluate(context.Background(), Request{
		Dataset: ds,
		Target:  scenarioTarget,
		Kind:    types.EventSunset,
		Mask:    fullMask(ds),
		Factors: []types.Factor{types.FactorHCC, types.FactorAOD550},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"final_score", "quality_score", "penalty_score", "score_hcc", "score_aod550"}, b.FieldNames())
	_, ok := b.Fields["score_boundary"]
	assert.False(t, ok)
	assert.Equal(t, float32(1), cell(t, b, FieldFinalScore, 1, 0))
}

func TestEvaluateConfigErrors(t *testing.T) {
	e, _ := newTestEvaluator(t)

	t.Run("missing field", func(t *testing.T) {
		ds := scenarioDataset(t)
		delete(ds.Fields, types.FieldMCC)
		_, err := e.Evaluate(context.Background(), Request{Dataset: ds, Target: scenarioTarget, Kind: types.EventSunset, Mask: fullMask(ds)})
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	})

	t.Run("unknown factor", func(t *testing.T) {
		ds := scenarioDataset(t)
		_, err := e.Evaluate(context.Background(), Request{
			Dataset: ds, Target: scenarioTarget, Kind: types.EventSunset, Mask: fullMask(ds),
			Factors: []types.Factor{"score_rain"},
		})
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeValidationUnknownFactor, appErr.Code)
	})

	t.Run("mask shape", func(t *testing.T) {
		ds := scenarioDataset(t)
		_, err := e.Evaluate(context.Background(), Request{Dataset: ds, Target: scenarioTarget, Kind: types.EventSunset, Mask: grid.NewMask(3, 2)})
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeValidationShape, appErr.Code)
	})

	t.Run("nil dataset", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), Request{Target: scenarioTarget, Kind: types.EventSunset})
		require.Error(t, err)
	})

	t.Run("zero target", func(t *testing.T) {
		ds := scenarioDataset(t)
		_, err := e.Evaluate(context.Background(), Request{Dataset: ds, Kind: types.EventSunset, Mask: fullMask(ds)})
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeValidationTarget, appErr.Code)
	})
}

func TestEvaluateIsolatesFailingCell(t *testing.T) {
	e, metrics := newTestEvaluator(t, WithWorkers(3))
	inner := e.scoreFn
	e.scoreFn = func(model *ScoringModel, search *BoundarySearch, ds *grid.Dataset, lat, lon float64, at time.Time) ScoreSet {
		if lat == 31 && lon == 110 {
			panic("corrupt cell")
		}
		return inner(model, search, ds, lat, lon, at)
	}
	ds := scenarioDataset(t)

	b, err := e.Evaluate(context.Background(), Request{Dataset: ds, Target: scenarioTarget, Kind: types.EventSunset, Mask: fullMask(ds)})
	require.NoError(t, err)

	assert.Equal(t, 1, b.Stats.FailedCells)
	assert.Equal(t, 3, b.Stats.EvaluatedCells)
	assert.False(t, b.Evaluated.At(1, 0))
	assert.True(t, math.IsNaN(float64(cell(t, b, FieldFinalScore, 1, 0))))
	assert.Greater(t, cell(t, b, FieldFinalScore, 1, 1), float32(0))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CellFailures))
}

func TestEvaluateCancelled(t *testing.T) {
	e, _ := newTestEvaluator(t)
	ds := scenarioDataset(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Evaluate(ctx, Request{Dataset: ds, Target: scenarioTarget, Kind: types.EventSunset, Mask: fullMask(ds)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScorePoint(t *testing.T) {
	e, _ := newTestEvaluator(t)
	ds := scenarioDataset(t)

	s, err := e.ScorePoint(ds, 30, 111, scenarioTarget)
	require.NoError(t, err)
	assert.True(t, s.ClearSky)
	assert.Equal(t, 0.0, s.Final)

	s, err = e.ScorePoint(ds, 31, 111, scenarioTarget)
	require.NoError(t, err)
	assert.False(t, s.ClearSky)
	assert.Greater(t, s.BoundaryKm, 0.0)
	assert.Greater(t, s.Final, 0.0)

	_, err = e.ScorePoint(nil, 31, 111, scenarioTarget)
	require.Error(t, err)
}

func TestBundleAtBounds(t *testing.T) {
	e, _ := newTestEvaluator(t)
	ds := scenarioDataset(t)
	b, err := e.Evaluate(context.Background(), Request{Dataset: ds, Target: scenarioTarget, Kind: types.EventSunset, Mask: fullMask(ds)})
	require.NoError(t, err)

	_, err = b.At("score_rain", 0, 0)
	require.Error(t, err)
	_, err = b.At(FieldFinalScore, 2, 0)
	require.Error(t, err)
}
