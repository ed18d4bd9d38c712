package glow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chromasky/internal/astro"
	"chromasky/internal/grid"
	"chromasky/internal/observability"
	"chromasky/internal/parallel"
	"chromasky/internal/types"
)

// Request describes one grid evaluation.
type Request struct {
	Dataset *grid.Dataset
	Target  time.Time
	Kind    types.EventKind
	Mask    grid.Mask

	// Factors overrides the model's factor selection when non-empty.
	Factors []types.Factor
}

// Evaluator scores every active cell of a mask and assembles a Bundle.
type Evaluator struct {
	model   *ScoringModel
	solar   *astro.SolarService
	sampler *grid.Sampler
	metrics *observability.Metrics
	logger  *slog.Logger
	workers int
	clock   types.Clock

	// scoreFn is the per-cell pipeline; replaced in tests to inject failures.
	scoreFn func(model *ScoringModel, search *BoundarySearch, ds *grid.Dataset, lat, lon float64, at time.Time) ScoreSet
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithWorkers sets the worker pool size (<= 0 means one per CPU).
func WithWorkers(n int) Option {
	return func(e *Evaluator) { e.workers = n }
}

// WithClock sets the clock used for the bundle's computation time.
func WithClock(c types.Clock) Option {
	return func(e *Evaluator) { e.clock = c }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(
	model *ScoringModel,
	solar *astro.SolarService,
	sampler *grid.Sampler,
	metrics *observability.Metrics,
	logger *slog.Logger,
	opts ...Option,
) *Evaluator {
	e := &Evaluator{
		model:   model,
		solar:   solar,
		sampler: sampler,
		metrics: metrics,
		logger:  logger,
		clock:   types.RealClock{},
	}
	e.scoreFn = e.scorePoint
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// cellResult is what one task hands back to the orchestrator.
type cellResult struct {
	cell   grid.Cell
	scores ScoreSet
}

// Evaluate scores the active cells of req.Mask.
//
// Missing input fields, an unknown factor, or a mask that does not match the
// dataset grid are configuration errors. A failing cell is logged and left
// unevaluated. With no active cells the bundle is all NaN and a warning is
// logged. Only cancellation of ctx aborts a started evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Bundle, error) {
	model := e.model
	if len(req.Factors) > 0 {
		m, err := e.model.Subset(req.Factors)
		if err != nil {
			return nil, err
		}
		model = m
	}

	if req.Dataset == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "no input dataset", nil)
	}
	if err := req.Dataset.Require(model.RequiredFields()...); err != nil {
		return nil, err
	}
	if rows, cols := req.Mask.Dims(); rows != req.Dataset.Grid.Rows() || cols != req.Dataset.Grid.Cols() {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationShape,
			fmt.Sprintf("mask is %dx%d, dataset grid is %dx%d", rows, cols,
				req.Dataset.Grid.Rows(), req.Dataset.Grid.Cols()), nil, nil)
	}
	if req.Kind != types.EventSunrise && req.Kind != types.EventSunset {
		return nil, types.NewAppError(types.ErrCodeValidationEventKind,
			fmt.Sprintf("unknown event kind %q", req.Kind), nil)
	}
	if req.Target.IsZero() {
		return nil, types.NewAppError(types.ErrCodeValidationTarget, "target instant is not set", nil)
	}

	start := time.Now()
	target := req.Target.UTC()
	ds := req.Dataset
	search := NewBoundarySearch(model.Params(), e.sampler, e.logger)

	bundle := newBundle(ds.Grid, model.Factors())
	bundle.RunID = uuid.NewString()
	bundle.Kind = req.Kind
	bundle.Target = target
	bundle.ValidTime = ds.ValidTime.UTC()

	active := req.Mask.Active()
	bundle.Stats.ActiveCells = len(active)
	e.metrics.ActiveCells.Set(float64(len(active)))

	if len(active) == 0 {
		e.logger.Warn("no active cells to evaluate",
			"kind", string(req.Kind),
			"target", target.Format(time.RFC3339),
		)
		bundle.ComputedAt = e.clock.Now().UTC()
		bundle.summarize()
		return bundle, nil
	}

	outcomes, err := parallel.Map(ctx, e.workers, len(active), func(_ context.Context, k int) (cellResult, error) {
		c := active[k]
		scores := e.scoreFn(model, search, ds, ds.Grid.Lats[c.I], ds.Grid.Lons[c.J], target)
		return cellResult{cell: c, scores: scores}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating %d cells: %w", len(active), err)
	}

	// Results are written serially after every task has finished.
	for _, o := range outcomes {
		c := active[o.Index]
		if o.Err != nil {
			bundle.Stats.FailedCells++
			e.metrics.CellFailures.Inc()
			e.logger.Warn("cell evaluation failed",
				"lat", ds.Grid.Lats[c.I],
				"lon", ds.Grid.Lons[c.J],
				"error", o.Err,
			)
			continue
		}
		bundle.set(o.Value.cell, o.Value.scores)
		bundle.Stats.EvaluatedCells++
		if o.Value.scores.ClearSky {
			bundle.Stats.ClearSkyCells++
		}
	}

	e.metrics.CellsEvaluated.Add(float64(bundle.Stats.EvaluatedCells))
	e.metrics.ShortCircuits.Add(float64(bundle.Stats.ClearSkyCells))
	e.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	bundle.ComputedAt = e.clock.Now().UTC()
	bundle.summarize()

	e.logger.Info("grid evaluation complete",
		"run_id", bundle.RunID,
		"kind", string(req.Kind),
		"target", target.Format(time.RFC3339),
		"active_cells", bundle.Stats.ActiveCells,
		"evaluated_cells", bundle.Stats.EvaluatedCells,
		"failed_cells", bundle.Stats.FailedCells,
		"clear_sky_cells", bundle.Stats.ClearSkyCells,
		"mean_final_score", bundle.Stats.MeanFinal,
		"max_final_score", bundle.Stats.MaxFinal,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return bundle, nil
}

// ScorePoint scores a single location against the dataset at the given
// instant using the configured model.
func (e *Evaluator) ScorePoint(ds *grid.Dataset, lat, lon float64, at time.Time) (ScoreSet, error) {
	if ds == nil {
		return ScoreSet{}, types.NewAppError(types.ErrCodeValidationMissingField, "no input dataset", nil)
	}
	if err := ds.Require(e.model.RequiredFields()...); err != nil {
		return ScoreSet{}, err
	}
	search := NewBoundarySearch(e.model.Params(), e.sampler, e.logger)
	return e.scorePoint(e.model, search, ds, lat, lon, at.UTC()), nil
}

// scorePoint runs the point pipeline. It reads shared inputs and returns its
// result without touching any shared state.
func (e *Evaluator) scorePoint(model *ScoringModel, search *BoundarySearch, ds *grid.Dataset, lat, lon float64, at time.Time) ScoreSet {
	hcc, _ := ds.Field(types.FieldHCC)
	in := PointInputs{HCC: e.sampler.Sample(hcc, lat, lon)}

	if model.Has(types.FactorMCC) {
		f, _ := ds.Field(types.FieldMCC)
		in.MCC = e.sampler.Sample(f, lat, lon)
	}
	if model.Has(types.FactorLCC) {
		f, _ := ds.Field(types.FieldLCC)
		in.LCC = e.sampler.Sample(f, lat, lon)
	}
	if model.Has(types.FactorAOD550) {
		f, _ := ds.Field(types.FieldAOD550)
		in.AOD550 = e.sampler.Sample(f, lat, lon)
	}

	if !model.IsClearSky(in.HCC) && model.Has(types.FactorBoundary) {
		_, azimuth := e.solar.Position(lat, lon, at)
		in.BoundaryKm = search.Find(hcc, lat, lon, azimuth)
	}
	return model.Score(in)
}

// Model returns the evaluator's configured scoring model.
func (e *Evaluator) Model() *ScoringModel { return e.model }

// RequiredFields lists the input fields the configured model reads.
func (e *Evaluator) RequiredFields() []string { return e.model.RequiredFields() }
