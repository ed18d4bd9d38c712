// Package runner turns a job into glow bundles. For every target instant it
// loads the matching input dataset, builds the event window mask restricted to
// the calculation region, evaluates the grid, persists the bundle, and reports
// the result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chromasky/internal/glow"
	"chromasky/internal/grid"
	"chromasky/internal/observability"
	"chromasky/internal/targets"
	"chromasky/internal/types"
)

// DatasetStore loads input datasets by valid time.
type DatasetStore interface {
	LoadDataset(ctx context.Context, validTime time.Time, names ...string) (*grid.Dataset, error)
}

// BundleStore persists result bundles and returns where each was written.
type BundleStore interface {
	SaveBundle(ctx context.Context, name string, b *glow.Bundle) (string, error)
}

// MaskBuilder builds event window masks.
type MaskBuilder interface {
	Build(ctx context.Context, g grid.Grid, target time.Time, kind types.EventKind, window time.Duration) (grid.Mask, error)
}

// GridEvaluator scores a masked grid.
type GridEvaluator interface {
	Evaluate(ctx context.Context, req glow.Request) (*glow.Bundle, error)
	RequiredFields() []string
}

// MetricPublisher emits run heartbeats and per-bundle statistics.
type MetricPublisher interface {
	// PublishRunCompleted emits a heartbeat with the number of bundles written.
	PublishRunCompleted(ctx context.Context, written, skipped int) error

	// PublishBundleStats emits the evaluation statistics of one bundle.
	PublishBundleStats(ctx context.Context, kind types.EventKind, stats glow.Stats) error
}

// Notifier announces written bundles to downstream consumers.
type Notifier interface {
	NotifyBundleWritten(ctx context.Context, n BundleNotice) error
}

// BundleNotice describes one written bundle.
type BundleNotice struct {
	Name       string          `json:"name"`
	RunID      string          `json:"run_id"`
	Kind       types.EventKind `json:"kind"`
	Target     time.Time       `json:"target"`
	ValidTime  time.Time       `json:"valid_time"`
	ComputedAt time.Time       `json:"computed_at"`
	Location   string          `json:"location"`
	Stats      glow.Stats      `json:"stats"`
}

// Config holds the job defaults.
type Config struct {
	Intents []string
	Window  time.Duration
	Region  grid.Bounds
}

// Job is one invocation. Empty fields fall back to the configured intents and
// the current time.
type Job struct {
	Intents []string  `json:"intents,omitempty"`
	Now     time.Time `json:"now,omitempty"`
}

// Summary reports what a job produced.
type Summary struct {
	Targets int      `json:"targets"`
	Written int      `json:"written"`
	Skipped int      `json:"skipped"`
	Bundles []string `json:"bundles,omitempty"`
}

// Skip reasons, used as the targets_skipped_total label.
const (
	reasonNoDataset     = "no_dataset"
	reasonNoActiveCells = "no_active_cells"
	reasonError         = "error"
)

// Runner orchestrates jobs. Metrics and Notifier may be nil.
type Runner struct {
	Config    Config
	Log       *slog.Logger
	Targets   *targets.Expander
	Inputs    DatasetStore
	Outputs   BundleStore
	Masks     MaskBuilder
	Evaluator GridEvaluator
	Metrics   MetricPublisher
	Notifier  Notifier
	Prom      *observability.Metrics
	Clock     types.Clock
}

// Run expands the job's intentions and processes every target in name order.
//
// A target without an input dataset, or whose mask has no active cell inside
// the region, is skipped with a warning. Other per-target failures are logged
// and skipped. Validation errors abort the job since every later target would
// fail the same way. Publishing and notification failures never fail the job.
func (r *Runner) Run(ctx context.Context, job Job) (Summary, error) {
	now := job.Now
	if now.IsZero() {
		now = r.Clock.Now()
	}
	intents := job.Intents
	if len(intents) == 0 {
		intents = r.Config.Intents
	}

	list, err := r.Targets.Expand(now, intents)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Targets: len(list)}
	if len(list) == 0 {
		r.Log.WarnContext(ctx, "no targets to evaluate", "intents", intents)
		return summary, nil
	}

	r.Log.InfoContext(ctx, "job started",
		"now", now.UTC().Format(time.RFC3339),
		"targets", len(list),
	)

	for _, t := range list {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		dir, err := r.ProcessTarget(ctx, t)
		switch {
		case err == nil:
			summary.Written++
			summary.Bundles = append(summary.Bundles, dir)
		case errors.Is(err, errNoActiveCells):
			summary.Skipped++
			r.skip(ctx, t, reasonNoActiveCells, err)
		case isNotFound(err):
			summary.Skipped++
			r.skip(ctx, t, reasonNoDataset, err)
		case isValidation(err) || ctx.Err() != nil:
			return summary, fmt.Errorf("target %s: %w", t.Name, err)
		default:
			summary.Skipped++
			r.skip(ctx, t, reasonError, err)
		}
	}

	if r.Metrics != nil {
		if err := r.Metrics.PublishRunCompleted(ctx, summary.Written, summary.Skipped); err != nil {
			r.Log.ErrorContext(ctx, "failed to publish run heartbeat", "error", err)
		}
	}

	r.Log.InfoContext(ctx, "job complete",
		"targets", summary.Targets,
		"written", summary.Written,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

var errNoActiveCells = errors.New("no active cells in the event window and region")

// ProcessTarget evaluates one target and returns the bundle location. The input
// dataset is the one valid at the start of the target's UTC hour.
func (r *Runner) ProcessTarget(ctx context.Context, t targets.Target) (string, error) {
	validTime := t.UTC.Truncate(time.Hour)

	ds, err := r.Inputs.LoadDataset(ctx, validTime, r.Evaluator.RequiredFields()...)
	if err != nil {
		return "", err
	}

	start := time.Now()
	eventMask, err := r.Masks.Build(ctx, ds.Grid, t.UTC, t.Kind, r.Config.Window)
	if err != nil {
		return "", err
	}
	r.Prom.MaskDuration.Observe(time.Since(start).Seconds())

	regionMask := grid.RegionMask(ds.Grid, r.Config.Region)
	active, err := eventMask.And(regionMask)
	if err != nil {
		return "", err
	}

	r.Log.InfoContext(ctx, "masks built",
		"target", t.Name,
		"event_cells", eventMask.Count(),
		"region_cells", regionMask.Count(),
		"active_cells", active.Count(),
	)
	if active.Count() == 0 {
		return "", errNoActiveCells
	}

	bundle, err := r.Evaluator.Evaluate(ctx, glow.Request{
		Dataset: ds,
		Target:  t.UTC,
		Kind:    t.Kind,
		Mask:    active,
	})
	if err != nil {
		return "", err
	}

	dir, err := r.Outputs.SaveBundle(ctx, t.Name, bundle)
	if err != nil {
		return "", err
	}
	r.Prom.BundlesWritten.Inc()

	r.report(ctx, t, dir, bundle)
	return dir, nil
}

// report publishes stats and the bundle notice. Failures are logged only.
func (r *Runner) report(ctx context.Context, t targets.Target, dir string, b *glow.Bundle) {
	if r.Metrics != nil {
		if err := r.Metrics.PublishBundleStats(ctx, t.Kind, b.Stats); err != nil {
			r.Log.ErrorContext(ctx, "failed to publish bundle stats",
				"target", t.Name,
				"error", err,
			)
		}
	}
	if r.Notifier != nil {
		notice := BundleNotice{
			Name:       t.Name,
			RunID:      b.RunID,
			Kind:       b.Kind,
			Target:     b.Target,
			ValidTime:  b.ValidTime,
			ComputedAt: b.ComputedAt,
			Location:   dir,
			Stats:      b.Stats.Finite(),
		}
		if err := r.Notifier.NotifyBundleWritten(ctx, notice); err != nil {
			r.Log.ErrorContext(ctx, "failed to send bundle notice",
				"target", t.Name,
				"run_id", b.RunID,
				"error", err,
			)
		}
	}
}

func (r *Runner) skip(ctx context.Context, t targets.Target, reason string, err error) {
	r.Prom.TargetsSkipped.WithLabelValues(reason).Inc()
	attrs := []any{
		"target", t.Name,
		"target_utc", t.UTC.Format(time.RFC3339),
		"reason", reason,
		"error", err,
	}
	if reason == reasonError {
		r.Log.ErrorContext(ctx, "target failed, skipping", attrs...)
		return
	}
	r.Log.WarnContext(ctx, "target skipped", attrs...)
}

func isNotFound(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == types.ErrCodeNotFoundDataset || appErr.Code == types.ErrCodeNotFoundField
}

func isValidation(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code.IsValidation()
}
