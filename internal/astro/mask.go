package astro

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chromasky/internal/grid"
	"chromasky/internal/parallel"
	"chromasky/internal/types"
)

// MaskBuilder computes event window masks over a grid.
type MaskBuilder struct {
	solar   *SolarService
	workers int
	logger  *slog.Logger
}

// NewMaskBuilder creates a MaskBuilder using up to workers goroutines
// (<= 0 means one per CPU).
func NewMaskBuilder(solar *SolarService, workers int, logger *slog.Logger) *MaskBuilder {
	return &MaskBuilder{solar: solar, workers: workers, logger: logger}
}

// Build marks every cell whose event of the given kind, on the UTC date of
// target, exists and lies within window of target. Cells are independent; the
// result does not depend on the worker count. Widening the window never clears
// a cell.
func (b *MaskBuilder) Build(ctx context.Context, g grid.Grid, target time.Time, kind types.EventKind, window time.Duration) (grid.Mask, error) {
	if kind != types.EventSunrise && kind != types.EventSunset {
		return grid.Mask{}, types.NewAppError(types.ErrCodeValidationEventKind,
			fmt.Sprintf("unknown event kind %q", kind), nil)
	}
	if window < 0 {
		return grid.Mask{}, types.NewAppError(types.ErrCodeValidationParams,
			fmt.Sprintf("event window must not be negative, got %s", window), nil)
	}

	target = target.UTC()
	date := startOfUTCDay(target)
	cols := g.Cols()
	start := time.Now()

	outcomes, err := parallel.Map(ctx, b.workers, g.Size(), func(_ context.Context, k int) (bool, error) {
		lat, lon := g.Lats[k/cols], g.Lons[k%cols]
		ev, ok := b.solar.EventInstant(lat, lon, date, kind)
		if !ok {
			return false, nil
		}
		return absDuration(ev.Sub(target)) <= window, nil
	})
	if err != nil {
		return grid.Mask{}, fmt.Errorf("building %s mask: %w", kind, err)
	}

	mask := grid.NewMask(g.Rows(), cols)
	for _, o := range outcomes {
		if o.Err != nil {
			b.logger.Warn("event mask cell failed",
				"lat", g.Lats[o.Index/cols], "lon", g.Lons[o.Index%cols], "error", o.Err)
			continue
		}
		if o.Value {
			mask.Set(o.Index/cols, o.Index%cols, true)
		}
	}

	b.logger.Info("event mask built",
		"kind", string(kind),
		"target", target.Format(time.RFC3339),
		"window", window.String(),
		"active_cells", mask.Count(),
		"total_cells", g.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return mask, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
