// Package glow scores how likely a sunrise or sunset glow is at each grid
// cell. For an active cell it searches along the solar azimuth for the edge of
// the high cloud deck, scores that distance together with the local cloud and
// aerosol state, and combines the sub-scores into a final index in [0, 1].
// Cells are evaluated concurrently and gathered into a Bundle.
package glow

import (
	"fmt"
	"math"

	"chromasky/internal/types"
)

// Default search and scoring parameters.
const (
	DefaultStepKm            = 10.0
	DefaultMaxDistanceKm     = 400.0
	DefaultOptimalDistanceKm = 350.0
	DefaultClearThreshold    = 0.1
)

// Params tunes the cloud boundary search and the distance score.
type Params struct {
	StepKm            float64
	MaxDistanceKm     float64
	OptimalDistanceKm float64
	ClearThreshold    float64
}

// DefaultParams returns the standard parameter set.
func DefaultParams() Params {
	return Params{
		StepKm:            DefaultStepKm,
		MaxDistanceKm:     DefaultMaxDistanceKm,
		OptimalDistanceKm: DefaultOptimalDistanceKm,
		ClearThreshold:    DefaultClearThreshold,
	}
}

// Validate checks that the parameters describe a usable search and score.
func (p Params) Validate() error {
	bad := func(msg string) error {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationParams, msg, nil,
			map[string]any{
				"step_km":             p.StepKm,
				"max_distance_km":     p.MaxDistanceKm,
				"optimal_distance_km": p.OptimalDistanceKm,
				"clear_threshold":     p.ClearThreshold,
			})
	}
	for _, v := range []float64{p.StepKm, p.MaxDistanceKm, p.OptimalDistanceKm, p.ClearThreshold} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return bad("parameters must be finite")
		}
	}
	switch {
	case p.StepKm <= 0:
		return bad(fmt.Sprintf("step must be positive, got %v", p.StepKm))
	case p.MaxDistanceKm < p.StepKm:
		return bad("max distance must be at least one step")
	case p.OptimalDistanceKm <= 0 || p.OptimalDistanceKm >= p.MaxDistanceKm:
		return bad("optimal distance must lie strictly between 0 and the max distance")
	case p.ClearThreshold <= 0 || p.ClearThreshold > 1:
		return bad("clear threshold must lie in (0, 1]")
	}
	return nil
}
