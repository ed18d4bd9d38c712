package glow

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"chromasky/internal/geodesy"
	"chromasky/internal/grid"
)

// BoundarySearch finds how far along a bearing the high cloud deck extends.
type BoundarySearch struct {
	params    Params
	sampler   *grid.Sampler
	logger    *slog.Logger
	distances []float64
}

// NewBoundarySearch precomputes the ray sample distances step, 2·step, …, max.
func NewBoundarySearch(p Params, sampler *grid.Sampler, logger *slog.Logger) *BoundarySearch {
	return &BoundarySearch{
		params:    p,
		sampler:   sampler,
		logger:    logger,
		distances: rayDistances(p.StepKm, p.MaxDistanceKm),
	}
}

// Distances returns a copy of the sample distances in km.
func (b *BoundarySearch) Distances() []float64 {
	return append([]float64(nil), b.distances...)
}

// Find returns the first sample distance along the bearing at which hcc drops
// below the clear threshold, or the max distance if it never does. The whole
// ray is projected and sampled in one batch; if the batch cannot be sampled
// the first distance is returned.
func (b *BoundarySearch) Find(hcc *grid.Field, lat, lon, bearingDeg float64) float64 {
	lats, lons := geodesy.Destination(lat, lon, bearingDeg, b.distances)
	values, err := b.sampler.SampleMany(hcc, lats, lons)
	if err != nil {
		b.logger.Debug("ray sample failed", "lat", lat, "lon", lon, "bearing", bearingDeg, "error", err)
		return b.distances[0]
	}
	for k, v := range values {
		if v < b.params.ClearThreshold {
			return b.distances[k]
		}
	}
	return b.params.MaxDistanceKm
}

// rayDistances returns floor(max/step) evenly spaced distances ending at max.
func rayDistances(step, maxKm float64) []float64 {
	n := int(math.Floor(maxKm/step + 1e-9))
	if n <= 1 {
		return []float64{maxKm}
	}
	return floats.Span(make([]float64, n), step, maxKm)
}
