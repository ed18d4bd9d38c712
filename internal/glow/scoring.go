package glow

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"chromasky/internal/types"
)

// Weights assigns the relative importance of each quality factor.
type Weights map[types.Factor]float64

// DefaultWeights returns the standard quality weights.
func DefaultWeights() Weights {
	return Weights{
		types.FactorBoundary: 0.5,
		types.FactorHCC:      0.3,
		types.FactorMCC:      0.2,
	}
}

// ScoreBoundary scores a cloud boundary distance with a triangle that is 0 at
// 0 km, 1 at optimalKm and 0 again at maxKm and beyond.
func ScoreBoundary(distanceKm, optimalKm, maxKm float64) float64 {
	switch {
	case math.IsNaN(distanceKm) || distanceKm <= 0 || distanceKm >= maxKm:
		return 0
	case distanceKm <= optimalKm:
		return distanceKm / optimalKm
	default:
		return math.Max(0, 1-(distanceKm-optimalKm)/(maxKm-optimalKm))
	}
}

// ScoreHCC scores the local high cloud cover fraction.
func ScoreHCC(v float64) float64 {
	switch {
	case v >= 0.4 && v <= 0.8:
		return 1.0
	case v > 0.8 && v <= 1.0:
		return 0.7
	case v >= 0.1 && v < 0.4:
		return 0.6
	case v >= 0 && v < 0.1:
		return 0.1
	}
	return 0
}

// ScoreMCC scores the local medium cloud cover fraction.
func ScoreMCC(v float64) float64 {
	switch {
	case v >= 0.2 && v <= 0.5:
		return 1.0
	case v > 0.5 && v <= 0.8:
		return 0.7
	case v > 0.8 && v <= 1.0:
		return 0.3
	case v >= 0 && v < 0.2:
		return 0.2
	}
	return 0
}

// ScoreLCC scores the local low cloud cover fraction. Low cloud blocks the
// view of the glow, so the score falls as cover rises.
func ScoreLCC(v float64) float64 {
	switch {
	case v >= 0 && v <= 0.1:
		return 1.0
	case v > 0.1 && v <= 0.3:
		return 0.6
	case v > 0.3 && v <= 0.5:
		return 0.1
	}
	return 0
}

// ScoreAOD550 scores the aerosol optical depth at 550 nm.
func ScoreAOD550(v float64) float64 {
	switch {
	case v >= 0 && v < 0.3:
		return 1.0
	case v >= 0.3 && v < 0.6:
		return 0.5
	}
	return 0
}

// PointInputs are the sampled inputs for one cell.
type PointInputs struct {
	HCC        float64
	MCC        float64
	LCC        float64
	AOD550     float64
	BoundaryKm float64
}

// ScoreSet holds every score computed for one cell. Sub-scores for factors
// that were not requested stay zero.
type ScoreSet struct {
	Final   float64
	Quality float64
	Penalty float64

	Boundary float64
	HCC      float64
	MCC      float64
	LCC      float64
	AOD550   float64

	BoundaryKm float64
	ClearSky   bool
}

// Get returns the sub-score for f.
func (s ScoreSet) Get(f types.Factor) float64 {
	switch f {
	case types.FactorBoundary:
		return s.Boundary
	case types.FactorHCC:
		return s.HCC
	case types.FactorMCC:
		return s.MCC
	case types.FactorLCC:
		return s.LCC
	case types.FactorAOD550:
		return s.AOD550
	}
	return 0
}

// ScoringModel combines sub-scores into the final index. Quality factors are
// averaged with normalized weights; penalty factors multiply the result.
type ScoringModel struct {
	params  Params
	factors []types.Factor
	weights map[types.Factor]float64
	raw     Weights
	quality []types.Factor
	penalty []types.Factor
	logger  *slog.Logger
}

// NewScoringModel validates the factor selection and weights. Weights for the
// requested quality factors are normalized to sum to 1; a correction is
// logged rather than rejected. Unknown factors, missing or negative weights,
// and a zero total weight fail fast.
func NewScoringModel(p Params, factors []types.Factor, w Weights, logger *slog.Logger) (*ScoringModel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	names := make([]string, len(factors))
	for k, f := range factors {
		names[k] = string(f)
	}
	canonical, err := types.ParseFactors(names)
	if err != nil {
		return nil, err
	}

	m := &ScoringModel{
		params:  p,
		factors: canonical,
		weights: make(map[types.Factor]float64),
		raw:     make(Weights, len(w)),
		logger:  logger,
	}
	for f, v := range w {
		m.raw[f] = v
	}
	for _, f := range canonical {
		if f.IsQuality() {
			m.quality = append(m.quality, f)
		} else {
			m.penalty = append(m.penalty, f)
		}
	}

	for f := range w {
		if !f.IsQuality() {
			logger.Warn("ignoring weight for non-quality factor", "factor", string(f))
		}
	}

	if len(m.quality) == 0 {
		return m, nil
	}

	raw := make([]float64, len(m.quality))
	for k, f := range m.quality {
		v, ok := w[f]
		if !ok {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationWeights,
				fmt.Sprintf("no weight configured for factor %s", f), nil,
				map[string]any{"factor": string(f)})
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationWeights,
				fmt.Sprintf("weight for factor %s must be a non-negative number, got %v", f, v), nil,
				map[string]any{"factor": string(f)})
		}
		raw[k] = v
	}

	total := floats.Sum(raw)
	if total <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationWeights, "quality weights sum to zero", nil)
	}

	normalized := append([]float64(nil), raw...)
	floats.Scale(1/total, normalized)
	if math.Abs(total-1) > 1e-9 {
		logger.Warn("quality weights normalized",
			"factors", factorNames(m.quality),
			"original", raw,
			"normalized", normalized,
		)
	}
	for k, f := range m.quality {
		m.weights[f] = normalized[k]
	}
	return m, nil
}

// Factors returns the requested factors in canonical order.
func (m *ScoringModel) Factors() []types.Factor {
	return append([]types.Factor(nil), m.factors...)
}

// Has reports whether f was requested.
func (m *ScoringModel) Has(f types.Factor) bool {
	for _, x := range m.factors {
		if x == f {
			return true
		}
	}
	return false
}

// Weight returns the normalized weight of a quality factor, or 0.
func (m *ScoringModel) Weight(f types.Factor) float64 {
	return m.weights[f]
}

// Params returns the model's search and score parameters.
func (m *ScoringModel) Params() Params { return m.params }

// IsClearSky reports whether the local high cloud cover is below the clear
// threshold, which forces the final score to zero.
func (m *ScoringModel) IsClearSky(localHCC float64) bool {
	return localHCC < m.params.ClearThreshold
}

// RequiredFields returns the input field names needed by the selection. hcc
// is always required because it drives the clear-sky check.
func (m *ScoringModel) RequiredFields() []string {
	out := []string{types.FieldHCC}
	for _, f := range m.factors {
		name := f.InputField()
		if name != types.FieldHCC {
			out = append(out, name)
		}
	}
	return out
}

// Subset returns a model restricted to the given factors, reusing this
// model's parameters and configured weights.
func (m *ScoringModel) Subset(factors []types.Factor) (*ScoringModel, error) {
	return NewScoringModel(m.params, factors, m.raw, m.logger)
}

// Score computes every requested sub-score and the final index for one cell.
// When the local high cloud cover is below the clear threshold the final,
// boundary, and hcc scores are zero; the remaining sub-scores are still
// computed for diagnostics.
func (m *ScoringModel) Score(in PointInputs) ScoreSet {
	s := ScoreSet{BoundaryKm: in.BoundaryKm, ClearSky: m.IsClearSky(in.HCC)}

	if m.Has(types.FactorMCC) {
		s.MCC = ScoreMCC(in.MCC)
	}
	if m.Has(types.FactorLCC) {
		s.LCC = ScoreLCC(in.LCC)
	}
	if m.Has(types.FactorAOD550) {
		s.AOD550 = ScoreAOD550(in.AOD550)
	}
	if s.ClearSky {
		s.BoundaryKm = 0
	} else {
		if m.Has(types.FactorBoundary) {
			s.Boundary = ScoreBoundary(in.BoundaryKm, m.params.OptimalDistanceKm, m.params.MaxDistanceKm)
		}
		if m.Has(types.FactorHCC) {
			s.HCC = ScoreHCC(in.HCC)
		}
	}

	s.Quality = 1
	if len(m.quality) > 0 {
		s.Quality = 0
		for _, f := range m.quality {
			s.Quality += m.weights[f] * s.Get(f)
		}
	}
	s.Penalty = 1
	for _, f := range m.penalty {
		s.Penalty *= s.Get(f)
	}

	if s.ClearSky {
		s.Final = 0
	} else {
		s.Final = s.Quality * s.Penalty
	}
	return s
}

func factorNames(fs []types.Factor) []string {
	out := make([]string, len(fs))
	for k, f := range fs {
		out[k] = string(f)
	}
	return out
}
