package glow

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"chromasky/internal/grid"
	"chromasky/internal/types"
)

// Output field names that are always present in a bundle.
const (
	FieldFinalScore   = "final_score"
	FieldQualityScore = "quality_score"
	FieldPenaltyScore = "penalty_score"
)

// Stats summarizes one evaluation.
type Stats struct {
	ActiveCells    int     `json:"active_cells"`
	EvaluatedCells int     `json:"evaluated_cells"`
	FailedCells    int     `json:"failed_cells"`
	ClearSkyCells  int     `json:"clear_sky_cells"`
	MeanFinal      float64 `json:"mean_final_score"`
	MaxFinal       float64 `json:"max_final_score"`
}

// Finite returns a copy with NaN summaries replaced by zero, for encoders
// that cannot represent NaN.
func (s Stats) Finite() Stats {
	if math.IsNaN(s.MeanFinal) {
		s.MeanFinal = 0
	}
	if math.IsNaN(s.MaxFinal) {
		s.MaxFinal = 0
	}
	return s
}

// Bundle is the gridded result of one evaluation. Every field is row-major
// float32 on Grid. Cells that were not evaluated hold NaN and are false in
// Evaluated.
type Bundle struct {
	RunID      string
	Grid       grid.Grid
	Fields     map[string][]float32
	Evaluated  grid.Mask
	Factors    []types.Factor
	Kind       types.EventKind
	Target     time.Time
	ComputedAt time.Time
	ValidTime  time.Time
	Stats      Stats
}

// newBundle allocates NaN-filled fields for the factors.
func newBundle(g grid.Grid, factors []types.Factor) *Bundle {
	b := &Bundle{
		Grid:      g,
		Fields:    make(map[string][]float32),
		Evaluated: grid.NewMask(g.Rows(), g.Cols()),
		Factors:   append([]types.Factor(nil), factors...),
	}
	for _, name := range b.FieldNames() {
		vals := make([]float32, g.Size())
		for k := range vals {
			vals[k] = float32(math.NaN())
		}
		b.Fields[name] = vals
	}
	return b
}

// FieldNames lists the bundle fields in output order: the final, quality, and
// penalty scores followed by one score_<factor> per requested factor.
func (b *Bundle) FieldNames() []string {
	names := []string{FieldFinalScore, FieldQualityScore, FieldPenaltyScore}
	for _, f := range b.Factors {
		names = append(names, f.ScoreName())
	}
	return names
}

// At returns field name at cell (i, j).
func (b *Bundle) At(name string, i, j int) (float32, error) {
	vals, ok := b.Fields[name]
	if !ok {
		return 0, types.NewAppError(types.ErrCodeNotFoundField,
			fmt.Sprintf("bundle has no field %q", name), nil)
	}
	if i < 0 || i >= b.Grid.Rows() || j < 0 || j >= b.Grid.Cols() {
		return 0, types.NewAppError(types.ErrCodeValidationShape,
			fmt.Sprintf("cell (%d, %d) is outside the %dx%d grid", i, j, b.Grid.Rows(), b.Grid.Cols()), nil)
	}
	return vals[i*b.Grid.Cols()+j], nil
}

// set writes one cell's scores. Only the orchestrator calls it.
func (b *Bundle) set(c grid.Cell, s ScoreSet) {
	k := c.I*b.Grid.Cols() + c.J
	b.Fields[FieldFinalScore][k] = float32(s.Final)
	b.Fields[FieldQualityScore][k] = float32(s.Quality)
	b.Fields[FieldPenaltyScore][k] = float32(s.Penalty)
	for _, f := range b.Factors {
		b.Fields[f.ScoreName()][k] = float32(s.Get(f))
	}
	b.Evaluated.Set(c.I, c.J, true)
}

// summarize fills the mean and max of the evaluated final scores.
func (b *Bundle) summarize() {
	final := b.Fields[FieldFinalScore]
	vals := make([]float64, 0, b.Stats.EvaluatedCells)
	for _, c := range b.Evaluated.Active() {
		vals = append(vals, float64(final[c.I*b.Grid.Cols()+c.J]))
	}
	if len(vals) == 0 {
		b.Stats.MeanFinal, b.Stats.MaxFinal = math.NaN(), math.NaN()
		return
	}
	b.Stats.MeanFinal = stat.Mean(vals, nil)
	b.Stats.MaxFinal = floats.Max(vals)
}
