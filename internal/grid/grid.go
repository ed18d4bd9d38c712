// Package grid holds the gridded data model shared by the glow engine: the
// rectilinear latitude/longitude Grid, named scalar Fields bound to a grid and
// a valid time, the Dataset of input fields for one instant, boolean cell
// Masks, and the bilinear Sampler used to read fields at arbitrary points.
//
// Every field carries its own axes. There is no package-level grid template;
// result grids are always taken from the inputs.
package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"chromasky/internal/types"
)

// Grid is a rectilinear latitude/longitude grid. Lats indexes rows and Lons
// indexes columns. Each axis is strictly monotonic, ascending or descending.
type Grid struct {
	Lats []float64 `json:"lat"`
	Lons []float64 `json:"lon"`
}

// NewGrid validates the axes and returns a Grid that owns copies of them.
func NewGrid(lats, lons []float64) (Grid, error) {
	if err := validateAxis("lat", lats, -90, 90); err != nil {
		return Grid{}, err
	}
	if err := validateAxis("lon", lons, -360, 360); err != nil {
		return Grid{}, err
	}
	return Grid{
		Lats: append([]float64(nil), lats...),
		Lons: append([]float64(nil), lons...),
	}, nil
}

// Rows returns the number of latitude rows.
func (g Grid) Rows() int { return len(g.Lats) }

// Cols returns the number of longitude columns.
func (g Grid) Cols() int { return len(g.Lons) }

// Size returns the number of cells.
func (g Grid) Size() int { return len(g.Lats) * len(g.Lons) }

// Equal reports whether both grids have identical axes.
func (g Grid) Equal(o Grid) bool {
	return len(g.Lats) == len(o.Lats) && len(g.Lons) == len(o.Lons) &&
		floats.Equal(g.Lats, o.Lats) && floats.Equal(g.Lons, o.Lons)
}

// Validate re-checks the axes of a grid that was not built with NewGrid,
// such as one decoded from storage.
func (g Grid) Validate() error {
	_, err := NewGrid(g.Lats, g.Lons)
	return err
}

func validateAxis(name string, axis []float64, lo, hi float64) error {
	if len(axis) == 0 {
		return types.NewAppError(types.ErrCodeValidationGrid,
			fmt.Sprintf("%s axis is empty", name), nil)
	}
	for k, v := range axis {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationGrid,
				fmt.Sprintf("%s axis value %v out of range", name, v), nil,
				map[string]any{"axis": name, "index": k})
		}
	}
	if len(axis) < 2 {
		return nil
	}
	ascending := axis[1] > axis[0]
	for k := 1; k < len(axis); k++ {
		if (ascending && axis[k] <= axis[k-1]) || (!ascending && axis[k] >= axis[k-1]) {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationGrid,
				fmt.Sprintf("%s axis is not strictly monotonic", name), nil,
				map[string]any{"axis": name, "index": k})
		}
	}
	return nil
}
