package grid

import (
	"fmt"

	"chromasky/internal/types"
)

// Cell addresses one grid cell by row and column.
type Cell struct {
	I, J int
}

// Mask is a rows × cols boolean grid.
type Mask struct {
	rows, cols int
	cells      []bool
}

// NewMask returns an all-false mask.
func NewMask(rows, cols int) Mask {
	return Mask{rows: rows, cols: cols, cells: make([]bool, rows*cols)}
}

// Dims returns the mask shape.
func (m Mask) Dims() (rows, cols int) { return m.rows, m.cols }

// At reports whether cell (i, j) is set.
func (m Mask) At(i, j int) bool { return m.cells[i*m.cols+j] }

// Set assigns cell (i, j).
func (m Mask) Set(i, j int, v bool) { m.cells[i*m.cols+j] = v }

// Count returns the number of set cells.
func (m Mask) Count() int {
	n := 0
	for _, v := range m.cells {
		if v {
			n++
		}
	}
	return n
}

// Active lists the set cells in row-major order.
func (m Mask) Active() []Cell {
	out := make([]Cell, 0, m.Count())
	for k, v := range m.cells {
		if v {
			out = append(out, Cell{I: k / m.cols, J: k % m.cols})
		}
	}
	return out
}

// And returns the cell-wise intersection of two masks of equal shape.
func (m Mask) And(o Mask) (Mask, error) {
	if m.rows != o.rows || m.cols != o.cols {
		return Mask{}, types.NewAppError(types.ErrCodeValidationShape,
			fmt.Sprintf("mask shapes differ: %dx%d vs %dx%d", m.rows, m.cols, o.rows, o.cols), nil)
	}
	out := NewMask(m.rows, m.cols)
	for k := range m.cells {
		out.cells[k] = m.cells[k] && o.cells[k]
	}
	return out, nil
}

// Bounds is a latitude/longitude box in degrees, edges inclusive.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

// Contains reports whether the point lies inside the box.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat <= b.North && lat >= b.South && lon >= b.West && lon <= b.East
}

// RegionMask marks the cells of g that fall inside b.
func RegionMask(g Grid, b Bounds) Mask {
	m := NewMask(g.Rows(), g.Cols())
	for i, lat := range g.Lats {
		for j, lon := range g.Lons {
			if b.Contains(lat, lon) {
				m.Set(i, j, true)
			}
		}
	}
	return m
}
