package grid

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"chromasky/internal/types"
)

// Field is a named 2-D scalar field on a Grid at one valid time.
// Values has Grid.Rows() rows and Grid.Cols() columns.
type Field struct {
	Name      string
	Grid      Grid
	ValidTime time.Time
	Values    *mat.Dense
}

// NewField builds a Field from row-major values. The slice is copied.
func NewField(name string, g Grid, validTime time.Time, values []float64) (*Field, error) {
	if g.Size() == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationGrid,
			fmt.Sprintf("field %s has an empty grid", name), nil)
	}
	if len(values) != g.Size() {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationShape,
			fmt.Sprintf("field %s has %d values, grid needs %d", name, len(values), g.Size()), nil,
			map[string]any{"field": name, "rows": g.Rows(), "cols": g.Cols()})
	}
	data := append([]float64(nil), values...)
	return &Field{
		Name:      name,
		Grid:      g,
		ValidTime: validTime.UTC(),
		Values:    mat.NewDense(g.Rows(), g.Cols(), data),
	}, nil
}

// NewFieldFromRows builds a Field from a rows × cols nested slice.
func NewFieldFromRows(name string, g Grid, validTime time.Time, rows [][]float64) (*Field, error) {
	if len(rows) != g.Rows() {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationShape,
			fmt.Sprintf("field %s has %d rows, grid needs %d", name, len(rows), g.Rows()), nil,
			map[string]any{"field": name})
	}
	flat := make([]float64, 0, g.Size())
	for _, r := range rows {
		if len(r) != g.Cols() {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationShape,
				fmt.Sprintf("field %s has a row of %d values, grid needs %d", name, len(r), g.Cols()), nil,
				map[string]any{"field": name})
		}
		flat = append(flat, r...)
	}
	return NewField(name, g, validTime, flat)
}

// At returns the value at row i, column j.
func (f *Field) At(i, j int) float64 {
	return f.Values.At(i, j)
}

// Float32s returns the field in row-major order as float32.
func (f *Field) Float32s() []float32 {
	r, c := f.Values.Dims()
	out := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, float32(f.Values.At(i, j)))
		}
	}
	return out
}

// Dataset is the set of input fields for one valid time, all on one grid.
type Dataset struct {
	Grid      Grid
	ValidTime time.Time
	Fields    map[string]*Field
}

// NewDataset groups fields that share a grid and valid time.
func NewDataset(fields ...*Field) (*Dataset, error) {
	if len(fields) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "dataset has no fields", nil)
	}
	ds := &Dataset{
		Grid:      fields[0].Grid,
		ValidTime: fields[0].ValidTime,
		Fields:    make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		if !f.Grid.Equal(ds.Grid) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationShape,
				fmt.Sprintf("field %s is on a different grid than %s", f.Name, fields[0].Name), nil,
				map[string]any{"field": f.Name})
		}
		if !f.ValidTime.Equal(ds.ValidTime) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationShape,
				fmt.Sprintf("field %s is valid at %s, dataset at %s", f.Name,
					f.ValidTime.Format(time.RFC3339), ds.ValidTime.Format(time.RFC3339)), nil,
				map[string]any{"field": f.Name})
		}
		ds.Fields[f.Name] = f
	}
	return ds, nil
}

// Field returns the named field.
func (d *Dataset) Field(name string) (*Field, bool) {
	f, ok := d.Fields[name]
	return f, ok
}

// Names returns the field names in sorted order.
func (d *Dataset) Names() []string {
	names := make([]string, 0, len(d.Fields))
	for n := range d.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Require fails with validation_missing_required_field listing every absent name.
func (d *Dataset) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := d.Fields[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			fmt.Sprintf("dataset is missing required fields %v", missing), nil,
			map[string]any{"missing": missing})
	}
	return nil
}
