package grid

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// DefaultFill is returned for points outside a field's covered extent.
const DefaultFill = 0.0

// Sampler reads fields at arbitrary coordinates by bilinear interpolation on
// the field's own axes. Points outside the covered extent yield the fill
// value. Sample never fails; SampleMany reports field-level failures so batch
// callers can apply their own fallback.
type Sampler struct {
	fill   float64
	logger *slog.Logger
}

// NewSampler creates a Sampler with the default fill value.
func NewSampler(logger *slog.Logger) *Sampler {
	return &Sampler{fill: DefaultFill, logger: logger}
}

// Fill returns the value used outside the covered extent.
func (s *Sampler) Fill() float64 { return s.fill }

// Sample returns the field value at (lat, lon), or the fill value on any failure.
func (s *Sampler) Sample(f *Field, lat, lon float64) (v float64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("sample panicked", "lat", lat, "lon", lon, "panic", fmt.Sprint(r))
			v = s.fill
		}
	}()

	if err := checkField(f); err != nil {
		s.logger.Debug("sample on malformed field", "error", err)
		return s.fill
	}
	return s.bilinear(f, lat, lon)
}

// SampleMany samples the field at each (lats[k], lons[k]). Out-of-extent points
// take the fill value. An error is returned only when the batch as a whole
// cannot be evaluated.
func (s *Sampler) SampleMany(f *Field, lats, lons []float64) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("batch sample panicked: %v", r)
		}
	}()

	if len(lats) != len(lons) {
		return nil, fmt.Errorf("coordinate length mismatch: %d lats, %d lons", len(lats), len(lons))
	}
	if err := checkField(f); err != nil {
		return nil, err
	}

	out = make([]float64, len(lats))
	for k := range lats {
		out[k] = s.bilinear(f, lats[k], lons[k])
	}
	return out, nil
}

func checkField(f *Field) error {
	if f == nil || f.Values == nil {
		return errors.New("field is nil")
	}
	r, c := f.Values.Dims()
	if r == 0 || c == 0 {
		return errors.New("field is empty")
	}
	if r != f.Grid.Rows() || c != f.Grid.Cols() {
		return fmt.Errorf("field %s is %dx%d, axes are %dx%d", f.Name, r, c, f.Grid.Rows(), f.Grid.Cols())
	}
	return nil
}

// bilinear interpolates between the four surrounding grid points:
//
//	corners: [0]=(r0,c0) [1]=(r0,c1) [2]=(r1,c0) [3]=(r1,c1)
func (s *Sampler) bilinear(f *Field, lat, lon float64) float64 {
	r0, r1, rowFrac, ok := locate(f.Grid.Lats, lat)
	if !ok {
		return s.fill
	}
	c0, c1, colFrac, ok := locate(f.Grid.Lons, lon)
	if !ok {
		return s.fill
	}

	vals := [4]float64{
		f.Values.At(r0, c0),
		f.Values.At(r0, c1),
		f.Values.At(r1, c0),
		f.Values.At(r1, c1),
	}
	return vals[0]*(1-rowFrac)*(1-colFrac) +
		vals[1]*(1-rowFrac)*colFrac +
		vals[2]*rowFrac*(1-colFrac) +
		vals[3]*rowFrac*colFrac
}

// locate finds the bracketing indices of v on a strictly monotonic axis and the
// fractional position between them. ok is false when v lies outside the axis.
func locate(axis []float64, v float64) (i0, i1 int, frac float64, ok bool) {
	n := len(axis)
	if n == 0 || math.IsNaN(v) {
		return 0, 0, 0, false
	}
	if n == 1 {
		return 0, 0, 0, v == axis[0]
	}

	ascending := axis[n-1] > axis[0]
	var k int
	if ascending {
		if v < axis[0] || v > axis[n-1] {
			return 0, 0, 0, false
		}
		k = sort.Search(n, func(i int) bool { return axis[i] >= v })
	} else {
		if v > axis[0] || v < axis[n-1] {
			return 0, 0, 0, false
		}
		k = sort.Search(n, func(i int) bool { return axis[i] <= v })
	}

	if axis[k] == v {
		return k, k, 0, true
	}
	i0, i1 = k-1, k
	frac = (v - axis[i0]) / (axis[i1] - axis[i0])
	return i0, i1, frac, true
}
