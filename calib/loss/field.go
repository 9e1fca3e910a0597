// Package loss turns a raw multi-step simulation result into the scalar
// signal the optimizer consumes. Displacement fields are parsed from the
// tabular matrix form both the worker and the reference measurements use,
// brought onto a common coordinate frame, normalized, and compared by RMSE.
package loss

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

// Transform is the affine mapping applied to a field's coordinates before
// comparison: scale first, then shift. The zero value is the identity.
type Transform struct {
	XScale float64 `yaml:"x_scale"`
	YScale float64 `yaml:"y_scale"`
	XShift float64 `yaml:"x_shift"`
	YShift float64 `yaml:"y_shift"`
}

func (t Transform) apply(x, y float64) (float64, float64) {
	sx, sy := t.XScale, t.YScale
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	return x*sx + t.XShift, y*sy + t.YShift
}

// Field is a displacement field over a rectilinear grid. Column coordinates
// come from the matrix header, row coordinates from the first column. Axes
// are kept sorted ascending so the grid supports direct bilinear lookup.
type Field struct {
	xs   []float64   // column coordinates, ascending
	ys   []float64   // row coordinates, ascending
	grid [][]float64 // grid[yi][xi]
}

// ParseField reads a displacement matrix in CSV form: the header row holds X
// coordinates (first cell is the index label and is ignored), each data row
// starts with its Y coordinate. The transform is applied to the coordinates
// as the field is built.
func ParseField(r io.Reader, t Transform) (*Field, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read field matrix: %w", err)
	}
	if len(records) < 2 || len(records[0]) < 2 {
		return nil, fmt.Errorf("field matrix needs a header row and at least one data row")
	}

	header := records[0]
	rawXs := make([]float64, len(header)-1)
	for i, cell := range header[1:] {
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("column coordinate %q: %w", cell, err)
		}
		rawXs[i] = v
	}

	rawYs := make([]float64, 0, len(records)-1)
	rawGrid := make([][]float64, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row has %d cells, header has %d", len(row), len(header))
		}
		y, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row coordinate %q: %w", row[0], err)
		}
		vals := make([]float64, len(row)-1)
		for i, cell := range row[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("field value %q: %w", cell, err)
			}
			vals[i] = v
		}
		rawYs = append(rawYs, y)
		rawGrid = append(rawGrid, vals)
	}

	f := &Field{
		xs:   make([]float64, len(rawXs)),
		ys:   make([]float64, len(rawYs)),
		grid: make([][]float64, len(rawYs)),
	}
	for i, x := range rawXs {
		tx, _ := t.apply(x, 0)
		f.xs[i] = tx
	}
	for i, y := range rawYs {
		_, ty := t.apply(0, y)
		f.ys[i] = ty
	}

	// Transformed axes may arrive in either direction; reorder both axes
	// ascending and permute the grid to match.
	xOrder := sortedOrder(f.xs)
	yOrder := sortedOrder(f.ys)
	sort.Float64s(f.xs)
	sort.Float64s(f.ys)
	for yi, srcY := range yOrder {
		row := make([]float64, len(xOrder))
		for xi, srcX := range xOrder {
			row[xi] = rawGrid[srcY][srcX]
		}
		f.grid[yi] = row
	}
	return f, nil
}

// sortedOrder returns the permutation that sorts vals ascending.
func sortedOrder(vals []float64) []int {
	order := make([]int, len(vals))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return vals[order[i]] < vals[order[j]] })
	return order
}

// Normalize divides every value by the field's maximum absolute value. A
// near-zero maximum leaves the field untouched to avoid division blow-up.
func (f *Field) Normalize() {
	abs := make([]float64, 0, len(f.xs)*len(f.ys))
	for _, row := range f.grid {
		for _, v := range row {
			abs = append(abs, math.Abs(v))
		}
	}
	if len(abs) == 0 {
		return
	}
	maxAbs := floats.Max(abs)
	if maxAbs <= 1e-9 {
		return
	}
	for _, row := range f.grid {
		floats.Scale(1/maxAbs, row)
	}
}

// Samples visits every grid point with its transformed coordinates.
func (f *Field) Samples(visit func(x, y, v float64)) {
	for yi, y := range f.ys {
		for xi, x := range f.xs {
			visit(x, y, f.grid[yi][xi])
		}
	}
}

// At evaluates the field at (x, y) by bilinear interpolation on the grid.
// Points outside the grid evaluate to zero, matching the fill behavior the
// comparison expects for non-overlapping regions.
func (f *Field) At(x, y float64) float64 {
	if len(f.xs) == 0 || len(f.ys) == 0 {
		return 0
	}
	if x < f.xs[0] || x > f.xs[len(f.xs)-1] || y < f.ys[0] || y > f.ys[len(f.ys)-1] {
		return 0
	}

	x0, x1, tx := cellCoords(f.xs, x)
	y0, y1, ty := cellCoords(f.ys, y)

	v00 := f.grid[y0][x0]
	v01 := f.grid[y0][x1]
	v10 := f.grid[y1][x0]
	v11 := f.grid[y1][x1]

	top := v00 + tx*(v01-v00)
	bottom := v10 + tx*(v11-v10)
	return top + ty*(bottom-top)
}

// cellCoords locates v on the axis, returning the bracketing indices and the
// interpolation fraction. A length-one axis degenerates to its single index.
// The caller has already bounds-checked v against the axis extremes.
func cellCoords(axis []float64, v float64) (lo, hi int, t float64) {
	if len(axis) == 1 {
		return 0, 0, 0
	}
	i := sort.SearchFloat64s(axis, v)
	if i > 0 {
		i--
	}
	if i > len(axis)-2 {
		i = len(axis) - 2
	}
	lo, hi = i, i+1
	if axis[hi] > axis[lo] {
		t = (v - axis[lo]) / (axis[hi] - axis[lo])
	}
	return lo, hi, t
}
