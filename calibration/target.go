// Package calibration holds the calibration target and the per-frame observations shared by the
// camera, light-plane and hand-eye calibration stages.
package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Target is a planar grid of Rows x Cols inner corners spaced Spacing apart. Corner (r, c) has
// flat index r*Cols + c and target coordinates (c*Spacing, r*Spacing, 0).
type Target struct {
	Rows    int     `json:"rows"`
	Cols    int     `json:"cols"`
	Spacing float64 `json:"square_size"`
}

// NewTarget returns a validated target.
func NewTarget(rows, cols int, spacing float64) (Target, error) {
	t := Target{Rows: rows, Cols: cols, Spacing: spacing}
	return t, t.Validate()
}

// Validate checks the target dimensions.
func (t Target) Validate() error {
	if t.Rows < 2 || t.Cols < 2 {
		return errors.Errorf("target must have at least 2x2 corners, got %dx%d", t.Rows, t.Cols)
	}
	if !(t.Spacing > 0) {
		return errors.Errorf("target spacing must be positive, got %v", t.Spacing)
	}
	return nil
}

// Size returns the number of corners.
func (t Target) Size() int {
	return t.Rows * t.Cols
}

// PatternSize is the corner count per row and column in the (width, height) order used by
// corner finders.
func (t Target) PatternSize() image.Point {
	return image.Point{X: t.Cols, Y: t.Rows}
}

// Index returns the flat index of corner (row, col).
func (t Target) Index(row, col int) int {
	return row*t.Cols + col
}

// Points returns the 3D target coordinates of every corner in flat order.
func (t Target) Points() []r3.Vector {
	pts := make([]r3.Vector, 0, t.Size())
	for _, p := range t.Points2D() {
		pts = append(pts, r3.Vector{X: p.X, Y: p.Y})
	}
	return pts
}

// Points2D returns the in-plane target coordinates of every corner in flat order.
func (t Target) Points2D() []r2.Point {
	pts := make([]r2.Point, 0, t.Size())
	for r := 0; r < t.Rows; r++ {
		for c := 0; c < t.Cols; c++ {
			pts = append(pts, r2.Point{X: float64(c) * t.Spacing, Y: float64(r) * t.Spacing})
		}
	}
	return pts
}
