package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Grid is the set of corners detected in one frame, in the target's flat order.
// A frame without a detection is represented by a nil *Grid.
type Grid struct {
	Frame  int
	Rows   int
	Cols   int
	Points []r2.Point
}

// NewGrid reshapes row-major corners into a grid, checking the count.
func NewGrid(frame int, target Target, corners []r2.Point) (*Grid, error) {
	if len(corners) != target.Size() {
		return nil, errors.Errorf("frame %d: have %d corners, target has %d", frame, len(corners), target.Size())
	}
	pts := make([]r2.Point, len(corners))
	copy(pts, corners)
	return &Grid{Frame: frame, Rows: target.Rows, Cols: target.Cols, Points: pts}, nil
}

// At returns the corner at (row, col).
func (g *Grid) At(row, col int) r2.Point {
	return g.Points[row*g.Cols+col]
}

// Row returns the corners of one row.
func (g *Grid) Row(row int) []r2.Point {
	return g.Points[row*g.Cols : (row+1)*g.Cols]
}

// ValidGrids drops absent observations, keeping order.
func ValidGrids(grids []*Grid) []*Grid {
	valid := make([]*Grid, 0, len(grids))
	for _, g := range grids {
		if g != nil {
			valid = append(valid, g)
		}
	}
	return valid
}
