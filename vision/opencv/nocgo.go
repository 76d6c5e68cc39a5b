//go:build no_cgo

package opencv

import (
	"image"

	"github.com/golang/geo/r2"

	"github.com/etnalab/triangulation/calibration/camera"
	"github.com/etnalab/triangulation/logging"
)

// CornerFinder reports ErrNoCgo.
type CornerFinder struct{}

// NewCornerFinder returns a finder that always fails.
func NewCornerFinder(int) *CornerFinder {
	return &CornerFinder{}
}

// FindCorners reports ErrNoCgo.
func (f *CornerFinder) FindCorners(image.Image, image.Point) ([]r2.Point, bool, error) {
	return nil, false, ErrNoCgo
}

// RefineCorners reports ErrNoCgo.
func (f *CornerFinder) RefineCorners(image.Image, []r2.Point) ([]r2.Point, error) {
	return nil, ErrNoCgo
}

// Solver reports ErrNoCgo.
type Solver struct {
	Logger logging.Logger
}

// Solve reports ErrNoCgo.
func (s *Solver) Solve([]camera.View, image.Point) (*camera.Solution, error) {
	return nil, ErrNoCgo
}
