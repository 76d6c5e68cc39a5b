package fitting

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/etnalab/triangulation/utils"
)

// degenerateRelTol is the relative size below which a denominator is treated as zero.
const degenerateRelTol = 1e-12

// Line is y = Slope*x + Intercept.
type Line struct {
	Slope     float64
	Intercept float64
}

// Distance returns the signed perpendicular distance of pt to the line.
func (l Line) Distance(pt r2.Point) float64 {
	return (l.Slope*pt.X - pt.Y + l.Intercept) / math.Hypot(l.Slope, 1)
}

// At returns the y value of the line at x.
func (l Line) At(x float64) float64 {
	return l.Slope*x + l.Intercept
}

// LineFamily fits Lines through two points.
type LineFamily struct{}

// SampleSize implements Family.
func (LineFamily) SampleSize() int {
	return 2
}

// FitSample implements Family. Coincident and vertical pairs are degenerate.
func (LineFamily) FitSample(sample []r2.Point) (Line, error) {
	if len(sample) != 2 {
		return Line{}, errors.Errorf("line needs 2 points, got %d", len(sample))
	}
	p, q := sample[0], sample[1]
	dx := q.X - p.X
	scale := math.Max(1, math.Max(math.Abs(p.X), math.Abs(q.X)))
	if math.Abs(dx) <= degenerateRelTol*scale {
		return Line{}, utils.ErrDegenerateSample
	}
	slope := (q.Y - p.Y) / dx
	return Line{Slope: slope, Intercept: p.Y - slope*p.X}, nil
}

// FitAll fits the total least squares line through points.
func (LineFamily) FitAll(points []r2.Point) (Line, error) {
	if len(points) < 2 {
		return Line{}, utils.NewInsufficientDataError("line fit", len(points), 2)
	}
	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(points))
	cy /= float64(len(points))
	data := mat.NewDense(len(points), 2, nil)
	for i, p := range points {
		data.Set(i, 0, p.X-cx)
		data.Set(i, 1, p.Y-cy)
	}
	var svd mat.SVD
	if ok := svd.Factorize(data, mat.SVDThin); !ok {
		return Line{}, errors.New("line fit: svd factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	// the right singular vector of the smallest singular value is the line normal
	nx, ny := v.At(0, 1), v.At(1, 1)
	if math.Abs(ny) <= degenerateRelTol*math.Hypot(nx, ny) {
		return Line{}, utils.ErrDegenerateSample
	}
	slope := -nx / ny
	return Line{Slope: slope, Intercept: cy - slope*cx}, nil
}
