package fitting

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

// Plane is the set of points p with Normal.Dot(p) + Offset == 0. Normal has unit length.
type Plane struct {
	Normal r3.Vector
	Offset float64
}

// NewPlane returns the plane through point with the given normal, normalizing it.
func NewPlane(normal, point r3.Vector) (Plane, error) {
	norm := normal.Norm()
	if norm == 0 || math.IsNaN(norm) {
		return Plane{}, errors.New("plane normal must be non-zero")
	}
	n := normal.Mul(1 / norm)
	return Plane{Normal: n, Offset: -n.Dot(point)}, nil
}

// Distance returns the signed perpendicular distance of pt to the plane.
func (p Plane) Distance(pt r3.Vector) float64 {
	return p.Normal.Dot(pt) + p.Offset
}

// Project returns the foot of pt on the plane.
func (p Plane) Project(pt r3.Vector) r3.Vector {
	return pt.Sub(p.Normal.Mul(p.Distance(pt)))
}

// Pose returns a frame on the plane: its origin is the foot of the coordinate origin, its z axis
// is the normal and its x axis is the projection of the x axis (or the y axis when x is nearly
// parallel to the normal) onto the plane.
func (p Plane) Pose() spatialmath.Pose {
	origin := p.Project(r3.Vector{})
	ref := r3.Vector{X: 1}
	if math.Abs(p.Normal.Dot(ref)) > 0.9 {
		ref = r3.Vector{Y: 1}
	}
	x := ref.Sub(p.Normal.Mul(p.Normal.Dot(ref))).Normalize()
	y := p.Normal.Cross(x)
	return spatialmath.NewPose(origin, spatialmath.NewRotationMatrixFromColumns(x, y, p.Normal))
}

// PlaneFamily fits Planes through three points.
type PlaneFamily struct{}

// SampleSize implements Family.
func (PlaneFamily) SampleSize() int {
	return 3
}

// FitSample implements Family. Collinear or coincident triples are degenerate.
func (PlaneFamily) FitSample(sample []r3.Vector) (Plane, error) {
	if len(sample) != 3 {
		return Plane{}, errors.Errorf("plane needs 3 points, got %d", len(sample))
	}
	v1 := sample[1].Sub(sample[0])
	v2 := sample[2].Sub(sample[0])
	normal := v1.Cross(v2)
	if normal.Norm() <= degenerateRelTol*v1.Norm()*v2.Norm() || normal.Norm() == 0 {
		return Plane{}, utils.ErrDegenerateSample
	}
	return NewPlane(normal, sample[0])
}

// FitAll fits the least squares plane through points.
func (PlaneFamily) FitAll(points []r3.Vector) (Plane, error) {
	if len(points) < 3 {
		return Plane{}, utils.NewInsufficientDataError("plane fit", len(points), 3)
	}
	var centroid r3.Vector
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(points)))
	data := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		d := p.Sub(centroid)
		data.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	var svd mat.SVD
	if ok := svd.Factorize(data, mat.SVDThin); !ok {
		return Plane{}, errors.New("plane fit: svd factorization failed")
	}
	values := svd.Values(nil)
	if values[1] <= degenerateRelTol*values[0] {
		return Plane{}, utils.ErrDegenerateSample
	}
	var v mat.Dense
	svd.VTo(&v)
	return NewPlane(r3.Vector{X: v.At(0, 2), Y: v.At(1, 2), Z: v.At(2, 2)}, centroid)
}
