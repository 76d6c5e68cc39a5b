package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/etnalab/triangulation/utils"
)

// homographyRankTol is the relative size of the second smallest singular value of the DLT system
// below which the correspondences do not determine a unique homography.
const homographyRankTol = 1e-10

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from the perspective of a 2D
// camera to the perspective of another 2D camera. Indices are [row][column].
type Homography [3][3]float64

// NewHomographyFromDense copies a 3x3 matrix.
func NewHomographyFromDense(m mat.Matrix) (*Homography, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("homography must be 3x3, got %dx%d", r, c)
	}
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j)
		}
	}
	return &h, nil
}

// At returns the element at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography. Points mapped to infinity have infinite coordinates.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	if z == 0 {
		return r2.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return r2.Point{X: x / z, Y: y / z}
}

// Dense returns the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Inverse returns the inverse mapping, normalized so that its last element is 1 when possible.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	out, err := NewHomographyFromDense(&inv)
	if err != nil {
		return nil, err
	}
	out.normalize()
	return out, nil
}

func (h *Homography) normalize() {
	scale := h[2][2]
	if math.Abs(scale) < 1e-12 {
		scale = mat.Norm(h.Dense(), 2)
	}
	for i := range h {
		for j := range h[i] {
			h[i][j] /= scale
		}
	}
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct
// linear transform. At least 4 correspondences in general position are required.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("have %d source points but %d destination points", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, utils.NewInsufficientDataError("homography", len(src), 4)
	}
	srcNorm, srcT, err := normalizePoints(src)
	if err != nil {
		return nil, err
	}
	dstNorm, dstT, err := normalizePoints(dst)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcNorm {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("homography: svd factorization failed")
	}
	values := svd.Values(nil)
	if values[7] <= homographyRankTol*values[0] {
		return nil, errors.Wrap(utils.ErrDegenerateSample, "homography: correspondences are collinear")
	}
	var v mat.Dense
	svd.VTo(&v)
	hNorm := mat.NewDense(3, 3, mat.Col(nil, 8, &v))

	// undo the normalization: H = inv(T_dst) * Hn * T_src
	var dstTInv mat.Dense
	if err := dstTInv.Inverse(dstT); err != nil {
		return nil, errors.Wrap(err, "homography: normalization is singular")
	}
	var h mat.Dense
	h.Product(&dstTInv, hNorm, srcT)
	out, err := NewHomographyFromDense(&h)
	if err != nil {
		return nil, err
	}
	out.normalize()
	return out, nil
}

// normalizePoints translates pts to their centroid and scales them to a mean distance of sqrt(2)
// from it, returning the normalized points and the 3x3 transform applied.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, nil, errors.Wrap(utils.ErrDegenerateSample, "points are coincident")
	}
	scale := math.Sqrt(2) / d
	transform := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, transform, nil
}
