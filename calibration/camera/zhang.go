package camera

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

const (
	intrinsicsRankTol = 1e-10
	// distortion coefficients k1, k2, p1, p2, k3
	numDistortion = 5
	numIntrinsic  = 4
	numPose       = 6
)

// ZhangSolver is a pure Go Solver for planar targets: a closed form estimate of zero-skew
// intrinsics from the per-view homographies, followed by an optional joint refinement of
// intrinsics, distortion and poses that minimizes the reprojection error.
type ZhangSolver struct {
	Refine bool
	Logger logging.Logger
}

// Solve implements Solver.
func (z *ZhangSolver) Solve(views []View, imageSize image.Point) (*Solution, error) {
	if len(views) < 2 {
		return nil, utils.NewInsufficientDataError("closed form intrinsics", len(views), 2)
	}
	norm := newPixelNormalizer(views, imageSize)
	homographies := make([]*transform.Homography, len(views))
	for i, v := range views {
		src := make([]r2.Point, len(v.Object))
		dst := make([]r2.Point, len(v.Image))
		for j, obj := range v.Object {
			if obj.Z != 0 {
				return nil, errors.Errorf("frame %d: target point %d is not planar", v.Frame, j)
			}
			src[j] = r2.Point{X: obj.X, Y: obj.Y}
			dst[j] = norm.apply(v.Image[j])
		}
		h, err := transform.EstimateHomography(src, dst)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", v.Frame)
		}
		homographies[i] = h
	}

	kNorm, err := closedFormIntrinsics(homographies)
	if err != nil {
		return nil, err
	}
	intrinsics := norm.denormalize(kNorm)
	cam := &transform.CameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: &transform.BrownConrady{}}

	poses := make([]spatialmath.Pose, len(views))
	for i, v := range views {
		est, err := transform.EstimatePlanarPose(v.Object, v.Image, cam, transform.PoseConfig{
			ReprojectionThreshold: math.Inf(1),
			Iterations:            1,
			Seed:                  1,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d: initial pose", v.Frame)
		}
		poses[i] = est.Pose
	}

	if z.Refine {
		cam, poses = z.refine(views, cam, poses)
	}
	return &Solution{Camera: cam, Poses: poses, RMS: rms(views, cam, poses)}, nil
}

// closedFormIntrinsics solves B = K^-T K^-1 from the homographies, with zero skew imposed.
func closedFormIntrinsics(homographies []*transform.Homography) (*transform.PinholeCameraIntrinsics, error) {
	rows := make([][]float64, 0, 2*len(homographies)+1)
	for _, h := range homographies {
		hd := h.Dense()
		hd.Scale(1/mat.Norm(hd, 2), hd)
		v01 := vij(hd, 0, 1)
		v00 := vij(hd, 0, 0)
		v11 := vij(hd, 1, 1)
		diff := make([]float64, 6)
		for k := range diff {
			diff[k] = v00[k] - v11[k]
		}
		rows = append(rows, v01, diff)
	}
	rows = append(rows, []float64{0, 1, 0, 0, 0, 0})

	v := mat.NewDense(len(rows), 6, nil)
	for i, r := range rows {
		v.SetRow(i, r)
	}
	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDFull); !ok {
		return nil, errors.New("closed form intrinsics: svd factorization failed")
	}
	values := svd.Values(nil)
	if values[4] <= intrinsicsRankTol*values[0] {
		rank := 0
		for _, s := range values {
			if s > intrinsicsRankTol*values[0] {
				rank++
			}
		}
		return nil, utils.NewRankDeficientError("closed form intrinsics", rank, 5)
	}
	var vecs mat.Dense
	svd.VTo(&vecs)
	b := mat.Col(nil, 5, &vecs)
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]

	den := b11*b22 - b12*b12
	if den == 0 || b11 == 0 {
		return nil, utils.NewRankDeficientError("closed form intrinsics", 4, 5)
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	alpha2 := lambda / b11
	beta2 := lambda * b11 / den
	if !(alpha2 > 0) || !(beta2 > 0) {
		return nil, errors.Wrap(utils.ErrRankDeficient, "closed form intrinsics: views do not constrain the focal lengths")
	}
	alpha := math.Sqrt(alpha2)
	u0 := -b13 * alpha2 / lambda
	return &transform.PinholeCameraIntrinsics{Fx: alpha, Fy: math.Sqrt(beta2), Ppx: u0, Ppy: v0}, nil
}

// vij is Zhang's constraint vector built from columns i and j of h.
func vij(h mat.Matrix, i, j int) []float64 {
	return []float64{
		h.At(0, i) * h.At(0, j),
		h.At(0, i)*h.At(1, j) + h.At(1, i)*h.At(0, j),
		h.At(1, i) * h.At(1, j),
		h.At(2, i)*h.At(0, j) + h.At(0, i)*h.At(2, j),
		h.At(2, i)*h.At(1, j) + h.At(1, i)*h.At(2, j),
		h.At(2, i) * h.At(2, j),
	}
}

// pixelNormalizer maps pixels to a centered frame of unit half-size to condition the closed form.
type pixelNormalizer struct {
	center r2.Point
	scale  float64
}

func newPixelNormalizer(views []View, imageSize image.Point) pixelNormalizer {
	if imageSize.X > 0 && imageSize.Y > 0 {
		return pixelNormalizer{
			center: r2.Point{X: float64(imageSize.X) / 2, Y: float64(imageSize.Y) / 2},
			scale:  float64(max(imageSize.X, imageSize.Y)) / 2,
		}
	}
	lo, hi := r2.Point{X: math.Inf(1), Y: math.Inf(1)}, r2.Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, v := range views {
		for _, p := range v.Image {
			lo = r2.Point{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y)}
			hi = r2.Point{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y)}
		}
	}
	scale := math.Max(hi.X-lo.X, hi.Y-lo.Y) / 2
	if !(scale > 0) {
		scale = 1
	}
	return pixelNormalizer{center: lo.Add(hi).Mul(0.5), scale: scale}
}

func (n pixelNormalizer) apply(p r2.Point) r2.Point {
	return p.Sub(n.center).Mul(1 / n.scale)
}

func (n pixelNormalizer) denormalize(k *transform.PinholeCameraIntrinsics) *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Fx:  k.Fx * n.scale,
		Fy:  k.Fy * n.scale,
		Ppx: k.Ppx*n.scale + n.center.X,
		Ppy: k.Ppy*n.scale + n.center.Y,
	}
}

// refine jointly minimizes the squared reprojection error over intrinsics, distortion and poses.
// Parameters are scaled so that the search starts at the origin with unit-sized steps.
func (z *ZhangSolver) refine(
	views []View,
	cam *transform.CameraModel,
	poses []spatialmath.Pose,
) (*transform.CameraModel, []spatialmath.Pose) {
	p0 := make([]float64, 0, numIntrinsic+numDistortion+numPose*len(poses))
	p0 = append(p0, cam.Fx, cam.Fy, cam.Ppx, cam.Ppy)
	p0 = append(p0, cam.Distortion.Parameters()...)
	scales := []float64{cam.Fx, cam.Fy, cam.Fx, cam.Fy, 1, 1, 1, 1, 1}
	for _, pose := range poses {
		aa := pose.Rotation().AxisAngle()
		t := pose.Point()
		p0 = append(p0, aa.X, aa.Y, aa.Z, t.X, t.Y, t.Z)
		depth := math.Max(t.Norm(), 1)
		scales = append(scales, 1, 1, 1, depth, depth, depth)
	}
	unpack := func(x []float64) (*transform.CameraModel, []spatialmath.Pose) {
		p := make([]float64, len(p0))
		for i := range p {
			p[i] = p0[i] + x[i]*scales[i]
		}
		dist, err := transform.NewBrownConrady(p[numIntrinsic : numIntrinsic+numDistortion])
		if err != nil {
			return nil, nil
		}
		c := &transform.CameraModel{
			PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{Fx: p[0], Fy: p[1], Ppx: p[2], Ppy: p[3]},
			Distortion:              dist,
		}
		out := make([]spatialmath.Pose, len(poses))
		for i := range poses {
			q := p[numIntrinsic+numDistortion+numPose*i:]
			out[i] = spatialmath.NewPose(
				r3.Vector{X: q[3], Y: q[4], Z: q[5]},
				spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: q[0], Y: q[1], Z: q[2]}),
			)
		}
		return c, out
	}
	cost := func(x []float64) float64 {
		c, ps := unpack(x)
		if c == nil || c.Fx <= 0 || c.Fy <= 0 {
			return math.Inf(1)
		}
		return sumSquares(views, c, ps)
	}

	before := sumSquares(views, cam, poses)
	best := transform.MinimizeCost(cost, make([]float64, len(p0)))
	if best == nil {
		if z.Logger != nil {
			z.Logger.Debugw("refinement kept the closed form estimate", "cost", before)
		}
		return cam, poses
	}
	refinedCam, refinedPoses := unpack(best)
	if z.Logger != nil {
		z.Logger.Debugw("refined camera model", "cost_before", before, "cost_after", sumSquares(views, refinedCam, refinedPoses))
	}
	return refinedCam, refinedPoses
}

func sumSquares(views []View, cam *transform.CameraModel, poses []spatialmath.Pose) float64 {
	sum := 0.
	for i, v := range views {
		for j, obj := range v.Object {
			px, err := cam.ProjectPoint(poses[i].Transform(obj))
			if err != nil {
				return math.Inf(1)
			}
			d := px.Sub(v.Image[j])
			sum += d.Dot(d)
		}
	}
	return sum
}

func rms(views []View, cam *transform.CameraModel, poses []spatialmath.Pose) float64 {
	n := 0
	for _, v := range views {
		n += len(v.Object)
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSquares(views, cam, poses) / float64(n))
}
