package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/etnalab/triangulation/fitting"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

const (
	// MinPoseCorrespondences is the smallest number of planar correspondences that fix a pose.
	MinPoseCorrespondences = 4
	// DefaultPoseReprojectionThreshold is the RANSAC inlier threshold in pixels.
	DefaultPoseReprojectionThreshold = 8.0
	// DefaultPoseIterations caps the RANSAC loop of EstimatePlanarPose.
	DefaultPoseIterations = 100
	// DefaultPoseConfidence is the adaptive stopping confidence of EstimatePlanarPose.
	DefaultPoseConfidence = 0.99

	planarityTolerance = 1e-9
)

// PoseConfig controls EstimatePlanarPose.
type PoseConfig struct {
	ReprojectionThreshold float64
	Iterations            int
	Confidence            float64
	Seed                  int64
	// Refine polishes the linear estimate by minimizing the reprojection error of the inliers.
	Refine bool
}

// DefaultPoseConfig returns the configuration used for chessboard pose estimation.
func DefaultPoseConfig() PoseConfig {
	return PoseConfig{
		ReprojectionThreshold: DefaultPoseReprojectionThreshold,
		Iterations:            DefaultPoseIterations,
		Confidence:            DefaultPoseConfidence,
		Seed:                  1,
		Refine:                true,
	}
}

// PoseEstimate is the result of EstimatePlanarPose.
type PoseEstimate struct {
	Pose    spatialmath.Pose
	Inliers []int
	// MeanError is the mean reprojection error over the inliers, in pixels.
	MeanError float64
}

// PoseFromHomography decomposes a homography mapping target plane coordinates (X, Y) to
// undistorted normalized image coordinates into the target's pose in the camera frame.
func PoseFromHomography(h *Homography) (spatialmath.Pose, error) {
	h1 := r3.Vector{X: h[0][0], Y: h[1][0], Z: h[2][0]}
	h2 := r3.Vector{X: h[0][1], Y: h[1][1], Z: h[2][1]}
	h3 := r3.Vector{X: h[0][2], Y: h[1][2], Z: h[2][2]}
	n1, n2 := h1.Norm(), h2.Norm()
	if n1 < 1e-12 || n2 < 1e-12 {
		return spatialmath.Pose{}, errors.Wrap(utils.ErrDegenerateSample, "homography has a null column")
	}
	lambda := 2 / (n1 + n2)
	r1, r2, t := h1.Mul(lambda), h2.Mul(lambda), h3.Mul(lambda)
	if t.Z < 0 {
		// the target must be in front of the camera
		r1, r2, t = r1.Mul(-1), r2.Mul(-1), t.Mul(-1)
	}
	approx := spatialmath.NewRotationMatrixFromColumns(r1, r2, r1.Cross(r2))
	rot, err := spatialmath.NearestRotation(approx.Dense())
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return spatialmath.NewPose(t, rot), nil
}

// poseCorrespondence pairs a target point with its observed pixel and undistorted normalized
// coordinates.
type poseCorrespondence struct {
	object     r3.Vector
	pixel      r2.Point
	normalized r2.Point
}

type posedCamera struct {
	pose   spatialmath.Pose
	camera *CameraModel
}

// Distance is the reprojection error of c in pixels.
func (pc posedCamera) Distance(c poseCorrespondence) float64 {
	px, err := pc.camera.ProjectPoint(pc.pose.Transform(c.object))
	if err != nil {
		return math.Inf(1)
	}
	return px.Sub(c.pixel).Norm()
}

type planarPoseFamily struct {
	camera *CameraModel
}

func (planarPoseFamily) SampleSize() int {
	return MinPoseCorrespondences
}

func (f planarPoseFamily) FitSample(sample []poseCorrespondence) (posedCamera, error) {
	return f.FitAll(sample)
}

func (f planarPoseFamily) FitAll(points []poseCorrespondence) (posedCamera, error) {
	src := make([]r2.Point, len(points))
	dst := make([]r2.Point, len(points))
	for i, c := range points {
		src[i] = r2.Point{X: c.object.X, Y: c.object.Y}
		dst[i] = c.normalized
	}
	h, err := EstimateHomography(src, dst)
	if err != nil {
		return posedCamera{}, utils.ErrDegenerateSample
	}
	pose, err := PoseFromHomography(h)
	if err != nil {
		return posedCamera{}, utils.ErrDegenerateSample
	}
	return posedCamera{pose: pose, camera: f.camera}, nil
}

// EstimatePlanarPose robustly estimates the pose of a planar target (all points with Z = 0) in
// the camera frame from its observed pixels.
func EstimatePlanarPose(objects []r3.Vector, pixels []r2.Point, camera *CameraModel, cfg PoseConfig) (*PoseEstimate, error) {
	if len(objects) != len(pixels) {
		return nil, errors.Errorf("have %d target points but %d image points", len(objects), len(pixels))
	}
	if len(objects) < MinPoseCorrespondences {
		return nil, utils.NewInsufficientDataError("pose estimation", len(objects), MinPoseCorrespondences)
	}
	if err := camera.CheckValid(); err != nil {
		return nil, err
	}
	corrs := make([]poseCorrespondence, len(objects))
	for i, obj := range objects {
		if math.Abs(obj.Z) > planarityTolerance {
			return nil, errors.Errorf("target point %d is not on the Z = 0 plane", i)
		}
		corrs[i] = poseCorrespondence{object: obj, pixel: pixels[i], normalized: camera.UndistortPixel(pixels[i])}
	}
	threshold := cfg.ReprojectionThreshold
	if threshold <= 0 {
		threshold = DefaultPoseReprojectionThreshold
	}
	family := planarPoseFamily{camera: camera}
	res, err := fitting.Fit[poseCorrespondence, posedCamera](corrs, family, fitting.Config{
		DistanceThreshold: threshold,
		Policy:            fitting.AdaptiveIterations{Confidence: cfg.Confidence, MaxIterations: cfg.Iterations},
		Seed:              cfg.Seed,
		Refit:             true,
		Stage:             "pose estimation",
	})
	if err != nil {
		return nil, err
	}

	inlierObjects := make([]r3.Vector, len(res.Inliers))
	inlierPixels := make([]r2.Point, len(res.Inliers))
	for i, idx := range res.Inliers {
		inlierObjects[i] = objects[idx]
		inlierPixels[i] = pixels[idx]
	}
	pose := res.Model.pose
	if cfg.Refine {
		pose = RefinePose(inlierObjects, inlierPixels, camera, pose)
	}
	meanErr, err := ReprojectionError(inlierObjects, inlierPixels, pose, camera)
	if err != nil {
		return nil, err
	}
	return &PoseEstimate{Pose: pose, Inliers: res.Inliers, MeanError: meanErr}, nil
}

// RefinePose minimizes the squared reprojection error over the six pose parameters, starting at
// initial. The initial pose is returned when the optimizer does not improve on it.
func RefinePose(objects []r3.Vector, pixels []r2.Point, camera *CameraModel, initial spatialmath.Pose) spatialmath.Pose {
	cost := func(x []float64) float64 {
		pose := poseFromParams(x)
		sum := 0.
		for i, obj := range objects {
			px, err := camera.ProjectPoint(pose.Transform(obj))
			if err != nil {
				return math.Inf(1)
			}
			d := px.Sub(pixels[i])
			sum += d.Dot(d)
		}
		return sum
	}
	x0 := poseToParams(initial)
	best := MinimizeCost(cost, x0)
	if best == nil {
		return initial
	}
	return poseFromParams(best)
}

// MinimizeCost runs a quasi-Newton search with finite difference gradients and returns the
// improved location, or nil when the search failed or did not improve on x0.
func MinimizeCost(cost func([]float64) float64, x0 []float64) []float64 {
	f0 := cost(x0)
	if math.IsInf(f0, 0) || math.IsNaN(f0) {
		return nil
	}
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central})
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 200,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-14, Relative: 1e-12, Iterations: 20},
	}
	// a failed line search still reports the best location it reached
	result, _ := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if result == nil || math.IsNaN(result.F) || result.F >= f0 {
		return nil
	}
	return result.X
}

func poseToParams(p spatialmath.Pose) []float64 {
	aa := p.Rotation().AxisAngle()
	t := p.Point()
	return []float64{aa.X, aa.Y, aa.Z, t.X, t.Y, t.Z}
}

func poseFromParams(x []float64) spatialmath.Pose {
	rot := spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
	return spatialmath.NewPose(r3.Vector{X: x[3], Y: x[4], Z: x[5]}, rot)
}
