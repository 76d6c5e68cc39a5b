package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

func testCamera(t *testing.T) *CameraModel {
	t.Helper()
	distortion, err := NewBrownConrady([]float64{-0.1, 0.02, 0.001, -0.0005})
	test.That(t, err, test.ShouldBeNil)
	return &CameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 800, Fy: 820, Ppx: 320, Ppy: 240},
		Distortion:              distortion,
	}
}

func boardPoints(rows, cols int, spacing float64) []r3.Vector {
	pts := make([]r3.Vector, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pts = append(pts, r3.Vector{X: float64(c) * spacing, Y: float64(r) * spacing})
		}
	}
	return pts
}

func boardPose() spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: -30, Y: -25, Z: 400},
		spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: 0.2, Y: -0.1, Z: 0.05}),
	)
}

func TestIntrinsicsFromMatrix(t *testing.T) {
	k := mat.NewDense(3, 3, []float64{800, 0, 320, 0, 820, 240, 0, 0, 1})
	params, err := NewPinholeCameraIntrinsicsFromMatrix(k, 640, 480)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Fx, test.ShouldEqual, 800.)
	test.That(t, params.Ppy, test.ShouldEqual, 240.)
	test.That(t, mat.Equal(params.GetCameraMatrix(), k), test.ShouldBeTrue)

	skewed := mat.NewDense(3, 3, []float64{800, 1, 320, 0, 820, 240, 0, 0, 1})
	_, err = NewPinholeCameraIntrinsicsFromMatrix(skewed, 640, 480)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "element (0,1)")

	_, err = NewPinholeCameraIntrinsicsFromMatrix(mat.NewDense(3, 3, []float64{-1, 0, 0, 0, 1, 0, 0, 0, 1}), 0, 0)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
}

func TestBrownConradyRoundTrip(t *testing.T) {
	bc, err := NewBrownConrady([]float64{-0.25, 0.08, 0.001, -0.002, -0.01})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{-0.25, 0.08, 0.001, -0.002, -0.01})
	for _, pt := range []r2.Point{{}, {X: 0.3, Y: -0.2}, {X: -0.4, Y: 0.35}, {X: 0.05, Y: 0.5}} {
		back := bc.Undistort(bc.Distort(pt))
		test.That(t, back.Sub(pt).Norm(), test.ShouldBeLessThan, 1e-10)
	}

	var none *BrownConrady
	test.That(t, none.Distort(r2.Point{X: 1, Y: 2}), test.ShouldResemble, r2.Point{X: 1, Y: 2})
	test.That(t, none.Parameters(), test.ShouldResemble, []float64{0, 0, 0, 0, 0})

	_, err = NewBrownConrady(make([]float64, 6))
	test.That(t, err.Error(), test.ShouldContainSubstring, "too long")
	_, err = NewBrownConrady([]float64{math.NaN()})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReprojectionErrorNoiseless(t *testing.T) {
	cam := testCamera(t)
	pts := boardPoints(6, 7, 10)
	pose := boardPose()
	pixels, err := cam.ProjectPoints(pts, pose)
	test.That(t, err, test.ShouldBeNil)

	e, err := ReprojectionError(pts, pixels, pose, cam)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e, test.ShouldAlmostEqual, 0, 1e-9)

	shifted := append([]r2.Point{}, pixels...)
	for i := range shifted {
		shifted[i] = shifted[i].Add(r2.Point{X: 3, Y: 4})
	}
	e, err = ReprojectionError(pts, shifted, pose, cam)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e, test.ShouldAlmostEqual, 5, 1e-9)

	_, err = ReprojectionError(pts, pixels[:3], pose, cam)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ReprojectionError(nil, nil, pose, cam)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	_, err = cam.ProjectPoint(r3.Vector{X: 1, Z: -5})
	test.That(t, errors.Is(err, ErrBehindCamera), test.ShouldBeTrue)
}

func TestEstimateHomography(t *testing.T) {
	truth := Homography{{1.2, 0.1, 30}, {-0.05, 0.9, 12}, {1e-4, 2e-4, 1}}
	var src, dst []r2.Point
	for _, p := range boardPoints(3, 4, 25) {
		s := r2.Point{X: p.X, Y: p.Y}
		src = append(src, s)
		dst = append(dst, truth.Apply(s))
	}
	h, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, truth[i][j], 1e-8)
		}
	}

	inv, err := h.Inverse()
	test.That(t, err, test.ShouldBeNil)
	p := r2.Point{X: 17, Y: -3}
	test.That(t, inv.Apply(h.Apply(p)).Sub(p).Norm(), test.ShouldBeLessThan, 1e-9)

	_, err = EstimateHomography(src[:3], dst[:3])
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	collinear := []r2.Point{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}}
	_, err = EstimateHomography(collinear, collinear)
	test.That(t, errors.Is(err, utils.ErrDegenerateSample), test.ShouldBeTrue)

	_, err = EstimateHomography(src, dst[:5])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimatePlanarPose(t *testing.T) {
	cam := testCamera(t)
	pts := boardPoints(6, 7, 10)
	truth := boardPose()
	pixels, err := cam.ProjectPoints(pts, truth)
	test.That(t, err, test.ShouldBeNil)

	est, err := EstimatePlanarPose(pts, pixels, cam, DefaultPoseConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(est.Pose, truth, 1e-6), test.ShouldBeTrue)
	test.That(t, est.Inliers, test.ShouldHaveLength, len(pts))
	test.That(t, est.MeanError, test.ShouldBeLessThan, 1e-6)

	// gross outliers are rejected
	corrupted := append([]r2.Point{}, pixels...)
	bad := map[int]bool{0: true, 9: true, 20: true, 33: true, 41: true}
	for idx := range bad {
		corrupted[idx] = corrupted[idx].Add(r2.Point{X: 50, Y: -40})
	}
	est, err = EstimatePlanarPose(pts, corrupted, cam, DefaultPoseConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Inliers, test.ShouldHaveLength, len(pts)-len(bad))
	for _, idx := range est.Inliers {
		test.That(t, bad[idx], test.ShouldBeFalse)
	}
	test.That(t, spatialmath.PoseAlmostEqual(est.Pose, truth, 1e-6), test.ShouldBeTrue)
}

func TestEstimatePlanarPoseErrors(t *testing.T) {
	cam := testCamera(t)
	pts := boardPoints(1, 3, 10)
	pixels, err := cam.ProjectPoints(pts, boardPose())
	test.That(t, err, test.ShouldBeNil)
	_, err = EstimatePlanarPose(pts, pixels, cam, DefaultPoseConfig())
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	nonPlanar := boardPoints(2, 3, 10)
	nonPlanar[4].Z = 5
	_, err = EstimatePlanarPose(nonPlanar, make([]r2.Point, 6), cam, DefaultPoseConfig())
	test.That(t, err.Error(), test.ShouldContainSubstring, "Z = 0 plane")
}

func TestPoseFromHomographyFrontFacing(t *testing.T) {
	truth := boardPose()
	r := truth.Rotation()
	tr := truth.Point()
	// a homography scaled by a negative factor still gives a pose in front of the camera
	h := Homography{
		{-2 * r.At(0, 0), -2 * r.At(0, 1), -2 * tr.X},
		{-2 * r.At(1, 0), -2 * r.At(1, 1), -2 * tr.Y},
		{-2 * r.At(2, 0), -2 * r.At(2, 1), -2 * tr.Z},
	}
	pose, err := PoseFromHomography(&h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(pose, truth, 1e-9), test.ShouldBeTrue)
}

func TestRefinePose(t *testing.T) {
	cam := testCamera(t)
	pts := boardPoints(6, 7, 10)
	truth := boardPose()
	pixels, err := cam.ProjectPoints(pts, truth)
	test.That(t, err, test.ShouldBeNil)

	start := spatialmath.Compose(truth, spatialmath.NewPose(
		r3.Vector{X: 1.5, Y: -1, Z: 3},
		spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: 0.01, Y: -0.02, Z: 0.015}),
	))
	before, err := ReprojectionError(pts, pixels, start, cam)
	test.That(t, err, test.ShouldBeNil)
	refined := RefinePose(pts, pixels, cam, start)
	after, err := ReprojectionError(pts, pixels, refined, cam)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after, test.ShouldBeLessThan, before)
	test.That(t, after, test.ShouldBeLessThan, 1e-3)
	angle, dist := spatialmath.PoseDelta(refined, truth)
	test.That(t, angle, test.ShouldBeLessThan, 1e-4)
	test.That(t, dist, test.ShouldBeLessThan, 1e-2)
}

func TestNoIntrinsicsErrorKeepsMessage(t *testing.T) {
	err := NewNoIntrinsicsError("Invalid size (-1, 100%)")
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Invalid size (-1, 100%)")

	err = (&PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: -2, Fy: 800}).CheckValid()
	test.That(t, err.Error(), test.ShouldContainSubstring, "Fx = -2")
}
