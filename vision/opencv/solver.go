//go:build !no_cgo

package opencv

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/etnalab/triangulation/calibration/camera"
	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
)

// Solver runs OpenCV's calibrateCamera. Per-view poses are recovered from the calibrated camera
// with the planar pose estimator.
type Solver struct {
	Logger logging.Logger
}

// Solve implements camera.Solver.
func (s *Solver) Solve(views []camera.View, imageSize image.Point) (*camera.Solution, error) {
	objects := gocv.NewPoints3fVector()
	defer objects.Close()
	pixels := gocv.NewPoints2fVector()
	defer pixels.Close()
	for _, v := range views {
		obj := make([]gocv.Point3f, len(v.Object))
		for i, p := range v.Object {
			obj[i] = gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
		}
		img := make([]gocv.Point2f, len(v.Image))
		for i, p := range v.Image {
			img[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
		}
		objVec := gocv.NewPoint3fVectorFromPoints(obj)
		imgVec := gocv.NewPoint2fVectorFromPoints(img)
		objects.Append(objVec)
		pixels.Append(imgVec)
		objVec.Close()
		imgVec.Close()
	}

	k := gocv.NewMat()
	defer k.Close()
	dist := gocv.NewMat()
	defer dist.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()
	rms := gocv.CalibrateCamera(objects, pixels, imageSize, &k, &dist, &rvecs, &tvecs, 0)

	if k.Rows() != 3 || k.Cols() != 3 {
		return nil, errors.New("calibrateCamera returned no camera matrix")
	}
	intrinsics := &transform.PinholeCameraIntrinsics{
		Width:  imageSize.X,
		Height: imageSize.Y,
		Fx:     k.GetDoubleAt(0, 0),
		Fy:     k.GetDoubleAt(1, 1),
		Ppx:    k.GetDoubleAt(0, 2),
		Ppy:    k.GetDoubleAt(1, 2),
	}
	coef := make([]float64, 0, 5)
	for i := 0; i < dist.Total() && i < 5; i++ {
		coef = append(coef, dist.GetDoubleAt(0, i))
	}
	distortion, err := transform.NewBrownConrady(coef)
	if err != nil {
		return nil, err
	}
	cam := &transform.CameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: distortion, RMS: rms}

	poses := make([]spatialmath.Pose, len(views))
	for i, v := range views {
		est, err := transform.EstimatePlanarPose(v.Object, v.Image, cam, transform.DefaultPoseConfig())
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d: pose", v.Frame)
		}
		poses[i] = est.Pose
	}
	if s.Logger != nil {
		s.Logger.Debugw("calibrateCamera", "views", len(views), "rms", rms)
	}
	return &camera.Solution{Camera: cam, Poses: poses, RMS: rms}, nil
}
