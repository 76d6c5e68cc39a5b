package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

// ErrBehindCamera is returned when a point does not lie in front of the camera.
var ErrBehindCamera = errors.New("point is not in front of the camera")

// CameraModel is a calibrated pinhole camera with lens distortion. RMS is the residual of the
// calibration that produced it, in pixels.
type CameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               *BrownConrady `json:"distortion"`
	RMS                      float64       `json:"rms"`
}

// CheckValid checks the intrinsics.
func (cm *CameraModel) CheckValid() error {
	if cm == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	return cm.PinholeCameraIntrinsics.CheckValid()
}

// ProjectPoint projects a point given in the camera frame to a pixel.
func (cm *CameraModel) ProjectPoint(pt r3.Vector) (r2.Point, error) {
	if pt.Z <= 0 || math.IsNaN(pt.Z) {
		return r2.Point{}, errors.Wrapf(ErrBehindCamera, "depth %v", pt.Z)
	}
	distorted := cm.Distortion.Distort(r2.Point{X: pt.X / pt.Z, Y: pt.Y / pt.Z})
	return cm.NormalizedToPixel(distorted), nil
}

// ProjectPoints maps points through pose (object frame to camera frame) and projects them.
func (cm *CameraModel) ProjectPoints(points []r3.Vector, pose spatialmath.Pose) ([]r2.Point, error) {
	out := make([]r2.Point, len(points))
	for i, p := range points {
		px, err := cm.ProjectPoint(pose.Transform(p))
		if err != nil {
			return nil, errors.Wrapf(err, "point %d", i)
		}
		out[i] = px
	}
	return out, nil
}

// UndistortPixel returns the undistorted normalized image coordinates of a pixel.
func (cm *CameraModel) UndistortPixel(px r2.Point) r2.Point {
	return cm.Distortion.Undistort(cm.PixelToNormalized(px))
}

// ReprojectionErrors returns the pixel distance between each observed point and the projection
// of its 3D counterpart at pose. Points that project behind the camera get +Inf.
func ReprojectionErrors(points3d []r3.Vector, points2d []r2.Point, pose spatialmath.Pose, cm *CameraModel) ([]float64, error) {
	if len(points3d) != len(points2d) {
		return nil, errors.Errorf("have %d 3D points but %d image points", len(points3d), len(points2d))
	}
	if err := cm.CheckValid(); err != nil {
		return nil, err
	}
	errs := make([]float64, len(points3d))
	for i, p := range points3d {
		px, err := cm.ProjectPoint(pose.Transform(p))
		if err != nil {
			errs[i] = math.Inf(1)
			continue
		}
		errs[i] = px.Sub(points2d[i]).Norm()
	}
	return errs, nil
}

// ReprojectionError returns the mean Euclidean pixel distance between points2d and the
// projection of points3d through cm at pose.
func ReprojectionError(points3d []r3.Vector, points2d []r2.Point, pose spatialmath.Pose, cm *CameraModel) (float64, error) {
	if len(points3d) == 0 {
		return 0, utils.NewInsufficientDataError("reprojection error", 0, 1)
	}
	errs, err := ReprojectionErrors(points3d, points2d, pose, cm)
	if err != nil {
		return 0, err
	}
	return utils.SummarizeErrors(errs).Mean, nil
}
