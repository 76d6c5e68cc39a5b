// Package lightplane calibrates the laser light plane of a structured-light rig from chessboard
// views crossed by the laser stripe.
package lightplane

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
)

// LightPlane is a calibrated laser plane: its pose in the camera frame (z along the plane
// normal) and the homography from undistorted pixels to plane-local (x, y) coordinates.
type LightPlane struct {
	Pose       spatialmath.Pose
	Homography *transform.Homography
}

// Validate checks that the plane can be used for triangulation.
func (lp *LightPlane) Validate() error {
	if lp == nil || lp.Homography == nil {
		return errors.New("light plane has no homography")
	}
	return lp.Pose.Rotation().CheckValid(1e-6)
}

// Triangulate maps stripe pixels to camera-frame points on the light plane. Pixels are
// undistorted through camera first; a nil camera means they already are.
func (lp *LightPlane) Triangulate(pixels []r2.Point, camera *transform.CameraModel) ([]r3.Vector, error) {
	if err := lp.Validate(); err != nil {
		return nil, err
	}
	out := make([]r3.Vector, len(pixels))
	for i, px := range pixels {
		if camera != nil {
			px = pinholePixel(camera, px)
		}
		local := lp.Homography.Apply(px)
		if math.IsInf(local.X, 0) || math.IsInf(local.Y, 0) {
			return nil, errors.Errorf("pixel %d (%v, %v) maps to infinity on the light plane", i, px.X, px.Y)
		}
		out[i] = lp.Pose.Transform(r3.Vector{X: local.X, Y: local.Y})
	}
	return out, nil
}

// pinholePixel removes lens distortion from px, keeping pixel units.
func pinholePixel(camera *transform.CameraModel, px r2.Point) r2.Point {
	return camera.NormalizedToPixel(camera.UndistortPixel(px))
}
