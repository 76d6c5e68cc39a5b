// Package transform contains the pinhole camera model with Brown-Conrady lens distortion,
// planar homographies and planar pose estimation.
package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// matrixFormTolerance is how far the fixed entries of an intrinsic matrix may be from 0 and 1.
const matrixFormTolerance = 1e-9

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
// A zero image size is allowed since stored parameter files do not carry it.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width < 0 || params.Height < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 || math.IsNaN(params.Fx) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 || math.IsNaN(params.Fy) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if math.IsNaN(params.Ppx) || math.IsNaN(params.Ppy) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal point (%#v, %#v)", params.Ppx, params.Ppy))
	}
	return nil
}

// GetCameraMatrix creates the 3x3 intrinsic matrix (fx,0,cx; 0,fy,cy; 0,0,1).
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Ppx,
		0, params.Fy, params.Ppy,
		0, 0, 1,
	})
}

// NewPinholeCameraIntrinsicsFromMatrix reads an intrinsic matrix. Matrices with skew or a
// bottom row other than (0, 0, 1) are rejected.
func NewPinholeCameraIntrinsicsFromMatrix(m mat.Matrix, width, height int) (*PinholeCameraIntrinsics, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("intrinsic matrix must be 3x3, got %dx%d", r, c)
	}
	for _, fixed := range []struct {
		row, col int
		want     float64
	}{{0, 1, 0}, {1, 0, 0}, {2, 0, 0}, {2, 1, 0}, {2, 2, 1}} {
		if got := m.At(fixed.row, fixed.col); math.Abs(got-fixed.want) > matrixFormTolerance {
			return nil, errors.Errorf("intrinsic matrix element (%d,%d) is %v, want %v", fixed.row, fixed.col, got, fixed.want)
		}
	}
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     m.At(0, 0),
		Fy:     m.At(1, 1),
		Ppx:    m.At(0, 2),
		Ppy:    m.At(1, 2),
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// PixelToNormalized maps a pixel to normalized image coordinates, ignoring distortion.
func (params *PinholeCameraIntrinsics) PixelToNormalized(px r2.Point) r2.Point {
	return r2.Point{X: (px.X - params.Ppx) / params.Fx, Y: (px.Y - params.Ppy) / params.Fy}
}

// NormalizedToPixel maps normalized image coordinates to a pixel, ignoring distortion.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(n r2.Point) r2.Point {
	return r2.Point{X: n.X*params.Fx + params.Ppx, Y: n.Y*params.Fy + params.Ppy}
}
