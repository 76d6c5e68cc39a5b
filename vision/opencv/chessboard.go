//go:build !no_cgo

package opencv

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	subPixIterations = 30
	subPixEpsilon    = 0.1
)

// CornerFinder finds chessboard corners with OpenCV.
type CornerFinder struct {
	window int
}

// NewCornerFinder returns a finder refining corners in a (2*window+1) pixel square.
func NewCornerFinder(window int) *CornerFinder {
	if window <= 0 {
		window = 5
	}
	return &CornerFinder{window: window}
}

// FindCorners locates the inner corners of a chessboard with pattern columns x rows corners.
func (f *CornerFinder) FindCorners(img image.Image, pattern image.Point) ([]r2.Point, bool, error) {
	gray, err := grayMat(img)
	if err != nil {
		return nil, false, err
	}
	defer gray.Close()
	corners := gocv.NewMat()
	defer corners.Close()
	if !gocv.FindChessboardCorners(gray, pattern, &corners, gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage) {
		return nil, false, nil
	}
	return matToPoints(corners), true, nil
}

// RefineCorners moves corners to the sub-pixel saddle points of img.
func (f *CornerFinder) RefineCorners(img image.Image, corners []r2.Point) ([]r2.Point, error) {
	if len(corners) == 0 {
		return nil, nil
	}
	gray, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()
	m := pointsToMat(corners)
	defer m.Close()
	gocv.CornerSubPix(gray, &m, image.Pt(f.window, f.window), image.Pt(-1, -1),
		gocv.NewTermCriteria(gocv.Count+gocv.EPS, subPixIterations, subPixEpsilon))
	return matToPoints(m), nil
}

func grayMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.Mat{}, errors.New("no image")
	}
	color, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "converting image")
	}
	defer color.Close()
	gray := gocv.NewMat()
	gocv.CvtColor(color, &gray, gocv.ColorBGRToGray)
	return gray, nil
}

// pointsToMat packs points into an N x 1 two-channel float matrix.
func pointsToMat(pts []r2.Point) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	for i, p := range pts {
		m.SetFloatAt(i, 0, float32(p.X))
		m.SetFloatAt(i, 1, float32(p.Y))
	}
	return m
}

func matToPoints(m gocv.Mat) []r2.Point {
	pts := make([]r2.Point, m.Rows())
	for i := range pts {
		v := m.GetVecfAt(i, 0)
		pts[i] = r2.Point{X: float64(v[0]), Y: float64(v[1])}
	}
	return pts
}
