// Package calibtest builds synthetic calibration rigs for tests: a known camera, chessboard poses
// with exact corner projections and a fake corner finder.
package calibtest

import (
	"image"
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/calibration"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
)

// ImageSize is the size of synthetic frames.
var ImageSize = image.Point{X: 640, Y: 480}

// Target is the 7x6, 10 mm grid used by the synthetic rigs.
var Target = calibration.Target{Rows: 6, Cols: 7, Spacing: 10}

// Camera returns the ground truth camera. With distorted false it has no lens distortion.
func Camera(distorted bool) *transform.CameraModel {
	cam := &transform.CameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: ImageSize.X, Height: ImageSize.Y, Fx: 800, Fy: 810, Ppx: 322, Ppy: 238,
		},
	}
	if distorted {
		cam.Distortion = &transform.BrownConrady{RadialK1: -0.12, RadialK2: 0.05, TangentialP1: 0.0008, TangentialP2: -0.0004}
	}
	return cam
}

// BoardPoses returns n distinct target poses in the camera frame, tilted by up to ~0.45 rad and
// at depths between 330 and 470 mm, with the grid roughly centered in the image.
func BoardPoses(n int) []spatialmath.Pose {
	poses := make([]spatialmath.Pose, n)
	center := r3.Vector{X: 30, Y: 25}
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(i) / float64(n)
		tilt := 0.25 + 0.2*float64(i%3)/2
		aa := r3.Vector{X: tilt * math.Cos(phase), Y: tilt * math.Sin(phase), Z: 0.1 * math.Sin(3*phase)}
		rot := spatialmath.AxisAngleToRotationMatrix(aa)
		depth := 400 + 70*math.Sin(2*phase+0.3)
		// place the grid center on the optical axis, shifted a little per view
		offset := r3.Vector{X: 8 * math.Cos(phase), Y: 6 * math.Sin(phase), Z: depth}
		poses[i] = spatialmath.NewPose(offset.Sub(rot.MulVec(center)), rot)
	}
	return poses
}

// ProjectTarget returns the exact image corners of the target at pose.
func ProjectTarget(cam *transform.CameraModel, pose spatialmath.Pose) ([]r2.Point, error) {
	return cam.ProjectPoints(Target.Points(), pose)
}

// CornerFinder is a fake chessboard corner finder keyed by frame image.
type CornerFinder struct {
	mu      sync.Mutex
	corners map[image.Image][]r2.Point
	// RefineOffset is added to every corner by RefineCorners.
	RefineOffset r2.Point
	// Calls counts FindCorners invocations.
	Calls int
}

// NewCornerFinder returns an empty fake finder.
func NewCornerFinder() *CornerFinder {
	return &CornerFinder{corners: map[image.Image][]r2.Point{}}
}

// AddFrame registers a new blank frame whose detection returns corners. A nil corners slice
// makes the frame undetectable.
func (f *CornerFinder) AddFrame(corners []r2.Point) image.Image {
	img := image.NewGray(image.Rect(0, 0, ImageSize.X, ImageSize.Y))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corners[img] = corners
	return img
}

// FindCorners returns the registered corners of img.
func (f *CornerFinder) FindCorners(img image.Image, _ image.Point) ([]r2.Point, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	corners, ok := f.corners[img]
	if !ok {
		return nil, false, errors.New("unknown frame")
	}
	if corners == nil {
		return nil, false, nil
	}
	out := make([]r2.Point, len(corners))
	copy(out, corners)
	return out, true, nil
}

// RefineCorners shifts corners by RefineOffset.
func (f *CornerFinder) RefineCorners(_ image.Image, corners []r2.Point) ([]r2.Point, error) {
	out := make([]r2.Point, len(corners))
	for i, c := range corners {
		out[i] = c.Add(f.RefineOffset)
	}
	return out, nil
}
