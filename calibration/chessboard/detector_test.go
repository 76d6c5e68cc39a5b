package chessboard

import (
	"context"
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/test"

	"github.com/etnalab/triangulation/calibration"
	"github.com/etnalab/triangulation/calibration/calibtest"
	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

func TestDetect(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cam := calibtest.Camera(true)
	pose := calibtest.BoardPoses(1)[0]
	corners, err := calibtest.ProjectTarget(cam, pose)
	test.That(t, err, test.ShouldBeNil)

	finder := calibtest.NewCornerFinder()
	finder.RefineOffset = r2.Point{X: 0.25}
	found := finder.AddFrame(corners)
	missing := finder.AddFrame(nil)
	partial := finder.AddFrame(corners[:40])

	d, err := NewDetector(calibtest.Target, finder, logger)
	test.That(t, err, test.ShouldBeNil)

	grid, err := d.Detect(found, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.Frame, test.ShouldEqual, 2)
	test.That(t, grid.Points, test.ShouldHaveLength, 42)
	test.That(t, grid.At(1, 0).X, test.ShouldAlmostEqual, corners[7].X+0.25)

	_, err = d.Detect(missing, 3)
	var failure *utils.DetectionFailure
	test.That(t, errors.As(err, &failure), test.ShouldBeTrue)
	test.That(t, failure.Frame, test.ShouldEqual, 3)
	test.That(t, err.Error(), test.ShouldContainSubstring, "pattern 7x6 not found")

	_, err = d.Detect(partial, 4)
	test.That(t, errors.Is(err, utils.ErrDetectionFailed), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "found 40 of 42 corners")

	_, err = d.Detect(nil, 5)
	test.That(t, errors.Is(err, utils.ErrDetectionFailed), test.ShouldBeTrue)

	_, err = d.Detect(image.NewGray(image.Rect(0, 0, 1, 1)), 6)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown frame")

	_, err = NewDetector(calibration.Target{Rows: 1, Cols: 1, Spacing: 1}, finder, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDetector(calibtest.Target, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDetectAll(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	cam := calibtest.Camera(false)
	finder := calibtest.NewCornerFinder()
	poses := calibtest.BoardPoses(10)
	images := make([]image.Image, len(poses))
	for i, pose := range poses {
		corners, err := calibtest.ProjectTarget(cam, pose)
		test.That(t, err, test.ShouldBeNil)
		if i == 3 || i == 7 {
			corners = nil
		}
		images[i] = finder.AddFrame(corners)
	}

	d, err := NewDetector(calibtest.Target, finder, logger)
	test.That(t, err, test.ShouldBeNil)
	detections, err := d.DetectAll(context.Background(), images)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, detections.Grids, test.ShouldHaveLength, 10)
	test.That(t, detections.Valid(), test.ShouldEqual, 8)
	test.That(t, detections.Grids[3], test.ShouldBeNil)
	test.That(t, detections.Grids[7], test.ShouldBeNil)
	for i, g := range detections.Grids {
		if g != nil {
			test.That(t, g.Frame, test.ShouldEqual, i)
		}
	}
	test.That(t, multierr.Errors(detections.Failures), test.ShouldHaveLength, 2)
	test.That(t, finder.Calls, test.ShouldEqual, 10)
	test.That(t, logs.FilterMessage("chessboard detection").Len(), test.ShouldEqual, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.DetectAll(ctx, images)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestEstimatePose(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cam := calibtest.Camera(true)
	truth := calibtest.BoardPoses(4)[1]
	corners, err := calibtest.ProjectTarget(cam, truth)
	test.That(t, err, test.ShouldBeNil)
	grid, err := calibration.NewGrid(0, calibtest.Target, corners)
	test.That(t, err, test.ShouldBeNil)

	d, err := NewDetector(calibtest.Target, calibtest.NewCornerFinder(), logger)
	test.That(t, err, test.ShouldBeNil)
	est, err := d.EstimatePose(grid, cam)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(est.Pose, truth, 1e-6), test.ShouldBeTrue)

	_, err = d.EstimatePose(nil, cam)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	short := &calibration.Grid{Frame: 1, Rows: 1, Cols: 3, Points: corners[:3]}
	_, err = d.EstimatePose(short, cam)
	test.That(t, err, test.ShouldNotBeNil)
}
