// Package chessboard detects a planar calibration grid in frames and estimates its pose.
package chessboard

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/etnalab/triangulation/calibration"
	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/utils"
)

// CornerFinder locates chessboard inner corners in an image.
type CornerFinder interface {
	// FindCorners returns the corners of a pattern of the given (columns, rows) size in
	// row-major order, and whether the whole pattern was found.
	FindCorners(img image.Image, pattern image.Point) ([]r2.Point, bool, error)
	// RefineCorners moves corners to sub-pixel accuracy.
	RefineCorners(img image.Image, corners []r2.Point) ([]r2.Point, error)
}

// Detector finds a Target in frames.
type Detector struct {
	target  calibration.Target
	finder  CornerFinder
	poseCfg transform.PoseConfig
	logger  logging.Logger
}

// NewDetector returns a detector for target using finder.
func NewDetector(target calibration.Target, finder CornerFinder, logger logging.Logger) (*Detector, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if finder == nil {
		return nil, errors.New("a corner finder is required")
	}
	if logger == nil {
		logger = logging.NewBlankLogger("chessboard")
	}
	return &Detector{target: target, finder: finder, poseCfg: transform.DefaultPoseConfig(), logger: logger}, nil
}

// WithPoseConfig returns a copy of d that estimates poses with cfg.
func (d *Detector) WithPoseConfig(cfg transform.PoseConfig) *Detector {
	cp := *d
	cp.poseCfg = cfg
	return &cp
}

// Target returns the target being detected.
func (d *Detector) Target() calibration.Target {
	return d.target
}

// Detect finds the target in img. A frame where the full grid is not found returns a
// *utils.DetectionFailure.
func (d *Detector) Detect(img image.Image, frame int) (*calibration.Grid, error) {
	if img == nil {
		return nil, utils.NewDetectionFailure(frame, "no image")
	}
	corners, found, err := d.finder.FindCorners(img, d.target.PatternSize())
	if err != nil {
		return nil, utils.NewDetectionFailure(frame, "corner finder: %v", err)
	}
	if !found {
		return nil, utils.NewDetectionFailure(frame, "pattern %dx%d not found", d.target.Cols, d.target.Rows)
	}
	if len(corners) != d.target.Size() {
		return nil, utils.NewDetectionFailure(frame, "found %d of %d corners", len(corners), d.target.Size())
	}
	refined, err := d.finder.RefineCorners(img, corners)
	if err != nil {
		return nil, utils.NewDetectionFailure(frame, "sub-pixel refinement: %v", err)
	}
	return calibration.NewGrid(frame, d.target, refined)
}

// Detections is the outcome of DetectAll.
type Detections struct {
	// Grids has one entry per input frame; frames without a detection are nil.
	Grids []*calibration.Grid
	// Failures combines the DetectionFailure of every skipped frame.
	Failures error
}

// Valid returns the number of detected frames.
func (ds *Detections) Valid() int {
	return len(calibration.ValidGrids(ds.Grids))
}

// DetectAll detects the target in every frame concurrently. Frames that fail are recorded in
// Failures and left nil; only cancellation fails the call.
func (d *Detector) DetectAll(ctx context.Context, images []image.Image) (*Detections, error) {
	type outcome struct {
		grid *calibration.Grid
		err  error
	}
	results, err := utils.ParallelMap(ctx, images, func(_ context.Context, frame int, img image.Image) (outcome, error) {
		grid, err := d.Detect(img, frame)
		return outcome{grid: grid, err: err}, nil
	})
	if err != nil {
		return nil, err
	}
	out := &Detections{Grids: make([]*calibration.Grid, len(images))}
	for frame, res := range results {
		if res.err != nil {
			d.logger.Debugw("frame skipped", "frame", frame, "error", res.err)
			out.Failures = multierr.Append(out.Failures, res.err)
			continue
		}
		out.Grids[frame] = res.grid
	}
	d.logger.Infow("chessboard detection", "frames", len(images), "detected", out.Valid())
	return out, nil
}

// EstimatePose estimates the target pose in the camera frame from a detected grid.
func (d *Detector) EstimatePose(grid *calibration.Grid, camera *transform.CameraModel) (*transform.PoseEstimate, error) {
	if grid == nil {
		return nil, utils.NewInsufficientDataError("pose estimation", 0, transform.MinPoseCorrespondences)
	}
	if len(grid.Points) != d.target.Size() {
		return nil, errors.Errorf("frame %d: grid has %d corners, target has %d", grid.Frame, len(grid.Points), d.target.Size())
	}
	est, err := transform.EstimatePlanarPose(d.target.Points(), grid.Points, camera, d.poseCfg)
	if err != nil {
		return nil, errors.Wrapf(err, "frame %d", grid.Frame)
	}
	return est, nil
}
