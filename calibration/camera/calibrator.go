// Package camera calibrates camera intrinsics and lens distortion from chessboard observations.
package camera

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/etnalab/triangulation/calibration"
	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

// DefaultMinViews is the fewest valid views a calibration accepts.
const DefaultMinViews = 3

// View is the set of target/image correspondences of one frame.
type View struct {
	Frame  int
	Object []r3.Vector
	Image  []r2.Point
}

// Solution is the output of a Solver. Poses are in view order.
type Solution struct {
	Camera *transform.CameraModel
	Poses  []spatialmath.Pose
	RMS    float64
}

// Solver jointly estimates intrinsics, distortion and per-view poses.
type Solver interface {
	Solve(views []View, imageSize image.Point) (*Solution, error)
}

// Config controls a Calibrator.
type Config struct {
	MinViews int `json:"min_views"`
}

// ViewDiagnostics reports how well one view fits the calibrated model.
type ViewDiagnostics struct {
	Frame  int
	Pose   spatialmath.Pose
	Errors utils.ErrorStats
}

// Calibration is the result of Calibrate.
type Calibration struct {
	Camera *transform.CameraModel
	Views  []ViewDiagnostics
	// Excluded lists the positions in the grids passed to Calibrate that held no detection. A
	// missing grid carries no frame number, so these are slice indices, unlike Views[i].Frame.
	Excluded []int
	RMS      float64
}

// Calibrator turns grid observations into a CameraModel.
type Calibrator struct {
	target calibration.Target
	solver Solver
	cfg    Config
	logger logging.Logger
}

// NewCalibrator returns a calibrator for target using solver.
func NewCalibrator(target calibration.Target, solver Solver, cfg Config, logger logging.Logger) (*Calibrator, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if solver == nil {
		return nil, errors.New("a calibration solver is required")
	}
	if cfg.MinViews <= 0 {
		cfg.MinViews = DefaultMinViews
	}
	if logger == nil {
		logger = logging.NewBlankLogger("camera")
	}
	return &Calibrator{target: target, solver: solver, cfg: cfg, logger: logger}, nil
}

// Calibrate solves the camera model from grids, one entry per frame with nil for frames where
// the target was not detected. Callers numbering frames themselves map Excluded back through
// their own frame list.
func (c *Calibrator) Calibrate(grids []*calibration.Grid, imageSize image.Point) (*Calibration, error) {
	objects := c.target.Points()
	var excluded []int
	views := make([]View, 0, len(grids))
	for frame, g := range grids {
		if g == nil {
			excluded = append(excluded, frame)
			continue
		}
		if len(g.Points) != len(objects) {
			return nil, errors.Errorf("frame %d: grid has %d corners, target has %d", g.Frame, len(g.Points), len(objects))
		}
		views = append(views, View{Frame: g.Frame, Object: objects, Image: g.Points})
	}
	if len(views) < c.cfg.MinViews {
		return nil, utils.NewInsufficientDataError("camera calibration views", len(views), c.cfg.MinViews)
	}

	sol, err := c.solver.Solve(views, imageSize)
	if err != nil {
		return nil, errors.Wrap(err, "camera calibration")
	}
	if len(sol.Poses) != len(views) {
		return nil, errors.Errorf("solver returned %d poses for %d views", len(sol.Poses), len(views))
	}

	out := &Calibration{Excluded: excluded}
	var all []float64
	for i, v := range views {
		errs, err := transform.ReprojectionErrors(v.Object, v.Image, sol.Poses[i], sol.Camera)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", v.Frame)
		}
		all = append(all, errs...)
		out.Views = append(out.Views, ViewDiagnostics{Frame: v.Frame, Pose: sol.Poses[i], Errors: utils.SummarizeErrors(errs)})
	}
	out.RMS = utils.SummarizeErrors(all).RMS
	if math.IsNaN(out.RMS) || math.IsInf(out.RMS, 0) {
		return nil, errors.Errorf("camera calibration: residual is not finite (%v)", out.RMS)
	}
	cam := *sol.Camera
	intrinsics := *sol.Camera.PinholeCameraIntrinsics
	intrinsics.Width, intrinsics.Height = imageSize.X, imageSize.Y
	cam.PinholeCameraIntrinsics = &intrinsics
	cam.RMS = out.RMS
	out.Camera = &cam

	worst := lo.MaxBy(out.Views, func(a, b ViewDiagnostics) bool { return a.Errors.Mean > b.Errors.Mean })
	c.logger.Infow("camera calibrated",
		"views", len(views),
		"excluded", excluded,
		"rms", out.RMS,
		"fx", cam.Fx, "fy", cam.Fy, "cx", cam.Ppx, "cy", cam.Ppy,
		"worst_frame", worst.Frame, "worst_mean_error", worst.Errors.Mean,
	)
	return out, nil
}
