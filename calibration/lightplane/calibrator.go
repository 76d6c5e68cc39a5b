package lightplane

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/etnalab/triangulation/calibration"
	"github.com/etnalab/triangulation/fitting"
	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

const (
	// DefaultReprojectionThreshold drops stripe points whose back-projection disagrees with the
	// observed pixel by this many pixels or more.
	DefaultReprojectionThreshold = 1.0
	// DefaultLineThreshold is the pixel distance of a stripe point to its line fit.
	DefaultLineThreshold = 5.0
	// DefaultPlaneThreshold is the distance of a pooled point to the plane, in target units.
	DefaultPlaneThreshold = 1.0
	// homographySamples is the side of the plane-local grid used to fit the plane homography.
	homographySamples = 5
)

// View is one chessboard frame crossed by the laser stripe. A nil Grid means the target was not
// detected and the view is skipped.
type View struct {
	Frame   int
	Grid    *calibration.Grid
	Profile []r2.Point
}

// Config controls a Calibrator.
type Config struct {
	ReprojectionThreshold float64 `json:"reprojection_threshold"`
	LineThreshold         float64 `json:"line_threshold"`
	PlaneThreshold        float64 `json:"plane_threshold"`
	// Adaptive switches the plane fit from a fixed pass over half the points to adaptive stopping.
	Adaptive bool  `json:"adaptive"`
	Seed     int64 `json:"seed"`
}

func (cfg Config) withDefaults() Config {
	if cfg.ReprojectionThreshold <= 0 {
		cfg.ReprojectionThreshold = DefaultReprojectionThreshold
	}
	if cfg.LineThreshold <= 0 {
		cfg.LineThreshold = DefaultLineThreshold
	}
	if cfg.PlaneThreshold <= 0 {
		cfg.PlaneThreshold = DefaultPlaneThreshold
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return cfg
}

// ViewDiagnostics records what each filtering step kept of a view. Excluded is empty for views
// that contributed points.
type ViewDiagnostics struct {
	Frame       int
	Pose        spatialmath.Pose
	Profile     int
	Consistent  int
	LineInliers int
	Excluded    string
}

// Result is the outcome of Calibrate.
type Result struct {
	LightPlane
	Plane fitting.Plane
	// Points are the pooled camera-frame stripe points, Inliers index the plane inliers.
	Points   []r3.Vector
	Inliers  []int
	Residual utils.ErrorStats
	Views    []ViewDiagnostics
}

// Calibrator fits the laser plane from chessboard views.
type Calibrator struct {
	target calibration.Target
	cfg    Config
	logger logging.Logger
}

// NewCalibrator returns a light plane calibrator for target.
func NewCalibrator(target calibration.Target, cfg Config, logger logging.Logger) (*Calibrator, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewBlankLogger("lightplane")
	}
	return &Calibrator{target: target, cfg: cfg.withDefaults(), logger: logger}, nil
}

type viewPoints struct {
	diag   ViewDiagnostics
	points []r3.Vector
}

// Calibrate extracts the stripe of every view in parallel, pools the surviving points in view
// order and fits the light plane through them.
func (c *Calibrator) Calibrate(ctx context.Context, views []View, camera *transform.CameraModel) (*Result, error) {
	if err := camera.CheckValid(); err != nil {
		return nil, err
	}
	extracted, err := utils.ParallelMap(ctx, views, func(_ context.Context, _ int, v View) (viewPoints, error) {
		return c.extract(v, camera), nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, e := range extracted {
		res.Views = append(res.Views, e.diag)
		if e.diag.Excluded != "" {
			c.logger.Debugw("light plane view excluded", "frame", e.diag.Frame, "reason", e.diag.Excluded)
			continue
		}
		res.Points = append(res.Points, e.points...)
	}
	if len(res.Points) < 3 {
		return nil, utils.NewInsufficientDataError("light plane points", len(res.Points), 3)
	}

	var policy fitting.IterationPolicy = fitting.FixedIterations{}
	if c.cfg.Adaptive {
		policy = fitting.AdaptiveIterations{}
	}
	fit, err := fitting.Fit[r3.Vector, fitting.Plane](res.Points, fitting.PlaneFamily{}, fitting.Config{
		DistanceThreshold: c.cfg.PlaneThreshold,
		Policy:            policy,
		Seed:              c.cfg.Seed,
		Refit:             true,
		Stage:             "light plane",
	})
	if err != nil {
		return nil, err
	}
	res.Plane = fit.Model
	res.Inliers = fit.Inliers
	res.Residual = utils.SummarizeErrors(lo.Map(fit.Inliers, func(i, _ int) float64 {
		return math.Abs(fit.Model.Distance(res.Points[i]))
	}))

	inliers := lo.Map(fit.Inliers, func(i, _ int) r3.Vector { return res.Points[i] })
	res.LightPlane, err = planeHomography(fit.Model, inliers, camera)
	if err != nil {
		return nil, err
	}
	used := lo.CountBy(res.Views, func(d ViewDiagnostics) bool { return d.Excluded == "" })
	c.logger.Infow("light plane calibrated",
		"views", used,
		"excluded", len(res.Views)-used,
		"points", len(res.Points),
		"inliers", len(res.Inliers),
		"normal", res.Plane.Normal,
		"offset", res.Plane.Offset,
		"rms", res.Residual.RMS,
	)
	return res, nil
}

// extract turns the stripe of one view into camera-frame points on the chessboard surface.
func (c *Calibrator) extract(v View, camera *transform.CameraModel) viewPoints {
	out := viewPoints{diag: ViewDiagnostics{Frame: v.Frame, Profile: len(v.Profile)}}
	exclude := func(reason string, args ...interface{}) viewPoints {
		out.diag.Excluded = fmt.Sprintf(reason, args...)
		return out
	}
	if v.Grid == nil {
		return exclude("no chessboard detection")
	}
	if len(v.Grid.Points) != c.target.Size() {
		return exclude("grid has %d corners, target has %d", len(v.Grid.Points), c.target.Size())
	}
	if len(v.Profile) == 0 {
		return exclude("empty laser profile")
	}

	objects := c.target.Points()
	est, err := transform.EstimatePlanarPose(objects, v.Grid.Points, camera, transform.DefaultPoseConfig())
	if err != nil {
		return exclude("chessboard pose: %v", err)
	}
	out.diag.Pose = est.Pose

	corners := lo.Map(v.Grid.Points, func(p r2.Point, _ int) r2.Point { return pinholePixel(camera, p) })
	toImage, err := transform.EstimateHomography(c.target.Points2D(), corners)
	if err != nil {
		return exclude("chessboard homography: %v", err)
	}
	toTarget, err := toImage.Inverse()
	if err != nil {
		return exclude("chessboard homography: %v", err)
	}

	var pixels []r2.Point
	var points []r3.Vector
	for _, px := range v.Profile {
		q := toTarget.Apply(pinholePixel(camera, px))
		if math.IsInf(q.X, 0) || math.IsInf(q.Y, 0) {
			continue
		}
		pt := est.Pose.Transform(r3.Vector{X: q.X, Y: q.Y})
		proj, err := camera.ProjectPoint(pt)
		if err != nil || proj.Sub(px).Norm() >= c.cfg.ReprojectionThreshold {
			continue
		}
		pixels = append(pixels, px)
		points = append(points, pt)
	}
	out.diag.Consistent = len(points)
	if len(points) == 0 {
		return exclude("no profile point reprojects within %v px", c.cfg.ReprojectionThreshold)
	}

	line, err := fitting.Fit[r2.Point, fitting.Line](pixels, fitting.LineFamily{}, fitting.Config{
		DistanceThreshold: c.cfg.LineThreshold,
		Policy:            fitting.FixedIterations{},
		Seed:              c.cfg.Seed + int64(v.Frame),
		Stage:             "laser line",
	})
	if err != nil {
		return exclude("laser line: %v", err)
	}
	out.diag.LineInliers = len(line.Inliers)
	out.points = lo.Map(line.Inliers, func(i, _ int) r3.Vector { return points[i] })
	return out
}

// planeHomography builds the canonical plane pose and the homography from undistorted pixels to
// plane-local coordinates, sampled over the extent of the inliers.
func planeHomography(plane fitting.Plane, inliers []r3.Vector, camera *transform.CameraModel) (LightPlane, error) {
	pose := plane.Pose()
	toLocal := pose.Invert()
	lo2, hi2 := r2.Point{X: math.Inf(1), Y: math.Inf(1)}, r2.Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, p := range inliers {
		l := toLocal.Transform(p)
		lo2 = r2.Point{X: math.Min(lo2.X, l.X), Y: math.Min(lo2.Y, l.Y)}
		hi2 = r2.Point{X: math.Max(hi2.X, l.X), Y: math.Max(hi2.Y, l.Y)}
	}
	// a stripe is thin across its length: give the sample grid a square footprint
	half := math.Max(hi2.X-lo2.X, hi2.Y-lo2.Y) / 2
	if !(half > 0) {
		return LightPlane{}, errors.Wrap(utils.ErrDegenerateSample, "light plane inliers have no extent")
	}
	center := lo2.Add(hi2).Mul(0.5)

	var local, pixels []r2.Point
	for i := 0; i < homographySamples; i++ {
		for j := 0; j < homographySamples; j++ {
			step := 2 * half / (homographySamples - 1)
			l := r2.Point{X: center.X - half + float64(i)*step, Y: center.Y - half + float64(j)*step}
			pt := pose.Transform(r3.Vector{X: l.X, Y: l.Y})
			if pt.Z <= 0 {
				continue
			}
			local = append(local, l)
			pixels = append(pixels, camera.NormalizedToPixel(r2.Point{X: pt.X / pt.Z, Y: pt.Y / pt.Z}))
		}
	}
	h, err := transform.EstimateHomography(pixels, local)
	if err != nil {
		return LightPlane{}, errors.Wrap(err, "light plane homography")
	}
	return LightPlane{Pose: pose, Homography: h}, nil
}
