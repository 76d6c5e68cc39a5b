package cli

import (
	"context"
	"image"
	"io"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/calibration"
	"github.com/etnalab/triangulation/calibration/camera"
	"github.com/etnalab/triangulation/calibration/chessboard"
	"github.com/etnalab/triangulation/calibration/handeye"
	"github.com/etnalab/triangulation/calibration/lightplane"
	"github.com/etnalab/triangulation/calibration/params"
	"github.com/etnalab/triangulation/config"
	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/profile"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
	"github.com/etnalab/triangulation/vision/opencv"
)

var frameNumber = regexp.MustCompile(`(\d+)\.\w+$`)

// Frame is a captured image with the number embedded in its file name.
type Frame struct {
	Number int
	Image  image.Image
}

// ProfileExtractor finds the laser stripe in a frame.
type ProfileExtractor interface {
	Extract(img image.Image) []r2.Point
}

// Pipeline runs the calibration stages with a configuration and its collaborators.
type Pipeline struct {
	Config     *config.Config
	Logger     logging.Logger
	Finder     chessboard.CornerFinder
	Solver     camera.Solver
	Profiles   ProfileExtractor
	LoadFrames func(ctx context.Context, pattern string) ([]Frame, error)
	Out        io.Writer
	Report     *Report
}

// NewPipeline returns a pipeline using OpenCV for corner finding and the configured solver.
func NewPipeline(cfg *config.Config, logger logging.Logger, out io.Writer) (*Pipeline, error) {
	extractor, err := profile.NewExtractor(cfg.Profile)
	if err != nil {
		return nil, err
	}
	var solver camera.Solver = &camera.ZhangSolver{Refine: cfg.Camera.Refine, Logger: logger.Sublogger("zhang")}
	if cfg.Camera.Solver == config.SolverOpenCV {
		solver = &opencv.Solver{Logger: logger.Sublogger("opencv")}
	}
	return &Pipeline{
		Config:     cfg,
		Logger:     logger,
		Finder:     opencv.NewCornerFinder(0),
		Solver:     solver,
		Profiles:   extractor,
		LoadFrames: LoadFrames,
		Out:        out,
		Report:     NewReport(),
	}, nil
}

// LoadFrames reads the images matching pattern in file name order.
func LoadFrames(ctx context.Context, pattern string) ([]Frame, error) {
	paths, err := opencv.Glob(pattern)
	if err != nil {
		return nil, err
	}
	images, err := opencv.ReadImages(ctx, paths)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, len(paths))
	for i, path := range paths {
		frames[i] = Frame{Number: i, Image: images[i]}
		if m := frameNumber.FindStringSubmatch(filepath.Base(path)); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				frames[i].Number = n
			}
		}
	}
	return frames, nil
}

func (p *Pipeline) detector() (*chessboard.Detector, error) {
	return chessboard.NewDetector(p.Config.Target, p.Finder, p.Logger.Sublogger("chessboard"))
}

// detect finds the target in every frame. Grids are indexed like frames and carry the frame number.
func (p *Pipeline) detect(ctx context.Context, pattern string) ([]Frame, *chessboard.Detections, error) {
	frames, err := p.LoadFrames(ctx, pattern)
	if err != nil {
		return nil, nil, err
	}
	det, err := p.detector()
	if err != nil {
		return nil, nil, err
	}
	images := make([]image.Image, len(frames))
	for i, f := range frames {
		images[i] = f.Image
	}
	detections, err := det.DetectAll(ctx, images)
	if err != nil {
		return nil, nil, err
	}
	for i, g := range detections.Grids {
		if g != nil {
			g.Frame = frames[i].Number
		}
	}
	return frames, detections, nil
}

// Camera calibrates the camera from the configured chessboard frames and saves it.
func (p *Pipeline) Camera(ctx context.Context) (*transform.CameraModel, error) {
	frames, detections, err := p.detect(ctx, p.Config.Camera.Images)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, utils.NewInsufficientDataError("camera frames", 0, 1)
	}
	cal, err := camera.NewCalibrator(p.Config.Target, p.Solver, camera.Config{MinViews: p.Config.Camera.MinViews},
		p.Logger.Sublogger("camera"))
	if err != nil {
		return nil, err
	}
	size := frames[0].Image.Bounds().Size()
	res, err := cal.Calibrate(detections.Grids, size)
	if err != nil {
		return nil, err
	}
	// Excluded holds positions in the frame list
	excluded := make([]int, len(res.Excluded))
	for i, idx := range res.Excluded {
		excluded[i] = frames[idx].Number
	}
	if err := params.SaveCamera(p.Config.Camera.Output, res.Camera); err != nil {
		return nil, err
	}
	p.Report.addCamera(res, excluded)
	printCameraTable(p.Out, res, excluded)
	return res.Camera, nil
}

// loadCamera returns cam, or the saved camera when cam is nil.
func (p *Pipeline) loadCamera(cam *transform.CameraModel) (*transform.CameraModel, error) {
	if cam != nil {
		return cam, nil
	}
	return params.LoadCamera(p.Config.Camera.Output)
}

// LightPlane calibrates the laser plane with cam, or with the saved camera when cam is nil.
func (p *Pipeline) LightPlane(ctx context.Context, cam *transform.CameraModel) (*lightplane.Result, error) {
	cam, err := p.loadCamera(cam)
	if err != nil {
		return nil, err
	}
	pattern := p.Config.LightPlane.Images
	if pattern == "" {
		pattern = p.Config.Camera.Images
	}
	frames, detections, err := p.detect(ctx, pattern)
	if err != nil {
		return nil, err
	}
	views, err := utils.ParallelMap(ctx, frames, func(_ context.Context, i int, f Frame) (lightplane.View, error) {
		return lightplane.View{Frame: f.Number, Grid: detections.Grids[i], Profile: p.Profiles.Extract(f.Image)}, nil
	})
	if err != nil {
		return nil, err
	}
	cal, err := lightplane.NewCalibrator(p.Config.Target, p.Config.LightPlane.Fit, p.Logger.Sublogger("lightplane"))
	if err != nil {
		return nil, err
	}
	res, err := cal.Calibrate(ctx, views, cam)
	if err != nil {
		return nil, err
	}
	if err := params.SaveLightPlane(p.Config.LightPlane.Output, &res.LightPlane); err != nil {
		return nil, err
	}
	p.Report.addLightPlane(res)
	printLightPlaneTable(p.Out, res)
	return res, nil
}

// HandEye solves the workcell from the robot pose log and the chessboard poses of the frames with
// the same numbers. It returns nil without error when no pose log is configured.
func (p *Pipeline) HandEye(ctx context.Context, cam *transform.CameraModel) (*handeye.Workcell, error) {
	if p.Config.HandEye.PoseDir == "" {
		p.Logger.Info("no pose log configured, skipping hand-eye calibration")
		return nil, nil
	}
	cam, err := p.loadCamera(cam)
	if err != nil {
		return nil, err
	}
	records, err := params.ReadPoseLog(p.Config.HandEye.PoseDir)
	if err != nil {
		return nil, err
	}
	tools := make(map[int]spatialmath.Pose, len(records))
	for _, r := range records {
		tools[r.Frame] = r.Pose
	}
	_, detections, err := p.detect(ctx, p.Config.Camera.Images)
	if err != nil {
		return nil, err
	}
	det, err := p.detector()
	if err != nil {
		return nil, err
	}

	var toolPoses, targetPoses []spatialmath.Pose
	for _, g := range calibration.ValidGrids(detections.Grids) {
		tool, ok := tools[g.Frame]
		if !ok {
			p.Logger.Warnw("frame has no robot pose", "frame", g.Frame)
			continue
		}
		est, err := det.EstimatePose(g, cam)
		if err != nil {
			p.Logger.Warnw("frame skipped", "frame", g.Frame, "error", err)
			continue
		}
		toolPoses = append(toolPoses, tool)
		targetPoses = append(targetPoses, est.Pose)
	}
	wc, err := handeye.SolveWorkcell(toolPoses, targetPoses, p.Logger.Sublogger("handeye"))
	if err != nil {
		return nil, err
	}
	if err := params.SaveHandEye(p.Config.HandEye.Output, params.HandEye{
		ToolToCamera:  wc.ToolToCamera,
		WorldToTarget: wc.WorldToTarget,
	}); err != nil {
		return nil, err
	}
	p.Report.addHandEye(wc, len(toolPoses))
	printHandEyeTable(p.Out, wc)
	return wc, nil
}

// All runs every stage in order, passing the calibrated camera along.
func (p *Pipeline) All(ctx context.Context) error {
	cam, err := p.Camera(ctx)
	if err != nil {
		return errors.Wrap(err, "camera calibration")
	}
	if _, err := p.LightPlane(ctx, cam); err != nil {
		return errors.Wrap(err, "light plane calibration")
	}
	if _, err := p.HandEye(ctx, cam); err != nil {
		return errors.Wrap(err, "hand-eye calibration")
	}
	return nil
}
