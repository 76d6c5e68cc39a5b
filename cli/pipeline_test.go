package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/etnalab/triangulation/calibration/calibtest"
	"github.com/etnalab/triangulation/calibration/params"
	"github.com/etnalab/triangulation/config"
	"github.com/etnalab/triangulation/fitting"
	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
)

// fakeProfiles returns the stripe registered for each frame image.
type fakeProfiles struct {
	mu      sync.Mutex
	stripes map[image.Image][]r2.Point
}

func (f *fakeProfiles) Extract(img image.Image) []r2.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stripes[img]
}

var (
	toolToCamera  = spatialmath.NewPose(r3.Vector{X: 10, Y: -20, Z: 50}, spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: 0.1, Y: 0.2, Z: -0.3}))
	worldToTarget = spatialmath.NewPose(r3.Vector{X: 300, Y: 100, Z: -50}, spatialmath.AxisAngleToRotationMatrix(r3.Vector{Z: 0.5}))
)

// laserStripe returns the pixels where the laser plane crosses the target at pose, one per
// millimeter along the target's x axis.
func laserStripe(t *testing.T, cam *transform.CameraModel, pose spatialmath.Pose, plane fitting.Plane) []r2.Point {
	t.Helper()
	rot := pose.Rotation()
	a := plane.Normal.Dot(rot.Col(0))
	b := plane.Normal.Dot(rot.Col(1))
	c := plane.Normal.Dot(pose.Point()) + plane.Offset
	width := float64(calibtest.Target.Cols-1) * calibtest.Target.Spacing
	height := float64(calibtest.Target.Rows-1) * calibtest.Target.Spacing
	var pixels []r2.Point
	for u := 0.; u <= width; u++ {
		v := -(a*u + c) / b
		if v < 0 || v > height {
			continue
		}
		px, err := cam.ProjectPoint(pose.Transform(r3.Vector{X: u, Y: v}))
		test.That(t, err, test.ShouldBeNil)
		pixels = append(pixels, px)
	}
	return pixels
}

func writePose(t *testing.T, dir string, frame int, pose spatialmath.Pose) {
	t.Helper()
	p := pose.Point()
	q := pose.Rotation().Quaternion()
	record := fmt.Sprintf("([%.12f, %.12f, %.12f], [%.12f, %.12f, %.12f, %.12f])\n",
		p.X, p.Y, p.Z, q.Imag, q.Jmag, q.Kmag, q.Real)
	err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("pose%04d.txt", frame)), []byte(record), 0o600)
	test.That(t, err, test.ShouldBeNil)
}

// newTestPipeline builds a pipeline over eight synthetic frames numbered from 10. Frame 13 has no
// visible chessboard and frame 15 has no robot pose.
func newTestPipeline(t *testing.T) (*Pipeline, *bytes.Buffer, fitting.Plane) {
	t.Helper()
	dir := t.TempDir()
	poseDir := filepath.Join(dir, "poses")
	test.That(t, os.Mkdir(poseDir, 0o700), test.ShouldBeNil)

	cam := calibtest.Camera(false)
	plane, err := fitting.NewPlane(r3.Vector{X: 0.1, Y: 1, Z: -0.1}, r3.Vector{Z: 400})
	test.That(t, err, test.ShouldBeNil)

	finder := calibtest.NewCornerFinder()
	profiles := &fakeProfiles{stripes: map[image.Image][]r2.Point{}}
	var frames []Frame
	for i, pose := range calibtest.BoardPoses(8) {
		number := 10 + i
		corners, err := calibtest.ProjectTarget(cam, pose)
		test.That(t, err, test.ShouldBeNil)
		if number == 13 {
			corners = nil
		}
		img := finder.AddFrame(corners)
		profiles.stripes[img] = laserStripe(t, cam, pose, plane)
		frames = append(frames, Frame{Number: number, Image: img})
		if number != 15 {
			tool := spatialmath.Compose(worldToTarget, spatialmath.Compose(pose.Invert(), toolToCamera.Invert()))
			writePose(t, poseDir, number, tool)
		}
	}

	cfg := config.Default()
	cfg.Target = calibtest.Target
	cfg.Camera.Images = filepath.Join(dir, "*.png")
	cfg.Camera.Output = filepath.Join(dir, "camera.yml")
	cfg.LightPlane.Output = filepath.Join(dir, "lightplane.yml")
	cfg.HandEye.PoseDir = poseDir
	cfg.HandEye.Output = filepath.Join(dir, "handeye.yml")

	out := &bytes.Buffer{}
	p, err := NewPipeline(cfg, logging.NewTestLogger(t), out)
	test.That(t, err, test.ShouldBeNil)
	p.Finder = finder
	p.Profiles = profiles
	p.LoadFrames = func(_ context.Context, pattern string) ([]Frame, error) {
		test.That(t, pattern, test.ShouldEqual, cfg.Camera.Images)
		return frames, nil
	}
	return p, out, plane
}

func TestPipelineAll(t *testing.T) {
	p, out, plane := newTestPipeline(t)
	test.That(t, p.All(context.Background()), test.ShouldBeNil)

	cam, err := params.LoadCamera(p.Config.Camera.Output)
	test.That(t, err, test.ShouldBeNil)
	truth := calibtest.Camera(false)
	test.That(t, cam.Fx, test.ShouldAlmostEqual, truth.Fx, 0.5)
	test.That(t, cam.Fy, test.ShouldAlmostEqual, truth.Fy, 0.5)
	test.That(t, cam.Ppx, test.ShouldAlmostEqual, truth.Ppx, 0.5)
	test.That(t, cam.Ppy, test.ShouldAlmostEqual, truth.Ppy, 0.5)

	lp, err := params.LoadLightPlane(p.Config.LightPlane.Output)
	test.That(t, err, test.ShouldBeNil)
	normal := lp.Pose.Rotation().Col(2)
	test.That(t, math.Abs(normal.Dot(plane.Normal)), test.ShouldBeGreaterThan, 1-1e-4)
	test.That(t, plane.Distance(lp.Pose.Point()), test.ShouldBeLessThan, 0.1)

	he, err := params.LoadHandEye(p.Config.HandEye.Output)
	test.That(t, err, test.ShouldBeNil)
	angle, dist := spatialmath.PoseDelta(he.ToolToCamera, toolToCamera)
	test.That(t, angle, test.ShouldBeLessThan, 1e-3)
	test.That(t, dist, test.ShouldBeLessThan, 0.5)
	angle, dist = spatialmath.PoseDelta(he.WorldToTarget, worldToTarget)
	test.That(t, angle, test.ShouldBeLessThan, 1e-3)
	test.That(t, dist, test.ShouldBeLessThan, 0.5)

	r := p.Report
	test.That(t, r.Camera.Views, test.ShouldEqual, 7)
	test.That(t, r.Camera.Excluded, test.ShouldResemble, []int{13})
	test.That(t, r.LightPlane.Views, test.ShouldEqual, 7)
	test.That(t, r.HandEye.Stations, test.ShouldEqual, 6)

	text := out.String()
	test.That(t, text, test.ShouldContainSubstring, "excluded frames [13]")
	test.That(t, text, test.ShouldContainSubstring, "light plane: normal")
	test.That(t, text, test.ShouldContainSubstring, "world to target")

	var buf bytes.Buffer
	test.That(t, r.Write(&buf), test.ShouldBeNil)
	var decoded map[string]interface{}
	test.That(t, json.Unmarshal(buf.Bytes(), &decoded), test.ShouldBeNil)
	test.That(t, decoded["run_id"], test.ShouldEqual, r.RunID)
	test.That(t, decoded, test.ShouldContainKey, "hand_eye")
}

func TestPipelineStagesUseSavedCamera(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	_, err := p.LightPlane(context.Background(), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, os.ErrNotExist), test.ShouldBeTrue)

	_, err = p.Camera(context.Background())
	test.That(t, err, test.ShouldBeNil)
	res, err := p.LightPlane(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Views, test.ShouldHaveLength, 8)
	test.That(t, res.Views[3].Excluded, test.ShouldContainSubstring, "no chessboard detection")
	test.That(t, res.Views[3].Frame, test.ShouldEqual, 13)
}

func TestPipelineHandEyeSkipped(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.Config.HandEye.PoseDir = ""
	wc, err := p.HandEye(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, wc, test.ShouldBeNil)
	test.That(t, p.Report.HandEye, test.ShouldBeNil)
}
