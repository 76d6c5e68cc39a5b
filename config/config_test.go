package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/etnalab/triangulation/profile"
)

func TestRead(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RIG_DATA", "/data/rig")
	doc := `{
	"target": {"rows": 6, "cols": 7, "square_size": 10},
	"camera": {"images": "${RIG_DATA}/frame*.png", "min_views": 5},
	"light_plane": {"fit": {"plane_threshold": 0.5, "adaptive": true}},
	"hand_eye": {"pose_dir": "poses"},
	"profile": {"axis": "rows", "threshold": 200, "method": "max"},
	"workers": 2
}`
	path := filepath.Join(dir, "rig.json")
	test.That(t, os.WriteFile(path, []byte(doc), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Camera.Images, test.ShouldEqual, "/data/rig/frame*.png")
	test.That(t, cfg.Camera.MinViews, test.ShouldEqual, 5)
	test.That(t, cfg.Camera.Solver, test.ShouldEqual, SolverZhang)
	test.That(t, cfg.Camera.Output, test.ShouldEqual, filepath.Join(dir, "camera.yml"))
	test.That(t, cfg.LightPlane.Fit.PlaneThreshold, test.ShouldEqual, 0.5)
	test.That(t, cfg.LightPlane.Fit.LineThreshold, test.ShouldEqual, 5.0)
	test.That(t, cfg.LightPlane.Fit.Adaptive, test.ShouldBeTrue)
	test.That(t, cfg.HandEye.PoseDir, test.ShouldEqual, filepath.Join(dir, "poses"))
	test.That(t, cfg.Profile.Axis, test.ShouldEqual, profile.AxisRows)
	test.That(t, cfg.Profile.Threshold, test.ShouldEqual, uint8(200))
	test.That(t, cfg.Profile.Window, test.ShouldEqual, 3)
	test.That(t, cfg.Workers, test.ShouldEqual, 2)

	_, err = Read(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFromReaderRejects(t *testing.T) {
	for _, tc := range []struct {
		name, doc, err string
	}{
		{"syntax", `{"camera": `, "cannot parse config"},
		{"unknown key", `{"camera": {"images": "a", "imgs": "b"}}`, "imgs"},
		{"wrong type", `{"camera": {"images": 3}}`, "cannot decode config"},
		{"no images", `{}`, "images is required"},
		{"solver", `{"camera": {"images": "a", "solver": "magic"}}`, "unknown solver"},
		{"target", `{"camera": {"images": "a"}, "target": {"rows": 1}}`, "target"},
		{"threshold", `{"camera": {"images": "a"}, "light_plane": {"fit": {"line_threshold": -1}}}`, "thresholds must be positive"},
		{"profile", `{"camera": {"images": "a"}, "profile": {"method": "median"}}`, "unknown profile method"},
		{"workers", `{"camera": {"images": "a"}, "workers": -1}`, "workers"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tc.doc))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}
}
