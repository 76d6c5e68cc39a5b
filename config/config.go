// Package config reads the calibration pipeline configuration.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/calibration"
	"github.com/etnalab/triangulation/calibration/camera"
	"github.com/etnalab/triangulation/calibration/lightplane"
	"github.com/etnalab/triangulation/profile"
)

// Solver names.
const (
	SolverZhang  = "zhang"
	SolverOpenCV = "opencv"
)

// Config is the whole pipeline configuration.
type Config struct {
	Target     calibration.Target `json:"target"`
	Camera     CameraConfig       `json:"camera"`
	LightPlane LightPlaneConfig   `json:"light_plane"`
	HandEye    HandEyeConfig      `json:"hand_eye"`
	Profile    profile.Config     `json:"profile"`
	// Workers bounds per-view parallelism. Zero keeps the default.
	Workers int `json:"workers"`
}

// CameraConfig configures camera calibration.
type CameraConfig struct {
	// Images is a glob of the chessboard frames.
	Images string `json:"images"`
	Solver string `json:"solver"`
	// Refine polishes the closed form estimate of the zhang solver.
	Refine   bool   `json:"refine"`
	MinViews int    `json:"min_views"`
	Output   string `json:"output"`
}

// LightPlaneConfig configures light plane calibration. Without Images, the camera frames are reused.
type LightPlaneConfig struct {
	Images string            `json:"images"`
	Fit    lightplane.Config `json:"fit"`
	Output string            `json:"output"`
}

// HandEyeConfig configures the hand-eye solve. It is skipped when PoseDir is empty.
type HandEyeConfig struct {
	PoseDir string `json:"pose_dir"`
	Output  string `json:"output"`
}

// Read reads the JSON configuration at path, expanding ${VAR} references from the environment.
// Relative paths in the file are resolved against its directory.
func Read(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// FromReader decodes a JSON configuration, rejecting unknown keys, applies the defaults and
// validates the result.
func FromReader(r io.Reader) (*Config, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Target: calibration.Target{Rows: 6, Cols: 7, Spacing: 10},
		Camera: CameraConfig{
			Solver:   SolverZhang,
			Refine:   true,
			MinViews: camera.DefaultMinViews,
			Output:   "camera.yml",
		},
		LightPlane: LightPlaneConfig{
			Fit: lightplane.Config{
				ReprojectionThreshold: lightplane.DefaultReprojectionThreshold,
				LineThreshold:         lightplane.DefaultLineThreshold,
				PlaneThreshold:        lightplane.DefaultPlaneThreshold,
				Seed:                  1,
			},
			Output: "lightplane.yml",
		},
		HandEye: HandEyeConfig{Output: "handeye.yml"},
		Profile: profile.DefaultConfig(),
	}
}

// Validate checks that the configuration can drive a calibration.
func (c *Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return errors.Wrap(err, "target")
	}
	if c.Camera.Images == "" {
		return errors.New("camera: images is required")
	}
	switch c.Camera.Solver {
	case SolverZhang, SolverOpenCV:
	default:
		return errors.Errorf("camera: unknown solver %q", c.Camera.Solver)
	}
	if c.Camera.MinViews < 1 {
		return errors.Errorf("camera: min_views must be positive, got %d", c.Camera.MinViews)
	}
	fit := c.LightPlane.Fit
	if fit.ReprojectionThreshold <= 0 || fit.LineThreshold <= 0 || fit.PlaneThreshold <= 0 {
		return errors.New("light_plane: fit thresholds must be positive")
	}
	if err := c.Profile.Validate(); err != nil {
		return errors.Wrap(err, "profile")
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{
		&c.Camera.Images, &c.Camera.Output,
		&c.LightPlane.Images, &c.LightPlane.Output,
		&c.HandEye.PoseDir, &c.HandEye.Output,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}
