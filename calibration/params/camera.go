package params

import (
	"io"

	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/rimage/transform"
)

// cameraFile is the layout of a camera parameter file.
type cameraFile struct {
	RMS    float64   `yaml:"rms"`
	Mat    matrix    `yaml:"mat"`
	Coef   []float64 `yaml:"coef"`
	Width  int       `yaml:"width,omitempty"`
	Height int       `yaml:"height,omitempty"`
}

// WriteCamera writes cam as YAML.
func WriteCamera(w io.Writer, cam *transform.CameraModel) error {
	if err := cam.CheckValid(); err != nil {
		return err
	}
	return encode(w, cameraFile{
		RMS:    cam.RMS,
		Mat:    newMatrix(cam.GetCameraMatrix()),
		Coef:   cam.Distortion.Parameters(),
		Width:  cam.Width,
		Height: cam.Height,
	})
}

// ReadCamera reads a camera written by WriteCamera. The intrinsic matrix must have the form
// (fx, 0, cx; 0, fy, cy; 0, 0, 1).
func ReadCamera(r io.Reader) (*transform.CameraModel, error) {
	var f cameraFile
	if err := decode(r, &f); err != nil {
		return nil, err
	}
	if f.RMS < 0 {
		return nil, errors.Errorf("rms must be non-negative, got %v", f.RMS)
	}
	k, err := f.Mat.dense("mat", 3, 3)
	if err != nil {
		return nil, err
	}
	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromMatrix(k, f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	dist, err := transform.NewBrownConrady(f.Coef)
	if err != nil {
		return nil, errors.Wrap(err, "coef")
	}
	return &transform.CameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: dist, RMS: f.RMS}, nil
}

// SaveCamera writes cam to the file at path.
func SaveCamera(path string, cam *transform.CameraModel) error {
	return saveFile(path, func(w io.Writer) error { return WriteCamera(w, cam) })
}

// LoadCamera reads the camera file at path.
func LoadCamera(path string) (*transform.CameraModel, error) {
	var cam *transform.CameraModel
	err := loadFile(path, func(r io.Reader) error {
		var err error
		cam, err = ReadCamera(r)
		return err
	})
	return cam, err
}
