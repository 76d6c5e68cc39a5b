package params

import (
	"io"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/calibration/lightplane"
	"github.com/etnalab/triangulation/rimage/transform"
	"github.com/etnalab/triangulation/spatialmath"
)

// rotationTolerance is how far a stored rotation may be from orthonormal.
const rotationTolerance = 1e-6

type poseFile struct {
	Rotation    matrix    `yaml:"rotation"`
	Translation []float64 `yaml:"translation,flow"`
}

func newPoseFile(p spatialmath.Pose) poseFile {
	t := p.Point()
	return poseFile{Rotation: newMatrix(p.Rotation().Dense()), Translation: []float64{t.X, t.Y, t.Z}}
}

func (f poseFile) pose(name string) (spatialmath.Pose, error) {
	r, err := f.Rotation.dense(name+" rotation", 3, 3)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	rot := spatialmath.NewRotationMatrixFromDense(r)
	if err := rot.CheckValid(rotationTolerance); err != nil {
		return spatialmath.Pose{}, errors.Wrapf(err, "%s rotation", name)
	}
	if len(f.Translation) != 3 {
		return spatialmath.Pose{}, errors.Errorf("%s translation must have 3 elements, got %d", name, len(f.Translation))
	}
	return spatialmath.NewPose(r3.Vector{X: f.Translation[0], Y: f.Translation[1], Z: f.Translation[2]}, rot), nil
}

type lightPlaneFile struct {
	Pose       poseFile `yaml:"pose"`
	Homography matrix   `yaml:"homography"`
}

// WriteLightPlane writes lp as YAML.
func WriteLightPlane(w io.Writer, lp *lightplane.LightPlane) error {
	if err := lp.Validate(); err != nil {
		return err
	}
	return encode(w, lightPlaneFile{Pose: newPoseFile(lp.Pose), Homography: newMatrix(lp.Homography.Dense())})
}

// ReadLightPlane reads a light plane written by WriteLightPlane.
func ReadLightPlane(r io.Reader) (*lightplane.LightPlane, error) {
	var f lightPlaneFile
	if err := decode(r, &f); err != nil {
		return nil, err
	}
	pose, err := f.Pose.pose("pose")
	if err != nil {
		return nil, err
	}
	hd, err := f.Homography.dense("homography", 3, 3)
	if err != nil {
		return nil, err
	}
	h, err := transform.NewHomographyFromDense(hd)
	if err != nil {
		return nil, err
	}
	return &lightplane.LightPlane{Pose: pose, Homography: h}, nil
}

// SaveLightPlane writes lp to the file at path.
func SaveLightPlane(path string, lp *lightplane.LightPlane) error {
	return saveFile(path, func(w io.Writer) error { return WriteLightPlane(w, lp) })
}

// LoadLightPlane reads the light plane file at path.
func LoadLightPlane(path string) (*lightplane.LightPlane, error) {
	var lp *lightplane.LightPlane
	err := loadFile(path, func(r io.Reader) error {
		var err error
		lp, err = ReadLightPlane(r)
		return err
	})
	return lp, err
}
