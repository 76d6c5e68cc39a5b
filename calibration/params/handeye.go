package params

import (
	"io"

	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/spatialmath"
)

// HandEye holds the transforms of a calibrated workcell.
type HandEye struct {
	ToolToCamera  spatialmath.Pose
	WorldToTarget spatialmath.Pose
}

type handEyeFile struct {
	ToolToCamera  matrix `yaml:"tool_to_camera"`
	WorldToTarget matrix `yaml:"world_to_target"`
}

// WriteHandEye writes he as YAML with both transforms as 4x4 homogeneous matrices.
func WriteHandEye(w io.Writer, he HandEye) error {
	return encode(w, handEyeFile{
		ToolToCamera:  newMatrix(he.ToolToCamera.Matrix()),
		WorldToTarget: newMatrix(he.WorldToTarget.Matrix()),
	})
}

// ReadHandEye reads transforms written by WriteHandEye.
func ReadHandEye(r io.Reader) (HandEye, error) {
	var f handEyeFile
	if err := decode(r, &f); err != nil {
		return HandEye{}, err
	}
	var he HandEye
	for _, field := range []struct {
		name string
		m    matrix
		out  *spatialmath.Pose
	}{
		{"tool_to_camera", f.ToolToCamera, &he.ToolToCamera},
		{"world_to_target", f.WorldToTarget, &he.WorldToTarget},
	} {
		d, err := field.m.dense(field.name, 4, 4)
		if err != nil {
			return HandEye{}, err
		}
		if *field.out, err = spatialmath.NewPoseFromMatrix(d); err != nil {
			return HandEye{}, errors.Wrap(err, field.name)
		}
	}
	return he, nil
}

// SaveHandEye writes he to the file at path.
func SaveHandEye(path string, he HandEye) error {
	return saveFile(path, func(w io.Writer) error { return WriteHandEye(w, he) })
}

// LoadHandEye reads the hand-eye file at path.
func LoadHandEye(path string) (HandEye, error) {
	var he HandEye
	err := loadFile(path, func(r io.Reader) error {
		var err error
		he, err = ReadHandEye(r)
		return err
	})
	return he, err
}
