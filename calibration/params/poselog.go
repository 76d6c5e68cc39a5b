package params

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v3"

	"github.com/etnalab/triangulation/spatialmath"
)

// poseLogName matches robot pose records such as pose0007.txt.
var poseLogName = regexp.MustCompile(`^pose(\d+)\.txt$`)

// PoseRecord is one robot pose, tool in base, with the frame number of its capture.
type PoseRecord struct {
	Frame int
	Pose  spatialmath.Pose
}

// ParsePose parses a record of the form ([x, y, z], [qx, qy, qz, qw]): a translation followed
// by a unit quaternion with its real part last.
func ParsePose(r io.Reader) (spatialmath.Pose, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	text := strings.TrimSpace(string(raw))
	// a tuple of lists is a YAML flow sequence once its parentheses are swapped
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		text = "[" + text[1:len(text)-1] + "]"
	}
	var record [][]float64
	if err := yaml.Unmarshal([]byte(text), &record); err != nil {
		return spatialmath.Pose{}, errors.Wrap(err, "pose record")
	}
	if len(record) != 2 || len(record[0]) != 3 || len(record[1]) != 4 {
		return spatialmath.Pose{}, errors.Errorf("pose record must hold a 3-vector and a 4-vector, got %v", record)
	}
	t, q := record[0], record[1]
	rot := quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]}
	if quat.Abs(rot) < 1e-9 {
		return spatialmath.Pose{}, errors.New("pose record has a zero quaternion")
	}
	return spatialmath.NewPoseFromQuaternion(r3.Vector{X: t[0], Y: t[1], Z: t[2]}, rot), nil
}

// ReadPoseLog reads every pose%04d.txt record in dir, ordered by frame number.
func ReadPoseLog(dir string) ([]PoseRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var records []PoseRecord
	for _, e := range entries {
		m := poseLogName.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		frame, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, errors.Wrapf(err, "pose log %s", e.Name())
		}
		var pose spatialmath.Pose
		if err := loadFile(filepath.Join(dir, e.Name()), func(r io.Reader) error {
			pose, err = ParsePose(r)
			return err
		}); err != nil {
			return nil, err
		}
		records = append(records, PoseRecord{Frame: frame, Pose: pose})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Frame < records[j].Frame })
	return records, nil
}
