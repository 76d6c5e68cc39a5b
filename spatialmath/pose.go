package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// homogeneousTolerance bounds how far a 4x4 matrix may be from a rigid transform and still be
// accepted by NewPoseFromMatrix.
const homogeneousTolerance = 1e-6

// Pose is a rigid transform x -> R*x + t. A Pose maps coordinates expressed in its child frame
// into its parent frame. The zero value is not valid; use NewZeroPose.
type Pose struct {
	rotation *RotationMatrix
	point    r3.Vector
}

// NewPose returns a pose with the given translation and rotation.
func NewPose(point r3.Vector, rotation *RotationMatrix) Pose {
	return Pose{rotation: rotation, point: point}
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{rotation: IdentityRotation()}
}

// NewPoseFromQuaternion returns a pose from a translation and a (not necessarily unit) quaternion.
func NewPoseFromQuaternion(point r3.Vector, q quat.Number) Pose {
	return NewPose(point, QuatToRotationMatrix(q))
}

// NewPoseFromMatrix reads a 4x4 homogeneous matrix. The bottom row must be (0, 0, 0, 1) and the
// top-left block a proper rotation.
func NewPoseFromMatrix(m mat.Matrix) (Pose, error) {
	if r, c := m.Dims(); r != 4 || c != 4 {
		return Pose{}, errors.Errorf("homogeneous transform must be 4x4, got %dx%d", r, c)
	}
	for j, want := range []float64{0, 0, 0, 1} {
		if math.Abs(m.At(3, j)-want) > homogeneousTolerance {
			return Pose{}, errors.Errorf("homogeneous transform bottom row element %d is %v, want %v", j, m.At(3, j), want)
		}
	}
	rot := NewRotationMatrixFromDense(m)
	if err := rot.CheckValid(homogeneousTolerance); err != nil {
		return Pose{}, err
	}
	return NewPose(r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}, rot), nil
}

// Point returns the translation.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Rotation returns the rotation.
func (p Pose) Rotation() *RotationMatrix {
	if p.rotation == nil {
		return IdentityRotation()
	}
	return p.rotation
}

// Transform maps v from the pose's child frame to its parent frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return p.Rotation().MulVec(v).Add(p.point)
}

// Invert returns the inverse transform (Rt, -Rt*t).
func (p Pose) Invert() Pose {
	rt := p.Rotation().Transpose()
	return NewPose(rt.MulVec(p.point).Mul(-1), rt)
}

// Matrix returns the 4x4 homogeneous matrix of the pose.
func (p Pose) Matrix() *mat.Dense {
	r := p.Rotation()
	return mat.NewDense(4, 4, []float64{
		r.At(0, 0), r.At(0, 1), r.At(0, 2), p.point.X,
		r.At(1, 0), r.At(1, 1), r.At(1, 2), p.point.Y,
		r.At(2, 0), r.At(2, 1), r.At(2, 2), p.point.Z,
		0, 0, 0, 1,
	})
}

func (p Pose) String() string {
	return fmt.Sprintf("{t: %v, aa: %v}", p.point, p.Rotation().AxisAngle())
}

// Compose returns a*b, the pose applying b first and then a.
func Compose(a, b Pose) Pose {
	ra := a.Rotation()
	return NewPose(ra.MulVec(b.point).Add(a.point), ra.Mul(b.Rotation()))
}

// PoseDelta returns the rotation angle in radians and the translation distance between a and b.
func PoseDelta(a, b Pose) (angle, distance float64) {
	rel := a.Rotation().Transpose().Mul(b.Rotation())
	return rel.AxisAngle().Norm(), a.point.Sub(b.point).Norm()
}

// PoseAlmostEqual reports whether a and b agree within tol in both rotation elements and translation.
func PoseAlmostEqual(a, b Pose, tol float64) bool {
	return a.Rotation().AlmostEqual(b.Rotation(), tol) && a.point.Sub(b.point).Norm() <= tol
}
