package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// halfAngleNormTolerance is how far past 1 a half-angle vector's norm may drift before it is
// rejected instead of clamped.
const halfAngleNormTolerance = 1e-9

// Quaternion returns the unit quaternion of rm with a non-negative real part.
//
// The computation branches on the largest of the trace and the diagonal elements, so it stays
// well conditioned for rotations close to 180 degrees where 1+trace approaches zero.
func (rm *RotationMatrix) Quaternion() quat.Number {
	m := func(i, j int) float64 { return rm.At(i, j) }
	var q quat.Number
	tr := rm.Trace()
	switch {
	case tr > m(0, 0) && tr > m(1, 1) && tr > m(2, 2):
		s := 2 * math.Sqrt(1+tr)
		q = quat.Number{
			Real: s / 4,
			Imag: (m(2, 1) - m(1, 2)) / s,
			Jmag: (m(0, 2) - m(2, 0)) / s,
			Kmag: (m(1, 0) - m(0, 1)) / s,
		}
	case m(0, 0) >= m(1, 1) && m(0, 0) >= m(2, 2):
		s := 2 * math.Sqrt(math.Max(0, 1+m(0, 0)-m(1, 1)-m(2, 2)))
		q = quat.Number{
			Real: (m(2, 1) - m(1, 2)) / s,
			Imag: s / 4,
			Jmag: (m(0, 1) + m(1, 0)) / s,
			Kmag: (m(0, 2) + m(2, 0)) / s,
		}
	case m(1, 1) >= m(2, 2):
		s := 2 * math.Sqrt(math.Max(0, 1+m(1, 1)-m(0, 0)-m(2, 2)))
		q = quat.Number{
			Real: (m(0, 2) - m(2, 0)) / s,
			Imag: (m(0, 1) + m(1, 0)) / s,
			Jmag: s / 4,
			Kmag: (m(1, 2) + m(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(math.Max(0, 1+m(2, 2)-m(0, 0)-m(1, 1)))
		q = quat.Number{
			Real: (m(1, 0) - m(0, 1)) / s,
			Imag: (m(0, 2) + m(2, 0)) / s,
			Jmag: (m(1, 2) + m(2, 1)) / s,
			Kmag: s / 4,
		}
	}
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// Normalize scales q to unit length. The zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/norm, q)
}

// QuatToRotationMatrix converts a quaternion to a rotation matrix. The input is normalized first.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return &RotationMatrix{mat: [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}}
}

// HalfAngle returns the vector part of the unit quaternion of rm, sin(theta/2)*axis, with the
// real part chosen non-negative so that theta lies in [0, pi].
func (rm *RotationMatrix) HalfAngle() r3.Vector {
	q := rm.Quaternion()
	return r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
}

// HalfAngleToRotationMatrix inverts HalfAngle using R = 2*q*qt + 2*w*skew(q) + I - 2*diag(q.q)
// with w = sqrt(1 - q.q). Norms slightly above one from rounding are clamped.
//
// Near a half turn w is the square root of a quantity known to about one ulp, so the result is
// only accurate to a few times sqrt(eps), below 1e-7 per element, there.
func HalfAngleToRotationMatrix(v r3.Vector) (*RotationMatrix, error) {
	n := v.Norm()
	if n*n > 1+halfAngleNormTolerance {
		return nil, errors.Errorf("half-angle vector norm %v exceeds 1", n)
	}
	w := math.Sqrt(math.Max(0, (1-n)*(1+n)))
	return QuatToRotationMatrix(quat.Number{Real: w, Imag: v.X, Jmag: v.Y, Kmag: v.Z}), nil
}

// AxisAngle returns the rotation vector theta*axis of rm, theta in [0, pi].
func (rm *RotationMatrix) AxisAngle() r3.Vector {
	q := rm.Quaternion()
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	sinHalf := v.Norm()
	if sinHalf < 1e-12 {
		// first order: theta*axis ~= 2*v
		return v.Mul(2)
	}
	theta := 2 * math.Atan2(sinHalf, q.Real)
	return v.Mul(theta / sinHalf)
}

// AxisAngleToRotationMatrix converts a rotation vector theta*axis to a rotation matrix.
func AxisAngleToRotationMatrix(aa r3.Vector) *RotationMatrix {
	theta := aa.Norm()
	if theta < 1e-12 {
		return QuatToRotationMatrix(quat.Number{Real: 1, Imag: aa.X / 2, Jmag: aa.Y / 2, Kmag: aa.Z / 2})
	}
	s := math.Sin(theta/2) / theta
	return QuatToRotationMatrix(quat.Number{Real: math.Cos(theta / 2), Imag: aa.X * s, Jmag: aa.Y * s, Kmag: aa.Z * s})
}
