package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// BrownConrady is the radial/tangential lens distortion model, with its coefficients in the
// order (k1, k2, p1, p2, k3) used by calibration parameter files:
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
	RadialK3     float64 `json:"rk3"`
}

// NewBrownConrady takes in a slice of floats that will be passed into the struct in order.
// Missing trailing coefficients are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	for i, v := range padded {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("distortion coefficient %d is not finite: %v", i, v)
		}
	}
	return &BrownConrady{padded[0], padded[1], padded[2], padded[3], padded[4]}, nil
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{0, 0, 0, 0, 0}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Distort applies the forward model to undistorted normalized coordinates.
func (bc *BrownConrady) Distort(pt r2.Point) r2.Point {
	if bc == nil {
		return pt
	}
	x, y := pt.X, pt.Y
	rSq := x*x + y*y
	radDist := 1 + bc.RadialK1*rSq + bc.RadialK2*rSq*rSq + bc.RadialK3*rSq*rSq*rSq
	return r2Point(
		x*radDist+2*bc.TangentialP1*x*y+bc.TangentialP2*(rSq+2*x*x),
		y*radDist+2*bc.TangentialP2*x*y+bc.TangentialP1*(rSq+2*y*y),
	)
}

// Undistort inverts Distort with Newton-Raphson iterations started at the distorted point.
func (bc *BrownConrady) Undistort(pt r2.Point) r2.Point {
	if bc == nil {
		return pt
	}
	const maxIterations = 20
	const tolerance = 1e-12

	xd, yd := pt.X, pt.Y
	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		rSq := xu*xu + yu*yu
		r4 := rSq * rSq
		r6 := r4 * rSq

		radDist := 1.0 + bc.RadialK1*rSq + bc.RadialK2*r4 + bc.RadialK3*r6
		errX := xu*radDist + 2.0*bc.TangentialP1*xu*yu + bc.TangentialP2*(rSq+2.0*xu*xu) - xd
		errY := yu*radDist + 2.0*bc.TangentialP2*xu*yu + bc.TangentialP1*(rSq+2.0*yu*yu) - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		// J = [[dxd/dxu, dxd/dyu], [dyd/dxu, dyd/dyu]]
		dRadDistDxu := 2.0 * xu * (bc.RadialK1 + 2.0*bc.RadialK2*rSq + 3.0*bc.RadialK3*r4)
		dRadDistDyu := 2.0 * yu * (bc.RadialK1 + 2.0*bc.RadialK2*rSq + 3.0*bc.RadialK3*r4)

		dxdDxu := radDist + xu*dRadDistDxu + 2.0*bc.TangentialP1*yu + 6.0*bc.TangentialP2*xu
		dxdDyu := xu*dRadDistDyu + 2.0*bc.TangentialP1*xu + 2.0*bc.TangentialP2*yu
		dydDxu := yu*dRadDistDxu + 2.0*bc.TangentialP2*yu + 2.0*bc.TangentialP1*xu
		dydDyu := radDist + yu*dRadDistDyu + 2.0*bc.TangentialP2*xu + 6.0*bc.TangentialP1*yu

		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}
	return r2Point(xu, yu)
}

func r2Point(x, y float64) r2.Point {
	return r2.Point{X: x, Y: y}
}
