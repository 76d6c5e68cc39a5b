// Package handeye solves the hand-eye problem AX = XB with the closed form of Tsai and Lenz.
//
// The inputs are two equally long pose sequences measured at the same stations: the gripper
// poses (tool in robot base) and the camera observations (target in camera). The solution is
// the fixed transform between the gripper and the camera.
package handeye

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

const (
	rankTol = 1e-10
	// halfTurnReal bounds the quaternion real part of relative rotations treated as half turns,
	// whose axis sign is ambiguous.
	halfTurnReal = 0.05
	// parallelTol bounds |a x b|/(|a||b|) for axes treated as parallel.
	parallelTol = 1e-6
	// ambiguityTol and ambiguityRelTol bound the closure gap between sign candidates that count
	// as a tie.
	ambiguityTol    = 1e-9
	ambiguityRelTol = 0.01
)

// Solution is the hand-eye transform with the residuals of AX = XB over every station pair.
type Solution struct {
	Hcg   spatialmath.Pose
	Pairs int
	// RotationResidual is in radians, TranslationResidual in pose units.
	RotationResidual    utils.ErrorStats
	TranslationResidual utils.ErrorStats
}

type motion struct {
	g, c spatialmath.Pose
	pg   r3.Vector
	pc   r3.Vector
}

// relativeMotions returns the motions between every station pair i < j:
// Hg_ij = inv(Hg_j)*Hg_i and Hc_ij = Hc_j*inv(Hc_i).
func relativeMotions(hgs, hcs []spatialmath.Pose) []motion {
	var out []motion
	for i := range hgs {
		for j := i + 1; j < len(hgs); j++ {
			g := spatialmath.Compose(hgs[j].Invert(), hgs[i])
			c := spatialmath.Compose(hcs[j], hcs[i].Invert())
			out = append(out, motion{
				g:  g,
				c:  c,
				pg: g.Rotation().HalfAngle().Mul(2),
				pc: c.Rotation().HalfAngle().Mul(2),
			})
		}
	}
	return out
}

func (m motion) halfTurn() bool {
	return m.g.Rotation().Quaternion().Real < halfTurnReal || m.c.Rotation().Quaternion().Real < halfTurnReal
}

// Solve returns Hcg from gripper poses hgs and camera poses hcs.
func Solve(hgs, hcs []spatialmath.Pose, logger logging.Logger) (*Solution, error) {
	if len(hgs) != len(hcs) {
		return nil, errors.Errorf("hand-eye: have %d gripper poses but %d camera poses", len(hgs), len(hcs))
	}
	if len(hgs) < 2 {
		return nil, utils.NewInsufficientDataError("hand-eye stations", len(hgs), 2)
	}
	motions := relativeMotions(hgs, hcs)

	var regular, halfTurns []motion
	for _, m := range motions {
		if m.halfTurn() {
			halfTurns = append(halfTurns, m)
		} else {
			regular = append(regular, m)
		}
	}
	hcg, err := solveMotions(regular, halfTurns, motions)
	if err != nil {
		return nil, err
	}

	sol := &Solution{Hcg: hcg, Pairs: len(motions)}
	var angles, dists []float64
	for _, m := range motions {
		angle, dist := spatialmath.PoseDelta(spatialmath.Compose(m.g, sol.Hcg), spatialmath.Compose(sol.Hcg, m.c))
		angles = append(angles, angle)
		dists = append(dists, dist)
	}
	sol.RotationResidual = utils.SummarizeErrors(angles)
	sol.TranslationResidual = utils.SummarizeErrors(dists)
	if logger != nil {
		logger.Debugw("hand-eye solved",
			"stations", len(hgs),
			"pairs", len(motions),
			"half_turns", len(halfTurns),
			"rotation_rms", sol.RotationResidual.RMS,
			"translation_rms", sol.TranslationResidual.RMS,
		)
	}
	return sol, nil
}

// solveMotions solves Hcg. Half turns are solved last: their axis sign is chosen to agree with
// the estimate from the other pairs. When those pairs cannot fix the rotation, the signs of up
// to two seed half turns are enumerated and the candidate with the smallest closure wins.
func solveMotions(regular, halfTurns, all []motion) (spatialmath.Pose, error) {
	if len(halfTurns) == 0 {
		return solvePose(regular, all)
	}
	if len(regular) > 0 {
		if ref, err := solveRotation(regular); err == nil {
			return solvePose(concat(regular, alignHalfTurns(halfTurns, ref)), all)
		}
	}
	return searchHalfTurnSigns(regular, halfTurns, all)
}

func solvePose(rotation, all []motion) (spatialmath.Pose, error) {
	rcg, err := solveRotation(rotation)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	tcg, err := solveTranslation(all, rcg)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return spatialmath.NewPose(tcg, rcg), nil
}

// alignHalfTurns flips Pc of every half turn whose axis disagrees with ref.
func alignHalfTurns(halfTurns []motion, ref *spatialmath.RotationMatrix) []motion {
	out := make([]motion, len(halfTurns))
	for i, m := range halfTurns {
		if m.pg.Dot(ref.MulVec(m.pc)) < 0 {
			m.pc = m.pc.Mul(-1)
		}
		out[i] = m
	}
	return out
}

func concat(a, b []motion) []motion {
	out := make([]motion, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

type candidate struct {
	hcg   spatialmath.Pose
	score float64
}

func searchHalfTurnSigns(regular, halfTurns, all []motion) (spatialmath.Pose, error) {
	seeds := []int{0}
	first := halfTurns[0].pc
	for i := 1; i < len(halfTurns); i++ {
		pc := halfTurns[i].pc
		if pc.Cross(first).Norm() > parallelTol*pc.Norm()*first.Norm() {
			seeds = append(seeds, i)
			break
		}
	}
	scale := closureScale(all)

	var candidates []candidate
	var lastErr error
	for signs := 0; signs < 1<<len(seeds); signs++ {
		flipped := make([]motion, len(halfTurns))
		copy(flipped, halfTurns)
		seedMotions := concat(regular, nil)
		for k, idx := range seeds {
			if signs&(1<<k) != 0 {
				flipped[idx].pc = flipped[idx].pc.Mul(-1)
			}
			seedMotions = append(seedMotions, flipped[idx])
		}
		ref, err := solveRotation(seedMotions)
		if err != nil {
			lastErr = err
			continue
		}
		hcg, err := solvePose(concat(regular, alignHalfTurns(flipped, ref)), all)
		if err != nil {
			lastErr = err
			continue
		}
		candidates = append(candidates, candidate{hcg: hcg, score: closureScore(all, hcg, scale)})
	}
	if len(candidates) == 0 {
		return spatialmath.Pose{}, lastErr
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score < best.score {
			best = c
		}
	}
	tie := ambiguityTol*scale + ambiguityRelTol*best.score
	for _, c := range candidates {
		if c.score > best.score+tie {
			continue
		}
		if angle, dist := spatialmath.PoseDelta(c.hcg, best.hcg); angle > 1e-6 || dist > 1e-6*scale {
			return spatialmath.Pose{}, errors.Wrapf(utils.ErrRankDeficient,
				"hand-eye rotation: half-turn axis signs are ambiguous (closure %v and %v)", best.score, c.score)
		}
	}
	return best.hcg, nil
}

// closureScale is the mean translation length of the motions, at least 1. It weights rotation
// closure against translation closure.
func closureScale(motions []motion) float64 {
	sum := 0.
	for _, m := range motions {
		sum += m.g.Point().Norm() + m.c.Point().Norm()
	}
	return math.Max(1, sum/float64(2*len(motions)))
}

// closureScore is the RMS of the AX = XB residuals, rotation angles scaled to length units.
func closureScore(motions []motion, hcg spatialmath.Pose, scale float64) float64 {
	sum := 0.
	for _, m := range motions {
		angle, dist := spatialmath.PoseDelta(spatialmath.Compose(m.g, hcg), spatialmath.Compose(hcg, m.c))
		sum += angle*angle*scale*scale + dist*dist
	}
	return math.Sqrt(sum / float64(len(motions)))
}

// solveRotation stacks skew(Pg+Pc)*x = Pc-Pg over the motions and maps the least squares x to
// the rotation with half-angle vector x/sqrt(1+|x|^2).
func solveRotation(motions []motion) (*spatialmath.RotationMatrix, error) {
	lhs := mat.NewDense(3*len(motions), 3, nil)
	rhs := mat.NewVecDense(3*len(motions), nil)
	for k, m := range motions {
		lhs.Slice(3*k, 3*k+3, 0, 3).(*mat.Dense).Copy(spatialmath.Skew(m.pg.Add(m.pc)))
		d := m.pc.Sub(m.pg)
		rhs.SetVec(3*k, d.X)
		rhs.SetVec(3*k+1, d.Y)
		rhs.SetVec(3*k+2, d.Z)
	}
	x, err := leastSquares("hand-eye rotation", lhs, rhs)
	if err != nil {
		return nil, err
	}
	pcg := x.Mul(2 / math.Sqrt(1+x.Norm2()))
	return spatialmath.HalfAngleToRotationMatrix(pcg.Mul(0.5))
}

// solveTranslation stacks (Rg - I)*t = Rcg*tc - tg over the motions.
func solveTranslation(motions []motion, rcg *spatialmath.RotationMatrix) (r3.Vector, error) {
	lhs := mat.NewDense(3*len(motions), 3, nil)
	rhs := mat.NewVecDense(3*len(motions), nil)
	for k, m := range motions {
		rg := m.g.Rotation()
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				v := rg.At(r, c)
				if r == c {
					v--
				}
				lhs.Set(3*k+r, c, v)
			}
		}
		d := rcg.MulVec(m.c.Point()).Sub(m.g.Point())
		rhs.SetVec(3*k, d.X)
		rhs.SetVec(3*k+1, d.Y)
		rhs.SetVec(3*k+2, d.Z)
	}
	return leastSquares("hand-eye translation", lhs, rhs)
}

// leastSquares solves the overdetermined 3-column system after checking it has full rank.
func leastSquares(stage string, a *mat.Dense, b *mat.VecDense) (r3.Vector, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return r3.Vector{}, errors.Errorf("%s: svd factorization failed", stage)
	}
	if rank := svd.Rank(rankTol); rank < 3 {
		return r3.Vector{}, utils.NewRankDeficientError(stage, rank, 3)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return r3.Vector{}, errors.Wrap(err, stage)
	}
	return r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}, nil
}
