package handeye

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

var (
	toolToCamera = spatialmath.NewPose(
		r3.Vector{X: 12, Y: -40, Z: 85},
		spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: 0.3, Y: -0.2, Z: 1.4}),
	)
	worldToTarget = spatialmath.NewPose(
		r3.Vector{X: 600, Y: 150, Z: -20},
		spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: 3.0, Y: 0.1, Z: -0.2}),
	)
)

// stations returns the target poses a camera at toolToCamera would measure from tool poses.
func stations(tools []spatialmath.Pose) []spatialmath.Pose {
	out := make([]spatialmath.Pose, len(tools))
	for i, tool := range tools {
		out[i] = spatialmath.Compose(spatialmath.Compose(toolToCamera.Invert(), tool.Invert()), worldToTarget)
	}
	return out
}

func randomTools(n int, seed int64) []spatialmath.Pose {
	rnd := rand.New(rand.NewSource(seed))
	tools := make([]spatialmath.Pose, n)
	for i := range tools {
		axis := r3.Vector{X: rnd.NormFloat64(), Y: rnd.NormFloat64(), Z: rnd.NormFloat64()}.Normalize()
		angle := 0.2 + 1.2*rnd.Float64()
		tools[i] = spatialmath.NewPose(
			r3.Vector{X: 400 + 100*rnd.Float64(), Y: 200*rnd.Float64() - 100, Z: 300 + 50*rnd.Float64()},
			spatialmath.AxisAngleToRotationMatrix(axis.Mul(angle)),
		)
	}
	return tools
}

func TestSolveExact(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, n := range []int{3, 5, 8} {
		tools := randomTools(n, int64(n))
		sol, err := Solve(tools, stations(tools), logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Pairs, test.ShouldEqual, n*(n-1)/2)
		test.That(t, spatialmath.PoseAlmostEqual(sol.Hcg, toolToCamera, 1e-6), test.ShouldBeTrue)
		test.That(t, sol.RotationResidual.Max, test.ShouldBeLessThan, 1e-8)
		test.That(t, sol.TranslationResidual.Max, test.ShouldBeLessThan, 1e-6)
	}
}

func TestSolveHalfTurns(t *testing.T) {
	logger := logging.NewTestLogger(t)
	tools := []spatialmath.Pose{
		spatialmath.NewPose(r3.Vector{X: 400}, spatialmath.IdentityRotation()),
		spatialmath.NewPose(r3.Vector{X: 420, Y: 30}, spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: math.Pi})),
		spatialmath.NewPose(r3.Vector{X: 380, Z: 40}, spatialmath.AxisAngleToRotationMatrix(r3.Vector{Y: math.Pi})),
	}
	tools = append(tools, randomTools(3, 7)...)
	sol, err := Solve(tools, stations(tools), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(sol.Hcg, toolToCamera, 1e-6), test.ShouldBeTrue)
}

func TestSolveOnlyHalfTurns(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rotations := []*spatialmath.RotationMatrix{
		spatialmath.IdentityRotation(),
		spatialmath.AxisAngleToRotationMatrix(r3.Vector{X: math.Pi}),
		spatialmath.AxisAngleToRotationMatrix(r3.Vector{Y: math.Pi}),
		spatialmath.AxisAngleToRotationMatrix(r3.Vector{Z: math.Pi}),
	}
	offsets := []r3.Vector{{X: 400}, {X: 450, Y: 60, Z: -20}, {X: 380, Y: -35, Z: 70}, {X: 420, Y: 25, Z: 45}}
	tools := make([]spatialmath.Pose, len(rotations))
	for i, rot := range rotations {
		tools[i] = spatialmath.NewPose(offsets[i], rot)
	}
	sol, err := Solve(tools, stations(tools), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(sol.Hcg, toolToCamera, 1e-6), test.ShouldBeTrue)
	test.That(t, sol.TranslationResidual.Max, test.ShouldBeLessThan, 1e-6)

	// without tool translation the half turns commute with each other and cannot fix Hcg
	for i, rot := range rotations {
		tools[i] = spatialmath.NewPose(r3.Vector{}, rot)
	}
	_, err = Solve(tools, stations(tools), logger)
	test.That(t, errors.Is(err, utils.ErrRankDeficient), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ambiguous")

	// a single half turn leaves the rotation underdetermined
	_, err = Solve(tools[:2], stations(tools[:2]), logger)
	test.That(t, errors.Is(err, utils.ErrRankDeficient), test.ShouldBeTrue)
}

func TestSolveNoisy(t *testing.T) {
	logger := logging.NewTestLogger(t)
	tools := randomTools(10, 5)
	exact := stations(tools)
	for _, sigma := range []float64{1e-5, 1e-4, 1e-3} {
		rnd := rand.New(rand.NewSource(21))
		noisy := make([]spatialmath.Pose, len(exact))
		for i, pose := range exact {
			rot := r3.Vector{X: rnd.NormFloat64(), Y: rnd.NormFloat64(), Z: rnd.NormFloat64()}.Mul(sigma)
			shift := r3.Vector{X: rnd.NormFloat64(), Y: rnd.NormFloat64(), Z: rnd.NormFloat64()}.Mul(100 * sigma)
			noisy[i] = spatialmath.Compose(pose, spatialmath.NewPose(shift, spatialmath.AxisAngleToRotationMatrix(rot)))
		}
		sol, err := Solve(tools, noisy, logger)
		test.That(t, err, test.ShouldBeNil)
		angle, dist := spatialmath.PoseDelta(sol.Hcg, toolToCamera)
		test.That(t, angle, test.ShouldBeLessThan, 10*sigma)
		test.That(t, dist, test.ShouldBeLessThan, 10000*sigma)
		test.That(t, sol.RotationResidual.Mean, test.ShouldBeGreaterThan, 0)
	}
}

func TestSolveDegenerate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	tools := randomTools(5, 3)
	targets := stations(tools)

	_, err := Solve(tools[:2], targets[:2], logger)
	test.That(t, errors.Is(err, utils.ErrRankDeficient), test.ShouldBeTrue)
	var rankErr *utils.RankDeficientError
	test.That(t, errors.As(err, &rankErr), test.ShouldBeTrue)
	test.That(t, rankErr.Stage, test.ShouldEqual, "hand-eye rotation")
	test.That(t, rankErr.Rank, test.ShouldEqual, 2)

	_, err = Solve(tools[:1], targets[:1], logger)
	test.That(t, errors.Is(err, utils.ErrInsufficientData), test.ShouldBeTrue)

	_, err = Solve(tools, targets[:4], logger)
	test.That(t, err, test.ShouldNotBeNil)

	// rotations about a single axis leave the rotation about it unobservable
	parallel := make([]spatialmath.Pose, 5)
	for i := range parallel {
		parallel[i] = spatialmath.NewPose(
			r3.Vector{X: float64(10 * i)},
			spatialmath.AxisAngleToRotationMatrix(r3.Vector{Z: 0.3 * float64(i+1)}),
		)
	}
	_, err = Solve(parallel, stations(parallel), logger)
	test.That(t, errors.Is(err, utils.ErrRankDeficient), test.ShouldBeTrue)
}

func TestSolveWorkcell(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	tools := randomTools(6, 11)
	wc, err := SolveWorkcell(tools, stations(tools), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(wc.ToolToCamera, toolToCamera, 1e-6), test.ShouldBeTrue)
	test.That(t, spatialmath.PoseAlmostEqual(wc.WorldToTarget, worldToTarget, 1e-6), test.ShouldBeTrue)
	test.That(t, wc.RotationClosure.Max, test.ShouldBeLessThan, 1e-8)
	test.That(t, wc.TranslationClosure.Max, test.ShouldBeLessThan, 1e-6)
	test.That(t, logs.FilterMessage("workcell calibrated").Len(), test.ShouldEqual, 1)

	_, err = SolveWorkcell(tools[:2], stations(tools[:2]), logger)
	test.That(t, errors.Is(err, utils.ErrRankDeficient), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "tool to camera")
}
