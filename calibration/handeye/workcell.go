package handeye

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/spatialmath"
	"github.com/etnalab/triangulation/utils"
)

// Workcell locates a camera mounted on a robot tool that observes a fixed target:
// tool pose * ToolToCamera * target pose == WorldToTarget at every station.
type Workcell struct {
	ToolToCamera  spatialmath.Pose
	WorldToTarget spatialmath.Pose
	Tool          *Solution
	World         *Solution
	// Closure compares every station's chain to WorldToTarget.
	RotationClosure    utils.ErrorStats
	TranslationClosure utils.ErrorStats
}

// SolveWorkcell solves the tool to camera transform from tool poses (in the robot base) and
// target poses (in the camera), then the base to target transform from their inverses.
func SolveWorkcell(tool, target []spatialmath.Pose, logger logging.Logger) (*Workcell, error) {
	toolSol, err := Solve(tool, target, logger)
	if err != nil {
		return nil, errors.Wrap(err, "tool to camera")
	}
	invert := func(p spatialmath.Pose, _ int) spatialmath.Pose { return p.Invert() }
	worldSol, err := Solve(lo.Map(tool, invert), lo.Map(target, invert), logger)
	if err != nil {
		return nil, errors.Wrap(err, "world to target")
	}

	wc := &Workcell{
		ToolToCamera:  toolSol.Hcg,
		WorldToTarget: worldSol.Hcg,
		Tool:          toolSol,
		World:         worldSol,
	}
	var angles, dists []float64
	for i := range tool {
		chain := spatialmath.Compose(spatialmath.Compose(tool[i], wc.ToolToCamera), target[i])
		angle, dist := spatialmath.PoseDelta(chain, wc.WorldToTarget)
		angles = append(angles, angle)
		dists = append(dists, dist)
	}
	wc.RotationClosure = utils.SummarizeErrors(angles)
	wc.TranslationClosure = utils.SummarizeErrors(dists)
	if logger != nil {
		logger.Infow("workcell calibrated",
			"stations", len(tool),
			"tool_to_camera", wc.ToolToCamera.String(),
			"world_to_target", wc.WorldToTarget.String(),
			"rotation_closure_max", wc.RotationClosure.Max,
			"translation_closure_max", wc.TranslationClosure.Max,
		)
	}
	return wc, nil
}
