// Package cli runs the calibration pipeline from the command line.
package cli

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/etnalab/triangulation/config"
	"github.com/etnalab/triangulation/logging"
	"github.com/etnalab/triangulation/utils"
)

const (
	flagConfig  = "config"
	flagDebug   = "debug"
	flagReport  = "report"
	flagWorkers = "workers"
)

var app = &cli.App{
	Name:            "calibrate",
	Usage:           "calibrate a laser triangulation sensor",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     flagConfig,
			Aliases:  []string{"c"},
			Required: true,
			Usage:    "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  flagReport,
			Usage: "write a JSON run report to `FILE`",
		},
		&cli.IntFlag{
			Name:  flagWorkers,
			Usage: "number of frames processed concurrently, overrides the configuration",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "camera",
			Usage:  "calibrate camera intrinsics and lens distortion from chessboard frames",
			Action: CameraAction,
		},
		{
			Name:   "lightplane",
			Usage:  "calibrate the laser plane, using the saved camera parameters",
			Action: LightPlaneAction,
		},
		{
			Name:   "handeye",
			Usage:  "solve the tool to camera and world to target transforms from the robot pose log",
			Action: HandEyeAction,
		},
		{
			Name:   "all",
			Usage:  "run every calibration stage in order",
			Action: AllAction,
		},
	},
}

// NewApp returns the command line application writing tables to out and errors to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// newPipeline builds the pipeline from the global flags.
func newPipeline(c *cli.Context) (*Pipeline, error) {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	if n := c.Int(flagWorkers); n > 0 {
		cfg.Workers = n
	}
	if cfg.Workers > 0 {
		utils.ParallelFactor = cfg.Workers
	}
	logger := logging.NewLogger("calibrate")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("calibrate")
	}
	return NewPipeline(cfg, logger, c.App.Writer)
}

// runStage runs stage and writes the report when asked to.
func runStage(c *cli.Context, stage func(ctx context.Context, p *Pipeline) error) error {
	p, err := newPipeline(c)
	if err != nil {
		return err
	}
	//nolint:errcheck
	defer p.Logger.Sync()
	if err := stage(c.Context, p); err != nil {
		return err
	}
	if path := c.String(flagReport); path != "" {
		if err := p.Report.Save(path); err != nil {
			return errors.Wrap(err, "writing report")
		}
	}
	return nil
}

// CameraAction is the action for the camera command.
func CameraAction(c *cli.Context) error {
	return runStage(c, func(ctx context.Context, p *Pipeline) error {
		_, err := p.Camera(ctx)
		return err
	})
}

// LightPlaneAction is the action for the lightplane command.
func LightPlaneAction(c *cli.Context) error {
	return runStage(c, func(ctx context.Context, p *Pipeline) error {
		_, err := p.LightPlane(ctx, nil)
		return err
	})
}

// HandEyeAction is the action for the handeye command.
func HandEyeAction(c *cli.Context) error {
	return runStage(c, func(ctx context.Context, p *Pipeline) error {
		if p.Config.HandEye.PoseDir == "" {
			return errors.New("hand_eye.pose_dir is not configured")
		}
		_, err := p.HandEye(ctx, nil)
		return err
	})
}

// AllAction is the action for the all command.
func AllAction(c *cli.Context) error {
	return runStage(c, func(ctx context.Context, p *Pipeline) error {
		return p.All(ctx)
	})
}
