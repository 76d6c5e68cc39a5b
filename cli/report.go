package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"

	"github.com/etnalab/triangulation/calibration/camera"
	"github.com/etnalab/triangulation/calibration/handeye"
	"github.com/etnalab/triangulation/calibration/lightplane"
	"github.com/etnalab/triangulation/utils"
)

// Report summarizes one run of the pipeline.
type Report struct {
	RunID      string            `json:"run_id"`
	Started    time.Time         `json:"started"`
	Camera     *CameraReport     `json:"camera,omitempty"`
	LightPlane *LightPlaneReport `json:"light_plane,omitempty"`
	HandEye    *HandEyeReport    `json:"hand_eye,omitempty"`
}

// CameraReport holds the camera calibration outcome.
type CameraReport struct {
	Fx       float64          `json:"fx"`
	Fy       float64          `json:"fy"`
	Cx       float64          `json:"cx"`
	Cy       float64          `json:"cy"`
	RMS      float64          `json:"rms"`
	Views    int              `json:"views"`
	Excluded []int            `json:"excluded"`
	Errors   utils.ErrorStats `json:"errors"`
}

// LightPlaneReport holds the light plane calibration outcome.
type LightPlaneReport struct {
	Normal   [3]float64       `json:"normal"`
	Offset   float64          `json:"offset"`
	Points   int              `json:"points"`
	Inliers  int              `json:"inliers"`
	Views    int              `json:"views"`
	Residual utils.ErrorStats `json:"residual"`
}

// HandEyeReport holds the workcell solve outcome.
type HandEyeReport struct {
	Stations           int              `json:"stations"`
	ToolToCamera       string           `json:"tool_to_camera"`
	WorldToTarget      string           `json:"world_to_target"`
	RotationClosure    utils.ErrorStats `json:"rotation_closure"`
	TranslationClosure utils.ErrorStats `json:"translation_closure"`
}

// NewReport starts a report with a fresh run id.
func NewReport() *Report {
	return &Report{RunID: uuid.NewString(), Started: time.Now().UTC()}
}

func (r *Report) addCamera(res *camera.Calibration, excluded []int) {
	var errs []float64
	for _, v := range res.Views {
		errs = append(errs, v.Errors.Mean)
	}
	r.Camera = &CameraReport{
		Fx:       res.Camera.Fx,
		Fy:       res.Camera.Fy,
		Cx:       res.Camera.Ppx,
		Cy:       res.Camera.Ppy,
		RMS:      res.RMS,
		Views:    len(res.Views),
		Excluded: excluded,
		Errors:   utils.SummarizeErrors(errs),
	}
}

func (r *Report) addLightPlane(res *lightplane.Result) {
	r.LightPlane = &LightPlaneReport{
		Normal:  [3]float64{res.Plane.Normal.X, res.Plane.Normal.Y, res.Plane.Normal.Z},
		Offset:  res.Plane.Offset,
		Points:  len(res.Points),
		Inliers: len(res.Inliers),
		Views: lo.CountBy(res.Views, func(v lightplane.ViewDiagnostics) bool {
			return v.Excluded == ""
		}),
		Residual: res.Residual,
	}
}

func (r *Report) addHandEye(wc *handeye.Workcell, stations int) {
	r.HandEye = &HandEyeReport{
		Stations:           stations,
		ToolToCamera:       wc.ToolToCamera.String(),
		WorldToTarget:      wc.WorldToTarget.String(),
		RotationClosure:    wc.RotationClosure,
		TranslationClosure: wc.TranslationClosure,
	}
}

// Write encodes the report as indented JSON.
func (r *Report) Write(w io.Writer) error {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// Save writes the report to path.
func (r *Report) Save(path string) error {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Write(f); err != nil {
		//nolint:errcheck
		f.Close()
		return err
	}
	return f.Close()
}

func printf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		return
	}
	//nolint:errcheck
	fmt.Fprintf(w, format, args...)
}

func printCameraTable(w io.Writer, res *camera.Calibration, excluded []int) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Frame", "Mean (px)", "Median (px)", "Max (px)", "Distance"})
	for _, v := range res.Views {
		t.AppendRow(table.Row{
			v.Frame,
			fmt.Sprintf("%.3f", v.Errors.Mean),
			fmt.Sprintf("%.3f", v.Errors.Median),
			fmt.Sprintf("%.3f", v.Errors.Max),
			fmt.Sprintf("%.1f", v.Pose.Point().Norm()),
		})
	}
	printf(w, "camera: fx %.2f fy %.2f cx %.2f cy %.2f rms %.4f px, excluded frames %v\n%s\n",
		res.Camera.Fx, res.Camera.Fy, res.Camera.Ppx, res.Camera.Ppy, res.RMS, excluded, t.Render())
}

func printLightPlaneTable(w io.Writer, res *lightplane.Result) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Frame", "Profile", "Consistent", "Line inliers", "Excluded"})
	for _, v := range res.Views {
		t.AppendRow(table.Row{v.Frame, v.Profile, v.Consistent, v.LineInliers, v.Excluded})
	}
	n := res.Plane.Normal
	printf(w, "light plane: normal (%.5f, %.5f, %.5f) offset %.3f, %d of %d points, residual rms %.4f\n%s\n",
		n.X, n.Y, n.Z, res.Plane.Offset, len(res.Inliers), len(res.Points), res.Residual.RMS, t.Render())
}

func printHandEyeTable(w io.Writer, wc *handeye.Workcell) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Transform", "Pose", "Rotation closure (rad)", "Translation closure"})
	t.AppendRow(table.Row{"tool to camera", wc.ToolToCamera.String(), "", ""})
	t.AppendRow(table.Row{
		"world to target", wc.WorldToTarget.String(),
		fmt.Sprintf("%.2e", wc.RotationClosure.Max), fmt.Sprintf("%.3f", wc.TranslationClosure.Max),
	})
	printf(w, "hand-eye:\n%s\n", t.Render())
}
