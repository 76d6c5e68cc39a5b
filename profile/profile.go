// Package profile extracts the laser stripe from camera frames as one sub-pixel peak per image
// column (or row).
package profile

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Method selects how the peak of a scan line is located.
type Method string

const (
	// MethodMax takes the brightest pixel.
	MethodMax Method = "max"
	// MethodCOG takes the intensity-weighted center of every pixel above the threshold.
	MethodCOG Method = "cog"
	// MethodPeakCOG takes the center of gravity in a window around the brightest pixel.
	MethodPeakCOG Method = "pcog"
)

// Axis is the direction of the scan lines.
type Axis string

const (
	// AxisColumns finds one peak per column, for stripes running across the image.
	AxisColumns Axis = "columns"
	// AxisRows finds one peak per row, for stripes running down the image.
	AxisRows Axis = "rows"
)

// Config controls peak extraction.
type Config struct {
	Axis      Axis    `json:"axis"`
	Threshold uint8   `json:"threshold"`
	Method    Method  `json:"method"`
	Window    int     `json:"window"`
	Blur      float64 `json:"blur"`
}

// DefaultConfig suits a laser line that saturates the sensor on a dark scene.
func DefaultConfig() Config {
	return Config{Axis: AxisColumns, Threshold: 180, Method: MethodPeakCOG, Window: 3}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Axis {
	case AxisColumns, AxisRows:
	default:
		return errors.Errorf("unknown profile axis %q", c.Axis)
	}
	switch c.Method {
	case MethodMax, MethodCOG, MethodPeakCOG:
	default:
		return errors.Errorf("unknown profile method %q", c.Method)
	}
	if c.Window < 0 {
		return errors.Errorf("profile window must be non-negative, got %d", c.Window)
	}
	if c.Blur < 0 {
		return errors.Errorf("profile blur must be non-negative, got %v", c.Blur)
	}
	return nil
}

// Extractor finds stripe peaks in images.
type Extractor struct {
	cfg Config
}

// NewExtractor returns an Extractor for a validated cfg.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{cfg: cfg}, nil
}

// Extract returns the stripe peaks of img in pixel coordinates, ordered along the scan axis.
// Scan lines without a pixel above the threshold contribute nothing.
func (e *Extractor) Extract(img image.Image) []r2.Point {
	if img == nil {
		return nil
	}
	var gray *image.NRGBA
	if e.cfg.Blur > 0 {
		gray = imaging.Grayscale(imaging.Blur(img, e.cfg.Blur))
	} else {
		gray = imaging.Grayscale(img)
	}
	// imaging results are anchored at the origin
	b := img.Bounds()
	intensity := func(x, y int) float64 {
		return float64(gray.Pix[gray.PixOffset(x-b.Min.X, y-b.Min.Y)])
	}

	lines, length := b.Dx(), b.Dy()
	at := func(line, pos int) float64 { return intensity(b.Min.X+line, b.Min.Y+pos) }
	point := func(line int, pos float64) r2.Point {
		return r2.Point{X: float64(b.Min.X + line), Y: float64(b.Min.Y) + pos}
	}
	if e.cfg.Axis == AxisRows {
		lines, length = b.Dy(), b.Dx()
		at = func(line, pos int) float64 { return intensity(b.Min.X+pos, b.Min.Y+line) }
		point = func(line int, pos float64) r2.Point {
			return r2.Point{X: float64(b.Min.X) + pos, Y: float64(b.Min.Y + line)}
		}
	}

	var out []r2.Point
	scan := make([]float64, length)
	for line := 0; line < lines; line++ {
		for pos := range scan {
			scan[pos] = at(line, pos)
		}
		if pos, ok := e.peak(scan); ok {
			out = append(out, point(line, pos))
		}
	}
	return out
}

// peak locates the stripe in one scan line.
func (e *Extractor) peak(scan []float64) (float64, bool) {
	threshold := float64(e.cfg.Threshold)
	best, bestPos := -1., -1
	for pos, v := range scan {
		if v > best {
			best, bestPos = v, pos
		}
	}
	if bestPos < 0 || best < threshold {
		return 0, false
	}
	lo, hi := 0, len(scan)-1
	switch e.cfg.Method {
	case MethodMax:
		return float64(bestPos), true
	case MethodPeakCOG:
		lo, hi = max(0, bestPos-e.cfg.Window), min(len(scan)-1, bestPos+e.cfg.Window)
	case MethodCOG:
	}
	var sum, weighted float64
	for pos := lo; pos <= hi; pos++ {
		// weight by the excess over the threshold so the background does not bias the center
		w := math.Max(0, scan[pos]-threshold)
		sum += w
		weighted += w * float64(pos)
	}
	if sum == 0 {
		return float64(bestPos), true
	}
	return weighted / sum, true
}
