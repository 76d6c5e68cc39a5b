// Package fitting implements random sample consensus over pluggable model families, and the
// line and plane families used to calibrate the laser light-plane.
package fitting

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"github.com/etnalab/triangulation/utils"
)

// DefaultMaxDegenerateDraws bounds how many times a single iteration redraws a degenerate sample.
const DefaultMaxDegenerateDraws = 100

// Model is a fitted model that can measure a point against itself.
type Model[P any] interface {
	// Distance returns the (possibly signed) distance of pt to the model.
	Distance(pt P) float64
}

// Family fits models of one kind from minimal samples.
type Family[P any, M Model[P]] interface {
	// SampleSize is the number of points that define a model.
	SampleSize() int
	// FitSample fits a model to exactly SampleSize points. It returns utils.ErrDegenerateSample
	// when the points cannot define a model.
	FitSample(sample []P) (M, error)
}

// Refitter is implemented by families that can fit a model to an arbitrary number of points.
type Refitter[P any, M Model[P]] interface {
	FitAll(points []P) (M, error)
}

// Config holds the parameters of a single robust fit.
type Config struct {
	// DistanceThreshold is the largest absolute distance at which a point counts as an inlier.
	DistanceThreshold float64
	// MinInliers is the smallest inlier count accepted. Values below the family's sample size
	// are raised to it.
	MinInliers int
	// Policy decides how many samples are drawn. Nil means FixedIterations with the defaults.
	Policy IterationPolicy
	// MaxDegenerateDraws bounds redraws of degenerate samples per iteration.
	MaxDegenerateDraws int
	// Seed seeds the sampler so that fits are reproducible.
	Seed int64
	// Refit re-estimates the winning model from all of its inliers when the family supports it.
	Refit bool
	// Stage names the fit in errors.
	Stage string
}

// Result is the outcome of a robust fit.
type Result[M any] struct {
	Model   M
	Inliers []int
	// Iterations is the number of samples scored.
	Iterations int
	// DegenerateDraws is the number of samples rejected as degenerate.
	DegenerateDraws int
}

// InlierRatio returns the fraction of n points that are inliers.
func (r *Result[M]) InlierRatio(n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(len(r.Inliers)) / float64(n)
}

// Fit finds the model of family with the most points within cfg.DistanceThreshold.
//
// Samples of SampleSize distinct points are drawn uniformly; each candidate is fit from its
// minimal sample and scored against all points. The candidate with the most inliers is kept.
func Fit[P any, M Model[P]](points []P, family Family[P, M], cfg Config) (*Result[M], error) {
	stage := cfg.Stage
	if stage == "" {
		stage = "robust fit"
	}
	sampleSize := family.SampleSize()
	if sampleSize <= 0 {
		return nil, errors.Errorf("%s: model family has invalid sample size %d", stage, sampleSize)
	}
	if cfg.DistanceThreshold <= 0 || math.IsNaN(cfg.DistanceThreshold) {
		return nil, errors.Errorf("%s: distance threshold must be positive, got %v", stage, cfg.DistanceThreshold)
	}
	n := len(points)
	if n < sampleSize {
		return nil, utils.NewInsufficientDataError(stage, n, sampleSize)
	}
	minInliers := cfg.MinInliers
	if minInliers < sampleSize {
		minInliers = sampleSize
	}
	policy := cfg.Policy
	if policy == nil {
		policy = FixedIterations{}
	}
	maxRedraws := cfg.MaxDegenerateDraws
	if maxRedraws <= 0 {
		maxRedraws = DefaultMaxDegenerateDraws
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sample := make([]P, sampleSize)

	var (
		best       M
		bestCount  = -1
		iterations int
		degenerate int
		budget     = policy.Budget(n, sampleSize)
	)
	for iterations < budget {
		model, ok := drawModel(rng, points, indices, sample, family, maxRedraws, &degenerate)
		if !ok {
			break
		}
		iterations++
		count := countInliers(points, model, cfg.DistanceThreshold)
		if count > bestCount {
			best, bestCount = model, count
			budget = policy.Update(budget, n, sampleSize, count)
		}
	}

	if bestCount < minInliers {
		have := bestCount
		if have < 0 {
			have = 0
		}
		return nil, utils.NewInsufficientDataError(stage+" inliers", have, minInliers)
	}

	inliers := collectInliers(points, best, cfg.DistanceThreshold)
	if cfg.Refit {
		if refitter, ok := family.(Refitter[P, M]); ok {
			if refit, err := refitModel(points, inliers, refitter); err == nil {
				refitInliers := collectInliers(points, refit, cfg.DistanceThreshold)
				if len(refitInliers) >= len(inliers) {
					best, inliers = refit, refitInliers
				}
			}
		}
	}
	return &Result[M]{
		Model:           best,
		Inliers:         inliers,
		Iterations:      iterations,
		DegenerateDraws: degenerate,
	}, nil
}

// drawModel samples until a non-degenerate model is found or the redraw budget is exhausted.
func drawModel[P any, M Model[P]](
	rng *rand.Rand,
	points []P,
	indices []int,
	sample []P,
	family Family[P, M],
	maxRedraws int,
	degenerate *int,
) (M, bool) {
	var zero M
	for attempt := 0; attempt < maxRedraws; attempt++ {
		// partial Fisher-Yates: the first len(sample) entries become a uniform draw without replacement
		for i := range sample {
			j := i + rng.Intn(len(indices)-i)
			indices[i], indices[j] = indices[j], indices[i]
			sample[i] = points[indices[i]]
		}
		model, err := family.FitSample(sample)
		if err == nil {
			return model, true
		}
		*degenerate++
	}
	return zero, false
}

func countInliers[P any, M Model[P]](points []P, model M, threshold float64) int {
	count := 0
	for _, pt := range points {
		if math.Abs(model.Distance(pt)) < threshold {
			count++
		}
	}
	return count
}

func collectInliers[P any, M Model[P]](points []P, model M, threshold float64) []int {
	var inliers []int
	for i, pt := range points {
		if math.Abs(model.Distance(pt)) < threshold {
			inliers = append(inliers, i)
		}
	}
	sort.Ints(inliers)
	return inliers
}

func refitModel[P any, M Model[P]](points []P, inliers []int, refitter Refitter[P, M]) (M, error) {
	subset := make([]P, len(inliers))
	for i, idx := range inliers {
		subset[i] = points[idx]
	}
	return refitter.FitAll(subset)
}
