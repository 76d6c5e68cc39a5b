package fitting

import "math"

const (
	// DefaultIterationFraction sizes a fixed pass at half the population.
	DefaultIterationFraction = 0.5
	// DefaultConfidence is the success probability targeted by AdaptiveIterations.
	DefaultConfidence = 0.99
	// DefaultMaxIterations caps AdaptiveIterations.
	DefaultMaxIterations = 1000
)

// IterationPolicy decides how many samples a fit draws.
type IterationPolicy interface {
	// Budget returns the initial number of iterations for n points and the given sample size.
	Budget(n, sampleSize int) int
	// Update returns the new budget after the best inlier count improved to inliers.
	Update(budget, n, sampleSize, inliers int) int
}

// FixedIterations draws a fixed number of samples. When Iterations is zero the count is
// Fraction of the population (DefaultIterationFraction when Fraction is zero). StopInliers,
// when positive, ends the loop as soon as a model reaches that many inliers.
type FixedIterations struct {
	Iterations  int
	Fraction    float64
	StopInliers int
}

// Budget implements IterationPolicy.
func (f FixedIterations) Budget(n, _ int) int {
	if f.Iterations > 0 {
		return f.Iterations
	}
	fraction := f.Fraction
	if fraction <= 0 {
		fraction = DefaultIterationFraction
	}
	return max(1, int(fraction*float64(n)))
}

// Update implements IterationPolicy.
func (f FixedIterations) Update(budget, _, _, inliers int) int {
	if f.StopInliers > 0 && inliers >= f.StopInliers {
		return 0
	}
	return budget
}

// AdaptiveIterations stops once the probability of having drawn at least one all-inlier sample
// reaches Confidence, estimating the inlier ratio from the best model so far:
// k = log(1-p)/log(1-w^s).
type AdaptiveIterations struct {
	Confidence    float64
	MinIterations int
	MaxIterations int
}

// Budget implements IterationPolicy.
func (a AdaptiveIterations) Budget(_, _ int) int {
	return a.maxIterations()
}

// Update implements IterationPolicy.
func (a AdaptiveIterations) Update(budget, n, sampleSize, inliers int) int {
	if n == 0 {
		return budget
	}
	confidence := a.Confidence
	if confidence <= 0 || confidence >= 1 {
		confidence = DefaultConfidence
	}
	w := float64(inliers) / float64(n)
	allInliers := math.Pow(w, float64(sampleSize))
	var k float64
	switch {
	case allInliers >= 1:
		k = 1
	case allInliers <= 0:
		return budget
	default:
		k = math.Ceil(math.Log(1-confidence) / math.Log(1-allInliers))
	}
	next := max(a.MinIterations, int(math.Min(k, float64(a.maxIterations()))))
	return min(budget, next)
}

func (a AdaptiveIterations) maxIterations() int {
	if a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return DefaultMaxIterations
}
