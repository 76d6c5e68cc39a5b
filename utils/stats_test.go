package utils

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestSummarizeErrors(t *testing.T) {
	s := SummarizeErrors([]float64{3, 4, 0, 1})
	test.That(t, s.Count, test.ShouldEqual, 4)
	test.That(t, s.Mean, test.ShouldAlmostEqual, 2)
	test.That(t, s.Median, test.ShouldAlmostEqual, 2)
	test.That(t, s.Max, test.ShouldAlmostEqual, 4)
	test.That(t, s.RMS, test.ShouldAlmostEqual, math.Sqrt(26.0/4))

	test.That(t, SummarizeErrors(nil), test.ShouldResemble, ErrorStats{})
	test.That(t, math.IsInf(SummarizeErrors([]float64{1, math.Inf(1)}).RMS, 1), test.ShouldBeTrue)
}
