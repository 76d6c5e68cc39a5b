package utils

import (
	"github.com/montanaflynn/stats"
)

// ErrorStats summarizes a set of non-negative residuals.
type ErrorStats struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	Max    float64 `json:"max" yaml:"max"`
	RMS    float64 `json:"rms" yaml:"rms"`
}

// SummarizeErrors returns the statistics of residuals. An empty input yields the zero value.
func SummarizeErrors(residuals []float64) ErrorStats {
	if len(residuals) == 0 {
		return ErrorStats{}
	}
	data := stats.Float64Data(residuals)
	// stats only errors on empty input, which is handled above
	mean, _ := data.Mean()
	median, _ := data.Median()
	maximum, _ := data.Max()
	rms, _ := data.QuadraticMean()
	return ErrorStats{
		Count:  len(residuals),
		Mean:   mean,
		Median: median,
		Max:    maximum,
		RMS:    rms,
	}
}
