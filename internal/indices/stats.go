package indices

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistics summarises the valid pixels of an index. NaN pixels are
// excluded; the standard deviation is the population value. The moments
// are zero when no pixel is valid.
type Statistics struct {
	Mean         float64 `json:"mean"`
	Std          float64 `json:"std"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Median       float64 `json:"median"`
	ValidPixels  int     `json:"valid_pixels_count"`
	TotalPixels  int     `json:"total_pixels"`
	DataCoverage float64 `json:"data_coverage_percent"`
}

// Stats computes Statistics over every band of res.
func Stats(res Result) Statistics {
	var values []float64
	total := 0
	for _, g := range res.Bands() {
		if g == nil {
			continue
		}
		total += g.Len()
		values = append(values, g.Float64s()...)
	}
	s := Statistics{ValidPixels: len(values), TotalPixels: total}
	if total > 0 {
		s.DataCoverage = float64(len(values)) / float64(total) * 100
	}
	if len(values) == 0 {
		return s
	}
	s.Mean, s.Std = stat.PopMeanStdDev(values, nil)
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	s.Median = median(values)
	return s
}

// median sorts values in place and averages the middle pair for even counts.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
