package fusion

import (
	"math"
	"sort"
)

// TrimmedStats returns the mean and population standard deviation of
// values after dropping floor(n*frac) entries from each tail. NaN values
// are ignored.
func TrimmedStats(values []float64, frac float64) (mean, std float64, n int) {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(xs)
	cut := int(math.Floor(float64(len(xs)) * frac))
	if 2*cut >= len(xs) {
		cut = 0
	}
	xs = xs[cut : len(xs)-cut]
	for _, v := range xs {
		mean += v
	}
	mean /= float64(len(xs))
	for _, v := range xs {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(xs)))
	return mean, std, len(xs)
}
