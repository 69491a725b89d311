package drift

import (
	"math"
	"sort"

	"github.com/nimbusml/forecastd/internal/artifact"
)

// proportionFloor keeps empty bins from producing infinite PSI terms.
const proportionFloor = 1e-4

// PSI computes the population stability index of live values against a
// reference histogram. PSI is symmetric in the two distributions and
// monotonic in their divergence: identical distributions score 0, and the
// score grows as mass shifts between bins.
func PSI(ref artifact.Histogram, live []float64) float64 {
	if len(live) == 0 || len(ref.Edges) < 2 {
		return 0
	}

	bins := len(ref.Edges) - 1
	counts := make([]float64, bins)
	for _, v := range live {
		counts[binIndex(ref.Edges, v)]++
	}

	var score float64
	n := float64(len(live))
	for i := 0; i < bins; i++ {
		p := counts[i] / n
		q := ref.Proportions[i]
		if p < proportionFloor {
			p = proportionFloor
		}
		if q < proportionFloor {
			q = proportionFloor
		}
		score += (p - q) * math.Log(p/q)
	}
	return score
}

// binIndex places v into a histogram bin, clamping values outside the
// reference range into the edge bins.
func binIndex(edges []float64, v float64) int {
	bins := len(edges) - 1
	if v <= edges[0] {
		return 0
	}
	if v >= edges[bins] {
		return bins - 1
	}
	i := sort.SearchFloat64s(edges, v)
	// SearchFloat64s returns the first edge >= v; v lives in the bin below.
	if i > 0 {
		i--
	}
	if i >= bins {
		i = bins - 1
	}
	return i
}

// NewHistogram bins values into a fixed number of equal-width bins. Used to
// capture reference distributions when publishing an artifact.
func NewHistogram(values []float64, bins int) artifact.Histogram {
	if len(values) == 0 || bins < 1 {
		return artifact.Histogram{}
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min == max {
		max = min + 1
	}

	edges := make([]float64, bins+1)
	width := (max - min) / float64(bins)
	for i := range edges {
		edges[i] = min + float64(i)*width
	}
	edges[bins] = max

	counts := make([]float64, bins)
	for _, v := range values {
		counts[binIndex(edges, v)]++
	}
	props := make([]float64, bins)
	for i, c := range counts {
		props[i] = c / float64(len(values))
	}
	return artifact.Histogram{Edges: edges, Proportions: props}
}
