package drift

import (
	"math"
	"testing"

	"github.com/nimbusml/forecastd/internal/artifact"
)

func refHistogram() artifact.Histogram {
	// Uniform reference over [0, 10) in five bins.
	return artifact.Histogram{
		Edges:       []float64{0, 2, 4, 6, 8, 10},
		Proportions: []float64{0.2, 0.2, 0.2, 0.2, 0.2},
	}
}

func TestPSIIdenticalDistribution(t *testing.T) {
	live := []float64{1, 3, 5, 7, 9, 1, 3, 5, 7, 9}
	if got := PSI(refHistogram(), live); got != 0 {
		t.Errorf("PSI of matching distribution = %v, want 0", got)
	}
}

func TestPSIShiftedDistribution(t *testing.T) {
	// All mass collapses into the top bin.
	live := []float64{9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
	if got := PSI(refHistogram(), live); got <= 0.1 {
		t.Errorf("PSI of collapsed distribution = %v, want > 0.1", got)
	}
}

func TestPSIMonotonicInShift(t *testing.T) {
	mild := []float64{1, 3, 5, 7, 9, 9, 9, 9, 9, 9}
	severe := []float64{9, 9, 9, 9, 9, 9, 9, 9, 9, 9}

	ref := refHistogram()
	if PSI(ref, mild) >= PSI(ref, severe) {
		t.Errorf("PSI mild %v >= severe %v", PSI(ref, mild), PSI(ref, severe))
	}
}

func TestPSIOutOfRangeValuesClampToEdgeBins(t *testing.T) {
	below := PSI(refHistogram(), []float64{-100, -100, -100, -100, -100, -100, -100, -100, -100, -100})
	inFirst := PSI(refHistogram(), []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	if math.Abs(below-inFirst) > 1e-12 {
		t.Errorf("out-of-range values should land in the edge bin: %v vs %v", below, inFirst)
	}
}

func TestPSIDegenerateInputs(t *testing.T) {
	if got := PSI(refHistogram(), nil); got != 0 {
		t.Errorf("PSI with no live samples = %v, want 0", got)
	}
	if got := PSI(artifact.Histogram{}, []float64{1, 2, 3}); got != 0 {
		t.Errorf("PSI with empty reference = %v, want 0", got)
	}
}

func TestNewHistogram(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 10}
	h := NewHistogram(values, 5)

	if len(h.Edges) != 6 || len(h.Proportions) != 5 {
		t.Fatalf("histogram shape: %d edges, %d proportions", len(h.Edges), len(h.Proportions))
	}
	if h.Edges[0] != 0 || h.Edges[5] != 10 {
		t.Errorf("edges span [%v, %v], want [0, 10]", h.Edges[0], h.Edges[5])
	}

	var total float64
	for _, p := range h.Proportions {
		total += p
	}
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("proportions sum to %v, want 1", total)
	}

	// A constant series still yields a usable histogram.
	flat := NewHistogram([]float64{5, 5, 5}, 4)
	if len(flat.Edges) != 5 {
		t.Errorf("constant series histogram has %d edges", len(flat.Edges))
	}
}
