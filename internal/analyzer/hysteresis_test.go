package analyzer

import (
	"math"
	"testing"

	"github.com/iv-workbench/backend/internal/models"
)

// branch builds one sweep branch with measured = f(source) over the levels.
func branch(sweep int, levels []float64, f func(float64) float64) []models.Sample {
	samples := make([]models.Sample, len(levels))
	for i, v := range levels {
		samples[i] = models.Sample{
			SourceValue:   v,
			MeasuredValue: f(v),
			SweepNumber:   sweep,
		}
	}
	return samples
}

func grid(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	out[n-1] = stop
	return out
}

func TestHysteresisIdenticalBranchesIsZero(t *testing.T) {
	f := func(v float64) float64 { return v / 1000 }
	samples := append(branch(1, grid(0, 1, 11), f), branch(2, grid(1, 0, 11), f)...)

	result := DetectHysteresis(samples)
	if !result.Defined {
		t.Fatalf("Expected defined result: %s", result.Reason)
	}
	if result.MeanAbsDiff != 0 {
		t.Errorf("Identical branches must have zero mean divergence, got %g", result.MeanAbsDiff)
	}
	if result.MaxAbsDiff != 0 {
		t.Errorf("Identical branches must have zero max divergence, got %g", result.MaxAbsDiff)
	}
}

func TestHysteresisConstantOffset(t *testing.T) {
	fwd := func(v float64) float64 { return v / 1000 }
	rev := func(v float64) float64 { return v/1000 + 1e-4 }
	samples := append(branch(1, grid(0, 1, 11), fwd), branch(2, grid(1, 0, 11), rev)...)

	result := DetectHysteresis(samples)
	if !result.Defined {
		t.Fatalf("Expected defined result: %s", result.Reason)
	}
	if math.Abs(result.MeanAbsDiff-1e-4) > 1e-12 {
		t.Errorf("Expected mean divergence 1e-4, got %g", result.MeanAbsDiff)
	}
	if math.Abs(result.MaxAbsDiff-1e-4) > 1e-12 {
		t.Errorf("Expected max divergence 1e-4, got %g", result.MaxAbsDiff)
	}
	for _, p := range result.Points {
		if math.Abs(p.Diff - -1e-4) > 1e-12 {
			t.Errorf("At %g: expected signed diff -1e-4, got %g", p.SourceValue, p.Diff)
			break
		}
	}
}

func TestHysteresisMismatchedGrids(t *testing.T) {
	// Branches with different setpoint sets still compare via interpolation.
	f := func(v float64) float64 { return 2 * v }
	samples := append(branch(1, grid(0, 1, 5), f), branch(2, grid(1, 0, 9), f)...)

	result := DetectHysteresis(samples)
	if !result.Defined {
		t.Fatalf("Expected defined result: %s", result.Reason)
	}
	if result.MaxAbsDiff > 1e-12 {
		t.Errorf("Linear branches on different grids must match exactly, got %g", result.MaxAbsDiff)
	}
	// The probe grid is the union of distinct levels inside the overlap; the
	// coarse branch's quarter levels all appear in the fine branch's eighths.
	if len(result.Points) != 9 {
		t.Errorf("Expected 9 probe points, got %d", len(result.Points))
	}
}

func TestHysteresisMaxLocation(t *testing.T) {
	fwd := func(v float64) float64 { return v }
	rev := func(v float64) float64 {
		if v == 0.5 {
			return v + 0.2
		}
		return v
	}
	samples := append(branch(1, grid(0, 1, 3), fwd), branch(2, grid(1, 0, 3), rev)...)

	result := DetectHysteresis(samples)
	if !result.Defined {
		t.Fatalf("Expected defined result: %s", result.Reason)
	}
	if result.MaxAtSource != 0.5 {
		t.Errorf("Expected max divergence at 0.5, got %g", result.MaxAtSource)
	}
	if math.Abs(result.MaxAbsDiff-0.2) > 1e-12 {
		t.Errorf("Expected max divergence 0.2, got %g", result.MaxAbsDiff)
	}
}

func TestHysteresisUnidirectionalIsUndefined(t *testing.T) {
	samples := branch(1, grid(0, 1, 11), func(v float64) float64 { return v })

	result := DetectHysteresis(samples)
	if result.Defined {
		t.Error("Unidirectional sweep must be undefined")
	}
	if result.Reason == "" {
		t.Error("Expected an explanatory reason")
	}
}

func TestHysteresisEmptyInput(t *testing.T) {
	if DetectHysteresis(nil).Defined {
		t.Error("Empty input must be undefined")
	}
}

func TestHysteresisTinyBranch(t *testing.T) {
	samples := append(branch(1, []float64{0}, func(v float64) float64 { return v }),
		branch(2, grid(1, 0, 5), func(v float64) float64 { return v })...)
	result := DetectHysteresis(samples)
	if result.Defined {
		t.Errorf("One-point branch must be undefined, got %+v", result)
	}
}

func TestHysteresisDisjointRanges(t *testing.T) {
	samples := append(branch(1, grid(0, 1, 5), func(v float64) float64 { return v }),
		branch(2, grid(3, 2, 5), func(v float64) float64 { return v })...)
	result := DetectHysteresis(samples)
	if result.Defined {
		t.Error("Branches without a shared source range must be undefined")
	}
}
