// hysteresis.go - Forward/reverse branch comparison for bidirectional
// sweeps. Both branches are resampled onto a shared probe grid by linear
// interpolation so mismatched setpoint sets still compare point-for-point.
package analyzer

import (
	"math"
	"sort"

	"github.com/iv-workbench/backend/internal/models"
)

// HysteresisPoint is the branch difference at one probe source value.
type HysteresisPoint struct {
	SourceValue float64 `json:"sourceValue"`
	Forward     float64 `json:"forward"`
	Reverse     float64 `json:"reverse"`
	Diff        float64 `json:"diff"` // forward - reverse, signed
	AbsDiff     float64 `json:"absDiff"`
}

// HysteresisResult reports the branch divergence of a bidirectional sweep.
// Defined is false when either branch has fewer than two points or the
// branches share no source range; an undefined result, never a crash.
type HysteresisResult struct {
	Defined     bool              `json:"defined"`
	Reason      string            `json:"reason,omitempty"`
	Points      []HysteresisPoint `json:"points,omitempty"`
	MeanAbsDiff float64           `json:"meanAbsDiff"`
	MaxAbsDiff  float64           `json:"maxAbsDiff"`
	MaxAtSource float64           `json:"maxAtSource"`
}

// DetectHysteresis partitions samples by sweep number into forward and
// reverse branches and compares measured values on the shared probe grid.
func DetectHysteresis(samples []models.Sample) HysteresisResult {
	minSweep, maxSweep := 0, 0
	for i, s := range samples {
		if i == 0 || s.SweepNumber < minSweep {
			minSweep = s.SweepNumber
		}
		if i == 0 || s.SweepNumber > maxSweep {
			maxSweep = s.SweepNumber
		}
	}
	if len(samples) == 0 || minSweep == maxSweep {
		return HysteresisResult{Reason: "no reverse branch: bidirectional sweep required"}
	}

	var forward, reverse []models.Sample
	for _, s := range samples {
		switch s.SweepNumber {
		case minSweep:
			forward = append(forward, s)
		case maxSweep:
			reverse = append(reverse, s)
		}
	}
	if len(forward) < 2 || len(reverse) < 2 {
		return HysteresisResult{Reason: "branch has fewer than two points"}
	}

	fwd := newInterpolant(forward)
	rev := newInterpolant(reverse)

	lo := math.Max(fwd.min(), rev.min())
	hi := math.Min(fwd.max(), rev.max())
	if lo > hi {
		return HysteresisResult{Reason: "branches share no source range"}
	}

	// Probe grid: every distinct source value either branch visited inside
	// the overlapping range, in ascending order.
	grid := probeGrid(fwd, rev, lo, hi)
	if len(grid) == 0 {
		return HysteresisResult{Reason: "branches share no source range"}
	}

	result := HysteresisResult{Defined: true}
	sumAbs := 0.0
	for _, x := range grid {
		f := fwd.at(x)
		r := rev.at(x)
		diff := f - r
		abs := math.Abs(diff)
		sumAbs += abs
		if abs > result.MaxAbsDiff {
			result.MaxAbsDiff = abs
			result.MaxAtSource = x
		}
		result.Points = append(result.Points, HysteresisPoint{
			SourceValue: x, Forward: f, Reverse: r, Diff: diff, AbsDiff: abs,
		})
	}
	result.MeanAbsDiff = sumAbs / float64(len(grid))
	return result
}

// interpolant is one branch prepared for linear interpolation: sorted by
// source value with coincident levels collapsed to their mean measurement.
type interpolant struct {
	xs []float64
	ys []float64
}

func newInterpolant(branch []models.Sample) *interpolant {
	sorted := append([]models.Sample(nil), branch...)
	sort.Slice(sorted, func(a, b int) bool {
		return sorted[a].SourceValue < sorted[b].SourceValue
	})

	it := &interpolant{}
	for i := 0; i < len(sorted); {
		x := sorted[i].SourceValue
		sum, n := 0.0, 0
		for i < len(sorted) && sorted[i].SourceValue == x {
			sum += sorted[i].MeasuredValue
			n++
			i++
		}
		it.xs = append(it.xs, x)
		it.ys = append(it.ys, sum/float64(n))
	}
	return it
}

func (it *interpolant) min() float64 { return it.xs[0] }
func (it *interpolant) max() float64 { return it.xs[len(it.xs)-1] }

// at linearly interpolates the measured value at x. x must lie within
// [min, max]; endpoints return the stored value exactly.
func (it *interpolant) at(x float64) float64 {
	idx := sort.SearchFloat64s(it.xs, x)
	if idx < len(it.xs) && it.xs[idx] == x {
		return it.ys[idx]
	}
	// x lies between idx-1 and idx
	x0, x1 := it.xs[idx-1], it.xs[idx]
	y0, y1 := it.ys[idx-1], it.ys[idx]
	t := (x - x0) / (x1 - x0)
	return y0 + t*(y1-y0)
}

func probeGrid(fwd, rev *interpolant, lo, hi float64) []float64 {
	seen := make(map[float64]struct{})
	var grid []float64
	add := func(xs []float64) {
		for _, x := range xs {
			if x < lo || x > hi {
				continue
			}
			if _, ok := seen[x]; ok {
				continue
			}
			seen[x] = struct{}{}
			grid = append(grid, x)
		}
	}
	add(fwd.xs)
	add(rev.xs)
	sort.Float64s(grid)
	return grid
}
