// Package analyzer provides stateless, post-hoc computation over a finite
// sample set, complete or partial. Every operation is a pure function of
// its input: running it twice yields the same result.
package analyzer

import (
	"math"
	"sort"

	"github.com/iv-workbench/backend/internal/models"
)

// ResistanceStats summarizes the derived resistance over a sample set.
// Defined is false for an empty input ("no data", not an error).
type ResistanceStats struct {
	Defined bool    `json:"defined"`
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stdDev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Median  float64 `json:"median"`
}

// ResistanceStatistics computes stats over all samples with a defined
// derived resistance, skipping undefined entries. Standard deviation is the
// sample standard deviation, zero when fewer than two values remain.
func ResistanceStatistics(samples []models.Sample) ResistanceStats {
	var values []float64
	for _, s := range samples {
		if s.Resistance != nil && !math.IsInf(*s.Resistance, 0) && !math.IsNaN(*s.Resistance) {
			values = append(values, *s.Resistance)
		}
	}
	if len(values) == 0 {
		return ResistanceStats{}
	}

	stats := ResistanceStats{Defined: true, Count: len(values)}
	stats.Min = values[0]
	stats.Max = values[0]
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(values))

	if len(values) > 1 {
		var ss float64
		for _, v := range values {
			d := v - stats.Mean
			ss += d * d
		}
		stats.StdDev = math.Sqrt(ss / float64(len(values)-1))
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		stats.Median = sorted[mid]
	} else {
		stats.Median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return stats
}

// BreakdownResult is the outcome of breakdown-voltage detection.
type BreakdownResult struct {
	Found         bool    `json:"found"`
	SourceValue   float64 `json:"sourceValue"`
	MeasuredValue float64 `json:"measuredValue"`
	PointIndex    int     `json:"pointIndex"`
}

// DetectBreakdown returns the smallest source value (by absolute value) at
// which the measured magnitude first reaches the threshold. Ties break to
// the first occurrence in acquisition order; sweep direction matters
// physically, so the scan is never sorted.
func DetectBreakdown(samples []models.Sample, threshold float64) BreakdownResult {
	var best BreakdownResult
	for _, s := range samples {
		if math.Abs(s.MeasuredValue) < threshold {
			continue
		}
		if !best.Found || math.Abs(s.SourceValue) < math.Abs(best.SourceValue) {
			best = BreakdownResult{
				Found:         true,
				SourceValue:   s.SourceValue,
				MeasuredValue: s.MeasuredValue,
				PointIndex:    s.PointIndex,
			}
		}
	}
	return best
}

// RangeStats summarizes one measured quantity.
type RangeStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Summary is the per-run analysis report.
type Summary struct {
	DataPoints   int             `json:"dataPoints"`
	VoltageRange *RangeStats     `json:"voltageRange,omitempty"`
	CurrentRange *RangeStats     `json:"currentRange,omitempty"`
	Resistance   ResistanceStats `json:"resistance"`
	Duration     float64         `json:"durationSeconds,omitempty"`
	SamplingRate float64         `json:"samplingRate,omitempty"`
}

// Summarize builds the per-run report: voltage/current ranges, resistance
// statistics, and for monitor runs the observed duration and sampling rate.
func Summarize(samples []models.Sample, sourceFunc models.SourceFunction) Summary {
	summary := Summary{
		DataPoints: len(samples),
		Resistance: ResistanceStatistics(samples),
	}
	if len(samples) == 0 {
		return summary
	}

	voltages := make([]float64, len(samples))
	currents := make([]float64, len(samples))
	for i, s := range samples {
		voltages[i] = s.Voltage(sourceFunc)
		currents[i] = s.Current(sourceFunc)
	}
	summary.VoltageRange = rangeStats(voltages)
	summary.CurrentRange = rangeStats(currents)

	duration := samples[len(samples)-1].Timestamp - samples[0].Timestamp
	if duration > 0 {
		summary.Duration = duration
		summary.SamplingRate = float64(len(samples)) / duration
	}
	return summary
}

func rangeStats(values []float64) *RangeStats {
	if len(values) == 0 {
		return nil
	}
	rs := &RangeStats{Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < rs.Min {
			rs.Min = v
		}
		if v > rs.Max {
			rs.Max = v
		}
	}
	rs.Mean = sum / float64(len(values))
	if len(values) > 1 {
		var ss float64
		for _, v := range values {
			d := v - rs.Mean
			ss += d * d
		}
		rs.Std = math.Sqrt(ss / float64(len(values)-1))
	}
	return rs
}

// DifferentialPoint is one dV/dI estimate.
type DifferentialPoint struct {
	Voltage    float64 `json:"voltage"`
	Current    float64 `json:"current"`
	Resistance float64 `json:"resistance"`
	Defined    bool    `json:"defined"`
}

// DifferentialResistance estimates dV/dI along the IV curve using central
// differences (one-sided at the ends), ordered by current. Points where the
// current gradient vanishes are reported undefined instead of infinite.
func DifferentialResistance(samples []models.Sample, sourceFunc models.SourceFunction) []DifferentialPoint {
	if len(samples) < 2 {
		return nil
	}

	type iv struct{ v, i float64 }
	points := make([]iv, len(samples))
	for idx, s := range samples {
		points[idx] = iv{v: s.Voltage(sourceFunc), i: s.Current(sourceFunc)}
	}
	sort.Slice(points, func(a, b int) bool { return points[a].i < points[b].i })

	out := make([]DifferentialPoint, len(points))
	for idx := range points {
		lo, hi := idx-1, idx+1
		if lo < 0 {
			lo = 0
		}
		if hi > len(points)-1 {
			hi = len(points) - 1
		}
		dv := points[hi].v - points[lo].v
		di := points[hi].i - points[lo].i
		dp := DifferentialPoint{Voltage: points[idx].v, Current: points[idx].i}
		if math.Abs(di) > 1e-15 {
			dp.Resistance = dv / di
			dp.Defined = true
		}
		out[idx] = dp
	}
	return out
}
