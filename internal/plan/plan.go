// Package plan turns a declarative sweep or monitor recipe into an
// ordered, finite sequence of setpoints. Building is pure and deterministic;
// validation failures are ConfigurationErrors and the run never starts.
package plan

import (
	"fmt"
	"time"

	"github.com/iv-workbench/backend/internal/models"
)

// Plan is the executable form of a measurement recipe: the full
// ordered setpoint sequence plus the timing constants the acquisition loop
// applies between points.
type Plan struct {
	Kind          models.RunKind
	Setpoints     []models.Setpoint
	ForwardLength int
	Bidirectional bool
	// DelayPerPoint is the inter-point delay for sweeps, or the sampling
	// interval for monitor runs. Independent of per-setpoint settle time.
	DelayPerPoint time.Duration
	SourceLevel   float64 // monitor runs: the fixed bias level
}

// Len returns the total number of planned setpoints.
func (p *Plan) Len() int { return len(p.Setpoints) }

// BuildSweep expands a SweepPlan into setpoints. Each segment contributes
// linspace(start, stop, pointCount); segment boundaries are not deduplicated
// because coincident levels are still distinct physical samples in time.
// A bidirectional plan retraces the full forward sequence in reverse with
// sweepNumber incremented, so its total length is exactly twice the forward
// length.
func BuildSweep(spec models.SweepPlan) (*Plan, error) {
	if err := validateSweep(spec); err != nil {
		return nil, err
	}

	var setpoints []models.Setpoint
	pointIndex := 0

	for segIdx, seg := range spec.Segments {
		for _, v := range linspace(seg.Start, seg.Stop, seg.PointCount) {
			setpoints = append(setpoints, models.Setpoint{
				Value:        v,
				SegmentIndex: segIdx,
				PointIndex:   pointIndex,
				SweepNumber:  1,
				SettleTime:   spec.SettleTime,
			})
			pointIndex++
		}
	}

	forwardLen := len(setpoints)

	if spec.Bidirectional {
		n := len(spec.Segments)
		for i := n - 1; i >= 0; i-- {
			seg := spec.Segments[i]
			for _, v := range linspace(seg.Stop, seg.Start, seg.PointCount) {
				setpoints = append(setpoints, models.Setpoint{
					Value:        v,
					SegmentIndex: n + (n - 1 - i),
					PointIndex:   pointIndex,
					SweepNumber:  2,
					SettleTime:   spec.SettleTime,
				})
				pointIndex++
			}
		}
	}

	return &Plan{
		Kind:          models.RunKindSweep,
		Setpoints:     setpoints,
		ForwardLength: forwardLen,
		Bidirectional: spec.Bidirectional,
		DelayPerPoint: spec.DelayPerPoint,
	}, nil
}

// BuildMonitor expands a MonitorPlan into floor(duration/interval)+1
// setpoints at the fixed source level.
func BuildMonitor(spec models.MonitorPlan) (*Plan, error) {
	if spec.Interval <= 0 {
		return nil, models.NewConfigurationError("interval", "must be greater than zero")
	}
	if spec.Duration < 0 {
		return nil, models.NewConfigurationError("duration", "must not be negative")
	}

	count := int(spec.Duration/spec.Interval) + 1
	setpoints := make([]models.Setpoint, 0, count)
	for i := 0; i < count; i++ {
		setpoints = append(setpoints, models.Setpoint{
			Value:       spec.SourceLevel,
			PointIndex:  i,
			SweepNumber: 1,
		})
	}

	return &Plan{
		Kind:          models.RunKindMonitor,
		Setpoints:     setpoints,
		ForwardLength: count,
		DelayPerPoint: spec.Interval,
		SourceLevel:   spec.SourceLevel,
	}, nil
}

func validateSweep(spec models.SweepPlan) error {
	if len(spec.Segments) == 0 {
		return models.NewConfigurationError("segments", "at least one segment is required")
	}
	for i, seg := range spec.Segments {
		if seg.PointCount < 2 {
			return models.NewConfigurationError(
				"segments", fmt.Sprintf("segment %d: point count must be at least 2", i))
		}
	}
	if spec.SettleTime < 0 {
		return models.NewConfigurationError("settle_time", "must not be negative")
	}
	if spec.DelayPerPoint < 0 {
		return models.NewConfigurationError("delay_per_point", "must not be negative")
	}
	return nil
}

// linspace returns n evenly spaced values from start to stop inclusive.
// n must be >= 2.
func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = start + step*float64(i)
	}
	out[n-1] = stop
	return out
}
