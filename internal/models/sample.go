package models

import "time"

// Setpoint is one planned instrument command: the source level to apply plus
// its timing metadata. Setpoints are immutable once the plan is built.
type Setpoint struct {
	Value        float64       `json:"value"`
	SegmentIndex int           `json:"segmentIndex"`
	PointIndex   int           `json:"pointIndex"`
	SweepNumber  int           `json:"sweepNumber"`
	SettleTime   time.Duration `json:"settleTime"`
}

// Sample is one completed measurement. Samples are immutable value copies
// once published; consumers must never mutate them.
type Sample struct {
	// Timestamp is seconds since run start, taken from the monotonic clock.
	Timestamp float64 `json:"timestamp"`
	// AcquiredAt is the wall-clock time of the measurement (monitor log rows
	// record it alongside the elapsed time).
	AcquiredAt    time.Time `json:"acquiredAt"`
	SourceValue   float64   `json:"sourceValue"`
	MeasuredValue float64   `json:"measuredValue"`
	// Resistance is nil when the derived value is undefined (zero divisor).
	Resistance   *float64 `json:"resistance,omitempty"`
	SegmentIndex int      `json:"segmentIndex"`
	PointIndex   int      `json:"pointIndex"`
	SweepNumber  int      `json:"sweepNumber"`
}

// DeriveResistance computes the derived resistance for a source/measure pair.
// Voltage-sourced: R = V_source / I_measured. Current-sourced:
// R = V_measured / I_source. Returns nil when the current is zero.
func DeriveResistance(sourceFunc SourceFunction, sourceValue, measuredValue float64) *float64 {
	var r float64
	switch sourceFunc {
	case SourceCurrent:
		if sourceValue == 0 {
			return nil
		}
		r = measuredValue / sourceValue
	default: // voltage-sourced
		if measuredValue == 0 {
			return nil
		}
		r = sourceValue / measuredValue
	}
	return &r
}

// Voltage returns the voltage side of the sample given the source function.
func (s Sample) Voltage(sourceFunc SourceFunction) float64 {
	if sourceFunc == SourceCurrent {
		return s.MeasuredValue
	}
	return s.SourceValue
}

// Current returns the current side of the sample given the source function.
func (s Sample) Current(sourceFunc SourceFunction) float64 {
	if sourceFunc == SourceCurrent {
		return s.SourceValue
	}
	return s.MeasuredValue
}
