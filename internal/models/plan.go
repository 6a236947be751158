package models

import "time"

// SweepSegment is one linear leg of a sweep: pointCount evenly spaced levels
// from Start to Stop inclusive. PointCount must be >= 2.
type SweepSegment struct {
	Start      float64 `json:"start" yaml:"start"`
	Stop       float64 `json:"stop" yaml:"stop"`
	PointCount int     `json:"pointCount" yaml:"points"`
}

// SweepPlan describes an IV sweep: one or more segments traversed in order,
// optionally retraced in reverse after the forward pass completes.
type SweepPlan struct {
	Segments      []SweepSegment `json:"segments" yaml:"segments"`
	Bidirectional bool           `json:"bidirectional" yaml:"bidirectional"`
	// SettleTime is the mandatory wait after setting a source level before
	// measuring. DelayPerPoint is the inter-point delay, independent of it.
	SettleTime    time.Duration `json:"settleTime" yaml:"settle_time"`
	DelayPerPoint time.Duration `json:"delayPerPoint" yaml:"delay_per_point"`
}

// MonitorPlan describes a fixed-bias time monitor: hold SourceLevel for
// Duration, measuring every Interval. Interval must be > 0.
type MonitorPlan struct {
	SourceLevel float64       `json:"sourceLevel" yaml:"source_level"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
}
