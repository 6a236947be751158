package models

import "time"

// RunState is the lifecycle state of an acquisition run. The acquisition
// loop is the sole mutator; every other component only observes transitions.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStatePaused    RunState = "paused"
	RunStateStopping  RunState = "stopping"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether the state is a terminal state.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// RunKind distinguishes sweep runs from time-monitor runs; it selects the
// log row schema.
type RunKind string

const (
	RunKindSweep   RunKind = "iv_sweep"
	RunKindMonitor RunKind = "time_monitor"
)

// StopReason explains why a run reached its terminal state.
type StopReason string

const (
	ReasonPlanExhausted  StopReason = "plan_exhausted"
	ReasonUserStop       StopReason = "stopped_by_user"
	ReasonInstrumentFault StopReason = "instrument_fault"
	ReasonCommFailure    StopReason = "communication_failure"
	ReasonPersistFailure StopReason = "persistence_failure"
)

// RunResult is the terminal record of a run: how it ended and how much data
// made it to durable storage. Carries enough for a caller to distinguish
// "stopped by user" from "failed after N points".
type RunResult struct {
	RunID          string     `json:"runId"`
	Kind           RunKind    `json:"kind"`
	State          RunState   `json:"state"`
	Reason         StopReason `json:"reason"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	PlannedPoints  int        `json:"plannedPoints"`
	AcquiredCount  int        `json:"acquiredCount"`
	PersistedCount int        `json:"persistedCount"`
	StartedAt      time.Time  `json:"startedAt"`
	Elapsed        float64    `json:"elapsedSeconds"`
	PrimaryLog     string     `json:"primaryLog,omitempty"`
	CacheLog       string     `json:"cacheLog,omitempty"`
	Bidirectional  bool       `json:"bidirectional,omitempty"`
	SourceFunction SourceFunction `json:"sourceFunction"`
}

// RunStatus is the live view of a run in progress.
type RunStatus struct {
	RunID         string   `json:"runId"`
	Kind          RunKind  `json:"kind"`
	State         RunState `json:"state"`
	PlannedPoints int      `json:"plannedPoints"`
	AcquiredCount int      `json:"acquiredCount"`
	Elapsed       float64  `json:"elapsedSeconds"`
	Progress      float64  `json:"progress"` // 0-100
}

// RunInfo is metadata about an archived run log on disk.
type RunInfo struct {
	Filename   string    `json:"filename"`
	Kind       RunKind   `json:"kind"`
	SizeBytes  int64     `json:"sizeBytes"`
	ModifiedAt time.Time `json:"modifiedAt"`
	DataPoints int       `json:"dataPoints"`
	Header     string    `json:"header,omitempty"`
}
