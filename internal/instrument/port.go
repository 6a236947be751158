// Package instrument defines the capability interface the acquisition engine
// drives. The engine is agnostic to the underlying transport or command
// syntax; any implementation of Port is acceptable. The acquisition loop is
// the single owner of a Port: no other component may call it during a run.
package instrument

import "github.com/iv-workbench/backend/internal/models"

// FaultStatus is the instrument's protection/fault report.
type FaultStatus struct {
	InCompliance bool     `json:"inCompliance"`
	Messages     []string `json:"messages,omitempty"`
}

// Faulted reports whether the status requires aborting the run.
func (f FaultStatus) Faulted() bool {
	return f.InCompliance || len(f.Messages) > 0
}

// Port is the source/measure capability consumed by the engine.
// Calls block; implementations decide their own transport and timeouts are
// applied by the engine via WithTimeout.
type Port interface {
	// Configure applies measurement settings before a run.
	Configure(settings models.Settings) error
	// OutputOn enables the source output.
	OutputOn() error
	// OutputOff disables the source output. Called on every run exit path.
	OutputOff() error
	// SetSourceLevel programs the source to the given level.
	SetSourceLevel(value float64) error
	// Measure triggers one reading and returns the actual source value and
	// the measured value.
	Measure() (sourceValue, measuredValue float64, err error)
	// CheckFault queries the protection state and error queue.
	CheckFault() (FaultStatus, error)
}
