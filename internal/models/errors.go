// errors.go - Domain error taxonomy shared across the engine components.
package models

import "fmt"

// ConfigurationError reports an invalid plan or setting. Raised at planning
// time; the run never starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError creates a ConfigurationError for a field.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// CommunicationError is a transient instrument I/O fault. The acquisition
// loop retries these up to its bound before escalating.
type CommunicationError struct {
	Op  string // "set_level", "measure", "check_fault"
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("instrument communication error during %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// FaultError reports an instrument protection fault (compliance hit or error
// queue entry). Never retried; the run fails but collected data is preserved.
type FaultError struct {
	InCompliance bool
	Messages     []string
}

func (e *FaultError) Error() string {
	if e.InCompliance {
		return "instrument fault: compliance limit reached"
	}
	if len(e.Messages) > 0 {
		return fmt.Sprintf("instrument fault: %s", e.Messages[0])
	}
	return "instrument fault"
}

// FileIOError reports a log open/write failure. Fatal to starting or
// continuing persistence, but never discards already-durable data.
type FileIOError struct {
	Path string
	Err  error
}

func (e *FileIOError) Error() string {
	return fmt.Sprintf("log file error (%s): %v", e.Path, e.Err)
}

func (e *FileIOError) Unwrap() error { return e.Err }
