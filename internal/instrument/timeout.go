package instrument

import (
	"context"
	"time"

	"github.com/iv-workbench/backend/internal/models"
)

// timeoutPort bounds every port call by a fixed deadline. An exceeded
// deadline surfaces as a CommunicationError, making stuck transports subject
// to the engine's transient-retry policy instead of hanging the loop.
type timeoutPort struct {
	inner   Port
	timeout time.Duration
}

// WithTimeout wraps a Port so every call is bounded by the given per-call
// timeout. A non-positive timeout returns the port unwrapped.
func WithTimeout(p Port, timeout time.Duration) Port {
	if timeout <= 0 {
		return p
	}
	return &timeoutPort{inner: p, timeout: timeout}
}

// call runs fn with the deadline. The underlying call keeps running in its
// goroutine if it never returns; the buffered channel lets it exit.
func (t *timeoutPort) call(op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return &models.CommunicationError{Op: op, Err: context.DeadlineExceeded}
	}
}

func (t *timeoutPort) Configure(settings models.Settings) error {
	return t.call("configure", func() error { return t.inner.Configure(settings) })
}

func (t *timeoutPort) OutputOn() error {
	return t.call("output_on", func() error { return t.inner.OutputOn() })
}

func (t *timeoutPort) OutputOff() error {
	return t.call("output_off", func() error { return t.inner.OutputOff() })
}

func (t *timeoutPort) SetSourceLevel(value float64) error {
	return t.call("set_level", func() error { return t.inner.SetSourceLevel(value) })
}

func (t *timeoutPort) Measure() (float64, float64, error) {
	var src, meas float64
	err := t.call("measure", func() error {
		var err error
		src, meas, err = t.inner.Measure()
		return err
	})
	return src, meas, err
}

func (t *timeoutPort) CheckFault() (FaultStatus, error) {
	var status FaultStatus
	err := t.call("check_fault", func() error {
		var err error
		status, err = t.inner.CheckFault()
		return err
	})
	return status, err
}
