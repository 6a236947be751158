// fake_port.go - Scripted instrument port for testing
package testutil

import (
	"fmt"
	"sync"

	"github.com/iv-workbench/backend/internal/instrument"
	"github.com/iv-workbench/backend/internal/models"
)

// FakePort implements instrument.Port with a scriptable response model. By
// default it behaves as an ideal resistor; individual operations can be made
// to fail a programmed number of times or permanently, and faults can be
// armed to fire at a given measurement index.
type FakePort struct {
	mu sync.Mutex

	// Resistance is the ideal DUT resistance used for measurements.
	Resistance float64

	settings models.Settings
	level    float64
	outputOn bool

	// ops records every call in order, for assertions on sequencing.
	ops []string

	// failures maps an operation name to how many times it should fail
	// before succeeding. A negative count fails forever.
	failures map[string]int

	// faultAfter arms an in-compliance fault once this many measurements
	// have completed. Zero means never.
	faultAfter int
	measured   int

	// MeasureFn overrides the resistor model entirely when set.
	MeasureFn func(level float64) (float64, float64, error)
}

// NewFakePort creates an ideal-resistor fake.
func NewFakePort(resistance float64) *FakePort {
	return &FakePort{
		Resistance: resistance,
		failures:   make(map[string]int),
	}
}

// FailTimes makes the named operation fail with a CommunicationError the
// next n calls. Operations: configure, output_on, output_off, set_level,
// measure, check_fault.
func (f *FakePort) FailTimes(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// FaultAfter arms an in-compliance fault after n successful measurements.
func (f *FakePort) FaultAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faultAfter = n
}

// Ops returns the recorded call sequence.
func (f *FakePort) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// Measured returns the number of completed measurements.
func (f *FakePort) Measured() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.measured
}

// OutputIsOn reports the output relay state.
func (f *FakePort) OutputIsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputOn
}

// Levels returns every source level that was set, in order.
func (f *FakePort) Levels() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var levels []float64
	for _, op := range f.ops {
		var v float64
		if _, err := fmt.Sscanf(op, "set_level %g", &v); err == nil {
			levels = append(levels, v)
		}
	}
	return levels
}

// maybeFail consumes one scripted failure for op. Callers hold the lock.
func (f *FakePort) maybeFail(op string) error {
	n, ok := f.failures[op]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		f.failures[op] = n - 1
	}
	return &models.CommunicationError{Op: op, Err: fmt.Errorf("scripted failure")}
}

func (f *FakePort) Configure(settings models.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "configure")
	if err := f.maybeFail("configure"); err != nil {
		return err
	}
	f.settings = settings
	return nil
}

func (f *FakePort) OutputOn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "output_on")
	if err := f.maybeFail("output_on"); err != nil {
		return err
	}
	f.outputOn = true
	return nil
}

func (f *FakePort) OutputOff() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "output_off")
	if err := f.maybeFail("output_off"); err != nil {
		return err
	}
	f.outputOn = false
	f.level = 0
	return nil
}

func (f *FakePort) SetSourceLevel(value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("set_level %g", value))
	if err := f.maybeFail("set_level"); err != nil {
		return err
	}
	f.level = value
	return nil
}

func (f *FakePort) Measure() (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "measure")
	if err := f.maybeFail("measure"); err != nil {
		return 0, 0, err
	}

	src := f.level
	var meas float64
	var err error
	if f.MeasureFn != nil {
		src, meas, err = f.MeasureFn(f.level)
		if err != nil {
			return 0, 0, err
		}
	} else if f.settings.SourceFunction == models.SourceCurrent {
		meas = src * f.Resistance
	} else if f.Resistance != 0 {
		meas = src / f.Resistance
	}

	f.measured++
	return src, meas, nil
}

func (f *FakePort) CheckFault() (instrument.FaultStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "check_fault")
	if err := f.maybeFail("check_fault"); err != nil {
		return instrument.FaultStatus{}, err
	}
	if f.faultAfter > 0 && f.measured >= f.faultAfter {
		return instrument.FaultStatus{InCompliance: true}, nil
	}
	return instrument.FaultStatus{}, nil
}

// Ensure FakePort implements instrument.Port
var _ instrument.Port = (*FakePort)(nil)
