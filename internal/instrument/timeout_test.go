package instrument

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iv-workbench/backend/internal/models"
)

// slowPort hangs on Measure for Delay, answering instantly otherwise.
type slowPort struct {
	Delay time.Duration
}

func (p *slowPort) Configure(models.Settings) error { return nil }
func (p *slowPort) OutputOn() error                 { return nil }
func (p *slowPort) OutputOff() error                { return nil }
func (p *slowPort) SetSourceLevel(float64) error    { return nil }
func (p *slowPort) Measure() (float64, float64, error) {
	time.Sleep(p.Delay)
	return 1, 0.001, nil
}
func (p *slowPort) CheckFault() (FaultStatus, error) { return FaultStatus{}, nil }

func TestWithTimeoutZeroReturnsUnwrapped(t *testing.T) {
	inner := &slowPort{}
	if WithTimeout(inner, 0) != Port(inner) {
		t.Error("Zero timeout must return the port unwrapped")
	}
}

func TestTimeoutPortPassesThroughFastCalls(t *testing.T) {
	port := WithTimeout(&slowPort{}, time.Second)

	src, meas, err := port.Measure()
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if src != 1 || meas != 0.001 {
		t.Errorf("Values mangled by the wrapper: %g/%g", src, meas)
	}
	if err := port.OutputOn(); err != nil {
		t.Errorf("OutputOn failed: %v", err)
	}
}

func TestTimeoutPortBoundsStuckCall(t *testing.T) {
	port := WithTimeout(&slowPort{Delay: 5 * time.Second}, 20*time.Millisecond)

	start := time.Now()
	_, _, err := port.Measure()
	if err == nil {
		t.Fatal("Expected a timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("Timeout did not bound the call")
	}

	var commErr *models.CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("Expected CommunicationError, got %T", err)
	}
	if commErr.Op != "measure" {
		t.Errorf("Expected op measure, got %s", commErr.Op)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline-exceeded cause, got %v", commErr.Err)
	}
}
