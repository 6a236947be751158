package instrument

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/iv-workbench/backend/internal/models"
)

// Simulator is a software source-meter: a linear resistor with optional
// measurement noise and per-call latency. It honors the configured
// compliance limit the way the hardware does: the measured quantity clamps
// at the limit and the port reports an in-compliance fault. Used as the
// default port when no hardware is configured, and by the test suite.
type Simulator struct {
	mu sync.Mutex

	settings   models.Settings
	level      float64
	outputOn   bool
	configured bool

	// DeviceResistance is the simulated DUT resistance in ohms.
	DeviceResistance float64
	// NoiseAmplitude adds uniform noise of +/- this fraction to measurements.
	NoiseAmplitude float64
	// Latency is slept on every call, emulating instrument round trips.
	Latency time.Duration

	rng *rand.Rand
}

// NewSimulator creates a simulator for a DUT of the given resistance.
func NewSimulator(resistance float64) *Simulator {
	return &Simulator{
		DeviceResistance: resistance,
		rng:              rand.New(rand.NewSource(1)),
	}
}

func (s *Simulator) Configure(settings models.Settings) error {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.configured = true
	return nil
}

func (s *Simulator) OutputOn() error {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputOn = true
	return nil
}

func (s *Simulator) OutputOff() error {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputOn = false
	s.level = 0
	return nil
}

func (s *Simulator) SetSourceLevel(value float64) error {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = value
	return nil
}

// Measure returns the programmed source value and the device response. When
// sourcing voltage the measured value is I = V/R; when sourcing current it
// is V = I*R. The response clamps at the compliance limit.
func (s *Simulator) Measure() (float64, float64, error) {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.level
	var measured float64
	if s.settings.SourceFunction == models.SourceCurrent {
		measured = src * s.DeviceResistance
	} else {
		if s.DeviceResistance != 0 {
			measured = src / s.DeviceResistance
		}
	}

	if s.NoiseAmplitude > 0 {
		measured += measured * s.NoiseAmplitude * (2*s.rng.Float64() - 1)
	}

	if s.settings.Compliance > 0 && math.Abs(measured) > s.settings.Compliance {
		measured = math.Copysign(s.settings.Compliance, measured)
	}

	return src, measured, nil
}

func (s *Simulator) CheckFault() (FaultStatus, error) {
	s.pause()
	s.mu.Lock()
	defer s.mu.Unlock()

	inCompliance := false
	if s.settings.Compliance > 0 && s.outputOn {
		var response float64
		if s.settings.SourceFunction == models.SourceCurrent {
			response = s.level * s.DeviceResistance
		} else if s.DeviceResistance != 0 {
			response = s.level / s.DeviceResistance
		}
		inCompliance = math.Abs(response) >= s.settings.Compliance
	}

	return FaultStatus{InCompliance: inCompliance}, nil
}

func (s *Simulator) pause() {
	if s.Latency > 0 {
		time.Sleep(s.Latency)
	}
}
