package models

// SourceFunction selects what the instrument sources.
type SourceFunction string

const (
	SourceVoltage SourceFunction = "voltage"
	SourceCurrent SourceFunction = "current"
)

// SenseFunction selects what the instrument senses.
type SenseFunction string

const (
	SenseVoltage SenseFunction = "voltage"
	SenseCurrent SenseFunction = "current"
)

// Settings holds the instrument measurement configuration applied before a
// run starts. Mirrors the source-meter's source/sense/compliance model.
type Settings struct {
	SourceFunction SourceFunction `json:"sourceFunction" yaml:"source_function"`
	SenseFunction  SenseFunction  `json:"senseFunction" yaml:"sense_function"`
	SourceRange    float64        `json:"sourceRange" yaml:"source_range"`
	SenseRange     float64        `json:"senseRange" yaml:"sense_range"`
	SourceAutorange bool          `json:"sourceAutorange" yaml:"source_autorange"`
	SenseAutorange  bool          `json:"senseAutorange" yaml:"sense_autorange"`
	// Compliance is the protection limit on the non-sourced quantity:
	// current limit when sourcing voltage, voltage limit when sourcing current.
	Compliance   float64 `json:"compliance" yaml:"compliance"`
	NPLC         float64 `json:"nplc" yaml:"nplc"`
	FilterCount  int     `json:"filterCount" yaml:"filter_count"`
	FilterEnable bool    `json:"filterEnable" yaml:"filter_enable"`
}

// DefaultSettings returns the voltage-sourced, current-sensed defaults.
func DefaultSettings() Settings {
	return Settings{
		SourceFunction:  SourceVoltage,
		SenseFunction:   SenseCurrent,
		SourceRange:     1.0,
		SenseRange:      1e-3,
		SourceAutorange: true,
		SenseAutorange:  true,
		Compliance:      1e-3,
		NPLC:            1.0,
		FilterCount:     1,
	}
}
