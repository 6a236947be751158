// Package config provides XML-based configuration management for lab-network
// deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"IVWorkbench"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Instrument configuration
	Instrument InstrumentConfig `xml:"Instrument"`

	// Engine configuration
	Engine EngineConfig `xml:"Engine"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
}

// StorageConfig contains measurement data storage settings
type StorageConfig struct {
	DataDirectory   string `xml:"DataDirectory"`
	TempDirectory   string `xml:"TempDirectory"`
	PresetsFile     string `xml:"PresetsFile"`
	RetentionDays   int    `xml:"RetentionDays"`
	CleanupInterval int    `xml:"CleanupIntervalMinutes"`
}

// InstrumentConfig describes how to reach the source-measure unit. The
// simulator backend needs no address; the TSP backend does.
type InstrumentConfig struct {
	Backend          string  `xml:"Backend"` // "simulator" or "tsp"
	Address          string  `xml:"Address"` // host:port of the instrument's raw socket
	Channel          string  `xml:"Channel"` // "a" or "b"
	CallTimeoutMs    int     `xml:"CallTimeoutMs"`
	SimResistance    float64 `xml:"SimulatorResistanceOhms"`
	SimNoise         float64 `xml:"SimulatorNoiseAmplitude"`
	SimLatencyMicros int     `xml:"SimulatorLatencyMicros"`
}

// EngineConfig contains acquisition tuning options
type EngineConfig struct {
	MaxRetries     int `xml:"MaxRetries"`
	RetryBackoffMs int `xml:"RetryBackoffMs"`
	SyncEvery      int `xml:"SyncMarkerEveryPoints"`
	BusCapacity    int `xml:"SampleBusCapacity"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
		},
		Storage: StorageConfig{
			DataDirectory:   "./data",
			TempDirectory:   "./data/temp",
			PresetsFile:     "./presets.yaml",
			RetentionDays:   0, // keep forever
			CleanupInterval: 60,
		},
		Instrument: InstrumentConfig{
			Backend:          "simulator",
			CallTimeoutMs:    15000,
			SimResistance:    1000,
			SimNoise:         1e-9,
			SimLatencyMicros: 200,
		},
		Engine: EngineConfig{
			MaxRetries:     3,
			RetryBackoffMs: 100,
			SyncEvery:      50,
			BusCapacity:    64,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &AppConfig{}
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- IV Workbench Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	// INSTRUMENT_ADDRESS override
	if addr := os.Getenv("INSTRUMENT_ADDRESS"); addr != "" {
		c.Instrument.Address = addr
		c.Instrument.Backend = "tsp"
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.TempDirectory) {
		c.Storage.TempDirectory = filepath.Join(configDir, c.Storage.TempDirectory)
	}
	if !filepath.IsAbs(c.Storage.PresetsFile) {
		c.Storage.PresetsFile = filepath.Join(configDir, c.Storage.PresetsFile)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// CallTimeout returns the per-call instrument timeout as a duration.
func (c *AppConfig) CallTimeout() time.Duration {
	return time.Duration(c.Instrument.CallTimeoutMs) * time.Millisecond
}

// RetryBackoff returns the initial retry backoff as a duration.
func (c *AppConfig) RetryBackoff() time.Duration {
	return time.Duration(c.Engine.RetryBackoffMs) * time.Millisecond
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.TempDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
