package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IVWorkbench.config")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != 8089 {
		t.Errorf("Expected default port 8089, got %d", cfg.Server.Port)
	}
	if cfg.Instrument.Backend != "simulator" {
		t.Errorf("Expected simulator backend, got %s", cfg.Instrument.Backend)
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.Engine.MaxRetries)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("Default config file was not written")
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "IVWorkbench.config")

	cfg := DefaultConfig()
	cfg.Server.Port = 9100
	cfg.Instrument.SimResistance = 4700
	cfg.Engine.SyncEvery = 25
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Server.Port != 9100 {
		t.Errorf("Port lost in round trip: %d", loaded.Server.Port)
	}
	if loaded.Instrument.SimResistance != 4700 {
		t.Errorf("Resistance lost in round trip: %g", loaded.Instrument.SimResistance)
	}
	if loaded.Engine.SyncEvery != 25 {
		t.Errorf("SyncEvery lost in round trip: %d", loaded.Engine.SyncEvery)
	}

	// Relative paths resolve against the config file's directory.
	if !filepath.IsAbs(loaded.Storage.DataDirectory) {
		t.Errorf("Data directory not resolved: %s", loaded.Storage.DataDirectory)
	}
	if filepath.Dir(loaded.Storage.DataDirectory) != dir {
		t.Errorf("Data directory resolved against the wrong base: %s", loaded.Storage.DataDirectory)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IVWorkbench.config")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Setenv("PORT", "9999")
	t.Setenv("INSTRUMENT_ADDRESS", "10.0.0.5:5025")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("PORT override ignored: %d", cfg.Server.Port)
	}
	if cfg.Instrument.Backend != "tsp" || cfg.Instrument.Address != "10.0.0.5:5025" {
		t.Errorf("INSTRUMENT_ADDRESS override ignored: %+v", cfg.Instrument)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.CallTimeout() != 15*time.Second {
		t.Errorf("Expected 15s call timeout, got %v", cfg.CallTimeout())
	}
	if cfg.RetryBackoff() != 100*time.Millisecond {
		t.Errorf("Expected 100ms backoff, got %v", cfg.RetryBackoff())
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDirectory = filepath.Join(dir, "data")
	cfg.Storage.TempDirectory = filepath.Join(dir, "data", "temp")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.Storage.DataDirectory, cfg.Storage.TempDirectory} {
		if stat, err := os.Stat(d); err != nil || !stat.IsDir() {
			t.Errorf("Directory not created: %s", d)
		}
	}
}
