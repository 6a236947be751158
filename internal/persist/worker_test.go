package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iv-workbench/backend/internal/bus"
	"github.com/iv-workbench/backend/internal/models"
)

func runWorker(t *testing.T, kind models.RunKind, samples []models.Sample) (*Worker, string, string) {
	t.Helper()
	dir := t.TempDir()
	primary := filepath.Join(dir, "run.csv")
	cache := filepath.Join(dir, "cache_run.csv")

	w, err := NewWorker(kind, primary, cache, nil)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}

	in := make(chan bus.Message, len(samples)+1)
	for i := range samples {
		in <- bus.Message{Sample: &samples[i]}
	}
	close(in)
	w.Run(in)
	<-w.Done()
	return w, primary, cache
}

func sweepSamples(n int) []models.Sample {
	samples := make([]models.Sample, n)
	for i := range samples {
		r := 1000.0
		samples[i] = models.Sample{
			Timestamp:     float64(i) * 0.1,
			SourceValue:   float64(i) * 0.01,
			MeasuredValue: float64(i) * 0.00001,
			Resistance:    &r,
			PointIndex:    i,
			SweepNumber:   1,
		}
	}
	return samples
}

func TestWorkerWritesBothLogsIdentically(t *testing.T) {
	w, primary, cache := runWorker(t, models.RunKindSweep, sweepSamples(10))

	if w.Persisted() != 10 {
		t.Errorf("Expected 10 persisted records, got %d", w.Persisted())
	}
	if w.Err() != nil {
		t.Errorf("Unexpected worker error: %v", w.Err())
	}

	primaryData, err := os.ReadFile(primary)
	if err != nil {
		t.Fatalf("Failed to read primary log: %v", err)
	}
	cacheData, err := os.ReadFile(cache)
	if err != nil {
		t.Fatalf("Failed to read cache log: %v", err)
	}
	if string(primaryData) != string(cacheData) {
		t.Error("Primary and cache logs diverge")
	}

	contents, err := ReadLog(primary)
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if contents.Kind != models.RunKindSweep {
		t.Errorf("Expected sweep log, got %s", contents.Kind)
	}
	if len(contents.Samples) != 10 {
		t.Errorf("Expected 10 rows, got %d", len(contents.Samples))
	}
	if contents.Truncated {
		t.Error("Clean log must not be flagged truncated")
	}
}

func TestWorkerHeaderOnly(t *testing.T) {
	_, primary, _ := runWorker(t, models.RunKindMonitor, nil)

	contents, err := ReadLog(primary)
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if contents.Kind != models.RunKindMonitor {
		t.Errorf("Expected monitor header, got %s", contents.Kind)
	}
	if len(contents.Samples) != 0 {
		t.Errorf("Expected no rows, got %d", len(contents.Samples))
	}
}

func TestWorkerSyncMessage(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "run.csv")
	cache := filepath.Join(dir, "cache_run.csv")

	w, err := NewWorker(models.RunKindSweep, primary, cache, nil)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}

	s := sweepSamples(1)[0]
	in := make(chan bus.Message, 3)
	in <- bus.Message{Sample: &s}
	in <- bus.Message{Sync: true}
	in <- bus.Message{Sample: &s}
	close(in)
	w.Run(in)
	<-w.Done()

	// Sync markers are checkpoints, not records.
	if w.Persisted() != 2 {
		t.Errorf("Expected 2 persisted records, got %d", w.Persisted())
	}
}

func TestWorkerOpenFailure(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "run.csv")
	cache := filepath.Join(dir, "missing", "cache_run.csv")

	_, err := NewWorker(models.RunKindSweep, primary, cache, nil)
	if err == nil {
		t.Fatal("Expected error for unopenable cache log")
	}
	if _, ok := err.(*models.FileIOError); !ok {
		t.Errorf("Expected FileIOError, got %T", err)
	}
	// The half-created primary must not linger.
	if _, statErr := os.Stat(primary); !os.IsNotExist(statErr) {
		t.Error("Primary log left behind after failed start")
	}
}
