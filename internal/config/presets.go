package config

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iv-workbench/backend/internal/models"
)

// Preset is a named, reusable measurement recipe: settings plus either a
// sweep or a monitor plan.
type Preset struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        models.RunKind      `yaml:"kind" json:"kind"`
	Settings    models.Settings     `yaml:"settings" json:"settings"`
	Sweep       *models.SweepPlan   `yaml:"sweep,omitempty" json:"sweep,omitempty"`
	Monitor     *models.MonitorPlan `yaml:"monitor,omitempty" json:"monitor,omitempty"`
}

// PresetFile is the on-disk YAML document.
type PresetFile struct {
	Presets []Preset `yaml:"presets"`
}

// PresetStore keeps the preset list in memory and mirrors every change back
// to the YAML file.
type PresetStore struct {
	mu      sync.RWMutex
	path    string
	presets map[string]Preset
}

// LoadPresets reads the preset file, creating it with defaults when missing.
func LoadPresets(path string) (*PresetStore, error) {
	ps := &PresetStore{path: path, presets: make(map[string]Preset)}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		for _, p := range defaultPresets() {
			ps.presets[p.Name] = p
		}
		if err := ps.save(); err != nil {
			return nil, err
		}
		return ps, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}

	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets file: %w", err)
	}

	for _, p := range file.Presets {
		if p.Name == "" {
			continue
		}
		ps.presets[p.Name] = p
	}
	return ps, nil
}

// List returns all presets sorted by name.
func (ps *PresetStore) List() []Preset {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]Preset, 0, len(ps.presets))
	for _, p := range ps.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one preset by name.
func (ps *PresetStore) Get(name string) (Preset, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.presets[name]
	return p, ok
}

// Put inserts or replaces a preset and persists the file.
func (ps *PresetStore) Put(p Preset) error {
	if p.Name == "" {
		return fmt.Errorf("preset name is required")
	}
	if p.Sweep == nil && p.Monitor == nil {
		return fmt.Errorf("preset %q has neither a sweep nor a monitor plan", p.Name)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.presets[p.Name] = p
	return ps.save()
}

// Delete removes a preset and persists the file.
func (ps *PresetStore) Delete(name string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.presets[name]; !ok {
		return fmt.Errorf("preset not found: %s", name)
	}
	delete(ps.presets, name)
	return ps.save()
}

// save writes the file; callers hold the lock.
func (ps *PresetStore) save() error {
	out := make([]Preset, 0, len(ps.presets))
	for _, p := range ps.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	data, err := yaml.Marshal(PresetFile{Presets: out})
	if err != nil {
		return fmt.Errorf("failed to marshal presets: %w", err)
	}
	if err := os.WriteFile(ps.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write presets file: %w", err)
	}
	return nil
}

func defaultPresets() []Preset {
	return []Preset{
		{
			Name:        "quick-iv",
			Description: "Fast unidirectional IV sweep, -1V to 1V",
			Kind:        models.RunKindSweep,
			Settings:    models.DefaultSettings(),
			Sweep: &models.SweepPlan{
				Segments: []models.SweepSegment{
					{Start: -1.0, Stop: 1.0, PointCount: 101},
				},
			},
		},
		{
			Name:        "hysteresis-check",
			Description: "Bidirectional sweep for hysteresis comparison",
			Kind:        models.RunKindSweep,
			Settings:    models.DefaultSettings(),
			Sweep: &models.SweepPlan{
				Segments: []models.SweepSegment{
					{Start: 0, Stop: 2.0, PointCount: 201},
				},
				Bidirectional: true,
			},
		},
		{
			Name:        "bias-stability",
			Description: "Hold 0.5V for ten minutes, one reading per second",
			Kind:        models.RunKindMonitor,
			Settings:    models.DefaultSettings(),
			Monitor: &models.MonitorPlan{
				SourceLevel: 0.5,
				Duration:    10 * time.Minute,
				Interval:    time.Second,
			},
		},
	}
}
