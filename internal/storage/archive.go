// Package storage owns the on-disk layout of measurement data: the data
// directory of primary run logs and its cache subdirectory of redundant
// copies. It hands out paths; the persistence worker is the only writer of
// the files themselves while a run is active.
package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/iv-workbench/backend/internal/models"
	"github.com/iv-workbench/backend/internal/persist"
)

// Archive manages the measurement data directory.
type Archive struct {
	dataDir  string
	cacheDir string
}

// NewArchive creates the data and cache directories if needed.
func NewArchive(dataDir string) (*Archive, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cacheDir := filepath.Join(dataDir, "cache")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Archive{dataDir: dataDir, cacheDir: cacheDir}, nil
}

// DataDir returns the primary data directory.
func (a *Archive) DataDir() string { return a.dataDir }

// NewRunPaths generates the primary and cache log paths for a new run.
// Filenames are timestamped; a custom name becomes a sanitized prefix.
func (a *Archive) NewRunPaths(kind models.RunKind, customName string) (string, string) {
	stamp := time.Now().Format("20060102_150405")
	base := fmt.Sprintf("%s_%s", kind, stamp)

	name := base + ".csv"
	if clean := sanitizeName(customName); clean != "" {
		name = fmt.Sprintf("%s_%s.csv", clean, base)
	}

	return filepath.Join(a.dataDir, name), filepath.Join(a.cacheDir, CacheNameFor(name))
}

// CacheNameFor returns the cache-copy filename paired with a primary log
// filename. The cache carries the full primary name so the two can be
// paired back up during recovery.
func CacheNameFor(primaryFilename string) string {
	return "cache_" + primaryFilename
}

// Path resolves an archived filename to its full path, rejecting anything
// that escapes the data directory.
func (a *Archive) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}
	path := filepath.Join(a.dataDir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file not found: %s", filename)
	}
	return path, nil
}

// CachePath resolves a filename inside the cache directory.
func (a *Archive) CachePath(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}
	path := filepath.Join(a.cacheDir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("cache file not found: %s", filename)
	}
	return path, nil
}

// List returns the archived runs, most recent first.
func (a *Archive) List() ([]models.RunInfo, error) {
	entries, err := os.ReadDir(a.dataDir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory: %w", err)
	}

	var infos []models.RunInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		info, err := a.Info(entry.Name())
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
	})
	return infos, nil
}

// Info reads metadata for one archived run: size, mtime, header, and the
// number of data rows.
func (a *Archive) Info(filename string) (models.RunInfo, error) {
	path, err := a.Path(filename)
	if err != nil {
		return models.RunInfo{}, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return models.RunInfo{}, err
	}

	info := models.RunInfo{
		Filename:   filename,
		SizeBytes:  stat.Size(),
		ModifiedAt: stat.ModTime(),
		Kind:       DetectKind(filename),
	}

	f, err := os.Open(path)
	if err != nil {
		return info, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		info.Header = scanner.Text()
		if kind, ok := persist.KindForHeader(info.Header); ok {
			info.Kind = kind
		}
	}
	rows := 0
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			rows++
		}
	}
	info.DataPoints = rows
	return info, nil
}

// RecoverFromCache copies a cache log into the data directory as a
// recovered run, making it visible alongside the primaries.
func (a *Archive) RecoverFromCache(cacheFilename string) (string, error) {
	src, err := a.CachePath(cacheFilename)
	if err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(cacheFilename, filepath.Ext(cacheFilename))
	recovered := fmt.Sprintf("recovered_%s.csv", stem)
	dst := filepath.Join(a.dataDir, recovered)

	data, err := os.ReadFile(src)
	if err != nil {
		return "", &models.FileIOError{Path: src, Err: err}
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", &models.FileIOError{Path: dst, Err: err}
	}
	fmt.Printf("[Archive] recovered %s -> %s\n", cacheFilename, recovered)
	return recovered, nil
}

// CleanupOlderThan deletes archived runs older than the given age and
// returns how many were removed. Cache copies age out with their primaries.
func (a *Archive) CleanupOlderThan(age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	deleted := 0

	for _, dir := range []string{a.dataDir, a.cacheDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return deleted, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
				continue
			}
			stat, err := entry.Info()
			if err != nil {
				continue
			}
			if stat.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
					deleted++
				}
			}
		}
	}
	return deleted, nil
}

// DetectKind guesses the run kind from a filename; the header wins when
// readable.
func DetectKind(filename string) models.RunKind {
	lower := strings.ToLower(filename)
	if strings.Contains(lower, string(models.RunKindMonitor)) {
		return models.RunKindMonitor
	}
	return models.RunKindSweep
}

// sanitizeName keeps alphanumerics and "._-", capped at 50 runes, matching
// the filename rules of the export tooling.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if b.Len() >= 50 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
