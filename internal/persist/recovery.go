// recovery.go - Reading runs back from the append-only logs.
// The primary log is the canonical record; the cache log is the fallback
// when the primary is missing, truncated, or unreadable. When both are
// present and diverge, the log with the longer valid-prefix wins: most rows
// with a complete, parseable record boundary.
package persist

import (
	"bufio"
	"fmt"
	"os"

	"github.com/iv-workbench/backend/internal/models"
)

// LogContents is one parsed log file: the valid prefix of its rows.
type LogContents struct {
	Path    string
	Kind    models.RunKind
	Samples []models.Sample
	// Truncated is true when parsing stopped at a malformed row; the rows
	// before it are still valid.
	Truncated bool
}

// RecoveredRun is the result of reconciling the primary and cache logs.
type RecoveredRun struct {
	Kind    models.RunKind
	Samples []models.Sample
	// Source is the path of the log that won.
	Source string
	// UsedCache is true when the cache log was the source of truth.
	UsedCache bool
}

// ReadLog parses a single log file, keeping the longest valid prefix.
func ReadLog(path string) (*LogContents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &models.FileIOError{Path: path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, &models.FileIOError{Path: path, Err: fmt.Errorf("empty log, no header")}
	}
	header := scanner.Text()
	kind, ok := KindForHeader(header)
	if !ok {
		return nil, &models.FileIOError{Path: path, Err: fmt.Errorf("unrecognized header %q", header)}
	}

	contents := &LogContents{Path: path, Kind: kind}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sample, err := ParseRow(kind, line)
		if err != nil {
			contents.Truncated = true
			break
		}
		contents.Samples = append(contents.Samples, sample)
	}
	if err := scanner.Err(); err != nil {
		contents.Truncated = true
	}
	return contents, nil
}

// Recover reconciles the primary and cache logs of one run. At least one
// log must be readable; otherwise the error is a FileIOError.
func Recover(primaryPath, cachePath string) (*RecoveredRun, error) {
	primary, primaryErr := ReadLog(primaryPath)
	cache, cacheErr := ReadLog(cachePath)

	switch {
	case primaryErr != nil && cacheErr != nil:
		return nil, primaryErr
	case primaryErr != nil:
		fmt.Printf("[Recover] primary log unreadable (%v), using cache %s\n", primaryErr, cachePath)
		return &RecoveredRun{Kind: cache.Kind, Samples: cache.Samples, Source: cache.Path, UsedCache: true}, nil
	case cacheErr != nil:
		return &RecoveredRun{Kind: primary.Kind, Samples: primary.Samples, Source: primary.Path}, nil
	}

	// Both readable: the longer consistent prefix wins; ties go to the
	// primary, the canonical record.
	if len(cache.Samples) > len(primary.Samples) {
		fmt.Printf("[Recover] cache log has %d rows vs primary %d, using cache\n",
			len(cache.Samples), len(primary.Samples))
		return &RecoveredRun{Kind: cache.Kind, Samples: cache.Samples, Source: cache.Path, UsedCache: true}, nil
	}
	return &RecoveredRun{Kind: primary.Kind, Samples: primary.Samples, Source: primary.Path}, nil
}
