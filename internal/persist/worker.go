// Package persist owns the run's log files. A single worker goroutine is the
// only writer: it consumes samples in arrival order from the guaranteed bus
// channel and appends each to the primary log and the redundant cache log,
// force-flushing both before the record counts as durable.
package persist

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/iv-workbench/backend/internal/bus"
	"github.com/iv-workbench/backend/internal/models"
)

// Worker appends every sample to two logically independent append-only logs.
type Worker struct {
	kind    models.RunKind
	primary *os.File
	cache   *os.File

	primaryPath string
	cachePath   string

	persisted atomic.Int64

	errOnce sync.Once
	failErr error
	failed  atomic.Bool
	onError func(error)

	done chan struct{}
}

// NewWorker opens both logs and writes the schema header to each, flushed to
// stable storage. Failure to open either log is a FileIOError and fatal to
// starting the run; it never touches previously durable data.
func NewWorker(kind models.RunKind, primaryPath, cachePath string, onError func(error)) (*Worker, error) {
	primary, err := openLog(primaryPath)
	if err != nil {
		return nil, err
	}
	cache, err := openLog(cachePath)
	if err != nil {
		primary.Close()
		os.Remove(primaryPath)
		return nil, err
	}

	w := &Worker{
		kind:        kind,
		primary:     primary,
		cache:       cache,
		primaryPath: primaryPath,
		cachePath:   cachePath,
		onError:     onError,
		done:        make(chan struct{}),
	}

	header := HeaderFor(kind)
	if err := w.appendBoth(header); err != nil {
		w.closeFiles()
		return nil, err
	}
	if err := w.syncBoth(); err != nil {
		w.closeFiles()
		return nil, err
	}
	return w, nil
}

func openLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, &models.FileIOError{Path: path, Err: err}
	}
	return f, nil
}

// Run drains messages until the channel closes. Call it in its own
// goroutine; Done() closes once the final flush has completed.
func (w *Worker) Run(in <-chan bus.Message) {
	defer close(w.done)
	defer w.closeFiles()

	for msg := range in {
		if w.failed.Load() {
			// Keep draining so the producer is never blocked on a dead
			// worker; the engine has already been told.
			continue
		}

		if msg.Sync {
			if err := w.syncBoth(); err != nil {
				w.fail(err)
			}
			continue
		}
		if msg.Sample == nil {
			continue
		}

		row := EncodeRow(w.kind, *msg.Sample)
		if err := w.appendBoth(row); err != nil {
			w.fail(err)
			continue
		}
		if err := w.syncBoth(); err != nil {
			w.fail(err)
			continue
		}
		w.persisted.Add(1)
	}

	if !w.failed.Load() {
		if err := w.syncBoth(); err != nil {
			w.fail(err)
		}
	}
}

func (w *Worker) appendBoth(line string) error {
	if _, err := w.primary.WriteString(line + "\n"); err != nil {
		return &models.FileIOError{Path: w.primaryPath, Err: err}
	}
	if _, err := w.cache.WriteString(line + "\n"); err != nil {
		return &models.FileIOError{Path: w.cachePath, Err: err}
	}
	return nil
}

// syncBoth forces both logs to stable storage. This bounds the data-loss
// window on abrupt termination to the records since the last sync.
func (w *Worker) syncBoth() error {
	if err := w.primary.Sync(); err != nil {
		return &models.FileIOError{Path: w.primaryPath, Err: err}
	}
	if err := w.cache.Sync(); err != nil {
		return &models.FileIOError{Path: w.cachePath, Err: err}
	}
	return nil
}

func (w *Worker) fail(err error) {
	w.errOnce.Do(func() {
		w.failErr = err
		w.failed.Store(true)
		fmt.Printf("[Persist] write failure after %d records: %v\n", w.persisted.Load(), err)
		if w.onError != nil {
			w.onError(err)
		}
	})
}

func (w *Worker) closeFiles() {
	w.primary.Close()
	w.cache.Close()
}

// Persisted returns the number of records durable in both logs.
func (w *Worker) Persisted() int { return int(w.persisted.Load()) }

// Err returns the first write failure, if any. Valid after Done().
func (w *Worker) Err() error {
	if w.failed.Load() {
		return w.failErr
	}
	return nil
}

// Done closes once the worker has drained its input and flushed the logs.
func (w *Worker) Done() <-chan struct{} { return w.done }

// PrimaryPath returns the primary log path.
func (w *Worker) PrimaryPath() string { return w.primaryPath }

// CachePath returns the cache log path.
func (w *Worker) CachePath() string { return w.cachePath }
