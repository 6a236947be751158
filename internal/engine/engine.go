// Package engine is the acquisition engine: it turns a built plan into a
// timed sequence of instrument operations, coordinates pause/resume/stop
// against the loop, and guarantees every acquired sample reaches the
// persistence worker exactly once.
//
// Concurrency model: one acquisition-loop goroutine owns the instrument port
// and the run state; one persistence-worker goroutine owns the log files;
// live views are best-effort bus subscribers that never block the loop.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iv-workbench/backend/internal/bus"
	"github.com/iv-workbench/backend/internal/instrument"
	"github.com/iv-workbench/backend/internal/models"
	"github.com/iv-workbench/backend/internal/persist"
	"github.com/iv-workbench/backend/internal/plan"
)

// Config holds the engine timing and retry constants.
type Config struct {
	// MaxRetries bounds transient-communication retries per instrument call.
	MaxRetries int
	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration
	// CallTimeout bounds each instrument call; zero disables the bound.
	CallTimeout time.Duration
	// SyncEvery injects a flush checkpoint every N points.
	SyncEvery int
	// BusCapacity is the guaranteed-channel depth.
	BusCapacity int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		CallTimeout:  15 * time.Second,
		SyncEvery:    50,
		BusCapacity:  bus.DefaultCapacity,
	}
}

// StateEvent is published on every run-state transition.
type StateEvent struct {
	RunID  string            `json:"runId"`
	State  models.RunState   `json:"state"`
	Reason models.StopReason `json:"reason,omitempty"`
	At     time.Time         `json:"at"`
}

// activeRun is the per-run wiring: plan, port, bus, worker, gate, counters.
type activeRun struct {
	id       string
	kind     models.RunKind
	plan     *plan.Plan
	port     instrument.Port
	settings models.Settings

	bus    *bus.Bus
	worker *persist.Worker

	ctx    context.Context
	cancel context.CancelFunc
	gate   *pauseGate

	startedAt time.Time
	acquired  int // loop-goroutine only; exposed via snapshot under c.mu
	done      chan struct{}

	persistErr chan error
}

// Controller is the control surface over the acquisition loop. Start,
// Pause, Resume and Stop return immediately; effects are observed through
// Status and state events.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	state    models.RunState
	run      *activeRun
	last     *models.RunResult
	acquired int // snapshot of the current run's acquired count

	watcherMu sync.RWMutex
	watchers  map[string]chan StateEvent
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.SyncEvery <= 0 {
		cfg.SyncEvery = 50
	}
	return &Controller{
		cfg:      cfg,
		state:    models.RunStateIdle,
		watchers: make(map[string]chan StateEvent),
	}
}

// Start launches a run of the given plan on the given port, persisting to
// the given log paths. Returns immediately once the loop and worker are
// spawned. Rejects if a run is already active.
func (c *Controller) Start(p *plan.Plan, port instrument.Port, settings models.Settings, primaryPath, cachePath string) (string, error) {
	if p == nil || p.Len() == 0 {
		return "", models.NewConfigurationError("plan", "empty plan")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == models.RunStateRunning || c.state == models.RunStatePaused || c.state == models.RunStateStopping {
		return "", fmt.Errorf("measurement already in progress")
	}

	persistErr := make(chan error, 1)
	worker, err := persist.NewWorker(p.Kind, primaryPath, cachePath, func(err error) {
		select {
		case persistErr <- err:
		default:
		}
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		id:         uuid.New().String(),
		kind:       p.Kind,
		plan:       p,
		port:       instrument.WithTimeout(port, c.cfg.CallTimeout),
		settings:   settings,
		bus:        bus.New(c.cfg.BusCapacity),
		worker:     worker,
		ctx:        ctx,
		cancel:     cancel,
		gate:       newPauseGate(),
		startedAt:  time.Now(),
		done:       make(chan struct{}),
		persistErr: persistErr,
	}

	c.run = run
	c.acquired = 0
	c.state = models.RunStateRunning
	c.publish(StateEvent{RunID: run.id, State: models.RunStateRunning, At: time.Now()})

	go worker.Run(run.bus.Guaranteed())
	go c.runLoop(run)

	fmt.Printf("[Engine %s] %s started: %d points, logs %s / %s\n",
		run.id[:8], run.kind, p.Len(), primaryPath, cachePath)
	return run.id, nil
}

// Pause closes the pause gate. The point in progress completes and is
// emitted; the loop then publishes a flush checkpoint, making everything
// acquired so far durable, and suspends before the next point.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.RunStateRunning || c.run == nil {
		return
	}
	run := c.run
	run.gate.Pause()
	c.state = models.RunStatePaused
	c.publish(StateEvent{RunID: run.id, State: models.RunStatePaused, At: time.Now()})
	fmt.Printf("[Engine %s] paused\n", run.id[:8])
}

// Resume reopens the pause gate. No-op unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.RunStatePaused || c.run == nil {
		return
	}
	c.run.gate.Resume()
	c.state = models.RunStateRunning
	c.publish(StateEvent{RunID: c.run.id, State: models.RunStateRunning, At: time.Now()})
	fmt.Printf("[Engine %s] resumed\n", c.run.id[:8])
}

// Stop requests cooperative cancellation. The measurement in flight is not
// aborted; no further setpoints are issued once the signal is observed, and
// the loop drains in-flight samples before reaching a terminal state.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil || c.state.Terminal() || c.state == models.RunStateIdle {
		return
	}
	run := c.run
	run.cancel()
	run.gate.Resume() // release a paused loop so it can observe the signal
	fmt.Printf("[Engine %s] stop requested\n", run.id[:8])
}

// Status returns a snapshot of the current (or idle) state.
func (c *Controller) Status() models.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := models.RunStatus{State: c.state}
	if c.run != nil {
		status.RunID = c.run.id
		status.Kind = c.run.kind
		status.PlannedPoints = c.run.plan.Len()
		status.AcquiredCount = c.acquired
		if c.state.Terminal() && c.last != nil {
			status.Elapsed = c.last.Elapsed
		} else {
			status.Elapsed = time.Since(c.run.startedAt).Seconds()
		}
		if status.PlannedPoints > 0 {
			status.Progress = 100 * float64(status.AcquiredCount) / float64(status.PlannedPoints)
		}
	}
	return status
}

// LastResult returns the terminal record of the most recent run, nil if no
// run has finished yet.
func (c *Controller) LastResult() *models.RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// LiveBus returns the active run's sample bus for best-effort subscribers.
func (c *Controller) LiveBus() (*bus.Bus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil || c.state.Terminal() {
		return nil, false
	}
	return c.run.bus, true
}

// Wait blocks until the current run reaches a terminal state. Intended for
// tests and shutdown paths; the control surface itself never blocks.
func (c *Controller) Wait() {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run != nil {
		<-run.done
	}
}

// Subscribe registers a state-event watcher. Events are delivered
// best-effort; a slow watcher misses intermediate transitions, never blocks
// the engine.
func (c *Controller) Subscribe() (string, <-chan StateEvent) {
	ch := make(chan StateEvent, 16)
	id := uuid.New().String()
	c.watcherMu.Lock()
	c.watchers[id] = ch
	c.watcherMu.Unlock()
	return id, ch
}

// Unsubscribe removes a state-event watcher.
func (c *Controller) Unsubscribe(id string) {
	c.watcherMu.Lock()
	if ch, ok := c.watchers[id]; ok {
		delete(c.watchers, id)
		close(ch)
	}
	c.watcherMu.Unlock()
}

func (c *Controller) publish(ev StateEvent) {
	c.watcherMu.RLock()
	for _, ch := range c.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
	c.watcherMu.RUnlock()
}
