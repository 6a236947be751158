package engine

import (
	"context"
	"sync"
)

// pauseGate is the binary gate the acquisition loop blocks on between
// points. Pausing twice is the same as pausing once; resuming while not
// paused is a no-op. Waiting never busy-waits.
type pauseGate struct {
	mu       sync.Mutex
	paused   bool
	syncOwed bool
	resume   chan struct{} // closed while not paused
}

func newPauseGate() *pauseGate {
	resume := make(chan struct{})
	close(resume)
	return &pauseGate{resume: resume}
}

// Pause closes the gate and marks a flush checkpoint as owed. The loop
// drains the checkpoint itself before suspending; only the loop may
// produce on the bus. Idempotent.
func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.syncOwed = true
	g.resume = make(chan struct{})
}

// TakeSync reports whether a checkpoint is owed and clears the flag.
func (g *pauseGate) TakeSync() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	owed := g.syncOwed
	g.syncOwed = false
	return owed
}

// Resume opens the gate, releasing any waiter. Idempotent.
func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
}

// Paused reports the gate state.
func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks while the gate is paused, until resumed or ctx is cancelled.
func (g *pauseGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	resume := g.resume
	g.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
