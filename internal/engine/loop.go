// loop.go - The acquisition loop: drives the instrument one setpoint at a
// time. Sole mutator of run state; sole caller of the instrument port.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/iv-workbench/backend/internal/models"
)

func (c *Controller) runLoop(r *activeRun) {
	defer close(r.done)

	state := models.RunStateCompleted
	reason := models.ReasonPlanExhausted
	var runErr error

	fail := func(rs models.StopReason, err error) {
		state = models.RunStateFailed
		reason = rs
		runErr = err
		fmt.Printf("[Engine %s] failing: %v\n", r.id[:8], err)
	}

	if err := c.withRetry(r.ctx, func() error { return r.port.Configure(r.settings) }); err != nil {
		fail(models.ReasonCommFailure, err)
	} else if err := c.withRetry(r.ctx, func() error { return r.port.OutputOn() }); err != nil {
		fail(models.ReasonCommFailure, err)
	} else {
		state, reason, runErr = c.drivePlan(r)
	}

	// Must-drain: no terminal state until every in-flight sample is durable.
	c.transition(r, models.RunStateStopping, "")

	if err := r.port.OutputOff(); err != nil {
		fmt.Printf("[Engine %s] output off failed: %v\n", r.id[:8], err)
	}

	r.bus.Close()
	<-r.worker.Done()

	if werr := r.worker.Err(); werr != nil && state != models.RunStateFailed {
		fail(models.ReasonPersistFailure, werr)
	}

	result := &models.RunResult{
		RunID:          r.id,
		Kind:           r.kind,
		State:          state,
		Reason:         reason,
		PlannedPoints:  r.plan.Len(),
		AcquiredCount:  r.acquired,
		PersistedCount: r.worker.Persisted(),
		StartedAt:      r.startedAt,
		Elapsed:        time.Since(r.startedAt).Seconds(),
		PrimaryLog:     r.worker.PrimaryPath(),
		CacheLog:       r.worker.CachePath(),
		Bidirectional:  r.plan.Bidirectional,
		SourceFunction: r.settings.SourceFunction,
	}
	if runErr != nil {
		result.ErrorMessage = runErr.Error()
	}

	c.mu.Lock()
	c.state = state
	c.last = result
	c.mu.Unlock()
	c.publish(StateEvent{RunID: r.id, State: state, Reason: reason, At: time.Now()})

	fmt.Printf("[Engine %s] %s: %d/%d acquired, %d persisted (%s)\n",
		r.id[:8], state, result.AcquiredCount, result.PlannedPoints,
		result.PersistedCount, reason)
}

// drivePlan walks the setpoint sequence. Per point: cancellation check,
// pause gate, set level, settle, measure, emit, fault check, inter-point
// delay. Returns the terminal state the run should reach after draining.
func (c *Controller) drivePlan(r *activeRun) (models.RunState, models.StopReason, error) {
	last := r.plan.Len() - 1

	for i, sp := range r.plan.Setpoints {
		// Cancellation is cooperative: checked between points, never
		// aborting a measurement in flight.
		if r.ctx.Err() != nil {
			return models.RunStateCompleted, models.ReasonUserStop, nil
		}

		// A pause owes a flush checkpoint so everything acquired so far
		// is durable while the loop is suspended. The loop publishes it
		// itself; nothing else may produce on the bus.
		if r.gate.TakeSync() {
			if err := r.bus.PublishSync(r.ctx); err != nil {
				return models.RunStateCompleted, models.ReasonUserStop, nil
			}
		}

		// Suspend here while paused. On resume the loop continues at
		// exactly this setpoint: nothing is skipped or repeated.
		if err := r.gate.Wait(r.ctx); err != nil {
			return models.RunStateCompleted, models.ReasonUserStop, nil
		}

		if err := c.withRetry(r.ctx, func() error { return r.port.SetSourceLevel(sp.Value) }); err != nil {
			if r.ctx.Err() != nil {
				return models.RunStateCompleted, models.ReasonUserStop, nil
			}
			return models.RunStateFailed, models.ReasonCommFailure, err
		}

		if sp.SettleTime > 0 {
			if !sleepCtx(r.ctx, sp.SettleTime) {
				return models.RunStateCompleted, models.ReasonUserStop, nil
			}
		}

		var src, meas float64
		err := c.withRetry(r.ctx, func() error {
			var err error
			src, meas, err = r.port.Measure()
			return err
		})
		if err != nil {
			if r.ctx.Err() != nil {
				return models.RunStateCompleted, models.ReasonUserStop, nil
			}
			return models.RunStateFailed, models.ReasonCommFailure, err
		}

		now := time.Now()
		sample := models.Sample{
			Timestamp:     time.Since(r.startedAt).Seconds(),
			AcquiredAt:    now,
			SourceValue:   src,
			MeasuredValue: meas,
			Resistance:    models.DeriveResistance(r.settings.SourceFunction, src, meas),
			SegmentIndex:  sp.SegmentIndex,
			PointIndex:    sp.PointIndex,
			SweepNumber:   sp.SweepNumber,
		}

		// Delivery to the guaranteed consumer is what makes the point
		// count as acquired; blocking here is the backpressure contract.
		if err := r.bus.Publish(r.ctx, sample); err != nil {
			return models.RunStateCompleted, models.ReasonUserStop, nil
		}
		c.mu.Lock()
		r.acquired++
		c.acquired = r.acquired
		c.mu.Unlock()

		if (i+1)%c.cfg.SyncEvery == 0 {
			if err := r.bus.PublishSync(r.ctx); err != nil {
				return models.RunStateCompleted, models.ReasonUserStop, nil
			}
		}

		var status instrumentFault
		ferr := c.withRetry(r.ctx, func() error {
			st, err := r.port.CheckFault()
			status.inCompliance = st.InCompliance
			status.messages = st.Messages
			return err
		})
		if ferr != nil {
			if r.ctx.Err() != nil {
				return models.RunStateCompleted, models.ReasonUserStop, nil
			}
			return models.RunStateFailed, models.ReasonCommFailure, ferr
		}
		if status.inCompliance || len(status.messages) > 0 {
			return models.RunStateFailed, models.ReasonInstrumentFault,
				&models.FaultError{InCompliance: status.inCompliance, Messages: status.messages}
		}

		// A log failure mid-run fails the run after flushing what is
		// resident; already-durable records stay on disk.
		select {
		case perr := <-r.persistErr:
			return models.RunStateFailed, models.ReasonPersistFailure, perr
		default:
		}

		if i != last && r.plan.DelayPerPoint > 0 {
			if !sleepCtx(r.ctx, r.plan.DelayPerPoint) {
				return models.RunStateCompleted, models.ReasonUserStop, nil
			}
		}
	}

	return models.RunStateCompleted, models.ReasonPlanExhausted, nil
}

type instrumentFault struct {
	inCompliance bool
	messages     []string
}

// transition publishes an intermediate (non-terminal) state change.
func (c *Controller) transition(r *activeRun, st models.RunState, reason models.StopReason) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	c.publish(StateEvent{RunID: r.id, State: st, Reason: reason, At: time.Now()})
}

// withRetry retries transient communication errors up to the configured
// bound with exponential backoff. Cancellation makes the error permanent.
func (c *Controller) withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBackoff
	b.MaxInterval = 2 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
