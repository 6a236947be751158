package engine

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iv-workbench/backend/internal/models"
	"github.com/iv-workbench/backend/internal/persist"
	"github.com/iv-workbench/backend/internal/plan"
	"github.com/iv-workbench/backend/internal/testutil"
)

func testConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		SyncEvery:    50,
		BusCapacity:  16,
	}
}

func sweepPlan(t *testing.T, points int, delay time.Duration) *plan.Plan {
	t.Helper()
	p, err := plan.BuildSweep(models.SweepPlan{
		Segments:      []models.SweepSegment{{Start: 0, Stop: 1, PointCount: points}},
		DelayPerPoint: delay,
	})
	if err != nil {
		t.Fatalf("BuildSweep failed: %v", err)
	}
	return p
}

func logPaths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "run.csv"), filepath.Join(dir, "cache_run.csv")
}

func TestRunCompletesPlan(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)

	runID, err := c.Start(sweepPlan(t, 5, 0), fake, models.DefaultSettings(), primary, cache)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait()

	result := c.LastResult()
	if result == nil {
		t.Fatal("Expected a run result")
	}
	if result.RunID != runID {
		t.Errorf("Result run ID mismatch: %s vs %s", result.RunID, runID)
	}
	if result.State != models.RunStateCompleted {
		t.Errorf("Expected completed, got %s (%s)", result.State, result.ErrorMessage)
	}
	if result.Reason != models.ReasonPlanExhausted {
		t.Errorf("Expected plan_exhausted, got %s", result.Reason)
	}
	if result.AcquiredCount != 5 {
		t.Errorf("Expected 5 acquired, got %d", result.AcquiredCount)
	}
	if result.PersistedCount != 5 {
		t.Errorf("Expected 5 persisted, got %d", result.PersistedCount)
	}
	if fake.OutputIsOn() {
		t.Error("Output must be off after the run")
	}

	// Every durable record is on disk in both logs before the terminal state.
	for _, path := range []string{primary, cache} {
		contents, err := persist.ReadLog(path)
		if err != nil {
			t.Fatalf("ReadLog(%s) failed: %v", path, err)
		}
		if len(contents.Samples) != 5 {
			t.Errorf("%s: expected 5 rows, got %d", path, len(contents.Samples))
		}
	}
}

func TestEachSetpointDrivenOnce(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)
	p := sweepPlan(t, 11, 0)

	if _, err := c.Start(p, fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait()

	levels := fake.Levels()
	if len(levels) != p.Len() {
		t.Fatalf("Expected %d source levels, got %d", p.Len(), len(levels))
	}
	for i, sp := range p.Setpoints {
		if levels[i] != sp.Value {
			t.Errorf("Setpoint %d: expected level %g, got %g", i, sp.Value, levels[i])
		}
	}
}

func TestPauseHoldsAndResumeContinues(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)
	p := sweepPlan(t, 200, 5*time.Millisecond)

	if _, err := c.Start(p, fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	c.Pause()
	if c.Status().State != models.RunStatePaused {
		t.Errorf("Expected paused, got %s", c.Status().State)
	}

	// The point in flight may still land; after that the count must freeze.
	time.Sleep(50 * time.Millisecond)
	frozen := c.Status().AcquiredCount
	time.Sleep(100 * time.Millisecond)
	if got := c.Status().AcquiredCount; got != frozen {
		t.Errorf("Acquisition continued while paused: %d -> %d", frozen, got)
	}

	// Pausing again changes nothing.
	c.Pause()
	if c.Status().State != models.RunStatePaused {
		t.Errorf("Second pause broke the state: %s", c.Status().State)
	}

	c.Resume()
	if c.Status().State != models.RunStateRunning {
		t.Errorf("Expected running after resume, got %s", c.Status().State)
	}
	c.Stop()
	c.Wait()

	// Nothing skipped, nothing repeated: the driven levels are a prefix of
	// the plan.
	levels := fake.Levels()
	for i, v := range levels {
		if v != p.Setpoints[i].Value {
			t.Fatalf("Level %d: expected %g, got %g", i, p.Setpoints[i].Value, v)
		}
	}
}

func TestResumeWhenNotPausedIsNoOp(t *testing.T) {
	c := NewController(testConfig())
	c.Resume() // idle: nothing to do
	if c.Status().State != models.RunStateIdle {
		t.Errorf("Expected idle, got %s", c.Status().State)
	}
	c.Pause() // idle: nothing to pause
	if c.Status().State != models.RunStateIdle {
		t.Errorf("Expected idle, got %s", c.Status().State)
	}
}

func TestStopEndsRunEarly(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)

	if _, err := c.Start(sweepPlan(t, 500, 5*time.Millisecond), fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	c.Stop()
	c.Wait()

	result := c.LastResult()
	if result.State != models.RunStateCompleted {
		t.Errorf("Expected completed, got %s", result.State)
	}
	if result.Reason != models.ReasonUserStop {
		t.Errorf("Expected stopped_by_user, got %s", result.Reason)
	}
	if result.AcquiredCount >= 500 {
		t.Errorf("Expected early stop, acquired %d", result.AcquiredCount)
	}
	if result.PersistedCount != result.AcquiredCount {
		t.Errorf("Acquired %d but persisted %d: in-flight samples were not drained",
			result.AcquiredCount, result.PersistedCount)
	}
	if fake.OutputIsOn() {
		t.Error("Output must be off after stop")
	}
}

func TestStopWhilePaused(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)

	if _, err := c.Start(sweepPlan(t, 500, 5*time.Millisecond), fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	c.Pause()
	c.Stop()

	done := make(chan struct{})
	go func() { c.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not release the paused loop")
	}

	if got := c.LastResult().Reason; got != models.ReasonUserStop {
		t.Errorf("Expected stopped_by_user, got %s", got)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	fake.FailTimes("measure", 2)
	primary, cache := logPaths(t)

	if _, err := c.Start(sweepPlan(t, 5, 0), fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait()

	result := c.LastResult()
	if result.State != models.RunStateCompleted {
		t.Errorf("Expected completed after retries, got %s (%s)", result.State, result.ErrorMessage)
	}
	if result.AcquiredCount != 5 {
		t.Errorf("Expected 5 acquired, got %d", result.AcquiredCount)
	}
}

func TestExhaustedRetriesFailTheRun(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	fake.FailTimes("measure", -1) // fails forever
	primary, cache := logPaths(t)

	if _, err := c.Start(sweepPlan(t, 5, 0), fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait()

	result := c.LastResult()
	if result.State != models.RunStateFailed {
		t.Errorf("Expected failed, got %s", result.State)
	}
	if result.Reason != models.ReasonCommFailure {
		t.Errorf("Expected communication_failure, got %s", result.Reason)
	}
	if result.AcquiredCount != 0 {
		t.Errorf("Expected 0 acquired, got %d", result.AcquiredCount)
	}
}

func TestInstrumentFaultFailsRunKeepsData(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	fake.FaultAfter(3)
	primary, cache := logPaths(t)

	if _, err := c.Start(sweepPlan(t, 10, 0), fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait()

	result := c.LastResult()
	if result.State != models.RunStateFailed {
		t.Errorf("Expected failed, got %s", result.State)
	}
	if result.Reason != models.ReasonInstrumentFault {
		t.Errorf("Expected instrument_fault, got %s", result.Reason)
	}
	if result.AcquiredCount != 3 {
		t.Errorf("Expected 3 acquired before the fault, got %d", result.AcquiredCount)
	}

	// Everything acquired before the fault is durable.
	contents, err := persist.ReadLog(primary)
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if len(contents.Samples) != 3 {
		t.Errorf("Expected 3 durable rows, got %d", len(contents.Samples))
	}
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)

	if _, err := c.Start(sweepPlan(t, 500, 5*time.Millisecond), fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	otherPrimary, otherCache := logPaths(t)
	if _, err := c.Start(sweepPlan(t, 5, 0), fake, models.DefaultSettings(), otherPrimary, otherCache); err == nil {
		t.Error("Expected second Start to be rejected")
	}

	c.Stop()
	c.Wait()
}

func TestStartRejectsEmptyPlan(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)

	_, err := c.Start(&plan.Plan{Kind: models.RunKindSweep}, fake, models.DefaultSettings(), primary, cache)
	if err == nil {
		t.Fatal("Expected error for empty plan")
	}
	if _, ok := err.(*models.ConfigurationError); !ok {
		t.Errorf("Expected ConfigurationError, got %T", err)
	}
}

func TestUnopenableLogRejectsStart(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	dir := t.TempDir()

	_, err := c.Start(sweepPlan(t, 5, 0), fake, models.DefaultSettings(),
		filepath.Join(dir, "nope", "run.csv"), filepath.Join(dir, "cache_run.csv"))
	if err == nil {
		t.Fatal("Expected error for unopenable primary log")
	}
	if _, ok := err.(*models.FileIOError); !ok {
		t.Errorf("Expected FileIOError, got %T", err)
	}
	if c.Status().State != models.RunStateIdle {
		t.Errorf("Controller must stay idle, got %s", c.Status().State)
	}
}

func TestStateEventsReachWatchers(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)

	id, events := c.Subscribe()
	defer c.Unsubscribe(id)

	if _, err := c.Start(sweepPlan(t, 3, 0), fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait()

	var states []models.RunState
	deadline := time.After(time.Second)
	for len(states) < 3 {
		select {
		case ev := <-events:
			states = append(states, ev.State)
		case <-deadline:
			t.Fatalf("Timed out waiting for events, got %v", states)
		}
	}
	if states[0] != models.RunStateRunning {
		t.Errorf("Expected first event running, got %s", states[0])
	}
	if states[len(states)-1] != models.RunStateCompleted {
		t.Errorf("Expected last event completed, got %s", states[len(states)-1])
	}
}

// A pause landing while the loop finishes its last setpoint must never
// touch the bus after the loop has closed it.
func TestPauseRacingCompletionIsSafe(t *testing.T) {
	for i := 0; i < 25; i++ {
		c := NewController(testConfig())
		fake := testutil.NewFakePort(1000)
		primary, cache := logPaths(t)

		if _, err := c.Start(sweepPlan(t, 2, 0), fake, models.DefaultSettings(), primary, cache); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.Pause()
					c.Resume()
				}
			}
		}()

		c.Wait()
		close(stop)
		wg.Wait()

		result := c.LastResult()
		if result == nil || result.State != models.RunStateCompleted {
			t.Fatalf("Iteration %d: run did not complete cleanly: %+v", i, result)
		}
		if result.PersistedCount != result.AcquiredCount {
			t.Fatalf("Iteration %d: %d acquired but %d persisted",
				i, result.AcquiredCount, result.PersistedCount)
		}
	}
}

func TestPauseGateOwesCheckpoint(t *testing.T) {
	g := newPauseGate()
	if g.TakeSync() {
		t.Error("Fresh gate must not owe a checkpoint")
	}

	g.Pause()
	if !g.TakeSync() {
		t.Error("Pause must leave a checkpoint owed")
	}
	if g.TakeSync() {
		t.Error("TakeSync must clear the owed flag")
	}

	g.Pause() // already paused
	if g.TakeSync() {
		t.Error("Re-pausing while paused must not owe another checkpoint")
	}

	g.Resume()
	g.Pause()
	if !g.TakeSync() {
		t.Error("A fresh pause must owe a checkpoint")
	}
}

func TestStatusElapsedFreezesOnCompletion(t *testing.T) {
	c := NewController(testConfig())
	fake := testutil.NewFakePort(1000)
	primary, cache := logPaths(t)

	if _, err := c.Start(sweepPlan(t, 3, 0), fake, models.DefaultSettings(), primary, cache); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Wait()

	first := c.Status()
	time.Sleep(30 * time.Millisecond)
	second := c.Status()

	if first.Elapsed != second.Elapsed {
		t.Errorf("Elapsed kept growing after completion: %g vs %g", first.Elapsed, second.Elapsed)
	}
	if result := c.LastResult(); result == nil || first.Elapsed != result.Elapsed {
		t.Errorf("Status elapsed must match the run result: %g", first.Elapsed)
	}
}
