package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aasssddd/faban/internal/cycle"
	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/latch"
	"github.com/aasssddd/faban/internal/mix"
)

// fakeClock is a manually-advanced master-adjusted clock for deterministic
// worker tests; it avoids relying on wall-clock sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(ms int64) {
	c.mu.Lock()
	c.now += ms
	c.mu.Unlock()
}

type stubMaster struct {
	mu      sync.Mutex
	aborted []string
}

func (m *stubMaster) AbortRun(reason string) error {
	m.mu.Lock()
	m.aborted = append(m.aborted, reason)
	m.mu.Unlock()
	return nil
}

func (m *stubMaster) abortCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.aborted)
}

func freshLatches() Latches {
	return Latches{
		TimeSet: latch.New(1),
		PreRun:  latch.New(1),
		PostRun: latch.New(1),
	}
}

func basicRunInfo(opCount int64) driver.RunInfo {
	return driver.RunInfo{
		RunID:          "X.1A",
		BenchStartTime: 50, // ahead of the fake clock so the trigger check passes
		RampUp:         1,
		SteadyState:    2,
		RampDown:       1,
		Driver: driver.DriverConfig{
			RunControl: driver.CYCLES,
			Cycles:     opCount,
			Operations: []driver.Operation{
				{
					Name:   "op0",
					Timing: driver.AUTO,
					Cycle:  cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 10}},
					Run: func(ctx *driver.Context) error {
						ctx.RecordTime()
						ctx.RecordTime()
						return nil
					},
				},
			},
			Mixes: [2]*driver.MixConfig{
				{Matrix: []mix.Row{{1}}, InitialDelay: cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 0}}},
				nil,
			},
		},
	}
}

func TestWorkerRunsToCycleCountAndEnds(t *testing.T) {
	clock := &fakeClock{now: 0}
	master := &stubMaster{}
	latches := freshLatches()

	w := New(Config{
		Identity:     Identity{ID: 0},
		IsThreadZero: true,
		RunInfo:      basicRunInfo(5),
		Now:          clock.Now,
		Master:       master,
		Latches:      latches,
		Seed:         1,
	})

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	latches.TimeSet.CountDown()

	// Drive the fake clock forward so sleepUntil's polling resolves
	// quickly without relying on real elapsed time.
	go func() {
		for i := 0; i < 200; i++ {
			clock.Advance(5)
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not finish in time")
	}

	if w.State() != Ended {
		t.Fatalf("expected state Ended, got %v", w.State())
	}
	if master.abortCount() != 0 {
		t.Fatalf("expected no aborts, got %d", master.abortCount())
	}
}

func TestWorkerAbortsOnTriggerTimeExpired(t *testing.T) {
	clock := &fakeClock{now: 1000}
	master := &stubMaster{}
	latches := freshLatches()

	info := basicRunInfo(5)
	info.BenchStartTime = 500 // already in the past relative to clock.Now()

	w := New(Config{
		Identity:     Identity{ID: 0},
		IsThreadZero: true,
		RunInfo:      info,
		Now:          clock.Now,
		Master:       master,
		Latches:      latches,
		Seed:         1,
	})

	latches.TimeSet.CountDown()

	err := w.Run()
	if err == nil {
		t.Fatalf("expected trigger-time-expired error")
	}
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FatalError, got %T", err)
	}
	if master.abortCount() != 1 {
		t.Fatalf("expected exactly one abort call, got %d", master.abortCount())
	}
	if w.State() != Ended {
		t.Fatalf("expected state Ended, got %v", w.State())
	}
}

func TestWorkerAbortsOnTimingValidationFailure(t *testing.T) {
	clock := &fakeClock{now: 0}
	master := &stubMaster{}
	latches := freshLatches()

	info := basicRunInfo(5)
	// Operation never calls RecordTime, so timing validation must fail.
	info.Driver.Operations[0].Run = func(ctx *driver.Context) error { return nil }

	w := New(Config{
		Identity:     Identity{ID: 0},
		IsThreadZero: true,
		RunInfo:      info,
		Now:          clock.Now,
		Master:       master,
		Latches:      latches,
		Seed:         1,
	})

	done := make(chan error, 1)
	go func() { done <- w.Run() }()
	latches.TimeSet.CountDown()

	go func() {
		for i := 0; i < 200; i++ {
			clock.Advance(5)
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected timing validation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not finish in time")
	}

	if master.abortCount() != 1 {
		t.Fatalf("expected exactly one abort call, got %d", master.abortCount())
	}
}

func TestWorkerCountsOperationFailureOnlyInSteadyState(t *testing.T) {
	clock := &fakeClock{now: 0}
	master := &stubMaster{}
	latches := freshLatches()

	info := basicRunInfo(1)
	info.RampUp = 0
	info.SteadyState = 1000
	info.RampDown = 0
	info.Driver.Operations[0].Run = func(ctx *driver.Context) error {
		ctx.RecordTime()
		ctx.RecordTime()
		return errors.New("ordinary failure")
	}

	w := New(Config{
		Identity:     Identity{ID: 0},
		IsThreadZero: true,
		RunInfo:      info,
		Now:          clock.Now,
		Master:       master,
		Latches:      latches,
		Seed:         1,
	})

	done := make(chan error, 1)
	go func() { done <- w.Run() }()
	latches.TimeSet.CountDown()

	go func() {
		for i := 0; i < 200; i++ {
			clock.Advance(5)
			time.Sleep(time.Millisecond)
		}
	}()

	<-done

	snap := w.Metrics().Snapshot()
	if snap[0].FailureCount != 1 {
		t.Fatalf("expected 1 failure counted, got %d", snap[0].FailureCount)
	}
	if master.abortCount() != 0 {
		t.Fatalf("ordinary operation failures must not abort the run, got %d aborts", master.abortCount())
	}
}

func TestNonThreadZeroWorkerSkipsPreAndPostRunHooks(t *testing.T) {
	clock := &fakeClock{now: 0}
	master := &stubMaster{}
	latches := freshLatches()
	latches.PreRun = latch.New(1)
	latches.PostRun = latch.New(1)

	var preRunCalled, postRunCalled int32
	info := basicRunInfo(1)
	info.Driver.PreRun = func(ctx *driver.Context) error {
		atomic.AddInt32(&preRunCalled, 1)
		return nil
	}
	info.Driver.PostRun = func(ctx *driver.Context) error {
		atomic.AddInt32(&postRunCalled, 1)
		return nil
	}

	w := New(Config{
		Identity:     Identity{ID: 1},
		IsThreadZero: false,
		RunInfo:      info,
		Now:          clock.Now,
		Master:       master,
		Latches:      latches,
		Seed:         2,
	})

	latches.TimeSet.CountDown()
	latches.PreRun.CountDown() // simulate thread 0 having completed pre-run

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	go func() {
		for i := 0; i < 200; i++ {
			clock.Advance(5)
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not finish in time")
	}

	if atomic.LoadInt32(&preRunCalled) != 0 {
		t.Fatalf("non-thread-zero worker must not run the pre-run hook")
	}
	if atomic.LoadInt32(&postRunCalled) != 0 {
		t.Fatalf("non-thread-zero worker must not run the post-run hook")
	}
}
