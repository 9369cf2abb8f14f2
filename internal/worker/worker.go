package worker

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aasssddd/faban/internal/cycle"
	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/latch"
	"github.com/aasssddd/faban/internal/logging"
	"github.com/aasssddd/faban/internal/metrics"
	"github.com/aasssddd/faban/internal/mix"
)

// MasterClient is the subset of Master the worker calls back into:
// abortRun on any fatal condition (spec.md §4.2, §4.4).
type MasterClient interface {
	AbortRun(reason string) error
}

// Latches bundles the three barriers an Agent shares across all of its
// Workers (spec.md §5.1).
type Latches struct {
	TimeSet *latch.CountdownLatch
	PreRun  *latch.CountdownLatch
	PostRun *latch.CountdownLatch
}

// Identity is the immutable name every AgentThread carries for the
// lifetime of a run, used in logging, metrics keys and disambiguating one
// Agent's threads from another's, mirroring the teacher's WorkerSpec.
type Identity struct {
	Type    string // driver type name, e.g. "httpecho"
	AgentID string // the owning Agent's address
	ID      int    // 0-based thread index within that Agent
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%d", id.Type, id.AgentID, id.ID)
}

// mixState holds the per-mix cursor a Worker advances on every tick:
// previous selection, start/end times, cycle count, and whether this is
// still the first tick (which uses InitialDelay instead of the selected
// operation's own cycle, per spec.md §4.4 step 1-2).
type mixState struct {
	id          int
	selector    mix.Selector
	rng         *rand.Rand
	ctx         *driver.Context
	first       bool
	startTime   int64
	endTime     int64
	prevOpIdx   int
	cycleCount  int64
	inRamp      bool
}

// Worker is the single virtual-user loop that replaces AgentThread's
// {TimeThread, TimeThreadWithBackground, CycleThread} inheritance
// hierarchy (spec.md §9): the loop is common; Pacer supplies the
// termination test and the set of mixes to drive.
type Worker struct {
	identity     Identity
	isThreadZero bool

	runInfo driver.RunInfo
	now     func() int64
	master  MasterClient
	log     logging.Logger

	latches Latches
	pacer   Pacer
	mixes   [2]*mixState

	metrics *metrics.Metrics

	stopped int32
	state   *stateBox
}

// Config bundles everything a new Worker needs that isn't shared across
// an Agent's whole pool (those are threaded through Latches/MasterClient
// separately so they're shared by reference, not copied per worker).
type Config struct {
	Identity     Identity
	IsThreadZero bool
	RunInfo      driver.RunInfo
	Now          func() int64
	Master       MasterClient
	Latches      Latches
	Seed         int64
}

// New constructs a Worker, its Pacer, and one mixState per configured mix.
func New(cfg Config) *Worker {
	w := &Worker{
		identity:     cfg.Identity,
		isThreadZero: cfg.IsThreadZero,
		runInfo:      cfg.RunInfo,
		now:          cfg.Now,
		master:       cfg.Master,
		log:          logging.Named("worker"),
		latches:      cfg.Latches,
		pacer:        SelectPacer(cfg.RunInfo.Driver),
		metrics:      metrics.New(len(cfg.RunInfo.Driver.Operations)),
		state:        newStateBox(),
	}

	for _, mixID := range w.pacer.MixIDs() {
		mc := cfg.RunInfo.Driver.Mixes[mixID]
		rng := rand.New(rand.NewSource(cfg.Seed + int64(mixID)*7919))
		w.mixes[mixID] = &mixState{
			id:        mixID,
			selector:  buildSelector(mc, rng),
			rng:       rng,
			ctx:       driver.NewContext(fmt.Sprintf("%s-mix-%d", cfg.Identity, mixID), cfg.Now, w.isSteadyStateFor(mixID)),
			first:     true,
			prevOpIdx: -1,
			inRamp:    true,
		}
	}

	return w
}

func buildSelector(mc *driver.MixConfig, rng *rand.Rand) mix.Selector {
	if mc == nil || len(mc.Matrix) == 0 {
		return mix.NewFlatMix(mix.Row{1})
	}
	return mix.NewMatrixMix(mc.Matrix)
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	return w.state.Get()
}

// Metrics returns this worker's metrics. Per spec.md §5.5, callers must
// only read it after the worker reaches Ended.
func (w *Worker) Metrics() *metrics.Metrics {
	return w.metrics
}

// Stop requests the worker exit its loop at its next suspension point
// (spec.md §5.4).
func (w *Worker) Stop() {
	atomic.StoreInt32(&w.stopped, 1)
}

func (w *Worker) isStopped() bool {
	return atomic.LoadInt32(&w.stopped) != 0
}

func (w *Worker) isSteadyStateFor(mixID int) driver.SteadyStateFunc {
	return func(start, end int64) bool {
		return start >= w.runInfo.SteadyStateStart() && end < w.runInfo.SteadyStateEnd()
	}
}

// Run executes the full AgentThread lifecycle: wait for trigger time, run
// pre-run hooks, drive every configured mix to completion, run post-run
// hooks, and transition to Ended. It returns the FatalError that aborted
// the run, if any; a nil return means the worker completed normally (or
// was stopped cleanly).
func (w *Worker) Run() error {
	w.state.Set(Initializing)

	if err := w.waitForTrigger(); err != nil {
		w.abort(err)
		w.state.Set(Ended)
		return err
	}

	if err := w.runPreRun(); err != nil {
		// Per spec.md §4.3: InterruptedIOException in pre-run is ignored
		// (the run is being killed; redoing is pointless).
		w.log.WithField("worker", w.identity.String()).Warnf("pre-run hook failed: %v", err)
	}

	w.state.Set(Running)

	fatalErr := w.runMixes()

	w.runPostRun()
	w.state.Set(Ended)

	return fatalErr
}

func (w *Worker) waitForTrigger() error {
	select {
	case <-w.latches.TimeSet.Done():
	}

	delay := w.runInfo.BenchStartTime - w.now()
	if delay <= 0 {
		return NewFatalError(fmt.Sprintf("worker %s: TriggerTime has expired by %dms", w.identity, -delay))
	}
	w.sleep(delay)
	return nil
}

func (w *Worker) runPreRun() error {
	if !w.isThreadZero {
		w.latches.PreRun.Wait()
		return nil
	}

	w.state.Set(PreRun)
	var err error
	if hook := w.runInfo.Driver.PreRun; hook != nil {
		err = hook(w.mixes[0].ctx)
	}
	w.latches.PreRun.CountDown()
	return err
}

func (w *Worker) runPostRun() {
	if !w.isThreadZero {
		w.latches.PostRun.CountDown()
		return
	}

	w.state.Set(PostRun)
	w.latches.PostRun.CountDown()
	w.latches.PostRun.Wait()

	// Retry around interrupted I/O: the post-run hook must complete
	// exactly once unless the process itself is exiting (spec.md §9).
	const maxAttempts = 3
	if hook := w.runInfo.Driver.PostRun; hook != nil {
		for attempt := 0; attempt < maxAttempts; attempt++ {
			if w.isStopped() && attempt > 0 {
				break
			}
			if err := hook(w.mixes[0].ctx); err != nil {
				w.log.WithField("worker", w.identity.String()).Warnf("post-run hook attempt %d failed: %v", attempt+1, err)
				continue
			}
			break
		}
	}
}

// runMixes drives every mix this worker's Pacer selects, concurrently,
// and returns the first fatal error encountered by any of them (spec.md
// §4.4: TimeThreadWithBackground runs two independent virtual clocks
// within one thread; here that is two goroutines sharing one Worker).
func (w *Worker) runMixes() error {
	mixIDs := w.pacer.MixIDs()

	var wg sync.WaitGroup
	errs := make([]error, len(mixIDs))
	for i, mixID := range mixIDs {
		wg.Add(1)
		go func(i, mixID int) {
			defer wg.Done()
			errs[i] = w.runMixLoop(mixID)
		}(i, mixID)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) runMixLoop(mixID int) error {
	ms := w.mixes[mixID]
	ops := w.runInfo.Driver.Operations

	for {
		opIdx := -1
		if !ms.first {
			opIdx = ms.selector.Select(ms.rng)
		}

		delayMillis, cycleType := w.computeDelay(ms, mixID, opIdx)
		invokeAt := w.computeInvokeTime(ms, delayMillis, cycleType)

		if err := w.sleepUntil(invokeAt); err != nil {
			if w.isStopped() {
				return nil
			}
			return err
		}
		if w.isStopped() {
			return nil
		}

		ms.startTime = w.now()

		if ms.first {
			// The initial-delay tick only paces the first real
			// invocation; it selects no operation and does not count
			// toward cycleCount (spec.md §4.4 step 1: "op = null").
			ms.first = false
			continue
		}

		op := ops[opIdx]
		ms.ctx.ResetForOperation(opIdx)

		runErr := op.Run(ms.ctx)
		timing := ms.ctx.Timing()

		if runErr != nil {
			var fe *FatalError
			if asFatal(runErr, &fe) {
				if !fe.MarkLogged() {
					w.log.WithField("worker", w.identity.String()).Errorf("fatal error from operation %s: %v", op.Name, fe)
				}
				w.abort(fe)
				return fe
			}

			w.log.WithField("worker", w.identity.String()).Warnf("operation %s failed: %v", op.Name, runErr)
			if timing.InvokeTime != -1 && timing.RespondTime != -1 && w.inSteadyState(timing.InvokeTime, timing.RespondTime) {
				w.metrics.RecordFailure(opIdx)
			}
		} else {
			if validationErr := w.validateTiming(op, timing); validationErr != nil {
				if !validationErr.MarkLogged() {
					w.log.WithField("worker", w.identity.String()).Errorf("timing validation failed: %v", validationErr)
				}
				w.abort(validationErr)
				return validationErr
			}

			ms.endTime = timing.RespondTime
			if w.inSteadyState(timing.InvokeTime, timing.RespondTime) {
				w.metrics.RecordSuccess(opIdx, float64(timing.RespondTime-timing.InvokeTime))
			}
		}

		w.updateRampPhase(ms)

		ms.prevOpIdx = opIdx
		ms.cycleCount++

		if w.pacer.Done(w, mixID) {
			return nil
		}
	}
}

// computeDelay draws the next delay in milliseconds for this tick and
// reports the pacing discipline it should be applied under. The very
// first tick of a mix has no selected operation yet, so it draws from
// the mix's InitialDelay under cycle-time pacing (spec.md §4.4 step 1-2).
func (w *Worker) computeDelay(ms *mixState, mixID int, opIdx int) (int64, cycle.Type) {
	if opIdx == -1 {
		mc := w.runInfo.Driver.Mixes[mixID]
		if mc == nil {
			return 0, cycle.CycleTime
		}
		return mc.InitialDelay.Draw(ms.rng), cycle.CycleTime
	}
	op := w.runInfo.Driver.Operations[opIdx]
	return op.Cycle.Draw(ms.rng), op.Cycle.Type
}

// computeInvokeTime applies spec.md §4.4 step 2's pacing rule: cycle-time
// paces from the previous operation's start, think-time from its end.
func (w *Worker) computeInvokeTime(ms *mixState, delayMillis int64, cycleType cycle.Type) int64 {
	if ms.first {
		// The very first tick for this mix paces from "now"; there is no
		// prior start/end time to pace from yet.
		return w.now() + delayMillis
	}
	if cycleType == cycle.ThinkTime {
		return ms.endTime + delayMillis
	}
	return ms.startTime + delayMillis
}

func (w *Worker) sleep(delayMillis int64) {
	if delayMillis <= 0 {
		return
	}
	time.Sleep(time.Duration(delayMillis) * time.Millisecond)
}

func (w *Worker) sleepUntil(invokeAt int64) error {
	for {
		if w.isStopped() {
			return nil
		}
		remaining := invokeAt - w.now()
		if remaining <= 0 {
			return nil
		}
		step := remaining
		const maxStep = 200
		if step > maxStep {
			step = maxStep
		}
		time.Sleep(time.Duration(step) * time.Millisecond)
	}
}

func (w *Worker) inSteadyState(invoke, respond int64) bool {
	return invoke >= w.runInfo.SteadyStateStart() && respond < w.runInfo.SteadyStateEnd()
}

func (w *Worker) updateRampPhase(ms *mixState) {
	steadyStart := w.runInfo.SteadyStateStart()
	steadyEnd := w.runInfo.SteadyStateEnd()

	if ms.inRamp && ms.startTime >= steadyStart {
		ms.inRamp = false
	}
	if !ms.inRamp && ms.endTime >= steadyEnd {
		ms.inRamp = true
	}
}

// validateTiming enforces spec.md §4.4 step 5: after a successful
// operation return, invokeTime and respondTime must both be set.
func (w *Worker) validateTiming(op driver.Operation, t driver.TimingInfo) *FatalError {
	if t.InvokeTime == -1 {
		if op.Timing == driver.AUTO {
			return NewFatalError("Transport not called")
		}
		return NewFatalError("recordTime not called before critical section")
	}
	if t.RespondTime == -1 {
		if op.Timing == driver.AUTO {
			return NewFatalError("Transport incomplete")
		}
		return NewFatalError("recordTime not called after critical section")
	}
	return nil
}

func (w *Worker) abort(err error) {
	if abortErr := w.master.AbortRun(err.Error()); abortErr != nil {
		w.log.WithField("worker", w.identity.String()).Errorf("abortRun call failed: %v", abortErr)
	}
}

func asFatal(err error, target **FatalError) bool {
	return errors.As(err, target)
}
