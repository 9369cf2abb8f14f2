// Package agent implements the per-host Agent process described in
// spec.md §4.3: it hosts a pool of worker.Worker virtual users, answers
// Master's RPCs (configure/start/stopAll/getResults/readyTime), and forwards each
// worker's abort requests back to Master over the same connection.
//
// Grounded on the teacher's Foreman (sibench/foreman.go): a process that
// sits between a coordinator and a pool of workers, relaying commands
// down and status up over one long-lived connection. The Foreman's large
// opcode state-transition table doesn't generalize here — Agent's surface
// is a handful of idempotent RPCs rather than a multi-phase storage
// benchmark protocol — so only the one-active-connection discipline is
// carried over, not the table.
package agent

import (
	"fmt"
	"sync"

	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/latch"
	"github.com/aasssddd/faban/internal/logging"
	"github.com/aasssddd/faban/internal/metrics"
	"github.com/aasssddd/faban/internal/rpc"
	"github.com/aasssddd/faban/internal/timer"
	"github.com/aasssddd/faban/internal/worker"
)

var log = logging.Named("agent")

// ConfigureRequest is the payload of Master's "configure" call.
type ConfigureRequest struct {
	RunInfo    driver.RunInfo
	ThreadCount int
}

// Agent hosts one driver type's worker pool for the local host. Exactly
// one run's worth of workers exists at a time; Configure replaces any
// prior pool.
type Agent struct {
	conn *rpc.Conn
	id   string

	mu      sync.Mutex
	workers []*worker.Worker
	latches worker.Latches
	timer   *timer.Timer
	runDone chan struct{}
	aborted bool
	abortMu sync.Mutex
}

// New wraps an established rpc.Conn to Master and registers the Agent's
// RPC handlers on it (configure/start/stopAll/getResults/readyTime). id names this
// Agent for worker.Identity.AgentID (typically its own listen address).
// The caller is responsible for Dial-ing or Accept-ing the connection and
// for sampling the master clock offset before workers are configured.
func New(conn *rpc.Conn, id string) *Agent {
	a := &Agent{conn: conn, id: id}
	conn.Handle("configure", a.handleConfigure)
	conn.Handle("start", a.handleStart)
	conn.Handle("stopAll", a.handleStopAll)
	conn.Handle("getResults", a.handleGetResults)
	conn.Handle("readyTime", a.handleReadyTime)
	return a
}

// SyncClock samples Master.currentTimeMillis() and records the offset
// used by every worker's clock for the duration of the run (spec.md
// §5.2: resampling during a run is not performed).
func (a *Agent) SyncClock() error {
	var masterNow int64
	if err := a.conn.Call("currentTimeMillis", struct{}{}, &masterNow); err != nil {
		return fmt.Errorf("agent: currentTimeMillis call failed, %w", err)
	}
	t := timer.NewWithOffset(timer.ComputeOffset(masterNow))
	a.mu.Lock()
	a.timer = t
	a.mu.Unlock()
	return nil
}

// AbortRun implements worker.MasterClient: it is called by any worker
// that hits a fatal condition, and forwards the abort to Master exactly
// once per agent (spec.md §4.2: abortRun is idempotent).
func (a *Agent) AbortRun(reason string) error {
	a.abortMu.Lock()
	already := a.aborted
	a.aborted = true
	a.abortMu.Unlock()
	if already {
		return nil
	}

	log.Warnf("forwarding abort to master: %s", reason)
	if err := a.conn.Call("abortRun", reason, nil); err != nil {
		return fmt.Errorf("agent: abortRun call failed, %w", err)
	}
	a.stopAll()
	return nil
}

// handleReadyTime answers Master's "readyTime" call, part of spec.md
// §4.2's start protocol steps 2-3: Master collects this value from every
// Agent and computes benchStartTime as the max of all of them plus slack,
// rather than trusting its own clock to be far enough ahead of every
// Agent's.
func (a *Agent) handleReadyTime(data []byte) (interface{}, error) {
	a.mu.Lock()
	t := a.timer
	a.mu.Unlock()
	if t == nil {
		t = timer.New()
	}
	return t.GetTime(), nil
}

func (a *Agent) handleConfigure(data []byte) (interface{}, error) {
	var req ConfigureRequest
	if err := rpc.UnmarshalPayload(data, &req); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.latches = worker.Latches{
		TimeSet: latch.New(1),
		PreRun:  latch.New(1),
		PostRun: latch.New(req.ThreadCount),
	}

	t := a.timer
	if t == nil {
		t = timer.New()
	}

	a.workers = make([]*worker.Worker, req.ThreadCount)
	for i := 0; i < req.ThreadCount; i++ {
		a.workers[i] = worker.New(worker.Config{
			Identity:     worker.Identity{Type: req.RunInfo.DriverName, AgentID: a.id, ID: i},
			IsThreadZero: i == 0,
			RunInfo:      req.RunInfo,
			Now:          t.GetTime,
			Master:       a,
			Latches:      a.latches,
			Seed:         int64(i) + 1,
		})
	}
	a.aborted = false
	a.runDone = make(chan struct{})

	log.WithField("threads", req.ThreadCount).Infof("configured for run %s", req.RunInfo.RunID)
	return nil, nil
}

// handleStart answers Master's "start" call: it launches every worker's
// goroutine and immediately releases the shared timeSetLatch. Since
// benchStartTime already travelled inside the preceding "configure" call,
// spec.md §4.2's steps 4 ("broadcast benchStartTime") and 5 ("release
// timeSetLatch") collapse into this single RPC.
func (a *Agent) handleStart(data []byte) (interface{}, error) {
	a.mu.Lock()
	workers := a.workers
	done := a.runDone
	l := a.latches
	a.mu.Unlock()

	if len(workers) == 0 {
		return nil, fmt.Errorf("agent: start called before configure")
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run()
		}(w)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	if l.TimeSet != nil {
		l.TimeSet.CountDown()
	}

	return nil, nil
}

func (a *Agent) handleStopAll(data []byte) (interface{}, error) {
	a.stopAll()
	return nil, nil
}

func (a *Agent) stopAll() {
	a.mu.Lock()
	workers := a.workers
	a.mu.Unlock()
	for _, w := range workers {
		w.Stop()
	}
}

func (a *Agent) handleGetResults(data []byte) (interface{}, error) {
	a.mu.Lock()
	workers := a.workers
	done := a.runDone
	a.mu.Unlock()

	if done != nil {
		<-done
	}

	snapshots := make([][]metrics.OpStats, len(workers))
	for i, w := range workers {
		snapshots[i] = w.Metrics().Snapshot()
	}
	return metrics.Aggregate(snapshots), nil
}

// Wait blocks until the currently configured run's workers have all
// reached Ended.
func (a *Agent) Wait() {
	a.mu.Lock()
	done := a.runDone
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}
