// Package master implements the coordinator described in spec.md §4.2: it
// dials every Agent taking part in a run, answers their currentTimeMillis
// and abortRun calls, runs the five-step start protocol, and joins the run
// by collecting and aggregating each Agent's metrics.
//
// Grounded on the teacher's Manager (sibench/manager.go): a coordinator
// that connects to every server, broadcasts a work order sized per server,
// waits for each phase's acknowledgements, then drains final stats. The
// fan-out/wait-for-all-acks shape carries over directly; the work-order
// range partitioning does not apply here, since every Agent runs the same
// RunInfo rather than a disjoint key range.
package master

import (
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/aasssddd/faban/internal/agent"
	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/logging"
	"github.com/aasssddd/faban/internal/metrics"
	"github.com/aasssddd/faban/internal/rpc"
	"github.com/aasssddd/faban/internal/timer"
)

var log = logging.Named("master")

// StartupSlackMillis is the lead time given to every Agent between the
// moment Master broadcasts benchStartTime and the moment it actually
// arrives, so that network/processing jitter in delivering "configure" and
// "start" never lands an Agent past its own trigger check (spec.md §4.2
// step 3, §9 "TriggerTimeExpired").
const StartupSlackMillis = 3000

// RunState is the lifecycle of a single run as seen by Master.
type RunState int

const (
	Idle RunState = iota
	Running
	Aborting
	Done
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Aborting:
		return "ABORTING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// AgentHandle is one configured Agent connection, with the thread count
// Master assigned it for the current run.
type AgentHandle struct {
	Host        string
	Conn        *rpc.Conn
	ThreadCount int
}

// Master coordinates one run at a time across a fixed set of Agent
// connections (spec.md §4.1: a run occupies every Agent for its duration).
type Master struct {
	mu      sync.Mutex
	agents  []*AgentHandle
	state   RunState
	abortMu sync.Mutex
	aborted bool
	abortCh chan string
}

// New wires RPC handlers for currentTimeMillis and abortRun onto every
// agent connection Master will drive, and returns a ready-to-use Master.
func New(handles []*AgentHandle) *Master {
	m := &Master{agents: handles, state: Idle, abortCh: make(chan string, len(handles))}
	for _, h := range handles {
		h.Conn.Handle("currentTimeMillis", m.handleCurrentTimeMillis)
		h.Conn.Handle("abortRun", m.handleAbortRun)
	}
	return m
}

func (m *Master) handleCurrentTimeMillis(data []byte) (interface{}, error) {
	return timer.New().GetTime(), nil
}

func (m *Master) handleAbortRun(data []byte) (interface{}, error) {
	var reason string
	_ = rpc.UnmarshalPayload(data, &reason)
	m.recordAbort(reason)
	return nil, nil
}

func (m *Master) recordAbort(reason string) {
	m.abortMu.Lock()
	already := m.aborted
	m.aborted = true
	m.abortMu.Unlock()
	if already {
		return
	}
	log.Warnf("agent reported abort: %s", reason)
	select {
	case m.abortCh <- reason:
	default:
	}
	go m.Kill(reason)
}

// StartRun runs spec.md §4.2's start protocol: collect each Agent's
// current master-adjusted clock reading, compute benchStartTime as the max
// of those readings plus slack, then configure and start every Agent with
// the resulting RunInfo. Each RPC round is retried once on transport
// failure before the whole run is judged to have failed to start.
func (m *Master) StartRun(base driver.RunInfo, threadCount int) (driver.RunInfo, error) {
	m.mu.Lock()
	if m.state == Running || m.state == Aborting {
		m.mu.Unlock()
		return driver.RunInfo{}, fmt.Errorf("master: a run is already in progress")
	}
	m.state = Running
	m.mu.Unlock()

	m.abortMu.Lock()
	m.aborted = false
	m.abortMu.Unlock()

	readyTimes := make([]int64, len(m.agents))
	var rg errgroup.Group
	for i, h := range m.agents {
		i, h := i, h
		rg.Go(func() error {
			return retry.Do(func() error {
				return h.Conn.Call("readyTime", struct{}{}, &readyTimes[i])
			}, retry.Attempts(2), retry.Delay(100*time.Millisecond))
		})
	}
	if err := rg.Wait(); err != nil {
		m.setState(Idle)
		return driver.RunInfo{}, fmt.Errorf("master: readyTime failed, %w", err)
	}

	var maxReady int64
	for _, t := range readyTimes {
		if t > maxReady {
			maxReady = t
		}
	}

	info := base
	info.BenchStartTime = maxReady + StartupSlackMillis

	var g errgroup.Group
	for _, h := range m.agents {
		h := h
		h.ThreadCount = threadCount
		g.Go(func() error {
			req := agent.ConfigureRequest{RunInfo: info, ThreadCount: h.ThreadCount}
			return retry.Do(func() error {
				var reply interface{}
				return h.Conn.Call("configure", req, &reply)
			}, retry.Attempts(2), retry.Delay(100*time.Millisecond))
		})
	}
	if err := g.Wait(); err != nil {
		m.setState(Idle)
		return driver.RunInfo{}, fmt.Errorf("master: configure failed, %w", err)
	}

	g = errgroup.Group{}
	for _, h := range m.agents {
		h := h
		g.Go(func() error {
			return retry.Do(func() error {
				var reply interface{}
				return h.Conn.Call("start", struct{}{}, &reply)
			}, retry.Attempts(2), retry.Delay(100*time.Millisecond))
		})
	}
	if err := g.Wait(); err != nil {
		m.setState(Idle)
		return driver.RunInfo{}, fmt.Errorf("master: start failed, %w", err)
	}

	log.WithField("run", info.RunID).Infof("run started, benchStartTime=%d", info.BenchStartTime)
	return info, nil
}

// JoinRun blocks until every Agent's run has ended, then aggregates their
// per-operation metrics into a single result (spec.md §3's additivity
// guarantee extends across Agents, not only across a single Agent's
// threads). The returned bool reports whether any Agent reported an abort
// during the run (spec.md §4.2, §8 scenario 5): the metrics are still
// returned in that case, but the caller must treat them as partial rather
// than a clean completion.
func (m *Master) JoinRun() ([]metrics.OpStats, bool, error) {
	var mu sync.Mutex
	snapshots := make([][]metrics.OpStats, 0, len(m.agents))

	var g errgroup.Group
	for _, h := range m.agents {
		h := h
		g.Go(func() error {
			var snap []metrics.OpStats
			if err := h.Conn.Call("getResults", struct{}{}, &snap); err != nil {
				return fmt.Errorf("master: getResults from %s failed, %w", h.Host, err)
			}
			mu.Lock()
			snapshots = append(snapshots, snap)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()

	m.abortMu.Lock()
	aborted := m.aborted
	m.abortMu.Unlock()

	m.setState(Done)
	if err != nil {
		return nil, aborted, err
	}
	return metrics.Aggregate(snapshots), aborted, nil
}

// Kill aborts the in-progress run: every Agent is told to stop all its
// workers, in parallel, with failures from individual Agents collected
// rather than allowed to short-circuit the others (spec.md §4.2:
// abortRun must reach every Agent even if one connection is already
// gone).
func (m *Master) Kill(reason string) error {
	m.mu.Lock()
	if m.state != Running {
		m.mu.Unlock()
		return nil
	}
	m.state = Aborting
	m.mu.Unlock()

	log.Warnf("killing run: %s", reason)

	var mErr *multierror.Error
	var mu sync.Mutex
	var g errgroup.Group
	for _, h := range m.agents {
		h := h
		g.Go(func() error {
			var reply interface{}
			if err := h.Conn.Call("stopAll", struct{}{}, &reply); err != nil {
				mu.Lock()
				mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", h.Host, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.setState(Idle)
	return mErr.ErrorOrNil()
}

// AbortNotifications exposes the channel of abort reasons Master learns
// about from Agents, for a caller that wants to react to them (e.g. a CLI
// printing why a run ended early).
func (m *Master) AbortNotifications() <-chan string {
	return m.abortCh
}

func (m *Master) setState(s RunState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// State reports the current run state.
func (m *Master) State() RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
