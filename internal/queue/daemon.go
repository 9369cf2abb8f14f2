package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Executor runs one admitted run to completion. RunDaemon calls it with
// the run moved out of the queue directory and into activeDir; the
// executor (typically internal/master.Master) owns everything from there.
type Executor func(ctx context.Context, run Run, runDir string) error

// RunDaemon is the single long-running worker described in spec.md §4.1:
// it polls the RunQueue, picks the oldest admissible run, and executes
// runs strictly one at a time.
type RunDaemon struct {
	queue     *RunQueue
	activeDir string
	executor  Executor
	pollEvery time.Duration

	mu       sync.Mutex
	wake     chan struct{}
	stopCh   chan struct{}
	stopped  bool
	killCh   chan string // runID to kill, or "" for "kill whatever is running"
	cancelFn context.CancelFunc
}

// NewRunDaemon builds a RunDaemon over queue, moving picked runs into
// activeDir before invoking executor.
func NewRunDaemon(queue *RunQueue, activeDir string, executor Executor) *RunDaemon {
	return &RunDaemon{
		queue:     queue,
		activeDir: activeDir,
		executor:  executor,
		pollEvery: time.Second,
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		killCh:    make(chan string, 1),
	}
}

// Signal wakes the daemon to check for newly admitted runs immediately,
// rather than waiting for its next poll tick.
func (d *RunDaemon) Signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run blocks, executing admitted runs one at a time, until Stop is called.
func (d *RunDaemon) Run() {
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
		case <-d.wake:
		}
		d.tryRunNext()
	}
}

// Stop halts the daemon after its current run (if any) finishes.
func (d *RunDaemon) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.stopCh)
	}
	d.mu.Unlock()
}

// Start (re)launches the poll loop in its own goroutine if the daemon is
// currently stopped; a no-op otherwise. This is the restart half of the
// admin surface's start-daemon/stop-daemon pair (spec.md's Process
// topology): Stop leaves any in-progress run to finish and then parks the
// poll loop, Start resumes it without needing a new process.
func (d *RunDaemon) Start() {
	d.mu.Lock()
	if !d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = false
	d.stopCh = make(chan struct{})
	d.mu.Unlock()
	go d.Run()
}

// Running reports whether the poll loop is currently active.
func (d *RunDaemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped
}

// KillCurrentRun requests that the currently RUNNING run, if its ID
// matches runID, be aborted (spec.md §6 administration surface).
func (d *RunDaemon) KillCurrentRun(runID string) {
	d.mu.Lock()
	cancel := d.cancelFn
	current := d.queue.GetCurrentRunID()
	d.mu.Unlock()

	if current == runID && cancel != nil {
		cancel()
	}
}

func (d *RunDaemon) tryRunNext() {
	if d.queue.GetCurrentRunID() != "" {
		return // spec.md invariant: at most one run RUNNING process-wide.
	}

	runs, err := d.queue.List()
	if err != nil {
		log.Errorf("daemon: list failed: %v", err)
		return
	}
	if len(runs) == 0 {
		return
	}
	next := runs[0]

	var runDir string
	pickErr := d.queue.store.WithLock(func() error {
		src := filepath.Join(d.queue.queueDir, next.RunID)
		dst := filepath.Join(d.activeDir, next.RunID)
		if err := os.MkdirAll(d.activeDir, 0o755); err != nil {
			return fmt.Errorf("daemon: prepare active dir failed, %w", err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("daemon: move run %s to active failed, %w", next.RunID, err)
		}
		runDir = dst
		return nil
	})
	if pickErr != nil {
		log.Errorf("daemon: pick failed: %v", pickErr)
		return
	}

	d.queue.setCurrent(next.RunID)
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancelFn = cancel
	d.mu.Unlock()

	log.WithField("runId", next.RunID).Infof("run starting")
	if err := d.executor(ctx, next, runDir); err != nil {
		log.WithField("runId", next.RunID).Errorf("run failed: %v", err)
	}
	cancel()

	d.queue.setCurrent("")
	d.mu.Lock()
	d.cancelFn = nil
	d.mu.Unlock()
	log.WithField("runId", next.RunID).Infof("run finished")
}
