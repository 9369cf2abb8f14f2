package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aasssddd/faban/internal/logging"
)

var log = logging.Named("queue")

// runIDPattern matches spec.md §6's run ID format.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.\d+[A-Za-z]$`)

// Run is the immutable-after-admission record described in spec.md §3.
type Run struct {
	RunID          string
	BenchShortName string
	ParamFileName  string // name of the parameter repository file inside the run's directory
	Submitter      string
	SubmitTime     time.Time
}

// Suffix returns the "<int><char>" portion of the run ID.
func (r Run) Suffix() string {
	i := strings.LastIndex(r.RunID, ".")
	if i < 0 {
		return ""
	}
	return r.RunID[i+1:]
}

// RunQueue is the FIFO admission point for pending runs, backed by a
// queue directory on disk (spec.md §6) and a Store for the cross-process
// lock and sequence token (spec.md §9).
type RunQueue struct {
	store    Store
	queueDir string
	// outputDir holds archived (completed) runs; used by getValidPrevRun
	// to find a previous run's parameter file once it has left the queue.
	outputDir string

	mu      sync.RWMutex
	current string // RunID of the run currently RUNNING, "" if none
}

// NewRunQueue constructs a RunQueue rooted at queueDir, with outputDir
// used to look up archived runs for getValidPrevRun.
func NewRunQueue(store Store, queueDir, outputDir string) *RunQueue {
	return &RunQueue{store: store, queueDir: queueDir, outputDir: outputDir}
}

// Add admits a run, minting its ID from the current sequence token and
// creating its on-disk directory. Per spec.md §4.1 and the corrected
// Open Question in §9, the token is advanced inside the same critical
// section as the mint, not after releasing the lock.
func (q *RunQueue) Add(submitter, benchShortName string, paramFileName string, paramData []byte) (runID string, err error) {
	lockErr := q.store.WithLock(func() error {
		tok, rerr := q.store.ReadToken()
		if rerr != nil {
			return rerr
		}

		runID = fmt.Sprintf("%s.%s", benchShortName, tok.Suffix())
		runDir := filepath.Join(q.queueDir, runID)

		if _, statErr := os.Stat(runDir); statErr == nil {
			return fmt.Errorf("queue: run directory %s already exists", runDir)
		}

		if mkErr := os.MkdirAll(runDir, 0o755); mkErr != nil {
			return fmt.Errorf("queue: create run directory failed, %w", mkErr)
		}
		if wErr := os.WriteFile(filepath.Join(runDir, paramFileName), paramData, 0o644); wErr != nil {
			return fmt.Errorf("queue: write parameter repository failed, %w", wErr)
		}

		// Advance the token inside the lock (spec.md §9 deviation from
		// the original, which advanced it after releasing the lock and
		// could mint duplicate IDs under interleaved adds).
		return q.store.WriteToken(tok.Successor())
	})

	if lockErr != nil {
		log.WithField("bench", benchShortName).Errorf("add failed: %v", lockErr)
		return "", lockErr
	}

	log.WithField("runId", runID).Infof("run admitted")
	return runID, nil
}

// Delete removes a not-yet-started run. Returns false if the run isn't
// present (already started, already deleted, or never existed).
func (q *RunQueue) Delete(runID string) (bool, error) {
	var removed bool
	err := q.store.WithLock(func() error {
		runDir := filepath.Join(q.queueDir, runID)
		if _, statErr := os.Stat(runDir); statErr != nil {
			return nil
		}
		if rmErr := os.RemoveAll(runDir); rmErr != nil {
			return fmt.Errorf("queue: delete %s failed, %w", runDir, rmErr)
		}
		removed = true
		return nil
	})
	if err != nil {
		log.WithField("runId", runID).Errorf("delete failed: %v", err)
		return false, err
	}
	return removed, nil
}

// List returns the pending runs ordered by the suffix sort law in
// spec.md §6: (int asc, char asc), ties broken by run ID name order (the
// order os.ReadDir returns the directory entries in). It does not take the queue lock (optimistic read, per
// spec.md §4.1).
func (q *RunQueue) List() ([]Run, error) {
	entries, err := os.ReadDir(q.queueDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: list failed, %w", err)
	}

	runs := make([]Run, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !runIDPattern.MatchString(e.Name()) {
			continue
		}
		info, _ := e.Info()
		var submitTime time.Time
		if info != nil {
			submitTime = info.ModTime()
		}
		dot := strings.LastIndex(e.Name(), ".")
		runs = append(runs, Run{
			RunID:          e.Name(),
			BenchShortName: e.Name()[:dot],
			SubmitTime:     submitTime,
		})
	}

	sort.SliceStable(runs, func(i, j int) bool {
		ti, erri := parseSuffix(runs[i].Suffix())
		tj, errj := parseSuffix(runs[j].Suffix())
		if erri != nil || errj != nil {
			return runs[i].RunID < runs[j].RunID
		}
		return ti.Less(tj)
	})
	return runs, nil
}

func parseSuffix(suffix string) (SequenceToken, error) {
	if len(suffix) < 2 {
		return SequenceToken{}, fmt.Errorf("queue: suffix %q too short", suffix)
	}
	return ParseSequenceToken(suffix[:len(suffix)-1] + ":" + suffix[len(suffix)-1:])
}

// GetCurrentRunID reports the RunID of the currently RUNNING run, or ""
// if none (spec.md invariant: at most one run is RUNNING process-wide).
func (q *RunQueue) GetCurrentRunID() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

// setCurrent is called by RunDaemon when it picks a run to execute, and
// cleared when the run finishes.
func (q *RunQueue) setCurrent(runID string) {
	q.mu.Lock()
	q.current = runID
	q.mu.Unlock()
}

// GetValidPrevRun returns the previous run ID for bench, per spec.md
// §4.1: predecessor of the current token, iff a parameter file for it
// exists in either the queue or output directory.
func (q *RunQueue) GetValidPrevRun(bench, paramFileName string) (string, bool) {
	tok, err := q.store.ReadToken()
	if err != nil {
		return "", false
	}
	pred, ok := tok.Predecessor()
	if !ok {
		return "", false
	}

	runID := fmt.Sprintf("%s.%s", bench, pred.Suffix())
	for _, dir := range []string{q.queueDir, q.outputDir} {
		if _, statErr := os.Stat(filepath.Join(dir, runID, paramFileName)); statErr == nil {
			return runID, true
		}
	}
	return "", false
}

// Exit is a no-op hook reserved for administration CLI parity with
// spec.md §6's "exit" queue-manager operation; there is no background
// goroutine owned directly by RunQueue to stop (that belongs to RunDaemon).
func (q *RunQueue) Exit() {}
