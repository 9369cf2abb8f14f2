package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestRunDaemonExecutesAdmittedRunAndClearsCurrent(t *testing.T) {
	base := t.TempDir()
	q := NewRunQueue(NewMemStore(), filepath.Join(base, "queue"), filepath.Join(base, "output"))

	var mu sync.Mutex
	var executed []string
	done := make(chan struct{})

	d := NewRunDaemon(q, filepath.Join(base, "active"), func(ctx context.Context, run Run, runDir string) error {
		mu.Lock()
		executed = append(executed, run.RunID)
		mu.Unlock()
		close(done)
		return nil
	})
	d.pollEvery = 10 * time.Millisecond

	go d.Run()
	defer d.Stop()

	if _, err := q.Add("alice", "X", "params.txt", []byte("p")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	d.Signal()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for daemon to execute run")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 1 || executed[0] != "X.1A" {
		t.Fatalf("expected exactly one execution of X.1A, got %v", executed)
	}

	// Daemon clears current after the executor returns.
	deadline := time.Now().Add(time.Second)
	for q.GetCurrentRunID() != "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if q.GetCurrentRunID() != "" {
		t.Fatalf("expected current run cleared after execution")
	}
}

func TestRunDaemonNeverRunsTwoAtOnce(t *testing.T) {
	base := t.TempDir()
	q := NewRunQueue(NewMemStore(), filepath.Join(base, "queue"), filepath.Join(base, "output"))

	release := make(chan struct{})
	var mu sync.Mutex
	concurrent := 0
	maxConcurrent := 0

	d := NewRunDaemon(q, filepath.Join(base, "active"), func(ctx context.Context, run Run, runDir string) error {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		<-release

		mu.Lock()
		concurrent--
		mu.Unlock()
		return nil
	})
	d.pollEvery = 10 * time.Millisecond

	go d.Run()
	defer d.Stop()

	if _, err := q.Add("alice", "X", "params.txt", []byte("p")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := q.Add("alice", "Y", "params.txt", []byte("p")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	d.Signal()

	time.Sleep(100 * time.Millisecond)
	close(release)

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > 1 {
		t.Fatalf("expected at most one concurrent run, saw %d", maxConcurrent)
	}
}
