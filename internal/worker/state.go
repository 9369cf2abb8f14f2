// Package worker implements the AgentThread state machine: the
// phase-aware virtual-user loop described in spec.md §4.4, the hardest
// and largest subsystem of the core.
//
// Grounded on original_source/driver/src/com/sun/faban/driver/core/AgentThread.java
// for the state machine, timing validation, and failure classification
// this package reimplements as idiomatic Go instead of a Thread
// subclass hierarchy; the inheritance collapse into a single worker type
// parameterized by a Pacer follows spec.md §9's design note.
package worker

import "sync"

// State is the AgentThread lifecycle described in spec.md §4.4. It is
// monotonically increasing; WaitAtLeast blocks until the state reaches or
// passes the requested value.
type State int

const (
	NotStarted State = iota
	Initializing
	PreRun
	Running
	PostRun
	Ended
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Initializing:
		return "INITIALIZING"
	case PreRun:
		return "PRE_RUN"
	case Running:
		return "RUNNING"
	case PostRun:
		return "POST_RUN"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// stateBox holds the current State and broadcasts every transition to
// registered waiters, replacing the Java wait/notify pattern per
// spec.md §9 ("Thread-state observation via wait/notify").
type stateBox struct {
	mu      sync.Mutex
	current State
	waiters []chan struct{}
}

func newStateBox() *stateBox {
	return &stateBox{current: NotStarted}
}

// Set advances the state and wakes every registered waiter. Calling Set
// with a value less than or equal to the current state is a programmer
// error (state is monotonic) and is ignored defensively.
func (b *stateBox) Set(s State) {
	b.mu.Lock()
	if s <= b.current {
		b.mu.Unlock()
		return
	}
	b.current = s
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

func (b *stateBox) Get() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// WaitAtLeast blocks until the state is >= target.
func (b *stateBox) WaitAtLeast(target State) {
	for {
		b.mu.Lock()
		if b.current >= target {
			b.mu.Unlock()
			return
		}
		ch := make(chan struct{})
		b.waiters = append(b.waiters, ch)
		b.mu.Unlock()
		<-ch
	}
}
