package latch

import (
	"testing"
	"time"
)

func TestWaitBlocksUntilCountReachesZero(t *testing.T) {
	l := New(2)
	released := make(chan struct{})
	go func() {
		l.Wait()
		close(released)
	}()

	select {
	case <-released:
		t.Fatalf("latch released before countdown reached zero")
	case <-time.After(20 * time.Millisecond):
	}

	l.CountDown()
	l.CountDown()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatalf("latch did not release after countdown reached zero")
	}
}

func TestZeroCountLatchIsImmediatelyOpen(t *testing.T) {
	l := New(0)
	select {
	case <-l.Done():
	default:
		t.Fatalf("expected zero-count latch to start open")
	}
}

func TestCountDownPastZeroIsNoOp(t *testing.T) {
	l := New(1)
	l.CountDown()
	l.CountDown()
	l.CountDown()
	if l.Count() != 0 {
		t.Fatalf("expected count to stay at 0, got %d", l.Count())
	}
}
