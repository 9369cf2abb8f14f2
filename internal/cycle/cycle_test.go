package cycle

import (
	"math/rand"
	"testing"
)

func TestFixedDrawIsConstant(t *testing.T) {
	f := Fixed{DelayMillis: 42}
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 5; i++ {
		if got := f.Draw(r); got != 42 {
			t.Fatalf("draw %d: expected 42, got %v", i, got)
		}
	}
}

func TestUniformDrawIsInRange(t *testing.T) {
	u := Uniform{Low: 10, High: 20}
	r := rand.New(rand.NewSource(2))

	for i := 0; i < 1000; i++ {
		got := u.Draw(r)
		if got < 10 || got > 20 {
			t.Fatalf("draw %d out of range: %v", i, got)
		}
	}
}

func TestNegExpTruncatesAtMax(t *testing.T) {
	n := NegExp{Mean: 100, Max: 150}
	r := rand.New(rand.NewSource(3))

	for i := 0; i < 1000; i++ {
		got := n.Draw(r)
		if got < 0 || got > 150 {
			t.Fatalf("draw %d out of bounds: %v", i, got)
		}
	}
}

func TestCycleDrawNeverNegative(t *testing.T) {
	c := Cycle{Type: ThinkTime, Distribution: Fixed{DelayMillis: -5}}
	r := rand.New(rand.NewSource(4))

	if got := c.Draw(r); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
}
