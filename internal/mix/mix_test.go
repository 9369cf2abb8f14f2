package mix

import (
	"math/rand"
	"testing"
)

func TestFlatMixConvergesToStationaryDistribution(t *testing.T) {
	sel := NewFlatMix(Row{0.2, 0.8})
	r := rand.New(rand.NewSource(7))

	counts := [2]int{}
	const draws = 50000
	for i := 0; i < draws; i++ {
		counts[sel.Select(r)]++
	}

	p0 := float64(counts[0]) / float64(draws)
	if p0 < 0.18 || p0 > 0.22 {
		t.Fatalf("expected p(0) ~0.2, got %v", p0)
	}
}

func TestMatrixMixFollowsPreviousSelection(t *testing.T) {
	// Operation 0 always goes to 1; operation 1 always goes to 0.
	sel := NewMatrixMix([]Row{
		{0, 1},
		{1, 0},
	})
	r := rand.New(rand.NewSource(9))

	sel.Reset(0)
	seq := make([]int, 6)
	for i := range seq {
		seq[i] = sel.Select(r)
	}

	for i, v := range seq {
		want := (i + 1) % 2
		if v != want {
			t.Fatalf("position %d: expected %d, got %d (seq=%v)", i, want, v, seq)
		}
	}
}
