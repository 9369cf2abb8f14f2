// Package mix implements the operation mix selectors described in
// spec.md §4.5: a Selector chooses the next operation index given a
// pseudorandom source, either as an independent draw over a row
// distribution (FlatMix) or as a Markov transition from the previously
// selected operation (MatrixMix).
//
// Grounded on the teacher's table-driven transition-map style
// (validWSTransitions in sibench/worker.go) applied here to probability
// rows instead of state transitions.
package mix

import "math/rand"

// Selector chooses the next operation index given a random source. It owns
// no clock; spec.md §4.5 states it is driven entirely by the worker.
type Selector interface {
	// Select returns the next operation index.
	Select(r *rand.Rand) int
}

// Row is one row of a transition matrix: raw nonnegative weights over
// operation indices. Matrix is normalized at construction time so
// callers can supply raw weights.
type Row []float64

// FlatMix samples independently from a single row distribution on every
// call, ignoring the previously selected operation.
type FlatMix struct {
	cumulative []float64
}

// NewFlatMix builds a FlatMix from a row of nonnegative weights.
func NewFlatMix(weights Row) *FlatMix {
	return &FlatMix{cumulative: cumulativeSum(weights)}
}

func (f *FlatMix) Select(r *rand.Rand) int {
	return sampleCumulative(f.cumulative, r)
}

// MatrixMix is a Markov transition sampler: Select(prev) samples from
// Matrix[prev, :]. The first call (no previous selection) uses row 0.
type MatrixMix struct {
	rows []([]float64)
	prev int
}

// NewMatrixMix builds a MatrixMix from a square matrix of nonnegative
// weights, one row per operation.
func NewMatrixMix(matrix []Row) *MatrixMix {
	m := &MatrixMix{rows: make([][]float64, len(matrix))}
	for i, row := range matrix {
		m.rows[i] = cumulativeSum(row)
	}
	return m
}

func (m *MatrixMix) Select(r *rand.Rand) int {
	next := sampleCumulative(m.rows[m.prev], r)
	m.prev = next
	return next
}

// Reset forces the next Select call to sample from the given row, used by
// AgentThread when seeding the first selection of a mix (spec.md §4.4 step 1).
func (m *MatrixMix) Reset(row int) {
	m.prev = row
}

func cumulativeSum(weights Row) []float64 {
	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		total += w
		cum[i] = total
	}
	if total <= 0 {
		return cum
	}
	for i := range cum {
		cum[i] /= total
	}
	return cum
}

func sampleCumulative(cumulative []float64, r *rand.Rand) int {
	if len(cumulative) == 0 {
		return 0
	}
	x := r.Float64()
	for i, c := range cumulative {
		if x <= c {
			return i
		}
	}
	return len(cumulative) - 1
}
