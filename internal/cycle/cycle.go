// Package cycle implements the per-operation delay distributions described
// in spec.md §4.6: a Cycle carries a pacing Type (cycle-time or think-time)
// and a Distribution that draws a nonnegative millisecond delay.
//
// Grounded on the teacher's small single-purpose value types (StatPhase,
// StatError in sibench/messages.go) for Go shape: tiny structs with one
// behavioral method rather than a class hierarchy.
package cycle

import (
	"encoding/gob"
	"math"
	"math/rand"
)

func init() {
	// Distribution values cross the wire as interface fields inside
	// driver.Operation (e.g. Cycle.Distribution) via encoding/gob, which
	// requires every concrete type behind an interface to be registered.
	gob.Register(Fixed{})
	gob.Register(Uniform{})
	gob.Register(NegExp{})
}

// Type distinguishes cycle-time pacing (start-to-start) from think-time
// pacing (end-to-start), per spec.md GLOSSARY.
type Type int

const (
	// CycleTime paces from the previous operation's start to this one's start.
	CycleTime Type = iota
	// ThinkTime paces from the previous operation's end to this one's start.
	ThinkTime
)

func (t Type) String() string {
	switch t {
	case CycleTime:
		return "CycleTime"
	case ThinkTime:
		return "ThinkTime"
	default:
		return "UnknownCycleType"
	}
}

// Distribution draws a nonnegative millisecond delay from some probability
// distribution.
type Distribution interface {
	Draw(r *rand.Rand) int64
}

// Cycle bundles a pacing Type with the Distribution used to draw its delay.
type Cycle struct {
	Type         Type
	Distribution Distribution
}

// Draw returns the next nonnegative delay in milliseconds.
func (c Cycle) Draw(r *rand.Rand) int64 {
	if c.Distribution == nil {
		return 0
	}
	d := c.Distribution.Draw(r)
	if d < 0 {
		return 0
	}
	return d
}

// Fixed always returns the same delay.
type Fixed struct {
	DelayMillis int64
}

func (f Fixed) Draw(r *rand.Rand) int64 {
	return f.DelayMillis
}

// Uniform draws uniformly from [Low, High] inclusive.
type Uniform struct {
	Low, High int64
}

func (u Uniform) Draw(r *rand.Rand) int64 {
	if u.High <= u.Low {
		return u.Low
	}
	return u.Low + r.Int63n(u.High-u.Low+1)
}

// NegExp draws from a negative-exponential distribution with the given
// Mean, truncated at Max to avoid unbounded tails (spec.md §4.6).
type NegExp struct {
	Mean int64
	Max  int64
}

func (n NegExp) Draw(r *rand.Rand) int64 {
	if n.Mean <= 0 {
		return 0
	}
	// -mean * ln(U), U in (0,1]; rand.Float64() is in [0,1) so we nudge away
	// from zero to avoid ln(0).
	u := r.Float64()
	if u == 0 {
		u = 1e-12
	}
	delay := int64(-float64(n.Mean) * math.Log(u))
	if n.Max > 0 && delay > n.Max {
		delay = n.Max
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
