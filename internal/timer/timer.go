// Package timer implements the master-offset adjusted monotonic clock
// described in spec.md §5.2: every agent samples the master's clock once at
// startup and adds a fixed offset to its own local monotonic time for the
// rest of the run. Re-sampling during a run is deliberately not performed.
package timer

import "time"

// Timer reports master-adjusted milliseconds.
type Timer struct {
	offsetMillis int64
}

// New returns a Timer with a zero offset, suitable for use on the master
// itself (its own clock needs no adjustment).
func New() *Timer {
	return &Timer{}
}

// NewWithOffset returns a Timer whose GetTime() calls are shifted by the
// given offset, computed once at agent startup from the master's reported
// currentTimeMillis() versus this process's local clock.
func NewWithOffset(offsetMillis int64) *Timer {
	return &Timer{offsetMillis: offsetMillis}
}

// ComputeOffset returns the offset to apply to the local clock so that
// GetTime() agrees with the master's clock, given a single round-trip
// sample of the master's reported time.
func ComputeOffset(masterNowMillis int64) int64 {
	return masterNowMillis - nowMillis()
}

// GetTime returns the current master-adjusted time in milliseconds.
func (t *Timer) GetTime() int64 {
	return nowMillis() + t.offsetMillis
}

// Offset reports the configured offset, mostly useful for logging.
func (t *Timer) Offset() int64 {
	return t.offsetMillis
}

// processStart anchors the local clock: wall time is read once, and every
// later reading adds the monotonic time elapsed since then.
var processStart = time.Now()

func nowMillis() int64 {
	return processStart.UnixNano()/int64(time.Millisecond) + int64(time.Since(processStart)/time.Millisecond)
}
