package worker

import "github.com/aasssddd/faban/internal/driver"

// Pacer captures the one axis AgentThread's three concrete Java subclasses
// (TimeThread, TimeThreadWithBackground, CycleThread) actually varied on:
// which mixes run, and when a mix's loop terminates. Everything else —
// operation selection, invoke-time computation, timing validation,
// classification — is common and lives in Worker itself, per spec.md §9's
// "Inheritance hierarchy" design note.
type Pacer interface {
	// MixIDs returns the mix indices this pacer drives: [0] for a
	// foreground-only run, [0, 1] when a background mix is configured.
	MixIDs() []int

	// Done reports whether mixID's loop should terminate, evaluated after
	// each completed tick.
	Done(w *Worker, mixID int) bool
}

// timePacer drives a single foreground mix until wall time passes the
// run's end time (spec.md §4.4: TimeThread).
type timePacer struct{}

func (timePacer) MixIDs() []int { return []int{0} }

func (timePacer) Done(w *Worker, mixID int) bool {
	return w.now() >= w.runInfo.RunEndTime()
}

// timeWithBackgroundPacer drives both a foreground and a background mix,
// each with its own virtual clock, both wall-time terminated
// (spec.md §4.4: TimeThreadWithBackground).
type timeWithBackgroundPacer struct{}

func (timeWithBackgroundPacer) MixIDs() []int { return []int{0, 1} }

func (timeWithBackgroundPacer) Done(w *Worker, mixID int) bool {
	return w.now() >= w.runInfo.RunEndTime()
}

// cyclePacer drives a single foreground mix until its cycle count reaches
// the configured target (spec.md §4.4: CycleThread).
type cyclePacer struct{}

func (cyclePacer) MixIDs() []int { return []int{0} }

func (cyclePacer) Done(w *Worker, mixID int) bool {
	return w.mixes[mixID].cycleCount >= w.runInfo.Driver.Cycles
}

// SelectPacer implements spec.md §4.4's construction policy: if a
// background mix is configured, use TimeThreadWithBackground; else TIME
// control uses TimeThread, CYCLES control uses CycleThread.
func SelectPacer(cfg driver.DriverConfig) Pacer {
	if cfg.Mixes[1] != nil {
		return timeWithBackgroundPacer{}
	}
	if cfg.RunControl == driver.CYCLES {
		return cyclePacer{}
	}
	return timePacer{}
}
