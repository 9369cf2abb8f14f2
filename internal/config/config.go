// Package config loads the YAML parameter files that describe a single
// run's timing and mix settings, and combines them with a registered
// driver to build a driver.RunInfo.
//
// Grounded on the teacher's Config/Job split (sibench/config.go,
// sibench/job.go): a small flat struct of run parameters, populated from
// user input and then handed to the run coordinator. Here the flat struct
// is YAML rather than docopt-bound flags, per spec.md §4.1's "parameter
// files travel with a run in the queue" requirement; gopkg.in/yaml.v3
// replaces the teacher's json.Unmarshal-from-flags since the queue stores
// whole parameter documents, not a single command line.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aasssddd/faban/internal/cycle"
	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/mix"
)

// CycleSpec is the YAML shape of a cycle.Cycle: a pacing kind plus one of
// the three distribution parameter sets.
type CycleSpec struct {
	Type string `yaml:"type"` // "cycleTime" or "thinkTime"

	Fixed   *FixedSpec   `yaml:"fixed,omitempty"`
	Uniform *UniformSpec `yaml:"uniform,omitempty"`
	NegExp  *NegExpSpec  `yaml:"negExp,omitempty"`
}

type FixedSpec struct {
	DelayMillis int64 `yaml:"delayMillis"`
}

type UniformSpec struct {
	LowMillis  int64 `yaml:"lowMillis"`
	HighMillis int64 `yaml:"highMillis"`
}

type NegExpSpec struct {
	MeanMillis int64 `yaml:"meanMillis"`
	MaxMillis  int64 `yaml:"maxMillis"`
}

// Build resolves a CycleSpec into a cycle.Cycle, defaulting to CycleTime
// pacing and a zero Fixed delay when fields are omitted.
func (s CycleSpec) Build() cycle.Cycle {
	c := cycle.Cycle{Type: cycle.CycleTime}
	if s.Type == "thinkTime" {
		c.Type = cycle.ThinkTime
	}

	switch {
	case s.Uniform != nil:
		c.Distribution = cycle.Uniform{Low: s.Uniform.LowMillis, High: s.Uniform.HighMillis}
	case s.NegExp != nil:
		c.Distribution = cycle.NegExp{Mean: s.NegExp.MeanMillis, Max: s.NegExp.MaxMillis}
	case s.Fixed != nil:
		c.Distribution = cycle.Fixed{DelayMillis: s.Fixed.DelayMillis}
	default:
		c.Distribution = cycle.Fixed{DelayMillis: 0}
	}
	return c
}

// MixSpec is the YAML shape of one driver.MixConfig: a matrix of
// per-operation weights (one row per operation for a Markov mix, or a
// single row for a flat mix) plus the initial-delay cycle.
type MixSpec struct {
	Matrix       [][]float64 `yaml:"matrix"`
	InitialDelay CycleSpec   `yaml:"initialDelay"`
}

func (s MixSpec) Build() *driver.MixConfig {
	if len(s.Matrix) == 0 {
		return nil
	}
	rows := make([]mix.Row, len(s.Matrix))
	for i, r := range s.Matrix {
		rows[i] = mix.Row(r)
	}
	return &driver.MixConfig{Matrix: rows, InitialDelay: s.InitialDelay.Build()}
}

// RunParams is the YAML document stored alongside a queued run (spec.md
// §4.1): everything needed to build a driver.RunInfo once combined with a
// registered driver's operation set.
type RunParams struct {
	DriverName  string `yaml:"driver"`
	ThreadCount int    `yaml:"threadCount"`

	RampUp      int64 `yaml:"rampUpSeconds"`
	SteadyState int64 `yaml:"steadyStateSeconds"`
	RampDown    int64 `yaml:"rampDownSeconds"`

	RunControl string `yaml:"runControl"` // "time" or "cycles"
	Cycles     int64  `yaml:"cycles"`

	ForegroundMix MixSpec  `yaml:"foregroundMix"`
	BackgroundMix *MixSpec `yaml:"backgroundMix,omitempty"`
}

// ParamRepository loads RunParams documents from wherever the queue keeps
// them. The interface exists so internal/queue's filesystem-backed param
// files and a future database-backed store can share callers.
type ParamRepository interface {
	Load(path string) (RunParams, error)
}

// BenchmarkDescriptor is the named tuple a submitter's "bench" short name
// resolves to: which parameter file template backs it, and which driver
// types it is allowed to run against. The core only ever needs ShortName
// (to mint a RunID) and DriverTypes (to validate a submission); how
// descriptors get discovered on disk is left to DescriptorSource.
type BenchmarkDescriptor struct {
	ShortName      string
	ConfigFileName string
	DriverTypes    []string
}

// DescriptorSource resolves a benchmark's short name (the value fabctl
// submit's --bench flag carries) to its BenchmarkDescriptor. Kept as an
// interface, not a concrete discovery subsystem: spec.md's Non-goals
// exclude full benchmark-descriptor discovery, but admin.handleSubmit
// still needs *something* to validate a submitted short name against.
type DescriptorSource interface {
	Descriptor(shortName string) (BenchmarkDescriptor, error)
}

// StaticDescriptorSource is a DescriptorSource backed by an in-memory
// table, the thinnest possible implementation: a deployment registers its
// known benchmarks once at startup (e.g. alongside RegisterDriver calls)
// rather than scanning a descriptor directory at submit time.
type StaticDescriptorSource map[string]BenchmarkDescriptor

// Descriptor looks shortName up in the table.
func (s StaticDescriptorSource) Descriptor(shortName string) (BenchmarkDescriptor, error) {
	d, ok := s[shortName]
	if !ok {
		return BenchmarkDescriptor{}, fmt.Errorf("config: no benchmark descriptor registered under %q", shortName)
	}
	return d, nil
}

// YAMLParamRepository reads RunParams from files on disk.
type YAMLParamRepository struct{}

func NewYAMLParamRepository() YAMLParamRepository { return YAMLParamRepository{} }

func (YAMLParamRepository) Load(path string) (RunParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunParams{}, fmt.Errorf("config: reading %s failed, %w", path, err)
	}
	var p RunParams
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return RunParams{}, fmt.Errorf("config: parsing %s failed, %w", path, err)
	}
	return p, nil
}

// DriverFactory builds the fixed part of a run's DriverConfig: its
// Operations and PreRun/PostRun hooks. RunParams supplies everything that
// varies per run (timing, mix weights); the factory supplies everything
// that is fixed by the driver's code (spec.md §2's split between "what a
// driver does" and "how a run paces it").
type DriverFactory func() driver.DriverConfig

var (
	registryMu sync.Mutex
	registry   = map[string]DriverFactory{}
)

// RegisterDriver makes a driver available to BuildRunInfo under name.
// Driver packages (e.g. benchdrivers/httpecho) call this from their own
// Register function, which the fabmaster and fabagent mains call at
// startup, mirroring the teacher's registration of connection types by
// string key in connection.go.
func RegisterDriver(name string, factory DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// LookupDriver returns the factory registered under name, if any.
func LookupDriver(name string) (DriverFactory, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	f, ok := registry[name]
	return f, ok
}

// BuildRunInfo combines RunParams with its named driver's registered
// DriverConfig to produce a RunInfo ready for master.StartRun. benchStartTime
// is left zero; Master fills it in at start time.
func BuildRunInfo(runID string, p RunParams) (driver.RunInfo, error) {
	factory, ok := LookupDriver(p.DriverName)
	if !ok {
		return driver.RunInfo{}, fmt.Errorf("config: no driver registered under %q", p.DriverName)
	}

	dc := factory()

	dc.Mixes[0] = p.ForegroundMix.Build()
	if p.BackgroundMix != nil {
		dc.Mixes[1] = p.BackgroundMix.Build()
	}

	dc.RunControl = driver.TIME
	if p.RunControl == "cycles" {
		dc.RunControl = driver.CYCLES
	}
	dc.Cycles = p.Cycles

	return driver.RunInfo{
		RunID:       runID,
		DriverName:  p.DriverName,
		RampUp:      p.RampUp,
		SteadyState: p.SteadyState,
		RampDown:    p.RampDown,
		ThreadCount: p.ThreadCount,
		Driver:      dc,
	}, nil
}
