// Package driver holds the data model shared by worker, agent and master:
// RunInfo (the per-run configuration snapshot), Operation descriptors, and
// DriverContext, the per-thread handle exposed to user operation code.
//
// Grounded on the teacher's flat value-type message shapes in
// sibench/messages.go (ForemanGenericResponse, StatSummary) for Go style:
// small exported structs with no behavior beyond a couple of methods.
package driver

import (
	"sync"

	"github.com/aasssddd/faban/internal/cycle"
	"github.com/aasssddd/faban/internal/mix"
)

// Timing selects whether the transport layer (AUTO) or the user operation
// itself (MANUAL) is responsible for calling DriverContext.RecordTime.
type Timing int

const (
	AUTO Timing = iota
	MANUAL
)

func (t Timing) String() string {
	if t == AUTO {
		return "AUTO"
	}
	return "MANUAL"
}

// RunControl selects the AgentThread termination discipline: wall-clock
// based (TIME) or fixed cycle count (CYCLES), per spec.md §4.4.
type RunControl int

const (
	TIME RunControl = iota
	CYCLES
)

// Func is the opaque user operation callable. It receives the bound
// DriverContext for the invoking thread and reports an error; the error's
// concrete type (via errors.As) determines whether it is a fatal abort or
// an ordinary failed-operation count.
type Func func(ctx *Context) error

// Operation is one entry in a driver's operation table.
type Operation struct {
	Name       string
	Timing     Timing
	Cycle      cycle.Cycle
	Background bool
	Run        Func
}

// MixConfig bundles one mix's matrix with the delay distribution used
// before its very first invocation (spec.md §4.4 step 1-2).
type MixConfig struct {
	Matrix       []mix.Row
	InitialDelay cycle.Cycle
}

// DriverConfig is the per-driver-type configuration carried inside
// RunInfo: the operation table, one or two mixes, run control, and
// optional once-before/once-after hooks.
type DriverConfig struct {
	Operations  []Operation
	Mixes       [2]*MixConfig // Mixes[1] == nil means no background mix.
	RunControl  RunControl
	Cycles      int64 // used when RunControl == CYCLES
	PreRun      Func
	PostRun     Func
}

// RunInfo is the immutable per-run configuration snapshot broadcast by
// Master to every Agent (spec.md §3, §4.2 step 4).
type RunInfo struct {
	RunID          string
	DriverName     string // registry key the run was built from, e.g. "httpecho"
	BenchStartTime int64  // absolute master-clock ms
	RampUp         int64  // seconds
	SteadyState    int64  // seconds
	RampDown       int64  // seconds
	ThreadCount    int    // per-run submitted thread count; 0 means unset
	Driver         DriverConfig
}

// SteadyStateStart and SteadyStateEnd return the absolute master-clock ms
// bounds of the steady-state window, per spec.md §3's Metrics invariant.
func (r RunInfo) SteadyStateStart() int64 {
	return r.BenchStartTime + r.RampUp*1000
}

func (r RunInfo) SteadyStateEnd() int64 {
	return r.BenchStartTime + (r.RampUp+r.SteadyState)*1000
}

func (r RunInfo) RunEndTime() int64 {
	return r.BenchStartTime + (r.RampUp+r.SteadyState+r.RampDown)*1000
}

// TimingInfo is the per-invocation (invokeTime, respondTime, pauseTime)
// triple described in spec.md §3. -1 means unset.
type TimingInfo struct {
	InvokeTime  int64
	RespondTime int64
	PauseTime   int64
}

func newTimingInfo() TimingInfo {
	return TimingInfo{InvokeTime: -1, RespondTime: -1, PauseTime: -1}
}

// Unset reports whether both invoke and respond timestamps are unset.
func (t TimingInfo) Unset() bool {
	return t.InvokeTime == -1 && t.RespondTime == -1
}

// NowFunc returns the current master-adjusted time in milliseconds; bound
// by worker.Worker so Context needs no direct dependency on internal/timer.
type NowFunc func() int64

// SteadyStateFunc reports whether [start, end] lies entirely within the
// run's steady-state window; bound by worker.Worker per mix/variant.
type SteadyStateFunc func(start, end int64) bool

// Context is the per-thread DriverContext exposed to user operation code
// (spec.md §4.7). It is not safe for concurrent use; exactly one
// AgentThread goroutine owns one Context for its lifetime.
type Context struct {
	mu           sync.Mutex
	now          NowFunc
	inSteady     SteadyStateFunc
	operationID  int
	driverName   string
	timing       TimingInfo
	recordCalls  int
	cookieHandle interface{} // opaque; owned by a drivertransport.Transport
}

// NewContext constructs a Context bound to a thread's clock and
// steady-state predicate.
func NewContext(driverName string, now NowFunc, inSteady SteadyStateFunc) *Context {
	return &Context{
		driverName: driverName,
		now:        now,
		inSteady:   inSteady,
		timing:     newTimingInfo(),
	}
}

// ResetForOperation clears timing state before a new operation invocation,
// called by worker.Worker immediately before running Operation.Run.
func (c *Context) ResetForOperation(operationID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operationID = operationID
	c.timing = newTimingInfo()
	c.recordCalls = 0
}

// RecordTime stamps the current master-adjusted time into invokeTime on
// the first call within an operation and into respondTime on the second;
// further calls replace respondTime, allowing the transport to retry
// (spec.md §4.7).
func (c *Context) RecordTime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.recordCalls++
	switch {
	case c.recordCalls == 1:
		c.timing.InvokeTime = now
	default:
		c.timing.RespondTime = now
	}
}

// Timing returns a snapshot of the current operation's timing triple.
func (c *Context) Timing() TimingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timing
}

// IsSteadyState reports whether the context's current operation, as
// recorded so far, lies entirely within the run's steady-state window.
func (c *Context) IsSteadyState() bool {
	t := c.Timing()
	if t.InvokeTime == -1 || t.RespondTime == -1 {
		return false
	}
	return c.inSteady(t.InvokeTime, t.RespondTime)
}

// IsSteadyStateRange reports whether an arbitrary [start, end] pair lies
// within the run's steady-state window, for transports that track their
// own timestamps outside of RecordTime.
func (c *Context) IsSteadyStateRange(start, end int64) bool {
	return c.inSteady(start, end)
}

func (c *Context) OperationID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operationID
}

func (c *Context) DriverName() string {
	return c.driverName
}

// CookieHandler returns the opaque per-driver cookie store, set via
// SetCookieHandler by the HTTP transport the first time it serves this
// Context (spec.md §9: the cookie handler is constructed per driver instance,
// not inherited via a thread-local).
func (c *Context) CookieHandler() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookieHandle
}

func (c *Context) SetCookieHandler(h interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookieHandle = h
}
