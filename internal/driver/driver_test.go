package driver

import "testing"

func TestRecordTimeFirstCallSetsInvoke(t *testing.T) {
	clock := int64(1000)
	ctx := NewContext("d", func() int64 { return clock }, func(s, e int64) bool { return true })
	ctx.ResetForOperation(3)

	ctx.RecordTime()
	got := ctx.Timing()
	if got.InvokeTime != 1000 {
		t.Fatalf("expected invokeTime 1000, got %v", got.InvokeTime)
	}
	if got.RespondTime != -1 {
		t.Fatalf("expected respondTime unset, got %v", got.RespondTime)
	}
}

func TestRecordTimeSecondCallSetsRespond(t *testing.T) {
	clock := int64(1000)
	ctx := NewContext("d", func() int64 { return clock }, func(s, e int64) bool { return true })
	ctx.ResetForOperation(0)

	ctx.RecordTime()
	clock = 1200
	ctx.RecordTime()

	got := ctx.Timing()
	if got.InvokeTime != 1000 || got.RespondTime != 1200 {
		t.Fatalf("unexpected timing: %+v", got)
	}
}

func TestRecordTimeThirdCallReplacesRespond(t *testing.T) {
	clock := int64(0)
	ctx := NewContext("d", func() int64 { return clock }, func(s, e int64) bool { return true })
	ctx.ResetForOperation(0)

	ctx.RecordTime() // invoke = 0
	clock = 100
	ctx.RecordTime() // respond = 100 (first attempt)
	clock = 300
	ctx.RecordTime() // respond = 300 (retry)

	got := ctx.Timing()
	if got.InvokeTime != 0 {
		t.Fatalf("expected invokeTime unchanged at 0, got %v", got.InvokeTime)
	}
	if got.RespondTime != 300 {
		t.Fatalf("expected respondTime 300 after retry, got %v", got.RespondTime)
	}
}

func TestIsSteadyStateRequiresBothTimestamps(t *testing.T) {
	ctx := NewContext("d", func() int64 { return 0 }, func(s, e int64) bool { return true })
	ctx.ResetForOperation(0)

	if ctx.IsSteadyState() {
		t.Fatalf("expected false before any RecordTime call")
	}
}

func TestSteadyStateStartAndEnd(t *testing.T) {
	r := RunInfo{BenchStartTime: 10000, RampUp: 5, SteadyState: 10, RampDown: 5}
	if got := r.SteadyStateStart(); got != 15000 {
		t.Fatalf("expected 15000, got %v", got)
	}
	if got := r.SteadyStateEnd(); got != 25000 {
		t.Fatalf("expected 25000, got %v", got)
	}
	if got := r.RunEndTime(); got != 30000 {
		t.Fatalf("expected 30000, got %v", got)
	}
}
