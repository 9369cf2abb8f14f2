package metrics

import "testing"

func TestRecordSuccessUpdatesMinMaxAndSums(t *testing.T) {
	m := New(1)
	m.RecordSuccess(0, 10)
	m.RecordSuccess(0, 30)
	m.RecordSuccess(0, 20)

	snap := m.Snapshot()
	if snap[0].SuccessCount != 3 {
		t.Fatalf("expected 3 successes, got %d", snap[0].SuccessCount)
	}
	if snap[0].Min != 10 {
		t.Fatalf("expected min 10, got %v", snap[0].Min)
	}
	if snap[0].Max != 30 {
		t.Fatalf("expected max 30, got %v", snap[0].Max)
	}
	if snap[0].Mean() != 20 {
		t.Fatalf("expected mean 20, got %v", snap[0].Mean())
	}
}

func TestRecordFailureDoesNotAffectLatency(t *testing.T) {
	m := New(1)
	m.RecordFailure(0)
	m.RecordFailure(0)

	snap := m.Snapshot()
	if snap[0].FailureCount != 2 {
		t.Fatalf("expected 2 failures, got %d", snap[0].FailureCount)
	}
	if snap[0].SuccessCount != 0 {
		t.Fatalf("expected 0 successes, got %d", snap[0].SuccessCount)
	}
}

func TestAggregateIsAdditiveAcrossThreadPartitions(t *testing.T) {
	a := New(2)
	a.RecordSuccess(0, 10)
	a.RecordFailure(1)

	b := New(2)
	b.RecordSuccess(0, 30)
	b.RecordSuccess(1, 5)

	agg := Aggregate([][]OpStats{a.Snapshot(), b.Snapshot()})

	if agg[0].SuccessCount != 2 {
		t.Fatalf("op0: expected 2 successes, got %d", agg[0].SuccessCount)
	}
	if agg[0].LatencySum != 40 {
		t.Fatalf("op0: expected latency sum 40, got %v", agg[0].LatencySum)
	}
	if agg[1].FailureCount != 1 || agg[1].SuccessCount != 1 {
		t.Fatalf("op1: expected 1 failure + 1 success, got %+v", agg[1])
	}
}

func TestAggregateOrderIsCommutative(t *testing.T) {
	a := New(1)
	a.RecordSuccess(0, 7)
	b := New(1)
	b.RecordSuccess(0, 13)
	c := New(1)
	c.RecordSuccess(0, 19)

	forward := Aggregate([][]OpStats{a.Snapshot(), b.Snapshot(), c.Snapshot()})
	backward := Aggregate([][]OpStats{c.Snapshot(), a.Snapshot(), b.Snapshot()})

	if forward[0].SuccessCount != backward[0].SuccessCount {
		t.Fatalf("success count mismatch: %d vs %d", forward[0].SuccessCount, backward[0].SuccessCount)
	}
	if forward[0].LatencySum != backward[0].LatencySum {
		t.Fatalf("latency sum mismatch: %v vs %v", forward[0].LatencySum, backward[0].LatencySum)
	}
}

func TestEmptyOpStatsHaveZeroMean(t *testing.T) {
	m := New(1)
	snap := m.Snapshot()
	if snap[0].Mean() != 0 {
		t.Fatalf("expected zero mean for empty stats, got %v", snap[0].Mean())
	}
	if snap[0].StdDev() != 0 {
		t.Fatalf("expected zero stddev for empty stats, got %v", snap[0].StdDev())
	}
}
