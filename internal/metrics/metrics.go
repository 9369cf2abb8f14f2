// Package metrics implements per-thread counters and latency histograms,
// and their commutative aggregation across threads, per spec.md §3 and
// §5.5 ("Metrics are additive over thread partitions").
//
// Grounded on the teacher's StatSummary/Stat split in sibench/messages.go
// and sibench/stats.go (a small fixed-size summary array plus detailed
// per-operation records), adapted from per-phase/per-error buckets to
// per-operation buckets as spec.md §3 requires.
package metrics

import "math"

// HistogramBucketCount is the number of latency histogram buckets per
// operation. Buckets are log-spaced from 1ms to MaxLatencyMillis; bucketFor
// computes a latency's bucket index on each call.
const HistogramBucketCount = 32

// MaxLatencyMillis bounds the histogram's top bucket; latencies beyond it
// fall into the overflow (last) bucket.
const MaxLatencyMillis = 60_000

// OpStats holds the counters for a single operation on a single thread.
type OpStats struct {
	SuccessCount uint64
	FailureCount uint64
	LatencySum   float64 // milliseconds
	LatencySqSum float64 // milliseconds^2, for variance/stddev
	Histogram    [HistogramBucketCount]uint64
	Min          float64
	Max          float64
}

// Metrics is the per-thread metrics container described in spec.md §3: an
// array indexed by operation id. It is owned by exactly one thread until
// that thread reaches ENDED (spec.md §5.5); no internal locking is done.
type Metrics struct {
	ops []OpStats
}

// New allocates a Metrics with room for opCount operations.
func New(opCount int) *Metrics {
	m := &Metrics{ops: make([]OpStats, opCount)}
	for i := range m.ops {
		m.ops[i].Min = math.MaxFloat64
		m.ops[i].Max = 0
	}
	return m
}

// RecordSuccess counts a successful invocation of opIdx with the given
// latency in milliseconds. Callers (worker.Worker) are responsible for
// only calling this when the invocation lies entirely within the steady
// state window, per spec.md §3's Metrics invariant.
func (m *Metrics) RecordSuccess(opIdx int, latencyMillis float64) {
	o := &m.ops[opIdx]
	o.SuccessCount++
	o.LatencySum += latencyMillis
	o.LatencySqSum += latencyMillis * latencyMillis
	if latencyMillis < o.Min {
		o.Min = latencyMillis
	}
	if latencyMillis > o.Max {
		o.Max = latencyMillis
	}
	o.Histogram[bucketFor(latencyMillis)]++
}

// RecordFailure counts a failed invocation of opIdx, counted only if the
// caller determined it lies in steady state (spec.md §4.4 step 6).
func (m *Metrics) RecordFailure(opIdx int) {
	m.ops[opIdx].FailureCount++
}

// Snapshot returns a defensive copy of the per-operation stats, suitable
// for sending across the wire (internal/rpc) after the owning thread has
// reached ENDED.
func (m *Metrics) Snapshot() []OpStats {
	out := make([]OpStats, len(m.ops))
	copy(out, m.ops)
	return out
}

// Aggregate sums a set of per-thread snapshots into one combined result.
// Per spec.md §5.5, this is commutative and associative: order does not
// matter, and the operation-count shape must match across inputs.
func Aggregate(snapshots [][]OpStats) []OpStats {
	if len(snapshots) == 0 {
		return nil
	}
	out := make([]OpStats, len(snapshots[0]))
	for i := range out {
		out[i].Min = math.MaxFloat64
	}

	for _, snap := range snapshots {
		for i, o := range snap {
			dst := &out[i]
			dst.SuccessCount += o.SuccessCount
			dst.FailureCount += o.FailureCount
			dst.LatencySum += o.LatencySum
			dst.LatencySqSum += o.LatencySqSum
			if o.Min < dst.Min {
				dst.Min = o.Min
			}
			if o.Max > dst.Max {
				dst.Max = o.Max
			}
			for b := range dst.Histogram {
				dst.Histogram[b] += o.Histogram[b]
			}
		}
	}

	for i := range out {
		if out[i].SuccessCount == 0 && out[i].FailureCount == 0 {
			out[i].Min = 0
		}
	}

	return out
}

// Mean returns the mean latency in milliseconds for a successful-count
// bearing OpStats, or 0 if there were no successes.
func (o OpStats) Mean() float64 {
	if o.SuccessCount == 0 {
		return 0
	}
	return o.LatencySum / float64(o.SuccessCount)
}

// StdDev returns the population standard deviation of latency in
// milliseconds, or 0 with fewer than two successes.
func (o OpStats) StdDev() float64 {
	n := float64(o.SuccessCount)
	if n < 2 {
		return 0
	}
	mean := o.Mean()
	variance := (o.LatencySqSum/n - mean*mean)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func bucketFor(latencyMillis float64) int {
	if latencyMillis <= 1 {
		return 0
	}
	if latencyMillis >= MaxLatencyMillis {
		return HistogramBucketCount - 1
	}
	// Log-spaced buckets across [1, MaxLatencyMillis].
	logMax := math.Log(float64(MaxLatencyMillis))
	logVal := math.Log(latencyMillis)
	idx := int((logVal / logMax) * float64(HistogramBucketCount-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= HistogramBucketCount {
		idx = HistogramBucketCount - 1
	}
	return idx
}
