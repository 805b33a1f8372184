// Package metrics records operational metrics from a merge run behind a
// small, pluggable Backend. The default backend is a no-op, so callers can
// record unconditionally; concrete systems live in subpackages (prompush,
// datadog).
//
// Emitted series:
//
//	treemerge_step_total{step,status}             counter
//	treemerge_step_duration_seconds{step,status}  histogram/summary
//	treemerge_records_total{kind}                 counter
//	treemerge_batches_total                       counter
//	treemerge_partitions_total{outcome}           counter
//
// Every series also carries the job, as a label or as the backend's
// grouping key. Steps are load_tables, merge_partition, load and flatten;
// status is "success" or "failure". Record kinds are events, candidates,
// simulated, generated, matches and flat. Partition outcomes are merged,
// failed and skipped.
//
// The backend is process-global and is set once at startup, before any
// recording; SetBackend is not synchronized with the Record functions.
package metrics

import "time"

// Metric names emitted by this package.
const (
	StepTotal           = "treemerge_step_total"
	StepDurationSeconds = "treemerge_step_duration_seconds"
	// RecordsTotal counts merged or flattened records by kind.
	RecordsTotal = "treemerge_records_total"
	// BatchesTotal counts batches flushed by the output sinks.
	BatchesTotal    = "treemerge_batches_total"
	PartitionsTotal = "treemerge_partitions_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// DefaultJob labels metrics recorded without a job name.
const DefaultJob = "treemerge"

// jobLabel substitutes DefaultJob for an empty job.
func jobLabel(job string) string {
	if job == "" {
		return DefaultJob
	}
	return job
}

// nopBackend discards everything.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of step and observes its duration, labeled
// by success or failure.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    jobLabel(job),
		"step":   step,
		"status": status,
	}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments the record counter for kind. Kinds used by the merge
// driver are "events", "candidates", "simulated", "generated" and "matches".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  jobLabel(job),
		"kind": kind,
	})
}

// RecordBatches increments the sink batch counter.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{
		"job": jobLabel(job),
	})
}

// RecordPartition counts a partition by outcome: "merged", "skipped" or
// "failed".
func RecordPartition(job, outcome string) {
	backend.IncCounter(PartitionsTotal, 1, Labels{
		"job":     jobLabel(job),
		"outcome": outcome,
	})
}
