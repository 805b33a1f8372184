// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. A merge run is a batch job with no scrape endpoint, so
// collected metrics are pushed once at the end of the run.
//
// Metric families are registered on a private registry, never the global
// one, so several backends (tests, repeated runs in one process) do not
// collide. Push replaces the whole job group on the gateway; a rerun of the
// same job overwrites the previous run's numbers.
package prompush

import (
	"fmt"

	"treemerge/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	// One collector per metrics name; nil collectors drop samples.
	stepCounter      *prometheus.CounterVec
	stepDuration     *prometheus.SummaryVec
	recordCounter    *prometheus.CounterVec
	batchCounter     prometheus.Counter
	partitionCounter *prometheus.CounterVec
}

// NewBackend constructs a backend pushing to gatewayURL under the
// Pushgateway job jobName (default "treemerge").
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "treemerge"
	}

	reg := prometheus.NewRegistry()

	// job is the Pushgateway grouping key, not a label.
	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Merge step executions by step and status.",
		},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Merge step duration in seconds by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"step", "status"},
	)

	recordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Merged records by kind (events, candidates, simulated, generated, matches).",
		},
		[]string{"kind"},
	)

	batchCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Output batches flushed by sinks.",
		},
	)
	partitionCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.PartitionsTotal,
			Help: "Partitions processed by outcome.",
		},
		[]string{"outcome"},
	)

	if err := reg.Register(stepCounter); err != nil {
		return nil, fmt.Errorf("prompush: register step counter: %w", err)
	}
	if err := reg.Register(stepDuration); err != nil {
		return nil, fmt.Errorf("prompush: register step summary: %w", err)
	}
	if err := reg.Register(recordCounter); err != nil {
		return nil, fmt.Errorf("prompush: register record counter: %w", err)
	}
	if err := reg.Register(batchCounter); err != nil {
		return nil, fmt.Errorf("prompush: register batch counter: %w", err)
	}
	if err := reg.Register(partitionCounter); err != nil {
		return nil, fmt.Errorf("prompush: register partition counter: %w", err)
	}

	return &Backend{
		gatewayURL:       gatewayURL,
		jobName:          jobName,
		reg:              reg,
		stepCounter:      stepCounter,
		stepDuration:     stepDuration,
		recordCounter:    recordCounter,
		batchCounter:     batchCounter,
		partitionCounter: partitionCounter,
	}, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter == nil {
			return
		}
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)

	case metrics.RecordsTotal:
		if b.recordCounter == nil {
			return
		}
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)

	case metrics.BatchesTotal:
		if b.batchCounter == nil {
			return
		}
		b.batchCounter.Add(delta)

	case metrics.PartitionsTotal:
		if b.partitionCounter == nil {
			return
		}
		b.partitionCounter.WithLabelValues(labels["outcome"]).Add(delta)
	}
}

// ObserveHistogram records step durations into the summary.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
