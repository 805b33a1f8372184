// Package datadog implements a DogStatsD backend for the metrics package.
// Labels become "key:value" tags and underscore metric names are rewritten
// to Datadog's dotted form (treemerge_step_total -> treemerge.step.total).
package datadog

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"

	"treemerge/internal/metrics"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// Config holds Datadog backend configuration.
type Config struct {
	// Addr is the DogStatsD address, e.g. "127.0.0.1:8125" or "unix:///path/to/socket".
	Addr string
	// Namespace is an optional prefix added to all metric names.
	Namespace string
	// GlobalTags are applied to every metric, e.g. "env:prod".
	GlobalTags []string
}

// Backend is a Datadog implementation of metrics.Backend.
//
// Send errors never reach the caller: the metrics API is fire-and-forget.
// The first failure is logged, later ones are only counted, and Flush
// reports the total.
type Backend struct {
	client  statsd.ClientInterface
	dropped atomic.Int64
}

// NewBackend constructs a Datadog metrics backend. Addr is required.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}
	opts := []statsd.Option{}
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}
	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client: %w", err)
	}
	return &Backend{client: c}, nil
}

// IncCounter sends a Count. Fractional deltas are truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	b.sent(name, b.client.Count(metricName(name), int64(delta), labelsToTags(labels), 1))
}

// ObserveHistogram sends a Histogram sample.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	b.sent(name, b.client.Histogram(metricName(name), value, labelsToTags(labels), 1))
}

// Dropped returns the number of samples the client refused so far.
func (b *Backend) Dropped() int64 { return b.dropped.Load() }

func (b *Backend) sent(name string, err error) {
	if err == nil {
		return
	}
	if b.dropped.Add(1) == 1 {
		log.Printf("datadog: send failed metric=%s err=%v (further failures are counted)", name, err)
	}
}

// Flush closes the client, draining buffered metrics. Call it once at
// shutdown.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	if n := b.dropped.Load(); n > 0 {
		log.Printf("datadog: dropped=%d samples", n)
	}
	return b.client.Close()
}

func metricName(name string) string {
	return strings.ReplaceAll(name, "_", ".")
}

// labelsToTags converts labels into sorted "key:value" tags.
func labelsToTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		out = append(out, k+":"+v)
	}
	sort.Strings(out)
	return out
}
