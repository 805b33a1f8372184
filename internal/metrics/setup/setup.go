// Package setup picks and installs a metrics backend for the command-line
// tools. Each setting resolves flag -> env -> default.
package setup

import (
	"fmt"
	"log"
	"os"

	"treemerge/internal/metrics"
	"treemerge/internal/metrics/datadog"
	"treemerge/internal/metrics/prompush"
)

// Backend names.
const (
	None        = "none"
	Pushgateway = "pushgateway"
	Datadog     = "datadog"
)

// Defaults used when neither flag nor environment set a value.
const (
	DefaultPushgatewayURL = "http://localhost:9091"
	DefaultDatadogAddr    = "127.0.0.1:8125"
)

// Options are the raw flag values; empty fields fall back to the
// environment (METRICS_BACKEND, PUSHGATEWAY_URL, DD_DOGSTATSD_ADDR).
type Options struct {
	// Backend is None, Pushgateway or Datadog.
	Backend        string
	PushgatewayURL string
	// DatadogAddr is the DogStatsD host:port.
	DatadogAddr string
	// Job is the Pushgateway job and the Datadog namespace tag.
	Job string
}

// Resolve returns flag, else the environment variable env, else def.
func Resolve(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// New builds the backend o selects. It returns nil for "none".
func New(o Options) (metrics.Backend, error) {
	name := Resolve(o.Backend, "METRICS_BACKEND", None)
	job := o.Job
	if job == "" {
		job = "treemerge"
	}
	switch name {
	case None:
		return nil, nil
	case Pushgateway:
		url := Resolve(o.PushgatewayURL, "PUSHGATEWAY_URL", DefaultPushgatewayURL)
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", url, name, job)
		return b, nil
	case Datadog:
		addr := Resolve(o.DatadogAddr, "DD_DOGSTATSD_ADDR", DefaultDatadogAddr)
		b, err := datadog.NewBackend(datadog.Config{Addr: addr, GlobalTags: []string{"job:" + job}})
		if err != nil {
			return nil, err
		}
		log.Printf("metrics: addr=%v, backend=%v, job_name=%v", addr, name, job)
		return b, nil
	default:
		return nil, fmt.Errorf("metrics: unknown backend %q", name)
	}
}

// Install sets the backend o selects and returns a func that flushes it.
// A backend that fails to build is logged and metrics stay disabled.
func Install(o Options) (flush func()) {
	b, err := New(o)
	if err != nil {
		log.Printf("metrics: %v; using nop", err)
		return func() {}
	}
	if b == nil {
		return func() {}
	}
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}
