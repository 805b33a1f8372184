// Command treemerge merges the partitioned derived-data tables of a source
// into one event-ordered output: an Arrow IPC file or a relational database.
//
// Usage:
//
//	treemerge -config pipeline.yaml [-v]
//	treemerge -config pipeline.yaml -validate
//	treemerge -config pipeline.yaml -print-config
//
// The pipeline file selects the source, the table layout, the match rules and
// the output; see internal/config. -validate reports configuration issues
// without touching the source. -print-config opens the source and prints
// the field layout discovered on the first selected partition.
//
// Metrics are off unless -metrics-backend (or METRICS_BACKEND) selects
// pushgateway or datadog; they are flushed once on exit, also after a
// failed run. SIGINT and SIGTERM cancel the run between events; the output
// is closed with what was written so far.
//
// Exit status is 0 on success and 1 on any configuration or run error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"treemerge/internal/config"
	"treemerge/internal/merge"
	"treemerge/internal/metrics/setup"
)

// main loads the pipeline config, optionally initializes a metrics backend,
// and runs the merge.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
		validate          bool
		printConfig       bool
	)

	flag.StringVar(&cfgPath, "config", "treemerge.yaml", "pipeline config path (JSON or YAML)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (overrides env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (overrides env DD_DOGSTATSD_ADDR)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&printConfig, "print-config", false, "print the discovered field layout and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	config.ApplyDefaults(&p)

	if config.HasErrors(report(config.ValidatePipeline(p))) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if printConfig {
		cfg, err := discover(ctx, p)
		if err != nil {
			fatalf("%v", err)
		}
		if err := cfg.Print(os.Stdout); err != nil {
			fatalf("print: %v", err)
		}
		return
	}

	flush := setup.Install(setup.Options{
		Backend:        metricsBackendFlg,
		PushgatewayURL: pushGatewayURLFlg,
		DatadogAddr:    datadogAddrFlg,
		Job:            p.Job,
	})
	defer flush()

	start := time.Now()
	if *verbose {
		log.Printf("pipeline: job=%s source=%s:%s output=%s", p.Job, p.Source.Kind, p.Source.Path, p.Output.Kind)
	}

	st, err := run(ctx, p)
	if err != nil {
		var re *merge.RunError
		if errors.As(err, &re) {
			log.Printf("run failed: kind=%s partition=%q", re.Kind, re.Partition)
		}
		flush()
		log.Fatalf("%v", err)
	}

	log.Printf("done: partitions=%d events=%s candidates=%s matches=%s truncated=%t",
		st.Partitions, humanize.Comma(st.Events), humanize.Comma(st.Candidates), humanize.Comma(st.Matches), st.Truncated)
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// report prints issues to stderr and returns them.
func report(issues []config.Issue) []config.Issue {
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	return issues
}

// fatalf prints to stderr and exits 1 without flushing metrics.
func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
