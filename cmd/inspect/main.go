// Command inspect describes a partitioned source: its partitions, tables and
// columns, layout problems a merge would hit, and the discovered field
// layout. With -suggest it prints a starter pipeline config instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// main parses flags and prints the report to stdout. Errors go to stderr
// with exit status 1.
func main() {
	var (
		a          args
		partitions string
	)
	flag.StringVar(&a.configPath, "config", "", "pipeline config to take the source, layout and options from")
	flag.StringVar(&a.kind, "kind", "", "source kind: arrow, parquet or sqlite (overrides config)")
	flag.StringVar(&a.path, "path", "", "source path (overrides config)")
	flag.StringVar(&partitions, "partitions", "", "comma-separated partitions to describe (default all)")
	flag.IntVar(&a.limit, "limit", 0, "describe at most this many partitions")
	flag.BoolVar(&a.simulation, "simulation", false, "check simulation tables (implied by -config)")
	flag.BoolVar(&a.eventMetadata, "event-metadata", false, "check event metadata tables (implied by -config)")
	flag.BoolVar(&a.discover, "discover", true, "run field discovery on the first partition")
	flag.StringVar(&a.format, "format", "text", "report format: text, json or yaml")
	flag.BoolVar(&a.suggest, "suggest", false, "print a starter pipeline config (YAML) instead of the report")
	flag.Parse()

	if partitions != "" {
		a.partitions = strings.Split(partitions, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}
