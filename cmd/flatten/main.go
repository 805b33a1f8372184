// Command flatten turns one branch of a merged Arrow file into a plain table
// with one row per record, written to Parquet, Arrow IPC or a database table.
//
// Usage:
//
//	flatten -input merged.arrow -output cands.parquet -preserve KF_fPt,KF_fM
//	flatten -input merged.arrow -branch Simulated -storage postgres -dsn ... -table sim -auto-create
//	flatten -input merged.arrow -output sel.arrow -cut KF_fPt=2:4 -cut KF_fM=2.2:2.4
//
// Cuts are applied before -preserve narrows the columns, so a cut may use a
// field that is not written. Invalid flags exit with status 2, run errors
// with status 1.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"treemerge/internal/flatten"
	"treemerge/internal/merge"
	"treemerge/internal/metrics/setup"
)

// cutFlags collects repeated -cut values.
type cutFlags []flatten.Cut

// String implements flag.Value.
func (c *cutFlags) String() string {
	parts := make([]string, len(*c))
	for i, cut := range *c {
		parts[i] = cut.String()
	}
	return strings.Join(parts, " ")
}

// Set parses one -cut value and appends it.
func (c *cutFlags) Set(s string) error {
	cut, err := flatten.ParseCut(s)
	if err != nil {
		return err
	}
	*c = append(*c, cut)
	return nil
}

func main() {
	var (
		a                 args
		cuts              cutFlags
		preserve          string
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
	)

	flag.StringVar(&a.input, "input", "", "merged Arrow IPC file")
	flag.StringVar(&a.opts.Branch, "branch", merge.BranchCandidates, "branch to flatten")
	flag.StringVar(&preserve, "preserve", "", "comma-separated fields to keep (default all)")
	flag.Var(&cuts, "cut", "range cut field=lo:hi[,lo:hi...]; repeatable, all must pass")
	flag.BoolVar(&a.opts.PrependBranch, "prepend-branch", false, "name columns <branch>_<field>")
	flag.StringVar(&a.output, "output", "", "output file (.parquet, .arrow)")
	flag.StringVar(&a.format, "format", "", "output file format: parquet or arrow (default from -output extension)")
	flag.StringVar(&a.storageKind, "storage", "", "write to a database of this kind instead of a file (postgres, mssql, mysql, sqlite, duckdb)")
	flag.StringVar(&a.dsn, "dsn", "", "database connection string")
	flag.StringVar(&a.table, "table", "", "destination table")
	flag.BoolVar(&a.autoCreate, "auto-create", false, "create the destination table")
	flag.IntVar(&a.batchSize, "batch-size", 0, "rows per batch (default depends on the writer)")
	flag.BoolVar(&a.sentinelNulls, "sentinel-nulls", false, "write -999 instead of nulls")
	flag.StringVar(&a.opts.Job, "job", "flatten", "job name for logs and metrics")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (overrides env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (overrides env DD_DOGSTATSD_ADDR)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if preserve != "" {
		for _, f := range strings.Split(preserve, ",") {
			if f = strings.TrimSpace(f); f != "" {
				a.opts.Preserve = append(a.opts.Preserve, f)
			}
		}
	}
	a.opts.Cuts = cuts
	if err := a.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "flatten: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	flush := setup.Install(setup.Options{
		Backend:        metricsBackendFlg,
		PushgatewayURL: pushGatewayURLFlg,
		DatadogAddr:    datadogAddrFlg,
		Job:            a.opts.Job,
	})
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	st, err := run(ctx, a)
	if err != nil {
		flush()
		log.Fatalf("%v", err)
	}
	log.Printf("done: events=%s records=%s rows=%s", humanize.Comma(st.Events), humanize.Comma(st.Records), humanize.Comma(st.Rows))
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}
