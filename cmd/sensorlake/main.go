// sensorlake ingests industrial sensor export files into a partitioned
// parquet store and queries the result.
//
// Usage:
//
//	sensorlake ingest -targets data -plant plant1 -machine machine1 -out dataset -db history.db
//	sensorlake query -root dataset -start 2023-01-01 -end 2023-02-01 -plant plant1
//	sensorlake sql "SELECT COUNT(*) FROM read_parquet('dataset/**/*.parquet')"
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xtxerr/sensorlake/internal/catalog"
	"github.com/xtxerr/sensorlake/internal/config"
	"github.com/xtxerr/sensorlake/internal/discover"
	"github.com/xtxerr/sensorlake/internal/errors"
	"github.com/xtxerr/sensorlake/internal/frame"
	"github.com/xtxerr/sensorlake/internal/ledger"
	"github.com/xtxerr/sensorlake/internal/logging"
	"github.com/xtxerr/sensorlake/internal/metastore"
	"github.com/xtxerr/sensorlake/internal/partition"
	"github.com/xtxerr/sensorlake/internal/pipeline"
	"github.com/xtxerr/sensorlake/internal/query"
	"github.com/xtxerr/sensorlake/internal/reader"
	"github.com/xtxerr/sensorlake/internal/writer"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "sql":
		runSQL(os.Args[2:])
	case "version":
		fmt.Println("sensorlake", Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  sensorlake ingest [flags]   ingest export files into the store
  sensorlake query  [flags]   query the partitioned store
  sensorlake sql    <query>   run ad-hoc SQL against the store
  sensorlake version          print version`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "sensorlake: "+format+"\n", args...)
	os.Exit(1)
}

func initLogging(cfg *config.Config) {
	level, err := cfg.LogLevel()
	if err != nil {
		fatal("%v", err)
	}
	logging.Init(level, cfg.Log.JSON)
}

// loadConfig loads the config file when present and applies defaults
// otherwise, matching the daemon convention of running without a file.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.DefaultConfig()
		}
		fatal("load config: %v", err)
	}
	return cfg
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "config file path")
	targets := fs.String("targets", "", "comma-separated files/directories to scan (overrides config)")
	patterns := fs.String("patterns", "", "comma-separated file name patterns (overrides config)")
	out := fs.String("out", "", "dataset root (overrides config)")
	scheme := fs.String("scheme", "", "partitioning scheme: directory or hive (overrides config)")
	dbPath := fs.String("db", "", "catalog/ledger database path (overrides config)")
	plant := fs.String("plant", "", "plant name (overrides config)")
	machine := fs.String("machine", "", "machine number (overrides config)")
	source := fs.String("source", "", "data source key, e.g. pi (overrides config)")
	encoding := fs.String("encoding", "", "export character encoding (overrides config)")
	force := fs.Bool("force", false, "re-ingest files the ledger already holds")
	workers := fs.Int("workers", 0, "batch parallelism (overrides config)")
	fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	if *targets != "" {
		cfg.Targets = splitList(*targets)
	}
	if *patterns != "" {
		cfg.Patterns = splitList(*patterns)
	}
	if *out != "" {
		cfg.DatasetRoot = *out
	}
	if *scheme != "" {
		cfg.Scheme = *scheme
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *plant != "" {
		cfg.Plant = *plant
	}
	if *machine != "" {
		cfg.Machine = *machine
	}
	if *source != "" {
		cfg.DataSource = *source
	}
	if *encoding != "" {
		cfg.Encoding = *encoding
	}
	if *force {
		cfg.Force = true
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	initLogging(cfg)

	if err := cfg.Validate(); err != nil {
		fatal("%v", err)
	}
	if len(cfg.Targets) == 0 {
		fatal("no targets given (use -targets or config)")
	}

	schemeVal, err := partition.ParseScheme(cfg.Scheme)
	if err != nil {
		fatal("%v", err)
	}

	files, err := discover.Find(cfg.Targets, cfg.Patterns)
	if err != nil {
		fatal("discover targets: %v", err)
	}
	if len(files) == 0 {
		fatal("no export files matched under %v", cfg.Targets)
	}

	store, err := metastore.Open(cfg.DBPath)
	if err != nil {
		fatal("open metastore: %v", err)
	}
	defer store.Close()

	w := writer.New(cfg.DatasetRoot, schemeVal, writer.Options{
		Compression: writer.ParseCompressionType(cfg.Compression),
	})
	p := pipeline.New(reader.NewRegistry(), catalog.New(store), ledger.New(store), w)

	results := p.IngestBatch(context.Background(), files, pipeline.Options{
		Scope: frame.Scope{
			Plant:      cfg.Plant,
			Machine:    cfg.Machine,
			DataSource: cfg.DataSource,
		},
		Encoding: cfg.Encoding,
		Force:    cfg.Force,
		Workers:  cfg.Workers,
	})

	stats := pipeline.Summarize(results)
	fmt.Printf("ingested %d, skipped %d, failed %d (%d rows)\n",
		stats.Ingested, stats.Skipped, stats.Failed, stats.Rows)

	if stats.Failed > 0 {
		os.Exit(1)
	}
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	root := fs.String("root", "dataset", "dataset root")
	scheme := fs.String("scheme", "directory", "partitioning scheme: directory or hive")
	start := fs.String("start", "", "range start, ISO-8601 (required)")
	end := fs.String("end", "", "range end, ISO-8601, inclusive (required)")
	plant := fs.String("plant", "", "plant filter")
	machine := fs.String("machine", "", "machine filter")
	columns := fs.String("columns", "", "comma-separated column projection")
	summary := fs.Bool("summary", false, "print per-channel statistics instead of rows")
	logLevel := fs.String("log-level", "warn", "log level")
	fs.Parse(args)

	cfg := config.DefaultConfig()
	cfg.Log.Level = *logLevel
	initLogging(cfg)

	if *start == "" || *end == "" {
		fatal("-start and -end are required")
	}
	startTime, err := query.ParseTime(*start)
	if err != nil {
		fatal("%v", err)
	}
	endTime, err := query.ParseTime(*end)
	if err != nil {
		fatal("%v", err)
	}
	schemeVal, err := partition.ParseScheme(*scheme)
	if err != nil {
		fatal("%v", err)
	}

	svc, err := query.New()
	if err != nil {
		fatal("open query service: %v", err)
	}
	defer svc.Close()

	params := query.Params{
		Root:    *root,
		Scheme:  schemeVal,
		Start:   startTime,
		End:     endTime,
		Plant:   *plant,
		Machine: *machine,
		Columns: splitList(*columns),
	}

	ctx := context.Background()

	if *summary {
		sums, err := svc.Summarize(ctx, params)
		if err != nil {
			fatal("summarize: %v", err)
		}
		printSummaries(sums)
		return
	}

	table, err := svc.Query(ctx, params)
	if err != nil {
		if errors.IsValidation(err) {
			fatal("invalid query parameters: %v", err)
		}
		fatal("query: %v", err)
	}
	if err := printTable(table); err != nil {
		fatal("write output: %v", err)
	}

	st := svc.Stats()
	logging.Component("cli").Debug("query finished",
		"queries", st.QueriesExecuted, "rows", st.RowsReturned, "errors", st.Errors)
}

// runSQL executes one raw DuckDB statement and prints the result as CSV.
// The store's parquet files are reachable through read_parquet.
func runSQL(args []string) {
	fs := flag.NewFlagSet("sql", flag.ExitOnError)
	logLevel := fs.String("log-level", "warn", "log level")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fatal("usage: sensorlake sql [flags] <query>")
	}

	cfg := config.DefaultConfig()
	cfg.Log.Level = *logLevel
	initLogging(cfg)

	svc, err := query.New()
	if err != nil {
		fatal("open query service: %v", err)
	}
	defer svc.Close()

	rows, err := svc.ExecuteSQL(context.Background(), fs.Arg(0))
	if err != nil {
		fatal("sql: %v", err)
	}
	if err := printRows(rows); err != nil {
		fatal("write output: %v", err)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// printTable writes a query result as CSV to stdout.
func printTable(t *query.Table) error {
	w := csv.NewWriter(os.Stdout)
	if err := w.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			if v == nil {
				record[i] = ""
			} else {
				record[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// printRows writes map-shaped ad-hoc SQL results as CSV to stdout, columns
// in name order since the maps carry none.
func printRows(rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, 0, len(rows[0]))
	for name := range rows[0] {
		names = append(names, name)
	}
	sort.Strings(names)

	w := csv.NewWriter(os.Stdout)
	if err := w.Write(names); err != nil {
		return err
	}
	record := make([]string, len(names))
	for _, row := range rows {
		for i, name := range names {
			if v := row[name]; v == nil {
				record[i] = ""
			} else {
				record[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func printSummaries(sums map[string]query.ChannelSummary) {
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := sums[name]
		fmt.Printf("%s: count=%d min=%g max=%g avg=%g p50=%g p90=%g p95=%g p99=%g\n",
			name, s.Count, s.Min, s.Max, s.Avg, s.P50, s.P90, s.P95, s.P99)
	}
}
