// Package pipeline orchestrates ingestion: for each export file, a ledger
// check, a read, a catalog merge, a partitioned store write, then a ledger
// mark. There is no transaction spanning those steps; a failure after the
// store write leaves the ledger unmarked so the file is retried on the next
// run: at-least-once on failure, at-most-once on success.
package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/sensorlake/internal/catalog"
	"github.com/xtxerr/sensorlake/internal/errors"
	"github.com/xtxerr/sensorlake/internal/frame"
	"github.com/xtxerr/sensorlake/internal/ledger"
	"github.com/xtxerr/sensorlake/internal/logging"
	"github.com/xtxerr/sensorlake/internal/reader"
	"github.com/xtxerr/sensorlake/internal/writer"
)

// Status is the terminal state of one file's ingestion.
type Status int

const (
	// StatusIngested means the file was read, written, and marked.
	StatusIngested Status = iota

	// StatusSkipped means the ledger already held this file-version.
	StatusSkipped

	// StatusFailed means a step after the ledger check failed; the ledger
	// was not marked and the file will be retried on the next run.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIngested:
		return "ingested"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FileResult reports the outcome of one file.
type FileResult struct {
	Path          string
	Status        Status
	Rows          int
	Columns       int
	NewParameters int
	Err           error
}

// Options configures one ingestion run.
type Options struct {
	// Scope is the (plant, machine, data source) the files belong to.
	Scope frame.Scope

	// Encoding names the character encoding of the export files.
	Encoding string

	// Force re-ingests files the ledger already holds. The store write
	// appends alongside existing part files, so forced re-runs duplicate
	// rows for the affected partitions.
	Force bool

	// Workers bounds batch parallelism. Zero or one means sequential.
	Workers int
}

// BatchStats aggregates a batch's outcomes.
type BatchStats struct {
	Ingested int
	Skipped  int
	Failed   int
	Rows     int
}

// Summarize reduces per-file results to batch statistics.
func Summarize(results []FileResult) BatchStats {
	var s BatchStats
	for _, r := range results {
		switch r.Status {
		case StatusIngested:
			s.Ingested++
			s.Rows += r.Rows
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Pipeline wires the reader registry, catalog, ledger, and store writer.
type Pipeline struct {
	registry *reader.Registry
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	writer   *writer.Writer
}

// New creates a pipeline over the given collaborators.
func New(registry *reader.Registry, cat *catalog.Catalog, led *ledger.Ledger, w *writer.Writer) *Pipeline {
	return &Pipeline{registry: registry, catalog: cat, ledger: led, writer: w}
}

// IngestFile runs the per-file state machine and returns its terminal state.
// Failures are reported in the result, never panicked or swallowed.
func (p *Pipeline) IngestFile(ctx context.Context, path string, opts Options) FileResult {
	res := FileResult{Path: path}

	file, err := ledger.Stat(path)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	if !opts.Force {
		processed, err := p.ledger.IsProcessed(ctx, file, opts.Scope)
		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			return res
		}
		if processed {
			res.Status = StatusSkipped
			return res
		}
	}

	fr, metas, err := p.registry.ReadFile(path, opts.Scope.DataSource, opts.Encoding)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	newParams, err := p.catalog.Register(ctx, metas, opts.Scope)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.NewParameters = newParams

	wres, err := p.writer.Write(fr, opts.Scope.Plant, opts.Scope.Machine)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Rows = wres.Rows
	res.Columns = wres.Columns

	// A crash between the store write above and this mark re-ingests the
	// file next run, duplicating rows rather than losing them.
	if err := p.ledger.MarkProcessed(ctx, file, opts.Scope); err != nil {
		res.Status = StatusFailed
		res.Err = err
		return res
	}

	res.Status = StatusIngested
	return res
}

// IngestBatch processes a file list. Per-file failures are logged with the
// offending file identity and do not abort the remaining files. Files run
// in parallel up to opts.Workers; the catalog and ledger serialize their
// own writes.
func (p *Pipeline) IngestBatch(ctx context.Context, paths []string, opts Options) []FileResult {
	log := logging.Component("pipeline")

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]FileResult, len(paths))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		g.Go(func() error {
			res := p.IngestFile(gctx, path, opts)

			switch res.Status {
			case StatusFailed:
				// Malformed exports are a data problem, not a system one;
				// retrying them without fixing the file cannot succeed.
				if errors.IsReaderError(res.Err) || errors.IsSchemaError(res.Err) {
					log.Warn("file rejected", "file", path, "error", res.Err)
				} else {
					log.Error("ingestion failed", "file", path, "error", res.Err)
				}
			case StatusSkipped:
				log.Debug("already processed", "file", path)
			default:
				log.Info("ingested", "file", path, "rows", res.Rows, "new_parameters", res.NewParameters)
			}

			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	stats := Summarize(results)
	log.Info("batch finished",
		"files", len(paths), "ingested", stats.Ingested,
		"skipped", stats.Skipped, "failed", stats.Failed, "rows", stats.Rows)

	return results
}
