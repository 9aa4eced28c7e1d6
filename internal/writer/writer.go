// Package writer commits measurement frames into the directory-partitioned
// parquet dataset. Before committing it normalizes the numeric schema:
// every channel is widened to float64 so that successive files cannot
// disagree on whether a channel is integral, which would otherwise raise a
// hard schema-mismatch when the dataset is read back as one table. The
// partition keys year/month are excluded from widening; they must remain
// directory-path-compatible discrete values.
package writer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/sensorlake/internal/errors"
	"github.com/xtxerr/sensorlake/internal/frame"
	"github.com/xtxerr/sensorlake/internal/logging"
	"github.com/xtxerr/sensorlake/internal/partition"
)

// Options configures the parquet part-file writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Result reports what one Write committed, for caller-level reporting.
type Result struct {
	Rows       int
	Columns    int
	Partitions int
}

// Writer commits frames under a dataset root with a declared partitioning
// scheme. Callers writing to the same partition concurrently must serialize
// themselves; writers targeting different partitions may run concurrently.
type Writer struct {
	root   string
	scheme partition.Scheme
	opts   Options
}

// New creates a writer for the dataset root.
func New(root string, scheme partition.Scheme, opts Options) *Writer {
	return &Writer{root: root, scheme: scheme, opts: opts}
}

// Write normalizes and commits a frame under the (plant, machine) scope.
// Rows land in the (plant, machine, year, month) partition derived from
// their timestamps. Part files are uuid-named and existing files are never
// replaced: re-ingesting the same data writes alongside, which is the
// documented duplicate-rows limitation of the overwrite-or-ignore policy.
//
// An empty frame succeeds trivially with zero rows and no directories.
func (w *Writer) Write(fr *frame.Frame, plant, machine string) (Result, error) {
	if fr == nil {
		return Result{}, errors.Schema("nil frame")
	}

	res := Result{Columns: fr.Width() + len(fixedColumns)}

	if len(fr.Timestamps) == 0 {
		for i := range fr.Columns {
			if len(fr.Columns[i].Values) > 0 {
				return Result{}, errors.Schema("timestamp column absent")
			}
		}
		return res, nil
	}

	fr.Normalize()

	schema := buildSchema(fr)

	// Group row indexes by partition key.
	groups := make(map[partition.Key][]int)
	for i, ts := range fr.Timestamps {
		k := partition.KeyFor(plant, machine, ts)
		groups[k] = append(groups[k], i)
	}

	log := logging.Component("writer")

	for key, idxs := range groups {
		if err := w.writePartition(schema, fr, plant, machine, key, idxs); err != nil {
			return Result{}, err
		}
		res.Rows += len(idxs)
		res.Partitions++
		log.Debug("partition committed",
			"plant", key.Plant, "machine", key.Machine,
			"year", key.Year, "month", key.Month, "rows", len(idxs))
	}

	return res, nil
}

// fixedColumns are the non-channel columns stamped onto every row.
var fixedColumns = []string{
	frame.TimestampColumn, "plant_name", "machine_no", "year", "month",
}

// buildSchema maps the frame onto a parquet schema. Channel columns follow
// their frame kind; after normalization that is always float64, but the
// mapping is honest so an un-normalized frame would round-trip its integer
// typing (and recreate the historical drift problem).
func buildSchema(fr *frame.Frame) *parquet.Schema {
	group := parquet.Group{
		frame.TimestampColumn: parquet.Timestamp(parquet.Millisecond),
		"plant_name":          parquet.String(),
		"machine_no":          parquet.String(),
		"year":                parquet.Int(16),
		"month":               parquet.Int(8),
	}
	for i := range fr.Columns {
		col := &fr.Columns[i]
		if col.Kind == frame.KindInt64 {
			group[col.Name] = parquet.Optional(parquet.Int(64))
		} else {
			group[col.Name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		}
	}
	return parquet.NewSchema("measurements", group)
}

// writePartition writes one uuid-named part file into the leaf directory
// for key.
func (w *Writer) writePartition(schema *parquet.Schema, fr *frame.Frame, plant, machine string, key partition.Key, idxs []int) error {
	dir := w.scheme.LeafDir(w.root, key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create partition directory: %w", err)
	}

	path := filepath.Join(dir, "part-"+uuid.NewString()+".parquet")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create part file: %w", err)
	}

	pw := parquet.NewGenericWriter[map[string]any](f, schema,
		parquet.Compression(getCompression(w.opts.Compression)))

	rows := make([]map[string]any, 0, len(idxs))
	for _, i := range idxs {
		row := map[string]any{
			frame.TimestampColumn: fr.Timestamps[i].UnixMilli(),
			"plant_name":          plant,
			"machine_no":          machine,
			"year":                int16(key.Year),
			"month":               int8(key.Month),
		}
		for c := range fr.Columns {
			col := &fr.Columns[c]
			if !col.Valid[i] {
				continue // null
			}
			if col.Kind == frame.KindInt64 {
				row[col.Name] = int64(col.Values[i])
			} else {
				row[col.Name] = col.Values[i]
			}
		}
		rows = append(rows, row)
	}

	if _, err := pw.Write(rows); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}
