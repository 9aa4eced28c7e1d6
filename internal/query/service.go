// Package query reconstructs logical datasets from the partitioned store.
// It prunes partition directories before opening any file, pushes the
// remaining predicates into DuckDB, reconciles schema drift the same way
// the writer does (integers widen to float64), and returns one materialized
// table.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/sensorlake/internal/errors"
	"github.com/xtxerr/sensorlake/internal/frame"
	"github.com/xtxerr/sensorlake/internal/logging"
	"github.com/xtxerr/sensorlake/internal/partition"
)

// Params defines one range query.
type Params struct {
	// Root is the dataset root directory.
	Root string

	// Scheme declares how the dataset is partitioned. It must match how the
	// dataset was written; a mismatch fails with a scheme-mismatch error.
	Scheme partition.Scheme

	// Start and End bound the timestamp column, inclusive on both ends.
	Start time.Time
	End   time.Time

	// Plant and Machine are optional equality filters.
	Plant   string
	Machine string

	// Columns is an optional explicit projection. Columns not present in
	// the dataset are dropped with a warning; the timestamp column is
	// always included.
	Columns []string
}

// Table is one materialized query result. Row order carries no guarantee
// beyond partition and file iteration order; callers needing sorted output
// must sort explicitly.
type Table struct {
	Columns []string
	Rows    [][]any

	// Dropped lists requested projection columns that were not present in
	// the dataset. Non-fatal.
	Dropped []string
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the index of a named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Service provides query capabilities over the partitioned store.
// It uses an in-memory DuckDB instance to read parquet part files.
type Service struct {
	mu sync.RWMutex

	db    *sql.DB
	stats Stats
}

// New creates a new query service.
func New() (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Service{db: db}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Query runs one range query and materializes the result.
func (s *Service) Query(ctx context.Context, p Params) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.query(ctx, p)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(table.Len())
	return table, nil
}

func (s *Service) query(ctx context.Context, p Params) (*Table, error) {
	if p.Start.IsZero() || p.End.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", errors.ErrInvalidTimeRange)
	}
	if p.Start.After(p.End) {
		return nil, fmt.Errorf("%w: start %v after end %v", errors.ErrInvalidTimeRange, p.Start, p.End)
	}

	// Partition pruning: the year/month portion of the predicate is applied
	// to directory names before any file is opened.
	leaves, err := partition.Prune(p.Root, p.Scheme, partition.Filter{
		Plant:   p.Plant,
		Machine: p.Machine,
		Start:   p.Start,
		End:     p.End,
	})
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return &Table{}, nil
	}

	var files []string
	for _, leaf := range leaves {
		files = append(files, leaf.Files...)
	}
	source := readParquetExpr(files)

	actual, err := s.describeColumns(ctx, source)
	if err != nil {
		return nil, err
	}
	if _, ok := actual[frame.TimestampColumn]; !ok {
		return nil, errors.Schema("dataset has no %s column", frame.TimestampColumn)
	}

	selected, dropped := project(actual, p.Columns)
	for _, name := range dropped {
		logging.Component("query").Warn("requested column not found in dataset", "column", name)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, col := range selected {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(col))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(source)
	sb.WriteString(" WHERE ")
	sb.WriteString(quoteIdent(frame.TimestampColumn))
	sb.WriteString(" >= ? AND ")
	sb.WriteString(quoteIdent(frame.TimestampColumn))
	sb.WriteString(" <= ?")

	args := []interface{}{p.Start, p.End}
	if p.Plant != "" {
		sb.WriteString(` AND "plant_name" = ?`)
		args = append(args, p.Plant)
	}
	if p.Machine != "" {
		sb.WriteString(` AND "machine_no" = ?`)
		args = append(args, p.Machine)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query parquet: %w", err)
	}
	defer rows.Close()

	table := &Table{Columns: selected, Dropped: dropped}

	values := make([]any, len(selected))
	ptrs := make([]any, len(selected))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out := make([]any, len(selected))
		for i, col := range selected {
			out[i] = promote(col, values[i])
		}
		table.Rows = append(table.Rows, out)
	}
	return table, rows.Err()
}

// describeColumns discovers the dataset's actual column set.
func (s *Service) describeColumns(ctx context.Context, source string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return nil, fmt.Errorf("describe dataset: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	cols := make(map[string]bool)
	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if name, ok := values[0].(string); ok {
			cols[name] = true
		}
	}
	return cols, rows.Err()
}

// project resolves an explicit projection against the actual column set.
// The timestamp column is always included; missing columns are dropped.
// With no projection, every actual column is selected, timestamp first.
func project(actual map[string]bool, requested []string) (selected, dropped []string) {
	if len(requested) == 0 {
		selected = append(selected, frame.TimestampColumn)
		var rest []string
		for name := range actual {
			if name != frame.TimestampColumn {
				rest = append(rest, name)
			}
		}
		// Deterministic order for callers and tests.
		sort.Strings(rest)
		return append(selected, rest...), nil
	}

	selected = append(selected, frame.TimestampColumn)
	seen := map[string]bool{frame.TimestampColumn: true}
	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true
		if actual[name] {
			selected = append(selected, name)
		} else {
			dropped = append(dropped, name)
		}
	}
	return selected, dropped
}

// promote widens integer values to float64, matching the writer's
// normalization, so that partitions which predate normalization cannot leak
// integer typing into results. Partition keys keep their discrete types.
func promote(col string, v any) any {
	if col == "year" || col == "month" {
		return v
	}
	switch n := v.(type) {
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return v
	}
}

// readParquetExpr builds the read_parquet source over the pruned file list.
// union_by_name lets files with drifted schemas combine into one relation.
func readParquetExpr(files []string) string {
	var sb strings.Builder
	sb.WriteString("read_parquet([")
	for i, f := range files {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("'")
		sb.WriteString(strings.ReplaceAll(f, "'", "''"))
		sb.WriteString("'")
	}
	sb.WriteString("], union_by_name=true)")
	return sb.String()
}

// quoteIdent quotes a column name for DuckDB.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))
	return results, rows.Err()
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// timeLayouts accepted by ParseTime, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 text timestamp as accepted by the query
// entry point.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", errors.ErrInvalidTimeRange, s)
}
