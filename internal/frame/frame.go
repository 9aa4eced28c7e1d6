// Package frame defines the shared data model for sensorlake: the columnar
// measurement batch produced by export readers and consumed by the partitioned
// store writer, plus the parameter metadata and scope types shared by the
// catalog and ledger.
package frame

import "time"

// TimestampColumn is the name of the mandatory timestamp column, both in
// measurement frames and in the on-disk parquet files. The "pi" export
// format forces its first header cell to this name.
const TimestampColumn = "Datetime"

// Kind is the inferred numeric type of a channel column.
type Kind int

const (
	// KindInt64 marks a column whose observed cells are all integral.
	KindInt64 Kind = iota

	// KindFloat64 marks a column with at least one fractional cell, or a
	// column that has been widened by schema normalization.
	KindFloat64
)

// Cell is one numeric observation. Invalid cells represent nulls.
type Cell struct {
	Value    float64
	Valid    bool
	Integral bool
}

// Null returns a null cell.
func Null() Cell {
	return Cell{}
}

// Int returns an integral cell.
func Int(v int64) Cell {
	return Cell{Value: float64(v), Valid: true, Integral: true}
}

// Float returns a fractional cell.
func Float(v float64) Cell {
	return Cell{Value: v, Valid: true}
}

// Column is one named channel of a measurement frame. Values are stored as
// float64 regardless of Kind; Kind records whether every valid cell observed
// so far was integral, which decides the physical type at write time unless
// the writer widens the column first.
type Column struct {
	Name   string
	Kind   Kind
	Values []float64
	Valid  []bool
}

// Frame is a columnar batch of timestamped measurements. One row is a
// timestamp plus one cell per channel. Frames are append-only during reading
// and are never mutated after ownership transfers to the writer, except for
// the writer's own normalization pass.
type Frame struct {
	Timestamps []time.Time
	Columns    []Column

	byName map[string]int
}

// New creates an empty frame with the given channel names, in order.
func New(channels []string) *Frame {
	f := &Frame{
		Columns: make([]Column, len(channels)),
		byName:  make(map[string]int, len(channels)),
	}
	for i, name := range channels {
		f.Columns[i] = Column{Name: name}
		f.byName[name] = i
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Timestamps)
}

// Width returns the number of channel columns, excluding the timestamp.
func (f *Frame) Width() int {
	return len(f.Columns)
}

// Column returns the named column, or nil if absent.
func (f *Frame) Column(name string) *Column {
	i, ok := f.byName[name]
	if !ok {
		return nil
	}
	return &f.Columns[i]
}

// AppendRow appends one row. cells must have exactly one entry per channel,
// in column order. A column's kind widens to float64 as soon as a valid
// non-integral cell is seen.
func (f *Frame) AppendRow(ts time.Time, cells []Cell) {
	f.Timestamps = append(f.Timestamps, ts)
	for i := range f.Columns {
		c := cells[i]
		col := &f.Columns[i]
		col.Values = append(col.Values, c.Value)
		col.Valid = append(col.Valid, c.Valid)
		if c.Valid && !c.Integral {
			col.Kind = KindFloat64
		}
	}
}

// Normalize widens every channel column to float64. The writer calls this
// before committing so that successive files cannot disagree on whether a
// channel is integral.
func (f *Frame) Normalize() {
	for i := range f.Columns {
		f.Columns[i].Kind = KindFloat64
	}
}

// ParameterMeta describes one sensor parameter as declared by an export
// file's header block.
type ParameterMeta struct {
	ID          string
	DisplayName string
	Unit        string
}

// Scope identifies where a file or parameter came from: which plant, which
// machine, and which export format produced it.
type Scope struct {
	Plant      string
	Machine    string
	DataSource string
}
