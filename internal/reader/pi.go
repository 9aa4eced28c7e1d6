package reader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/sensorlake/internal/errors"
	"github.com/xtxerr/sensorlake/internal/frame"
)

// PIReader parses PI historian exports.
//
// The format is comma-delimited with a fixed three-line header block:
// line 1 holds parameter identifiers (the first cell is overwritten to the
// timestamp column name), line 2 display names, line 3 units. Every data row
// is one timestamp cell followed by one numeric cell per parameter, in
// header order. Rows in which every cell is empty are discarded; cells that
// are not numeric (PI emits markers like "Bad Input" or "No Data") become
// nulls.
type PIReader struct{}

// timestampLayouts are tried in order when parsing the timestamp cell.
var timestampLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
}

// Read parses one PI export.
func (p *PIReader) Read(r io.Reader) (*frame.Frame, []frame.ParameterMeta, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	ids, err := cr.Read()
	if err != nil {
		return nil, nil, errors.MalformedHeader("read identifier line: %v", err)
	}
	names, err := cr.Read()
	if err != nil {
		return nil, nil, errors.MalformedHeader("read display-name line: %v", err)
	}
	units, err := cr.Read()
	if err != nil {
		return nil, nil, errors.MalformedHeader("read unit line: %v", err)
	}

	if len(ids) != len(names) || len(ids) != len(units) {
		return nil, nil, errors.MalformedHeader(
			"header vectors disagree: %d identifiers, %d names, %d units",
			len(ids), len(names), len(units))
	}
	if len(ids) < 2 {
		return nil, nil, errors.MalformedHeader("no parameter columns")
	}

	// The first header cell is the timestamp column regardless of what the
	// export put there.
	ids[0] = frame.TimestampColumn

	channels := make([]string, len(ids)-1)
	metas := make([]frame.ParameterMeta, len(ids)-1)
	for i := 1; i < len(ids); i++ {
		id := strings.TrimSpace(ids[i])
		channels[i-1] = id
		metas[i-1] = frame.ParameterMeta{
			ID:          id,
			DisplayName: strings.TrimSpace(names[i]),
			Unit:        strings.TrimSpace(units[i]),
		}
	}

	fr := frame.New(channels)
	cells := make([]frame.Cell, len(channels))

	line := 3
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		if allEmpty(rec) {
			continue
		}

		ts, err := parseTimestamp(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}

		for i := range cells {
			if i+1 < len(rec) {
				cells[i] = parseCell(rec[i+1])
			} else {
				cells[i] = frame.Null()
			}
		}
		fr.AppendRow(ts, cells)
	}

	return fr, metas, nil
}

// allEmpty reports whether every cell of a record is blank.
func allEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseTimestamp tries the known export layouts in order.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}

// parseCell parses one numeric cell, preferring the integral reading so the
// frame can track whether a channel ever carries fractions.
func parseCell(s string) frame.Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return frame.Null()
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return frame.Int(v)
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return frame.Float(v)
	}
	// PI quality markers such as "Bad Input" or "No Data".
	return frame.Null()
}
