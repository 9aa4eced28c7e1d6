package writer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/sensorlake/internal/errors"
	"github.com/xtxerr/sensorlake/internal/frame"
	"github.com/xtxerr/sensorlake/internal/partition"
)

func buildFrame(t *testing.T, cells map[string][]frame.Cell, times []time.Time) *frame.Frame {
	t.Helper()
	var names []string
	for name := range cells {
		names = append(names, name)
	}
	fr := frame.New(names)
	row := make([]frame.Cell, len(names))
	for i := range times {
		for j, name := range names {
			row[j] = cells[name][i]
		}
		fr.AppendRow(times[i], row)
	}
	return fr
}

func TestWritePartitionsByMonth(t *testing.T) {
	root := t.TempDir()
	w := New(root, partition.SchemeDirectory, DefaultOptions())

	times := []time.Time{
		time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 16, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	fr := buildFrame(t, map[string][]frame.Cell{
		"TI-101": {frame.Int(100), frame.Int(101), frame.Int(102)},
	}, times)

	res, err := w.Write(fr, "plant1", "machine1")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Rows != 3 {
		t.Errorf("rows = %d, want 3", res.Rows)
	}
	if res.Partitions != 2 {
		t.Errorf("partitions = %d, want 2", res.Partitions)
	}
	// Datetime, plant_name, machine_no, year, month + 1 channel.
	if res.Columns != 6 {
		t.Errorf("columns = %d, want 6", res.Columns)
	}

	for _, leaf := range []string{
		filepath.Join(root, "plant1", "machine1", "2023", "1"),
		filepath.Join(root, "plant1", "machine1", "2023", "2"),
	} {
		entries, err := os.ReadDir(leaf)
		if err != nil {
			t.Fatalf("leaf %s missing: %v", leaf, err)
		}
		if len(entries) != 1 {
			t.Errorf("leaf %s has %d files, want 1", leaf, len(entries))
		}
	}
}

func TestWriteNormalizesIntegerChannels(t *testing.T) {
	root := t.TempDir()
	w := New(root, partition.SchemeDirectory, DefaultOptions())

	ts := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)

	// First file: channel C is integral. Second: fractional. Both must land
	// as doubles or reading the partition back as one table would fail.
	intFrame := buildFrame(t, map[string][]frame.Cell{"C": {frame.Int(1)}}, []time.Time{ts})
	floatFrame := buildFrame(t, map[string][]frame.Cell{"C": {frame.Float(1.5)}}, []time.Time{ts})

	for _, fr := range []*frame.Frame{intFrame, floatFrame} {
		if _, err := w.Write(fr, "plant1", "machine1"); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	leaf := filepath.Join(root, "plant1", "machine1", "2023", "1")
	entries, err := os.ReadDir(leaf)
	if err != nil {
		t.Fatalf("read leaf: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 part files, got %d", len(entries))
	}

	for _, e := range entries {
		path := filepath.Join(leaf, e.Name())
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		st, _ := f.Stat()
		pf, err := parquet.OpenFile(f, st.Size())
		if err != nil {
			t.Fatalf("open parquet %s: %v", path, err)
		}
		for _, field := range pf.Schema().Fields() {
			if field.Name() != "C" {
				continue
			}
			if field.Type().Kind() != parquet.Double {
				t.Errorf("%s: channel C kind = %v, want Double", e.Name(), field.Type().Kind())
			}
		}
		f.Close()
	}
}

func TestWriteEmptyFrame(t *testing.T) {
	root := t.TempDir()
	w := New(root, partition.SchemeDirectory, DefaultOptions())

	fr := frame.New([]string{"TI-101"})
	res, err := w.Write(fr, "plant1", "machine1")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Rows != 0 {
		t.Errorf("rows = %d, want 0", res.Rows)
	}
	if res.Columns != 6 {
		t.Errorf("columns = %d, want 6", res.Columns)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("empty write should create no partition directories, found %d", len(entries))
	}
}

func TestWriteMissingTimestamps(t *testing.T) {
	root := t.TempDir()
	w := New(root, partition.SchemeDirectory, DefaultOptions())

	fr := frame.New([]string{"TI-101"})
	fr.Columns[0].Values = append(fr.Columns[0].Values, 1.0)
	fr.Columns[0].Valid = append(fr.Columns[0].Valid, true)

	_, err := w.Write(fr, "plant1", "machine1")
	if !errors.Is(err, errors.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestWriteHiveScheme(t *testing.T) {
	root := t.TempDir()
	w := New(root, partition.SchemeHive, DefaultOptions())

	fr := buildFrame(t, map[string][]frame.Cell{"C": {frame.Float(1.5)}},
		[]time.Time{time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)})

	if _, err := w.Write(fr, "plant1", "machine1"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	leaf := filepath.Join(root, "plant_name=plant1", "machine_no=machine1", "year=2023", "month=3")
	if _, err := os.Stat(leaf); err != nil {
		t.Fatalf("hive leaf missing: %v", err)
	}
}
