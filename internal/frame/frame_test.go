package frame

import (
	"testing"
	"time"
)

func TestAppendRowTracksKind(t *testing.T) {
	fr := New([]string{"A", "B"})
	ts := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)

	fr.AppendRow(ts, []Cell{Int(1), Float(1.5)})
	fr.AppendRow(ts.Add(time.Second), []Cell{Int(2), Null()})

	if fr.Len() != 2 {
		t.Fatalf("len = %d, want 2", fr.Len())
	}

	a := fr.Column("A")
	if a.Kind != KindInt64 {
		t.Errorf("A kind = %v, want KindInt64", a.Kind)
	}
	b := fr.Column("B")
	if b.Kind != KindFloat64 {
		t.Errorf("B kind = %v, want KindFloat64", b.Kind)
	}
	if b.Valid[1] {
		t.Error("null cell reported valid")
	}
}

func TestIntColumnWidensOnFraction(t *testing.T) {
	fr := New([]string{"A"})
	ts := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)

	fr.AppendRow(ts, []Cell{Int(1)})
	if fr.Column("A").Kind != KindInt64 {
		t.Fatal("expected integral kind after int cell")
	}

	fr.AppendRow(ts.Add(time.Second), []Cell{Float(1.5)})
	if fr.Column("A").Kind != KindFloat64 {
		t.Fatal("expected float kind after fractional cell")
	}
}

func TestNormalize(t *testing.T) {
	fr := New([]string{"A"})
	fr.AppendRow(time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), []Cell{Int(1)})

	fr.Normalize()
	if fr.Column("A").Kind != KindFloat64 {
		t.Fatal("Normalize should widen integral columns")
	}
}

func TestColumnMissing(t *testing.T) {
	fr := New([]string{"A"})
	if fr.Column("B") != nil {
		t.Fatal("missing column should be nil")
	}
}
