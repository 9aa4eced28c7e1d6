package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/sensorlake/internal/frame"
	"github.com/xtxerr/sensorlake/internal/metastore"
)

func testScope() frame.Scope {
	return frame.Scope{Plant: "plant1", Machine: "machine1", DataSource: "pi"}
}

func openStore(t *testing.T) *metastore.Store {
	t.Helper()
	store, err := metastore.Open("")
	if err != nil {
		t.Fatalf("open metastore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRegisterNewParameters(t *testing.T) {
	store := openStore(t)
	fixed := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	cat := NewWithClock(store, func() time.Time { return fixed })

	ctx := context.Background()
	metas := []frame.ParameterMeta{
		{ID: "TI-101", DisplayName: "Reactor Temp", Unit: "degC"},
		{ID: "PI-102", DisplayName: "Reactor Pressure", Unit: "kPa"},
	}

	n, err := cat.Register(ctx, metas, testScope())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 new parameters, got %d", n)
	}

	records, err := cat.Parameters(ctx, testScope())
	if err != nil {
		t.Fatalf("Parameters: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].ParameterID != "TI-101" || records[1].DisplayPrimary != "Reactor Temp" {
		t.Errorf("unexpected record: %+v", records[1])
	}
	if records[1].DisplaySecondary != "Reactor Temp" {
		t.Errorf("secondary name should mirror primary on insert: %+v", records[1])
	}
	if !records[1].FirstSeen.Equal(fixed) {
		t.Errorf("first_seen_at = %v, want %v", records[1].FirstSeen, fixed)
	}
}

func TestRegisterNeverClobbersDisplayNames(t *testing.T) {
	store := openStore(t)
	cat := New(store)
	ctx := context.Background()

	if _, err := cat.Register(ctx, []frame.ParameterMeta{
		{ID: "TI-101", DisplayName: "Reactor Temp", Unit: "degC"},
	}, testScope()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Re-ingestion of the same id with a different name must be a no-op for
	// the existing row and insert only the genuinely new id.
	n, err := cat.Register(ctx, []frame.ParameterMeta{
		{ID: "TI-101", DisplayName: "RENAMED", Unit: "degC"},
		{ID: "FI-103", DisplayName: "Feed Flow", Unit: "m3/h"},
	}, testScope())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 new parameter, got %d", n)
	}

	records, err := cat.Parameters(ctx, testScope())
	if err != nil {
		t.Fatalf("Parameters: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.ParameterID == "TI-101" && r.DisplayPrimary != "Reactor Temp" {
			t.Errorf("display name clobbered: %+v", r)
		}
	}
}

func TestRegisterScopesAreIndependent(t *testing.T) {
	store := openStore(t)
	cat := New(store)
	ctx := context.Background()

	metas := []frame.ParameterMeta{{ID: "TI-101", DisplayName: "Temp", Unit: "degC"}}

	if _, err := cat.Register(ctx, metas, testScope()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	other := frame.Scope{Plant: "plant2", Machine: "machine1", DataSource: "pi"}
	n, err := cat.Register(ctx, metas, other)
	if err != nil {
		t.Fatalf("Register other scope: %v", err)
	}
	if n != 1 {
		t.Fatalf("same id under a new scope should insert, got %d", n)
	}
}

func TestRegisterDedupesWithinBatch(t *testing.T) {
	store := openStore(t)
	cat := New(store)
	ctx := context.Background()

	n, err := cat.Register(ctx, []frame.ParameterMeta{
		{ID: "TI-101", DisplayName: "Temp", Unit: "degC"},
		{ID: "TI-101", DisplayName: "Temp again", Unit: "degC"},
	}, testScope())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n != 1 {
		t.Fatalf("duplicate ids in one batch should insert once, got %d", n)
	}
}
