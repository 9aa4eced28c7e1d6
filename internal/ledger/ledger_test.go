package ledger

import (
	"context"
	"os"
	"path/filepath"
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

func TestMarkAndCheck(t *testing.T) {
	store := openStore(t)
	led := New(store)
	ctx := context.Background()

	file := FileVersion{Name: "2023-01.csv", MTime: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)}

	processed, err := led.IsProcessed(ctx, file, testScope())
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if processed {
		t.Fatal("unseen file reported as processed")
	}

	if err := led.MarkProcessed(ctx, file, testScope()); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	processed, err = led.IsProcessed(ctx, file, testScope())
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !processed {
		t.Fatal("marked file reported as unseen")
	}
}

func TestNewMtimeIsNewVersion(t *testing.T) {
	store := openStore(t)
	led := New(store)
	ctx := context.Background()

	v1 := FileVersion{Name: "2023-01.csv", MTime: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)}
	if err := led.MarkProcessed(ctx, v1, testScope()); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	// Same name, later mtime: the corrected export is a new file-version.
	v2 := FileVersion{Name: "2023-01.csv", MTime: v1.MTime.Add(time.Hour)}
	processed, err := led.IsProcessed(ctx, v2, testScope())
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if processed {
		t.Fatal("edited file-version should be treated as unseen")
	}
}

func TestMarkProcessedIsUpsert(t *testing.T) {
	store := openStore(t)

	stamp := time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)
	led := NewWithClock(store, func() time.Time { return stamp })
	ctx := context.Background()

	file := FileVersion{Name: "2023-01.csv", MTime: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)}
	if err := led.MarkProcessed(ctx, file, testScope()); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	// Force-mode re-run: same full key, later processed_at, no constraint
	// violation.
	stamp = stamp.Add(2 * time.Hour)
	if err := led.MarkProcessed(ctx, file, testScope()); err != nil {
		t.Fatalf("MarkProcessed rerun: %v", err)
	}

	at, ok, err := led.ProcessedAt(ctx, file, testScope())
	if err != nil {
		t.Fatalf("ProcessedAt: %v", err)
	}
	if !ok {
		t.Fatal("no ledger record after upsert")
	}
	if !at.Equal(stamp) {
		t.Errorf("processed_at = %v, want %v", at, stamp)
	}
}

func TestStatReadsCurrentMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.csv")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	v, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if v.Name != "export.csv" {
		t.Errorf("name = %q", v.Name)
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	v2, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !v2.MTime.After(v.MTime) {
		t.Errorf("mtime should advance after edit: %v -> %v", v.MTime, v2.MTime)
	}
}
