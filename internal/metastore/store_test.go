package metastore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/xtxerr/sensorlake/internal/errors"
)

func TestOpenInMemory(t *testing.T) {
	store, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestOpenFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx := context.Background()
	if _, err := store.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := store.ExecContext(ctx, "INSERT INTO t VALUES (42)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// State survives reopen.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	var v int
	if err := store.QueryRowContext(ctx, "SELECT v FROM t").Scan(&v); err != nil {
		t.Fatalf("query: %v", err)
	}
	if v != 42 {
		t.Errorf("v = %d, want 42", v)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	store, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	wantErr := sql.ErrNoRows
	err = store.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (1)"); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Transaction error = %v, want %v", err, wantErr)
	}

	var count int
	if err := store.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rolled-back insert visible: count = %d", count)
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	store, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx := context.Background()
	if _, err := store.ExecContext(ctx, "SELECT 1"); !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("ExecContext error = %v, want ErrStoreClosed", err)
	}
	if _, err := store.QueryContext(ctx, "SELECT 1"); !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("QueryContext error = %v, want ErrStoreClosed", err)
	}
	err = store.Transaction(func(tx *sql.Tx) error { return nil })
	if !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("Transaction error = %v, want ErrStoreClosed", err)
	}
	if err := store.Health(ctx); !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("Health error = %v, want ErrStoreClosed", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
