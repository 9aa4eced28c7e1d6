// Package ledger records which file-versions have already been absorbed into
// the store, making ingestion idempotent. Identity is the file name plus its
// modification time plus the ingestion scope: the same name with a different
// mtime is a new file-version and is re-ingested.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtxerr/sensorlake/internal/frame"
	"github.com/xtxerr/sensorlake/internal/metastore"
)

const createLedgerTable = `
	CREATE TABLE IF NOT EXISTS processed_files (
		file_name    TEXT NOT NULL,
		file_mtime   TIMESTAMP NOT NULL,
		plant_name   TEXT NOT NULL,
		machine_no   TEXT NOT NULL,
		data_source  TEXT NOT NULL,
		processed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (file_name, file_mtime, plant_name, machine_no, data_source)
	)`

// FileVersion identifies one physical version of an export file.
type FileVersion struct {
	Name  string
	MTime time.Time
}

// Stat reads a file's current identity from the filesystem. The mtime is
// read at check time, never cached, so a file edited after a prior run is
// treated as unseen. Truncated to microseconds to match TIMESTAMP
// resolution in the store.
func Stat(path string) (FileVersion, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileVersion{}, err
	}
	return FileVersion{
		Name:  filepath.Base(path),
		MTime: info.ModTime().UTC().Truncate(time.Microsecond),
	}, nil
}

// Ledger provides processed-file bookkeeping.
//
// Ledger is safe for concurrent use; writes share the single-writer
// discipline of the metastore connection pool.
type Ledger struct {
	store *metastore.Store
	now   func() time.Time

	mu      sync.Mutex
	created bool
}

// New creates a ledger over the given metastore.
func New(store *metastore.Store) *Ledger {
	return NewWithClock(store, time.Now)
}

// NewWithClock creates a ledger with an injected clock, for deterministic
// processed_at stamps in tests.
func NewWithClock(store *metastore.Store, now func() time.Time) *Ledger {
	return &Ledger{store: store, now: now}
}

// ensureSchema lazily creates the ledger table. Idempotent.
func (l *Ledger) ensureSchema(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.created {
		return nil
	}
	if _, err := l.store.ExecContext(ctx, createLedgerTable); err != nil {
		return err
	}
	l.created = true
	return nil
}

// IsProcessed reports whether this exact file-version has already been
// absorbed for the scope.
func (l *Ledger) IsProcessed(ctx context.Context, file FileVersion, scope frame.Scope) (bool, error) {
	if err := l.ensureSchema(ctx); err != nil {
		return false, err
	}

	var count int
	err := l.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_files
		 WHERE file_name = ? AND file_mtime = ?
		   AND plant_name = ? AND machine_no = ? AND data_source = ?`,
		file.Name, file.MTime.Truncate(time.Microsecond),
		scope.Plant, scope.Machine, scope.DataSource).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkProcessed records successful ingestion of a file-version. The write is
// an insert-or-replace on the full key, so a force-mode re-run refreshes
// processed_at without violating the key constraint.
func (l *Ledger) MarkProcessed(ctx context.Context, file FileVersion, scope frame.Scope) error {
	if err := l.ensureSchema(ctx); err != nil {
		return err
	}

	_, err := l.store.ExecContext(ctx,
		`INSERT OR REPLACE INTO processed_files
			(file_name, file_mtime, plant_name, machine_no, data_source, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		file.Name, file.MTime.Truncate(time.Microsecond),
		scope.Plant, scope.Machine, scope.DataSource,
		l.now().UTC().Truncate(time.Microsecond))
	return err
}

// ProcessedAt returns the recorded processing time for a file-version, and
// whether a record exists.
func (l *Ledger) ProcessedAt(ctx context.Context, file FileVersion, scope frame.Scope) (time.Time, bool, error) {
	if err := l.ensureSchema(ctx); err != nil {
		return time.Time{}, false, err
	}

	var at time.Time
	err := l.store.QueryRowContext(ctx,
		`SELECT processed_at FROM processed_files
		 WHERE file_name = ? AND file_mtime = ?
		   AND plant_name = ? AND machine_no = ? AND data_source = ?`,
		file.Name, file.MTime.Truncate(time.Microsecond),
		scope.Plant, scope.Machine, scope.DataSource).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return at, true, nil
}
