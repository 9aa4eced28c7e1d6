// Package catalog maintains the parameter master tables: the display-name
// master and the id-first-seen master. Registration is an append-only merge;
// display names written once are never overwritten by later ingestion, so
// operator hand-edits survive re-runs.
package catalog

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/sensorlake/internal/errors"
	"github.com/xtxerr/sensorlake/internal/frame"
	"github.com/xtxerr/sensorlake/internal/logging"
	"github.com/xtxerr/sensorlake/internal/metastore"
)

const (
	createNamesTable = `
		CREATE TABLE IF NOT EXISTS parameter_names (
			parameter_id         TEXT NOT NULL,
			display_name_primary TEXT,
			display_name_secondary TEXT,
			unit                 TEXT,
			plant_name           TEXT NOT NULL,
			machine_no           TEXT NOT NULL,
			data_source          TEXT NOT NULL,
			PRIMARY KEY (parameter_id, plant_name, machine_no, data_source)
		)`

	createSightingsTable = `
		CREATE TABLE IF NOT EXISTS parameter_sightings (
			parameter_id  TEXT NOT NULL,
			plant_name    TEXT NOT NULL,
			machine_no    TEXT NOT NULL,
			data_source   TEXT NOT NULL,
			first_seen_at TIMESTAMP NOT NULL,
			PRIMARY KEY (parameter_id, plant_name, machine_no, data_source)
		)`
)

// Record is one parameter master entry.
type Record struct {
	ParameterID      string
	DisplayPrimary   string
	DisplaySecondary string
	Unit             string
	Scope            frame.Scope
	FirstSeen        time.Time
}

// Catalog provides parameter registration and lookup.
//
// Writes are serialized behind an internal mutex: the read-then-insert merge
// is a check-then-act sequence, and a single-writer discipline is simpler
// and no less correct than relying on storage-level conflict handling.
type Catalog struct {
	store *metastore.Store
	now   func() time.Time

	mu      sync.Mutex
	created bool
}

// New creates a catalog over the given metastore.
func New(store *metastore.Store) *Catalog {
	return NewWithClock(store, time.Now)
}

// NewWithClock creates a catalog with an injected clock, for deterministic
// first_seen_at stamps in tests.
func NewWithClock(store *metastore.Store, now func() time.Time) *Catalog {
	return &Catalog{store: store, now: now}
}

// ensureSchema lazily creates the master tables. Idempotent, never a
// reported error on re-run.
func (c *Catalog) ensureSchema(ctx context.Context) error {
	if c.created {
		return nil
	}
	for _, ddl := range []string{createNamesTable, createSightingsTable} {
		if _, err := c.store.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	c.created = true
	return nil
}

// Register merges newly seen parameters into the master tables for the given
// scope. Identifiers already present for the scope are left untouched, which
// is the invariant distinguishing this from a naive upsert. Returns the
// number of newly inserted parameters.
func (c *Catalog) Register(ctx context.Context, metas []frame.ParameterMeta, scope frame.Scope) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSchema(ctx); err != nil {
		return 0, err
	}

	existing, err := c.knownIDs(ctx, scope)
	if err != nil {
		return 0, err
	}

	var fresh []frame.ParameterMeta
	seen := make(map[string]bool, len(metas))
	for _, m := range metas {
		if m.ID == "" || existing[m.ID] || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	firstSeen := c.now()
	err = c.store.TransactionContext(ctx, func(tx *sql.Tx) error {
		for _, m := range fresh {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO parameter_names
					(parameter_id, display_name_primary, display_name_secondary,
					 unit, plant_name, machine_no, data_source)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				m.ID, m.DisplayName, m.DisplayName, m.Unit,
				scope.Plant, scope.Machine, scope.DataSource)
			if err != nil {
				return wrapInsertError(err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO parameter_sightings
					(parameter_id, plant_name, machine_no, data_source, first_seen_at)
				 VALUES (?, ?, ?, ?, ?)`,
				m.ID, scope.Plant, scope.Machine, scope.DataSource, firstSeen)
			if err != nil {
				return wrapInsertError(err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logging.Component("catalog").Debug("registered parameters",
		"plant", scope.Plant, "machine", scope.Machine,
		"source", scope.DataSource, "new", len(fresh))

	return len(fresh), nil
}

// wrapInsertError surfaces a duplicate-key violation as a catalog conflict.
// Given the pre-filter in Register this should not occur; when it does it
// signals the master table and the pre-filter disagree.
func wrapInsertError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "Duplicate key") || strings.Contains(msg, "Constraint Error") {
		return errors.CatalogConflict(err)
	}
	return err
}

// knownIDs returns the set of parameter ids already registered for a scope.
func (c *Catalog) knownIDs(ctx context.Context, scope frame.Scope) (map[string]bool, error) {
	rows, err := c.store.QueryContext(ctx,
		`SELECT parameter_id FROM parameter_names
		 WHERE plant_name = ? AND machine_no = ? AND data_source = ?`,
		scope.Plant, scope.Machine, scope.DataSource)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Parameters returns the master records for a scope, joined with their
// first-seen stamps.
func (c *Catalog) Parameters(ctx context.Context, scope frame.Scope) ([]Record, error) {
	c.mu.Lock()
	if err := c.ensureSchema(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	rows, err := c.store.QueryContext(ctx,
		`SELECT n.parameter_id, n.display_name_primary, n.display_name_secondary,
		        n.unit, s.first_seen_at
		 FROM parameter_names n
		 JOIN parameter_sightings s
		   ON n.parameter_id = s.parameter_id
		  AND n.plant_name = s.plant_name
		  AND n.machine_no = s.machine_no
		  AND n.data_source = s.data_source
		 WHERE n.plant_name = ? AND n.machine_no = ? AND n.data_source = ?
		 ORDER BY n.parameter_id`,
		scope.Plant, scope.Machine, scope.DataSource)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r := Record{Scope: scope}
		if err := rows.Scan(&r.ParameterID, &r.DisplayPrimary, &r.DisplaySecondary,
			&r.Unit, &r.FirstSeen); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
