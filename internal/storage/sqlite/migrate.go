package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

// migrationUnit is one versioned schema change. The version is encoded in
// the 4-digit name prefix.
type migrationUnit struct {
	Name       string
	Statements []string
}

var unitNamePattern = regexp.MustCompile(`^(\d{4})_[a-z0-9_]+$`)

func (u migrationUnit) version() (int, error) {
	m := unitNamePattern.FindStringSubmatch(u.Name)
	if m == nil {
		return 0, fmt.Errorf("migration unit %q does not match {NNNN}_{description}", u.Name)
	}
	return strconv.Atoi(m[1])
}

// migrationRun tracks an in-flight migration for one database identity so a
// second caller awaits the first run instead of re-running it.
type migrationRun struct {
	done chan struct{}
	err  error
}

var (
	migrateMu   sync.Mutex
	migrateRuns = map[string]*migrationRun{}
)

// Migrate applies all pending migration units in version order. The schema
// version is held redundantly: PRAGMA user_version is the fast counter, the
// migration_history table is the durable record (recreated if missing).
// A failing unit aborts the run with the counter at the last good version.
func (s *Store) Migrate(ctx context.Context) error {
	migrateMu.Lock()
	if run, ok := migrateRuns[s.path]; ok {
		migrateMu.Unlock()
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	run := &migrationRun{done: make(chan struct{})}
	migrateRuns[s.path] = run
	migrateMu.Unlock()

	defer func() {
		close(run.done)
		migrateMu.Lock()
		delete(migrateRuns, s.path)
		migrateMu.Unlock()
	}()

	run.err = s.migrate(ctx)
	return run.err
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migration_history (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create migration_history: %w", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	units, err := sortedUnits()
	if err != nil {
		return err
	}
	if len(units) > 0 {
		latest := units[len(units)-1].ver
		if current > latest {
			return fmt.Errorf("db schema version %d is newer than supported %d", current, latest)
		}
	}

	// Self-heal a missing history: the counter survives but the table was
	// lost (restored backup, manual drop). Re-record what the counter says
	// has already been applied.
	if current > 0 {
		if err := s.healHistory(ctx, units, current); err != nil {
			return err
		}
	}

	applied := 0
	for _, u := range units {
		if u.ver <= current {
			continue
		}
		if err := s.applyUnit(ctx, u); err != nil {
			return fmt.Errorf("migration %s: %w", u.unit.Name, err)
		}
		current = u.ver
		applied++
	}
	if applied > 0 {
		s.logger.Info("schema migrated", "version", current, "units_applied", applied)
	}
	return nil
}

type versionedUnit struct {
	ver  int
	unit migrationUnit
}

func sortedUnits() ([]versionedUnit, error) {
	out := make([]versionedUnit, 0, len(migrations))
	seen := map[int]string{}
	for _, u := range migrations {
		v, err := u.version()
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)", v, prev, u.Name)
		}
		seen[v] = u.Name
		out = append(out, versionedUnit{ver: v, unit: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ver < out[j].ver })
	return out, nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// applyUnit runs one unit's full statement sequence, records it in history
// and advances the counter, all in one transaction.
func (s *Store) applyUnit(ctx context.Context, u versionedUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range u.unit.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO migration_history (version, name) VALUES (?, ?);
	`, u.ver, u.unit.Name); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	// PRAGMA does not support placeholders; version comes from our own
	// validated unit names.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", u.ver)); err != nil {
		return fmt.Errorf("advance user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) healHistory(ctx context.Context, units []versionedUnit, current int) error {
	var recorded int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM migration_history;`).Scan(&recorded); err != nil {
		return fmt.Errorf("count migration history: %w", err)
	}
	if recorded > 0 {
		return nil
	}
	s.logger.Warn("migration history missing, rebuilding from version counter", "version", current)
	for _, u := range units {
		if u.ver > current {
			break
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO migration_history (version, name) VALUES (?, ?);
		`, u.ver, u.unit.Name); err != nil {
			return fmt.Errorf("rebuild migration history: %w", err)
		}
	}
	return nil
}

// SchemaVersion reports the current schema version counter.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.schemaVersion(ctx)
}
