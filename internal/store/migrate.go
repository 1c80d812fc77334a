// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package store

import (
	"embed"
	"errors"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// pgx5:// driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaSteps is the parsed, sorted list of embedded migrations. The
// embedded FS never changes at runtime so it is read once.
var schemaSteps = sync.OnceValues(func() ([]SchemaStep, error) {
	return readSchemaSteps(migrationsFS)
})

// SchemaStep is one embedded migration.
type SchemaStep struct {
	Version uint
	Name    string
}

// migrationRunner is the subset of *migrate.Migrate the Migrator drives.
type migrationRunner interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded account schema to a PostgreSQL database.
type Migrator struct {
	runner migrationRunner
}

// MigrationURL rewrites postgres:// and postgresql:// DSNs to the pgx5://
// scheme golang-migrate registers for pgx/v5. Other schemes pass through.
func MigrationURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// NewMigrator opens a migrator for databaseURL.
func NewMigrator(databaseURL string) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, migrationsDir)
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").Wrap(err)
	}
	runner, err := migrate.NewWithSourceInstance("iofs", src, MigrationURL(databaseURL))
	if err != nil {
		_ = src.Close() //nolint:errcheck // init error is the one worth reporting
		return nil, oops.Code("MIGRATION_INIT_FAILED").
			With("operation", "initialize migrator").
			Wrap(err)
	}
	return &Migrator{runner: runner}, nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	if err := ignoreNoChange(m.runner.Up()); err != nil {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down reverts every migration. All account data is dropped.
func (m *Migrator) Down() error {
	if err := ignoreNoChange(m.runner.Down()); err != nil {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps moves n migrations up (n > 0) or down (n < 0).
func (m *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	if err := ignoreNoChange(m.runner.Steps(n)); err != nil {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version reports the applied version. An empty database is version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.runner.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It is the
// recovery path for a dirty database after a manual fix.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.runner.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.runner.Close()
	if srcErr == nil && dbErr == nil {
		return nil
	}
	return oops.Code("MIGRATION_CLOSE_FAILED").Wrap(errors.Join(srcErr, dbErr))
}

// MigrationStatus summarizes the database against the embedded schema.
type MigrationStatus struct {
	Current SchemaStep
	Dirty   bool
	Applied []SchemaStep
	Pending []SchemaStep
}

// Status splits the embedded migrations into applied and pending.
func (m *Migrator) Status() (*MigrationStatus, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	steps, err := schemaSteps()
	if err != nil {
		return nil, err
	}
	st := &MigrationStatus{Current: SchemaStep{Version: version}, Dirty: dirty}
	for _, step := range steps {
		if step.Version <= version {
			st.Applied = append(st.Applied, step)
			if step.Version == version {
				st.Current = step
			}
			continue
		}
		st.Pending = append(st.Pending, step)
	}
	return st, nil
}

// SchemaSteps returns a copy of the embedded migrations in version order.
func SchemaSteps() ([]SchemaStep, error) {
	steps, err := schemaSteps()
	if err != nil {
		return nil, err
	}
	return slices.Clone(steps), nil
}

// readSchemaSteps parses NNNNNN_name.up.sql file names. Anything else in
// the directory is logged and skipped.
func readSchemaSteps(fsys fs.FS) ([]SchemaStep, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").Wrap(err)
	}
	var steps []SchemaStep
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if !ok {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil || len(prefix) != 6 {
			slog.Warn("skipping migration with unexpected file name",
				"filename", entry.Name(),
				"expected_format", "NNNNNN_name.up.sql")
			continue
		}
		steps = append(steps, SchemaStep{Version: uint(version), Name: name})
	}
	slices.SortFunc(steps, func(a, b SchemaStep) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return steps, nil
}
