package rbac

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// Migrator applies the schema_migrations-tracked DDL from schema.go against
// either backend named by spec.md §5 (PostgreSQL or SQLite).
type Migrator struct {
	db      *sql.DB
	logger  *log.Logger
	dialect Dialect
	schema  string
}

// NewMigrator creates a new database migrator for the given dialect.
func NewMigrator(db *sql.DB, dialect Dialect, schema string, logger *log.Logger) *Migrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[rbacd-migrator] ", log.LstdFlags)
	}
	return &Migrator{db: db, logger: logger, dialect: dialect, schema: schema}
}

// MigrationOptions configures migration behavior.
type MigrationOptions struct {
	TargetVersion int  // Migrate to specific version (0 = latest)
	DryRun        bool // Show what would be done without executing
	Force         bool // Reserved for future checksum-mismatch override
}

// DefaultMigrationOptions returns sensible defaults.
func DefaultMigrationOptions() *MigrationOptions {
	return &MigrationOptions{TargetVersion: 0, DryRun: false, Force: false}
}

// Init brings the database up to the target migration version, creating the
// schema_migrations bookkeeping table if it does not already exist.
func (m *Migrator) Init(ctx context.Context, opts *MigrationOptions) error {
	if opts == nil {
		opts = DefaultMigrationOptions()
	}

	m.logger.Println("initializing schema")

	if err := m.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	migrations := GetMigrations(m.schema)
	targetVersion := opts.TargetVersion
	if targetVersion == 0 {
		targetVersion = len(migrations)
	}

	m.logger.Printf("current version %d, target version %d", currentVersion, targetVersion)

	if currentVersion == targetVersion {
		m.logger.Println("schema already up to date")
		return nil
	}

	if currentVersion > targetVersion {
		return m.migrate(ctx, migrations, currentVersion, targetVersion, opts, false)
	}
	return m.migrate(ctx, migrations, currentVersion, targetVersion, opts, true)
}

func (m *Migrator) migrate(ctx context.Context, migrations []Migration, from, to int, opts *MigrationOptions, up bool) error {
	if opts.DryRun {
		m.logger.Println("dry run, no changes will be made")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if up {
		for i := from; i < to; i++ {
			migration := migrations[i]
			m.logger.Printf("applying migration %d: %s", migration.Version, migration.Name)

			script := migration.Script(m.dialect)
			if opts.DryRun {
				m.logger.Printf("would execute:\n%s", script)
				continue
			}

			start := time.Now()
			if err := m.executeMigration(ctx, tx, script); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", migration.Version, migration.Name, err)
			}

			duration := time.Since(start)
			if err := m.recordMigration(ctx, tx, migration, duration); err != nil {
				return fmt.Errorf("record migration %d: %w", migration.Version, err)
			}

			m.logger.Printf("applied migration %d in %v", migration.Version, duration)
		}
	} else {
		for i := from - 1; i >= to; i-- {
			migration := migrations[i]
			m.logger.Printf("rolling back migration %d: %s", migration.Version, migration.Name)

			script := migration.RollbackScript(m.dialect)
			if opts.DryRun {
				m.logger.Printf("would execute:\n%s", script)
				continue
			}

			if err := m.executeMigration(ctx, tx, script); err != nil {
				return fmt.Errorf("rollback migration %d (%s): %w", migration.Version, migration.Name, err)
			}

			if err := m.removeMigration(ctx, tx, migration.Version); err != nil {
				return fmt.Errorf("remove migration record %d: %w", migration.Version, err)
			}

			m.logger.Printf("rolled back migration %d", migration.Version)
		}
	}

	if !opts.DryRun {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		m.logger.Println("migration completed")
	}

	return nil
}

// Reset drops every rbacd-owned table. Callers must run Init again to
// recreate the schema.
func (m *Migrator) Reset(ctx context.Context) error {
	m.logger.Println("resetting schema: this deletes all data")

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	migrations := GetMigrations(m.schema)
	for i := len(migrations) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, migrations[i].RollbackScript(m.dialect)); err != nil {
			return fmt.Errorf("drop migration %d: %w", migrations[i].Version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, m.dropMigrationsTableScript()); err != nil {
		return fmt.Errorf("drop migrations table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}

	m.logger.Println("reset complete")
	return nil
}

// Status reports the current migration state.
func (m *Migrator) Status(ctx context.Context) (*MigrationStatus, error) {
	status := &MigrationStatus{AppliedMigrations: []AppliedMigration{}}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	status.CurrentVersion = currentVersion

	migrations := GetMigrations(m.schema)
	status.LatestVersion = len(migrations)
	status.PendingCount = status.LatestVersion - status.CurrentVersion

	rows, err := m.db.QueryContext(ctx, `SELECT version, name, applied_at, execution_time_ms, checksum FROM `+m.migrationsTable()+` ORDER BY version`)
	if err != nil {
		return status, nil // table might not exist yet
	}
	defer rows.Close()

	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.ExecutionTimeMs, &am.Checksum); err != nil {
			continue
		}
		status.AppliedMigrations = append(status.AppliedMigrations, am)
	}

	return status, nil
}

func (m *Migrator) migrationsTable() string {
	if m.schema != "" {
		return m.schema + ".schema_migrations"
	}
	return "schema_migrations"
}

func (m *Migrator) createMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS `+m.migrationsTable()+` (
            version INTEGER PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            applied_at TIMESTAMP NOT NULL,
            execution_time_ms INTEGER,
            checksum VARCHAR(64)
        )
    `)
	return err
}

func (m *Migrator) dropMigrationsTableScript() string {
	return `DROP TABLE IF EXISTS ` + m.migrationsTable()
}

func (m *Migrator) getCurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM `+m.migrationsTable()).Scan(&version)
	if err != nil {
		return 0, nil // table doesn't exist yet
	}
	return version, nil
}

func (m *Migrator) executeMigration(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

func (m *Migrator) recordMigration(ctx context.Context, tx *sql.Tx, migration Migration, duration time.Duration) error {
	checksum := m.calculateChecksum(migration.Script(m.dialect))
	placeholder := placeholders(m.dialect, 5)
	_, err := tx.ExecContext(ctx, `
        INSERT INTO `+m.migrationsTable()+` (version, name, applied_at, execution_time_ms, checksum)
        VALUES (`+placeholder+`)
    `, migration.Version, migration.Name, time.Now(), duration.Milliseconds(), checksum)
	return err
}

func (m *Migrator) removeMigration(ctx context.Context, tx *sql.Tx, version int) error {
	q := `DELETE FROM ` + m.migrationsTable() + ` WHERE version = ` + param(m.dialect, 1)
	_, err := tx.ExecContext(ctx, q, version)
	return err
}

func (m *Migrator) calculateChecksum(content string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(content)))
}

// MigrationStatus reports the database's current migration state.
type MigrationStatus struct {
	CurrentVersion    int
	LatestVersion     int
	PendingCount      int
	AppliedMigrations []AppliedMigration
}

// AppliedMigration is one row of the schema_migrations bookkeeping table.
type AppliedMigration struct {
	Version         int
	Name            string
	AppliedAt       time.Time
	ExecutionTimeMs int
	Checksum        string
}

// param returns the dialect's positional placeholder syntax for argument n.
func param(d Dialect, n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// placeholders returns a comma-separated placeholder list for n arguments.
func placeholders(d Dialect, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = param(d, i+1)
	}
	return strings.Join(parts, ", ")
}
