package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// SetupOptions configures QuickSetup's schema application and Store wiring.
type SetupOptions struct {
	Dialect          Dialect
	Schema           string // Postgres schema qualifier; ignored for SQLite
	MigrationOptions *MigrationOptions
	Logger           *log.Logger
	Cipher           *FieldCipher // defaults to a disabled (identity) cipher
}

// QuickSetup runs migrations against db and returns a ready-to-use Engine.
func QuickSetup(db *sql.DB, opts *SetupOptions) (*Engine, error) {
	if opts == nil {
		opts = &SetupOptions{Dialect: DialectPostgres}
	}
	if opts.Dialect == "" {
		opts.Dialect = DialectPostgres
	}

	ctx := context.Background()

	schema := opts.Schema
	if opts.Dialect == DialectSQLite {
		schema = ""
	}

	migrator := NewMigrator(db, opts.Dialect, schema, opts.Logger)
	migOpts := opts.MigrationOptions
	if migOpts == nil {
		migOpts = DefaultMigrationOptions()
	}
	if err := migrator.Init(ctx, migOpts); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	cipher := opts.Cipher
	if cipher == nil {
		cipher = NewFieldCipher("", false)
	}

	store := NewSQLStore(db, opts.Dialect, schema, cipher)
	return NewEngine(store, NewValidator()), nil
}

// CheckHealth verifies the required tables exist for the given dialect.
func CheckHealth(ctx context.Context, db *sql.DB, dialect Dialect, schema string) error {
	tables := []string{"auth_role", "auth_membership", "auth_permission", "membership_roles", "permission_roles", "audit_log"}

	for _, table := range tables {
		exists, err := tableExists(ctx, db, dialect, schema, table)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s is missing: run migrations first", table)
		}
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, dialect Dialect, schema, table string) (bool, error) {
	var exists bool
	if dialect == DialectSQLite {
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`, table).Scan(&exists)
		return exists, err
	}

	if schema == "" {
		schema = "public"
	}
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schema, table).Scan(&exists)
	return exists, err
}
