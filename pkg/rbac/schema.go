package rbac

// Dialect names the SQL backend a Store talks to. The engine's correctness
// properties (spec.md §5) must hold under either.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Migration is one versioned schema step, applied in order by Migrator.
// It carries a separate forward and reverse script per dialect;
// Script/RollbackScript pick the one for the dialect at apply time.
type Migration struct {
	Version     int
	Name        string
	Description string
	UpPostgres  string
	UpSQLite    string
	DownPostgres string
	DownSQLite  string
}

// Script returns the dialect-appropriate forward migration.
func (m Migration) Script(d Dialect) string {
	if d == DialectSQLite {
		return m.UpSQLite
	}
	return m.UpPostgres
}

// RollbackScript returns the dialect-appropriate reverse migration.
func (m Migration) RollbackScript(d Dialect) string {
	if d == DialectSQLite {
		return m.DownSQLite
	}
	return m.DownPostgres
}

// GetMigrations returns the schema migrations for the tables named in
// spec.md §6: auth_role, auth_membership, auth_permission, the
// membership_roles/permission_roles junctions, and audit_log. schema, when
// non-empty, qualifies every table name in both dialects' scripts as a
// Postgres schema name; QuickSetup passes "" for SQLite.
func GetMigrations(schema string) []Migration {
	prefix := ""
	if schema != "" {
		prefix = schema + "."
	}
	return []Migration{
		{
			Version:      1,
			Name:         "core_tables",
			Description:  "Create auth_role, auth_membership, auth_permission and their junctions",
			UpPostgres:   corePostgres(prefix),
			UpSQLite:     coreSQLite(prefix),
			DownPostgres: dropCore(prefix),
			DownSQLite:   dropCore(prefix),
		},
		{
			Version:      2,
			Name:         "audit_log",
			Description:  "Append-only audit table for privileged operations",
			UpPostgres:   auditPostgres(prefix),
			UpSQLite:     auditSQLite(prefix),
			DownPostgres: dropAudit(prefix),
			DownSQLite:   dropAudit(prefix),
		},
	}
}

func corePostgres(p string) string {
	return `
CREATE TABLE IF NOT EXISTS ` + p + `auth_role (
    id SERIAL PRIMARY KEY,
    creator VARCHAR(36) NOT NULL,
    role VARCHAR(64) NOT NULL,
    description TEXT,
    is_active BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP NOT NULL DEFAULT NOW(),
    UNIQUE(creator, role)
);

CREATE TABLE IF NOT EXISTS ` + p + `auth_membership (
    id SERIAL PRIMARY KEY,
    creator VARCHAR(36) NOT NULL,
    "user" TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP NOT NULL DEFAULT NOW(),
    UNIQUE(creator, "user")
);

CREATE TABLE IF NOT EXISTS ` + p + `auth_permission (
    id SERIAL PRIMARY KEY,
    creator VARCHAR(36) NOT NULL,
    name TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMP NOT NULL DEFAULT NOW(),
    UNIQUE(creator, name)
);

CREATE TABLE IF NOT EXISTS ` + p + `membership_roles (
    membership_id INTEGER NOT NULL REFERENCES ` + p + `auth_membership(id) ON DELETE CASCADE,
    role_id INTEGER NOT NULL REFERENCES ` + p + `auth_role(id) ON DELETE CASCADE,
    PRIMARY KEY (membership_id, role_id)
);

CREATE TABLE IF NOT EXISTS ` + p + `permission_roles (
    permission_id INTEGER NOT NULL REFERENCES ` + p + `auth_permission(id) ON DELETE CASCADE,
    role_id INTEGER NOT NULL REFERENCES ` + p + `auth_role(id) ON DELETE CASCADE,
    PRIMARY KEY (permission_id, role_id)
);

CREATE INDEX IF NOT EXISTS idx_auth_role_creator ON ` + p + `auth_role(creator, is_active);
CREATE INDEX IF NOT EXISTS idx_auth_membership_creator ON ` + p + `auth_membership(creator, "user", is_active);
CREATE INDEX IF NOT EXISTS idx_auth_permission_creator ON ` + p + `auth_permission(creator, is_active);
`
}

func coreSQLite(p string) string {
	return `
CREATE TABLE IF NOT EXISTS ` + p + `auth_role (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    creator TEXT NOT NULL,
    role TEXT NOT NULL,
    description TEXT,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(creator, role)
);

CREATE TABLE IF NOT EXISTS ` + p + `auth_membership (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    creator TEXT NOT NULL,
    user TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(creator, user)
);

CREATE TABLE IF NOT EXISTS ` + p + `auth_permission (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    creator TEXT NOT NULL,
    name TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(creator, name)
);

CREATE TABLE IF NOT EXISTS ` + p + `membership_roles (
    membership_id INTEGER NOT NULL REFERENCES ` + p + `auth_membership(id) ON DELETE CASCADE,
    role_id INTEGER NOT NULL REFERENCES ` + p + `auth_role(id) ON DELETE CASCADE,
    PRIMARY KEY (membership_id, role_id)
);

CREATE TABLE IF NOT EXISTS ` + p + `permission_roles (
    permission_id INTEGER NOT NULL REFERENCES ` + p + `auth_permission(id) ON DELETE CASCADE,
    role_id INTEGER NOT NULL REFERENCES ` + p + `auth_role(id) ON DELETE CASCADE,
    PRIMARY KEY (permission_id, role_id)
);

CREATE INDEX IF NOT EXISTS idx_auth_role_creator ON ` + p + `auth_role(creator, is_active);
CREATE INDEX IF NOT EXISTS idx_auth_membership_creator ON ` + p + `auth_membership(creator, user, is_active);
CREATE INDEX IF NOT EXISTS idx_auth_permission_creator ON ` + p + `auth_permission(creator, is_active);
`
}

func dropCore(p string) string {
	return `
DROP TABLE IF EXISTS ` + p + `permission_roles;
DROP TABLE IF EXISTS ` + p + `membership_roles;
DROP TABLE IF EXISTS ` + p + `auth_permission;
DROP TABLE IF EXISTS ` + p + `auth_membership;
DROP TABLE IF EXISTS ` + p + `auth_role;
`
}

func auditPostgres(p string) string {
	return `
CREATE TABLE IF NOT EXISTS ` + p + `audit_log (
    id SERIAL PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL DEFAULT NOW(),
    creator VARCHAR(36) NOT NULL,
    actor_user TEXT,
    action VARCHAR(64) NOT NULL,
    resource TEXT NOT NULL,
    detail TEXT,
    client_ip VARCHAR(64),
    user_agent TEXT,
    success BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_creator ON ` + p + `audit_log(creator, timestamp);
`
}

func auditSQLite(p string) string {
	return `
CREATE TABLE IF NOT EXISTS ` + p + `audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    creator TEXT NOT NULL,
    actor_user TEXT,
    action TEXT NOT NULL,
    resource TEXT NOT NULL,
    detail TEXT,
    client_ip TEXT,
    user_agent TEXT,
    success BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_creator ON ` + p + `audit_log(creator, timestamp);
`
}

func dropAudit(p string) string {
	return `DROP TABLE IF EXISTS ` + p + `audit_log;`
}
