package rbac

import "testing"

func TestMigrationScriptSelectsDialect(t *testing.T) {
	m := Migration{UpPostgres: "pg-up", UpSQLite: "lite-up", DownPostgres: "pg-down", DownSQLite: "lite-down"}

	if got := m.Script(DialectPostgres); got != "pg-up" {
		t.Errorf("Script(postgres) = %q, want pg-up", got)
	}
	if got := m.Script(DialectSQLite); got != "lite-up" {
		t.Errorf("Script(sqlite) = %q, want lite-up", got)
	}
	if got := m.RollbackScript(DialectPostgres); got != "pg-down" {
		t.Errorf("RollbackScript(postgres) = %q, want pg-down", got)
	}
	if got := m.RollbackScript(DialectSQLite); got != "lite-down" {
		t.Errorf("RollbackScript(sqlite) = %q, want lite-down", got)
	}
}

func TestGetMigrationsIsOrderedAndQualifiesSchema(t *testing.T) {
	unqualified := GetMigrations("")
	if len(unqualified) < 2 {
		t.Fatalf("GetMigrations(\"\") returned %d migrations, want at least 2", len(unqualified))
	}
	for i := 1; i < len(unqualified); i++ {
		if unqualified[i].Version <= unqualified[i-1].Version {
			t.Errorf("migrations are not strictly ordered by Version: %d then %d", unqualified[i-1].Version, unqualified[i].Version)
		}
	}

	qualified := GetMigrations("tenant_schema")
	if qualified[0].UpPostgres == unqualified[0].UpPostgres {
		t.Error("GetMigrations with a schema did not change the generated DDL")
	}
}

func TestParamAndPlaceholders(t *testing.T) {
	if got := param(DialectSQLite, 3); got != "?" {
		t.Errorf("param(sqlite, 3) = %q, want ?", got)
	}
	if got := param(DialectPostgres, 3); got != "$3" {
		t.Errorf("param(postgres, 3) = %q, want $3", got)
	}

	if got := placeholders(DialectSQLite, 3); got != "?, ?, ?" {
		t.Errorf("placeholders(sqlite, 3) = %q, want \"?, ?, ?\"", got)
	}
	if got := placeholders(DialectPostgres, 3); got != "$1, $2, $3" {
		t.Errorf("placeholders(postgres, 3) = %q, want \"$1, $2, $3\"", got)
	}
}
