package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store defines the persistence operations the Engine composes into the
// authorization decisions and administrative commands of spec.md §4. Every
// method is scoped to a single tenant ("creator") — the Store never reasons
// across tenants, and callers never pass an unvalidated creator string in.
//
// All methods are safe for concurrent use; implementations rely on the
// database's own concurrency control (unique constraints, upserts) rather
// than in-process locking, since rbacd itself may run as multiple replicas
// in front of one database.
type Store interface {
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error

	// UpsertRole creates or revives a role. If a tombstoned (is_active =
	// false) row already exists for (creator, role), it is revived in
	// place with the new description rather than inserted as a new row —
	// this is how role identity survives a delete/recreate cycle.
	UpsertRole(ctx context.Context, creator, role, description string) (*Role, error)
	// DeactivateRole tombstones role if it exists and is currently active.
	// It reports whether that state change occurred; a role that does not
	// exist, or that was already inactive, returns (false, nil) rather than
	// an error — deletion has no precondition to fail (spec.md §4.1).
	DeactivateRole(ctx context.Context, creator, role string) (bool, error)
	GetRole(ctx context.Context, creator, role string) (*Role, error)
	ListRoles(ctx context.Context, creator string) ([]RoleSummary, error)

	UpsertPermission(ctx context.Context, creator, name string) (*Permission, error)
	GetPermission(ctx context.Context, creator, name string) (*Permission, error)

	UpsertMembership(ctx context.Context, creator, user string) (*Membership, error)

	// LinkMembershipRole grants role to user. It returns a KindNotFound
	// *Error when role does not exist (a membership can never be granted a
	// role that cannot be resolved) — the Engine, not the Store, decides
	// whether that surfaces as an HTTP error or a result:false payload.
	LinkMembershipRole(ctx context.Context, creator, user, role string) error
	// UnlinkMembershipRole revokes role from user if the link exists. It is
	// a no-op, not an error, when the membership or role row is missing or
	// the link was never present — the post-state always lacks the link
	// (spec.md §4.3).
	UnlinkMembershipRole(ctx context.Context, creator, user, role string) error
	// LinkPermissionRole grants permission to role. Returns KindNotFound
	// when role does not exist.
	LinkPermissionRole(ctx context.Context, creator, role, permission string) error
	// UnlinkPermissionRole revokes permission from role; a no-op when
	// either side is missing.
	UnlinkPermissionRole(ctx context.Context, creator, role, permission string) error

	HasMembership(ctx context.Context, creator, user, role string) (bool, error)
	RoleHasPermission(ctx context.Context, creator, role, permission string) (bool, error)
	UserHasPermission(ctx context.Context, creator, user, permission string) (bool, error)

	WhichRolesCan(ctx context.Context, creator, permission string) ([]RoleSummary, error)
	WhichUsersCan(ctx context.Context, creator, permission string) ([]UserRole, error)

	GetUserRoles(ctx context.Context, creator, user string) ([]UserRole, error)
	GetRoleMembers(ctx context.Context, creator, role string) ([]UserRole, error)
	GetUserPermissions(ctx context.Context, creator, user string) ([]PermissionName, error)
	GetRolePermissions(ctx context.Context, creator, role string) ([]PermissionName, error)

	RecordAudit(ctx context.Context, rec *AuditRecord) error
	ListAudit(ctx context.Context, creator string, limit int) ([]AuditRecord, error)
}

// SQLStore implements Store against either PostgreSQL (lib/pq) or SQLite
// (mattn/go-sqlite3), selected at construction time by dialect. User and
// permission names are passed through cipher before they touch the database
// and after they leave it, so equality filters keep working against
// ciphertext (spec.md §4.2) while callers only ever see plaintext.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	schema  string
	cipher  *FieldCipher
}

// NewSQLStore wraps an already-open *sql.DB. The caller owns the
// connection's lifecycle up to Close.
func NewSQLStore(db *sql.DB, dialect Dialect, schema string, cipher *FieldCipher) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, schema: schema, cipher: cipher}
}

// dbExecutor is satisfied by both *sql.DB and *sql.Tx. Lookup/upsert
// helpers take one of these instead of a bare *sql.DB so a composite
// mutation that touches more than one table — upserting an endpoint row
// then inserting its junction row — can run every statement against the
// same transaction and leave no partial state on failure (spec.md §4.1).
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return StoreUnavailable("database unreachable", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) table(name string) string {
	if s.schema != "" {
		return s.schema + "." + name
	}
	return name
}

func (s *SQLStore) p(n int) string { return param(s.dialect, n) }

func (s *SQLStore) now() time.Time { return time.Now().UTC() }

// UpsertRole inserts a new role or revives a tombstoned one, returning the
// row in either case. The same surrogate ID persists across a
// deactivate/upsert cycle.
// UpsertRole creates or revives a role. The insert-or-ignore, the revive
// update, and the re-fetch run inside one transaction (spec.md §4.1) so
// two concurrent creations of the same new role never race: the loser of
// the INSERT ON CONFLICT DO NOTHING simply falls through to the same
// revive-then-fetch path the winner took, and both return {result:true}
// against exactly one row (spec.md §9 scenario S7).
func (s *SQLStore) UpsertRole(ctx context.Context, creator, role, description string) (*Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, StoreUnavailable("begin transaction", err)
	}
	defer tx.Rollback()

	enc := s.cipher.Encrypt(description)
	now := s.now()

	insertQ := fmt.Sprintf(`INSERT INTO %s (creator, role, description, is_active, created_at, modified_at)
		VALUES (%s, %s, %s, %s, %s, %s)`,
		s.table("auth_role"), s.p(1), s.p(2), s.p(3), s.p(4), s.p(5), s.p(6))
	if s.dialect == DialectSQLite {
		insertQ = fmt.Sprintf(`INSERT OR IGNORE INTO %s (creator, role, description, is_active, created_at, modified_at)
			VALUES (%s, %s, %s, %s, %s, %s)`,
			s.table("auth_role"), s.p(1), s.p(2), s.p(3), s.p(4), s.p(5), s.p(6))
	} else {
		insertQ += ` ON CONFLICT (creator, role) DO NOTHING`
	}
	if _, err := tx.ExecContext(ctx, insertQ, creator, role, enc, true, now, now); err != nil {
		return nil, StoreUnavailable("insert role", err)
	}

	reviveQ := fmt.Sprintf(`UPDATE %s SET description = %s, is_active = %s, modified_at = %s
		WHERE creator = %s AND role = %s`,
		s.table("auth_role"), s.p(1), s.p(2), s.p(3), s.p(4), s.p(5))
	if _, err := tx.ExecContext(ctx, reviveQ, enc, true, now, creator, role); err != nil {
		return nil, StoreUnavailable("revive role", err)
	}

	q := fmt.Sprintf(`SELECT id, creator, role, description, is_active, created_at, modified_at
		FROM %s WHERE creator = %s AND role = %s`, s.table("auth_role"), s.p(1), s.p(2))
	var r Role
	var desc sql.NullString
	if err := tx.QueryRowContext(ctx, q, creator, role).Scan(
		&r.ID, &r.Creator, &r.Role, &desc, &r.IsActive, &r.CreatedAt, &r.ModifiedAt); err != nil {
		return nil, StoreUnavailable("get role after upsert", err)
	}
	if desc.Valid {
		r.Description = s.cipher.Decrypt(desc.String)
	}

	if err := tx.Commit(); err != nil {
		return nil, StoreUnavailable("commit role upsert", err)
	}
	return &r, nil
}

func (s *SQLStore) GetRole(ctx context.Context, creator, role string) (*Role, error) {
	q := fmt.Sprintf(`SELECT id, creator, role, description, is_active, created_at, modified_at
		FROM %s WHERE creator = %s AND role = %s`, s.table("auth_role"), s.p(1), s.p(2))
	var r Role
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, q, creator, role).Scan(
		&r.ID, &r.Creator, &r.Role, &desc, &r.IsActive, &r.CreatedAt, &r.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("role not found")
	}
	if err != nil {
		return nil, StoreUnavailable("get role", err)
	}
	r.Description = s.cipher.Decrypt(desc.String)
	return &r, nil
}

func (s *SQLStore) DeactivateRole(ctx context.Context, creator, role string) (bool, error) {
	q := fmt.Sprintf(`UPDATE %s SET is_active = %s, modified_at = %s
		WHERE creator = %s AND role = %s AND is_active = %s`,
		s.table("auth_role"), s.p(1), s.p(2), s.p(3), s.p(4), s.p(5))
	res, err := s.db.ExecContext(ctx, q, false, s.now(), creator, role, true)
	if err != nil {
		return false, StoreUnavailable("deactivate role", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLStore) ListRoles(ctx context.Context, creator string) ([]RoleSummary, error) {
	q := fmt.Sprintf(`SELECT role, description FROM %s WHERE creator = %s AND is_active = %s ORDER BY role`,
		s.table("auth_role"), s.p(1), s.p(2))
	rows, err := s.db.QueryContext(ctx, q, creator, true)
	if err != nil {
		return nil, StoreUnavailable("list roles", err)
	}
	defer rows.Close()

	var out []RoleSummary
	for rows.Next() {
		var rs RoleSummary
		var desc sql.NullString
		if err := rows.Scan(&rs.Role, &desc); err != nil {
			return nil, StoreUnavailable("scan role", err)
		}
		rs.Description = s.cipher.Decrypt(desc.String)
		out = append(out, rs)
	}
	return out, nil
}

// UpsertPermission creates or revives a permission. The insert/update and
// the re-fetch that confirms it run inside one transaction (spec.md §4.1).
func (s *SQLStore) UpsertPermission(ctx context.Context, creator, name string) (*Permission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, StoreUnavailable("begin transaction", err)
	}
	defer tx.Rollback()

	perm, err := s.upsertPermissionTx(ctx, tx, creator, name)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, StoreUnavailable("commit permission upsert", err)
	}
	return perm, nil
}

// upsertPermissionTx does the actual insert-or-revive-then-fetch, against
// whatever executor ex names — the transaction UpsertPermission opens for a
// standalone call, or one already opened by a caller composing a larger
// mutation (e.g. LinkPermissionRole upserting the permission endpoint
// before linking it).
func (s *SQLStore) upsertPermissionTx(ctx context.Context, ex dbExecutor, creator, name string) (*Permission, error) {
	enc := s.cipher.Encrypt(name)

	_, err := s.getPermissionTx(ctx, ex, creator, name)
	switch {
	case err == nil:
		q := fmt.Sprintf(`UPDATE %s SET is_active = %s, modified_at = %s WHERE creator = %s AND name = %s`,
			s.table("auth_permission"), s.p(1), s.p(2), s.p(3), s.p(4))
		if _, err := ex.ExecContext(ctx, q, true, s.now(), creator, enc); err != nil {
			return nil, StoreUnavailable("revive permission", err)
		}
	case isNotFound(err):
		now := s.now()
		q := fmt.Sprintf(`INSERT INTO %s (creator, name, is_active, created_at, modified_at)
			VALUES (%s, %s, %s, %s, %s)`, s.table("auth_permission"), s.p(1), s.p(2), s.p(3), s.p(4), s.p(5))
		if _, err := ex.ExecContext(ctx, q, creator, enc, true, now, now); err != nil {
			return nil, StoreUnavailable("insert permission", err)
		}
	default:
		return nil, err
	}

	return s.getPermissionTx(ctx, ex, creator, name)
}

func (s *SQLStore) GetPermission(ctx context.Context, creator, name string) (*Permission, error) {
	return s.getPermissionTx(ctx, s.db, creator, name)
}

func (s *SQLStore) getPermissionTx(ctx context.Context, ex dbExecutor, creator, name string) (*Permission, error) {
	enc := s.cipher.Encrypt(name)
	q := fmt.Sprintf(`SELECT id, creator, name, is_active, created_at, modified_at
		FROM %s WHERE creator = %s AND name = %s`, s.table("auth_permission"), s.p(1), s.p(2))
	var perm Permission
	var stored string
	err := ex.QueryRowContext(ctx, q, creator, enc).Scan(
		&perm.ID, &perm.Creator, &stored, &perm.IsActive, &perm.CreatedAt, &perm.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("permission not found")
	}
	if err != nil {
		return nil, StoreUnavailable("get permission", err)
	}
	perm.Name = s.cipher.Decrypt(stored)
	return &perm, nil
}

// UpsertMembership creates or revives a membership row. The insert, the
// revive update, and the re-fetch all run inside one transaction (spec.md
// §4.1) so a failure partway through never leaves a half-written row.
func (s *SQLStore) UpsertMembership(ctx context.Context, creator, user string) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, StoreUnavailable("begin transaction", err)
	}
	defer tx.Rollback()

	m, err := s.upsertMembershipTx(ctx, tx, creator, user)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, StoreUnavailable("commit membership upsert", err)
	}
	return m, nil
}

// upsertMembershipTx is UpsertMembership's body, parameterized over ex so a
// caller composing a larger mutation (LinkMembershipRole) can run it as
// part of its own transaction instead of opening a nested one.
func (s *SQLStore) upsertMembershipTx(ctx context.Context, ex dbExecutor, creator, user string) (*Membership, error) {
	enc := s.cipher.Encrypt(user)
	now := s.now()

	q := fmt.Sprintf(`INSERT INTO %s (creator, "user", is_active, created_at, modified_at)
		VALUES (%s, %s, %s, %s, %s)`, s.table("auth_membership"), s.p(1), s.p(2), s.p(3), s.p(4), s.p(5))
	if s.dialect == DialectSQLite {
		q = fmt.Sprintf(`INSERT OR IGNORE INTO %s (creator, user, is_active, created_at, modified_at)
			VALUES (%s, %s, %s, %s, %s)`, s.table("auth_membership"), s.p(1), s.p(2), s.p(3), s.p(4), s.p(5))
	} else {
		q += ` ON CONFLICT (creator, "user") DO NOTHING`
	}
	if _, err := ex.ExecContext(ctx, q, creator, enc, true, now, now); err != nil {
		return nil, StoreUnavailable("insert membership", err)
	}

	reviveQ := fmt.Sprintf(`UPDATE %s SET is_active = %s, modified_at = %s WHERE creator = %s AND "user" = %s`,
		s.table("auth_membership"), s.p(1), s.p(2), s.p(3), s.p(4))
	if s.dialect == DialectSQLite {
		reviveQ = fmt.Sprintf(`UPDATE %s SET is_active = %s, modified_at = %s WHERE creator = %s AND user = %s`,
			s.table("auth_membership"), s.p(1), s.p(2), s.p(3), s.p(4))
	}
	if _, err := ex.ExecContext(ctx, reviveQ, true, now, creator, enc); err != nil {
		return nil, StoreUnavailable("revive membership", err)
	}

	userCol := `"user"`
	if s.dialect == DialectSQLite {
		userCol = "user"
	}
	q2 := fmt.Sprintf(`SELECT id, creator, %s, is_active, created_at, modified_at FROM %s WHERE creator = %s AND %s = %s`,
		userCol, s.table("auth_membership"), s.p(1), userCol, s.p(2))
	var m Membership
	var stored string
	if err := ex.QueryRowContext(ctx, q2, creator, enc).Scan(
		&m.ID, &m.Creator, &stored, &m.IsActive, &m.CreatedAt, &m.ModifiedAt); err != nil {
		return nil, StoreUnavailable("get membership after upsert", err)
	}
	m.User = s.cipher.Decrypt(stored)
	return &m, nil
}

func (s *SQLStore) membershipID(ctx context.Context, ex dbExecutor, creator, user string) (int64, error) {
	enc := s.cipher.Encrypt(user)
	userCol := `"user"`
	if s.dialect == DialectSQLite {
		userCol = "user"
	}
	q := fmt.Sprintf(`SELECT id FROM %s WHERE creator = %s AND %s = %s`, s.table("auth_membership"), s.p(1), userCol, s.p(2))
	var id int64
	err := ex.QueryRowContext(ctx, q, creator, enc).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, NotFound("membership not found")
	}
	if err != nil {
		return 0, StoreUnavailable("lookup membership", err)
	}
	return id, nil
}

func (s *SQLStore) roleID(ctx context.Context, ex dbExecutor, creator, role string) (int64, error) {
	q := fmt.Sprintf(`SELECT id FROM %s WHERE creator = %s AND role = %s AND is_active = %s`,
		s.table("auth_role"), s.p(1), s.p(2), s.p(3))
	var id int64
	err := ex.QueryRowContext(ctx, q, creator, role, true).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, NotFound("role not found")
	}
	if err != nil {
		return 0, StoreUnavailable("lookup role", err)
	}
	return id, nil
}

func (s *SQLStore) permissionID(ctx context.Context, ex dbExecutor, creator, name string) (int64, error) {
	enc := s.cipher.Encrypt(name)
	q := fmt.Sprintf(`SELECT id FROM %s WHERE creator = %s AND name = %s AND is_active = %s`,
		s.table("auth_permission"), s.p(1), s.p(2), s.p(3))
	var id int64
	err := ex.QueryRowContext(ctx, q, creator, enc, true).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, NotFound("permission not found")
	}
	if err != nil {
		return 0, StoreUnavailable("lookup permission", err)
	}
	return id, nil
}

// LinkMembershipRole grants role to user, creating the membership row on
// first grant. It is idempotent: granting a role the user already holds
// succeeds without creating a duplicate junction row. The membership
// lookup-or-create, the role lookup, and the junction insert all run in
// one transaction (spec.md §4.1).
func (s *SQLStore) LinkMembershipRole(ctx context.Context, creator, user, role string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoreUnavailable("begin transaction", err)
	}
	defer tx.Rollback()

	mID, err := s.membershipID(ctx, tx, creator, user)
	if isNotFound(err) {
		m, uerr := s.upsertMembershipTx(ctx, tx, creator, user)
		if uerr != nil {
			return uerr
		}
		mID = m.ID
	} else if err != nil {
		return err
	}

	rID, err := s.roleID(ctx, tx, creator, role)
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`INSERT INTO %s (membership_id, role_id) VALUES (%s, %s)`,
		s.table("membership_roles"), s.p(1), s.p(2))
	if s.dialect == DialectSQLite {
		q = fmt.Sprintf(`INSERT OR IGNORE INTO %s (membership_id, role_id) VALUES (%s, %s)`,
			s.table("membership_roles"), s.p(1), s.p(2))
	} else {
		q += ` ON CONFLICT (membership_id, role_id) DO NOTHING`
	}
	if _, err := tx.ExecContext(ctx, q, mID, rID); err != nil {
		return StoreUnavailable("link membership role", err)
	}

	if err := tx.Commit(); err != nil {
		return StoreUnavailable("commit membership role link", err)
	}
	return nil
}

// UnlinkMembershipRole revokes role from user. Per spec.md §4.3 this always
// leaves the post-state without the link, so a missing membership or role
// row is not an error — there is simply nothing to delete.
func (s *SQLStore) UnlinkMembershipRole(ctx context.Context, creator, user, role string) error {
	mID, err := s.membershipID(ctx, s.db, creator, user)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	rID, err := s.roleID(ctx, s.db, creator, role)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE membership_id = %s AND role_id = %s`,
		s.table("membership_roles"), s.p(1), s.p(2))
	if _, err := s.db.ExecContext(ctx, q, mID, rID); err != nil {
		return StoreUnavailable("unlink membership role", err)
	}
	return nil
}

// LinkPermissionRole grants permission to role, creating the permission
// endpoint on first use. The role lookup, the permission lookup-or-create,
// and the junction insert all run in one transaction (spec.md §4.1).
func (s *SQLStore) LinkPermissionRole(ctx context.Context, creator, role, permission string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoreUnavailable("begin transaction", err)
	}
	defer tx.Rollback()

	rID, err := s.roleID(ctx, tx, creator, role)
	if err != nil {
		return err
	}
	pID, err := s.permissionID(ctx, tx, creator, permission)
	if isNotFound(err) {
		p, uerr := s.upsertPermissionTx(ctx, tx, creator, permission)
		if uerr != nil {
			return uerr
		}
		pID = p.ID
	} else if err != nil {
		return err
	}

	q := fmt.Sprintf(`INSERT INTO %s (permission_id, role_id) VALUES (%s, %s)`,
		s.table("permission_roles"), s.p(1), s.p(2))
	if s.dialect == DialectSQLite {
		q = fmt.Sprintf(`INSERT OR IGNORE INTO %s (permission_id, role_id) VALUES (%s, %s)`,
			s.table("permission_roles"), s.p(1), s.p(2))
	} else {
		q += ` ON CONFLICT (permission_id, role_id) DO NOTHING`
	}
	if _, err := tx.ExecContext(ctx, q, pID, rID); err != nil {
		return StoreUnavailable("link permission role", err)
	}

	if err := tx.Commit(); err != nil {
		return StoreUnavailable("commit permission role link", err)
	}
	return nil
}

// UnlinkPermissionRole revokes permission from role; a missing role or
// permission row means the link cannot exist, so this is a no-op rather
// than an error (spec.md §4.3).
func (s *SQLStore) UnlinkPermissionRole(ctx context.Context, creator, role, permission string) error {
	rID, err := s.roleID(ctx, s.db, creator, role)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	pID, err := s.permissionID(ctx, s.db, creator, permission)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE permission_id = %s AND role_id = %s`,
		s.table("permission_roles"), s.p(1), s.p(2))
	if _, err := s.db.ExecContext(ctx, q, pID, rID); err != nil {
		return StoreUnavailable("unlink permission role", err)
	}
	return nil
}

func (s *SQLStore) HasMembership(ctx context.Context, creator, user, role string) (bool, error) {
	enc := s.cipher.Encrypt(user)
	userCol := `m."user"`
	if s.dialect == DialectSQLite {
		userCol = "m.user"
	}
	q := fmt.Sprintf(`SELECT EXISTS(
		SELECT 1 FROM %s mr
		JOIN %s m ON m.id = mr.membership_id
		JOIN %s r ON r.id = mr.role_id
		WHERE m.creator = %s AND %s = %s AND r.role = %s
		AND m.is_active = %s AND r.is_active = %s
	)`, s.table("membership_roles"), s.table("auth_membership"), s.table("auth_role"),
		s.p(1), userCol, s.p(2), s.p(3), s.p(4), s.p(5))
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, creator, enc, role, true, true).Scan(&exists); err != nil {
		return false, StoreUnavailable("check membership", err)
	}
	return exists, nil
}

func (s *SQLStore) RoleHasPermission(ctx context.Context, creator, role, permission string) (bool, error) {
	enc := s.cipher.Encrypt(permission)
	q := fmt.Sprintf(`SELECT EXISTS(
		SELECT 1 FROM %s pr
		JOIN %s p ON p.id = pr.permission_id
		JOIN %s r ON r.id = pr.role_id
		WHERE r.creator = %s AND r.role = %s AND p.name = %s
		AND r.is_active = %s AND p.is_active = %s
	)`, s.table("permission_roles"), s.table("auth_permission"), s.table("auth_role"),
		s.p(1), s.p(2), s.p(3), s.p(4), s.p(5))
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, creator, role, enc, true, true).Scan(&exists); err != nil {
		return false, StoreUnavailable("check role permission", err)
	}
	return exists, nil
}

// UserHasPermission answers the core authorization question (spec.md §4.1)
// in a single join across membership -> membership_roles -> role ->
// permission_roles -> permission, rather than fetching the user's roles and
// then checking each one individually.
func (s *SQLStore) UserHasPermission(ctx context.Context, creator, user, permission string) (bool, error) {
	encUser := s.cipher.Encrypt(user)
	encPerm := s.cipher.Encrypt(permission)
	userCol := `m."user"`
	if s.dialect == DialectSQLite {
		userCol = "m.user"
	}
	q := fmt.Sprintf(`SELECT EXISTS(
		SELECT 1
		FROM %s m
		JOIN %s mr ON mr.membership_id = m.id
		JOIN %s r ON r.id = mr.role_id
		JOIN %s pr ON pr.role_id = r.id
		JOIN %s p ON p.id = pr.permission_id
		WHERE m.creator = %s AND %s = %s AND p.name = %s
		AND m.is_active = %s AND r.is_active = %s AND p.is_active = %s
	)`, s.table("auth_membership"), s.table("membership_roles"), s.table("auth_role"),
		s.table("permission_roles"), s.table("auth_permission"),
		s.p(1), userCol, s.p(2), s.p(3), s.p(4), s.p(5), s.p(6))
	var exists bool
	err := s.db.QueryRowContext(ctx, q, creator, encUser, encPerm, true, true, true).Scan(&exists)
	if err != nil {
		return false, StoreUnavailable("check user permission", err)
	}
	return exists, nil
}

func (s *SQLStore) WhichRolesCan(ctx context.Context, creator, permission string) ([]RoleSummary, error) {
	enc := s.cipher.Encrypt(permission)
	q := fmt.Sprintf(`SELECT DISTINCT r.role, r.description
		FROM %s r
		JOIN %s pr ON pr.role_id = r.id
		JOIN %s p ON p.id = pr.permission_id
		WHERE r.creator = %s AND p.name = %s AND r.is_active = %s AND p.is_active = %s
		ORDER BY r.role`,
		s.table("auth_role"), s.table("permission_roles"), s.table("auth_permission"),
		s.p(1), s.p(2), s.p(3), s.p(4))
	rows, err := s.db.QueryContext(ctx, q, creator, enc, true, true)
	if err != nil {
		return nil, StoreUnavailable("which roles can", err)
	}
	defer rows.Close()

	var out []RoleSummary
	for rows.Next() {
		var rs RoleSummary
		var desc sql.NullString
		if err := rows.Scan(&rs.Role, &desc); err != nil {
			return nil, StoreUnavailable("scan role", err)
		}
		rs.Description = s.cipher.Decrypt(desc.String)
		out = append(out, rs)
	}
	return out, nil
}

// WhichUsersCan returns one row per (user, role) pairing that grants
// permission — a user holding the permission through two roles appears
// twice, matching the reverse-lookup semantics of spec.md §4.1 and §9.
func (s *SQLStore) WhichUsersCan(ctx context.Context, creator, permission string) ([]UserRole, error) {
	enc := s.cipher.Encrypt(permission)
	userCol := `m."user"`
	if s.dialect == DialectSQLite {
		userCol = "m.user"
	}
	q := fmt.Sprintf(`SELECT %s, r.role
		FROM %s m
		JOIN %s mr ON mr.membership_id = m.id
		JOIN %s r ON r.id = mr.role_id
		JOIN %s pr ON pr.role_id = r.id
		JOIN %s p ON p.id = pr.permission_id
		WHERE m.creator = %s AND p.name = %s
		AND m.is_active = %s AND r.is_active = %s AND p.is_active = %s
		ORDER BY m.id, r.role`,
		userCol, s.table("auth_membership"), s.table("membership_roles"), s.table("auth_role"),
		s.table("permission_roles"), s.table("auth_permission"),
		s.p(1), s.p(2), s.p(3), s.p(4), s.p(5))
	rows, err := s.db.QueryContext(ctx, q, creator, enc, true, true, true)
	if err != nil {
		return nil, StoreUnavailable("which users can", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var stored, role string
		if err := rows.Scan(&stored, &role); err != nil {
			return nil, StoreUnavailable("scan user", err)
		}
		out = append(out, UserRole{User: s.cipher.Decrypt(stored), Role: role})
	}
	return out, nil
}

func (s *SQLStore) GetUserRoles(ctx context.Context, creator, user string) ([]UserRole, error) {
	enc := s.cipher.Encrypt(user)
	userCol := `m."user"`
	if s.dialect == DialectSQLite {
		userCol = "m.user"
	}
	q := fmt.Sprintf(`SELECT r.role
		FROM %s m
		JOIN %s mr ON mr.membership_id = m.id
		JOIN %s r ON r.id = mr.role_id
		WHERE m.creator = %s AND %s = %s AND m.is_active = %s AND r.is_active = %s
		ORDER BY r.role`,
		s.table("auth_membership"), s.table("membership_roles"), s.table("auth_role"),
		s.p(1), userCol, s.p(2), s.p(3), s.p(4))
	rows, err := s.db.QueryContext(ctx, q, creator, enc, true, true)
	if err != nil {
		return nil, StoreUnavailable("get user roles", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, StoreUnavailable("scan role", err)
		}
		out = append(out, UserRole{User: user, Role: role})
	}
	return out, nil
}

func (s *SQLStore) GetRoleMembers(ctx context.Context, creator, role string) ([]UserRole, error) {
	userCol := `m."user"`
	if s.dialect == DialectSQLite {
		userCol = "m.user"
	}
	q := fmt.Sprintf(`SELECT %s
		FROM %s m
		JOIN %s mr ON mr.membership_id = m.id
		JOIN %s r ON r.id = mr.role_id
		WHERE r.creator = %s AND r.role = %s AND m.is_active = %s AND r.is_active = %s
		ORDER BY m.id`,
		userCol, s.table("auth_membership"), s.table("membership_roles"), s.table("auth_role"),
		s.p(1), s.p(2), s.p(3), s.p(4))
	rows, err := s.db.QueryContext(ctx, q, creator, role, true, true)
	if err != nil {
		return nil, StoreUnavailable("get role members", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return nil, StoreUnavailable("scan member", err)
		}
		out = append(out, UserRole{User: s.cipher.Decrypt(stored), Role: role})
	}
	return out, nil
}

func (s *SQLStore) GetUserPermissions(ctx context.Context, creator, user string) ([]PermissionName, error) {
	enc := s.cipher.Encrypt(user)
	userCol := `m."user"`
	if s.dialect == DialectSQLite {
		userCol = "m.user"
	}
	q := fmt.Sprintf(`SELECT DISTINCT p.name
		FROM %s m
		JOIN %s mr ON mr.membership_id = m.id
		JOIN %s r ON r.id = mr.role_id
		JOIN %s pr ON pr.role_id = r.id
		JOIN %s p ON p.id = pr.permission_id
		WHERE m.creator = %s AND %s = %s
		AND m.is_active = %s AND r.is_active = %s AND p.is_active = %s
		ORDER BY p.name`,
		s.table("auth_membership"), s.table("membership_roles"), s.table("auth_role"),
		s.table("permission_roles"), s.table("auth_permission"),
		s.p(1), userCol, s.p(2), s.p(3), s.p(4), s.p(5))
	rows, err := s.db.QueryContext(ctx, q, creator, enc, true, true, true)
	if err != nil {
		return nil, StoreUnavailable("get user permissions", err)
	}
	defer rows.Close()

	var out []PermissionName
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return nil, StoreUnavailable("scan permission", err)
		}
		out = append(out, PermissionName{Name: s.cipher.Decrypt(stored)})
	}
	return out, nil
}

func (s *SQLStore) GetRolePermissions(ctx context.Context, creator, role string) ([]PermissionName, error) {
	q := fmt.Sprintf(`SELECT DISTINCT p.name
		FROM %s r
		JOIN %s pr ON pr.role_id = r.id
		JOIN %s p ON p.id = pr.permission_id
		WHERE r.creator = %s AND r.role = %s AND r.is_active = %s AND p.is_active = %s
		ORDER BY p.name`,
		s.table("auth_role"), s.table("permission_roles"), s.table("auth_permission"),
		s.p(1), s.p(2), s.p(3), s.p(4))
	rows, err := s.db.QueryContext(ctx, q, creator, role, true, true)
	if err != nil {
		return nil, StoreUnavailable("get role permissions", err)
	}
	defer rows.Close()

	var out []PermissionName
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return nil, StoreUnavailable("scan permission", err)
		}
		out = append(out, PermissionName{Name: s.cipher.Decrypt(stored)})
	}
	return out, nil
}

// RecordAudit appends one row to the audit log. Rows are never updated or
// deleted by the engine (invariant I4).
func (s *SQLStore) RecordAudit(ctx context.Context, rec *AuditRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s (timestamp, creator, actor_user, action, resource, detail, client_ip, user_agent, success)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.table("audit_log"), s.p(1), s.p(2), s.p(3), s.p(4), s.p(5), s.p(6), s.p(7), s.p(8), s.p(9))
	_, err := s.db.ExecContext(ctx, q, rec.Timestamp, rec.Creator, rec.ActorUser, string(rec.Action),
		rec.Resource, rec.Detail, rec.ClientIP, rec.UserAgent, rec.Success)
	if err != nil {
		return StoreUnavailable("record audit", err)
	}
	return nil
}

func (s *SQLStore) ListAudit(ctx context.Context, creator string, limit int) ([]AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT id, timestamp, creator, actor_user, action, resource, detail, client_ip, user_agent, success
		FROM %s WHERE creator = %s ORDER BY timestamp DESC, id DESC LIMIT %s`,
		s.table("audit_log"), s.p(1), s.p(2))
	rows, err := s.db.QueryContext(ctx, q, creator, limit)
	if err != nil {
		return nil, StoreUnavailable("list audit", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var actor, detail, ip, ua sql.NullString
		var action string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Creator, &actor, &action, &rec.Resource, &detail, &ip, &ua, &rec.Success); err != nil {
			return nil, StoreUnavailable("scan audit row", err)
		}
		rec.ActorUser, rec.Detail, rec.ClientIP, rec.UserAgent = actor.String, detail.String, ip.String, ua.String
		rec.Action = AuditAction(action)
		out = append(out, rec)
	}
	return out, nil
}

func isNotFound(err error) bool {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind == KindNotFound
	}
	return false
}
