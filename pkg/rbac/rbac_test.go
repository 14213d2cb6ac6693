package rbac

import (
	"context"
	"errors"
	"testing"
)

// fakeStore is an in-memory Store used to exercise the Engine without a
// database. It deliberately mirrors the soft-delete/revive and junction-table
// semantics SQLStore implements against real SQL, but keeps everything in
// plain Go maps so Engine tests stay fast and focused on validation/audit
// behavior rather than persistence.
type fakeStore struct {
	dialect Dialect

	roles       map[string]*Role          // key: creator+"/"+role
	permissions map[string]*Permission    // key: creator+"/"+name
	memberships map[string]*Membership    // key: creator+"/"+user
	memberRoles map[string]map[string]bool // key: creator+"/"+user -> role -> true
	rolePerms   map[string]map[string]bool // key: creator+"/"+role -> permission -> true

	audit []AuditRecord

	nextID int64

	failNextAudit bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		dialect:     DialectPostgres,
		roles:       map[string]*Role{},
		permissions: map[string]*Permission{},
		memberships: map[string]*Membership{},
		memberRoles: map[string]map[string]bool{},
		rolePerms:   map[string]map[string]bool{},
	}
}

func key(a, b string) string { return a + "/" + b }

func (f *fakeStore) Dialect() Dialect         { return f.dialect }
func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error             { return nil }

func (f *fakeStore) UpsertRole(ctx context.Context, creator, role, description string) (*Role, error) {
	k := key(creator, role)
	if r, ok := f.roles[k]; ok {
		r.Description = description
		r.IsActive = true
		return r, nil
	}
	f.nextID++
	r := &Role{ID: f.nextID, Creator: creator, Role: role, Description: description, IsActive: true}
	f.roles[k] = r
	return r, nil
}

func (f *fakeStore) DeactivateRole(ctx context.Context, creator, role string) (bool, error) {
	r, ok := f.roles[key(creator, role)]
	if !ok || !r.IsActive {
		return false, nil
	}
	r.IsActive = false
	return true, nil
}

func (f *fakeStore) GetRole(ctx context.Context, creator, role string) (*Role, error) {
	r, ok := f.roles[key(creator, role)]
	if !ok {
		return nil, NotFound("role not found")
	}
	return r, nil
}

func (f *fakeStore) ListRoles(ctx context.Context, creator string) ([]RoleSummary, error) {
	var out []RoleSummary
	for _, r := range f.roles {
		if r.Creator == creator && r.IsActive {
			out = append(out, RoleSummary{Role: r.Role, Description: r.Description})
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertPermission(ctx context.Context, creator, name string) (*Permission, error) {
	k := key(creator, name)
	if p, ok := f.permissions[k]; ok {
		p.IsActive = true
		return p, nil
	}
	f.nextID++
	p := &Permission{ID: f.nextID, Creator: creator, Name: name, IsActive: true}
	f.permissions[k] = p
	return p, nil
}

func (f *fakeStore) GetPermission(ctx context.Context, creator, name string) (*Permission, error) {
	p, ok := f.permissions[key(creator, name)]
	if !ok {
		return nil, NotFound("permission not found")
	}
	return p, nil
}

func (f *fakeStore) UpsertMembership(ctx context.Context, creator, user string) (*Membership, error) {
	k := key(creator, user)
	if m, ok := f.memberships[k]; ok {
		m.IsActive = true
		return m, nil
	}
	f.nextID++
	m := &Membership{ID: f.nextID, Creator: creator, User: user, IsActive: true}
	f.memberships[k] = m
	return m, nil
}

func (f *fakeStore) LinkMembershipRole(ctx context.Context, creator, user, role string) error {
	if _, ok := f.roles[key(creator, role)]; !ok {
		return NotFound("role not found")
	}
	if _, err := f.UpsertMembership(ctx, creator, user); err != nil {
		return err
	}
	mk := key(creator, user)
	if f.memberRoles[mk] == nil {
		f.memberRoles[mk] = map[string]bool{}
	}
	f.memberRoles[mk][role] = true
	return nil
}

func (f *fakeStore) UnlinkMembershipRole(ctx context.Context, creator, user, role string) error {
	mk := key(creator, user)
	if f.memberRoles[mk] != nil {
		delete(f.memberRoles[mk], role)
	}
	return nil
}

func (f *fakeStore) LinkPermissionRole(ctx context.Context, creator, role, permission string) error {
	if _, ok := f.roles[key(creator, role)]; !ok {
		return NotFound("role not found")
	}
	if _, err := f.UpsertPermission(ctx, creator, permission); err != nil {
		return err
	}
	rk := key(creator, role)
	if f.rolePerms[rk] == nil {
		f.rolePerms[rk] = map[string]bool{}
	}
	f.rolePerms[rk][permission] = true
	return nil
}

func (f *fakeStore) UnlinkPermissionRole(ctx context.Context, creator, role, permission string) error {
	rk := key(creator, role)
	if f.rolePerms[rk] != nil {
		delete(f.rolePerms[rk], permission)
	}
	return nil
}

func (f *fakeStore) HasMembership(ctx context.Context, creator, user, role string) (bool, error) {
	return f.memberRoles[key(creator, user)][role], nil
}

func (f *fakeStore) RoleHasPermission(ctx context.Context, creator, role, permission string) (bool, error) {
	return f.rolePerms[key(creator, role)][permission], nil
}

func (f *fakeStore) UserHasPermission(ctx context.Context, creator, user, permission string) (bool, error) {
	for role := range f.memberRoles[key(creator, user)] {
		if f.rolePerms[key(creator, role)][permission] {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) WhichRolesCan(ctx context.Context, creator, permission string) ([]RoleSummary, error) {
	var out []RoleSummary
	for rk, perms := range f.rolePerms {
		if !perms[permission] {
			continue
		}
		if r, ok := f.roles[rk]; ok && r.Creator == creator {
			out = append(out, RoleSummary{Role: r.Role, Description: r.Description})
		}
	}
	return out, nil
}

func (f *fakeStore) WhichUsersCan(ctx context.Context, creator, permission string) ([]UserRole, error) {
	var out []UserRole
	for mk, roles := range f.memberRoles {
		m, ok := f.memberships[mk]
		if !ok || m.Creator != creator {
			continue
		}
		for role := range roles {
			if f.rolePerms[key(creator, role)][permission] {
				out = append(out, UserRole{User: m.User, Role: role})
			}
		}
	}
	return out, nil
}

func (f *fakeStore) GetUserRoles(ctx context.Context, creator, user string) ([]UserRole, error) {
	var out []UserRole
	for role := range f.memberRoles[key(creator, user)] {
		out = append(out, UserRole{User: user, Role: role})
	}
	return out, nil
}

func (f *fakeStore) GetRoleMembers(ctx context.Context, creator, role string) ([]UserRole, error) {
	var out []UserRole
	for mk, roles := range f.memberRoles {
		if !roles[role] {
			continue
		}
		if m, ok := f.memberships[mk]; ok && m.Creator == creator {
			out = append(out, UserRole{User: m.User, Role: role})
		}
	}
	return out, nil
}

func (f *fakeStore) GetUserPermissions(ctx context.Context, creator, user string) ([]PermissionName, error) {
	var out []PermissionName
	for role := range f.memberRoles[key(creator, user)] {
		for perm := range f.rolePerms[key(creator, role)] {
			out = append(out, PermissionName{Name: perm})
		}
	}
	return out, nil
}

func (f *fakeStore) GetRolePermissions(ctx context.Context, creator, role string) ([]PermissionName, error) {
	var out []PermissionName
	for perm := range f.rolePerms[key(creator, role)] {
		out = append(out, PermissionName{Name: perm})
	}
	return out, nil
}

func (f *fakeStore) RecordAudit(ctx context.Context, rec *AuditRecord) error {
	if f.failNextAudit {
		f.failNextAudit = false
		return StoreUnavailable("audit sink down", errors.New("connection refused"))
	}
	f.audit = append(f.audit, *rec)
	return nil
}

func (f *fakeStore) ListAudit(ctx context.Context, creator string, limit int) ([]AuditRecord, error) {
	var out []AuditRecord
	for _, rec := range f.audit {
		if rec.Creator == creator {
			out = append(out, rec)
		}
	}
	return out, nil
}

const testTenant = "f47ac10b-58cc-4372-a567-0e02b2c3d479"

func newTestEngine() (*Engine, *fakeStore) {
	store := newFakeStore()
	return NewEngine(store, NewValidator()), store
}

func TestEngineAddRoleIsIdempotent(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	first, err := engine.AddRole(ctx, testTenant, "admin", "Administrator")
	if err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if !first {
		t.Fatal("AddRole: want true")
	}
	second, err := engine.AddRole(ctx, testTenant, "admin", "Administrator")
	if err != nil {
		t.Fatalf("AddRole (second call): %v", err)
	}
	if !second {
		t.Error("AddRole called twice: want true both times (idempotent)")
	}
	if len(store.roles) != 1 {
		t.Errorf("expected exactly one role row, got %d", len(store.roles))
	}
}

func TestEngineDeleteRoleThenAddRoleRevivesSameIdentity(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	if _, err := engine.AddRole(ctx, testTenant, "admin", "Administrator"); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	original := store.roles[key(testTenant, "admin")].ID

	deleted, err := engine.DeleteRole(ctx, testTenant, "admin")
	if err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if !deleted {
		t.Error("DeleteRole on an active role: want true")
	}

	if _, err := engine.AddRole(ctx, testTenant, "admin", "Administrator, again"); err != nil {
		t.Fatalf("AddRole (revive): %v", err)
	}
	if revived := store.roles[key(testTenant, "admin")].ID; revived != original {
		t.Errorf("revived role has a different ID than the original: %d != %d", original, revived)
	}
}

// TestEngineDeleteRoleIsNotAnErrorWhenAlreadyGone matches spec.md §4.3's
// del_role contract: there is no precondition to fail, only a boolean
// outcome — deleting a role that does not exist, or is already inactive,
// returns (false, nil), never a NotFound error.
func TestEngineDeleteRoleIsNotAnErrorWhenAlreadyGone(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	ok, err := engine.DeleteRole(ctx, testTenant, "ghost")
	if err != nil {
		t.Fatalf("DeleteRole on a nonexistent role: expected no error, got %v", err)
	}
	if ok {
		t.Error("DeleteRole on a nonexistent role: want false")
	}

	engine.AddRole(ctx, testTenant, "admin", "")
	engine.DeleteRole(ctx, testTenant, "admin")
	again, err := engine.DeleteRole(ctx, testTenant, "admin")
	if err != nil {
		t.Fatalf("DeleteRole on an already-inactive role: expected no error, got %v", err)
	}
	if again {
		t.Error("DeleteRole on an already-inactive role: want false")
	}
}

func TestEngineRejectsInvalidTenant(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	_, err := engine.AddRole(ctx, "not-a-uuid", "admin", "")
	if err == nil {
		t.Fatal("AddRole with an invalid tenant credential: expected error, got none")
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != KindBadInput {
		t.Errorf("expected KindBadInput, got %v", err)
	}
}

func TestEngineRejectsInvalidRoleName(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	_, err := engine.AddRole(ctx, testTenant, "role with spaces", "")
	if err == nil {
		t.Fatal("AddRole with an invalid role name: expected error, got none")
	}
}

// TestEngineAddPermissionFailsPreconditionWithoutError covers spec.md
// §4.3: granting a permission to a role that does not exist (and cannot be
// created by this call) returns false, not an error.
func TestEngineAddPermissionFailsPreconditionWithoutError(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	ok, err := engine.AddPermission(ctx, testTenant, "ghost-role", "users-write")
	if err != nil {
		t.Fatalf("AddPermission against a nonexistent role: expected no error, got %v", err)
	}
	if ok {
		t.Error("AddPermission against a nonexistent role: want false")
	}
}

// TestEngineAddMembershipFailsPreconditionWithoutError is the membership
// counterpart of the above.
func TestEngineAddMembershipFailsPreconditionWithoutError(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	ok, err := engine.AddMembership(ctx, testTenant, "alice", "ghost-role")
	if err != nil {
		t.Fatalf("AddMembership against a nonexistent role: expected no error, got %v", err)
	}
	if ok {
		t.Error("AddMembership against a nonexistent role: want false")
	}
}

func TestEngineHasPermissionComposesMembershipAndGrant(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	if _, err := engine.AddRole(ctx, testTenant, "admin", ""); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if _, err := engine.AddPermission(ctx, testTenant, "admin", "users-write"); err != nil {
		t.Fatalf("AddPermission: %v", err)
	}

	ok, err := engine.HasPermission(ctx, testTenant, "alice", "users-write")
	if err != nil {
		t.Fatalf("HasPermission before membership: %v", err)
	}
	if ok {
		t.Error("HasPermission returned true before alice was granted the admin role")
	}

	if _, err := engine.AddMembership(ctx, testTenant, "alice", "admin"); err != nil {
		t.Fatalf("AddMembership: %v", err)
	}

	ok, err = engine.HasPermission(ctx, testTenant, "alice", "users-write")
	if err != nil {
		t.Fatalf("HasPermission after membership: %v", err)
	}
	if !ok {
		t.Error("HasPermission returned false after alice was granted the admin role with users-write")
	}
}

func TestEngineHasRolePermissionChecksTheDirectGrant(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	engine.AddRole(ctx, testTenant, "admin", "")
	engine.AddPermission(ctx, testTenant, "admin", "users-write")

	ok, err := engine.HasRolePermission(ctx, testTenant, "admin", "users-write")
	if err != nil {
		t.Fatalf("HasRolePermission: %v", err)
	}
	if !ok {
		t.Error("HasRolePermission: want true for a directly granted permission")
	}

	ok, err = engine.HasRolePermission(ctx, testTenant, "admin", "users-delete")
	if err != nil {
		t.Fatalf("HasRolePermission: %v", err)
	}
	if ok {
		t.Error("HasRolePermission: want false for an ungranted permission")
	}
}

// TestEngineNoCaching is the behavioral proof behind the package's explicit
// no-cache design: revoking a permission must be visible on the very next
// check, with no TTL or invalidation step required.
func TestEngineNoCaching(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	engine.AddRole(ctx, testTenant, "admin", "")
	engine.AddPermission(ctx, testTenant, "admin", "users-write")
	engine.AddMembership(ctx, testTenant, "alice", "admin")

	ok, _ := engine.HasPermission(ctx, testTenant, "alice", "users-write")
	if !ok {
		t.Fatal("setup failed: alice should hold users-write")
	}

	if _, err := engine.RemovePermission(ctx, testTenant, "admin", "users-write"); err != nil {
		t.Fatalf("RemovePermission: %v", err)
	}

	ok, err := engine.HasPermission(ctx, testTenant, "alice", "users-write")
	if err != nil {
		t.Fatalf("HasPermission after revocation: %v", err)
	}
	if ok {
		t.Error("HasPermission still returned true immediately after the permission was revoked")
	}
}

// TestEngineRemoveIsAlwaysTrueOnceTheLinkIsGone covers spec.md §4.3:
// del_permission/del_membership return true unconditionally once the
// post-state lacks the link, even if it never existed.
func TestEngineRemoveIsAlwaysTrueOnceTheLinkIsGone(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	ok, err := engine.RemovePermission(ctx, testTenant, "ghost-role", "users-write")
	if err != nil {
		t.Fatalf("RemovePermission on an ungranted permission: expected no error, got %v", err)
	}
	if !ok {
		t.Error("RemovePermission: want true")
	}

	ok, err = engine.RemoveMembership(ctx, testTenant, "alice", "ghost-role")
	if err != nil {
		t.Fatalf("RemoveMembership on an ungranted role: expected no error, got %v", err)
	}
	if !ok {
		t.Error("RemoveMembership: want true")
	}
}

func TestEngineAuditRecordsSuccessAndFailure(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	if _, err := engine.AddRole(ctx, testTenant, "admin", ""); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if len(store.audit) != 1 {
		t.Fatalf("expected 1 audit record after AddRole, got %d", len(store.audit))
	}
	if !store.audit[0].Success {
		t.Error("audit record for a successful AddRole marked Success = false")
	}
	if store.audit[0].Action != ActionCreateRole {
		t.Errorf("audit record action = %q, want %q", store.audit[0].Action, ActionCreateRole)
	}

	// Granting a permission to a role that doesn't exist is a business-logic
	// precondition failure, not a Store error, but it should still be
	// recorded as an unsuccessful audit entry.
	if ok, err := engine.AddPermission(ctx, testTenant, "ghost", "x"); err != nil || ok {
		t.Fatalf("AddPermission against a nonexistent role: got (%v, %v)", ok, err)
	}
	if len(store.audit) != 2 {
		t.Fatalf("expected 2 audit records after the failed AddPermission, got %d", len(store.audit))
	}
	if store.audit[1].Success {
		t.Error("audit record for a failed AddPermission marked Success = true")
	}
}

func TestEngineAuditFailureDoesNotFailTheOperation(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	store.failNextAudit = true
	if _, err := engine.AddRole(ctx, testTenant, "admin", ""); err != nil {
		t.Fatalf("AddRole: expected success even though the audit sink failed, got %v", err)
	}
}

func TestEngineAuditCarriesActorAndClientFromContext(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()
	ctx = ContextWithActor(ctx, "alice")
	ctx = ContextWithClient(ctx, RequestClient{IP: "203.0.113.1", UserAgent: "test-agent"})

	if _, err := engine.AddRole(ctx, testTenant, "admin", ""); err != nil {
		t.Fatalf("AddRole: %v", err)
	}

	rec := store.audit[len(store.audit)-1]
	if rec.ActorUser != "alice" {
		t.Errorf("audit ActorUser = %q, want %q", rec.ActorUser, "alice")
	}
	if rec.ClientIP != "203.0.113.1" || rec.UserAgent != "test-agent" {
		t.Errorf("audit client details = %q/%q, want 203.0.113.1/test-agent", rec.ClientIP, rec.UserAgent)
	}
}

func TestEngineWhichUsersCanDoesNotDeduplicate(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	engine.AddRole(ctx, testTenant, "editor", "")
	engine.AddRole(ctx, testTenant, "reviewer", "")
	engine.AddPermission(ctx, testTenant, "editor", "docs-publish")
	engine.AddPermission(ctx, testTenant, "reviewer", "docs-publish")
	engine.AddMembership(ctx, testTenant, "alice", "editor")
	engine.AddMembership(ctx, testTenant, "alice", "reviewer")

	users, err := engine.WhichUsersCan(ctx, testTenant, "docs-publish")
	if err != nil {
		t.Fatalf("WhichUsersCan: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("WhichUsersCan returned %d entries for a user holding the permission through two roles, want 2", len(users))
	}
	for _, ur := range users {
		if ur.User != "alice" {
			t.Errorf("WhichUsersCan entry user = %q, want alice", ur.User)
		}
	}
}

func TestNewEngineDefaultsValidator(t *testing.T) {
	engine := NewEngine(newFakeStore(), nil)
	if _, err := engine.AddRole(context.Background(), "not-a-uuid", "admin", ""); err == nil {
		t.Fatal("NewEngine(store, nil) did not install a default Validator")
	}
}
