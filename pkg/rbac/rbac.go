// Package rbac implements a multi-tenant, role-based authorization engine.
//
// Every operation is scoped to a tenant identified by a "creator" bearer
// credential (a UUIDv4). Within a tenant, Roles bundle Permissions, and
// Memberships link Users to Roles; UserHasPermission composes the two in a
// single query to answer the core authorization question.
//
// Unlike many in-process RBAC libraries, the Engine holds no authorization
// decision cache: every check goes to the Store, so a permission revoked in
// one request is immediately visible to the next, at the cost of an extra
// round trip per check. This trade favors correctness over latency.
//
// Basic usage:
//
//	store := rbac.NewSQLStore(db, rbac.DialectPostgres, "", cipher)
//	engine := rbac.NewEngine(store, rbac.NewValidator())
//
//	engine.AddRole(ctx, creator, "admin", "Administrator")
//	engine.AddPermission(ctx, creator, "admin", "users-write")
//	engine.AddMembership(ctx, creator, "alice", "admin")
//
//	ok, _ := engine.HasPermission(ctx, creator, "alice", "users-write")
package rbac

import (
	"context"
	"log"
	"time"
)

// Engine coordinates validation, persistence, and audit logging for every
// authorization operation. It holds no mutable state of its own beyond its
// Store and Validator — see the package doc for why it deliberately does
// not cache decisions.
type Engine struct {
	store     Store
	validator *Validator
}

// NewEngine constructs an Engine over store, validating every input with
// validator before it reaches the Store.
func NewEngine(store Store, validator *Validator) *Engine {
	if validator == nil {
		validator = NewValidator()
	}
	return &Engine{store: store, validator: validator}
}

// AddRole creates a role, or revives it if a role by that name was
// previously deleted. Idempotent: calling it twice with the same
// description succeeds both times and leaves exactly one row. Returns true
// unless a Store error prevents the write; role creation has no
// precondition that can make it legitimately return false.
func (e *Engine) AddRole(ctx context.Context, creator, role, description string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return false, err
	}

	_, err = e.store.UpsertRole(ctx, creator, role, description)
	e.audit(ctx, creator, ActionCreateRole, role, err == nil, errDetail(err))
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteRole soft-deletes a role. The underlying row is tombstoned, not
// removed, so a later AddRole for the same name revives it with the same
// identity rather than creating a new one. Returns true iff the role was
// active immediately before the call — deleting an absent or already
// inactive role is not an error, just a false result (spec.md §4.3).
func (e *Engine) DeleteRole(ctx context.Context, creator, role string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return false, err
	}

	changed, err := e.store.DeactivateRole(ctx, creator, role)
	e.audit(ctx, creator, ActionDeleteRole, role, err == nil, errDetail(err))
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListRoles returns every active role defined for the tenant.
func (e *Engine) ListRoles(ctx context.Context, creator string) ([]RoleSummary, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return nil, err
	}

	roles, err := e.store.ListRoles(ctx, creator)
	e.audit(ctx, creator, ActionListRoles, "", err == nil, errDetail(err))
	return roles, err
}

// AddPermission grants permission to role, creating the permission
// definition on first use. Idempotent. Returns false, with no error, when
// role does not exist — permissions require an existing role and cannot
// create one (spec.md §4.3); any other Store failure is returned as an
// error.
func (e *Engine) AddPermission(ctx context.Context, creator, role, permission string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return false, err
	}
	if err := e.validator.PermissionName(permission); err != nil {
		return false, err
	}

	err = e.store.LinkPermissionRole(ctx, creator, role, permission)
	ok := err == nil
	e.audit(ctx, creator, ActionAddPermission, role+"/"+permission, ok, errDetail(err))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemovePermission revokes permission from role. The permission definition
// itself is left in place — other roles may still grant it. Returns true
// unconditionally once the link is confirmed absent, per spec.md §4.3.
func (e *Engine) RemovePermission(ctx context.Context, creator, role, permission string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return false, err
	}
	if err := e.validator.PermissionName(permission); err != nil {
		return false, err
	}

	err = e.store.UnlinkPermissionRole(ctx, creator, role, permission)
	e.audit(ctx, creator, ActionRemovePermission, role+"/"+permission, err == nil, errDetail(err))
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddMembership grants role to user, creating the membership record on
// first grant. Idempotent. Returns false, with no error, when role does
// not exist — memberships require an existing role (spec.md §4.3).
func (e *Engine) AddMembership(ctx context.Context, creator, user, role string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.UserName(user); err != nil {
		return false, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return false, err
	}

	err = e.store.LinkMembershipRole(ctx, creator, user, role)
	e.audit(ctx, creator, ActionAddMembership, user+"/"+role, err == nil, errDetail(err))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveMembership revokes role from user. The membership record itself is
// left in place — the user may still hold other roles. Returns true
// unconditionally once the link is confirmed absent, per spec.md §4.3.
func (e *Engine) RemoveMembership(ctx context.Context, creator, user, role string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.UserName(user); err != nil {
		return false, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return false, err
	}

	err = e.store.UnlinkMembershipRole(ctx, creator, user, role)
	e.audit(ctx, creator, ActionRemoveMembership, user+"/"+role, err == nil, errDetail(err))
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasPermission answers whether user holds permission through any role,
// composing membership and role-permission grants in a single Store query.
func (e *Engine) HasPermission(ctx context.Context, creator, user, permission string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.UserName(user); err != nil {
		return false, err
	}
	if err := e.validator.PermissionName(permission); err != nil {
		return false, err
	}

	ok, err := e.store.UserHasPermission(ctx, creator, user, permission)
	e.audit(ctx, creator, ActionCheckPermission, user+"/"+permission, err == nil, errDetail(err))
	return ok, err
}

// HasMembership answers whether user holds role directly.
func (e *Engine) HasMembership(ctx context.Context, creator, user, role string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.UserName(user); err != nil {
		return false, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return false, err
	}

	ok, err := e.store.HasMembership(ctx, creator, user, role)
	e.audit(ctx, creator, ActionCheckMembership, user+"/"+role, err == nil, errDetail(err))
	return ok, err
}

// HasRolePermission answers whether permission is granted directly to
// role, the symmetric counterpart of HasMembership used by the
// GET /api/permission/{role}/{name} check route (spec.md §4.3, §6).
func (e *Engine) HasRolePermission(ctx context.Context, creator, role, permission string) (bool, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return false, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return false, err
	}
	if err := e.validator.PermissionName(permission); err != nil {
		return false, err
	}

	ok, err := e.store.RoleHasPermission(ctx, creator, role, permission)
	e.audit(ctx, creator, ActionCheckPermission, role+"/"+permission, err == nil, errDetail(err))
	return ok, err
}

// UserPermissions lists every permission user holds, across all roles.
func (e *Engine) UserPermissions(ctx context.Context, creator, user string) ([]PermissionName, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return nil, err
	}
	if err := e.validator.UserName(user); err != nil {
		return nil, err
	}

	perms, err := e.store.GetUserPermissions(ctx, creator, user)
	e.audit(ctx, creator, ActionListPermissions, user, err == nil, errDetail(err))
	return perms, err
}

// RolePermissions lists every permission granted directly to role.
func (e *Engine) RolePermissions(ctx context.Context, creator, role string) ([]PermissionName, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return nil, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return nil, err
	}

	perms, err := e.store.GetRolePermissions(ctx, creator, role)
	e.audit(ctx, creator, ActionListPermissions, role, err == nil, errDetail(err))
	return perms, err
}

// UserRoles lists every role user holds.
func (e *Engine) UserRoles(ctx context.Context, creator, user string) ([]UserRole, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return nil, err
	}
	if err := e.validator.UserName(user); err != nil {
		return nil, err
	}

	roles, err := e.store.GetUserRoles(ctx, creator, user)
	e.audit(ctx, creator, ActionListRoles, user, err == nil, errDetail(err))
	return roles, err
}

// RoleMembers lists every user holding role.
func (e *Engine) RoleMembers(ctx context.Context, creator, role string) ([]UserRole, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return nil, err
	}
	if err := e.validator.RoleName(role); err != nil {
		return nil, err
	}

	members, err := e.store.GetRoleMembers(ctx, creator, role)
	e.audit(ctx, creator, ActionListMemberships, role, err == nil, errDetail(err))
	return members, err
}

// WhichRolesCan returns every role that grants permission, the reverse of
// RolePermissions.
func (e *Engine) WhichRolesCan(ctx context.Context, creator, permission string) ([]RoleSummary, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return nil, err
	}
	if err := e.validator.PermissionName(permission); err != nil {
		return nil, err
	}

	roles, err := e.store.WhichRolesCan(ctx, creator, permission)
	e.audit(ctx, creator, ActionListRoles, permission, err == nil, errDetail(err))
	return roles, err
}

// WhichUsersCan returns one entry per (user, role) pair that grants
// permission — a user holding it through two roles is listed twice, so
// callers can see exactly which grant to revoke.
func (e *Engine) WhichUsersCan(ctx context.Context, creator, permission string) ([]UserRole, error) {
	creator, err := e.validator.Tenant(creator)
	if err != nil {
		return nil, err
	}
	if err := e.validator.PermissionName(permission); err != nil {
		return nil, err
	}

	users, err := e.store.WhichUsersCan(ctx, creator, permission)
	e.audit(ctx, creator, ActionListMemberships, permission, err == nil, errDetail(err))
	return users, err
}

// errDetail renders err for the audit trail's free-form detail field,
// returning "" for a nil error so successful operations leave it empty.
func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// audit records the outcome of a privileged operation. It never returns an
// error to the caller: a failure to write the audit row is logged here and
// swallowed, so an audit outage never blocks an authorization decision
// (spec.md §4.5/§9). success is whether the Store call returned no error,
// so granting a permission to a nonexistent role (the Store's NotFound) is
// recorded as a failed grant even though the Engine reports (false, nil).
func (e *Engine) audit(ctx context.Context, creator string, action AuditAction, resource string, success bool, detail string) {
	rec := &AuditRecord{
		Timestamp: time.Now().UTC(),
		Creator:   creator,
		Action:    action,
		Resource:  resource,
		Success:   success,
		Detail:    detail,
	}
	if actor, ok := ActorFromContext(ctx); ok {
		rec.ActorUser = actor
	}
	if client, ok := ClientFromContext(ctx); ok {
		rec.ClientIP = client.IP
		rec.UserAgent = client.UserAgent
	}
	if err := e.store.RecordAudit(ctx, rec); err != nil {
		log.Printf("rbac: audit write failed, action=%s creator=%s resource=%s: %v", action, creator, resource, err)
	}
}
