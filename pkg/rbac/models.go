package rbac

import (
	"time"
)

// Role is a named bundle of permissions within a tenant ("creator").
//
// Fields:
//   - ID: internal surrogate key (stable across soft-delete/revive cycles)
//   - Creator: the tenant this role belongs to
//   - Role: short role name, unique per (Creator, Role) — invariant R1
//   - Description: optional human-readable description (encrypted at rest, §4.2)
//   - IsActive: soft-delete flag; false means the role is a tombstone
//   - CreatedAt / ModifiedAt: lifecycle timestamps
type Role struct {
	ID          int64     `json:"id" db:"id"`
	Creator     string    `json:"creator" db:"creator"`
	Role        string    `json:"role" db:"role"`
	Description string    `json:"description,omitempty" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	ModifiedAt  time.Time `json:"modified_at" db:"modified_at"`
}

// Membership anchors the many-to-many link between a user and the roles
// they hold under a tenant. A Membership row exists only once a role has
// first been granted to that user (users are never implicitly created).
//
// Invariant M1: (Creator, User) is unique.
type Membership struct {
	ID         int64     `json:"id" db:"id"`
	Creator    string    `json:"creator" db:"creator"`
	User       string    `json:"user" db:"user"` // encrypted at rest, §4.2
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ModifiedAt time.Time `json:"modified_at" db:"modified_at"`
}

// Permission is a named capability that can be granted to zero or more
// roles. Invariant P1: (Creator, Name) is unique.
type Permission struct {
	ID         int64     `json:"id" db:"id"`
	Creator    string    `json:"creator" db:"creator"`
	Name       string    `json:"name" db:"name"` // encrypted at rest, §4.2
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ModifiedAt time.Time `json:"modified_at" db:"modified_at"`
}

// UserRole is a projection row returned by the reverse-lookup queries
// (get_user_roles, get_role_members, which_users_can): the user/role pair,
// decrypted and ready to serialize.
type UserRole struct {
	User string `json:"user"`
	Role string `json:"role"`
}

// RoleSummary is the projection returned by list_roles.
type RoleSummary struct {
	Role        string `json:"role"`
	Description string `json:"description,omitempty"`
}

// PermissionName is the projection returned by get_permissions /
// user_permissions / role_permissions.
type PermissionName struct {
	Name string `json:"name"`
}

// AuditAction enumerates the privileged operations that emit an audit
// record (spec.md §4.5).
type AuditAction string

const (
	ActionCreateRole       AuditAction = "create_role"
	ActionDeleteRole       AuditAction = "delete_role"
	ActionAddPermission    AuditAction = "add_permission"
	ActionRemovePermission AuditAction = "remove_permission"
	ActionAddMembership    AuditAction = "add_membership"
	ActionRemoveMembership AuditAction = "remove_membership"
	ActionCheckPermission  AuditAction = "check_permission"
	ActionCheckMembership  AuditAction = "check_membership"
	ActionListRoles        AuditAction = "list_roles"
	ActionListPermissions  AuditAction = "list_permissions"
	ActionListMemberships  AuditAction = "list_memberships"
)

// AuditRecord is a single append-only audit row (invariant I4: never
// updated or deleted by the engine).
type AuditRecord struct {
	ID        int64       `json:"id" db:"id"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
	Creator   string      `json:"creator" db:"creator"`
	ActorUser string      `json:"actor_user,omitempty" db:"actor_user"`
	Action    AuditAction `json:"action" db:"action"`
	Resource  string      `json:"resource" db:"resource"`
	Detail    string      `json:"detail,omitempty" db:"detail"`
	ClientIP  string      `json:"client_ip,omitempty" db:"client_ip"`
	UserAgent string      `json:"user_agent,omitempty" db:"user_agent"`
	Success   bool        `json:"success" db:"success"`
}
