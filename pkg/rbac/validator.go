package rbac

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validator implements the syntactic checks of spec.md §4.4: tenant key
// shape, role/user/permission name shape, and a belt-and-braces input
// sanitiser. The store is parameterised regardless (see pkg/rbac/store.go),
// so the sanitiser here exists to reject obviously hostile input before it
// ever reaches the Engine, not to be the last line of defense.
type Validator struct {
	roleOrUser *regexp.Regexp
	permission *regexp.Regexp
}

var sqlTokenPattern = regexp.MustCompile(`(?i)(--|/\*|\*/|;|\bunion\b|\bselect\b|\bdrop\b|\binsert\b|\bdelete\b|\bupdate\b|\bexec\b|\bxp_)`)

// NewValidator builds the validator used by the Boundary component.
func NewValidator() *Validator {
	return &Validator{
		roleOrUser: regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`),
		permission: regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`),
	}
}

// Tenant validates the bearer credential as a canonical, case-insensitive
// UUIDv4 string. It returns the lower-cased canonical form.
func (v *Validator) Tenant(raw string) (string, *Error) {
	// uuid.Parse also accepts braced, urn-prefixed and undashed forms; only
	// the 36-character dashed form is canonical.
	if len(raw) != 36 {
		return "", BadInput("tenant credential is not a canonical UUID")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", BadInput("tenant credential is not a valid UUID")
	}
	if id.Version() != 4 {
		return "", BadInput("tenant credential is not a UUIDv4")
	}
	return strings.ToLower(id.String()), nil
}

// RoleName validates a role or user name: [A-Za-z0-9_-]{1,64}.
func (v *Validator) RoleName(name string) *Error {
	return v.match(v.roleOrUser, "role", name)
}

// UserName validates a user identifier with the same shape as a role name.
func (v *Validator) UserName(name string) *Error {
	return v.match(v.roleOrUser, "user", name)
}

// PermissionName validates a permission name: [A-Za-z0-9_-]{1,128}.
func (v *Validator) PermissionName(name string) *Error {
	return v.match(v.permission, "permission", name)
}

func (v *Validator) match(re *regexp.Regexp, field, value string) *Error {
	if !re.MatchString(value) {
		return BadInput(field + " contains characters outside the allowed pattern")
	}
	if sqlTokenPattern.MatchString(value) {
		return BadInput(field + " contains a disallowed token")
	}
	return nil
}

// Sanitize strips any byte outside the conservative role/user/permission
// character class. It is defense in depth, never the primary validation
// path — callers must still call RoleName/UserName/PermissionName.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
