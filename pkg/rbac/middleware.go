package rbac

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Boundary is the HTTP surface over an Engine: it extracts and validates
// the tenant bearer credential, decodes an optional actor-attribution
// token, dispatches to the Engine, and renders every result as an
// Envelope. It never contains authorization logic itself — that is the
// Engine's job — only request/response translation.
type Boundary struct {
	engine    *Engine
	jwtSecret []byte  // empty disables actor-token decoding
	db        *sql.DB // optional; nil omits pool stats from /health
}

// NewBoundary builds a Boundary over engine. jwtSecret, when non-empty,
// enables decoding of an optional "X-Actor-Token" bearer JWT whose "sub"
// claim is recorded as the acting user on audit rows — this system has no
// session or password authentication of its own, so the
// token is informational only and never gates authorization decisions.
//
// db, when non-nil, is reported on GET /health as connection-pool
// telemetry; passing nil (e.g. in a unit test with no live database) just
// omits that section of the response.
func NewBoundary(engine *Engine, jwtSecret []byte, db *sql.DB) *Boundary {
	return &Boundary{engine: engine, jwtSecret: jwtSecret, db: db}
}

// Routes mounts the authorization API under r.
func (b *Boundary) Routes(r chi.Router) {
	r.Get("/ping", b.handlePing)
	r.Get("/health", b.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(b.extractTenant)
		r.Use(b.extractActor)
		r.Use(b.extractClient)

		r.Post("/role/{role}", b.handleAddRole)
		r.Delete("/role/{role}", b.handleDeleteRole)
		r.Get("/roles", b.handleListRoles)

		r.Post("/permission/{role}/{name}", b.handleAddPermission)
		r.Get("/permission/{role}/{name}", b.handleCheckPermission)
		r.Delete("/permission/{role}/{name}", b.handleRemovePermission)

		r.Post("/membership/{user}/{role}", b.handleAddMembership)
		r.Get("/membership/{user}/{role}", b.handleCheckMembership)
		r.Delete("/membership/{user}/{role}", b.handleRemoveMembership)

		r.Get("/has_permission/{user}/{name}", b.handleHasPermission)
		r.Get("/user_permissions/{user}", b.handleUserPermissions)
		r.Get("/role_permissions/{role}", b.handleRolePermissions)
		r.Get("/user_roles/{user}", b.handleUserRoles)
		r.Get("/members/{role}", b.handleRoleMembers)
		r.Get("/which_roles_can/{name}", b.handleWhichRolesCan)
		r.Get("/which_users_can/{name}", b.handleWhichUsersCan)
	})
}

func (b *Boundary) handlePing(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"message": "PONG"})
}

// handleHealth reports liveness plus, when a database handle was supplied to
// NewBoundary, connection-pool telemetry in the shape of spec §6's
// database.{pool_size, checked_out, available, overflow, total_connections}.
func (b *Boundary) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}

	if b.db != nil {
		stats := b.db.Stats()
		overflow := stats.OpenConnections - stats.MaxOpenConnections
		if overflow < 0 {
			overflow = 0
		}
		body["database"] = map[string]int{
			"pool_size":         stats.MaxOpenConnections,
			"checked_out":       stats.InUse,
			"available":         stats.Idle,
			"overflow":          overflow,
			"total_connections": stats.OpenConnections,
		}
	}

	writeOK(w, body)
}

// extractTenant requires a bearer UUIDv4 credential on every /api request
// and attaches it (validated, canonicalized) to the request context.
// Validation itself is re-run by the Engine — this middleware exists so a
// malformed credential is rejected before a handler runs, not as the sole
// line of defense.
func (b *Boundary) extractTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, Unauthorized("missing bearer tenant credential"))
			return
		}

		v := NewValidator()
		creator, verr := v.Tenant(raw)
		if verr != nil {
			writeError(w, verr)
			return
		}

		ctx := ContextWithCreator(r.Context(), creator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractActor decodes the optional secondary actor-attribution token.
// A missing or invalid token is not an error — it simply means the audit
// trail records no acting-user identity for this request.
func (b *Boundary) extractActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("X-Actor-Token"))
		ctx := r.Context()

		if token != "" && len(b.jwtSecret) > 0 {
			if actor, ok := decodeActor(token, b.jwtSecret); ok {
				ctx = ContextWithActor(ctx, actor)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (b *Boundary) extractClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithClient(r.Context(), RequestClient{
			IP:        r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeActor(tokenStr string, secret []byte) (string, bool) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigningMethod
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", false
	}
	return sub, true
}

func (b *Boundary) handleAddRole(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	role := chi.URLParam(r, "role")
	description := r.URL.Query().Get("description")

	ok, err := b.engine.AddRole(r.Context(), creator, role, description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCreated(w, resultBool(ok))
}

func (b *Boundary) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	role := chi.URLParam(r, "role")

	ok, err := b.engine.DeleteRole(r.Context(), creator, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, resultBool(ok))
}

func (b *Boundary) handleListRoles(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())

	roles, err := b.engine.ListRoles(r.Context(), creator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"result": roles})
}

func (b *Boundary) handleAddPermission(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	role := chi.URLParam(r, "role")
	name := chi.URLParam(r, "name")

	ok, err := b.engine.AddPermission(r.Context(), creator, role, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCreated(w, resultBool(ok))
}

// handleCheckPermission answers GET /api/permission/{role}/{name}: does
// role carry permission directly (not transitively through a user).
func (b *Boundary) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	role := chi.URLParam(r, "role")
	name := chi.URLParam(r, "name")

	ok, err := b.engine.HasRolePermission(r.Context(), creator, role, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, resultBool(ok))
}

func (b *Boundary) handleRemovePermission(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	role := chi.URLParam(r, "role")
	name := chi.URLParam(r, "name")

	ok, err := b.engine.RemovePermission(r.Context(), creator, role, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, resultBool(ok))
}

func (b *Boundary) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	user := chi.URLParam(r, "user")
	role := chi.URLParam(r, "role")

	ok, err := b.engine.AddMembership(r.Context(), creator, user, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCreated(w, resultBool(ok))
}

// handleCheckMembership answers GET /api/membership/{user}/{role}: does
// user directly hold role.
func (b *Boundary) handleCheckMembership(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	user := chi.URLParam(r, "user")
	role := chi.URLParam(r, "role")

	ok, err := b.engine.HasMembership(r.Context(), creator, user, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, resultBool(ok))
}

func (b *Boundary) handleRemoveMembership(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	user := chi.URLParam(r, "user")
	role := chi.URLParam(r, "role")

	ok, err := b.engine.RemoveMembership(r.Context(), creator, user, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, resultBool(ok))
}

// resultBool wraps a boolean write outcome in the {"result": bool} shape
// spec.md §6 specifies for every role/permission/membership mutation.
func resultBool(ok bool) map[string]bool { return map[string]bool{"result": ok} }

func (b *Boundary) handleHasPermission(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	user := chi.URLParam(r, "user")
	name := chi.URLParam(r, "name")

	ok, err := b.engine.HasPermission(r.Context(), creator, user, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]bool{"has_permission": ok})
}

func (b *Boundary) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	user := chi.URLParam(r, "user")

	perms, err := b.engine.UserPermissions(r.Context(), creator, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"permissions": perms, "count": len(perms)})
}

func (b *Boundary) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	role := chi.URLParam(r, "role")

	perms, err := b.engine.RolePermissions(r.Context(), creator, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, perms)
}

func (b *Boundary) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	user := chi.URLParam(r, "user")

	roles, err := b.engine.UserRoles(r.Context(), creator, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, roles)
}

func (b *Boundary) handleRoleMembers(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	role := chi.URLParam(r, "role")

	members, err := b.engine.RoleMembers(r.Context(), creator, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, members)
}

func (b *Boundary) handleWhichRolesCan(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	name := chi.URLParam(r, "name")

	roles, err := b.engine.WhichRolesCan(r.Context(), creator, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, roles)
}

func (b *Boundary) handleWhichUsersCan(w http.ResponseWriter, r *http.Request) {
	creator, _ := CreatorFromContext(r.Context())
	name := chi.URLParam(r, "name")

	users, err := b.engine.WhichUsersCan(r.Context(), creator, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, users)
}
