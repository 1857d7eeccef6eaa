package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentineld/runtime/internal/errors"
)

// Engine holds the authoritative role registry and user assignments in
// memory, durably backed by Storage. All reads are served from memory;
// Storage is only consulted at Load time and on every mutation.
type Engine struct {
	mu          sync.RWMutex
	storage     Storage
	logger      *zerolog.Logger
	roles       map[string]Role
	rolesByName map[string]string // name -> id
	assignments map[string]UserAssignment
	cache       *denialCache
}

func New(storage Storage, logger *zerolog.Logger) *Engine {
	return &Engine{
		storage:     storage,
		logger:      logger,
		roles:       make(map[string]Role),
		rolesByName: make(map[string]string),
		assignments: make(map[string]UserAssignment),
		cache:       newDenialCache(),
	}
}

// Load seeds the built-in roles then overlays whatever Storage already
// holds, so a previously persisted edit to a non-built-in role survives
// a restart.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range builtInRoles() {
		e.roles[r.ID] = r
		e.rolesByName[r.Name] = r.ID
	}

	stored, err := e.storage.LoadRoles(ctx)
	if err != nil {
		return fmt.Errorf("rbac: failed to load roles: %w", err)
	}
	for _, r := range stored {
		if isBuiltIn(r.ID) {
			continue
		}
		e.roles[r.ID] = r
		e.rolesByName[r.Name] = r.ID
	}

	assignments, err := e.storage.LoadAssignments(ctx)
	if err != nil {
		return fmt.Errorf("rbac: failed to load assignments: %w", err)
	}
	for _, a := range assignments {
		e.assignments[a.UserID] = a
	}

	return nil
}

// DefineRole creates or updates a non-built-in role. Mutating a built-in
// role id is always Forbidden.
func (e *Engine) DefineRole(ctx context.Context, r Role) error {
	if isBuiltIn(r.ID) {
		return errors.Forbidden("built-in roles cannot be redefined")
	}

	e.mu.Lock()
	if err := e.storage.SaveRole(ctx, r); err != nil {
		e.mu.Unlock()
		return errors.DatabaseError(err)
	}
	e.roles[r.ID] = r
	e.rolesByName[r.Name] = r.ID
	e.mu.Unlock()

	e.cache.clear()
	if e.logger != nil {
		e.logger.Info().Str("roleId", r.ID).Msg("role defined")
	}
	return nil
}

// RemoveRole deletes a non-built-in role. Existing user assignments to
// the removed role are left in place; resolution of an assignment whose
// role no longer exists fails closed.
func (e *Engine) RemoveRole(ctx context.Context, roleID string) error {
	if isBuiltIn(roleID) {
		return errors.Forbidden("built-in roles cannot be removed")
	}

	e.mu.Lock()
	if err := e.storage.DeleteRole(ctx, roleID); err != nil {
		e.mu.Unlock()
		return errors.DatabaseError(err)
	}
	if r, ok := e.roles[roleID]; ok {
		delete(e.rolesByName, r.Name)
	}
	delete(e.roles, roleID)
	e.mu.Unlock()

	e.cache.clear()
	if e.logger != nil {
		e.logger.Info().Str("roleId", roleID).Msg("role removed")
	}
	return nil
}

// GetRole resolves a role by id or by name.
func (e *Engine) GetRole(idOrName string) (Role, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.roles[idOrName]; ok {
		return r, true
	}
	if id, ok := e.rolesByName[idOrName]; ok {
		return e.roles[id], true
	}
	return Role{}, false
}

// AssignUserRole replaces any existing assignment for the user.
func (e *Engine) AssignUserRole(ctx context.Context, userID, roleID, assignedBy string, assignedAt time.Time) error {
	if _, ok := e.GetRole(roleID); !ok {
		return errors.NotFound("role")
	}
	a := UserAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: assignedAt,
	}

	e.mu.Lock()
	if err := e.storage.SaveAssignment(ctx, a); err != nil {
		e.mu.Unlock()
		return errors.DatabaseError(err)
	}
	e.assignments[userID] = a
	e.mu.Unlock()

	e.cache.clear()
	if e.logger != nil {
		e.logger.Info().Str("userId", userID).Str("roleId", roleID).Msg("role assigned")
	}
	return nil
}

// RevokeUserRole marks the user's current assignment as revoked.
func (e *Engine) RevokeUserRole(ctx context.Context, userID string, revokedAt time.Time) error {
	e.mu.Lock()
	a, ok := e.assignments[userID]
	if !ok || !a.Active() {
		e.mu.Unlock()
		return errors.NotFound("assignment")
	}
	t := revokedAt
	a.RevokedAt = &t
	if err := e.storage.SaveAssignment(ctx, a); err != nil {
		e.mu.Unlock()
		return errors.DatabaseError(err)
	}
	e.assignments[userID] = a
	e.mu.Unlock()

	e.cache.clear()
	if e.logger != nil {
		e.logger.Info().Str("userId", userID).Msg("role revoked")
	}
	return nil
}

// ListUserAssignments returns every assignment, active or revoked.
func (e *Engine) ListUserAssignments() []UserAssignment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]UserAssignment, 0, len(e.assignments))
	for _, a := range e.assignments {
		out = append(out, a)
	}
	return out
}

// CheckPermission resolves a role's effective permission set (direct
// permissions plus depth-first inherited permissions, cycle-safe) and
// evaluates check against it. Default-deny: an unknown role, an empty
// permission set, or no matching permission all yield Granted=false.
//
// The denial cache is bypassed whenever check.Context is non-nil, since
// the same {role,resource,action} triple can evaluate differently
// depending on condition values.
func (e *Engine) CheckPermission(roleIDOrName string, check Check) CheckResult {
	role, ok := e.GetRole(roleIDOrName)
	if !ok {
		if e.logger != nil {
			e.logger.Info().Str("role", roleIDOrName).Str("resource", check.Resource).Str("action", check.Action).Msg("permission denied: unknown role")
		}
		return CheckResult{Granted: false, Reason: "unknown role"}
	}

	useCache := check.Context == nil
	key := cacheKey{role: role.ID, resource: check.Resource, action: check.Action}
	if useCache {
		if granted, found := e.cache.get(key); found {
			if e.logger != nil {
				ev := e.logger.Info()
				if granted {
					ev = e.logger.Debug()
				}
				ev.Str("roleId", role.ID).Str("resource", check.Resource).Str("action", check.Action).Bool("granted", granted).Msg("permission decision (cached)")
			}
			return CheckResult{Granted: granted, Reason: "cached"}
		}
	}

	perms, err := e.resolvePermissions(role.ID, make(map[string]bool))
	if err != nil {
		result := CheckResult{Granted: false, Reason: err.Error()}
		if e.logger != nil {
			e.logger.Info().Str("roleId", role.ID).Str("resource", check.Resource).Str("action", check.Action).Msg("permission denied: circular inheritance")
		}
		return result
	}

	for i := range perms {
		if matchPermission(perms[i], check) {
			if useCache {
				e.cache.put(key, true)
			}
			if e.logger != nil {
				e.logger.Debug().Str("roleId", role.ID).Str("resource", check.Resource).Str("action", check.Action).Msg("permission granted")
			}
			p := perms[i]
			return CheckResult{Granted: true, Reason: "matched permission", MatchedPermission: &p}
		}
	}

	if useCache {
		e.cache.put(key, false)
	}
	if e.logger != nil {
		e.logger.Info().Str("roleId", role.ID).Str("resource", check.Resource).Str("action", check.Action).Msg("permission denied: no matching permission")
	}
	return CheckResult{Granted: false, Reason: "no matching permission"}
}

// RequirePermission is CheckPermission with a Forbidden error in place of
// a boolean result, for use directly in request handlers.
func (e *Engine) RequirePermission(roleIDOrName string, check Check) error {
	result := e.CheckPermission(roleIDOrName, check)
	if !result.Granted {
		return errors.Forbidden(fmt.Sprintf("not permitted: %s on %s (%s)", check.Action, check.Resource, result.Reason))
	}
	return nil
}

// resolvePermissions walks InheritFrom depth-first, collecting this
// role's own permissions before its ancestors'. visited guards against
// cycles: revisiting a role id already on the current path fails the
// whole resolution rather than silently truncating it, since a cycle
// signals a misconfigured role graph the caller needs to know about.
func (e *Engine) resolvePermissions(roleID string, visited map[string]bool) ([]Permission, error) {
	if visited[roleID] {
		return nil, fmt.Errorf("circular inheritance")
	}
	visited[roleID] = true
	defer delete(visited, roleID)

	e.mu.RLock()
	role, ok := e.roles[roleID]
	e.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	perms := make([]Permission, len(role.Permissions))
	copy(perms, role.Permissions)

	for _, parentID := range role.InheritFrom {
		parentPerms, err := e.resolvePermissions(parentID, visited)
		if err != nil {
			return nil, err
		}
		perms = append(perms, parentPerms...)
	}
	return perms, nil
}
