package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(NewMemoryStorage(), nil)
	require.NoError(t, e.Load(context.Background()))
	return e
}

func TestEngine_AdminWildcardGrantsEverything(t *testing.T) {
	e := newTestEngine(t)
	result := e.CheckPermission(RoleAdmin, Check{Resource: "tasks.capture.start", Action: "delete"})
	assert.True(t, result.Granted)
}

func TestEngine_DefaultDenyUnknownRole(t *testing.T) {
	e := newTestEngine(t)
	result := e.CheckPermission("role_does_not_exist", Check{Resource: "tasks", Action: "read"})
	assert.False(t, result.Granted)
}

func TestEngine_DefaultDenyNoMatchingPermission(t *testing.T) {
	e := newTestEngine(t)
	result := e.CheckPermission(RoleViewer, Check{Resource: "tasks", Action: "delete"})
	assert.False(t, result.Granted)
}

func TestEngine_InheritanceGrantsParentPermissions(t *testing.T) {
	e := newTestEngine(t)

	// role_capture_operator inherits role_viewer: it should see viewer's
	// read permissions in addition to its own capture-scoped create/cancel.
	readResult := e.CheckPermission(RoleCaptureOperator, Check{Resource: "tasks", Action: "read"})
	assert.True(t, readResult.Granted, "inherited permission should be visible")

	createResult := e.CheckPermission(RoleCaptureOperator, Check{Resource: "tasks.capture.start", Action: "create"})
	assert.True(t, createResult.Granted, "wildcard-suffixed resource should match")

	deniedResult := e.CheckPermission(RoleCaptureOperator, Check{Resource: "tasks.voice.start", Action: "create"})
	assert.False(t, deniedResult.Granted, "capture operator must not reach voice-scoped resources")
}

func TestEngine_WildcardResourceMatch(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.DefineRole(context.Background(), Role{
		ID:   "role_wild",
		Name: "Wild",
		Permissions: []Permission{
			{Resource: "reports.*", Actions: []string{"read"}},
		},
	}))
	assert.True(t, e.CheckPermission("role_wild", Check{Resource: "reports.daily", Action: "read"}).Granted)
	assert.False(t, e.CheckPermission("role_wild", Check{Resource: "audit.daily", Action: "read"}).Granted)
}

func TestEngine_CircularInheritanceFailsClosed(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.DefineRole(context.Background(), Role{
		ID:          "role_a",
		Name:        "A",
		InheritFrom: []string{"role_b"},
		Permissions: []Permission{{Resource: "x", Actions: []string{"read"}}},
	}))
	require.NoError(t, e.DefineRole(context.Background(), Role{
		ID:          "role_b",
		Name:        "B",
		InheritFrom: []string{"role_a"},
		Permissions: []Permission{{Resource: "y", Actions: []string{"read"}}},
	}))

	result := e.CheckPermission("role_a", Check{Resource: "z", Action: "read"})
	assert.False(t, result.Granted)
	assert.Contains(t, result.Reason, "circular")
}

func TestEngine_ConditionalPermission(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.DefineRole(context.Background(), Role{
		ID:   "role_regional",
		Name: "Regional",
		Permissions: []Permission{
			{
				Resource: "tasks",
				Actions:  []string{"read"},
				Conditions: []Condition{
					{Field: "region", Operator: OpEq, Value: "us-east"},
				},
			},
		},
	}))

	granted := e.CheckPermission("role_regional", Check{
		Resource: "tasks", Action: "read", Context: map[string]interface{}{"region": "us-east"},
	})
	assert.True(t, granted.Granted)

	denied := e.CheckPermission("role_regional", Check{
		Resource: "tasks", Action: "read", Context: map[string]interface{}{"region": "eu-west"},
	})
	assert.False(t, denied.Granted)

	missingField := e.CheckPermission("role_regional", Check{
		Resource: "tasks", Action: "read", Context: map[string]interface{}{"other": "value"},
	})
	assert.False(t, missingField.Granted)
}

func TestEngine_BuiltInRolesAreImmutable(t *testing.T) {
	e := newTestEngine(t)
	err := e.DefineRole(context.Background(), Role{ID: RoleAdmin, Name: "Administrator"})
	assert.Error(t, err)

	err = e.RemoveRole(context.Background(), RoleViewer)
	assert.Error(t, err)
}

func TestEngine_AssignAndRevokeUserRole(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, e.AssignUserRole(ctx, "user-1", RoleOperator, "admin-1", now))
	assignments := e.ListUserAssignments()
	require.Len(t, assignments, 1)
	assert.True(t, assignments[0].Active())

	require.NoError(t, e.RevokeUserRole(ctx, "user-1", now.Add(time.Minute)))
	assignments = e.ListUserAssignments()
	require.Len(t, assignments, 1)
	assert.False(t, assignments[0].Active())
}

func TestEngine_AssignUserRoleRejectsUnknownRole(t *testing.T) {
	e := newTestEngine(t)
	err := e.AssignUserRole(context.Background(), "user-1", "role_ghost", "admin-1", time.Now())
	assert.Error(t, err)
}

func TestEngine_DenialCacheInvalidatedOnRoleChange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.DefineRole(ctx, Role{
		ID:   "role_temp",
		Name: "Temp",
		Permissions: []Permission{
			{Resource: "tasks", Actions: []string{"read"}},
		},
	}))

	denied := e.CheckPermission("role_temp", Check{Resource: "tasks", Action: "delete"})
	assert.False(t, denied.Granted)

	require.NoError(t, e.DefineRole(ctx, Role{
		ID:   "role_temp",
		Name: "Temp",
		Permissions: []Permission{
			{Resource: "tasks", Actions: []string{"read", "delete"}},
		},
	}))

	granted := e.CheckPermission("role_temp", Check{Resource: "tasks", Action: "delete"})
	assert.True(t, granted.Granted, "cache should not serve a stale denial after the role was redefined")
}

func TestEngine_RequirePermissionReturnsForbidden(t *testing.T) {
	e := newTestEngine(t)
	err := e.RequirePermission(RoleViewer, Check{Resource: "tasks", Action: "delete"})
	require.Error(t, err)
}
