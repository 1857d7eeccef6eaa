package rbac

import "context"

// Storage persists roles and user assignments. Per the in-memory/database
// storage parity design note, MemoryStorage and PostgresStorage must be
// behaviorally identical; Engine treats Storage purely as a durability
// layer underneath its own in-memory read path.
type Storage interface {
	SaveRole(ctx context.Context, r Role) error
	DeleteRole(ctx context.Context, id string) error
	LoadRoles(ctx context.Context) ([]Role, error)

	SaveAssignment(ctx context.Context, a UserAssignment) error
	LoadAssignments(ctx context.Context) ([]UserAssignment, error)
}
