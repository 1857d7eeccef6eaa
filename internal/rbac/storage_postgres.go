package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStorage persists roles and assignments via lib/pq, mirroring
// audit.PostgresStorage's on-demand table creation.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(ctx context.Context, db *sql.DB) (*PostgresStorage, error) {
	s := &PostgresStorage{db: db}
	if _, err := db.ExecContext(ctx, createRBACTables); err != nil {
		return nil, fmt.Errorf("rbac: failed to ensure tables: %w", err)
	}
	return s, nil
}

const createRBACTables = `
CREATE TABLE IF NOT EXISTS roles (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL,
	permissions  JSONB NOT NULL,
	inherit_from JSONB NOT NULL DEFAULT '[]',
	built_in     BOOLEAN NOT NULL DEFAULT false
);
CREATE TABLE IF NOT EXISTS user_role_assignments (
	user_id     TEXT PRIMARY KEY,
	role_id     TEXT NOT NULL,
	assigned_by TEXT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL,
	revoked_at  TIMESTAMPTZ
)`

func (s *PostgresStorage) SaveRole(ctx context.Context, r Role) error {
	permsJSON, err := json.Marshal(r.Permissions)
	if err != nil {
		return fmt.Errorf("rbac: failed to marshal permissions: %w", err)
	}
	inheritJSON, err := json.Marshal(r.InheritFrom)
	if err != nil {
		return fmt.Errorf("rbac: failed to marshal inheritFrom: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, permissions, inherit_from, built_in)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			permissions = EXCLUDED.permissions, inherit_from = EXCLUDED.inherit_from,
			built_in = EXCLUDED.built_in`,
		r.ID, r.Name, r.Description, permsJSON, inheritJSON, r.BuiltIn)
	if err != nil {
		return fmt.Errorf("rbac: failed to save role %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStorage) DeleteRole(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("rbac: failed to delete role %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStorage) LoadRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, permissions, inherit_from, built_in FROM roles`)
	if err != nil {
		return nil, fmt.Errorf("rbac: failed to load roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		var permsJSON, inheritJSON []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &permsJSON, &inheritJSON, &r.BuiltIn); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(permsJSON, &r.Permissions); err != nil {
			return nil, fmt.Errorf("rbac: failed to unmarshal permissions for %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(inheritJSON, &r.InheritFrom); err != nil {
			return nil, fmt.Errorf("rbac: failed to unmarshal inheritFrom for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) SaveAssignment(ctx context.Context, a UserAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_role_assignments (user_id, role_id, assigned_by, assigned_at, revoked_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO UPDATE SET
			role_id = EXCLUDED.role_id, assigned_by = EXCLUDED.assigned_by,
			assigned_at = EXCLUDED.assigned_at, revoked_at = EXCLUDED.revoked_at`,
		a.UserID, a.RoleID, a.AssignedBy, a.AssignedAt, a.RevokedAt)
	if err != nil {
		return fmt.Errorf("rbac: failed to save assignment for %s: %w", a.UserID, err)
	}
	return nil
}

func (s *PostgresStorage) LoadAssignments(ctx context.Context) ([]UserAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role_id, assigned_by, assigned_at, revoked_at FROM user_role_assignments`)
	if err != nil {
		return nil, fmt.Errorf("rbac: failed to load assignments: %w", err)
	}
	defer rows.Close()

	var out []UserAssignment
	for rows.Next() {
		var a UserAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.AssignedBy, &a.AssignedAt, &a.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
