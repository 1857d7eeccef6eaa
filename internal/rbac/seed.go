package rbac

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk shape of RBAC_SEED_FILE: a flat list of
// non-built-in roles to define at startup, in addition to the seven
// built-ins Load always installs.
type seedFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadSeedFile reads path and defines every role it contains through
// DefineRole, so seeded roles go through the same built-in-immutability
// check and persist to Storage like any other DefineRole call. A role
// in the file whose id collides with a built-in is rejected.
func (e *Engine) LoadSeedFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("rbac: failed to read seed file %s: %w", path, err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("rbac: failed to parse seed file %s: %w", path, err)
	}

	for _, r := range sf.Roles {
		if err := e.DefineRole(ctx, r); err != nil {
			return fmt.Errorf("rbac: failed to seed role %s: %w", r.ID, err)
		}
	}
	return nil
}
