package rbac

import "time"

// Operator is a condition comparator.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpIn  Operator = "in"
	OpNin Operator = "nin"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

// Condition is an additional constraint a Permission's match must satisfy
// against the caller-supplied context. A Condition whose Value is nil is
// treated as absent and always satisfied.
type Condition struct {
	Field    string      `yaml:"field" json:"field"`
	Operator Operator    `yaml:"operator" json:"operator"`
	Value    interface{} `yaml:"value" json:"value"`
}

// Permission grants Actions on Resource, optionally narrowed by
// Conditions evaluated against a check's context.
type Permission struct {
	Resource   string      `yaml:"resource" json:"resource"`
	Actions    []string    `yaml:"actions" json:"actions"`
	Conditions []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Role is a named, ordered bag of permissions, optionally inheriting from
// other roles.
type Role struct {
	ID          string       `yaml:"id" json:"id"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description" json:"description"`
	Permissions []Permission `yaml:"permissions" json:"permissions"`
	InheritFrom []string     `yaml:"inheritFrom,omitempty" json:"inheritFrom,omitempty"`
	BuiltIn     bool         `yaml:"-" json:"builtIn"`
}

// UserAssignment binds a user to a role. At most one non-revoked
// assignment may exist per user at a time.
type UserAssignment struct {
	UserID     string
	RoleID     string
	AssignedBy string
	AssignedAt time.Time
	RevokedAt  *time.Time
}

// Active reports whether this assignment is currently in effect.
func (a UserAssignment) Active() bool {
	return a.RevokedAt == nil
}

// Check is a single permission question: may this role perform action on
// resource, optionally narrowed by a request-specific context.
type Check struct {
	Resource string
	Action   string
	Context  map[string]interface{}
}

// CheckResult is the outcome of CheckPermission.
type CheckResult struct {
	Granted           bool
	Reason            string
	MatchedPermission *Permission
}
