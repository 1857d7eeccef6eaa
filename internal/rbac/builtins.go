package rbac

// Built-in role ids. Mutating or deleting any of these through DefineRole
// or RemoveRole yields Forbidden.
const (
	RoleAdmin           = "role_admin"
	RoleOperator        = "role_operator"
	RoleAuditor         = "role_auditor"
	RoleViewer          = "role_viewer"
	RoleCaptureOperator = "role_capture_operator"
	RoleSecurityAuditor = "role_security_auditor"
	RoleVoiceOperator   = "role_voice_operator"
)

func builtInRoles() []Role {
	return []Role{
		{
			ID:          RoleAdmin,
			Name:        "Administrator",
			Description: "Unrestricted access to every resource and action.",
			BuiltIn:     true,
			Permissions: []Permission{
				{Resource: "*", Actions: []string{"*"}},
			},
		},
		{
			ID:          RoleOperator,
			Name:        "Operator",
			Description: "Day-to-day task submission and management.",
			BuiltIn:     true,
			Permissions: []Permission{
				{Resource: "tasks", Actions: []string{"create", "read", "cancel"}},
				{Resource: "auth", Actions: []string{"read"}},
				{Resource: "metrics", Actions: []string{"read"}},
			},
		},
		{
			ID:          RoleAuditor,
			Name:        "Auditor",
			Description: "Read-only access to audit and compliance surfaces.",
			BuiltIn:     true,
			Permissions: []Permission{
				{Resource: "audit", Actions: []string{"read", "verify"}},
				{Resource: "tasks", Actions: []string{"read"}},
				{Resource: "metrics", Actions: []string{"read"}},
			},
		},
		{
			ID:          RoleViewer,
			Name:        "Viewer",
			Description: "Read-only access to task and metrics state.",
			BuiltIn:     true,
			Permissions: []Permission{
				{Resource: "tasks", Actions: []string{"read"}},
				{Resource: "metrics", Actions: []string{"read"}},
			},
		},
		{
			ID:          RoleCaptureOperator,
			Name:        "Capture Operator",
			Description: "Submits and cancels capture-type tasks only.",
			BuiltIn:     true,
			InheritFrom: []string{RoleViewer},
			Permissions: []Permission{
				{Resource: "tasks.capture*", Actions: []string{"create", "cancel"}},
			},
		},
		{
			ID:          RoleSecurityAuditor,
			Name:        "Security Auditor",
			Description: "Auditor plus permission-denial and chain-rotation visibility.",
			BuiltIn:     true,
			InheritFrom: []string{RoleAuditor},
			Permissions: []Permission{
				{Resource: "auth.roles", Actions: []string{"read"}},
			},
		},
		{
			ID:          RoleVoiceOperator,
			Name:        "Voice Operator",
			Description: "Submits and cancels voice-type tasks only.",
			BuiltIn:     true,
			InheritFrom: []string{RoleViewer},
			Permissions: []Permission{
				{Resource: "tasks.voice*", Actions: []string{"create", "cancel"}},
			},
		},
	}
}

func isBuiltIn(roleID string) bool {
	switch roleID {
	case RoleAdmin, RoleOperator, RoleAuditor, RoleViewer, RoleCaptureOperator, RoleSecurityAuditor, RoleVoiceOperator:
		return true
	default:
		return false
	}
}
