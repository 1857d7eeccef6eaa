package executor

import (
	"context"
	"time"

	"github.com/sentineld/runtime/internal/rbac"
)

// Status is a Task's position in its lifecycle. Exactly one terminal
// transition follows pending/running.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// SecurityContext carries the caller identity a task was submitted
// under, threaded through to the handler and into the audit trail.
type SecurityContext struct {
	UserID            string
	Role              string
	PermissionsUsed   []string
	IPAddress         string
	UserAgent         string
}

// TaskError is the shape of Task.Result.Error.
type TaskError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// TaskResult is the terminal outcome of a Task.
type TaskResult struct {
	Success    bool       `json:"success"`
	OutputHash string     `json:"outputHash,omitempty"`
	Error      *TaskError `json:"error,omitempty"`
}

// Resources is best-effort, informational resource accounting. It never
// gates behavior.
type Resources struct {
	WallTimeMs   int64  `json:"wallTimeMs"`
	HeapAllocKB  uint64 `json:"heapAllocKb"`
}

// Task is one unit of submitted work and its full lifecycle record.
type Task struct {
	ID            string
	CorrelationID string
	ParentTaskID  string
	Type          string
	Name          string
	Description   string
	Input         interface{}
	InputHash     string
	Status        Status
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	DurationMs    int64
	TimeoutMs     int64
	Security      SecurityContext
	Result        *TaskResult
	Resources     *Resources

	cancel context.CancelFunc
}

// TaskCreate is the caller-supplied subset of a Task; Submit fills in the
// rest.
type TaskCreate struct {
	Type          string
	Name          string
	Description   string
	Input         interface{}
	TimeoutMs     int64
	CorrelationID string
	ParentTaskID  string
}

// Handler executes one task type. RequiredPermissions is checked, in
// order, against the submitting caller's role before the task is ever
// enqueued; handlers themselves never touch RBAC or the audit chain.
type Handler interface {
	Name() string
	RequiredPermissions() []rbac.Permission
	Execute(ctx context.Context, task *Task) (interface{}, error)
}

// HandlerFunc adapts a plain function into a Handler whose required
// permissions are the Permissions field (none when it is empty), for
// tests and simple internal task types.
type HandlerFunc struct {
	TaskName    string
	Permissions []rbac.Permission
	Fn          func(ctx context.Context, task *Task) (interface{}, error)
}

func (h HandlerFunc) Name() string                          { return h.TaskName }
func (h HandlerFunc) RequiredPermissions() []rbac.Permission { return h.Permissions }
func (h HandlerFunc) Execute(ctx context.Context, task *Task) (interface{}, error) {
	return h.Fn(ctx, task)
}

// InputValidator inspects a TaskCreate's canonicalized input before
// anything else runs. Returning a non-nil error rejects the submission.
type InputValidator interface {
	Validate(create TaskCreate) error
}

// InputValidatorFunc adapts a function into an InputValidator.
type InputValidatorFunc func(create TaskCreate) error

func (f InputValidatorFunc) Validate(create TaskCreate) error { return f(create) }
