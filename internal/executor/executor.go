// Package executor is the bounded-concurrency task scheduler: callers
// submit work through Submit, it runs the validation -> rate-limit ->
// handler-lookup -> permission-gate gauntlet, then the task is queued
// and picked up by a semaphore-bounded pump, grounded in the teacher's
// queue.Worker (its sem channel and isolated per-task deadline context).
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentineld/runtime/internal/audit"
	"github.com/sentineld/runtime/internal/crypto"
	apperrors "github.com/sentineld/runtime/internal/errors"
	"github.com/sentineld/runtime/internal/ratelimit"
	"github.com/sentineld/runtime/internal/rbac"
)

// Config bounds the executor's concurrency and per-task deadlines.
type Config struct {
	MaxConcurrent    int
	DefaultTimeoutMs int64
	MaxTimeoutMs     int64
	QueueSize        int
}

type entry struct {
	task *Task
	done chan struct{}
}

// Executor is the bounded-concurrency task scheduler. One Executor is
// built once at bootstrap and shared by the gateway's task routes.
type Executor struct {
	cfg       Config
	rbac      *rbac.Engine
	limiter   ratelimit.Limiter
	chain     *audit.Chain
	logger    *zerolog.Logger
	validator InputValidator

	mu       sync.RWMutex
	handlers map[string]Handler
	tasks    map[string]*entry

	queue chan *entry
	sem   chan struct{}

	active sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc
	stopped   chan struct{}
}

// New builds an Executor. validator may be nil, in which case every
// submission passes validation.
func New(cfg Config, rbacEngine *rbac.Engine, limiter ratelimit.Limiter, chain *audit.Chain, validator InputValidator, logger *zerolog.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Executor{
		cfg:       cfg,
		rbac:      rbacEngine,
		limiter:   limiter,
		chain:     chain,
		logger:    logger,
		validator: validator,
		handlers:  make(map[string]Handler),
		tasks:     make(map[string]*entry),
		queue:     make(chan *entry, cfg.QueueSize),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// RegisterHandler adds a task type to the registry. Safe to call before
// or after Start.
func (e *Executor) RegisterHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[h.Name()] = h
}

// ActiveTasks returns the number of tasks currently occupying a
// semaphore slot.
func (e *Executor) ActiveTasks() int {
	return len(e.sem)
}

// Start runs the dequeue pump until ctx is cancelled or Stop is called.
// This is a blocking call; run it in a goroutine, or use Run for
// errgroup-style lifecycle management.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.runCancel != nil {
		e.mu.Unlock()
		return fmt.Errorf("executor: already started")
	}
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.stopped = make(chan struct{})
	runCtx := e.runCtx
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Info().Int("maxConcurrent", e.cfg.MaxConcurrent).Msg("executor started")
	}

	for {
		select {
		case <-runCtx.Done():
			e.active.Wait()
			close(e.stopped)
			return runCtx.Err()
		case ent := <-e.queue:
			select {
			case e.sem <- struct{}{}:
				e.active.Add(1)
				go e.runTask(ent)
			case <-runCtx.Done():
				e.active.Wait()
				close(e.stopped)
				return runCtx.Err()
			}
		}
	}
}

// Stop requests a graceful shutdown: no new tasks are dequeued, and
// Stop blocks until every in-flight task finishes (in-flight tasks run
// to their own deadline, not the executor's shutdown context, so this
// can take up to MaxTimeoutMs).
func (e *Executor) Stop() {
	e.mu.Lock()
	cancel := e.runCancel
	stopped := e.stopped
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if stopped != nil {
		<-stopped
	}
}

// Run adapts Start/Stop to the errgroup-compatible pattern the teacher's
// Worker.Run documents.
func (e *Executor) Run(ctx context.Context) func() error {
	return func() error {
		err := e.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

// Submit runs the five-step submission gauntlet and, on success,
// enqueues the task and returns it immediately in status pending. Use
// Wait to block for a terminal status.
func (e *Executor) Submit(ctx context.Context, create TaskCreate, sec SecurityContext) (*Task, error) {
	if e.validator != nil {
		if err := e.validator.Validate(create); err != nil {
			e.recordAudit(ctx, audit.EventTaskRejected, audit.LevelWarn, "task rejected: "+err.Error(), &sec)
			return nil, apperrors.ValidationFailed(err.Error())
		}
	}

	if e.limiter != nil {
		result, err := e.limiter.Check(ctx, "task_creation", ratelimit.KeyTypeUser, sec.UserID)
		if err != nil {
			return nil, apperrors.InternalServer(err.Error())
		}
		if !result.Allowed {
			e.recordAudit(ctx, audit.EventTaskRateLimited, audit.LevelWarn, "task creation rate limited", &sec)
			return nil, apperrors.RateLimited(result.RetryAfter)
		}
	}

	e.mu.RLock()
	handler, ok := e.handlers[create.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeNoHandler, fmt.Sprintf("no handler registered for task type %q", create.Type))
	}

	if e.rbac != nil {
		for _, perm := range handler.RequiredPermissions() {
			for _, action := range perm.Actions {
				if err := e.rbac.RequirePermission(sec.Role, rbac.Check{Resource: perm.Resource, Action: action}); err != nil {
					return nil, err
				}
				sec.PermissionsUsed = append(sec.PermissionsUsed, perm.Resource+":"+action)
			}
		}
	}

	inputHash, err := crypto.CanonicalHash(create.Input)
	if err != nil {
		return nil, apperrors.InternalServer("failed to canonicalize task input: " + err.Error())
	}

	id, err := crypto.UUIDv7()
	if err != nil {
		return nil, apperrors.InternalServer(err.Error())
	}

	timeoutMs := e.cfg.DefaultTimeoutMs
	if create.TimeoutMs > 0 {
		timeoutMs = create.TimeoutMs
	}
	if e.cfg.MaxTimeoutMs > 0 && timeoutMs > e.cfg.MaxTimeoutMs {
		timeoutMs = e.cfg.MaxTimeoutMs
	}
	if timeoutMs < 0 {
		timeoutMs = 0
	}

	task := &Task{
		ID:            id,
		CorrelationID: create.CorrelationID,
		ParentTaskID:  create.ParentTaskID,
		Type:          create.Type,
		Name:          create.Name,
		Description:   create.Description,
		Input:         create.Input,
		InputHash:     inputHash,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
		TimeoutMs:     timeoutMs,
		Security:      sec,
	}

	ent := &entry{task: task, done: make(chan struct{})}

	e.mu.Lock()
	e.tasks[task.ID] = ent
	e.mu.Unlock()

	e.recordAudit(ctx, audit.EventTaskCreated, audit.LevelInfo, "task created", &sec, taskIDField(task.ID))

	select {
	case e.queue <- ent:
		return task, nil
	default:
		return nil, apperrors.ServiceUnavailable("task queue")
	}
}

// Get returns the current snapshot of a task by id.
func (e *Executor) Get(taskID string) (*Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.tasks[taskID]
	if !ok {
		return nil, false
	}
	return ent.task, true
}

// Wait blocks until the task reaches a terminal status, ctx is
// cancelled, or the task is unknown.
func (e *Executor) Wait(ctx context.Context, taskID string) (*Task, error) {
	e.mu.RLock()
	ent, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("task")
	}
	select {
	case <-ent.done:
		return ent.task, nil
	case <-ctx.Done():
		return ent.task, ctx.Err()
	}
}

// Cancel requires tasks:cancel for role, then flips the task's
// cancellation token. A task that has already reached a terminal state
// is left alone.
func (e *Executor) Cancel(ctx context.Context, taskID, role string) error {
	if e.rbac != nil {
		if err := e.rbac.RequirePermission(role, rbac.Check{Resource: "tasks", Action: "cancel"}); err != nil {
			return err
		}
	}

	e.mu.RLock()
	ent, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("task")
	}

	e.mu.Lock()
	if ent.task.Status.terminal() {
		e.mu.Unlock()
		return nil
	}
	cancel := ent.task.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (e *Executor) runTask(ent *entry) {
	defer func() { <-e.sem }()
	defer e.active.Done()
	defer close(ent.done)

	task := ent.task
	start := time.Now()

	e.mu.Lock()
	task.StartedAt = &start
	task.Status = StatusRunning
	e.mu.Unlock()

	e.mu.RLock()
	handler := e.handlers[task.Type]
	e.mu.RUnlock()

	taskCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	task.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	deadline := taskCtx
	var deadlineCancel context.CancelFunc
	if task.TimeoutMs > 0 {
		deadline, deadlineCancel = context.WithDeadline(taskCtx, start.Add(time.Duration(task.TimeoutMs)*time.Millisecond))
		defer deadlineCancel()
	}

	output, execErr := e.invoke(deadline, handler, task)

	completed := time.Now()
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	e.mu.Lock()
	task.CompletedAt = &completed
	task.DurationMs = completed.Sub(start).Milliseconds()
	task.Resources = &Resources{WallTimeMs: task.DurationMs, HeapAllocKB: memStats.HeapAlloc / 1024}

	switch {
	case execErr == nil:
		outputHash, hashErr := crypto.CanonicalHash(output)
		if hashErr != nil {
			outputHash = ""
		}
		task.Status = StatusCompleted
		task.Result = &TaskResult{Success: true, OutputHash: outputHash}
	case errors.Is(execErr, context.DeadlineExceeded):
		// the deadline context expiring (not the parent cancel token)
		// distinguishes a timeout from an external cancel.
		task.Status = StatusTimeout
		task.Result = &TaskResult{Success: false, Error: &TaskError{Code: "TIMEOUT", Message: "task exceeded its deadline", Recoverable: false}}
	case errors.Is(execErr, context.Canceled):
		task.Status = StatusCancelled
		task.Result = &TaskResult{Success: false, Error: &TaskError{Code: "CANCELLED", Message: "task was cancelled", Recoverable: false}}
	default:
		task.Status = StatusFailed
		task.Result = &TaskResult{Success: false, Error: &TaskError{Code: "EXECUTION_ERROR", Message: execErr.Error(), Recoverable: false}}
	}
	status := task.Status
	resultErrMsg := ""
	if task.Result != nil && task.Result.Error != nil {
		resultErrMsg = task.Result.Error.Message
	}
	e.mu.Unlock()

	ctx := context.Background()
	switch status {
	case StatusCompleted:
		e.recordAudit(ctx, audit.EventTaskCompleted, audit.LevelInfo, "task completed", &task.Security, taskIDField(task.ID))
	case StatusCancelled:
		e.recordAudit(ctx, audit.EventTaskCancelled, audit.LevelInfo, "task cancelled", &task.Security, taskIDField(task.ID))
	default:
		e.recordAudit(ctx, audit.EventTaskFailed, audit.LevelWarn, "task failed: "+resultErrMsg, &task.Security, taskIDField(task.ID))
	}
}

// invoke runs handler.Execute with panic recovery, converting a panic
// into the same terminal transition an ordinary error produces.
func (e *Executor) invoke(ctx context.Context, handler Handler, task *Task) (output interface{}, err error) {
	if handler == nil {
		return nil, fmt.Errorf("executor: no handler for task type %q", task.Type)
	}

	resultCh := make(chan struct {
		output interface{}
		err    error
	}, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if e.logger != nil {
					e.logger.Error().Str("taskId", task.ID).Interface("panic", r).Msg("handler panicked")
				}
				resultCh <- struct {
					output interface{}
					err    error
				}{nil, fmt.Errorf("panic in handler: %v", r)}
			}
		}()
		out, hErr := handler.Execute(ctx, task)
		resultCh <- struct {
			output interface{}
			err    error
		}{out, hErr}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.output, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) recordAudit(ctx context.Context, event string, level audit.Level, message string, sec *SecurityContext, opts ...auditOpt) {
	if e.chain == nil {
		return
	}
	partial := audit.PartialEntry{
		Event:   event,
		Level:   level,
		Message: message,
	}
	if sec != nil && sec.UserID != "" {
		uid := sec.UserID
		partial.UserID = &uid
	}
	for _, o := range opts {
		o(&partial)
	}
	if _, err := e.chain.Record(ctx, partial); err != nil && e.logger != nil {
		e.logger.Error().Err(err).Str("event", event).Msg("failed to record audit entry")
	}
}

type auditOpt func(*audit.PartialEntry)

func taskIDField(id string) auditOpt {
	return func(p *audit.PartialEntry) {
		p.TaskID = &id
	}
}
