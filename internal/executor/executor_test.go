package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentineld/runtime/internal/audit"
	"github.com/sentineld/runtime/internal/ratelimit"
	"github.com/sentineld/runtime/internal/rbac"
)

func newTestExecutor(t *testing.T, cfg Config) (*Executor, *audit.MemoryStorage) {
	t.Helper()
	storage := audit.NewMemoryStorage()
	chain, err := audit.New(storage, []byte("executor-test-signing-key-32byt!"), nil)
	require.NoError(t, err)
	require.NoError(t, chain.Initialize(context.Background()))

	limiter := ratelimit.New(ratelimit.DefaultRules(), nil)

	engine := rbac.New(rbac.NewMemoryStorage(), nil)
	require.NoError(t, engine.Load(context.Background()))

	return New(cfg, engine, limiter, chain, nil, nil), storage
}

func runExecutor(t *testing.T, e *Executor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)
	return cancel
}

func TestExecutor_SubmitRunsHandlerToCompletion(t *testing.T) {
	e, _ := newTestExecutor(t, Config{MaxConcurrent: 2, DefaultTimeoutMs: 5000, MaxTimeoutMs: 10000})
	e.RegisterHandler(HandlerFunc{
		TaskName: "echo",
		Fn: func(ctx context.Context, task *Task) (interface{}, error) {
			return map[string]interface{}{"echo": task.Input}, nil
		},
	})
	cancel := runExecutor(t, e)
	defer cancel()

	task, err := e.Submit(context.Background(), TaskCreate{Type: "echo", Name: "t1", Input: "hi"}, SecurityContext{UserID: "u1", Role: "role_admin"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)

	done, err := e.Wait(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Success)
	assert.NotEmpty(t, done.Result.OutputHash)
}

func TestExecutor_NoHandlerReturnsError(t *testing.T) {
	e, _ := newTestExecutor(t, Config{MaxConcurrent: 2, DefaultTimeoutMs: 1000, MaxTimeoutMs: 5000})
	cancel := runExecutor(t, e)
	defer cancel()

	_, err := e.Submit(context.Background(), TaskCreate{Type: "nonexistent", Input: 1}, SecurityContext{UserID: "u1", Role: "role_admin"})
	require.Error(t, err)
}

func TestExecutor_TaskTimeout(t *testing.T) {
	e, storage := newTestExecutor(t, Config{MaxConcurrent: 2, DefaultTimeoutMs: 5000, MaxTimeoutMs: 10000})
	e.RegisterHandler(HandlerFunc{
		TaskName: "slow",
		Fn: func(ctx context.Context, task *Task) (interface{}, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	cancel := runExecutor(t, e)
	defer cancel()

	task, err := e.Submit(context.Background(), TaskCreate{Type: "slow", Input: 1, TimeoutMs: 100}, SecurityContext{UserID: "u1", Role: "role_admin"})
	require.NoError(t, err)

	done, err := e.Wait(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "TIMEOUT", done.Result.Error.Code)

	assert.Eventually(t, func() bool { return e.ActiveTasks() == 0 }, time.Second, 10*time.Millisecond)

	entries, err := storage.LoadAll(context.Background())
	require.NoError(t, err)
	var events []string
	for _, ent := range entries {
		if ent.TaskID != nil && *ent.TaskID == task.ID {
			events = append(events, ent.Event)
		}
	}
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventTaskCreated, events[0])
	assert.Equal(t, audit.EventTaskFailed, events[1])
}

func TestExecutor_HandlerErrorMarksFailed(t *testing.T) {
	e, _ := newTestExecutor(t, Config{MaxConcurrent: 2, DefaultTimeoutMs: 1000, MaxTimeoutMs: 5000})
	e.RegisterHandler(HandlerFunc{
		TaskName: "boom",
		Fn: func(ctx context.Context, task *Task) (interface{}, error) {
			return nil, errors.New("handler blew up")
		},
	})
	cancel := runExecutor(t, e)
	defer cancel()

	task, err := e.Submit(context.Background(), TaskCreate{Type: "boom", Input: 1}, SecurityContext{UserID: "u1", Role: "role_admin"})
	require.NoError(t, err)

	done, err := e.Wait(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, "EXECUTION_ERROR", done.Result.Error.Code)
}

func TestExecutor_PanicIsRecoveredAsFailure(t *testing.T) {
	e, _ := newTestExecutor(t, Config{MaxConcurrent: 2, DefaultTimeoutMs: 1000, MaxTimeoutMs: 5000})
	e.RegisterHandler(HandlerFunc{
		TaskName: "panicky",
		Fn: func(ctx context.Context, task *Task) (interface{}, error) {
			panic("handler panic")
		},
	})
	cancel := runExecutor(t, e)
	defer cancel()

	task, err := e.Submit(context.Background(), TaskCreate{Type: "panicky", Input: 1}, SecurityContext{UserID: "u1", Role: "role_admin"})
	require.NoError(t, err)

	done, err := e.Wait(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, "EXECUTION_ERROR", done.Result.Error.Code)
}

func TestExecutor_CancelFlipsStatusToCancelled(t *testing.T) {
	e, _ := newTestExecutor(t, Config{MaxConcurrent: 2, DefaultTimeoutMs: 5000, MaxTimeoutMs: 10000})
	started := make(chan struct{})
	e.RegisterHandler(HandlerFunc{
		TaskName: "waits",
		Fn: func(ctx context.Context, task *Task) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	cancel := runExecutor(t, e)
	defer cancel()

	task, err := e.Submit(context.Background(), TaskCreate{Type: "waits", Input: 1}, SecurityContext{UserID: "u1", Role: "role_admin"})
	require.NoError(t, err)

	<-started
	require.NoError(t, e.Cancel(context.Background(), task.ID, "role_admin"))

	done, err := e.Wait(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, done.Status)
}

func TestExecutor_PermissionGateDeniesUnauthorizedRole(t *testing.T) {
	e, _ := newTestExecutor(t, Config{MaxConcurrent: 2, DefaultTimeoutMs: 1000, MaxTimeoutMs: 5000})
	e.RegisterHandler(HandlerFunc{
		TaskName:    "admin-only",
		Permissions: []rbac.Permission{{Resource: "admin", Actions: []string{"execute"}}},
		Fn: func(ctx context.Context, task *Task) (interface{}, error) {
			return "ok", nil
		},
	})
	cancel := runExecutor(t, e)
	defer cancel()

	_, err := e.Submit(context.Background(), TaskCreate{Type: "admin-only", Input: 1}, SecurityContext{UserID: "u2", Role: "role_viewer"})
	require.Error(t, err)
}

func TestExecutor_ActiveTasksNeverExceedsMaxConcurrent(t *testing.T) {
	e, _ := newTestExecutor(t, Config{MaxConcurrent: 1, DefaultTimeoutMs: 5000, MaxTimeoutMs: 10000})
	release := make(chan struct{})
	e.RegisterHandler(HandlerFunc{
		TaskName: "hold",
		Fn: func(ctx context.Context, task *Task) (interface{}, error) {
			<-release
			return "done", nil
		},
	})
	cancel := runExecutor(t, e)
	defer cancel()

	t1, err := e.Submit(context.Background(), TaskCreate{Type: "hold", Input: 1}, SecurityContext{UserID: "u1", Role: "role_admin"})
	require.NoError(t, err)
	t2, err := e.Submit(context.Background(), TaskCreate{Type: "hold", Input: 2}, SecurityContext{UserID: "u1", Role: "role_admin"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return e.ActiveTasks() == 1 }, time.Second, 5*time.Millisecond)
	close(release)

	_, err = e.Wait(context.Background(), t1.ID)
	require.NoError(t, err)
	_, err = e.Wait(context.Background(), t2.ID)
	require.NoError(t, err)
}
