package swflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(name string, value any) Activity {
	return NewActivityFunction(name, func(ctx Context, params map[string]any) (any, error) {
		return value, nil
	})
}

func echo(name string) Activity {
	return NewActivityFunction(name, func(ctx Context, params map[string]any) (any, error) {
		return params["value"], nil
	})
}

func TestNewExecutionValidation(t *testing.T) {
	wf := newTestWorkflow(t, &Step{Name: "work", Activity: "work"})

	tests := []struct {
		name string
		opts ExecutionOptions
		want string
	}{
		{name: "workflow", opts: ExecutionOptions{}, want: "workflow is required"},
		{name: "activities", opts: ExecutionOptions{Workflow: wf}, want: "activities are required"},
		{
			name: "duplicate activity",
			opts: ExecutionOptions{Workflow: wf, Activities: []Activity{constant("work", 1), constant("work", 2)}},
			want: `duplicate activity "work"`,
		},
		{
			name: "unregistered activity",
			opts: ExecutionOptions{Workflow: wf, Activities: []Activity{constant("other", 1)}},
			want: `step "work": activity "work" is not registered`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExecution(tt.opts)
			require.EqualError(t, err, tt.want)
		})
	}
}

func TestExecutionRun(t *testing.T) {
	wf, err := New(Options{
		Name:  "greeting",
		State: map[string]any{"punctuation": "!"},
		Steps: []*Step{
			{
				Name:       "greet",
				Activity:   "echo",
				Parameters: map[string]any{"value": "Hello, ${inputs.name}${state.punctuation}"},
				Store:      "greeting",
				Next:       []*Edge{{Step: "count"}},
			},
			{
				Name:       "count",
				Activity:   "echo",
				Parameters: map[string]any{"value": "$(len(state.greeting))"},
				Store:      "length",
			},
		},
	})
	require.NoError(t, err)

	execution, err := NewExecution(ExecutionOptions{
		Workflow:   wf,
		Inputs:     map[string]any{"name": "World"},
		State:      map[string]any{"name": "World"},
		Activities: []Activity{echo("echo")},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(execution.ID(), "exec_"))
	assert.Equal(t, ExecutionStatusPending, execution.Status())

	require.NoError(t, execution.Run(context.Background()))
	assert.Equal(t, ExecutionStatusCompleted, execution.Status())

	data, err := execution.FinalState()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"punctuation": "!",
		"name":        "World",
		"greeting":    "Hello, World!",
		"length":      int64(13),
	}, data)

	assert.EqualError(t, execution.Run(context.Background()), "execution already started")
}

func TestExecutionFailure(t *testing.T) {
	wf := newTestWorkflow(t,
		&Step{Name: "first", Activity: "ok", Store: "first", Next: []*Edge{{Step: "second"}}},
		&Step{Name: "second", Activity: "broken"},
	)
	checkpointer := newMemoryCheckpointer()
	execution, err := NewExecution(ExecutionOptions{
		Workflow:     wf,
		Checkpointer: checkpointer,
		Activities: []Activity{
			constant("ok", 1),
			NewActivityFunction("broken", func(ctx Context, params map[string]any) (any, error) {
				return nil, NewWorkflowError("503", "unavailable")
			}),
		},
	})
	require.NoError(t, err)

	err = execution.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "503", ClassifyError(err).Type)
	assert.Equal(t, ExecutionStatusFailed, execution.Status())

	_, err = execution.FinalState()
	assert.EqualError(t, err, "no completed paths found")

	checkpoint := checkpointer.latest(execution.ID())
	require.NotNil(t, checkpoint)
	assert.Equal(t, "failed", checkpoint.Status)
	assert.Equal(t, "503: unavailable", checkpoint.Error)
	mainPath := checkpoint.PathStates["main"]
	require.NotNil(t, mainPath)
	assert.Equal(t, PathStatusFailed, mainPath.Status)
	assert.Equal(t, "second", mainPath.CurrentStep)
	assert.Equal(t, 1, mainPath.Variables["first"])
}

func TestExecutionBranches(t *testing.T) {
	wf := newTestWorkflow(t,
		&Step{Name: "fork", Next: []*Edge{{Step: "left"}, {Step: "right"}}},
		&Step{Name: "left", Activity: "side", Parameters: map[string]any{"value": "left"}, Store: "side"},
		&Step{Name: "right", Activity: "side", Parameters: map[string]any{"value": "right"}, Store: "side"},
	)
	checkpointer := newMemoryCheckpointer()
	execution, err := NewExecution(ExecutionOptions{
		Workflow:     wf,
		Checkpointer: checkpointer,
		Activities:   []Activity{echo("side")},
	})
	require.NoError(t, err)
	require.NoError(t, execution.Run(context.Background()))

	_, err = execution.FinalState()
	assert.EqualError(t, err, "2 paths completed, expected one")

	paths := checkpointer.latest(execution.ID()).PathStates
	require.Len(t, paths, 2)
	assert.Equal(t, "left", paths["main"].Variables["side"])
	assert.Equal(t, "right", paths["main-1"].Variables["side"])
}

func TestExecutionCanceled(t *testing.T) {
	wf := newTestWorkflow(t, &Step{Name: "block", Activity: "block"})
	started := make(chan struct{})
	execution, err := NewExecution(ExecutionOptions{
		Workflow: wf,
		Activities: []Activity{
			NewActivityFunction("block", func(ctx Context, params map[string]any) (any, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	require.ErrorIs(t, execution.Run(ctx), context.Canceled)
	assert.Equal(t, ExecutionStatusFailed, execution.Status())
}

func TestExecutionCheckpointsAndActivityLog(t *testing.T) {
	dir := t.TempDir()
	checkpointer, err := NewFileCheckpointer(filepath.Join(dir, "executions"))
	require.NoError(t, err)
	activityLogger, err := NewFileActivityLogger(filepath.Join(dir, "activities"))
	require.NoError(t, err)
	defer activityLogger.Close()

	wf := newTestWorkflow(t,
		&Step{Name: "one", Activity: "echo", Parameters: map[string]any{"value": 1}, Store: "one", Next: []*Edge{{Step: "two"}}},
		&Step{Name: "two", Activity: "echo", Parameters: map[string]any{"value": 2}, Store: "two"},
	)
	execution, err := NewExecution(ExecutionOptions{
		Workflow:       wf,
		Checkpointer:   checkpointer,
		ActivityLogger: activityLogger,
		Activities:     []Activity{echo("echo")},
	})
	require.NoError(t, err)
	require.NoError(t, execution.Run(context.Background()))

	ctx := context.Background()
	checkpoint, err := checkpointer.LoadCheckpoint(ctx, execution.ID())
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, "3", checkpoint.ID)
	assert.Equal(t, "completed", checkpoint.Status)
	assert.Equal(t, "test-workflow", checkpoint.WorkflowName)
	assert.False(t, checkpoint.EndTime.IsZero())

	files, err := filepath.Glob(filepath.Join(dir, "executions", execution.ID(), "checkpoint-*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 3)

	summaries, err := checkpointer.ListExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, execution.ID(), summaries[0].ExecutionID)

	history, err := activityLogger.GetActivityHistory(ctx, execution.ID())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].StepName)
	assert.Equal(t, "two", history[1].StepName)
	assert.True(t, strings.HasPrefix(history[0].ID, "act_"))
	assert.NotEqual(t, history[0].ID, history[1].ID)

	require.NoError(t, checkpointer.DeleteCheckpoint(ctx, execution.ID()))
	checkpoint, err = checkpointer.LoadCheckpoint(ctx, execution.ID())
	require.NoError(t, err)
	assert.Nil(t, checkpoint)
}

func TestExecutionResume(t *testing.T) {
	checkpointer := newMemoryCheckpointer()
	var firstCalls, secondCalls int
	failSecond := true
	activities := []Activity{
		NewActivityFunction("first", func(ctx Context, params map[string]any) (any, error) {
			firstCalls++
			return "prepared", nil
		}),
		NewActivityFunction("second", func(ctx Context, params map[string]any) (any, error) {
			secondCalls++
			if failSecond {
				return nil, errors.New("temporary failure")
			}
			value, _ := ctx.GetVariable("first")
			return fmt.Sprintf("%v and done", value), nil
		}),
	}
	wf := newTestWorkflow(t,
		&Step{Name: "first", Activity: "first", Store: "first", Next: []*Edge{{Step: "second"}}},
		&Step{Name: "second", Activity: "second", Store: "second"},
	)
	newExecution := func() *Execution {
		execution, err := NewExecution(ExecutionOptions{
			Workflow:     wf,
			Checkpointer: checkpointer,
			Activities:   activities,
		})
		require.NoError(t, err)
		return execution
	}
	ctx := context.Background()

	failed := newExecution()
	require.EqualError(t, failed.Run(ctx), "temporary failure")

	failSecond = false
	resumed := newExecution()
	require.NoError(t, resumed.Resume(ctx, failed.ID()))
	assert.Equal(t, ExecutionStatusCompleted, resumed.Status())
	assert.Equal(t, 1, firstCalls)
	assert.Equal(t, 2, secondCalls)

	data, err := resumed.FinalState()
	require.NoError(t, err)
	assert.Equal(t, "prepared and done", data["second"])
	assert.Equal(t, "completed", checkpointer.latest(resumed.ID()).Status)

	t.Run("completed executions are not rerun", func(t *testing.T) {
		again := newExecution()
		require.NoError(t, again.Resume(ctx, resumed.ID()))
		assert.Equal(t, ExecutionStatusCompleted, again.Status())
		assert.Equal(t, 2, secondCalls)
		data, err := again.FinalState()
		require.NoError(t, err)
		assert.Equal(t, "prepared and done", data["second"])
	})

	t.Run("unknown execution", func(t *testing.T) {
		err := newExecution().Resume(ctx, "exec_unknown")
		assert.EqualError(t, err, `no checkpoint found for execution "exec_unknown"`)
	})
}

func TestExecutionCallbacks(t *testing.T) {
	recorder := &recordingCallbacks{}
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	wf := newTestWorkflow(t, &Step{Name: "work", Activity: "work", Store: "result"})
	execution, err := NewExecution(ExecutionOptions{
		Workflow:           wf,
		ExecutionCallbacks: NewCallbackChain(recorder, NewLoggingCallbacks(logger)),
		Activities:         []Activity{constant("work", "done")},
	})
	require.NoError(t, err)
	require.NoError(t, execution.Run(context.Background()))

	assert.Equal(t, []string{
		"before workflow",
		"before path main",
		"before activity work",
		"after activity work: done",
		"after path main: completed",
		"after workflow: completed",
	}, recorder.events())

	output := buf.String()
	for _, message := range []string{"workflow started", "path started", "activity completed", "path finished", "workflow completed"} {
		assert.Contains(t, output, message)
	}
}

func TestCallbackChainAdd(t *testing.T) {
	first, second := &recordingCallbacks{}, &recordingCallbacks{}
	chain := NewCallbackChain(first)
	chain.Add(second)
	chain.AfterWorkflowExecution(context.Background(), &WorkflowExecutionEvent{
		Status: ExecutionStatusFailed,
		Error:  errors.New("boom"),
	})
	assert.Equal(t, []string{"after workflow: failed"}, first.events())
	assert.Equal(t, first.events(), second.events())
}

func TestGeneratePatches(t *testing.T) {
	original := map[string]any{"keep": 1, "change": "a", "remove": true}
	modified := map[string]any{"keep": 1, "change": "b", "add": []any{1}}

	patches := GeneratePatches(original, modified)
	assert.Equal(t, []Patch{
		{Variable: "add", Value: []any{1}},
		{Variable: "change", Value: "b"},
		{Variable: "remove", Delete: true},
	}, patches)

	state := NewPathLocalState(nil, original)
	ApplyPatches(state, patches)
	assert.Equal(t, modified, state.Variables())
}

type memoryCheckpointer struct {
	mutex       sync.Mutex
	checkpoints map[string]*Checkpoint
}

func newMemoryCheckpointer() *memoryCheckpointer {
	return &memoryCheckpointer{checkpoints: map[string]*Checkpoint{}}
}

func (c *memoryCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.checkpoints[checkpoint.ExecutionID] = checkpoint
	return nil
}

func (c *memoryCheckpointer) LoadCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error) {
	return c.latest(executionID), nil
}

func (c *memoryCheckpointer) DeleteCheckpoint(ctx context.Context, executionID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.checkpoints, executionID)
	return nil
}

func (c *memoryCheckpointer) latest(executionID string) *Checkpoint {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.checkpoints[executionID]
}

type recordingCallbacks struct {
	BaseExecutionCallbacks
	mutex  sync.Mutex
	record []string
}

func (r *recordingCallbacks) add(format string, args ...any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.record = append(r.record, fmt.Sprintf(format, args...))
}

func (r *recordingCallbacks) events() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.record...)
}

func (r *recordingCallbacks) BeforeWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	r.add("before workflow")
}

func (r *recordingCallbacks) AfterWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	r.add("after workflow: %s", event.Status)
}

func (r *recordingCallbacks) BeforePathExecution(ctx context.Context, event *PathExecutionEvent) {
	r.add("before path %s", event.PathID)
}

func (r *recordingCallbacks) AfterPathExecution(ctx context.Context, event *PathExecutionEvent) {
	r.add("after path %s: %s", event.PathID, event.Status)
}

func (r *recordingCallbacks) BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	r.add("before activity %s", event.ActivityName)
}

func (r *recordingCallbacks) AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	r.add("after activity %s: %v", event.ActivityName, event.Result)
}

type syncBuffer struct {
	mutex sync.Mutex
	buf   []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return string(b.buf)
}
