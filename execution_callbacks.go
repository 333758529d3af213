package swflow

import (
	"context"
	"log/slog"
	"time"
)

// ExecutionCallbacks observes an execution. Activity callbacks run on the
// goroutine of the path making the call, the others on the run loop.
type ExecutionCallbacks interface {
	BeforeWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent)
	AfterWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent)
	BeforePathExecution(ctx context.Context, event *PathExecutionEvent)
	AfterPathExecution(ctx context.Context, event *PathExecutionEvent)
	BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent)
	AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent)
}

type WorkflowExecutionEvent struct {
	ExecutionID  string
	WorkflowName string
	Status       ExecutionStatus
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Inputs       map[string]any
	PathCount    int
	Error        error
}

type PathExecutionEvent struct {
	ExecutionID  string
	WorkflowName string
	PathID       string
	Status       PathStatus
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	CurrentStep  string
	StepOutputs  map[string]any
	Error        error
}

type ActivityExecutionEvent struct {
	ExecutionID  string
	WorkflowName string
	PathID       string
	StepName     string
	ActivityName string
	Parameters   map[string]any
	Result       any
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Error        error
}

// BaseExecutionCallbacks ignores every event. Embed it to implement only
// the callbacks you need.
type BaseExecutionCallbacks struct{}

func (BaseExecutionCallbacks) BeforeWorkflowExecution(context.Context, *WorkflowExecutionEvent) {}
func (BaseExecutionCallbacks) AfterWorkflowExecution(context.Context, *WorkflowExecutionEvent)  {}
func (BaseExecutionCallbacks) BeforePathExecution(context.Context, *PathExecutionEvent)         {}
func (BaseExecutionCallbacks) AfterPathExecution(context.Context, *PathExecutionEvent)          {}
func (BaseExecutionCallbacks) BeforeActivityExecution(context.Context, *ActivityExecutionEvent) {}
func (BaseExecutionCallbacks) AfterActivityExecution(context.Context, *ActivityExecutionEvent)  {}

// CallbackChain forwards every event to each of its callbacks in order.
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add appends callback to the chain.
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeWorkflowExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterWorkflowExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforePathExecution(ctx context.Context, event *PathExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforePathExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterPathExecution(ctx context.Context, event *PathExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterPathExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeActivityExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterActivityExecution(ctx, event)
	}
}

// LoggingCallbacks reports execution events to a slog.Logger. Workflow events
// log at info level, path and activity events at debug level.
type LoggingCallbacks struct {
	BaseExecutionCallbacks
	logger *slog.Logger
}

// NewLoggingCallbacks returns callbacks that log to logger.
func NewLoggingCallbacks(logger *slog.Logger) *LoggingCallbacks {
	return &LoggingCallbacks{logger: logger}
}

func (c *LoggingCallbacks) BeforeWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	c.logger.InfoContext(ctx, "workflow started",
		"execution_id", event.ExecutionID,
		"workflow", event.WorkflowName)
}

func (c *LoggingCallbacks) AfterWorkflowExecution(ctx context.Context, event *WorkflowExecutionEvent) {
	if event.Error != nil {
		c.logger.ErrorContext(ctx, "workflow failed",
			"execution_id", event.ExecutionID,
			"workflow", event.WorkflowName,
			"duration", event.Duration,
			"error", event.Error)
		return
	}
	c.logger.InfoContext(ctx, "workflow completed",
		"execution_id", event.ExecutionID,
		"workflow", event.WorkflowName,
		"duration", event.Duration,
		"paths", event.PathCount)
}

func (c *LoggingCallbacks) BeforePathExecution(ctx context.Context, event *PathExecutionEvent) {
	c.logger.DebugContext(ctx, "path started",
		"path_id", event.PathID,
		"step", event.CurrentStep)
}

func (c *LoggingCallbacks) AfterPathExecution(ctx context.Context, event *PathExecutionEvent) {
	c.logger.DebugContext(ctx, "path finished",
		"path_id", event.PathID,
		"status", event.Status,
		"step", event.CurrentStep,
		"duration", event.Duration)
}

func (c *LoggingCallbacks) AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	attrs := []any{
		"path_id", event.PathID,
		"step", event.StepName,
		"activity", event.ActivityName,
		"duration", event.Duration,
	}
	if event.Error != nil {
		c.logger.DebugContext(ctx, "activity failed", append(attrs, "error", event.Error)...)
		return
	}
	c.logger.DebugContext(ctx, "activity completed", attrs...)
}
