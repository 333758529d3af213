package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/retry"
)

// ErrNoSubflowExecutor is returned when a subflow runs without an
// executor to resolve it.
var ErrNoSubflowExecutor = errors.New("no subflow executor configured")

// SubflowSpec names the workflow to run and its input document.
type SubflowSpec struct {
	WorkflowID string         `mapstructure:"workflowId"`
	Version    string         `mapstructure:"version"`
	Input      map[string]any `mapstructure:"input"`
	ParentID   string         `mapstructure:"parentId"`
}

// SubflowResult is the outcome of a completed subflow.
type SubflowResult struct {
	ExecutionID string
	Status      swflow.ExecutionStatus
	Data        map[string]any
	Duration    time.Duration
}

// SubflowExecutor runs a subflow to completion.
type SubflowExecutor interface {
	ExecuteSubflow(ctx context.Context, spec *SubflowSpec) (*SubflowResult, error)
}

// SubflowActivity runs another workflow and returns its final data.
type SubflowActivity struct {
	executor SubflowExecutor
}

// NewSubflowActivity returns the subflow activity. A nil executor makes
// every call fail with ErrNoSubflowExecutor.
func NewSubflowActivity(executor SubflowExecutor) swflow.Activity {
	return swflow.NewTypedActivity(&SubflowActivity{executor: executor})
}

func (a *SubflowActivity) Name() string {
	return "subflow"
}

func (a *SubflowActivity) Execute(ctx swflow.Context, params SubflowSpec) (any, error) {
	if params.WorkflowID == "" {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, "subflow requires a workflowId")
	}
	if a.executor == nil {
		return nil, retry.NewNonRecoverableError(
			fmt.Errorf("subflow %q: %w", params.WorkflowID, ErrNoSubflowExecutor))
	}
	if params.Input == nil {
		params.Input = map[string]any{}
	}
	result, err := a.executor.ExecuteSubflow(ctx, &params)
	if err != nil {
		return nil, err
	}
	ctx.GetLogger().Debug("subflow completed",
		"workflow_id", params.WorkflowID,
		"execution_id", result.ExecutionID,
		"status", result.Status,
		"duration", result.Duration)
	return result.Data, nil
}
