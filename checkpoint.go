package swflow

import (
	"context"
	"time"
)

// Checkpoint is a complete snapshot of an execution. It is written after
// every activity and once more when the execution finishes.
type Checkpoint struct {
	ID           string                `json:"id"`
	ExecutionID  string                `json:"execution_id"`
	WorkflowName string                `json:"workflow_name"`
	Status       string                `json:"status"`
	Inputs       map[string]any        `json:"inputs"`
	PathStates   map[string]*PathState `json:"path_states"`
	PathCounter  int                   `json:"path_counter"`
	Error        string                `json:"error,omitempty"`
	StartTime    time.Time             `json:"start_time,omitzero"`
	EndTime      time.Time             `json:"end_time,omitzero"`
	CheckpointAt time.Time             `json:"checkpoint_at"`
}

// ExecutionSummary is the listing view of a checkpointed execution.
type ExecutionSummary struct {
	ExecutionID  string        `json:"execution_id"`
	WorkflowName string        `json:"workflow_name"`
	Status       string        `json:"status"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time,omitzero"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// Summary returns the summary view of the checkpoint. Unfinished
// executions are measured up to the checkpoint time.
func (c *Checkpoint) Summary() *ExecutionSummary {
	end := c.EndTime
	if end.IsZero() {
		end = c.CheckpointAt
	}
	return &ExecutionSummary{
		ExecutionID:  c.ExecutionID,
		WorkflowName: c.WorkflowName,
		Status:       c.Status,
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		Duration:     end.Sub(c.StartTime),
		Error:        c.Error,
	}
}

// Checkpointer stores the latest checkpoint of each execution.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint returns nil, nil when the execution has no checkpoint.
	LoadCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error)

	DeleteCheckpoint(ctx context.Context, executionID string) error
}

// ExecutionLister is implemented by checkpointers that can enumerate the
// executions they hold, newest first.
type ExecutionLister interface {
	ListExecutions(ctx context.Context) ([]*ExecutionSummary, error)
}

// NullCheckpointer discards checkpoints.
type NullCheckpointer struct{}

func NewNullCheckpointer() *NullCheckpointer {
	return &NullCheckpointer{}
}

func (c *NullCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	return nil
}

func (c *NullCheckpointer) LoadCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error) {
	return nil, nil
}

func (c *NullCheckpointer) DeleteCheckpoint(ctx context.Context, executionID string) error {
	return nil
}
