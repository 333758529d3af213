package swflow

import (
	"context"
	"time"
)

// ActivityLogEntry records one activity call made by a path.
type ActivityLogEntry struct {
	ID          string         `json:"id,omitempty"`
	ExecutionID string         `json:"execution_id"`
	Activity    string         `json:"activity"`
	StepName    string         `json:"step_name"`
	PathID      string         `json:"path_id"`
	Parameters  map[string]any `json:"parameters"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartTime   time.Time      `json:"start_time"`

	// Duration in seconds.
	Duration float64 `json:"duration"`
}

// ActivityLogger keeps the activity history of executions.
type ActivityLogger interface {
	LogActivity(ctx context.Context, entry *ActivityLogEntry) error
	GetActivityHistory(ctx context.Context, executionID string) ([]*ActivityLogEntry, error)
}

// NullActivityLogger discards activity log entries.
type NullActivityLogger struct{}

func NewNullActivityLogger() *NullActivityLogger {
	return &NullActivityLogger{}
}

func (l *NullActivityLogger) LogActivity(ctx context.Context, entry *ActivityLogEntry) error {
	return nil
}

func (l *NullActivityLogger) GetActivityHistory(ctx context.Context, executionID string) ([]*ActivityLogEntry, error) {
	return nil, nil
}
