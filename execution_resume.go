package swflow

import (
	"context"
	"fmt"
)

// Resume continues a prior execution from its latest checkpoint. The
// restored state keeps this execution's ID. Failed paths restart at the
// step they failed on with the variables they had at that point. Resuming
// a completed execution is a no-op.
func (e *Execution) Resume(ctx context.Context, priorExecutionID string) error {
	if err := e.markStarted(); err != nil {
		return err
	}
	if err := e.restore(ctx, priorExecutionID); err != nil {
		return err
	}
	if e.state.GetStatus() == ExecutionStatusCompleted {
		e.logger.Info("prior execution already completed", "prior_execution_id", priorExecutionID)
		return nil
	}
	return e.run(ctx)
}

func (e *Execution) restore(ctx context.Context, priorExecutionID string) error {
	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, priorExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if checkpoint == nil {
		return fmt.Errorf("no checkpoint found for execution %q", priorExecutionID)
	}
	id := e.state.ID()
	e.state.FromCheckpoint(checkpoint)
	e.state.SetID(id)

	switch e.state.GetStatus() {
	case ExecutionStatusCompleted:
		return nil
	case ExecutionStatusFailed:
		e.logger.Info("resuming failed execution",
			"prior_execution_id", priorExecutionID,
			"error", checkpoint.Error)
		e.state.SetError(nil)
		e.state.SetStatus(ExecutionStatusRunning)
	}

	for pathID, pathState := range e.state.GetPathStates() {
		switch pathState.Status {
		case PathStatusCompleted:
			continue
		case PathStatusFailed:
			e.state.UpdatePathState(pathID, func(state *PathState) {
				state.Status = PathStatusPending
				state.ErrorMessage = ""
			})
		}
		step, ok := e.workflow.GetStep(pathState.CurrentStep)
		if !ok {
			e.logger.Warn("checkpointed step not found, restarting path from the start step",
				"path_id", pathID,
				"step", pathState.CurrentStep)
			step = e.workflow.Start()
		}
		e.activePaths[pathID] = e.newPath(pathID, step, pathState.Variables)
	}

	e.logger.Info("restored execution from checkpoint",
		"prior_execution_id", priorExecutionID,
		"active_paths", len(e.activePaths))
	return nil
}
