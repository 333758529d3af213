package swflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/swflow/script"
	"go.jetify.com/typeid"
)

// NewExecutionID returns a new typeid with the "exec" prefix
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

func newActivityID() string {
	id, err := typeid.WithPrefix("act")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionOptions configures a new execution.
type ExecutionOptions struct {
	Workflow *Workflow

	// Inputs is the read-only input document. Conditions and parameter
	// expressions see it as "inputs".
	Inputs map[string]any

	// State seeds the variables of the first path, on top of the
	// workflow's initial state.
	State map[string]any

	ExecutionID        string
	Activities         []Activity
	ScriptCompiler     script.Compiler
	Logger             *slog.Logger
	Formatter          WorkflowFormatter
	Checkpointer       Checkpointer
	ActivityLogger     ActivityLogger
	ExecutionCallbacks ExecutionCallbacks
}

// Execution runs a workflow. Every path runs in its own goroutine and
// reports back through snapshots, which the execution folds into its
// ExecutionState and checkpoints.
type Execution struct {
	workflow    *Workflow
	state       *ExecutionState
	activities  map[string]Activity
	pathOptions PathOptions

	// Paths that have not yet reported completion or failure. Only the
	// run loop touches this map.
	activePaths map[string]*Path
	snapshots   chan PathSnapshot
	pathsWg     sync.WaitGroup

	compiler       script.Compiler
	checkpointer   Checkpointer
	activityLogger ActivityLogger
	callbacks      ExecutionCallbacks
	logger         *slog.Logger
	formatter      WorkflowFormatter

	// mutex serializes activity logging and checkpoint writes.
	mutex       sync.Mutex
	started     bool
	checkpoints int
}

// NewExecution prepares an execution of opts.Workflow. Nothing runs until
// Run or Resume is called.
func NewExecution(opts ExecutionOptions) (*Execution, error) {
	if opts.Workflow == nil {
		return nil, errors.New("workflow is required")
	}
	if len(opts.Activities) == 0 {
		return nil, errors.New("activities are required")
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = NewExecutionID()
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewRisorEngine(script.DefaultRisorGlobals())
	}
	if opts.Logger == nil {
		opts.Logger = NewDiscardLogger()
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewNullCheckpointer()
	}
	if opts.ActivityLogger == nil {
		opts.ActivityLogger = NewNullActivityLogger()
	}
	if opts.ExecutionCallbacks == nil {
		opts.ExecutionCallbacks = &BaseExecutionCallbacks{}
	}

	activities := make(map[string]Activity, len(opts.Activities))
	for _, activity := range opts.Activities {
		if _, exists := activities[activity.Name()]; exists {
			return nil, fmt.Errorf("duplicate activity %q", activity.Name())
		}
		activities[activity.Name()] = activity
	}
	for _, step := range opts.Workflow.Steps() {
		if step.Activity == "" {
			continue
		}
		if _, ok := activities[step.Activity]; !ok {
			return nil, fmt.Errorf("step %q: activity %q is not registered", step.Name, step.Activity)
		}
	}

	variables := copyMap(opts.Workflow.InitialState())
	for key, value := range opts.State {
		variables[key] = value
	}

	e := &Execution{
		workflow:       opts.Workflow,
		state:          newExecutionState(opts.ExecutionID, opts.Workflow.Name(), opts.Inputs),
		activities:     activities,
		activePaths:    map[string]*Path{},
		snapshots:      make(chan PathSnapshot, 100),
		compiler:       opts.ScriptCompiler,
		checkpointer:   opts.Checkpointer,
		activityLogger: opts.ActivityLogger,
		callbacks:      opts.ExecutionCallbacks,
		logger:         opts.Logger.With("execution_id", opts.ExecutionID),
		formatter:      opts.Formatter,
	}
	e.pathOptions = PathOptions{
		Workflow:         opts.Workflow,
		Variables:        variables,
		Inputs:           copyMap(opts.Inputs),
		ScriptCompiler:   opts.ScriptCompiler,
		UpdatesChannel:   e.snapshots,
		Logger:           opts.Logger,
		ActivityRegistry: activities,
		ActivityExecutor: executionAdapter{e},
		Formatter:        opts.Formatter,
	}
	return e, nil
}

// ID returns the execution ID
func (e *Execution) ID() string {
	return e.state.ID()
}

// Status returns the current execution status
func (e *Execution) Status() ExecutionStatus {
	return e.state.GetStatus()
}

// Run the execution to completion. The returned error is the first path
// error, or ctx.Err() when the context ends first.
func (e *Execution) Run(ctx context.Context) error {
	if err := e.markStarted(); err != nil {
		return err
	}
	return e.run(ctx)
}

func (e *Execution) markStarted() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.started {
		return errors.New("execution already started")
	}
	e.started = true
	return nil
}

func (e *Execution) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.state.SetStatus(ExecutionStatusRunning)
	if e.state.GetStartTime().IsZero() {
		e.state.SetTiming(time.Now(), time.Time{})
	}
	e.callbacks.BeforeWorkflowExecution(ctx, e.workflowEvent(e.state.GetStatus(), nil))

	if len(e.activePaths) == 0 {
		e.startPaths(ctx, e.newPath("main", e.workflow.Start(), e.pathOptions.Variables))
	} else {
		restored := make([]*Path, 0, len(e.activePaths))
		for _, path := range e.activePaths {
			restored = append(restored, path)
		}
		e.logger.Info("restarting paths from checkpoint", "paths", len(restored))
		e.startPaths(ctx, restored...)
	}

	var runErr error
	for runErr == nil && len(e.activePaths) > 0 {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
		case snapshot := <-e.snapshots:
			if err := e.applySnapshot(ctx, snapshot); err != nil {
				runErr = err
				cancel()
			}
		}
	}
	e.pathsWg.Wait()

	return e.finish(ctx, runErr)
}

// finish records the final status, fires the completion callback and
// writes the last checkpoint, even when ctx was canceled.
func (e *Execution) finish(ctx context.Context, runErr error) error {
	status := ExecutionStatusCompleted
	if failed := e.state.GetFailedPathIDs(); runErr != nil || len(failed) > 0 {
		status = ExecutionStatusFailed
		if runErr == nil {
			runErr = fmt.Errorf("execution failed: %v", failed)
		}
		e.logger.Error("execution failed", "failed_paths", failed, "error", runErr)
	} else {
		e.logger.Info("execution completed")
	}
	e.state.SetFinished(status, time.Now(), runErr)
	e.callbacks.AfterWorkflowExecution(ctx, e.workflowEvent(status, runErr))

	e.mutex.Lock()
	err := e.saveCheckpoint(context.WithoutCancel(ctx))
	e.mutex.Unlock()
	if err != nil {
		e.logger.Error("failed to save final checkpoint", "error", err)
	}
	return runErr
}

func (e *Execution) workflowEvent(status ExecutionStatus, err error) *WorkflowExecutionEvent {
	event := &WorkflowExecutionEvent{
		ExecutionID:  e.state.ID(),
		WorkflowName: e.workflow.Name(),
		Status:       status,
		StartTime:    e.state.GetStartTime(),
		Inputs:       e.state.GetInputs(),
		PathCount:    len(e.state.GetPathStates()),
		Error:        err,
	}
	if status == ExecutionStatusCompleted || status == ExecutionStatusFailed {
		event.EndTime = time.Now()
		event.Duration = event.EndTime.Sub(event.StartTime)
	}
	return event
}

// FinalState returns the variables of the single completed path. It fails
// when no path or more than one path completed.
func (e *Execution) FinalState() (map[string]any, error) {
	var completed []*PathState
	for _, pathState := range e.state.GetPathStates() {
		if pathState.Status == PathStatusCompleted {
			completed = append(completed, pathState)
		}
	}
	switch len(completed) {
	case 0:
		return nil, errors.New("no completed paths found")
	case 1:
		return copyMap(completed[0].Variables), nil
	default:
		return nil, fmt.Errorf("%d paths completed, expected one", len(completed))
	}
}

func (e *Execution) newPath(id string, step *Step, variables map[string]any) *Path {
	opts := e.pathOptions
	opts.Variables = variables
	return NewPath(id, step, opts)
}

// startPaths registers paths as active and runs each in a goroutine.
func (e *Execution) startPaths(ctx context.Context, paths ...*Path) {
	for _, path := range paths {
		id := path.ID()
		now := time.Now()
		e.activePaths[id] = path
		e.state.SetPathState(id, &PathState{
			ID:          id,
			Status:      PathStatusRunning,
			CurrentStep: path.CurrentStep().Name,
			StartTime:   now,
			StepOutputs: map[string]any{},
			Variables:   path.Variables(),
		})
		e.callbacks.BeforePathExecution(ctx, &PathExecutionEvent{
			ExecutionID:  e.state.ID(),
			WorkflowName: e.workflow.Name(),
			PathID:       id,
			Status:       PathStatusRunning,
			StartTime:    now,
			CurrentStep:  path.CurrentStep().Name,
			StepOutputs:  map[string]any{},
		})

		e.pathsWg.Add(1)
		go func(p *Path) {
			defer e.pathsWg.Done()
			p.Run(ctx)
		}(path)
	}
}

// applySnapshot folds a path snapshot into the execution state. A failed
// snapshot returns the path's error.
func (e *Execution) applySnapshot(ctx context.Context, snapshot PathSnapshot) error {
	if snapshot.Error != nil {
		e.state.UpdatePathState(snapshot.PathID, func(state *PathState) {
			state.Status = PathStatusFailed
			state.CurrentStep = snapshot.StepName
			state.ErrorMessage = snapshot.Error.Error()
			state.EndTime = snapshot.EndTime
			state.Variables = snapshot.Variables
		})
		delete(e.activePaths, snapshot.PathID)
		e.pathFinished(ctx, snapshot, PathStatusFailed)
		return snapshot.Error
	}

	e.state.UpdatePathState(snapshot.PathID, func(state *PathState) {
		state.StepOutputs[snapshot.StepName] = snapshot.StepOutput
		state.Status = snapshot.Status
		state.CurrentStep = snapshot.NextStep
		state.Variables = snapshot.Variables
		if snapshot.Status == PathStatusCompleted {
			state.EndTime = snapshot.EndTime
		}
	})
	if snapshot.Status == PathStatusCompleted {
		delete(e.activePaths, snapshot.PathID)
		e.pathFinished(ctx, snapshot, PathStatusCompleted)
	}

	if len(snapshot.NewPaths) > 0 {
		branches := make([]*Path, 0, len(snapshot.NewPaths))
		for _, spec := range snapshot.NewPaths {
			id := e.state.NextPathID(snapshot.PathID)
			branches = append(branches, e.newPath(id, spec.Step, spec.Variables))
		}
		e.startPaths(ctx, branches...)
	}

	e.logger.Debug("path snapshot applied",
		"path_id", snapshot.PathID,
		"status", snapshot.Status,
		"active_paths", len(e.activePaths),
		"new_paths", len(snapshot.NewPaths))
	return nil
}

func (e *Execution) pathFinished(ctx context.Context, snapshot PathSnapshot, status PathStatus) {
	var stepOutputs map[string]any
	if pathState, ok := e.state.GetPathStates()[snapshot.PathID]; ok {
		stepOutputs = pathState.StepOutputs
	}
	e.callbacks.AfterPathExecution(ctx, &PathExecutionEvent{
		ExecutionID:  e.state.ID(),
		WorkflowName: e.workflow.Name(),
		PathID:       snapshot.PathID,
		Status:       status,
		StartTime:    snapshot.StartTime,
		EndTime:      snapshot.EndTime,
		Duration:     snapshot.EndTime.Sub(snapshot.StartTime),
		CurrentStep:  snapshot.StepName,
		StepOutputs:  stepOutputs,
		Error:        snapshot.Error,
	})
}

// saveCheckpoint must be called with e.mutex held.
func (e *Execution) saveCheckpoint(ctx context.Context) error {
	e.checkpoints++
	checkpoint := e.state.ToCheckpoint()
	checkpoint.ID = fmt.Sprintf("%d", e.checkpoints)
	return e.checkpointer.SaveCheckpoint(ctx, checkpoint)
}

// executionAdapter routes path activity calls through the execution.
type executionAdapter struct {
	execution *Execution
}

func (a executionAdapter) ExecuteActivity(ctx context.Context, stepName, pathID string, activity Activity, params map[string]any, state *PathLocalState) (any, error) {
	return a.execution.executeActivity(ctx, stepName, pathID, activity, params, state)
}

// executeActivity runs one activity for a path. The call is reported to
// callbacks, appended to the activity log and followed by a checkpoint.
func (e *Execution) executeActivity(ctx context.Context, stepName, pathID string, activity Activity, params map[string]any, pathState *PathLocalState) (any, error) {
	event := &ActivityExecutionEvent{
		ExecutionID:  e.state.ID(),
		WorkflowName: e.workflow.Name(),
		PathID:       pathID,
		StepName:     stepName,
		ActivityName: activity.Name(),
		Parameters:   copyMap(params),
		StartTime:    time.Now(),
	}
	e.callbacks.BeforeActivityExecution(ctx, event)

	result, err := activity.Execute(NewContext(ctx, ExecutionContextOptions{
		PathLocalState: pathState,
		Logger:         e.logger.With("path_id", pathID, "step", stepName),
		Compiler:       e.compiler,
		PathID:         pathID,
		StepName:       stepName,
	}), params)

	event.EndTime = time.Now()
	event.Duration = event.EndTime.Sub(event.StartTime)
	event.Result = result
	event.Error = err
	e.callbacks.AfterActivityExecution(ctx, event)

	entry := &ActivityLogEntry{
		ID:          newActivityID(),
		ExecutionID: e.state.ID(),
		StepName:    stepName,
		PathID:      pathID,
		Activity:    activity.Name(),
		Parameters:  params,
		Result:      result,
		StartTime:   event.StartTime,
		Duration:    event.Duration.Seconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if logErr := e.activityLogger.LogActivity(ctx, entry); logErr != nil {
		e.logger.Error("failed to log activity", "error", logErr)
		return nil, logErr
	}
	if cpErr := e.saveCheckpoint(ctx); cpErr != nil {
		e.logger.Error("failed to save checkpoint", "error", cpErr)
		return nil, cpErr
	}
	return result, err
}
