package sw

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/activities"
)

// maxSubflowDepth bounds subflow nesting so a workflow calling itself
// fails instead of recursing forever.
const maxSubflowDepth = 16

type subflowDepthKey struct{}

// workflowRegistry indexes processed programs by workflow id, and by id
// and version. The latest program processed for an id wins.
type workflowRegistry struct {
	byID      map[string]*Program
	byVersion map[string]*Program
}

func newWorkflowRegistry() *workflowRegistry {
	return &workflowRegistry{
		byID:      map[string]*Program{},
		byVersion: map[string]*Program{},
	}
}

func versionKey(id, version string) string {
	return id + "@" + version
}

func (r *workflowRegistry) register(program *Program) {
	id := program.definition.Identifier()
	if id == "" {
		return
	}
	r.byID[id] = program
	if version := program.definition.Version; version != "" {
		r.byVersion[versionKey(id, version)] = program
	}
}

// get looks a program up by id. A non-empty version must match exactly.
func (r *workflowRegistry) get(id, version string) (*Program, bool) {
	if version != "" {
		program, ok := r.byVersion[versionKey(id, version)]
		return program, ok
	}
	program, ok := r.byID[id]
	return program, ok
}

// list returns the registered workflow ids, sorted.
func (r *workflowRegistry) list() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExecuteSubflow runs a definition previously processed by this application
// as a child of a running execution. The child gets its own execution ID
// and shares the application's checkpointer and activity logger.
func (a *Application) ExecuteSubflow(ctx context.Context, spec *activities.SubflowSpec) (*activities.SubflowResult, error) {
	depth, _ := ctx.Value(subflowDepthKey{}).(int)
	if depth >= maxSubflowDepth {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal,
			fmt.Sprintf("subflow %q exceeds the maximum nesting depth of %d", spec.WorkflowID, maxSubflowDepth))
	}

	a.mutex.Lock()
	if a.closed {
		a.mutex.Unlock()
		return nil, ErrApplicationClosed
	}
	program, ok := a.registry.get(spec.WorkflowID, spec.Version)
	known := a.registry.list()
	a.mutex.Unlock()
	if !ok {
		name := spec.WorkflowID
		if spec.Version != "" {
			name = versionKey(spec.WorkflowID, spec.Version)
		}
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal,
			fmt.Sprintf("subflow %q not found, processed workflows: [%s]", name, strings.Join(known, ", ")))
	}

	if err := a.checkInput(program, spec.Input); err != nil {
		return nil, swflow.WrapWorkflowError(swflow.ErrorTypeFatal, fmt.Errorf("subflow %q: %w", spec.WorkflowID, err))
	}
	startTime := time.Now()
	result, err := a.start(context.WithValue(ctx, subflowDepthKey{}, depth+1), program, spec.Input)
	if err != nil {
		return nil, fmt.Errorf("subflow %q: %w", spec.WorkflowID, err)
	}
	a.logger.Debug("subflow finished",
		"workflow_id", spec.WorkflowID,
		"parent_path", spec.ParentID,
		"execution_id", result.ID)
	return &activities.SubflowResult{
		ExecutionID: result.ID,
		Status:      result.Status,
		Data:        result.Data,
		Duration:    time.Since(startTime),
	}, nil
}
