package swflow

import (
	"errors"
	"fmt"
)

// Options are used to configure a workflow.
type Options struct {
	Name        string         `json:"name" yaml:"name"`
	Steps       []*Step        `json:"steps" yaml:"steps"`
	Start       string         `json:"start,omitempty" yaml:"start,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Path        string         `json:"path,omitempty" yaml:"path,omitempty"`
	State       map[string]any `json:"state,omitempty" yaml:"state,omitempty"`
}

// Workflow defines a repeatable process as a graph of steps to be executed.
type Workflow struct {
	name         string
	description  string
	path         string
	steps        []*Step
	stepsByName  map[string]*Step
	start        *Step
	initialState map[string]any
}

// New returns a new Workflow configured with the given options. The start
// step is Options.Start, or the first step when Start is empty.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, errors.New("workflow name required")
	}
	if len(opts.Steps) == 0 {
		return nil, errors.New("steps required")
	}

	stepsByName := make(map[string]*Step, len(opts.Steps))
	for _, step := range opts.Steps {
		if step.Name == "" {
			return nil, errors.New("step name required")
		}
		if _, exists := stepsByName[step.Name]; exists {
			return nil, fmt.Errorf("duplicate step name %q", step.Name)
		}
		stepsByName[step.Name] = step
	}
	if err := validateWorkflowSteps(opts.Steps, stepsByName); err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}

	start := opts.Steps[0]
	if opts.Start != "" {
		var ok bool
		if start, ok = stepsByName[opts.Start]; !ok {
			return nil, fmt.Errorf("start step %q not found", opts.Start)
		}
	}

	return &Workflow{
		name:         opts.Name,
		description:  opts.Description,
		path:         opts.Path,
		steps:        opts.Steps,
		stepsByName:  stepsByName,
		start:        start,
		initialState: opts.State,
	}, nil
}

// Path returns the workflow path
func (w *Workflow) Path() string {
	return w.path
}

// Name returns the workflow name
func (w *Workflow) Name() string {
	return w.name
}

// Description returns the workflow description
func (w *Workflow) Description() string {
	return w.description
}

// Steps returns the workflow steps
func (w *Workflow) Steps() []*Step {
	return w.steps
}

// Start returns the workflow start step
func (w *Workflow) Start() *Step {
	return w.start
}

// InitialState returns the workflow initial state
func (w *Workflow) InitialState() map[string]any {
	return w.initialState
}

// GetStep returns a step by name
func (w *Workflow) GetStep(name string) (*Step, bool) {
	step, ok := w.stepsByName[name]
	return step, ok
}

// StepNames returns the step names in declaration order.
func (w *Workflow) StepNames() []string {
	names := make([]string, 0, len(w.steps))
	for _, step := range w.steps {
		names = append(names, step.Name)
	}
	return names
}

func validateWorkflowSteps(steps []*Step, stepsByName map[string]*Step) error {
	var errs []error
	for _, step := range steps {
		for _, edge := range step.Next {
			if edge.End {
				continue
			}
			if _, ok := stepsByName[edge.Step]; !ok {
				errs = append(errs, fmt.Errorf("step %q: edge to step %q not found", step.Name, edge.Step))
			}
		}
		for _, catch := range step.Catch {
			if catch.End {
				continue
			}
			if _, ok := stepsByName[catch.Next]; !ok {
				errs = append(errs, fmt.Errorf("step %q: catch handler step %q not found", step.Name, catch.Next))
			}
		}
		switch step.EdgeMatchingStrategy {
		case "", EdgeMatchingAll, EdgeMatchingFirst:
		default:
			errs = append(errs, fmt.Errorf("step %q: unknown edge matching strategy %q", step.Name, step.EdgeMatchingStrategy))
		}
	}
	return errors.Join(errs...)
}
