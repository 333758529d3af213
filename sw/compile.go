package sw

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/activities"
	"github.com/deepnoodle-ai/swflow/script"
	"github.com/go-resty/resty/v2"
	"github.com/kaptinlin/jsonschema"
)

// Program is a validated definition compiled to an engine workflow.
type Program struct {
	definition *Definition
	workflow   *swflow.Workflow
	compiler   script.Compiler
	functions  *functionActivities
	states     []swflow.Activity
	schema     *jsonschema.Schema
	timeout    time.Duration
}

// Definition returns the definition the program was compiled from.
func (p *Program) Definition() *Definition {
	return p.definition
}

// Workflow returns the compiled engine workflow. It is nil when the
// definition declares no states.
func (p *Program) Workflow() *swflow.Workflow {
	return p.workflow
}

// Empty reports whether the definition declares no states.
func (p *Program) Empty() bool {
	return p.workflow == nil
}

// Compiler returns the expression engine for the definition's language.
func (p *Program) Compiler() script.Compiler {
	return p.compiler
}

// Activities returns the state activities followed by the function
// activities they dispatch to.
func (p *Program) Activities() []swflow.Activity {
	result := make([]swflow.Activity, 0, len(p.states)+5)
	result = append(result, p.states...)
	return append(result, p.functions.list()...)
}

// Timeout returns the workflow execution timeout, or zero.
func (p *Program) Timeout() time.Duration {
	return p.timeout
}

// ValidateInput checks input against the dataInputSchema. It passes when
// the definition has no schema.
func (p *Program) ValidateInput(input map[string]any) error {
	if p.schema == nil {
		return nil
	}
	result := p.schema.Validate(input)
	if result.Valid {
		return nil
	}
	messages := make([]string, 0, len(result.Errors))
	for field, err := range result.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", field, err.Error()))
	}
	sort.Strings(messages)
	return fmt.Errorf("input does not match dataInputSchema: %s", strings.Join(messages, "; "))
}

type compileOptions struct {
	client   *resty.Client
	baseDir  string
	logger   *slog.Logger
	subflows activities.SubflowExecutor
}

// Compile validates def and compiles it with default options.
func Compile(def *Definition) (*Program, error) {
	return compile(def, compileOptions{})
}

func compile(def *Definition, opts compileOptions) (*Program, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	baseDir := def.baseDir
	if baseDir == "" {
		baseDir = opts.baseDir
	}

	p := &Program{
		definition: def,
		compiler:   newCompiler(def),
		functions: &functionActivities{
			sysout:     activities.NewSysoutActivity(opts.logger),
			rest:       activities.NewRESTActivity(opts.client),
			expression: activities.NewExpressionActivity(),
			sleep:      activities.NewSleepActivity(),
			subflow:    activities.NewSubflowActivity(opts.subflows),
			openapi:    activities.NewOpenAPIResolver(baseDir),
		},
	}

	if def.Timeouts != nil && def.Timeouts.WorkflowExecTimeout != nil {
		p.timeout = parseTimeout(def.Timeouts.WorkflowExecTimeout.Duration)
	}
	if def.DataInputSchema != nil && len(def.DataInputSchema.Schema) > 0 {
		schema, err := jsonschema.NewCompiler().Compile(def.DataInputSchema.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to compile dataInputSchema: %w", err)
		}
		p.schema = schema
	}

	// A definition without states has nothing to run.
	if len(def.States) == 0 {
		return p, nil
	}

	steps := make([]*swflow.Step, 0, len(def.States))
	for _, state := range def.States {
		p.states = append(p.states, &stateRunner{
			program:       p,
			state:         state,
			actionTimeout: p.actionTimeout(state),
		})
		steps = append(steps, p.compileState(state))
	}

	name := def.Identifier()
	if name == "" {
		name = def.Name
	}
	wf, err := swflow.New(swflow.Options{
		Name:        name,
		Description: def.Description,
		Steps:       steps,
		Start:       def.StartState(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow: %w", err)
	}
	p.workflow = wf
	return p, nil
}

// compileState turns a state into one step running the state's activity.
func (p *Program) compileState(state *State) *swflow.Step {
	step := &swflow.Step{
		Name:        state.Name,
		Description: string(state.Type),
		Activity:    stateActivityPrefix + state.Name,
		Timeout:     p.stateTimeout(state),
	}

	for _, onError := range state.OnErrors {
		catch := &swflow.CatchConfig{ErrorEquals: p.errorTypes(onError.Refs())}
		if onError.Transition != nil && onError.Transition.NextState != "" {
			catch.Next = onError.Transition.NextState
		} else {
			catch.End = true
		}
		step.Catch = append(step.Catch, catch)
	}

	if state.Type == StateTypeSwitch {
		step.EdgeMatchingStrategy = swflow.EdgeMatchingFirst
		for _, cond := range state.DataConditions {
			edge := targetEdge(cond.Transition)
			edge.Condition = cond.Condition
			step.Next = append(step.Next, edge)
		}
		if state.DefaultCondition != nil {
			step.Next = append(step.Next, targetEdge(state.DefaultCondition.Transition))
		}
		return step
	}

	if state.Transition != nil && state.Transition.NextState != "" {
		step.Next = []*swflow.Edge{{Step: state.Transition.NextState}}
	} else {
		step.End = true
	}
	return step
}

// targetEdge moves to the transition's state, or ends without one.
func targetEdge(transition *Transition) *swflow.Edge {
	if transition != nil && transition.NextState != "" {
		return &swflow.Edge{Step: transition.NextState}
	}
	return &swflow.Edge{End: true}
}

func (p *Program) stateTimeout(state *State) time.Duration {
	for _, t := range []*Timeouts{state.Timeouts, p.definition.Timeouts} {
		if t != nil && t.StateExecTimeout != nil {
			return parseTimeout(t.StateExecTimeout.Total)
		}
	}
	return 0
}

func (p *Program) actionTimeout(state *State) time.Duration {
	for _, t := range []*Timeouts{state.Timeouts, p.definition.Timeouts} {
		if t != nil && t.ActionExecTimeout != "" {
			return parseTimeout(t.ActionExecTimeout)
		}
	}
	return 0
}

func (p *Program) branchTimeout(state *State, branch *Branch) time.Duration {
	for _, t := range []*Timeouts{branch.Timeouts, state.Timeouts, p.definition.Timeouts} {
		if t != nil && t.BranchExecTimeout != "" {
			return parseTimeout(t.BranchExecTimeout)
		}
	}
	return 0
}

// parseTimeout parses a validated duration. Invalid values disable the
// timeout.
func parseTimeout(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := activities.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// newCompiler builds the expression engine. Constants, secrets and
// workflow metadata are available as $CONST, $SECRET and $WORKFLOW in jq,
// and as CONST, SECRET and WORKFLOW in Risor.
func newCompiler(def *Definition) script.Compiler {
	globals := map[string]any{
		"CONST":    constants(def),
		"SECRET":   secrets(def),
		"WORKFLOW": map[string]any{"id": def.Identifier(), "name": def.Name, "version": def.Version},
	}
	if def.Lang() == ExpressionLangRisor {
		risorGlobals := script.DefaultRisorGlobals()
		for name, value := range globals {
			risorGlobals[name] = value
		}
		// iteration parameters are bound per call but must be declared
		// when scripts compile
		for _, state := range def.States {
			if state.Type == StateTypeForEach {
				param := state.IterationParam
				if param == "" {
					param = defaultIterationParam
				}
				risorGlobals[param] = nil
			}
		}
		return script.NewRisorEngine(risorGlobals)
	}
	return script.NewJQEngine(globals)
}

func constants(def *Definition) map[string]any {
	if def.Constants == nil {
		return map[string]any{}
	}
	return copyDocument(def.Constants)
}

// secrets reads each declared secret from the environment variable of the
// same name. Unset variables are left out.
func secrets(def *Definition) map[string]any {
	values := make(map[string]any, len(def.Secrets))
	for _, name := range def.Secrets {
		if value, ok := os.LookupEnv(name); ok {
			values[name] = value
		}
	}
	return values
}
