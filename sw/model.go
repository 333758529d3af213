package sw

import (
	"encoding/json"
)

// StateType is the kind of a workflow state.
type StateType string

const (
	StateTypeOperation StateType = "operation"
	StateTypeSwitch    StateType = "switch"
	StateTypeInject    StateType = "inject"
	StateTypeSleep     StateType = "sleep"
	StateTypeParallel  StateType = "parallel"
	StateTypeForEach   StateType = "foreach"
	StateTypeEvent     StateType = "event"
	StateTypeCallback  StateType = "callback"
)

// Function types accepted in function definitions.
const (
	FunctionTypeAsyncAPI   = "asyncapi"
	FunctionTypeCustom     = "custom"
	FunctionTypeExpression = "expression"
	FunctionTypeGraphQL    = "graphql"
	FunctionTypeOData      = "odata"
	FunctionTypeREST       = "rest"
	FunctionTypeRPC        = "rpc"
)

// Expression languages.
const (
	ExpressionLangJQ    = "jq"
	ExpressionLangRisor = "risor"
)

// SpecVersion is the only supported Serverless Workflow version.
const SpecVersion = "0.8"

// Definition is a Serverless Workflow 0.8 document.
type Definition struct {
	ID              string           `json:"id,omitempty"`
	Key             string           `json:"key,omitempty"`
	Name            string           `json:"name,omitempty"`
	Description     string           `json:"description,omitempty"`
	Version         string           `json:"version,omitempty"`
	SpecVersion     string           `json:"specVersion,omitempty"`
	Annotations     []string         `json:"annotations,omitempty"`
	Start           *Start           `json:"start,omitempty"`
	ExpressionLang  string           `json:"expressionLang,omitempty"`
	DataInputSchema *DataInputSchema `json:"dataInputSchema,omitempty"`
	Constants       map[string]any   `json:"constants,omitempty"`
	Secrets         []string         `json:"secrets,omitempty"`
	Timeouts        *Timeouts        `json:"timeouts,omitempty"`
	KeepActive      bool             `json:"keepActive,omitempty"`
	AutoRetries     bool             `json:"autoRetries,omitempty"`
	Events          []*Event         `json:"events,omitempty"`
	Functions       []*Function      `json:"functions,omitempty"`
	Errors          []*ErrorDef      `json:"errors,omitempty"`
	Retries         []*RetryDef      `json:"retries,omitempty"`
	States          []*State         `json:"states,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`

	// file references waiting to be resolved against the definition's
	// directory
	functionsRef string
	errorsRef    string
	retriesRef   string
	secretsRef   string
	constantsRef string
	baseDir      string
}

// Start names the first state. It accepts a plain state name.
type Start struct {
	StateName string `json:"stateName"`
	Schedule  any    `json:"schedule,omitempty"`
}

// DataInputSchema validates the workflow input. A plain string is a schema
// file location.
type DataInputSchema struct {
	Schema                 json.RawMessage `json:"schema"`
	FailOnValidationErrors bool            `json:"failOnValidationErrors"`

	ref string
}

// Timeouts configures workflow, state and action deadlines.
type Timeouts struct {
	WorkflowExecTimeout *WorkflowExecTimeout `json:"workflowExecTimeout,omitempty"`
	StateExecTimeout    *StateExecTimeout    `json:"stateExecTimeout,omitempty"`
	ActionExecTimeout   string               `json:"actionExecTimeout,omitempty"`
	BranchExecTimeout   string               `json:"branchExecTimeout,omitempty"`
	EventTimeout        string               `json:"eventTimeout,omitempty"`
}

// WorkflowExecTimeout bounds a whole execution. A plain string is the
// duration.
type WorkflowExecTimeout struct {
	Duration  string `json:"duration"`
	Interrupt bool   `json:"interrupt,omitempty"`
	RunBefore string `json:"runBefore,omitempty"`
}

// StateExecTimeout bounds a state. A plain string is the total.
type StateExecTimeout struct {
	Single string `json:"single,omitempty"`
	Total  string `json:"total"`
}

// Event is an event definition. Events are parsed but never consumed or
// produced.
type Event struct {
	Name     string         `json:"name"`
	Source   string         `json:"source,omitempty"`
	Type     string         `json:"type,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Function is a reusable invocation target.
type Function struct {
	Name      string         `json:"name"`
	Operation string         `json:"operation"`
	Type      string         `json:"type,omitempty"`
	AuthRef   string         `json:"authRef,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ErrorDef declares a named error with the code that identifies it.
type ErrorDef struct {
	Name        string `json:"name"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// RetryDef is a named retry strategy.
type RetryDef struct {
	Name        string         `json:"name"`
	Delay       string         `json:"delay,omitempty"`
	MaxDelay    string         `json:"maxDelay,omitempty"`
	Increment   string         `json:"increment,omitempty"`
	Multiplier  NumberOrString `json:"multiplier,omitempty"`
	MaxAttempts NumberOrString `json:"maxAttempts"`
	Jitter      NumberOrString `json:"jitter,omitempty"`
}

// State is a node of the workflow graph. Fields that apply to one kind of
// state are ignored for the others.
type State struct {
	Name                string           `json:"name"`
	Type                StateType        `json:"type"`
	Transition          *Transition      `json:"transition,omitempty"`
	End                 *End             `json:"end,omitempty"`
	StateDataFilter     *StateDataFilter `json:"stateDataFilter,omitempty"`
	OnErrors            []*OnError       `json:"onErrors,omitempty"`
	Timeouts            *Timeouts        `json:"timeouts,omitempty"`
	CompensatedBy       string           `json:"compensatedBy,omitempty"`
	UsedForCompensation bool             `json:"usedForCompensation,omitempty"`
	Metadata            map[string]any   `json:"metadata,omitempty"`

	// operation
	ActionMode string    `json:"actionMode,omitempty"`
	Actions    []*Action `json:"actions,omitempty"`

	// switch
	DataConditions   []*DataCondition  `json:"dataConditions,omitempty"`
	EventConditions  []*EventCondition `json:"eventConditions,omitempty"`
	DefaultCondition *DefaultCondition `json:"defaultCondition,omitempty"`

	// inject
	Data map[string]any `json:"data,omitempty"`

	// sleep
	Duration string `json:"duration,omitempty"`

	// parallel
	Branches       []*Branch      `json:"branches,omitempty"`
	CompletionType string         `json:"completionType,omitempty"`
	NumCompleted   NumberOrString `json:"numCompleted,omitempty"`

	// foreach
	InputCollection  string         `json:"inputCollection,omitempty"`
	OutputCollection string         `json:"outputCollection,omitempty"`
	IterationParam   string         `json:"iterationParam,omitempty"`
	BatchSize        NumberOrString `json:"batchSize,omitempty"`
	Mode             string         `json:"mode,omitempty"`

	// event
	Exclusive *bool      `json:"exclusive,omitempty"`
	OnEvents  []*OnEvent `json:"onEvents,omitempty"`

	// callback
	Action   *Action `json:"action,omitempty"`
	EventRef string  `json:"eventRef,omitempty"`
}

// IsEnd reports whether the state finishes the workflow.
func (s *State) IsEnd() bool {
	return s.End.IsSet()
}

// Transition moves to another state. A plain string is the next state.
type Transition struct {
	NextState     string `json:"nextState"`
	ProduceEvents []any  `json:"produceEvents,omitempty"`
	Compensate    bool   `json:"compensate,omitempty"`
}

// End finishes the workflow. It accepts true, false or an object.
type End struct {
	Terminate     bool  `json:"terminate,omitempty"`
	ProduceEvents []any `json:"produceEvents,omitempty"`
	Compensate    bool  `json:"compensate,omitempty"`
	ContinueAs    any   `json:"continueAs,omitempty"`

	disabled bool
}

// IsSet reports whether e is present and not false.
func (e *End) IsSet() bool {
	return e != nil && !e.disabled
}

// StateDataFilter selects the state input and output.
type StateDataFilter struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// ActionDataFilter shapes the data an action reads and writes.
type ActionDataFilter struct {
	FromStateData string `json:"fromStateData,omitempty"`
	Results       string `json:"results,omitempty"`
	ToStateData   string `json:"toStateData,omitempty"`
	UseResults    *bool  `json:"useResults,omitempty"`
}

// Action invokes a function, a subflow or an event.
type Action struct {
	ID                 string            `json:"id,omitempty"`
	Name               string            `json:"name,omitempty"`
	FunctionRef        *FunctionRef      `json:"functionRef,omitempty"`
	EventRef           *ActionEventRef   `json:"eventRef,omitempty"`
	SubFlowRef         *SubFlowRef       `json:"subFlowRef,omitempty"`
	Sleep              *ActionSleep      `json:"sleep,omitempty"`
	RetryRef           string            `json:"retryRef,omitempty"`
	NonRetryableErrors []string          `json:"nonRetryableErrors,omitempty"`
	RetryableErrors    []string          `json:"retryableErrors,omitempty"`
	ActionDataFilter   *ActionDataFilter `json:"actionDataFilter,omitempty"`
	Condition          string            `json:"condition,omitempty"`
}

// FunctionRef calls a declared function. A plain string is the function
// name.
type FunctionRef struct {
	RefName      string         `json:"refName"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	SelectionSet string         `json:"selectionSet,omitempty"`
	Invoke       string         `json:"invoke,omitempty"`
}

// ActionEventRef produces an event and may wait for a result event.
type ActionEventRef struct {
	TriggerEventRef    string         `json:"triggerEventRef"`
	ResultEventRef     string         `json:"resultEventRef,omitempty"`
	ResultEventTimeout string         `json:"resultEventTimeout,omitempty"`
	Data               any            `json:"data,omitempty"`
	ContextAttributes  map[string]any `json:"contextAttributes,omitempty"`
	Invoke             string         `json:"invoke,omitempty"`
}

// SubFlowRef runs another workflow. A plain string is the workflow id.
type SubFlowRef struct {
	WorkflowID       string `json:"workflowId"`
	Version          string `json:"version,omitempty"`
	OnParentComplete string `json:"onParentComplete,omitempty"`
	Invoke           string `json:"invoke,omitempty"`
}

// ActionSleep waits before or after an action runs.
type ActionSleep struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// OnError handles errors matching one or more declared errors.
type OnError struct {
	ErrorRef   string      `json:"errorRef,omitempty"`
	ErrorRefs  []string    `json:"errorRefs,omitempty"`
	Transition *Transition `json:"transition,omitempty"`
	End        *End        `json:"end,omitempty"`
}

// Refs returns every error name the handler references.
func (o *OnError) Refs() []string {
	var refs []string
	if o.ErrorRef != "" {
		refs = append(refs, o.ErrorRef)
	}
	return append(refs, o.ErrorRefs...)
}

// DataCondition is a switch branch taken when Condition holds.
type DataCondition struct {
	Name       string         `json:"name,omitempty"`
	Condition  string         `json:"condition"`
	Transition *Transition    `json:"transition,omitempty"`
	End        *End           `json:"end,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventCondition is a switch branch taken when an event arrives.
type EventCondition struct {
	Name       string         `json:"name,omitempty"`
	EventRef   string         `json:"eventRef"`
	Transition *Transition    `json:"transition,omitempty"`
	End        *End           `json:"end,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DefaultCondition is taken when no switch condition holds.
type DefaultCondition struct {
	Transition *Transition `json:"transition,omitempty"`
	End        *End        `json:"end,omitempty"`
}

// Branch is one arm of a parallel state.
type Branch struct {
	Name       string    `json:"name"`
	Actions    []*Action `json:"actions"`
	ActionMode string    `json:"actionMode,omitempty"`
	Timeouts   *Timeouts `json:"timeouts,omitempty"`
}

// OnEvent runs actions when events arrive.
type OnEvent struct {
	EventRefs  []string  `json:"eventRefs"`
	ActionMode string    `json:"actionMode,omitempty"`
	Actions    []*Action `json:"actions,omitempty"`
}

// StateNames returns the state names in declaration order.
func (d *Definition) StateNames() []string {
	names := make([]string, 0, len(d.States))
	for _, state := range d.States {
		names = append(names, state.Name)
	}
	return names
}

// FunctionNames returns the function names in declaration order.
func (d *Definition) FunctionNames() []string {
	names := make([]string, 0, len(d.Functions))
	for _, fn := range d.Functions {
		names = append(names, fn.Name)
	}
	return names
}

// Identifier returns the id, or the key when the id is empty.
func (d *Definition) Identifier() string {
	if d.ID != "" {
		return d.ID
	}
	return d.Key
}

// StartState returns the name of the first state. Without an explicit start
// it is the first declared state.
func (d *Definition) StartState() string {
	if d.Start != nil && d.Start.StateName != "" {
		return d.Start.StateName
	}
	if len(d.States) > 0 {
		return d.States[0].Name
	}
	return ""
}

// GetState returns a state by name.
func (d *Definition) GetState(name string) (*State, bool) {
	for _, state := range d.States {
		if state.Name == name {
			return state, true
		}
	}
	return nil, false
}

// GetFunction returns a function by name.
func (d *Definition) GetFunction(name string) (*Function, bool) {
	for _, fn := range d.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

// GetError returns an error definition by name.
func (d *Definition) GetError(name string) (*ErrorDef, bool) {
	for _, e := range d.Errors {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// GetEvent returns an event definition by name.
func (d *Definition) GetEvent(name string) (*Event, bool) {
	for _, e := range d.Events {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// GetRetry returns a retry definition by name.
func (d *Definition) GetRetry(name string) (*RetryDef, bool) {
	for _, r := range d.Retries {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Lang returns the expression language, defaulting to jq.
func (d *Definition) Lang() string {
	if d.ExpressionLang == "" {
		return ExpressionLangJQ
	}
	return d.ExpressionLang
}
