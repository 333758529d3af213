package sw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/go-resty/resty/v2"
)

// ApplicationOptions configures an Application.
type ApplicationOptions struct {
	Logger         *slog.Logger
	Checkpointer   swflow.Checkpointer
	ActivityLogger swflow.ActivityLogger
	Callbacks      swflow.ExecutionCallbacks
	Formatter      swflow.WorkflowFormatter

	// HTTPClient is used by REST functions. A client is created when nil.
	HTTPClient  *resty.Client
	HTTPTimeout time.Duration

	// BaseDir resolves relative OpenAPI locations for definitions that
	// were not loaded from a file.
	BaseDir string

	// SysoutLogger receives sysout function output. The execution logger
	// is used when nil.
	SysoutLogger *slog.Logger
}

// Application processes and executes workflow definitions. It owns the
// checkpointer and activity logger and releases them on Close.
type Application struct {
	opts     ApplicationOptions
	logger   *slog.Logger
	client   *resty.Client
	mutex    sync.Mutex
	programs map[*Definition]*Program
	registry *workflowRegistry
	closed   bool
}

// NewApplication returns an Application configured with opts.
func NewApplication(opts ApplicationOptions) *Application {
	if opts.Logger == nil {
		opts.Logger = swflow.NewDiscardLogger()
	}
	client := opts.HTTPClient
	if client == nil {
		client = resty.New()
	}
	if opts.HTTPTimeout > 0 {
		client.SetTimeout(opts.HTTPTimeout)
	}
	return &Application{
		opts:     opts,
		logger:   opts.Logger,
		client:   client,
		programs: map[*Definition]*Program{},
		registry: newWorkflowRegistry(),
	}
}

// Process validates and compiles def. Programs are cached per definition
// and registered by workflow id so later definitions can run them as
// subflows.
func (a *Application) Process(ctx context.Context, def *Definition) (*Program, error) {
	if def == nil {
		return nil, errors.New("workflow definition is required")
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.closed {
		return nil, ErrApplicationClosed
	}
	if program, ok := a.programs[def]; ok {
		return program, nil
	}
	program, err := compile(def, compileOptions{
		client:   a.client,
		baseDir:  a.opts.BaseDir,
		logger:   a.opts.SysoutLogger,
		subflows: a,
	})
	if err != nil {
		return nil, err
	}
	a.programs[def] = program
	a.registry.register(program)
	a.logger.Debug("workflow processed",
		"workflow", def.Identifier(),
		"states", len(def.States),
		"functions", len(def.Functions))
	return program, nil
}

// Execute runs def once with input as the initial data document.
func (a *Application) Execute(ctx context.Context, def *Definition, input map[string]any) (*Result, error) {
	program, err := a.Process(ctx, def)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := a.checkInput(program, input); err != nil {
		return nil, err
	}
	return a.start(ctx, program, input)
}

// checkInput validates input against the dataInputSchema. Failures are
// only logged when the schema does not enforce validation.
func (a *Application) checkInput(program *Program, input map[string]any) error {
	err := program.ValidateInput(input)
	if err == nil {
		return nil
	}
	if program.definition.DataInputSchema.FailOnValidationErrors {
		return err
	}
	a.logger.Warn("ignoring input validation errors", "error", err)
	return nil
}

// start runs program with input in a new execution. A program without
// states completes at once with its input as data.
func (a *Application) start(ctx context.Context, program *Program, input map[string]any) (*Result, error) {
	if program.Empty() {
		return &Result{
			ID:     swflow.NewExecutionID(),
			Status: swflow.ExecutionStatusCompleted,
			Data:   copyDocument(input),
		}, nil
	}
	execution, err := a.newExecution(program, input)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, program, execution, func(ctx context.Context) error {
		return execution.Run(ctx)
	})
}

// Resume continues the execution priorExecutionID of def from its latest
// checkpoint. Failed states are retried with the data they failed with.
// The application must have been created with a Checkpointer holding the
// prior execution.
func (a *Application) Resume(ctx context.Context, def *Definition, priorExecutionID string) (*Result, error) {
	program, err := a.Process(ctx, def)
	if err != nil {
		return nil, err
	}
	if a.opts.Checkpointer == nil {
		return nil, errors.New("resume requires a checkpointer")
	}
	if program.Empty() {
		return nil, fmt.Errorf("workflow %q has no states to resume", def.Identifier())
	}
	execution, err := a.newExecution(program, nil)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, program, execution, func(ctx context.Context) error {
		return execution.Resume(ctx, priorExecutionID)
	})
}

func (a *Application) newExecution(program *Program, input map[string]any) (*swflow.Execution, error) {
	callbacks := swflow.NewCallbackChain(swflow.NewLoggingCallbacks(a.logger))
	if a.opts.Callbacks != nil {
		callbacks.Add(a.opts.Callbacks)
	}
	execution, err := swflow.NewExecution(swflow.ExecutionOptions{
		Workflow:           program.Workflow(),
		Inputs:             input,
		State:              copyDocument(input),
		Activities:         program.Activities(),
		ScriptCompiler:     program.Compiler(),
		Logger:             a.logger,
		Checkpointer:       a.opts.Checkpointer,
		ActivityLogger:     a.opts.ActivityLogger,
		ExecutionCallbacks: callbacks,
		Formatter:          a.opts.Formatter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return execution, nil
}

func (a *Application) run(ctx context.Context, program *Program, execution *swflow.Execution, start func(context.Context) error) (*Result, error) {
	if timeout := program.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := start(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && program.Timeout() > 0 {
			return nil, fmt.Errorf("workflow timed out after %s: %w", program.Timeout(), err)
		}
		return nil, err
	}
	data, err := execution.FinalState()
	if err != nil {
		return nil, err
	}
	return &Result{
		ID:     execution.ID(),
		Status: execution.Status(),
		Data:   data,
	}, nil
}

// Close releases the checkpointer and activity logger. Later calls to
// Process and Execute fail with ErrApplicationClosed.
func (a *Application) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.programs = nil
	a.registry = newWorkflowRegistry()
	var errs []error
	for _, resource := range []any{a.opts.Checkpointer, a.opts.ActivityLogger} {
		if closer, ok := resource.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Result is the outcome of an execution.
type Result struct {
	ID     string                 `json:"id"`
	Status swflow.ExecutionStatus `json:"status"`
	Data   map[string]any         `json:"workflowdata"`
}

func (r *Result) String() string {
	workflowData := r.Data
	if workflowData == nil {
		workflowData = map[string]any{}
	}
	data, err := json.Marshal(workflowData)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", r.Data))
	}
	return fmt.Sprintf("{id=%s, status=%s, workflowdata=%s}", r.ID, r.Status, data)
}
