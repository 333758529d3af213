package swflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deepnoodle-ai/swflow/retry"
	"github.com/deepnoodle-ai/swflow/script"
)

// catchErrorSentinel is returned by executeCatchHandler when a catch config
// handled the error and the path should continue from its new step.
var catchErrorSentinel = errors.New("error handled by catch")

// PathSnapshot reports progress of a path to the execution.
type PathSnapshot struct {
	PathID     string
	Status     PathStatus
	StepName   string
	NextStep   string
	StepOutput any
	Variables  map[string]any
	NewPaths   []PathSpec
	Error      error
	StartTime  time.Time
	EndTime    time.Time
}

// PathSpec describes a path to start at Step with a copy of Variables. A nil
// Step means the matched edge ends the path.
type PathSpec struct {
	Step      *Step
	Variables map[string]any
}

// ActivityExecutor runs an activity on behalf of a path.
type ActivityExecutor interface {
	ExecuteActivity(ctx context.Context, stepName, pathID string, activity Activity, params map[string]any, pathState *PathLocalState) (any, error)
}

// PathOptions configures a new path.
type PathOptions struct {
	Workflow         *Workflow
	Variables        map[string]any
	Inputs           map[string]any
	ScriptCompiler   script.Compiler
	UpdatesChannel   chan PathSnapshot
	Logger           *slog.Logger
	ActivityRegistry map[string]Activity
	ActivityExecutor ActivityExecutor
	Formatter        WorkflowFormatter
}

// Path is a single thread of execution moving through the workflow graph.
// Each path owns its copy of the variables.
type Path struct {
	id          string
	currentStep *Step
	state       *PathLocalState
	workflow    *Workflow
	compiler    script.Compiler
	updates     chan PathSnapshot
	logger      *slog.Logger
	activities  map[string]Activity
	executor    ActivityExecutor
	formatter   WorkflowFormatter
	startTime   time.Time
	ended       bool
}

// NewPath returns a path positioned at step.
func NewPath(id string, step *Step, opts PathOptions) *Path {
	if opts.Logger == nil {
		opts.Logger = NewDiscardLogger()
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewRisorEngine(script.DefaultRisorGlobals())
	}
	return &Path{
		id:          id,
		currentStep: step,
		state:       NewPathLocalState(opts.Inputs, opts.Variables),
		workflow:    opts.Workflow,
		compiler:    opts.ScriptCompiler,
		updates:     opts.UpdatesChannel,
		logger:      opts.Logger.With("path_id", id),
		activities:  opts.ActivityRegistry,
		executor:    opts.ActivityExecutor,
		formatter:   opts.Formatter,
	}
}

// ID returns the path ID
func (p *Path) ID() string {
	return p.id
}

// CurrentStep returns the step the path is on
func (p *Path) CurrentStep() *Step {
	return p.currentStep
}

// Variables returns a copy of the path variables
func (p *Path) Variables() map[string]any {
	return p.state.Variables()
}

// Run executes steps until the path completes, fails or ctx is canceled.
// Progress is reported on the updates channel after every step.
func (p *Path) Run(ctx context.Context) {
	p.startTime = time.Now()
	for {
		if err := ctx.Err(); err != nil {
			p.fail(ctx, p.currentStep.Name, err)
			return
		}
		step := p.currentStep
		output, err := p.executeStep(ctx, step)
		if err != nil {
			handled, catchErr := p.executeCatchHandler(step, err)
			if catchErr != nil {
				p.fail(ctx, step.Name, catchErr)
				return
			}
			if handled == catchErrorSentinel {
				if p.ended {
					p.complete(ctx, step.Name, nil)
					return
				}
				if !p.send(ctx, p.snapshot(PathStatusRunning, step.Name, nil, nil)) {
					return
				}
				continue
			}
		}

		if step.Store != "" {
			p.state.SetVariable(storeVariable(step.Store), output)
		}
		if step.End || len(step.Next) == 0 {
			p.complete(ctx, step.Name, output)
			return
		}

		specs, err := p.handleBranching(ctx)
		if err != nil {
			p.fail(ctx, step.Name, err)
			return
		}
		if len(specs) == 0 || specs[0].Step == nil {
			p.complete(ctx, step.Name, output, specs...)
			return
		}
		p.currentStep = specs[0].Step
		snapshot := p.snapshot(PathStatusRunning, step.Name, output, nil)
		snapshot.NewPaths = branchSpecs(specs[1:])
		if !p.send(ctx, snapshot) {
			return
		}
	}
}

func (p *Path) snapshot(status PathStatus, stepName string, output any, err error) PathSnapshot {
	return PathSnapshot{
		PathID:     p.id,
		Status:     status,
		StepName:   stepName,
		NextStep:   p.currentStep.Name,
		StepOutput: output,
		Variables:  p.state.Variables(),
		Error:      err,
		StartTime:  p.startTime,
	}
}

func (p *Path) complete(ctx context.Context, stepName string, output any, specs ...PathSpec) {
	snapshot := p.snapshot(PathStatusCompleted, stepName, output, nil)
	if len(specs) > 1 {
		snapshot.NewPaths = branchSpecs(specs[1:])
	}
	snapshot.EndTime = time.Now()
	p.send(ctx, snapshot)
}

func (p *Path) fail(ctx context.Context, stepName string, err error) {
	snapshot := p.snapshot(PathStatusFailed, stepName, nil, err)
	snapshot.EndTime = time.Now()
	p.send(ctx, snapshot)
}

// send delivers a snapshot, giving up if ctx is canceled first.
func (p *Path) send(ctx context.Context, snapshot PathSnapshot) bool {
	if p.updates == nil {
		return true
	}
	select {
	case p.updates <- snapshot:
		return true
	case <-ctx.Done():
		return false
	}
}

// branchSpecs drops specs for edges that only end the path.
func branchSpecs(specs []PathSpec) []PathSpec {
	var result []PathSpec
	for _, spec := range specs {
		if spec.Step != nil {
			result = append(result, spec)
		}
	}
	return result
}

// executeStep runs the step's activity with retries. Steps without an
// activity pass through.
func (p *Path) executeStep(ctx context.Context, step *Step) (any, error) {
	if step.Activity == "" {
		return nil, nil
	}
	activity, ok := p.activities[step.Activity]
	if !ok {
		return nil, NewWorkflowError(ErrorTypeFatal, fmt.Sprintf("activity %q not found for step %q", step.Activity, step.Name))
	}

	params := make(map[string]any, len(step.Parameters))
	for name, value := range step.Parameters {
		resolved, err := p.evaluateParameterValue(ctx, value, step.Name, name)
		if err != nil {
			return nil, NewWorkflowError(ErrorTypeFatal, err.Error())
		}
		params[name] = resolved
	}

	if p.formatter != nil {
		p.formatter.PrintStepStart(step.Name, activity.Name())
	}
	p.logger.Debug("executing step", "step", step.Name, "activity", activity.Name())

	result, err := p.executeActivityWithRetry(ctx, step, activity, params)
	if p.formatter != nil {
		if err != nil {
			p.formatter.PrintStepError(step.Name, err)
		} else {
			p.formatter.PrintStepOutput(step.Name, result)
		}
	}
	return result, err
}

func (p *Path) executeActivityWithRetry(ctx context.Context, step *Step, activity Activity, params map[string]any) (any, error) {
	attempts := map[*RetryConfig]int{}
	for {
		result, err := p.executeActivityOnce(ctx, step, activity, params)
		if err == nil {
			return result, nil
		}
		config := p.findMatchingRetryConfig(err, step.Retry)
		if config == nil || attempts[config] >= config.MaxRetries {
			return nil, err
		}
		attempts[config]++
		backoff := retry.Backoff{
			BaseWait:    config.BaseDelay,
			MaxWait:     config.MaxDelay,
			BackoffRate: config.BackoffRate,
			Jitter:      config.JitterStrategy == JitterFull,
		}
		delay := backoff.Delay(attempts[config])
		p.logger.Warn("retrying step",
			"step", step.Name,
			"attempt", attempts[config],
			"max_retries", config.MaxRetries,
			"delay", delay,
			"error", err)
		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			return nil, err
		}
	}
}

// attemptTimeout is the step timeout, or the first retry timeout when the
// step sets none.
func attemptTimeout(step *Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	for _, config := range step.Retry {
		if config.Timeout > 0 {
			return config.Timeout
		}
	}
	return 0
}

func (p *Path) executeActivityOnce(ctx context.Context, step *Step, activity Activity, params map[string]any) (any, error) {
	attemptCtx := ctx
	timeout := attemptTimeout(step)
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result any
	var err error
	if p.executor != nil {
		result, err = p.executor.ExecuteActivity(attemptCtx, step.Name, p.id, activity, params, p.state)
	} else {
		result, err = activity.Execute(NewContext(attemptCtx, ExecutionContextOptions{
			PathLocalState: p.state,
			Logger:         p.logger.With("step", step.Name),
			Compiler:       p.compiler,
			PathID:         p.id,
			StepName:       step.Name,
		}), params)
	}
	if err != nil && timeout > 0 && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, WrapWorkflowError(ErrorTypeTimeout, fmt.Errorf("step %q timed out after %s: %w", step.Name, timeout, err))
	}
	return result, err
}

// findMatchingRetryConfig returns the first config matching err. An empty
// ErrorEquals matches all errors. Fatal and non-recoverable errors are never
// retried.
func (p *Path) findMatchingRetryConfig(err error, configs []*RetryConfig) *RetryConfig {
	if retry.IsNonRecoverable(err) || ClassifyError(err).Type == ErrorTypeFatal {
		return nil
	}
	for _, config := range configs {
		if len(config.ErrorEquals) == 0 {
			if MatchesErrorType(err, ErrorTypeAll) {
				return config
			}
			continue
		}
		for _, errorType := range config.ErrorEquals {
			if MatchesErrorType(err, errorType) {
				return config
			}
		}
	}
	return nil
}

// executeCatchHandler moves the path to the handler of the first catch
// config matching err. It returns catchErrorSentinel when the error was
// handled, or the original error when nothing matched.
func (p *Path) executeCatchHandler(step *Step, err error) (any, error) {
	for _, catch := range step.Catch {
		matched := false
		for _, errorType := range catch.ErrorEquals {
			if MatchesErrorType(err, errorType) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		var next *Step
		if !catch.End {
			var ok bool
			if p.workflow != nil {
				next, ok = p.workflow.GetStep(catch.Next)
			}
			if !ok {
				return nil, fmt.Errorf("catch handler step %q not found", catch.Next)
			}
		}
		if catch.Store != "" {
			p.state.SetVariable(storeVariable(catch.Store), ClassifyError(err).ToErrorOutput())
		}
		p.logger.Info("error caught",
			"step", step.Name,
			"error", err,
			"next", catch.Next,
			"end", catch.End)
		if catch.End {
			p.ended = true
		} else {
			p.currentStep = next
		}
		return catchErrorSentinel, nil
	}
	return nil, err
}

// handleBranching evaluates the outgoing edges of the current step.
func (p *Path) handleBranching(ctx context.Context) ([]PathSpec, error) {
	step := p.currentStep
	strategy := step.GetEdgeMatchingStrategy()
	var specs []PathSpec
	for _, edge := range step.Next {
		if edge.Condition != "" {
			matched, err := p.evaluateCondition(ctx, edge.Condition)
			if err != nil {
				return nil, fmt.Errorf("step %q: %w", step.Name, err)
			}
			if !matched {
				continue
			}
		}
		spec := PathSpec{Variables: p.state.Variables()}
		if !edge.End {
			next, ok := p.workflow.GetStep(edge.Step)
			if !ok {
				return nil, fmt.Errorf("step %q: next step %q not found", step.Name, edge.Step)
			}
			spec.Step = next
		}
		specs = append(specs, spec)
		if strategy == EdgeMatchingFirst {
			break
		}
	}
	return specs, nil
}

func (p *Path) globals() map[string]any {
	return map[string]any{
		"state":  p.state.Variables(),
		"inputs": p.state.Inputs(),
	}
}

// evaluateCondition accepts "true", "false", $(expr), ${expr} or a bare
// expression.
func (p *Path) evaluateCondition(ctx context.Context, condition string) (bool, error) {
	expr := strings.TrimSpace(condition)
	if inner, ok := unwrapScript(expr); ok {
		expr = inner
	} else if inner, ok := script.Unwrap(expr); ok {
		expr = inner
	}
	switch expr {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	compiled, err := p.compiler.Compile(ctx, expr)
	if err != nil {
		return false, fmt.Errorf("failed to compile condition %q: %w", condition, err)
	}
	value, err := compiled.Evaluate(ctx, p.globals())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", condition, err)
	}
	return value.IsTruthy(), nil
}

// evaluateParameterValue resolves a step parameter. A string of the form
// $(expr) yields the expression's value, strings containing ${expr} are
// rendered as templates, and maps and lists are resolved recursively.
func (p *Path) evaluateParameterValue(ctx context.Context, value any, stepName, paramName string) (any, error) {
	switch v := value.(type) {
	case string:
		if expr, ok := unwrapScript(v); ok {
			compiled, err := p.compiler.Compile(ctx, expr)
			if err != nil {
				return nil, fmt.Errorf("step %q parameter %q: failed to compile script expression: %w", stepName, paramName, err)
			}
			result, err := compiled.Evaluate(ctx, p.globals())
			if err != nil {
				return nil, fmt.Errorf("step %q parameter %q: failed to evaluate script expression: %w", stepName, paramName, err)
			}
			return result.Value(), nil
		}
		if !strings.Contains(v, "${") {
			return v, nil
		}
		template, err := script.NewTemplate(p.compiler, v)
		if err != nil {
			return nil, fmt.Errorf("step %q parameter %q: %w", stepName, paramName, err)
		}
		rendered, err := template.Eval(ctx, p.globals())
		if err != nil {
			return nil, fmt.Errorf("step %q parameter %q: %w", stepName, paramName, err)
		}
		return rendered, nil
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := p.evaluateParameterValue(ctx, item, stepName, paramName+"."+key)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			resolved, err := p.evaluateParameterValue(ctx, item, stepName, fmt.Sprintf("%s[%d]", paramName, i))
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	default:
		return value, nil
	}
}

// unwrapScript returns the code inside a whole-string $(...) expression.
func unwrapScript(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "$(") && strings.HasSuffix(trimmed, ")") {
		return trimmed[2 : len(trimmed)-1], true
	}
	return "", false
}

// storeVariable strips the optional "state." prefix from a store target.
func storeVariable(store string) string {
	return strings.TrimPrefix(store, "state.")
}
