package sw

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/activities"
	"github.com/deepnoodle-ai/swflow/retry"
	"github.com/deepnoodle-ai/swflow/script"
	"golang.org/x/sync/errgroup"
)

// stateActivityPrefix prefixes the activity compiled for each state.
const stateActivityPrefix = "state:"

// defaultIterationParam is the foreach iteration parameter when none is
// named.
const defaultIterationParam = "item"

// stateRunner is the activity that runs one state against the workflow
// data document held in the path variables.
type stateRunner struct {
	program       *Program
	state         *State
	actionTimeout time.Duration
}

func (r *stateRunner) Name() string {
	return stateActivityPrefix + r.state.Name
}

// Execute filters the state input, runs the state, filters the output and
// writes the resulting document back to the path variables.
func (r *stateRunner) Execute(ctx swflow.Context, params map[string]any) (any, error) {
	original := document(ctx)
	doc := copyDocument(original)
	var err error

	filter := r.state.StateDataFilter
	if filter != nil && filter.Input != "" {
		if doc, err = r.program.filterObject(ctx, filter.Input, doc); err != nil {
			return nil, fmt.Errorf("state %q input filter: %w", r.state.Name, err)
		}
	}
	if doc, err = r.run(ctx, doc); err != nil {
		return nil, err
	}
	if filter != nil && filter.Output != "" {
		if doc, err = r.program.filterObject(ctx, filter.Output, doc); err != nil {
			return nil, fmt.Errorf("state %q output filter: %w", r.state.Name, err)
		}
	}

	swflow.ApplyPatches(ctx, swflow.GeneratePatches(original, doc))
	return nil, nil
}

func (r *stateRunner) run(ctx swflow.Context, doc map[string]any) (map[string]any, error) {
	state := r.state
	switch state.Type {
	case StateTypeOperation:
		doc, _, err := r.runActions(ctx, doc, state.Actions, state.ActionMode, nil)
		return doc, err
	case StateTypeInject:
		return merge(doc, state.Data), nil
	case StateTypeSleep:
		_, err := r.program.functions.sleep.Execute(ctx, map[string]any{"duration": state.Duration})
		return doc, err
	case StateTypeSwitch:
		if len(state.DataConditions) == 0 {
			return nil, unsupported("event based switch state %q", state.Name)
		}
		return doc, nil
	case StateTypeParallel:
		return r.runParallel(ctx, doc)
	case StateTypeForEach:
		return r.runForEach(ctx, doc)
	default:
		return nil, unsupported("%s state %q", state.Type, state.Name)
	}
}

// runActions runs actions sequentially, or concurrently in parallel mode.
// Results are applied to doc in declaration order. The last result of an
// action that ran is returned alongside the document.
func (r *stateRunner) runActions(ctx swflow.Context, doc map[string]any, actions []*Action, mode string, extra map[string]any) (map[string]any, any, error) {
	outcomes := make([]actionOutcome, len(actions))
	if mode == "parallel" && len(actions) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		actx := withContext(ctx, gctx)
		for i, action := range actions {
			g.Go(func() error {
				outcome, err := r.invokeAction(actx, action, doc, extra)
				outcomes[i] = outcome
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	var last any
	for i, action := range actions {
		if mode != "parallel" || len(actions) == 1 {
			outcome, err := r.invokeAction(ctx, action, doc, extra)
			if err != nil {
				return nil, nil, err
			}
			outcomes[i] = outcome
		}
		if outcomes[i].skipped {
			continue
		}
		var err error
		if doc, err = applyAction(doc, action, outcomes[i].result); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", actionName(action, i), err)
		}
		last = outcomes[i].result
	}
	return doc, last, nil
}

type actionOutcome struct {
	skipped bool
	result  any
}

func actionName(action *Action, index int) string {
	switch {
	case action.Name != "":
		return fmt.Sprintf("action %q", action.Name)
	case action.FunctionRef != nil:
		return fmt.Sprintf("action %d (%s)", index, action.FunctionRef.RefName)
	default:
		return fmt.Sprintf("action %d", index)
	}
}

// invokeAction calls the action's function. It reads doc but never
// modifies it.
func (r *stateRunner) invokeAction(ctx swflow.Context, action *Action, doc map[string]any, extra map[string]any) (actionOutcome, error) {
	p := r.program
	if action.Condition != "" {
		value, err := p.evaluate(ctx, action.Condition, doc, extra)
		if err != nil {
			return actionOutcome{}, fmt.Errorf("action condition: %w", err)
		}
		if !truthy(value) {
			return actionOutcome{skipped: true}, nil
		}
	}
	var fn *Function
	switch {
	case action.FunctionRef != nil:
		var ok bool
		if fn, ok = p.definition.GetFunction(action.FunctionRef.RefName); !ok {
			return actionOutcome{}, swflow.NewWorkflowError(swflow.ErrorTypeFatal, fmt.Sprintf("function %q not found", action.FunctionRef.RefName))
		}
	case action.SubFlowRef != nil:
		if action.SubFlowRef.Invoke == "async" {
			return actionOutcome{}, unsupported("async subflow %q", action.SubFlowRef.WorkflowID)
		}
	default:
		return actionOutcome{}, unsupported("event actions")
	}

	if action.Sleep != nil {
		if err := r.sleep(ctx, action.Sleep.Before); err != nil {
			return actionOutcome{}, err
		}
	}

	var input any = doc
	filter := action.ActionDataFilter
	if filter != nil && filter.FromStateData != "" {
		var err error
		if input, err = p.evaluate(ctx, filter.FromStateData, doc, extra); err != nil {
			return actionOutcome{}, fmt.Errorf("fromStateData: %w", err)
		}
	}

	var result any
	var err error
	if fn != nil {
		args, argErr := p.evaluateArguments(ctx, action.FunctionRef.Arguments, input, extra)
		if argErr != nil {
			return actionOutcome{}, fmt.Errorf("function %q arguments: %w", fn.Name, argErr)
		}
		result, err = r.call(ctx, action, "function "+strconv.Quote(fn.Name), func(actx swflow.Context) (any, error) {
			return p.functions.invoke(actx, fn, args, input)
		})
	} else {
		ref := action.SubFlowRef
		result, err = r.call(ctx, action, "subflow "+strconv.Quote(ref.WorkflowID), func(actx swflow.Context) (any, error) {
			return p.functions.subflow.Execute(actx, map[string]any{
				"workflowId": ref.WorkflowID,
				"version":    ref.Version,
				"input":      subflowInput(input),
				"parentId":   ctx.GetPathID(),
			})
		})
	}
	if err != nil {
		return actionOutcome{}, err
	}

	if action.Sleep != nil {
		if err := r.sleep(ctx, action.Sleep.After); err != nil {
			return actionOutcome{}, err
		}
	}
	if filter != nil && filter.Results != "" {
		if result, err = p.evaluate(ctx, filter.Results, result, extra); err != nil {
			return actionOutcome{}, fmt.Errorf("results filter: %w", err)
		}
	}
	return actionOutcome{result: result}, nil
}

// applyAction writes an action result into doc following the action data
// filter. Without toStateData, object results are merged and other results
// are dropped.
func applyAction(doc map[string]any, action *Action, result any) (map[string]any, error) {
	filter := action.ActionDataFilter
	if filter != nil && filter.UseResults != nil && !*filter.UseResults {
		return doc, nil
	}
	if filter != nil && filter.ToStateData != "" {
		if err := setPath(doc, filter.ToStateData, deepCopy(result)); err != nil {
			return nil, fmt.Errorf("toStateData: %w", err)
		}
		return doc, nil
	}
	if object, ok := result.(map[string]any); ok {
		return merge(doc, object), nil
	}
	return doc, nil
}

// call runs invoke once, or under the action's retry strategy. Target
// names what is invoked in errors and logs.
func (r *stateRunner) call(ctx swflow.Context, action *Action, target string, invoke func(swflow.Context) (any, error)) (any, error) {
	once := func() (any, error) {
		actx, cancel := withTimeout(ctx, r.actionTimeout)
		defer cancel()
		result, err := invoke(actx)
		if err != nil && r.actionTimeout > 0 && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, swflow.WrapWorkflowError(swflow.ErrorTypeTimeout,
				fmt.Errorf("%s timed out after %s: %w", target, r.actionTimeout, err))
		}
		return result, err
	}
	if action.RetryRef == "" {
		return once()
	}
	retryDef, ok := r.program.definition.GetRetry(action.RetryRef)
	if !ok {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, fmt.Sprintf("retry %q not found", action.RetryRef))
	}
	opts, err := retryOptions(retryDef)
	if err != nil {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, err.Error())
	}
	opts = append(opts, retry.WithRetryIf(r.program.retryIf(action)))

	var result any
	attempt := 0
	err = retry.Do(ctx, func() error {
		attempt++
		if attempt > 1 {
			ctx.GetLogger().Warn("retrying action",
				"state", r.state.Name,
				"target", target,
				"retry", retryDef.Name,
				"attempt", attempt)
		}
		var callErr error
		result, callErr = once()
		return callErr
	}, opts...)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// subflowInput is the document handed to a subflow. Non-object inputs are
// wrapped under "input".
func subflowInput(input any) map[string]any {
	if doc, ok := input.(map[string]any); ok {
		return copyDocument(doc)
	}
	if input == nil {
		return map[string]any{}
	}
	return map[string]any{"input": deepCopy(input)}
}

func (r *stateRunner) sleep(ctx swflow.Context, duration string) error {
	if duration == "" {
		return nil
	}
	_, err := r.program.functions.sleep.Execute(ctx, map[string]any{"duration": duration})
	return err
}

// runParallel runs every branch on its own copy of doc and merges the
// branch outputs in declaration order.
func (r *stateRunner) runParallel(ctx swflow.Context, doc map[string]any) (map[string]any, error) {
	state := r.state
	branches := state.Branches
	outputs := make([]map[string]any, len(branches))
	runBranch := func(bctx swflow.Context, i int) error {
		branch := branches[i]
		bctx, cancel := withTimeout(bctx, r.program.branchTimeout(state, branch))
		defer cancel()
		out, _, err := r.runActions(bctx, copyDocument(doc), branch.Actions, branch.ActionMode, nil)
		if err != nil {
			return fmt.Errorf("branch %q: %w", branch.Name, err)
		}
		outputs[i] = out
		return nil
	}

	if state.CompletionType == "atLeast" {
		required, _ := state.NumCompleted.Int()
		errs := make([]error, len(branches))
		var g errgroup.Group
		for i := range branches {
			g.Go(func() error {
				errs[i] = runBranch(ctx, i)
				return nil
			})
		}
		g.Wait()
		completed := 0
		for _, err := range errs {
			if err == nil {
				completed++
			}
		}
		if completed < required {
			return nil, fmt.Errorf("parallel state %q: %d of %d branches completed, %d required: %w",
				state.Name, completed, len(branches), required, errors.Join(errs...))
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		bctx := withContext(ctx, gctx)
		for i := range branches {
			g.Go(func() error {
				return runBranch(bctx, i)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	for _, out := range outputs {
		if out != nil {
			doc = merge(doc, out)
		}
	}
	return doc, nil
}

// runForEach runs the state's actions once per item of the input
// collection. Each iteration works on its own copy of doc with the item
// stored under the iteration parameter. The last action result of every
// iteration is collected into the output collection.
func (r *stateRunner) runForEach(ctx swflow.Context, doc map[string]any) (map[string]any, error) {
	state := r.state
	value, err := r.program.evaluate(ctx, state.InputCollection, doc, nil)
	if err != nil {
		return nil, fmt.Errorf("foreach state %q inputCollection: %w", state.Name, err)
	}
	var items []any
	switch v := value.(type) {
	case nil:
	case []any:
		items = v
	default:
		return nil, fmt.Errorf("foreach state %q inputCollection must be a list, got %T", state.Name, value)
	}
	param := state.IterationParam
	if param == "" {
		param = defaultIterationParam
	}

	outputs := make([]any, len(items))
	iterate := func(ictx swflow.Context, i int) error {
		iterDoc := copyDocument(doc)
		iterDoc[param] = deepCopy(items[i])
		_, last, err := r.runActions(ictx, iterDoc, state.Actions, "", map[string]any{param: items[i]})
		if err != nil {
			return fmt.Errorf("foreach state %q iteration %d: %w", state.Name, i, err)
		}
		outputs[i] = last
		return nil
	}

	if state.Mode == "sequential" {
		for i := range items {
			if err := iterate(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		if batchSize, _ := state.BatchSize.Int(); batchSize > 0 {
			g.SetLimit(batchSize)
		}
		ictx := withContext(ctx, gctx)
		for i := range items {
			g.Go(func() error {
				return iterate(ictx, i)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if state.OutputCollection != "" {
		if err := setPath(doc, state.OutputCollection, outputs); err != nil {
			return nil, fmt.Errorf("foreach state %q outputCollection: %w", state.Name, err)
		}
	}
	return doc, nil
}

// globals returns the expression globals for input and per-call extras.
func (p *Program) globals(input any, extra map[string]any) map[string]any {
	globals := make(map[string]any, len(extra)+1)
	for name, value := range extra {
		globals[name] = value
	}
	globals[script.JQInputGlobal] = input
	return globals
}

// evaluate runs an expression, with or without the ${ } wrapper, against
// input.
func (p *Program) evaluate(ctx context.Context, expr string, input any, extra map[string]any) (any, error) {
	code := strings.TrimSpace(expr)
	if inner, ok := script.Unwrap(code); ok {
		code = inner
	}
	value, err := script.EvaluateExpression(ctx, p.compiler, code, p.globals(input, extra))
	if err != nil {
		return nil, err
	}
	return value.Value(), nil
}

// filterObject evaluates a state data filter, which must produce an
// object. A null result is an empty document.
func (p *Program) filterObject(ctx context.Context, expr string, doc map[string]any) (map[string]any, error) {
	value, err := p.evaluate(ctx, expr, doc, nil)
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("filter %q must produce an object, got %T", expr, value)
	}
}

// evaluateArguments resolves function arguments. Strings holding ${ }
// expressions are evaluated, and with jq so are strings starting with a
// dot. Everything else is passed through.
func (p *Program) evaluateArguments(ctx context.Context, args map[string]any, input any, extra map[string]any) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	resolved, err := p.evaluateArgument(ctx, args, input, extra)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func (p *Program) evaluateArgument(ctx context.Context, value any, input any, extra map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if script.IsExpression(trimmed) {
			return p.evaluate(ctx, trimmed, input, extra)
		}
		if strings.Contains(v, "${") {
			return script.Evaluate(ctx, p.compiler, v, p.globals(input, extra))
		}
		if p.definition.Lang() == ExpressionLangJQ && len(trimmed) > 1 && trimmed[0] == '.' {
			return p.evaluate(ctx, trimmed, input, extra)
		}
		return v, nil
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := p.evaluateArgument(ctx, item, input, extra)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			result[key] = resolved
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			resolved, err := p.evaluateArgument(ctx, item, input, extra)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			result[i] = resolved
		}
		return result, nil
	default:
		return value, nil
	}
}

// errorTypes maps declared error names to the error types they match. A
// code of "*" matches every non-fatal error.
func (p *Program) errorTypes(names []string) []string {
	var types []string
	for _, name := range names {
		def, ok := p.definition.GetError(name)
		if !ok {
			continue
		}
		switch def.Code {
		case "":
		case "*":
			types = append(types, swflow.ErrorTypeAll)
		default:
			types = append(types, def.Code)
		}
		types = append(types, def.Name)
	}
	return types
}

// retryIf decides which errors an action retries. Listed retryable errors
// are the only ones retried. Otherwise every recoverable error is retried
// except the listed non-retryable ones.
func (p *Program) retryIf(action *Action) func(error) bool {
	retryable := p.errorTypes(action.RetryableErrors)
	nonRetryable := p.errorTypes(action.NonRetryableErrors)
	return func(err error) bool {
		if errors.Is(err, context.Canceled) {
			return false
		}
		if len(retryable) > 0 {
			return matchesAny(err, retryable)
		}
		if matchesAny(err, nonRetryable) {
			return false
		}
		return !retry.IsNonRecoverable(err) && !swflow.MatchesErrorType(err, swflow.ErrorTypeFatal)
	}
}

func matchesAny(err error, types []string) bool {
	for _, errorType := range types {
		if swflow.MatchesErrorType(err, errorType) {
			return true
		}
	}
	return false
}

// retryOptions converts a retry definition. Without a delay the retry
// package default applies.
func retryOptions(def *RetryDef) ([]retry.Option, error) {
	maxAttempts, err := def.MaxAttempts.Int()
	if err != nil {
		return nil, fmt.Errorf("retry %q maxAttempts: %w", def.Name, err)
	}
	opts := []retry.Option{retry.WithMaxRetries(max(maxAttempts-1, 0))}
	if def.Delay != "" {
		d, err := activities.ParseDuration(def.Delay)
		if err != nil {
			return nil, fmt.Errorf("retry %q delay: %w", def.Name, err)
		}
		opts = append(opts, retry.WithBaseWait(d))
	}
	if def.MaxDelay != "" {
		d, err := activities.ParseDuration(def.MaxDelay)
		if err != nil {
			return nil, fmt.Errorf("retry %q maxDelay: %w", def.Name, err)
		}
		opts = append(opts, retry.WithMaxWait(d))
	}
	if def.Multiplier.IsSet() {
		rate, err := def.Multiplier.Float()
		if err != nil {
			return nil, fmt.Errorf("retry %q multiplier: %w", def.Name, err)
		}
		opts = append(opts, retry.WithBackoffRate(rate))
	}
	if def.Jitter.IsSet() {
		opts = append(opts, retry.WithJitter(jitterEnabled(def.Jitter)))
	}
	return opts, nil
}

// jitterEnabled accepts a fraction or an ISO 8601 duration. Any positive
// value turns on full jitter.
func jitterEnabled(jitter NumberOrString) bool {
	if f, err := jitter.Float(); err == nil {
		return f > 0
	}
	d, err := activities.ParseDuration(jitter.String())
	return err == nil && d > 0
}

// truthy follows jq: only null and false are false.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}
