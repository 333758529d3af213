package sw

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/swflow/activities"
)

type problems []string

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

// Validate checks the definition and reports every problem found as a
// *ValidationError.
func (d *Definition) Validate() error {
	var p problems

	if d.ID == "" && d.Key == "" {
		p.add("workflow id or key is required")
	}
	if d.Name == "" {
		p.add("workflow name is required")
	}
	if d.Version == "" {
		p.add("workflow version is required")
	}
	if d.SpecVersion == "" {
		p.add("specVersion is required")
	} else if d.SpecVersion != SpecVersion {
		p.add("specVersion %q is not supported, expected %q", d.SpecVersion, SpecVersion)
	}
	switch d.ExpressionLang {
	case "", ExpressionLangJQ, ExpressionLangRisor:
	default:
		p.add("expressionLang %q is not supported", d.ExpressionLang)
	}
	if d.Timeouts != nil {
		d.validateTimeouts(&p, "workflow", d.Timeouts)
	}

	d.validateFunctions(&p)
	d.validateEvents(&p)
	d.validateErrors(&p)
	d.validateRetries(&p)

	seen := map[string]bool{}
	for i, state := range d.States {
		if state.Name == "" {
			p.add("state %d: name is required", i)
			continue
		}
		if seen[state.Name] {
			p.add("state %q is declared more than once", state.Name)
		}
		seen[state.Name] = true
	}
	if d.Start != nil && d.Start.StateName != "" && !seen[d.Start.StateName] {
		p.add("start state %q not found", d.Start.StateName)
	}
	for _, state := range d.States {
		if state.Name != "" {
			d.validateState(&p, state)
		}
	}

	if len(p) > 0 {
		return &ValidationError{Problems: p}
	}
	return nil
}

func (d *Definition) validateFunctions(p *problems) {
	seen := map[string]bool{}
	for i, fn := range d.Functions {
		if fn.Name == "" {
			p.add("function %d: name is required", i)
			continue
		}
		if seen[fn.Name] {
			p.add("function %q is declared more than once", fn.Name)
		}
		seen[fn.Name] = true
		if fn.Operation == "" {
			p.add("function %q: operation is required", fn.Name)
			continue
		}
		switch fn.kind() {
		case FunctionTypeCustom:
			validateCustomOperation(p, fn)
		case FunctionTypeREST:
			if !strings.Contains(fn.Operation, "#") {
				p.add("function %q: rest operation %q must be <openapi-location>#<operationId>", fn.Name, fn.Operation)
			}
		case FunctionTypeAsyncAPI, FunctionTypeExpression, FunctionTypeGraphQL, FunctionTypeOData, FunctionTypeRPC:
		default:
			p.add("function %q: unknown type %q", fn.Name, fn.Type)
		}
	}
}

func validateCustomOperation(p *problems, fn *Function) {
	kind, rest, _ := strings.Cut(fn.Operation, ":")
	switch strings.ToLower(kind) {
	case "sysout":
		if _, err := activities.ParseSysoutLevel(rest); err != nil {
			p.add("function %q: sysout level %q must be INFO, DEBUG, WARN or ERROR", fn.Name, rest)
		}
	case "rest":
		if _, _, err := parseCustomREST(fn.Operation); err != nil {
			p.add("function %q: %s", fn.Name, err)
		}
	default:
		p.add("function %q: custom operation %q must start with rest: or sysout:", fn.Name, fn.Operation)
	}
}

func (d *Definition) validateEvents(p *problems) {
	seen := map[string]bool{}
	for i, e := range d.Events {
		if e.Name == "" {
			p.add("event %d: name is required", i)
			continue
		}
		if seen[e.Name] {
			p.add("event %q is declared more than once", e.Name)
		}
		seen[e.Name] = true
	}
}

// validateEventRef reports a reference to an undeclared event.
func (d *Definition) validateEventRef(p *problems, owner, name string) {
	if _, ok := d.GetEvent(name); !ok {
		p.add("%s: event %q not found", owner, name)
	}
}

func (d *Definition) validateErrors(p *problems) {
	seen := map[string]bool{}
	for i, e := range d.Errors {
		if e.Name == "" {
			p.add("error %d: name is required", i)
			continue
		}
		if seen[e.Name] {
			p.add("error %q is declared more than once", e.Name)
		}
		seen[e.Name] = true
	}
}

func (d *Definition) validateRetries(p *problems) {
	seen := map[string]bool{}
	for i, r := range d.Retries {
		if r.Name == "" {
			p.add("retry %d: name is required", i)
			continue
		}
		if seen[r.Name] {
			p.add("retry %q is declared more than once", r.Name)
		}
		seen[r.Name] = true
		if _, err := r.MaxAttempts.Int(); err != nil {
			p.add("retry %q: maxAttempts: %s", r.Name, err)
		}
		if _, err := r.Multiplier.Float(); err != nil {
			p.add("retry %q: multiplier: %s", r.Name, err)
		}
		durations := []struct{ field, value string }{
			{"delay", r.Delay},
			{"maxDelay", r.MaxDelay},
			{"increment", r.Increment},
		}
		for _, dur := range durations {
			if dur.value == "" {
				continue
			}
			if _, err := activities.ParseDuration(dur.value); err != nil {
				p.add("retry %q: %s: %s", r.Name, dur.field, err)
			}
		}
	}
}

func (d *Definition) validateTimeouts(p *problems, owner string, t *Timeouts) {
	check := func(field, value string) {
		if value == "" {
			return
		}
		if _, err := activities.ParseDuration(value); err != nil {
			p.add("%s timeouts: %s: %s", owner, field, err)
		}
	}
	if t.WorkflowExecTimeout != nil {
		check("workflowExecTimeout", t.WorkflowExecTimeout.Duration)
	}
	if t.StateExecTimeout != nil {
		check("stateExecTimeout.total", t.StateExecTimeout.Total)
		check("stateExecTimeout.single", t.StateExecTimeout.Single)
	}
	check("actionExecTimeout", t.ActionExecTimeout)
	check("branchExecTimeout", t.BranchExecTimeout)
	check("eventTimeout", t.EventTimeout)
}

func (d *Definition) validateTarget(p *problems, owner string, transition *Transition, end *End) {
	if transition != nil && transition.NextState != "" {
		if _, ok := d.GetState(transition.NextState); !ok {
			p.add("%s: transition to state %q not found", owner, transition.NextState)
		}
		return
	}
	if !end.IsSet() {
		p.add("%s: requires end or transition", owner)
	}
}

func (d *Definition) validateState(p *problems, state *State) {
	owner := fmt.Sprintf("state %q", state.Name)
	if state.Timeouts != nil {
		d.validateTimeouts(p, owner, state.Timeouts)
	}

	switch state.Type {
	case StateTypeOperation:
		if len(state.Actions) == 0 {
			p.add("%s: operation state requires at least one action", owner)
		}
		d.validateActionMode(p, owner, state.ActionMode)
		d.validateActions(p, owner, state.Actions)
	case StateTypeSwitch:
		if len(state.DataConditions) == 0 && len(state.EventConditions) == 0 {
			p.add("%s: switch state requires dataConditions or eventConditions", owner)
		}
		for i, cond := range state.DataConditions {
			condOwner := fmt.Sprintf("%s condition %d", owner, i)
			if cond.Condition == "" {
				p.add("%s: condition is required", condOwner)
			}
			d.validateTarget(p, condOwner, cond.Transition, cond.End)
		}
		for i, cond := range state.EventConditions {
			condOwner := fmt.Sprintf("%s event condition %d", owner, i)
			if cond.EventRef == "" {
				p.add("%s: eventRef is required", condOwner)
			} else {
				d.validateEventRef(p, condOwner, cond.EventRef)
			}
			d.validateTarget(p, condOwner, cond.Transition, cond.End)
		}
		if state.DefaultCondition == nil {
			p.add("%s: switch state requires defaultCondition", owner)
		} else {
			d.validateTarget(p, owner+" defaultCondition", state.DefaultCondition.Transition, state.DefaultCondition.End)
		}
	case StateTypeInject:
	case StateTypeSleep:
		if state.Duration == "" {
			p.add("%s: sleep state requires duration", owner)
		} else if _, err := activities.ParseDuration(state.Duration); err != nil {
			p.add("%s: %s", owner, err)
		}
	case StateTypeParallel:
		if len(state.Branches) == 0 {
			p.add("%s: parallel state requires at least one branch", owner)
		}
		for i, branch := range state.Branches {
			branchOwner := fmt.Sprintf("%s branch %d", owner, i)
			if branch.Name != "" {
				branchOwner = fmt.Sprintf("%s branch %q", owner, branch.Name)
			}
			d.validateActionMode(p, branchOwner, branch.ActionMode)
			d.validateActions(p, branchOwner, branch.Actions)
		}
		switch state.CompletionType {
		case "", "allOf":
		case "atLeast":
			n, err := state.NumCompleted.Int()
			if err != nil || n < 1 {
				p.add("%s: atLeast completion requires a positive numCompleted", owner)
			}
		default:
			p.add("%s: unknown completionType %q", owner, state.CompletionType)
		}
	case StateTypeForEach:
		if state.InputCollection == "" {
			p.add("%s: foreach state requires inputCollection", owner)
		}
		switch state.Mode {
		case "", "parallel", "sequential":
		default:
			p.add("%s: unknown mode %q", owner, state.Mode)
		}
		if _, err := state.BatchSize.Int(); err != nil {
			p.add("%s: batchSize: %s", owner, err)
		}
		d.validateActions(p, owner, state.Actions)
	case StateTypeEvent:
		if len(state.OnEvents) == 0 {
			p.add("%s: event state requires onEvents", owner)
		}
		for i, onEvent := range state.OnEvents {
			eventOwner := fmt.Sprintf("%s onEvents %d", owner, i)
			if len(onEvent.EventRefs) == 0 {
				p.add("%s: eventRefs is required", eventOwner)
			}
			for _, ref := range onEvent.EventRefs {
				d.validateEventRef(p, eventOwner, ref)
			}
			d.validateActionMode(p, eventOwner, onEvent.ActionMode)
			d.validateActions(p, eventOwner, onEvent.Actions)
		}
	case StateTypeCallback:
		if state.Action == nil || state.EventRef == "" {
			p.add("%s: callback state requires action and eventRef", owner)
		}
		if state.EventRef != "" {
			d.validateEventRef(p, owner, state.EventRef)
		}
		if state.Action != nil {
			d.validateActions(p, owner, []*Action{state.Action})
		}
	case "":
		p.add("%s: type is required", owner)
	default:
		p.add("%s: unknown type %q", owner, state.Type)
	}

	if state.Type != StateTypeSwitch {
		d.validateTarget(p, owner, state.Transition, state.End)
	}

	for i, onError := range state.OnErrors {
		errOwner := fmt.Sprintf("%s onErrors %d", owner, i)
		refs := onError.Refs()
		if len(refs) == 0 {
			p.add("%s: errorRef or errorRefs is required", errOwner)
		}
		for _, ref := range refs {
			if _, ok := d.GetError(ref); !ok {
				p.add("%s: error %q not found", errOwner, ref)
			}
		}
		d.validateTarget(p, errOwner, onError.Transition, onError.End)
	}
}

func (d *Definition) validateActionMode(p *problems, owner, mode string) {
	switch mode {
	case "", "sequential", "parallel":
	default:
		p.add("%s: unknown actionMode %q", owner, mode)
	}
}

func (d *Definition) validateActions(p *problems, owner string, actions []*Action) {
	for i, action := range actions {
		actionOwner := fmt.Sprintf("%s action %d", owner, i)
		if action.Name != "" {
			actionOwner = fmt.Sprintf("%s action %q", owner, action.Name)
		}
		switch {
		case action.FunctionRef != nil:
			if action.FunctionRef.RefName == "" {
				p.add("%s: functionRef.refName is required", actionOwner)
			} else if _, ok := d.GetFunction(action.FunctionRef.RefName); !ok {
				p.add("%s: function %q not found", actionOwner, action.FunctionRef.RefName)
			}
		case action.SubFlowRef != nil:
			if action.SubFlowRef.WorkflowID == "" {
				p.add("%s: subFlowRef.workflowId is required", actionOwner)
			}
			switch action.SubFlowRef.Invoke {
			case "", "sync":
			case "async":
				switch action.SubFlowRef.OnParentComplete {
				case "", "terminate", "continue":
				default:
					p.add("%s: unknown onParentComplete %q", actionOwner, action.SubFlowRef.OnParentComplete)
				}
			default:
				p.add("%s: unknown invoke %q", actionOwner, action.SubFlowRef.Invoke)
			}
		case action.EventRef != nil:
			if action.EventRef.TriggerEventRef == "" {
				p.add("%s: eventRef.triggerEventRef is required", actionOwner)
			} else {
				d.validateEventRef(p, actionOwner, action.EventRef.TriggerEventRef)
			}
			if action.EventRef.ResultEventRef != "" {
				d.validateEventRef(p, actionOwner, action.EventRef.ResultEventRef)
			}
		default:
			p.add("%s: functionRef, subFlowRef or eventRef is required", actionOwner)
		}
		if action.RetryRef != "" {
			if _, ok := d.GetRetry(action.RetryRef); !ok {
				p.add("%s: retry %q not found", actionOwner, action.RetryRef)
			}
		}
		for _, name := range append(append([]string{}, action.RetryableErrors...), action.NonRetryableErrors...) {
			if _, ok := d.GetError(name); !ok {
				p.add("%s: error %q not found", actionOwner, name)
			}
		}
		if action.Sleep != nil {
			for _, value := range []string{action.Sleep.Before, action.Sleep.After} {
				if value == "" {
					continue
				}
				if _, err := activities.ParseDuration(value); err != nil {
					p.add("%s: sleep: %s", actionOwner, err)
				}
			}
		}
	}
}

// kind returns the function type, defaulting to rest.
func (f *Function) kind() string {
	if f.Type == "" {
		return FunctionTypeREST
	}
	return strings.ToLower(f.Type)
}
