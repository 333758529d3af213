package swflow

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Activity represents an action that can be executed as part of a workflow.
type Activity interface {

	// Name returns the name of the Activity
	Name() string

	// Execute the Activity with the given parameters.
	Execute(ctx Context, params map[string]any) (any, error)
}

// ActivityRegistry is a map of activity names to activities
type ActivityRegistry map[string]Activity

// ExecuteActivityFunc is the signature of an untyped activity function.
type ExecuteActivityFunc func(ctx Context, params map[string]any) (any, error)

// TypedActivity is an activity whose parameters are decoded into TParams
// before it runs.
type TypedActivity[TParams, TResult any] interface {
	Name() string
	Execute(ctx Context, params TParams) (TResult, error)
}

// NewTypedActivity adapts a TypedActivity to the Activity interface.
// Parameters are decoded using mapstructure tags with weak typing, so "5"
// decodes into an int field.
func NewTypedActivity[TParams, TResult any](activity TypedActivity[TParams, TResult]) Activity {
	return &typedActivityAdapter[TParams, TResult]{activity: activity}
}

type typedActivityAdapter[TParams, TResult any] struct {
	activity TypedActivity[TParams, TResult]
}

func (a *typedActivityAdapter[TParams, TResult]) Name() string {
	return a.activity.Name()
}

func (a *typedActivityAdapter[TParams, TResult]) Execute(ctx Context, params map[string]any) (any, error) {
	var typed TParams
	if err := decodeParams(params, &typed); err != nil {
		return nil, NewWorkflowError(ErrorTypeFatal, fmt.Sprintf("invalid parameters for activity %q: %s", a.activity.Name(), err))
	}
	return a.activity.Execute(ctx, typed)
}

func decodeParams(params map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(params)
}

// activityFunc adapts a plain function to the Activity interface.
type activityFunc struct {
	name string
	fn   ExecuteActivityFunc
}

// NewActivityFunction returns an Activity named name that calls fn.
func NewActivityFunction(name string, fn ExecuteActivityFunc) Activity {
	return &activityFunc{name: name, fn: fn}
}

func (a *activityFunc) Name() string {
	return a.name
}

func (a *activityFunc) Execute(ctx Context, params map[string]any) (any, error) {
	return a.fn(ctx, params)
}
