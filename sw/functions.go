package sw

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/activities"
	"github.com/deepnoodle-ai/swflow/retry"
)

// functionActivities are the activities functions are dispatched to.
type functionActivities struct {
	sysout     swflow.Activity
	rest       swflow.Activity
	expression swflow.Activity
	sleep      swflow.Activity
	subflow    swflow.Activity
	openapi    *activities.OpenAPIResolver
}

// list returns the activities in registration order.
func (f *functionActivities) list() []swflow.Activity {
	return []swflow.Activity{f.sysout, f.rest, f.expression, f.sleep, f.subflow}
}

// unsupported returns a non-recoverable error wrapping ErrUnsupported.
func unsupported(format string, args ...any) error {
	return retry.NewNonRecoverableError(fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...)))
}

// invoke calls fn with evaluated arguments. Input is the action's view of
// the state data, used by expression functions.
func (f *functionActivities) invoke(ctx swflow.Context, fn *Function, args map[string]any, input any) (any, error) {
	switch fn.kind() {
	case FunctionTypeCustom:
		kind, rest, _ := strings.Cut(fn.Operation, ":")
		switch strings.ToLower(kind) {
		case "sysout":
			return f.sysout.Execute(ctx, sysoutParams(rest, args))
		case "rest":
			method, target, err := parseCustomREST(fn.Operation)
			if err != nil {
				return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, err.Error())
			}
			return f.rest.Execute(ctx, customRESTParams(method, target, args).Parameters())
		}
		return nil, unsupported("custom operation %q", fn.Operation)
	case FunctionTypeREST:
		idx := strings.LastIndex(fn.Operation, "#")
		if idx < 0 {
			return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, fmt.Sprintf("invalid rest operation %q", fn.Operation))
		}
		op, err := f.openapi.Resolve(ctx, fn.Operation[:idx], fn.Operation[idx+1:])
		if err != nil {
			return nil, swflow.WrapWorkflowError(swflow.ErrorTypeFatal, err)
		}
		return f.rest.Execute(ctx, op.Request(args).Parameters())
	case FunctionTypeExpression:
		return f.expression.Execute(ctx, map[string]any{
			"expression": fn.Operation,
			"input":      input,
			"variables":  args,
		})
	default:
		return nil, unsupported("function type %q", fn.Type)
	}
}

// sysoutParams logs the message argument, or every argument when there is
// no message.
func sysoutParams(level string, args map[string]any) map[string]any {
	params := map[string]any{"level": level}
	for key, value := range args {
		params[key] = value
	}
	if _, ok := args["message"]; !ok {
		params["message"] = "sysout"
	}
	return params
}

// parseCustomREST splits rest:METHOD:URL.
func parseCustomREST(operation string) (string, string, error) {
	_, rest, _ := strings.Cut(operation, ":")
	method, target, ok := strings.Cut(rest, ":")
	if !ok || target == "" {
		return "", "", fmt.Errorf("custom rest operation %q must be rest:<method>:<url>", operation)
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return "", "", fmt.Errorf("custom rest operation %q has unknown method %q", operation, method)
	}
	return method, target, nil
}

// customRESTParams fills {name} placeholders in the URL from arguments.
// The remaining arguments form the body of POST, PUT and PATCH requests
// and the query of the others.
func customRESTParams(method, target string, args map[string]any) activities.RESTParams {
	remaining := make(map[string]any, len(args))
	for key, value := range args {
		placeholder := "{" + key + "}"
		if strings.Contains(target, placeholder) {
			target = strings.ReplaceAll(target, placeholder, url.PathEscape(fmt.Sprint(value)))
			continue
		}
		remaining[key] = value
	}
	params := activities.RESTParams{Method: method, URL: target}
	if len(remaining) == 0 {
		return params
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		params.Body = remaining
	default:
		params.Query = remaining
	}
	return params
}
