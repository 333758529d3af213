package activities

import (
	"errors"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/script"
)

// ExpressionParams defines the parameters for the expression activity.
// Input becomes the expression's state and Variables are passed as extra
// globals.
type ExpressionParams struct {
	Expression string         `mapstructure:"expression"`
	Input      any            `mapstructure:"input"`
	Variables  map[string]any `mapstructure:"variables"`
}

// ExpressionActivity evaluates an expression with the execution's compiler
type ExpressionActivity struct{}

func NewExpressionActivity() swflow.Activity {
	return swflow.NewTypedActivity(&ExpressionActivity{})
}

func (a *ExpressionActivity) Name() string {
	return "expression"
}

func (a *ExpressionActivity) Execute(ctx swflow.Context, params ExpressionParams) (any, error) {
	if params.Expression == "" {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, "expression activity requires 'expression' parameter")
	}
	compiler := ctx.GetCompiler()
	if compiler == nil {
		return nil, errors.New("missing compiler in context")
	}
	expr := params.Expression
	if unwrapped, ok := script.Unwrap(expr); ok {
		expr = unwrapped
	}
	globals := make(map[string]any, len(params.Variables)+1)
	for name, value := range params.Variables {
		globals[name] = value
	}
	globals[script.JQInputGlobal] = params.Input
	value, err := script.EvaluateExpression(ctx, compiler, expr, globals)
	if err != nil {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, err.Error())
	}
	return value.Value(), nil
}
