package activities

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/retry"
	"github.com/deepnoodle-ai/swflow/script"
	"github.com/go-resty/resty/v2"
)

// RESTParams defines the parameters for the REST activity
type RESTParams struct {
	Method  string            `mapstructure:"method"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Query   map[string]any    `mapstructure:"query"`
	Body    any               `mapstructure:"body"`
}

// Parameters returns p as activity parameters.
func (p RESTParams) Parameters() map[string]any {
	params := map[string]any{"method": p.Method, "url": p.URL}
	if len(p.Headers) > 0 {
		params["headers"] = p.Headers
	}
	if len(p.Query) > 0 {
		params["query"] = p.Query
	}
	if p.Body != nil {
		params["body"] = p.Body
	}
	return params
}

// RESTActivity makes HTTP requests and returns the decoded response body.
// Responses with a status of 400 or above fail with a WorkflowError whose
// type is the status code. Server errors are recoverable, client errors
// are not.
type RESTActivity struct {
	client *resty.Client
}

func NewRESTActivity(client *resty.Client) swflow.Activity {
	if client == nil {
		client = resty.New()
	}
	return swflow.NewTypedActivity(&RESTActivity{client: client})
}

func (a *RESTActivity) Name() string {
	return "rest"
}

func (a *RESTActivity) Execute(ctx swflow.Context, params RESTParams) (any, error) {
	if params.URL == "" {
		return nil, swflow.NewWorkflowError(swflow.ErrorTypeFatal, "rest activity requires 'url' parameter")
	}
	method := strings.ToUpper(params.Method)
	if method == "" {
		method = http.MethodGet
	}

	request := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeaders(params.Headers)
	for key, value := range params.Query {
		request.SetQueryParam(key, fmt.Sprint(value))
	}
	if params.Body != nil {
		request.SetHeader("Content-Type", "application/json").SetBody(params.Body)
	}

	ctx.GetLogger().Debug("sending request", "method", method, "url", params.URL)
	response, err := request.Execute(method, params.URL)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, params.URL, err)
	}
	body := decodeBody(response.Body())
	if response.StatusCode() >= 400 {
		return nil, statusError(method, params.URL, response.StatusCode(), body)
	}
	return body, nil
}

func statusError(method, url string, status int, body any) error {
	err := &swflow.WorkflowError{
		Type:    strconv.Itoa(status),
		Cause:   fmt.Sprintf("%s %s returned status %d", method, url, status),
		Details: body,
	}
	if status >= 500 {
		return retry.NewRecoverableError(err)
	}
	return retry.NewNonRecoverableError(err)
}

// decodeBody returns JSON bodies as plain values and anything else as a
// string. An empty body is nil.
func decodeBody(data []byte) any {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return string(data)
	}
	normalized, err := script.NormalizeJSON(value)
	if err != nil {
		return value
	}
	return normalized
}
