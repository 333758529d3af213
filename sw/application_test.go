package sw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/activities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type object = map[string]any

type list = []any

// newDefinition parses a definition made of the required header fields
// plus fields.
func newDefinition(t *testing.T, fields object) *Definition {
	t.Helper()
	doc := object{"id": "test", "name": "Test", "version": "1.0", "specVersion": "0.8"}
	for key, value := range fields {
		doc[key] = value
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	def, err := Parse(data, FormatJSON)
	require.NoError(t, err)
	return def
}

func execute(t *testing.T, def *Definition, input map[string]any) (*Result, error) {
	t.Helper()
	app := NewApplication(ApplicationOptions{})
	t.Cleanup(func() { app.Close() })
	return app.Execute(context.Background(), def, input)
}

func number(t *testing.T, value any) float64 {
	t.Helper()
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		t.Fatalf("expected a number, got %T", value)
		return 0
	}
}

func TestExecuteGreeting(t *testing.T) {
	def, err := LoadFile(filepath.Join("testdata", "greeting.sw.json"))
	require.NoError(t, err)

	result, err := execute(t, def, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, swflow.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "Hello, World", result.Data["message"])
	assert.Equal(t, "World", result.Data["name"])
	assert.Equal(t, float64(2), number(t, result.Data["count"]))
}

func TestExecuteEmptyWorkflow(t *testing.T) {
	def, err := LoadFile(filepath.Join("testdata", "empty.sw.json"))
	require.NoError(t, err)

	result, err := execute(t, def, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, swflow.ExecutionStatusCompleted, result.Status)
}

func TestExecuteNoStates(t *testing.T) {
	def := newDefinition(t, object{"states": list{}})
	app := NewApplication(ApplicationOptions{Checkpointer: swflow.NewNullCheckpointer()})
	defer app.Close()

	result, err := app.Execute(context.Background(), def, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.ID, "exec_"), result.ID)
	assert.Equal(t, swflow.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"a": 1}, result.Data)

	result, err = app.Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, "workflowdata={}}", strings.SplitN(result.String(), ", ", 3)[2])

	_, err = app.Resume(context.Background(), def, "exec_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `workflow "test" has no states to resume`)
}

func TestProcessCachesPrograms(t *testing.T) {
	def, err := LoadFile(filepath.Join("testdata", "greeting.sw.json"))
	require.NoError(t, err)
	app := NewApplication(ApplicationOptions{})
	defer app.Close()

	first, err := app.Process(context.Background(), def)
	require.NoError(t, err)
	second, err := app.Process(context.Background(), def)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, []string{"Init", "Check", "Greet"}, first.Workflow().StepNames())

	_, err = app.Process(context.Background(), nil)
	require.Error(t, err)
}

func TestProcessInvalidDefinition(t *testing.T) {
	def := newDefinition(t, object{
		"states": list{object{"name": "A", "type": "inject"}},
	})
	app := NewApplication(ApplicationOptions{})
	defer app.Close()

	_, err := app.Process(context.Background(), def)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDefinition))
	assert.Contains(t, err.Error(), `state "A": requires end or transition`)
}

func TestExecuteCustomREST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/orders/7":
			if r.URL.Query().Get("expand") != "items" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `{"id": 7, "total": 150}`)
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"created": body["item"]})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	def := newDefinition(t, object{
		"functions": list{
			object{"name": "getOrder", "type": "custom", "operation": "rest:get:" + server.URL + "/orders/{id}"},
			object{"name": "createOrder", "type": "custom", "operation": "rest:post:" + server.URL + "/orders"},
		},
		"states": list{object{
			"name": "Orders",
			"type": "operation",
			"actions": list{
				object{
					"functionRef":      object{"refName": "getOrder", "arguments": object{"id": "${ .orderId }", "expand": "items"}},
					"actionDataFilter": object{"toStateData": "${ .order }"},
				},
				object{
					"functionRef": object{"refName": "createOrder", "arguments": object{"item": "book"}},
				},
			},
			"end": true,
		}},
	})

	result, err := execute(t, def, map[string]any{"orderId": 7})
	require.NoError(t, err)
	order, ok := result.Data["order"].(map[string]any)
	require.True(t, ok, "order is %T", result.Data["order"])
	assert.Equal(t, float64(150), number(t, order["total"]))
	assert.Equal(t, "book", result.Data["created"])
}

func TestExecuteOpenAPIFunction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pets/42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 42, "name": "Rex"}`)
	}))
	defer server.Close()

	spec := fmt.Sprintf(`openapi: 3.0.0
info:
  title: Pets
  version: "1.0"
servers:
  - url: %s
paths:
  /pets/{petId}:
    get:
      operationId: getPet
      parameters:
        - name: petId
          in: path
          required: true
          schema:
            type: string
      responses:
        "200":
          description: A pet
`, server.URL)
	location := filepath.Join(t.TempDir(), "petstore.yaml")
	require.NoError(t, os.WriteFile(location, []byte(spec), 0o644))

	def := newDefinition(t, object{
		"functions": list{object{"name": "getPet", "type": "rest", "operation": location + "#getPet"}},
		"states": list{object{
			"name": "Fetch",
			"type": "operation",
			"actions": list{object{
				"functionRef":      object{"refName": "getPet", "arguments": object{"petId": "${ .id }"}},
				"actionDataFilter": object{"results": "${ {pet: .name} }"},
			}},
			"end": true,
		}},
	})

	result, err := execute(t, def, map[string]any{"id": 42})
	require.NoError(t, err)
	assert.Equal(t, "Rex", result.Data["pet"])
}

func TestExecuteOnErrorsTransition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	def := newDefinition(t, object{
		"functions": list{object{"name": "lookup", "type": "custom", "operation": "rest:get:" + server.URL + "/missing"}},
		"errors":    list{object{"name": "notFound", "code": "404"}},
		"states": list{
			object{
				"name":       "Lookup",
				"type":       "operation",
				"actions":    list{object{"functionRef": "lookup"}},
				"onErrors":   list{object{"errorRef": "notFound", "transition": "Handle"}},
				"transition": "Done",
			},
			object{"name": "Handle", "type": "inject", "data": object{"handled": true}, "end": true},
			object{"name": "Done", "type": "inject", "data": object{"handled": false}, "end": true},
		},
	})

	result, err := execute(t, def, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result.Data["handled"])
}

func TestExecuteUncaughtError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	def := newDefinition(t, object{
		"functions": list{object{"name": "lookup", "type": "custom", "operation": "rest:get:" + server.URL}},
		"errors":    list{object{"name": "notFound", "code": "404"}},
		"states": list{object{
			"name":     "Lookup",
			"type":     "operation",
			"actions":  list{object{"functionRef": "lookup"}},
			"onErrors": list{object{"errorRef": "notFound", "end": true}},
			"end":      true,
		}},
	})

	_, err := execute(t, def, nil)
	require.Error(t, err)
	assert.Equal(t, "403", swflow.ClassifyError(err).Type)
}

func flakyServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true}`)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func retryDefinition(t *testing.T, url string, maxAttempts int) *Definition {
	return newDefinition(t, object{
		"functions": list{object{"name": "flaky", "type": "custom", "operation": "rest:get:" + url}},
		"retries":   list{object{"name": "quick", "delay": "PT0.01S", "maxAttempts": maxAttempts}},
		"states": list{object{
			"name":    "Call",
			"type":    "operation",
			"actions": list{object{"functionRef": "flaky", "retryRef": "quick"}},
			"end":     true,
		}},
	})
}

func TestExecuteRetries(t *testing.T) {
	t.Run("succeeds within budget", func(t *testing.T) {
		server, calls := flakyServer(t, 2)
		result, err := execute(t, retryDefinition(t, server.URL, 3), nil)
		require.NoError(t, err)
		assert.Equal(t, true, result.Data["ok"])
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		server, calls := flakyServer(t, 2)
		_, err := execute(t, retryDefinition(t, server.URL, 2), nil)
		require.Error(t, err)
		assert.Equal(t, "503", swflow.ClassifyError(err).Type)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestResumeFailedExecution(t *testing.T) {
	server, calls := flakyServer(t, 1)
	def := newDefinition(t, object{
		"functions": list{object{"name": "flaky", "type": "custom", "operation": "rest:get:" + server.URL}},
		"states": list{
			object{"name": "Prepare", "type": "inject", "data": object{"prepared": true}, "transition": "Call"},
			object{
				"name":    "Call",
				"type":    "operation",
				"actions": list{object{"functionRef": "flaky"}},
				"end":     true,
			},
		},
	})
	checkpointer, err := swflow.NewFileCheckpointer(t.TempDir())
	require.NoError(t, err)
	app := NewApplication(ApplicationOptions{Checkpointer: checkpointer})
	defer app.Close()
	ctx := context.Background()

	_, err = app.Execute(ctx, def, object{"id": 7})
	require.Error(t, err)
	assert.Equal(t, "503", swflow.ClassifyError(err).Type)

	summaries, err := checkpointer.ListExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "failed", summaries[0].Status)

	result, err := app.Resume(ctx, def, summaries[0].ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, swflow.ExecutionStatusCompleted, result.Status)
	assert.NotEqual(t, summaries[0].ExecutionID, result.ID)
	assert.Equal(t, true, result.Data["prepared"])
	assert.Equal(t, true, result.Data["ok"])
	assert.Equal(t, float64(7), number(t, result.Data["id"]))
	assert.Equal(t, int32(2), calls.Load())

	_, err = app.Resume(ctx, def, "exec_unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no checkpoint found for execution "exec_unknown"`)
}

func TestResumeRequiresCheckpointer(t *testing.T) {
	def, err := LoadFile(filepath.Join("testdata", "greeting.sw.json"))
	require.NoError(t, err)
	app := NewApplication(ApplicationOptions{})
	defer app.Close()
	_, err = app.Resume(context.Background(), def, "exec_1")
	assert.EqualError(t, err, "resume requires a checkpointer")
}

func TestExecuteParallel(t *testing.T) {
	def := newDefinition(t, object{
		"functions": list{
			object{"name": "one", "type": "expression", "operation": "{a: 1}"},
			object{"name": "two", "type": "expression", "operation": "{b: 2}"},
		},
		"states": list{object{
			"name": "Fan",
			"type": "parallel",
			"branches": list{
				object{"name": "first", "actions": list{object{"functionRef": "one"}}},
				object{"name": "second", "actions": list{object{"functionRef": "two"}}},
			},
			"end": true,
		}},
	})

	result, err := execute(t, def, map[string]any{"start": true})
	require.NoError(t, err)
	assert.Equal(t, float64(1), number(t, result.Data["a"]))
	assert.Equal(t, float64(2), number(t, result.Data["b"]))
	assert.Equal(t, true, result.Data["start"])
}

func TestExecuteForEach(t *testing.T) {
	for _, mode := range []string{"parallel", "sequential"} {
		t.Run(mode, func(t *testing.T) {
			def := newDefinition(t, object{
				"functions": list{object{"name": "double", "type": "expression", "operation": ".n * 2"}},
				"states": list{object{
					"name":             "Double",
					"type":             "foreach",
					"inputCollection":  "${ .numbers }",
					"iterationParam":   "n",
					"outputCollection": "${ .doubled }",
					"mode":             mode,
					"batchSize":        2,
					"actions":          list{object{"functionRef": "double"}},
					"end":              true,
				}},
			})

			result, err := execute(t, def, map[string]any{"numbers": []any{1, 2, 3}})
			require.NoError(t, err)
			doubled, ok := result.Data["doubled"].([]any)
			require.True(t, ok, "doubled is %T", result.Data["doubled"])
			require.Len(t, doubled, 3)
			for i, want := range []float64{2, 4, 6} {
				assert.Equal(t, want, number(t, doubled[i]))
			}
			assert.NotContains(t, result.Data, "n")
		})
	}
}

func TestExecuteStateDataFilter(t *testing.T) {
	def := newDefinition(t, object{
		"states": list{object{
			"name":            "Inject",
			"type":            "inject",
			"data":            object{"keep": "y", "drop": "x"},
			"stateDataFilter": object{"output": "${ {keep} }"},
			"end":             true,
		}},
	})

	result, err := execute(t, def, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"keep": "y"}, result.Data)
}

func TestExecuteActionCondition(t *testing.T) {
	def := newDefinition(t, object{
		"functions": list{
			object{"name": "one", "type": "expression", "operation": "{a: 1}"},
			object{"name": "two", "type": "expression", "operation": "{b: 2}"},
		},
		"states": list{object{
			"name": "Conditional",
			"type": "operation",
			"actions": list{
				object{"functionRef": "one", "condition": "${ .enabled }"},
				object{"functionRef": "two"},
			},
			"end": true,
		}},
	})

	result, err := execute(t, def, map[string]any{"enabled": false})
	require.NoError(t, err)
	assert.NotContains(t, result.Data, "a")
	assert.Equal(t, float64(2), number(t, result.Data["b"]))
}

func TestExecuteInputSchema(t *testing.T) {
	states := list{object{"name": "Done", "type": "inject", "data": object{"ok": true}, "end": true}}
	schema := object{"type": "object", "required": list{"name"}}

	t.Run("rejects invalid input", func(t *testing.T) {
		def := newDefinition(t, object{"dataInputSchema": object{"schema": schema}, "states": states})
		_, err := execute(t, def, map[string]any{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input does not match dataInputSchema")

		result, err := execute(t, def, map[string]any{"name": "Ada"})
		require.NoError(t, err)
		assert.Equal(t, true, result.Data["ok"])
	})

	t.Run("warns when validation is not enforced", func(t *testing.T) {
		def := newDefinition(t, object{
			"dataInputSchema": object{"schema": schema, "failOnValidationErrors": false},
			"states":          states,
		})
		result, err := execute(t, def, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, true, result.Data["ok"])
	})
}

func TestExecuteUnsupportedState(t *testing.T) {
	def := newDefinition(t, object{
		"events": list{object{"name": "created", "type": "order.created", "kind": "consumed"}},
		"states": list{object{
			"name":     "Wait",
			"type":     "event",
			"onEvents": list{object{"eventRefs": list{"created"}}},
			"end":      true,
		}},
	})

	_, err := execute(t, def, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestExecuteWorkflowTimeout(t *testing.T) {
	def := newDefinition(t, object{
		"timeouts": object{"workflowExecTimeout": "PT0.05S"},
		"states":   list{object{"name": "Nap", "type": "sleep", "duration": "PT10S", "end": true}},
	})

	_, err := execute(t, def, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecuteSecretsAndConstants(t *testing.T) {
	t.Setenv("SWFLOW_TEST_TOKEN", "s3cret")
	def := newDefinition(t, object{
		"constants": object{"region": "eu"},
		"secrets":   list{"SWFLOW_TEST_TOKEN"},
		"functions": list{object{
			"name":      "reveal",
			"type":      "expression",
			"operation": "{token: $SECRET.SWFLOW_TEST_TOKEN, region: $CONST.region, workflow: $WORKFLOW.id}",
		}},
		"states": list{object{
			"name":    "Reveal",
			"type":    "operation",
			"actions": list{object{"functionRef": "reveal"}},
			"end":     true,
		}},
	})

	result, err := execute(t, def, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", result.Data["token"])
	assert.Equal(t, "eu", result.Data["region"])
	assert.Equal(t, "test", result.Data["workflow"])
}

func TestExecuteRisorSwitch(t *testing.T) {
	def := newDefinition(t, object{
		"expressionLang": "risor",
		"states": list{
			object{"name": "Init", "type": "inject", "data": object{"count": 2}, "transition": "Route"},
			object{
				"name": "Route",
				"type": "switch",
				"dataConditions": list{
					object{"condition": "${ state.count > 1.5 }", "transition": "High"},
				},
				"defaultCondition": object{"transition": "Low"},
			},
			object{"name": "High", "type": "inject", "data": object{"level": "high"}, "end": true},
			object{"name": "Low", "type": "inject", "data": object{"level": "low"}, "end": true},
		},
	})

	result, err := execute(t, def, nil)
	require.NoError(t, err)
	assert.Equal(t, "high", result.Data["level"])
}

type closingCheckpointer struct {
	*swflow.NullCheckpointer
	closed int
}

func (c *closingCheckpointer) Close() error {
	c.closed++
	return nil
}

func TestApplicationClose(t *testing.T) {
	checkpointer := &closingCheckpointer{NullCheckpointer: swflow.NewNullCheckpointer()}
	app := NewApplication(ApplicationOptions{Checkpointer: checkpointer})

	def, err := LoadFile(filepath.Join("testdata", "empty.sw.json"))
	require.NoError(t, err)
	_, err = app.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	require.NoError(t, app.Close())
	require.NoError(t, app.Close())
	assert.Equal(t, 1, checkpointer.closed)

	_, err = app.Execute(context.Background(), def, nil)
	assert.True(t, errors.Is(err, ErrApplicationClosed))
}

func TestResultString(t *testing.T) {
	result := &Result{ID: "exec-1", Status: swflow.ExecutionStatusCompleted, Data: map[string]any{"a": 1}}
	assert.Equal(t, `{id=exec-1, status=completed, workflowdata={"a":1}}`, result.String())

	empty := &Result{ID: "exec-2", Status: swflow.ExecutionStatusCompleted}
	assert.Equal(t, `{id=exec-2, status=completed, workflowdata={}}`, empty.String())
}

// childDefinition doubles .value.
func childDefinition(t *testing.T) *Definition {
	t.Helper()
	def := newDefinition(t, object{
		"functions": list{object{"name": "double", "type": "expression", "operation": "{doubled: (.value * 2)}"}},
		"states": list{object{
			"name":    "Double",
			"type":    "operation",
			"actions": list{object{"functionRef": "double"}},
			"end":     true,
		}},
	})
	def.ID = "child"
	return def
}

func subflowParent(t *testing.T, ref any) *Definition {
	t.Helper()
	return newDefinition(t, object{
		"states": list{
			object{"name": "Init", "type": "inject", "data": object{"value": 21}, "transition": "Call"},
			object{
				"name":    "Call",
				"type":    "operation",
				"actions": list{object{"name": "run child", "subFlowRef": ref}},
				"end":     true,
			},
		},
	})
}

func TestExecuteSubflow(t *testing.T) {
	app := NewApplication(ApplicationOptions{})
	defer app.Close()
	ctx := context.Background()
	_, err := app.Process(ctx, childDefinition(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		ref  any
		want string
	}{
		{name: "by id", ref: "child"},
		{name: "by id and version", ref: object{"workflowId": "child", "version": "1.0"}},
		{name: "unknown id", ref: "missing", want: `subflow "missing" not found, processed workflows: [child, test]`},
		{name: "unknown version", ref: object{"workflowId": "child", "version": "2.0"}, want: `subflow "child@2.0" not found`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := app.Execute(ctx, subflowParent(t, tt.ref), nil)
			if tt.want != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.want)
				assert.True(t, swflow.MatchesErrorType(err, swflow.ErrorTypeFatal))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, float64(21), number(t, result.Data["value"]))
			assert.Equal(t, float64(42), number(t, result.Data["doubled"]))
		})
	}
}

func TestExecuteSubflowCheckpointsChild(t *testing.T) {
	checkpointer, err := swflow.NewFileCheckpointer(t.TempDir())
	require.NoError(t, err)
	app := NewApplication(ApplicationOptions{Checkpointer: checkpointer})
	defer app.Close()
	ctx := context.Background()
	_, err = app.Process(ctx, childDefinition(t))
	require.NoError(t, err)

	result, err := app.Execute(ctx, subflowParent(t, "child"), nil)
	require.NoError(t, err)

	summaries, err := checkpointer.ListExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	workflows := map[string]string{}
	for _, summary := range summaries {
		workflows[summary.WorkflowName] = summary.Status
	}
	assert.Equal(t, map[string]string{"child": "completed", "test": "completed"}, workflows)
	assert.Equal(t, float64(42), number(t, result.Data["doubled"]))
}

func TestExecuteRecursiveSubflow(t *testing.T) {
	def := newDefinition(t, object{
		"states": list{object{
			"name":    "Again",
			"type":    "operation",
			"actions": list{object{"subFlowRef": "test"}},
			"end":     true,
		}},
	})
	_, err := execute(t, def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the maximum nesting depth of 16")
}

func TestCompiledSubflowWithoutApplication(t *testing.T) {
	program, err := Compile(subflowParent(t, "child"))
	require.NoError(t, err)
	execution, err := swflow.NewExecution(swflow.ExecutionOptions{
		Workflow:       program.Workflow(),
		Activities:     program.Activities(),
		ScriptCompiler: program.Compiler(),
	})
	require.NoError(t, err)
	err = execution.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, activities.ErrNoSubflowExecutor))
}
