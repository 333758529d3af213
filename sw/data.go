package sw

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/swflow"
	"github.com/deepnoodle-ai/swflow/script"
)

// document returns a deep copy of the path variables, which together form
// the workflow data document.
func document(ctx swflow.Context) map[string]any {
	doc := map[string]any{}
	for _, key := range ctx.ListVariables() {
		value, _ := ctx.GetVariable(key)
		doc[key] = deepCopy(value)
	}
	return doc
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		m := make(map[string]any, len(v))
		for key, item := range v {
			m[key] = deepCopy(item)
		}
		return m
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = deepCopy(item)
		}
		return items
	default:
		return value
	}
}

func copyDocument(doc map[string]any) map[string]any {
	return deepCopy(doc).(map[string]any)
}

// merge copies src into dst. Objects present on both sides are merged
// recursively. Anything else in src replaces the value in dst.
func merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = merge(dstMap, srcMap)
			continue
		}
		dst[key] = deepCopy(value)
	}
	return dst
}

// parsePath turns a path expression such as ".a.b" or "${ .a.b }" into its
// keys.
func parsePath(expr string) ([]string, error) {
	path := strings.TrimSpace(expr)
	if inner, ok := script.Unwrap(path); ok {
		path = inner
	}
	if !strings.HasPrefix(path, ".") {
		return nil, fmt.Errorf("path %q must start with '.'", expr)
	}
	var keys []string
	for _, key := range strings.Split(path[1:], ".") {
		key = strings.TrimSpace(key)
		if key == "" || strings.ContainsAny(key, "[]|() ") {
			return nil, fmt.Errorf("path %q is not a simple field path", expr)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// setPath stores value at the path, creating objects along the way.
func setPath(doc map[string]any, expr string, value any) error {
	keys, err := parsePath(expr)
	if err != nil {
		return err
	}
	current := doc
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
	return nil
}

// withContext returns an activity context that takes its deadline and
// cancellation from inner.
func withContext(ctx swflow.Context, inner context.Context) swflow.Context {
	return &innerContext{Context: ctx, inner: inner}
}

type innerContext struct {
	swflow.Context
	inner context.Context
}

func (c *innerContext) Deadline() (time.Time, bool) {
	return c.inner.Deadline()
}

func (c *innerContext) Done() <-chan struct{} {
	return c.inner.Done()
}

func (c *innerContext) Err() error {
	return c.inner.Err()
}

func (c *innerContext) Value(key any) any {
	return c.inner.Value(key)
}

// withTimeout bounds ctx by d. A zero duration leaves ctx unchanged.
func withTimeout(ctx swflow.Context, d time.Duration) (swflow.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	inner, cancel := context.WithTimeout(ctx, d)
	return withContext(ctx, inner), cancel
}
