package activities

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// OpenAPIOperation is an operation resolved from an OpenAPI document.
type OpenAPIOperation struct {
	ID           string
	Method       string
	ServerURL    string
	Path         string
	PathParams   []string
	QueryParams  []string
	HeaderParams []string
	HasBody      bool
}

// Request builds REST parameters for the operation. Arguments named after
// path, query or header parameters fill those parameters and the rest form
// the JSON body.
func (o *OpenAPIOperation) Request(args map[string]any) RESTParams {
	remaining := make(map[string]any, len(args))
	for key, value := range args {
		remaining[key] = value
	}

	path := o.Path
	for _, name := range o.PathParams {
		if value, ok := remaining[name]; ok {
			path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(fmt.Sprint(value)))
			delete(remaining, name)
		}
	}
	params := RESTParams{
		Method: o.Method,
		URL:    strings.TrimSuffix(o.ServerURL, "/") + path,
	}
	for _, name := range o.QueryParams {
		if value, ok := remaining[name]; ok {
			if params.Query == nil {
				params.Query = map[string]any{}
			}
			params.Query[name] = value
			delete(remaining, name)
		}
	}
	for _, name := range o.HeaderParams {
		if value, ok := remaining[name]; ok {
			if params.Headers == nil {
				params.Headers = map[string]string{}
			}
			params.Headers[name] = fmt.Sprint(value)
			delete(remaining, name)
		}
	}
	if len(remaining) > 0 {
		params.Body = remaining
	}
	return params
}

// OpenAPIResolver loads OpenAPI documents and finds operations by ID.
// Documents are cached by location. Relative file locations are resolved
// against the base directory.
type OpenAPIResolver struct {
	baseDir string
	mutex   sync.Mutex
	docs    map[string]*openapi3.T
}

func NewOpenAPIResolver(baseDir string) *OpenAPIResolver {
	return &OpenAPIResolver{baseDir: baseDir, docs: map[string]*openapi3.T{}}
}

// Resolve finds operationID in the document at location.
func (r *OpenAPIResolver) Resolve(ctx context.Context, location, operationID string) (*OpenAPIOperation, error) {
	doc, err := r.load(ctx, location)
	if err != nil {
		return nil, err
	}
	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for key := range paths {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, path := range keys {
		item := paths[path]
		for method, op := range item.Operations() {
			if op.OperationID != operationID {
				continue
			}
			operation := &OpenAPIOperation{
				ID:        operationID,
				Method:    method,
				ServerURL: serverURL(doc, location),
				Path:      path,
				HasBody:   op.RequestBody != nil,
			}
			for _, params := range []openapi3.Parameters{item.Parameters, op.Parameters} {
				for _, ref := range params {
					if ref == nil || ref.Value == nil {
						continue
					}
					switch ref.Value.In {
					case openapi3.ParameterInPath:
						operation.PathParams = append(operation.PathParams, ref.Value.Name)
					case openapi3.ParameterInQuery:
						operation.QueryParams = append(operation.QueryParams, ref.Value.Name)
					case openapi3.ParameterInHeader:
						operation.HeaderParams = append(operation.HeaderParams, ref.Value.Name)
					}
				}
			}
			return operation, nil
		}
	}
	return nil, fmt.Errorf("operation %q not found in %s", operationID, location)
}

func (r *OpenAPIResolver) load(ctx context.Context, location string) (*openapi3.T, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if doc, ok := r.docs[location]; ok {
		return doc, nil
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = true

	var doc *openapi3.T
	var err error
	if isURL(location) {
		var u *url.URL
		if u, err = url.Parse(location); err != nil {
			return nil, fmt.Errorf("invalid openapi location %q: %w", location, err)
		}
		doc, err = loader.LoadFromURI(u)
	} else {
		path := location
		if !filepath.IsAbs(path) && r.baseDir != "" {
			path = filepath.Join(r.baseDir, path)
		}
		doc, err = loader.LoadFromFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document %s: %w", location, err)
	}
	r.docs[location] = doc
	return doc, nil
}

func serverURL(doc *openapi3.T, location string) string {
	var server string
	if len(doc.Servers) > 0 && doc.Servers[0] != nil {
		server = doc.Servers[0].URL
	}
	if isURL(server) || !isURL(location) {
		return server
	}
	// Relative server URLs resolve against the document URL
	base, err := url.Parse(location)
	if err != nil {
		return server
	}
	ref, err := url.Parse(server)
	if err != nil {
		return server
	}
	return base.ResolveReference(ref).String()
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
