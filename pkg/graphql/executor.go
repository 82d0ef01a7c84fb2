package graphql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/getmockd/mockd-chaos/pkg/httputil"
)

// FieldHook runs before each top-level field is resolved. path is
// "<Type>.<field>", e.g. "Query.user". A non-nil error nulls the field and
// adds it to the response errors.
type FieldHook func(ctx context.Context, path string) error

// Executor answers GraphQL operations from a fixed table of field values.
// It serves as the mock endpoint behind the chaos middleware.
type Executor struct {
	schema    *ast.Schema
	responses map[string]any // "Query.user" -> value
	fieldHook FieldHook
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithFieldHook sets the hook run before every field.
func WithFieldHook(h FieldHook) ExecutorOption {
	return func(e *Executor) {
		e.fieldHook = h
	}
}

// ParseSchema parses a GraphQL SDL string.
func ParseSchema(sdl string) (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema", Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL schema: %w", err)
	}
	return schema, nil
}

// ParseSchemaFile parses a GraphQL schema from a file.
func ParseSchemaFile(path string) (*ast.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: path, Input: string(data)})
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL schema from %s: %w", path, err)
	}
	return schema, nil
}

// NewExecutor creates an executor for schema. responses maps field paths
// such as "Query.user" to the value returned for that field.
func NewExecutor(schema *ast.Schema, responses map[string]any, opts ...ExecutorOption) *Executor {
	e := &Executor{
		schema:    schema,
		responses: responses,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates req against the schema and resolves its operation.
func (e *Executor) Execute(ctx context.Context, req *GraphQLRequest) *GraphQLResponse {
	if req == nil || req.Query == "" {
		return &GraphQLResponse{Errors: []GraphQLError{badRequestError(ErrMissingQuery.Error())}}
	}

	doc, errs := gqlparser.LoadQuery(e.schema, req.Query)
	if len(errs) > 0 {
		return &GraphQLResponse{Errors: validationErrors(errs)}
	}

	var op *ast.OperationDefinition
	for _, def := range doc.Operations {
		if req.OperationName == "" || def.Name == req.OperationName {
			op = def
			break
		}
	}
	if op == nil {
		return &GraphQLResponse{Errors: []GraphQLError{
			badRequestError(fmt.Sprintf("operation %q not found", req.OperationName)),
		}}
	}

	data, fieldErrs := e.executeSelectionSet(ctx, rootTypeName(op.Operation), op.SelectionSet)
	return &GraphQLResponse{Data: data, Errors: fieldErrs}
}

func (e *Executor) executeSelectionSet(ctx context.Context, typeName string, selections ast.SelectionSet) (map[string]any, []GraphQLError) {
	result := make(map[string]any, len(selections))
	var errs []GraphQLError

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		alias := field.Alias
		if alias == "" {
			alias = field.Name
		}
		if field.Name == "__typename" {
			result[alias] = typeName
			continue
		}

		path := typeName + "." + field.Name
		if e.fieldHook != nil {
			if err := e.fieldHook(ctx, path); err != nil {
				gqlErr := ErrorFor(err)
				gqlErr.Path = []any{alias}
				errs = append(errs, gqlErr)
				result[alias] = nil
				continue
			}
		}
		result[alias] = e.responses[path]
	}
	return result, errs
}

// ServeHTTP implements http.Handler for GET and POST GraphQL requests.
func (e *Executor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest(r)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, ErrMethodNotAllowed):
			w.Header().Set("Allow", "GET, POST")
			status = http.StatusMethodNotAllowed
		case errors.Is(err, ErrBodyTooLarge):
			status = http.StatusRequestEntityTooLarge
		}
		httputil.WriteJSON(w, status, &GraphQLResponse{Errors: []GraphQLError{badRequestError(err.Error())}})
		return
	}
	httputil.WriteOK(w, e.Execute(r.Context(), req))
}

func rootTypeName(op ast.Operation) string {
	switch op {
	case ast.Mutation:
		return "Mutation"
	case ast.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}

func badRequestError(msg string) GraphQLError {
	return GraphQLError{Message: msg, Extensions: map[string]any{"code": CodeBadUserInput}}
}

func validationErrors(list gqlerror.List) []GraphQLError {
	out := make([]GraphQLError, 0, len(list))
	for _, e := range list {
		gqlErr := GraphQLError{
			Message:    e.Message,
			Extensions: map[string]any{"code": CodeValidationFailed},
		}
		for _, loc := range e.Locations {
			gqlErr.Locations = append(gqlErr.Locations, GraphQLErrorLocation{Line: loc.Line, Column: loc.Column})
		}
		out = append(out, gqlErr)
	}
	return out
}
