package graphql

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// MaxRequestBodySize is the maximum allowed request body size (1MB).
const MaxRequestBodySize = 1 << 20

// Request parsing errors.
var (
	ErrEmptyBody        = errors.New("empty request body")
	ErrInvalidBody      = errors.New("invalid JSON request body")
	ErrInvalidVars      = errors.New("invalid variables JSON")
	ErrMissingQuery     = errors.New("query is required")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrBodyTooLarge     = errors.New("request body too large")
)

// ParseRequest reads a GraphQL request from r. POST bodies may be
// application/json or application/graphql; GET requests use the query,
// operationName and variables parameters. The body is restored on r so the
// next handler can read it again. A body over MaxRequestBodySize fails with
// ErrBodyTooLarge and r.Body is left unusable rather than cut short.
func ParseRequest(r *http.Request) (*GraphQLRequest, error) {
	req, _, err := parseRequest(r)
	return req, err
}

// parseRequest is ParseRequest that also reports how many body bytes were
// read.
func parseRequest(r *http.Request) (*GraphQLRequest, int, error) {
	switch r.Method {
	case http.MethodGet:
		req, err := parseGetRequest(r)
		return req, 0, err
	case http.MethodPost:
		return parsePostRequest(r)
	default:
		return nil, 0, ErrMethodNotAllowed
	}
}

func parseGetRequest(r *http.Request) (*GraphQLRequest, error) {
	query := r.URL.Query()
	req := &GraphQLRequest{
		Query:         query.Get("query"),
		OperationName: query.Get("operationName"),
	}
	if vars := query.Get("variables"); vars != "" {
		if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
			return nil, ErrInvalidVars
		}
	}
	return req, nil
}

func parsePostRequest(r *http.Request) (*GraphQLRequest, int, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	_ = r.Body.Close()
	if err != nil {
		r.Body = http.NoBody
		return nil, len(body), fmt.Errorf("read request body: %w", err)
	}
	if len(body) > MaxRequestBodySize {
		r.Body = http.NoBody
		return nil, len(body), ErrBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if len(body) == 0 {
		return nil, 0, ErrEmptyBody
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/graphql") {
		return &GraphQLRequest{Query: string(body)}, len(body), nil
	}

	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, len(body), ErrInvalidBody
	}
	return &req, len(body), nil
}

// ParseOperation finds the operation req will execute. It only parses the
// document, no schema validation happens here.
func ParseOperation(req *GraphQLRequest) (Operation, error) {
	op := Operation{Type: string(ast.Query), Name: "anonymous"}
	if req == nil || req.Query == "" {
		return op, ErrMissingQuery
	}
	if req.OperationName != "" {
		op.Name = req.OperationName
	}

	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		return op, fmt.Errorf("invalid GraphQL query: %w", err)
	}

	def := findOperation(doc, req.OperationName)
	if def == nil {
		return op, nil
	}
	op.Type = string(def.Operation)
	if req.OperationName == "" && def.Name != "" {
		op.Name = def.Name
	}
	return op, nil
}

func findOperation(doc *ast.QueryDocument, name string) *ast.OperationDefinition {
	for _, o := range doc.Operations {
		if name == "" || o.Name == name {
			return o
		}
	}
	if len(doc.Operations) > 0 {
		return doc.Operations[0]
	}
	return nil
}
