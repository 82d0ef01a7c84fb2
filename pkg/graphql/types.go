package graphql

// GraphQLRequest represents an incoming GraphQL request.
type GraphQLRequest struct {
	// Query is the GraphQL query string.
	Query string `json:"query"`
	// OperationName selects one operation of a multi-operation document.
	OperationName string `json:"operationName,omitempty"`
	// Variables are the variable values for the query.
	Variables map[string]any `json:"variables,omitempty"`
}

// GraphQLResponse represents a GraphQL response.
type GraphQLResponse struct {
	Data       any            `json:"data,omitempty"`
	Errors     []GraphQLError `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLError represents a GraphQL error in the response format.
type GraphQLError struct {
	Message    string                 `json:"message"`
	Locations  []GraphQLErrorLocation `json:"locations,omitempty"`
	Path       []any                  `json:"path,omitempty"`
	Extensions map[string]any         `json:"extensions,omitempty"`
}

// GraphQLErrorLocation represents a location in the query where an error occurred.
type GraphQLErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Operation identifies the operation a request will run.
type Operation struct {
	// Type is query, mutation or subscription.
	Type string
	// Name is the operation name, or "anonymous".
	Name string
}

// RouteKey is the pipeline route for the operation: graphql:<type>:<name>.
func (o Operation) RouteKey() string {
	return "graphql:" + o.Type + ":" + o.Name
}
