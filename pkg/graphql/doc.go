// Package graphql adapts the resilience pipeline to GraphQL over HTTP.
//
// Operations are gated as a whole. The route key is built from the parsed
// operation as graphql:<type>:<name>, so a rate limit or breaker applies per
// operation rather than per URL. Rejections never change the HTTP status;
// they come back as a normal GraphQL error response:
//
//	{"errors":[{"message":"injected_fault: ...","extensions":{"code":"UNAUTHENTICATED","reason":"injected_fault","status":401}}]}
//
// Status codes map to extensions.code through ErrorCodeForStatus.
//
// Field resolvers get a scaled share of the configured latency through
// ChaosHooks.BeforeField, since many fields resolve per operation.
//
// Basic usage:
//
//	schema, err := graphql.ParseSchema(`type Query { user: User } type User { id: ID! }`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hooks := graphql.NewChaosHooks(pipeline)
//	exec := graphql.NewExecutor(schema, map[string]any{
//	    "Query.user": map[string]any{"id": "1"},
//	}, graphql.WithFieldHook(hooks.FieldHook()))
//	mux.Handle("/graphql", graphql.NewMiddleware(exec, hooks))
package graphql
