package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
	"github.com/getmockd/mockd-chaos/pkg/graphql"
	"github.com/getmockd/mockd-chaos/pkg/httputil"
	"github.com/getmockd/mockd-chaos/pkg/metrics"
	"github.com/getmockd/mockd-chaos/pkg/ratelimit"
	"github.com/getmockd/mockd-chaos/pkg/websocket"
)

// Paths served by the HTTP listener.
const (
	PathGraphQL     = "/graphql"
	PathWebSocket   = "/ws"
	PathMetrics     = "/metrics"
	PathChaosStatus = "/chaos/status"
	PathHealth      = "/health"
)

// demoSchema backs the /graphql mock.
const demoSchema = `
type User {
  id: ID!
  name: String!
  email: String
}

type Query {
  user(id: ID!): User
  users: [User!]!
  health: String!
}

type Mutation {
  createUser(name: String!): User!
}
`

var demoResponses = map[string]any{
	"Query.user": map[string]any{"id": "1", "name": "Ada Lovelace", "email": "ada@example.com"},
	"Query.users": []any{
		map[string]any{"id": "1", "name": "Ada Lovelace", "email": "ada@example.com"},
		map[string]any{"id": "2", "name": "Grace Hopper", "email": "grace@example.com"},
	},
	"Query.health":        "ok",
	"Mutation.createUser": map[string]any{"id": "3", "name": "Katherine Johnson"},
}

// handlerDeps is everything the HTTP mux needs.
type handlerDeps struct {
	pipeline *chaos.Pipeline
	registry *prometheus.Registry
	clientIP *ratelimit.ClientIPResolver
	logger   *slog.Logger
}

// newHTTPHandler wires the mock endpoints behind the pipeline. /metrics,
// /chaos/status and /health bypass it.
func newHTTPHandler(d handlerDeps) (http.Handler, error) {
	schema, err := graphql.ParseSchema(demoSchema)
	if err != nil {
		return nil, err
	}

	hooks := graphql.NewChaosHooks(d.pipeline)
	executor := graphql.NewExecutor(schema, demoResponses, graphql.WithFieldHook(hooks.FieldHook()))

	mux := http.NewServeMux()
	mux.Handle(PathGraphQL, graphql.NewMiddleware(executor, hooks,
		graphql.WithClientIPResolver(d.clientIP),
		graphql.WithLogger(d.logger),
	))
	mux.Handle(PathWebSocket, websocket.NewGate(d.pipeline, websocket.Echo,
		websocket.WithClientIPResolver(d.clientIP),
		websocket.WithLogger(d.logger),
	))
	mux.Handle(PathMetrics, metrics.Handler(d.registry))
	mux.HandleFunc(PathChaosStatus, statusHandler(d.pipeline))
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteOK(w, map[string]string{"status": "ok"})
	})
	mux.Handle("/", chaos.NewMiddleware(http.HandlerFunc(mockHandler), d.pipeline,
		chaos.WithClientIPResolver(d.clientIP),
		chaos.WithMiddlewareLogger(d.logger),
	))
	return mux, nil
}

// statusHandler reports the live pipeline statistics.
func statusHandler(p *chaos.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.WriteMethodNotAllowed(w, http.MethodGet)
			return
		}
		httputil.WriteOK(w, p.Stats())
	}
}

// mockHandler is the catch-all HTTP mock. ?status= and ?size= shape the
// response so faults and truncation can be observed end to end.
func mockHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if s := r.URL.Query().Get("status"); s != "" {
		code, err := strconv.Atoi(s)
		if err != nil || code < 100 || code > 599 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("invalid status %q", s))
			return
		}
		status = code
	}

	body := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if g := chaos.GuardsFromContext(r.Context()); g != nil && g.InjectedLatency > 0 {
		body["injectedLatencyMs"] = g.InjectedLatency.Milliseconds()
	}
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 1<<20 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_size", fmt.Sprintf("invalid size %q", s))
			return
		}
		body["padding"] = strings.Repeat("x", n)
	}
	httputil.WriteJSON(w, status, body)
}
