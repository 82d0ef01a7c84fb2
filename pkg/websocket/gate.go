package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
	"github.com/getmockd/mockd-chaos/pkg/logging"
	"github.com/getmockd/mockd-chaos/pkg/ratelimit"
)

// DefaultReadLimit is the default maximum inbound message size (64KB).
const DefaultReadLimit = 64 * 1024

// MessageHandler produces the reply to one inbound message. A nil reply
// sends nothing. An error counts as a failure for the circuit breaker and
// is reported to the client as an internal error frame.
type MessageHandler func(ctx context.Context, typ ws.MessageType, data []byte) ([]byte, error)

// Echo replies with the inbound message.
func Echo(_ context.Context, _ ws.MessageType, data []byte) ([]byte, error) {
	return data, nil
}

// Gate accepts WebSocket connections and runs every inbound message
// through the pipeline before it reaches the handler.
type Gate struct {
	gate      chaos.Gate
	handler   MessageHandler
	clientIP  *ratelimit.ClientIPResolver
	logger    *slog.Logger
	readLimit int64
}

// Option configures a Gate.
type Option func(*Gate)

// WithClientIPResolver sets how client keys are derived from the upgrade request.
func WithClientIPResolver(r *ratelimit.ClientIPResolver) Option {
	return func(g *Gate) {
		g.clientIP = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithReadLimit sets the maximum inbound message size.
func WithReadLimit(n int64) Option {
	return func(g *Gate) {
		if n > 0 {
			g.readLimit = n
		}
	}
}

// NewGate creates a Gate serving handler behind gate.
func NewGate(gate chaos.Gate, handler MessageHandler, opts ...Option) *Gate {
	g := &Gate{
		gate:      gate,
		handler:   handler,
		logger:    logging.Nop(),
		readLimit: DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeHTTP upgrades the request and serves messages until the client
// disconnects or the request context ends.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // any origin, this is a mock server
		CompressionMode:    ws.CompressionDisabled,
	})
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return
	}
	conn.SetReadLimit(g.readLimit)

	s := &session{
		gate:   g,
		conn:   conn,
		id:     uuid.NewString(),
		client: g.clientIP.ClientIP(r),
		route:  r.URL.Path,
	}
	g.logger.Debug("websocket connected", "conn", s.id, "client", s.client, "path", s.route)

	err = s.run(r.Context())
	switch ws.CloseStatus(err) {
	case ws.StatusNormalClosure, ws.StatusGoingAway:
		_ = conn.Close(ws.StatusNormalClosure, "")
	default:
		if errors.Is(err, context.Canceled) {
			_ = conn.Close(CloseGoingAway.StatusCode(), "server shutting down")
		} else {
			_ = conn.CloseNow()
		}
	}
	g.logger.Debug("websocket disconnected", "conn", s.id, "error", err)
}

type session struct {
	gate   *Gate
	conn   *ws.Conn
	id     string
	client string
	route  string
}

func (s *session) run(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := s.handleMessage(ctx, typ, data); err != nil {
			return err
		}
	}
}

// handleMessage gates one message. Only connection-level failures are
// returned; rejections are answered with an error frame.
func (s *session) handleMessage(ctx context.Context, typ ws.MessageType, data []byte) error {
	g := s.gate
	guards, err := g.gate.Before(ctx, chaos.RequestInfo{
		ClientKey: s.client,
		RouteKey:  s.route,
		BodySize:  len(data),
	})
	if err != nil {
		rej, ok := chaos.AsRejection(err)
		if !ok {
			return err
		}
		if rej.Reason == chaos.ReasonPacketDropped {
			g.logger.Debug("websocket message dropped", "conn", s.id)
			return nil
		}
		return s.writeFrame(ctx, NewErrorFrame(rej))
	}
	defer guards.Release()

	reply, herr := g.handler(chaos.ContextWithGuards(ctx, guards), typ, data)

	outcome := chaos.OutcomeSuccess
	if herr != nil {
		outcome = chaos.OutcomeFailure
		reply = nil
	}
	decision := g.gate.After(ctx, guards, chaos.ResponseInfo{Outcome: outcome, BodySize: len(reply)})

	if herr != nil {
		g.logger.Warn("websocket handler failed", "conn", s.id, "error", herr)
		return s.writeFrame(ctx, ErrorFrame{
			Type:    "error",
			Code:    CloseInternalError,
			Reason:  "handler_error",
			Message: herr.Error(),
		})
	}
	if len(reply) == 0 {
		return nil
	}
	if decision.Truncate {
		reply = chaos.TruncateMidpoint(reply)
	}
	return s.conn.Write(ctx, typ, reply)
}

func (s *session) writeFrame(ctx context.Context, f ErrorFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, ws.MessageText, b)
}
