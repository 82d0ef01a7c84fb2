package grpc

import (
	"context"
	"log/slog"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
	"github.com/getmockd/mockd-chaos/pkg/logging"
	"github.com/getmockd/mockd-chaos/pkg/ratelimit"
)

// ClientIDMetadataKey overrides the peer address as the client key.
const ClientIDMetadataKey = "x-client-id"

// Option configures the interceptors.
type Option func(*interceptor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *interceptor) {
		if l != nil {
			i.logger = l
		}
	}
}

type interceptor struct {
	gate   chaos.Gate
	logger *slog.Logger
}

func newInterceptor(gate chaos.Gate, opts []Option) *interceptor {
	i := &interceptor{gate: gate, logger: logging.Nop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// UnaryServerInterceptor gates every unary call through gate. A truncated
// response is replaced by a DataLoss error.
func UnaryServerInterceptor(gate chaos.Gate, opts ...Option) grpc.UnaryServerInterceptor {
	i := newInterceptor(gate, opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		guards, err := i.gate.Before(ctx, chaos.RequestInfo{
			ClientKey: ClientKey(ctx),
			RouteKey:  info.FullMethod,
			BodySize:  messageSize(req),
		})
		if err != nil {
			return nil, StatusForError(err).Err()
		}
		defer guards.Release()

		resp, err := handler(chaos.ContextWithGuards(ctx, guards), req)

		size := 0
		if err == nil {
			size = messageSize(resp)
		}
		decision := i.gate.After(ctx, guards, chaos.ResponseInfo{
			Outcome:  OutcomeForCode(status.Code(err)),
			BodySize: size,
		})
		if decision.Truncate {
			i.logger.Debug("unary response truncated", "method", info.FullMethod, "size", size)
			return nil, status.Errorf(codes.DataLoss, "response truncated after %d of %d bytes", size/2, size)
		}
		return resp, err
	}
}

// StreamServerInterceptor gates every stream through gate once, when the
// stream opens. When the pipeline decides to truncate, the stream ends with
// DataLoss instead of OK.
func StreamServerInterceptor(gate chaos.Gate, opts ...Option) grpc.StreamServerInterceptor {
	i := newInterceptor(gate, opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		guards, err := i.gate.Before(ctx, chaos.RequestInfo{
			ClientKey: ClientKey(ctx),
			RouteKey:  info.FullMethod,
		})
		if err != nil {
			return StatusForError(err).Err()
		}
		defer guards.Release()

		ws := &wrappedStream{ServerStream: ss, ctx: chaos.ContextWithGuards(ctx, guards)}
		err = handler(srv, ws)

		sent := int(ws.sentBytes.Load())
		decision := i.gate.After(ctx, guards, chaos.ResponseInfo{
			Outcome:  OutcomeForCode(status.Code(err)),
			BodySize: sent,
		})
		if decision.Truncate && err == nil {
			return status.Errorf(codes.DataLoss, "stream interrupted after %d messages", ws.sentMsgs.Load())
		}
		return err
	}
}

// wrappedStream exposes the guards through Context and counts what the
// handler sends.
type wrappedStream struct {
	grpc.ServerStream
	ctx       context.Context
	sentMsgs  atomic.Int64
	sentBytes atomic.Int64
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func (w *wrappedStream) SendMsg(m any) error {
	if err := w.ServerStream.SendMsg(m); err != nil {
		return err
	}
	w.sentMsgs.Add(1)
	w.sentBytes.Add(int64(messageSize(m)))
	return nil
}

// ClientKey identifies the caller: the x-client-id metadata value when
// present, otherwise the peer's IP address.
func ClientKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(ClientIDMetadataKey); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return ratelimit.RemoteIP(p.Addr.String())
	}
	return ""
}

func messageSize(v any) int {
	if m, ok := v.(proto.Message); ok {
		return proto.Size(m)
	}
	return 0
}
