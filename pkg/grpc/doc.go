// Package grpc adapts the resilience pipeline to gRPC servers.
//
// UnaryServerInterceptor and StreamServerInterceptor run every call through
// a chaos.Gate. The route key is the full method name and the client key is
// the x-client-id metadata value or the peer IP.
//
// Rejections become status errors:
//
//	rate_limit_exceeded                         ResourceExhausted
//	circuit_breaker_open, bulkhead_rejected,
//	connection_throttled                        Unavailable
//	packet_dropped, timeout                     DeadlineExceeded
//	injected_fault                              by HTTP status, see CodeForHTTPStatus
//
// Each carries an errdetails.ErrorInfo with the reason, and a RetryInfo when
// a retry delay is known.
//
// NewServer wires both interceptors together with the health and reflection
// services:
//
//	srv := grpc.NewServer(pipeline, logger)
//	lis, _ := net.Listen("tcp", ":50051")
//	err := srv.Serve(ctx, lis, 5*time.Second)
package grpc
