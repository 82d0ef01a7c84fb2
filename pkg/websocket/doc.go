// Package websocket adapts the resilience pipeline to WebSocket endpoints.
//
// A Gate upgrades the HTTP request and then treats every inbound message as
// one unit of work. Rejected messages are answered with a JSON error frame
// and the connection stays open:
//
//	{"type":"error","code":1008,"reason":"rate_limit_exceeded","message":"...","retryAfterMs":1000}
//
// The code field uses close codes: 1008 for rate limiting and injected 4xx
// faults, 1013 when the breaker, bulkhead or connection limit refuses work,
// 1001 for an injected timeout and 1011 for injected 5xx faults. A simulated
// packet drop discards the message without any reply.
//
//	http.Handle("/ws", websocket.NewGate(pipeline, websocket.Echo))
package websocket
