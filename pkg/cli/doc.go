// Package cli provides the command-line interface for mockd-chaos.
//
// Commands:
//   - serve: Run the HTTP, GraphQL, WebSocket and gRPC mocks behind the chaos pipeline
//   - validate: Check and normalize a chaos configuration file
//   - status: Print live pipeline statistics from a running server
//
// Usage:
//
//	mockd-chaos serve --config chaos.yaml
//	mockd-chaos validate chaos.yaml --print
//	mockd-chaos status --url http://localhost:4280
package cli
