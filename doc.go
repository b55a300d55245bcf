// Package fgapool maintains a bounded pool of reusable client connections
// to a remote relationship-based authorization service, so that many
// concurrent permission checks reuse expensive-to-create client handles
// instead of constructing one per request.
//
// Creating a client handle involves credential negotiation and transport
// setup; pooling amortizes that cost while capping total concurrent
// connections to protect both the caller process and the remote service.
//
// The module is organized as:
//
//   - pkg/pool: the connection pool and its pooled-connection wrapper —
//     acquire/release, bounded growth, blocking admission with timeout,
//     idle/health tracking, and aggregate statistics
//   - pkg/fga: the HTTP client the pool hands out, with credential methods
//     none, api_token, and client_credentials
//   - pkg/manager: check/write/read operations executed over the pool,
//     with tracing and batch-write de-duplication
//   - pkg/config: typed configuration with defaults, validation, and a
//     YAML loader
//   - pkg/autherrors: structured, categorized errors
//   - pkg/logger, pkg/observability: zap logging and OpenTelemetry setup
//   - cmd/fgapool: a small CLI for one-shot checks, writes, reads, and
//     pool health inspection
//
// The pool deliberately implements no retry policy for failed remote calls
// and no circuit breaking; those belong to the caller and the client
// respectively.
package fgapool
