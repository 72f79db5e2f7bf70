// Package api provides the HTTP transport for the chat server's REST API.
// It handles authentication, request serialization, TLS policy, and the
// in-process retry of transient failures.
//
// # Client Creation
//
// The package provides two ways to create a client:
//
//   - [NewClient]: Struct-based configuration for explicit, type-safe setup.
//   - [New]: Functional options pattern for flexible configuration.
//
// Both require an email, an API key and a base URL. Credentials are sent
// via HTTP Basic Auth on every request. [NormalizeSite] turns a user-supplied
// site ("chat.example.com", "localhost:9991", "https://x/api") into a base
// URL ending in exactly one "/api/".
//
// # Requests and Results
//
// Each API operation is a request variant ([RegisterRequest],
// [GetEventsRequest], [SendMessageRequest], ...) implementing [Request].
// String fields are sent verbatim and every other field is JSON-encoded.
//
// [Client.Execute] never returns a Go error. It returns a [Result] holding
// either the server's JSON object or a synthetic failure whose Kind is one
// of connection-error, http-error or unexpected-error. [Result.Err] turns
// failures into the typed errors of package apierrors. The typed endpoint
// methods ([Client.Register], [Client.GetEvents], ...) wrap Execute and
// return (value, error).
//
// # Retry Behavior
//
// A 5xx response or a dropped connection is retried in-process through a
// [backoff.Policy] created per call (default: ten attempts, one second
// apart). Each retry sets dont_block=true so the server answers a retried
// long poll immediately. A timeout on a long-poll request is the normal end
// of a poll cycle and is retried silently; on any other request it is
// reported as a connection error.
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use. Retry state lives in each
// Execute call, so concurrent calls never share a failure counter.
package api
