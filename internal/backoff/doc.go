// Package backoff paces retries of failed network operations.
//
// Every retry site in the client goes through a [Policy]. A policy counts
// consecutive failures, reports whether the attempt budget is exhausted,
// and blocks the caller for a variant-specific delay on each failure:
//
//   - [NewCounting]: no delay, just the attempt budget.
//   - [NewFixed]: a constant delay. The transport uses ten attempts of one
//     second each for in-process retries of 5xx responses and dropped
//     connections.
//   - [NewRandomExponential]: a delay that doubles roughly every two
//     failures, with jitter in [scale, 2*scale] units so that many clients
//     failing at once do not retry in lockstep.
//
// A policy configured with [WithSuccessTimeout] treats a long idle period
// as an implicit success: if more than that duration passed since the last
// attempt, the failure counter is reset before it is consulted.
//
// Policies are safe for concurrent use, but each retry site should own its
// own instance; use a [Factory] to build one per call.
package backoff
