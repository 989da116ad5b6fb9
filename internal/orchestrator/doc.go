// Package orchestrator runs planned actions under supervision.
//
// Architecture notes:
//   - Every action moves through a fixed state machine; invalid transitions
//     are errors, not silent corrections.
//   - The gate classifies actions before dispatch and parks dangerous ones
//     behind a ConfirmationRequest with a hard expiry.
//   - The dispatcher bounds concurrency with a worker pool and serializes
//     actions that share a (tool, target) pair.
//   - The engine ties scope checks, planning, gating, and dispatch together
//     per query and reports progress on a bounded event stream.
//   - Session records and findings are append-only; nothing here rewrites
//     history.
package orchestrator
