// Package scopeguard enforces the authorized target set for every action the
// orchestrator dispatches.
//
// Architecture notes:
//   - A Policy is built once from the configured allow entries (CIDR ranges,
//     single IPs, domains) plus the strict flag, and never mutated afterwards.
//   - Check is a pure function of (target, policy): no network calls, no
//     side effects, and malformed targets always come back Denied.
//   - Domain matching is suffix-based, so an allowed example.com admits
//     admin.example.com.
//   - The package is intentionally dependency-light so it can be consulted
//     from the planner, the gate, and the dispatcher without cycles.
package scopeguard
