// Package zpool drives the ZFS array tool: pool creation from a layout plan,
// device offline and replace, scrub, status and destroy, plus a typed parser
// for `zpool status` output so callers never inspect raw text.
//
// # Logging Verbosity Convention
//
// The packages of this module follow Kubernetes logging conventions:
//
//   - V(0): Always visible - command failures, leaked pools, critical errors
//   - V(2): Production default - operation outcomes
//     Examples: "Created pool X", "Destroyed pool X", "Trial 3/5 succeeded"
//   - V(4): Debug level - intermediate steps and decisions
//     Examples: "Pool X already absent", "Poll 12: activity recovering"
//   - V(5): Trace level - raw command lines and tool output
//     Examples: "Executing: zpool create ...", "zpool output: ..."
//
// V(3) is avoided in favor of V(2) (if actionable) or V(4) (if diagnostic).
//
// Runs default to V(2). Set --v=4 to follow each poll, --v=5 to see every command.
package zpool
