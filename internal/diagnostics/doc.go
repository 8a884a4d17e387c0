// Package diagnostics provides the process and resource plumbing shared by
// every diagnoser.
//
// The package implements four main components:
//
//   - SafeExecutor: prepares collector and worker commands with guaranteed
//     pipe cleanup, even when cmd.Start() fails.
//
//   - KillProcessTree: terminates a process together with its descendants,
//     tolerating targets that already exited.
//
//   - Guard: the diagnoser boundary. Recovers panics raised inside a diagnoser,
//     optionally persists a panic dump, and returns them as errors. Contract
//     violations are re-raised.
//
//   - HostSampler / SystemMetricsCollector: periodic host CPU, memory and load
//     sampling used by the hostload diagnoser.
package diagnostics
