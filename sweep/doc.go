// Package sweep drives design-space exploration over an external cache simulator.
//
// # Reading Guide
//
//   - space.go: the configuration tuple, its bounds and the lazy enumerator
//   - runner.go: one trial (spawn simulator, feed trace, extract, derive)
//   - sweep.go: the bounded worker pool that feeds a single sink
//
// # Pipeline
//
// Enumerate yields Tuples in nested t, r, c, b, s, v order. Sweep.Run hands each
// tuple to a Runner, which invokes the simulator through an Executor and parses its
// report with Extract. Successful trials are appended to a Sink; the CSV sink lives
// here and the SQLite mirror lives in sweep/store.
//
// Per-trial failures are returned as *TrialError and never stop the sweep.
// Failures that make further results unrecordable are returned as *FatalError.
package sweep
