// Package dispatch drains the run queue, executing one pipeline at a time.
//
// The dispatcher dequeues a run, loads the named pipeline, hands it to the
// engine and records the outcome in the build history before completing the
// queue entry. Runs are strictly serial: the engine never sees two
// pipelines at once.
//
// Status mapping:
//   - pipeline not found or invalid → failed
//   - run completed → succeeded
//   - run cancelled (Cancel or shutdown) → cancelled
//   - anything else → failed
package dispatch
