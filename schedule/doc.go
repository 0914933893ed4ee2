// Package schedule provides timer management for the query engine.
//
// The Scheduler owns every timer the engine runs: one-shot staleness and
// garbage-collection timers keyed by entry id, and recurring poll tickers.
// Tasks are explicit, cancellable, and reschedulable; the clock is injected
// (github.com/benbjohnson/clock) so timer behavior is deterministic under
// test.
//
// The package also defines the environment signal interfaces (window focus,
// network reconnect, online state). These are the engine's only integration
// point with the host environment: a binding layer emits signals, the engine
// consumes them.
package schedule
