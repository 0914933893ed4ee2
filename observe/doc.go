// Package observe provides observability primitives for the query engine.
//
// It is a pure instrumentation library: no fetching, no cache state, no I/O
// beyond exporter setup. The query client and mutation runner wire an
// Observer in to get structured logs, OpenTelemetry metrics, and spans for
// fetches, retries, evictions, and mutations.
package observe
