// Package query implements a client-side cache and synchronization engine
// for server state: data owned by a remote source, fetched asynchronously,
// and potentially stale or updated out-of-band.
//
// The Client keeps one entry per canonical query key and orchestrates when a
// caller-supplied fetch function runs: concurrent requests for the same key
// collapse into one fetch (golang.org/x/sync/singleflight), results are
// shared with every observer, failures retry with bounded exponential
// backoff, offline periods park the fetch instead of consuming attempts,
// and unobserved entries are garbage collected after a grace period.
//
// The engine never decides what endpoint to call or how to serialize a
// request; fetch functions are opaque. Observers read state, they do not
// catch errors: a failed fetch surfaces as StatusError on the snapshot with
// the previous data intact.
package query
