// Package key provides canonical identity for query keys.
//
// A query key is an ordered sequence of segments ([]any) supplied by the
// caller, e.g. {"post", 42}. The Codec turns a key into a stable canonical
// string used as the cache registry identity: structurally equal keys
// canonicalize identically regardless of map insertion order, and any
// segment value difference changes the output.
package key
