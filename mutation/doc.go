// Package mutation runs server writes with lifecycle hooks. A Runner owns
// one mutation function and drives each call through OnMutate, OnSuccess or
// OnError, and OnSettled; the OnMutate hook's returned context threads
// through to the later hooks, which is what makes optimistic cache updates
// with rollback a caller-side pattern instead of an engine feature.
package mutation
