// Package infinite layers cursor pagination on top of the query cache. An
// Accumulator owns one cache entry whose data is an ordered []Page; pages
// are appended or prepended one fetch at a time, and a full refetch replays
// every known cursor so the accumulated list stays coherent.
package infinite
