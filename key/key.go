package key

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Sentinel errors for key canonicalization.
var (
	ErrEmptyKey       = errors.New("key: key has no segments")
	ErrUnencodableKey = errors.New("key: segment cannot be encoded")
)

// Key is an ordered sequence of segments identifying one query.
// Segments may be scalars, maps, slices, or JSON-encodable structs.
type Key []any

// New builds a Key from the given segments.
func New(segments ...any) Key {
	return Key(segments)
}

// Codec produces canonical, comparable identities for query keys.
//
// Contract:
// - Determinism: structurally equal keys must produce identical output,
//   regardless of map iteration order.
// - Purity: no I/O, no shared mutable state.
// - Concurrency: implementations must be safe for concurrent use.
type Codec interface {
	// Canonicalize returns the canonical string form of the key.
	Canonicalize(k Key) (string, error)
}

// Digest returns a short stable digest of a canonical key, suitable for
// metric and span labels where full keys would blow up cardinality.
// Format: first 16 hex characters of SHA-256(canonical).
func Digest(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}
