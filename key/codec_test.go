package key

import (
	"errors"
	"strings"
	"testing"
)

// TestCanonicalize_Deterministic verifies map insertion order does not
// change the canonical form.
func TestCanonicalize_Deterministic(t *testing.T) {
	codec := NewDefaultCodec()

	k1 := New("posts", map[string]any{"author": "ann", "page": 2, "tags": []any{"go", "cache"}})
	k2 := New("posts", map[string]any{"tags": []any{"go", "cache"}, "page": 2, "author": "ann"})

	c1, err := codec.Canonicalize(k1)
	if err != nil {
		t.Fatalf("Canonicalize(k1) error: %v", err)
	}
	c2, err := codec.Canonicalize(k2)
	if err != nil {
		t.Fatalf("Canonicalize(k2) error: %v", err)
	}

	if c1 != c2 {
		t.Errorf("canonical forms differ:\n  k1: %s\n  k2: %s", c1, c2)
	}
}

// TestCanonicalize_DiscriminatingSegment verifies keys differing in a single
// segment value canonicalize differently.
func TestCanonicalize_DiscriminatingSegment(t *testing.T) {
	codec := NewDefaultCodec()

	tests := []struct {
		name string
		a    Key
		b    Key
	}{
		{"different id", New("post", 41), New("post", 42)},
		{"different prefix", New("post", 42), New("user", 42)},
		{"extra segment", New("post", 42), New("post", 42, "comments")},
		{"nested value", New("posts", map[string]any{"page": 1}), New("posts", map[string]any{"page": 2})},
		{"nested field name", New("posts", map[string]any{"page": 1}), New("posts", map[string]any{"cursor": 1})},
		{"int vs string", New("post", 42), New("post", "42")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca, err := codec.Canonicalize(tt.a)
			if err != nil {
				t.Fatalf("Canonicalize(a) error: %v", err)
			}
			cb, err := codec.Canonicalize(tt.b)
			if err != nil {
				t.Fatalf("Canonicalize(b) error: %v", err)
			}
			if ca == cb {
				t.Errorf("keys collide on canonical form %q", ca)
			}
		})
	}
}

// TestCanonicalize_StructSegment verifies struct segments canonicalize like
// equivalent map segments.
func TestCanonicalize_StructSegment(t *testing.T) {
	codec := NewDefaultCodec()

	type filter struct {
		Author string `json:"author"`
		Page   int    `json:"page"`
	}

	cStruct, err := codec.Canonicalize(New("posts", filter{Author: "ann", Page: 2}))
	if err != nil {
		t.Fatalf("Canonicalize(struct) error: %v", err)
	}
	cMap, err := codec.Canonicalize(New("posts", map[string]any{"page": 2, "author": "ann"}))
	if err != nil {
		t.Fatalf("Canonicalize(map) error: %v", err)
	}

	if cStruct != cMap {
		t.Errorf("struct and map forms differ:\n  struct: %s\n  map:    %s", cStruct, cMap)
	}
}

// TestCanonicalize_Errors verifies empty and unencodable keys fail.
func TestCanonicalize_Errors(t *testing.T) {
	codec := NewDefaultCodec()

	if _, err := codec.Canonicalize(New()); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("empty key: got %v, want ErrEmptyKey", err)
	}

	if _, err := codec.Canonicalize(New("ch", make(chan int))); !errors.Is(err, ErrUnencodableKey) {
		t.Errorf("channel segment: got %v, want ErrUnencodableKey", err)
	}
}

// TestCanonicalize_NilSegment verifies nil segments encode as null.
func TestCanonicalize_NilSegment(t *testing.T) {
	codec := NewDefaultCodec()

	c, err := codec.Canonicalize(New("post", nil))
	if err != nil {
		t.Fatalf("Canonicalize error: %v", err)
	}
	if c != `["post",null]` {
		t.Errorf("got %q, want %q", c, `["post",null]`)
	}
}

// TestDigest verifies the digest is short, hex, and stable.
func TestDigest(t *testing.T) {
	d1 := Digest(`["post",42]`)
	d2 := Digest(`["post",42]`)

	if d1 != d2 {
		t.Errorf("digest unstable: %q vs %q", d1, d2)
	}
	if len(d1) != 16 {
		t.Errorf("digest length = %d, want 16", len(d1))
	}
	if strings.ToLower(d1) != d1 {
		t.Errorf("digest not lowercase hex: %q", d1)
	}
	if Digest(`["post",43]`) == d1 {
		t.Error("different canonicals produced the same digest")
	}
}
