package infinite

import (
	"context"
	"errors"
	"sync"

	"github.com/jonwraymond/querysync/key"
	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/query"
)

// Sentinel errors for accumulator construction.
var (
	// ErrNilClient indicates no query client was configured.
	ErrNilClient = errors.New("infinite: client is nil")

	// ErrNilFetch indicates no page fetch function was configured.
	ErrNilFetch = errors.New("infinite: fetch function is nil")

	// ErrNilNext indicates no next-cursor function was configured.
	ErrNilNext = errors.New("infinite: next-cursor function is nil")
)

// Page is one fetched page: the cursor it was requested with and the value
// the fetch function returned for it.
type Page struct {
	Cursor any
	Value  any
}

// CursorFunc derives the cursor for an adjacent page from the current pages.
// Returning ok=false means no page exists in that direction.
type CursorFunc func(edge Page, all []Page) (cursor any, ok bool)

// PageFetchFunc fetches one page of data for a key at a cursor.
type PageFetchFunc func(ctx context.Context, k key.Key, cursor any) (any, error)

// Config configures an Accumulator. Client, Fetch, and Next are required;
// Prev enables backward pagination.
type Config struct {
	Client *query.Client
	Key    key.Key

	// Fetch loads a single page at a cursor.
	Fetch PageFetchFunc

	// Next derives the cursor after the last page. ok=false ends forward
	// pagination.
	Next CursorFunc

	// Prev derives the cursor before the first page. Nil disables backward
	// pagination.
	Prev CursorFunc

	// InitialCursor seeds the first page when nothing is cached yet.
	InitialCursor any

	// Options configures the underlying cache entry.
	Options query.Options

	// Observer supplies telemetry for page fetches. Default: noop.
	Observer observe.Observer
}

// Accumulator drives cursor pagination against one cache entry. The entry's
// data is always []Page in order; a cache-level refetch replays all known
// cursors so staleness, invalidation, and focus refetch keep working at the
// whole-list level.
//
// Contract:
// - Concurrency: safe for concurrent use; page fetches are serialized.
// - Ownership: the pages slice in snapshots is never mutated in place.
type Accumulator struct {
	client  *query.Client
	k       key.Key
	digest  string
	fetch   PageFetchFunc
	next    CursorFunc
	prev    CursorFunc
	initial any
	opts    query.Options
	mw      *observe.Middleware

	// mu serializes page fetches so concurrent FetchNextPage calls cannot
	// load the same cursor twice.
	mu sync.Mutex
}

// New creates an Accumulator and registers its cache entry.
func New(cfg Config) (*Accumulator, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Fetch == nil {
		return nil, ErrNilFetch
	}
	if cfg.Next == nil {
		return nil, ErrNilNext
	}
	if cfg.Observer == nil {
		cfg.Observer = observe.Noop()
	}

	hash, err := cfg.Client.Canonicalize(cfg.Key)
	if err != nil {
		return nil, err
	}
	mw, err := observe.MiddlewareFromObserver(cfg.Observer)
	if err != nil {
		return nil, err
	}

	a := &Accumulator{
		client:  cfg.Client,
		k:       cfg.Key,
		digest:  key.Digest(hash),
		fetch:   cfg.Fetch,
		next:    cfg.Next,
		prev:    cfg.Prev,
		initial: cfg.InitialCursor,
		opts:    cfg.Options,
		mw:      mw,
	}

	if _, err := cfg.Client.Ensure(cfg.Key, a.refetchAll, cfg.Options); err != nil {
		return nil, err
	}
	return a, nil
}

// Subscribe registers an observer on the accumulator's entry. Snapshots
// carry the accumulated []Page as Data; Pages extracts it.
func (a *Accumulator) Subscribe(fn query.Observer) (*query.Subscription, error) {
	return a.client.Subscribe(a.k, a.refetchAll, a.opts, fn)
}

// Pages returns the accumulated pages in order.
func (a *Accumulator) Pages() []Page {
	snap, ok := a.client.Get(a.k)
	if !ok {
		return nil
	}
	return PagesOf(snap)
}

// PagesOf extracts the accumulated pages from an entry snapshot.
func PagesOf(s query.Snapshot) []Page {
	pages, _ := s.Data.([]Page)
	return pages
}

// HasNextPage reports whether a forward page exists: always true before the
// first page loads, afterwards whatever the next-cursor function says.
func (a *Accumulator) HasNextPage() bool {
	pages := a.Pages()
	if len(pages) == 0 {
		return true
	}
	_, ok := a.next(pages[len(pages)-1], pages)
	return ok
}

// HasPreviousPage reports whether a backward page exists. Always false
// without a Prev function or before the first page loads.
func (a *Accumulator) HasPreviousPage() bool {
	if a.prev == nil {
		return false
	}
	pages := a.Pages()
	if len(pages) == 0 {
		return false
	}
	_, ok := a.prev(pages[0], pages)
	return ok
}

// FetchNextPage loads the page after the current last one and appends it.
// The first call loads the initial page through the cache's regular fetch
// path. Reports whether a page was fetched; exhausted pagination is a
// quiet no-op, not an error.
func (a *Accumulator) FetchNextPage(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pages := a.Pages()
	if len(pages) == 0 {
		_, err := a.client.Fetch(ctx, a.k, a.refetchAll, a.opts)
		return err == nil, err
	}

	cursor, ok := a.next(pages[len(pages)-1], pages)
	if !ok {
		return false, nil
	}
	return a.fetchEdge(ctx, observe.OpPageNext, cursor, func(cur []Page, p Page) []Page {
		out := make([]Page, 0, len(cur)+1)
		out = append(out, cur...)
		return append(out, p)
	})
}

// FetchPreviousPage loads the page before the current first one and prepends it.
func (a *Accumulator) FetchPreviousPage(ctx context.Context) (bool, error) {
	if a.prev == nil {
		return false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pages := a.Pages()
	if len(pages) == 0 {
		_, err := a.client.Fetch(ctx, a.k, a.refetchAll, a.opts)
		return err == nil, err
	}

	cursor, ok := a.prev(pages[0], pages)
	if !ok {
		return false, nil
	}
	return a.fetchEdge(ctx, observe.OpPagePrev, cursor, func(cur []Page, p Page) []Page {
		out := make([]Page, 0, len(cur)+1)
		out = append(out, p)
		return append(out, cur...)
	})
}

// Refetch replays every known cursor through the cache's fetch path,
// replacing the accumulated list wholesale.
func (a *Accumulator) Refetch(ctx context.Context) error {
	_, err := a.client.Fetch(ctx, a.k, a.refetchAll, a.opts)
	return err
}

// fetchEdge loads one page at the given cursor and splices it into the
// cached list via SetData. Callers hold a.mu.
func (a *Accumulator) fetchEdge(ctx context.Context, op string, cursor any, splice func([]Page, Page) []Page) (bool, error) {
	run := a.mw.Instrument(observe.QueryMeta{Op: op, KeyDigest: a.digest}, func(ctx context.Context) (any, error) {
		return a.fetch(ctx, a.k, cursor)
	})
	v, err := run(ctx)
	if err != nil {
		return false, err
	}

	page := Page{Cursor: cursor, Value: v}
	err = a.client.SetData(a.k, func(prev any) any {
		cur, _ := prev.([]Page)
		return splice(cur, page)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// refetchAll is the entry's cache-level fetch function: it re-fetches every
// page the list currently holds, in order, or the initial cursor when the
// list is empty. A failed page fails the whole refetch so the cached list
// never mixes generations.
func (a *Accumulator) refetchAll(ctx context.Context, k key.Key) (any, error) {
	var cursors []any
	if snap, ok := a.client.Get(k); ok {
		for _, p := range PagesOf(snap) {
			cursors = append(cursors, p.Cursor)
		}
	}
	if len(cursors) == 0 {
		cursors = []any{a.initial}
	}

	out := make([]Page, 0, len(cursors))
	for _, cur := range cursors {
		v, err := a.fetch(ctx, k, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, Page{Cursor: cur, Value: v})
	}
	return out, nil
}
