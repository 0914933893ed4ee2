package query

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/querysync/key"
	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/schedule"
)

// Config configures a Client. Every field is optional: the zero value gives
// a wall-clock client with the default codec, no telemetry, and an
// always-online connectivity assumption.
type Config struct {
	// Codec canonicalizes query keys. Default: key.NewDefaultCodec().
	Codec key.Codec

	// Clock is the time source for timestamps and timers. Inject a mock
	// clock for deterministic tests. Default: wall clock.
	Clock clock.Clock

	// Online reports host connectivity; fetch retries park while offline.
	// Default: always online.
	Online schedule.OnlineMonitor

	// Focus is the window-focus signal. On focus, stale observed entries
	// refetch.
	Focus schedule.Signal

	// Reconnect is the network-reconnect signal. On reconnect, paused
	// fetches resume and stale observed entries refetch. If nil and
	// Online also implements schedule.Signal, it is used.
	Reconnect schedule.Signal

	// Observer supplies logging, metrics, and tracing. Default: noop.
	Observer observe.Observer

	// Defaults are merged into every entry's Options.
	Defaults Options
}

// Client is the query cache: a registry of entries by canonical key that
// owns fetch deduplication, staleness, and garbage collection.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Ownership: the client exclusively owns entries; callers hold keys.
// - Observers are notified synchronously, in mutation order, per entry.
type Client struct {
	codec    key.Codec
	clk      clock.Clock
	sched    *schedule.Scheduler
	online   schedule.OnlineMonitor
	mw       *observe.Middleware
	metrics  observe.Metrics
	logger   observe.Logger
	defaults Options

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	resume  chan struct{}
	closed  bool
}

// New creates a Client from the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Codec == nil {
		cfg.Codec = key.NewDefaultCodec()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Online == nil {
		cfg.Online = schedule.AlwaysOnline()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = observe.Noop()
	}

	metrics, err := observe.NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	c := &Client{
		codec:    cfg.Codec,
		clk:      cfg.Clock,
		sched:    schedule.New(cfg.Clock),
		online:   cfg.Online,
		mw:       observe.NewMiddleware(observe.NewTracer(obs.Tracer()), metrics, obs.Logger()),
		metrics:  metrics,
		logger:   obs.Logger(),
		defaults: cfg.Defaults,
		entries:  make(map[string]*entry),
		resume:   make(chan struct{}),
	}

	if cfg.Reconnect == nil {
		if sig, ok := cfg.Online.(schedule.Signal); ok {
			cfg.Reconnect = sig
		}
	}
	if cfg.Focus != nil {
		c.sched.Bind(cfg.Focus, c.onFocus)
	}
	if cfg.Reconnect != nil {
		c.sched.Bind(cfg.Reconnect, c.onReconnect)
	}

	return c, nil
}

// Canonicalize returns the canonical registry identity for a key.
func (c *Client) Canonicalize(k key.Key) (string, error) {
	return c.codec.Canonicalize(k)
}

// Ensure looks up or creates the entry for a key without fetching or
// subscribing. New entries start pending and idle, and are garbage
// collected after their GC time unless an observer arrives.
//
// An entry's Options are fixed by whichever call creates it; opts passed
// for an existing entry are ignored, except that a missing fetch function
// is filled in. This holds for Subscribe and Fetch as well.
func (c *Client) Ensure(k key.Key, fetchFn FetchFunc, opts Options) (Snapshot, error) {
	e, err := c.ensure(k, fetchFn, opts)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(e), nil
}

// Subscribe registers an observer for a key, creating the entry if needed.
// The observer immediately receives the current snapshot, and a fetch is
// triggered when the entry's data is absent or stale (unless disabled).
// Subscribing cancels any pending garbage collection for the entry. For an
// entry that already exists, opts is ignored; see Ensure.
func (c *Client) Subscribe(k key.Key, fetchFn FetchFunc, opts Options, fn Observer) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilObserver
	}

	e, err := c.ensure(k, fetchFn, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}

	sub := subscriber{id: uuid.NewString(), fn: fn}
	e.observers = append(e.observers, sub)
	first := len(e.observers) == 1
	c.sched.Cancel(e.hash, schedule.ClassGC)

	needFetch := !e.opts.Disabled && e.fetchFn != nil && c.isStaleLocked(e)
	c.enqueueLocked(e, []Observer{fn})
	if first && e.opts.RefetchInterval > 0 {
		c.startPollLocked(e)
	}
	c.mu.Unlock()
	c.flush(e)

	if needFetch {
		go func() { _, _ = c.fetchEntry(context.Background(), e) }()
	}

	return &Subscription{c: c, hash: e.hash, id: sub.id}, nil
}

// TriggerFetch starts a fetch for an existing entry, or attaches to the one
// already in flight. Fire-and-forget; the result arrives via observers.
func (c *Client) TriggerFetch(k key.Key) error {
	hash, err := c.codec.Canonicalize(k)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	e := c.entries[hash]
	c.mu.Unlock()

	if e == nil {
		return ErrUnknownKey
	}

	go func() { _, _ = c.fetchEntry(context.Background(), e) }()
	return nil
}

// Fetch ensures the entry and blocks until the deduplicated fetch settles,
// returning its result. Concurrent Fetch calls for the same key share one
// fetch-function invocation. The context only bounds the wait; the fetch
// itself continues for the benefit of other waiters and observers.
func (c *Client) Fetch(ctx context.Context, k key.Key, fetchFn FetchFunc, opts Options) (any, error) {
	e, err := c.ensure(k, fetchFn, opts)
	if err != nil {
		return nil, err
	}
	return c.fetchEntry(ctx, e)
}

// Cancel discards the in-flight fetch for a key, if any. The fetch context
// is cancelled so the transport can abort the call best-effort; whether or
// not it does, the eventual settlement is never applied and observers are
// not notified of it. Cancellation never surfaces as an error state.
func (c *Client) Cancel(k key.Key) error {
	hash, err := c.codec.Canonicalize(k)
	if err != nil {
		return err
	}

	c.mu.Lock()
	e := c.entries[hash]
	if e == nil || !e.inFlight {
		c.mu.Unlock()
		return nil
	}

	e.generation++
	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	e.inFlight = false
	e.fetchStatus = FetchIdle
	e.retryCount = 0
	c.group.Forget(hash)
	c.enqueueAllLocked(e)
	c.mu.Unlock()
	c.flush(e)
	return nil
}

// SetData synchronously replaces an entry's data through a pure function of
// the previous data, without fetching. The entry is created if absent. Used
// for optimistic updates and mutation-driven writes.
func (c *Client) SetData(k key.Key, update func(prev any) any) error {
	if update == nil {
		return ErrNilUpdater
	}

	hash, err := c.codec.Canonicalize(k)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}

	e := c.entries[hash]
	if e == nil {
		e = c.newEntry(k, hash, nil, Options{})
		c.entries[hash] = e
		c.armGCLocked(e)
	}

	e.data = update(e.data)
	e.dataUpdatedAt = c.clk.Now()
	e.status = StatusSuccess
	e.err = nil
	e.invalidated = false
	c.enqueueAllLocked(e)
	c.mu.Unlock()
	c.flush(e)
	return nil
}

// Invalidate marks the entry stale. Entries with observers refetch
// immediately; unobserved entries stay marked until the next subscription.
func (c *Client) Invalidate(k key.Key) error {
	hash, err := c.codec.Canonicalize(k)
	if err != nil {
		return err
	}

	c.mu.Lock()
	e := c.entries[hash]
	if e == nil {
		c.mu.Unlock()
		return nil
	}
	refetch := c.invalidateLocked(e)
	c.mu.Unlock()
	c.flush(e)

	if refetch {
		go func() { _, _ = c.fetchEntry(context.Background(), e) }()
	}
	return nil
}

// InvalidateWhere marks every entry whose key matches the predicate stale,
// refetching those that have observers.
func (c *Client) InvalidateWhere(pred func(k key.Key) bool) {
	if pred == nil {
		return
	}

	c.mu.Lock()
	var marked, refetches []*entry
	for _, e := range c.entries {
		if pred(e.key) {
			if c.invalidateLocked(e) {
				refetches = append(refetches, e)
			}
			marked = append(marked, e)
		}
	}
	c.mu.Unlock()

	for _, e := range marked {
		c.flush(e)
	}
	for _, e := range refetches {
		go func(e *entry) { _, _ = c.fetchEntry(context.Background(), e) }(e)
	}
}

// RefetchStale refetches every observed, stale, enabled entry. Focus and
// reconnect signals funnel here.
func (c *Client) RefetchStale() {
	c.mu.Lock()
	var targets []*entry
	for _, e := range c.entries {
		if len(e.observers) > 0 && !e.opts.Disabled && e.fetchFn != nil && c.isStaleLocked(e) {
			targets = append(targets, e)
		}
	}
	c.mu.Unlock()

	for _, e := range targets {
		go func(e *entry) { _, _ = c.fetchEntry(context.Background(), e) }(e)
	}
}

// Get returns the current snapshot for a key without side effects.
func (c *Client) Get(k key.Key) (Snapshot, bool) {
	hash, err := c.codec.Canonicalize(k)
	if err != nil {
		return Snapshot{}, false
	}
	return c.snapshotByHash(hash)
}

// Size returns the number of entries in the registry.
func (c *Client) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetFocused records the host window's focus state, consulted by polls that
// are configured to run only while focused.
func (c *Client) SetFocused(focused bool) {
	c.sched.SetFocused(focused)
}

// Close cancels all in-flight fetches and timers and drops the registry.
// Idempotent. Operations after Close return ErrClientClosed.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for hash, e := range c.entries {
		e.generation++
		if e.cancelFetch != nil {
			e.cancelFetch()
			e.cancelFetch = nil
		}
		delete(c.entries, hash)
	}
	c.mu.Unlock()

	c.sched.Stop()
}

// onFocus handles the window-focus signal.
func (c *Client) onFocus() {
	c.sched.SetFocused(true)
	c.RefetchStale()
}

// onReconnect handles the network-reconnect signal: paused fetches resume,
// then stale observed entries refetch.
func (c *Client) onReconnect() {
	c.mu.Lock()
	close(c.resume)
	c.resume = make(chan struct{})
	c.mu.Unlock()

	c.RefetchStale()
}

// ensure looks up or creates the entry for a key.
func (c *Client) ensure(k key.Key, fetchFn FetchFunc, opts Options) (*entry, error) {
	hash, err := c.codec.Canonicalize(k)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}

	e, ok := c.entries[hash]
	if !ok {
		e = c.newEntry(k, hash, fetchFn, opts)
		c.entries[hash] = e
		c.armGCLocked(e)
		c.logger.Debug(context.Background(), "entry created",
			observe.Field{Key: "query.key", Value: e.digest})
	} else if e.fetchFn == nil && fetchFn != nil {
		// Entries created by SetData gain a fetch function on first use.
		e.fetchFn = fetchFn
	}
	return e, nil
}

// armGCLocked schedules eviction for an entry while it has no observers.
// Every entry starts unobserved, so creation arms the timer; the first
// Subscribe cancels it and the last Unsubscribe re-arms it.
func (c *Client) armGCLocked(e *entry) {
	hash := e.hash
	c.sched.Schedule(hash, schedule.ClassGC, e.opts.GCTime, func() { c.collect(hash) })
}

func (c *Client) newEntry(k key.Key, hash string, fetchFn FetchFunc, opts Options) *entry {
	return &entry{
		key:         k,
		hash:        hash,
		digest:      key.Digest(hash),
		opts:        opts.withDefaults(c.defaults),
		fetchFn:     fetchFn,
		status:      StatusPending,
		fetchStatus: FetchIdle,
	}
}

// unsubscribe removes one observer; the last observer leaving arms the GC
// timer and stops the poll.
func (c *Client) unsubscribe(hash, id string) {
	c.mu.Lock()
	e := c.entries[hash]
	if e == nil {
		c.mu.Unlock()
		return
	}

	for i, s := range e.observers {
		if s.id == id {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			break
		}
	}

	if len(e.observers) == 0 {
		e.lastObserverRemovedAt = c.clk.Now()
		c.sched.StopEvery(hash)
		c.armGCLocked(e)
	}
	c.mu.Unlock()
}

// collect evicts an entry once its GC timer fires. The observer count is
// re-checked at fire time: a subscription racing the timer wins.
func (c *Client) collect(hash string) {
	c.mu.Lock()
	e := c.entries[hash]
	if e == nil || len(e.observers) > 0 {
		c.mu.Unlock()
		return
	}

	e.generation++
	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	delete(c.entries, hash)
	c.sched.Cancel(hash, schedule.ClassStale)
	c.group.Forget(hash)
	digest := e.digest
	c.mu.Unlock()

	c.metrics.RecordEviction(context.Background())
	c.logger.Debug(context.Background(), "entry evicted",
		observe.Field{Key: "query.key", Value: digest})
}

// startPollLocked arms the recurring refetch for an observed entry.
func (c *Client) startPollLocked(e *entry) {
	background := e.opts.RefetchInBackground
	c.sched.Every(e.hash, e.opts.RefetchInterval, func() {
		if !background && !c.sched.Focused() {
			return
		}
		_, _ = c.fetchEntry(context.Background(), e)
	})
}

func (c *Client) invalidateLocked(e *entry) bool {
	e.invalidated = true
	c.enqueueAllLocked(e)
	return len(e.observers) > 0 && !e.opts.Disabled && e.fetchFn != nil
}

// isStaleLocked: stale iff marked, never successfully fetched, or past the
// stale time. Negative StaleTime means never stale.
func (c *Client) isStaleLocked(e *entry) bool {
	if e.invalidated || e.dataUpdatedAt.IsZero() {
		return true
	}
	if e.opts.StaleTime < 0 {
		return false
	}
	return c.clk.Since(e.dataUpdatedAt) >= e.opts.StaleTime
}

func (c *Client) snapshotLocked(e *entry) Snapshot {
	return Snapshot{
		Key:            e.key,
		Data:           e.data,
		Err:            e.err,
		Status:         e.status,
		FetchStatus:    e.fetchStatus,
		DataUpdatedAt:  e.dataUpdatedAt,
		ErrorUpdatedAt: e.errorUpdatedAt,
		RetryCount:     e.retryCount,
		Stale:          c.isStaleLocked(e),
		Observers:      len(e.observers),
	}
}

func (c *Client) snapshotByHash(hash string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[hash]
	if e == nil {
		return Snapshot{}, false
	}
	return c.snapshotLocked(e), true
}

// enqueueLocked appends one notification for the given targets, snapshotting
// the entry at the moment the mutation was applied.
func (c *Client) enqueueLocked(e *entry, targets []Observer) {
	if len(targets) == 0 {
		return
	}
	e.pending = append(e.pending, notif{targets: targets, snap: c.snapshotLocked(e)})
}

// enqueueAllLocked notifies every current observer of the entry.
func (c *Client) enqueueAllLocked(e *entry) {
	if len(e.observers) == 0 {
		return
	}
	targets := make([]Observer, len(e.observers))
	for i, s := range e.observers {
		targets[i] = s.fn
	}
	c.enqueueLocked(e, targets)
}

// flush drains the entry's notification queue. A single drainer at a time
// delivers FIFO, so observers see mutations in the order they were applied
// even when several goroutines mutate concurrently. Observers may call back
// into the client: re-entrant flushes return immediately and the active
// drainer picks up the new notifications.
func (c *Client) flush(e *entry) {
	for {
		c.mu.Lock()
		if e.notifying || len(e.pending) == 0 {
			c.mu.Unlock()
			return
		}
		e.notifying = true
		n := e.pending[0]
		e.pending = e.pending[1:]
		c.mu.Unlock()

		for _, fn := range n.targets {
			fn(n.snap)
		}

		c.mu.Lock()
		e.notifying = false
		c.mu.Unlock()
	}
}
