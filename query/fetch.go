package query

import (
	"context"
	"errors"

	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/schedule"
)

// fetchEntry runs (or joins) the deduplicated fetch for an entry and waits
// for it to settle. The caller's context bounds only the wait: abandoning it
// leaves the fetch running for other waiters and observers.
func (c *Client) fetchEntry(ctx context.Context, e *entry) (any, error) {
	ch := c.group.DoChan(e.hash, func() (any, error) {
		return c.executeFetch(e)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.RecordDedup(ctx, observe.QueryMeta{Op: observe.OpFetch, KeyDigest: e.digest})
		}
		return res.Val, res.Err
	}
}

// executeFetch is the single-flight body: it transitions the entry to
// fetching, runs the instrumented attempt loop, and settles the result.
// Generation is captured up front so that a cancellation or eviction racing
// the fetch discards the settlement instead of applying it.
func (c *Client) executeFetch(e *entry) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if e.fetchFn == nil {
		c.mu.Unlock()
		return nil, ErrNilFetchFunc
	}

	gen := e.generation
	fetchCtx, cancel := context.WithCancel(context.Background())
	e.cancelFetch = cancel
	e.inFlight = true
	e.retryCount = 0
	e.fetchStatus = FetchFetching
	fetchFn := e.fetchFn
	opts := e.opts
	meta := observe.QueryMeta{Op: observe.OpFetch, KeyDigest: e.digest}
	c.enqueueAllLocked(e)
	c.mu.Unlock()
	c.flush(e)
	defer cancel()

	run := c.mw.Instrument(meta, func(ctx context.Context) (any, error) {
		return c.runAttempts(ctx, e, fetchFn, opts, meta)
	})
	v, err := run(fetchCtx)

	c.settle(e, gen, v, err)
	return v, err
}

// runAttempts drives the retry loop: park while offline, attempt, back off,
// repeat. Failures while offline do not consume retry attempts.
func (c *Client) runAttempts(ctx context.Context, e *entry, fetchFn FetchFunc, opts Options, meta observe.QueryMeta) (any, error) {
	attempt := 0
	for {
		if err := c.awaitOnline(ctx, e); err != nil {
			return nil, err
		}

		v, err := fetchFn(ctx, e.key)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		if !c.online.IsOnline() {
			// The failure is attributed to lost connectivity; the next
			// iteration parks until it returns.
			continue
		}

		attempt++
		if attempt > opts.MaxRetries || !opts.retryable(err) {
			return nil, &FetchError{Key: e.key, Err: err}
		}

		c.noteRetry(e, attempt, meta)
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case <-c.clk.After(opts.backoffDelay(attempt)):
		}
	}
}

// awaitOnline parks the fetch while the host is offline. The resume channel
// is closed and replaced on each reconnect signal, waking every parked
// fetch at once.
func (c *Client) awaitOnline(ctx context.Context, e *entry) error {
	for !c.online.IsOnline() {
		c.setFetchStatus(e, FetchPaused)

		c.mu.Lock()
		resume := c.resume
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-resume:
		}
	}
	c.setFetchStatus(e, FetchFetching)
	return nil
}

// setFetchStatus updates fetch activity mid-flight. No-op once the fetch
// has been cancelled out from under the loop.
func (c *Client) setFetchStatus(e *entry, fs FetchStatus) {
	c.mu.Lock()
	if c.closed || !e.inFlight || e.fetchStatus == fs {
		c.mu.Unlock()
		return
	}
	e.fetchStatus = fs
	c.enqueueAllLocked(e)
	c.mu.Unlock()
	c.flush(e)
}

// noteRetry records a consumed retry attempt on the entry and in metrics.
func (c *Client) noteRetry(e *entry, attempt int, meta observe.QueryMeta) {
	c.mu.Lock()
	if c.closed || !e.inFlight {
		c.mu.Unlock()
		return
	}
	e.retryCount = attempt
	c.enqueueAllLocked(e)
	c.mu.Unlock()
	c.flush(e)

	c.metrics.RecordRetry(context.Background(), meta)
}

// settle applies the fetch outcome to the entry. A stale generation means
// the fetch was cancelled or the entry evicted while it ran: the outcome is
// discarded. Success replaces data and clears any previous error; failure
// records the error and leaves previous data intact. Status moves forward
// only, never back to pending.
func (c *Client) settle(e *entry, gen uint64, v any, err error) {
	c.mu.Lock()
	if c.closed || e.generation != gen {
		c.mu.Unlock()
		return
	}

	e.inFlight = false
	e.cancelFetch = nil
	e.fetchStatus = FetchIdle
	now := c.clk.Now()

	switch {
	case err == nil:
		e.data = v
		e.err = nil
		e.dataUpdatedAt = now
		e.status = StatusSuccess
		e.retryCount = 0
		e.invalidated = false
		if e.opts.StaleTime > 0 {
			hash := e.hash
			c.sched.Schedule(hash, schedule.ClassStale, e.opts.StaleTime, func() { c.markStale(hash) })
		}
	case errors.Is(err, ErrCancelled):
		// Quiet discard; cancellation is not an error state.
	default:
		e.err = err
		e.errorUpdatedAt = now
		e.status = StatusError
	}

	c.enqueueAllLocked(e)
	c.mu.Unlock()
	c.flush(e)
}

// markStale fires when an entry's stale timer elapses. Staleness itself is
// computed lazily from timestamps; the notification lets observers render
// the fresh-to-stale transition without polling.
func (c *Client) markStale(hash string) {
	c.mu.Lock()
	e := c.entries[hash]
	if e == nil {
		c.mu.Unlock()
		return
	}
	c.enqueueAllLocked(e)
	c.mu.Unlock()
	c.flush(e)
}
