package query

import (
	"math"
	"math/rand/v2"
	"time"
)

// Defaults applied by Options normalization.
const (
	// DefaultGCTime is how long an unobserved entry survives before eviction.
	DefaultGCTime = 5 * time.Minute

	// DefaultMaxRetries is the number of retries after a failed fetch attempt.
	DefaultMaxRetries = 3

	// DefaultInitialDelay is the backoff delay before the first retry.
	DefaultInitialDelay = time.Second

	// DefaultMaxDelay caps the backoff delay between retries.
	DefaultMaxDelay = 30 * time.Second

	// DefaultMultiplier is the exponential backoff multiplier.
	DefaultMultiplier = 2.0
)

// Options configures one query entry. The zero value is usable: data is
// immediately stale, unobserved entries are collected after five minutes,
// polling is off, and failures retry three times with exponential backoff.
type Options struct {
	// StaleTime is how long after a successful fetch the data counts as
	// fresh. Zero means immediately stale; negative means never stale.
	StaleTime time.Duration

	// GCTime is how long an entry with zero observers survives before it
	// is evicted. Zero means the default (5 minutes); negative means
	// immediate eviction eligibility.
	GCTime time.Duration

	// RefetchInterval polls the query while it has observers. Zero or
	// negative disables polling.
	RefetchInterval time.Duration

	// RefetchInBackground keeps the poll ticking while the host window is
	// unfocused. Default: only poll while focused.
	RefetchInBackground bool

	// MaxRetries is the number of retries after the initial attempt fails.
	// Zero means the default (3); negative disables retries.
	MaxRetries int

	// RetryIf decides whether an error is retryable.
	// Default: all errors are retryable.
	RetryIf func(err error) bool

	// InitialDelay is the backoff delay before the first retry.
	// Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2.0
	Multiplier float64

	// Jitter adds up to 25% randomness to backoff delays.
	Jitter bool

	// Disabled suppresses automatic fetching on subscribe, invalidate,
	// poll, and environment signals. Explicit fetch calls still work.
	Disabled bool
}

// withDefaults merges client-level defaults into unset fields and then
// applies the package defaults. Boolean options are taken as-is from the
// per-query value.
func (o Options) withDefaults(d Options) Options {
	if o.StaleTime == 0 {
		o.StaleTime = d.StaleTime
	}
	if o.GCTime == 0 {
		o.GCTime = d.GCTime
	}
	if o.GCTime == 0 {
		o.GCTime = DefaultGCTime
	}
	if o.GCTime < 0 {
		o.GCTime = 0
	}
	if o.RefetchInterval == 0 {
		o.RefetchInterval = d.RefetchInterval
	}
	if o.RefetchInterval < 0 {
		o.RefetchInterval = 0
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryIf == nil {
		o.RetryIf = d.RetryIf
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = d.InitialDelay
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = d.Multiplier
	}
	if o.Multiplier <= 0 {
		o.Multiplier = DefaultMultiplier
	}
	return o
}

// retryable reports whether err should trigger a retry.
func (o Options) retryable(err error) bool {
	if o.RetryIf == nil {
		return err != nil
	}
	return o.RetryIf(err)
}

// backoffDelay computes the delay before retry number attempt (1-based):
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay, with optional
// jitter.
func (o Options) backoffDelay(attempt int) time.Duration {
	multiplier := math.Pow(o.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(o.InitialDelay) * multiplier)

	if delay > o.MaxDelay || delay <= 0 {
		delay = o.MaxDelay
	}

	if quarter := delay / 4; o.Jitter && quarter > 0 {
		// Add up to 25% jitter
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(quarter)))
	}

	return delay
}
