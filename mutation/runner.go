package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/jonwraymond/querysync/observe"
)

// Sentinel errors for mutation operations.
var (
	// ErrNilFunc indicates no mutation function was configured.
	ErrNilFunc = errors.New("mutation: function is nil")

	// ErrMutationPending is returned by Reset while a mutation is running.
	ErrMutationPending = errors.New("mutation: a mutation is still pending")
)

// Error wraps a mutation failure with the variables that caused it.
type Error struct {
	Variables any
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mutation: call failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status reports one mutation call's lifecycle position.
type Status int

const (
	// StatusIdle means no mutation has run since creation or Reset.
	StatusIdle Status = iota
	// StatusPending means a mutation call is in flight.
	StatusPending
	// StatusSuccess means the most recent call succeeded.
	StatusSuccess
	// StatusError means the most recent call failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Func performs the server write. Variables are opaque to the runner.
type Func func(ctx context.Context, variables any) (any, error)

// Hooks are the mutation lifecycle callbacks. All are optional.
//
// Contract:
// - OnMutate runs before the mutation function; its returned value is the
//   mutation context handed to every later hook. An OnMutate error skips
//   the mutation function but still fires OnError and OnSettled, so
//   optimistic updates applied inside OnMutate can be rolled back.
// - OnSettled fires exactly once per call, after OnSuccess or OnError.
// - Hooks run synchronously on the mutating goroutine.
type Hooks struct {
	OnMutate  func(ctx context.Context, variables any) (mutationCtx any, err error)
	OnSuccess func(ctx context.Context, data, variables, mutationCtx any)
	OnError   func(ctx context.Context, err error, variables, mutationCtx any)
	OnSettled func(ctx context.Context, data any, err error, variables, mutationCtx any)
}

// Entry is the observable state of one mutation call.
type Entry struct {
	ID        string
	Status    Status
	Variables any
	Context   any
	Data      any
	Err       error
	StartedAt time.Time
	SettledAt time.Time
}

// Config configures a Runner. Fn is required.
type Config struct {
	// Fn performs the server write.
	Fn Func

	// Hooks are the lifecycle callbacks.
	Hooks Hooks

	// Observer supplies telemetry for mutation calls. Default: noop.
	Observer observe.Observer

	// Clock is the time source for entry timestamps. Default: wall clock.
	Clock clock.Clock

	// OnChange receives every entry state transition: pending, then
	// success or error. Optional.
	OnChange func(Entry)
}

// Runner executes mutations for one mutation function. Calls do not retry
// implicitly and concurrent calls are allowed; Last tracks the most recent.
//
// Contract:
// - Concurrency: safe for concurrent use. Hooks run unlocked.
type Runner struct {
	fn       Func
	hooks    Hooks
	clk      clock.Clock
	mw       *observe.Middleware
	onChange func(Entry)

	mu     sync.Mutex
	last   Entry
	active int
}

// New creates a Runner from the given configuration.
func New(cfg Config) (*Runner, error) {
	if cfg.Fn == nil {
		return nil, ErrNilFunc
	}
	if cfg.Observer == nil {
		cfg.Observer = observe.Noop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	mw, err := observe.MiddlewareFromObserver(cfg.Observer)
	if err != nil {
		return nil, err
	}

	return &Runner{
		fn:       cfg.Fn,
		hooks:    cfg.Hooks,
		clk:      cfg.Clock,
		mw:       mw,
		onChange: cfg.OnChange,
	}, nil
}

// Mutate runs one mutation call to completion and returns its settled entry.
// The returned error is an *Error wrapping the mutation function's (or
// OnMutate's) failure; hook panics are not recovered.
func (r *Runner) Mutate(ctx context.Context, variables any) (Entry, error) {
	e := Entry{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Variables: variables,
		StartedAt: r.clk.Now(),
	}
	r.begin(e)

	var mctx any
	var data any
	var err error

	if r.hooks.OnMutate != nil {
		mctx, err = r.hooks.OnMutate(ctx, variables)
	}
	e.Context = mctx

	if err == nil {
		run := r.mw.Instrument(observe.QueryMeta{Op: observe.OpMutation}, func(ctx context.Context) (any, error) {
			return r.fn(ctx, variables)
		})
		data, err = run(ctx)
	}

	if err == nil {
		e.Status = StatusSuccess
		e.Data = data
		if r.hooks.OnSuccess != nil {
			r.hooks.OnSuccess(ctx, data, variables, mctx)
		}
	} else {
		err = &Error{Variables: variables, Err: err}
		e.Status = StatusError
		e.Err = err
		if r.hooks.OnError != nil {
			r.hooks.OnError(ctx, err, variables, mctx)
		}
	}
	if r.hooks.OnSettled != nil {
		r.hooks.OnSettled(ctx, data, err, variables, mctx)
	}

	e.SettledAt = r.clk.Now()
	r.settle(e)
	return e, err
}

// Last returns the most recent entry. Zero-valued (StatusIdle) before the
// first call and after Reset.
func (r *Runner) Last() Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Active returns the number of in-flight mutation calls.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Reset clears the runner back to idle. Fails while a call is in flight.
func (r *Runner) Reset() error {
	r.mu.Lock()
	if r.active > 0 {
		r.mu.Unlock()
		return ErrMutationPending
	}
	r.last = Entry{}
	r.mu.Unlock()

	r.notify(Entry{})
	return nil
}

func (r *Runner) begin(e Entry) {
	r.mu.Lock()
	r.active++
	r.last = e
	r.mu.Unlock()

	r.notify(e)
}

func (r *Runner) settle(e Entry) {
	r.mu.Lock()
	r.active--
	if r.last.ID == e.ID {
		r.last = e
	}
	r.mu.Unlock()

	r.notify(e)
}

func (r *Runner) notify(e Entry) {
	if r.onChange != nil {
		r.onChange(e)
	}
}
