package schedule

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Class identifies the kind of a scheduled task. One task per (id, class)
// pair may exist at a time; scheduling again replaces the previous task.
type Class int

const (
	// ClassStale is the one-shot timer that fires when an entry's data
	// crosses its stale time.
	ClassStale Class = iota

	// ClassGC is the one-shot timer that fires when an unobserved entry
	// becomes eligible for eviction.
	ClassGC

	// ClassPoll is the recurring refetch-interval ticker.
	ClassPoll
)

func (c Class) String() string {
	switch c {
	case ClassStale:
		return "stale"
	case ClassGC:
		return "gc"
	case ClassPoll:
		return "poll"
	default:
		return "unknown"
	}
}

type taskKey struct {
	id    string
	class Class
}

// Scheduler manages the engine's timers as explicit keyed tasks.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Task callbacks run on timer goroutines; callers must do their own locking.
// - After Stop, all tasks are cancelled and new tasks are ignored.
type Scheduler struct {
	clk clock.Clock

	mu       sync.Mutex
	oneShots map[taskKey]*clock.Timer
	polls    map[taskKey]*poll
	unsubs   []func()
	focused  bool
	stopped  bool
}

type poll struct {
	ticker *clock.Ticker
	done   chan struct{}
}

// New creates a Scheduler using the given clock.
// A nil clock falls back to the wall clock. The window starts focused.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clk:      clk,
		oneShots: make(map[taskKey]*clock.Timer),
		polls:    make(map[taskKey]*poll),
		focused:  true,
	}
}

// Clock returns the scheduler's clock, shared with the rest of the engine
// for timestamping.
func (s *Scheduler) Clock() clock.Clock {
	return s.clk
}

// Schedule arms a one-shot task. An existing task with the same id and
// class is replaced, not duplicated.
func (s *Scheduler) Schedule(id string, class Class, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	k := taskKey{id: id, class: class}
	if t, ok := s.oneShots[k]; ok {
		t.Stop()
	}

	s.oneShots[k] = s.clk.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.oneShots, k)
		s.mu.Unlock()

		fn()
	})
}

// Cancel stops a pending one-shot task. Reports whether a task was pending.
func (s *Scheduler) Cancel(id string, class Class) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := taskKey{id: id, class: class}
	t, ok := s.oneShots[k]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.oneShots, k)
	return true
}

// Every starts a recurring task with the given interval, replacing any
// existing recurring task for the id.
func (s *Scheduler) Every(id string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || interval <= 0 {
		return
	}

	k := taskKey{id: id, class: ClassPoll}
	if p, ok := s.polls[k]; ok {
		p.stop()
	}

	p := &poll{
		ticker: s.clk.Ticker(interval),
		done:   make(chan struct{}),
	}
	s.polls[k] = p

	go func() {
		for {
			select {
			case <-p.done:
				return
			case <-p.ticker.C:
				fn()
			}
		}
	}()
}

// StopEvery cancels the recurring task for the id, if any.
func (s *Scheduler) StopEvery(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := taskKey{id: id, class: ClassPoll}
	p, ok := s.polls[k]
	if !ok {
		return false
	}
	p.stop()
	delete(s.polls, k)
	return true
}

func (p *poll) stop() {
	p.ticker.Stop()
	close(p.done)
}

// Bind subscribes the callback to an environment signal for the scheduler's
// lifetime. The subscription is released on Stop.
func (s *Scheduler) Bind(sig Signal, fn func()) {
	if sig == nil {
		return
	}

	unsub := sig.Subscribe(fn)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		unsub()
		return
	}
	s.unsubs = append(s.unsubs, unsub)
}

// SetFocused records the host window's focus state. Poll callbacks consult
// this to honor background-refetch configuration.
func (s *Scheduler) SetFocused(focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = focused
}

// Focused reports the last known focus state.
func (s *Scheduler) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// Stop cancels every task and signal subscription. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	for k, t := range s.oneShots {
		t.Stop()
		delete(s.oneShots, k)
	}
	for k, p := range s.polls {
		p.stop()
		delete(s.polls, k)
	}
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// Pending reports whether a one-shot task is currently scheduled.
func (s *Scheduler) Pending(id string, class Class) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.oneShots[taskKey{id: id, class: class}]
	return ok
}
