package schedule

import "sync"

// Signal is an environment event source: window focus, network reconnect.
// The engine never produces these events; host bindings emit them.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Subscribe returns an unsubscribe func that is idempotent.
// - Callbacks may be invoked from any goroutine and must return quickly.
type Signal interface {
	Subscribe(fn func()) (unsubscribe func())
}

// OnlineMonitor reports host connectivity. Fetch retries park while offline
// instead of consuming attempts.
type OnlineMonitor interface {
	IsOnline() bool
}

// ManualSignal is a Signal driven by explicit Emit calls. Host bindings use
// it to forward focus/reconnect events; tests use it to drive the engine
// deterministically.
type ManualSignal struct {
	mu   sync.Mutex
	subs map[int]func()
	next int
}

// NewManualSignal creates an empty manual signal.
func NewManualSignal() *ManualSignal {
	return &ManualSignal{subs: make(map[int]func())}
}

// Subscribe registers a callback for future Emit calls.
func (s *ManualSignal) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Emit invokes every subscribed callback synchronously, in no particular order.
func (s *ManualSignal) Emit() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ManualOnline is an OnlineMonitor with an explicit switch. It doubles as a
// reconnect Signal: flipping from offline to online emits to subscribers.
type ManualOnline struct {
	mu     sync.Mutex
	online bool
	signal *ManualSignal
}

// NewManualOnline creates a monitor in the online state.
func NewManualOnline() *ManualOnline {
	return &ManualOnline{online: true, signal: NewManualSignal()}
}

// IsOnline reports the current state.
func (m *ManualOnline) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline flips the state. An offline-to-online transition emits the
// reconnect signal.
func (m *ManualOnline) SetOnline(online bool) {
	m.mu.Lock()
	reconnected := online && !m.online
	m.online = online
	m.mu.Unlock()

	if reconnected {
		m.signal.Emit()
	}
}

// Subscribe registers a callback for reconnect transitions.
func (m *ManualOnline) Subscribe(fn func()) func() {
	return m.signal.Subscribe(fn)
}

// alwaysOnline is the default monitor when none is configured.
type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

// AlwaysOnline returns a monitor that always reports connectivity.
func AlwaysOnline() OnlineMonitor {
	return alwaysOnline{}
}

// Ensure implementations satisfy their interfaces
var (
	_ Signal        = (*ManualSignal)(nil)
	_ Signal        = (*ManualOnline)(nil)
	_ OnlineMonitor = (*ManualOnline)(nil)
	_ OnlineMonitor = alwaysOnline{}
)
