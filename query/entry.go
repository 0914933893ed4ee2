package query

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/querysync/key"
)

// Status reports whether a query has ever resolved, independent of current
// fetch activity.
type Status int

const (
	// StatusPending means no fetch has ever settled for the entry.
	StatusPending Status = iota
	// StatusSuccess means the most recent settled fetch succeeded.
	StatusSuccess
	// StatusError means the most recent settled fetch failed.
	StatusError
)

func (s Status) String() string {
	switch s {
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

// FetchStatus reports current fetch activity for an entry.
type FetchStatus int

const (
	// FetchIdle means no fetch is in flight.
	FetchIdle FetchStatus = iota
	// FetchFetching means a fetch is in flight.
	FetchFetching
	// FetchPaused means a fetch is parked waiting for connectivity.
	FetchPaused
)

func (s FetchStatus) String() string {
	switch s {
	case FetchIdle:
		return "idle"
	case FetchFetching:
		return "fetching"
	case FetchPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// FetchFunc fetches the data for a key. The context is cancelled when the
// fetch is cancelled or the client closes; implementations should propagate
// it to the transport so the underlying call can be aborted best-effort.
type FetchFunc func(ctx context.Context, k key.Key) (any, error)

// Observer receives entry snapshots. Observers are invoked synchronously in
// mutation order and must return quickly.
type Observer func(Snapshot)

// Snapshot is an immutable view of one entry, delivered to observers and
// returned by Get. Data and Err reflect the last settled fetch; a failure
// never clears previously successful Data.
type Snapshot struct {
	Key            key.Key
	Data           any
	Err            error
	Status         Status
	FetchStatus    FetchStatus
	DataUpdatedAt  time.Time
	ErrorUpdatedAt time.Time
	RetryCount     int
	Stale          bool
	Observers      int
}

// HasData reports whether the entry has ever resolved successfully.
func (s Snapshot) HasData() bool {
	return !s.DataUpdatedAt.IsZero()
}

// subscriber is one registered observer.
type subscriber struct {
	id string
	fn Observer
}

// notif is one queued observer notification: the snapshot taken when the
// mutation was applied, and the observers registered at that moment.
// Queuing under the client lock and draining FIFO through a single drainer
// keeps delivery in mutation order.
type notif struct {
	targets []Observer
	snap    Snapshot
}

// entry is the cache-side state of one query. All fields are guarded by the
// owning client's mutex except the notification drain flag, which only the
// active drainer toggles.
type entry struct {
	key    key.Key
	hash   string // canonical form, registry identity
	digest string // short digest for telemetry labels
	opts   Options

	fetchFn FetchFunc

	data           any
	err            error
	status         Status
	fetchStatus    FetchStatus
	dataUpdatedAt  time.Time
	errorUpdatedAt time.Time
	retryCount     int
	invalidated    bool

	// generation is bumped by Cancel and eviction; a settlement carrying a
	// stale generation is discarded without touching state.
	generation  uint64
	inFlight    bool
	cancelFetch context.CancelFunc

	observers             []subscriber
	lastObserverRemovedAt time.Time

	pending   []notif
	notifying bool
}

// Subscription is the handle returned by Subscribe. It holds the lookup
// key, not the entry itself: the client exclusively owns entries.
type Subscription struct {
	c    *Client
	hash string
	id   string
	once sync.Once
}

// Unsubscribe removes the observer. When the last observer leaves, the
// entry's garbage-collection timer starts. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.c.unsubscribe(s.hash, s.id)
	})
}

// Snapshot returns the entry's current state. The second return is false if
// the entry has been evicted.
func (s *Subscription) Snapshot() (Snapshot, bool) {
	return s.c.snapshotByHash(s.hash)
}
