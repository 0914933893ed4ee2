package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/querysync/key"
	"github.com/jonwraymond/querysync/schedule"
)

// fastRetry keeps backoff waits negligible for wall-clock tests.
var fastRetry = Options{
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
}

func TestFetchRetriesUntilSuccess(t *testing.T) {
	c := newTestClient(t, Config{})
	k := key.New("flaky")

	var calls atomic.Int32
	fetchFn := func(context.Context, key.Key) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	}

	opts := fastRetry
	opts.MaxRetries = 3

	v, err := c.Fetch(context.Background(), k, fetchFn, opts)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if v != "recovered" {
		t.Errorf("Fetch() = %v, want recovered", v)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("fetch ran %d times, want 3", got)
	}

	snap, _ := c.Get(k)
	if snap.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 after success", snap.RetryCount)
	}
	if snap.Status != StatusSuccess {
		t.Errorf("Status = %v, want success", snap.Status)
	}
}

func TestFetchRetriesExhausted(t *testing.T) {
	c := newTestClient(t, Config{})
	k := key.New("down")

	errDown := errors.New("service down")
	var calls atomic.Int32
	fetchFn := func(context.Context, key.Key) (any, error) {
		calls.Add(1)
		return nil, errDown
	}

	opts := fastRetry
	opts.MaxRetries = 2

	_, err := c.Fetch(context.Background(), k, fetchFn, opts)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch() error = %v, want *FetchError", err)
	}
	if !errors.Is(err, errDown) {
		t.Errorf("FetchError should unwrap to the fetch function's error, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("fetch ran %d times, want 3 (initial + 2 retries)", got)
	}

	snap, _ := c.Get(k)
	if snap.Status != StatusError {
		t.Errorf("Status = %v, want error", snap.Status)
	}
	if snap.Err == nil {
		t.Error("Err = nil, want the terminal fetch error")
	}
}

func TestFetchNonRetryableError(t *testing.T) {
	c := newTestClient(t, Config{})
	k := key.New("fatal")

	errFatal := errors.New("not found")
	var calls atomic.Int32
	fetchFn := func(context.Context, key.Key) (any, error) {
		calls.Add(1)
		return nil, errFatal
	}

	opts := fastRetry
	opts.MaxRetries = 5
	opts.RetryIf = func(err error) bool { return !errors.Is(err, errFatal) }

	if _, err := c.Fetch(context.Background(), k, fetchFn, opts); err == nil {
		t.Fatal("Fetch() error = nil, want failure")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch ran %d times, want 1: RetryIf rejected the error", got)
	}
}

func TestFetchFailureKeepsPreviousData(t *testing.T) {
	c := newTestClient(t, Config{})
	k := key.New("todos")

	var failing atomic.Bool
	fetchFn := func(context.Context, key.Key) (any, error) {
		if failing.Load() {
			return nil, errors.New("boom")
		}
		return "good", nil
	}

	opts := Options{StaleTime: -1, MaxRetries: -1}
	if _, err := c.Fetch(context.Background(), k, fetchFn, opts); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	var mu sync.Mutex
	var statuses []Status
	sub, err := c.Subscribe(k, fetchFn, opts, func(s Snapshot) {
		mu.Lock()
		statuses = append(statuses, s.Status)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	failing.Store(true)
	if err := c.TriggerFetch(k); err != nil {
		t.Fatalf("TriggerFetch() error = %v", err)
	}

	eventually(t, func() bool {
		s, ok := c.Get(k)
		return ok && s.Status == StatusError
	}, "failed refetch never settled")

	snap, _ := c.Get(k)
	if snap.Data != "good" {
		t.Errorf("Data = %v, want good: failures must not clear data", snap.Data)
	}
	if !snap.HasData() {
		t.Error("HasData() = false, want true after earlier success")
	}
	if snap.Err == nil {
		t.Error("Err = nil, want the refetch failure")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range statuses {
		if s == StatusPending {
			t.Fatal("observed StatusPending after the entry had resolved")
		}
	}
}

func TestOfflinePausesFetchUntilReconnect(t *testing.T) {
	online := schedule.NewManualOnline()
	online.SetOnline(false)
	c := newTestClient(t, Config{Online: online})
	k := key.New("offline")

	var calls atomic.Int32
	fetchFn := func(context.Context, key.Key) (any, error) {
		calls.Add(1)
		return "back", nil
	}

	var mu sync.Mutex
	var paused bool
	sub, err := c.Subscribe(k, fetchFn, Options{}, func(s Snapshot) {
		mu.Lock()
		if s.FetchStatus == FetchPaused {
			paused = true
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return paused
	}, "fetch never parked while offline")

	if got := calls.Load(); got != 0 {
		t.Fatalf("fetch ran %d times while offline, want 0", got)
	}

	online.SetOnline(true)

	eventually(t, func() bool {
		s, ok := c.Get(k)
		return ok && s.Status == StatusSuccess && s.Data == "back"
	}, "fetch did not resume on reconnect")
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch ran %d times, want 1", got)
	}
}

func TestCancelDiscardsInflightResult(t *testing.T) {
	c := newTestClient(t, Config{})
	k := key.New("slow")

	release := make(chan struct{})
	fetchFn := func(ctx context.Context, k key.Key) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return "late", nil
		}
	}

	var mu sync.Mutex
	var seen []Snapshot
	sub, err := c.Subscribe(k, fetchFn, Options{StaleTime: -1, MaxRetries: -1}, func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	eventually(t, func() bool {
		s, ok := c.Get(k)
		return ok && s.FetchStatus == FetchFetching
	}, "fetch never started")

	if err := c.Cancel(k); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := c.SetData(k, func(any) any { return "manual" }); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}
	close(release)
	time.Sleep(20 * time.Millisecond)

	snap, _ := c.Get(k)
	if snap.Data != "manual" {
		t.Errorf("Data = %v, want manual: cancelled fetch must not settle", snap.Data)
	}
	if snap.Status != StatusSuccess {
		t.Errorf("Status = %v, want success", snap.Status)
	}
	if snap.Err != nil {
		t.Errorf("Err = %v, want nil: cancellation is not an error state", snap.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		if s.Data == "late" {
			t.Fatal("observer saw the discarded fetch result")
		}
		if s.Status == StatusError {
			t.Fatal("observer saw an error from cancellation")
		}
	}
}

func TestFetchWithoutFetchFunc(t *testing.T) {
	c := newTestClient(t, Config{})
	k := key.New("writeonly")

	if err := c.SetData(k, func(any) any { return "x" }); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}
	if _, err := c.Fetch(context.Background(), k, nil, Options{}); !errors.Is(err, ErrNilFetchFunc) {
		t.Errorf("Fetch() error = %v, want ErrNilFetchFunc", err)
	}
}
