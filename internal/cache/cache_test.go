package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestGetOrRefresh_TTLScenario(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	var calls int32
	fail := false
	refresh := func(ctx context.Context) (float64, error) {
		atomic.AddInt32(&calls, 1)
		if fail {
			return 0, errors.New("upstream down")
		}
		return 100, nil
	}

	// t=0: miss, fetch and store.
	e, err := GetOrRefresh(ctx, c, "price:BTC", 30*time.Second, refresh)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if e.Value != 100 || e.Stale {
		t.Fatalf("expected fresh 100, got %+v", e)
	}

	// t=10: hit within TTL, no upstream call.
	clock.Advance(10 * time.Second)
	e, err = GetOrRefresh(ctx, c, "price:BTC", 30*time.Second, refresh)
	if err != nil || e.Value != 100 || e.Stale {
		t.Fatalf("expected cached fresh 100, got %+v err=%v", e, err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 upstream call within TTL, got %d", calls)
	}

	// t=35: expired, refresh fails, previous value served stale.
	clock.Advance(25 * time.Second)
	fail = true
	e, err = GetOrRefresh(ctx, c, "price:BTC", 30*time.Second, refresh)
	if err != nil {
		t.Fatalf("expected stale value instead of error, got %v", err)
	}
	if e.Value != 100 || !e.Stale || e.Err == nil {
		t.Errorf("expected stale 100 with cause, got %+v", e)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected a refresh attempt after expiry, got %d calls", calls)
	}
}

func TestGetOrRefresh_FirstFailureIsError(t *testing.T) {
	c := New(time.Hour)
	_, err := GetOrRefresh(context.Background(), c, "trending", time.Minute, func(ctx context.Context) ([]string, error) {
		return nil, errors.New("boom")
	})
	if !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("failed refresh must not store an entry")
	}
}

func TestGetOrRefresh_SingleFlight(t *testing.T) {
	c := New(time.Hour)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	refresh := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	const callers = 50
	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			e, err := GetOrRefresh(ctx, c, "price:ETH", time.Minute, refresh)
			results[i], errs[i] = e.Value, err
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil || results[i] != 42 {
			t.Errorf("caller %d got %d, %v", i, results[i], errs[i])
		}
	}
}

func TestGetOrRefresh_NoSecondFlightWithinTTL(t *testing.T) {
	c := New(time.Hour)
	ctx := context.Background()
	var calls int32
	refresh := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	}

	for i := 0; i < 10; i++ {
		if _, err := GetOrRefresh(ctx, c, "k", time.Minute, refresh); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
}

func TestGetOrRefresh_CallerTimeoutServesStale(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Hour, WithClock(clock.Now))

	if _, err := GetOrRefresh(context.Background(), c, "news:btc", time.Minute, func(ctx context.Context) (string, error) {
		return "old", nil
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	clock.Advance(2 * time.Minute)

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	e, err := GetOrRefresh(ctx, c, "news:btc", time.Minute, func(ctx context.Context) (string, error) {
		<-release
		return "new", nil
	})
	if err != nil {
		t.Fatalf("expected stale value, got %v", err)
	}
	if e.Value != "old" || !e.Stale {
		t.Errorf("expected stale 'old', got %+v", e)
	}
	if !errors.Is(e.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline cause, got %v", e.Err)
	}
}

func TestGetOrRefresh_DetachedFromCallerCancellation(t *testing.T) {
	c := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, err := GetOrRefresh(ctx, c, "k", time.Minute, func(ctx context.Context) (int, error) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 7, nil
	})
	// The caller gave up before the result arrived or received it; either way
	// the refresh itself must have succeeded and stored the value.
	if err == nil && e.Value != 7 {
		t.Fatalf("unexpected entry %+v", e)
	}
	deadline := time.Now().Add(time.Second)
	for c.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if c.Len() != 1 {
		t.Fatal("expected refresh to complete despite caller cancellation")
	}
}

func TestSweep_EvictsIdleEntries(t *testing.T) {
	clock := newFakeClock()
	c := New(10*time.Minute, WithClock(clock.Now))
	ctx := context.Background()
	val := func(v int) RefreshFunc[int] {
		return func(ctx context.Context) (int, error) { return v, nil }
	}

	_, _ = GetOrRefresh(ctx, c, "a", time.Minute, val(1))
	_, _ = GetOrRefresh(ctx, c, "b", time.Minute, val(2))

	clock.Advance(6 * time.Minute)
	_, _ = GetOrRefresh(ctx, c, "a", time.Hour, val(1)) // keeps "a" read

	clock.Advance(6 * time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("expected only 'a' to remain, got %d entries", c.Len())
	}
}

func TestKey(t *testing.T) {
	if got := Key("trending"); got != "trending" {
		t.Errorf("Key(trending) = %s", got)
	}
	if got := Key("news", "btc", "eth"); got != "news:btc,eth" {
		t.Errorf("Key(news, btc, eth) = %s", got)
	}
}
