package poller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/fetcher"
	"github.com/arrdeck/arrdeck/internal/retry"
)

func quiet() Option { return WithLogger(log.New(io.Discard, "", 0)) }

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartRefreshesImmediatelyAndPeriodically(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p := New("stats", SourceFunc(func(context.Context) (fetcher.Result, error) {
		calls.Add(1)
		return fetcher.Result{Value: json.RawMessage(`{"ok":true}`), FetchedAt: time.Now()}, nil
	}), quiet())

	p.Start(5*time.Millisecond, nil)
	defer p.Stop()

	eventually(t, func() bool { return calls.Load() >= 3 })
	if snap := p.Latest(); snap.Stale || len(snap.Value) == 0 {
		t.Fatalf("snapshot %+v", snap)
	}
}

func TestInactiveTicksSkipNetwork(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var active atomic.Bool
	var checks atomic.Int32
	p := New("sonarr", SourceFunc(func(context.Context) (fetcher.Result, error) {
		calls.Add(1)
		return fetcher.Result{Value: json.RawMessage(`{}`)}, nil
	}), quiet())

	p.Start(2*time.Millisecond, func() bool {
		checks.Add(1)
		return active.Load()
	})
	defer p.Stop()

	eventually(t, func() bool { return checks.Load() >= 5 })
	if calls.Load() != 0 {
		t.Fatalf("inactive poller fetched %d times", calls.Load())
	}
	active.Store(true)
	eventually(t, func() bool { return calls.Load() >= 1 })
}

func TestStopIsSynchronousAndDiscardsLateResults(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{}, 1)
	var returned atomic.Bool
	p := New("radarr", SourceFunc(func(ctx context.Context) (fetcher.Result, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		returned.Store(true)
		return fetcher.Result{Value: json.RawMessage(`{"late":true}`)}, nil
	}), quiet())

	p.Start(time.Hour, nil)
	<-entered
	p.Stop()

	if !returned.Load() {
		t.Fatal("Stop returned before the in-flight tick finished")
	}
	if p.Running() {
		t.Fatal("still running")
	}
	if snap := p.Latest(); len(snap.Value) != 0 {
		t.Fatalf("late result applied: %s", snap.Value)
	}
}

func TestOneTickInFlight(t *testing.T) {
	t.Parallel()
	var inFlight, maxInFlight atomic.Int32
	release := make(chan struct{})
	p := New("lidarr", SourceFunc(func(context.Context) (fetcher.Result, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return fetcher.Result{Value: json.RawMessage(`{}`)}, nil
	}), quiet())

	p.Start(time.Millisecond, nil)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Refresh(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	p.Stop()

	if maxInFlight.Load() != 1 {
		t.Fatalf("max in flight = %d, want 1", maxInFlight.Load())
	}
}

func TestFailureKeepsLastGoodValue(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	defer bus.Shutdown()
	notes := eventbus.SubscribeTo(bus, eventbus.Notifications.Notify)
	defer notes.Close()

	fail := errors.New("unreachable")
	var failing atomic.Bool
	p := New("stats", SourceFunc(func(context.Context) (fetcher.Result, error) {
		if failing.Load() {
			return fetcher.Result{}, fail
		}
		return fetcher.Result{Value: json.RawMessage(`{"ok":1}`)}, nil
	}), WithBus(bus), quiet())

	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	failing.Store(true)
	for i := 0; i < 2; i++ {
		snap, err := p.Refresh(context.Background())
		if !errors.Is(err, fail) {
			t.Fatalf("Refresh error = %v", err)
		}
		if !snap.Stale || string(snap.Value) != `{"ok":1}` {
			t.Fatalf("snapshot %+v", snap)
		}
	}

	select {
	case env := <-notes.C():
		if env.Payload.Level != eventbus.LevelWarning {
			t.Fatalf("notification %+v", env.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification for the stale transition")
	}
	select {
	case env := <-notes.C():
		t.Fatalf("second failure notified again: %+v", env.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStaleCacheFallback(t *testing.T) {
	t.Parallel()
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"sonarr":{"connected":true}}`))
	}))
	defer srv.Close()

	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := fetcher.New(fetcher.NewHTTPClient(srv.URL, "", time.Second, nil),
		fetcher.WithClock(clock),
		fetcher.WithPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		fetcher.WithLogger(log.New(io.Discard, "", 0)))
	p := New("sonarr", NewFetcherSource(f, CacheKey("sonarr"), StatusPath("sonarr"), 30*time.Second), quiet())

	first, err := p.Refresh(context.Background())
	if err != nil || first.Stale {
		t.Fatalf("first refresh %+v, %v", first, err)
	}

	failing.Store(true)
	mu.Lock()
	now = now.Add(40 * time.Second)
	mu.Unlock()

	snap, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("stale fallback should not error: %v", err)
	}
	if !snap.Stale || snap.Err == nil {
		t.Fatalf("snapshot not flagged stale: %+v", snap)
	}
	if snap.Summary().Health("sonarr") != HealthConnected {
		t.Fatal("cached value not served")
	}
}
