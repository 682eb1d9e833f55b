// Package fetcher is the network layer shared by sessions, validators and
// pollers: TTL-cached reads with retry and stale fallback, and un-retried
// writes.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/retry"
)

// Default probe budget: four connection tests at once, then one every 250ms.
const (
	defaultProbeEvery = 250 * time.Millisecond
	defaultProbeBurst = 4
)

// Result is the outcome of a Read.
type Result struct {
	Value     json.RawMessage
	FetchedAt time.Time

	// FromCache is set when no network round-trip produced Value.
	FromCache bool

	// Stale is set when Value is a cached fallback after a failed refresh;
	// Err then carries the refresh failure.
	Stale bool
	Err   error
}

// Decode unmarshals the result value into out.
func (r Result) Decode(out any) error {
	if len(r.Value) == 0 {
		return fmt.Errorf("%w: empty value", ErrMalformedResponse)
	}
	if err := json.Unmarshal(r.Value, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Stats is a snapshot of fetcher counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	StaleServes uint64
	Retries     uint64
	Failures    uint64
	Writes      uint64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithPolicy overrides the read retry policy.
func WithPolicy(policy retry.Policy) Option {
	return func(f *Fetcher) {
		f.policy = policy
	}
}

// WithReadBudget bounds a shared read, retries included.
func WithReadBudget(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.readBudget = d
		}
	}
}

// WithCache shares a cache between fetchers.
func WithCache(cache *Cache) Option {
	return func(f *Fetcher) {
		if cache != nil {
			f.cache = cache
		}
	}
}

// WithProbeRate limits Probe calls.
func WithProbeRate(every time.Duration, burst int) Option {
	return func(f *Fetcher) {
		f.probes = rate.NewLimiter(rate.Every(every), burst)
	}
}

// WithRetryObserver reports every failed read attempt.
func WithRetryObserver(fn func(key string, state retry.State)) Option {
	return func(f *Fetcher) {
		f.onRetry = fn
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher coordinates cache, retry and transport.
type Fetcher struct {
	doer    Doer
	cache   *Cache
	policy  retry.Policy
	now     func() time.Time
	probes  *rate.Limiter
	onRetry func(string, retry.State)
	logger  *log.Logger
	group   singleflight.Group

	readBudget time.Duration

	hits, misses, staleServes, retries, failures, writes atomic.Uint64
}

// New creates a fetcher over doer.
func New(doer Doer, opts ...Option) *Fetcher {
	f := &Fetcher{
		doer:   doer,
		policy: retry.DefaultPolicy(),
		now:    time.Now,
		probes: rate.NewLimiter(rate.Every(defaultProbeEvery), defaultProbeBurst),
		logger: log.Default(),

		readBudget: constants.BackendReadBudget,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.cache == nil {
		f.cache = NewCache(nil, f.logger)
	}
	return f
}

// Cache exposes the underlying cache.
func (f *Fetcher) Cache() *Cache {
	return f.cache
}

// Now returns the fetcher clock's current time.
func (f *Fetcher) Now() time.Time {
	return f.now()
}

// Read returns the value for key, fetching path when the cached entry is
// missing or older than ttl. Concurrent reads of one key share a request.
// When the refresh fails but an entry exists, the entry is returned flagged
// Stale with a nil error.
func (f *Fetcher) Read(ctx context.Context, key, path string, ttl time.Duration) (Result, error) {
	cached, haveCached := f.cache.Get(ctx, key)
	if haveCached && f.now().Sub(cached.FetchedAt) < ttl {
		f.hits.Add(1)
		return Result{Value: cached.Value, FetchedAt: cached.FetchedAt, FromCache: true}, nil
	}
	f.misses.Add(1)

	// The request is shared, so no single reader's cancellation may end it.
	ch := f.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.readBudget)
		defer cancel()
		return f.fetch(shared, key, path, ttl)
	})

	var (
		fresh Entry
		err   error
	)
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			err = res.Err
		} else {
			fresh = res.Val.(Entry)
		}
	}

	if err == nil {
		return Result{Value: append(json.RawMessage(nil), fresh.Value...), FetchedAt: fresh.FetchedAt}, nil
	}

	f.failures.Add(1)
	// The shared request may have found an entry written by another reader.
	if latest, ok := f.cache.Get(ctx, key); ok {
		cached, haveCached = latest, true
	}
	if haveCached {
		f.staleServes.Add(1)
		return Result{
			Value:     cached.Value,
			FetchedAt: cached.FetchedAt,
			FromCache: true,
			Stale:     true,
			Err:       err,
		}, nil
	}
	return Result{}, err
}

func (f *Fetcher) fetch(ctx context.Context, key, path string, ttl time.Duration) (Entry, error) {
	policy := f.policy.WithObserver(func(state retry.State) {
		if !state.Exhausted() {
			f.retries.Add(1)
		}
		if f.onRetry != nil {
			f.onRetry(key, state)
		}
	})

	var body []byte
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		data, err := f.doer.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return retry.Permanent(err)
			}
			return err
		}
		if err := checkEnvelope(data); err != nil {
			return retry.Permanent(err)
		}
		body = data
		return nil
	})
	if err != nil {
		f.logger.Printf("[Fetcher] read %s failed: %v", key, err)
		return Entry{}, err
	}

	entry := Entry{Key: key, Value: body, FetchedAt: f.now(), TTL: ttl}
	f.cache.Put(ctx, entry)
	return entry, nil
}

// Write sends body (marshalled unless it is already []byte or
// json.RawMessage) and decodes the response into out when out is non-nil.
// Writes are never retried and never cached.
func (f *Fetcher) Write(ctx context.Context, method, path string, body, out any) error {
	f.writes.Add(1)

	payload, err := marshalBody(body)
	if err != nil {
		return fmt.Errorf("fetcher: encode %s %s: %w", method, path, err)
	}

	data, err := f.doer.Do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if err := checkEnvelope(data); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Probe is a rate-limited POST for connection tests.
func (f *Fetcher) Probe(ctx context.Context, path string, body, out any) error {
	if err := f.probes.Wait(ctx); err != nil {
		return err
	}
	return f.Write(ctx, http.MethodPost, path, body, out)
}

// Store replaces the cached value for key, e.g. with an authoritative
// document returned by a write.
func (f *Fetcher) Store(ctx context.Context, key string, value []byte, ttl time.Duration) {
	f.cache.Put(ctx, Entry{Key: key, Value: value, FetchedAt: f.now(), TTL: ttl})
}

// Invalidate drops cached entries with the given key prefix.
func (f *Fetcher) Invalidate(ctx context.Context, prefix string) int {
	return f.cache.Invalidate(ctx, prefix)
}

// Stats returns a snapshot of the counters.
func (f *Fetcher) Stats() Stats {
	return Stats{
		Hits:        f.hits.Load(),
		Misses:      f.misses.Load(),
		StaleServes: f.staleServes.Load(),
		Retries:     f.retries.Load(),
		Failures:    f.failures.Load(),
		Writes:      f.writes.Load(),
	}
}

func marshalBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
