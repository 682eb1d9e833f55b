// Package poller refreshes server-computed status on an interval while
// its section is visible.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/fetcher"
)

// Source produces one status reading.
type Source interface {
	Fetch(ctx context.Context) (fetcher.Result, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (fetcher.Result, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) (fetcher.Result, error) { return f(ctx) }

// FetcherSource reads a path through the cached fetcher.
type FetcherSource struct {
	fetcher *fetcher.Fetcher
	key     string
	path    string
	ttl     time.Duration
}

// NewFetcherSource reads path under cache key key. A non-positive ttl
// selects constants.StatusCacheTTL.
func NewFetcherSource(f *fetcher.Fetcher, key, path string, ttl time.Duration) *FetcherSource {
	if ttl <= 0 {
		ttl = constants.StatusCacheTTL
	}
	return &FetcherSource{fetcher: f, key: key, path: path, ttl: ttl}
}

// Fetch implements Source.
func (s *FetcherSource) Fetch(ctx context.Context) (fetcher.Result, error) {
	return s.fetcher.Read(ctx, s.key, s.path, s.ttl)
}

// StatusPath is the per-application status route.
func StatusPath(app string) string { return "/api/" + url.PathEscape(app) + "/status" }

// Dashboard-wide status routes.
const (
	StatsPath      = "/api/stats"
	ResetTimesPath = "/api/state/reset-times"
)

// CacheKey is the fetcher cache key for a named status reading.
func CacheKey(name string) string { return "status:" + name }

// Snapshot is the latest visible reading.
type Snapshot struct {
	Name      string
	Value     json.RawMessage
	FetchedAt time.Time
	// Stale is set when Value is older than the last failed refresh.
	Stale bool
	Err   error
}

// Summary decodes the snapshot value.
func (s Snapshot) Summary() Summary {
	return ParseSummary(s.Value)
}

// Option customises a Poller.
type Option func(*Poller)

// WithBus publishes snapshots on bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(p *Poller) {
		p.bus = bus
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Poller owns one periodic refresh.
type Poller struct {
	name   string
	source Source
	bus    *eventbus.Bus
	logger *log.Logger

	// ticking admits one tick at a time.
	ticking chan struct{}

	mu     sync.Mutex
	latest Snapshot
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped poller.
func New(name string, source Source, opts ...Option) *Poller {
	p := &Poller{
		name:    name,
		source:  source,
		logger:  log.Default(),
		ticking: make(chan struct{}, 1),
		latest:  Snapshot{Name: name},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the poller name.
func (p *Poller) Name() string { return p.name }

// Start refreshes now and then every interval. Ticks where isActive
// reports false skip the network but keep the schedule. Starting a running
// poller restarts it.
func (p *Poller) Start(interval time.Duration, isActive func() bool) {
	if interval <= 0 {
		interval = constants.StatusPollPeriod
	}
	if isActive == nil {
		isActive = func() bool { return true }
	}
	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	gen := p.gen
	p.mu.Unlock()

	go p.loop(ctx, gen, interval, isActive, done)
}

// Stop cancels the schedule and any in-flight tick, and returns once no
// tick can apply a result.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.gen++
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether a schedule is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Refresh runs one tick now, waiting for an in-flight tick first.
func (p *Poller) Refresh(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	if err := p.tick(ctx, gen); err != nil {
		return p.Latest(), err
	}
	return p.Latest(), nil
}

// Latest returns the current snapshot.
func (p *Poller) Latest() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.latest
	snap.Value = append(json.RawMessage(nil), snap.Value...)
	return snap
}

func (p *Poller) loop(ctx context.Context, gen uint64, interval time.Duration, isActive func() bool, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if isActive() {
			_ = p.tick(ctx, gen)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick fetches once and applies the result if gen is still current.
func (p *Poller) tick(ctx context.Context, gen uint64) error {
	select {
	case p.ticking <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.ticking }()

	res, err := p.source.Fetch(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return nil
	}

	wasStale := p.latest.Stale
	switch {
	case err != nil:
		p.latest.Stale = true
		p.latest.Err = err
	default:
		p.latest.Value = append(json.RawMessage(nil), res.Value...)
		p.latest.FetchedAt = res.FetchedAt
		p.latest.Stale = res.Stale
		p.latest.Err = res.Err
	}

	event := eventbus.StatusUpdatedEvent{
		Name:      p.name,
		Data:      append(json.RawMessage(nil), p.latest.Value...),
		FetchedAt: p.latest.FetchedAt,
		Stale:     p.latest.Stale,
	}
	if p.latest.Err != nil {
		event.Error = p.latest.Err.Error()
	}
	eventbus.Publish(context.Background(), p.bus, eventbus.Status.Updated, eventbus.SourcePoller, event)

	if p.latest.Stale && !wasStale {
		p.logger.Printf("[Poller] %s refresh failed, showing last known value: %v", p.name, p.latest.Err)
		eventbus.Publish(context.Background(), p.bus, eventbus.Notifications.Notify, eventbus.SourcePoller,
			eventbus.NotificationEvent{
				Level:   eventbus.LevelWarning,
				Scope:   p.name,
				Message: fmt.Sprintf("%s status is out of date: %v", p.name, p.latest.Err),
			})
	}
	return err
}
