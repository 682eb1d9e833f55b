// Package dashboard assembles the controller, sessions, pollers and their
// shared infrastructure from a Config.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arrdeck/arrdeck/internal/bridge"
	"github.com/arrdeck/arrdeck/internal/cachestore"
	"github.com/arrdeck/arrdeck/internal/config"
	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/fetcher"
	"github.com/arrdeck/arrdeck/internal/navigation"
	"github.com/arrdeck/arrdeck/internal/observability"
	"github.com/arrdeck/arrdeck/internal/poller"
	"github.com/arrdeck/arrdeck/internal/retry"
	"github.com/arrdeck/arrdeck/internal/session"
	"github.com/arrdeck/arrdeck/internal/validator"
)

// Names of the dashboard-wide status pollers bound to the home section.
const (
	PollerStats      = "stats"
	PollerResetTimes = "reset-times"
)

const refreshConcurrency = 4

type options struct {
	instance  string
	cacheDB   string
	logger    *log.Logger
	transport http.RoundTripper
	clock     func() time.Time
}

// Option customises Build.
type Option func(*options)

// WithInstance selects the instance whose cache database is used.
func WithInstance(name string) Option {
	return func(o *options) {
		o.instance = name
	}
}

// WithCacheDB overrides the cache database path.
func WithCacheDB(path string) Option {
	return func(o *options) {
		o.cacheDB = path
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTransport overrides the backend HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithClock overrides the cache freshness clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// Dashboard holds the wired components.
type Dashboard struct {
	Config     *config.Config
	Bus        *eventbus.Bus
	Fetcher    *fetcher.Fetcher
	Validator  *validator.Validator
	Controller *navigation.Controller
	Counter    *observability.EventCounter
	Metrics    http.Handler

	store    *cachestore.Store
	logger   *log.Logger
	scopes   []string
	sessions map[string]*session.Session
	pollers  map[string]*poller.Poller
	life     eventbus.Lifecycle

	closeOnce sync.Once
}

// Build wires a dashboard for cfg. Nothing touches the network until the
// first navigation or RefreshAll.
func Build(cfg *config.Config, opts ...Option) (*Dashboard, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}

	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}

	d := &Dashboard{
		Config:   cfg,
		logger:   o.logger,
		sessions: make(map[string]*session.Session),
		pollers:  make(map[string]*poller.Poller),
		Counter:  observability.NewEventCounter(),
	}

	var persister fetcher.Persister
	if cfg.Cache.Persist {
		store, err := cachestore.Open(cachestore.Options{InstanceName: o.instance, DBPath: o.cacheDB})
		if err != nil {
			// The cache is a warm-start aid; run without it.
			o.logger.Printf("[Dashboard] cache store unavailable, continuing in memory: %v", err)
		} else {
			d.store = store
			persister = store
		}
	}

	d.Bus = eventbus.New(eventbus.WithLogger(o.logger), eventbus.WithObserver(d.Counter))

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.BaseDelay = cfg.Retry.BaseDelay
	policy.MaxDelay = cfg.Retry.MaxDelay

	fetchOpts := []fetcher.Option{
		fetcher.WithPolicy(policy),
		fetcher.WithCache(fetcher.NewCache(persister, o.logger)),
		fetcher.WithLogger(o.logger),
		fetcher.WithClock(o.clock),
	}
	if cfg.Log.Level == "debug" {
		fetchOpts = append(fetchOpts, fetcher.WithRetryObserver(func(key string, st retry.State) {
			o.logger.Printf("[Fetcher] %s attempt %d/%d failed: %v", key, st.Attempt, st.MaxAttempts, st.LastError)
		}))
	}
	client := fetcher.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.Timeout, o.transport)
	d.Fetcher = fetcher.New(client, fetchOpts...)

	d.Validator = validator.New(validator.NewHTTPProber(d.Fetcher),
		validator.WithDebounce(cfg.Validator.Debounce),
		validator.WithMinLengths(cfg.Validator.MinURLLength, cfg.Validator.MinKeyLength),
		validator.WithBus(d.Bus),
		validator.WithLogger(o.logger),
	)

	collector := observability.NewCollector(d.Bus, d.Counter, d.Fetcher)
	d.Metrics = observability.Handler(collector.Registry())

	backend := session.NewHTTPBackend(d.Fetcher, session.WithCacheTTL(cfg.Cache.TTL))
	d.scopes = append([]string{constants.ScopeGeneral}, cfg.EnabledApps()...)
	for _, scope := range d.scopes {
		s, err := session.New(scope, backend,
			session.WithBus(d.Bus),
			session.WithLogger(o.logger),
		)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("dashboard: %w", err)
		}
		d.sessions[scope] = s
	}

	pollerOpts := []poller.Option{poller.WithBus(d.Bus), poller.WithLogger(o.logger)}
	statusTTL := cfg.Cache.StatusTTL
	d.pollers[PollerStats] = poller.New(PollerStats,
		poller.NewFetcherSource(d.Fetcher, poller.CacheKey(PollerStats), poller.StatsPath, statusTTL), pollerOpts...)
	d.pollers[PollerResetTimes] = poller.New(PollerResetTimes,
		poller.NewFetcherSource(d.Fetcher, poller.CacheKey(PollerResetTimes), poller.ResetTimesPath, statusTTL), pollerOpts...)
	for _, app := range cfg.EnabledApps() {
		d.pollers[app] = poller.New(app,
			poller.NewFetcherSource(d.Fetcher, poller.CacheKey(app), poller.StatusPath(app), statusTTL), pollerOpts...)
	}

	d.Controller = navigation.New(
		navigation.WithBus(d.Bus),
		navigation.WithLogger(o.logger),
		navigation.WithPollInterval(cfg.Poller.Interval),
	)
	d.bind()
	return d, nil
}

func (d *Dashboard) bind() {
	d.Controller.Register(navigation.Home, navigation.Binding{
		Pollers: []navigation.Poller{d.pollers[PollerStats], d.pollers[PollerResetTimes]},
	})

	general := d.sessions[constants.ScopeGeneral]
	d.Controller.Register(navigation.Settings, navigation.Binding{
		Sessions: []navigation.Session{general},
		Init:     d.loadInit(general),
	})

	for _, app := range d.Config.EnabledApps() {
		s := d.sessions[app]
		d.Controller.Register(navigation.AppSection(app), navigation.Binding{
			Sessions: []navigation.Session{s},
			Pollers:  []navigation.Poller{d.pollers[app]},
			Init:     d.loadInit(s),
		})
	}

	// Editor sections are unbounded in number; resolve them by app.
	d.Controller.RegisterFunc(func(section navigation.Section) (navigation.Binding, bool) {
		if section.Kind() != navigation.KindEditor {
			return navigation.Binding{}, false
		}
		s, ok := d.sessions[section.App()]
		if !ok {
			return navigation.Binding{}, false
		}
		return navigation.Binding{
			Sessions: []navigation.Session{s},
			Init:     d.loadInit(s),
		}, true
	})
}

func (d *Dashboard) loadInit(s *session.Session) func(context.Context) error {
	return func(ctx context.Context) error {
		if !s.NeedsLoad() {
			return nil
		}
		return s.Load(ctx)
	}
}

// Start runs background reactions until ctx is done: a saved application
// document refreshes that application's status when it is on screen.
func (d *Dashboard) Start(ctx context.Context) {
	ctx = d.life.Start(ctx)
	saved := eventbus.SubscribeTo(d.Bus, eventbus.Sessions.Saved, eventbus.WithSubscriptionName("dashboard"))
	d.life.Track(saved)
	d.life.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, saved, nil, func(ev eventbus.SessionSavedEvent) {
			p, ok := d.pollers[ev.Scope]
			if !ok || d.Controller.Current().App() != ev.Scope {
				return
			}
			if _, err := p.Refresh(ctx); err != nil {
				d.logger.Printf("[Dashboard] refresh %s status after save: %v", ev.Scope, err)
			}
		})
	})
}

// Scopes lists managed scopes, general first.
func (d *Dashboard) Scopes() []string {
	return append([]string(nil), d.scopes...)
}

// Session returns the session for scope.
func (d *Dashboard) Session(scope string) (*session.Session, bool) {
	s, ok := d.sessions[scope]
	return s, ok
}

// Poller returns a status poller by name: an application or one of
// PollerStats and PollerResetTimes.
func (d *Dashboard) Poller(name string) (*poller.Poller, bool) {
	p, ok := d.pollers[name]
	return p, ok
}

// RefreshAll loads every session concurrently. Each failure is reported
// by its session; the joined error lists all of them.
func (d *Dashboard) RefreshAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(refreshConcurrency)
	for _, scope := range d.scopes {
		s := d.sessions[scope]
		g.Go(func() error {
			if err := s.Load(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// NewBridge builds the WebSocket bridge over this dashboard.
func (d *Dashboard) NewBridge(opts ...bridge.Option) *bridge.Server {
	base := []bridge.Option{
		bridge.WithAllowedOrigins(d.Config.Bridge.AllowedOrigins),
		bridge.WithValidator(d.Validator),
		bridge.WithMetrics(d.Metrics),
		bridge.WithLogger(d.logger),
	}
	return bridge.New(d.Controller, d, d.Bus, append(base, opts...)...)
}

// Close stops pollers and background work, then closes the cache store.
func (d *Dashboard) Close() error {
	var err error
	d.closeOnce.Do(func() {
		for _, p := range d.pollers {
			p.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), constants.BridgeShutdownTimeout)
		defer cancel()
		if shutdownErr := d.life.Shutdown(ctx); shutdownErr != nil {
			d.logger.Printf("[Dashboard] background shutdown: %v", shutdownErr)
		}
		if d.Validator != nil {
			d.Validator.Close()
		}
		if d.Bus != nil {
			d.Bus.Shutdown()
		}
		if d.store != nil {
			err = d.store.Close()
		}
	})
	return err
}
