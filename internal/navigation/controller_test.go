package navigation

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arrdeck/arrdeck/internal/document"
	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/session"
)

type fakeSession struct {
	mu        sync.Mutex
	scope     string
	dirty     bool
	needsLoad bool
	saveErr   error
	saves     int
	discards  int
}

func (s *fakeSession) Scope() string { return s.scope }

func (s *fakeSession) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *fakeSession) NeedsLoad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsLoad
}

func (s *fakeSession) Save(context.Context) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	if !s.dirty {
		return nil, session.ErrNoChanges
	}
	s.dirty = false
	return &document.Document{Scope: s.scope}, nil
}

func (s *fakeSession) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discards++
	s.dirty = false
}

type fakePoller struct {
	starts   atomic.Int32
	stops    atomic.Int32
	isActive atomic.Value
}

func (p *fakePoller) Start(_ time.Duration, isActive func() bool) {
	p.starts.Add(1)
	p.isActive.Store(isActive)
}

func (p *fakePoller) Stop() { p.stops.Add(1) }

func (p *fakePoller) active() bool {
	fn, _ := p.isActive.Load().(func() bool)
	return fn != nil && fn()
}

func newController(opts ...Option) *Controller {
	return New(append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)...)
}

func TestColdStartTransitionsUnconditionally(t *testing.T) {
	t.Parallel()
	c := newController()
	if c.Initialized() || c.Current() != "" {
		t.Fatal("fresh controller should be uninitialized")
	}
	out, err := c.Navigate(context.Background(), Home)
	if err != nil || out != Navigated {
		t.Fatalf("Navigate = %s, %v", out, err)
	}
	if !c.Initialized() || c.Current() != Home {
		t.Fatalf("current = %s", c.Current())
	}
}

func TestReentryIsIdempotent(t *testing.T) {
	t.Parallel()
	var inits atomic.Int32
	poller := &fakePoller{}
	c := newController()
	c.Register(Home, Binding{
		Pollers: []Poller{poller},
		Init:    func(context.Context) error { inits.Add(1); return nil },
	})

	ctx := context.Background()
	if _, err := c.Navigate(ctx, Home); err != nil {
		t.Fatal(err)
	}
	out, _ := c.Navigate(ctx, Home)
	if out != Unchanged {
		t.Fatalf("same-section navigate = %s", out)
	}
	if inits.Load() != 1 || poller.starts.Load() != 1 {
		t.Fatalf("inits %d starts %d", inits.Load(), poller.starts.Load())
	}

	_, _ = c.Navigate(ctx, Settings)
	_, _ = c.Navigate(ctx, Home)
	if inits.Load() != 1 {
		t.Fatalf("init re-ran on re-entry: %d", inits.Load())
	}
	if poller.starts.Load() != 2 || poller.stops.Load() != 1 {
		t.Fatalf("starts %d stops %d", poller.starts.Load(), poller.stops.Load())
	}
}

func TestInitRerunsAfterInvalidation(t *testing.T) {
	t.Parallel()
	var inits atomic.Int32
	general := &fakeSession{scope: "general"}
	c := newController()
	c.Register(Settings, Binding{
		Sessions: []Session{general},
		Init:     func(context.Context) error { inits.Add(1); return nil },
	})

	ctx := context.Background()
	_, _ = c.Navigate(ctx, Settings)
	_, _ = c.Navigate(ctx, Home)
	general.mu.Lock()
	general.needsLoad = true
	general.mu.Unlock()
	_, _ = c.Navigate(ctx, Settings)
	if inits.Load() != 2 {
		t.Fatalf("inits = %d, want 2", inits.Load())
	}
}

func TestReenterRunsInitForInvalidatedSession(t *testing.T) {
	t.Parallel()
	var inits atomic.Int32
	general := &fakeSession{scope: "general"}
	c := newController()
	c.Register(Settings, Binding{
		Sessions: []Session{general},
		Init: func(context.Context) error {
			inits.Add(1)
			general.mu.Lock()
			general.needsLoad = false
			general.mu.Unlock()
			return nil
		},
	})

	ctx := context.Background()
	if err := c.Reenter(ctx); err != nil || inits.Load() != 0 {
		t.Fatalf("Reenter before navigation: %v, inits %d", err, inits.Load())
	}
	_, _ = c.Navigate(ctx, Settings)
	if err := c.Reenter(ctx); err != nil || inits.Load() != 1 {
		t.Fatalf("Reenter with a loaded session: %v, inits %d", err, inits.Load())
	}

	general.mu.Lock()
	general.needsLoad = true
	general.mu.Unlock()
	if err := c.Reenter(ctx); err != nil {
		t.Fatalf("Reenter: %v", err)
	}
	if inits.Load() != 2 || c.Current() != Settings {
		t.Fatalf("inits = %d current = %s", inits.Load(), c.Current())
	}
}

func TestInitFailureIsRetriedOnNextEntry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := newController()
	c.Register(Settings, Binding{Init: func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("load failed")
		}
		return nil
	}})
	ctx := context.Background()
	_, _ = c.Navigate(ctx, Home)
	out, err := c.Navigate(ctx, Settings)
	if out != Navigated || err == nil {
		t.Fatalf("Navigate = %s, %v", out, err)
	}
	_, _ = c.Navigate(ctx, Home)
	if _, err := c.Navigate(ctx, Settings); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("init calls = %d", calls.Load())
	}
}

func TestGuardScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		guard     Guard
		saveErr   error
		outcome   Outcome
		current   Section
		wantErr   bool
		saves     int
		discards  int
		keepDirty bool
	}{
		{name: "no guard stays", outcome: Stayed, current: Settings, keepDirty: true},
		{name: "stay", guard: func(context.Context, Prompt) Decision { return Stay }, outcome: Stayed, current: Settings, keepDirty: true},
		{name: "discard", guard: func(context.Context, Prompt) Decision { return Discard }, outcome: Navigated, current: Home, discards: 1},
		{name: "save", guard: func(context.Context, Prompt) Decision { return Save }, outcome: Navigated, current: Home, saves: 1},
		{name: "save fails", guard: func(context.Context, Prompt) Decision { return Save }, saveErr: errors.New("503"),
			outcome: Stayed, current: Settings, wantErr: true, saves: 1, keepDirty: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			general := &fakeSession{scope: "general", saveErr: tt.saveErr}
			poller := &fakePoller{}
			var left atomic.Int32
			c := newController(WithGuard(tt.guard))
			c.Register(Settings, Binding{
				Sessions: []Session{general},
				Pollers:  []Poller{poller},
				OnLeave:  func() { left.Add(1) },
			})

			ctx := context.Background()
			_, _ = c.Navigate(ctx, Settings)
			general.mu.Lock()
			general.dirty = true
			general.mu.Unlock()
			if c.CanLeave() {
				t.Fatal("CanLeave with unsaved changes")
			}

			out, err := c.Navigate(ctx, Home)
			if out != tt.outcome || (err != nil) != tt.wantErr {
				t.Fatalf("Navigate = %s, %v", out, err)
			}
			if tt.wantErr && !errors.Is(err, ErrSaveFailed) {
				t.Fatalf("error %v is not ErrSaveFailed", err)
			}
			if c.Current() != tt.current {
				t.Fatalf("current = %s, want %s", c.Current(), tt.current)
			}
			if general.saves != tt.saves || general.discards != tt.discards {
				t.Fatalf("saves %d discards %d", general.saves, general.discards)
			}
			if general.IsDirty() != tt.keepDirty {
				t.Fatalf("dirty = %v", general.IsDirty())
			}
			moved := tt.outcome == Navigated
			if (poller.stops.Load() == 1) != moved || (left.Load() == 1) != moved {
				t.Fatalf("leave side effects: stops %d onLeave %d", poller.stops.Load(), left.Load())
			}
		})
	}
}

func TestGuardSeesPrompt(t *testing.T) {
	t.Parallel()
	var got Prompt
	sonarr := &fakeSession{scope: "sonarr"}
	c := newController(WithGuard(func(_ context.Context, p Prompt) Decision {
		got = p
		return Stay
	}))
	c.RegisterFunc(func(s Section) (Binding, bool) {
		if s.Kind() == KindEditor && s.App() == "sonarr" {
			return Binding{Sessions: []Session{sonarr}}, true
		}
		return Binding{}, false
	})

	ctx := context.Background()
	editor := EditorSection("sonarr", 1)
	_, _ = c.Navigate(ctx, editor)
	sonarr.dirty = true
	_, _ = c.Navigate(ctx, AppSection("radarr"))

	if got.From != editor || got.To != AppSection("radarr") || len(got.Scopes) != 1 || got.Scopes[0] != "sonarr" {
		t.Fatalf("prompt = %+v", got)
	}
}

func TestPollerActivePredicateFollowsCurrent(t *testing.T) {
	t.Parallel()
	poller := &fakePoller{}
	c := newController()
	c.Register(AppSection("sonarr"), Binding{Pollers: []Poller{poller}})

	ctx := context.Background()
	_, _ = c.Navigate(ctx, AppSection("sonarr"))
	if !poller.active() {
		t.Fatal("poller should be active in its section")
	}
	_, _ = c.Navigate(ctx, Home)
	if poller.active() {
		t.Fatal("poller should be inactive elsewhere")
	}
}

func TestNavigationsAreSerialized(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	entered := make(chan struct{})
	c := newController()
	c.Register(Settings, Binding{Init: func(context.Context) error {
		close(entered)
		<-release
		return nil
	}})
	ctx := context.Background()
	_, _ = c.Navigate(ctx, Home)

	first := make(chan struct{})
	go func() {
		_, _ = c.Navigate(ctx, Settings)
		close(first)
	}()
	<-entered

	second := make(chan Outcome, 1)
	go func() {
		out, _ := c.Navigate(ctx, AppSection("sonarr"))
		second <- out
	}()
	select {
	case <-second:
		t.Fatal("second navigation ran concurrently")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-first
	if out := <-second; out != Navigated {
		t.Fatalf("second = %s", out)
	}
	if c.Current() != AppSection("sonarr") {
		t.Fatalf("current = %s", c.Current())
	}
	h := c.History()
	if len(h) != 3 || h[0] != Home || h[1] != Settings || h[2] != AppSection("sonarr") {
		t.Fatalf("history = %v", h)
	}
}

func TestNavigationEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	defer bus.Shutdown()
	sub := eventbus.SubscribeTo(bus, eventbus.Navigation.Changed)
	defer sub.Close()

	c := newController(WithBus(bus))
	_, _ = c.Navigate(context.Background(), Home)
	_, _ = c.Navigate(context.Background(), Settings)

	for _, want := range []eventbus.NavigationChangedEvent{
		{From: "", To: "home", FirstEntry: true},
		{From: "home", To: "settings", FirstEntry: true},
	} {
		select {
		case env := <-sub.C():
			if env.Payload != want {
				t.Fatalf("event %+v, want %+v", env.Payload, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing event")
		}
	}
}

func TestHistoryLimit(t *testing.T) {
	t.Parallel()
	c := newController(WithHistoryLimit(2))
	ctx := context.Background()
	for _, s := range []Section{Home, Settings, Home} {
		_, _ = c.Navigate(ctx, s)
	}
	h := c.History()
	if len(h) != 2 || h[0] != Settings || h[1] != Home {
		t.Fatalf("history = %v", h)
	}
}
