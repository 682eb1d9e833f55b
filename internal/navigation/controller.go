// Package navigation gates section transitions behind unsaved-change
// checks and runs each section's side effects.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/document"
	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/session"
)

// Session is the part of a configuration session the controller needs.
type Session interface {
	Scope() string
	IsDirty() bool
	NeedsLoad() bool
	Save(ctx context.Context) (*document.Document, error)
	Discard()
}

// Poller is a periodic refresh owned by a section.
type Poller interface {
	Start(interval time.Duration, isActive func() bool)
	Stop()
}

// Binding describes what a section owns.
type Binding struct {
	Sessions []Session
	Pollers  []Poller
	// PollInterval overrides the controller default for this section.
	PollInterval time.Duration
	// Init runs on first entry, and again after a bound session was
	// invalidated or never loaded.
	Init    func(ctx context.Context) error
	OnLeave func()
}

// Resolver supplies bindings for sections without an exact registration.
type Resolver func(Section) (Binding, bool)

// Decision is the user's answer to an unsaved-changes prompt.
type Decision string

const (
	Stay    Decision = "stay"
	Discard Decision = "discard"
	Save    Decision = "save"
)

// ParseDecision maps a wire value to a Decision; unknown values are Stay.
func ParseDecision(raw string) Decision {
	switch Decision(raw) {
	case Discard:
		return Discard
	case Save:
		return Save
	}
	return Stay
}

// Prompt describes a blocked transition.
type Prompt struct {
	From   Section
	To     Section
	Scopes []string
}

// Guard asks what to do with unsaved changes.
type Guard func(ctx context.Context, p Prompt) Decision

// Outcome is the result of a Navigate call.
type Outcome string

const (
	// Navigated means the target section is now current.
	Navigated Outcome = "navigated"
	// Unchanged means the target already was current.
	Unchanged Outcome = "unchanged"
	// Stayed means the transition was refused.
	Stayed Outcome = "stayed"
)

// ErrSaveFailed wraps a save failure that blocked a transition.
var ErrSaveFailed = errors.New("navigation: save before leaving failed")

const defaultHistoryLimit = 50

// Option customises a Controller.
type Option func(*Controller)

// WithGuard installs the unsaved-changes guard.
func WithGuard(g Guard) Option {
	return func(c *Controller) {
		c.guard = g
	}
}

// WithBus publishes transitions on bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(c *Controller) {
		c.bus = bus
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollInterval sets the default poller interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithHistoryLimit caps History.
func WithHistoryLimit(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// Controller is the navigation state machine.
type Controller struct {
	bus          *eventbus.Bus
	logger       *log.Logger
	pollInterval time.Duration
	historyLimit int

	// navigating serializes Navigate.
	navigating chan struct{}
	current    atomic.Value // Section

	mu          sync.Mutex
	guard       Guard
	bindings    map[Section]Binding
	resolvers   []Resolver
	entered     map[Section]bool
	initialized bool
	history     []Section
}

// New creates a controller with no current section.
func New(opts ...Option) *Controller {
	c := &Controller{
		logger:       log.Default(),
		pollInterval: constants.StatusPollPeriod,
		historyLimit: defaultHistoryLimit,
		navigating:   make(chan struct{}, 1),
		bindings:     make(map[Section]Binding),
		entered:      make(map[Section]bool),
	}
	c.current.Store(Section(""))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetGuard replaces the guard.
func (c *Controller) SetGuard(g Guard) {
	c.mu.Lock()
	c.guard = g
	c.mu.Unlock()
}

// Register binds section to b, replacing any earlier binding.
func (c *Controller) Register(section Section, b Binding) {
	c.mu.Lock()
	c.bindings[section] = b
	c.mu.Unlock()
}

// RegisterFunc adds a resolver consulted, in registration order, for
// sections without an exact binding.
func (c *Controller) RegisterFunc(r Resolver) {
	if r == nil {
		return
	}
	c.mu.Lock()
	c.resolvers = append(c.resolvers, r)
	c.mu.Unlock()
}

// Current returns the visible section, empty before the first Navigate.
func (c *Controller) Current() Section {
	return c.current.Load().(Section)
}

// Initialized reports whether the first navigation has happened.
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// History returns visited sections, oldest first.
func (c *Controller) History() []Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Section(nil), c.history...)
}

// CanLeave reports whether the current section has no unsaved changes.
func (c *Controller) CanLeave() bool {
	return len(dirtySessions(c.binding(c.Current()))) == 0
}

// Navigate moves to target. Unsaved changes in the current section are put
// to the guard first; Stay, a missing guard, or a failed save keep the
// current section.
func (c *Controller) Navigate(ctx context.Context, target Section) (Outcome, error) {
	select {
	case c.navigating <- struct{}{}:
	case <-ctx.Done():
		return Stayed, ctx.Err()
	}
	defer func() { <-c.navigating }()

	c.mu.Lock()
	cold := !c.initialized
	guard := c.guard
	c.mu.Unlock()

	from := c.Current()
	if cold {
		return Navigated, c.transition(ctx, "", target)
	}
	if target == from {
		return Unchanged, nil
	}

	leaving := c.binding(from)
	if dirty := dirtySessions(leaving); len(dirty) > 0 {
		decision := Stay
		if guard != nil {
			decision = guard(ctx, Prompt{From: from, To: target, Scopes: scopes(dirty)})
		}
		switch decision {
		case Discard:
			for _, s := range dirty {
				s.Discard()
			}
		case Save:
			for _, s := range dirty {
				if _, err := s.Save(ctx); err != nil && !errors.Is(err, session.ErrNoChanges) {
					c.logger.Printf("[Navigation] staying on %s: save %s failed: %v", from, s.Scope(), err)
					return Stayed, fmt.Errorf("%w: %s: %w", ErrSaveFailed, s.Scope(), err)
				}
			}
		default:
			return Stayed, nil
		}
	}

	c.leave(leaving)
	return Navigated, c.transition(ctx, from, target)
}

// Reenter runs the current section's Init again when one of its sessions
// was invalidated. It waits for any navigation in progress.
func (c *Controller) Reenter(ctx context.Context) error {
	select {
	case c.navigating <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.navigating }()

	current := c.Current()
	if current == "" {
		return nil
	}
	b := c.binding(current)
	if b.Init == nil || !needsLoad(b) {
		return nil
	}
	if err := b.Init(ctx); err != nil {
		c.logger.Printf("[Navigation] reinit %s failed: %v", current, err)
		return fmt.Errorf("navigation: init %s: %w", current, err)
	}
	return nil
}

func (c *Controller) leave(b Binding) {
	for _, p := range b.Pollers {
		p.Stop()
	}
	if b.OnLeave != nil {
		b.OnLeave()
	}
}

// transition makes target current and runs its entry side effects. An
// Init error is returned but does not undo the transition; the section
// stays uninitialized so the next entry retries.
func (c *Controller) transition(ctx context.Context, from, target Section) error {
	c.current.Store(target)
	b := c.binding(target)

	c.mu.Lock()
	c.initialized = true
	c.history = append(c.history, target)
	if over := len(c.history) - c.historyLimit; over > 0 {
		c.history = append([]Section(nil), c.history[over:]...)
	}
	firstEntry := !c.entered[target] || needsLoad(b)
	c.mu.Unlock()

	interval := b.PollInterval
	if interval <= 0 {
		interval = c.pollInterval
	}
	active := func() bool { return c.Current() == target }
	for _, p := range b.Pollers {
		p.Start(interval, active)
	}

	var initErr error
	if firstEntry && b.Init != nil {
		initErr = b.Init(ctx)
	}
	if initErr == nil {
		c.mu.Lock()
		c.entered[target] = true
		c.mu.Unlock()
	} else {
		c.logger.Printf("[Navigation] init %s failed: %v", target, initErr)
	}

	eventbus.Publish(context.Background(), c.bus, eventbus.Navigation.Changed, eventbus.SourceNavigation,
		eventbus.NavigationChangedEvent{From: string(from), To: string(target), FirstEntry: firstEntry})
	if initErr != nil {
		return fmt.Errorf("navigation: init %s: %w", target, initErr)
	}
	return nil
}

func (c *Controller) binding(section Section) Binding {
	if section == "" {
		return Binding{}
	}
	c.mu.Lock()
	b, ok := c.bindings[section]
	resolvers := c.resolvers
	c.mu.Unlock()
	if ok {
		return b
	}
	for _, r := range resolvers {
		if b, ok := r(section); ok {
			return b
		}
	}
	return Binding{}
}

func dirtySessions(b Binding) []Session {
	var dirty []Session
	for _, s := range b.Sessions {
		if s.IsDirty() {
			dirty = append(dirty, s)
		}
	}
	return dirty
}

func needsLoad(b Binding) bool {
	for _, s := range b.Sessions {
		if s.NeedsLoad() {
			return true
		}
	}
	return false
}

func scopes(sessions []Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.Scope()
	}
	return out
}
