// Package session drives one configuration document through
// load, edit, save and reconcile.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/dirty"
	"github.com/arrdeck/arrdeck/internal/document"
	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/registry"
	"github.com/arrdeck/arrdeck/internal/retry"
)

// State is the lifecycle position of a session.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateClean    State = "clean"
	StateDirty    State = "dirty"
	StateSaving   State = "saving"
	StateError    State = "error"
)

var (
	// ErrNoChanges is returned by Save when live equals the baseline.
	ErrNoChanges = errors.New("session: no changes to save")
	// ErrNotLoaded rejects edits before the first successful load.
	ErrNotLoaded = errors.New("session: document not loaded")
	// ErrApplyFailed wraps a failed apply-immediately push. The local edit
	// is kept.
	ErrApplyFailed = errors.New("session: apply failed")
	// ErrReadBack is returned when a save was acknowledged but the stored
	// document could not be read back. Live keeps the edits.
	ErrReadBack = errors.New("session: saved document could not be read back")
)

// Backend loads and stores documents.
type Backend interface {
	Load(ctx context.Context, scope string) (*document.Document, error)
	// Save returns the document as the backend stored it.
	Save(ctx context.Context, doc *document.Document) (*document.Document, error)
	Apply(ctx context.Context, scope, field string, value any) error
}

// Invalidator is implemented by backends that cache loaded documents.
type Invalidator interface {
	Invalidate(ctx context.Context, scope string)
}

// Option customises a Session.
type Option func(*Session)

// WithBus publishes state changes and notifications on bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(s *Session) {
		s.bus = bus
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLoadPolicy retries Backend.Load with policy. The default is a single
// attempt, for backends that retry reads themselves.
func WithLoadPolicy(policy retry.Policy) Option {
	return func(s *Session) {
		s.loadPolicy = policy
	}
}

// WithSaveTimeout bounds a save independently of the caller.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.saveTimeout = d
		}
	}
}

// Session owns the baseline/live pair of one document.
type Session struct {
	scope       string
	schema      *document.Schema
	backend     Backend
	bus         *eventbus.Bus
	logger      *log.Logger
	loadPolicy  retry.Policy
	saveTimeout time.Duration

	// saving serializes Save; applying orders apply-immediately pushes.
	saving   chan struct{}
	loading  chan struct{}
	applying sync.Mutex

	mu          sync.Mutex
	state       State
	live        *document.Document
	tracker     *dirty.Tracker
	instances   *registry.Registry
	lastErr     error
	invalidated bool
	edits       uint64

	// discards counts Discard calls; discardEdits is the edit count the
	// last one left behind.
	discards     uint64
	discardEdits uint64
}

// New creates an unloaded session for scope.
func New(scope string, backend Backend, opts ...Option) (*Session, error) {
	schema, ok := document.Lookup(scope)
	if !ok {
		return nil, fmt.Errorf("session: unknown scope %q", scope)
	}
	s := &Session{
		scope:       scope,
		schema:      schema,
		backend:     backend,
		logger:      log.Default(),
		loadPolicy:  retry.Policy{MaxAttempts: 1},
		saveTimeout: constants.BackendSaveTimeout,
		saving:      make(chan struct{}, 1),
		loading:     make(chan struct{}, 1),
		state:       StateUnloaded,
		tracker:     dirty.New(schema),
	}
	s.instances = registry.New(schema, nil, s.touchLocked)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scope returns the document scope.
func (s *Session) Scope() string { return s.scope }

// Schema returns the document schema.
func (s *Session) Schema() *document.Schema { return s.schema }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that put the session in StateError.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// IsDirty reports whether live differs from the baseline.
func (s *Session) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDirtyLocked()
}

// Changes lists the paths that differ from the baseline.
func (s *Session) Changes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return nil
	}
	return s.tracker.Changes(s.live)
}

// Document returns a deep copy of the live document, or nil before load.
func (s *Session) Document() *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Clone()
}

// Baseline returns a deep copy of the last confirmed document.
func (s *Session) Baseline() *document.Document {
	return s.tracker.Baseline()
}

// NeedsLoad reports whether entering a view of this session should load it.
func (s *Session) NeedsLoad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live == nil || s.invalidated
}

// Load fetches the authoritative document and makes it both baseline and
// live. On failure the session moves to StateError, or back to its prior
// state when ctx was cancelled.
func (s *Session) Load(ctx context.Context) error {
	select {
	case s.loading <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.loading }()

	s.mu.Lock()
	prior := s.state
	s.setStateLocked(StateLoading)
	s.mu.Unlock()

	var doc *document.Document
	err := s.loadPolicy.Do(ctx, func(ctx context.Context, attempt int) error {
		loaded, err := s.backend.Load(ctx, s.scope)
		if err != nil {
			return err
		}
		if loaded == nil || loaded.Scope != s.scope {
			return retry.Permanent(fmt.Errorf("session: backend returned wrong document for %s", s.scope))
		}
		doc = loaded
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			s.setStateLocked(prior)
			return err
		}
		s.lastErr = err
		s.setStateLocked(StateError)
		s.logger.Printf("[Session] load %s failed: %v", s.scope, err)
		s.notifyLocked(eventbus.LevelError, fmt.Sprintf("Failed to load %s settings: %v", s.scope, err))
		return fmt.Errorf("session: load %s: %w", s.scope, err)
	}

	s.tracker.Arm(doc)
	s.live = doc.Clone()
	s.instances.Bind(s.live)
	s.lastErr = nil
	s.invalidated = false
	s.edits++
	s.setStateLocked(StateClean)
	return nil
}

// Edit sets a document field. Schema violations are returned without any
// network activity. Apply-immediately fields are also pushed to the
// backend; a push failure is returned wrapped in ErrApplyFailed.
func (s *Session) Edit(ctx context.Context, field string, value any) error {
	spec, _ := s.schema.Field(field)
	if spec.ApplyImmediately {
		s.applying.Lock()
		defer s.applying.Unlock()
	}

	s.mu.Lock()
	if s.live == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	canonical, err := s.schema.CheckField(field, value)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.live.Fields[field] = canonical
	s.touchLocked()
	s.mu.Unlock()

	if !spec.ApplyImmediately {
		return nil
	}
	if err := s.backend.Apply(ctx, s.scope, field, canonical); err != nil {
		s.logger.Printf("[Session] apply %s.%s failed: %v", s.scope, field, err)
		s.mu.Lock()
		s.notifyLocked(eventbus.LevelError, fmt.Sprintf("Failed to apply %s: %v", field, err))
		s.mu.Unlock()
		return fmt.Errorf("%w: %s.%s: %w", ErrApplyFailed, s.scope, field, err)
	}
	return nil
}

// AddInstance appends an empty instance and returns its index.
func (s *Session) AddInstance() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return -1, ErrNotLoaded
	}
	return s.instances.Add()
}

// RemoveInstance deletes the instance at index.
func (s *Session) RemoveInstance(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return ErrNotLoaded
	}
	return s.instances.Remove(index)
}

// UpdateInstance merges patch into the instance at index.
func (s *Session) UpdateInstance(index int, patch registry.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return ErrNotLoaded
	}
	return s.instances.Update(index, patch)
}

// Instance returns a copy of the instance at index.
func (s *Session) Instance(index int) (document.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return document.Instance{}, ErrNotLoaded
	}
	return s.instances.Read(index)
}

// Instances returns copies of all instances.
func (s *Session) Instances() []document.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances.List()
}

// Save submits the live document. Saves are serialized; a second call
// waits for the first to settle. The request is detached from ctx
// cancellation so leaving a view never aborts it. Edits made while the
// request is in flight survive reconciliation.
func (s *Session) Save(ctx context.Context) (*document.Document, error) {
	select {
	case s.saving <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.saving }()

	s.mu.Lock()
	if s.live == nil {
		s.mu.Unlock()
		return nil, ErrNotLoaded
	}
	if !s.isDirtyLocked() {
		s.mu.Unlock()
		return nil, ErrNoChanges
	}
	submitted := s.live.Clone()
	edits := s.edits
	discards := s.discards
	s.setStateLocked(StateSaving)
	s.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.saveTimeout)
	stored, err := s.backend.Save(saveCtx, submitted)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && (stored == nil || stored.Scope != s.scope) {
		err = fmt.Errorf("session: backend returned wrong document for %s", s.scope)
	}
	// A discard while the request was in flight, with nothing edited
	// since, asks for whatever baseline the save settles on.
	discarded := s.discards != discards && s.edits == s.discardEdits

	if err != nil {
		s.logger.Printf("[Session] save %s failed: %v", s.scope, err)
		if discarded {
			s.setStateLocked(StateClean)
		} else {
			s.lastErr = err
			s.setStateLocked(StateError)
		}
		s.notifyLocked(eventbus.LevelError, fmt.Sprintf("Failed to save %s settings: %v", s.scope, err))
		return nil, fmt.Errorf("session: save %s: %w", s.scope, err)
	}

	s.tracker.ReArm(stored)
	s.lastErr = nil
	stillDirty := s.edits != edits && !discarded
	if stillDirty {
		absorbInstanceIDs(s.live, submitted, stored)
	} else {
		s.live = stored.Clone()
		s.instances.Bind(s.live)
	}
	if s.isDirtyLocked() {
		s.setStateLocked(StateDirty)
	} else {
		s.setStateLocked(StateClean)
	}

	eventbus.Publish(context.Background(), s.bus, eventbus.Sessions.Saved, eventbus.SourceSession,
		eventbus.SessionSavedEvent{
			Scope:      s.scope,
			Normalized: dirty.Diff(s.schema, submitted, stored),
			StillDirty: stillDirty,
		})
	s.notifyLocked(eventbus.LevelSuccess, fmt.Sprintf("%s settings saved", s.scope))
	return stored.Clone(), nil
}

// Discard reverts live to the baseline.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	baseline := s.tracker.Baseline()
	if baseline == nil {
		return
	}
	s.tracker.Arm(baseline)
	s.live = baseline.Clone()
	s.instances.Bind(s.live)
	s.edits++
	s.discards++
	s.discardEdits = s.edits
	s.lastErr = nil
	if s.state != StateSaving {
		s.setStateLocked(StateClean)
	}
}

// MarkDirty flags the session dirty before any field differs, for values
// the renderer injected without an edit. Save or Discard clears it.
func (s *Session) MarkDirty() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return ErrNotLoaded
	}
	s.tracker.MarkDirtyImmediately()
	s.touchLocked()
	return nil
}

// Invalidate marks the document stale so the next entry reloads it.
func (s *Session) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.invalidated = true
	s.mu.Unlock()
	if inv, ok := s.backend.(Invalidator); ok {
		inv.Invalidate(ctx, s.scope)
	}
}

func (s *Session) isDirtyLocked() bool {
	if s.live == nil {
		return false
	}
	return s.tracker.IsDirty(s.live)
}

// touchLocked records a local edit and recomputes Clean/Dirty.
func (s *Session) touchLocked() {
	s.edits++
	switch s.state {
	case StateSaving, StateLoading:
		return
	}
	if s.isDirtyLocked() {
		s.setStateLocked(StateDirty)
	} else if s.state != StateError {
		s.setStateLocked(StateClean)
	}
}

func (s *Session) setStateLocked(next State) {
	prev := s.state
	s.state = next
	if prev == next {
		return
	}
	event := eventbus.SessionStateEvent{
		Scope:    s.scope,
		State:    string(next),
		Previous: string(prev),
		Dirty:    s.isDirtyLocked(),
	}
	if s.lastErr != nil {
		event.Error = s.lastErr.Error()
	}
	eventbus.Publish(context.Background(), s.bus, eventbus.Sessions.State, eventbus.SourceSession, event)
}

func (s *Session) notifyLocked(level eventbus.NotificationLevel, msg string) {
	eventbus.Publish(context.Background(), s.bus, eventbus.Notifications.Notify, eventbus.SourceSession,
		eventbus.NotificationEvent{Level: level, Scope: s.scope, Message: msg})
}

// absorbInstanceIDs copies server-assigned IDs into live instances that
// were submitted without one. Submitted and live instances are matched by
// name and URL since new instances have no other identity yet.
func absorbInstanceIDs(live, submitted, stored *document.Document) {
	if len(stored.Instances) != len(submitted.Instances) {
		return
	}
	for i := range live.Instances {
		inst := &live.Instances[i]
		if inst.InstanceID != "" {
			continue
		}
		for j, sent := range submitted.Instances {
			if sent.InstanceID == "" && sent.Name == inst.Name && sent.URL == inst.URL {
				inst.InstanceID = stored.Instances[j].InstanceID
				break
			}
		}
	}
}
