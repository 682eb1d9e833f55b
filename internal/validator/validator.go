// Package validator runs debounced connection tests for instance fields.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/eventbus"
	"github.com/arrdeck/arrdeck/internal/fetcher"
	"github.com/arrdeck/arrdeck/internal/version"
)

// Status is the outcome class of a validation.
type Status string

const (
	StatusDisabled   Status = "disabled"
	StatusIncomplete Status = "incomplete"
	StatusChecking   Status = "checking"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Incomplete reasons.
const (
	ReasonMissingURL  = "missing-url"
	ReasonMissingKey  = "missing-key"
	ReasonMissingBoth = "missing-both"
)

var (
	// ErrSuperseded is returned to a call replaced by a newer call for the
	// same key, or cancelled through Cancel or Close.
	ErrSuperseded = errors.New("validator: superseded")
	// ErrClosed is returned once the validator is closed.
	ErrClosed = errors.New("validator: closed")
)

// Candidate is the connection under test.
type Candidate struct {
	Scope      string
	URL        string
	Credential string
	Enabled    bool
}

// Result is a settled validation.
type Result struct {
	Key       string
	Scope     string
	Status    Status
	Reason    string
	Version   string
	Message   string
	CheckedAt time.Time
}

// ProbeResult is what a successful connection test reports.
type ProbeResult struct {
	Version string
	Message string
}

// Prober performs one connection test.
type Prober interface {
	Probe(ctx context.Context, c Candidate) (ProbeResult, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, c Candidate) (ProbeResult, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, c Candidate) (ProbeResult, error) {
	return f(ctx, c)
}

// FieldKey names the validation slot of one instance of a scope.
func FieldKey(scope string, index int) string {
	return scope + ":" + strconv.Itoa(index)
}

// Option customises a Validator.
type Option func(*Validator)

// WithDebounce sets the inactivity window before a probe.
func WithDebounce(d time.Duration) Option {
	return func(v *Validator) {
		if d >= 0 {
			v.debounce = d
		}
	}
}

// WithMinLengths sets the completeness thresholds.
func WithMinLengths(url, key int) Option {
	return func(v *Validator) {
		if url > 0 {
			v.minURL = url
		}
		if key > 0 {
			v.minKey = key
		}
	}
}

// WithProbeTimeout bounds a single probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.probeTimeout = d
		}
	}
}

// WithBus publishes results on bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(v *Validator) {
		v.bus = bus
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

type call struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Validator debounces and runs connection tests, one slot per key.
type Validator struct {
	prober       Prober
	bus          *eventbus.Bus
	logger       *log.Logger
	debounce     time.Duration
	minURL       int
	minKey       int
	probeTimeout time.Duration
	now          func() time.Time

	mu      sync.Mutex
	pending map[string]*call
	last    map[string]Result
	closed  bool
}

// New returns a validator probing through prober.
func New(prober Prober, opts ...Option) *Validator {
	v := &Validator{
		prober:       prober,
		logger:       log.Default(),
		debounce:     constants.ValidatorDebounce,
		minURL:       constants.ValidatorMinURLLength,
		minKey:       constants.ValidatorMinKeyLength,
		probeTimeout: constants.ConnectionTestTimeout,
		now:          time.Now,
		pending:      make(map[string]*call),
		last:         make(map[string]Result),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate tests c for key. Disabled and incomplete candidates settle at
// once; others wait for the debounce window and then probe. A newer call for
// the same key makes this one return ErrSuperseded.
func (v *Validator) Validate(ctx context.Context, key string, c Candidate) (Result, error) {
	cl, err := v.begin(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer cl.cancel(nil)

	base := Result{Key: key, Scope: c.Scope}

	if !c.Enabled {
		base.Status = StatusDisabled
		return v.settle(key, cl, base)
	}
	if reason := v.incomplete(c); reason != "" {
		base.Status = StatusIncomplete
		base.Reason = reason
		return v.settle(key, cl, base)
	}

	if v.debounce > 0 {
		timer := time.NewTimer(v.debounce)
		select {
		case <-cl.ctx.Done():
			timer.Stop()
			return Result{}, v.abandon(key, cl)
		case <-timer.C:
		}
	}

	eventbus.Publish(cl.ctx, v.bus, eventbus.Validation.Result, eventbus.SourceValidator,
		eventbus.ValidationResultEvent{Key: key, Scope: c.Scope, Status: string(StatusChecking)})

	probeCtx, cancel := context.WithTimeout(cl.ctx, v.probeTimeout)
	probed, err := v.prober.Probe(probeCtx, c)
	cancel()

	if cl.ctx.Err() != nil {
		return Result{}, v.abandon(key, cl)
	}
	if err != nil {
		base.Status = StatusError
		base.Message = describe(err)
		return v.settle(key, cl, base)
	}
	base.Status = StatusConnected
	base.Version = version.FormatVersion(probed.Version)
	base.Message = probed.Message
	return v.settle(key, cl, base)
}

// Last returns the most recent settled result for key.
func (v *Validator) Last(key string) (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	res, ok := v.last[key]
	return res, ok
}

// Pending reports whether a call for key has not settled yet.
func (v *Validator) Pending(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.pending[key]
	return ok
}

// Cancel supersedes the pending call for key without a replacement.
func (v *Validator) Cancel(key string) {
	v.mu.Lock()
	cl := v.pending[key]
	delete(v.pending, key)
	v.mu.Unlock()
	if cl != nil {
		cl.cancel(ErrSuperseded)
	}
}

// Remove drops the slot of instance index of scope and moves the results of
// later instances down one slot, following the registry's re-index. Pending
// calls from index on are cancelled since their keys no longer name the
// instance being probed. count is the instance count before the removal.
func (v *Validator) Remove(scope string, index, count int) {
	var stale []*call
	v.mu.Lock()
	for i := index; i < count; i++ {
		key := FieldKey(scope, i)
		if cl := v.pending[key]; cl != nil {
			stale = append(stale, cl)
			delete(v.pending, key)
		}
		delete(v.last, key)
		if i+1 == count {
			continue
		}
		if res, ok := v.last[FieldKey(scope, i+1)]; ok {
			res.Key = key
			v.last[key] = res
		}
	}
	v.mu.Unlock()
	for _, cl := range stale {
		cl.cancel(ErrSuperseded)
	}
}

// Close supersedes all pending calls; later calls fail with ErrClosed.
func (v *Validator) Close() {
	v.mu.Lock()
	v.closed = true
	calls := v.pending
	v.pending = make(map[string]*call)
	v.mu.Unlock()
	for _, cl := range calls {
		cl.cancel(ErrSuperseded)
	}
}

func (v *Validator) begin(ctx context.Context, key string) (*call, error) {
	cctx, cancel := context.WithCancelCause(ctx)
	cl := &call{ctx: cctx, cancel: cancel}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		cancel(ErrClosed)
		return nil, ErrClosed
	}
	prev := v.pending[key]
	v.pending[key] = cl
	v.mu.Unlock()

	if prev != nil {
		prev.cancel(ErrSuperseded)
	}
	return cl, nil
}

// settle records res unless cl was superseded meanwhile.
func (v *Validator) settle(key string, cl *call, res Result) (Result, error) {
	res.CheckedAt = v.now()

	v.mu.Lock()
	if v.pending[key] != cl {
		v.mu.Unlock()
		return Result{}, ErrSuperseded
	}
	delete(v.pending, key)
	v.last[key] = res
	v.mu.Unlock()

	eventbus.Publish(context.Background(), v.bus, eventbus.Validation.Result, eventbus.SourceValidator,
		eventbus.ValidationResultEvent{
			Key:     res.Key,
			Scope:   res.Scope,
			Status:  string(res.Status),
			Reason:  res.Reason,
			Version: res.Version,
			Message: res.Message,
		})
	return res, nil
}

// abandon clears cl's slot and reports why it stopped.
func (v *Validator) abandon(key string, cl *call) error {
	v.mu.Lock()
	if v.pending[key] == cl {
		delete(v.pending, key)
	}
	v.mu.Unlock()

	if cause := context.Cause(cl.ctx); errors.Is(cause, ErrSuperseded) {
		return ErrSuperseded
	}
	return cl.ctx.Err()
}

func (v *Validator) incomplete(c Candidate) string {
	missingURL := len(strings.TrimSpace(c.URL)) < v.minURL
	missingKey := len(strings.TrimSpace(c.Credential)) < v.minKey
	switch {
	case missingURL && missingKey:
		return ReasonMissingBoth
	case missingURL:
		return ReasonMissingURL
	case missingKey:
		return ReasonMissingKey
	}
	return ""
}

// describe turns a probe failure into text for the user.
func describe(err error) string {
	var envErr *fetcher.EnvelopeError
	var statusErr *fetcher.StatusError
	switch {
	case errors.As(err, &envErr):
		return envErr.Error()
	case errors.As(err, &statusErr):
		switch statusErr.Code {
		case 401, 403:
			return fmt.Sprintf("authentication failed (HTTP %d)", statusErr.Code)
		case 404:
			return "test endpoint not found (HTTP 404)"
		}
		return statusErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "connection timed out"
	case errors.Is(err, fetcher.ErrMalformedResponse):
		return "unexpected response from backend"
	}
	return err.Error()
}
