// Package eventbus is the in-process publish/subscribe channel between the
// controller components and the rendering bridge.
package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Observer sees every published envelope, before delivery.
type Observer interface {
	OnPublish(Envelope)
}

// Metrics is a snapshot of bus counters.
type Metrics struct {
	PublishTotal uint64
	DroppedTotal uint64
}

// Per-topic channel capacity. Session traffic is the burstiest: a bulk
// load emits a transition per scope.
var defaultBuffers = map[Topic]int{
	TopicNavigationChanged: 64,
	TopicSessionState:      128,
	TopicSessionSaved:      64,
	TopicValidationResult:  128,
	TopicStatusUpdated:     64,
	TopicNotification:      64,
}

// Bus routes envelopes to the subscribers of their topic.
type Bus struct {
	logger    *log.Logger
	buffers   map[Topic]int
	policies  map[Topic]DeliveryPolicy
	observers []Observer

	mu     sync.RWMutex
	routes map[Topic]map[uint64]*Subscription
	lastID atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

// BusOption customises a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger for drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the subscriber channel capacity for topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		b.buffers[topic] = max(size, 1)
	}
}

// WithTopicPolicy overrides how topic behaves when a subscriber falls behind.
func WithTopicPolicy(topic Topic, policy DeliveryPolicy) BusOption {
	return func(b *Bus) {
		b.policies[topic] = policy
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(obs Observer) BusOption {
	return func(b *Bus) {
		if obs != nil {
			b.observers = append(b.observers, obs)
		}
	}
}

// New returns an empty bus.
func New(opts ...BusOption) *Bus {
	b := &Bus{
		logger:   log.Default(),
		buffers:  make(map[Topic]int, len(defaultBuffers)),
		policies: make(map[Topic]DeliveryPolicy),
		routes:   make(map[Topic]map[uint64]*Subscription),
	}
	for topic, size := range defaultBuffers {
		b.buffers[topic] = size
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddObserver registers an observer on a running bus.
func (b *Bus) AddObserver(obs Observer) {
	if b == nil || obs == nil {
		return
	}
	b.mu.Lock()
	b.observers = append(b.observers, obs)
	b.mu.Unlock()
}

// Publish routes env to the subscribers of env.Topic. Components use the
// typed Publish instead.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	if b == nil || env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}
	b.published.Add(1)

	// Held across delivery so Close cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, obs := range b.observers {
		obs.OnPublish(env)
	}
	for _, sub := range b.routes[env.Topic] {
		sub.deliver(ctx, env)
	}
}

// Metrics returns the bus counters.
func (b *Bus) Metrics() Metrics {
	if b == nil {
		return Metrics{}
	}
	return Metrics{PublishTotal: b.published.Load(), DroppedTotal: b.dropped.Load()}
}

// Subscribe adds a subscriber to topic. On a nil bus the subscription is
// already closed.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		return closedSubscription()
	}

	cfg := subscriptionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := newSubscription(b, topic, cfg.name, max(b.buffers[topic], 1), policyFor(topic, b.policies))

	b.mu.Lock()
	if b.routes[topic] == nil {
		b.routes[topic] = make(map[uint64]*Subscription)
	}
	b.routes[topic][sub.id] = sub
	b.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			select {
			case <-cfg.ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Shutdown closes every subscription.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.routes {
		for _, sub := range subs {
			sub.closeLocked()
		}
		delete(b.routes, topic)
	}
}

func (b *Bus) unroute(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.routes[sub.topic], sub.id)
	sub.closeLocked()
}

// SubscriptionOption customises one subscription.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	name string
	ctx  context.Context
}

// WithSubscriptionName names the subscriber in drop warnings.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.name = name
	}
}

// WithContext closes the subscription when ctx ends.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.ctx = ctx
	}
}
