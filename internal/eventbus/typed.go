package eventbus

import (
	"context"
	"sync"
	"time"
)

// TopicDef pairs a topic with the payload type published on it.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef declares a typed topic.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the raw topic.
func (d TopicDef[T]) Topic() Topic { return d.topic }

// PublishOption adjusts the envelope built by Publish.
type PublishOption func(*Envelope)

// WithCorrelationID tags the envelope, e.g. with a bridge request ID.
func WithCorrelationID(id string) PublishOption {
	return func(env *Envelope) { env.CorrelationID = id }
}

// Publish sends payload on td. Publishing to a nil bus does nothing.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T, opts ...PublishOption) {
	if bus == nil {
		return
	}
	env := Envelope{Topic: td.topic, Source: source, Payload: payload}
	for _, opt := range opts {
		opt(&env)
	}
	bus.Publish(ctx, env)
}

// TypedEnvelope is an Envelope whose payload has been asserted to T.
type TypedEnvelope[T any] struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       T
}

// TypedSubscription filters a raw subscription down to payloads of type T.
type TypedSubscription[T any] struct {
	raw     *Subscription
	out     chan TypedEnvelope[T]
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// SubscribeTo subscribes to td. On a nil bus the channel is already closed.
func SubscribeTo[T any](bus *Bus, td TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	return Subscribe[T](bus, td.topic, opts...)
}

// Subscribe subscribes to a raw topic and drops payloads that are not a T.
func Subscribe[T any](bus *Bus, topic Topic, opts ...SubscriptionOption) *TypedSubscription[T] {
	ts := &TypedSubscription[T]{
		out:     make(chan TypedEnvelope[T]),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if bus == nil {
		close(ts.out)
		close(ts.stopped)
		return ts
	}
	ts.raw = bus.Subscribe(topic, opts...)
	go ts.pump()
	return ts
}

// C delivers matching envelopes. It closes when the subscription ends.
func (ts *TypedSubscription[T]) C() <-chan TypedEnvelope[T] { return ts.out }

// Close ends the subscription and waits for the filter goroutine. Repeated
// calls are no-ops.
func (ts *TypedSubscription[T]) Close() {
	ts.once.Do(func() {
		close(ts.stop)
		if ts.raw != nil {
			ts.raw.Close()
		}
		<-ts.stopped
	})
}

func (ts *TypedSubscription[T]) pump() {
	defer close(ts.stopped)
	defer close(ts.out)

	for env := range ts.raw.C() {
		payload, ok := env.Payload.(T)
		if !ok {
			continue
		}
		select {
		case ts.out <- TypedEnvelope[T]{
			Topic:         env.Topic,
			Timestamp:     env.Timestamp,
			Source:        env.Source,
			CorrelationID: env.CorrelationID,
			Payload:       payload,
		}:
		case <-ts.stop:
			return
		}
	}
}

// Consume hands each payload from sub to handler until ctx ends or sub
// closes, then marks wg done when wg is set.
func Consume[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, handler func(T)) {
	if wg != nil {
		defer wg.Done()
	}
	if sub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			handler(env.Payload)
		}
	}
}
