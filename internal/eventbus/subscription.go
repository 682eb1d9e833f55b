package eventbus

import (
	"context"
	"sync/atomic"
)

// Subscription is one consumer of a topic.
type Subscription struct {
	bus    *Bus
	topic  Topic
	id     uint64
	name   string
	policy DeliveryPolicy

	ch    chan Envelope
	done  chan struct{}
	spill *spillQueue

	closed  atomic.Bool
	dropped atomic.Uint64
}

func newSubscription(b *Bus, topic Topic, name string, buffer int, policy DeliveryPolicy) *Subscription {
	if name == "" {
		name = "subscription"
	}
	sub := &Subscription{
		bus:    b,
		topic:  topic,
		id:     b.lastID.Add(1),
		name:   name,
		policy: policy,
		ch:     make(chan Envelope, buffer),
		done:   make(chan struct{}),
	}
	if policy.Strategy == StrategyOverflow {
		sub.spill = newSpillQueue(policy.MaxOverflow)
		go sub.spill.run(sub.ch)
	}
	return sub
}

func closedSubscription() *Subscription {
	sub := &Subscription{ch: make(chan Envelope), done: make(chan struct{})}
	sub.closed.Store(true)
	close(sub.ch)
	close(sub.done)
	return sub
}

// C returns the delivery channel. It closes with the subscription.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Dropped counts envelopes this subscriber lost to backpressure.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() {
	if s.bus == nil {
		return
	}
	s.bus.unroute(s)
}

// closeLocked runs under the bus write lock.
func (s *Subscription) closeLocked() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.spill != nil {
		s.spill.stop()
	}
	close(s.done)
	close(s.ch)
}

func (s *Subscription) deliver(ctx context.Context, env Envelope) {
	if s.closed.Load() || ctx.Err() != nil {
		return
	}

	if s.spill != nil {
		// The feeder owns the channel, so ordering is preserved only if
		// every envelope queues behind the ones already spilled.
		if !s.spill.push(env) {
			s.evictAndSend(env)
		}
		return
	}

	select {
	case s.ch <- env:
	default:
		if s.policy.Strategy == StrategyDropNewest {
			s.drop("drop-newest")
			return
		}
		s.evictAndSend(env)
	}
}

// evictAndSend frees a slot by discarding the oldest buffered envelope.
func (s *Subscription) evictAndSend(env Envelope) {
	select {
	case <-s.ch:
		s.drop("drop-oldest")
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.drop("drop-current")
	}
}

func (s *Subscription) drop(reason string) {
	n := s.dropped.Add(1)
	s.bus.dropped.Add(1)
	s.bus.logger.Printf("[EventBus] %s on %s lost event #%d (%s)", s.name, s.topic, n, reason)
}
