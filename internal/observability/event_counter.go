// Package observability exports controller counters to Prometheus.
package observability

import (
	"sync"

	"github.com/arrdeck/arrdeck/internal/eventbus"
)

// EventCounter counts published events per topic and, for notifications,
// per level. Register it with eventbus.WithObserver.
type EventCounter struct {
	mu            sync.Mutex
	topics        map[eventbus.Topic]uint64
	notifications map[eventbus.NotificationLevel]uint64
}

// NewEventCounter creates an empty counter.
func NewEventCounter() *EventCounter {
	return &EventCounter{
		topics:        make(map[eventbus.Topic]uint64),
		notifications: make(map[eventbus.NotificationLevel]uint64),
	}
}

// OnPublish implements eventbus.Observer.
func (c *EventCounter) OnPublish(env eventbus.Envelope) {
	if env.Topic == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[env.Topic]++
	if note, ok := env.Payload.(eventbus.NotificationEvent); ok {
		c.notifications[note.Level]++
	}
}

// Snapshot returns a copy of the per-topic counts.
func (c *EventCounter) Snapshot() map[eventbus.Topic]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[eventbus.Topic]uint64, len(c.topics))
	for k, v := range c.topics {
		out[k] = v
	}
	return out
}

// Notifications returns a copy of the per-level notification counts.
func (c *EventCounter) Notifications() map[eventbus.NotificationLevel]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[eventbus.NotificationLevel]uint64, len(c.notifications))
	for k, v := range c.notifications {
		out[k] = v
	}
	return out
}
