package eventbus

import "sync"

// spillQueue absorbs bursts for subscriptions whose topic must not lose
// events. A single goroutine feeds queued envelopes into the subscriber
// channel in arrival order.
type spillQueue struct {
	mu      sync.Mutex
	items   []Envelope
	limit   int
	wake    chan struct{}
	quit    chan struct{}
	exited  chan struct{}
	stopped sync.Once
}

func newSpillQueue(limit int) *spillQueue {
	if limit <= 0 {
		limit = defaultMaxOverflow
	}
	return &spillQueue{
		limit:  limit,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// push queues env. It reports false when the queue is at its limit.
func (q *spillQueue) push(env Envelope) bool {
	q.mu.Lock()
	if len(q.items) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *spillQueue) next() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Envelope{}, false
	}
	env := q.items[0]
	q.items[0] = Envelope{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return env, true
}

func (q *spillQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *spillQueue) run(ch chan<- Envelope) {
	defer close(q.exited)
	for {
		for {
			env, ok := q.next()
			if !ok {
				break
			}
			select {
			case ch <- env:
			case <-q.quit:
				return
			}
		}
		select {
		case <-q.quit:
			return
		case <-q.wake:
		}
	}
}

// stop ends the feeder and waits for it, so the caller may close ch.
func (q *spillQueue) stop() {
	q.stopped.Do(func() { close(q.quit) })
	<-q.exited
}
