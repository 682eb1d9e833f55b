package fetcher

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/arrdeck/arrdeck/internal/cachestore"
)

// Entry is a cached response.
type Entry = cachestore.Entry

// Persister is the optional on-disk layer behind Cache.
type Persister interface {
	Get(ctx context.Context, key string) (cachestore.Entry, error)
	Put(ctx context.Context, entry cachestore.Entry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// Cache is a process-wide keyed response store. Writes are last-writer-wins
// per key; there is no atomicity across keys.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	persister Persister
	logger    *log.Logger
}

// NewCache creates a cache. persister may be nil.
func NewCache(persister Persister, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		entries:   make(map[string]Entry),
		persister: persister,
		logger:    logger,
	}
}

// Get returns the entry for key, warming from the persister on a memory miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok || c.persister == nil {
		return cloneEntry(entry), ok
	}

	stored, err := c.persister.Get(ctx, key)
	if err != nil {
		if !cachestore.IsNotFound(err) {
			c.logger.Printf("[Cache] warm %s failed: %v", key, err)
		}
		return Entry{}, false
	}

	c.mu.Lock()
	// A concurrent Put wins over the disk copy.
	if current, exists := c.entries[key]; exists {
		c.mu.Unlock()
		return cloneEntry(current), true
	}
	c.entries[key] = stored
	c.mu.Unlock()
	return cloneEntry(stored), true
}

// Put stores entry in memory and writes it through to the persister.
// Persister failures are logged; the in-memory value stays authoritative.
func (c *Cache) Put(ctx context.Context, entry Entry) {
	entry = cloneEntry(entry)
	c.mu.Lock()
	c.entries[entry.Key] = entry
	c.mu.Unlock()

	if c.persister != nil {
		if err := c.persister.Put(ctx, entry); err != nil {
			c.logger.Printf("[Cache] persist %s failed: %v", entry.Key, err)
		}
	}
}

// Delete drops key.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.persister != nil {
		if err := c.persister.Delete(ctx, key); err != nil {
			c.logger.Printf("[Cache] delete %s failed: %v", key, err)
		}
	}
}

// Invalidate drops every key with the given prefix and returns how many
// in-memory entries were removed.
func (c *Cache) Invalidate(ctx context.Context, prefix string) int {
	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if c.persister != nil {
		if _, err := c.persister.DeletePrefix(ctx, prefix); err != nil {
			c.logger.Printf("[Cache] invalidate %q failed: %v", prefix, err)
		}
	}
	return removed
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneEntry(e Entry) Entry {
	if e.Value != nil {
		e.Value = append([]byte(nil), e.Value...)
	}
	return e
}
