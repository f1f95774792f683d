// ABOUTME: Thread-safe TTL cache for dropping retried push commands.
// ABOUTME: Keys are scoped per user so two users may reuse the same client id.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	value   string
	expires time.Time
	element *list.Element
}

// Cache remembers recently claimed keys for a fixed TTL, bounded by maxSize.
// Insertion order is kept in a linked list so the oldest entry is evicted in O(1).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and capacity and starts the
// background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Key scopes a client-supplied id to a user.
func Key(userID, clientID string) string {
	return userID + "\x00" + clientID
}

// Claim atomically records key if it is not already live. It returns false
// when the key was claimed within the TTL, meaning the caller holds a duplicate.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		return false
	}
	c.storeLocked(key, "")
	return true
}

// Resolve attaches a value (for example the persisted message id) to a claimed key.
func (c *Cache) Resolve(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}
	c.storeLocked(key, value)
}

// Lookup returns the value recorded for a live key.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return "", false
	}
	return e.value, true
}

// Release forgets a key so a failed attempt can be retried.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.order.Remove(e.element)
		delete(c.entries, key)
	}
}

// Len returns the number of entries, live or not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// storeLocked must be called with mu held.
func (c *Cache) storeLocked(key, value string) {
	expires := c.now().Add(c.ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.order.MoveToBack(e.element)
		return
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(*entry)
			c.order.Remove(front)
			delete(c.entries, oldest.key)
		}
	}

	e := &entry{key: key, value: value, expires: expires}
	e.element = c.order.PushBack(e)
	c.entries[key] = e
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
