package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/normalman743/apiforward/models"
)

// MemoryCache is an in-process LRU cache with per-entry TTLs. It serves as
// the fallback when no Redis address is configured; entries do not survive
// a restart and are not shared between replicas.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	entry     *Entry
	expiresAt time.Time
}

// NewMemoryCache creates a cache bounded to maxEntries; the least recently
// used entry is evicted when full.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the entry for a fingerprint or ErrCacheMiss. Expired entries
// are removed on access.
func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		return nil, ErrCacheMiss
	}

	item := elem.Value.(*memoryEntry)
	if c.now().After(item.expiresAt) {
		c.removeLocked(fingerprint, elem)
		return nil, ErrCacheMiss
	}

	c.order.MoveToFront(elem)
	return item.entry, nil
}

// Put stores a response under its fingerprint with a TTL.
func (c *MemoryCache) Put(ctx context.Context, fingerprint string, resp *models.NormalizedResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	item := &memoryEntry{
		entry: &Entry{
			Fingerprint: fingerprint,
			Response:    resp,
			CreatedAt:   now.UTC(),
		},
		expiresAt: now.Add(ttl),
	}

	if elem, ok := c.entries[fingerprint]; ok {
		elem.Value = item
		c.order.MoveToFront(elem)
		return nil
	}

	c.entries[fingerprint] = c.order.PushFront(item)

	for len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*memoryEntry).entry.Fingerprint, oldest)
	}
	return nil
}

// Delete removes an entry if present.
func (c *MemoryCache) Delete(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fingerprint]; ok {
		c.removeLocked(fingerprint, elem)
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) removeLocked(fingerprint string, elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, fingerprint)
}
