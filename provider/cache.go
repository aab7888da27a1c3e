package provider

import (
	"container/list"
	"sync"
	"time"
)

// CacheEntry represents a cached adapter instance
type CacheEntry struct {
	Provider     PaymentProvider
	Key          string
	ProviderName string
	Mode         string
	CreatedAt    time.Time
	LastAccessed time.Time
	listElement  *list.Element // For LRU tracking
}

// Cache holds initialized adapter instances keyed by (provider, mode).
// The TTL bounds how long an instance built from rotated or toggled
// credentials keeps serving before it is rebuilt with a fresh resolution.
type Cache interface {
	// Get retrieves an adapter from cache, returns nil if not found
	Get(providerName, mode string) PaymentProvider

	// Set stores an adapter in cache
	Set(providerName, mode string, p PaymentProvider)

	// Delete removes an adapter from cache
	Delete(providerName, mode string)

	// DeleteProvider removes both mode entries for a provider
	DeleteProvider(providerName string)

	// Clear removes all entries from cache
	Clear()

	// Size returns the current number of cached entries
	Size() int

	// Stats returns cache statistics
	Stats() CacheStats

	// Cleanup removes expired entries
	Cleanup()
}

// CacheStats represents cache performance metrics
type CacheStats struct {
	Size        int           `json:"size"`
	MaxSize     int           `json:"max_size"`
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Evictions   int64         `json:"evictions"`
	TTLExpiries int64         `json:"ttl_expiries"`
	HitRatio    float64       `json:"hit_ratio"`
	TTL         time.Duration `json:"ttl"`
}

// InMemoryCache implements the Cache interface
type InMemoryCache struct {
	entries     map[string]*CacheEntry
	accessOrder *list.List // For LRU tracking, most recent at front
	maxSize     int
	ttl         time.Duration
	mu          sync.RWMutex

	// Stats tracking
	hits        int64
	misses      int64
	evictions   int64
	ttlExpiries int64
}

// NewCache creates a new in-memory adapter cache
func NewCache(maxSize int, ttl time.Duration) Cache {
	return &InMemoryCache{
		entries:     make(map[string]*CacheEntry),
		accessOrder: list.New(),
		maxSize:     maxSize,
		ttl:         ttl,
	}
}

func cacheKey(providerName, mode string) string {
	return providerName + "-" + mode
}

// Get retrieves an adapter from cache
func (c *InMemoryCache) Get(providerName, mode string) PaymentProvider {
	key := cacheKey(providerName, mode)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil
	}

	// Check TTL expiry
	if c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl {
		c.deleteEntryUnsafe(key, entry)
		c.ttlExpiries++
		c.misses++
		return nil
	}

	entry.LastAccessed = time.Now()
	c.accessOrder.MoveToFront(entry.listElement)

	c.hits++
	return entry.Provider
}

// Set stores an adapter in cache
func (c *InMemoryCache) Set(providerName, mode string, p PaymentProvider) {
	key := cacheKey(providerName, mode)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existingEntry, exists := c.entries[key]; exists {
		existingEntry.Provider = p
		existingEntry.CreatedAt = now
		existingEntry.LastAccessed = now
		c.accessOrder.MoveToFront(existingEntry.listElement)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictLRUUnsafe()
	}

	entry := &CacheEntry{
		Provider:     p,
		Key:          key,
		ProviderName: providerName,
		Mode:         mode,
		CreatedAt:    now,
		LastAccessed: now,
	}

	entry.listElement = c.accessOrder.PushFront(entry)
	c.entries[key] = entry
}

// Delete removes an adapter from cache
func (c *InMemoryCache) Delete(providerName, mode string) {
	key := cacheKey(providerName, mode)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		c.deleteEntryUnsafe(key, entry)
	}
}

// DeleteProvider removes both mode entries for a provider
func (c *InMemoryCache) DeleteProvider(providerName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keysToDelete []string
	for key, entry := range c.entries {
		if entry.ProviderName == providerName {
			keysToDelete = append(keysToDelete, key)
		}
	}

	for _, key := range keysToDelete {
		if entry, exists := c.entries[key]; exists {
			c.deleteEntryUnsafe(key, entry)
		}
	}
}

// Clear removes all entries from cache
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*CacheEntry)
	c.accessOrder = list.New()
}

// Size returns the current number of cached entries
func (c *InMemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stats returns cache statistics
func (c *InMemoryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalRequests := c.hits + c.misses
	hitRatio := 0.0
	if totalRequests > 0 {
		hitRatio = float64(c.hits) / float64(totalRequests)
	}

	return CacheStats{
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		TTLExpiries: c.ttlExpiries,
		HitRatio:    hitRatio,
		TTL:         c.ttl,
	}
}

// Cleanup removes expired entries
func (c *InMemoryCache) Cleanup() {
	if c.ttl <= 0 {
		return // No TTL configured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expiredKeys []string

	for key, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > c.ttl {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		if entry, exists := c.entries[key]; exists {
			c.deleteEntryUnsafe(key, entry)
			c.ttlExpiries++
		}
	}
}

// evictLRUUnsafe removes the least recently used entry (must be called with lock held)
func (c *InMemoryCache) evictLRUUnsafe() {
	lruElement := c.accessOrder.Back()
	if lruElement == nil {
		return
	}

	lruEntry := lruElement.Value.(*CacheEntry)
	c.deleteEntryUnsafe(lruEntry.Key, lruEntry)
	c.evictions++
}

// deleteEntryUnsafe removes an entry from both map and list (must be called with lock held)
func (c *InMemoryCache) deleteEntryUnsafe(key string, entry *CacheEntry) {
	delete(c.entries, key)
	if entry.listElement != nil {
		c.accessOrder.Remove(entry.listElement)
	}
}
