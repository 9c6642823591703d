package geocode

import (
	"context"
	"sync"

	"github.com/civicwatch/disruption-ingest/internal/observability"
)

// CachedAddressGeocoder wraps an AddressGeocoder with an in-memory LRU cache.
// Addresses repeat heavily within one run (the same street corner appears in
// many announcements), so this saves most provider round trips.
type CachedAddressGeocoder struct {
	inner   AddressGeocoder
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedAddressGeocoder creates a cache decorator around a geocoder.
func NewCachedAddressGeocoder(inner AddressGeocoder, maxEntries int, metrics *observability.Metrics) *CachedAddressGeocoder {
	return &CachedAddressGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedAddressGeocoder) GeocodeAddress(ctx context.Context, address string) (AddressResult, error) {
	if result, ok := c.cache.get(address); ok {
		c.metrics.GeocodeCache.WithLabelValues("address", "hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("address", "miss").Inc()

	result, err := c.inner.GeocodeAddress(ctx, address)
	if err != nil {
		return result, err
	}
	// Only cache resolved addresses so transient "not found" responses can
	// be retried on a later source.
	if result.Found {
		c.cache.put(address, result)
	}
	return result, nil
}

// lruCache is a simple thread-safe LRU cache for address results.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value AddressResult
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (AddressResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return AddressResult{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value AddressResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
