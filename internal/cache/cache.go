// Package cache is a short-TTL, namespaced in-memory cache (spec
// §4.O) sitting in front of the query-side relational lookups (alert
// list, device history, active monitoring profile, alert rules,
// device list). Grounded on the teacher's state.Manager: a
// mutex-guarded map with per-entry bookkeeping, generalized from one
// fixed device map to arbitrary namespaced keys with independent TTLs.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value   interface{}
	expires time.Time
}

// Cache is a namespaced key/value store where every namespace carries
// its own TTL. Reads past their TTL are treated as misses; a
// background sweep never runs — expired entries are reaped lazily on
// the next Get/Set touching them, matching the state manager's
// on-access-eviction style rather than a ticking janitor.
type Cache struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]entry
	ttls       map[string]time.Duration
}

// New builds a Cache. ttls maps namespace name to its entry lifetime;
// a namespace not present in ttls is rejected by Set.
func New(ttls map[string]time.Duration) *Cache {
	namespaces := make(map[string]map[string]entry, len(ttls))
	for ns := range ttls {
		namespaces[ns] = make(map[string]entry)
	}
	return &Cache{namespaces: namespaces, ttls: ttls}
}

// Get returns the cached value for (namespace, key) and whether it was
// present and unexpired.
func (c *Cache) Get(namespace, key string) (interface{}, bool) {
	c.mu.RLock()
	ns, ok := c.namespaces[namespace]
	if !ok {
		c.mu.RUnlock()
		return nil, false
	}
	e, ok := ns[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.mu.Lock()
		if cur, still := ns[key]; still && time.Now().After(cur.expires) {
			delete(ns, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under (namespace, key) with the namespace's
// configured TTL. Set on an unknown namespace is a no-op: namespaces
// are fixed at construction to catch typo'd cache keys early.
func (c *Cache) Set(namespace, key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ttl, ok := c.ttls[namespace]
	if !ok {
		return
	}
	ns, ok := c.namespaces[namespace]
	if !ok {
		ns = make(map[string]entry)
		c.namespaces[namespace] = ns
	}
	ns[key] = entry{value: value, expires: time.Now().Add(ttl)}
}

// InvalidateNamespace drops every entry in namespace. Used when a
// device status change invalidates the device-list namespace (§4.O).
func (c *Cache) InvalidateNamespace(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.namespaces[namespace]; ok {
		c.namespaces[namespace] = make(map[string]entry)
	}
}

// InvalidateKey drops a single (namespace, key) entry.
func (c *Cache) InvalidateKey(namespace, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.namespaces[namespace]; ok {
		delete(ns, key)
	}
}
