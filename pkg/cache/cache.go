// Package cache provides the key/value cache handed to plugins. All plugins
// share one bounded LRU; each sees only its own namespace.
package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const namespaceSeparator = "\x00"

// Cache is the per-plugin view exposed through the plugin context.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Keys() []string
	Purge()
}

// Store is the shared backing LRU.
type Store struct {
	lru *expirable.LRU[string, any]
}

// NewStore creates a store holding at most size entries, each living for ttl
// (zero disables expiry).
func NewStore(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	return &Store{
		lru: expirable.NewLRU[string, any](size, nil, ttl),
	}
}

// Namespace returns the view of the store for one plugin.
func (s *Store) Namespace(pluginID string) *Namespaced {
	return &Namespaced{
		store:  s,
		prefix: pluginID + namespaceSeparator,
	}
}

// Len returns the number of entries across all namespaces.
func (s *Store) Len() int {
	return s.lru.Len()
}

// Namespaced is a Cache restricted to one key prefix.
type Namespaced struct {
	store  *Store
	prefix string
}

// Get returns the value stored under key.
func (n *Namespaced) Get(key string) (any, bool) {
	return n.store.lru.Get(n.prefix + key)
}

// Set stores value under key.
func (n *Namespaced) Set(key string, value any) {
	n.store.lru.Add(n.prefix+key, value)
}

// Delete removes key.
func (n *Namespaced) Delete(key string) {
	n.store.lru.Remove(n.prefix + key)
}

// Keys returns the live keys of this namespace, oldest first.
func (n *Namespaced) Keys() []string {
	var keys []string
	for _, k := range n.store.lru.Keys() {
		if rest, ok := strings.CutPrefix(k, n.prefix); ok {
			keys = append(keys, rest)
		}
	}
	return keys
}

// Purge removes every entry of this namespace.
func (n *Namespaced) Purge() {
	for _, k := range n.store.lru.Keys() {
		if strings.HasPrefix(k, n.prefix) {
			n.store.lru.Remove(k)
		}
	}
}
