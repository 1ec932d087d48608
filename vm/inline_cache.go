package vm

import (
	lru "github.com/hashicorp/golang-lru"
)

// ---------------------------------------------------------------------------
// Method cache
// ---------------------------------------------------------------------------

// The method cache memoizes MRO searches keyed by (klass, name). It holds
// unbound results only; binding happens per access. Missing attributes are
// cached too so repeated failed lookups stay cheap.
//
// The cache is purged after every collection and whenever a type's dict is
// written through setattr.

type cacheKey struct {
	klass *Klass
	name  string
}

// cacheMiss marks a negative entry.
type cacheMiss struct{}

// methodCache wraps an LRU cache. A nil lru disables caching.
type methodCache struct {
	lru *lru.Cache

	Hits   uint64
	Misses uint64
	Purges uint64
}

func newMethodCache(size int) *methodCache {
	mc := &methodCache{}
	if size > 0 {
		c, err := lru.New(size)
		if err != nil {
			fatalf("method cache: %s", err)
		}
		mc.lru = c
	}
	return mc
}

func (mc *methodCache) get(k *Klass, name string) (Value, bool) {
	if mc.lru == nil {
		return nil, false
	}
	v, ok := mc.lru.Get(cacheKey{k, name})
	if !ok {
		mc.Misses++
		return nil, false
	}
	mc.Hits++
	if _, miss := v.(cacheMiss); miss {
		return nil, true
	}
	return v.(Value), true
}

func (mc *methodCache) put(k *Klass, name string, v Value) {
	if mc.lru == nil {
		return
	}
	if v == nil {
		mc.lru.Add(cacheKey{k, name}, cacheMiss{})
		return
	}
	mc.lru.Add(cacheKey{k, name}, v)
}

// purge drops every entry.
func (mc *methodCache) purge() {
	if mc.lru == nil {
		return
	}
	mc.lru.Purge()
	mc.Purges++
}

// Len returns the number of cached entries.
func (mc *methodCache) Len() int {
	if mc.lru == nil {
		return 0
	}
	return mc.lru.Len()
}
