// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package cache

import (
	"net/http"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedValue is a completed, buffered response: the entity the memory
// cache (L1) and the buffered L2 encoding both hold. Immutable once
// constructed -- callers must clone Body/Header before mutating.
type CachedValue struct {
	Body       []byte
	Header     http.Header
	StatusCode int
}

// Clone returns a deep copy of v, safe for a caller to mutate.
func (v CachedValue) Clone() CachedValue {
	body := make([]byte, len(v.Body))
	copy(body, v.Body)
	return CachedValue{
		Body:       body,
		Header:     v.Header.Clone(),
		StatusCode: v.StatusCode,
	}
}

// MemoryCache is a bounded, thread-safe LRU of CacheKey -> CachedValue.
// No TTL: eviction is by capacity alone, 
type MemoryCache struct {
	mu    sync.RWMutex
	inner *lru.Cache[Key, CachedValue]
}

// NewMemoryCache creates an L1 cache bounded to capacity entries. A
// non-positive capacity falls back to 1 (an always-miss cache would
// defeat the point of L1, and hashicorp/golang-lru rejects size <= 0).
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1
	}
	inner, _ := lru.New[Key, CachedValue](capacity)
	return &MemoryCache{inner: inner}
}

// Get looks up key, updating recency on a hit.
func (c *MemoryCache) Get(key Key) (CachedValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(key)
}

// Set inserts or replaces an entry for key.
func (c *MemoryCache) Set(key Key, value CachedValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, value)
}

// Delete evicts key, returning whether it was present.
func (c *MemoryCache) Delete(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Remove(key)
}

// Keys returns the keys currently held whose string form carries
// prefix (empty prefix matches all), oldest first.
func (c *MemoryCache) Keys(prefix string) []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := c.inner.Keys()
	if prefix == "" {
		return all
	}
	out := make([]Key, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(string(k), prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of entries currently held.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner.Len()
}

// Purge removes every entry.
func (c *MemoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}

// Resize changes the LRU's capacity live, evicting the oldest entries
// if the new capacity is smaller than the current occupancy.
func (c *MemoryCache) Resize(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Resize(capacity)
}
