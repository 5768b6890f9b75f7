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

package provider

import (
	"context"
	"strings"
	"sync"
	"time"
)

// inMemoryRemoteClient is a RemoteCacheClient stand-in that keeps
// everything in a process-local map. It exists for local development
// and for tests that want a RemoteCacheClient without a real Redis
// instance; it reuses the expiry bookkeeping style of a small LRU
// provider but without the LRU or size budget (a single-process
// stand-in has no need to bound itself the way a real L2 transport's
// resource limits would).
type inMemoryRemoteClient struct {
	mu      sync.Mutex
	values  map[string][]byte
	lists   map[string][][]byte
	expires map[string]time.Time
}

var _ RemoteCacheClient = (*inMemoryRemoteClient)(nil)

// NewInMemoryRemoteClient creates an in-process RemoteCacheClient.
func NewInMemoryRemoteClient() RemoteCacheClient {
	return &inMemoryRemoteClient{
		values:  make(map[string][]byte),
		lists:   make(map[string][][]byte),
		expires: make(map[string]time.Time),
	}
}

func (c *inMemoryRemoteClient) expired(key string) bool {
	if exp, ok := c.expires[key]; ok && time.Now().After(exp) {
		delete(c.values, key)
		delete(c.lists, key)
		delete(c.expires, key)
		return true
	}
	return false
}

func (c *inMemoryRemoteClient) Fetch(_ context.Context, key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired(key) {
		return nil
	}
	return c.values[key]
}

func (c *inMemoryRemoteClient) Store(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	if ttl > 0 {
		c.expires[key] = time.Now().Add(ttl)
	}
	return nil
}

func (c *inMemoryRemoteClient) StoreAsync(key string, value []byte, ttl time.Duration) error {
	return c.Store(key, value, ttl)
}

func (c *inMemoryRemoteClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	delete(c.lists, key)
	delete(c.expires, key)
	return nil
}

func (c *inMemoryRemoteClient) Keys(_ context.Context, prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range c.lists {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *inMemoryRemoteClient) PushChunk(_ context.Context, key string, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.lists[key] = append(c.lists[key], cp)
	return nil
}

func (c *inMemoryRemoteClient) StreamLen(_ context.Context, key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired(key) {
		return 0
	}
	return len(c.lists[key])
}

func (c *inMemoryRemoteClient) StreamRange(_ context.Context, key string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired(key) {
		return nil
	}
	out := make([][]byte, len(c.lists[key]))
	copy(out, c.lists[key])
	return out
}

func (c *inMemoryRemoteClient) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, hasVal := c.values[key]; !hasVal {
		if _, hasList := c.lists[key]; !hasList {
			return nil
		}
	}
	c.expires[key] = time.Now().Add(ttl)
	return nil
}

func (c *inMemoryRemoteClient) Stop() {}
