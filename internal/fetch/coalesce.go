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

package fetch

import (
	"sync"

	"github.com/kacheio/fetchgate/internal/cache"
)

// Coalescer lets concurrent callers for the same CacheKey share a
// single upstream call's result. The first caller for a key executes
// fn; any caller that arrives while it is in flight waits and
// receives the same outcome without touching the upstream. Only GET
// requests are coalesced -- the orchestrator enforces that by only
// ever calling Do for GETs.
//
// Built around a sync.Cond rendezvous, generalized to fan out a
// decoded CachedValue instead of a raw dumped HTTP response.
type Coalescer struct {
	mu        sync.Mutex
	inflights map[cache.Key]*coalesceCall
}

// coalesceCall is an in-flight or just-resolved coalesced fetch.
type coalesceCall struct {
	*sync.Cond // rendezvous point for waiting goroutines.

	// coalesced marks that at least one caller is waiting on this
	// call's result.
	coalesced bool
	value     cache.CachedValue
	err       error
}

// NewCoalescer returns an empty Coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{inflights: make(map[cache.Key]*coalesceCall)}
}

// Do executes fn for key if no call is already in flight for it,
// otherwise blocks for the in-flight call's result. The third return
// value reports whether this caller coalesced onto another's call. A
// coalesced caller receives its own clone of the resolved value so
// waiters can't mutate each other's bytes.
func (c *Coalescer) Do(key cache.Key, fn func() (cache.CachedValue, error)) (cache.CachedValue, error, bool) {
	c.mu.Lock()
	if inflight, ok := c.inflights[key]; ok {
		// Lock the inflight call before releasing the coalescer lock so
		// it cannot be removed between the two.
		inflight.L.Lock()
		c.mu.Unlock()

		inflight.coalesced = true
		inflight.Wait()
		inflight.L.Unlock()

		if inflight.err != nil {
			return cache.CachedValue{}, inflight.err, true
		}
		return inflight.value.Clone(), nil, true
	}

	call := &coalesceCall{Cond: sync.NewCond(&sync.Mutex{})}
	c.inflights[key] = call
	c.mu.Unlock()

	value, err := fn()

	// Remove before waking waiters: otherwise a woken waiter could
	// race a new caller into re-registering the same key.
	c.mu.Lock()
	delete(c.inflights, key)
	c.mu.Unlock()

	call.L.Lock()
	if call.coalesced {
		call.value, call.err = value, err
		call.Broadcast()
	}
	call.L.Unlock()

	return value, err, false
}

// InFlight reports whether a call for key is currently being
// resolved.
func (c *Coalescer) InFlight(key cache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflights[key]
	return ok
}
