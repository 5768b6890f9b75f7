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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kacheio/fetchgate/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstream is a test fetcher holding a per-key hit counter. A key
// listed in gated blocks on wait until it's closed, letting tests pile
// up concurrent callers before the first one resolves.
type upstream struct {
	wait chan struct{}

	mu    sync.Mutex
	hits  map[string]int
	gated map[string]bool
}

func (u *upstream) fetch(key cache.Key) (cache.CachedValue, error) {
	u.mu.Lock()
	u.hits[key.String()]++
	gate := u.gated[key.String()]
	u.mu.Unlock()

	if gate {
		<-u.wait
	}
	return cache.CachedValue{Body: []byte(key.String()), StatusCode: 200}, nil
}

func TestCoalescerSharesOneUpstreamCallAmongConcurrentCallers(t *testing.T) {
	up := &upstream{hits: make(map[string]int), gated: map[string]bool{"GET:/coalesced": true}, wait: make(chan struct{})}
	c := NewCoalescer()
	key := cache.NewKey("GET", "/coalesced")

	n := 100
	var wg sync.WaitGroup
	var coalescedCount atomic.Int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			value, err, coalesced := c.Do(key, func() (cache.CachedValue, error) { return up.fetch(key) })
			require.NoError(t, err)
			assert.Equal(t, "GET:/coalesced", string(value.Body))
			if coalesced {
				coalescedCount.Add(1)
			}
		}()
	}

	time.Sleep(100 * time.Millisecond)

	otherKey := cache.NewKey("GET", "/non-coalesced")
	_, err, _ := c.Do(otherKey, func() (cache.CachedValue, error) { return up.fetch(otherKey) })
	require.NoError(t, err)

	close(up.wait)
	wg.Wait()

	up.mu.Lock()
	hits := up.hits["GET:/coalesced"]
	up.mu.Unlock()
	assert.Equal(t, 1, hits)
	assert.Equal(t, int64(n-1), coalescedCount.Load())
}

func TestCoalescerPropagatesError(t *testing.T) {
	c := NewCoalescer()
	key := cache.NewKey("GET", "/err")
	wantErr := fmt.Errorf("boom")

	_, err, _ := c.Do(key, func() (cache.CachedValue, error) { return cache.CachedValue{}, wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func TestCoalescerRemovesEntryAfterResolution(t *testing.T) {
	c := NewCoalescer()
	key := cache.NewKey("GET", "/once")
	_, _, _ = c.Do(key, func() (cache.CachedValue, error) { return cache.CachedValue{}, nil })
	assert.False(t, c.InFlight(key))
}
