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
	"bytes"
	"net/http"
	"testing"

	"github.com/kacheio/fetchgate/internal/cache"
	"github.com/kacheio/fetchgate/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBuffered(t *testing.T, data string, cfg Config) (*Response, *cache.MemoryCache, *cache.RemoteCache, provider.RemoteCacheClient, *Semaphore) {
	t.Helper()
	body := &closeTrackingReader{Reader: &stringsReader{data: []byte(data)}}
	client := provider.NewInMemoryRemoteClient()
	l1 := cache.NewMemoryCache(16)
	l2 := cache.NewRemoteCache(client)
	key := cache.NewKey("GET", "http://svc/x")
	sem := NewSemaphore(1)
	require.True(t, sem.TryAcquire())

	resp := RunBufferStrategy("http://svc/x", body, http.Header{}, 200, key, cfg, l1, l2, client, newOnceRelease(sem), nil)
	return resp, l1, l2, client, sem
}

func TestRunBufferStrategyEndsWithinBoundsEmitsBuffered(t *testing.T) {
	cfg := defaultConfig()
	resp, l1, _, _, sem := runBuffered(t, "hello world", cfg)

	require.False(t, resp.IsStreaming())
	out, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))

	value, ok := l1.Get(cache.NewKey("GET", "http://svc/x"))
	require.True(t, ok)
	assert.Equal(t, "hello world", string(value.Body))
	assert.Equal(t, 0, sem.InFlight(), "EMIT_B releases synchronously")
}

func TestRunBufferStrategyEmptyBodyEmitsZeroLengthBuffered(t *testing.T) {
	cfg := defaultConfig()
	resp, l1, _, _, _ := runBuffered(t, "", cfg)

	require.False(t, resp.IsStreaming())
	out, err := resp.Bytes()
	require.NoError(t, err)
	assert.Empty(t, out)

	value, ok := l1.Get(cache.NewKey("GET", "http://svc/x"))
	require.True(t, ok)
	assert.Empty(t, value.Body)
}

func TestRunBufferStrategyOverStreamBufferMaxSwitchesToStreamWithoutL1Write(t *testing.T) {
	cfg := defaultConfig()
	cfg.StreamBufferMax = 10

	payload := bytes.Repeat([]byte("x"), 25)
	resp, l1, _, _, sem := runBuffered(t, string(payload), cfg)

	require.True(t, resp.IsStreaming())
	out, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	_, ok := l1.Get(cache.NewKey("GET", "http://svc/x"))
	assert.False(t, ok, "no L1 write when switching to stream")

	waitForCondition(t, func() bool { return sem.InFlight() == 0 })
}

func TestRunBufferStrategyOverMaxResponseBytesSwitchesToStreamWithoutCaching(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxResponseBytes = 5
	cfg.StreamBufferMax = 1 << 20

	payload := bytes.Repeat([]byte("y"), 12)
	resp, l1, _, client, sem := runBuffered(t, string(payload), cfg)

	require.True(t, resp.IsStreaming())
	out, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, payload, out, "full upstream bytes still reach the caller")

	_, ok := l1.Get(cache.NewKey("GET", "http://svc/x"))
	assert.False(t, ok)

	waitForCondition(t, func() bool { return sem.InFlight() == 0 })

	key := cache.NewKey("GET", "http://svc/x")
	assert.Zero(t, client.StreamLen(nil, key.StreamKey()), "sizeExceeded must never tee to L2")
}

func TestRunBufferStrategyDeterministicAcrossEmitAndStreamPaths(t *testing.T) {
	payload := "the quick brown fox jumps over the lazy dog"

	emitCfg := defaultConfig()
	emitResp, _, _, _, _ := runBuffered(t, payload, emitCfg)
	require.False(t, emitResp.IsStreaming())
	emitOut, err := emitResp.Bytes()
	require.NoError(t, err)

	streamCfg := defaultConfig()
	streamCfg.StreamBufferMax = 4
	streamResp, _, _, _, sem := runBuffered(t, payload, streamCfg)
	require.True(t, streamResp.IsStreaming())
	streamOut, err := streamResp.Bytes()
	require.NoError(t, err)
	waitForCondition(t, func() bool { return sem.InFlight() == 0 })

	assert.Equal(t, emitOut, streamOut)
	assert.Equal(t, payload, string(emitOut))
}

func TestRunBufferStrategyTeesStreamRemainderToL2WhenEnabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.StreamBufferMax = 2

	resp, _, _, client, sem := runBuffered(t, "abcdefghij", cfg)
	require.True(t, resp.IsStreaming())
	out, err := resp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(out))

	waitForCondition(t, func() bool { return sem.InFlight() == 0 })
	key := cache.NewKey("GET", "http://svc/x")
	waitForCondition(t, func() bool { return client.StreamLen(nil, key.StreamKey()) > 0 })
}
