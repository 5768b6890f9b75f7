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
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/kacheio/fetchgate/internal/provider"
	"github.com/rs/zerolog/log"
)

// l2BufferedEntry is the wire shape of a buffered L2 entry:
// base64 body, header map, status.
type l2BufferedEntry struct {
	BodyB64    string              `json:"body_b64"`
	Headers    map[string][]string `json:"headers"`
	StatusCode int                 `json:"status_code"`
}

// l2StreamMeta is the wire shape of the metadata sibling key for the
// stream encoding.
type l2StreamMeta struct {
	Headers    map[string][]string `json:"headers"`
	StatusCode int                 `json:"status_code"`
}

// CachedStream is a replayed stream-encoded entry: the chunks in
// insertion order plus the metadata recorded alongside them.
type CachedStream struct {
	Chunks     [][]byte
	Header     http.Header
	StatusCode int
}

// RemoteCache is the L2 (distributed) cache collaborator. It adapts a
// provider.RemoteCacheClient behind the buffered/stream encodings.
// Every operation is best-effort: failures are logged and reported as
// a miss/no-op, never surfaced to the caller.
type RemoteCache struct {
	client provider.RemoteCacheClient
}

// NewRemoteCache wraps client as an L2 cache.
func NewRemoteCache(client provider.RemoteCacheClient) *RemoteCache {
	return &RemoteCache{client: client}
}

// GetBuffered fetches and decodes the buffered encoding for key.
func (c *RemoteCache) GetBuffered(ctx context.Context, key Key) (CachedValue, bool) {
	raw := c.client.Fetch(ctx, key.String())
	if raw == nil {
		return CachedValue{}, false
	}
	var entry l2BufferedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error decoding buffered L2 entry")
		return CachedValue{}, false
	}
	body, err := base64.StdEncoding.DecodeString(entry.BodyB64)
	if err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error decoding buffered L2 body")
		return CachedValue{}, false
	}
	return CachedValue{
		Body:       body,
		Header:     http.Header(entry.Headers),
		StatusCode: entry.StatusCode,
	}, true
}

// SetBuffered writes the buffered encoding for key asynchronously;
// write failures are logged by the underlying client and never
// propagate here.
func (c *RemoteCache) SetBuffered(key Key, value CachedValue, ttl time.Duration) {
	entry := l2BufferedEntry{
		BodyB64:    base64.StdEncoding.EncodeToString(value.Body),
		Headers:    map[string][]string(value.Header),
		StatusCode: value.StatusCode,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error encoding buffered L2 entry")
		return
	}
	if err := c.client.StoreAsync(key.String(), raw, ttl); err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error storing buffered L2 entry")
	}
}

// GetStream replays the stream encoding for key. A partial hit (only
// one of the list/meta keys present, or an unparsable meta) is
// treated as a miss.
func (c *RemoteCache) GetStream(ctx context.Context, key Key) (CachedStream, bool) {
	if c.client.StreamLen(ctx, key.StreamKey()) <= 0 {
		return CachedStream{}, false
	}
	rawMeta := c.client.Fetch(ctx, key.StreamMetaKey())
	if rawMeta == nil {
		return CachedStream{}, false
	}
	var meta l2StreamMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error decoding stream L2 metadata")
		return CachedStream{}, false
	}
	chunks := c.client.StreamRange(ctx, key.StreamKey())
	decoded := make([][]byte, 0, len(chunks))
	for _, enc := range chunks {
		chunk, err := base64.StdEncoding.DecodeString(string(enc))
		if err != nil {
			log.Error().Err(err).Str("cache-key", key.String()).Msg("Error decoding stream L2 chunk")
			return CachedStream{}, false
		}
		decoded = append(decoded, chunk)
	}
	return CachedStream{
		Chunks:     decoded,
		Header:     http.Header(meta.Headers),
		StatusCode: meta.StatusCode,
	}, true
}

// Delete removes both the buffered entry and the stream encoding
// (list + meta) for key.
func (c *RemoteCache) Delete(ctx context.Context, key Key) {
	if err := c.client.Delete(ctx, key.String()); err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error deleting buffered L2 entry")
	}
	if err := c.client.Delete(ctx, key.StreamKey()); err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error deleting stream L2 list")
	}
	if err := c.client.Delete(ctx, key.StreamMetaKey()); err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error deleting stream L2 metadata")
	}
}

// Keys lists buffered-entry keys sharing prefix.
func (c *RemoteCache) Keys(ctx context.Context, prefix string) []string {
	return c.client.Keys(ctx, prefix)
}

// StreamTee accumulates chunks pushed to the L2 stream encoding while
// a response body is being relayed to the caller, capping both chunk
// count and total bytes. Safe for one
// writer; Finalize stamps the TTL on both keys once the tee ends.
type StreamTee struct {
	mu sync.Mutex

	client provider.RemoteCacheClient
	key    Key
	ttl    time.Duration

	maxChunks     int
	maxTotalBytes int

	chunksPushed int
	bytesPushed  int
	capped       bool
}

// NewStreamTee creates a tee for key, capped at maxChunks chunks and
// maxTotalBytes bytes. Any chunk list left over from a previous tee on
// the same key is cleared first, so replay never mixes stale chunks
// with the new tee's output.
func NewStreamTee(ctx context.Context, client provider.RemoteCacheClient, key Key, ttl time.Duration, maxChunks, maxTotalBytes int) *StreamTee {
	if err := client.Delete(ctx, key.StreamKey()); err != nil {
		log.Error().Err(err).Str("cache-key", key.String()).Msg("Error clearing stale stream L2 list")
	}
	return &StreamTee{
		client:        client,
		key:           key,
		ttl:           ttl,
		maxChunks:     maxChunks,
		maxTotalBytes: maxTotalBytes,
	}
}

// Write pushes chunk to the stream list unless a cap has already been
// reached; I/O failures are swallowed (logged), matching the
// "teeing never blocks the caller" invariant.
func (t *StreamTee) Write(ctx context.Context, chunk []byte) {
	t.mu.Lock()
	if t.capped {
		t.mu.Unlock()
		return
	}
	if t.maxChunks > 0 && t.chunksPushed >= t.maxChunks {
		t.capped = true
		t.mu.Unlock()
		return
	}
	if t.maxTotalBytes > 0 && t.bytesPushed+len(chunk) > t.maxTotalBytes {
		t.capped = true
		t.mu.Unlock()
		return
	}
	t.chunksPushed++
	t.bytesPushed += len(chunk)
	t.mu.Unlock()

	enc := base64.StdEncoding.EncodeToString(chunk)
	if err := t.client.PushChunk(ctx, t.key.StreamKey(), []byte(enc)); err != nil {
		log.Error().Err(err).Str("cache-key", t.key.String()).Msg("Error pushing stream chunk to L2")
	}
}

// Finalize writes the stream metadata and stamps the TTL on both the
// list and metadata keys. Called once the tee source ends (or is
// capped); I/O failures are logged and otherwise ignored.
func (t *StreamTee) Finalize(ctx context.Context, header http.Header, statusCode int) {
	meta := l2StreamMeta{
		Headers:    map[string][]string(header),
		StatusCode: statusCode,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		log.Error().Err(err).Str("cache-key", t.key.String()).Msg("Error encoding stream L2 metadata")
		return
	}
	if err := t.client.Store(t.key.StreamMetaKey(), raw, t.ttl); err != nil {
		log.Error().Err(err).Str("cache-key", t.key.String()).Msg("Error storing stream L2 metadata")
	}
	if err := t.client.Expire(ctx, t.key.StreamKey(), t.ttl); err != nil {
		log.Error().Err(err).Str("cache-key", t.key.String()).Msg("Error setting stream L2 list TTL")
	}
}
