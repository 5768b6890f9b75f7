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

// Package provider holds the L2 (distributed) cache transport
// collaborator. The transport itself -- a key-value store with list
// and expiry semantics -- is an external system (Redis); this package
// only adapts it behind RemoteCacheClient so the cache package never
// has to know which store is behind it.
package provider

import (
	"context"
	"errors"
	"time"
)

// RemoteCacheClient is a generalized interface to interact with a remote,
// out-of-process cache. Buffered entries use Fetch/Store; the stream
// encoding uses the chunk-list operations.
type RemoteCacheClient interface {
	// Fetch fetches a key from the remote cache.
	// Returns nil if the key does not exist or an error occurs.
	Fetch(ctx context.Context, key string) []byte

	// Store stores a key and value into the remote cache, synchronously.
	Store(key string, value []byte, ttl time.Duration) error

	// StoreAsync enqueues a store operation to run on the client's
	// background job queue; it never blocks the caller.
	StoreAsync(key string, value []byte, ttl time.Duration) error

	// Delete deletes a key from the remote cache.
	Delete(ctx context.Context, key string) error

	// Keys returns a slice of cache keys sharing the given prefix.
	Keys(ctx context.Context, prefix string) []string

	// PushChunk appends one base64-encoded body chunk to the stream
	// list stored at key. Used while teeing a streaming response to L2.
	PushChunk(ctx context.Context, key string, chunk []byte) error

	// StreamLen returns the number of chunks currently stored at key,
	// or 0 if the key does not exist.
	StreamLen(ctx context.Context, key string) int

	// StreamRange returns every chunk stored at key, in insertion
	// order (oldest first).
	StreamRange(ctx context.Context, key string) [][]byte

	// Expire sets (or refreshes) the TTL on key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Stop stops the job queue's workers and closes the client
	// connection; jobs still waiting in the queue may not run.
	Stop()
}

const (
	BackendInMemory = "inmemory"
	BackendRedis    = "redis"
)

var errUnsupportedCacheBackend = errors.New("unsupported cache backend")

// ProviderBackendConfig holds the configuration for the L2 cache backend.
type ProviderBackendConfig struct {
	Backend string            `yaml:"backend"`
	Redis   RedisClientConfig `yaml:"redis"`
}

// NewRemoteCacheClient creates a RemoteCacheClient for the configured backend.
func NewRemoteCacheClient(name string, config ProviderBackendConfig) (RemoteCacheClient, error) {
	switch config.Backend {
	case BackendRedis, "":
		client, err := NewRedisClient(name, config.Redis)
		if err != nil {
			return nil, errors.Join(err, errors.New("failed to create redis client"))
		}
		return client, nil
	case BackendInMemory:
		return NewInMemoryRemoteClient(), nil
	default:
		return nil, errUnsupportedCacheBackend
	}
}
