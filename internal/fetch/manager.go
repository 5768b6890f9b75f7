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
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kacheio/fetchgate/internal/cache"
	"github.com/kacheio/fetchgate/internal/provider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"
)

// ManagerOptions configures a Manager. Every field is optional; a zero
// value yields built-in defaults (in-memory L1 only, no L2, no
// tracing, no metrics registration).
type ManagerOptions struct {
	FlagSource      FlagSource
	RefreshInterval time.Duration

	L1Capacity int

	RemoteCacheClient provider.RemoteCacheClient

	// Transport overrides the outbound http.RoundTripper. When nil, a
	// Manager builds its own DNS-cached transport and owns its
	// lifecycle (including the background resolver refresh).
	Transport http.RoundTripper

	DNSRefreshInterval time.Duration

	Tracer     trace.Tracer
	Registerer prometheus.Registerer

	Defaults RequestOptions
}

// Manager is the Fetch Manager: the stateful collaborator behind
// Fetch/FetchStream, owning the config snapshot, concurrency gate,
// both cache tiers, the inflight coalescer, and the outbound
// transport. Safe for concurrent use by many goroutines.
type Manager struct {
	config *ConfigSnapshot

	sem *Semaphore

	l1       *cache.MemoryCache
	l2       *cache.RemoteCache
	l2Client provider.RemoteCacheClient

	coalescer *Coalescer

	transport http.RoundTripper
	resolver  *dnscache.Resolver
	stopDNS   context.CancelFunc

	tracer  trace.Tracer
	metrics *metrics

	defaults RequestOptions
}

// NewManager constructs a Manager from opts. The caller is responsible
// for calling Close when the Manager is no longer needed, to stop the
// background DNS refresh goroutine and the L2 client's job queue.
func NewManager(opts ManagerOptions) *Manager {
	l1Capacity := opts.L1Capacity
	if l1Capacity <= 0 {
		l1Capacity = 10000
	}

	var l2 *cache.RemoteCache
	if opts.RemoteCacheClient != nil {
		l2 = cache.NewRemoteCache(opts.RemoteCacheClient)
	}

	transport := opts.Transport
	resolver := &dnscache.Resolver{}
	ctx, cancel := context.WithCancel(context.Background())
	if transport == nil {
		transport = NewTransport(resolver)
		startResolverRefresh(ctx, resolver, opts.DNSRefreshInterval)
	} else {
		cancel()
	}

	cfgSnap := NewConfigSnapshot(opts.FlagSource, opts.RefreshInterval)
	initial := cfgSnap.EnsureLoaded()

	return &Manager{
		config:    cfgSnap,
		sem:       NewSemaphore(initial.Concurrency),
		l1:        cache.NewMemoryCache(l1Capacity),
		l2:        l2,
		l2Client:  opts.RemoteCacheClient,
		coalescer: NewCoalescer(),
		transport: transport,
		resolver:  resolver,
		stopDNS:   cancel,
		tracer:    opts.Tracer,
		metrics:   newMetrics(opts.Registerer),
		defaults:  opts.Defaults,
	}
}

// Close stops the background DNS refresh and the L2 client's job
// queue. It does not wait for in-flight Fetch/FetchStream calls to
// finish.
func (m *Manager) Close() {
	m.stopDNS()
	if m.l2Client != nil {
		m.l2Client.Stop()
	}
}

// syncConcurrency resizes the semaphore to match the latest config, a
// cheap no-op when capacity hasn't changed.
func (m *Manager) syncConcurrency(cfg Config) {
	if m.sem.Capacity() != cfg.Concurrency {
		m.sem.Resize(cfg.Concurrency)
	}
}

// PurgeCache evicts key from both cache tiers.
func (m *Manager) PurgeCache(ctx context.Context, key cache.Key) {
	m.l1.Delete(key)
	if m.l2 != nil {
		m.l2.Delete(ctx, key)
	}
}

// CacheKeys lists L1 keys sharing prefix, for introspection.
func (m *Manager) CacheKeys(prefix string) []cache.Key {
	return m.l1.Keys(prefix)
}

// CurrentConfig returns the last-known config snapshot without
// blocking, for introspection.
func (m *Manager) CurrentConfig() Config {
	return m.config.Current()
}

// ReloadConfig forces a synchronous config refresh, for the admin
// reload endpoint and SIGHUP handling.
func (m *Manager) ReloadConfig() Config {
	return m.config.ForceRefresh()
}

var (
	managerMu       sync.Mutex
	managerInstance *Manager
)

// Configure replaces the package-level singleton Manager, closing any
// previous instance first. Intended for process startup.
func Configure(opts ManagerOptions) *Manager {
	managerMu.Lock()
	defer managerMu.Unlock()
	if managerInstance != nil {
		managerInstance.Close()
	}
	managerInstance = NewManager(opts)
	return managerInstance
}

// GetManager returns the package-level singleton, lazily constructing
// one with built-in defaults if Configure was never called.
func GetManager() *Manager {
	managerMu.Lock()
	defer managerMu.Unlock()
	if managerInstance == nil {
		managerInstance = NewManager(ManagerOptions{})
	}
	return managerInstance
}

// Reset closes and clears the package-level singleton. Tests use this
// to isolate Configure calls across cases.
func Reset() {
	managerMu.Lock()
	defer managerMu.Unlock()
	if managerInstance != nil {
		managerInstance.Close()
	}
	managerInstance = nil
}
