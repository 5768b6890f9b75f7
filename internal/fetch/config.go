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
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// FlagSource is the feature-flag collaborator the Config Snapshot
// polls. Implementations may back it with a YAML file, a remote
// config service, or a static test map.
type FlagSource interface {
	BoolFlag(name string, def bool) bool
	IntFlag(name string, def int) int
	DurationFlag(name string, def time.Duration) time.Duration
}

// Config is the immutable tunables snapshot consumed by the
// orchestrator and strategies.
type Config struct {
	Concurrency         int
	CacheTTL            time.Duration
	EnhancedEnabled     bool
	StreamEnabled       bool
	StreamDetectBuffer  int
	StreamBufferMax     int
	MaxResponseBytes    int64
	MaxStreamChunks     int
	MaxStreamTotalBytes int64
	Timeout             Timeouts
	DedupWrites         bool
	HonorCacheControl   bool
}

// defaultConfig returns the built-in defaults. Used whenever the
// snapshot has never loaded, and as the base a flag source overrides
// field by field.
func defaultConfig() Config {
	return Config{
		Concurrency:         8,
		CacheTTL:            300 * time.Second,
		EnhancedEnabled:     false,
		StreamEnabled:       true,
		StreamDetectBuffer:  4096,
		StreamBufferMax:     65536,
		MaxResponseBytes:    10 << 20,
		MaxStreamChunks:     100,
		MaxStreamTotalBytes: 10 << 20,
		Timeout:             Timeouts{Connect: unsetTimeout, Socket: unsetTimeout, Request: unsetTimeout},
		DedupWrites:         true,
		HonorCacheControl:   false,
	}
}

// snapshot pairs a Config with the time it was loaded, so staleness
// can be judged for the whole snapshot against refreshInterval.
// Individual flags carry no expiry of their own.
type snapshot struct {
	config   Config
	loadedAt time.Time
}

// ConfigSnapshot is a stale-while-revalidate view over a FlagSource.
// current() never blocks; ensureLoaded() blocks only on the very first
// call; concurrent refreshes are deduplicated via
// golang.org/x/sync/singleflight. An atomic-snapshot loader: the whole
// snapshot is stale once refreshInterval has passed since the last
// load; there is no per-flag expiry.
type ConfigSnapshot struct {
	source          FlagSource
	refreshInterval time.Duration

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// NewConfigSnapshot creates a ConfigSnapshot polling source at most
// once per refreshInterval. A nil source keeps built-in defaults
// forever.
func NewConfigSnapshot(source FlagSource, refreshInterval time.Duration) *ConfigSnapshot {
	if refreshInterval <= 0 {
		refreshInterval = 10 * time.Second
	}
	return &ConfigSnapshot{source: source, refreshInterval: refreshInterval}
}

// Current returns the last-known snapshot without blocking, built-in
// defaults if never loaded. If the snapshot is stale it schedules an
// idempotent background refresh and returns the current value
// immediately.
func (c *ConfigSnapshot) Current() Config {
	snap := c.current.Load()
	if snap == nil {
		c.triggerRefresh(false)
		return defaultConfig()
	}
	if c.isStale(snap) {
		c.triggerRefresh(false)
	}
	return snap.config
}

// EnsureLoaded blocks until the first load completes, then behaves
// like Current.
func (c *ConfigSnapshot) EnsureLoaded() Config {
	if c.current.Load() == nil {
		c.triggerRefresh(true)
	}
	return c.Current()
}

// ForceRefresh synchronously reloads all flags, deduplicating
// concurrent invocations onto a single in-flight reload.
func (c *ConfigSnapshot) ForceRefresh() Config {
	c.triggerRefresh(true)
	snap := c.current.Load()
	if snap == nil {
		return defaultConfig()
	}
	return snap.config
}

func (c *ConfigSnapshot) isStale(snap *snapshot) bool {
	return time.Since(snap.loadedAt) >= c.refreshInterval
}

// triggerRefresh loads fresh flags. When wait is true it blocks until
// the (possibly shared) refresh completes; otherwise it kicks off the
// refresh in the background and returns immediately. Refresh failures
// never clear a prior snapshot: reload is best-effort over built-in
// defaults layered with whatever the source returns.
func (c *ConfigSnapshot) triggerRefresh(wait bool) {
	do := func() (interface{}, error) {
		cfg := c.reload()
		c.current.Store(&snapshot{config: cfg, loadedAt: time.Now()})
		return nil, nil
	}
	if wait {
		c.group.Do("refresh", do)
		return
	}
	go c.group.Do("refresh", do)
}

func (c *ConfigSnapshot) reload() Config {
	cfg := defaultConfig()
	if c.source == nil {
		return cfg
	}
	cfg.Concurrency = c.source.IntFlag("concurrency", cfg.Concurrency)
	cfg.CacheTTL = c.source.DurationFlag("cacheTTLSeconds", cfg.CacheTTL)
	cfg.EnhancedEnabled = c.source.BoolFlag("enhancedEnabled", cfg.EnhancedEnabled)
	cfg.StreamEnabled = c.source.BoolFlag("streamEnabled", cfg.StreamEnabled)
	cfg.StreamDetectBuffer = c.source.IntFlag("streamDetectBuffer", cfg.StreamDetectBuffer)
	cfg.StreamBufferMax = c.source.IntFlag("streamBufferMax", cfg.StreamBufferMax)
	cfg.MaxResponseBytes = int64(c.source.IntFlag("maxResponseBytes", int(cfg.MaxResponseBytes)))
	cfg.MaxStreamChunks = c.source.IntFlag("maxStreamChunks", cfg.MaxStreamChunks)
	cfg.MaxStreamTotalBytes = int64(c.source.IntFlag("maxStreamTotalBytes", int(cfg.MaxStreamTotalBytes)))
	cfg.DedupWrites = c.source.BoolFlag("dedupWrites", cfg.DedupWrites)
	cfg.HonorCacheControl = c.source.BoolFlag("honorCacheControl", cfg.HonorCacheControl)

	connect := c.source.DurationFlag("timeoutConnect", 0)
	socket := c.source.DurationFlag("timeoutSocket", 0)
	request := c.source.DurationFlag("timeoutRequest", 0)
	cfg.Timeout = Timeouts{
		Connect: derefOrUnset(connect),
		Socket:  derefOrUnset(socket),
		Request: derefOrUnset(request),
	}
	return cfg
}
