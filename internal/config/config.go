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

// Package config holds the process-wide root configuration: the pieces
// that are read once at startup (listeners, logging, provider backend)
// plus the flag-driven Fetch Manager tunables, which are re-read on
// every poll interval through a FlagSource.
package config

import (
	"time"

	"github.com/kacheio/fetchgate/internal/provider"
)

// Configuration is the root configuration loaded from file at startup.
type Configuration struct {
	// API holds the admin/introspection API configuration.
	API *API `yaml:"api"`

	// Log holds the logging configuration.
	Log *Log `yaml:"logging"`

	// Provider holds the L2 cache backend configuration.
	Provider *provider.ProviderBackendConfig `yaml:"provider"`

	// Tracing holds the OpenTelemetry exporter configuration.
	Tracing *Tracing `yaml:"tracing"`

	// Fetch holds the Fetch Manager's startup-only settings (the
	// polled tunables live under Flags instead).
	Fetch *Fetch `yaml:"fetch"`

	// Flags holds the Fetch Manager's polled feature-flag values,
	// re-read on every config reload.
	Flags map[string]any `yaml:"flags"`
}

// Tracing configures the OTLP/gRPC trace exporter.
type Tracing struct {
	// Enabled turns on span export. When false the Fetch Manager runs
	// with a nil tracer and pays no tracing overhead.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/gRPC collector address.
	Endpoint string `yaml:"endpoint"`

	// SampleRate is the fraction of traces to sample: 0 disables, 1
	// samples everything.
	SampleRate float64 `yaml:"sample_rate"`
}

// Fetch holds the Fetch Manager's construction-time settings.
type Fetch struct {
	// L1Capacity bounds the in-memory LRU cache's entry count.
	L1Capacity int `yaml:"l1_capacity"`

	// FlagRefreshInterval bounds how often the Config snapshot
	// re-polls Flags.
	FlagRefreshInterval time.Duration `yaml:"flag_refresh_interval"`

	// DNSRefreshInterval bounds how often the outbound transport's
	// resolver cache refreshes.
	DNSRefreshInterval time.Duration `yaml:"dns_refresh_interval"`
}

// API holds the admin API listener configuration.
type API struct {
	// Port is the TCP port the admin API listens on.
	Port int `yaml:"port"`

	// Path is read from the configuration file but not applied: the
	// admin routes are always served under /api/.
	Path string `yaml:"path"`

	// ACL is a comma-separated allowlist of client IPs. Empty disables
	// IP filtering.
	ACL string `yaml:"acl"`

	// Debug enables pprof route registration.
	Debug bool `yaml:"debug"`
}

// Log holds the logger configuration.
type Log struct {
	// Level is the minimum log level (e.g. "info", "debug").
	Level string `yaml:"level"`

	// Format selects "json" or console output. Console is the default.
	Format string `yaml:"format"`

	// FilePath, when set, redirects logs to a rolling file instead of
	// stderr.
	FilePath string `yaml:"file_path"`

	// Color enables ANSI colors in console output.
	Color bool `yaml:"color"`

	// MaxSize, MaxBackups, MaxAge control log file rotation when
	// FilePath is set (see lumberjack.Logger).
	MaxSize    int `yaml:"max_size"`
	MaxBackups int `yaml:"max_backups"`
	MaxAge     int `yaml:"max_age"`
}
