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
	"net/url"
	"strings"
	"time"

	"github.com/kacheio/fetchgate/internal/cache"
)

// unsetTimeout marks a timeout stage as not configured. Zero means
// the caller explicitly removed that stage.
const unsetTimeout = time.Duration(-1)

// Timeouts holds the three independently-enforced timeout stages. A
// stage at unsetTimeout is not enforced.
type Timeouts struct {
	Connect time.Duration
	Socket  time.Duration
	Request time.Duration
}

// TimeoutOverrides is the object form of the timeout input. Each field
// is a tri-state: nil means "not specified, inherit", a pointer to 0
// means "explicitly removed", anything else is the stage's duration.
type TimeoutOverrides struct {
	Connect *time.Duration
	Socket  *time.Duration
	Request *time.Duration
}

// RequestOptions is the caller/default-facing input to Normalize,
// mirroring the Fetch API's `init` object.
type RequestOptions struct {
	Method  string
	Headers http.Header
	Body    []byte
	Form    url.Values
	Timeout *TimeoutOverrides
	// TimeoutMillis is the numeric-input timeout form; it expands to
	// {connect: n, socket: n} and takes precedence over Timeout when
	// HasTimeoutMillis is true.
	TimeoutMillis    time.Duration
	HasTimeoutMillis bool
	Signal           context.Context
}

// NormalizedOptions is the output of Normalize: a
// canonical, dispatch-ready request description.
type NormalizedOptions struct {
	Method  string
	Headers http.Header
	Body    []byte
	Timeout Timeouts
	Signal  context.Context
}

// Normalize canonicalizes rawURL and opts against defaults, producing
// the (url, options) pair the orchestrator dispatches on, plus the
// CacheKey derived from the result.
func Normalize(rawURL string, opts, defaults RequestOptions) (string, NormalizedOptions, cache.Key) {
	method := opts.Method
	if method == "" {
		method = defaults.Method
	}
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	body := opts.Body
	headers := mergeHeaders(defaults.Headers, opts.Headers)

	if body == nil && len(opts.Form) > 0 {
		body = []byte(opts.Form.Encode())
		if !hasHeaderCaseInsensitive(headers, "Content-Type") {
			headers = setHeader(headers, "Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
		}
	}

	timeout := mergeTimeouts(opts, defaults)

	signal := opts.Signal
	if signal == nil {
		signal = defaults.Signal
	}
	if signal == nil {
		signal = context.Background()
	}

	if len(body) == 0 {
		body = nil
	}
	if len(headers) == 0 {
		headers = nil
	}

	normalized := NormalizedOptions{
		Method:  method,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
		Signal:  signal,
	}

	return rawURL, normalized, cache.NewKey(method, rawURL)
}

// mergeTimeouts applies the numeric-or-object timeout input over
// defaults, honoring explicit-zero-removes-stage semantics.
func mergeTimeouts(opts, defaults RequestOptions) Timeouts {
	base := Timeouts{Connect: unsetTimeout, Socket: unsetTimeout, Request: unsetTimeout}
	if defaults.HasTimeoutMillis {
		base.Connect = defaults.TimeoutMillis
		base.Socket = defaults.TimeoutMillis
	}
	if defaults.Timeout != nil {
		if defaults.Timeout.Connect != nil {
			base.Connect = derefOrUnset(*defaults.Timeout.Connect)
		}
		if defaults.Timeout.Socket != nil {
			base.Socket = derefOrUnset(*defaults.Timeout.Socket)
		}
		if defaults.Timeout.Request != nil {
			base.Request = derefOrUnset(*defaults.Timeout.Request)
		}
	}

	if opts.HasTimeoutMillis {
		base.Connect = opts.TimeoutMillis
		base.Socket = opts.TimeoutMillis
		return base
	}
	if opts.Timeout == nil {
		return base
	}

	applyStage := func(defaultVal time.Duration, override *time.Duration) time.Duration {
		if override == nil {
			return defaultVal
		}
		if *override == 0 {
			return 0
		}
		return *override
	}
	base.Connect = applyStage(base.Connect, opts.Timeout.Connect)
	base.Socket = applyStage(base.Socket, opts.Timeout.Socket)
	base.Request = applyStage(base.Request, opts.Timeout.Request)
	return base
}

func derefOrUnset(d time.Duration) time.Duration {
	if d == 0 {
		return unsetTimeout
	}
	return d
}

// applyConfigTimeoutDefaults fills any stage Normalize left at
// unsetTimeout from the reloadable config-level Timeouts, so a
// deployment's timeoutConnect/timeoutSocket/timeoutRequest flags act
// as the outermost fallback layer, below per-call and per-manager
// defaults.
func applyConfigTimeoutDefaults(t, configDefault Timeouts) Timeouts {
	if t.Connect == unsetTimeout {
		t.Connect = configDefault.Connect
	}
	if t.Socket == unsetTimeout {
		t.Socket = configDefault.Socket
	}
	if t.Request == unsetTimeout {
		t.Request = configDefault.Request
	}
	return t
}

// mergeHeaders merges defaults then caller headers preserving the
// case of the first occurrence. User-Agent
// collisions concatenate with a single space; all other collisions
// collapse into a multi-value list. A caller header whose values are
// all empty strips the corresponding default entry.
func mergeHeaders(defaults, caller http.Header) http.Header {
	type entry struct {
		key  string
		vals []string
	}
	byLower := make(map[string]*entry)

	for k, v := range defaults {
		if isFalsyHeaderValue(v) {
			continue
		}
		byLower[strings.ToLower(k)] = &entry{key: k, vals: append([]string(nil), v...)}
	}

	for k, v := range caller {
		lower := strings.ToLower(k)
		if isFalsyHeaderValue(v) {
			delete(byLower, lower)
			continue
		}
		if e, ok := byLower[lower]; ok {
			if lower == "user-agent" {
				e.vals = []string{strings.Join(append(append([]string(nil), e.vals...), v...), " ")}
			} else {
				e.vals = append(e.vals, v...)
			}
			continue
		}
		byLower[lower] = &entry{key: k, vals: append([]string(nil), v...)}
	}

	if len(byLower) == 0 {
		return nil
	}
	out := make(http.Header, len(byLower))
	for _, e := range byLower {
		out[e.key] = e.vals
	}
	return out
}

func isFalsyHeaderValue(v []string) bool {
	if len(v) == 0 {
		return true
	}
	for _, s := range v {
		if s != "" {
			return false
		}
	}
	return true
}

func hasHeaderCaseInsensitive(h http.Header, name string) bool {
	lower := strings.ToLower(name)
	for k := range h {
		if strings.ToLower(k) == lower {
			return true
		}
	}
	return false
}

func setHeader(h http.Header, name, value string) http.Header {
	if h == nil {
		h = http.Header{}
	}
	h[name] = []string{value}
	return h
}
