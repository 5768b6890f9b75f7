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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kacheio/fetchgate/internal/cache"
)

// errStreamingBypassed signals, within a coalesced upstream call, that
// the result could not be materialized into a shareable CachedValue --
// either the streaming detection predicate fired, or the buffering
// strategy itself fell back to a pass-through stream mid-body. The
// goroutine that actually ran the call (the coalescer's leader) never
// observes this as a visible error: it reads the live Response back
// out of the closure-captured variable instead. A follower that joins
// an in-flight call ending this way has no live body to share and
// issues its own independent upstream call.
var errStreamingBypassed = errors.New("fetch: result not cacheable, falling back to direct stream")

// Fetch is the Fetch-API-equivalent entry point. ctx is the ambient Go
// context; if opts.Signal is nil it becomes the cancellation handle
// carried through normalization.
func (m *Manager) Fetch(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	if opts.Signal == nil {
		opts.Signal = ctx
	}
	cfg := m.config.EnsureLoaded()
	url, normalized, key := Normalize(rawURL, opts, m.defaults)
	normalized.Timeout = applyConfigTimeoutDefaults(normalized.Timeout, cfg.Timeout)
	m.syncConcurrency(cfg)

	spanCtx, span := startFetchSpan(normalized.Signal, m.tracer, normalized.Method, url)
	defer span.end()
	span.setBool("http.enhanced-fetch", cfg.EnhancedEnabled)
	normalized.Signal = spanCtx

	if !cfg.EnhancedEnabled {
		return m.plainFetch(normalized, url, cfg, key, span)
	}
	if normalized.Method != http.MethodGet {
		return m.nonGetFetch(normalized, url, span)
	}
	return m.getFetch(normalized, url, cfg, key, span)
}

// FetchStream is the raw-stream entry point: in enhanced mode it
// bypasses every cache tier and the coalescer, always delivering the
// live upstream body under semaphore ownership. In plain mode it
// behaves exactly like Fetch.
func (m *Manager) FetchStream(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	if opts.Signal == nil {
		opts.Signal = ctx
	}
	cfg := m.config.EnsureLoaded()
	url, normalized, key := Normalize(rawURL, opts, m.defaults)
	normalized.Timeout = applyConfigTimeoutDefaults(normalized.Timeout, cfg.Timeout)
	m.syncConcurrency(cfg)

	spanCtx, span := startFetchSpan(normalized.Signal, m.tracer, normalized.Method, url)
	defer span.end()
	span.setBool("http.enhanced-fetch", cfg.EnhancedEnabled)
	normalized.Signal = spanCtx

	if !cfg.EnhancedEnabled {
		return m.plainFetch(normalized, url, cfg, key, span)
	}

	release := newOnceRelease(m.sem)
	if err := m.sem.Acquire(normalized.Signal); err != nil {
		span.setError(err)
		return nil, classifyContextErr(normalized.Signal, err)
	}
	m.metrics.setInflight(m.sem.InFlight())
	resp, err := m.roundTripWithRetry(normalized, url)
	if err != nil {
		release.Release()
		m.metrics.setInflight(m.sem.InFlight())
		span.setError(err)
		return nil, err
	}
	span.setInt("http.status_code", int64(resp.StatusCode))
	span.setBool("http.is_streaming", true)
	return RunStreamStrategy(resp.Body, resp.Header, resp.StatusCode, key, cfg, m.l2Client, release), nil
}

// plainFetch is the non-enhanced transport-level path: no cache
// tiers, no coalescing, no semaphore ownership.
func (m *Manager) plainFetch(n NormalizedOptions, url string, cfg Config, key cache.Key, span *fetchSpan) (*Response, error) {
	resp, err := m.roundTripWithRetry(n, url)
	if err != nil {
		span.setError(err)
		return nil, err
	}
	span.setInt("http.status_code", int64(resp.StatusCode))
	release := newOnceRelease(nil)
	if isStreamingResponse(resp.Header) {
		span.setBool("http.is_streaming", true)
		return RunStreamStrategy(resp.Body, resp.Header, resp.StatusCode, key, cfg, nil, release), nil
	}
	return RunBufferStrategy(url, resp.Body, resp.Header, resp.StatusCode, key, cfg, nil, nil, nil, release, span), nil
}

// nonGetFetch handles write methods: caches and the coalescer are
// never consulted; the result is always buffered.
func (m *Manager) nonGetFetch(n NormalizedOptions, url string, span *fetchSpan) (*Response, error) {
	release := newOnceRelease(m.sem)
	if err := m.sem.Acquire(n.Signal); err != nil {
		span.setError(err)
		return nil, classifyContextErr(n.Signal, err)
	}
	m.metrics.setInflight(m.sem.InFlight())
	defer func() {
		release.Release()
		m.metrics.setInflight(m.sem.InFlight())
	}()

	resp, err := m.roundTripWithRetry(n, url)
	if err != nil {
		span.setError(err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = classifyContextErr(n.Signal, err)
		span.setError(err)
		return nil, err
	}
	span.setInt("http.status_code", int64(resp.StatusCode))
	return NewBufferedResponse(resp.StatusCode, resp.Header, body), nil
}

// getFetch handles GET in enhanced mode: L1, then L2 buffered, then L2
// stream-replay, then the inflight coalescer, before ever acquiring
// the semaphore.
func (m *Manager) getFetch(n NormalizedOptions, url string, cfg Config, key cache.Key, span *fetchSpan) (*Response, error) {
	if value, ok := m.l1.Get(key); ok {
		span.setBool("http.cache_hit", true)
		m.metrics.recordHit("l1")
		return NewBufferedResponse(value.StatusCode, value.Header, value.Body), nil
	}

	if m.l2 != nil {
		if value, ok := m.l2.GetBuffered(n.Signal, key); ok {
			m.l1.Set(key, value)
			span.setBool("http.redis_hit", true)
			m.metrics.recordHit("l2_buffered")
			return NewBufferedResponse(value.StatusCode, value.Header, value.Body), nil
		}

		if cs, ok := m.l2.GetStream(n.Signal, key); ok {
			span.setBool("http.redis_stream_replay", true)
			span.setBool("http.is_streaming", true)
			m.metrics.recordHit("l2_stream")
			return replayStream(cs), nil
		}
	}

	var liveStream *Response
	value, err, coalesced := m.coalescer.Do(key, func() (cache.CachedValue, error) {
		v, live, ferr := m.coalescedUpstreamCall(n, url, cfg, key, span)
		if live != nil {
			liveStream = live
		}
		return v, ferr
	})

	if liveStream != nil {
		span.setBool("http.is_streaming", true)
		return liveStream, nil
	}
	if err != nil {
		if errors.Is(err, errStreamingBypassed) {
			return m.streamingFallback(n, url, cfg, key, span)
		}
		span.setError(err)
		return nil, err
	}

	span.setBool("http.inflight_dedupe", coalesced)
	if coalesced {
		m.metrics.recordHit("inflight")
	}
	return NewBufferedResponse(value.StatusCode, value.Header, value.Body), nil
}

// streamingFallback performs an independent, non-coalesced upstream
// call for a caller that joined an inflight entry which resolved to a
// live stream it cannot share: inflight entries are CachedValue-typed,
// so a streaming outcome always falls outside the shared future.
func (m *Manager) streamingFallback(n NormalizedOptions, url string, cfg Config, key cache.Key, span *fetchSpan) (*Response, error) {
	value, live, err := m.coalescedUpstreamCall(n, url, cfg, key, span)
	if live != nil {
		span.setBool("http.is_streaming", true)
		return live, nil
	}
	if err != nil {
		span.setError(err)
		return nil, err
	}
	return NewBufferedResponse(value.StatusCode, value.Header, value.Body), nil
}

// coalescedUpstreamCall acquires the gate, performs the upstream call,
// and dispatches to the streaming or buffering strategy with semaphore
// ownership transferred. A non-streaming, fully-buffered outcome
// becomes a CachedValue other coalesced callers can clone; a streaming
// outcome (by header detection, or the buffering strategy falling back
// mid-body) is returned as a live Response instead, paired with
// errStreamingBypassed.
func (m *Manager) coalescedUpstreamCall(n NormalizedOptions, url string, cfg Config, key cache.Key, span *fetchSpan) (cache.CachedValue, *Response, error) {
	release := newOnceRelease(m.sem)
	if err := m.sem.Acquire(n.Signal); err != nil {
		return cache.CachedValue{}, nil, classifyContextErr(n.Signal, err)
	}
	m.metrics.setInflight(m.sem.InFlight())

	resp, err := m.roundTripWithRetry(n, url)
	if err != nil {
		release.Release()
		m.metrics.setInflight(m.sem.InFlight())
		return cache.CachedValue{}, nil, err
	}

	if isStreamingResponse(resp.Header) {
		live := RunStreamStrategy(resp.Body, resp.Header, resp.StatusCode, key, cfg, m.l2Client, release)
		return cache.CachedValue{}, live, errStreamingBypassed
	}

	buffered := RunBufferStrategy(url, resp.Body, resp.Header, resp.StatusCode, key, cfg, m.l1, m.l2, m.l2Client, release, span)
	if buffered.IsStreaming() {
		return cache.CachedValue{}, buffered, errStreamingBypassed
	}
	body, _ := buffered.Bytes()
	return cache.CachedValue{Body: body, Header: buffered.Header, StatusCode: buffered.StatusCode}, nil, nil
}

// roundTripWithRetry performs the upstream call with a one-retry
// policy: a single retry restarts the byte stream from offset zero,
// inside the same semaphore acquisition.
func (m *Manager) roundTripWithRetry(n NormalizedOptions, url string) (*http.Response, error) {
	// cancel is intentionally not deferred here: the body returned to
	// the caller may still be streaming when this call returns, and
	// cancelling its context would cut that body short. The timer
	// releases itself once the request-stage deadline passes.
	ctx, _ := withRequestTimeout(n.Signal, n.Timeout)
	ctx = withTimeouts(ctx, n.Timeout)

	req, err := buildRequest(ctx, url, n)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := m.transport.RoundTrip(req)
	if err == nil {
		m.metrics.observeUpstreamSeconds(time.Since(started).Seconds())
		return resp, nil
	}

	req2, buildErr := buildRequest(ctx, url, n)
	if buildErr != nil {
		return nil, classifyContextErr(ctx, err)
	}
	started = time.Now()
	resp2, err2 := m.transport.RoundTrip(req2)
	if err2 != nil {
		return nil, classifyContextErr(ctx, err2)
	}
	m.metrics.observeUpstreamSeconds(time.Since(started).Seconds())
	return resp2, nil
}

// withRequestTimeout derives a context bounded by the request-stage
// timeout, if one is configured. unsetTimeout and an explicit zero
// both mean "do not enforce".
func withRequestTimeout(ctx context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	if t.Request <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, t.Request)
}

// buildRequest assembles the outbound *http.Request from normalized
// options, carrying its headers and optional body.
func buildRequest(ctx context.Context, url string, n NormalizedOptions) (*http.Request, error) {
	var body io.Reader
	if n.Body != nil {
		body = bytes.NewReader(n.Body)
	}
	req, err := http.NewRequestWithContext(ctx, n.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if n.Headers != nil {
		req.Header = n.Headers.Clone()
	}
	return req, nil
}

// classifyContextErr maps a transport/acquire failure onto the error
// taxonomy: a cancelled context is Aborted, an expired
// deadline is Timeout, anything else is a plain TransportError.
func classifyContextErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrAborted, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case ctx.Err() == context.Canceled:
		return fmt.Errorf("%w: %v", ErrAborted, err)
	case ctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}

// replayStream synthesizes a Response from a stream-replay L2 hit,
// emitting the captured chunks in insertion order.
func replayStream(cs cache.CachedStream) *Response {
	readers := make([]io.Reader, len(cs.Chunks))
	for i, chunk := range cs.Chunks {
		readers[i] = bytes.NewReader(chunk)
	}
	return NewStreamResponse(cs.StatusCode, cs.Header, io.NopCloser(io.MultiReader(readers...)))
}
