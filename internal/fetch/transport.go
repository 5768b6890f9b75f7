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
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// NewTransport builds the default outbound http.RoundTripper: tuned
// dialer and idle-connection settings, plus a shared DNS resolver
// cache so repeated fetches to the same host don't re-resolve on
// every request. The 30s dialer timeout is an upper bound on each
// dial; a per-request Connect stage carried via withTimeouts shortens
// it, and a Socket stage adds an idle deadline, through
// withTimeoutAwareDial.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	dialContext := dialer.DialContext
	if resolver != nil {
		dialContext = cachedDialContext(dialer, resolver)
	}
	dialContext = withTimeoutAwareDial(dialContext)

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{},
	}
	return transport
}

// timeoutsContextKey carries a Timeouts value through a request's
// context so the dialer can read the Connect/Socket stages that apply
// to it -- http.Transport always dials using the request's own
// context, so this rides along for free.
type timeoutsContextKey struct{}

// withTimeouts attaches t to ctx for a later withTimeoutAwareDial to
// read during the dial.
func withTimeouts(ctx context.Context, t Timeouts) context.Context {
	return context.WithValue(ctx, timeoutsContextKey{}, t)
}

// timeoutsFromContext retrieves a Timeouts value previously attached
// by withTimeouts.
func timeoutsFromContext(ctx context.Context) (Timeouts, bool) {
	t, ok := ctx.Value(timeoutsContextKey{}).(Timeouts)
	return t, ok
}

// withTimeoutAwareDial wraps dial so a Timeouts value carried on the
// dial's context (see withTimeouts) narrows the dial itself to the
// Connect stage, and wraps the resulting connection so every Read and
// Write resets an idle deadline for the Socket stage. A context with
// no Timeouts value, or one with a stage left at unsetTimeout or
// zero, dials exactly as before.
func withTimeoutAwareDial(dial func(context.Context, string, string) (net.Conn, error)) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		t, ok := timeoutsFromContext(ctx)

		dialCtx := ctx
		if ok && t.Connect > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, t.Connect)
			defer cancel()
		}

		conn, err := dial(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		if ok && t.Socket > 0 {
			return newIdleConn(conn, t.Socket), nil
		}
		return conn, nil
	}
}

// idleConn resets its deadline on every Read and Write, implementing
// a socket/idle timeout that fires only after timeout elapses with no
// traffic in either direction, independent of the overall request
// deadline enforced separately via the request's context.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func newIdleConn(c net.Conn, timeout time.Duration) *idleConn {
	ic := &idleConn{Conn: c, timeout: timeout}
	_ = ic.Conn.SetDeadline(time.Now().Add(timeout))
	return ic
}

func (c *idleConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
	return n, err
}

func (c *idleConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
	return n, err
}

// cachedDialContext resolves the host through resolver before dialing,
// falling back to the dialer's default behavior on any resolution
// failure.
func cachedDialContext(dialer *net.Dialer, resolver *dnscache.Resolver) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}

		ips, err := resolver.LookupHost(ctx, host)
		if err != nil || len(ips) == 0 {
			return dialer.DialContext(ctx, network, addr)
		}

		var lastErr error
		for _, ip := range ips {
			conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if dialErr == nil {
				return conn, nil
			}
			lastErr = dialErr
		}
		return nil, lastErr
	}
}

// startResolverRefresh periodically refreshes resolver's cache entries
// until ctx is done, stopped by the Manager on reset().
func startResolverRefresh(ctx context.Context, resolver *dnscache.Resolver, interval time.Duration) {
	if resolver == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resolver.Refresh(true)
			}
		}
	}()
}
