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
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeoutAwareDialAppliesConnectTimeout(t *testing.T) {
	slowDial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			return nil, errors.New("dial should have been cancelled by the connect timeout")
		}
	}
	dial := withTimeoutAwareDial(slowDial)

	ctx := withTimeouts(context.Background(), Timeouts{Connect: 5 * time.Millisecond, Socket: unsetTimeout, Request: unsetTimeout})
	_, err := dial(ctx, "tcp", "example.invalid:80")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeoutAwareDialPassesThroughWithoutTimeouts(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	var receivedCtx context.Context
	dial := withTimeoutAwareDial(func(ctx context.Context, network, addr string) (net.Conn, error) {
		receivedCtx = ctx
		return client, nil
	})

	conn, err := dial(context.Background(), "tcp", "example.invalid:80")
	require.NoError(t, err)
	defer conn.Close()

	_, hasDeadline := receivedCtx.Deadline()
	assert.False(t, hasDeadline, "no Timeouts on the context must leave it unmodified")

	_, isIdle := conn.(*idleConn)
	assert.False(t, isIdle, "no Socket stage must leave the raw conn unwrapped")
}

func TestWithTimeoutAwareDialWrapsConnWhenSocketConfigured(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	dial := withTimeoutAwareDial(func(ctx context.Context, network, addr string) (net.Conn, error) {
		return client, nil
	})

	ctx := withTimeouts(context.Background(), Timeouts{Connect: unsetTimeout, Socket: 50 * time.Millisecond, Request: unsetTimeout})
	conn, err := dial(ctx, "tcp", "example.invalid:80")
	require.NoError(t, err)
	defer conn.Close()

	_, isIdle := conn.(*idleConn)
	assert.True(t, isIdle)
}

func TestIdleConnResetsDeadlineOnTraffic(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	ic := newIdleConn(client, 50*time.Millisecond)
	defer ic.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			time.Sleep(30 * time.Millisecond)
			_, _ = server.Write([]byte("x"))
		}
	}()

	buf := make([]byte, 1)
	for i := 0; i < 3; i++ {
		n, err := ic.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	<-done
}

func TestIdleConnTimesOutWithoutTraffic(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	ic := newIdleConn(client, 10*time.Millisecond)
	defer ic.Close()

	buf := make([]byte, 1)
	_, err := ic.Read(buf)
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestApplyConfigTimeoutDefaultsFillsUnsetStagesOnly(t *testing.T) {
	configDefault := Timeouts{Connect: 2 * time.Second, Socket: 3 * time.Second, Request: 4 * time.Second}

	allUnset := Timeouts{Connect: unsetTimeout, Socket: unsetTimeout, Request: unsetTimeout}
	got := applyConfigTimeoutDefaults(allUnset, configDefault)
	assert.Equal(t, configDefault, got)

	partial := Timeouts{Connect: 1 * time.Second, Socket: unsetTimeout, Request: unsetTimeout}
	got = applyConfigTimeoutDefaults(partial, configDefault)
	assert.Equal(t, 1*time.Second, got.Connect, "an already-set stage must not be overridden")
	assert.Equal(t, 3*time.Second, got.Socket)
	assert.Equal(t, 4*time.Second, got.Request)
}
