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
	"io"
	"net/http"
	"strings"

	"github.com/kacheio/fetchgate/internal/cache"
	"github.com/kacheio/fetchgate/internal/provider"
	"github.com/rs/zerolog/log"
)

// isStreamingResponse implements the streaming detection predicate.
// All comparisons are case-insensitive.
func isStreamingResponse(header http.Header) bool {
	transferEncoding := strings.ToLower(header.Get("Transfer-Encoding"))
	if strings.Contains(transferEncoding, "chunked") {
		return true
	}
	contentType := strings.ToLower(header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "text/event-stream") || strings.HasPrefix(contentType, "multipart/") {
		return true
	}
	if header.Get("Content-Length") == "" && transferEncoding != "" {
		return true
	}
	return false
}

// backgroundTee relays chunks to a StreamTee in the exact order they
// arrive, through a single consumer goroutine, so a slow L2 write
// never blocks the caller's own Read calls. Chunks submitted while the
// internal queue is full are dropped and logged once, same as any
// other L2 write failure. The same goroutine finalizes the tee after
// the last queued chunk has been written.
type backgroundTee struct {
	tee     *cache.StreamTee
	queue   chan []byte
	dropped bool
	header  http.Header
	status  int
}

func newBackgroundTee(tee *cache.StreamTee) *backgroundTee {
	bt := &backgroundTee{tee: tee, queue: make(chan []byte, 256)}
	go bt.run()
	return bt
}

func (bt *backgroundTee) run() {
	for chunk := range bt.queue {
		bt.tee.Write(context.Background(), chunk)
	}
	bt.tee.Finalize(context.Background(), bt.header, bt.status)
}

func (bt *backgroundTee) submit(chunk []byte) {
	select {
	case bt.queue <- chunk:
	default:
		if !bt.dropped {
			bt.dropped = true
			log.Error().Msg("Stream tee queue full, dropping chunk")
		}
	}
}

func (bt *backgroundTee) finalize(header http.Header, statusCode int) {
	bt.header, bt.status = header, statusCode
	close(bt.queue)
}

// teeingReader wraps an upstream body, forwarding every chunk it
// returns to an optional backgroundTee, and runs onDone exactly once
// when the underlying reader reports EOF, any other error, or when
// Close is called first (caller abandoned the body).
type teeingReader struct {
	source io.ReadCloser
	tee    *backgroundTee
	header http.Header
	status int
	onDone func(err error)
	done   bool
}

func (r *teeingReader) Read(p []byte) (int, error) {
	n, err := r.source.Read(p)
	if n > 0 && r.tee != nil {
		chunk := make([]byte, n)
		copy(chunk, p[:n])
		r.tee.submit(chunk)
	}
	if err != nil {
		r.finish(err)
	}
	return n, err
}

func (r *teeingReader) Close() error {
	r.finish(io.EOF)
	return r.source.Close()
}

func (r *teeingReader) finish(err error) {
	if r.done {
		return
	}
	r.done = true
	if r.tee != nil {
		r.tee.finalize(r.header, r.status)
	}
	if r.onDone != nil {
		r.onDone(err)
	}
}

// RunStreamStrategy implements C7's pure-streaming path: the caller
// receives the upstream byte stream directly and, if streamEnabled, a
// background tee relays the same bytes to the L2 stream encoding. If
// release is non-nil it is released exactly once on the body's end or
// error event, per the ownership transfer rule.
func RunStreamStrategy(body io.ReadCloser, header http.Header, statusCode int, key cache.Key, cfg Config, l2Client provider.RemoteCacheClient, release *onceRelease) *Response {
	var tee *backgroundTee
	if cfg.StreamEnabled && l2Client != nil {
		tee = newBackgroundTee(cache.NewStreamTee(context.Background(), l2Client, key, cfg.CacheTTL, cfg.MaxStreamChunks, int(cfg.MaxStreamTotalBytes)))
	}

	wrapped := &teeingReader{
		source: body,
		tee:    tee,
		header: header,
		status: statusCode,
		onDone: func(error) { release.Release() },
	}
	return NewStreamResponse(statusCode, header, wrapped)
}
