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

	"github.com/kacheio/fetchgate/internal/cache"
	"github.com/kacheio/fetchgate/internal/provider"
	"github.com/rs/zerolog/log"
)

const bufferReadChunkSize = 32 * 1024

// teeSubmitWriter adapts a backgroundTee to io.Writer so it can sit
// alongside the pass-through pipe in an io.MultiWriter. Each Write
// copies p, since io.Copy reuses its internal buffer across calls.
type teeSubmitWriter struct{ tee *backgroundTee }

func (w teeSubmitWriter) Write(p []byte) (int, error) {
	if w.tee != nil {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		w.tee.submit(chunk)
	}
	return len(p), nil
}

// RunBufferStrategy implements C8's state machine:
// BUFFER accumulates upstream bytes up to maxResponseBytes; DECIDE
// picks EMIT_B (upstream ended within bounds) or STREAM (bounds
// exceeded); STREAM primes a pass-through pipe with whatever was
// already buffered, then relays the rest live. A STREAM transition
// triggered by maxResponseBytes (sizeExceeded) never tees to L2 --
// the max-size policy is "no caching", not "cache truncated" -- while
// a STREAM transition triggered only by streamBufferMax still tees,
// matching the pure-streaming path. release is released exactly once,
// synchronously for EMIT_B and from the relay goroutine for STREAM.
// span, if non-nil, records the size-limit/buffered-byte telemetry
// attributes for the call.
func RunBufferStrategy(requestURL string, body io.ReadCloser, header http.Header, statusCode int, key cache.Key, cfg Config, l1 *cache.MemoryCache, l2 *cache.RemoteCache, l2Client provider.RemoteCacheClient, release *onceRelease, span *fetchSpan) *Response {
	readBuf := make([]byte, bufferReadChunkSize)
	var buffered []byte
	var pending []byte // the one chunk read after sizeExceeded triggered; not yet forwarded anywhere
	sizeExceeded := false
	ended := false
	var ioErr error

	for !ended && !sizeExceeded {
		if cfg.StreamBufferMax > 0 && len(buffered) > cfg.StreamBufferMax {
			break
		}
		n, err := body.Read(readBuf)
		if n > 0 {
			chunk := readBuf[:n]
			if int64(len(buffered)+n) > cfg.MaxResponseBytes {
				sizeExceeded = true
				pending = append(pending, chunk...)
				log.Warn().Str("url", requestURL).Int64("max-response-bytes", cfg.MaxResponseBytes).
					Msg("Response exceeds max buffered size, switching to stream without caching")
			} else {
				buffered = append(buffered, chunk...)
			}
		}
		if err == io.EOF {
			ended = true
		} else if err != nil {
			ioErr = err
			break
		}
	}

	span.setBool("http.size_limit_exceeded", sizeExceeded)
	span.setInt("http.buffered_bytes", int64(len(buffered)))

	if ended && !sizeExceeded && ioErr == nil {
		return emitBuffered(body, buffered, header, statusCode, key, cfg, l1, l2, release)
	}
	return streamRemainder(body, buffered, pending, ioErr, ended, sizeExceeded, header, statusCode, key, cfg, l2Client, release)
}

func emitBuffered(body io.ReadCloser, buffered []byte, header http.Header, statusCode int, key cache.Key, cfg Config, l1 *cache.MemoryCache, l2 *cache.RemoteCache, release *onceRelease) *Response {
	_ = body.Close()
	value := cache.CachedValue{Body: buffered, Header: header.Clone(), StatusCode: statusCode}
	directives := cache.ParseResponseDirectives(header)
	if directives.ShouldStore(cfg.HonorCacheControl) {
		if l1 != nil {
			l1.Set(key, value)
		}
		if l2 != nil {
			l2.SetBuffered(key, value, directives.EffectiveTTL(cfg.CacheTTL, cfg.HonorCacheControl))
		}
	}
	release.Release()
	return NewBufferedResponse(statusCode, header, buffered)
}

func streamRemainder(body io.ReadCloser, buffered, pending []byte, ioErr error, ended, sizeExceeded bool, header http.Header, statusCode int, key cache.Key, cfg Config, l2Client provider.RemoteCacheClient, release *onceRelease) *Response {
	var tee *backgroundTee
	if cfg.StreamEnabled && l2Client != nil && !sizeExceeded {
		tee = newBackgroundTee(cache.NewStreamTee(context.Background(), l2Client, key, cfg.CacheTTL, cfg.MaxStreamChunks, int(cfg.MaxStreamTotalBytes)))
	}

	primer := append(append([]byte(nil), buffered...), pending...)
	pr, pw := io.Pipe()

	go func() {
		defer release.Release()
		defer func() {
			if tee != nil {
				tee.finalize(header, statusCode)
			}
		}()
		defer body.Close()

		if len(primer) > 0 {
			if tee != nil {
				tee.submit(append([]byte(nil), primer...))
			}
			if _, err := pw.Write(primer); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}

		if ioErr != nil {
			_ = pw.CloseWithError(ioErr)
			return
		}
		if ended {
			_ = pw.Close()
			return
		}

		var dst io.Writer = pw
		if tee != nil {
			dst = io.MultiWriter(pw, teeSubmitWriter{tee})
		}
		if _, err := io.Copy(dst, body); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()

	return NewStreamResponse(statusCode, header, pr)
}
