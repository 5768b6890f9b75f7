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

// Package fetch implements the Server Fetch Manager: a Fetch-API
// compatible outbound HTTP façade with a concurrency gate, layered
// response caching, inflight coalescing and adaptive
// streaming/buffering.
package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrBodyUnusable is returned when a streaming Response body is read
// more than once, or cloned after it has been read.
var ErrBodyUnusable = errors.New("fetch: body is unusable")

// Response is the uniform Fetch-API-equivalent response type: it
// carries either an immediately available byte buffer or a lazy byte
// stream with at most one consumer. Modeled after http.Response plus
// the io.TeeReader idiom used elsewhere in the cache tier for sharing
// a single upstream byte sequence between two readers.
type Response struct {
	StatusCode int
	Header     http.Header

	mu        sync.Mutex
	buffered  []byte
	body      io.ReadCloser
	streaming bool
	bodyUsed  bool
}

// NewBufferedResponse wraps an already-materialized body.
func NewBufferedResponse(statusCode int, header http.Header, body []byte) *Response {
	return &Response{StatusCode: statusCode, Header: header, buffered: body}
}

// NewStreamResponse wraps a lazy upstream body. body is consumed at
// most once, via Bytes, Text, JSON, Stream, or Clone.
func NewStreamResponse(statusCode int, header http.Header, body io.ReadCloser) *Response {
	return &Response{StatusCode: statusCode, Header: header, body: body, streaming: true}
}

// IsStreaming reports whether the response wraps a lazy stream rather
// than an already-buffered body.
func (r *Response) IsStreaming() bool {
	return r.streaming
}

// Stream returns the response body as a reader. For a streaming
// Response this consumes the body; a second call fails with
// ErrBodyUnusable. Buffered responses may be read repeatedly.
func (r *Response) Stream() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.streaming {
		return io.NopCloser(bytes.NewReader(r.buffered)), nil
	}
	if r.bodyUsed {
		return nil, ErrBodyUnusable
	}
	r.bodyUsed = true
	return r.body, nil
}

// Bytes reads the full response body. See Stream for consumption
// rules.
func (r *Response) Bytes() ([]byte, error) {
	body, err := r.Stream()
	if err != nil {
		return nil, err
	}
	if !r.streaming {
		return r.buffered, nil
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Text reads the full response body as a string.
func (r *Response) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON reads and decodes the full response body into v.
func (r *Response) JSON(v any) error {
	b, err := r.Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Clone produces an independent Response over the same body data. A
// buffered Response is cloned by copying its bytes. A streaming
// Response is cloned by splitting the single upstream reader into two
// independent readers via a pair of pipes fed by one copier goroutine
// -- both the receiver and the clone observe the full body exactly
// once, in upstream order. Cloning after the body has already been
// consumed fails with ErrBodyUnusable.
func (r *Response) Clone() (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.streaming {
		body := make([]byte, len(r.buffered))
		copy(body, r.buffered)
		return NewBufferedResponse(r.StatusCode, r.Header.Clone(), body), nil
	}

	if r.bodyUsed {
		return nil, ErrBodyUnusable
	}

	original := r.body
	pr1, pw1 := io.Pipe()
	pr2, pw2 := io.Pipe()

	go func() {
		_, err := io.Copy(io.MultiWriter(pw1, pw2), original)
		_ = original.Close()
		if err != nil {
			_ = pw1.CloseWithError(err)
			_ = pw2.CloseWithError(err)
			return
		}
		_ = pw1.Close()
		_ = pw2.Close()
	}()

	r.body = pr1
	return NewStreamResponse(r.StatusCode, r.Header.Clone(), pr2), nil
}
