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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// fetchSpan wraps the per-call span for a single Fetch/FetchStream
// invocation. A nil tracer on the Manager disables tracing entirely --
// no span is started and every call here is a no-op, so the hot path
// pays nothing when tracing is off.
type fetchSpan struct {
	span trace.Span
}

func startFetchSpan(ctx context.Context, tracer trace.Tracer, method, url string) (context.Context, *fetchSpan) {
	if tracer == nil {
		return ctx, &fetchSpan{}
	}
	ctx, span := tracer.Start(ctx, "fetchgate.fetch")
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	)
	return ctx, &fetchSpan{span: span}
}

func (s *fetchSpan) setBool(key string, value bool) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attribute.Bool(key, value))
}

func (s *fetchSpan) setInt(key string, value int64) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(attribute.Int64(key, value))
}

func (s *fetchSpan) setError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.SetAttributes(attribute.String("http.error", err.Error()))
}

func (s *fetchSpan) end() {
	if s == nil || s.span == nil {
		return
	}
	s.span.End()
}
