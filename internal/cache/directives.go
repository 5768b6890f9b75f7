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

package cache

import (
	"net/http"
	"strings"
	"time"
)

// ResponseDirectives is the trimmed-down subset of RFC 7234
// response-directive parsing this module cares about. It only ever
// gates whether a buffered entry is written and what TTL it gets; it
// never changes the CacheKey shape (no Vary support -- that would
// contradict the method+URL key invariant) and never alters EMIT_B or
// STREAM byte-level behavior.
type ResponseDirectives struct {
	NoStore bool
	MaxAge  time.Duration // -1 if absent
}

// ParseResponseDirectives parses the Cache-Control response header.
func ParseResponseDirectives(header http.Header) ResponseDirectives {
	d := ResponseDirectives{MaxAge: -1}
	for _, directive := range strings.Split(header.Get("Cache-Control"), ",") {
		name, arg := splitDirective(directive)
		switch name {
		case "no-store", "private":
			d.NoStore = true
		case "max-age":
			if dur, err := time.ParseDuration(arg + "s"); err == nil && dur >= 0 {
				d.MaxAge = dur
			}
		}
	}
	return d
}

// EffectiveTTL returns the TTL a buffered entry should be written
// with, honoring d's max-age when it is present and smaller than
// configured. honor must be true (Config.HonorCacheControl) for this
// to have any effect; otherwise configured is returned unchanged.
func (d ResponseDirectives) EffectiveTTL(configured time.Duration, honor bool) time.Duration {
	if !honor || d.MaxAge < 0 || d.MaxAge >= configured {
		return configured
	}
	return d.MaxAge
}

// ShouldStore reports whether a buffered entry should be written at
// all. Always true unless honor is set and the response carries
// no-store/private.
func (d ResponseDirectives) ShouldStore(honor bool) bool {
	return !(honor && d.NoStore)
}

func splitDirective(s string) (name, arg string) {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '='); idx >= 0 {
		return strings.TrimSpace(s[:idx]), strings.Trim(strings.TrimSpace(s[idx+1:]), `"'`)
	}
	return s, ""
}
