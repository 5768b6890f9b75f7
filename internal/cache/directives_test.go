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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseResponseDirectivesNoStore(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"no-store"}}
	d := ParseResponseDirectives(h)
	assert.True(t, d.NoStore)

	h = http.Header{"Cache-Control": []string{"private"}}
	d = ParseResponseDirectives(h)
	assert.True(t, d.NoStore)
}

func TestParseResponseDirectivesMaxAge(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"max-age=60"}}
	d := ParseResponseDirectives(h)
	assert.Equal(t, 60*time.Second, d.MaxAge)
}

func TestEffectiveTTLDefaultOffIsNoop(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"max-age=5"}}
	d := ParseResponseDirectives(h)
	assert.Equal(t, 300*time.Second, d.EffectiveTTL(300*time.Second, false))
}

func TestEffectiveTTLHonoredWhenSmaller(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"max-age=5"}}
	d := ParseResponseDirectives(h)
	assert.Equal(t, 5*time.Second, d.EffectiveTTL(300*time.Second, true))
}

func TestEffectiveTTLIgnoredWhenLarger(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"max-age=600"}}
	d := ParseResponseDirectives(h)
	assert.Equal(t, 300*time.Second, d.EffectiveTTL(300*time.Second, true))
}

func TestShouldStore(t *testing.T) {
	d := ParseResponseDirectives(http.Header{"Cache-Control": []string{"no-store"}})
	assert.False(t, d.ShouldStore(true))
	assert.True(t, d.ShouldStore(false))
}
