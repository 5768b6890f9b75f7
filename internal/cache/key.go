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

// Package cache holds the two response cache tiers: an in-process LRU
// (L1) and a distributed key-value tier (L2) with buffered and
// stream-replay encodings.
package cache

import (
	"strings"

	xxhash "github.com/cespare/xxhash/v2"
)

// Key is a cache key, "<METHOD>:<normalized-URL>". The URL string is
// used verbatim as produced by the normalizer -- no reordering, no
// query canonicalization beyond what the normalizer already did.
type Key string

// NewKey builds a Key from an already-normalized method and URL.
func NewKey(method, url string) Key {
	return Key(strings.ToUpper(method) + ":" + url)
}

// String returns the key's wire form.
func (k Key) String() string {
	return string(k)
}

// StreamKey returns the sibling key holding the chunk list for the
// stream encoding of k.
func (k Key) StreamKey() string {
	return string(k) + ":stream"
}

// StreamMetaKey returns the sibling key holding the stream encoding's
// metadata (headers, status code).
func (k Key) StreamMetaKey() string {
	return string(k) + ":stream:meta"
}

// Hash produces a stable hash of the key, consistent across restarts,
// architectures and builds.
func (k Key) Hash() uint64 {
	return xxhash.Sum64([]byte(k))
}
