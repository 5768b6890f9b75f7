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

import "errors"

// Error taxonomy. CacheError and OverflowSwitch are
// logged internally and never surfaced through Fetch/FetchStream;
// HTTPResponseStatus is not an error at all, it is delivered as a
// Response carrying the original status code.
var (
	// ErrConfig marks a missing or malformed configuration snapshot.
	ErrConfig = errors.New("fetch: config error")

	// ErrTransport marks a connect/socket/DNS failure talking to upstream.
	ErrTransport = errors.New("fetch: transport error")

	// ErrTimeout marks one of the connect/socket/request stages firing.
	ErrTimeout = errors.New("fetch: timeout")

	// ErrAborted marks a caller-initiated cancellation.
	ErrAborted = errors.New("fetch: aborted")
)
