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

import "sync/atomic"

// onceRelease is a one-shot latch guarding a semaphore release. A
// strategy that accepts ownership of a permit wraps it in a
// onceRelease and calls Release on body end and on error; only the
// first call takes effect.
type onceRelease struct {
	sem      *Semaphore
	released atomic.Bool
}

// newOnceRelease wraps sem's Release behind a one-shot latch. A nil
// sem produces a no-op release, for the plain (non-enhanced) path
// that never acquires the gate.
func newOnceRelease(sem *Semaphore) *onceRelease {
	return &onceRelease{sem: sem}
}

// Release releases the underlying permit exactly once across any
// number of calls.
func (o *onceRelease) Release() {
	if o == nil || o.sem == nil {
		return
	}
	if o.released.CompareAndSwap(false, true) {
		o.sem.Release()
	}
}
