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
	"container/list"
	"context"
	"sync"
)

// Semaphore is a resizable counting semaphore bounding the number of
// concurrent in-flight upstream fetches. Waiters
// are released in FIFO order. Resize can shrink capacity below the
// number of currently held permits; the shrink is absorbed as debt and
// worked off as permits are released, rather than revoking permits
// already granted.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	held     int
	debt     int
	waiters  *list.List // of chan struct{}
}

// NewSemaphore creates a Semaphore with the given initial capacity.
// A non-positive capacity is treated as 1.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{capacity: capacity, waiters: list.New()}
}

// Acquire blocks until a permit is available or ctx is done. On
// success the caller owns the permit and must call Release exactly
// once.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.debt == 0 && s.held < s.capacity {
		s.held++
		s.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	elem := s.waiters.PushBack(ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ch:
			// Woken concurrently with cancellation; the permit is
			// already ours, release it back rather than drop it.
			s.mu.Unlock()
			s.Release()
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

// TryAcquire acquires a permit only if one is immediately available,
// without blocking.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debt == 0 && s.held < s.capacity {
		s.held++
		return true
	}
	return false
}

// Release returns a permit. If outstanding debt from a prior Resize
// shrink remains, the permit is absorbed into the debt instead of
// being handed to a waiter or returned to the free pool.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held--

	if s.debt > 0 {
		s.debt--
		return
	}

	if elem := s.waiters.Front(); elem != nil {
		s.waiters.Remove(elem)
		s.held++
		ch := elem.Value.(chan struct{})
		close(ch)
	}
}

// Resize changes capacity. Growing releases waiters immediately up to
// the new capacity. Shrinking below the number of held permits does
// not revoke any; it records the shortfall as debt, which is worked
// off by subsequent Releases before any new permit is granted.
func (s *Semaphore) Resize(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := capacity - s.capacity
	s.capacity = capacity

	if delta < 0 {
		if s.held > capacity {
			s.debt = s.held - capacity
		}
		return
	}

	grow := delta
	if s.debt > 0 {
		if s.debt >= grow {
			s.debt -= grow
			return
		}
		grow -= s.debt
		s.debt = 0
	}
	for grow > 0 {
		elem := s.waiters.Front()
		if elem == nil {
			break
		}
		s.waiters.Remove(elem)
		s.held++
		ch := elem.Value.(chan struct{})
		close(ch)
		grow--
	}
}

// Capacity returns the current configured capacity.
func (s *Semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// InFlight returns the number of permits currently held.
func (s *Semaphore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Waiting returns the number of goroutines currently blocked in Acquire.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}
