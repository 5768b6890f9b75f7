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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreAcquireReleaseRoundTrip(t *testing.T) {
	s := NewSemaphore(2)
	require.NoError(t, s.Acquire(context.Background()))
	require.NoError(t, s.Acquire(context.Background()))
	assert.False(t, s.TryAcquire())
	s.Release()
	assert.True(t, s.TryAcquire())
}

func TestSemaphoreBlocksAtCapacity(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSemaphoreFIFOFairness(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	order := make([]int, 0, 3)
	var mu sync.Mutex
	var wg sync.WaitGroup
	started := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			started <- struct{}{}
			time.Sleep(time.Duration(n) * 5 * time.Millisecond)
			require.NoError(t, s.Acquire(context.Background()))
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			s.Release()
		}(i)
		<-started
		time.Sleep(2 * time.Millisecond)
	}
	s.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestSemaphoreResizeShrinkIsDebtBased(t *testing.T) {
	s := NewSemaphore(3)
	require.NoError(t, s.Acquire(context.Background()))
	require.NoError(t, s.Acquire(context.Background()))
	require.NoError(t, s.Acquire(context.Background()))
	assert.Equal(t, 3, s.InFlight())

	s.Resize(1)
	assert.Equal(t, 3, s.InFlight(), "shrink must not revoke already-held permits")

	s.Release()
	assert.False(t, s.TryAcquire(), "debt must be paid off before granting new permits")
	s.Release()
	assert.False(t, s.TryAcquire(), "the permit still held fills the new capacity of 1")
	s.Release()
	assert.True(t, s.TryAcquire())
}

func TestSemaphoreResizeGrowWakesWaiters(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	done := make(chan struct{})
	go func() {
		_ = s.Acquire(context.Background())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	s.Resize(2)
	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("growing capacity did not wake a waiter")
	}
}

func TestSemaphoreAcquireCancelledRemovesWaiter(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Waiting())
}
