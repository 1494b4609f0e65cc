// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines used by the kernels of a backend.
package workerspool

import (
	"sync"
)

// Pool of workers with a soft limit on parallelism.
type Pool struct {
	// maxParallelism: 0 disables parallelism (tasks run inline), < 0 means unlimited.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a Pool with the given maximum parallelism.
// If maxParallelism is 0 parallelism is disabled, if < 0 it is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0).
func (w *Pool) IsEnabled() bool {
	return w != nil && w.maxParallelism != 0
}

// MaxParallelism is the limit of concurrently running tasks.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available and runs task in a goroutine.
// If parallelism is disabled, it runs task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if !w.IsEnabled() {
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// ParallelFor splits [0, numItems) in chunks of at least minChunk items, and calls fn(start, end)
// for each of them, in parallel if enabled. It returns when all chunks are done.
func (w *Pool) ParallelFor(numItems, minChunk int, fn func(start, end int)) {
	if numItems <= 0 {
		return
	}
	if minChunk < 1 {
		minChunk = 1
	}
	if !w.IsEnabled() || numItems <= minChunk {
		fn(0, numItems)
		return
	}
	numChunks := (numItems + minChunk - 1) / minChunk
	if w.maxParallelism > 0 && numChunks > w.maxParallelism {
		numChunks = w.maxParallelism
	}
	chunkSize := (numItems + numChunks - 1) / numChunks
	var wg sync.WaitGroup
	for start := 0; start < numItems; start += chunkSize {
		end := min(start+chunkSize, numItems)
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			fn(start, end)
		})
	}
	wg.Wait()
}
