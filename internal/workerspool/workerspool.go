// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs independent generation jobs on a bounded number of goroutines.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits the number of goroutines running tasks at the same time.
//
// The zero value is not usable, create it with New.
type Pool struct {
	// maxParallelism is the limit of tasks running concurrently: 0 disables parallelism (tasks run inline)
	// and a negative value makes it unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// IsEnabled returns whether parallelism is enabled (MaxParallelism() != 0).
func (p *Pool) IsEnabled() bool {
	return p.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (MaxParallelism() < 0).
func (p *Pool) IsUnlimited() bool {
	return p.maxParallelism < 0
}

// MaxParallelism returns the limit of tasks running concurrently.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// SetMaxParallelism sets the limit of tasks running concurrently. 0 disables parallelism and -1 makes it
// unlimited.
//
// It must be called before any task is started.
func (p *Pool) SetMaxParallelism(maxParallelism int) {
	p.maxParallelism = maxParallelism
}

// lockedIsFull must be called with p.mu locked.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism == 0 {
		return true
	} else if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// lockedStart must be called with p.mu locked.
func (p *Pool) lockedStart(task func()) {
	p.numRunning++
	go func() {
		defer func() {
			p.mu.Lock()
			p.numRunning--
			p.cond.Signal()
			p.mu.Unlock()
		}()
		task()
	}()
}

// WaitToStart waits until the task can be started, and starts it in a goroutine.
//
// If parallelism is disabled, it runs the task inline.
func (p *Pool) WaitToStart(task func()) {
	if p.IsUnlimited() {
		go task()
		return
	} else if p.maxParallelism == 0 {
		task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.lockedStart(task)
}

// StartIfAvailable starts the task in a goroutine if the pool is not full, and returns whether it did.
// The caller is responsible for waiting for the task.
func (p *Pool) StartIfAvailable(task func()) bool {
	if p.IsUnlimited() {
		go task()
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedIsFull() {
		return false
	}
	p.lockedStart(task)
	return true
}

// ForEach calls fn(i) for i in [0, n), on as many goroutines as the pool allows, and waits for all of
// them to finish. Without parallelism the calls are made inline, in order.
func (p *Pool) ForEach(n int, fn func(i int)) {
	if !p.IsEnabled() {
		for i := range n {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		p.WaitToStart(func() {
			defer wg.Done()
			fn(i)
		})
	}
	wg.Wait()
}

// Saturate runs task on every worker available, and waits for all of them to finish: MaxParallelism()
// copies of it, or runtime.NumCPU() if unlimited. Without parallelism it runs the task once, inline.
func (p *Pool) Saturate(task func()) {
	n := p.maxParallelism
	switch {
	case n == 0:
		task()
		return
	case n < 0:
		n = runtime.NumCPU()
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			task()
		}()
	}
	wg.Wait()
}
