// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package sched runs fibers on a pool of worker threads. The pool's work
// queue is itself a channel value: clients enqueue fiber values, workers
// dequeue and run each to completion. Closing the work channel drains the
// pool.
package sched

import (
	"errors"
	"sync"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/log"
)

// ErrPoolClosed is recorded on a fiber whose enqueue lost the race with
// Shutdown.
var ErrPoolClosed = errors.New("sched: pool is shut down")

// DefaultJobs is the worker count used when the engine options leave it
// unset.
const DefaultJobs = 8

// Runner executes one fiber to completion and fills its result slot.
type Runner func(f *object.Fiber)

// Pool is the fiber scheduler.
type Pool struct {
	heap *object.Heap
	work *object.Channel
	jobs int
	run  Runner
	wg   sync.WaitGroup
}

// NewPool creates a pool of jobs workers feeding from a fresh work channel.
func NewPool(heap *object.Heap, jobs int, run Runner) *Pool {
	if jobs <= 0 {
		jobs = DefaultJobs
	}
	work := object.NewChannel(jobs * 4)
	heap.Alloc(work)
	return &Pool{heap: heap, work: work, jobs: jobs, run: run}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.jobs; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Debug("Fiber pool started", "jobs", p.jobs)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		v, status := p.work.Take(0)
		if status == object.ChanClosed {
			return
		}
		fiber, ok := p.heap.Get(v).(*object.Fiber)
		if !ok {
			log.Warn("Discarding non-fiber work item", "worker", id)
			continue
		}
		fiber.Status = object.FiberRunning
		p.run(fiber)
	}
}

// Spawn allocates a fiber over main and enqueues it, returning the fiber
// value. Put blocks while the work buffer is full. When the pool shuts down
// before the fiber lands in the queue, no worker will ever run it, so it is
// failed on the spot rather than left for Wait to hang on.
func (p *Pool) Spawn(main value.Value, args ...value.Value) value.Value {
	fiber := &object.Fiber{
		Main: main,
		Args: args,
		Done: make(chan struct{}),
	}
	v := p.heap.Alloc(fiber)
	if status := p.work.Put(v, 0); status != object.ChanOk {
		log.Warn("Fiber rejected by a closed pool")
		fiber.Err = ErrPoolClosed
		fiber.Finish(nil)
	}
	return v
}

// Wait blocks until the fiber value completes and returns its results.
func (p *Pool) Wait(v value.Value) []value.Value {
	fiber := p.heap.Get(v).(*object.Fiber)
	<-fiber.Done
	return fiber.Result
}

// Shutdown closes the work channel, unblocking every worker, and waits for
// them to exit. Fibers still buffered when the workers are gone are failed
// so their waiters unblock.
func (p *Pool) Shutdown() {
	p.work.Close()
	p.wg.Wait()
	for {
		v, status := p.work.Take(0)
		if status == object.ChanClosed {
			return
		}
		if fiber, ok := p.heap.Get(v).(*object.Fiber); ok && fiber.Status != object.FiberDone {
			fiber.Err = ErrPoolClosed
			fiber.Finish(nil)
		}
	}
}
