// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
)

func TestFibersRunToCompletion(t *testing.T) {
	heap := object.NewHeap()
	var ran int64
	pool := NewPool(heap, 4, func(f *object.Fiber) {
		atomic.AddInt64(&ran, 1)
		f.Finish([]value.Value{f.Main})
	})
	pool.Start()
	defer pool.Shutdown()

	fibers := make([]value.Value, 16)
	for i := range fibers {
		fibers[i] = pool.Spawn(value.Number(float64(i)))
	}
	for i, fv := range fibers {
		results := pool.Wait(fv)
		if len(results) != 1 || results[0] != value.Number(float64(i)) {
			t.Fatalf("fiber %d: wrong result", i)
		}
		f := heap.Get(fv).(*object.Fiber)
		if f.Status != object.FiberDone {
			t.Fatalf("fiber %d not done", i)
		}
	}
	if atomic.LoadInt64(&ran) != 16 {
		t.Fatalf("ran %d fibers; want 16", ran)
	}
}

func TestShutdownUnblocksWorkers(t *testing.T) {
	heap := object.NewHeap()
	pool := NewPool(heap, 2, func(f *object.Fiber) {
		f.Finish(nil)
	})
	pool.Start()

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown hung with idle workers")
	}
}

func TestSpawnAfterShutdownFailsFiber(t *testing.T) {
	heap := object.NewHeap()
	pool := NewPool(heap, 1, func(f *object.Fiber) {
		f.Finish(nil)
	})
	pool.Start()
	pool.Shutdown()

	fv := pool.Spawn(value.Number(1))
	done := make(chan []value.Value, 1)
	go func() { done <- pool.Wait(fv) }()

	select {
	case results := <-done:
		if results != nil {
			t.Fatalf("rejected fiber produced results %v", results)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting on a rejected fiber hung")
	}

	f := heap.Get(fv).(*object.Fiber)
	if f.Err != ErrPoolClosed {
		t.Fatalf("fiber error = %v; want ErrPoolClosed", f.Err)
	}
	if f.Status != object.FiberDone {
		t.Fatal("a rejected fiber must still reach the done state")
	}
}

func TestFiberArgs(t *testing.T) {
	heap := object.NewHeap()
	pool := NewPool(heap, 1, func(f *object.Fiber) {
		sum := 0.0
		for _, a := range f.Args {
			sum += a.Float()
		}
		f.Finish([]value.Value{value.Number(sum)})
	})
	pool.Start()
	defer pool.Shutdown()

	fv := pool.Spawn(value.Nil, value.Number(1), value.Number(2), value.Number(3))
	results := pool.Wait(fv)
	if results[0] != value.Number(6) {
		t.Fatal("fiber args not delivered")
	}
}
