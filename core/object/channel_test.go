// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package object

import (
	"sync"
	"testing"
	"time"

	"github.com/gablang/go-gab/core/value"
)

func TestChannelFIFO(t *testing.T) {
	c := NewChannel(8)
	const n = 100
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			c.Put(value.Number(float64(i)), 0)
		}
		c.Close()
	}()

	for i := 0; i < n; i++ {
		v, status := c.Take(0)
		if status != ChanOk {
			t.Fatalf("take %d: status %v", i, status)
		}
		if v != value.Number(float64(i)) {
			t.Fatalf("take %d out of order", i)
		}
	}
	if _, status := c.Take(0); status != ChanClosed {
		t.Fatal("a drained closed channel must report closed")
	}
	wg.Wait()
}

func TestChannelBlocksWhenFull(t *testing.T) {
	c := NewChannel(1)
	if c.Put(value.Number(1), 0) != ChanOk {
		t.Fatal("first put must succeed")
	}
	if !c.IsFull() {
		t.Fatal("channel must be full")
	}
	if status := c.Put(value.Number(2), 10*time.Millisecond); status != ChanTimeout {
		t.Fatalf("put on a full channel = %v; want timeout", status)
	}
}

func TestChannelTakeTimeout(t *testing.T) {
	c := NewChannel(1)
	if !c.IsEmpty() {
		t.Fatal("channel must start empty")
	}
	v, status := c.Take(10 * time.Millisecond)
	if status != ChanTimeout || !v.IsUndefined() {
		t.Fatalf("take on empty = %v; want timeout", status)
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	c := NewChannel(1)
	done := make(chan ChanStatus, 1)
	go func() {
		_, status := c.Take(0)
		done <- status
	}()
	time.Sleep(5 * time.Millisecond)
	c.Close()
	select {
	case status := <-done:
		if status != ChanClosed {
			t.Fatalf("got %v; want closed", status)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock the waiter")
	}
}

func TestCloseKeepsBufferedValues(t *testing.T) {
	c := NewChannel(4)
	c.Put(value.Number(7), 0)
	c.Close()
	if c.Put(value.Number(8), 0) != ChanClosed {
		t.Fatal("put after close must fail")
	}
	v, status := c.Take(0)
	if status != ChanOk || v != value.Number(7) {
		t.Fatal("buffered values remain takeable after close")
	}
}
