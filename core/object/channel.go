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
	"time"

	"github.com/gablang/go-gab/core/value"
)

// ChanStatus reports the outcome of a channel operation.
type ChanStatus int

const (
	ChanOk ChanStatus = iota
	ChanClosed
	ChanTimeout
)

// Channel is a buffered FIFO of values, the canonical hand-off mechanism
// between fibers. Put blocks while the buffer is full, Take while it is
// empty; closing unblocks all waiters.
type Channel struct {
	Header

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []value.Value
	cap    int
	closed bool
}

// NewChannel creates a channel with the given buffer capacity (minimum 1).
func NewChannel(capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	c := &Channel{cap: capacity}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Channel) Kind() value.Kind { return value.KindChannel }

func (c *Channel) EachChild(fn func(value.Value)) {
	c.mu.Lock()
	buffered := append([]value.Value(nil), c.buf...)
	c.mu.Unlock()
	for _, v := range buffered {
		fn(v)
	}
}

// Cap returns the buffer capacity.
func (c *Channel) Cap() int { return c.cap }

// Len returns the number of buffered values.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// IsFull reports whether a Put would block.
func (c *Channel) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf) >= c.cap
}

// IsEmpty reports whether a Take would block.
func (c *Channel) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf) == 0
}

// IsClosed reports whether the channel has been closed.
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close marks the channel closed and wakes every waiter. Buffered values
// remain takeable.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Put appends v, blocking while the buffer is full. A timeout of 0 blocks
// indefinitely. Returns ChanClosed when the channel closes before space
// frees up.
func (c *Channel) Put(v value.Value, timeout time.Duration) ChanStatus {
	deadline, timer := c.arm(timeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer stop(timer)
	for {
		if c.closed {
			return ChanClosed
		}
		if len(c.buf) < c.cap {
			c.buf = append(c.buf, v)
			c.cond.Broadcast()
			return ChanOk
		}
		if expired(deadline) {
			return ChanTimeout
		}
		c.cond.Wait()
	}
}

// Take removes and returns the oldest value, blocking while the buffer is
// empty. On a closed, drained channel it returns the undefined sentinel with
// ChanClosed.
func (c *Channel) Take(timeout time.Duration) (value.Value, ChanStatus) {
	deadline, timer := c.arm(timeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer stop(timer)
	for {
		if len(c.buf) > 0 {
			v := c.buf[0]
			c.buf = c.buf[1:]
			c.cond.Broadcast()
			return v, ChanOk
		}
		if c.closed {
			return value.Undefined, ChanClosed
		}
		if expired(deadline) {
			return value.Undefined, ChanTimeout
		}
		c.cond.Wait()
	}
}

// arm starts a timer that pokes the condition variable at the deadline so a
// timed wait can observe expiry.
func (c *Channel) arm(timeout time.Duration) (time.Time, *time.Timer) {
	if timeout <= 0 {
		return time.Time{}, nil
	}
	deadline := time.Now().Add(timeout)
	return deadline, time.AfterFunc(timeout, c.cond.Broadcast)
}

func stop(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}
