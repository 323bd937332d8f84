// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package gc

import (
	"testing"
	"time"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
)

func newTestGC() (*object.Heap, *GC) {
	h := object.NewHeap()
	return h, New(h)
}

func TestPinnedObjectSurvives(t *testing.T) {
	h, g := newTestGC()
	v := h.Alloc(&object.Box{Type: value.Nil})
	g.Iref(v)
	g.Collect()
	if h.Get(v) == nil {
		t.Fatal("a referenced object must survive collection")
	}
}

func TestUnpinnedObjectDies(t *testing.T) {
	h, g := newTestGC()
	v := h.Alloc(&object.Box{Type: value.Nil})
	g.Iref(v)
	g.Collect()
	g.Dref(v)
	g.Collect()
	if h.Get(v) != nil {
		t.Fatal("an object with rc 0 must be destroyed")
	}
}

func TestBornDeadObjectDies(t *testing.T) {
	h, g := newTestGC()
	v := h.Alloc(&object.Box{Type: value.Nil})
	g.Dref(v)
	g.Collect()
	if h.Get(v) != nil {
		t.Fatal("a never-referenced object must die on its first decrement")
	}
}

func TestDestructorRunsOnce(t *testing.T) {
	h, g := newTestGC()
	runs := 0
	v := h.Alloc(&object.Box{
		Type:       value.Nil,
		Destructor: func(any) { runs++ },
	})
	g.Iref(v)
	g.Collect()
	g.Dref(v)
	g.Collect()
	g.Collect()
	if runs != 1 {
		t.Fatalf("destructor ran %d times; want 1", runs)
	}
}

func TestGreenObjectFreedImmediately(t *testing.T) {
	h, g := newTestGC()
	long := "a heap string to watch the collector free"
	v := h.Str(long)
	g.Iref(v)
	g.Collect()
	g.Dref(v)
	g.Collect()
	if h.Get(v) != nil {
		t.Fatal("a green object must free as soon as its count drops to zero")
	}
	// The intern entry is gone; the bytes re-intern to a fresh object.
	if h.StringOf(h.Str(long)) != long {
		t.Fatal("re-interning after free must work")
	}
}

func TestChildrenFollowParent(t *testing.T) {
	h, g := newTestGC()
	child := h.Alloc(&object.Box{Type: value.Nil})
	parent := h.Alloc(&object.Box{
		Type:    value.Nil,
		Data:    child,
		Visitor: func(data any, fn func(value.Value)) { fn(data.(value.Value)) },
	})

	g.Iref(parent)
	g.Collect()
	if h.Get(child) == nil {
		t.Fatal("a child reachable from a live parent must survive")
	}

	g.Dref(parent)
	g.Collect()
	if h.Get(parent) != nil {
		t.Fatal("parent must die")
	}
	if h.Get(child) != nil {
		t.Fatal("the child's only reference died with the parent")
	}
}

func TestWriteBarrierSwapsChild(t *testing.T) {
	h, g := newTestGC()
	old := h.Alloc(&object.Box{Type: value.Nil})
	new_ := h.Alloc(&object.Box{Type: value.Nil})
	parent := &object.Box{
		Type:    value.Nil,
		Data:    old,
		Visitor: func(data any, fn func(value.Value)) { fn(data.(value.Value)) },
	}
	parentVal := h.Alloc(parent)

	g.Iref(parentVal)
	g.Collect() // children traced; old counted

	parent.Data = new_
	g.WriteBarrier(parentVal, old, new_)
	g.Collect()

	if h.Get(old) != nil {
		t.Fatal("the replaced child lost its last reference")
	}
	if h.Get(new_) == nil {
		t.Fatal("the installed child must survive")
	}
}

func TestCycleCollection(t *testing.T) {
	h, g := newTestGC()

	x := h.Str("other")
	a := h.NewRecord([]value.Value{x}, []value.Value{value.Nil})
	b := h.NewRecord([]value.Value{x}, []value.Value{a})
	// Close the cycle while a is still NEW; its children are counted when
	// it is first traced.
	h.Get(a).(*object.Record).Data[0] = b

	g.Iref(a, b)
	g.Collect()
	if h.Get(a) == nil || h.Get(b) == nil {
		t.Fatal("pinned cycle members must survive")
	}

	g.Dref(a, b)
	g.Collect()
	g.Collect()

	if h.Get(a) != nil || h.Get(b) != nil {
		t.Fatal("an unreachable cycle must be collected")
	}
}

func TestLockDefersCollection(t *testing.T) {
	h, g := newTestGC()
	v := h.Alloc(&object.Box{Type: value.Nil})
	g.Dref(v)

	g.Lock()
	g.Collect()
	if h.Get(v) == nil {
		t.Fatal("collection must not run under a GC lock")
	}
	g.Unlock()
	g.Collect()
	if h.Get(v) != nil {
		t.Fatal("collection must resume after unlock")
	}
}

func TestCollectorThreadDrains(t *testing.T) {
	h, g := newTestGC()
	g.Start()
	defer g.Stop()

	v := h.Alloc(&object.Box{Type: value.Nil})
	g.Dref(v)
	g.Epoch()

	// The collector thread runs asynchronously; wait for it.
	for i := 0; i < 100; i++ {
		if h.Get(v) == nil {
			return
		}
		g.Epoch()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("the collector thread never processed the decrement")
}
