// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package gc implements reference counting with Bacon-Rajan trial-deletion
// cycle collection for the Gab heap.
//
// Mutator threads never mutate counts directly: increments, decrements, and
// modifications are enqueued into per-engine ring buffers and drained by the
// collector at epoch boundaries. Children of a NEW object are not counted
// until the object's first modification entry is processed, which is what
// lets a freshly built object escape its producing frame without a storm of
// barrier traffic.
//
// Colors follow the recycler: GREEN objects are acyclic and freed as soon as
// their count drops to zero; PURPLE objects are candidate cycle roots; the
// GRAY/WHITE/BLACK cycle runs trial deletion over the candidate set.
package gc

import (
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
)

// ModBuffMax bounds each ring buffer; filling one schedules a drain.
const ModBuffMax = 1024

// GC is the per-engine collector.
type GC struct {
	heap *object.Heap

	mu            sync.Mutex
	increments    []object.Obj
	decrements    []object.Obj
	modifications []object.Obj
	roots         mapset.Set

	epoch    uint64
	allocs   uint64
	schedule bool

	// lockDepth defers collection while a mutator builds a compound value.
	lockDepth int32

	quit chan struct{}
	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a collector over heap and installs its allocation hook: a
// burst of allocations schedules a drain even when no refcount traffic
// arrives.
func New(heap *object.Heap) *GC {
	g := &GC{
		heap:  heap,
		roots: mapset.NewSet(),
		quit:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
	}
	heap.OnAlloc(func(object.Obj) {
		if atomic.AddUint64(&g.allocs, 1)%ModBuffMax == 0 {
			g.signal()
		}
	})
	return g
}

// Start launches the collector thread. Whenever it is woken (a worker
// advances the epoch, a buffer fills, or an allocation burst) it runs
// Collect, which drains the buffers and then runs cycle collection over the
// candidate roots.
func (g *GC) Start() {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			select {
			case <-g.quit:
				return
			case <-g.wake:
				g.Collect()
			}
		}
	}()
}

// Stop terminates the collector thread without a final collection.
func (g *GC) Stop() {
	close(g.quit)
	g.wg.Wait()
}

// Epoch advances the collector epoch; workers call this at their cooperative
// yield checkpoints so the collector can make progress.
func (g *GC) Epoch() {
	atomic.AddUint64(&g.epoch, 1)
	g.signal()
}

func (g *GC) signal() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Lock increments the mutator's lock depth; while it is nonzero the
// collector defers processing so a transient compound value cannot be
// reclaimed mid-construction.
func (g *GC) Lock() {
	atomic.AddInt32(&g.lockDepth, 1)
}

// Unlock decrements the lock depth.
func (g *GC) Unlock() {
	atomic.AddInt32(&g.lockDepth, -1)
}

// ---- Mutator API ------------------------------------------------------------

// Iref records new references to each of vs. Immediates are ignored.
func (g *GC) Iref(vs ...value.Value) {
	for _, v := range vs {
		if !v.IsObj() {
			continue
		}
		o := g.heap.Get(v)
		if o == nil {
			continue
		}
		g.mu.Lock()
		g.increments = append(g.increments, o)
		g.mu.Unlock()
	}
	g.maybeSchedule()
}

// Dref records dropped references to each of vs. Immediates are ignored.
func (g *GC) Dref(vs ...value.Value) {
	for _, v := range vs {
		if !v.IsObj() {
			continue
		}
		o := g.heap.Get(v)
		if o == nil {
			continue
		}
		g.mu.Lock()
		g.decrements = append(g.decrements, o)
		g.mu.Unlock()
	}
	g.maybeSchedule()
}

// WriteBarrier records a child swap inside parent. Children of a NEW object
// are not yet traced, so the swap costs nothing until the object's first
// modification entry drains.
func (g *GC) WriteBarrier(parent, old, new value.Value) {
	if !parent.IsObj() {
		return
	}
	p := g.heap.Get(parent)
	if p == nil || p.Hdr().Has(object.FlagNew) {
		return
	}
	g.Iref(new)
	g.Dref(old)
}

func (g *GC) maybeSchedule() {
	g.mu.Lock()
	full := len(g.decrements) >= ModBuffMax ||
		len(g.increments) >= ModBuffMax ||
		len(g.modifications) >= ModBuffMax
	if full {
		g.schedule = true
	}
	g.mu.Unlock()
	if full {
		g.signal()
	}
}

// iref applies an increment immediately; the caller holds g.mu.
func (g *GC) iref(o object.Obj) {
	hdr := o.Hdr()
	if hdr.Has(object.FlagFreed) {
		return
	}
	switch {
	case hdr.Has(object.FlagNew):
		// The object's children were never traced; the modification entry
		// will count them, so no child decrements are owed here.
		hdr.Clear(object.FlagNew)
		g.modifications = append(g.modifications, o)
	case hdr.Has(object.FlagModified):
		// Children already counted at the last epoch.
	default:
		// The object may have been mutated since its children were counted:
		// discount the current children and recount them when the
		// modification entry drains.
		o.EachChild(func(c value.Value) {
			if c.IsObj() {
				if co := g.heap.Get(c); co != nil {
					g.decrements = append(g.decrements, co)
				}
			}
		})
		g.modifications = append(g.modifications, o)
	}
	hdr.Refs++
	if !hdr.Has(object.FlagGreen) {
		hdr.SetColor(object.FlagBlack)
	}
}

// ---- Collection -------------------------------------------------------------

// Collect synchronously drains the buffers, destroys dead objects, and runs
// trial deletion over the candidate roots. It is a no-op while a mutator
// holds the GC lock.
func (g *GC) Collect() {
	if atomic.LoadInt32(&g.lockDepth) != 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.schedule = false

	// Processing one buffer can feed the others (a modification entry
	// recounts children, a release enqueues child decrements); drain to a
	// fixpoint before trial deletion.
	for len(g.increments)+len(g.modifications)+len(g.decrements) > 0 {
		g.processIncrements()
		g.processModifications()
		g.processDecrements()
	}
	g.collectCycles()
}

func (g *GC) processIncrements() {
	incs := g.increments
	g.increments = nil
	for _, o := range incs {
		g.iref(o)
	}
}

func (g *GC) processModifications() {
	mods := g.modifications
	g.modifications = nil
	for _, o := range mods {
		hdr := o.Hdr()
		if hdr.Has(object.FlagFreed) {
			continue
		}
		hdr.Set(object.FlagModified)
		o.EachChild(func(c value.Value) {
			if !c.IsObj() {
				return
			}
			co := g.heap.Get(c)
			if co == nil {
				return
			}
			g.iref(co)
		})
	}
}

func (g *GC) processDecrements() {
	for len(g.decrements) > 0 {
		decs := g.decrements
		g.decrements = nil
		for _, o := range decs {
			g.dref(o)
		}
	}
}

// dref applies a decrement immediately; the caller holds g.mu.
func (g *GC) dref(o object.Obj) {
	hdr := o.Hdr()
	if hdr.Has(object.FlagFreed) {
		return
	}
	if hdr.Has(object.FlagNew) {
		// Never traced: count it as born-dead. Its children were never
		// incremented, so destroying it owes them nothing.
		hdr.Clear(object.FlagNew)
		g.destroy(o, false)
		return
	}
	hdr.Refs--
	if hdr.Refs <= 0 {
		g.release(o)
		return
	}
	g.possibleRoot(o)
}

// release frees an object whose count reached zero, decrementing children.
func (g *GC) release(o object.Obj) {
	hdr := o.Hdr()
	if hdr.Has(object.FlagFreed) {
		return
	}
	g.destroy(o, hdr.Has(object.FlagModified))
}

func (g *GC) destroy(o object.Obj, decChildren bool) {
	if decChildren {
		o.EachChild(func(c value.Value) {
			if c.IsObj() {
				if co := g.heap.Get(c); co != nil {
					g.decrements = append(g.decrements, co)
				}
			}
		})
	}
	g.roots.Remove(o)
	if b, ok := o.(*object.Box); ok && b.Destructor != nil {
		b.Destructor(b.Data)
	}
	g.heap.Release(o)
}

// possibleRoot marks a decremented-but-live object as a candidate cycle
// root.
func (g *GC) possibleRoot(o object.Obj) {
	hdr := o.Hdr()
	if hdr.Has(object.FlagGreen) || hdr.Has(object.FlagBuffered) {
		return
	}
	hdr.SetColor(object.FlagPurple)
	hdr.Set(object.FlagBuffered)
	g.roots.Add(o)
	if g.roots.Cardinality() >= ModBuffMax {
		g.schedule = true
	}
}

// ---- Trial deletion ---------------------------------------------------------

func (g *GC) collectCycles() {
	if g.roots.Cardinality() == 0 {
		return
	}
	roots := make([]object.Obj, 0, g.roots.Cardinality())
	for _, i := range g.roots.ToSlice() {
		roots = append(roots, i.(object.Obj))
	}
	g.roots.Clear()

	// mark_roots: trial-delete each candidate subgraph.
	marked := roots[:0]
	for _, o := range roots {
		hdr := o.Hdr()
		hdr.Clear(object.FlagBuffered)
		if hdr.Has(object.FlagFreed) {
			continue
		}
		if hdr.Color() == object.FlagPurple && hdr.Refs > 0 {
			g.markGray(o)
			marked = append(marked, o)
		} else if hdr.Refs <= 0 && !hdr.Has(object.FlagFreed) {
			g.release(o)
		}
	}

	// scan_roots: subgraphs with external references survive.
	for _, o := range marked {
		g.scan(o)
	}

	// collect_roots: everything still white is cyclic garbage.
	for _, o := range marked {
		g.collectWhite(o)
	}
}

func (g *GC) markGray(o object.Obj) {
	hdr := o.Hdr()
	if hdr.Color() == object.FlagGray || hdr.Has(object.FlagGreen) || hdr.Has(object.FlagFreed) {
		return
	}
	hdr.SetColor(object.FlagGray)
	o.EachChild(func(c value.Value) {
		if !c.IsObj() {
			return
		}
		co := g.heap.Get(c)
		if co == nil || co.Hdr().Has(object.FlagGreen) {
			return
		}
		co.Hdr().Refs--
		g.markGray(co)
	})
}

func (g *GC) scan(o object.Obj) {
	hdr := o.Hdr()
	if hdr.Color() != object.FlagGray {
		return
	}
	if hdr.Refs > 0 {
		g.scanBlack(o)
		return
	}
	hdr.SetColor(object.FlagWhite)
	o.EachChild(func(c value.Value) {
		if !c.IsObj() {
			return
		}
		if co := g.heap.Get(c); co != nil {
			g.scan(co)
		}
	})
}

func (g *GC) scanBlack(o object.Obj) {
	hdr := o.Hdr()
	hdr.SetColor(object.FlagBlack)
	o.EachChild(func(c value.Value) {
		if !c.IsObj() {
			return
		}
		co := g.heap.Get(c)
		if co == nil || co.Hdr().Has(object.FlagGreen) {
			return
		}
		chdr := co.Hdr()
		chdr.Refs++
		if chdr.Color() != object.FlagBlack {
			g.scanBlack(co)
		}
	})
}

func (g *GC) collectWhite(o object.Obj) {
	hdr := o.Hdr()
	if hdr.Color() != object.FlagWhite || hdr.Has(object.FlagBuffered) || hdr.Has(object.FlagFreed) {
		return
	}
	hdr.SetColor(object.FlagBlack)
	o.EachChild(func(c value.Value) {
		if !c.IsObj() {
			return
		}
		if co := g.heap.Get(c); co != nil {
			g.collectWhite(co)
		}
	})
	if b, ok := o.(*object.Box); ok && b.Destructor != nil {
		b.Destructor(b.Data)
	}
	g.heap.Release(o)
}
