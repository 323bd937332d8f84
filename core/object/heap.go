// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package object

import (
	"hash/fnv"
	"sync"

	"github.com/gablang/go-gab/core/value"
)

// Heap owns every live object of one engine. Handles index the object table;
// a value never moves once allocated. The intern dictionaries guarantee that
// equal bytes yield pointer-equal strings, shapes, and messages.
type Heap struct {
	mu   sync.Mutex
	objs []Obj
	free []uint64

	// intern guards the dictionaries below and is always acquired before
	// mu, never after.
	intern   sync.Mutex
	strings  map[string]value.Value
	sigils   map[string]value.Value
	messages map[string]value.Value
	shapes   map[uint64][]value.Value

	// onAlloc is installed by the collector so freshly allocated objects
	// enter the bookkeeping before they can escape their producing frame.
	onAlloc func(Obj)
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		objs:     make([]Obj, 1), // handle 0 stays unused
		strings:  make(map[string]value.Value),
		sigils:   make(map[string]value.Value),
		messages: make(map[string]value.Value),
		shapes:   make(map[uint64][]value.Value),
	}
}

// OnAlloc installs the collector's allocation hook.
func (h *Heap) OnAlloc(fn func(Obj)) {
	h.mu.Lock()
	h.onAlloc = fn
	h.mu.Unlock()
}

// Alloc registers o, assigns its handle, and returns the boxed reference.
// New objects start with the NEW lifecycle flag set.
func (h *Heap) Alloc(o Obj) value.Value {
	h.mu.Lock()
	var handle uint64
	if n := len(h.free); n > 0 {
		handle = h.free[n-1]
		h.free = h.free[:n-1]
		h.objs[handle] = o
	} else {
		handle = uint64(len(h.objs))
		h.objs = append(h.objs, o)
	}
	hdr := o.Hdr()
	hdr.handle = value.Obj(handle)
	hdr.Set(FlagNew)
	hook := h.onAlloc
	h.mu.Unlock()

	if hook != nil {
		hook(o)
	}
	return hdr.handle
}

// Get resolves a boxed reference to its object. Resolving a released handle
// returns nil.
func (h *Heap) Get(v value.Value) Obj {
	if !v.IsObj() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := v.Handle()
	if handle >= uint64(len(h.objs)) {
		return nil
	}
	return h.objs[handle]
}

// Release unregisters a destroyed object and recycles its handle. Interned
// entries pointing at it are dropped so the bytes can re-intern later.
func (h *Heap) Release(o Obj) {
	hdr := o.Hdr()
	hdr.Set(FlagFreed)

	h.intern.Lock()
	switch t := o.(type) {
	case *String:
		if t.IsSigilKind {
			delete(h.sigils, string(t.Bytes))
		} else {
			delete(h.strings, string(t.Bytes))
		}
	case *Message:
		name := h.StringOf(t.Name)
		if v, ok := h.messages[name]; ok && v == hdr.handle {
			delete(h.messages, name)
		}
	case *Shape:
		bucket := h.shapes[t.Hash]
		for i, s := range bucket {
			if s == hdr.handle {
				h.shapes[t.Hash] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
	}
	h.intern.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	handle := hdr.handle.Handle()
	if handle < uint64(len(h.objs)) && h.objs[handle] == o {
		h.objs[handle] = nil
		h.free = append(h.free, handle)
	}
}

// Each calls fn for every live object.
func (h *Heap) Each(fn func(Obj)) {
	h.mu.Lock()
	objs := make([]Obj, 0, len(h.objs))
	for _, o := range h.objs {
		if o != nil {
			objs = append(objs, o)
		}
	}
	h.mu.Unlock()
	for _, o := range objs {
		fn(o)
	}
}

// ---- Interning --------------------------------------------------------------

func hashBytes(b []byte) uint64 {
	f := fnv.New64a()
	f.Write(b)
	return f.Sum64()
}

// Str returns the value of s: inline when it fits, interned on the heap
// otherwise. Str(s) == Str(s) as value identity for any bytes s.
func (h *Heap) Str(s string) value.Value {
	if v, ok := value.ShortString(s); ok {
		return v
	}
	h.intern.Lock()
	defer h.intern.Unlock()
	if v, ok := h.strings[s]; ok {
		return v
	}
	obj := &String{Hash: hashBytes([]byte(s)), Bytes: []byte(s)}
	obj.Set(FlagGreen)
	v := h.Alloc(obj)
	h.strings[s] = v
	return v
}

// SigilOf returns the sigil value of s, inline or interned.
func (h *Heap) SigilOf(s string) value.Value {
	if v, ok := value.Sigil(s); ok {
		return v
	}
	h.intern.Lock()
	defer h.intern.Unlock()
	if v, ok := h.sigils[s]; ok {
		return v
	}
	obj := &String{IsSigilKind: true, Hash: hashBytes([]byte(s)), Bytes: []byte(s)}
	obj.Set(FlagGreen)
	v := h.Alloc(obj)
	h.sigils[s] = v
	return v
}

// StringOf returns the Go bytes of any string or sigil value.
func (h *Heap) StringOf(v value.Value) string {
	if v.IsShortString() || v.IsSigil() {
		return string(v.ShortBytes())
	}
	if s, ok := h.Get(v).(*String); ok {
		return string(s.Bytes)
	}
	return ""
}

// MessageOf returns the interned message named name, creating it on first
// use.
func (h *Heap) MessageOf(name string) value.Value {
	nameVal := h.Str(name)
	h.intern.Lock()
	defer h.intern.Unlock()
	if v, ok := h.messages[name]; ok {
		return v
	}
	obj := &Message{Name: nameVal}
	v := h.Alloc(obj)
	h.messages[name] = v
	return v
}

// ShapeOf returns the interned shape over keys. Two structurally equal key
// sequences share one shape.
func (h *Heap) ShapeOf(keys []value.Value) value.Value {
	f := fnv.New64a()
	var word [8]byte
	for _, k := range keys {
		for i := 0; i < 8; i++ {
			word[i] = byte(uint64(k) >> (8 * i))
		}
		f.Write(word[:])
	}
	hash := f.Sum64()

	h.intern.Lock()
	defer h.intern.Unlock()
	for _, cand := range h.shapes[hash] {
		if s, ok := h.Get(cand).(*Shape); ok && shapeKeysEqual(s.Keys, keys) {
			return cand
		}
	}
	obj := &Shape{Hash: hash, Keys: append([]value.Value(nil), keys...)}
	v := h.Alloc(obj)
	h.shapes[hash] = append(h.shapes[hash], v)
	return v
}

func shapeKeysEqual(a, b []value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ShapeWith returns s unchanged when k is already a key, otherwise the
// interned shape extending s by k.
func (h *Heap) ShapeWith(s value.Value, k value.Value) value.Value {
	shape := h.Get(s).(*Shape)
	if shape.Find(k) >= 0 {
		return s
	}
	keys := make([]value.Value, 0, len(shape.Keys)+1)
	keys = append(keys, shape.Keys...)
	keys = append(keys, k)
	return h.ShapeOf(keys)
}

// ---- Construction helpers ---------------------------------------------------

// NewRecord allocates a record over an interned shape.
func (h *Heap) NewRecord(keys, vals []value.Value) value.Value {
	shape := h.ShapeOf(keys)
	rec := &Record{Shape: shape, Data: append([]value.Value(nil), vals...)}
	return h.Alloc(rec)
}

// NewTuple allocates a record whose keys are the indices 0..n-1.
func (h *Heap) NewTuple(vals []value.Value) value.Value {
	keys := make([]value.Value, len(vals))
	for i := range vals {
		keys[i] = value.Number(float64(i))
	}
	return h.NewRecord(keys, vals)
}

// RecordWith either mutates rec in place when k is already a member, or
// returns a fresh record with an extended shape.
func (h *Heap) RecordWith(rec value.Value, k, v value.Value) value.Value {
	r := h.Get(rec).(*Record)
	shape := h.Get(r.Shape).(*Shape)
	if i := shape.Find(k); i >= 0 {
		r.Data[i] = v
		r.Hdr().Set(FlagModified)
		return rec
	}
	ext := h.ShapeWith(r.Shape, k)
	data := make([]value.Value, 0, len(r.Data)+1)
	data = append(data, r.Data...)
	data = append(data, v)
	out := &Record{Shape: ext, Data: data}
	return h.Alloc(out)
}

// ---- Type resolution --------------------------------------------------------

// KindOf returns the runtime kind of any value.
func (h *Heap) KindOf(v value.Value) value.Kind {
	if v.IsObj() {
		if o := h.Get(v); o != nil {
			return o.Kind()
		}
		return value.KindUndefined
	}
	return v.ImmediateKind()
}

// KindType returns the type value standing for a whole kind: the kind's name
// as a sigil.
func (h *Heap) KindType(k value.Kind) value.Value {
	return h.SigilOf(k.String())
}

// ValType resolves a receiver to its dispatch type: records yield their
// shape, boxes their user type, sigils themselves, and everything else the
// sigil of its kind.
func (h *Heap) ValType(v value.Value) value.Value {
	if v.IsSigil() {
		return v
	}
	if v.IsObj() {
		switch o := h.Get(v).(type) {
		case *Record:
			return o.Shape
		case *Box:
			return o.Type
		case *String:
			if o.IsSigilKind {
				return v
			}
		}
	}
	return h.KindType(h.KindOf(v))
}
