// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package object implements the Gab heap: the shared object header, the
// concrete heap kinds, and the engine-wide interning of strings, sigils,
// shapes, and messages.
package object

import (
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/lang/bytecode"
)

// GC color and lifecycle flags, one bit each. Colors are exclusive; the
// lifecycle bits survive recoloring.
const (
	FlagBlack    uint16 = 1 << 1
	FlagGray     uint16 = 1 << 2
	FlagWhite    uint16 = 1 << 3
	FlagPurple   uint16 = 1 << 4
	FlagGreen    uint16 = 1 << 5
	FlagBuffered uint16 = 1 << 6
	FlagNew      uint16 = 1 << 7
	FlagFreed    uint16 = 1 << 8
	FlagModified uint16 = 1 << 9

	colorMask = FlagBlack | FlagGray | FlagWhite | FlagPurple | FlagGreen
	keepMask  = FlagBuffered | FlagNew | FlagFreed | FlagModified
)

// Header is the state shared by every heap object: the reference count, the
// collector flags, and the object's own boxed handle.
type Header struct {
	Refs   int32
	Flags  uint16
	handle value.Value
}

// Hdr returns the shared header; embedding makes every concrete kind an
// Obj.
func (h *Header) Hdr() *Header { return h }

// Value returns the object's boxed heap reference.
func (h *Header) Value() value.Value { return h.handle }

// Color returns the current GC color bit.
func (h *Header) Color() uint16 { return h.Flags & colorMask }

// SetColor replaces the color bits, preserving lifecycle flags.
func (h *Header) SetColor(c uint16) { h.Flags = h.Flags&keepMask | c }

// Has reports whether all bits of f are set.
func (h *Header) Has(f uint16) bool { return h.Flags&f == f }

// Set sets the bits of f.
func (h *Header) Set(f uint16) { h.Flags |= f }

// Clear clears the bits of f.
func (h *Header) Clear(f uint16) { h.Flags &^= f }

// Obj is a heap object. Each kind enumerates its outgoing references for the
// collector through EachChild.
type Obj interface {
	Hdr() *Header
	Kind() value.Kind
	EachChild(fn func(value.Value))
}

// ---- String / Sigil (long form) ---------------------------------------------

// String is a heap string or sigil longer than the inline limit. Interned:
// reconstructing the same bytes yields the same handle.
type String struct {
	Header
	IsSigilKind bool
	Hash        uint64
	Bytes       []byte
}

func (s *String) Kind() value.Kind {
	if s.IsSigilKind {
		return value.KindSigil
	}
	return value.KindString
}

func (s *String) EachChild(fn func(value.Value)) {}

// ---- Shape ------------------------------------------------------------------

// Shape is an ordered immutable sequence of keys shared by structurally
// equivalent records. Interned by key sequence.
type Shape struct {
	Header
	Hash uint64
	Keys []value.Value
}

func (s *Shape) Kind() value.Kind { return value.KindShape }

func (s *Shape) EachChild(fn func(value.Value)) {
	for _, k := range s.Keys {
		fn(k)
	}
}

// Len returns the number of keys.
func (s *Shape) Len() int { return len(s.Keys) }

// Find returns the offset of key, or -1.
func (s *Shape) Find(key value.Value) int {
	for i, k := range s.Keys {
		if k == key {
			return i
		}
	}
	return -1
}

// ---- Record -----------------------------------------------------------------

// Record pairs an immutable shape with mutable member values.
type Record struct {
	Header
	Shape value.Value
	Data  []value.Value
}

func (r *Record) Kind() value.Kind { return value.KindRecord }

func (r *Record) EachChild(fn func(value.Value)) {
	fn(r.Shape)
	for _, v := range r.Data {
		fn(v)
	}
}

// Len returns the number of members.
func (r *Record) Len() int { return len(r.Data) }

// ---- Message ----------------------------------------------------------------

// Message is a named multi-method dispatch table mapping receiver types to
// specializations. The version counter invalidates send-site caches: every
// Put bumps it, and a cached site whose version differs re-resolves.
type Message struct {
	Header
	Name    value.Value
	Version byte
	Types   []value.Value
	Specs   []value.Value
}

func (m *Message) Kind() value.Kind { return value.KindMessage }

func (m *Message) EachChild(fn func(value.Value)) {
	fn(m.Name)
	for _, t := range m.Types {
		fn(t)
	}
	for _, s := range m.Specs {
		fn(s)
	}
}

// Find returns the specialization offset for a receiver type, or -1.
func (m *Message) Find(typ value.Value) int {
	for i, t := range m.Types {
		if t == typ {
			return i
		}
	}
	return -1
}

// At returns the specialization for a receiver type.
func (m *Message) At(typ value.Value) (value.Value, bool) {
	if i := m.Find(typ); i >= 0 {
		return m.Specs[i], true
	}
	return value.Undefined, false
}

// SpecAt returns the specialization at a cached offset, revalidating bounds.
func (m *Message) SpecAt(offset uint16) value.Value {
	if int(offset) >= len(m.Specs) {
		return value.Undefined
	}
	return m.Specs[offset]
}

// Put installs or replaces the specialization for a receiver type and bumps
// the version. It reports whether the type was already present.
func (m *Message) Put(typ, spec value.Value) (existed bool) {
	m.Version++
	if i := m.Find(typ); i >= 0 {
		m.Specs[i] = spec
		return true
	}
	m.Types = append(m.Types, typ)
	m.Specs = append(m.Specs, spec)
	return false
}

// ---- Prototypes -------------------------------------------------------------

// BlockProto is the immutable compiled artifact of a block: a window into a
// module's bytecode plus the frame geometry the VM needs to activate it.
type BlockProto struct {
	Header
	Mod    *bytecode.Module
	Offset uint32 // entry offset into Mod.Code
	Name   value.Value

	NArgs     byte
	NUpvalues byte
	NSlots    byte
	NLocals   byte

	// UpvDesc holds two bytes per upvalue: flags and index. The flag's low
	// bit distinguishes capturing an enclosing local from forwarding an
	// enclosing upvalue.
	UpvDesc []byte
}

// Upvalue descriptor flags.
const (
	UpvLocal byte = 1 << 0
)

func (p *BlockProto) Kind() value.Kind { return value.KindBlockProto }

func (p *BlockProto) EachChild(fn func(value.Value)) { fn(p.Name) }

// SuspenseProto records where a yield resumes and how many values the resume
// site expects.
type SuspenseProto struct {
	Header
	Mod          *bytecode.Module
	ResumeOffset uint32
	Want         byte
}

func (p *SuspenseProto) Kind() value.Kind { return value.KindSuspenseProto }

func (p *SuspenseProto) EachChild(fn func(value.Value)) {}

// ---- Block ------------------------------------------------------------------

// Block is the callable closure: a prototype plus captured upvalues.
type Block struct {
	Header
	Proto    value.Value
	Upvalues []value.Value
}

func (b *Block) Kind() value.Kind { return value.KindBlock }

func (b *Block) EachChild(fn func(value.Value)) {
	fn(b.Proto)
	for _, u := range b.Upvalues {
		fn(u)
	}
}

// ---- Native -----------------------------------------------------------------

// Caller is the VM surface a native function programs against. Results are
// pushed rather than returned so natives never touch the stack pointer.
type Caller interface {
	// Push pushes result values onto the VM stack.
	Push(vs ...value.Value)
	// Panic raises a runtime error from native code; the returned sentinel
	// must be propagated as the native's return.
	Panic(format string, vals ...value.Value) error
	// Heap exposes the engine heap for allocation and interning.
	Heap() *Heap
	// Barrier records a child swap a native performed inside parent, so the
	// collector's counts stay consistent.
	Barrier(parent, old, new value.Value)
}

// NativeFn is the host ABI for message specializations written in Go.
// A nil error and a nil slice mean no results.
type NativeFn func(c Caller, args []value.Value) ([]value.Value, error)

// Native wraps a host function value.
type Native struct {
	Header
	Name value.Value
	Fn   NativeFn
}

func (n *Native) Kind() value.Kind { return value.KindNative }

func (n *Native) EachChild(fn func(value.Value)) { fn(n.Name) }

// ---- Box --------------------------------------------------------------------

// Box wraps host data with an associated type value, an optional destructor
// run at collection, and an optional visitor for the GC walk.
type Box struct {
	Header
	Type       value.Value
	Data       any
	Destructor func(any)
	Visitor    func(data any, fn func(value.Value))
}

func (b *Box) Kind() value.Kind { return value.KindBox }

func (b *Box) EachChild(fn func(value.Value)) {
	fn(b.Type)
	if b.Visitor != nil {
		b.Visitor(b.Data, fn)
	}
}

// ---- Suspense ---------------------------------------------------------------

// Suspense is a reified one-shot continuation: the yielding block, the
// suspense prototype naming the resume point, and a copy of the frame slots.
type Suspense struct {
	Header
	Proto value.Value
	Block value.Value
	Slots []value.Value
}

func (s *Suspense) Kind() value.Kind { return value.KindSuspense }

func (s *Suspense) EachChild(fn func(value.Value)) {
	fn(s.Proto)
	fn(s.Block)
	for _, v := range s.Slots {
		fn(v)
	}
}

// ---- Fiber ------------------------------------------------------------------

// FiberStatus is the lifecycle of a scheduled fiber.
type FiberStatus int32

const (
	FiberQueued FiberStatus = iota
	FiberRunning
	FiberDone
)

// Fiber is a lightweight scheduled unit of execution: a top-level block plus
// its arguments, with a result slot written on completion.
type Fiber struct {
	Header
	Main   value.Value
	Args   []value.Value
	Status FiberStatus
	Result []value.Value

	// Err holds the diagnostic that halted the fiber, if any.
	Err error

	// Done is closed when the fiber transitions to FiberDone.
	Done chan struct{}
}

func (f *Fiber) Kind() value.Kind { return value.KindFiber }

func (f *Fiber) EachChild(fn func(value.Value)) {
	fn(f.Main)
	for _, v := range f.Args {
		fn(v)
	}
	for _, v := range f.Result {
		fn(v)
	}
}

// Finish records the fiber's results and wakes waiters.
func (f *Fiber) Finish(results []value.Value) {
	f.Result = results
	f.Status = FiberDone
	close(f.Done)
}
