// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/internal/diagnostic"
	"github.com/gablang/go-gab/lang/bytecode"
)

// Compile-time resource limits; indices must fit their operand bytes.
const (
	maxLocals      = 255
	maxUpvalues    = 255
	maxParameters  = 64
	maxExpressions = 127
)

type local struct {
	name        string
	depth       int
	mutable     bool
	captured    bool
	initialized bool
}

type upvdesc struct {
	flags byte
	index byte
}

type loopCtx struct {
	start     int
	localBase int
	breaks    []int
}

// frame is the per-block compilation state: the local table, upvalue
// descriptors, and the slot high-water mark for the frame geometry.
type frame struct {
	name       string
	locals     []local
	upvalues   []upvdesc
	scopeDepth int
	nargs      int

	nslots   int
	maxSlots int

	loops []*loopCtx

	// lastSend is the code offset of the send instruction that produced the
	// current top of stack, or -1. Multi-value contexts patch its want.
	lastSend int
}

func (c *Compiler) frame() *frame {
	return c.frames[len(c.frames)-1]
}

func (c *Compiler) pushFrame(name string) {
	f := &frame{name: name, lastSend: -1}
	// Slot 0 holds the callee.
	f.locals = append(f.locals, local{name: "self", depth: 0, initialized: true})
	f.nslots = 1
	f.maxSlots = 1
	c.frames = append(c.frames, f)
}

// popFrame finalizes the current frame into a block prototype whose bytecode
// window starts at offset.
func (c *Compiler) popFrame(offset int) value.Value {
	f := c.frame()
	c.frames = c.frames[:len(c.frames)-1]

	desc := make([]byte, 0, 2*len(f.upvalues))
	for _, u := range f.upvalues {
		desc = append(desc, u.flags, u.index)
	}
	proto := &object.BlockProto{
		Mod:       c.mod,
		Offset:    uint32(offset),
		Name:      c.heap.Str(f.name),
		NArgs:     byte(f.nargs),
		NUpvalues: byte(len(f.upvalues)),
		NSlots:    byte(min(f.maxSlots+8, 255)),
		NLocals:   byte(len(f.locals)),
		UpvDesc:   desc,
	}
	return c.heap.Alloc(proto)
}

// ---- Slot accounting --------------------------------------------------------

func (c *Compiler) pushSlots(n int) {
	f := c.frame()
	f.nslots += n
	if f.nslots > f.maxSlots {
		f.maxSlots = f.nslots
	}
}

func (c *Compiler) popSlots(n int) {
	f := c.frame()
	f.nslots -= n
	if f.nslots < 0 {
		f.nslots = 0
	}
}

// ---- Locals -----------------------------------------------------------------

func (f *frame) resolveLocal(name string) int {
	for i := len(f.locals) - 1; i >= 0; i-- {
		if f.locals[i].name == name {
			return i
		}
	}
	return -1
}

// declareLocal binds name to the slot currently on top of the stack.
func (c *Compiler) declareLocal(name string, mutable bool) (int, bool) {
	f := c.frame()
	if len(f.locals) >= maxLocals {
		c.fail(diagnostic.TooManyLocals, "a block cannot declare more than $ locals", "255")
		return 0, false
	}
	if i := f.resolveLocal(name); i >= 0 && f.locals[i].depth == f.scopeDepth {
		c.fail(diagnostic.LocalAlreadyExists, "'$' is already defined in this scope", name)
		return 0, false
	}
	f.locals = append(f.locals, local{
		name:        name,
		depth:       f.scopeDepth,
		mutable:     mutable,
		initialized: true,
	})
	return len(f.locals) - 1, true
}

func (c *Compiler) scopeBegin() {
	c.frame().scopeDepth++
}

// scopeEnd discards the scope's locals from the table, so later declarations
// reuse their slot indices. The loop compiler pops their runtime slots first.
func (c *Compiler) scopeEnd() {
	f := c.frame()
	f.scopeDepth--
	for len(f.locals) > 0 && f.locals[len(f.locals)-1].depth > f.scopeDepth {
		f.locals = f.locals[:len(f.locals)-1]
	}
}

// resolveUpvalue searches enclosing frames for name, promoting it to an
// upvalue in every intermediate frame (cascading capture).
func (c *Compiler) resolveUpvalue(fi int, name string) int {
	if fi == 0 {
		return -1
	}
	outer := c.frames[fi-1]
	if li := outer.resolveLocal(name); li >= 0 {
		if outer.locals[li].mutable {
			c.fail(diagnostic.CaptureOfMutable,
				"'$' is mutable and cannot be captured; declare it with def", name)
			return -1
		}
		outer.locals[li].captured = true
		return c.addUpvalue(fi, object.UpvLocal, byte(li))
	}
	if ui := c.resolveUpvalue(fi-1, name); ui >= 0 {
		return c.addUpvalue(fi, 0, byte(ui))
	}
	return -1
}

func (c *Compiler) addUpvalue(fi int, flags, index byte) int {
	f := c.frames[fi]
	for i, u := range f.upvalues {
		if u.flags == flags && u.index == index {
			return i
		}
	}
	if len(f.upvalues) >= maxUpvalues {
		c.fail(diagnostic.TooManyUpvalues, "a block cannot capture more than $ upvalues", "255")
		return -1
	}
	f.upvalues = append(f.upvalues, upvdesc{flags: flags, index: index})
	return len(f.upvalues) - 1
}

// ---- Emission ---------------------------------------------------------------
//
// The emitter tracks the last two emitted instructions so the frequent
// sequences peep-combine into superinstructions. Upgrades only ever mutate
// the final instruction, so previously recorded jump operands stay valid.

func (c *Compiler) tokIdx() uint32 {
	if c.cur == 0 {
		return 0
	}
	return uint32(c.cur - 1)
}

func (c *Compiler) note(op bytecode.Opcode, off int) {
	c.prevOp, c.prevOff = c.lastOp, c.lastOff
	c.lastOp, c.lastOff = op, off
	if op.IsSend() {
		c.frame().lastSend = off
	} else {
		c.frame().lastSend = -1
	}
}

func (c *Compiler) emitOp(op bytecode.Opcode) int {
	off := len(c.mod.Code)
	c.mod.EmitOp(op, c.tokIdx())
	c.note(op, off)
	return off
}

func (c *Compiler) emitByte(b byte) {
	c.mod.EmitByte(b, c.tokIdx())
}

func (c *Compiler) emitShort(s uint16) {
	c.mod.EmitShort(s, c.tokIdx())
}

func (c *Compiler) constant(v value.Value) (uint16, bool) {
	k, err := c.mod.AddConstant(v)
	if err != nil {
		c.fail(diagnostic.TooManyConstants, "the module constant pool overflowed")
		return 0, false
	}
	return k, true
}

// emitConstant pushes a constant, merging consecutive loads into NCONSTANT.
func (c *Compiler) emitConstant(v value.Value) bool {
	k, ok := c.constant(v)
	if !ok {
		return false
	}
	switch {
	case c.lastOp == bytecode.OpConstant && c.lastOff == len(c.mod.Code)-3:
		// [CONSTANT k1] + k2 -> [NCONSTANT 2 k1 k2]
		c.insertCountByte(c.lastOff, bytecode.OpNConstant, 2)
		c.emitShort(k)
	case c.lastOp == bytecode.OpNConstant && c.extendN(2):
		c.emitShort(k)
	default:
		c.emitOp(bytecode.OpConstant)
		c.emitShort(k)
	}
	c.pushSlots(1)
	return true
}

func (c *Compiler) emitLoadLocal(i byte) {
	switch {
	case c.lastOp == bytecode.OpLoadLocal && c.lastOff == len(c.mod.Code)-2:
		// [LOAD_LOCAL i1] + i2 -> [NLOAD_LOCAL 2 i1 i2]
		c.insertCountByte(c.lastOff, bytecode.OpNLoadLocal, 2)
		c.emitByte(i)
	case c.lastOp == bytecode.OpNLoadLocal && c.extendN(1):
		c.emitByte(i)
	default:
		c.emitOp(bytecode.OpLoadLocal)
		c.emitByte(i)
	}
	c.pushSlots(1)
}

func (c *Compiler) emitLoadUpvalue(i byte) {
	switch {
	case c.lastOp == bytecode.OpLoadUpvalue && c.lastOff == len(c.mod.Code)-2:
		c.insertCountByte(c.lastOff, bytecode.OpNLoadUpvalue, 2)
		c.emitByte(i)
	case c.lastOp == bytecode.OpNLoadUpvalue && c.extendN(1):
		c.emitByte(i)
	default:
		c.emitOp(bytecode.OpLoadUpvalue)
		c.emitByte(i)
	}
	c.pushSlots(1)
}

// emitPop combines STORE_LOCAL+POP into POPSTORE_LOCAL, chains consecutive
// popstores into NPOPSTORE_LOCAL, and merges bare pops into POP_N.
func (c *Compiler) emitPop() {
	end := len(c.mod.Code)
	switch {
	case c.lastOp == bytecode.OpStoreLocal && c.lastOff == end-2:
		idx := c.mod.Code[end-1]
		if c.prevOp == bytecode.OpPopStoreLocal && c.prevOff == c.lastOff-2 {
			// [POPSTORE i1][STORE i2] + POP -> [NPOPSTORE 2 i1 i2]
			i1 := c.mod.Code[c.prevOff+1]
			c.mod.Code[c.prevOff] = byte(bytecode.OpNPopStoreLocal)
			c.mod.Code[c.prevOff+1] = 2
			c.mod.Code[c.lastOff] = i1
			c.mod.Code[c.lastOff+1] = idx
			c.note(bytecode.OpNPopStoreLocal, c.prevOff)
		} else if c.prevOp == bytecode.OpNPopStoreLocal && c.prevOff+2+int(c.mod.Code[c.prevOff+1]) == c.lastOff {
			// [NPOPSTORE n ...][STORE i] + POP -> [NPOPSTORE n+1 ... i]
			c.mod.Code[c.prevOff+1]++
			c.mod.Code[c.lastOff] = idx
			c.mod.Code = c.mod.Code[:end-1]
			c.mod.TokenMap = c.mod.TokenMap[:end-1]
			c.note(bytecode.OpNPopStoreLocal, c.prevOff)
		} else {
			c.mod.Code[c.lastOff] = byte(bytecode.OpPopStoreLocal)
			c.note(bytecode.OpPopStoreLocal, c.lastOff)
		}
	case c.lastOp == bytecode.OpPop && c.lastOff == end-1:
		c.mod.Code[c.lastOff] = byte(bytecode.OpPopN)
		c.emitByte(2)
		c.note(bytecode.OpPopN, c.lastOff)
	case c.lastOp == bytecode.OpPopN && c.lastOff == end-2 && c.mod.Code[end-1] < 255:
		c.mod.Code[end-1]++
	default:
		c.emitOp(bytecode.OpPop)
	}
	c.popSlots(1)
}

// insertCountByte rewrites the final fixed-width instruction at off into its
// N-variant by inserting a count byte after the opcode.
func (c *Compiler) insertCountByte(off int, nop bytecode.Opcode, count byte) {
	c.mod.Code = append(c.mod.Code, 0)
	c.mod.TokenMap = append(c.mod.TokenMap, c.mod.TokenMap[len(c.mod.TokenMap)-1])
	copy(c.mod.Code[off+2:], c.mod.Code[off+1:])
	copy(c.mod.TokenMap[off+2:], c.mod.TokenMap[off+1:])
	c.mod.Code[off] = byte(nop)
	c.mod.Code[off+1] = count
	c.note(nop, off)
}

// extendN bumps the count of the trailing N-superinstruction when it is
// still the final instruction and has room. stride is the operand width.
func (c *Compiler) extendN(stride int) bool {
	off := c.lastOff
	n := int(c.mod.Code[off+1])
	if n >= 255 {
		return false
	}
	if off+2+n*stride != len(c.mod.Code) {
		return false
	}
	c.mod.Code[off+1]++
	return true
}

// ---- Jumps ------------------------------------------------------------------

// emitJump emits op with a placeholder distance and returns the operand
// offset for patching.
func (c *Compiler) emitJump(op bytecode.Opcode) int {
	c.emitOp(op)
	operand := len(c.mod.Code)
	c.emitShort(0xffff)
	return operand
}

// patchJump points the jump at operand to the current end of code.
func (c *Compiler) patchJump(operand int) {
	dist := len(c.mod.Code) - operand - 2
	c.mod.PatchShort(operand, uint16(dist))
}

// emitLoop emits a backward jump to start.
func (c *Compiler) emitLoop(start int) {
	c.emitOp(bytecode.OpLoop)
	dist := len(c.mod.Code) + 2 - start
	c.emitShort(uint16(dist))
}

// ---- Sends ------------------------------------------------------------------

// emitSend emits a full polymorphic send site with an empty inline cache.
func (c *Compiler) emitSend(name string, have int, variadic bool) bool {
	msg := c.heap.MessageOf(name)
	k, ok := c.constant(msg)
	if !ok {
		return false
	}
	c.emitOp(bytecode.OpSend)
	c.emitShort(k)
	c.emitByte(bytecode.HaveByte(have, variadic))
	c.emitByte(0) // cache version
	c.emitByte(1) // want
	for i := 6; i < bytecode.SendLen; i++ {
		c.emitByte(0)
	}
	c.popSlots(have + 1)
	c.pushSlots(1)
	return true
}

// patchLastSendWant rewires the trailing send to yield want results; used by
// variadic tails of tuples, returns, and assignments. It reports whether the
// top of stack was produced by a send.
func (c *Compiler) patchLastSendWant(want byte) bool {
	off := c.frame().lastSend
	if off < 0 {
		return false
	}
	c.mod.SetSendWant(off, want)
	return true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
