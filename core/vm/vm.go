// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package vm implements the Gab bytecode interpreter: a register-stack
// machine with a call-frame stack and an inline polymorphic cache at every
// message send site.
//
// A send resolves (receiver, message) to a specialization, writes the result
// into the instruction's inline cache, and rewrites the opcode to a
// monomorphic variant. Invalidation is by version: defining a new
// specialization bumps the message's version and the next dispatch through a
// stale site re-resolves.
package vm

import (
	"github.com/gablang/go-gab/core/gc"
	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/internal/diagnostic"
	"github.com/gablang/go-gab/lang/bytecode"
)

const (
	// StackMax bounds the value stack of one fiber.
	StackMax = 8192
	// FramesMax bounds call depth.
	FramesMax = 512

	// yieldInterval is how many dispatched sends or back edges pass between
	// cooperative GC epoch advances.
	yieldInterval = 256
)

// frame is one activation record.
type frame struct {
	block *object.Block
	proto *object.BlockProto
	mod   *bytecode.Module
	ip    int
	slots int // base index into the value stack; slots[0] is the callee
	want  byte
}

// VM executes one fiber at a time.
type VM struct {
	heap *object.Heap
	gc   *gc.GC

	stack  []value.Value
	sp     int
	frames []frame

	// varCount carries the live result count of the last variadic-producing
	// instruction; the next variadic consumer reads it.
	varCount int

	ticks int

	err *diagnostic.Error
}

// New creates a VM over the engine heap and collector.
func New(heap *object.Heap, collector *gc.GC) *VM {
	return &VM{
		heap:   heap,
		gc:     collector,
		stack:  make([]value.Value, StackMax),
		frames: make([]frame, 0, 64),
	}
}

// Heap implements object.Caller.
func (vm *VM) Heap() *object.Heap { return vm.heap }

// Push implements object.Caller: natives push their results here.
func (vm *VM) Push(vs ...value.Value) {
	for _, v := range vs {
		vm.stack[vm.sp] = v
		vm.sp++
	}
}

// Panic implements object.Caller: it raises a runtime error from native
// code.
func (vm *VM) Panic(format string, vals ...value.Value) error {
	rendered := make([]string, len(vals))
	for i, v := range vals {
		rendered[i] = vm.Inspect(v)
	}
	return &diagnostic.Error{
		Status: diagnostic.Panic,
		Note:   diagnostic.Sprintf(format, rendered...),
	}
}

// Barrier implements object.Caller: it records a child swap performed by
// native code inside parent.
func (vm *VM) Barrier(parent, old, new value.Value) {
	vm.gc.WriteBarrier(parent, old, new)
}

// Err returns the diagnostic of the last failed run.
func (vm *VM) Err() *diagnostic.Error { return vm.err }

// Exec runs main (a block value) to completion with args and returns its
// results.
func (vm *VM) Exec(main value.Value, args ...value.Value) ([]value.Value, *diagnostic.Error) {
	vm.err = nil
	vm.sp = 0
	vm.frames = vm.frames[:0]

	vm.Push(main)
	vm.Push(args...)
	if !vm.call(main, len(args), bytecode.VarArity) {
		return nil, vm.err
	}
	return vm.run()
}

func (vm *VM) top() *frame {
	return &vm.frames[len(vm.frames)-1]
}

func (vm *VM) panic(status diagnostic.Status, format string, vals ...string) bool {
	f := vm.top()
	vm.err = &diagnostic.Error{
		Status: status,
		Module: f.mod.Name,
		Tok:    f.mod.TokenAt(f.ip - 1),
		Note:   diagnostic.Sprintf(format, vals...),
	}
	return false
}

// ---- Calling ----------------------------------------------------------------

// call activates callee, whose have arguments sit on top of the stack above
// it. It reports false on a non-callable receiver or stack exhaustion.
func (vm *VM) call(callee value.Value, have int, want byte) bool {
	blk, ok := vm.heap.Get(callee).(*object.Block)
	if !ok {
		if len(vm.frames) == 0 {
			vm.err = &diagnostic.Error{Status: diagnostic.NotCallable, Note: "the main value is not a block"}
			return false
		}
		return vm.panic(diagnostic.NotCallable, "$ is not callable", vm.Inspect(callee))
	}
	proto := vm.heap.Get(blk.Proto).(*object.BlockProto)
	return vm.pushFrame(blk, proto, have, want, int(proto.Offset))
}

// pushFrame adjusts the argument window to nargs and installs a new frame
// whose entry point is ip.
func (vm *VM) pushFrame(blk *object.Block, proto *object.BlockProto, have int, want byte, ip int) bool {
	if len(vm.frames) >= FramesMax {
		if len(vm.frames) > 0 {
			return vm.panic(diagnostic.Overflow, "the call stack overflowed")
		}
		vm.err = &diagnostic.Error{Status: diagnostic.Overflow, Note: "the call stack overflowed"}
		return false
	}

	nargs := int(proto.NArgs)
	for have < nargs {
		vm.Push(value.Nil)
		have++
	}
	for have > nargs {
		vm.sp--
		have--
	}
	slots := vm.sp - nargs - 1

	if slots+int(proto.NSlots) >= StackMax {
		if len(vm.frames) > 0 {
			return vm.panic(diagnostic.Overflow, "the value stack overflowed")
		}
		vm.err = &diagnostic.Error{Status: diagnostic.Overflow, Note: "the value stack overflowed"}
		return false
	}

	vm.frames = append(vm.frames, frame{
		block: blk,
		proto: proto,
		mod:   proto.Mod,
		ip:    ip,
		slots: slots,
		want:  want,
	})
	return true
}

// returnValues unwinds the current frame, normalizing the have results on
// top of the stack to the caller's want. The top-level frame hands its
// results back to Exec.
func (vm *VM) returnValues(have int) (done bool, results []value.Value) {
	f := vm.top()
	want := f.want
	base := f.slots
	vm.frames = vm.frames[:len(vm.frames)-1]

	copy(vm.stack[base:], vm.stack[vm.sp-have:vm.sp])

	if len(vm.frames) == 0 {
		out := make([]value.Value, have)
		copy(out, vm.stack[base:base+have])
		vm.sp = base
		return true, out
	}

	if want == bytecode.VarArity {
		vm.sp = base + have
		vm.varCount = have
		return false, nil
	}
	n := int(want)
	for have < n {
		vm.stack[base+have] = value.Nil
		have++
	}
	vm.sp = base + n
	return false, nil
}

// arity decodes a have byte against the live variadic count.
func (vm *VM) arity(b byte) int {
	n, variadic := bytecode.DecodeHave(b)
	if variadic {
		return n - 1 + vm.varCount
	}
	return n
}

// ---- Main loop --------------------------------------------------------------

func (vm *VM) run() ([]value.Value, *diagnostic.Error) {
	for {
		f := vm.top()
		code := f.mod.Code
		op := bytecode.Opcode(code[f.ip])
		base := f.ip
		f.ip += f.mod.InstrLen(f.ip)

		switch op {

		// ---- Constants ------------------------------------------------------

		case bytecode.OpConstant:
			vm.Push(f.mod.Constants[f.mod.ReadShort(base+1)])

		case bytecode.OpNConstant:
			n := int(code[base+1])
			for i := 0; i < n; i++ {
				vm.Push(f.mod.Constants[f.mod.ReadShort(base+2+2*i)])
			}

		case bytecode.OpPushNil:
			vm.Push(value.Nil)
		case bytecode.OpPushTrue:
			vm.Push(value.True)
		case bytecode.OpPushFalse:
			vm.Push(value.False)
		case bytecode.OpPushUndefined:
			vm.Push(value.Undefined)

		// ---- Locals and upvalues --------------------------------------------

		case bytecode.OpLoadLocal:
			vm.Push(vm.stack[f.slots+int(code[base+1])])

		case bytecode.OpNLoadLocal:
			n := int(code[base+1])
			for i := 0; i < n; i++ {
				vm.Push(vm.stack[f.slots+int(code[base+2+i])])
			}

		case bytecode.OpStoreLocal:
			vm.stack[f.slots+int(code[base+1])] = vm.stack[vm.sp-1]

		case bytecode.OpPopStoreLocal:
			vm.sp--
			vm.stack[f.slots+int(code[base+1])] = vm.stack[vm.sp]

		case bytecode.OpNPopStoreLocal:
			n := int(code[base+1])
			for i := 0; i < n; i++ {
				vm.sp--
				vm.stack[f.slots+int(code[base+2+i])] = vm.stack[vm.sp]
			}

		case bytecode.OpLoadUpvalue:
			vm.Push(f.block.Upvalues[code[base+1]])

		case bytecode.OpNLoadUpvalue:
			n := int(code[base+1])
			for i := 0; i < n; i++ {
				vm.Push(f.block.Upvalues[code[base+2+i]])
			}

		// ---- Stack shuffling ------------------------------------------------

		case bytecode.OpPop:
			vm.sp--

		case bytecode.OpPopN:
			vm.sp -= int(code[base+1])

		case bytecode.OpDup:
			vm.Push(vm.stack[vm.sp-1])

		case bytecode.OpSwap:
			vm.stack[vm.sp-1], vm.stack[vm.sp-2] = vm.stack[vm.sp-2], vm.stack[vm.sp-1]

		case bytecode.OpShift:
			// Rotate the top n values, moving the top below the others.
			n := int(code[base+1])
			top := vm.stack[vm.sp-1]
			copy(vm.stack[vm.sp-n+1:vm.sp], vm.stack[vm.sp-n:vm.sp-1])
			vm.stack[vm.sp-n] = top

		case bytecode.OpInterpolate:
			n := int(code[base+1])
			s := ""
			for i := vm.sp - n; i < vm.sp; i++ {
				s += vm.Display(vm.stack[i])
			}
			vm.sp -= n
			vm.Push(vm.heap.Str(s))

		// ---- Control flow ---------------------------------------------------

		case bytecode.OpJump:
			f.ip += int(f.mod.ReadShort(base + 1))

		case bytecode.OpJumpIfTrue:
			vm.sp--
			if vm.stack[vm.sp].Truthy() {
				f.ip += int(f.mod.ReadShort(base + 1))
			}

		case bytecode.OpJumpIfFalse:
			vm.sp--
			if !vm.stack[vm.sp].Truthy() {
				f.ip += int(f.mod.ReadShort(base + 1))
			}

		case bytecode.OpLogicalAnd:
			if !vm.stack[vm.sp-1].Truthy() {
				f.ip += int(f.mod.ReadShort(base + 1))
			} else {
				vm.sp--
			}

		case bytecode.OpLogicalOr:
			if vm.stack[vm.sp-1].Truthy() {
				f.ip += int(f.mod.ReadShort(base + 1))
			} else {
				vm.sp--
			}

		case bytecode.OpLoop:
			f.ip -= int(f.mod.ReadShort(base + 1))
			vm.tick()

		// ---- Calls and returns ----------------------------------------------

		case bytecode.OpReturn:
			have := vm.arity(code[base+1])
			done, results := vm.returnValues(have)
			if done {
				return results, nil
			}

		case bytecode.OpYield:
			protoVal := f.mod.Constants[f.mod.ReadShort(base+1)]
			have := vm.arity(code[base+3])
			sus := &object.Suspense{
				Proto: protoVal,
				Block: f.block.Value(),
				Slots: append([]value.Value(nil), vm.stack[f.slots:vm.sp-have]...),
			}
			vm.Push(vm.heap.Alloc(sus))
			done, results := vm.returnValues(have + 1)
			if done {
				return results, nil
			}

		case bytecode.OpTrim:
			have := vm.arity(code[base+1])
			want := int(code[base+2])
			for have < want {
				vm.Push(value.Nil)
				have++
			}
			for have > want {
				vm.sp--
				have--
			}

		case bytecode.OpPack:
			have := vm.arity(code[base+1])
			below := int(code[base+2])
			above := int(code[base+3])
			if !vm.pack(have, below, above) {
				return nil, vm.err
			}

		// ---- Construction ---------------------------------------------------

		case bytecode.OpBlock:
			protoVal := f.mod.Constants[f.mod.ReadShort(base+1)]
			vm.Push(vm.makeBlock(protoVal, f))

		case bytecode.OpSpec:
			protoVal := f.mod.Constants[f.mod.ReadShort(base+1)]
			msgVal := f.mod.Constants[f.mod.ReadShort(base+3)]
			if !vm.spec(protoVal, msgVal, f) {
				return nil, vm.err
			}

		case bytecode.OpDynSpec:
			protoVal := f.mod.Constants[f.mod.ReadShort(base+1)]
			typ := vm.stack[vm.sp-1]
			msgVal := vm.stack[vm.sp-2]
			vm.sp--
			if _, ok := vm.heap.Get(msgVal).(*object.Message); !ok {
				vm.panic(diagnostic.NotMessage, "$ is not a message", vm.Inspect(msgVal))
				return nil, vm.err
			}
			vm.sp--
			vm.Push(typ)
			if !vm.spec(protoVal, msgVal, f) {
				return nil, vm.err
			}

		case bytecode.OpRecord:
			n := int(code[base+1])
			keys := make([]value.Value, n)
			vals := make([]value.Value, n)
			for i := 0; i < n; i++ {
				keys[i] = vm.stack[vm.sp-2*n+2*i]
				vals[i] = vm.stack[vm.sp-2*n+2*i+1]
			}
			vm.sp -= 2 * n
			vm.Push(vm.heap.NewRecord(keys, vals))

		case bytecode.OpTuple:
			have := vm.arity(code[base+1])
			vals := append([]value.Value(nil), vm.stack[vm.sp-have:vm.sp]...)
			vm.sp -= have
			vm.Push(vm.heap.NewTuple(vals))

		// ---- Misc -----------------------------------------------------------

		case bytecode.OpNot:
			vm.stack[vm.sp-1] = value.Bool(!vm.stack[vm.sp-1].Truthy())

		case bytecode.OpNegate:
			v := vm.stack[vm.sp-1]
			if !v.IsNumber() {
				vm.panic(diagnostic.NotNumber, "$ is not a number", vm.Inspect(v))
				return nil, vm.err
			}
			vm.stack[vm.sp-1] = value.Number(-v.Float())

		case bytecode.OpType:
			vm.stack[vm.sp-1] = vm.heap.ValType(vm.stack[vm.sp-1])

		case bytecode.OpMatch:
			probe := vm.stack[vm.sp-1]
			subject := vm.stack[vm.sp-2]
			vm.sp--
			if vm.equal(subject, probe) {
				vm.stack[vm.sp-1] = value.True
			} else {
				vm.Push(value.False)
			}

		case bytecode.OpNop:

		// ---- Sends ----------------------------------------------------------

		case bytecode.OpDynSend:
			msgVal := vm.stack[vm.sp-1]
			vm.sp--
			msg, ok := vm.heap.Get(msgVal).(*object.Message)
			if !ok {
				vm.panic(diagnostic.NotMessage, "$ is not a message", vm.Inspect(msgVal))
				return nil, vm.err
			}
			have := vm.arity(code[base+1])
			if !vm.dispatchUncached(msg, have, 1) {
				return nil, vm.err
			}

		default:
			if op.IsSend() {
				if !vm.send(f, base, op) {
					return nil, vm.err
				}
				vm.tick()
				break
			}
			vm.panic(diagnostic.Panic, "unknown opcode $", op.String())
			return nil, vm.err
		}

		if vm.err != nil {
			return nil, vm.err
		}
	}
}

// tick advances the collector epoch at cooperative checkpoints.
func (vm *VM) tick() {
	vm.ticks++
	if vm.ticks%yieldInterval == 0 {
		vm.gc.Epoch()
	}
}

// makeBlock closes a prototype over the current frame, binding each upvalue
// descriptor to an enclosing local or a forwarded upvalue.
func (vm *VM) makeBlock(protoVal value.Value, f *frame) value.Value {
	proto := vm.heap.Get(protoVal).(*object.BlockProto)
	ups := make([]value.Value, proto.NUpvalues)
	for i := 0; i < int(proto.NUpvalues); i++ {
		flags := proto.UpvDesc[2*i]
		index := proto.UpvDesc[2*i+1]
		if flags&object.UpvLocal != 0 {
			ups[i] = vm.stack[f.slots+int(index)]
		} else {
			ups[i] = f.block.Upvalues[index]
		}
	}
	return vm.heap.Alloc(&object.Block{Proto: protoVal, Upvalues: ups})
}

// spec installs a block specialization on a message for the receiver type on
// top of the stack, then pushes the message.
func (vm *VM) spec(protoVal, msgVal value.Value, f *frame) bool {
	typ := vm.stack[vm.sp-1]
	vm.sp--
	blk := vm.makeBlock(protoVal, f)

	msg := vm.heap.Get(msgVal).(*object.Message)
	if _, exists := msg.At(typ); exists {
		return vm.panic(diagnostic.ImplementationExists,
			"$ already has a specialization for $", vm.Inspect(msgVal), vm.Inspect(typ))
	}
	msg.Put(typ, blk)
	vm.gc.WriteBarrier(msgVal, value.Undefined, typ)
	vm.gc.WriteBarrier(msgVal, value.Undefined, blk)
	vm.Push(msgVal)
	return true
}

// pack implements rest-assignment: slice the variadic middle of have values
// into a tuple, leaving below values, the tuple, then above values.
func (vm *VM) pack(have, below, above int) bool {
	rest := have - below - above
	if rest < 0 {
		return vm.panic(diagnostic.MalformedAssignment, "not enough values to unpack")
	}
	start := vm.sp - have
	tuple := vm.heap.NewTuple(append([]value.Value(nil), vm.stack[start+below:start+below+rest]...))
	vm.stack[start+below] = tuple
	copy(vm.stack[start+below+1:], vm.stack[start+below+rest:vm.sp])
	vm.sp = start + below + 1 + above
	return true
}

// equal is the universal equality primitive: numbers compare as doubles,
// everything else by identity (interning makes that byte equality for
// strings, sigils, and shapes).
func (vm *VM) equal(a, b value.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.Float() == b.Float()
	}
	return a == b
}
