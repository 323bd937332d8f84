// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"math"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/internal/diagnostic"
	"github.com/gablang/go-gab/lang/bytecode"
)

// send executes any send-family opcode at base. Cold sites resolve and
// rewrite themselves monomorphic; warm sites validate the cache and fall
// back to re-resolution when the message version moved or the receiver type
// changed.
func (vm *VM) send(f *frame, base int, op bytecode.Opcode) bool {
	mod := f.mod
	msgVal := mod.Constants[mod.SendMessage(base)]
	msg, ok := vm.heap.Get(msgVal).(*object.Message)
	if !ok {
		return vm.panic(diagnostic.NotMessage, "$ is not a message", vm.Inspect(msgVal))
	}
	have := vm.arity(mod.SendHave(base))
	want := mod.SendWant(base)
	recv := vm.stack[vm.sp-have-1]

	if op != bytecode.OpSend {
		version, specOff, cachedType := mod.SendCache(base)
		if version != msg.Version || cachedType != vm.heap.ValType(recv) {
			mod.ResetSend(base)
			op = bytecode.OpSend
		} else {
			return vm.dispatchCached(op, msg, specOff, recv, have, want)
		}
	}

	// Cache miss: resolve (receiver, message) per the dispatch order.

	// 1. Record property access.
	if rec, isRec := vm.heap.Get(recv).(*object.Record); isRec {
		shape := vm.heap.Get(rec.Shape).(*object.Shape)
		if idx := shape.Find(msg.Name); idx >= 0 {
			mod.WriteSendCache(base, bytecode.OpSendMonoProperty, msg.Version, uint16(idx), rec.Shape)
			return vm.property(rec, idx, have, want)
		}
	}

	// 2-4. Receiver-type, kind-type, then the generic default.
	typ := vm.heap.ValType(recv)
	specIdx := msg.Find(typ)
	if specIdx < 0 {
		typ = vm.heap.KindType(vm.heap.KindOf(recv))
		specIdx = msg.Find(typ)
	}
	if specIdx < 0 {
		typ = value.Undefined
		specIdx = msg.Find(typ)
	}
	if specIdx < 0 {
		return vm.panic(diagnostic.ImplementationMissing,
			"$ has no specialization for $", vm.Inspect(msgVal), vm.Inspect(vm.heap.ValType(recv)))
	}
	spec := msg.Specs[specIdx]

	// The cache keys on the receiver's own type so a site stays monomorphic
	// even when the hit came from a wider tier.
	cachedType := vm.heap.ValType(recv)

	mono := bytecode.OpSendMonoBlock
	switch {
	case spec.IsPrimitive():
		mono = bytecode.Opcode(spec.PrimitiveOp())
	default:
		switch vm.heap.Get(spec).(type) {
		case *object.Block:
			mono = bytecode.OpSendMonoBlock
		case *object.Native:
			mono = bytecode.OpSendMonoNative
		default:
			return vm.panic(diagnostic.NotCallable, "$ is not callable", vm.Inspect(spec))
		}
	}
	mod.WriteSendCache(base, mono, msg.Version, uint16(specIdx), cachedType)
	return vm.dispatchCached(mono, msg, uint16(specIdx), recv, have, want)
}

// dispatchCached invokes the resolved specialization for a validated cache.
func (vm *VM) dispatchCached(op bytecode.Opcode, msg *object.Message, specOff uint16, recv value.Value, have int, want byte) bool {
	switch op {
	case bytecode.OpSendMonoBlock:
		return vm.call(msg.SpecAt(specOff), have, want)

	case bytecode.OpSendMonoNative:
		n, ok := vm.heap.Get(msg.SpecAt(specOff)).(*object.Native)
		if !ok {
			return vm.panic(diagnostic.NotCallable, "stale native specialization")
		}
		return vm.callNative(n, have, want)

	case bytecode.OpSendMonoProperty:
		rec := vm.heap.Get(recv).(*object.Record)
		return vm.property(rec, int(specOff), have, want)

	case bytecode.OpSendPrimitiveCallBlock:
		return vm.call(recv, have, want)

	case bytecode.OpSendPrimitiveCallNative:
		n, ok := vm.heap.Get(recv).(*object.Native)
		if !ok {
			return vm.panic(diagnostic.NotCallable, "$ is not callable", vm.Inspect(recv))
		}
		return vm.callNative(n, have, want)

	case bytecode.OpSendPrimitiveCallSuspense:
		return vm.callSuspense(recv, have, want)

	default:
		return vm.primitive(op, recv, have, want)
	}
}

// dispatchUncached resolves and invokes without touching any cache; dynamic
// sends go through here.
func (vm *VM) dispatchUncached(msg *object.Message, have int, want byte) bool {
	recv := vm.stack[vm.sp-have-1]

	if rec, isRec := vm.heap.Get(recv).(*object.Record); isRec {
		shape := vm.heap.Get(rec.Shape).(*object.Shape)
		if idx := shape.Find(msg.Name); idx >= 0 {
			return vm.property(rec, idx, have, want)
		}
	}

	typ := vm.heap.ValType(recv)
	specIdx := msg.Find(typ)
	if specIdx < 0 {
		specIdx = msg.Find(vm.heap.KindType(vm.heap.KindOf(recv)))
	}
	if specIdx < 0 {
		specIdx = msg.Find(value.Undefined)
	}
	if specIdx < 0 {
		return vm.panic(diagnostic.ImplementationMissing,
			"$ has no specialization for $", vm.Inspect(msg.Name), vm.Inspect(typ))
	}
	spec := msg.Specs[specIdx]

	switch {
	case spec.IsPrimitive():
		return vm.dispatchCached(bytecode.Opcode(spec.PrimitiveOp()), msg, uint16(specIdx), recv, have, want)
	default:
		switch s := vm.heap.Get(spec).(type) {
		case *object.Block:
			return vm.call(spec, have, want)
		case *object.Native:
			return vm.callNative(s, have, want)
		}
	}
	return vm.panic(diagnostic.NotCallable, "$ is not callable", vm.Inspect(spec))
}

// property reads or writes a cached record offset: zero arguments read, one
// or more write the first argument and produce it.
func (vm *VM) property(rec *object.Record, idx, have int, want byte) bool {
	base := vm.sp - have - 1
	var result value.Value
	if have == 0 {
		result = rec.Data[idx]
	} else {
		result = vm.stack[base+1]
		vm.gc.WriteBarrier(rec.Value(), rec.Data[idx], result)
		rec.Data[idx] = result
		rec.Hdr().Set(object.FlagModified)
	}
	vm.sp = base
	vm.Push(result)
	vm.normalize(1, want)
	return true
}

// callNative invokes a host function. The receiver is argv[0]; results
// arrive either through Caller.Push or as a returned slice.
func (vm *VM) callNative(n *object.Native, have int, want byte) bool {
	base := vm.sp - have - 1
	args := append([]value.Value(nil), vm.stack[base:vm.sp]...)
	vm.sp = base

	results, err := n.Fn(vm, args)
	if err != nil {
		f := vm.top()
		if diag, ok := err.(*diagnostic.Error); ok {
			diag.Module = f.mod.Name
			diag.Tok = f.mod.TokenAt(f.ip - 1)
			vm.err = diag
		} else {
			vm.panic(diagnostic.Panic, err.Error())
		}
		return false
	}
	vm.Push(results...)
	vm.normalize(vm.sp-base, want)
	return true
}

// callSuspense resumes a one-shot continuation: the captured slots are
// copied back over the frame window and execution continues at the recorded
// resume offset, with the call's arguments becoming the yield's results.
func (vm *VM) callSuspense(recv value.Value, have int, want byte) bool {
	sus, ok := vm.heap.Get(recv).(*object.Suspense)
	if !ok {
		return vm.panic(diagnostic.NotCallable, "$ is not a suspense", vm.Inspect(recv))
	}
	susProto := vm.heap.Get(sus.Proto).(*object.SuspenseProto)
	blk := vm.heap.Get(sus.Block).(*object.Block)
	proto := vm.heap.Get(blk.Proto).(*object.BlockProto)

	if len(vm.frames) >= FramesMax {
		return vm.panic(diagnostic.Overflow, "the call stack overflowed")
	}

	base := vm.sp - have - 1
	args := append([]value.Value(nil), vm.stack[base+1:vm.sp]...)

	copy(vm.stack[base:], sus.Slots)
	vm.sp = base + len(sus.Slots)
	vm.Push(args...)

	// The resume site expects susProto.Want values from the yield.
	got := len(args)
	for got < int(susProto.Want) {
		vm.Push(value.Nil)
		got++
	}
	for got > int(susProto.Want) {
		vm.sp--
		got--
	}

	vm.frames = append(vm.frames, frame{
		block: blk,
		proto: proto,
		mod:   proto.Mod,
		ip:    int(susProto.ResumeOffset),
		slots: base,
		want:  want,
	})
	return true
}

// normalize adjusts the have values on top of the stack to a fixed want, or
// records the live count for a variadic consumer.
func (vm *VM) normalize(have int, want byte) {
	if want == bytecode.VarArity {
		vm.varCount = have
		return
	}
	n := int(want)
	for have < n {
		vm.Push(value.Nil)
		have++
	}
	for have > n {
		vm.sp--
		have--
	}
}

// ---- Primitives -------------------------------------------------------------

// primitive executes an inlined arithmetic, comparison, or concat
// specialization.
func (vm *VM) primitive(op bytecode.Opcode, recv value.Value, have int, want byte) bool {
	base := vm.sp - have - 1
	var arg value.Value
	if have >= 1 {
		arg = vm.stack[base+1]
	} else {
		arg = value.Nil
	}

	var result value.Value
	switch op {
	case bytecode.OpSendPrimitiveEq:
		result = value.Bool(vm.equal(recv, arg))

	case bytecode.OpSendPrimitiveConcat:
		if vm.heap.KindOf(recv) != value.KindString {
			return vm.panic(diagnostic.NotString, "$ is not a string", vm.Inspect(recv))
		}
		if vm.heap.KindOf(arg) != value.KindString {
			return vm.panic(diagnostic.NotString, "$ is not a string", vm.Inspect(arg))
		}
		result = vm.heap.Str(vm.heap.StringOf(recv) + vm.heap.StringOf(arg))

	default:
		if !recv.IsNumber() {
			return vm.panic(diagnostic.NotNumber, "$ is not a number", vm.Inspect(recv))
		}
		if !arg.IsNumber() {
			return vm.panic(diagnostic.NotNumber, "$ is not a number", vm.Inspect(arg))
		}
		a, b := recv.Float(), arg.Float()
		switch op {
		case bytecode.OpSendPrimitiveAdd:
			result = value.Number(a + b)
		case bytecode.OpSendPrimitiveSub:
			result = value.Number(a - b)
		case bytecode.OpSendPrimitiveMul:
			result = value.Number(a * b)
		case bytecode.OpSendPrimitiveDiv:
			result = value.Number(a / b)
		case bytecode.OpSendPrimitiveMod:
			result = value.Number(math.Mod(a, b))
		case bytecode.OpSendPrimitiveBor:
			result = value.Number(float64(int64(a) | int64(b)))
		case bytecode.OpSendPrimitiveBnd:
			result = value.Number(float64(int64(a) & int64(b)))
		case bytecode.OpSendPrimitiveLsh:
			result = value.Number(float64(int64(a) << uint64(b)))
		case bytecode.OpSendPrimitiveRsh:
			result = value.Number(float64(int64(a) >> uint64(b)))
		case bytecode.OpSendPrimitiveLt:
			result = value.Bool(a < b)
		case bytecode.OpSendPrimitiveLte:
			result = value.Bool(a <= b)
		case bytecode.OpSendPrimitiveGt:
			result = value.Bool(a > b)
		case bytecode.OpSendPrimitiveGte:
			result = value.Bool(a >= b)
		default:
			return vm.panic(diagnostic.Panic, "unknown primitive $", op.String())
		}
	}

	vm.sp = base
	vm.Push(result)
	vm.normalize(1, want)
	return true
}
