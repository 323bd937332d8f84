// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/lang/bytecode"
)

// InstallCore wires the specializations the compiler's operator and index
// sends assume: arithmetic, comparison, and bit operations on numbers,
// concat on strings, equality for every receiver, call on blocks, natives,
// and suspenses, and get/set on records.
func InstallCore(h *object.Heap) {
	num := h.KindType(value.KindNumber)
	str := h.KindType(value.KindString)

	prim := func(name string, recv value.Value, op bytecode.Opcode) {
		msg := h.Get(h.MessageOf(name)).(*object.Message)
		msg.Put(recv, value.Primitive(byte(op)))
	}
	native := func(name string, recv value.Value, fn object.NativeFn) {
		msg := h.Get(h.MessageOf(name)).(*object.Message)
		msg.Put(recv, h.Alloc(&object.Native{Name: h.Str(name), Fn: fn}))
	}

	prim("+", num, bytecode.OpSendPrimitiveAdd)
	prim("-", num, bytecode.OpSendPrimitiveSub)
	prim("*", num, bytecode.OpSendPrimitiveMul)
	prim("/", num, bytecode.OpSendPrimitiveDiv)
	prim("%", num, bytecode.OpSendPrimitiveMod)
	prim("|", num, bytecode.OpSendPrimitiveBor)
	prim("&", num, bytecode.OpSendPrimitiveBnd)
	prim("<<", num, bytecode.OpSendPrimitiveLsh)
	prim(">>", num, bytecode.OpSendPrimitiveRsh)
	prim("<", num, bytecode.OpSendPrimitiveLt)
	prim("<=", num, bytecode.OpSendPrimitiveLte)
	prim(">", num, bytecode.OpSendPrimitiveGt)
	prim(">=", num, bytecode.OpSendPrimitiveGte)

	prim("..", str, bytecode.OpSendPrimitiveConcat)
	prim("==", value.Undefined, bytecode.OpSendPrimitiveEq)

	prim("call", h.KindType(value.KindBlock), bytecode.OpSendPrimitiveCallBlock)
	prim("call", h.KindType(value.KindNative), bytecode.OpSendPrimitiveCallNative)
	prim("call", h.KindType(value.KindSuspense), bytecode.OpSendPrimitiveCallSuspense)

	// Index sends: rec{k} reads a member by key, rec{k} = v writes one.
	rec := h.KindType(value.KindRecord)

	native("get", rec, func(c object.Caller, args []value.Value) ([]value.Value, error) {
		r, ok := c.Heap().Get(args[0]).(*object.Record)
		if !ok || len(args) < 2 {
			return []value.Value{value.Nil}, nil
		}
		shape := c.Heap().Get(r.Shape).(*object.Shape)
		if i := shape.Find(args[1]); i >= 0 {
			return []value.Value{r.Data[i]}, nil
		}
		return []value.Value{value.Nil}, nil
	})

	native("set", rec, func(c object.Caller, args []value.Value) ([]value.Value, error) {
		r, ok := c.Heap().Get(args[0]).(*object.Record)
		if !ok || len(args) < 3 {
			return nil, c.Panic("set expects a record, a key, and a value")
		}
		shape := c.Heap().Get(r.Shape).(*object.Shape)
		i := shape.Find(args[1])
		if i < 0 {
			return nil, c.Panic("$ is not a member of the record", args[1])
		}
		c.Barrier(args[0], r.Data[i], args[2])
		r.Data[i] = args[2]
		r.Hdr().Set(object.FlagModified)
		return []value.Value{args[2]}, nil
	})
}
