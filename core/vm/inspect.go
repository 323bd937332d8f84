// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gablang/go-gab/core/hamt"
	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
)

// Display renders a value for user-facing output such as string
// interpolation: strings appear raw, everything else as Inspect.
func (vm *VM) Display(v value.Value) string {
	if vm.heap.KindOf(v) == value.KindString {
		return vm.heap.StringOf(v)
	}
	return vm.Inspect(v)
}

// Inspect renders a value for diagnostics and the REPL.
func (vm *VM) Inspect(v value.Value) string {
	switch {
	case v.IsNumber():
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case v.IsUndefined():
		return "undefined"
	case v.IsShortString():
		return "'" + string(v.ShortBytes()) + "'"
	case v.IsSigil():
		return "." + string(v.ShortBytes())
	case v.IsPrimitive():
		return fmt.Sprintf("<primitive %d>", v.PrimitiveOp())
	}

	switch o := vm.heap.Get(v).(type) {
	case *object.String:
		if o.IsSigilKind {
			return "." + string(o.Bytes)
		}
		return "'" + string(o.Bytes) + "'"
	case *object.Shape:
		parts := make([]string, len(o.Keys))
		for i, k := range o.Keys {
			parts[i] = vm.Display(k)
		}
		return "<shape " + strings.Join(parts, " ") + ">"
	case *object.Record:
		shape := vm.heap.Get(o.Shape).(*object.Shape)
		var b strings.Builder
		b.WriteByte('[')
		for i, k := range shape.Keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(vm.Display(k))
			b.WriteString(" = ")
			b.WriteString(vm.Inspect(o.Data[i]))
		}
		b.WriteByte(']')
		return b.String()
	case *object.Message:
		return ":" + vm.heap.StringOf(o.Name)
	case *object.Block:
		proto := vm.heap.Get(o.Proto).(*object.BlockProto)
		return "<block " + vm.heap.StringOf(proto.Name) + ">"
	case *object.BlockProto:
		return "<prototype " + vm.heap.StringOf(o.Name) + ">"
	case *object.SuspenseProto:
		return "<suspense-prototype>"
	case *object.Native:
		return "<native " + vm.heap.StringOf(o.Name) + ">"
	case *object.Suspense:
		return "<suspense>"
	case *object.Box:
		return "<box " + vm.Display(o.Type) + ">"
	case *object.Channel:
		return fmt.Sprintf("<channel %d/%d>", o.Len(), o.Cap())
	case *object.Fiber:
		return "<fiber>"
	case *hamt.Map:
		return fmt.Sprintf("<map %d>", o.Len)
	case *hamt.Node:
		return "<mapnode>"
	}
	return "<unknown>"
}
