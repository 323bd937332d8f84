// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/internal/diagnostic"
	"github.com/gablang/go-gab/lang/bytecode"
)

// compile compiles src, failing the test on error, and returns the module.
func compile(t *testing.T, src string) *bytecode.Module {
	t.Helper()
	heap := object.NewHeap()
	_, mod, cerr := Compile(heap, "test", src)
	if cerr != nil {
		t.Fatalf("compile error: %v", cerr)
	}
	return mod
}

// compileErr compiles src expecting a failure with the given status.
func compileErr(t *testing.T, src string, want diagnostic.Status) {
	t.Helper()
	heap := object.NewHeap()
	_, _, cerr := Compile(heap, "test", src)
	if cerr == nil {
		t.Fatalf("%q compiled; want %v", src, want)
	}
	if cerr.Status != want {
		t.Fatalf("%q: got %v; want %v", src, cerr.Status, want)
	}
}

// ops decodes the opcodes of a module in order.
func ops(mod *bytecode.Module) []bytecode.Opcode {
	var out []bytecode.Opcode
	for off := 0; off < len(mod.Code); off += mod.InstrLen(off) {
		out = append(out, bytecode.Opcode(mod.Code[off]))
	}
	return out
}

func hasOp(mod *bytecode.Module, want bytecode.Opcode) bool {
	for _, op := range ops(mod) {
		if op == want {
			return true
		}
	}
	return false
}

func expectOps(t *testing.T, src string, want ...bytecode.Opcode) {
	t.Helper()
	mod := compile(t, src)
	got := ops(mod)
	if len(got) != len(want) {
		t.Fatalf("%q:\ngot  %v\nwant %v\n%s", src, got, want, spew.Sdump(mod.Code))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%q: op %d = %v; want %v\n%s", src, i, got[i], want[i], spew.Sdump(mod.Code))
		}
	}
}

// ---- Emission shapes --------------------------------------------------------

func TestSimpleExpression(t *testing.T) {
	// Consecutive constant loads collapse into NCONSTANT.
	expectOps(t, "1 + 2",
		bytecode.OpNConstant, bytecode.OpSend, bytecode.OpReturn)
}

func TestSingleConstant(t *testing.T) {
	expectOps(t, "42", bytecode.OpConstant, bytecode.OpReturn)
}

func TestEmptyProgram(t *testing.T) {
	expectOps(t, "", bytecode.OpPushNil, bytecode.OpReturn)
	expectOps(t, "# just a comment\n", bytecode.OpPushNil, bytecode.OpReturn)
}

func TestNLoadLocalSuperinstruction(t *testing.T) {
	// Loading two locals back to back merges into NLOAD_LOCAL.
	mod := compile(t, "def a = 1\ndef b = 2\n{ a, b }")
	if !hasOp(mod, bytecode.OpNLoadLocal) {
		t.Fatalf("expected NLOAD_LOCAL in %v", ops(mod))
	}
}

func TestPopStoreSuperinstruction(t *testing.T) {
	mod := compile(t, "a, b, c = 1, 2, 3\na, b, c = 4, 5, 6\na")
	if !hasOp(mod, bytecode.OpNPopStoreLocal) {
		t.Fatalf("expected NPOPSTORE_LOCAL in %v", ops(mod))
	}
}

func TestSendSiteShape(t *testing.T) {
	// The trailing 0 keeps the send out of tail position, where its want
	// would widen to VAR.
	mod := compile(t, "1 + 2\n0")
	// Find the send and check its operands: message constant, have=1,
	// want=1, zeroed cache.
	for off := 0; off < len(mod.Code); off += mod.InstrLen(off) {
		if !bytecode.Opcode(mod.Code[off]).IsSend() {
			continue
		}
		if n, variadic := bytecode.DecodeHave(mod.SendHave(off)); n != 1 || variadic {
			t.Fatalf("have = %d var=%v; want 1 fixed", n, variadic)
		}
		if mod.SendWant(off) != 1 {
			t.Fatalf("want = %d; want 1", mod.SendWant(off))
		}
		version, _, typ := mod.SendCache(off)
		if version != 0 || typ != 0 {
			t.Fatal("a fresh send site must have an empty cache")
		}
		msg := mod.Constants[mod.SendMessage(off)]
		if !msg.IsObj() {
			t.Fatal("the send message must be a heap message value")
		}
		return
	}
	t.Fatal("no send emitted")
}

func TestTrailingSendIsVariadicInReturn(t *testing.T) {
	mod := compile(t, "def f = => 1\nf()")
	// The final return widens the trailing call to VAR want.
	found := false
	for off := 0; off < len(mod.Code); off += mod.InstrLen(off) {
		if bytecode.Opcode(mod.Code[off]).IsSend() && mod.SendWant(off) == bytecode.VarArity {
			found = true
		}
	}
	if !found {
		t.Fatal("a tail call must have VAR want")
	}
}

func TestConstantPoolDedup(t *testing.T) {
	mod := compile(t, "1 + 1 + 1")
	n := 0
	for _, c := range mod.Constants {
		if c == value.Number(1) {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("constant 1 interned %d times", n)
	}
}

func TestTokenMapCoversCode(t *testing.T) {
	mod := compile(t, "def a = 1\na + 2")
	if len(mod.TokenMap) != len(mod.Code) {
		t.Fatalf("token map %d bytes; code %d", len(mod.TokenMap), len(mod.Code))
	}
}

// ---- Blocks and frames ------------------------------------------------------

func TestBlockPrototypeGeometry(t *testing.T) {
	heap := object.NewHeap()
	_, mod, cerr := Compile(heap, "test", "def f = do a, b; a end\nf(1, 2)")
	if cerr != nil {
		t.Fatal(cerr)
	}
	var proto *object.BlockProto
	for _, c := range mod.Constants {
		if p, ok := heap.Get(c).(*object.BlockProto); ok && heap.StringOf(p.Name) == "f" {
			proto = p
		}
	}
	if proto == nil {
		t.Fatal("no prototype for f")
	}
	if proto.NArgs != 2 {
		t.Fatalf("nargs = %d; want 2", proto.NArgs)
	}
	if proto.NUpvalues != 0 {
		t.Fatalf("nupvalues = %d; want 0", proto.NUpvalues)
	}
	if proto.NLocals != 3 { // self + two parameters
		t.Fatalf("nlocals = %d; want 3", proto.NLocals)
	}
}

func TestUpvalueDescriptors(t *testing.T) {
	heap := object.NewHeap()
	_, mod, cerr := Compile(heap, "test", "def a = 1\ndef f = do; a end\nf()")
	if cerr != nil {
		t.Fatal(cerr)
	}
	for _, c := range mod.Constants {
		if p, ok := heap.Get(c).(*object.BlockProto); ok && heap.StringOf(p.Name) == "f" {
			if p.NUpvalues != 1 {
				t.Fatalf("nupvalues = %d; want 1", p.NUpvalues)
			}
			if p.UpvDesc[0]&object.UpvLocal == 0 {
				t.Fatal("the capture must target an enclosing local")
			}
			return
		}
	}
	t.Fatal("no prototype for f")
}

// ---- Index sends ------------------------------------------------------------

// sendMessages decodes the message names of every send site in order.
func sendMessages(t *testing.T, heap *object.Heap, mod *bytecode.Module) []string {
	t.Helper()
	var out []string
	for off := 0; off < len(mod.Code); off += mod.InstrLen(off) {
		if !bytecode.Opcode(mod.Code[off]).IsSend() {
			continue
		}
		msg := heap.Get(mod.Constants[mod.SendMessage(off)]).(*object.Message)
		out = append(out, heap.StringOf(msg.Name))
	}
	return out
}

func TestIndexReadCompilesToGetSend(t *testing.T) {
	heap := object.NewHeap()
	_, mod, cerr := Compile(heap, "test", "def t = { 1 }\nt{0}")
	if cerr != nil {
		t.Fatal(cerr)
	}
	msgs := sendMessages(t, heap, mod)
	if len(msgs) != 1 || msgs[0] != "get" {
		t.Fatalf("sends = %v; want [get]", msgs)
	}
}

func TestIndexWriteCompilesToSetSend(t *testing.T) {
	heap := object.NewHeap()
	_, mod, cerr := Compile(heap, "test", "def t = { 1 }\nt{0} = 2\n0")
	if cerr != nil {
		t.Fatal(cerr)
	}
	msgs := sendMessages(t, heap, mod)
	if len(msgs) != 1 || msgs[0] != "set" {
		t.Fatalf("sends = %v; want [set]", msgs)
	}
	// The deferred index and value rotate under the receiver.
	if !hasOp(mod, bytecode.OpShift) {
		t.Fatalf("expected SHIFT in %v", ops(mod))
	}
}

func TestIndexTargetMixesWithExistingLocals(t *testing.T) {
	mod := compile(t, "def t = { 0 }\na = 1\na, t{0} = 2, 3\na")
	if !hasOp(mod, bytecode.OpStoreLocal) && !hasOp(mod, bytecode.OpPopStoreLocal) {
		t.Fatalf("expected a local store in %v", ops(mod))
	}
}

func TestIndexedRestTargetIsAnError(t *testing.T) {
	compileErr(t, "def t = { 0 }\n..t{0} = 1", diagnostic.InvalidRestVariable)
}

func TestFreshNameCannotMixWithIndexTarget(t *testing.T) {
	compileErr(t, "def t = { 0 }\nq, t{0} = 1, 2", diagnostic.MalformedAssignment)
}

func TestIndexTargetOnUnknownName(t *testing.T) {
	compileErr(t, "missing{0} = 1", diagnostic.UnboundSymbol)
}

// ---- Errors -----------------------------------------------------------------

func TestUnboundSymbol(t *testing.T) {
	compileErr(t, "nope", diagnostic.UnboundSymbol)
}

func TestLocalAlreadyExists(t *testing.T) {
	compileErr(t, "def x = 1\ndef x = 2", diagnostic.LocalAlreadyExists)
}

func TestReferenceBeforeInitialize(t *testing.T) {
	compileErr(t, "def x = x + 1", diagnostic.ReferenceBeforeInitialize)
}

func TestMissingEnd(t *testing.T) {
	compileErr(t, "def f = do; 1", diagnostic.UnexpectedEOF)
}

func TestUnexpectedToken(t *testing.T) {
	compileErr(t, "1 +", diagnostic.UnexpectedToken)
}

func TestMalformedToken(t *testing.T) {
	compileErr(t, "1 @ 2", diagnostic.MalformedToken)
}

func TestMixedAssignmentTargets(t *testing.T) {
	compileErr(t, "a = 1\na, b = 1, 2", diagnostic.MalformedAssignment)
}

func TestBreakOutsideLoop(t *testing.T) {
	compileErr(t, "break 1", diagnostic.UnexpectedToken)
}

func TestErrorPosition(t *testing.T) {
	heap := object.NewHeap()
	_, _, cerr := Compile(heap, "test", "def a = 1\nmissing")
	if cerr == nil {
		t.Fatal("expected an error")
	}
	if cerr.Tok.Pos.Line != 2 {
		t.Fatalf("error at line %d; want 2", cerr.Tok.Pos.Line)
	}
}
