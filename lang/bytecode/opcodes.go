// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package bytecode defines the Gab instruction set and the compiled module
// artifact shared by the compiler and the virtual machine.
//
// Instructions are variable width: a 1-byte opcode followed by little-endian
// operands. Message sends additionally embed a 16-byte inline cache that the
// VM rewrites in place when a send site goes monomorphic.
package bytecode

// Opcode is an 8-bit instruction code for the Gab VM.
type Opcode uint8

const (
	// ---- Constants ---------------------------------------------------------

	// OpConstant pushes Constants[k16].
	OpConstant Opcode = iota
	// OpNConstant pushes n constants: operands n8, then n k16 indices.
	OpNConstant
	// OpPushNil pushes the nil sigil.
	OpPushNil
	// OpPushTrue pushes the true sigil.
	OpPushTrue
	// OpPushFalse pushes the false sigil.
	OpPushFalse
	// OpPushUndefined pushes the absent sentinel.
	OpPushUndefined

	// ---- Locals and upvalues -----------------------------------------------

	// OpLoadLocal pushes slots[i8].
	OpLoadLocal
	// OpStoreLocal writes the top of stack to slots[i8] without popping.
	OpStoreLocal
	// OpPopStoreLocal writes and pops; the peep-combined STORE_LOCAL+POP.
	OpPopStoreLocal
	// OpNLoadLocal pushes n locals: operands n8, then n i8 indices.
	OpNLoadLocal
	// OpNPopStoreLocal pops n values into n locals, top value first.
	OpNPopStoreLocal
	// OpLoadUpvalue pushes upvalues[i8].
	OpLoadUpvalue
	// OpNLoadUpvalue pushes n upvalues: operands n8, then n i8 indices.
	OpNLoadUpvalue

	// ---- Stack shuffling ---------------------------------------------------

	// OpPop discards the top of stack.
	OpPop
	// OpPopN discards the top n8 values.
	OpPopN
	// OpDup duplicates the top of stack.
	OpDup
	// OpSwap exchanges the top two values.
	OpSwap
	// OpShift rotates the top n8 values by one.
	OpShift
	// OpInterpolate pops n8 values and pushes their string concatenation.
	OpInterpolate

	// ---- Sends -------------------------------------------------------------
	// All send opcodes share the 20-byte layout described by SendLen: the
	// opcode, a k16 message constant, a have8 arity byte, and the 16-byte
	// inline cache (see cache field helpers in module.go).

	// OpSend is the polymorphic send; it resolves (receiver, message),
	// fills the inline cache, and rewrites itself to a monomorphic variant.
	OpSend
	// OpSendMonoBlock is a send whose cached specialization is a block.
	OpSendMonoBlock
	// OpSendMonoNative is a send whose cached specialization is a native.
	OpSendMonoNative
	// OpSendMonoProperty is a cached record property load/store.
	OpSendMonoProperty

	// Primitive sends inline the specialization into the interpreter loop.

	OpSendPrimitiveAdd
	OpSendPrimitiveSub
	OpSendPrimitiveMul
	OpSendPrimitiveDiv
	OpSendPrimitiveMod
	OpSendPrimitiveBor
	OpSendPrimitiveBnd
	OpSendPrimitiveLsh
	OpSendPrimitiveRsh
	OpSendPrimitiveLt
	OpSendPrimitiveLte
	OpSendPrimitiveGt
	OpSendPrimitiveGte
	OpSendPrimitiveEq
	OpSendPrimitiveConcat
	OpSendPrimitiveCallBlock
	OpSendPrimitiveCallNative
	OpSendPrimitiveCallSuspense

	// OpDynSend pops the message from the top of the stack; the receiver
	// sits below the have8 arguments. Operands: have8.
	OpDynSend

	// ---- Control flow ------------------------------------------------------

	// OpJump adds d16 to the instruction pointer.
	OpJump
	// OpJumpIfTrue jumps when the popped condition is truthy.
	OpJumpIfTrue
	// OpJumpIfFalse jumps when the popped condition is falsey.
	OpJumpIfFalse
	// OpLogicalAnd jumps when the peeked condition is falsey, leaving it on
	// the stack; otherwise pops it.
	OpLogicalAnd
	// OpLogicalOr jumps when the peeked condition is truthy, leaving it on
	// the stack; otherwise pops it.
	OpLogicalOr
	// OpLoop subtracts d16 from the instruction pointer.
	OpLoop

	// ---- Calls and returns -------------------------------------------------

	// OpReturn returns have8 values to the caller.
	OpReturn
	// OpYield allocates a suspense over prototype p16 and returns have8
	// values plus the suspense.
	OpYield
	// OpTrim adjusts the last pushed tuple: operands have8 (the static
	// arity, possibly variadic) and want8.
	OpTrim
	// OpPack slices a variadic middle into a tuple: operands have8, below8,
	// above8.
	OpPack

	// ---- Construction ------------------------------------------------------

	// OpBlock pushes a closure over prototype p16, binding upvalues from the
	// current frame.
	OpBlock
	// OpSpec defines a message specialization: operands p16 (prototype) and
	// m16 (message constant); the receiver type is on the stack.
	OpSpec
	// OpDynSpec defines a specialization whose message is popped from the
	// stack. Operand: p16.
	OpDynSpec
	// OpRecord pops n8 key/value pairs and pushes a record.
	OpRecord
	// OpTuple pops have8 values and pushes a tuple record.
	OpTuple

	// ---- Misc --------------------------------------------------------------

	// OpNot pushes the boolean negation of the popped value.
	OpNot
	// OpNegate pushes the numeric negation of the popped value.
	OpNegate
	// OpType pushes the runtime type of the popped value.
	OpType
	// OpMatch pops a probe and a subject and pushes their equality, leaving
	// the subject when they differ.
	OpMatch
	// OpNop does nothing.
	OpNop

	opcodeCount
)

// NOpcodes is the number of defined opcodes; PrimitiveOp payloads are
// validated against it.
const NOpcodes = int(opcodeCount)

// SendCacheLen is the byte length of the inline cache embedded in every send
// instruction: version(1) want(1) offset(2) cached-type(8) sibling(1) pad(3).
const SendCacheLen = 16

// SendLen is the full byte length of a send instruction: opcode, message
// k16, have8, and the inline cache.
const SendLen = 1 + 2 + 1 + SendCacheLen

// VarArity flags an arity byte whose count is variable; the VM carries the
// live count in its varCount register rather than on the stack.
const VarArity = 0xff

// HaveByte encodes an arity: the low bit is the variadic flag, the remaining
// bits the count.
func HaveByte(n int, variadic bool) byte {
	b := byte(n) << 1
	if variadic {
		b |= 1
	}
	return b
}

// DecodeHave splits an arity byte into its count and variadic flag.
func DecodeHave(b byte) (n int, variadic bool) {
	return int(b >> 1), b&1 == 1
}

type opcodeInfo struct {
	name string
	// width is the total instruction length in bytes, 0 for the
	// variable-width N* superinstructions.
	width int
}

var opcodeTable = [opcodeCount]opcodeInfo{
	OpConstant:       {"CONSTANT", 3},
	OpNConstant:      {"NCONSTANT", 0},
	OpPushNil:        {"PUSH_NIL", 1},
	OpPushTrue:       {"PUSH_TRUE", 1},
	OpPushFalse:      {"PUSH_FALSE", 1},
	OpPushUndefined:  {"PUSH_UNDEFINED", 1},
	OpLoadLocal:      {"LOAD_LOCAL", 2},
	OpStoreLocal:     {"STORE_LOCAL", 2},
	OpPopStoreLocal:  {"POPSTORE_LOCAL", 2},
	OpNLoadLocal:     {"NLOAD_LOCAL", 0},
	OpNPopStoreLocal: {"NPOPSTORE_LOCAL", 0},
	OpLoadUpvalue:    {"LOAD_UPVALUE", 2},
	OpNLoadUpvalue:   {"NLOAD_UPVALUE", 0},
	OpPop:            {"POP", 1},
	OpPopN:           {"POP_N", 2},
	OpDup:            {"DUP", 1},
	OpSwap:           {"SWAP", 1},
	OpShift:          {"SHIFT", 2},
	OpInterpolate:    {"INTERPOLATE", 2},

	OpSend:             {"SEND", SendLen},
	OpSendMonoBlock:    {"SEND_MONO_BLOCK", SendLen},
	OpSendMonoNative:   {"SEND_MONO_NATIVE", SendLen},
	OpSendMonoProperty: {"SEND_MONO_PROPERTY", SendLen},

	OpSendPrimitiveAdd:          {"SEND_PRIMITIVE_ADD", SendLen},
	OpSendPrimitiveSub:          {"SEND_PRIMITIVE_SUB", SendLen},
	OpSendPrimitiveMul:          {"SEND_PRIMITIVE_MUL", SendLen},
	OpSendPrimitiveDiv:          {"SEND_PRIMITIVE_DIV", SendLen},
	OpSendPrimitiveMod:          {"SEND_PRIMITIVE_MOD", SendLen},
	OpSendPrimitiveBor:          {"SEND_PRIMITIVE_BOR", SendLen},
	OpSendPrimitiveBnd:          {"SEND_PRIMITIVE_BND", SendLen},
	OpSendPrimitiveLsh:          {"SEND_PRIMITIVE_LSH", SendLen},
	OpSendPrimitiveRsh:          {"SEND_PRIMITIVE_RSH", SendLen},
	OpSendPrimitiveLt:           {"SEND_PRIMITIVE_LT", SendLen},
	OpSendPrimitiveLte:          {"SEND_PRIMITIVE_LTE", SendLen},
	OpSendPrimitiveGt:           {"SEND_PRIMITIVE_GT", SendLen},
	OpSendPrimitiveGte:          {"SEND_PRIMITIVE_GTE", SendLen},
	OpSendPrimitiveEq:           {"SEND_PRIMITIVE_EQ", SendLen},
	OpSendPrimitiveConcat:       {"SEND_PRIMITIVE_CONCAT", SendLen},
	OpSendPrimitiveCallBlock:    {"SEND_PRIMITIVE_CALL_BLOCK", SendLen},
	OpSendPrimitiveCallNative:   {"SEND_PRIMITIVE_CALL_NATIVE", SendLen},
	OpSendPrimitiveCallSuspense: {"SEND_PRIMITIVE_CALL_SUSPENSE", SendLen},

	OpDynSend: {"DYNSEND", 2},

	OpJump:        {"JUMP", 3},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 3},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 3},
	OpLogicalAnd:  {"LOGICAL_AND", 3},
	OpLogicalOr:   {"LOGICAL_OR", 3},
	OpLoop:        {"LOOP", 3},

	OpReturn: {"RETURN", 2},
	OpYield:  {"YIELD", 4},
	OpTrim:   {"TRIM", 3},
	OpPack:   {"PACK", 4},

	OpBlock:   {"BLOCK", 3},
	OpSpec:    {"SPEC", 5},
	OpDynSpec: {"DYNSPEC", 3},
	OpRecord:  {"RECORD", 2},
	OpTuple:   {"TUPLE", 2},

	OpNot:    {"NOT", 1},
	OpNegate: {"NEGATE", 1},
	OpType:   {"TYPE", 1},
	OpMatch:  {"MATCH", 1},
	OpNop:    {"NOP", 1},
}

// String returns the mnemonic name of the opcode.
func (op Opcode) String() string {
	if int(op) >= len(opcodeTable) {
		return "UNKNOWN"
	}
	return opcodeTable[op].name
}

// Width returns the total instruction length in bytes, or 0 for the
// variable-width superinstructions whose length depends on their n8 operand.
func (op Opcode) Width() int {
	if int(op) >= len(opcodeTable) {
		return 0
	}
	return opcodeTable[op].width
}

// IsSend reports whether the opcode carries the shared send layout.
func (op Opcode) IsSend() bool {
	return op >= OpSend && op <= OpSendPrimitiveCallSuspense
}
