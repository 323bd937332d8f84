// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/lang/token"
)

// ErrTooManyConstants is returned when a module's constant pool exceeds the
// 16-bit index space.
var ErrTooManyConstants = errors.New("bytecode: too many constants")

// Module is the compiled artifact of one source unit: instruction bytes, a
// constant pool, and a token index per emitted byte for runtime diagnostics.
type Module struct {
	Name      string
	Source    string
	Code      []byte
	Constants []value.Value

	// Tokens is the full token stream of the source; TokenMap records, for
	// every code byte, the index of the token it was emitted for.
	Tokens   []token.Token
	TokenMap []uint32

	// Lines holds the source split by newline, 0-indexed, for diagnostics.
	Lines []string
}

// New creates an empty module over the given source.
func New(name, source string) *Module {
	return &Module{
		Name:   name,
		Source: source,
		Lines:  strings.Split(source, "\n"),
	}
}

// AddConstant interns v into the constant pool and returns its index.
// Identical values share a slot.
func (m *Module) AddConstant(v value.Value) (uint16, error) {
	for i, c := range m.Constants {
		if c == v {
			return uint16(i), nil
		}
	}
	if len(m.Constants) > 0xffff {
		return 0, ErrTooManyConstants
	}
	m.Constants = append(m.Constants, v)
	return uint16(len(m.Constants) - 1), nil
}

// EmitByte appends a raw byte attributed to token index tok.
func (m *Module) EmitByte(b byte, tok uint32) {
	m.Code = append(m.Code, b)
	m.TokenMap = append(m.TokenMap, tok)
}

// EmitOp appends an opcode byte.
func (m *Module) EmitOp(op Opcode, tok uint32) {
	m.EmitByte(byte(op), tok)
}

// EmitShort appends a little-endian 16-bit operand.
func (m *Module) EmitShort(s uint16, tok uint32) {
	m.EmitByte(byte(s), tok)
	m.EmitByte(byte(s>>8), tok)
}

// PatchShort overwrites the 16-bit operand at offset.
func (m *Module) PatchShort(offset int, s uint16) {
	binary.LittleEndian.PutUint16(m.Code[offset:], s)
}

// ReadShort decodes the little-endian 16-bit operand at offset.
func (m *Module) ReadShort(offset int) uint16 {
	return binary.LittleEndian.Uint16(m.Code[offset:])
}

// TokenAt returns the token a code offset was emitted for.
func (m *Module) TokenAt(offset int) token.Token {
	if offset < 0 || offset >= len(m.TokenMap) {
		return token.Token{Kind: token.EOF}
	}
	idx := m.TokenMap[offset]
	if int(idx) >= len(m.Tokens) {
		return token.Token{Kind: token.EOF}
	}
	return m.Tokens[idx]
}

// LineAt returns the 1-based source line text, or "" when out of range.
func (m *Module) LineAt(line int) string {
	if line < 1 || line > len(m.Lines) {
		return ""
	}
	return m.Lines[line-1]
}

// ---- Inline send cache layout ----------------------------------------------
//
// A send instruction is SendLen bytes:
//
//	[op:1][msg k16:2][have:1][version:1][want:1][offset:2][type:8][sibling:1][_:3]
//
// The cache starts at byte 4. The want byte tells the callee how many
// results this site expects; the sibling byte remembers the opcode the site
// was rewritten from so invalidation can fall back to OpSend.

const (
	sendCacheVersion = 4
	sendCacheWant    = 5
	sendCacheOffset  = 6
	sendCacheType    = 8
	sendCacheSibling = 16
)

// SendMessage returns the k16 message constant of the send at offset.
func (m *Module) SendMessage(offset int) uint16 {
	return m.ReadShort(offset + 1)
}

// SendHave returns the arity byte of the send at offset.
func (m *Module) SendHave(offset int) byte {
	return m.Code[offset+3]
}

// SendWant returns the result count a send site expects; VarArity means the
// caller takes whatever comes back.
func (m *Module) SendWant(offset int) byte {
	return m.Code[offset+sendCacheWant]
}

// SetSendWant overwrites the want byte of the send at offset.
func (m *Module) SetSendWant(offset int, want byte) {
	m.Code[offset+sendCacheWant] = want
}

// SendCache decodes the inline cache of the send at offset.
func (m *Module) SendCache(offset int) (version byte, specOffset uint16, cachedType value.Value) {
	version = m.Code[offset+sendCacheVersion]
	specOffset = m.ReadShort(offset + sendCacheOffset)
	cachedType = value.Value(binary.LittleEndian.Uint64(m.Code[offset+sendCacheType:]))
	return
}

// WriteSendCache fills the inline cache and rewrites the send opcode to the
// monomorphic variant mono, recording the previous opcode as the sibling.
func (m *Module) WriteSendCache(offset int, mono Opcode, version byte, specOffset uint16, cachedType value.Value) {
	m.Code[offset+sendCacheSibling] = m.Code[offset]
	m.Code[offset] = byte(mono)
	m.Code[offset+sendCacheVersion] = version
	m.PatchShort(offset+sendCacheOffset, specOffset)
	binary.LittleEndian.PutUint64(m.Code[offset+sendCacheType:], uint64(cachedType))
}

// ResetSend rewrites a monomorphic send site back to the polymorphic OpSend
// so the next dispatch re-resolves.
func (m *Module) ResetSend(offset int) {
	m.Code[offset] = byte(OpSend)
}

// ---- Decoding helpers -------------------------------------------------------

// InstrLen returns the byte length of the instruction at offset, including
// the variable-width superinstructions.
func (m *Module) InstrLen(offset int) int {
	op := Opcode(m.Code[offset])
	if w := op.Width(); w > 0 {
		return w
	}
	n := int(m.Code[offset+1])
	switch op {
	case OpNConstant:
		return 2 + 2*n
	case OpNLoadLocal, OpNPopStoreLocal, OpNLoadUpvalue:
		return 2 + n
	default:
		return 1
	}
}

// Describe renders the instruction at offset for disassembly; it returns the
// mnemonic and a printable operand summary.
func (m *Module) Describe(offset int) (mnemonic, operands string) {
	op := Opcode(m.Code[offset])
	mnemonic = op.String()
	switch {
	case op.IsSend():
		k := m.SendMessage(offset)
		n, variadic := DecodeHave(m.SendHave(offset))
		operands = fmt.Sprintf("m=%d have=%d", k, n)
		if variadic {
			operands += " var"
		}
	case op == OpConstant:
		operands = fmt.Sprintf("k=%d", m.ReadShort(offset+1))
	case op == OpJump, op == OpJumpIfTrue, op == OpJumpIfFalse,
		op == OpLogicalAnd, op == OpLogicalOr:
		d := int(m.ReadShort(offset + 1))
		operands = fmt.Sprintf("-> %d", offset+3+d)
	case op == OpLoop:
		d := int(m.ReadShort(offset + 1))
		operands = fmt.Sprintf("-> %d", offset+3-d)
	case op == OpYield:
		n, _ := DecodeHave(m.Code[offset+3])
		operands = fmt.Sprintf("p=%d have=%d", m.ReadShort(offset+1), n)
	case op == OpPack:
		operands = fmt.Sprintf("have=%d below=%d above=%d",
			m.Code[offset+1]>>1, m.Code[offset+2], m.Code[offset+3])
	case op == OpSpec:
		operands = fmt.Sprintf("p=%d m=%d", m.ReadShort(offset+1), m.ReadShort(offset+3))
	case op == OpBlock, op == OpDynSpec:
		operands = fmt.Sprintf("p=%d", m.ReadShort(offset+1))
	case op.Width() == 2:
		operands = fmt.Sprintf("%d", m.Code[offset+1])
	case op.Width() == 0:
		n := int(m.Code[offset+1])
		parts := make([]string, 0, n)
		width := m.InstrLen(offset)
		for i := 2; i < width; i++ {
			parts = append(parts, fmt.Sprintf("%d", m.Code[offset+i]))
		}
		operands = fmt.Sprintf("n=%d [%s]", n, strings.Join(parts, " "))
	}
	return mnemonic, operands
}
