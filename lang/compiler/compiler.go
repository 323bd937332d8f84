// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package compiler implements the Gab front end: a Pratt-precedence
// expression parser that emits bytecode in a single pass, with no
// intermediate tree.
//
// The compiler maintains a stack of frames, one per nested block, and within
// each a stack of scopes. Name resolution walks the frame stack newest
// first; a hit in an outer frame is promoted to an upvalue in every
// intermediate frame.
package compiler

import (
	"strconv"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/internal/diagnostic"
	"github.com/gablang/go-gab/lang/bytecode"
	"github.com/gablang/go-gab/lang/lexer"
	"github.com/gablang/go-gab/lang/token"
)

// Precedence levels, low to high.
type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precMatch
	precEquality
	precComparison
	precBitwiseOr
	precBitwiseAnd
	precTerm
	precFactor
	precUnary
	precSend
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool) bool

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

// Compiler compiles one source unit into a module and its main block.
type Compiler struct {
	heap *object.Heap
	mod  *bytecode.Module

	toks []token.Token
	cur  int

	frames []*frame
	err    *diagnostic.Error

	// pendingName carries a definition's name into its initializer block so
	// the block can refer to itself through its own callee slot.
	pendingName string

	// Emitter peephole state; see emit.go.
	lastOp  bytecode.Opcode
	lastOff int
	prevOp  bytecode.Opcode
	prevOff int
}

// Compile lexes and compiles source, returning the main block value. The
// module is also returned for disassembly and diagnostics.
func Compile(heap *object.Heap, name, source string) (value.Value, *bytecode.Module, *diagnostic.Error) {
	toks := lexer.New(name, source).Tokenize()

	mod := bytecode.New(name, source)
	mod.Tokens = toks

	c := &Compiler{
		heap:    heap,
		mod:     mod,
		toks:    toks,
		lastOp:  bytecode.OpNop,
		lastOff: -1,
		prevOff: -1,
	}

	c.pushFrame(name)
	left, stmts := false, 0
	c.skipSeparators()
	for !c.check(token.EOF) && c.err == nil {
		if left {
			c.emitPop()
		}
		left = c.statement()
		stmts++
		if c.err != nil {
			break
		}
		if !c.check(token.EOF) && !c.matchSeparator() {
			c.fail(diagnostic.UnexpectedToken, "expected a newline between expressions")
			break
		}
		c.skipSeparators()
	}
	if c.err != nil {
		return value.Undefined, mod, c.err
	}
	if !left {
		if stmts > 0 {
			c.loadLastLocal()
		} else {
			c.emitOp(bytecode.OpPushNil)
			c.pushSlots(1)
		}
	}
	c.emitReturn(1, false)
	proto := c.popFrame(0)

	block := heap.Alloc(&object.Block{Proto: proto})
	return block, mod, nil
}

// ---- Token plumbing ---------------------------------------------------------

func (c *Compiler) peek() token.Token {
	return c.toks[c.cur]
}

func (c *Compiler) peekAt(n int) token.Token {
	if c.cur+n >= len(c.toks) {
		return c.toks[len(c.toks)-1]
	}
	return c.toks[c.cur+n]
}

func (c *Compiler) prev() token.Token {
	if c.cur == 0 {
		return c.toks[0]
	}
	return c.toks[c.cur-1]
}

func (c *Compiler) advance() token.Token {
	t := c.toks[c.cur]
	if t.Kind != token.EOF {
		c.cur++
	}
	if t.Kind == token.ERROR {
		c.failAt(t, diagnostic.MalformedToken, t.Literal)
	}
	return t
}

func (c *Compiler) check(k token.Kind) bool {
	return c.peek().Kind == k
}

func (c *Compiler) match(k token.Kind) bool {
	if !c.check(k) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) expect(k token.Kind, note string) bool {
	if c.match(k) {
		return true
	}
	status := diagnostic.UnexpectedToken
	switch {
	case c.check(token.EOF):
		status = diagnostic.UnexpectedEOF
	case k == token.END:
		status = diagnostic.MissingEnd
	}
	c.fail(status, note)
	return false
}

func (c *Compiler) matchSeparator() bool {
	return c.match(token.NEWLINE) || c.match(token.SEMICOLON)
}

func (c *Compiler) skipSeparators() {
	for c.matchSeparator() {
	}
}

// skipNewlines is used inside bracketed lists, where newlines are layout.
func (c *Compiler) skipNewlines() {
	for c.match(token.NEWLINE) {
	}
}

func (c *Compiler) fail(status diagnostic.Status, format string, vals ...string) {
	c.failAt(c.peek(), status, format, vals...)
}

func (c *Compiler) failAt(tok token.Token, status diagnostic.Status, format string, vals ...string) {
	if c.err != nil {
		return
	}
	if tok.Kind == token.ERROR {
		status = diagnostic.MalformedToken
		format = tok.Literal
		vals = nil
	}
	c.err = &diagnostic.Error{
		Status: status,
		Module: c.mod.Name,
		Tok:    tok,
		Note:   diagnostic.Sprintf(format, vals...),
	}
}

// ---- Pratt table ------------------------------------------------------------

var rules map[token.Kind]parseRule

func init() {
	rules = map[token.Kind]parseRule{
		token.NUMBER:       {prefix: (*Compiler).number},
		token.STRING:       {prefix: (*Compiler).stringLit},
		token.SIGIL:        {prefix: (*Compiler).sigilLit},
		token.MESSAGE:      {prefix: (*Compiler).messageLit, infix: (*Compiler).send, prec: precSend},
		token.INTERP_BEGIN: {prefix: (*Compiler).interpolation},
		token.IDENT:        {prefix: (*Compiler).identifier},
		token.LPAREN:       {prefix: (*Compiler).grouping, infix: (*Compiler).call, prec: precSend},
		token.LBRACKET:     {prefix: (*Compiler).recordLit},
		token.LBRACE:       {prefix: (*Compiler).tupleLit, infix: (*Compiler).index, prec: precSend},
		token.DO:           {prefix: (*Compiler).doBlock},
		token.FATARROW:     {prefix: (*Compiler).lambda},
		token.LOOP:         {prefix: (*Compiler).loop},
		token.BREAK:        {prefix: (*Compiler).breakExpr},
		token.RETURN:       {prefix: (*Compiler).returnExpr},
		token.YIELD:        {prefix: (*Compiler).yieldExpr},

		token.MINUS: {prefix: (*Compiler).unary, infix: (*Compiler).binary, prec: precTerm},
		token.NOT:   {prefix: (*Compiler).unary},

		token.PLUS:    {infix: (*Compiler).binary, prec: precTerm},
		token.STAR:    {infix: (*Compiler).binary, prec: precFactor},
		token.SLASH:   {infix: (*Compiler).binary, prec: precFactor},
		token.PERCENT: {infix: (*Compiler).binary, prec: precFactor},
		token.DOTDOT:  {infix: (*Compiler).binary, prec: precTerm},
		token.EQEQ:    {infix: (*Compiler).binary, prec: precEquality},
		token.LT:      {infix: (*Compiler).binary, prec: precComparison},
		token.LTE:     {infix: (*Compiler).binary, prec: precComparison},
		token.GT:      {infix: (*Compiler).binary, prec: precComparison},
		token.GTE:     {infix: (*Compiler).binary, prec: precComparison},
		token.LSHIFT:  {infix: (*Compiler).binary, prec: precTerm},
		token.RSHIFT:  {infix: (*Compiler).binary, prec: precTerm},
		token.PIPE:    {infix: (*Compiler).binary, prec: precBitwiseOr},
		token.AMP:     {infix: (*Compiler).binary, prec: precBitwiseAnd},

		token.AND:  {infix: (*Compiler).logicalAnd, prec: precAnd},
		token.OR:   {infix: (*Compiler).logicalOr, prec: precOr},
		token.THEN: {infix: (*Compiler).logicalAnd, prec: precMatch},
		token.ELSE: {infix: (*Compiler).logicalOr, prec: precMatch},

		token.PIPEGT:   {infix: (*Compiler).pipe, prec: precSend},
		token.QUESTION: {infix: (*Compiler).typeOf, prec: precSend},
	}
}

func ruleOf(k token.Kind) parseRule {
	return rules[k]
}

// ---- Expression driver ------------------------------------------------------

func (c *Compiler) parsePrecedence(prec precedence) bool {
	tok := c.advance()
	if c.err != nil {
		return false
	}
	rule := ruleOf(tok.Kind)
	if rule.prefix == nil {
		c.failAt(tok, diagnostic.UnexpectedToken, "expected an expression, found '$'", tok.Literal)
		return false
	}
	canAssign := prec <= precAssignment
	if !rule.prefix(c, canAssign) {
		return false
	}

	for c.err == nil {
		next := ruleOf(c.peek().Kind)
		if next.infix == nil || next.prec < prec {
			break
		}
		c.advance()
		if !next.infix(c, canAssign) {
			return false
		}
	}
	return c.err == nil
}

func (c *Compiler) expression() bool {
	return c.parsePrecedence(precAssignment)
}

// statement compiles one expression in sequence position. It returns true
// when a poppable value was left on the stack; definitions leave their value
// in the freshly bound local slot instead.
func (c *Compiler) statement() bool {
	switch {
	case c.check(token.DEF):
		return c.definition()
	case c.assignmentAhead():
		return c.assignment()
	default:
		c.expression()
		return c.err == nil
	}
}

// loadLastLocal re-pushes the most recent definition so a trailing def still
// yields a value.
func (c *Compiler) loadLastLocal() {
	f := c.frame()
	c.emitLoadLocal(byte(len(f.locals) - 1))
}

// ---- Prefix rules -----------------------------------------------------------

func (c *Compiler) number(bool) bool {
	f, err := strconv.ParseFloat(c.prev().Literal, 64)
	if err != nil {
		c.failAt(c.prev(), diagnostic.MalformedToken, "'$' is not a number", c.prev().Literal)
		return false
	}
	return c.emitConstant(value.Number(f))
}

func (c *Compiler) stringLit(bool) bool {
	return c.emitConstant(c.heap.Str(c.prev().Literal))
}

func (c *Compiler) sigilLit(bool) bool {
	return c.emitConstant(c.heap.SigilOf(c.prev().Literal))
}

// messageLit pushes the message itself as a first-class value.
func (c *Compiler) messageLit(bool) bool {
	return c.emitConstant(c.heap.MessageOf(c.prev().Literal))
}

func (c *Compiler) interpolation(bool) bool {
	pieces := 0
	if !c.emitConstant(c.heap.Str(c.prev().Literal)) {
		return false
	}
	pieces++
	for {
		if !c.expression() {
			return false
		}
		pieces++
		switch {
		case c.match(token.INTERP_MIDDLE):
			if !c.emitConstant(c.heap.Str(c.prev().Literal)) {
				return false
			}
			pieces++
		case c.match(token.INTERP_END):
			if !c.emitConstant(c.heap.Str(c.prev().Literal)) {
				return false
			}
			pieces++
			if pieces > maxExpressions {
				c.fail(diagnostic.TooManyExpressions, "too many interpolation segments")
				return false
			}
			c.emitOp(bytecode.OpInterpolate)
			c.emitByte(byte(pieces))
			c.popSlots(pieces)
			c.pushSlots(1)
			return true
		default:
			c.fail(diagnostic.UnexpectedToken, "expected the interpolated string to continue")
			return false
		}
	}
}

func (c *Compiler) identifier(bool) bool {
	name := c.prev().Literal
	f := c.frame()
	if li := f.resolveLocal(name); li >= 0 {
		if !f.locals[li].initialized {
			c.failAt(c.prev(), diagnostic.ReferenceBeforeInitialize,
				"'$' is referenced inside its own initializer", name)
			return false
		}
		c.emitLoadLocal(byte(li))
		return true
	}
	// A block defined under a name refers to itself through its callee
	// slot; that is what makes recursion work without capturing the
	// still-uninitialized definition slot.
	if name == f.name && len(c.frames) > 1 {
		c.emitLoadLocal(0)
		return true
	}
	if ui := c.resolveUpvalue(len(c.frames)-1, name); ui >= 0 {
		c.emitLoadUpvalue(byte(ui))
		return true
	}
	if c.err == nil {
		c.failAt(c.prev(), diagnostic.UnboundSymbol, "'$' is not defined", name)
	}
	return false
}

func (c *Compiler) grouping(bool) bool {
	c.skipNewlines()
	if !c.expression() {
		return false
	}
	c.skipNewlines()
	return c.expect(token.RPAREN, "expected ')' after the expression")
}

func (c *Compiler) unary(bool) bool {
	op := c.prev().Kind
	if !c.parsePrecedence(precUnary) {
		return false
	}
	switch op {
	case token.MINUS:
		c.emitOp(bytecode.OpNegate)
	case token.NOT:
		c.emitOp(bytecode.OpNot)
	}
	return true
}

// recordLit compiles [k = v, ...]; keys are identifiers or sigils.
func (c *Compiler) recordLit(bool) bool {
	n := 0
	c.skipNewlines()
	for !c.check(token.RBRACKET) {
		var key value.Value
		switch {
		case c.match(token.IDENT):
			key = c.heap.Str(c.prev().Literal)
		case c.match(token.SIGIL):
			key = c.heap.SigilOf(c.prev().Literal)
		default:
			c.fail(diagnostic.UnexpectedToken, "expected a record key")
			return false
		}
		if !c.emitConstant(key) {
			return false
		}
		if c.match(token.ASSIGN) {
			if !c.expression() {
				return false
			}
		} else {
			// A bare key binds the true sigil.
			c.emitOp(bytecode.OpPushTrue)
			c.pushSlots(1)
		}
		n++
		if n > maxExpressions {
			c.fail(diagnostic.TooManyExpressions, "too many record members")
			return false
		}
		c.skipNewlines()
		if !c.match(token.COMMA) {
			break
		}
		c.skipNewlines()
	}
	if !c.expect(token.RBRACKET, "expected ']' to close the record") {
		return false
	}
	c.emitOp(bytecode.OpRecord)
	c.emitByte(byte(n))
	c.popSlots(2 * n)
	c.pushSlots(1)
	return true
}

// tupleLit compiles { e1, e2, ... }.
func (c *Compiler) tupleLit(bool) bool {
	n, variadic, ok := c.expressionList(token.RBRACE)
	if !ok {
		return false
	}
	if !c.expect(token.RBRACE, "expected '}' to close the tuple") {
		return false
	}
	c.emitOp(bytecode.OpTuple)
	c.emitByte(bytecode.HaveByte(n, variadic))
	c.popSlots(n)
	c.pushSlots(1)
	return true
}

// expressionList compiles comma-separated expressions until terminator.
// When the final expression is a send, its want is widened so the list is
// variadic. Newlines are layout only inside bracketed lists.
func (c *Compiler) expressionList(terminator token.Kind) (n int, variadic bool, ok bool) {
	bracketed := terminator != token.NEWLINE
	if bracketed {
		c.skipNewlines()
	}
	for !c.check(terminator) && !c.check(token.EOF) {
		if !c.expression() {
			return 0, false, false
		}
		n++
		if n > maxExpressions {
			c.fail(diagnostic.TooManyExpressions, "too many expressions in one list")
			return 0, false, false
		}
		if bracketed {
			c.skipNewlines()
		}
		if !c.match(token.COMMA) {
			break
		}
		if bracketed {
			c.skipNewlines()
		}
	}
	variadic = c.patchLastSendWant(bytecode.VarArity)
	return n, variadic, true
}

// doBlock compiles do [p1, p2;] body end.
func (c *Compiler) doBlock(bool) bool {
	name := "block"
	if c.pendingName != "" {
		name = c.pendingName
		c.pendingName = ""
	}
	return c.compileBlock(name)
}

func (c *Compiler) compileBlock(name string) bool {
	over := c.emitJump(bytecode.OpJump)
	bodyStart := len(c.mod.Code)

	c.pushFrame(name)
	if ok := c.blockParams(); !ok {
		return false
	}
	if !c.blockBody(token.END) {
		return false
	}
	if !c.expect(token.END, "expected 'end' to close the block") {
		return false
	}
	proto := c.popFrame(bodyStart)
	c.patchJump(over)

	k, ok := c.constant(proto)
	if !ok {
		return false
	}
	c.emitOp(bytecode.OpBlock)
	c.emitShort(k)
	c.pushSlots(1)
	return true
}

// blockParams recognizes the parameter list of a do-block: identifiers up to
// a ';' on the same line. Anything else is the start of the body.
func (c *Compiler) blockParams() bool {
	start := c.cur
	var names []token.Token
	for c.check(token.IDENT) {
		names = append(names, c.advance())
		if !c.match(token.COMMA) {
			break
		}
	}
	if !c.check(token.SEMICOLON) || len(names) == 0 {
		c.cur = start
		return true
	}
	c.advance() // ';'

	if len(names) > maxParameters {
		c.failAt(names[0], diagnostic.TooManyParameters, "a block cannot take more than $ parameters", "64")
		return false
	}
	f := c.frame()
	for _, nt := range names {
		if _, ok := c.declareLocal(nt.Literal, false); !ok {
			return false
		}
		f.nslots++
		if f.nslots > f.maxSlots {
			f.maxSlots = f.nslots
		}
	}
	f.nargs = len(names)
	return true
}

// blockBody compiles statements until terminator, leaving exactly one value.
func (c *Compiler) blockBody(terminator token.Kind) bool {
	left, stmts := false, 0
	c.skipSeparators()
	for !c.check(terminator) && !c.check(token.EOF) && c.err == nil {
		if left {
			c.emitPop()
		}
		left = c.statement()
		stmts++
		if c.err != nil {
			return false
		}
		if !c.check(terminator) && !c.check(token.EOF) && !c.matchSeparator() {
			c.fail(diagnostic.UnexpectedToken, "expected a newline between expressions")
			return false
		}
		c.skipSeparators()
	}
	if c.err != nil {
		return false
	}
	if !left {
		if stmts > 0 {
			c.loadLastLocal()
		} else {
			c.emitOp(bytecode.OpPushNil)
			c.pushSlots(1)
		}
	}
	c.emitReturn(1, false)
	return true
}

// emitReturn widens a trailing send so a block hands back everything the
// send produced.
func (c *Compiler) emitReturn(have int, variadic bool) {
	if !variadic {
		variadic = c.patchLastSendWant(bytecode.VarArity)
	}
	c.emitOp(bytecode.OpReturn)
	c.emitByte(bytecode.HaveByte(have, variadic))
	c.popSlots(have)
}

// lambda compiles => expr, a zero-argument block.
func (c *Compiler) lambda(bool) bool {
	name := "lambda"
	if c.pendingName != "" {
		name = c.pendingName
		c.pendingName = ""
	}
	over := c.emitJump(bytecode.OpJump)
	bodyStart := len(c.mod.Code)

	c.pushFrame(name)
	if !c.expression() {
		return false
	}
	c.emitReturn(1, false)
	proto := c.popFrame(bodyStart)
	c.patchJump(over)

	k, ok := c.constant(proto)
	if !ok {
		return false
	}
	c.emitOp(bytecode.OpBlock)
	c.emitShort(k)
	c.pushSlots(1)
	return true
}

// ---- Control flow -----------------------------------------------------------

func (c *Compiler) logicalAnd(bool) bool {
	jump := c.emitJump(bytecode.OpLogicalAnd)
	if !c.parsePrecedence(ruleOf(c.prev().Kind).prec + 1) {
		return false
	}
	c.patchJump(jump)
	return true
}

func (c *Compiler) logicalOr(bool) bool {
	jump := c.emitJump(bytecode.OpLogicalOr)
	if !c.parsePrecedence(ruleOf(c.prev().Kind).prec + 1) {
		return false
	}
	c.patchJump(jump)
	return true
}

func (c *Compiler) loop(bool) bool {
	f := c.frame()
	ctx := &loopCtx{start: len(c.mod.Code), localBase: len(f.locals)}
	f.loops = append(f.loops, ctx)
	c.scopeBegin()

	left := false
	c.skipSeparators()
	for !c.check(token.END) && !c.check(token.UNTIL) && !c.check(token.EOF) && c.err == nil {
		if left {
			c.emitPop()
		}
		left = c.statement()
		if c.err != nil {
			return false
		}
		if !c.check(token.END) && !c.check(token.UNTIL) && !c.matchSeparator() {
			c.fail(diagnostic.UnexpectedToken, "expected a newline between expressions")
			return false
		}
		c.skipSeparators()
	}
	if left {
		c.emitPop()
	}
	// Locals declared in the body are per-iteration; drop them before the
	// back edge so the stack height is loop-invariant.
	c.dropLoopLocals(ctx, 0)
	c.scopeEnd()

	if c.match(token.UNTIL) {
		if !c.expression() {
			return false
		}
		exit := c.emitJump(bytecode.OpJumpIfTrue)
		c.popSlots(1)
		c.emitLoop(ctx.start)
		c.patchJump(exit)
	} else {
		c.emitLoop(ctx.start)
	}
	if !c.expect(token.END, "expected 'end' to close the loop") {
		return false
	}

	// The fallthrough exit produces nil; breaks arrive past it with their
	// own value.
	c.emitOp(bytecode.OpPushNil)
	c.pushSlots(1)
	for _, b := range ctx.breaks {
		c.patchJump(b)
	}

	f.loops = f.loops[:len(f.loops)-1]
	return true
}

// dropLoopLocals pops the loop-body locals from the runtime stack, keeping
// the top keep values in place via a rotate.
func (c *Compiler) dropLoopLocals(ctx *loopCtx, keep int) {
	n := len(c.frame().locals) - ctx.localBase
	if n <= 0 {
		return
	}
	if keep > 0 {
		c.emitOp(bytecode.OpShift)
		c.emitByte(byte(n + keep))
	}
	c.emitOp(bytecode.OpPopN)
	c.emitByte(byte(n))
	c.popSlots(n)
}

func (c *Compiler) breakExpr(bool) bool {
	f := c.frame()
	if len(f.loops) == 0 {
		c.failAt(c.prev(), diagnostic.UnexpectedToken, "'break' outside of a loop")
		return false
	}
	if c.check(token.NEWLINE) || c.check(token.SEMICOLON) || c.check(token.END) {
		c.emitOp(bytecode.OpPushNil)
		c.pushSlots(1)
	} else if !c.expression() {
		return false
	}
	ctx := f.loops[len(f.loops)-1]
	// The break value rides over the body locals, which get dropped.
	c.dropLoopLocals(ctx, 1)
	ctx.breaks = append(ctx.breaks, c.emitJump(bytecode.OpJump))
	return true
}

func (c *Compiler) returnExpr(bool) bool {
	have := 0
	variadic := false
	if !c.check(token.NEWLINE) && !c.check(token.SEMICOLON) &&
		!c.check(token.END) && !c.check(token.EOF) {
		var ok bool
		have, variadic, ok = c.expressionList(token.NEWLINE)
		if !ok {
			return false
		}
	}
	if have == 0 {
		c.emitOp(bytecode.OpPushNil)
		c.pushSlots(1)
		have = 1
	}
	c.emitReturn(have, variadic)
	// Returns still produce a slot for the enclosing expression grammar.
	c.pushSlots(1)
	return true
}

func (c *Compiler) yieldExpr(bool) bool {
	have := 0
	variadic := false
	if !c.check(token.NEWLINE) && !c.check(token.SEMICOLON) &&
		!c.check(token.END) && !c.check(token.EOF) {
		var ok bool
		have, variadic, ok = c.expressionList(token.NEWLINE)
		if !ok {
			return false
		}
	}

	proto := &object.SuspenseProto{Mod: c.mod, Want: 1}
	protoVal := c.heap.Alloc(proto)
	k, ok := c.constant(protoVal)
	if !ok {
		return false
	}
	c.emitOp(bytecode.OpYield)
	c.emitShort(k)
	c.emitByte(bytecode.HaveByte(have, variadic))
	proto.ResumeOffset = uint32(len(c.mod.Code))
	c.popSlots(have)
	c.pushSlots(1)
	return true
}

// ---- Sends ------------------------------------------------------------------

// send compiles receiver:message, receiver:message(args), and the property
// write receiver:message = value.
func (c *Compiler) send(canAssign bool) bool {
	name := c.prev().Literal
	if canAssign && c.match(token.ASSIGN) {
		if !c.expression() {
			return false
		}
		return c.emitSend(name, 1, false)
	}
	have, variadic := 0, false
	if c.match(token.LPAREN) {
		var ok bool
		have, variadic, ok = c.expressionList(token.RPAREN)
		if !ok {
			return false
		}
		if !c.expect(token.RPAREN, "expected ')' after the arguments") {
			return false
		}
	}
	return c.emitSend(name, have, variadic)
}

// call compiles receiver(args): a send of the call message.
func (c *Compiler) call(bool) bool {
	have, variadic, ok := c.expressionList(token.RPAREN)
	if !ok {
		return false
	}
	if !c.expect(token.RPAREN, "expected ')' after the arguments") {
		return false
	}
	return c.emitSend("call", have, variadic)
}

// pipe compiles a |> f as a call of f with a, and a |> :msg as a dynamic
// send of msg to a.
func (c *Compiler) pipe(bool) bool {
	if c.match(token.MESSAGE) {
		if !c.emitConstant(c.heap.MessageOf(c.prev().Literal)) {
			return false
		}
		c.emitOp(bytecode.OpDynSend)
		c.emitByte(bytecode.HaveByte(0, false))
		c.popSlots(2)
		c.pushSlots(1)
		return true
	}
	if !c.parsePrecedence(precSend + 1) {
		return false
	}
	c.emitOp(bytecode.OpSwap)
	return c.emitSend("call", 1, false)
}

// index compiles receiver{idx} as a get send, and the index write
// receiver{idx} = value as a set send carrying the index and the value.
func (c *Compiler) index(canAssign bool) bool {
	c.skipNewlines()
	if !c.expression() {
		return false
	}
	c.skipNewlines()
	if !c.expect(token.RBRACE, "expected '}' after the index") {
		return false
	}
	if canAssign && c.match(token.ASSIGN) {
		if !c.expression() {
			return false
		}
		return c.emitSend("set", 2, false)
	}
	return c.emitSend("get", 1, false)
}

// typeOf compiles the postfix '?' type query.
func (c *Compiler) typeOf(bool) bool {
	c.emitOp(bytecode.OpType)
	return true
}

func (c *Compiler) binary(bool) bool {
	op := c.prev()
	if !c.parsePrecedence(ruleOf(op.Kind).prec + 1) {
		return false
	}
	return c.emitSend(op.Literal, 1, false)
}

// ---- Definitions and assignment ---------------------------------------------

// definition compiles the def forms:
//
//	def name = expr              — new immutable local
//	def name {recv} do ... end   — message specialization (SPEC)
//	def (msg) {recv} do ... end  — dynamic specialization (DYNSPEC)
//
// It reports whether a poppable value was left on the stack: specializations
// push the message, while a plain definition's value lives in the new local
// slot.
func (c *Compiler) definition() bool {
	c.advance() // def

	if c.match(token.LPAREN) {
		// Dynamic message: the expression evaluates to the message.
		if !c.expression() {
			return false
		}
		if !c.expect(token.RPAREN, "expected ')' after the message expression") {
			return false
		}
		return c.specialization("", true)
	}

	var name string
	switch {
	case c.match(token.IDENT):
		name = c.prev().Literal
	case c.match(token.MESSAGE):
		name = c.prev().Literal
	default:
		c.fail(diagnostic.MalformedAssignment, "expected a name after 'def'")
		return false
	}

	if c.check(token.LBRACE) {
		return c.specialization(name, false)
	}

	if !c.expect(token.ASSIGN, "expected '=' after the name") {
		return false
	}

	// Declare first so the initializer cannot read the slot, then compile.
	idx, ok := c.declareLocal(name, false)
	if !ok {
		return false
	}
	f := c.frame()
	f.locals[idx].initialized = false
	c.pendingName = name
	ok = c.expression()
	c.pendingName = ""
	if !ok {
		return false
	}
	f.locals[idx].initialized = true
	// The initializer's slot becomes the local; nothing is left to pop.
	return false
}

// specialization compiles {recv-expr} do params; body end into SPEC or
// DYNSPEC. The receiver type and (for DYNSPEC) the message are on the stack.
func (c *Compiler) specialization(name string, dynamic bool) bool {
	if !c.expect(token.LBRACE, "expected '{' before the receiver") {
		return false
	}
	c.skipNewlines()
	if !c.expression() {
		return false
	}
	c.skipNewlines()
	if !c.expect(token.RBRACE, "expected '}' after the receiver") {
		return false
	}
	if !c.expect(token.DO, "expected a block after the receiver") {
		return false
	}

	over := c.emitJump(bytecode.OpJump)
	bodyStart := len(c.mod.Code)
	c.pushFrame(name)
	if !c.blockParams() {
		return false
	}
	if !c.blockBody(token.END) {
		return false
	}
	if !c.expect(token.END, "expected 'end' to close the block") {
		return false
	}
	proto := c.popFrame(bodyStart)
	c.patchJump(over)

	k, ok := c.constant(proto)
	if !ok {
		return false
	}
	if dynamic {
		c.emitOp(bytecode.OpDynSpec)
		c.emitShort(k)
		c.popSlots(2)
		c.pushSlots(1)
		return true
	}
	msg := c.heap.MessageOf(name)
	mk, ok := c.constant(msg)
	if !ok {
		return false
	}
	c.emitOp(bytecode.OpSpec)
	c.emitShort(k)
	c.emitShort(mk)
	c.popSlots(1)
	c.pushSlots(1)
	return true
}

// assignmentAhead reports whether the statement starts with assignment
// targets (identifiers, optionally indexed) followed by '='.
func (c *Compiler) assignmentAhead() bool {
	i := 0
	for {
		if c.peekAt(i).Kind == token.DOTDOT {
			i++
		}
		if c.peekAt(i).Kind != token.IDENT {
			return false
		}
		i++
		if c.peekAt(i).Kind == token.LBRACE {
			// Skip a balanced index expression.
			depth := 0
			for {
				switch c.peekAt(i).Kind {
				case token.LBRACE:
					depth++
				case token.RBRACE:
					depth--
				case token.EOF:
					return false
				}
				i++
				if depth == 0 {
					break
				}
			}
		}
		switch c.peekAt(i).Kind {
		case token.COMMA:
			i++
		case token.ASSIGN:
			return true
		default:
			return false
		}
	}
}

type assignTarget struct {
	tok  token.Token
	name string
	rest bool

	// index marks a target written through a set send; idxStart is the
	// token cursor of its index expression, compiled when the store runs.
	index    bool
	idxStart int
}

// assignment compiles target-list = expression-list. Targets are new
// locals, existing locals, or index sends, with at most one rest target;
// new names cannot mix with the other kinds. It reports whether a poppable
// value was left on the stack.
func (c *Compiler) assignment() bool {
	var targets []assignTarget
	restIdx := -1
	for {
		rest := c.match(token.DOTDOT)
		if !c.expect(token.IDENT, "expected an assignment target") {
			return false
		}
		if rest {
			if restIdx >= 0 {
				c.failAt(c.prev(), diagnostic.InvalidRestVariable, "only one rest target is allowed")
				return false
			}
			restIdx = len(targets)
		}
		t := assignTarget{tok: c.prev(), name: c.prev().Literal, rest: rest}
		if c.match(token.LBRACE) {
			if rest {
				c.failAt(t.tok, diagnostic.InvalidRestVariable, "a rest target cannot be indexed")
				return false
			}
			// Record the index expression and skip past it; it compiles
			// when the store is emitted, after the right-hand side.
			t.index = true
			t.idxStart = c.cur
			depth := 1
			for depth > 0 {
				switch c.peek().Kind {
				case token.LBRACE:
					depth++
				case token.RBRACE:
					depth--
				case token.EOF:
					c.fail(diagnostic.UnexpectedEOF, "expected '}' after the index")
					return false
				}
				c.advance()
			}
		}
		targets = append(targets, t)
		if !c.match(token.COMMA) {
			break
		}
	}
	if !c.expect(token.ASSIGN, "expected '=' after the assignment targets") {
		return false
	}

	f := c.frame()
	n := len(targets)
	fresh, idents := 0, 0
	for _, t := range targets {
		if t.index {
			continue
		}
		idents++
		if f.resolveLocal(t.name) < 0 {
			fresh++
		}
	}
	if fresh != 0 && (fresh != n || idents != n) {
		c.failAt(targets[0].tok, diagnostic.MalformedAssignment,
			"an assignment cannot mix new names with other targets")
		return false
	}

	// RHS: a tuple of values wanted to match the target count.
	have, variadic, ok := c.expressionList(token.NEWLINE)
	if !ok {
		return false
	}
	if have == 0 {
		c.fail(diagnostic.MalformedAssignment, "expected a value after '='")
		return false
	}

	if restIdx >= 0 {
		below := restIdx
		above := n - restIdx - 1
		c.emitOp(bytecode.OpPack)
		c.emitByte(bytecode.HaveByte(have, variadic))
		c.emitByte(byte(below))
		c.emitByte(byte(above))
		c.popSlots(have)
		c.pushSlots(n)
	} else {
		// Pad or trim a fixed-arity RHS to the target count.
		if variadic {
			c.emitOp(bytecode.OpTrim)
			c.emitByte(bytecode.HaveByte(have, true))
			c.emitByte(byte(n))
			c.popSlots(have)
			c.pushSlots(n)
		} else {
			for have < n {
				c.emitOp(bytecode.OpPushNil)
				c.pushSlots(1)
				have++
			}
			for have > n {
				c.emitPop()
				have--
			}
		}
	}

	if fresh == n {
		// The pushed values become the locals in place, left to right.
		for _, t := range targets {
			if _, ok := c.declareLocal(t.name, true); !ok {
				return false
			}
		}
		return false
	}

	// Existing targets: store in reverse order, top of stack last target.
	// Consecutive local store+pop pairs peep-combine into NPOPSTORE_LOCAL.
	for i := n - 1; i >= 0; i-- {
		t := targets[i]
		if t.index {
			if !c.indexStore(t) {
				return false
			}
		} else {
			li := f.resolveLocal(t.name)
			if !f.locals[li].mutable {
				c.failAt(t.tok, diagnostic.MalformedAssignment,
					"'$' is immutable; it was declared with def", t.name)
				return false
			}
			c.emitOp(bytecode.OpStoreLocal)
			c.emitByte(byte(li))
		}
		if i != 0 {
			// Keep the first value as the statement result.
			c.emitPop()
		}
	}
	return true
}

// indexStore emits the set send for an index assignment target. The value
// sits on top of the stack; the receiver and the deferred index expression
// are pushed above it and rotated underneath.
func (c *Compiler) indexStore(t assignTarget) bool {
	f := c.frame()
	switch {
	case f.resolveLocal(t.name) >= 0:
		c.emitLoadLocal(byte(f.resolveLocal(t.name)))
	default:
		if ui := c.resolveUpvalue(len(c.frames)-1, t.name); ui >= 0 {
			c.emitLoadUpvalue(byte(ui))
		} else {
			if c.err == nil {
				c.failAt(t.tok, diagnostic.UnboundSymbol, "'$' is not defined", t.name)
			}
			return false
		}
	}

	// Re-enter the recorded index tokens; the scan stops at their '}'.
	saved := c.cur
	c.cur = t.idxStart
	ok := c.expression()
	c.cur = saved
	if !ok {
		return false
	}

	// [value recv idx] rotates twice into the send layout [recv idx value].
	c.emitOp(bytecode.OpShift)
	c.emitByte(3)
	c.emitOp(bytecode.OpShift)
	c.emitByte(3)
	return c.emitSend("set", 2, false)
}
