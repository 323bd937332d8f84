// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package lexer

import (
	"testing"

	"github.com/gablang/go-gab/lang/token"
)

// kinds tokenizes input and returns the token kinds, dropping the final EOF.
func kinds(t *testing.T, input string) []token.Kind {
	t.Helper()
	toks := New("test.gab", input).Tokenize()
	out := make([]token.Kind, 0, len(toks)-1)
	for _, tok := range toks[:len(toks)-1] {
		out = append(out, tok.Kind)
	}
	return out
}

func expectKinds(t *testing.T, input string, want ...token.Kind) {
	t.Helper()
	got := kinds(t, input)
	if len(got) != len(want) {
		t.Fatalf("%q: got %v; want %v", input, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%q: token %d = %v; want %v", input, i, got[i], want[i])
		}
	}
}

func TestOperators(t *testing.T) {
	expectKinds(t, "1 + 2", token.NUMBER, token.PLUS, token.NUMBER)
	expectKinds(t, "a - b * c / d % e",
		token.IDENT, token.MINUS, token.IDENT, token.STAR, token.IDENT,
		token.SLASH, token.IDENT, token.PERCENT, token.IDENT)
	expectKinds(t, "a == b < c <= d > e >= f",
		token.IDENT, token.EQEQ, token.IDENT, token.LT, token.IDENT,
		token.LTE, token.IDENT, token.GT, token.IDENT, token.GTE, token.IDENT)
	expectKinds(t, "a << b >> c | d & e",
		token.IDENT, token.LSHIFT, token.IDENT, token.RSHIFT, token.IDENT,
		token.PIPE, token.IDENT, token.AMP, token.IDENT)
	expectKinds(t, "a .. b", token.IDENT, token.DOTDOT, token.IDENT)
	expectKinds(t, "x = 1", token.IDENT, token.ASSIGN, token.NUMBER)
	expectKinds(t, "=> 1", token.FATARROW, token.NUMBER)
	expectKinds(t, "a |> b", token.IDENT, token.PIPEGT, token.IDENT)
}

func TestKeywords(t *testing.T) {
	expectKinds(t, "do end def return yield loop until break and or not then else",
		token.DO, token.END, token.DEF, token.RETURN, token.YIELD, token.LOOP,
		token.UNTIL, token.BREAK, token.AND, token.OR, token.NOT, token.THEN,
		token.ELSE)
	// Keyword prefixes stay identifiers.
	expectKinds(t, "door ended definition", token.IDENT, token.IDENT, token.IDENT)
}

func TestNumbers(t *testing.T) {
	toks := New("", "3.14").Tokenize()
	if toks[0].Kind != token.NUMBER || toks[0].Literal != "3.14" {
		t.Fatalf("got %v %q", toks[0].Kind, toks[0].Literal)
	}
	// '..' after a number is the concat operator, not a fraction.
	expectKinds(t, "1..2", token.NUMBER, token.DOTDOT, token.NUMBER)
}

func TestSigilsAndMessages(t *testing.T) {
	toks := New("", ".ok :push :+").Tokenize()
	if toks[0].Kind != token.SIGIL || toks[0].Literal != "ok" {
		t.Fatalf("sigil: %v %q", toks[0].Kind, toks[0].Literal)
	}
	if toks[1].Kind != token.MESSAGE || toks[1].Literal != "push" {
		t.Fatalf("message: %v %q", toks[1].Kind, toks[1].Literal)
	}
	if toks[2].Kind != token.MESSAGE || toks[2].Literal != "+" {
		t.Fatalf("operator message: %v %q", toks[2].Kind, toks[2].Literal)
	}
}

func TestSingleQuotedString(t *testing.T) {
	toks := New("", `'hi, world'`).Tokenize()
	if toks[0].Kind != token.STRING || toks[0].Literal != "hi, world" {
		t.Fatalf("got %v %q", toks[0].Kind, toks[0].Literal)
	}
	toks = New("", `'a\nb'`).Tokenize()
	if toks[0].Literal != "a\nb" {
		t.Fatalf("escape not decoded: %q", toks[0].Literal)
	}
	toks = New("", "'open").Tokenize()
	if toks[0].Kind != token.ERROR {
		t.Fatal("unterminated string must be an error token")
	}
}

func TestPlainDoubleQuotedString(t *testing.T) {
	toks := New("", `"hello"`).Tokenize()
	if toks[0].Kind != token.STRING || toks[0].Literal != "hello" {
		t.Fatalf("got %v %q", toks[0].Kind, toks[0].Literal)
	}
}

func TestInterpolation(t *testing.T) {
	toks := New("", `"a{x}b{y}c"`).Tokenize()
	want := []struct {
		kind token.Kind
		lit  string
	}{
		{token.INTERP_BEGIN, "a"},
		{token.IDENT, "x"},
		{token.INTERP_MIDDLE, "b"},
		{token.IDENT, "y"},
		{token.INTERP_END, "c"},
		{token.EOF, ""},
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens; want %d", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i].Kind != w.kind || toks[i].Literal != w.lit {
			t.Fatalf("token %d = %v %q; want %v %q", i, toks[i].Kind, toks[i].Literal, w.kind, w.lit)
		}
	}
}

func TestInterpolationWithNestedBraces(t *testing.T) {
	// A tuple literal inside a hole must not terminate the hole early.
	expectKinds(t, `"n={ {1} }!"`,
		token.INTERP_BEGIN, token.LBRACE, token.NUMBER, token.RBRACE,
		token.INTERP_END)
}

func TestNewlinesAndComments(t *testing.T) {
	expectKinds(t, "a\nb", token.IDENT, token.NEWLINE, token.IDENT)
	expectKinds(t, "a # trailing\nb", token.IDENT, token.NEWLINE, token.IDENT)
	expectKinds(t, "# only a comment")
}

func TestPositions(t *testing.T) {
	toks := New("t.gab", "a\n  b").Tokenize()
	if toks[0].Pos.Line != 1 || toks[0].Pos.Column != 1 {
		t.Fatalf("a at %v", toks[0].Pos)
	}
	if toks[2].Pos.Line != 2 || toks[2].Pos.Column != 3 {
		t.Fatalf("b at %v", toks[2].Pos)
	}
}

func TestErrorToken(t *testing.T) {
	toks := New("", "@").Tokenize()
	if toks[0].Kind != token.ERROR {
		t.Fatalf("got %v; want ERROR", toks[0].Kind)
	}
}
