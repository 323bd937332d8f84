// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package value

import (
	"math"
	"testing"
)

func TestNumberRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 3.14, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)}
	for _, f := range cases {
		v := Number(f)
		if !v.IsNumber() {
			t.Errorf("Number(%v) is not a number", f)
		}
		if got := v.Float(); got != f {
			t.Errorf("Number(%v).Float() = %v", f, got)
		}
		if v.IsObj() || v.IsShortString() || v.IsSigil() || v.IsPrimitive() {
			t.Errorf("Number(%v) matched a non-number predicate", f)
		}
	}
}

func TestNaNStaysBelowTheBox(t *testing.T) {
	// The canonical Go NaN (0x7ff8...) does not set the second-highest
	// mantissa bit, so it stays a plain number and never aliases a boxed
	// immediate or heap reference.
	v := Number(math.NaN())
	if !v.IsNumber() {
		t.Fatal("NaN must remain a number")
	}
	if v.IsObj() || v.IsShortString() || v.IsSigil() || v.IsPrimitive() {
		t.Fatal("NaN must not alias a boxed value")
	}
}

func TestObjRoundTrip(t *testing.T) {
	for _, h := range []uint64{0, 1, 42, 1 << 20, (1 << 48) - 1} {
		v := Obj(h)
		if !v.IsObj() {
			t.Fatalf("Obj(%d) is not an object value", h)
		}
		if v.IsNumber() {
			t.Fatalf("Obj(%d) decodes as number", h)
		}
		if got := v.Handle(); got != h {
			t.Fatalf("Obj(%d).Handle() = %d", h, got)
		}
	}
}

func TestShortStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "ab", "abcde"} {
		v, ok := ShortString(s)
		if !ok {
			t.Fatalf("ShortString(%q) did not fit", s)
		}
		if !v.IsShortString() {
			t.Fatalf("ShortString(%q) predicate failed", s)
		}
		if got := string(v.ShortBytes()); got != s {
			t.Fatalf("ShortBytes = %q; want %q", got, s)
		}
	}
	if _, ok := ShortString("toolong"); ok {
		t.Fatal("six-byte string must not inline")
	}
}

func TestShortStringIdentity(t *testing.T) {
	a, _ := ShortString("ok")
	b, _ := ShortString("ok")
	if a != b {
		t.Fatal("identical short strings must be bitwise equal")
	}
}

func TestSigilStringBitFlip(t *testing.T) {
	s, _ := ShortString("true")
	g, _ := Sigil("true")
	if s == g {
		t.Fatal("string and sigil with same bytes must differ")
	}
	if s.StrToSig() != g {
		t.Fatal("StrToSig must produce the sigil twin")
	}
	if g.SigToStr() != s {
		t.Fatal("SigToStr must produce the string twin")
	}
	if g.SigToStr().StrToSig() != g {
		t.Fatal("round trip must be the identity")
	}
	if string(g.ShortBytes()) != "true" {
		t.Fatal("sigil bytes must survive the flip")
	}
}

func TestConstants(t *testing.T) {
	if tr, _ := Sigil("true"); tr != True {
		t.Fatal("True must be the true sigil")
	}
	if Nil == False || Nil == True || True == False {
		t.Fatal("constants must be distinct")
	}
	if !Nil.IsSigil() || !True.IsSigil() || !False.IsSigil() {
		t.Fatal("constants must be sigils")
	}
	if Undefined.IsSigil() || Undefined.IsNumber() || Undefined.IsObj() {
		t.Fatal("undefined must be its own sentinel")
	}
}

func TestTruthiness(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{True, true},
		{False, false},
		{Nil, false},
		{Undefined, false},
		{Number(0), true},
		{Number(1), true},
		{Ok, true},
		{Obj(7), true},
	}
	for _, tc := range cases {
		if got := tc.v.Truthy(); got != tc.want {
			t.Errorf("Truthy(%#x) = %v; want %v", uint64(tc.v), got, tc.want)
		}
	}
}

func TestPrimitive(t *testing.T) {
	v := Primitive(0x2a)
	if !v.IsPrimitive() {
		t.Fatal("primitive predicate failed")
	}
	if v.PrimitiveOp() != 0x2a {
		t.Fatalf("PrimitiveOp = %#x", v.PrimitiveOp())
	}
}

func TestImmediateKind(t *testing.T) {
	cases := []struct {
		v    Value
		want Kind
	}{
		{Number(1.5), KindNumber},
		{must(ShortString("hi")), KindString},
		{Nil, KindSigil},
		{Primitive(1), KindPrimitive},
		{Undefined, KindUndefined},
	}
	for _, tc := range cases {
		if got := tc.v.ImmediateKind(); got != tc.want {
			t.Errorf("ImmediateKind(%#x) = %v; want %v", uint64(tc.v), got, tc.want)
		}
	}
}

func must(v Value, ok bool) Value {
	if !ok {
		panic("must")
	}
	return v
}
