// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package hamt

import (
	"fmt"
	"testing"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
)

func TestPutAt(t *testing.T) {
	h := object.NewHeap()
	m := NewMap(h)

	a := h.Str("a")
	b := h.Str("b")

	m1 := Put(h, m, a, value.Number(1))
	m2 := Put(h, m1, b, value.Number(2))

	if got := At(h, m2, a); got != value.Number(1) {
		t.Fatalf("at(a) = %#x; want 1", uint64(got))
	}
	if got := At(h, m2, b); got != value.Number(2) {
		t.Fatalf("at(b) = %#x; want 2", uint64(got))
	}
	if got := Len(h, m2); got != 2 {
		t.Fatalf("len = %d; want 2", got)
	}
}

func TestPutLeavesOriginalUntouched(t *testing.T) {
	h := object.NewHeap()
	m := NewMap(h)
	k := h.Str("key")

	m1 := Put(h, m, k, value.Number(1))
	m2 := Put(h, m1, k, value.Number(2))

	if got := At(h, m1, k); got != value.Number(1) {
		t.Fatal("put must not mutate the source map")
	}
	if got := At(h, m2, k); got != value.Number(2) {
		t.Fatal("replacement must be visible in the new map")
	}
	if Len(h, m1) != 1 || Len(h, m2) != 1 {
		t.Fatal("replacing a key must not change the length")
	}
}

func TestPutPreservesOtherKeys(t *testing.T) {
	h := object.NewHeap()
	m := NewMap(h)

	keys := make([]value.Value, 64)
	for i := range keys {
		keys[i] = h.Str(fmt.Sprintf("key-%d", i))
		m = Put(h, m, keys[i], value.Number(float64(i)))
	}

	probe := h.Str("probe")
	m2 := Put(h, m, probe, value.Number(-1))
	for i, k := range keys {
		if got := At(h, m2, k); got != value.Number(float64(i)) {
			t.Fatalf("key %d disturbed by unrelated put", i)
		}
	}
	if Len(h, m2) != 65 {
		t.Fatalf("len = %d; want 65", Len(h, m2))
	}
}

func TestDel(t *testing.T) {
	h := object.NewHeap()
	m := NewMap(h)

	keys := make([]value.Value, 40)
	for i := range keys {
		keys[i] = h.Str(fmt.Sprintf("k%d", i))
		m = Put(h, m, keys[i], value.Number(float64(i)))
	}

	victim := keys[17]
	m2 := Del(h, m, victim)

	if got := At(h, m2, victim); !got.IsUndefined() {
		t.Fatal("deleted key must be absent")
	}
	if got := At(h, m, victim); got != value.Number(17) {
		t.Fatal("delete must not mutate the source map")
	}
	if Len(h, m2) != 39 {
		t.Fatalf("len = %d; want 39", Len(h, m2))
	}
	for i, k := range keys {
		if i == 17 {
			continue
		}
		if got := At(h, m2, k); got != value.Number(float64(i)) {
			t.Fatalf("key %d disturbed by delete", i)
		}
	}
}

func TestDelAbsentKey(t *testing.T) {
	h := object.NewHeap()
	m := Put(h, NewMap(h), h.Str("present"), value.True)

	m2 := Del(h, m, h.Str("absent"))
	if Len(h, m2) != 1 {
		t.Fatal("deleting an absent key must not change the length")
	}
	if got := At(h, m2, h.Str("present")); got != value.True {
		t.Fatal("deleting an absent key must preserve the domain")
	}
}

func TestLenCountsOnlyNewKeys(t *testing.T) {
	h := object.NewHeap()
	m := NewMap(h)
	k := h.Str("x")

	m1 := Put(h, m, k, value.Number(1))
	if Len(h, m1) != Len(h, m)+1 {
		t.Fatal("inserting a fresh key must grow the map by one")
	}
	m2 := Put(h, m1, k, value.Number(2))
	if Len(h, m2) != Len(h, m1) {
		t.Fatal("overwriting must not grow the map")
	}
}

func TestManyKeys(t *testing.T) {
	h := object.NewHeap()
	m := NewMap(h)

	const n = 2000
	for i := 0; i < n; i++ {
		m = Put(h, m, value.Number(float64(i)), value.Number(float64(i*2)))
	}
	if Len(h, m) != n {
		t.Fatalf("len = %d; want %d", Len(h, m), n)
	}
	for i := 0; i < n; i++ {
		if got := At(h, m, value.Number(float64(i))); got != value.Number(float64(i*2)) {
			t.Fatalf("at(%d) = %v", i, got.Float())
		}
	}

	seen := 0
	Each(h, m, func(k, v value.Value) { seen++ })
	if seen != n {
		t.Fatalf("each visited %d entries; want %d", seen, n)
	}
}
