// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package hamt implements the persistent hash-array-mapped trie backing the
// Gab map primitive.
//
// A map is a root object carrying the entry count; interior nodes hold two
// 32-bit bitmaps: mask records which of the 32 child slots are occupied,
// vmask which occupied slots are leaf key/value pairs rather than branch
// sub-nodes. Slots are stored densely in mask order, leaves occupying two
// consecutive entries. Five hash bits select the slot per level, so depth is
// bounded by 64/5; insert and delete copy only the nodes on the path to the
// affected slot.
package hamt

import (
	"hash/fnv"
	"math/bits"

	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
)

const (
	bitsPerLevel = 5
	fanout       = 1 << bitsPerLevel
	levelMask    = fanout - 1
	// maxShift is where the hash runs out; nodes there degrade to linear
	// collision nodes holding only leaves.
	maxShift = 60
)

// Map is the root of a persistent map value.
type Map struct {
	object.Header
	Len  uint64
	Root value.Value // a Node, or undefined when empty
}

func (m *Map) Kind() value.Kind { return value.KindMap }

func (m *Map) EachChild(fn func(value.Value)) {
	if !m.Root.IsUndefined() {
		fn(m.Root)
	}
}

// Node is an interior HAMT node.
type Node struct {
	object.Header
	Mask  uint32
	VMask uint32
	Slots []value.Value
}

func (n *Node) Kind() value.Kind { return value.KindMapNode }

func (n *Node) EachChild(fn func(value.Value)) {
	for _, v := range n.Slots {
		fn(v)
	}
}

// hashKey folds a value into the 64-bit hash the trie consumes five bits at
// a time. Interning makes the raw word a stable identity for strings and
// sigils.
func hashKey(k value.Value) uint64 {
	f := fnv.New64a()
	var word [8]byte
	for i := 0; i < 8; i++ {
		word[i] = byte(uint64(k) >> (8 * i))
	}
	f.Write(word[:])
	return f.Sum64()
}

// NewMap allocates an empty map.
func NewMap(h *object.Heap) value.Value {
	return h.Alloc(&Map{Root: value.Undefined})
}

// Len returns the number of entries.
func Len(h *object.Heap, m value.Value) uint64 {
	return h.Get(m).(*Map).Len
}

// At returns the value stored under k, or undefined.
func At(h *object.Heap, m, k value.Value) value.Value {
	root := h.Get(m).(*Map).Root
	if root.IsUndefined() {
		return value.Undefined
	}
	hash := hashKey(k)
	node := h.Get(root).(*Node)
	for shift := 0; ; shift += bitsPerLevel {
		if shift >= maxShift {
			return collisionAt(node, k)
		}
		idx := uint32(hash>>shift) & levelMask
		bit := uint32(1) << idx
		if node.Mask&bit == 0 {
			return value.Undefined
		}
		off := node.offset(bit)
		if node.VMask&bit != 0 {
			if node.Slots[off] == k {
				return node.Slots[off+1]
			}
			return value.Undefined
		}
		node = h.Get(node.Slots[off]).(*Node)
	}
}

// Put returns a map with k bound to v; m is unchanged.
func Put(h *object.Heap, m, k, v value.Value) value.Value {
	root := h.Get(m).(*Map)
	var newRoot value.Value
	var added bool
	if root.Root.IsUndefined() {
		n := &Node{}
		n.insertLeaf(hashKey(k), 0, k, v)
		newRoot = h.Alloc(n)
		added = true
	} else {
		newRoot, added = putNode(h, root.Root, 0, hashKey(k), k, v)
	}
	out := &Map{Len: root.Len, Root: newRoot}
	if added {
		out.Len++
	}
	return h.Alloc(out)
}

// Del returns a map without k; m is unchanged. Deleting an absent key
// returns a structurally equal map.
func Del(h *object.Heap, m, k value.Value) value.Value {
	root := h.Get(m).(*Map)
	if root.Root.IsUndefined() {
		return h.Alloc(&Map{Len: root.Len, Root: root.Root})
	}
	newRoot, removed := delNode(h, root.Root, 0, hashKey(k), k)
	out := &Map{Len: root.Len, Root: newRoot}
	if removed {
		out.Len--
	}
	return h.Alloc(out)
}

// Each visits every key/value pair.
func Each(h *object.Heap, m value.Value, fn func(k, v value.Value)) {
	root := h.Get(m).(*Map).Root
	if root.IsUndefined() {
		return
	}
	eachNode(h, root, fn)
}

func eachNode(h *object.Heap, nv value.Value, fn func(k, v value.Value)) {
	n := h.Get(nv).(*Node)
	off := 0
	for idx := 0; idx < fanout; idx++ {
		bit := uint32(1) << idx
		if n.Mask&bit == 0 {
			continue
		}
		if n.VMask&bit != 0 {
			fn(n.Slots[off], n.Slots[off+1])
			off += 2
		} else {
			eachNode(h, n.Slots[off], fn)
			off++
		}
	}
	// Collision nodes carry no mask bits; their slots are leaf pairs.
	if n.Mask == 0 {
		for i := 0; i+1 < len(n.Slots); i += 2 {
			fn(n.Slots[i], n.Slots[i+1])
		}
	}
}

// offset returns the dense slot offset of bit: leaves below it occupy two
// entries, branches one.
func (n *Node) offset(bit uint32) int {
	below := bit - 1
	leaves := bits.OnesCount32(n.Mask & n.VMask & below)
	branches := bits.OnesCount32(n.Mask &^ n.VMask & below)
	return 2*leaves + branches
}

// insertLeaf adds a leaf pair for hash at shift into an under-construction
// node.
func (n *Node) insertLeaf(hash uint64, shift int, k, v value.Value) {
	idx := uint32(hash>>shift) & levelMask
	bit := uint32(1) << idx
	off := n.offset(bit)
	n.Slots = append(n.Slots, value.Undefined, value.Undefined)
	copy(n.Slots[off+2:], n.Slots[off:])
	n.Slots[off] = k
	n.Slots[off+1] = v
	n.Mask |= bit
	n.VMask |= bit
}

func collisionAt(n *Node, k value.Value) value.Value {
	for i := 0; i+1 < len(n.Slots); i += 2 {
		if n.Slots[i] == k {
			return n.Slots[i+1]
		}
	}
	return value.Undefined
}

// clone copies a node for path copying.
func (n *Node) clone() *Node {
	return &Node{
		Mask:  n.Mask,
		VMask: n.VMask,
		Slots: append([]value.Value(nil), n.Slots...),
	}
}

func putNode(h *object.Heap, nv value.Value, shift int, hash uint64, k, v value.Value) (value.Value, bool) {
	n := h.Get(nv).(*Node)

	if shift >= maxShift {
		out := n.clone()
		for i := 0; i+1 < len(out.Slots); i += 2 {
			if out.Slots[i] == k {
				out.Slots[i+1] = v
				return h.Alloc(out), false
			}
		}
		out.Slots = append(out.Slots, k, v)
		return h.Alloc(out), true
	}

	idx := uint32(hash>>shift) & levelMask
	bit := uint32(1) << idx
	off := n.offset(bit)

	if n.Mask&bit == 0 {
		out := n.clone()
		out.insertLeaf(hash, shift, k, v)
		return h.Alloc(out), true
	}

	if n.VMask&bit != 0 {
		// Occupied by a leaf.
		if n.Slots[off] == k {
			out := n.clone()
			out.Slots[off+1] = v
			return h.Alloc(out), false
		}
		// Collision at this level: push both leaves one level down.
		sub := &Node{}
		oldK, oldV := n.Slots[off], n.Slots[off+1]
		if shift+bitsPerLevel >= maxShift {
			sub.Slots = append(sub.Slots, oldK, oldV, k, v)
		} else {
			sub.insertLeaf(hashKey(oldK), shift+bitsPerLevel, oldK, oldV)
			subV, _ := putNode(h, h.Alloc(sub), shift+bitsPerLevel, hash, k, v)
			out := n.clone()
			out.Slots = append(out.Slots[:off], append([]value.Value{subV}, out.Slots[off+2:]...)...)
			out.VMask &^= bit
			return h.Alloc(out), true
		}
		subV := h.Alloc(sub)
		out := n.clone()
		out.Slots = append(out.Slots[:off], append([]value.Value{subV}, out.Slots[off+2:]...)...)
		out.VMask &^= bit
		return h.Alloc(out), true
	}

	// Occupied by a branch: recurse with path copy.
	subV, added := putNode(h, n.Slots[off], shift+bitsPerLevel, hash, k, v)
	out := n.clone()
	out.Slots[off] = subV
	return h.Alloc(out), added
}

func delNode(h *object.Heap, nv value.Value, shift int, hash uint64, k value.Value) (value.Value, bool) {
	n := h.Get(nv).(*Node)

	if shift >= maxShift {
		for i := 0; i+1 < len(n.Slots); i += 2 {
			if n.Slots[i] == k {
				out := n.clone()
				out.Slots = append(out.Slots[:i], out.Slots[i+2:]...)
				return h.Alloc(out), true
			}
		}
		return nv, false
	}

	idx := uint32(hash>>shift) & levelMask
	bit := uint32(1) << idx
	if n.Mask&bit == 0 {
		return nv, false
	}
	off := n.offset(bit)

	if n.VMask&bit != 0 {
		if n.Slots[off] != k {
			return nv, false
		}
		out := n.clone()
		out.Slots = append(out.Slots[:off], out.Slots[off+2:]...)
		out.Mask &^= bit
		out.VMask &^= bit
		return h.Alloc(out), true
	}

	subV, removed := delNode(h, n.Slots[off], shift+bitsPerLevel, hash, k)
	if !removed {
		return nv, false
	}
	out := n.clone()
	out.Slots[off] = subV
	return h.Alloc(out), true
}
