// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package engine assembles the Gab runtime: the heap, the collector, the
// fiber pool, compilation, execution, module import, and the host API that
// native modules program against.
package engine

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gablang/go-gab/core/gc"
	"github.com/gablang/go-gab/core/object"
	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/core/vm"
	"github.com/gablang/go-gab/internal/diagnostic"
	"github.com/gablang/go-gab/lang/bytecode"
	"github.com/gablang/go-gab/lang/compiler"
	"github.com/gablang/go-gab/log"
	"github.com/gablang/go-gab/sched"
)

// Flags is the engine's diagnostic bitset.
type Flags uint

const (
	DumpBytecode Flags = 1 << iota
	DumpError
	QuietErrors
	StructuredErrors
	ExitOnPanic
	CheckOnly
	StreamInput
)

// Options configures engine creation.
type Options struct {
	// Jobs is the worker thread count; 0 means the default.
	Jobs int
	// Flags is the initial diagnostic bitset.
	Flags Flags
	// Paths are the import prefixes searched by the module resolver.
	Paths []string
	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// ModuleFn is the entry point of a native module, the Go analogue of a
// shared object's gab_lib symbol. It may register specializations and
// return values to hand to the importer.
type ModuleFn func(e *Engine) ([]value.Value, error)

// Engine owns one Gab runtime instance.
type Engine struct {
	heap *object.Heap
	gc   *gc.GC
	pool *sched.Pool

	opts Options
	log  log.Logger

	mu      sync.Mutex
	mods    map[string]*bytecode.Module // compiled modules by name, for diagnostics
	scratch []value.Value

	imports *importTable
}

// New creates an engine, spawning its worker pool and collector thread.
func New(opts Options) *Engine {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Paths == nil {
		opts.Paths = []string{"./mod/", "./", "/usr/local/gab/modules/"}
	}

	heap := object.NewHeap()
	e := &Engine{
		heap: heap,
		gc:   gc.New(heap),
		opts: opts,
		log:  log.Root().New("module", "engine"),
		mods: make(map[string]*bytecode.Module),
	}
	e.imports = newImportTable(e)
	e.pool = sched.NewPool(heap, opts.Jobs, e.runFiber)

	e.installBase()
	e.gc.Start()
	e.pool.Start()
	return e
}

// Destroy shuts the engine down: the pool drains, a final collection runs,
// and the collector stops.
func (e *Engine) Destroy() {
	e.pool.Shutdown()
	e.gc.Collect()
	e.gc.Stop()
}

// Heap exposes the engine heap to embedders and native modules.
func (e *Engine) Heap() *object.Heap { return e.heap }

// GC exposes the collector for lock/unlock and explicit collection.
func (e *Engine) GC() *gc.GC { return e.gc }

// Keep pins values in the engine scratch so natives can hold them across
// collections.
func (e *Engine) Keep(vs ...value.Value) {
	e.gc.Iref(vs...)
	e.mu.Lock()
	e.scratch = append(e.scratch, vs...)
	e.mu.Unlock()
}

// ReleaseScratch unpins everything held by Keep.
func (e *Engine) ReleaseScratch() {
	e.mu.Lock()
	held := e.scratch
	e.scratch = nil
	e.mu.Unlock()
	e.gc.Dref(held...)
}

// ---- Compilation ------------------------------------------------------------

// CompileOpts names a compilation unit.
type CompileOpts struct {
	Name   string
	Source string
	Flags  Flags
}

// Compile turns source into a main block value. On a compile error it
// reports per the flag bitset and returns the undefined sentinel.
func (e *Engine) Compile(opts CompileOpts) (value.Value, error) {
	main, mod, cerr := compiler.Compile(e.heap, opts.Name, opts.Source)
	if cerr != nil {
		e.report(cerr, opts.Flags)
		return value.Undefined, cerr
	}

	e.mu.Lock()
	e.mods[opts.Name] = mod
	e.mu.Unlock()

	// Pin the main block and the constant pool for the module's lifetime.
	e.Keep(main)
	e.Keep(mod.Constants...)

	if opts.Flags&DumpBytecode != 0 || e.opts.Flags&DumpBytecode != 0 {
		bytecode.Disassemble(e.opts.Stdout, mod)
	}
	return main, nil
}

// ---- Execution --------------------------------------------------------------

// RunOpts configures one top-level run.
type RunOpts struct {
	Main  value.Value
	Flags Flags
	Args  []value.Value
}

// Run executes main on a pooled fiber and blocks for its results.
func (e *Engine) Run(opts RunOpts) ([]value.Value, error) {
	fiber := e.pool.Spawn(opts.Main, opts.Args...)
	results := e.pool.Wait(fiber)

	f := e.heap.Get(fiber).(*object.Fiber)
	if f.Err != nil {
		if derr, ok := f.Err.(*diagnostic.Error); ok {
			e.report(derr, opts.Flags)
		}
		return nil, f.Err
	}
	return results, nil
}

// Exec compiles then runs source, the convenience path behind `gab exec`.
func (e *Engine) Exec(name, source string, flags Flags, args ...value.Value) ([]value.Value, error) {
	main, err := e.Compile(CompileOpts{Name: name, Source: source, Flags: flags})
	if err != nil {
		return nil, err
	}
	if flags&CheckOnly != 0 || e.opts.Flags&CheckOnly != 0 {
		return nil, nil
	}
	return e.Run(RunOpts{Main: main, Flags: flags, Args: args})
}

// runFiber is the pool's Runner: one VM per fiber execution.
func (e *Engine) runFiber(f *object.Fiber) {
	machine := vm.New(e.heap, e.gc)
	results, derr := machine.Exec(f.Main, f.Args...)
	if derr != nil {
		f.Err = derr
		f.Finish(nil)
		return
	}
	// Results escape the fiber's stack; pin them until the caller takes
	// ownership.
	e.gc.Iref(results...)
	f.Finish(results)
}

// report renders a diagnostic according to the run and engine flags.
func (e *Engine) report(derr *diagnostic.Error, flags Flags) {
	flags |= e.opts.Flags
	if flags&QuietErrors != 0 {
		return
	}
	if flags&StructuredErrors != 0 {
		fmt.Fprintln(e.opts.Stderr, derr.Structured())
	} else {
		e.mu.Lock()
		mod := e.mods[derr.Module]
		e.mu.Unlock()
		var lines []string
		if mod != nil {
			lines = mod.Lines
		}
		derr.Pretty(e.opts.Stderr, lines, e.opts.Stderr == os.Stderr)
	}
	if flags&ExitOnPanic != 0 {
		os.Exit(1)
	}
}

// ---- Host specialization API ------------------------------------------------

// Spec installs (or replaces) a specialization for message name on the given
// receiver type, bumping the message version so stale send caches
// re-resolve.
func (e *Engine) Spec(name string, receiver value.Value, spec value.Value) {
	msgVal := e.heap.MessageOf(name)
	msg := e.heap.Get(msgVal).(*object.Message)
	msg.Put(receiver, spec)
	e.gc.Iref(receiver, spec)
}

// Native wraps fn as a native value named name.
func (e *Engine) Native(name string, fn object.NativeFn) value.Value {
	return e.heap.Alloc(&object.Native{Name: e.heap.Str(name), Fn: fn})
}

// NSpec installs a native specialization in one step.
func (e *Engine) NSpec(name string, receiver value.Value, fn object.NativeFn) {
	e.Spec(name, receiver, e.Native(name, fn))
}

// KindType returns the type value standing for a whole kind.
func (e *Engine) KindType(k value.Kind) value.Value {
	return e.heap.KindType(k)
}

// installBase wires the primitive specializations every program assumes
// plus the handful of host natives the core exposes.
func (e *Engine) installBase() {
	vm.InstallCore(e.heap)

	str := e.KindType(value.KindString)

	// println writes display forms of its arguments to the engine stdout.
	e.NSpec("println", value.Undefined, func(c object.Caller, args []value.Value) ([]value.Value, error) {
		machine := c.(*vm.VM)
		out := ""
		for i, a := range args {
			if i > 0 {
				out += " "
			}
			out = out + machine.Display(a)
		}
		fmt.Fprintln(e.opts.Stdout, out)
		return []value.Value{value.Nil}, nil
	})

	// panic raises a host error carrying its argument.
	e.NSpec("panic", value.Undefined, func(c object.Caller, args []value.Value) ([]value.Value, error) {
		note := "panicked"
		if len(args) > 1 {
			note = c.(*vm.VM).Display(args[1])
		}
		return nil, c.Panic(note)
	})

	// require resolves and loads the module named by its receiver.
	e.NSpec("require", str, func(c object.Caller, args []value.Value) ([]value.Value, error) {
		name := e.heap.StringOf(args[0])
		return e.Import(name)
	})

	e.log.Debug("Base specializations installed")
}
