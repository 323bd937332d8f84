// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/log"
)

// moduleSuffixes are tried against every prefix when resolving an import.
var moduleSuffixes = []string{".gab", "/mod.gab"}

// importTable resolves import names to loaded modules, caching successes
// under their resolved path and collapsing concurrent loads of the same
// module into one.
type importTable struct {
	e *Engine

	mu       sync.Mutex
	builtins map[string]ModuleFn

	cache  *lru.Cache
	flight singleflight.Group
}

func newImportTable(e *Engine) *importTable {
	cache, _ := lru.New(128)
	return &importTable{
		e:        e,
		builtins: make(map[string]ModuleFn),
		cache:    cache,
	}
}

// RegisterModule installs a native module under name; imports of that name
// call fn instead of searching the filesystem. This is the Go analogue of a
// shared object exposing gab_lib.
func (e *Engine) RegisterModule(name string, fn ModuleFn) {
	e.imports.mu.Lock()
	e.imports.builtins[name] = fn
	e.imports.mu.Unlock()
}

// Import resolves and loads the module named name, returning the values its
// top level produced. A module loads once; later imports observe the cached
// results.
func (e *Engine) Import(name string) ([]value.Value, error) {
	t := e.imports

	t.mu.Lock()
	builtin, isBuiltin := t.builtins[name]
	t.mu.Unlock()

	key := name
	if !isBuiltin {
		path, err := t.resolve(name)
		if err != nil {
			return nil, err
		}
		key = path
	}

	if cached, ok := t.cache.Get(key); ok {
		return cached.([]value.Value), nil
	}

	results, err, _ := t.flight.Do(key, func() (interface{}, error) {
		if cached, ok := t.cache.Get(key); ok {
			return cached.([]value.Value), nil
		}
		var (
			vals []value.Value
			err  error
		)
		if isBuiltin {
			vals, err = builtin(e)
		} else {
			vals, err = t.loadFile(name, key)
		}
		if err != nil {
			return nil, err
		}
		e.Keep(vals...)
		t.cache.Add(key, vals)
		log.Debug("Module loaded", "name", name, "values", len(vals))
		return vals, nil
	})
	if err != nil {
		return nil, err
	}
	return results.([]value.Value), nil
}

// resolve searches every prefix/suffix pair for an existing file.
func (t *importTable) resolve(name string) (string, error) {
	for _, prefix := range t.e.opts.Paths {
		for _, suffix := range moduleSuffixes {
			candidate := filepath.Join(prefix, name+suffix)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("engine: module %q not found in %v", name, t.e.opts.Paths)
}

// loadFile compiles and runs a module source file.
func (t *importTable) loadFile(name, path string) ([]value.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return t.e.Exec(name, string(src), 0)
}
