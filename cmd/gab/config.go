// Copyright 2024 The go-gab Authors
// This file is part of go-gab.
//
// go-gab is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/gablang/go-gab/core/value"
	"github.com/gablang/go-gab/core/vm"
	"github.com/gablang/go-gab/engine"
	"github.com/gablang/go-gab/log"
)

// gabConfig is the TOML configuration surface.
type gabConfig struct {
	// Jobs is the worker thread count.
	Jobs int
	// Paths are the module import prefixes, highest priority first.
	Paths []string
}

// These settings ensure that TOML keys use the same names as Go struct
// fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// loadConfig merges the config file (when given) under the command flags.
func loadConfig(ctx *cli.Context) gabConfig {
	var cfg gabConfig

	if path := ctx.String(configFileFlag.Name); path != "" {
		f, err := os.Open(path)
		if err != nil {
			log.Crit("Failed to read config file", "path", path, "err", err)
		}
		defer f.Close()
		if err := tomlSettings.NewDecoder(f).Decode(&cfg); err != nil {
			log.Crit("Invalid config file", "path", path, "err", err)
		}
	}

	if jobs := ctx.Int(jobsFlag.Name); jobs > 0 {
		cfg.Jobs = jobs
	}
	return cfg
}

// printResults writes top-level results the way the REPL does.
func printResults(e *engine.Engine, results []value.Value) {
	machine := vm.New(e.Heap(), e.GC())
	for _, r := range results {
		fmt.Println(machine.Inspect(r))
	}
}
