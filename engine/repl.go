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
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"

	"github.com/gablang/go-gab/core/vm"
)

// ReplOpts configures the interactive loop.
type ReplOpts struct {
	// Prompt precedes every input line; ResultPrefix precedes every printed
	// result.
	Prompt       string
	ResultPrefix string
	Flags        Flags
}

// Repl runs the interactive read-eval-print loop on the process terminal.
// Each line compiles as its own module; results print with their Inspect
// form.
func (e *Engine) Repl(opts ReplOpts) error {
	if opts.Prompt == "" {
		opts.Prompt = "gab> "
	}
	if opts.ResultPrefix == "" {
		opts.ResultPrefix = "=> "
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(os.TempDir(), ".gab_history")
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	machine := vm.New(e.heap, e.gc)

	for i := 0; ; i++ {
		input, err := line.Prompt(opts.Prompt)
		if err == liner.ErrPromptAborted || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		name := fmt.Sprintf("repl-%d", i)
		results, rerr := e.Exec(name, input, opts.Flags)
		if rerr != nil {
			// Already reported through the flag machinery.
			continue
		}
		for _, r := range results {
			fmt.Fprintf(e.opts.Stdout, "%s%s\n", opts.ResultPrefix, machine.Inspect(r))
		}
	}
}
