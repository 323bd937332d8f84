// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package bytecode

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// Disassemble writes a human-readable listing of the module's bytecode.
// Each row carries the code offset, source line, mnemonic, and operands.
func Disassemble(w io.Writer, m *Module) {
	fmt.Fprintf(w, "module %s (%d bytes, %d constants)\n", m.Name, len(m.Code), len(m.Constants))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"offset", "line", "op", "operands"})
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	lastLine := -1
	for offset := 0; offset < len(m.Code); {
		tok := m.TokenAt(offset)
		line := "."
		if tok.Pos.Line != lastLine {
			line = fmt.Sprintf("%d", tok.Pos.Line)
			lastLine = tok.Pos.Line
		}
		mnemonic, operands := m.Describe(offset)
		table.Append([]string{fmt.Sprintf("%04d", offset), line, mnemonic, operands})
		offset += m.InstrLen(offset)
	}
	table.Render()
}
