// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package diagnostic renders source-spanning compile and runtime errors,
// either pretty-printed for terminals or as single machine-readable lines.
package diagnostic

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/gablang/go-gab/lang/token"
)

// Status classifies every error the runtime can raise.
type Status int

const (
	None Status = iota

	// Lex / parse
	MalformedToken
	UnexpectedToken
	UnexpectedEOF
	MissingEnd

	// Compile-time resource limits
	TooManyLocals
	TooManyUpvalues
	TooManyParameters
	TooManyExpressions
	TooManyConstants

	// Compile-time name errors
	ReferenceBeforeInitialize
	UnboundSymbol
	LocalAlreadyExists
	MalformedAssignment
	InvalidRestVariable
	CaptureOfMutable

	// Runtime
	TypeMismatch
	NotNumber
	NotString
	NotCallable
	NotMessage
	Overflow
	ImplementationMissing
	ImplementationExists
	Panic
)

var statusNames = map[Status]string{
	None:                      "NONE",
	MalformedToken:            "MALFORMED_TOKEN",
	UnexpectedToken:           "UNEXPECTED_TOKEN",
	UnexpectedEOF:             "UNEXPECTED_EOF",
	MissingEnd:                "MISSING_END",
	TooManyLocals:             "TOO_MANY_LOCALS",
	TooManyUpvalues:           "TOO_MANY_UPVALUES",
	TooManyParameters:         "TOO_MANY_PARAMETERS",
	TooManyExpressions:        "TOO_MANY_EXPRESSIONS",
	TooManyConstants:          "TOO_MANY_CONSTANTS",
	ReferenceBeforeInitialize: "REFERENCE_BEFORE_INITIALIZE",
	UnboundSymbol:             "UNBOUND_SYMBOL",
	LocalAlreadyExists:        "LOCAL_ALREADY_EXISTS",
	MalformedAssignment:       "MALFORMED_ASSIGNMENT",
	InvalidRestVariable:       "INVALID_REST_VARIABLE",
	CaptureOfMutable:          "CAPTURE_OF_MUTABLE",
	TypeMismatch:              "TYPE_MISMATCH",
	NotNumber:                 "NOT_NUMBER",
	NotString:                 "NOT_STRING",
	NotCallable:               "NOT_CALLABLE",
	NotMessage:                "NOT_MESSAGE",
	Overflow:                  "OVERFLOW",
	ImplementationMissing:     "IMPLEMENTATION_MISSING",
	ImplementationExists:      "IMPLEMENTATION_EXISTS",
	Panic:                     "PANIC",
}

// String returns the status name as it appears in diagnostics.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Error is a source-spanning diagnostic. It implements error so it can flow
// through ordinary Go error returns inside the runtime.
type Error struct {
	Status Status
	Module string
	Tok    token.Token
	Note   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s at %s: %s", e.Module, e.Status, e.Tok.Pos, e.Note)
}

// Sprintf expands each '$' in format with the next of vals. Values are
// rendered (and kind-colored) by the caller before they get here.
func Sprintf(format string, vals ...string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '$' && n < len(vals) {
			b.WriteString(vals[n])
			n++
			continue
		}
		b.WriteByte(format[i])
	}
	return b.String()
}

// Pretty writes the terminal form: a header, the offending source line, a
// caret run under the token, and the contextual note.
func (e *Error) Pretty(w io.Writer, lines []string, colorize bool) {
	red := color.New(color.FgRed, color.Bold)
	dim := color.New(color.Faint)
	if !colorize {
		red.DisableColor()
		dim.DisableColor()
	}

	fmt.Fprintf(w, "[%s] panicked near line %d: %s\n",
		e.Module, e.Tok.Pos.Line, red.Sprint(e.Status))

	line := ""
	if e.Tok.Pos.Line >= 1 && e.Tok.Pos.Line <= len(lines) {
		line = lines[e.Tok.Pos.Line-1]
	}
	fmt.Fprintf(w, "\n  %s %s\n", dim.Sprintf("%4d|", e.Tok.Pos.Line), line)

	width := len(e.Tok.Literal)
	if width < 1 {
		width = 1
	}
	pad := strings.Repeat(" ", 7+max(0, e.Tok.Pos.Column-1))
	fmt.Fprintf(w, "%s%s\n\n", pad, red.Sprint(strings.Repeat("^", width)))

	if e.Note != "" {
		fmt.Fprintf(w, "%s\n", e.Note)
	}
}

// Structured writes the machine-parseable single-line form:
// status:src:token:msg:line:col_start:col_end:src_start:src_end.
func (e *Error) Structured() string {
	colStart := e.Tok.Pos.Column
	colEnd := colStart + len(e.Tok.Literal)
	srcStart := e.Tok.Pos.Offset
	srcEnd := srcStart + len(e.Tok.Literal)
	note := strings.ReplaceAll(e.Note, "\n", " ")
	return fmt.Sprintf("%s:%s:%s:%s:%d:%d:%d:%d:%d",
		e.Status, e.Module, e.Tok.Literal, note,
		e.Tok.Pos.Line, colStart, colEnd, srcStart, srcEnd)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
