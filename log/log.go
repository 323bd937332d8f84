// Copyright 2024 The go-gab Authors
// This file is part of the go-gab library.
//
// The go-gab library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package log provides the engine's structured, leveled logger: messages
// carry alternating key/value context, records are colorized on terminals,
// and debug records capture their call site.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a log severity.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT "
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN "
	case LvlInfo:
		return "INFO "
	case LvlDebug:
		return "DEBUG"
	default:
		return "TRACE"
	}
}

func (l Lvl) colorCode() int {
	switch l {
	case LvlCrit, LvlError:
		return 31 // red
	case LvlWarn:
		return 33 // yellow
	case LvlInfo:
		return 32 // green
	default:
		return 36 // cyan
	}
}

// Logger writes leveled records with key/value context.
type Logger interface {
	// New returns a child logger with ctx prepended to every record.
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type logger struct {
	ctx []interface{}
}

var (
	mu      sync.Mutex
	out     io.Writer = colorable.NewColorableStderr()
	colored           = isatty.IsTerminal(os.Stderr.Fd())
	maxLvl            = LvlInfo
)

// Root returns the process-wide root logger.
func Root() Logger { return &logger{} }

// SetLevel sets the highest level that gets written.
func SetLevel(l Lvl) {
	mu.Lock()
	maxLvl = l
	mu.Unlock()
}

// SetOutput redirects records, disabling color.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	colored = false
	mu.Unlock()
}

// Convenience forms on the root logger.

func Trace(msg string, ctx ...interface{}) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { Root().Crit(msg, ctx...) }

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{ctx: append(append([]interface{}{}, l.ctx...), ctx...)}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	os.Exit(1)
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > maxLvl {
		return
	}

	ts := time.Now().Format("01-02|15:04:05.000")
	lvlStr := lvl.String()
	if colored {
		lvlStr = fmt.Sprintf("\x1b[%dm%s\x1b[0m", lvl.colorCode(), lvlStr)
	}
	fmt.Fprintf(out, "%s[%s] %-40s", lvlStr, ts, msg)

	all := append(append([]interface{}{}, l.ctx...), ctx...)
	if lvl >= LvlDebug {
		all = append(all, "caller", fmt.Sprint(stack.Caller(3)))
	}
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(out, " %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(out)
}
