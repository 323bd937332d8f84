// Copyright 2024 The go-gab Authors
// This file is part of go-gab.
//
// go-gab is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// gab is the command-line front end of the Gab language runtime.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/gablang/go-gab/engine"
	"github.com/gablang/go-gab/log"
)

var (
	dumpFlag = cli.BoolFlag{
		Name:  "dump, d",
		Usage: "Dump compiled bytecode before running",
	}
	quietFlag = cli.BoolFlag{
		Name:  "quiet, q",
		Usage: "Suppress error output",
	}
	sterrFlag = cli.BoolFlag{
		Name:  "sterr, s",
		Usage: "Emit machine-readable structured errors",
	}
	checkFlag = cli.BoolFlag{
		Name:  "check, c",
		Usage: "Compile only; do not execute",
	}
	jobsFlag = cli.IntFlag{
		Name:  "jobs",
		Usage: "Number of worker threads",
	}
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit .. 5=trace",
		Value: 3,
	}
)

var commonFlags = []cli.Flag{
	dumpFlag, quietFlag, sterrFlag, checkFlag, jobsFlag, configFileFlag, verbosityFlag,
}

func main() {
	app := cli.NewApp()
	app.Name = "gab"
	app.Usage = "the gab language runtime"
	app.Commands = []cli.Command{
		{
			Action:    runCmd,
			Name:      "run",
			Usage:     "Compile and execute a module at a path",
			ArgsUsage: "<path>",
			Flags:     commonFlags,
		},
		{
			Action:    execCmd,
			Name:      "exec",
			Usage:     "Compile and execute a literal program",
			ArgsUsage: "<program>",
			Flags:     commonFlags,
		},
		{
			Action: replCmd,
			Name:   "repl",
			Usage:  "Start an interactive session",
			Flags:  commonFlags,
		},
	}
	// `gab help` falls out of urfave/cli's built-in help handling.

	app.CommandNotFound = func(ctx *cli.Context, cmd string) {
		fmt.Fprintf(os.Stderr, "gab: unrecognized command %q\n", cmd)
		os.Exit(2)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// makeEngine builds an engine from flags and the optional TOML config file.
func makeEngine(ctx *cli.Context) *engine.Engine {
	log.SetLevel(log.Lvl(ctx.Int(verbosityFlag.Name)))

	cfg := loadConfig(ctx)
	flags := engine.DumpError
	if ctx.Bool("dump") {
		flags |= engine.DumpBytecode
	}
	if ctx.Bool("quiet") {
		flags |= engine.QuietErrors
	}
	if ctx.Bool("sterr") {
		flags |= engine.StructuredErrors
	}
	if ctx.Bool("check") {
		flags |= engine.CheckOnly
	}
	return engine.New(engine.Options{
		Jobs:  cfg.Jobs,
		Flags: flags,
		Paths: cfg.Paths,
	})
}

func runCmd(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("gab run: expected exactly one path", 2)
	}
	path := ctx.Args().First()
	src, err := os.ReadFile(path)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	e := makeEngine(ctx)
	defer e.Destroy()
	if _, err := e.Exec(path, string(src), 0); err != nil {
		return cli.NewExitError("", 1)
	}
	return nil
}

func execCmd(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("gab exec: expected exactly one program string", 2)
	}

	e := makeEngine(ctx)
	defer e.Destroy()
	results, err := e.Exec("exec", ctx.Args().First(), 0)
	if err != nil {
		return cli.NewExitError("", 1)
	}
	printResults(e, results)
	return nil
}

func replCmd(ctx *cli.Context) error {
	e := makeEngine(ctx)
	defer e.Destroy()
	return e.Repl(engine.ReplOpts{})
}
