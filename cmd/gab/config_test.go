// Copyright 2024 The go-gab Authors
// This file is part of go-gab.
//
// go-gab is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/urfave/cli.v1"
)

func contextWith(t *testing.T, configPath string, jobs int) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("config", configPath, "")
	set.Int("jobs", jobs, "")
	return cli.NewContext(nil, set, nil)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gab.toml")
	content := "Jobs = 4\nPaths = [\"./mod/\", \"/opt/gab/\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := loadConfig(contextWith(t, path, 0))
	if cfg.Jobs != 4 {
		t.Fatalf("Jobs = %d; want 4", cfg.Jobs)
	}
	if len(cfg.Paths) != 2 || cfg.Paths[0] != "./mod/" {
		t.Fatalf("Paths = %v", cfg.Paths)
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gab.toml")
	if err := os.WriteFile(path, []byte("Jobs = 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := loadConfig(contextWith(t, path, 12))
	if cfg.Jobs != 12 {
		t.Fatalf("Jobs = %d; want the flag to win", cfg.Jobs)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg := loadConfig(contextWith(t, "", 0))
	if cfg.Jobs != 0 || cfg.Paths != nil {
		t.Fatalf("empty context must yield a zero config, got %+v", cfg)
	}
}
