package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "weft.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[runtime]
threads = 4
units = 2

[log]
level = "debug"

[trace]
timings = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.Threads != 4 || cfg.Runtime.Units != 2 {
		t.Fatalf("runtime section mismatch: %+v", cfg.Runtime)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level mismatch: %q", cfg.Log.Level)
	}
	if !cfg.Trace.Timings {
		t.Fatalf("trace.timings should be true")
	}
}

func TestLoadRejectsNegativeThreads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[runtime]\nthreads = -1\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for negative threads")
	}
}

func TestFindWalksUpward(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[runtime]\nunits = 3\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	path, ok, err := Find(nested)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatalf("expected to find weft.toml above %s", nested)
	}
	if path != filepath.Join(root, "weft.toml") {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}
