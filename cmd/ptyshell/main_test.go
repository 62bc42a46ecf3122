package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/postalsys/ptyshell/internal/logging"
	"github.com/postalsys/ptyshell/internal/shell"
)

func TestExitStatus(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{0, 0},
		{1, 1},
		{127, 127},
		{-2, 130},  // SIGINT
		{-9, 137},  // SIGKILL
		{-15, 143}, // SIGTERM
		{300, 1},
	}

	for _, tc := range tests {
		if got := exitStatus(tc.code); got != tc.want {
			t.Errorf("exitStatus(%d) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestExecutorStats(t *testing.T) {
	cfg := shell.DefaultConfig()
	cfg.MaxSessions = 3
	exec := shell.NewExecutor(cfg, logging.NopLogger())
	stats := &executorStats{exec: exec}

	if !stats.IsRunning() {
		t.Error("IsRunning() = false")
	}
	if err := exec.AcquireSession(); err != nil {
		t.Fatalf("AcquireSession failed: %v", err)
	}
	defer exec.ReleaseSession()

	s := stats.Stats()
	if s.ActiveSessions != 1 || s.MaxSessions != 3 || s.Shell != cfg.Shell {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLoadDefaults(t *testing.T) {
	opts := &globalOptions{logLevel: "debug"}
	env, err := opts.load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if env.cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", env.cfg.Log.Level)
	}
	if env.logger == nil {
		t.Error("logger is nil")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ptyshell.yaml")
	data := []byte("shell:\n  path: /bin/sh\n  read_chunk_size: 4KiB\nlocale:\n  lang: C.UTF-8\n  disable_stdin: true\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	env, err := (&globalOptions{configPath: path, logFormat: "json"}).load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if env.cfg.Shell.Path != "/bin/sh" {
		t.Errorf("Shell.Path = %q", env.cfg.Shell.Path)
	}
	if env.cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", env.cfg.Log.Format)
	}
	if !env.locale.IsUTF8() {
		t.Errorf("locale %s not UTF-8", env.locale)
	}
	if !env.locale.StdinDisabled {
		t.Error("StdinDisabled = false")
	}
}

func TestLoadInvalidOverride(t *testing.T) {
	if _, err := (&globalOptions{logLevel: "loud"}).load(); err == nil {
		t.Error("load() accepted an invalid log level")
	}
}

func TestLoadMissingFile(t *testing.T) {
	opts := &globalOptions{configPath: filepath.Join(t.TempDir(), "missing.yaml")}
	if _, err := opts.load(); err == nil {
		t.Error("load() succeeded for a missing file")
	}
}
