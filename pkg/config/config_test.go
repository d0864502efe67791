package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sdn.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8090" {
		t.Errorf("expected :8090, got %q", cfg.ListenAddr)
	}
	if cfg.IntrospectionTimeout != 5*time.Second {
		t.Errorf("expected 5s introspection timeout, got %v", cfg.IntrospectionTimeout)
	}
	if cfg.CommandTimeout != 30*time.Second {
		t.Errorf("expected 30s command timeout, got %v", cfg.CommandTimeout)
	}
	if cfg.Execute {
		t.Error("execute should default to false")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
statePath: /tmp/sdn/state.yaml
archiveDir: /tmp/sdn/archive
listenAddr: 127.0.0.1:9000
logLevel: debug
execute: true
commandTimeout: 10s
watchInterval: 1m
archiveGC:
  keepLastN: 3
  dryRun: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StatePath != "/tmp/sdn/state.yaml" || cfg.ArchiveDir != "/tmp/sdn/archive" {
		t.Errorf("unexpected paths %q %q", cfg.StatePath, cfg.ArchiveDir)
	}
	if !cfg.Execute {
		t.Error("expected execute true")
	}
	if cfg.CommandTimeout != 10*time.Second {
		t.Errorf("expected 10s, got %v", cfg.CommandTimeout)
	}
	if cfg.WatchInterval != time.Minute {
		t.Errorf("expected 1m, got %v", cfg.WatchInterval)
	}
	if cfg.ArchiveGC.KeepLastN != 3 || !cfg.ArchiveGC.DryRun {
		t.Errorf("unexpected archive GC config %+v", cfg.ArchiveGC)
	}
	// Unset fields still get defaults.
	if cfg.ArchiveGC.Interval != 30*time.Minute {
		t.Errorf("expected default GC interval, got %v", cfg.ArchiveGC.Interval)
	}
	if cfg.IntrospectionTimeout != 5*time.Second {
		t.Errorf("expected default introspection timeout, got %v", cfg.IntrospectionTimeout)
	}

	lvl, err := cfg.Level()
	if err != nil || lvl != zapcore.DebugLevel {
		t.Errorf("Level() = %v, %v", lvl, err)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := writeConfig(t, "logLevel: chatty\ncommandTimeout: -1s\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "logLevel") || !strings.Contains(err.Error(), "commandTimeout") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPath(t *testing.T) {
	t.Setenv(EnvPath, "/etc/sdn/env.yaml")

	if got := Path("/etc/sdn/flag.yaml"); got != "/etc/sdn/flag.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := Path(""); got != "/etc/sdn/env.yaml" {
		t.Errorf("expected env path, got %q", got)
	}

	t.Setenv(EnvPath, "")
	if got := Path(""); got != "" {
		t.Errorf("expected empty path, got %q", got)
	}
}
