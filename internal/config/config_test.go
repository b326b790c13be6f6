package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentworld/core/internal/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != "" {
		t.Fatalf("expected unconfigured backend, got %q", cfg.Backend)
	}
	if cfg.SQLite.BusyTimeoutMS != 5000 {
		t.Fatalf("expected default busy timeout 5000, got %d", cfg.SQLite.BusyTimeoutMS)
	}
	if cfg.SQLite.DisableWAL || cfg.SQLite.DisableForeignKeys {
		t.Fatal("WAL and foreign keys should default to enabled")
	}
	if cfg.Sweep.IntervalSeconds != 30 {
		t.Fatalf("expected default sweep interval 30, got %d", cfg.Sweep.IntervalSeconds)
	}
}

func TestLoad_ParsesYAMLAndDerivesSQLitePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "backend: sqlite\nroot_path: " + dir + "\nsqlite:\n  busy_timeout_ms: 250\n  disable_wal: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != config.BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.Backend)
	}
	if cfg.SQLite.Path != filepath.Join(dir, "agentworld.db") {
		t.Fatalf("unexpected sqlite path %q", cfg.SQLite.Path)
	}
	if cfg.SQLite.BusyTimeoutMS != 250 {
		t.Fatalf("expected busy timeout 250, got %d", cfg.SQLite.BusyTimeoutMS)
	}
	if !cfg.SQLite.DisableWAL {
		t.Fatal("expected WAL disabled")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("backend: file\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AGENTWORLD_BACKEND", "memory")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != config.BackendMemory {
		t.Fatalf("expected env override to memory, got %q", cfg.Backend)
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("backend: redis\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestKey_DistinguishesBackendInstances(t *testing.T) {
	a := &config.Config{Backend: config.BackendSQLite, SQLite: config.SQLiteConfig{Path: "/tmp/a.db"}}
	b := &config.Config{Backend: config.BackendSQLite, SQLite: config.SQLiteConfig{Path: "/tmp/b.db"}}
	if a.Key() == b.Key() {
		t.Fatal("different sqlite paths must produce different keys")
	}
	m1 := &config.Config{Backend: config.BackendMemory}
	m2 := &config.Config{Backend: config.BackendMemory, RootPath: "/elsewhere"}
	if m1.Key() != m2.Key() {
		t.Fatal("memory backend key should not depend on paths")
	}
}
