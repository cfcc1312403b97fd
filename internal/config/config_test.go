/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIMIR_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("MIMIR_DB_BACKEND", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.HTTPPort != 8090 {
		t.Errorf("HTTPPort = %d, want 8090", cfg.HTTPPort)
	}
	if cfg.SweepInterval != 15*time.Second {
		t.Errorf("SweepInterval = %s, want 15s", cfg.SweepInterval)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q, want localhost:6379", cfg.RedisAddr)
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("MIMIR_DB_DSN", "")
	t.Setenv("MIMIR_DB_BACKEND", "sqlite")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for missing DSN")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("MIMIR_DB_DSN", "dsn")
	t.Setenv("MIMIR_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for unknown backend")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mimir.yml")
	content := "base_url: http://radio.example.com\nhttp_port: 9999\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("MIMIR_DB_DSN", "dsn")
	t.Setenv("MIMIR_DB_BACKEND", "sqlite")
	t.Setenv("MIMIR_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BaseURL != "http://radio.example.com" {
		t.Errorf("BaseURL = %q, want overlay value", cfg.BaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("HTTPPort = %d, want 9999 from overlay", cfg.HTTPPort)
	}
}
