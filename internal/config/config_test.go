package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SIGN_KEY", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WORKSPACESYNC_ADDR", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DatabaseURL != "in-memory" {
		t.Fatalf("expected in-memory default, got %q", cfg.Storage.DatabaseURL)
	}
	if cfg.Server.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Security.SignKey == "" {
		t.Fatal("expected a generated sign key when none is configured")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  database_url: /from/file\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("DATABASE_URL", "/var/lib/workspacesync")
	t.Setenv("SIGN_KEY", "explicit-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DatabaseURL != "/var/lib/workspacesync" {
		t.Fatalf("expected env override, got %q", cfg.Storage.DatabaseURL)
	}
	if cfg.Security.SignKey != "explicit-key" {
		t.Fatalf("expected explicit sign key, got %q", cfg.Security.SignKey)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err != nil {
		t.Fatalf("expected a missing config file to be tolerated, got %v", err)
	}
}
