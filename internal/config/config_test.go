package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.API.BaseURL = "https://api.example.org"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.API.BaseURL != "https://api.example.org" {
		t.Errorf("BaseURL = %q, want https://api.example.org", loaded.API.BaseURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg := LoadOrDefault("/nonexistent/config.toml")
	if cfg.DefaultSession != "main" {
		t.Errorf("DefaultSession = %q, want main", cfg.DefaultSession)
	}
	if cfg.API.TimeoutSeconds != 5 {
		t.Errorf("TimeoutSeconds = %d, want 5", cfg.API.TimeoutSeconds)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SAHASI_API_BASE_URL", "https://override.example.org")
	t.Setenv("SAHASI_API_TIMEOUT_SECONDS", "9")

	cfg := LoadOrDefault("/nonexistent/config.toml")
	if cfg.API.BaseURL != "https://override.example.org" {
		t.Errorf("BaseURL = %q, want env override", cfg.API.BaseURL)
	}
	if cfg.API.TimeoutSeconds != 9 {
		t.Errorf("TimeoutSeconds = %d, want 9", cfg.API.TimeoutSeconds)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("default_session = \"alt\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultSession != "alt" {
		t.Errorf("DefaultSession = %q, want alt", cfg.DefaultSession)
	}
	if cfg.API.BaseURL == "" {
		t.Error("BaseURL should keep its default when the file omits [api]")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
