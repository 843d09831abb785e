package cli

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitKeysFileCreatesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")

	first, err := InitKeysFile(path, "ingest")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if first == "" {
		t.Fatal("expected a generated key")
	}

	second, err := InitKeysFile(path, "ingest")
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if second == first {
		t.Fatal("keys must be unique")
	}
	admin, err := InitKeysFile(path, "admin")
	if err != nil {
		t.Fatalf("admin init: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read keys file: %v", err)
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse keys file: %v", err)
	}
	if got := len(cfg.Scopes["ingest"].Keys); got != 2 {
		t.Fatalf("expected 2 ingest keys, got %d", got)
	}
	if got := cfg.Scopes["admin"].Keys; len(got) != 1 || got[0] != admin {
		t.Fatalf("unexpected admin keys: %v", got)
	}
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil || !*cfg.DefaultPolicy.AllowLocalhostWithoutAuth {
		t.Fatal("localhost policy should default to true")
	}
}

func TestInitKeysFileValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	if _, err := InitKeysFile(path, "root"); err == nil {
		t.Fatal("expected error for unknown scope")
	}
	if _, err := InitKeysFile("", "ingest"); err == nil {
		t.Fatal("expected error for empty path")
	}
}
