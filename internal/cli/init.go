package cli

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Scopes map[string]scopeKeys `yaml:"scopes"`
}

type scopeKeys struct {
	Keys []string `yaml:"keys"`
}

// InitKeysFile appends a fresh API key for the given scope to the keys file,
// creating the file if needed, and returns the new key.
func InitKeysFile(path, scope string) (string, error) {
	path = strings.TrimSpace(path)
	scope = strings.TrimSpace(scope)
	if path == "" {
		return "", fmt.Errorf("keys file path required")
	}
	if scope != "ingest" && scope != "admin" {
		return "", fmt.Errorf("scope must be ingest or admin")
	}

	cfg, err := loadKeysFile(path)
	if err != nil {
		return "", err
	}
	if cfg.Scopes == nil {
		cfg.Scopes = make(map[string]scopeKeys)
	}
	key, err := generateKey()
	if err != nil {
		return "", err
	}
	sk := cfg.Scopes[scope]
	sk.Keys = append(sk.Keys, key)
	cfg.Scopes[scope] = sk
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		val := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &val
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write keys file: %w", err)
	}
	return key, nil
}

func loadKeysFile(path string) (keysFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keysFile{}, nil
		}
		return keysFile{}, fmt.Errorf("read keys file: %w", err)
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return keysFile{}, fmt.Errorf("parse keys file: %w", err)
	}
	return cfg, nil
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
