package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "tally.keys.yaml"

// Scopes. Ingest keys may propose updates, stash, link and redeem; admin keys
// may additionally set absolute balances.
const (
	ScopeIngest = "ingest"
	ScopeAdmin  = "admin"
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

type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keyToScope                map[string]string
}

func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv("TALLY_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

func LoadKeyringFromEnv() (*Keyring, error) {
	return LoadKeyring(ResolveKeysPath())
}

func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultKeyring(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, err := BootstrapDevKey(path, ScopeAdmin); err != nil {
				return nil, fmt.Errorf("bootstrap dev key: %w", err)
			}
			data, err = os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read keys file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read keys file: %w", err)
		}
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	ring := &Keyring{
		AllowLocalhostWithoutAuth: true,
		keyToScope:                make(map[string]string),
	}
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for scope, keys := range cfg.Scopes {
		if scope != ScopeIngest && scope != ScopeAdmin {
			return nil, fmt.Errorf("unknown scope in keys file: %q", scope)
		}
		for _, key := range keys.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if existing, ok := ring.keyToScope[key]; ok && existing != scope {
				return nil, fmt.Errorf("key reused across scopes: %q", key)
			}
			ring.keyToScope[key] = scope
		}
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, keyToScope: make(map[string]string)}
}

func NewKeyring(allowLocalhost bool, keyToScope map[string]string) *Keyring {
	clone := make(map[string]string, len(keyToScope))
	for k, v := range keyToScope {
		clone[k] = v
	}
	return &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToScope: clone}
}

func (k *Keyring) ScopeForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	scope, ok := k.keyToScope[key]
	return scope, ok
}
