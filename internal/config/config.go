// Package config loads the server's YAML configuration, applies
// environment-variable overrides, and generates a one-time admin
// passphrase when none is configured. Shape and precedence (file, then
// env overrides) follow the teacher's cmd/cie/config.go; the admin
// passphrase generation follows original_source/occilib/Admin.py's
// _generate_passphrase/__init__ ("if passphrase is None, generate one and
// log it once").
package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/occi-cad/occi-server/internal/occierrors"
)

const (
	configVersion        = "1"
	passphraseChars      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	defaultPassphraseLen = 20
)

// Config is the occi-server configuration file, <catalog-root>/occi.yaml by
// convention but loadable from any path via LoadConfig.
type Config struct {
	Version string `yaml:"version"`

	CatalogRoot string `yaml:"catalog_root"`
	CacheRoot   string `yaml:"cache_root"`

	HTTP    HTTPConfig    `yaml:"http"`
	Admin   AdminConfig   `yaml:"admin"`
	Broker  BrokerConfig  `yaml:"broker"`
	Workers WorkersConfig `yaml:"workers"`
}

// HTTPConfig controls the listening address.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// AdminConfig controls the basic-auth admin endpoints (spec §6). An empty
// Passphrase means LoadConfig will generate one at startup and log it once.
type AdminConfig struct {
	Username   string `yaml:"username"`
	Passphrase string `yaml:"passphrase,omitempty"`
}

// BrokerConfig selects and configures the worker broker.
type BrokerConfig struct {
	Kind string `yaml:"kind"` // "embedded" (default) or "external"
	URL  string `yaml:"url,omitempty"`
}

// WorkersConfig controls per-engine embedded worker pool sizes and the
// batch coordinator's concurrency cap.
type WorkersConfig struct {
	CadQueryConcurrency int `yaml:"cadquery_concurrency"`
	ArchiyouConcurrency int `yaml:"archiyou_concurrency"`
	BatchConcurrency    int `yaml:"batch_concurrency"`
}

// Default returns a config with sensible defaults for local/standalone use,
// with environment variables layered on top (mirrors DefaultConfig in the
// teacher's config.go).
func Default() *Config {
	return &Config{
		Version:     configVersion,
		CatalogRoot: getEnv("OCCI_CATALOG_ROOT", "./library"),
		CacheRoot:   getEnv("OCCI_CACHE_ROOT", "./cache"),
		HTTP: HTTPConfig{
			Addr: getEnv("OCCI_HTTP_ADDR", ":8080"),
		},
		Admin: AdminConfig{
			Username:   getEnv("OCCI_ADMIN_USERNAME", "admin"),
			Passphrase: getEnv("OCCI_ADMIN_PASSPHRASE", ""),
		},
		Broker: BrokerConfig{
			Kind: getEnv("OCCI_BROKER_KIND", "embedded"),
			URL:  getEnv("OCCI_BROKER_URL", ""),
		},
		Workers: WorkersConfig{
			CadQueryConcurrency: 4,
			ArchiyouConcurrency: 4,
			BatchConcurrency:    4,
		},
	}
}

// Load reads a YAML config file at path, falling back to Default() values
// for anything the file omits, then applies environment overrides on top.
// An empty path returns Default() unmodified (no file required to run).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, occierrors.Input("cannot read configuration file", fmt.Sprintf("check that %s exists and is readable", path), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, occierrors.Input("invalid configuration file", "fix the YAML syntax error and retry", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating its parent directory if needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return occierrors.Input("cannot encode configuration", "", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return occierrors.Input("cannot create configuration directory", "", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// EnsurePassphrase returns cfg's admin passphrase, generating and logging a
// fresh one if none is configured. log receives the generated passphrase
// exactly once, mirroring Admin.py's "IMPORTANT: PLEASE SUPPLY A STRONG
// PASSPHRASE. NOW WE GENERATED ONE" warning.
func EnsurePassphrase(cfg *Config, log func(passphrase string)) (string, error) {
	if cfg.Admin.Passphrase != "" {
		return cfg.Admin.Passphrase, nil
	}
	generated, err := generatePassphrase(defaultPassphraseLen)
	if err != nil {
		return "", fmt.Errorf("generate admin passphrase: %w", err)
	}
	cfg.Admin.Passphrase = generated
	if log != nil {
		log(generated)
	}
	return generated, nil
}

func generatePassphrase(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = passphraseChars[int(b)%len(passphraseChars)]
	}
	return string(out), nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.CatalogRoot = getEnv("OCCI_CATALOG_ROOT", cfg.CatalogRoot)
	cfg.CacheRoot = getEnv("OCCI_CACHE_ROOT", cfg.CacheRoot)
	cfg.HTTP.Addr = getEnv("OCCI_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Admin.Username = getEnv("OCCI_ADMIN_USERNAME", cfg.Admin.Username)
	cfg.Admin.Passphrase = getEnv("OCCI_ADMIN_PASSPHRASE", cfg.Admin.Passphrase)
	cfg.Broker.Kind = getEnv("OCCI_BROKER_KIND", cfg.Broker.Kind)
	cfg.Broker.URL = getEnv("OCCI_BROKER_URL", cfg.Broker.URL)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
