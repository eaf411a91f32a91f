package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr == "" {
		t.Fatalf("expected default http addr")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occi.yaml")
	cfg := Default()
	cfg.CatalogRoot = "/srv/library"
	cfg.HTTP.Addr = ":9090"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.CatalogRoot != "/srv/library" || loaded.HTTP.Addr != ":9090" {
		t.Fatalf("unexpected round-tripped config: %+v", loaded)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("not: valid: yaml: ["), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnsurePassphraseGeneratesAndLogsOnce(t *testing.T) {
	cfg := Default()
	cfg.Admin.Passphrase = ""

	var logged string
	passphrase, err := EnsurePassphrase(cfg, func(p string) { logged = p })
	if err != nil {
		t.Fatalf("ensure passphrase: %v", err)
	}
	if len(passphrase) != defaultPassphraseLen {
		t.Fatalf("expected %d-char passphrase, got %q", defaultPassphraseLen, passphrase)
	}
	if logged != passphrase {
		t.Fatalf("expected generated passphrase to be logged")
	}
}

func TestEnsurePassphraseRespectsConfigured(t *testing.T) {
	cfg := Default()
	cfg.Admin.Passphrase = "already-set"

	calls := 0
	passphrase, err := EnsurePassphrase(cfg, func(p string) { calls++ })
	if err != nil {
		t.Fatalf("ensure passphrase: %v", err)
	}
	if passphrase != "already-set" || calls != 0 {
		t.Fatalf("expected configured passphrase to be kept without logging, got %q calls=%d", passphrase, calls)
	}
}

func TestEnvOverridesApplyOnLoad(t *testing.T) {
	t.Setenv("OCCI_HTTP_ADDR", ":7777")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":7777" {
		t.Fatalf("expected env override to apply, got %q", cfg.HTTP.Addr)
	}
}
