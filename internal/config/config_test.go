package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mc2.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
mirror:
  url: postgres://localhost/mc2
sites:
  sls:
    dsn: oracle://user:pw@db-sls/MC
    doc_base_url: http://docs.sls.example/mc
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.Mirror.MaxConns != 10 || cfg.Mirror.MinConns != 2 {
		t.Errorf("mirror conns = %d/%d, want 10/2", cfg.Mirror.MaxConns, cfg.Mirror.MinConns)
	}
	if cfg.RedCap.ArmName != "arm_1" {
		t.Errorf("ArmName = %q, want arm_1", cfg.RedCap.ArmName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSiteLookup(t *testing.T) {
	path := writeConfig(t, `
mirror:
  url: postgres://localhost/mc2
sites:
  sls:
    dsn: oracle://user:pw@db-sls/MC
  lrb:
    dsn: oracle://user:pw@db-lrb/MC
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	site, err := cfg.Site("lrb")
	if err != nil {
		t.Fatalf("Site(lrb): %v", err)
	}
	if site.DSN != "oracle://user:pw@db-lrb/MC" {
		t.Errorf("DSN = %q", site.DSN)
	}
	if _, err := cfg.Site("nck"); err == nil {
		t.Error("Site(nck) should fail")
	}
}

func TestValidateMissingMirror(t *testing.T) {
	path := writeConfig(t, `
sites:
  sls:
    dsn: oracle://user:pw@db-sls/MC
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should fail without mirror.url")
	}
}

func TestValidateRedCap(t *testing.T) {
	path := writeConfig(t, `
mirror:
  url: postgres://localhost/mc2
redcap:
  api_url: https://redcap.example/api/
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ValidateRedCap(); err == nil {
		t.Error("ValidateRedCap should fail without token")
	}
	cfg.RedCap.APIToken = "ABC123"
	if err := cfg.ValidateRedCap(); err != nil {
		t.Errorf("ValidateRedCap: %v", err)
	}
}
