package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 3000 || cfg.Addr() != ":3000" {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Window != 5*time.Minute || cfg.RateLimit.Max != 100 {
		t.Fatalf("ratelimit = %+v", cfg.RateLimit)
	}
	if cfg.Ingest.Guard != "full" || cfg.Ingest.EscalateGuard != "none" {
		t.Fatalf("ingest = %+v", cfg.Ingest)
	}
	if cfg.UsesFirebase() {
		t.Fatalf("defaults should not need firebase")
	}
}

func TestLoadPortFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8081")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("port = %d, want 8081", cfg.Server.Port)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("BEACON_RATELIMIT_MAX", "7")

	path := filepath.Join(t.TempDir(), "beacon.yaml")
	content := []byte(`
server:
  port: 4000
log:
  level: debug
  format: json
ingest:
  guard: auth
ratelimit:
  window: 1m
  max: 50
relay:
  allowed_origins: ["https://app.example"]
auth:
  provider: static
  static:
    - subject: u1
      token: Dev-Token
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Server.Port != 4000 || cfg.Log.Format != "json" || cfg.Ingest.Guard != "auth" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RateLimit.Max != 7 {
		t.Fatalf("expected env override of ratelimit.max, got %d", cfg.RateLimit.Max)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Fatalf("window = %s", cfg.RateLimit.Window)
	}
	if tokens := cfg.Auth.StaticTokens(); tokens["Dev-Token"] != "u1" {
		t.Fatalf("tokens = %v", tokens)
	}
	if len(cfg.Relay.AllowedOrigins) != 1 {
		t.Fatalf("origins = %v", cfg.Relay.AllowedOrigins)
	}
	if lvl, _ := cfg.Log.SlogLevel(); lvl.String() != "DEBUG" {
		t.Fatalf("level = %s", lvl)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"guard":    "ingest:\n  guard: paranoid\n",
		"driver":   "store:\n  driver: postgres\n",
		"firebase": "store:\n  driver: firebase\nescalation:\n  directory: firebase\n",
		"level":    "log:\n  level: loud\n",
		"token":    "auth:\n  static:\n    - subject: u1\n",
		"read":     "relay:\n  read_timeout: 0s\n",
		"write":    "relay:\n  write_timeout: -1s\n",
		"ping":     "relay:\n  read_timeout: 10s\n  ping_interval: 20s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "beacon.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}
