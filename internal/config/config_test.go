package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	t.Setenv("DHT_CONFIG", "")
	t.Setenv("DHT_ADDR", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != Default().Server.Addr {
		t.Fatalf("addr: got %q", cfg.Server.Addr)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhtrack.toml")
	contents := `
[server]
addr = "0.0.0.0:9000"
db_path = "/var/lib/dhtrack.db"
sweep_cron = "@every 5m"

[client]
advance_rate = 1.5
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DHT_ADDR", "127.0.0.1:7000")
	t.Setenv("DHT_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7000" {
		t.Fatalf("env should override file: %q", cfg.Server.Addr)
	}
	if cfg.Server.DBPath != "/var/lib/dhtrack.db" || cfg.Server.SweepCron != "@every 5m" {
		t.Fatalf("file values lost: %+v", cfg.Server)
	}
	if cfg.Server.JWTSecret != "s3cret" {
		t.Fatalf("secret: %q", cfg.Server.JWTSecret)
	}
	if cfg.Client.AdvanceRate != 1.5 || cfg.Client.AdvanceBurst != 4 {
		t.Fatalf("client: %+v", cfg.Client)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\naddr="), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
