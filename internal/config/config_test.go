package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CorralNAS/dispatcher-client/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Connection.SocketPath != "/var/run/dispatcher.sock" {
		t.Fatalf("unexpected default socket path: %s", cfg.Connection.SocketPath)
	}
	if cfg.CallTimeout() != 60*time.Second {
		t.Fatalf("unexpected default timeout: %s", cfg.CallTimeout())
	}
}

func TestLoadParsesAndExpands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[connection]
socket_path = "~/run/dispatcher.sock"
call_timeout_seconds = 5

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path %s, want %s", resolved, path)
	}
	if strings.HasPrefix(cfg.Connection.SocketPath, "~") {
		t.Fatalf("socket path not expanded: %s", cfg.Connection.SocketPath)
	}
	if cfg.CallTimeout() != 5*time.Second {
		t.Fatalf("timeout %s, want 5s", cfg.CallTimeout())
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("format %s, want json", cfg.Logging.Format)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[connection]\nsocket = \"/tmp/x\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Connection.CallTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero timeout")
	}

	cfg = config.Default()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bad log format")
	}

	cfg = config.Default()
	cfg.Connection.SocketPath = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty socket path")
	}
}
