package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Client.Address != "ws://localhost:8080/ws" {
		t.Errorf("Unexpected default address %q", cfg.Client.Address)
	}
	if cfg.Client.Room != "lobby" {
		t.Errorf("Unexpected default room %q", cfg.Client.Room)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Unexpected default port %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("Expected defaults, got port %d", cfg.Server.Port)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("overrides keep other defaults", func(t *testing.T) {
		path := writeFile(t, "roomlink.yaml", `
client:
  address: ws://example.com/ws
  query_timeout: 2s
server:
  port: 9090
  rooms:
    - name: arena
      max_clients: 2
    - name: lobby
log:
  level: debug
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if cfg.Client.Address != "ws://example.com/ws" {
			t.Errorf("Address not loaded: %q", cfg.Client.Address)
		}
		if cfg.Client.QueryTimeout != 2*time.Second {
			t.Errorf("Expected 2s query timeout, got %v", cfg.Client.QueryTimeout)
		}
		if cfg.Client.Room != "lobby" {
			t.Errorf("Room default lost: %q", cfg.Client.Room)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
		}
		if len(cfg.Server.Rooms) != 2 || cfg.Server.Rooms[0].Name != "arena" || cfg.Server.Rooms[0].MaxClients != 2 {
			t.Errorf("Rooms not loaded: %+v", cfg.Server.Rooms)
		}
		if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
			t.Errorf("Unexpected log config %+v", cfg.Log)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "server: [unterminated")
		if _, err := Load(path); err == nil {
			t.Error("Expected a parse error")
		}
	})
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"ROOMLINK_ADDRESS":         "ws://10.0.0.1:9000/ws",
		"ROOMLINK_PORT":            "9000",
		"ROOMLINK_QUERY_TIMEOUT":   "750ms",
		"ROOMLINK_ALLOWED_ORIGINS": "https://a.example, https://b.example,",
		"ROOMLINK_LOG_LEVEL":       "warn",
		"NGROK_ENABLED":            "1",
		"NGROK_AUTH_TOKEN":         "legacy",
		"NGROK_AUTHTOKEN":          "token",
		"NGROK_DOMAIN":             "rooms.ngrok.app",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Client.Address != "ws://10.0.0.1:9000/ws" {
		t.Errorf("Address not applied: %q", cfg.Client.Address)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port not applied: %d", cfg.Server.Port)
	}
	if cfg.Client.QueryTimeout != 750*time.Millisecond {
		t.Errorf("Query timeout not applied: %v", cfg.Client.QueryTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected origins %q", cfg.Server.AllowedOrigins)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log level not applied: %q", cfg.Log.Level)
	}
	if !cfg.Server.Ngrok.Enabled {
		t.Error("NGROK_ENABLED=1 should enable ngrok")
	}
	if cfg.Server.Ngrok.AuthToken != "token" {
		t.Errorf("NGROK_AUTHTOKEN should win, got %q", cfg.Server.Ngrok.AuthToken)
	}
	if cfg.Server.Ngrok.Domain != "rooms.ngrok.app" {
		t.Errorf("Domain not applied: %q", cfg.Server.Ngrok.Domain)
	}

	t.Run("bad values", func(t *testing.T) {
		cfg := Default()
		err := cfg.ApplyEnv(env(map[string]string{
			"ROOMLINK_PORT":        "eighty",
			"ROOMLINK_PING_PERIOD": "soon",
			"NGROK_ENABLED":        "maybe",
			"ROOMLINK_ROOM":        "arena",
		}))
		if err == nil {
			t.Fatal("Expected an error for malformed values")
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("Malformed port should leave the default, got %d", cfg.Server.Port)
		}
		if cfg.Client.Room != "arena" {
			t.Errorf("Valid values should still apply, got room %q", cfg.Client.Room)
		}
	})
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, ".env", "ROOMLINK_TEST_LOADENV=from-file\n")
	t.Setenv("ROOMLINK_TEST_LOADENV", "")
	os.Unsetenv("ROOMLINK_TEST_LOADENV")

	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if got := os.Getenv("ROOMLINK_TEST_LOADENV"); got != "from-file" {
		t.Errorf("Expected variable from file, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"empty room name", func(c *Config) {
			c.Server.Rooms = append(c.Server.Rooms, c.Server.Rooms[0])
			c.Server.Rooms[1].Name = ""
		}},
		{"duplicate room", func(c *Config) { c.Server.Rooms = append(c.Server.Rooms, c.Server.Rooms[0]) }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty cipher key", func(c *Config) { c.Cipher.Key = "" }},
		{"empty secret", func(c *Config) { c.Cipher.Secret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 9999
	if got := cfg.ListenAddr(); got != "0.0.0.0:9999" {
		t.Errorf("Expected 0.0.0.0:9999, got %q", got)
	}
}
