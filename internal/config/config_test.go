// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValidWithAuthDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.Security.AuthDisabled = true

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate with auth disabled: %v", err)
	}
}

func TestDefaultConfigRequiresJWTSecret(t *testing.T) {
	cfg := defaultConfig()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty jwt_secret")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error should mention jwt_secret, got: %v", err)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Server.Timeout = 0 },
			wantErr: "server.timeout",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name: "nats enabled without url or embedded server",
			mutate: func(c *Config) {
				c.NATS.URL = ""
				c.NATS.EmbeddedServer = false
			},
			wantErr: "nats.url",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { c.Delivery.TickInterval = 0 },
			wantErr: "delivery.tick_interval",
		},
		{
			name:    "negative publish rate",
			mutate:  func(c *Config) { c.Delivery.PublishRate = -1 },
			wantErr: "delivery.publish_rate",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWTSecret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name: "max page size below default",
			mutate: func(c *Config) {
				c.API.DefaultPageSize = 50
				c.API.MaxPageSize = 10
			},
			wantErr: "page sizes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.AuthDisabled = true
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithKoanfDefaults(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "true")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}

	if cfg.Server.Port != 8425 {
		t.Errorf("default port = %d, want 8425", cfg.Server.Port)
	}
	if cfg.Delivery.TickInterval != 15*time.Second {
		t.Errorf("default tick interval = %s, want 15s", cfg.Delivery.TickInterval)
	}
	if cfg.NATS.PresenceTopic != "presence.snapshot" {
		t.Errorf("default presence topic = %q", cfg.NATS.PresenceTopic)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadWithKoanfEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DUCKDB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DELIVERY_TICK_INTERVAL", "5s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("database path = %q, want :memory:", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Delivery.TickInterval != 5*time.Second {
		t.Errorf("tick interval = %s, want 5s", cfg.Delivery.TickInterval)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Security.CORSOrigins) != len(want) {
		t.Fatalf("cors origins = %v, want %v", cfg.Security.CORSOrigins, want)
	}
	for i, origin := range want {
		if cfg.Security.CORSOrigins[i] != origin {
			t.Errorf("cors origin[%d] = %q, want %q", i, cfg.Security.CORSOrigins[i], origin)
		}
	}
}

func TestLoadWithKoanfConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 7777\nsecurity:\n  auth_disabled: true\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want 7777 from config file", cfg.Server.Port)
	}
}

func TestEnvTransformFuncSkipsUnknownKeys(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("PATH should map to empty, got %q", got)
	}
	if got := envTransformFunc("HTTP_PORT"); got != "server.port" {
		t.Errorf("HTTP_PORT = %q, want server.port", got)
	}
	if got := envTransformFunc("nats_url"); got != "nats.url" {
		t.Errorf("nats_url = %q, want nats.url", got)
	}
}

func TestServerAddr(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 8425}
	if got := sc.Addr(); got != "127.0.0.1:8425" {
		t.Errorf("Addr() = %q", got)
	}
}
