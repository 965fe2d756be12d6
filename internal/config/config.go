// Notedrop - Presence-Aware Deferred Note Delivery
// Copyright 2026 Notedrop contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notedrop/notedrop

// Package config loads and validates the Notedrop service configuration.
//
// Configuration is layered with Koanf v2: struct defaults, then an optional
// YAML file, then environment variables. Precedence is ENV > File > Defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Notedrop service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
	API      APIConfig      `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" runs fully in-memory.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads limits DuckDB worker threads. 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// NATSConfig holds the messaging settings for the presence feed and the
// outbound message hand-off.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// EmbeddedServer starts an in-process NATS server for standalone
	// deployments instead of connecting to an external one.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	// PresenceTopic carries full-state presence snapshots from the bot.
	PresenceTopic string `koanf:"presence_topic"`
	// OutboundTopicPrefix prefixes the per-type outbound message topics.
	OutboundTopicPrefix string        `koanf:"outbound_topic_prefix"`
	QueueGroup          string        `koanf:"queue_group"`
	ConnectTimeout      time.Duration `koanf:"connect_timeout"`
}

// DeliveryConfig tunes the delivery loop.
type DeliveryConfig struct {
	// TickInterval is how often due notes are fetched and published.
	TickInterval time.Duration `koanf:"tick_interval"`
	// PublishRate caps outbound messages per second (chat flood control).
	PublishRate float64 `koanf:"publish_rate"`
	// PublishBurst is the rate limiter burst size.
	PublishBurst int `koanf:"publish_burst"`
	// BreakerMaxFailures trips the transport circuit breaker.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// SecurityConfig holds authentication and rate limit settings.
type SecurityConfig struct {
	// JWTSecret signs API tokens. Required when auth is enabled.
	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`
	AdminUsername  string        `koanf:"admin_username"`
	// AdminPasswordHash is a bcrypt hash of the admin password.
	AdminPasswordHash string        `koanf:"admin_password_hash"`
	AuthDisabled      bool          `koanf:"auth_disabled"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// APIConfig holds pagination settings for list endpoints.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.NATS.Enabled && c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("nats.url is required when nats is enabled without an embedded server")
	}
	if c.Delivery.TickInterval <= 0 {
		return fmt.Errorf("delivery.tick_interval must be positive, got %s", c.Delivery.TickInterval)
	}
	if c.Delivery.PublishRate <= 0 {
		return fmt.Errorf("delivery.publish_rate must be positive, got %g", c.Delivery.PublishRate)
	}
	if c.Delivery.PublishBurst < 1 {
		return fmt.Errorf("delivery.publish_burst must be at least 1, got %d", c.Delivery.PublishBurst)
	}
	if !c.Security.AuthDisabled {
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("security.jwt_secret is required unless security.auth_disabled is set")
		}
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("security.jwt_secret must be at least 32 characters, got %d", len(c.Security.JWTSecret))
		}
	}
	if c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("security.rate_limit_reqs must be at least 1, got %d", c.Security.RateLimitReqs)
	}
	if c.API.DefaultPageSize < 1 || c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api page sizes invalid: default=%d max=%d", c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	return nil
}

// Addr returns the server listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
