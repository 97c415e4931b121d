// Package config loads client configuration from a TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/omochice/chatlink/internal/transport"
)

// Config is the full client configuration.
type Config struct {
	Chat     ChatConfig     `toml:"chat"`
	Recovery RecoveryConfig `toml:"recovery"`
	Proxy    *ProxyConfig   `toml:"proxy"`
}

// ChatConfig configures the chat session.
type ChatConfig struct {
	Endpoint         string `toml:"endpoint"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
}

// ConnectTimeout returns the handshake bound as a duration.
func (c ChatConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the per-request bound as a duration.
func (c ChatConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// RecoveryConfig names the enclave quorum.
type RecoveryConfig struct {
	Enclaves []EnclaveConfig `toml:"enclaves"`
}

// IDs returns the enclave ids in configuration order.
func (r RecoveryConfig) IDs() []string {
	ids := make([]string, len(r.Enclaves))
	for i, e := range r.Enclaves {
		ids[i] = e.ID
	}
	return ids
}

// Endpoints returns the id-to-endpoint map.
func (r RecoveryConfig) Endpoints() map[string]string {
	out := make(map[string]string, len(r.Enclaves))
	for _, e := range r.Enclaves {
		out[e.ID] = e.Endpoint
	}
	return out
}

// EnclaveConfig is one quorum member.
type EnclaveConfig struct {
	ID       string `toml:"id"`
	Endpoint string `toml:"endpoint"`
}

// ProxyConfig routes all connections through an intermediary.
type ProxyConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if cfg.Chat.ConnectTimeoutMS == 0 {
		cfg.Chat.ConnectTimeoutMS = 10_000
	}
	if cfg.Chat.RequestTimeoutMS == 0 {
		cfg.Chat.RequestTimeoutMS = 30_000
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func Validate(cfg Config) error {
	if cfg.Chat.Endpoint == "" {
		return fmt.Errorf("chat.endpoint must be set")
	}
	seen := make(map[string]bool, len(cfg.Recovery.Enclaves))
	for _, e := range cfg.Recovery.Enclaves {
		if e.ID == "" || e.Endpoint == "" {
			return fmt.Errorf("recovery enclaves need both id and endpoint")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate enclave id %q", e.ID)
		}
		seen[e.ID] = true
	}
	if cfg.Proxy != nil {
		p := transport.Proxy{Host: cfg.Proxy.Host, Port: cfg.Proxy.Port}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("proxy configuration: %w", err)
		}
	}
	return nil
}
