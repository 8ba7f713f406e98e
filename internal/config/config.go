// Package config resolves runtime configuration from defaults, an
// optional YAML file, and environment variables, in that order.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr renders the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig locates project storage. SecretKey is the
// hex-encoded AES-256 key sealing project secrets; without it, secret
// storage is disabled.
type DatabaseConfig struct {
	DataDir   string `yaml:"data_dir"`
	SecretKey string `yaml:"secret_key"`
}

// CipherKey decodes the configured secret key. A missing key yields
// (nil, nil); a malformed one is a fatal configuration error.
func (d DatabaseConfig) CipherKey() ([]byte, error) {
	if d.SecretKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(d.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("secret key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes (AES-256), got %d", len(key))
	}
	return key, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 3004},
		Database: DatabaseConfig{DataDir: "./data"},
		LogLevel: "info",
	}
}

// Load resolves configuration: defaults, then the YAML file at path
// (when non-empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("MECHAWAY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("MECHAWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MECHAWAY_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("MECHAWAY_DATA_DIR"); v != "" {
		cfg.Database.DataDir = v
	}
	if v := os.Getenv("MECHAWAY_SECRET_KEY"); v != "" {
		cfg.Database.SecretKey = v
	}
	if v := os.Getenv("MECHAWAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
