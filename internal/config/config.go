// Package config provides YAML-based configuration for axon.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing deployments are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. AXON_CONFIG environment variable
//  3. ~/.axon/config.yaml
//  4. ./axon.yaml
//
// If no file is found the system runs entirely from env vars (backwards compatible).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// TEI configures the embedding-inference service connection.
	TEI TEIConfig `yaml:"tei"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Webhook configures the daemon's HTTP ingress.
	Webhook WebhookConfig `yaml:"webhook"`

	// Queue configures the durable on-disk job queue.
	Queue QueueConfig `yaml:"queue"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// TEIConfig holds text-embedding-inference service settings.
type TEIConfig struct {
	// URL is the base URL of the TEI service (e.g. "http://localhost:8081").
	URL string `yaml:"url"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// URL is the Qdrant gRPC endpoint, e.g. "localhost:6334".
	URL string `yaml:"url"`
	// Collection is the default Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// WebhookConfig holds the daemon's HTTP ingress settings.
type WebhookConfig struct {
	// URL is the externally reachable webhook URL handed to the scraping API
	// when registering a crawl. Informational only — the daemon itself only
	// binds and listens.
	URL string `yaml:"url"`
	// Secret authenticates inbound webhook requests. If empty, a secret is
	// generated at daemon startup and logged once.
	Secret string `yaml:"secret"`
	// Port is the TCP port the webhook server listens on.
	Port int `yaml:"port"`
	// Path is the HTTP path the scraping API POSTs completion events to.
	Path string `yaml:"path"`
	// BindAddress overrides the default loopback bind. Only the literal
	// value "0.0.0.0" has any effect; anything else is ignored.
	BindAddress string `yaml:"bind_address"`
}

// QueueConfig holds durable job queue settings.
type QueueConfig struct {
	// Dir is the queue directory override. Defaults to the platform config
	// dir (e.g. $XDG_CONFIG_HOME/axon/embed-queue) when empty.
	Dir string `yaml:"dir"`
	// StaleMinutes is the age, in minutes, after which a pending job is
	// considered stale and re-processed by the sweeper.
	StaleMinutes int `yaml:"stale_minutes"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"TEI_URL", func(c *Config) string { return c.TEI.URL }},
	{"QDRANT_URL", func(c *Config) string { return c.Qdrant.URL }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"AXON_WEBHOOK_URL", func(c *Config) string { return c.Webhook.URL }},
	{"AXON_WEBHOOK_SECRET", func(c *Config) string { return c.Webhook.Secret }},
	{"AXON_WEBHOOK_PORT", func(c *Config) string { return intStr(c.Webhook.Port) }},
	{"AXON_WEBHOOK_PATH", func(c *Config) string { return c.Webhook.Path }},
	{"AXON_EMBEDDER_BIND_ADDRESS", func(c *Config) string { return c.Webhook.BindAddress }},
	{"AXON_EMBEDDER_QUEUE_DIR", func(c *Config) string { return c.Queue.Dir }},
	{"AXON_EMBEDDER_STALE_MINUTES", func(c *Config) string { return intStr(c.Queue.StaleMinutes) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("AXON_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".axon", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("axon.yaml"); err == nil {
		return "axon.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}

// QueueDir resolves the configured queue directory, falling back to the
// platform user-config directory joined with "axon/embed-queue".
func QueueDir() (string, error) {
	if dir := os.Getenv("AXON_EMBEDDER_QUEUE_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(base, "axon", "embed-queue"), nil
}
