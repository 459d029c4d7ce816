// Package config declares the workstation's configuration surface: a
// single mapstructure-tagged Config struct with one section per subsystem
// (relay, confirmation, session, artifacts, tracing), a Defaults()
// constructor, and a WriteDefaultConfig that writes a commented YAML
// template.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jaxs-ribs/codewalk/internal/artifacts"
	"github.com/jaxs-ribs/codewalk/internal/confirmation"
	"github.com/jaxs-ribs/codewalk/internal/tracing"
	"github.com/jaxs-ribs/codewalk/internal/wslog"
)

// Config holds every configurable section of the workstation.
type Config struct {
	Relay        RelayConfig        `mapstructure:"relay"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Session      SessionConfig      `mapstructure:"session"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
}

// RelayConfig configures the WebSocket relay transport. Each field has an
// environment override: RELAY_WS_URL, RELAY_SESSION_ID, RELAY_AUTH_TOKEN,
// RELAY_HEARTBEAT_SECS.
type RelayConfig struct {
	URL               string        `mapstructure:"url"`
	SessionID         string        `mapstructure:"session_id"`
	AuthToken         string        `mapstructure:"auth_token"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// ConfirmationConfig points at an optional YAML file overriding the
// accept/decline/ambiguous token sets.
type ConfirmationConfig struct {
	TokensFile string `mapstructure:"tokens_file"`
}

// SessionConfig tunes the in-memory session context bounds.
type SessionConfig struct {
	LogRingSize int `mapstructure:"log_ring_size"`
	MaxHistory  int `mapstructure:"max_history"`
}

// ArtifactsConfig tunes the filesystem artifact store and its fuzzy-match
// registry.
type ArtifactsConfig struct {
	Root          string  `mapstructure:"root"`
	LegacyFlat    bool    `mapstructure:"legacy_flat"`
	MinScore      int     `mapstructure:"min_score"`
	KeywordWeight float64 `mapstructure:"keyword_weight"`
	TopicWeight   float64 `mapstructure:"topic_weight"`
}

// Defaults returns the baked-in configuration used when no file, env var,
// or flag overrides a field.
func Defaults() Config {
	match := artifacts.DefaultMatchConfig()
	return Config{
		Relay: RelayConfig{
			HeartbeatInterval: 5 * time.Second,
		},
		Confirmation: ConfirmationConfig{},
		Session: SessionConfig{
			LogRingSize: 2000,
			MaxHistory:  32,
		},
		Artifacts: ArtifactsConfig{
			MinScore:      match.MinScore,
			KeywordWeight: match.KeywordWeight,
			TopicWeight:   match.TopicWeight,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// ConfirmationTokens loads the accept/decline/ambiguous word lists from
// TokensFile, falling back to confirmation.DefaultTokens when the field is
// empty or the file cannot be read.
func (c Config) ConfirmationTokens() confirmation.TokenConfig {
	if c.Confirmation.TokensFile == "" {
		return confirmation.DefaultTokens()
	}
	data, err := os.ReadFile(c.Confirmation.TokensFile)
	if err != nil {
		wslog.Warn(wslog.CatConfig, "falling back to default confirmation tokens", "path", c.Confirmation.TokensFile, "error", err.Error())
		return confirmation.DefaultTokens()
	}
	tokens, err := confirmation.LoadTokens(data)
	if err != nil {
		wslog.Warn(wslog.CatConfig, "malformed confirmation tokens file, using defaults", "path", c.Confirmation.TokensFile, "error", err.Error())
		return confirmation.DefaultTokens()
	}
	return tokens
}

// MatchConfig builds the artifacts registry's fuzzy-match tuning from the
// configured weights.
func (c Config) MatchConfig() artifacts.MatchConfig {
	return artifacts.MatchConfig{
		MinScore:      c.Artifacts.MinScore,
		KeywordWeight: c.Artifacts.KeywordWeight,
		TopicWeight:   c.Artifacts.TopicWeight,
	}
}

// ArtifactsMode resolves the configured store mode.
func (c Config) ArtifactsMode() artifacts.Mode {
	if c.Artifacts.LegacyFlat {
		return artifacts.LegacyFlat
	}
	return artifacts.SessionScoped
}

// Validate reports configuration errors that should abort startup.
func Validate(cfg Config) error {
	if cfg.Relay.HeartbeatInterval < 5*time.Second {
		return fmt.Errorf("config: relay.heartbeat_interval must be >= 5s, got %s", cfg.Relay.HeartbeatInterval)
	}
	if cfg.Session.LogRingSize <= 0 {
		return fmt.Errorf("config: session.log_ring_size must be positive")
	}
	if cfg.Session.MaxHistory <= 0 {
		return fmt.Errorf("config: session.max_history must be positive")
	}
	return nil
}

// DefaultConfigTemplate returns a commented YAML template written by
// WriteDefaultConfig, with every field pre-filled and documented.
func DefaultConfigTemplate() string {
	d := Defaults()
	return fmt.Sprintf(`# workstation configuration
# Environment variables (RELAY_WS_URL, RELAY_SESSION_ID, RELAY_AUTH_TOKEN,
# RELAY_HEARTBEAT_SECS, WORKSTATION_ARTIFACTS_PATH) and --flags both
# override values in this file.

relay:
  url: ""
  session_id: ""
  auth_token: ""
  # Minimum 5s; lower values are rejected at startup.
  heartbeat_interval: %s

confirmation:
  # Path to a YAML file overriding the accept/decline/ambiguous word lists.
  # Leave empty to use the built-in defaults.
  tokens_file: ""

session:
  log_ring_size: %d
  max_history: %d

artifacts:
  # Root directory for session artifacts. Empty uses
  # WORKSTATION_ARTIFACTS_PATH or the platform default.
  root: ""
  legacy_flat: false
  min_score: %d
  keyword_weight: %.2f
  topic_weight: %.2f

tracing:
  enabled: %t
  exporter: %s
  otlp_endpoint: ""
  sample_rate: %.2f
  service_name: %s
`,
		d.Relay.HeartbeatInterval,
		d.Session.LogRingSize,
		d.Session.MaxHistory,
		d.Artifacts.MinScore, d.Artifacts.KeywordWeight, d.Artifacts.TopicWeight,
		d.Tracing.Enabled, d.Tracing.Exporter, d.Tracing.SampleRate, d.Tracing.ServiceName,
	)
}

// WriteDefaultConfig creates a config file at the given path with default
// settings, using the same atomic write-then-rename discipline as the
// artifact store.
func WriteDefaultConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	tmp := configPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		return fmt.Errorf("config: writing template: %w", err)
	}
	if err := os.Rename(tmp, configPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("config: renaming into place: %w", err)
	}
	wslog.Info(wslog.CatConfig, "created default config", "path", configPath)
	return nil
}
