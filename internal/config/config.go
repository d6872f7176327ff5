// Package config loads server configuration from the environment. There is no
// config file: the sandbox root, database URL, and provider credentials are
// deployment concerns and stay out of the repository.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultHost      = "0.0.0.0"
	defaultPort      = 8000
	defaultMaxSteps  = 40
	defaultRetries   = 10
	defaultThreshold = 60_000 // tokens before history compaction kicks in
)

// Config is the process-wide configuration, resolved once at startup.
type Config struct {
	// SandboxDir is the root of the tree all tool I/O is confined to.
	SandboxDir string

	// DatabaseURL is a postgres:// DSN or a sqlite://PATH URL.
	DatabaseURL string

	// AnthropicAPIKey authenticates the LLM provider.
	AnthropicAPIKey string

	// Model overrides the provider default model.
	Model string

	Host string
	Port int

	// AllowedOrigins restricts websocket upgrades; empty allows all.
	AllowedOrigins []string

	// RateLimitRPM limits client frames per connection; 0 disables.
	RateLimitRPM int

	// CompactionEnabled gates history summarization before agent runs.
	CompactionEnabled   bool
	CompactionThreshold int

	// MaxSteps caps agent graph iterations per turn.
	MaxSteps int

	// ToolRetryBudget is the number of failed tool calls tolerated per turn.
	ToolRetryBudget int

	// OTLPEndpoint enables trace export when non-empty (host:port).
	OTLPEndpoint string
}

// FromEnv builds a Config from AGENTX_* environment variables, applying
// defaults and validating the sandbox directory.
func FromEnv() (*Config, error) {
	cfg := &Config{
		SandboxDir:          os.Getenv("AGENTX_SANDBOX_DIR"),
		DatabaseURL:         os.Getenv("AGENTX_DATABASE_URL"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		Model:               envOr("AGENTX_MODEL", defaultModel),
		Host:                envOr("AGENTX_HOST", defaultHost),
		Port:                envInt("AGENTX_PORT", defaultPort),
		RateLimitRPM:        envInt("AGENTX_RATE_LIMIT_RPM", 0),
		CompactionEnabled:   envBool("AGENTX_COMPACTION", true),
		CompactionThreshold: envInt("AGENTX_COMPACTION_THRESHOLD", defaultThreshold),
		MaxSteps:            envInt("AGENTX_MAX_STEPS", defaultMaxSteps),
		ToolRetryBudget:     envInt("AGENTX_TOOL_RETRY_BUDGET", defaultRetries),
		OTLPEndpoint:        os.Getenv("AGENTX_OTLP_ENDPOINT"),
	}

	if origins := os.Getenv("AGENTX_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if cfg.SandboxDir == "" {
		cfg.SandboxDir = filepath.Join(".", "sandbox")
	}
	abs, err := filepath.Abs(cfg.SandboxDir)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox dir: %w", err)
	}
	cfg.SandboxDir = abs
	if err := os.MkdirAll(cfg.SandboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}

	if cfg.DatabaseURL == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir for default database: %w", err)
		}
		dir := filepath.Join(home, ".agentx")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		cfg.DatabaseURL = "sqlite://" + filepath.Join(dir, "agentx.db")
	}

	return cfg, nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
