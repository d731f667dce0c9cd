// Package config loads and validates Quill's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/quillworks/quill/internal/domain"
)

// Config holds the host's runtime configuration.
type Config struct {
	RepoRoot            string `json:"repo_root"`
	DBPath              string `json:"db_path"`
	Model               string `json:"model"`
	APIKey              string `json:"-"`
	BaseURL             string `json:"base_url"`
	LineCap             int    `json:"line_cap"`
	ConversationCap     int    `json:"conversation_cap"`
	SummaryMaxBytes     int    `json:"summary_max_bytes"`
	DepsDir             string `json:"deps_dir"`
	DepsTTLSec          int    `json:"deps_ttl_sec"`
	ConsolidateInterval int    `json:"consolidate_interval"`
	RateLimitPerMinute  int    `json:"rate_limit_per_minute"`
	MaxToolTurns        int    `json:"max_tool_turns"`
}

// Load reads an optional JSON config file, overlays the environment
// (including a .env file next to the config when present), applies
// defaults, and validates. path may be empty.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
		// Secrets live in the environment, not the config file.
		godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	} else {
		godotenv.Load()
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QUILL_API_KEY"); v != "" {
		c.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("QUILL_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("QUILL_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("QUILL_REPO_ROOT"); v != "" {
		c.RepoRoot = v
	}
	if v := os.Getenv("QUILL_DEPS_DIR"); v != "" {
		c.DepsDir = v
	}
	if v := os.Getenv("QUILL_LINE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LineCap = n
		}
	}
	if v := os.Getenv("QUILL_SUMMARY_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SummaryMaxBytes = n
		}
	}
	if v := os.Getenv("QUILL_DEPS_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DepsTTLSec = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.RepoRoot == "" {
		c.RepoRoot = "."
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.RepoRoot, ".quill", "quill.db")
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.LineCap == 0 {
		c.LineCap = 500
	}
	if c.ConversationCap == 0 {
		c.ConversationCap = 120
	}
	if c.SummaryMaxBytes == 0 {
		c.SummaryMaxBytes = 2 << 20
	}
	if c.ConsolidateInterval == 0 {
		c.ConsolidateInterval = 3
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.MaxToolTurns == 0 {
		c.MaxToolTurns = 12
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.LineCap < 0 {
		problems = append(problems, "line_cap must not be negative")
	}
	if c.ConversationCap < 0 {
		problems = append(problems, "conversation_cap must not be negative")
	}
	if c.ConsolidateInterval < 1 {
		problems = append(problems, "consolidate_interval must be at least 1")
	}
	if info, err := os.Stat(c.RepoRoot); err != nil || !info.IsDir() {
		problems = append(problems, fmt.Sprintf("repo_root %q is not a directory", c.RepoRoot))
	}
	if c.DepsDir != "" {
		if info, err := os.Stat(c.DepsDir); err != nil || !info.IsDir() {
			problems = append(problems, fmt.Sprintf("deps_dir %q is not a directory", c.DepsDir))
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
