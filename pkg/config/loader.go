package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path (optional — a missing file is not an
// error), merges it over Defaults(), and validates the result. A .env file
// in the working directory is loaded first so APIKeyEnv can resolve.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Info("Config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
			if err := mergo.Merge(cfg, &fileCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merging config file %s: %w", path, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior deep inside a vote.
func (c *Config) Validate() error {
	v := c.Voting
	if v.K < 1 {
		return fmt.Errorf("voting.k must be >= 1, got %d", v.K)
	}
	if v.MaxSamples < 1 {
		return fmt.Errorf("voting.max_samples must be >= 1, got %d", v.MaxSamples)
	}
	if v.MaxSamples < v.K {
		return fmt.Errorf("voting.max_samples (%d) must be >= voting.k (%d)", v.MaxSamples, v.K)
	}
	if v.MaxTokensResponse < 1 {
		return fmt.Errorf("voting.max_tokens_response must be >= 1, got %d", v.MaxTokensResponse)
	}
	if v.Temperature < 0 || v.Temperature > 2 {
		return fmt.Errorf("voting.temperature must be in [0, 2], got %g", v.Temperature)
	}
	if v.MaxDepth < 0 {
		return fmt.Errorf("voting.max_depth must be >= 0, got %d", v.MaxDepth)
	}
	if v.Parallelism < 1 {
		return fmt.Errorf("voting.parallelism must be >= 1, got %d", v.Parallelism)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be >= 1, got %d", c.LLM.MaxAttempts)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %v", c.LLM.Timeout)
	}
	if c.Budgets.MaxTokens < 0 || c.Budgets.MaxCostUSD < 0 || c.Budgets.MaxDuration < 0 {
		return fmt.Errorf("budgets must be non-negative")
	}
	return nil
}

// APIKey resolves the LLM API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}
