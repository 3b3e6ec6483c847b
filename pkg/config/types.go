// Package config loads and validates the MDAP runtime configuration:
// voting parameters, LLM provider settings, budgets, and the control
// server address. Values come from defaults, an optional YAML file, and
// programmatic overrides, merged in that order.
package config

import "time"

// VotingConfig holds the MDAP voting parameters.
type VotingConfig struct {
	// K is the first-to-ahead-by-k margin.
	K int `yaml:"k"`
	// MaxSamples bounds accepted candidates per vote.
	MaxSamples int `yaml:"max_samples"`
	// MaxTokensResponse is the red-flag length threshold (char-count proxy).
	MaxTokensResponse int `yaml:"max_tokens_response"`
	// Temperature is passed through to the LLM on sampling calls.
	Temperature float64 `yaml:"temperature"`
	// MaxDepth bounds recursive sub-function generation.
	MaxDepth int `yaml:"max_depth"`
	// Parallelism is the bounded concurrency for candidate generation.
	// 1 means strictly sequential sampling.
	Parallelism int `yaml:"parallelism"`
}

// LLMConfig describes the LLM provider boundary.
type LLMConfig struct {
	// BaseURL of an OpenAI-compatible chat completions endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	// Timeout is the per-call timeout.
	Timeout time.Duration `yaml:"timeout"`
	// MaxAttempts bounds attempts per call (first try included).
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBaseDelay is the initial exponential backoff delay.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// BudgetConfig holds optional hard limits. Zero means unlimited.
type BudgetConfig struct {
	// MaxTokens limits input+output tokens across the run.
	MaxTokens int `yaml:"max_tokens"`
	// MaxCostUSD limits the estimated spend.
	MaxCostUSD float64 `yaml:"max_cost_usd"`
	// MaxDuration limits wall-clock run time.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// ServerConfig holds the control API settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the umbrella configuration object returned by Load.
type Config struct {
	Language   string       `yaml:"language"`
	Voting     VotingConfig `yaml:"voting"`
	LLM        LLMConfig    `yaml:"llm"`
	Budgets    BudgetConfig `yaml:"budgets"`
	Server     ServerConfig `yaml:"server"`
	ResultPath string       `yaml:"result_path"`
	// TrackerDB is the SQLite file for the durable decision log.
	// Empty disables persistence (the in-memory log still runs).
	TrackerDB string `yaml:"tracker_db"`
}
