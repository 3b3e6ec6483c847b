package config

import "time"

// Defaults returns the built-in configuration. Load merges the YAML file
// over this, so every field here is overridable.
func Defaults() *Config {
	return &Config{
		Language: "go",
		Voting: VotingConfig{
			K:                 3,
			MaxSamples:        20,
			MaxTokensResponse: 500,
			Temperature:       0.1,
			MaxDepth:          3,
			Parallelism:       1,
		},
		LLM: LLMConfig{
			APIKeyEnv:      "OPENAI_API_KEY",
			Model:          "gpt-4o-mini",
			Timeout:        60 * time.Second,
			MaxAttempts:    3,
			RetryBaseDelay: time.Second,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		ResultPath: "mdap-result.json",
	}
}
