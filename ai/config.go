// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"errors"
	"strings"
	"time"
)

// Supported provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds configuration for AI service providers.
type Config struct {
	// Provider selects the implementation: "gemini" or "openai".
	Provider string

	// Host is the base URL for OpenAI-compatible services.
	// Example: "http://localhost:11434/v1" for a local server.
	// Ignored by the Gemini provider.
	Host string

	// Model is the model identifier used for extraction.
	// Example: "gemini-2.5-flash-lite", "gpt-4o-mini"
	Model string

	// APIKey authenticates against the provider.
	APIKey string

	// Temperature controls sampling. Extraction wants it low.
	// Default: 0.1
	Temperature float64

	// MaxOutputTokens caps the response length. Responses cut at this
	// limit are rejected rather than repaired.
	// Default: 8192
	MaxOutputTokens int

	// CallTimeout bounds a single AI call.
	// Default: 30s
	CallTimeout time.Duration

	// PromptTemplate is the extraction prompt. It must contain the
	// {{title}} placeholder. Empty means DefaultPromptTemplate.
	PromptTemplate string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithProvider sets the provider name.
func WithProvider(provider string) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

// WithHost sets the OpenAI-compatible host URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.Host = host
	}
}

// WithModel sets the model identifier.
func WithModel(model string) ConfigOption {
	return func(c *Config) {
		c.Model = model
	}
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) ConfigOption {
	return func(c *Config) {
		c.Temperature = temperature
	}
}

// WithMaxOutputTokens sets the response token cap.
func WithMaxOutputTokens(tokens int) ConfigOption {
	return func(c *Config) {
		c.MaxOutputTokens = tokens
	}
}

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.CallTimeout = timeout
	}
}

// WithPromptTemplate overrides the extraction prompt.
func WithPromptTemplate(template string) ConfigOption {
	return func(c *Config) {
		c.PromptTemplate = template
	}
}

// DefaultConfig returns a Config targeting Gemini with extraction-friendly sampling.
func DefaultConfig() *Config {
	return &Config{
		Provider:        ProviderGemini,
		Host:            "http://localhost:11434/v1",
		Model:           "gemini-2.5-flash-lite",
		Temperature:     0.1,
		MaxOutputTokens: 8192,
		CallTimeout:     30 * time.Second,
		PromptTemplate:  DefaultPromptTemplate,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithProvider(ProviderOpenAI),
//	    WithHost("http://localhost:11434/v1"),
//	    WithModel("qwen2.5:3b"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// OpenAI-compatible hosts get a /v1 suffix, which Ollama, LocalAI and vLLM expect.
func (c *Config) Normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == ProviderOpenAI && c.Host != "" && !strings.HasSuffix(c.Host, "/v1") {
		c.Host = strings.TrimSuffix(c.Host, "/") + "/v1"
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = DefaultPromptTemplate
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.Provider {
	case ProviderGemini:
		if c.APIKey == "" {
			return errors.New("ai config: APIKey is required for gemini")
		}
	case ProviderOpenAI:
		if c.Host == "" {
			return errors.New("ai config: Host is required for openai")
		}
	default:
		return errors.New("ai config: Provider must be gemini or openai")
	}
	if c.Model == "" {
		return errors.New("ai config: Model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("ai config: Temperature must be between 0 and 2")
	}
	if c.MaxOutputTokens < 1 {
		return errors.New("ai config: MaxOutputTokens must be positive")
	}
	if c.CallTimeout <= 0 {
		return errors.New("ai config: CallTimeout must be positive")
	}
	if !strings.Contains(c.PromptTemplate, TitlePlaceholder) {
		return errors.New("ai config: PromptTemplate must contain " + TitlePlaceholder)
	}
	return nil
}
