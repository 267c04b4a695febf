package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.Model)
	assert.Equal(t, 0.1, cfg.Temperature)
	assert.Equal(t, 8192, cfg.MaxOutputTokens)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
	assert.Equal(t, DefaultPromptTemplate, cfg.PromptTemplate)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.NotNil(t, cfg)
		assert.Equal(t, ProviderGemini, cfg.Provider)
		assert.Equal(t, 8192, cfg.MaxOutputTokens)
	})

	t.Run("with openai provider", func(t *testing.T) {
		cfg := NewConfig(
			WithProvider(ProviderOpenAI),
			WithHost("http://custom:8080/v1"),
			WithModel("gpt-4o-mini"),
		)

		assert.Equal(t, ProviderOpenAI, cfg.Provider)
		assert.Equal(t, "http://custom:8080/v1", cfg.Host)
		assert.Equal(t, "gpt-4o-mini", cfg.Model)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithAPIKey("secret"),
			WithTemperature(0.3),
			WithMaxOutputTokens(1024),
			WithCallTimeout(5*time.Second),
			WithPromptTemplate("Title: {{title}}"),
		)

		assert.Equal(t, "secret", cfg.APIKey)
		assert.Equal(t, 0.3, cfg.Temperature)
		assert.Equal(t, 1024, cfg.MaxOutputTokens)
		assert.Equal(t, 5*time.Second, cfg.CallTimeout)
		assert.Equal(t, "Title: {{title}}", cfg.PromptTemplate)
	})
}

func TestConfig_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		host     string
		wantHost string
	}{
		{"openai host without /v1", ProviderOpenAI, "http://localhost:11434", "http://localhost:11434/v1"},
		{"openai host with trailing slash", ProviderOpenAI, "http://localhost:11434/", "http://localhost:11434/v1"},
		{"openai host already normalized", ProviderOpenAI, "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"gemini host untouched", ProviderGemini, "http://localhost:11434", "http://localhost:11434"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Provider: tt.provider, Host: tt.host}
			cfg.Normalize()
			assert.Equal(t, tt.wantHost, cfg.Host)
			assert.Equal(t, DefaultPromptTemplate, cfg.PromptTemplate)
		})
	}

	t.Run("provider is lower cased", func(t *testing.T) {
		cfg := &Config{Provider: " Gemini "}
		cfg.Normalize()
		assert.Equal(t, ProviderGemini, cfg.Provider)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid gemini", func(c *Config) {}, ""},
		{"valid openai without key", func(c *Config) { c.Provider = ProviderOpenAI; c.APIKey = "" }, ""},
		{"gemini without key", func(c *Config) { c.APIKey = "" }, "APIKey is required"},
		{"unknown provider", func(c *Config) { c.Provider = "claude" }, "Provider must be"},
		{"openai without host", func(c *Config) { c.Provider = ProviderOpenAI; c.Host = "" }, "Host is required"},
		{"missing model", func(c *Config) { c.Model = "" }, "Model is required"},
		{"negative temperature", func(c *Config) { c.Temperature = -1 }, "Temperature"},
		{"zero max tokens", func(c *Config) { c.MaxOutputTokens = 0 }, "MaxOutputTokens"},
		{"zero timeout", func(c *Config) { c.CallTimeout = 0 }, "CallTimeout"},
		{"prompt without placeholder", func(c *Config) { c.PromptTemplate = "extract fitments" }, "PromptTemplate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(WithAPIKey("key"))
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
