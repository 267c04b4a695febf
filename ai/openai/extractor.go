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

package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
	"github.com/spf13/cast"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// statusPattern pulls the HTTP status out of langchaingo client errors,
// e.g. "API returned unexpected status code: 429: Rate limit reached".
var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// Extractor implements ai.Extractor using OpenAI-compatible chat APIs.
type Extractor struct {
	client      llms.Model
	model       string
	template    string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// Option customizes the underlying langchaingo client.
type Option func(*[]openai.Option)

// WithHTTPClient routes requests through client. Used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *[]openai.Option) {
		*opts = append(*opts, openai.WithHTTPClient(client))
	}
}

// newExtractor is an internal constructor that returns the concrete type.
func newExtractor(config *ai.Config, opts ...Option) (*Extractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Local OpenAI-compatible services do not require authentication
	token := config.APIKey
	if token == "" {
		token = "none"
	}

	clientOpts := []openai.Option{
		openai.WithBaseURL(config.Host),
		openai.WithToken(token),
		openai.WithModel(config.Model),
	}
	for _, opt := range opts {
		opt(&clientOpts)
	}

	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, err
	}

	return &Extractor{
		client:      client,
		model:       config.Model,
		template:    config.PromptTemplate,
		temperature: config.Temperature,
		maxTokens:   config.MaxOutputTokens,
		logger:      slog.Default().With("component", "openai-extractor"),
	}, nil
}

// NewExtractor creates a new extractor using the provided configuration.
//
// Returns ai.Extractor interface to enforce abstraction.
func NewExtractor(config *ai.Config, opts ...Option) (ai.Extractor, error) {
	return newExtractor(config, opts...)
}

// Extract asks the model for the fitments of a product title.
// It makes exactly one call; retries are the caller's decision.
func (e *Extractor) Extract(ctx context.Context, title string) (*core.Extraction, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt())},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(ai.BuildPrompt(e.template, title))},
		},
	}

	response, err := e.client.GenerateContent(ctx, content,
		llms.WithTemperature(e.temperature),
		llms.WithMaxTokens(e.maxTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		pe := classify(err)
		e.logger.Debug("generate content failed", "kind", pe.Kind, "err", err)
		return nil, pe
	}

	if len(response.Choices) < 1 {
		return nil, ai.Permanent("no choices returned from model", ai.ErrEmptyResponse)
	}
	choice := response.Choices[0]

	switch strings.ToLower(choice.StopReason) {
	case "length":
		return nil, ai.Permanent("response truncated at max tokens", ai.ErrTruncatedResponse)
	case "content_filter":
		return nil, ai.Permanent("response blocked by content filter", ai.ErrBlocked)
	}

	extraction, err := ai.ParseExtraction(choice.Content)
	if err != nil {
		e.logger.Debug("rejected model response", "response", choice.Content, "err", err)
		return nil, err
	}

	extraction.InputTokens = cast.ToInt(choice.GenerationInfo["PromptTokens"])
	extraction.OutputTokens = cast.ToInt(choice.GenerationInfo["CompletionTokens"])
	return extraction, nil
}

// Model returns the configured model identifier.
func (e *Extractor) Model() string {
	return e.model
}

// Close releases resources held by the extractor.
// Currently a no-op as the underlying client doesn't require explicit cleanup.
func (e *Extractor) Close() error {
	e.logger.Debug("closing OpenAI extractor")
	return nil
}

// classify maps a langchaingo error to a ProcessingError.
func classify(err error) *ai.ProcessingError {
	var pe *ai.ProcessingError
	if errors.As(err, &pe) {
		return pe
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		return ai.ClassifyStatus(status, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return ai.ClassifyStatus(http.StatusTooManyRequests, err)
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return ai.ClassifyStatus(http.StatusUnauthorized, err)
	}
	return ai.Classify(err)
}
