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

// Package gemini provides an ai.Extractor backed by Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/core"
)

// generator is the subset of *genai.GenerativeModel the extractor uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Extractor implements ai.Extractor using the Gemini API.
type Extractor struct {
	client   *genai.Client
	model    generator
	name     string
	template string
	logger   *slog.Logger
}

// NewExtractor creates a Gemini extractor from config.
// Extra client options (endpoint, HTTP client) are passed to genai.NewClient.
//
// Returns ai.Extractor interface to enforce abstraction.
func NewExtractor(ctx context.Context, config *ai.Config, opts ...option.ClientOption) (ai.Extractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Provider != ai.ProviderGemini {
		return nil, fmt.Errorf("gemini extractor: unexpected provider %q", config.Provider)
	}

	opts = append([]option.ClientOption{option.WithAPIKey(config.APIKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(config.Model)
	model.SetTemperature(float32(config.Temperature))
	model.SetTopK(1)
	model.SetTopP(1)
	model.SetMaxOutputTokens(int32(config.MaxOutputTokens))
	model.ResponseMIMEType = "application/json"

	return newExtractor(client, model, config), nil
}

func newExtractor(client *genai.Client, model generator, config *ai.Config) *Extractor {
	return &Extractor{
		client:   client,
		model:    model,
		name:     config.Model,
		template: config.PromptTemplate,
		logger:   slog.Default().With("component", "gemini-extractor"),
	}
}

// Extract asks Gemini for the fitments of a product title.
// It makes exactly one call; retries are the caller's decision.
func (e *Extractor) Extract(ctx context.Context, title string) (*core.Extraction, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(ai.BuildPrompt(e.template, title)))
	if err != nil {
		pe := classify(err)
		e.logger.Debug("generate content failed", "kind", pe.Kind, "err", err)
		return nil, pe
	}

	extraction, err := interpret(resp)
	if err != nil {
		e.logger.Debug("rejected model response", "err", err)
		return nil, err
	}
	return extraction, nil
}

// Model returns the configured model identifier.
func (e *Extractor) Model() string {
	return e.name
}

// Close releases the underlying client connection.
func (e *Extractor) Close() error {
	if e.client == nil {
		return nil
	}
	e.logger.Debug("closing Gemini extractor")
	return e.client.Close()
}

// interpret validates a response and turns it into an Extraction.
// Truncated, blocked or empty candidates are permanent failures: the
// partial output is never repaired.
func interpret(resp *genai.GenerateContentResponse) (*core.Extraction, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ai.Permanent("no candidates in response", ai.ErrEmptyResponse)
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonMaxTokens:
		return nil, ai.Permanent("response truncated at max tokens", ai.ErrTruncatedResponse)
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonOther:
		return nil, ai.Permanent(fmt.Sprintf("response finished with %s", candidate.FinishReason), ai.ErrBlocked)
	}

	if candidate.Content == nil {
		return nil, ai.Permanent("candidate has no content", ai.ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	extraction, err := ai.ParseExtraction(sb.String())
	if err != nil {
		return nil, err
	}

	if resp.UsageMetadata != nil {
		extraction.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		extraction.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return extraction, nil
}

// classify maps a Gemini client error to a ProcessingError using the
// HTTP status or gRPC code carried by the API error.
func classify(err error) *ai.ProcessingError {
	var pe *ai.ProcessingError
	if errors.As(err, &pe) {
		return pe
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return ai.Permanent("prompt blocked by safety filters", errors.Join(ai.ErrBlocked, err))
	}

	apiErr, ok := apierror.FromError(err)
	if !ok {
		return ai.Classify(err)
	}

	if code := apiErr.HTTPCode(); code > 0 {
		return ai.ClassifyStatus(code, err)
	}

	switch apiErr.GRPCStatus().Code() {
	case codes.ResourceExhausted:
		return ai.ClassifyStatus(http.StatusTooManyRequests, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return ai.Transient(fmt.Sprintf("service returned %s", apiErr.GRPCStatus().Code()), err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return ai.ClassifyStatus(http.StatusUnauthorized, err)
	default:
		return ai.Permanent(fmt.Sprintf("request rejected with %s", apiErr.GRPCStatus().Code()), err)
	}
}
