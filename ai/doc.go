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

// Package ai provides abstractions for the AI services that derive
// structured vehicle fitments from product titles.
//
// The package defines the Extractor interface, the classified
// ProcessingError every provider returns, the extraction prompt and the
// strict response parser shared by all providers. Business logic depends on
// these abstractions rather than on a concrete provider.
//
// # Error Classification
//
// Every failure returned by an Extractor is a *ProcessingError with one of
// three kinds:
//
//   - KindTransient: timeouts, rate limiting and 5xx responses. Retried with backoff.
//   - KindPermanent: malformed, truncated, blocked or schema-violating output.
//     The record is dead-lettered.
//   - KindFatal: authentication failures. The run is aborted.
//
// # Implementation Packages
//
//   - ai/gemini: Google Gemini through the generative-ai-go SDK
//   - ai/openai: OpenAI-compatible APIs through langchaingo
//   - ai/mock: Test double for unit testing without external dependencies
//
// Public constructors (gemini.NewExtractor, openai.NewExtractor) return the
// ai.Extractor interface. mock.NewMockExtractor returns the concrete type so
// tests can inject behavior and inspect call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithAPIKey(os.Getenv("GEMINI_API_KEY")))
//	extractor, err := gemini.NewExtractor(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer extractor.Close()
//
//	extraction, err := extractor.Extract(ctx, "ÖN ÇAMURLUK SOL FIAT MAREA 1996-2002")
//	if ai.KindOf(err) == ai.KindTransient {
//	    // retry later
//	}
package ai
