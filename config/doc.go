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

// Package config assembles the settings of a pipeline run.
//
// Settings are layered, later layers winning:
//
//  1. built-in defaults of each component
//  2. a YAML file
//  3. a .env file and the process environment (credentials)
//  4. command line flags, applied by the caller
//
// The result is validated once and then handed to each component as its own
// Config value:
//
//	cfg, err := config.Load("pipeline.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	reader, err := source.Open(cfg.SourceConfig())
//
// # Environment
//
// The connection variables of the records database and document store are
// understood so existing deployments keep working:
//
//	CH_URL, CH_USER, CH_PASS, CH_DATABASE
//	MONGO_HOST, MONGO_PORT, MONGO_USER, MONGO_PASS, MONGO_DATABASE, MONGO_COLLECTION
//	GEMINI_API_KEY, OPENAI_API_KEY, SENTRY_DSN
package config
