package openai

import "fmt"

const fitmentResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "fitments": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "brand": {"type": "string", "minLength": 1},
          "model": {"type": "string", "minLength": 1},
          "submodel": {"type": "string"},
          "category": {"type": "string", "minLength": 1},
          "years": {"type": "string", "pattern": "^((19|20)\\d{2}(-((19|20)\\d{2})?)?)?$"}
        },
        "required": ["brand", "model", "submodel", "category", "years"],
        "additionalProperties": false
      }
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "required": ["fitments", "confidence"],
  "additionalProperties": false
}`

const systemPromptTemplate = `You extract structured vehicle compatibility data from car part product titles.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or markdown. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.`

// buildSystemPrompt creates the system prompt with the response schema embedded.
func buildSystemPrompt() string {
	return fmt.Sprintf(systemPromptTemplate, fitmentResponseSchema)
}
