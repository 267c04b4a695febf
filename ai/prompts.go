package ai

import "strings"

// TitlePlaceholder marks where the product title goes in a prompt template.
const TitlePlaceholder = "{{title}}"

// DefaultPromptTemplate asks for vehicle fitments of a car part.
const DefaultPromptTemplate = `You are a car parts expert. Given the product title below, extract the vehicle models the part is compatible with.

Respond with ONLY a JSON object in this exact format:
{
  "fitments": [
    {"brand": "Ford", "model": "Focus", "submodel": "IV. Nesil", "category": "Silgeç Takımı", "years": "2018-"}
  ],
  "confidence": 0.9
}

Rules:
- "brand", "model" and "category" are required for every fitment.
- "submodel" may be an empty string.
- "years" is "YYYY", "YYYY-" (open ended) or "YYYY-YYYY", or an empty string when unknown.
- "confidence" is your certainty between 0 and 1.
- If the part is universal or no vehicle is named, return an empty "fitments" list.
- Do not add any other fields, prose or markdown.

Product: {{title}}`

// BuildPrompt renders template with the given product title.
func BuildPrompt(template, title string) string {
	if template == "" {
		template = DefaultPromptTemplate
	}
	return strings.ReplaceAll(template, TitlePlaceholder, strings.TrimSpace(title))
}
