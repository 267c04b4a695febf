package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"surrounding whitespace", "  \n{\"a\":1}\n ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestParseExtraction(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		raw := "```json\n" + `{"fitments":[{"brand":"Ford","model":"Focus","submodel":"IV. Nesil","category":"Silgeç Takımı","years":"2018-"}],"confidence":0.92}` + "\n```"

		extraction, err := ParseExtraction(raw)
		require.NoError(t, err)
		require.Len(t, extraction.Fitments, 1)
		assert.Equal(t, "Ford", extraction.Fitments[0].Brand)
		assert.Equal(t, "2018-", extraction.Fitments[0].Years)
		assert.InDelta(t, 0.92, extraction.Confidence, 1e-9)
	})

	t.Run("empty fitments", func(t *testing.T) {
		extraction, err := ParseExtraction(`{"fitments":[],"confidence":0.5}`)
		require.NoError(t, err)
		assert.NotNil(t, extraction.Fitments)
		assert.Empty(t, extraction.Fitments)
	})

	t.Run("null fitments normalized to empty", func(t *testing.T) {
		extraction, err := ParseExtraction(`{"fitments":null,"confidence":0.1}`)
		require.NoError(t, err)
		assert.NotNil(t, extraction.Fitments)
	})

	failures := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"fence only", "```json\n```"},
		{"not json", "Ford Focus 2018"},
		{"bare array", `[{"brand":"Ford","model":"Focus","category":"Wiper"}]`},
		{"unknown field", `{"fitments":[],"confidence":0.5,"notes":"x"}`},
		{"unknown fitment field", `{"fitments":[{"brand":"Ford","model":"Focus","category":"Wiper","engine":"1.6"}],"confidence":0.5}`},
		{"wrong type", `{"fitments":[{"brand":"Ford","model":"Focus","category":"Wiper","years":2018}],"confidence":0.5}`},
		{"confidence as string", `{"fitments":[],"confidence":"high"}`},
		{"missing fitments", `{"confidence":0.5}`},
		{"missing required brand", `{"fitments":[{"model":"Focus","category":"Wiper"}],"confidence":0.5}`},
		{"bad years", `{"fitments":[{"brand":"Ford","model":"Focus","category":"Wiper","years":"recent"}],"confidence":0.5}`},
		{"confidence out of range", `{"fitments":[],"confidence":7}`},
		{"truncated", `{"fitments":[{"brand":"Ford","model":"Fo`},
		{"trailing object", `{"fitments":[],"confidence":0.5} {"fitments":[]}`},
	}

	for _, tt := range failures {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			extraction, err := ParseExtraction(tt.raw)
			require.Error(t, err)
			assert.Nil(t, extraction)
			assert.Equal(t, KindPermanent, KindOf(err))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(DefaultPromptTemplate, "  SİLECEK SÜPÜRGESİ FORD FOCUS  ")

	assert.True(t, strings.HasSuffix(prompt, "Product: SİLECEK SÜPÜRGESİ FORD FOCUS"))
	assert.NotContains(t, prompt, TitlePlaceholder)

	assert.Equal(t, "T: x", BuildPrompt("T: {{title}}", "x"))
	assert.Contains(t, BuildPrompt("", "x"), "Product: x")
}
