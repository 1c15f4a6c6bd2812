package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json fence with language tag",
			input:    "```json\n{\"a\": 1}\n```",
			expected: "{\"a\": 1}",
		},
		{
			name:     "bare fence",
			input:    "```\nhello\n```",
			expected: "hello",
		},
		{
			name:     "no fence",
			input:    "  {\"a\": 1}  ",
			expected: "{\"a\": 1}",
		},
		{
			name:     "html fence",
			input:    "```html\n<!DOCTYPE html><html></html>\n```",
			expected: "<!DOCTYPE html><html></html>",
		},
		{
			name:     "missing closing fence",
			input:    "```json\n{\"a\": 1}",
			expected: "{\"a\": 1}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripCodeFences(tt.input))
		})
	}
}

func TestCoercePythonLiterals(t *testing.T) {
	t.Run("bare literals", func(t *testing.T) {
		input := `{"web_search_needed": True, "data_extraction_needed": False, "data_types": None}`
		coerced := CoercePythonLiterals(input)

		var parsed map[string]any
		require.NoError(t, json.Unmarshal([]byte(coerced), &parsed))
		assert.Equal(t, true, parsed["web_search_needed"])
		assert.Equal(t, false, parsed["data_extraction_needed"])
		assert.Nil(t, parsed["data_types"])
	})

	t.Run("single-quoted dict", func(t *testing.T) {
		input := `{'queries': ['one', 'two'], 'needed': True}`
		coerced := CoercePythonLiterals(input)

		var parsed map[string]any
		require.NoError(t, json.Unmarshal([]byte(coerced), &parsed))
		assert.Equal(t, []any{"one", "two"}, parsed["queries"])
		assert.Equal(t, true, parsed["needed"])
	})
}

func TestExtractJSONObject(t *testing.T) {
	t.Run("object surrounded by prose", func(t *testing.T) {
		text := "Here is the plan you asked for:\n{\"queries\": [\"a\", \"b\"]}\nLet me know."
		assert.Equal(t, `{"queries": ["a", "b"]}`, ExtractJSONObject(text))
	})

	t.Run("nested objects", func(t *testing.T) {
		text := `prefix {"outer": {"inner": 1}} suffix`
		assert.Equal(t, `{"outer": {"inner": 1}}`, ExtractJSONObject(text))
	})

	t.Run("braces inside strings", func(t *testing.T) {
		text := `{"note": "a } inside"}`
		assert.Equal(t, `{"note": "a } inside"}`, ExtractJSONObject(text))
	})

	t.Run("no object", func(t *testing.T) {
		assert.Equal(t, "", ExtractJSONObject("no json here"))
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Pipeline.MaxSearchQueries)
	assert.Equal(t, 5, cfg.Pipeline.MaxURLsToScrape)
	assert.Equal(t, "markdown", cfg.Generator.Mode)
	assert.Equal(t, []string{"llm"}, cfg.Worker.Queues)

	soft, err := cfg.PipelineSoftLimit()
	require.NoError(t, err)
	hard, err := cfg.PipelineHardLimit()
	require.NoError(t, err)
	assert.Less(t, soft, hard)
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("DEEPSHIP_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("DEEPSHIP_GENERATOR_MODE", "html")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "html", cfg.Generator.Mode)
}
