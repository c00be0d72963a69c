package restruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategiesFor(t *testing.T) {
	tests := []struct {
		mode Mode
		want []Strategy
	}{
		{ModePlainJSON, []Strategy{StrategyDirect, StrategyFenced, StrategyBracket}},
		{ModeSchemaGuidedJSON, []Strategy{StrategyDirect, StrategyFenced, StrategyBracket}},
		{ModeMarkdownFencedJSON, []Strategy{StrategyFenced, StrategyDirect, StrategyBracket}},
		{ModeToolCall, []Strategy{StrategyToolCall, StrategyDirect, StrategyFenced, StrategyBracket}},
		{ModeFreeText, []Strategy{StrategyDirect}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StrategiesFor(tt.mode))
		})
	}
}

func TestExtract_FencedCascade(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"name\":\"Eve\"}\n```"

	ext, err := Extract(raw, ModePlainJSON)
	require.NoError(t, err)
	assert.Equal(t, StrategyFenced, ext.Strategy)
	assert.Equal(t, `{"name":"Eve"}`, ext.Text)
}

func TestExtract_Direct(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		ext, err := Extract("  {\"a\":1}\n", ModePlainJSON)
		require.NoError(t, err)
		assert.Equal(t, StrategyDirect, ext.Strategy)
		assert.Equal(t, `{"a":1}`, ext.Text)
	})

	t.Run("bare scalar", func(t *testing.T) {
		ext, err := Extract("42", ModePlainJSON)
		require.NoError(t, err)
		assert.Equal(t, StrategyDirect, ext.Strategy)
		assert.Equal(t, "42", ext.Text)
	})

	t.Run("free text takes anything", func(t *testing.T) {
		ext, err := Extract("  just words  ", ModeFreeText)
		require.NoError(t, err)
		assert.Equal(t, "just words", ext.Text)
	})
}

func TestExtract_FencedFirstInMarkdownMode(t *testing.T) {
	// Direct would accept the outer array; markdown mode prefers the fence.
	raw := "[1]\n```\n{\"b\":2}\n```"
	ext, err := Extract(raw, ModeMarkdownFencedJSON)
	require.NoError(t, err)
	assert.Equal(t, StrategyFenced, ext.Strategy)
	assert.Equal(t, `{"b":2}`, ext.Text)
}

func TestExtract_UnclosedFence(t *testing.T) {
	ext, err := Extract("```json\n{\"name\":\"Ev", ModeMarkdownFencedJSON)
	require.NoError(t, err)
	assert.Equal(t, StrategyFenced, ext.Strategy)
	assert.Equal(t, `{"name":"Ev`, ext.Text)
}

func TestExtract_Bracket(t *testing.T) {
	t.Run("balanced span in prose", func(t *testing.T) {
		raw := `The answer is {"a":{"b":"}"},"c":[1,2]} as requested.`
		ext, err := Extract(raw, ModePlainJSON)
		require.NoError(t, err)
		assert.Equal(t, StrategyBracket, ext.Strategy)
		assert.Equal(t, `{"a":{"b":"}"},"c":[1,2]}`, ext.Text)
	})

	t.Run("escaped quote inside string", func(t *testing.T) {
		raw := `result: {"q":"a \"}\" b"} done`
		ext, err := Extract(raw, ModePlainJSON)
		require.NoError(t, err)
		assert.Equal(t, `{"q":"a \"}\" b"}`, ext.Text)
	})

	t.Run("still open", func(t *testing.T) {
		ext, err := Extract(`Sure: {"a":[1,2`, ModePlainJSON)
		require.NoError(t, err)
		assert.Equal(t, StrategyBracket, ext.Strategy)
		assert.Equal(t, `{"a":[1,2`, ext.Text)
	})
}

func TestExtract_Failure(t *testing.T) {
	ext, err := Extract("I could not find anything useful.", ModePlainJSON)
	assert.Nil(t, ext)

	var ef *ExtractionFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, StrategiesFor(ModePlainJSON), ef.Tried)
	assert.Equal(t, "I could not find anything useful.", ef.Raw)
	assert.Contains(t, err.Error(), "tried direct, fenced, bracket")
}

func TestExtract_EmptyFreeText(t *testing.T) {
	_, err := Extract("   ", ModeFreeText)
	var ef *ExtractionFailure
	assert.ErrorAs(t, err, &ef)
}

func TestExtractContent_ToolCall(t *testing.T) {
	calls := []ToolCall{
		{ID: "1", Name: "lookup", Arguments: `{"q":"x"}`},
		{ID: "2", Name: "emit_result", Arguments: `{"name":"Eve"}`},
	}

	t.Run("any call", func(t *testing.T) {
		ext, err := ExtractContent("", calls, ModeToolCall, "")
		require.NoError(t, err)
		assert.Equal(t, StrategyToolCall, ext.Strategy)
		assert.Equal(t, `{"q":"x"}`, ext.Text)
	})

	t.Run("named call", func(t *testing.T) {
		ext, err := ExtractContent("", calls, ModeToolCall, "emit_result")
		require.NoError(t, err)
		assert.Equal(t, `{"name":"Eve"}`, ext.Text)
	})

	t.Run("falls back to text", func(t *testing.T) {
		ext, err := ExtractContent(`{"name":"Eve"}`, nil, ModeToolCall, "emit_result")
		require.NoError(t, err)
		assert.Equal(t, StrategyDirect, ext.Strategy)
	})

	t.Run("ignored outside tool-call mode", func(t *testing.T) {
		_, err := ExtractContent("", calls, ModePlainJSON, "")
		var ef *ExtractionFailure
		assert.ErrorAs(t, err, &ef)
	})
}

func TestExtractContent_ToolCallEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "openai chat completion",
			raw:  `{"choices":[{"message":{"tool_calls":[{"function":{"name":"f","arguments":"{\"a\":1}"}}]}}]}`,
			want: `{"a":1}`,
		},
		{
			name: "anthropic tool_use block",
			raw:  `{"content":[{"type":"text","text":"hi"},{"type":"tool_use","name":"f","input":{"a":1}}]}`,
			want: `{"a":1}`,
		},
		{
			name: "gemini function call",
			raw:  `{"candidates":[{"content":{"parts":[{"functionCall":{"name":"f","args":{"a":1}}}]}}]}`,
			want: `{"a":1}`,
		},
		{
			name: "legacy function_call",
			raw:  `{"function_call":{"name":"f","arguments":"{\"a\":1}"}}`,
			want: `{"a":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := ExtractContent(tt.raw, nil, ModeToolCall, "")
			require.NoError(t, err)
			assert.Equal(t, StrategyToolCall, ext.Strategy)
			assert.Equal(t, tt.want, ext.Text)
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "json", ModePlainJSON.String())
	assert.Equal(t, "json_schema", ModeSchemaGuidedJSON.String())
	assert.Equal(t, "markdown_json", ModeMarkdownFencedJSON.String())
	assert.Equal(t, "tool_call", ModeToolCall.String())
	assert.Equal(t, "text", ModeFreeText.String())
	assert.Equal(t, "unknown", Mode(99).String())
}
