package restruct

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentBuffer_StreamedObject(t *testing.T) {
	buf := NewContentBuffer(ModePlainJSON)
	assert.True(t, buf.IsEmpty())

	_, err := buf.Parsed()
	assert.Error(t, err, "nothing to parse yet")

	buf.Append(`{"name":"An`)
	pv, err := buf.Parsed()
	require.NoError(t, err)
	assert.True(t, pv.Partial)
	assert.Equal(t, map[string]any{"name": "An"}, pv.Value)

	buf.Append(`n","age":3`)
	pv, err = buf.Parsed()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ann", "age": json.Number("3")}, pv.Value)

	buf.Append(`0}`)
	pv, err = buf.Parsed()
	require.NoError(t, err)
	assert.False(t, pv.Partial)
	assert.Equal(t, map[string]any{"name": "Ann", "age": json.Number("30")}, pv.Value)
	assert.Equal(t, `{"name":"Ann","age":30}`, buf.Raw())
}

func TestContentBuffer_CachesUntilAppend(t *testing.T) {
	buf := NewContentBuffer(ModePlainJSON).Append(`[1,2`)

	first, err := buf.Parsed()
	require.NoError(t, err)
	second, err := buf.Parsed()
	require.NoError(t, err)
	assert.Same(t, first, second)

	buf.Append(`,3]`)
	third, err := buf.Parsed()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, []any{json.Number("1"), json.Number("2"), json.Number("3")}, third.Value)
}

func TestContentBuffer_Normalized(t *testing.T) {
	t.Run("fenced mode strips the fence", func(t *testing.T) {
		buf := NewContentBuffer(ModeMarkdownFencedJSON).Append("Sure!\n```json\n{\"a\":1}\n```\n")
		assert.Equal(t, `{"a":1}`, buf.Normalized())
	})

	t.Run("schema mode uses the chain", func(t *testing.T) {
		buf := NewContentBuffer(ModeSchemaGuidedJSON).Append("  {\"a\":1}  ")
		assert.Equal(t, `{"a":1}`, buf.Normalized())
	})

	t.Run("plain mode only trims", func(t *testing.T) {
		buf := NewContentBuffer(ModePlainJSON).Append("  Sure: {\"a\":1}  ")
		assert.Equal(t, `Sure: {"a":1}`, buf.Normalized())
	})

	t.Run("free text", func(t *testing.T) {
		buf := NewContentBuffer(ModeFreeText).Append("  hello there ")
		assert.Equal(t, "hello there", buf.Normalized())

		pv, err := buf.Parsed()
		require.NoError(t, err)
		assert.Equal(t, "hello there", pv.Value)
	})
}

func TestContentBuffer_ToolCallFragments(t *testing.T) {
	buf := NewContentBuffer(ModeToolCall).WithToolName("emit_result")

	buf.AppendToolCall(ToolCall{ID: "c1", Name: "emit_result", Arguments: `{"name":`})
	assert.False(t, buf.IsEmpty())

	pv, err := buf.Parsed()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": nil}, pv.Value)

	buf.AppendToolCall(ToolCall{ID: "c1", Arguments: `"Eve"}`})
	pv, err = buf.Parsed()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Eve"}, pv.Value)

	calls := buf.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "emit_result", calls[0].Name)
	assert.Equal(t, `{"name":"Eve"}`, calls[0].Arguments)

	ext, err := buf.Extracted()
	require.NoError(t, err)
	assert.Equal(t, StrategyToolCall, ext.Strategy)
}

func TestContentBuffer_AppendToolCall(t *testing.T) {
	buf := NewContentBuffer(ModeToolCall)

	buf.AppendToolCall(ToolCall{ID: "a", Name: "first", Arguments: `{"x":`})
	buf.AppendToolCall(ToolCall{Arguments: `1}`})
	buf.AppendToolCall(ToolCall{ID: "b", Name: "second", Arguments: `{}`})

	calls := buf.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, `{"x":1}`, calls[0].Arguments)
	assert.Equal(t, "second", calls[1].Name)

	// The returned slice is a copy.
	calls[0].Arguments = "changed"
	assert.Equal(t, `{"x":1}`, buf.ToolCalls()[0].Arguments)
}

func TestContentBuffer_AppendToolCallWithoutIDs(t *testing.T) {
	t.Run("whole calls stay apart", func(t *testing.T) {
		buf := NewContentBuffer(ModeToolCall)
		buf.AppendToolCall(ToolCall{Name: "emit_result", Arguments: `{"a":1}`})
		buf.AppendToolCall(ToolCall{Name: "emit_result", Arguments: `{"a":2}`})
		buf.AppendToolCall(ToolCall{Name: "other", Arguments: `{}`})

		calls := buf.ToolCalls()
		require.Len(t, calls, 3)
		assert.Equal(t, `{"a":1}`, calls[0].Arguments)
		assert.Equal(t, `{"a":2}`, calls[1].Arguments)
		assert.Equal(t, "other", calls[2].Name)

		ext, err := buf.Extracted()
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, ext.Text)
	})

	t.Run("fragments continue the open call", func(t *testing.T) {
		buf := NewContentBuffer(ModeToolCall)
		buf.AppendToolCall(ToolCall{Name: "emit_result", Arguments: `{"a":`})
		buf.AppendToolCall(ToolCall{Name: "emit_result", Arguments: `1,`})
		buf.AppendToolCall(ToolCall{Arguments: `"b":2}`})

		calls := buf.ToolCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, `{"a":1,"b":2}`, calls[0].Arguments)
	})

	t.Run("a different name never merges", func(t *testing.T) {
		buf := NewContentBuffer(ModeToolCall)
		buf.AppendToolCall(ToolCall{Name: "first", Arguments: `{"a":`})
		buf.AppendToolCall(ToolCall{Name: "second", Arguments: `{}`})
		assert.Len(t, buf.ToolCalls(), 2)
	})
}

func TestContentBuffer_Mode(t *testing.T) {
	assert.Equal(t, ModeToolCall, NewContentBuffer(ModeToolCall).Mode())
	assert.True(t, NewContentBuffer(ModePlainJSON).Append(" \n ").IsEmpty())
}
